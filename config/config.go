package config

import (
	"fmt"
	"net/url"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/c360/espclient/errors"
	"github.com/c360/espclient/pkg/security"
	"gopkg.in/yaml.v3"
)

// Environment variables read for the server connection
const (
	EnvHost     = "ESPHOST"
	EnvPort     = "ESPPORT"
	EnvProtocol = "ESPPROTOCOL"
	EnvUser     = "ESPUSER"
	EnvPassword = "ESPPASSWORD"
)

// DefaultTimeout bounds a single REST request
const DefaultTimeout = 60 * time.Second

// Config represents the complete client configuration
type Config struct {
	Connection ConnectionConfig `json:"connection" yaml:"connection"`
	Subscriber SubscriberConfig `json:"subscriber" yaml:"subscriber"`
	Publisher  PublisherConfig  `json:"publisher" yaml:"publisher"`
	Logging    LoggingConfig    `json:"logging" yaml:"logging"`
	Metrics    MetricsConfig    `json:"metrics" yaml:"metrics"`
	Bridge     BridgeConfig     `json:"bridge" yaml:"bridge"`
}

// ConnectionConfig describes how to reach an ESP server
type ConnectionConfig struct {
	// Host is a hostname, or a full http(s) URL used as the REST base.
	Host     string                   `json:"host" yaml:"host"`
	Port     int                      `json:"port" yaml:"port"`
	Protocol string                   `json:"protocol,omitempty" yaml:"protocol,omitempty"`
	User     string                   `json:"user,omitempty" yaml:"user,omitempty"`
	Password string                   `json:"password,omitempty" yaml:"password,omitempty"`
	Timeout  time.Duration            `json:"timeout,omitempty" yaml:"timeout,omitempty"`
	TLS      security.ClientTLSConfig `json:"tls,omitempty" yaml:"tls,omitempty"`
}

// SubscriberConfig holds defaults applied to new subscribers
type SubscriberConfig struct {
	Mode      string `json:"mode" yaml:"mode"`
	PageSize  int    `json:"pagesize" yaml:"pagesize"`
	Format    string `json:"format" yaml:"format"`
	Precision int    `json:"precision" yaml:"precision"`
	Separator string `json:"separator,omitempty" yaml:"separator,omitempty"`
}

// PublisherConfig holds defaults applied to new publishers
type PublisherConfig struct {
	BlockSize  int     `json:"blocksize" yaml:"blocksize"`
	Rate       int     `json:"rate" yaml:"rate"`
	Pause      int     `json:"pause" yaml:"pause"`
	DateFormat string  `json:"dateformat" yaml:"dateformat"`
	Opcode     string  `json:"opcode" yaml:"opcode"`
	Format     string  `json:"format" yaml:"format"`
	Separator  string  `json:"separator,omitempty" yaml:"separator,omitempty"`
	Throttle   float64 `json:"throttle,omitempty" yaml:"throttle,omitempty"` // client-side messages per second, 0 = unlimited
}

// LoggingConfig selects the slog handler
type LoggingConfig struct {
	Level  string `json:"level" yaml:"level"`
	Format string `json:"format" yaml:"format"`
}

// MetricsConfig controls the Prometheus endpoint
type MetricsConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Addr    string `json:"addr" yaml:"addr"`
}

// BridgeConfig describes which windows are forwarded where
type BridgeConfig struct {
	Windows []string     `json:"windows,omitempty" yaml:"windows,omitempty"`
	NATS    NATSConfig   `json:"nats" yaml:"nats"`
	Redis   RedisConfig  `json:"redis" yaml:"redis"`
	Inbound []InboundMap `json:"inbound,omitempty" yaml:"inbound,omitempty"`
}

// NATSConfig configures the NATS side of the bridge
type NATSConfig struct {
	URLs          []string      `json:"urls" yaml:"urls"`
	Username      string        `json:"username,omitempty" yaml:"username,omitempty"`
	Password      string        `json:"password,omitempty" yaml:"password,omitempty"`
	Token         string        `json:"token,omitempty" yaml:"token,omitempty"`
	SubjectPrefix string        `json:"subject_prefix" yaml:"subject_prefix"`
	Stream        string        `json:"stream,omitempty" yaml:"stream,omitempty"` // JetStream stream capturing forwarded events
	Bucket        string        `json:"bucket,omitempty" yaml:"bucket,omitempty"` // KV bucket holding window snapshots
	MaxReconnects int           `json:"max_reconnects" yaml:"max_reconnects"`
	ReconnectWait time.Duration `json:"reconnect_wait" yaml:"reconnect_wait"`
}

// RedisConfig configures the window snapshot sink
type RedisConfig struct {
	Addr      string        `json:"addr,omitempty" yaml:"addr,omitempty"`
	Password  string        `json:"password,omitempty" yaml:"password,omitempty"`
	DB        int           `json:"db" yaml:"db"`
	KeyPrefix string        `json:"key_prefix" yaml:"key_prefix"`
	TTL       time.Duration `json:"ttl,omitempty" yaml:"ttl,omitempty"`
}

// InboundMap publishes messages from a NATS subject into a window
type InboundMap struct {
	Subject string `json:"subject" yaml:"subject"`
	Window  string `json:"window" yaml:"window"`
	Format  string `json:"format,omitempty" yaml:"format,omitempty"`
}

// DefaultConfig returns the configuration used when no layer overrides a value
func DefaultConfig() *Config {
	return &Config{
		Connection: ConnectionConfig{
			Host:    "localhost",
			Port:    31415,
			Timeout: DefaultTimeout,
		},
		Subscriber: SubscriberConfig{
			Mode:      "updating",
			PageSize:  50,
			Format:    "xml",
			Precision: 6,
		},
		Publisher: PublisherConfig{
			BlockSize:  1,
			DateFormat: "%Y%m%dT%H:%M:%S.%f",
			Opcode:     "insert",
			Format:     "csv",
		},
		Logging: LoggingConfig{Level: "info", Format: "text"},
		Metrics: MetricsConfig{Addr: ":9090"},
		Bridge: BridgeConfig{
			NATS: NATSConfig{
				URLs:          []string{"nats://localhost:4222"},
				SubjectPrefix: "esp",
				MaxReconnects: -1,
				ReconnectWait: 2 * time.Second,
			},
			Redis: RedisConfig{KeyPrefix: "esp"},
		},
	}
}

// ConnectionFromEnv returns connection settings from ESP* environment variables
// on top of the defaults.
func ConnectionFromEnv() (ConnectionConfig, error) {
	cfg := DefaultConfig().Connection
	if err := applyConnectionEnv(&cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyConnectionEnv(cfg *ConnectionConfig) error {
	if val := os.Getenv(EnvHost); val != "" {
		cfg.Host = val
	}
	if val := os.Getenv(EnvPort); val != "" {
		port, err := strconv.Atoi(val)
		if err != nil {
			return errors.Invalidf(errors.ErrInvalidConfig, "config", "applyConnectionEnv", "%s=%q is not a port", EnvPort, val)
		}
		cfg.Port = port
	}
	if val := os.Getenv(EnvProtocol); val != "" {
		cfg.Protocol = strings.ToLower(val)
	}
	if val := os.Getenv(EnvUser); val != "" {
		cfg.User = val
	}
	if val := os.Getenv(EnvPassword); val != "" {
		cfg.Password = val
	}
	return nil
}

func (c ConnectionConfig) hostURL() (*url.URL, bool) {
	if !strings.HasPrefix(c.Host, "http://") && !strings.HasPrefix(c.Host, "https://") {
		return nil, false
	}
	u, err := url.Parse(c.Host)
	if err != nil {
		return nil, false
	}
	return u, true
}

// Scheme returns the effective protocol: the explicit one, the scheme of a URL
// host, https when TLS settings are present, or http.
func (c ConnectionConfig) Scheme() string {
	if u, ok := c.hostURL(); ok {
		return u.Scheme
	}
	if c.Protocol != "" {
		return c.Protocol
	}
	if c.TLS.Configured() {
		return "https"
	}
	return "http"
}

// BaseURL returns the REST base, always ending in "/SASESP/".
func (c ConnectionConfig) BaseURL() string {
	if u, ok := c.hostURL(); ok {
		base := strings.TrimRight(u.String(), "/")
		if !strings.HasSuffix(base, "/SASESP") {
			base += "/SASESP"
		}
		return base + "/"
	}
	return fmt.Sprintf("%s://%s:%d/SASESP/", c.Scheme(), c.Host, c.Port)
}

// Validate checks the connection settings
func (c ConnectionConfig) Validate() error {
	if c.Host == "" {
		return errors.Invalidf(errors.ErrMissingConfig, "config", "Validate", "connection host is required")
	}
	// a URL host carries its own scheme and port
	if _, ok := c.hostURL(); !ok {
		if c.Port <= 0 || c.Port > 65535 {
			return errors.Invalidf(errors.ErrInvalidConfig, "config", "Validate", "connection port %d out of range", c.Port)
		}
		if s := c.Scheme(); s != "http" && s != "https" {
			return errors.Invalidf(errors.ErrInvalidConfig, "config", "Validate", "unsupported protocol %q", s)
		}
	}
	if c.Timeout < 0 {
		return errors.Invalidf(errors.ErrInvalidConfig, "config", "Validate", "negative timeout")
	}
	return validateTLSVersion(c.TLS.MinVersion)
}

func validateTLSVersion(version string) error {
	if version == "" || version == "1.2" || version == "1.3" {
		return nil
	}
	return errors.Invalidf(errors.ErrInvalidConfig, "config", "Validate", "invalid TLS min_version %q (must be 1.2 or 1.3)", version)
}

func oneOf(field, value string, allowed ...string) error {
	if slices.Contains(allowed, value) {
		return nil
	}
	return errors.Invalidf(errors.ErrInvalidConfig, "config", "Validate", "%s %q is not one of %v", field, value, allowed)
}

// Validate checks the whole configuration
func (c *Config) Validate() error {
	if err := c.Connection.Validate(); err != nil {
		return err
	}
	if err := oneOf("subscriber mode", c.Subscriber.Mode, "streaming", "updating"); err != nil {
		return err
	}
	if err := oneOf("subscriber format", c.Subscriber.Format, "xml", "json", "csv", "properties"); err != nil {
		return err
	}
	if c.Subscriber.PageSize < 0 {
		return errors.Invalidf(errors.ErrInvalidConfig, "config", "Validate", "negative subscriber pagesize")
	}
	if err := oneOf("publisher opcode", c.Publisher.Opcode, "insert", "upsert", "update", "delete", "safedelete"); err != nil {
		return err
	}
	if err := oneOf("publisher format", c.Publisher.Format, "xml", "json", "csv", "properties"); err != nil {
		return err
	}
	if c.Publisher.BlockSize < 1 {
		return errors.Invalidf(errors.ErrInvalidConfig, "config", "Validate", "publisher blocksize must be at least 1")
	}
	for _, m := range c.Bridge.Inbound {
		if m.Subject == "" || m.Window == "" {
			return errors.Invalidf(errors.ErrInvalidConfig, "config", "Validate", "inbound mapping needs subject and window")
		}
	}
	return nil
}

// Clone returns a deep copy of the configuration
func (c *Config) Clone() *Config {
	if c == nil {
		return nil
	}
	clone := *c
	clone.Connection.TLS.CAFiles = slices.Clone(c.Connection.TLS.CAFiles)
	clone.Bridge.Windows = slices.Clone(c.Bridge.Windows)
	clone.Bridge.NATS.URLs = slices.Clone(c.Bridge.NATS.URLs)
	clone.Bridge.Inbound = slices.Clone(c.Bridge.Inbound)
	return &clone
}

// String returns a YAML representation of the config with secrets masked
func (c *Config) String() string {
	masked := c.Clone()
	if masked.Connection.Password != "" {
		masked.Connection.Password = "***"
	}
	if masked.Bridge.NATS.Password != "" {
		masked.Bridge.NATS.Password = "***"
	}
	if masked.Bridge.NATS.Token != "" {
		masked.Bridge.NATS.Token = "***"
	}
	if masked.Bridge.Redis.Password != "" {
		masked.Bridge.Redis.Password = "***"
	}
	data, err := yaml.Marshal(masked)
	if err != nil {
		return fmt.Sprintf("Config{error: %v}", err)
	}
	return string(data)
}
