package natsclient

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/c360/espclient/config"
	"github.com/c360/espclient/errors"
	"github.com/c360/espclient/metric"
)

// ClientOption configures a Client. An option that rejects its input makes
// NewClient fail.
type ClientOption func(*Client) error

// Callbacks are invoked on connection events. Each runs in its own goroutine.
type Callbacks struct {
	OnDisconnect func(error)
	OnReconnect  func()
	// OnHealthChange reports every transition between connected and not
	OnHealthChange func(healthy bool)
}

func invalid(format string, args ...any) error {
	return errors.Invalidf(errors.ErrInvalidConfig, "Client", "option", format, args...)
}

// WithReconnect sets how often (-1 for forever) and how far apart reconnects
// are attempted
func WithReconnect(attempts int, wait time.Duration) ClientOption {
	return func(c *Client) error {
		if attempts < -1 {
			return invalid("reconnect attempts %d below -1", attempts)
		}
		if wait < 0 {
			return invalid("negative reconnect wait %s", wait)
		}
		c.maxReconnects = attempts
		if wait > 0 {
			c.reconnectWait = wait
		}
		return nil
	}
}

// WithTimeouts sets the dial timeout and how long Close drains subscriptions.
// Zero keeps the default.
func WithTimeouts(dial, drain time.Duration) ClientOption {
	return func(c *Client) error {
		if dial < 0 || drain < 0 {
			return invalid("negative timeout")
		}
		if dial > 0 {
			c.timeout = dial
		}
		if drain > 0 {
			c.drainTimeout = drain
		}
		return nil
	}
}

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) error {
		if logger != nil {
			c.logger = logger
		}
		return nil
	}
}

// WithMetrics records connection status and reconnects
func WithMetrics(m *metric.Metrics) ClientOption {
	return func(c *Client) error {
		c.metrics = m
		return nil
	}
}

// WithCallbacks registers connection event callbacks
func WithCallbacks(cb Callbacks) ClientOption {
	return func(c *Client) error {
		c.callbacks = cb
		return nil
	}
}

// WithCircuitBreaker opens the circuit after threshold consecutive connect
// failures and caps the doubling backoff at maxBackoff
func WithCircuitBreaker(threshold int32, maxBackoff time.Duration) ClientOption {
	return func(c *Client) error {
		if threshold < 1 {
			return invalid("circuit threshold %d below 1", threshold)
		}
		if maxBackoff < time.Second {
			return invalid("circuit backoff %s below 1s", maxBackoff)
		}
		c.circuitThreshold = threshold
		c.maxBackoff = maxBackoff
		return nil
	}
}

// WithCredentials authenticates with a user and password
func WithCredentials(username, password string) ClientOption {
	return func(c *Client) error {
		if username == "" {
			return invalid("empty NATS user")
		}
		if c.token != "" {
			return invalid("NATS token and credentials are exclusive")
		}
		c.username = username
		c.password = password
		return nil
	}
}

// WithToken authenticates with a token
func WithToken(token string) ClientOption {
	return func(c *Client) error {
		if c.username != "" {
			return invalid("NATS token and credentials are exclusive")
		}
		c.token = token
		return nil
	}
}

// WithName sets the connection name shown by the server
func WithName(name string) ClientOption {
	return func(c *Client) error {
		c.clientName = name
		return nil
	}
}

// FromConfig returns the server URL and the options for the bridge's NATS
// settings. Credentials win over a token when both are set.
func FromConfig(cfg config.NATSConfig) (string, []ClientOption) {
	opts := []ClientOption{
		WithReconnect(cfg.MaxReconnects, cfg.ReconnectWait),
		WithName(fmt.Sprintf("espclient-bridge/%s", cfg.SubjectPrefix)),
	}
	switch {
	case cfg.Username != "":
		opts = append(opts, WithCredentials(cfg.Username, cfg.Password))
	case cfg.Token != "":
		opts = append(opts, WithToken(cfg.Token))
	}
	return strings.Join(cfg.URLs, ","), opts
}
