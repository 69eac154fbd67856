package esp

import (
	"context"
	"fmt"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/c360/espclient/errors"
	"github.com/c360/espclient/pkg/retry"
	"github.com/c360/espclient/rest"
)

// Minimum supported server release
const (
	MinMajorVersion = 5
	MinMinorVersion = 2
)

var (
	intValueRe      = regexp.MustCompile(`^\d+$`)
	serverVersionRe = regexp.MustCompile(`\(([0-9]+)\.([0-9]+)\)`)
	plainVersionRe  = regexp.MustCompile(`^\s*([0-9]+)\.([0-9]+)`)
)

// ServerInfo holds the server attributes and configuration properties.
// "true"/"false" become bools and digit strings become int64.
type ServerInfo map[string]any

// String returns a value as text
func (si ServerInfo) String(key string) string {
	v, ok := si[key]
	if !ok {
		return ""
	}
	return fmt.Sprint(v)
}

// Version returns the reported server version
func (si ServerInfo) Version() string {
	return si.String("version")
}

// PubSubPort returns the publish/subscribe port used by dfESP URLs
func (si ServerInfo) PubSubPort() (int, bool) {
	n, ok := si["pubsub"].(int64)
	return int(n), ok
}

// ServerInfo fetches GET server?config=true
func (c *Connection) ServerInfo(ctx context.Context) (ServerInfo, error) {
	root, err := c.session.Get(ctx, "server", rest.NewParams().Set("config", true))
	if err != nil {
		return nil, errors.Wrap(err, "Connection", "ServerInfo", "get server info")
	}

	out := make(ServerInfo, len(root.Attrs))
	for _, a := range root.Attrs {
		out[a.Name] = castValue(a.Value)
	}
	for _, item := range root.FindAll("./property") {
		if name, ok := item.Attr("name"); ok {
			out[name] = castValue(item.Text)
		}
	}
	return out, nil
}

// ParseVersion extracts major and minor numbers from "... (6.2)" or "6.2.x"
func ParseVersion(version string) (major, minor int, ok bool) {
	m := serverVersionRe.FindStringSubmatch(version)
	if m == nil {
		m = plainVersionRe.FindStringSubmatch(version)
	}
	if m == nil {
		return 0, 0, false
	}
	major, _ = strconv.Atoi(m[1])
	minor, _ = strconv.Atoi(m[2])
	return major, minor, true
}

// CheckVersion fails when the server reports a release older than 5.2. A
// version that cannot be parsed is accepted.
func (c *Connection) CheckVersion(ctx context.Context) error {
	info, err := c.ServerInfo(ctx)
	if err != nil {
		return err
	}
	version := info.Version()
	major, minor, ok := ParseVersion(version)
	if !ok {
		c.logger.Debug("Unrecognized server version", "version", version)
		return nil
	}
	if major < MinMajorVersion || (major == MinMajorVersion && minor < MinMinorVersion) {
		return errors.Fatalf(errors.ErrUnsupportedVersion, "Connection", "CheckVersion",
			"server version %s is older than %d.%d", version, MinMajorVersion, MinMinorVersion)
	}
	return nil
}

// WaitReady polls the server until it answers or cfg gives up. Only
// transient failures (refused connections, 5xx) are retried.
func (c *Connection) WaitReady(ctx context.Context, cfg retry.Config) error {
	cfg.Retryable = errors.IsTransient
	if cfg.OnRetry == nil {
		cfg.OnRetry = func(attempt int, err error, delay time.Duration) {
			c.logger.Debug("Server not ready", "attempt", attempt, "retry_in", delay, "error", err)
		}
	}
	return retry.Do(ctx, cfg, func() error {
		_, err := c.ServerInfo(ctx)
		return err
	})
}

// SaveServer persists the server model to path, or the default location
// when path is empty
func (c *Connection) SaveServer(ctx context.Context, path string) error {
	return c.setState(ctx, "SaveServer", "server",
		rest.NewParams().Set("value", "persisted").SetNonEmpty("path", path), nil)
}

// ReloadServer resets the server to the model it started with
func (c *Connection) ReloadServer(ctx context.Context) error {
	return c.setState(ctx, "ReloadServer", "server", rest.NewParams().Set("value", "reloaded"), nil)
}

// ShutdownServer stops the server
func (c *Connection) ShutdownServer(ctx context.Context) error {
	return c.setState(ctx, "ShutdownServer", "server", rest.NewParams().Set("value", "stopped"), nil)
}

// APIDocs returns the server's API description
func (c *Connection) APIDocs(ctx context.Context) (map[string]any, error) {
	out := make(map[string]any)
	if err := c.session.GetJSON(ctx, "api-docs", rest.NewParams().Set("format", "json"), &out); err != nil {
		return nil, errors.Wrap(err, "Connection", "APIDocs", "get api docs")
	}
	return out, nil
}

// EnableLogCapture turns on capturing of server log messages
func (c *Connection) EnableLogCapture(ctx context.Context) error {
	return c.setState(ctx, "EnableLogCapture", "logCapture", rest.NewParams().Set("value", "on"), nil)
}

// DisableLogCapture turns off capturing of server log messages
func (c *Connection) DisableLogCapture(ctx context.Context) error {
	return c.setState(ctx, "DisableLogCapture", "logCapture", rest.NewParams().Set("value", "off"), nil)
}

// LogCaptureEnabled reports whether server log capture is on
func (c *Connection) LogCaptureEnabled(ctx context.Context) (bool, error) {
	root, err := c.session.Get(ctx, "logCapture", nil)
	if err != nil {
		return false, errors.Wrap(err, "Connection", "LogCaptureEnabled", "get log capture state")
	}
	return root.AttrOr("logcapture", "") == "on", nil
}

// ServerLog returns the captured log lines
func (c *Connection) ServerLog(ctx context.Context) ([]string, error) {
	data, err := c.session.Do(ctx, rest.Request{Method: http.MethodGet, Path: "logs"})
	if err != nil {
		return nil, errors.Wrap(err, "Connection", "ServerLog", "get server log")
	}
	text := strings.TrimRight(string(data), " \t\r\n")
	if text == "" {
		return nil, nil
	}
	return strings.Split(text, "\n"), nil
}
