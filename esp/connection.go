// Package esp exposes the REST surface of an ESP server through a
// Connection: server state, projects, windows, loggers, metadata, routers,
// event generators, MAS modules and algorithms. Streaming access to windows
// is handed off to the stream package.
package esp

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/c360/espclient/config"
	"github.com/c360/espclient/errors"
	"github.com/c360/espclient/metric"
	"github.com/c360/espclient/rest"
)

// Connection is a client for one ESP server. It holds no global state; every
// setting comes from the ConnectionConfig and options.
type Connection struct {
	cfg        config.ConnectionConfig
	session    *rest.Session
	logger     *slog.Logger
	subscriber config.SubscriberConfig
	publisher  config.PublisherConfig
}

type options struct {
	logger     *slog.Logger
	metrics    *metric.Metrics
	httpClient *http.Client
	subscriber config.SubscriberConfig
	publisher  config.PublisherConfig
}

// Option configures a Connection
type Option func(*options)

// WithLogger sets the logger used by the connection and its streams
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}

// WithMetrics records REST and stream metrics
func WithMetrics(m *metric.Metrics) Option {
	return func(o *options) {
		o.metrics = m
	}
}

// WithHTTPClient replaces the HTTP client used for REST calls
func WithHTTPClient(c *http.Client) Option {
	return func(o *options) {
		o.httpClient = c
	}
}

// WithSubscriberDefaults sets the defaults of subscribers created by
// NewSubscriber
func WithSubscriberDefaults(cfg config.SubscriberConfig) Option {
	return func(o *options) {
		o.subscriber = cfg
	}
}

// WithPublisherDefaults sets the defaults of publishers created by
// NewPublisher
func WithPublisherDefaults(cfg config.PublisherConfig) Option {
	return func(o *options) {
		o.publisher = cfg
	}
}

// WithConfig applies the stream defaults of a full configuration
func WithConfig(cfg *config.Config) Option {
	return func(o *options) {
		if cfg == nil {
			return
		}
		o.subscriber = cfg.Subscriber
		o.publisher = cfg.Publisher
	}
}

// NewConnection creates a connection without contacting the server
func NewConnection(cfg config.ConnectionConfig, opts ...Option) (*Connection, error) {
	defaults := config.DefaultConfig()
	o := options{
		logger:     slog.Default(),
		subscriber: defaults.Subscriber,
		publisher:  defaults.Publisher,
	}
	for _, opt := range opts {
		opt(&o)
	}

	sessOpts := []rest.Option{rest.WithLogger(o.logger), rest.WithMetrics(o.metrics)}
	if o.httpClient != nil {
		sessOpts = append(sessOpts, rest.WithHTTPClient(o.httpClient))
	}
	session, err := rest.NewSession(cfg, sessOpts...)
	if err != nil {
		return nil, errors.Wrap(err, "Connection", "NewConnection", "create session")
	}

	return &Connection{
		cfg:        cfg,
		session:    session,
		logger:     o.logger.With("component", "esp", "server", cfg.Host),
		subscriber: o.subscriber,
		publisher:  o.publisher,
	}, nil
}

// Dial creates a connection and checks that the server version is supported
func Dial(ctx context.Context, cfg config.ConnectionConfig, opts ...Option) (*Connection, error) {
	c, err := NewConnection(cfg, opts...)
	if err != nil {
		return nil, err
	}
	if err := c.CheckVersion(ctx); err != nil {
		return nil, err
	}
	return c, nil
}

// Session returns the REST session
func (c *Connection) Session() *rest.Session {
	return c.session
}

// BaseURL returns the REST base URL
func (c *Connection) BaseURL() string {
	return c.session.BaseURL()
}

func (c *Connection) String() string {
	return fmt.Sprintf("Connection(%q)", strings.TrimSuffix(c.session.BaseURL(), "/SASESP/"))
}

// setState issues PUT {path}/state?value=...
func (c *Connection) setState(ctx context.Context, method, path string, params *rest.Params, body []byte) error {
	if _, err := c.session.Put(ctx, path+"/state", params, body); err != nil {
		return errors.Wrap(err, "Connection", method, "set state of "+path)
	}
	return nil
}

// castValue converts "true", "false" and digit strings the way the server
// info and logger listings are reported
func castValue(v string) any {
	switch v {
	case "true":
		return true
	case "false":
		return false
	}
	if intValueRe.MatchString(v) {
		var n int64
		if _, err := fmt.Sscan(v, &n); err == nil {
			return n
		}
	}
	return v
}
