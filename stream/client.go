// Package stream implements the WebSocket side of the ESP client: a socket
// client with a single reader goroutine, window subscribers and publishers,
// a collecting subscriber that keeps the most recent rows, and the
// projectStats feed.
//
// Callbacks run on the reader goroutine. Values handed to them belong to the
// callee.
package stream

import (
	"context"
	"crypto/tls"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/c360/espclient/errors"
	"github.com/c360/espclient/metric"
	"github.com/c360/espclient/rest"
)

const (
	handshakeTimeout = 45 * time.Second
	closeWriteWait   = time.Second
)

// Callbacks receive socket activity. Any of them may be nil.
type Callbacks struct {
	OnOpen    func()
	OnMessage func(msg []byte) // text frames
	OnData    func(data []byte) // binary frames
	OnError   func(err error)
	OnClose   func()
}

// Client is one WebSocket connection. It is single use: once closed it cannot
// be reconnected.
type Client struct {
	url     string
	kind    string
	header  http.Header
	dialer  *websocket.Dialer
	logger  *slog.Logger
	metrics *metric.Metrics
	cb      Callbacks

	mu     sync.Mutex
	conn   *websocket.Conn
	closed bool

	writeMu sync.Mutex
	closing atomic.Bool

	done    chan struct{}
	errMu   sync.Mutex
	readErr error
}

// ClientOption configures a Client
type ClientOption func(*Client)

// WithHeader adds request headers to the handshake
func WithHeader(h http.Header) ClientOption {
	return func(c *Client) {
		for k, vs := range h {
			for _, v := range vs {
				c.header.Add(k, v)
			}
		}
	}
}

// WithTLSConfig sets the TLS settings used for wss URLs
func WithTLSConfig(cfg *tls.Config) ClientOption {
	return func(c *Client) {
		c.dialer.TLSClientConfig = cfg
	}
}

// WithClientLogger sets the logger
func WithClientLogger(l *slog.Logger) ClientOption {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithClientMetrics counts messages and errors under kind
func WithClientMetrics(m *metric.Metrics, kind string) ClientOption {
	return func(c *Client) {
		c.metrics = m
		if kind != "" {
			c.kind = kind
		}
	}
}

// WithCallbacks sets the event callbacks
func WithCallbacks(cb Callbacks) ClientOption {
	return func(c *Client) {
		c.cb = cb
	}
}

// NewClient creates an unconnected client for url
func NewClient(url string, opts ...ClientOption) *Client {
	c := &Client{
		url:    url,
		kind:   "socket",
		header: http.Header{},
		dialer: &websocket.Dialer{
			HandshakeTimeout: handshakeTimeout,
			Proxy:            http.ProxyFromEnvironment,
		},
		logger: slog.Default(),
		done:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With("component", "stream", "kind", c.kind, "url", c.url)
	return c
}

// sessionOptions carries the credentials and TLS settings of a REST session
func sessionOptions(s *rest.Session, kind string) []ClientOption {
	return []ClientOption{
		WithHeader(s.Header()),
		WithTLSConfig(s.TLSConfig()),
		WithClientLogger(s.Logger()),
		WithClientMetrics(s.Metrics(), kind),
	}
}

// URL returns the socket URL
func (c *Client) URL() string {
	return c.url
}

// Connect dials the server and starts the reader goroutine. Connecting an
// open client is a no-op.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return errors.WrapInvalid(errors.ErrClosed, "Client", "Connect", "connect "+c.kind)
	}
	if c.conn != nil {
		return nil
	}

	conn, resp, err := c.dialer.DialContext(ctx, c.url, c.header)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		c.metrics.StreamError(c.kind)
		if resp != nil && resp.StatusCode >= 400 {
			return &errors.ServerError{Status: resp.StatusCode, Message: err.Error(), URL: c.url}
		}
		return errors.WrapTransient(err, "Client", "Connect", "dial "+c.url)
	}

	c.conn = conn
	c.metrics.StreamOpened(c.kind)
	c.logger.Debug("WebSocket connected")

	if c.cb.OnOpen != nil {
		c.cb.OnOpen()
	}
	go c.readLoop(conn)
	return nil
}

// Connected reports whether the socket is open
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil && !c.closed
}

func (c *Client) readLoop(conn *websocket.Conn) {
	defer close(c.done)

	for {
		mt, data, err := conn.ReadMessage()
		if err != nil {
			c.finish(err)
			return
		}
		c.metrics.StreamMessage(c.kind, "in")

		switch mt {
		case websocket.TextMessage:
			if c.cb.OnMessage != nil {
				c.cb.OnMessage(data)
			}
		case websocket.BinaryMessage:
			if c.cb.OnData != nil {
				c.cb.OnData(data)
			}
		}
	}
}

func (c *Client) finish(err error) {
	normal := c.closing.Load() ||
		websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway)

	if !normal {
		c.errMu.Lock()
		c.readErr = errors.WrapTransient(err, "Client", "readLoop", "read "+c.kind+" message")
		c.errMu.Unlock()

		c.metrics.StreamError(c.kind)
		c.logger.Warn("WebSocket read failed", "error", err)
		if c.cb.OnError != nil {
			c.cb.OnError(c.Err())
		}
	}

	c.mu.Lock()
	c.closed = true
	if c.conn != nil {
		c.conn.Close()
	}
	c.mu.Unlock()

	c.metrics.StreamClosed(c.kind)
	c.logger.Debug("WebSocket closed")
	if c.cb.OnClose != nil {
		c.cb.OnClose()
	}
}

// Send writes one text frame
func (c *Client) Send(msg []byte) error {
	c.mu.Lock()
	conn, closed := c.conn, c.closed
	c.mu.Unlock()

	if closed {
		return errors.WrapInvalid(errors.ErrClosed, "Client", "Send", "send "+c.kind+" message")
	}
	if conn == nil {
		return errors.WrapInvalid(errors.ErrNotConnected, "Client", "Send", "send "+c.kind+" message")
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
		c.metrics.StreamError(c.kind)
		return errors.WrapTransient(err, "Client", "Send", "write "+c.kind+" message")
	}
	c.metrics.StreamMessage(c.kind, "out")
	return nil
}

// Close sends a close frame and shuts the socket. Closing a client that was
// never connected, or is already closed, is a no-op.
func (c *Client) Close() error {
	c.mu.Lock()
	conn := c.conn
	if conn == nil || c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	c.closing.Store(true)

	c.writeMu.Lock()
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(closeWriteWait))
	c.writeMu.Unlock()

	if err := conn.Close(); err != nil {
		return errors.Wrap(err, "Client", "Close", "close "+c.kind)
	}
	return nil
}

// Done is closed when the reader goroutine has exited
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Err returns the read error that ended the connection, nil after a normal close
func (c *Client) Err() error {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	return c.readErr
}
