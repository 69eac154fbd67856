package stream

import (
	"context"
	"log/slog"
	"net/url"
	"strconv"
	"strings"
	"sync"

	"golang.org/x/time/rate"

	"github.com/c360/espclient/config"
	"github.com/c360/espclient/errors"
	"github.com/c360/espclient/events"
	"github.com/c360/espclient/rest"
)

// DefaultDateFormat is the strftime layout the server uses to parse dates
const DefaultDateFormat = "%Y%m%dT%H:%M:%S.%f"

// Publisher sends event blocks to one window
type Publisher struct {
	session  *rest.Session
	window   string
	verifier WindowVerifier
	logger   *slog.Logger
	limiter  *rate.Limiter

	blockSize  int
	rate       int
	pause      int
	dateFormat string
	opcode     string
	format     string
	separator  string

	mu     sync.Mutex
	client *Client
	closed bool
}

// PublisherOption configures a Publisher
type PublisherOption func(*Publisher) error

// WithBlockSize sets the number of events per block
func WithBlockSize(n int) PublisherOption {
	return func(p *Publisher) error {
		p.blockSize = n
		return nil
	}
}

// WithRate sets the server-side publish rate in events per second
func WithRate(n int) PublisherOption {
	return func(p *Publisher) error {
		p.rate = n
		return nil
	}
}

// WithPause sets the server-side pause between blocks in milliseconds
func WithPause(ms int) PublisherOption {
	return func(p *Publisher) error {
		p.pause = ms
		return nil
	}
}

// WithDateFormat sets the date format of published values
func WithDateFormat(layout string) PublisherOption {
	return func(p *Publisher) error {
		p.dateFormat = layout
		return nil
	}
}

// WithOpcode sets the default opcode of published events
func WithOpcode(op string) PublisherOption {
	return func(p *Publisher) error {
		switch op {
		case "insert", "update", "upsert", "delete", "safedelete":
			p.opcode = op
			return nil
		}
		return errors.Invalidf(errors.ErrInvalidValue, "Publisher", "WithOpcode", "unknown opcode %q", op)
	}
}

// WithPublishFormat selects the format of sent data
func WithPublishFormat(format string) PublisherOption {
	return func(p *Publisher) error {
		if err := validFormat(format); err != nil {
			return err
		}
		p.format = format
		return nil
	}
}

// WithPublishSeparator sets the event separator of the properties format
func WithPublishSeparator(sep string) PublisherOption {
	return func(p *Publisher) error {
		p.separator = sep
		return nil
	}
}

// WithThrottle limits Send calls to perSecond messages, client side
func WithThrottle(perSecond float64) PublisherOption {
	return func(p *Publisher) error {
		if perSecond > 0 {
			p.limiter = rate.NewLimiter(rate.Limit(perSecond), 1)
		}
		return nil
	}
}

// WithPublisherVerifier checks that the window exists before connecting
func WithPublisherVerifier(v WindowVerifier) PublisherOption {
	return func(p *Publisher) error {
		p.verifier = v
		return nil
	}
}

// WithPublisherDefaults applies configured defaults
func WithPublisherDefaults(cfg config.PublisherConfig) PublisherOption {
	return func(p *Publisher) error {
		if cfg.BlockSize > 0 {
			p.blockSize = cfg.BlockSize
		}
		p.rate = cfg.Rate
		p.pause = cfg.Pause
		if cfg.DateFormat != "" {
			p.dateFormat = cfg.DateFormat
		}
		if cfg.Opcode != "" {
			if err := WithOpcode(cfg.Opcode)(p); err != nil {
				return err
			}
		}
		if cfg.Format != "" {
			if err := WithPublishFormat(cfg.Format)(p); err != nil {
				return err
			}
		}
		if cfg.Separator != "" {
			p.separator = cfg.Separator
		}
		return WithThrottle(cfg.Throttle)(p)
	}
}

// NewPublisher creates a publisher for window. Nothing is connected until
// Connect.
func NewPublisher(session *rest.Session, window string, opts ...PublisherOption) (*Publisher, error) {
	path, err := WindowPath(window)
	if err != nil {
		return nil, err
	}
	p := &Publisher{
		session:    session,
		window:     path,
		blockSize:  1,
		dateFormat: DefaultDateFormat,
		opcode:     "insert",
		format:     events.FormatCSV,
	}
	for _, opt := range opts {
		if err := opt(p); err != nil {
			return nil, err
		}
	}
	p.logger = session.Logger().With("component", "publisher", "window", path)
	return p, nil
}

// Window returns the window path
func (p *Publisher) Window() string {
	return p.window
}

// URL returns the publisher socket URL. Parameters are sorted and URL
// encoded with spaces written as %20.
func (p *Publisher) URL() string {
	v := url.Values{}
	v.Set("blocksize", strconv.Itoa(p.blockSize))
	v.Set("dateformat", p.dateFormat)
	v.Set("format", p.format)
	v.Set("opcode", p.opcode)
	v.Set("pause", strconv.Itoa(p.pause))
	v.Set("rate", strconv.Itoa(p.rate))
	if p.separator != "" {
		v.Set("separator", p.separator)
	}
	query := strings.ReplaceAll(v.Encode(), "+", "%20")
	return p.session.SocketURL("publishers/"+p.window+"/", nil) + "?" + query
}

// Connect verifies the window and opens the socket
func (p *Publisher) Connect(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return errors.WrapInvalid(errors.ErrClosed, "Publisher", "Connect", "connect publisher")
	}
	if p.client != nil {
		return nil
	}

	if p.verifier != nil {
		ok, err := p.verifier.VerifyWindow(ctx, p.window)
		if err != nil {
			return err
		}
		if !ok {
			return errors.Invalidf(errors.ErrUnknownWindow, "Publisher", "Connect", "there is no window at %s", p.window)
		}
	}

	client := NewClient(p.URL(), sessionOptions(p.session, "publisher")...)
	if err := client.Connect(ctx); err != nil {
		return err
	}
	p.client = client
	p.logger.Debug("Publisher connected", "url", client.URL())
	return nil
}

// Active reports whether the socket is open
func (p *Publisher) Active() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.client != nil && p.client.Connected()
}

// Send writes one message of event data in the publisher's format
func (p *Publisher) Send(ctx context.Context, data []byte) error {
	p.mu.Lock()
	client, closed := p.client, p.closed
	p.mu.Unlock()

	if closed {
		return errors.WrapInvalid(errors.ErrClosed, "Publisher", "Send", "send events")
	}
	if client == nil {
		return errors.WrapInvalid(errors.ErrNotConnected, "Publisher", "Send", "send events")
	}
	if p.limiter != nil {
		if err := p.limiter.Wait(ctx); err != nil {
			return errors.Wrap(err, "Publisher", "Send", "wait for throttle")
		}
	}
	return client.Send(data)
}

// SendTable encodes t as CSV, using the publisher opcode for rows without one
func (p *Publisher) SendTable(ctx context.Context, t *events.Table) error {
	if p.format != events.FormatCSV {
		return errors.Invalidf(errors.ErrInvalidValue, "Publisher", "SendTable",
			"tables are sent as csv, publisher format is %s", p.format)
	}
	data, err := t.EncodeCSV(p.opcode)
	if err != nil {
		return err
	}
	return p.Send(ctx, data)
}

// Close closes the socket; later sends fail. Closing a publisher that was
// never connected is a no-op.
func (p *Publisher) Close() error {
	p.mu.Lock()
	client := p.client
	if client != nil {
		p.closed = true
	}
	p.mu.Unlock()

	if client == nil {
		return nil
	}
	return client.Close()
}
