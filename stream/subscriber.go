package stream

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"github.com/c360/espclient/config"
	"github.com/c360/espclient/errors"
	"github.com/c360/espclient/events"
	"github.com/c360/espclient/rest"
	"github.com/c360/espclient/schema"
	"github.com/c360/espclient/xmltree"
)

// Subscriber modes
const (
	ModeUpdating  = "updating"
	ModeStreaming = "streaming"
)

var (
	statusLineRe = regexp.MustCompile(`^\s*\w+\s*:\s*(\d+)\s*\n`)
	jsonSchemaRe = regexp.MustCompile(`^\s*{\s*["']?schema["']?\s*:`)
)

// WindowVerifier reports whether a window exists on the server
type WindowVerifier interface {
	VerifyWindow(ctx context.Context, path string) (bool, error)
}

// WindowPath normalizes "p.cq.w" or "p/cq/w" to "p/cq/w"
func WindowPath(path string) (string, error) {
	parts := strings.FieldsFunc(path, func(r rune) bool { return r == '.' || r == '/' })
	if len(parts) != 3 {
		return "", errors.Invalidf(errors.ErrInvalidPath, "stream", "WindowPath",
			"window path %q must name project, continuous query and window", path)
	}
	return strings.Join(parts, "/"), nil
}

// Subscriber streams the events of one window
type Subscriber struct {
	session  *rest.Session
	window   string
	verifier WindowVerifier
	logger   *slog.Logger

	startMu sync.Mutex // serializes Start

	mu         sync.Mutex
	mode       string
	pageSize   int
	filter     string
	sort       string
	format     string
	separator  string
	interval   int
	precision  int
	sendSchema bool
	client     *Client
	done       <-chan struct{}
	clientErr  func() error
	gen        uint64 // bumped by Start and Stop; readers of older sockets are ignored
	schema     *schema.Schema
	err        error

	onOpen    func()
	onEvent   func(*events.Table)
	onMessage func(msg string)
	onError   func(err error)
	onClose   func()
}

// readerState belongs to the reader goroutine of one socket
type readerState struct {
	gen    uint64
	client *Client
	status int
	schema *schema.Schema
}

// SubscriberOption configures a Subscriber
type SubscriberOption func(*Subscriber) error

// WithMode selects updating or streaming
func WithMode(mode string) SubscriberOption {
	return func(s *Subscriber) error {
		if err := validMode(mode); err != nil {
			return err
		}
		s.mode = mode
		return nil
	}
}

// WithPageSize sets the maximum number of events per page
func WithPageSize(n int) SubscriberOption {
	return func(s *Subscriber) error {
		s.pageSize = n
		return nil
	}
}

// WithFilter sets a functional filter expression
func WithFilter(filter string) SubscriberOption {
	return func(s *Subscriber) error {
		s.filter = filter
		return nil
	}
}

// WithSort sets the sort order, updating mode only
func WithSort(sort string) SubscriberOption {
	return func(s *Subscriber) error {
		s.sort = sort
		return nil
	}
}

// WithFormat selects xml, json, csv or properties
func WithFormat(format string) SubscriberOption {
	return func(s *Subscriber) error {
		if err := validFormat(format); err != nil {
			return err
		}
		s.format = format
		return nil
	}
}

// WithSeparator sets the event separator of the properties format
func WithSeparator(sep string) SubscriberOption {
	return func(s *Subscriber) error {
		s.separator = sep
		return nil
	}
}

// WithInterval sets the milliseconds between event sends
func WithInterval(ms int) SubscriberOption {
	return func(s *Subscriber) error {
		s.interval = ms
		return nil
	}
}

// WithPrecision sets the floating point precision
func WithPrecision(p int) SubscriberOption {
	return func(s *Subscriber) error {
		s.precision = p
		return nil
	}
}

// WithSchemaMessage passes the schema message to OnMessage as well
func WithSchemaMessage(enabled bool) SubscriberOption {
	return func(s *Subscriber) error {
		s.sendSchema = enabled
		return nil
	}
}

// WithVerifier checks that the window exists before connecting
func WithVerifier(v WindowVerifier) SubscriberOption {
	return func(s *Subscriber) error {
		s.verifier = v
		return nil
	}
}

// WithSubscriberDefaults applies configured defaults
func WithSubscriberDefaults(cfg config.SubscriberConfig) SubscriberOption {
	return func(s *Subscriber) error {
		if cfg.Mode != "" {
			if err := validMode(cfg.Mode); err != nil {
				return err
			}
			s.mode = cfg.Mode
		}
		if cfg.Format != "" {
			if err := validFormat(cfg.Format); err != nil {
				return err
			}
			s.format = cfg.Format
		}
		if cfg.PageSize > 0 {
			s.pageSize = cfg.PageSize
		}
		if cfg.Precision > 0 {
			s.precision = cfg.Precision
		}
		if cfg.Separator != "" {
			s.separator = cfg.Separator
		}
		return nil
	}
}

// OnOpen is called once the socket is open, before any message arrives
func OnOpen(fn func()) SubscriberOption {
	return func(s *Subscriber) error {
		s.onOpen = fn
		return nil
	}
}

// OnEvent receives each event message decoded into a table
func OnEvent(fn func(*events.Table)) SubscriberOption {
	return func(s *Subscriber) error {
		s.onEvent = fn
		return nil
	}
}

// OnMessage receives each raw event message
func OnMessage(fn func(msg string)) SubscriberOption {
	return func(s *Subscriber) error {
		s.onMessage = fn
		return nil
	}
}

// OnError receives socket and decoding errors
func OnError(fn func(err error)) SubscriberOption {
	return func(s *Subscriber) error {
		s.onError = fn
		return nil
	}
}

// OnClose is called when the socket closes
func OnClose(fn func()) SubscriberOption {
	return func(s *Subscriber) error {
		s.onClose = fn
		return nil
	}
}

func validMode(mode string) error {
	if mode != ModeUpdating && mode != ModeStreaming {
		return errors.Invalidf(errors.ErrInvalidValue, "Subscriber", "SetMode",
			"mode must be %q or %q, got %q", ModeUpdating, ModeStreaming, mode)
	}
	return nil
}

func validFormat(format string) error {
	switch format {
	case events.FormatXML, events.FormatJSON, events.FormatCSV, events.FormatProperties:
		return nil
	}
	return errors.Invalidf(errors.ErrInvalidValue, "Subscriber", "SetFormat", "unknown format %q", format)
}

// NewSubscriber creates a subscriber for window ("p/cq/w" or "p.cq.w").
// Nothing is connected until Start.
func NewSubscriber(session *rest.Session, window string, opts ...SubscriberOption) (*Subscriber, error) {
	path, err := WindowPath(window)
	if err != nil {
		return nil, err
	}
	s := &Subscriber{
		session:   session,
		window:    path,
		mode:      ModeUpdating,
		pageSize:  50,
		format:    events.FormatXML,
		precision: 6,
	}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}
	s.logger = session.Logger().With("component", "subscriber", "window", path)
	return s, nil
}

// Window returns the window path
func (s *Subscriber) Window() string {
	return s.window
}

// URL returns the subscriber socket URL with its parameters in sorted order
func (s *Subscriber) URL() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.urlLocked()
}

func (s *Subscriber) urlLocked() string {
	p := rest.NewParams().
		SetNonEmpty("filter", s.filter).
		SetNonEmpty("format", s.format).
		SetIf(s.interval > 0, "interval", s.interval).
		SetNonEmpty("mode", s.mode).
		SetIf(s.pageSize > 0, "pagesize", s.pageSize).
		SetIf(s.precision > 0, "precision", s.precision).
		Set("schema", true).
		SetNonEmpty("separator", url.QueryEscape(s.separator)).
		SetNonEmpty("sort", s.sort)
	return s.session.SocketURL("subscribers/"+s.window+"/", p)
}

// Start verifies the window and opens the socket. Starting an active
// subscriber is a no-op.
func (s *Subscriber) Start(ctx context.Context) error {
	s.startMu.Lock()
	defer s.startMu.Unlock()

	if s.Active() {
		return nil
	}

	if s.verifier != nil {
		ok, err := s.verifier.VerifyWindow(ctx, s.window)
		if err != nil {
			return err
		}
		if !ok {
			return errors.Invalidf(errors.ErrUnknownWindow, "Subscriber", "Start", "there is no window at %s", s.window)
		}
	}

	s.mu.Lock()
	s.gen++
	rs := &readerState{gen: s.gen}
	s.schema = nil
	s.err = nil
	socketURL := s.urlLocked()
	s.mu.Unlock()

	opts := append(sessionOptions(s.session, "subscriber"), WithCallbacks(Callbacks{
		OnOpen:    s.onOpen,
		OnMessage: func(msg []byte) { s.handle(rs, msg) },
		OnError:   s.reportError,
		OnClose:   s.onClose,
	}))
	rs.client = NewClient(socketURL, opts...)
	if err := rs.client.Connect(ctx); err != nil {
		return err
	}

	s.mu.Lock()
	s.client = rs.client
	s.done = rs.client.Done()
	s.clientErr = rs.client.Err
	s.mu.Unlock()
	s.logger.Debug("Subscriber started", "url", socketURL)
	return nil
}

func (s *Subscriber) current(rs *readerState) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gen == rs.gen
}

// handle runs on the reader goroutine
func (s *Subscriber) handle(rs *readerState, msg []byte) {
	if !s.current(rs) {
		return
	}

	if rs.status == 0 {
		if m := statusLineRe.FindSubmatch(msg); m != nil {
			rs.status, _ = strconv.Atoi(string(m[1]))
			if rs.status >= 400 {
				s.fail(rs, &errors.ServerError{
					Status:  rs.status,
					Message: fmt.Sprintf("Subscriber message returned with status: %d", rs.status),
					URL:     rs.client.URL(),
				})
			}
			return
		}
	}

	if rs.schema == nil {
		sc, err := parseSchemaMessage(msg)
		if err != nil {
			s.fail(rs, err)
			return
		}
		rs.schema = sc
		s.mu.Lock()
		if s.gen == rs.gen {
			s.schema = sc
		}
		s.mu.Unlock()
		if s.sendSchema && s.onMessage != nil {
			s.onMessage(string(msg))
		}
		return
	}

	if s.onMessage != nil {
		s.onMessage(string(msg))
	}
	if s.onEvent == nil {
		return
	}

	s.mu.Lock()
	format, separator := s.format, s.separator
	s.mu.Unlock()

	table, err := events.ParseSingle(context.Background(), msg, events.Options{
		Format:    format,
		Schema:    rs.schema,
		Window:    strings.ReplaceAll(s.window, "/", "."),
		Separator: separator,
	})
	if err != nil {
		s.reportError(err)
		return
	}
	s.session.Metrics().Decoded(format, table.Len())
	s.onEvent(table)
}

func parseSchemaMessage(msg []byte) (*schema.Schema, error) {
	trimmed := bytes.TrimSpace(msg)
	switch {
	case bytes.HasPrefix(trimmed, []byte("<schema")):
		return schema.FromXML(trimmed)
	case jsonSchemaRe.Match(trimmed):
		return schema.FromJSON(trimmed)
	}
	head := string(trimmed)
	if len(head) > 40 {
		head = head[:40]
	}
	return nil, errors.Invalidf(errors.ErrInvalidData, "Subscriber", "handle",
		"Unrecognized schema definition format: %s...", head)
}

func (s *Subscriber) reportError(err error) {
	s.mu.Lock()
	if s.err == nil {
		s.err = err
	}
	s.mu.Unlock()

	if s.onError != nil {
		s.onError(err)
		return
	}
	s.logger.Error("Subscriber error", "error", err)
}

// fail reports err and closes the reader's socket
func (s *Subscriber) fail(rs *readerState, err error) {
	s.reportError(err)
	_ = rs.client.Close()
}

// Schema returns the schema announced by the server, nil before it arrives
func (s *Subscriber) Schema() *schema.Schema {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.schema
}

// Active reports whether the socket is open
func (s *Subscriber) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.client != nil && s.client.Connected()
}

// Stop closes the socket and drops it. Messages the old reader is still
// handling are ignored. Stopping an inactive subscriber is a no-op.
func (s *Subscriber) Stop() error {
	s.mu.Lock()
	client := s.client
	s.client = nil
	if client != nil {
		s.gen++
	}
	s.mu.Unlock()

	if client == nil {
		return nil
	}
	return client.Close()
}

// Close is Stop
func (s *Subscriber) Close() error {
	return s.Stop()
}

// Done is closed when the reader goroutine of the last started socket
// exits. It is nil before Start and stays valid after Stop.
func (s *Subscriber) Done() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.done
}

// Err returns the first error seen by the subscriber
func (s *Subscriber) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	if s.clientErr != nil {
		return s.clientErr()
	}
	return nil
}

// SetMode changes the mode, updating an active subscription
func (s *Subscriber) SetMode(mode string) error {
	if err := validMode(mode); err != nil {
		return err
	}
	return s.update(func() { s.mode = mode }, xmltree.New("properties", "mode", mode))
}

// SetPageSize changes the page size, updating an active subscription
func (s *Subscriber) SetPageSize(n int) error {
	return s.update(func() { s.pageSize = n }, xmltree.New("properties", "pagesize", strconv.Itoa(n)))
}

// SetSort changes the sort order, updating an active subscription
func (s *Subscriber) SetSort(sort string) error {
	return s.update(func() { s.sort = sort }, propertiesIf(sort != "", xmltree.New("properties", "sort", sort)))
}

// SetInterval changes the send interval, updating an active subscription
func (s *Subscriber) SetInterval(ms int) error {
	return s.update(func() { s.interval = ms }, propertiesIf(ms > 0, xmltree.New("properties", "interval", strconv.Itoa(ms))))
}

// SetSeparator changes the properties separator, updating an active subscription
func (s *Subscriber) SetSeparator(sep string) error {
	return s.update(func() { s.separator = sep }, propertiesIf(sep != "", xmltree.New("properties", "separator", sep)))
}

// SetFilter changes the filter, updating an active subscription
func (s *Subscriber) SetFilter(filter string) error {
	msg := xmltree.New("properties").Append(xmltree.NewCDATA("filter", filter))
	return s.update(func() { s.filter = filter }, propertiesIf(filter != "", msg))
}

// propertiesIf returns msg when set is true. Unset values are applied to the
// next Start only.
func propertiesIf(set bool, msg *xmltree.Element) *xmltree.Element {
	if !set {
		return nil
	}
	return msg
}

func (s *Subscriber) update(apply func(), msg *xmltree.Element) error {
	s.mu.Lock()
	apply()
	client := s.client
	s.mu.Unlock()

	if msg == nil || client == nil || !client.Connected() {
		return nil
	}
	return client.Send(msg.Bytes())
}
