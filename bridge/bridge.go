package bridge

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/c360/espclient/config"
	"github.com/c360/espclient/errors"
	"github.com/c360/espclient/events"
	"github.com/c360/espclient/health"
	"github.com/c360/espclient/metric"
	"github.com/c360/espclient/stream"
)

// Sink names used in metrics and health
const (
	SinkNATS     = "nats"
	SinkStream   = "jetstream"
	SinkSnapshot = "snapshot"
	SinkInbound  = "inbound"
)

// NATSClient is the subset of natsclient.Client the bridge uses
type NATSClient interface {
	Publish(ctx context.Context, subject string, data []byte) error
	Subscribe(ctx context.Context, subject string, handler func(context.Context, []byte)) error
}

// StreamPublisher captures forwarded events in a JetStream stream
type StreamPublisher interface {
	PublishToStream(ctx context.Context, subject string, data []byte) error
}

// SnapshotStore keeps the latest row per key
type SnapshotStore interface {
	PutRow(ctx context.Context, key string, fields map[string]string, ttl time.Duration) error
	DeleteRow(ctx context.Context, key string) error
	Close() error
}

// Server opens event streams on an ESP server; *esp.Connection implements it
type Server interface {
	NewSubscriber(window string, opts ...stream.SubscriberOption) (*stream.Subscriber, error)
	NewPublisher(window string, opts ...stream.PublisherOption) (*stream.Publisher, error)
}

// Option configures a Bridge
type Option func(*Bridge)

// WithLogger sets the logger
func WithLogger(l *slog.Logger) Option {
	return func(b *Bridge) {
		if l != nil {
			b.logger = l
		}
	}
}

// WithMetrics counts forwarded rows per sink
func WithMetrics(m *metric.Metrics) Option {
	return func(b *Bridge) { b.metrics = m }
}

// WithSnapshots stores the latest row of every key in s
func WithSnapshots(s SnapshotStore) Option {
	return func(b *Bridge) { b.snapshots = s }
}

// WithStreamCapture publishes events through JetStream instead of core NATS
// so the configured stream keeps them
func WithStreamCapture(p StreamPublisher) Option {
	return func(b *Bridge) { b.capture = p }
}

// WithSubscriberOptions adds options to every window subscriber
func WithSubscriberOptions(opts ...stream.SubscriberOption) Option {
	return func(b *Bridge) { b.subOpts = append(b.subOpts, opts...) }
}

// Bridge forwards window events to NATS and a snapshot store, and injects
// messages from NATS subjects into source windows
type Bridge struct {
	server    Server
	nats      NATSClient
	capture   StreamPublisher
	snapshots SnapshotStore
	cfg       config.BridgeConfig
	subOpts   []stream.SubscriberOption
	logger    *slog.Logger
	metrics   *metric.Metrics
	now       func() time.Time

	running      atomic.Bool
	started      atomic.Value // time.Time
	lastActivity atomic.Value // time.Time
	forwarded    atomic.Int64
	injected     atomic.Int64
	errCount     atomic.Int64
	lastErr      atomic.Value // string

	mu   sync.Mutex
	subs []*stream.Subscriber
	pubs []*stream.Publisher
}

// New creates a bridge. Nothing is opened until Run.
func New(server Server, nc NATSClient, cfg config.BridgeConfig, opts ...Option) (*Bridge, error) {
	if server == nil || nc == nil {
		return nil, errors.Invalidf(errors.ErrMissingConfig, "Bridge", "New", "server and NATS client are required")
	}
	if len(cfg.Windows) == 0 && len(cfg.Inbound) == 0 {
		return nil, errors.Invalidf(errors.ErrMissingConfig, "Bridge", "New", "no windows or inbound subjects configured")
	}
	for _, in := range cfg.Inbound {
		if in.Subject == "" || in.Window == "" {
			return nil, errors.Invalidf(errors.ErrInvalidConfig, "Bridge", "New",
				"inbound mapping needs subject and window: %+v", in)
		}
	}
	b := &Bridge{
		server: server,
		nats:   nc,
		cfg:    cfg,
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	b.logger = b.logger.With("component", "bridge")
	return b, nil
}

// Run subscribes to every configured window and inbound subject and blocks
// until ctx is cancelled or a subscription fails. Cancellation is a clean
// stop and returns nil.
func (b *Bridge) Run(ctx context.Context) error {
	if !b.running.CompareAndSwap(false, true) {
		return errors.Invalidf(errors.ErrInvalidValue, "Bridge", "Run", "bridge already running")
	}
	defer b.running.Store(false)
	b.started.Store(b.now())
	defer b.closeStreams()

	g, gctx := errgroup.WithContext(ctx)
	for _, in := range b.cfg.Inbound {
		if err := b.startInbound(gctx, in); err != nil {
			return err
		}
	}
	for _, window := range b.cfg.Windows {
		window := window
		sub, err := b.subscribe(gctx, window)
		if err != nil {
			return err
		}
		g.Go(func() error {
			select {
			case <-gctx.Done():
				return nil
			case <-sub.Done():
				if err := sub.Err(); err != nil {
					return errors.Wrap(err, "Bridge", "Run", "subscription to "+window)
				}
				if gctx.Err() != nil {
					return nil
				}
				return errors.WrapTransient(errors.ErrConnectionLost, "Bridge", "Run", "subscription to "+window)
			}
		})
	}
	b.logger.Info("Bridge running", "windows", b.cfg.Windows, "inbound", len(b.cfg.Inbound))

	g.Go(func() error {
		<-gctx.Done()
		b.closeStreams()
		return nil
	})

	err := g.Wait()
	if err != nil && ctx.Err() == nil {
		b.recordError(err)
		return err
	}
	b.logger.Info("Bridge stopped")
	return nil
}

func (b *Bridge) subscribe(ctx context.Context, window string) (*stream.Subscriber, error) {
	opts := append([]stream.SubscriberOption{
		stream.OnEvent(func(t *events.Table) {
			if err := b.Forward(ctx, t); err != nil {
				b.logger.Warn("Forward failed", "window", window, "error", err)
			}
		}),
		stream.OnError(func(err error) {
			b.recordError(err)
			b.logger.Error("Subscription error", "window", window, "error", err)
		}),
	}, b.subOpts...)

	sub, err := b.server.NewSubscriber(window, opts...)
	if err != nil {
		return nil, err
	}
	if err := sub.Start(ctx); err != nil {
		return nil, err
	}
	b.mu.Lock()
	b.subs = append(b.subs, sub)
	b.mu.Unlock()
	b.logger.Debug("Subscribed", "window", window, "subject", Subject(b.cfg.NATS.SubjectPrefix, window))
	return sub, nil
}

func (b *Bridge) startInbound(ctx context.Context, in config.InboundMap) error {
	var opts []stream.PublisherOption
	if in.Format != "" {
		opts = append(opts, stream.WithPublishFormat(in.Format))
	}
	pub, err := b.server.NewPublisher(in.Window, opts...)
	if err != nil {
		return err
	}
	if err := pub.Connect(ctx); err != nil {
		return err
	}
	b.mu.Lock()
	b.pubs = append(b.pubs, pub)
	b.mu.Unlock()

	return b.nats.Subscribe(ctx, in.Subject, func(msgCtx context.Context, data []byte) {
		err := pub.Send(msgCtx, data)
		b.metrics.Forwarded(SinkInbound, 1, err)
		if err != nil {
			b.recordError(err)
			b.logger.Warn("Inbound publish failed", "subject", in.Subject, "window", in.Window, "error", err)
			return
		}
		b.injected.Add(1)
		b.touch()
	})
}

// Forward publishes every row of t as an Event on the window's subject and
// applies it to the snapshot store. Rows are attempted even after an earlier
// row fails; the errors are joined.
func (b *Bridge) Forward(ctx context.Context, t *events.Table) error {
	if t.Len() == 0 {
		return nil
	}
	subject := Subject(b.cfg.NATS.SubjectPrefix, t.Window)
	sink := SinkNATS
	publish := b.nats.Publish
	if b.capture != nil {
		sink = SinkStream
		publish = b.capture.PublishToStream
	}

	var errs []error
	sent := 0
	for r, ev := range NewEvents(t, b.now()) {
		data, err := json.Marshal(ev)
		if err == nil {
			err = publish(ctx, subject, data)
		}
		if err != nil {
			errs = append(errs, errors.Wrap(err, "Bridge", "Forward", "publish to "+subject))
		} else {
			sent++
		}
		if b.snapshots != nil {
			if err := b.applySnapshot(ctx, t, r); err != nil {
				errs = append(errs, err)
			}
		}
	}
	b.metrics.Forwarded(sink, sent, nil)
	if failed := t.Len() - sent; failed > 0 {
		b.metrics.Forwarded(sink, failed, errs[0])
	}
	b.forwarded.Add(int64(sent))
	b.touch()

	err := stderrors.Join(errs...)
	if err != nil {
		b.recordError(err)
	}
	return err
}

func (b *Bridge) applySnapshot(ctx context.Context, t *events.Table, r int) error {
	key := SnapshotKey(b.cfg.Redis.KeyPrefix, t.Window, t.Key(r))
	var err error
	if t.Opcode(r) == OpcodeDelete {
		err = b.snapshots.DeleteRow(ctx, key)
	} else {
		err = b.snapshots.PutRow(ctx, key, rowFields(t, r), b.cfg.Redis.TTL)
	}
	b.metrics.Forwarded(SinkSnapshot, 1, err)
	if err != nil {
		return errors.Wrap(err, "Bridge", "Forward", "snapshot "+key)
	}
	return nil
}

func (b *Bridge) closeStreams() {
	b.mu.Lock()
	subs, pubs := b.subs, b.pubs
	b.subs, b.pubs = nil, nil
	b.mu.Unlock()

	for _, s := range subs {
		_ = s.Close()
	}
	for _, p := range pubs {
		_ = p.Close()
	}
}

// Close releases the snapshot store
func (b *Bridge) Close() error {
	b.closeStreams()
	if b.snapshots != nil {
		return b.snapshots.Close()
	}
	return nil
}

func (b *Bridge) touch() {
	b.lastActivity.Store(b.now())
}

func (b *Bridge) recordError(err error) {
	b.errCount.Add(1)
	b.lastErr.Store(err.Error())
}

// Stats returns rows forwarded to NATS and messages injected into windows
func (b *Bridge) Stats() (forwarded, injected int64) {
	return b.forwarded.Load(), b.injected.Load()
}

// Health reports the bridge's state
func (b *Bridge) Health() health.Status {
	r := health.Report{
		Healthy:    b.running.Load(),
		ErrorCount: int(b.errCount.Load()),
		Processed:  b.forwarded.Load() + b.injected.Load(),
	}
	r.Degraded = r.Healthy && r.ErrorCount > 0
	if v, ok := b.lastErr.Load().(string); ok {
		r.LastError = v
	}
	if v, ok := b.started.Load().(time.Time); ok {
		r.Started = v
	}
	if v, ok := b.lastActivity.Load().(time.Time); ok {
		r.LastActivity = v
	}
	return health.FromReport("bridge", r)
}
