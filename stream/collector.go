package stream

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/c360/espclient/events"
	"github.com/c360/espclient/pkg/buffer"
	"github.com/c360/espclient/rest"
)

// Horizon stops a collector. A zero field is ignored.
type Horizon struct {
	Events   int       // stop once this many rows were collected
	Deadline time.Time // stop at the first event after this time
}

// After returns a horizon ending d from now
func After(d time.Duration) Horizon {
	return Horizon{Deadline: time.Now().Add(d)}
}

func (h Horizon) reached(total int, now time.Time) bool {
	if h.Events > 0 && total >= h.Events {
		return true
	}
	return !h.Deadline.IsZero() && h.Deadline.Before(now)
}

type collectedRow struct {
	opcode string
	values []any
}

// Collector subscribes to a window in XML format and keeps the most recent
// rows in memory until its horizon is reached or it is stopped.
type Collector struct {
	sub     *Subscriber
	horizon Horizon
	rows    buffer.Buffer[collectedRow]
	total   atomic.Int64

	mu    sync.Mutex
	shape *events.Table
}

// DefaultCollectorLimit is the number of rows kept when no limit is given
const DefaultCollectorLimit = 10000

// NewCollector creates a collector keeping at most limit rows. Subscriber
// options other than the format apply; the mode defaults to streaming.
func NewCollector(session *rest.Session, window string, limit int, horizon Horizon, opts ...SubscriberOption) (*Collector, error) {
	if limit <= 0 {
		limit = DefaultCollectorLimit
	}
	rows, err := buffer.NewCircularBuffer[collectedRow](limit)
	if err != nil {
		return nil, err
	}

	c := &Collector{horizon: horizon, rows: rows}
	all := append([]SubscriberOption{WithMode(ModeStreaming)}, opts...)
	all = append(all, WithFormat("xml"), OnEvent(c.collect))

	c.sub, err = NewSubscriber(session, window, all...)
	if err != nil {
		return nil, err
	}
	return c, nil
}

// Start opens the subscription
func (c *Collector) Start(ctx context.Context) error {
	return c.sub.Start(ctx)
}

func (c *Collector) collect(t *events.Table) {
	if c.horizon.reached(int(c.total.Load()), time.Now()) {
		_ = c.sub.Stop()
		return
	}

	c.mu.Lock()
	if c.shape == nil {
		c.shape = &events.Table{Window: t.Window, Columns: t.Columns, Types: t.Types, Index: t.Index}
	}
	c.mu.Unlock()

	for i, row := range t.Rows {
		_ = c.rows.Write(collectedRow{opcode: t.Opcode(i), values: row})
	}
	c.total.Add(int64(t.Len()))
}

// Total returns the number of rows received, including evicted ones
func (c *Collector) Total() int {
	return int(c.total.Load())
}

// Dropped returns the number of rows evicted to stay within the limit
func (c *Collector) Dropped() int {
	return int(c.rows.Stats().Drops())
}

// Table returns the retained rows, oldest first
func (c *Collector) Table() *events.Table {
	c.mu.Lock()
	shape := c.shape
	c.mu.Unlock()

	var out *events.Table
	switch {
	case shape != nil:
		out = &events.Table{Window: shape.Window, Columns: shape.Columns, Types: shape.Types, Index: shape.Index}
	case c.sub.Schema() != nil:
		out = events.NewTable(c.sub.window, c.sub.Schema())
	default:
		out = &events.Table{Window: c.sub.window}
	}
	for _, r := range c.rows.Snapshot() {
		out.AppendRow(r.opcode, r.values)
	}
	return out
}

// Stop closes the subscription
func (c *Collector) Stop() error {
	return c.sub.Stop()
}

// Wait blocks until the subscription ends or ctx is done
func (c *Collector) Wait(ctx context.Context) error {
	done := c.sub.Done()
	if done == nil {
		return nil
	}
	select {
	case <-done:
		return c.sub.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Subscriber returns the underlying subscriber
func (c *Collector) Subscriber() *Subscriber {
	return c.sub
}
