// Package buffer provides a generic, thread-safe ring buffer that keeps the
// most recent items. Collecting subscribers use it to retain the last N event
// rows of a window.
//
// Statistics are always collected. Prometheus metrics are enabled with
// WithMetrics:
//
//	rows, err := buffer.NewCircularBuffer[Row](100,
//		buffer.WithMetrics[Row](registry, "collector_trades"))
package buffer

// Buffer is a bounded FIFO of T
type Buffer[T any] interface {
	// Write adds an item, applying the overflow policy when full
	Write(item T) error

	// Read removes and returns the oldest item
	Read() (T, bool)

	// ReadBatch removes and returns up to max of the oldest items
	ReadBatch(max int) []T

	// Snapshot returns the items oldest first without removing them
	Snapshot() []T

	Size() int
	Capacity() int
	Clear()
	Stats() *Statistics
	Close() error
}

// OverflowPolicy defines what Write does when the buffer is full
type OverflowPolicy int

const (
	// DropOldest evicts the oldest item to make room
	DropOldest OverflowPolicy = iota

	// DropNewest discards the item being written
	DropNewest
)

func (p OverflowPolicy) String() string {
	switch p {
	case DropOldest:
		return "DropOldest"
	case DropNewest:
		return "DropNewest"
	default:
		return "Unknown"
	}
}

// DropCallback receives items evicted by the overflow policy
type DropCallback[T any] func(item T)

// NewCircularBuffer creates a ring buffer. Capacities below one are raised
// to one. It fails only when metric registration fails.
func NewCircularBuffer[T any](capacity int, options ...Option[T]) (Buffer[T], error) {
	opts := applyOptions(options...)
	return newCircularBuffer(capacity, opts)
}
