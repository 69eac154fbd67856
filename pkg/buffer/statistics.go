package buffer

import (
	"sync/atomic"
	"time"
)

// Statistics counts buffer operations. It is safe for concurrent use.
type Statistics struct {
	writes  atomic.Int64
	reads   atomic.Int64
	drops   atomic.Int64
	size    atomic.Int64
	maxSize atomic.Int64
	started time.Time
}

// NewStatistics creates zeroed statistics
func NewStatistics() *Statistics {
	return &Statistics{started: time.Now()}
}

func (s *Statistics) write() { s.writes.Add(1) }
func (s *Statistics) read(n int) { s.reads.Add(int64(n)) }
func (s *Statistics) drop() { s.drops.Add(1) }

func (s *Statistics) setSize(n int) {
	s.size.Store(int64(n))
	for {
		cur := s.maxSize.Load()
		if int64(n) <= cur || s.maxSize.CompareAndSwap(cur, int64(n)) {
			return
		}
	}
}

// Writes returns the number of accepted writes
func (s *Statistics) Writes() int64 { return s.writes.Load() }

// Reads returns the number of items removed by reads
func (s *Statistics) Reads() int64 { return s.reads.Load() }

// Drops returns the number of items evicted or rejected
func (s *Statistics) Drops() int64 { return s.drops.Load() }

// CurrentSize returns the current item count
func (s *Statistics) CurrentSize() int64 { return s.size.Load() }

// MaxSize returns the largest item count seen
func (s *Statistics) MaxSize() int64 { return s.maxSize.Load() }

// Uptime returns the time since the statistics were created
func (s *Statistics) Uptime() time.Duration {
	return time.Since(s.started)
}
