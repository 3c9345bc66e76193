package buffer

import (
	"sync"
	"sync/atomic"
	"time"
)

// Statistics tracks queue activity. Counters are updated atomically and are safe
// to read from any goroutine.
type Statistics struct {
	writes    atomic.Int64
	reads     atomic.Int64
	overflows atomic.Int64
	blockedNs atomic.Int64

	mu          sync.RWMutex
	startTime   time.Time
	currentSize int64
	maxSize     int64
}

// NewStatistics creates a new statistics tracker.
func NewStatistics() *Statistics {
	return &Statistics{
		startTime: time.Now(),
	}
}

// Write records a queue write.
func (s *Statistics) Write() { s.writes.Add(1) }

// Read records a queue read.
func (s *Statistics) Read() { s.reads.Add(1) }

// Overflow records a write that found the queue full.
func (s *Statistics) Overflow() { s.overflows.Add(1) }

// Blocked records time a writer spent waiting for space.
func (s *Statistics) Blocked(d time.Duration) { s.blockedNs.Add(int64(d)) }

// UpdateSize updates the current queue size and the high-water mark.
func (s *Statistics) UpdateSize(size int64) {
	s.mu.Lock()
	s.currentSize = size
	if size > s.maxSize {
		s.maxSize = size
	}
	s.mu.Unlock()
}

// Writes returns the total number of writes.
func (s *Statistics) Writes() int64 { return s.writes.Load() }

// Reads returns the total number of reads.
func (s *Statistics) Reads() int64 { return s.reads.Load() }

// Overflows returns the number of writes that found the queue full.
func (s *Statistics) Overflows() int64 { return s.overflows.Load() }

// BlockedTime returns the cumulative time writers spent waiting for space.
func (s *Statistics) BlockedTime() time.Duration { return time.Duration(s.blockedNs.Load()) }

// CurrentSize returns the most recently observed queue size.
func (s *Statistics) CurrentSize() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.currentSize
}

// MaxSize returns the largest queue size observed.
func (s *Statistics) MaxSize() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.maxSize
}

// Uptime returns how long the statistics have been collected.
func (s *Statistics) Uptime() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return time.Since(s.startTime)
}
