package testutil

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"
)

// MockPublisher is an in-memory stand-in for a JetStream stream and KV bucket.
// It satisfies the publish and snapshot interfaces of output/natssink.
// Thread-safe for concurrent use from multiple goroutines.
type MockPublisher struct {
	mu       sync.RWMutex
	messages map[string][][]byte
	subjects []string // publish order
	kv       map[string][]byte
	revision uint64
	failNext error
	closed   bool
}

// NewMockPublisher creates an empty publisher.
func NewMockPublisher() *MockPublisher {
	return &MockPublisher{
		messages: make(map[string][][]byte),
		kv:       make(map[string][]byte),
	}
}

// PublishToStream records data under subject.
func (p *MockPublisher) PublishToStream(ctx context.Context, subject string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return fmt.Errorf("publisher is closed")
	}
	if err := p.failNext; err != nil {
		p.failNext = nil
		return err
	}

	buf := make([]byte, len(data))
	copy(buf, data)
	p.messages[subject] = append(p.messages[subject], buf)
	p.subjects = append(p.subjects, subject)
	return nil
}

// Put stores value under key, last writer wins.
func (p *MockPublisher) Put(ctx context.Context, key string, value []byte) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return 0, fmt.Errorf("publisher is closed")
	}
	buf := make([]byte, len(value))
	copy(buf, value)
	p.kv[key] = buf
	p.revision++
	return p.revision, nil
}

// FailNext makes the next PublishToStream return err.
func (p *MockPublisher) FailNext(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failNext = err
}

// Messages returns a copy of everything published on subject.
func (p *MockPublisher) Messages(subject string) [][]byte {
	p.mu.RLock()
	defer p.mu.RUnlock()

	msgs := p.messages[subject]
	if msgs == nil {
		return nil
	}
	result := make([][]byte, len(msgs))
	copy(result, msgs)
	return result
}

// MessageCount returns the number of messages on subject.
func (p *MockPublisher) MessageCount(subject string) int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.messages[subject])
}

// Subjects returns every published subject in publish order.
func (p *MockPublisher) Subjects() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return append([]string(nil), p.subjects...)
}

// SubjectsWithPrefix returns the published subjects starting with prefix, in order.
func (p *MockPublisher) SubjectsWithPrefix(prefix string) []string {
	p.mu.RLock()
	defer p.mu.RUnlock()

	var out []string
	for _, s := range p.subjects {
		if strings.HasPrefix(s, prefix) {
			out = append(out, s)
		}
	}
	return out
}

// Get returns the stored value for key.
func (p *MockPublisher) Get(key string) ([]byte, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	val, ok := p.kv[key]
	if !ok {
		return nil, false
	}
	result := make([]byte, len(val))
	copy(result, val)
	return result, true
}

// Keys returns all KV keys, sorted.
func (p *MockPublisher) Keys() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()

	keys := make([]string, 0, len(p.kv))
	for k := range p.kv {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Close makes every later call fail.
func (p *MockPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

// WaitForMessageCount waits until subject holds at least count messages.
func WaitForMessageCount(t *testing.T, p *MockPublisher, subject string, count int, timeout time.Duration) {
	t.Helper()

	WaitFor(t, timeout, func() bool {
		return p.MessageCount(subject) >= count
	}, "timeout waiting for %d messages on subject %s", count, subject)
}

// WaitFor polls cond every 10ms until it holds or timeout passes.
func WaitFor(t *testing.T, timeout time.Duration, cond func() bool, format string, args ...any) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()

	for {
		if cond() {
			return
		}
		select {
		case <-ctx.Done():
			t.Fatalf(format, args...)
			return
		case <-ticker.C:
		}
	}
}
