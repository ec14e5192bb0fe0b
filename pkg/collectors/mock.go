package collectors

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// MockCollector is a Collector backed by a function. The daemon uses it to
// simulate Dexcom Share under -use-mocks; tests use it to script a source.
//
// Health follows the last Collect result unless it was pinned with
// WithHealthy or SetHealthy.
type MockCollector struct {
	name     string
	interval time.Duration

	mu      sync.Mutex
	collect func(ctx context.Context) (any, error)
	pinned  bool

	healthy atomic.Bool
	calls   atomic.Int64
}

// MockCollectorOption configures a MockCollector.
type MockCollectorOption func(*MockCollector)

// WithData makes Collect return v and no error.
func WithData(v any) MockCollectorOption {
	return func(m *MockCollector) { m.collect = fixed(v, nil) }
}

// WithError makes Collect fail with err.
func WithError(err error) MockCollectorOption {
	return func(m *MockCollector) { m.collect = fixed(nil, err) }
}

// WithHealthy pins Healthy to h.
func WithHealthy(h bool) MockCollectorOption {
	return func(m *MockCollector) {
		m.pinned = true
		m.healthy.Store(h)
	}
}

// WithCollectFunc makes Collect call fn.
func WithCollectFunc(fn func(ctx context.Context) (any, error)) MockCollectorOption {
	return func(m *MockCollector) { m.collect = fn }
}

func fixed(v any, err error) func(context.Context) (any, error) {
	return func(context.Context) (any, error) { return v, err }
}

// NewMockCollector returns a healthy collector that yields nothing until an
// option or Set says otherwise.
func NewMockCollector(name string, interval time.Duration, opts ...MockCollectorOption) *MockCollector {
	m := &MockCollector{name: name, interval: interval, collect: fixed(nil, nil)}
	m.healthy.Store(true)
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *MockCollector) Name() string            { return m.name }
func (m *MockCollector) Interval() time.Duration { return m.interval }
func (m *MockCollector) Healthy() bool           { return m.healthy.Load() }

// SetHealthy pins Healthy to h.
func (m *MockCollector) SetHealthy(h bool) {
	m.mu.Lock()
	m.pinned = true
	m.mu.Unlock()
	m.healthy.Store(h)
}

// Set replaces the result of later Collect calls.
func (m *MockCollector) Set(v any, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.collect = fixed(v, err)
}

// Collect runs the configured function.
func (m *MockCollector) Collect(ctx context.Context) (any, error) {
	m.calls.Add(1)
	m.mu.Lock()
	fn, pinned := m.collect, m.pinned
	m.mu.Unlock()

	v, err := fn(ctx)
	if !pinned {
		m.healthy.Store(err == nil)
	}
	return v, err
}

// Calls returns how many times Collect has run.
func (m *MockCollector) Calls() int64 { return m.calls.Load() }
