// Package collectors defines the interfaces, registry, and runner for the
// periodic loop-pulse data sources. Each collector (glucose, careportal,
// share) implements the Collector interface and is orchestrated by a Runner
// that fans results into a single updates channel consumed by the daemon.
//
// Device status is not a collector: its cadence depends on the data itself
// and is owned by pkg/poll.
package collectors

import (
	"context"
	"time"
)

// Collector is the interface all periodic data sources implement.
// Implementations live in sub-packages (e.g., pkg/collectors/glucose) and are
// registered with the Registry at startup.
type Collector interface {
	// Name returns a unique identifier for this collector (e.g., "glucose").
	Name() string

	// Collect performs one collection cycle and returns the data. The returned
	// value is opaque here; consumers type-switch on it.
	Collect(ctx context.Context) (any, error)

	// Interval returns how often this collector should run.
	Interval() time.Duration

	// Healthy returns whether the collector is functioning. A collector that
	// has never run or whose last run succeeded is considered healthy.
	Healthy() bool
}

// CollectorStatus tracks the runtime state of a single collector. The runner
// updates this after every collection cycle; the daemon writes it to the
// health file.
type CollectorStatus struct {
	Name        string        `json:"name"`
	Healthy     bool          `json:"healthy"`
	Interval    time.Duration `json:"interval"`
	LastRun     time.Time     `json:"last_run"`
	LastError   string        `json:"last_error,omitempty"`
	RunCount    int64         `json:"run_count"`
	ErrorCount  int64         `json:"error_count"`
	LastLatency time.Duration `json:"last_latency"`
	// ConsecutiveFailures resets on the next successful run.
	ConsecutiveFailures int `json:"consecutive_failures"`
}

// overdueFactor is how many intervals may pass without a run.
const overdueFactor = 3

// Overdue reports whether a collector that has run before has missed
// several of its intervals, which means its goroutine is stuck.
func (s CollectorStatus) Overdue(now time.Time) bool {
	if s.LastRun.IsZero() || s.Interval <= 0 {
		return false
	}
	return now.Sub(s.LastRun) > overdueFactor*s.Interval
}

// Update carries the result of a single collection cycle from a collector
// goroutine to the consumer.
type Update struct {
	Source    string
	Data      any
	Timestamp time.Time
	Error     error
}
