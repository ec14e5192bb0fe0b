package collectors

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// DefaultUpdateBufferSize is the recommended capacity of the updates channel.
const DefaultUpdateBufferSize = 64

// defaultInterval is used for collectors that report a non-positive interval.
const defaultInterval = time.Minute

// Runner drives every registered collector on its own ticker and fans the
// results into one channel.
type Runner struct {
	registry *Registry
	updates  chan<- Update
	log      *slog.Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	running bool
	wg      sync.WaitGroup
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithLogger sets the runner's logger.
func WithLogger(l *slog.Logger) RunnerOption {
	return func(r *Runner) { r.log = l }
}

// NewRunner returns a runner for the collectors in registry. Updates are
// delivered to updates; a full channel applies backpressure to that
// collector only.
func NewRunner(registry *Registry, updates chan<- Update, opts ...RunnerOption) *Runner {
	r := &Runner{
		registry: registry,
		updates:  updates,
		log:      slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.log = r.log.With("component", "collectors")
	return r
}

// Start launches one goroutine per registered collector. Each collector runs
// immediately and then every Interval until ctx is cancelled or Stop is
// called. Calling Start on a running runner is a no-op.
func (r *Runner) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.running {
		return nil
	}
	ctx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.running = true

	for _, c := range r.registry.snapshot() {
		r.wg.Add(1)
		go r.loop(ctx, c)
	}
	r.log.Info("collectors started", "count", r.registry.Len())
	return nil
}

// Stop cancels all collector goroutines and waits for them to exit. It is
// safe to call multiple times.
func (r *Runner) Stop() {
	r.mu.Lock()
	cancel := r.cancel
	r.cancel = nil
	r.running = false
	r.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	r.wg.Wait()
}

// RunOnce performs a single synchronous collection for the named collector,
// updating its status but not emitting an Update.
func (r *Runner) RunOnce(ctx context.Context, name string) (any, error) {
	c, ok := r.registry.Get(name)
	if !ok {
		return nil, fmt.Errorf("collectors: run once: %q not registered", name)
	}
	return r.collect(ctx, c)
}

// Health returns the healthy flag of every registered collector.
func (r *Runner) Health() map[string]bool {
	statuses := r.registry.AllStatus()
	out := make(map[string]bool, len(statuses))
	for _, s := range statuses {
		out[s.Name] = s.Healthy
	}
	return out
}

func (r *Runner) loop(ctx context.Context, c Collector) {
	defer r.wg.Done()

	interval := c.Interval()
	if interval <= 0 {
		interval = defaultInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		data, err := r.collect(ctx, c)
		if ctx.Err() != nil {
			return
		}
		u := Update{Source: c.Name(), Data: data, Timestamp: time.Now(), Error: err}
		select {
		case r.updates <- u:
		case <-ctx.Done():
			return
		}

		select {
		case <-ticker.C:
		case <-ctx.Done():
			return
		}
	}
}

func (r *Runner) collect(ctx context.Context, c Collector) (any, error) {
	start := time.Now()
	data, err := c.Collect(ctx)
	latency := time.Since(start)

	r.registry.updateStatus(c.Name(), func(s *CollectorStatus) {
		s.LastRun = start
		s.LastLatency = latency
		s.RunCount++
		s.Healthy = err == nil
		if err != nil {
			s.ErrorCount++
			s.ConsecutiveFailures++
			s.LastError = err.Error()
		} else {
			s.ConsecutiveFailures = 0
			s.LastError = ""
		}
	})
	if err != nil {
		r.log.Warn("collection failed", "collector", c.Name(), "error", err, "latency", latency)
	} else {
		r.log.Debug("collected", "collector", c.Name(), "latency", latency)
	}
	return data, err
}
