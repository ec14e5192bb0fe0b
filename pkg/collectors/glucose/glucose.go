// Package glucose provides a collector that reads recent sensor glucose
// values (SGV) from Nightscout and summarises them into the latest reading,
// its delta, and a short history for the sparkline.
package glucose

import (
	"context"
	"fmt"
	"sync"
	"time"

	"gitlab.com/tinyland/lab/loop-pulse/pkg/nightscout"
)

// Default configuration values.
const (
	DefaultInterval = 60 * time.Second
	DefaultCount    = 36 // three hours of five-minute readings
	// maxDeltaGap bounds how far apart two readings may be for a delta.
	maxDeltaGap = 15 * time.Minute
)

// Source names the origin of a Readings value.
const (
	SourceNightscout = "nightscout"
	SourceDexcom     = "dexcom"
)

// EntriesClient abstracts the Nightscout entries endpoint for testability.
// *nightscout.Client satisfies it.
type EntriesClient interface {
	Entries(ctx context.Context, count int) ([]nightscout.Entry, error)
}

// Config holds the configuration for the glucose collector.
type Config struct {
	// Interval is how often collection runs. Zero uses DefaultInterval.
	Interval time.Duration
	// Count is how many entries to request. Zero uses DefaultCount.
	Count int
}

// Reading is one glucose value in mg/dL.
type Reading struct {
	Time      time.Time `json:"time"`
	Mgdl      float64   `json:"mgdl"`
	Direction string    `json:"direction,omitempty"`
}

// Arrow returns the trend glyph for the reading's direction.
func (r Reading) Arrow() string { return nightscout.DirectionArrow(r.Direction) }

// Readings is the data returned by a single Collect call. History is oldest
// first and ends with Latest.
type Readings struct {
	Source   string    `json:"source"`
	Latest   Reading   `json:"latest"`
	Delta    float64   `json:"delta"`
	HasDelta bool      `json:"has_delta"`
	History  []Reading `json:"history"`
}

// FromReadings builds a Readings value from history sorted oldest first.
// An empty history yields ok == false.
func FromReadings(source string, history []Reading) (Readings, bool) {
	if len(history) == 0 {
		return Readings{}, false
	}
	out := Readings{
		Source:  source,
		Latest:  history[len(history)-1],
		History: history,
	}
	if n := len(history); n >= 2 {
		prev := history[n-2]
		if out.Latest.Time.Sub(prev.Time) <= maxDeltaGap {
			out.Delta = out.Latest.Mgdl - prev.Mgdl
			out.HasDelta = true
		}
	}
	return out, true
}

// Collector gathers SGV entries from Nightscout.
type Collector struct {
	client   EntriesClient
	interval time.Duration
	count    int

	mu      sync.Mutex
	healthy bool
}

// New creates a glucose collector.
func New(cfg Config, client EntriesClient) *Collector {
	interval := cfg.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}
	count := cfg.Count
	if count <= 0 {
		count = DefaultCount
	}
	return &Collector{
		client:   client,
		interval: interval,
		count:    count,
		healthy:  true,
	}
}

// Name returns the collector identifier.
func (c *Collector) Name() string { return "glucose" }

// Interval returns how often this collector should run.
func (c *Collector) Interval() time.Duration { return c.interval }

// Healthy returns whether the last collection succeeded.
func (c *Collector) Healthy() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.healthy
}

func (c *Collector) setHealthy(v bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.healthy = v
}

// Collect fetches recent entries and returns a *Readings.
func (c *Collector) Collect(ctx context.Context) (any, error) {
	entries, err := c.client.Entries(ctx, c.count)
	if err != nil {
		c.setHealthy(false)
		return nil, fmt.Errorf("glucose: %w", err)
	}

	history := make([]Reading, 0, len(entries))
	for _, e := range entries {
		if e.SGV <= 0 {
			continue
		}
		history = append(history, Reading{Time: e.Time(), Mgdl: e.SGV, Direction: e.Direction})
	}
	r, ok := FromReadings(SourceNightscout, history)
	if !ok {
		c.setHealthy(false)
		return nil, fmt.Errorf("glucose: no readings returned")
	}
	c.setHealthy(true)
	return &r, nil
}
