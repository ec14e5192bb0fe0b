// Package share provides a collector that reads glucose from the Dexcom
// Share follower service, for sites whose CGM data does not reach
// Nightscout quickly.
package share

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"gitlab.com/tinyland/lab/loop-pulse/pkg/collectors/glucose"
)

// Default configuration values.
const (
	DefaultInterval = 5 * time.Minute
	lookbackMinutes = 180
	maxCount        = 36
)

// GlucoseClient abstracts the Share API for testability. *Client
// satisfies it.
type GlucoseClient interface {
	LatestGlucose(ctx context.Context, minutes, maxCount int) ([]GlucoseValue, error)
}

// Config holds the configuration for the Share collector.
type Config struct {
	Interval time.Duration
}

// Collector gathers readings from Dexcom Share.
type Collector struct {
	client   GlucoseClient
	interval time.Duration

	mu      sync.Mutex
	healthy bool
}

// New creates a Share collector.
func New(cfg Config, client GlucoseClient) *Collector {
	interval := cfg.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Collector{client: client, interval: interval, healthy: true}
}

// Name returns the collector identifier.
func (c *Collector) Name() string { return "share" }

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

// Collect returns a *glucose.Readings sourced from Dexcom.
func (c *Collector) Collect(ctx context.Context) (any, error) {
	vals, err := c.client.LatestGlucose(ctx, lookbackMinutes, maxCount)
	if err != nil {
		c.setHealthy(false)
		return nil, err
	}
	history := make([]glucose.Reading, 0, len(vals))
	for _, v := range vals {
		history = append(history, glucose.Reading{Time: v.Time, Mgdl: v.Value, Direction: v.Trend})
	}
	sort.Slice(history, func(i, j int) bool { return history[i].Time.Before(history[j].Time) })

	r, ok := glucose.FromReadings(glucose.SourceDexcom, history)
	if !ok {
		c.setHealthy(false)
		return nil, fmt.Errorf("share: no readings returned")
	}
	c.setHealthy(true)
	return &r, nil
}
