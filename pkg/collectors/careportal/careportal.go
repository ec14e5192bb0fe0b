// Package careportal provides a collector for Nightscout careportal events:
// sensor and site (cannula or pod) changes, and the active override and
// temporary target.
package careportal

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"gitlab.com/tinyland/lab/loop-pulse/pkg/nightscout"
)

// Default configuration values.
const (
	DefaultInterval = 10 * time.Minute

	// SensorLifetime is how long a CGM sensor is worn.
	SensorLifetime = 10 * 24 * time.Hour
	// SiteLifetime is how long a cannula or pod is worn.
	SiteLifetime = 3 * 24 * time.Hour

	changeLookback   = 60 * 24 * time.Hour
	overrideLookback = 24 * time.Hour
	maxConcurrent    = 3
)

// TreatmentsClient abstracts the Nightscout treatments endpoint.
// *nightscout.Client satisfies it.
type TreatmentsClient interface {
	Treatments(ctx context.Context, q nightscout.TreatmentQuery) ([]nightscout.Treatment, error)
}

// Config holds the configuration for the careportal collector.
type Config struct {
	Interval time.Duration
	// Now overrides the clock in tests.
	Now func() time.Time
}

// Change is the most recent sensor or site change.
type Change struct {
	At        time.Time     `json:"at"`
	Age       time.Duration `json:"age"`
	Remaining string        `json:"remaining"`
}

// Active is an override or temporary target in effect.
type Active struct {
	Name         string    `json:"name"`
	Started      time.Time `json:"started"`
	Ends         time.Time `json:"ends,omitzero"`
	TargetBottom *float64  `json:"target_bottom,omitempty"`
	TargetTop    *float64  `json:"target_top,omitempty"`
}

// Status is the data returned by a single Collect call.
type Status struct {
	Sensor     *Change   `json:"sensor,omitempty"`
	Site       *Change   `json:"site,omitempty"`
	Override   *Active   `json:"override,omitempty"`
	TempTarget *Active   `json:"temp_target,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// Collector gathers careportal events from Nightscout.
type Collector struct {
	client   TreatmentsClient
	interval time.Duration
	now      func() time.Time

	mu      sync.Mutex
	healthy bool
}

// New creates a careportal collector.
func New(cfg Config, client TreatmentsClient) *Collector {
	interval := cfg.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Collector{client: client, interval: interval, now: now, healthy: true}
}

// Name returns the collector identifier.
func (c *Collector) Name() string { return "careportal" }

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

type query struct {
	eventType string
	since     time.Duration
	count     int
}

var queries = []query{
	{nightscout.EventSensorStart, changeLookback, 1},
	{nightscout.EventSensorChange, changeLookback, 1},
	{nightscout.EventSiteChange, changeLookback, 1},
	{nightscout.EventPodChange, changeLookback, 1},
	{nightscout.EventTemporaryOverride, overrideLookback, 10},
	{nightscout.EventTemporaryTarget, overrideLookback, 10},
}

// Collect queries every careportal event type concurrently. When some
// queries fail the returned *Status holds whatever succeeded, alongside the
// first error.
func (c *Collector) Collect(ctx context.Context) (any, error) {
	now := c.now()
	results := make([][]nightscout.Treatment, len(queries))

	var g errgroup.Group
	g.SetLimit(maxConcurrent)
	for i, q := range queries {
		i, q := i, q
		g.Go(func() error {
			ts, err := c.client.Treatments(ctx, nightscout.TreatmentQuery{
				EventType: q.eventType,
				Since:     now.Add(-q.since),
				Count:     q.count,
			})
			if err != nil {
				return err
			}
			results[i] = ts
			return nil
		})
	}
	err := g.Wait()

	st := &Status{Timestamp: now}
	st.Sensor = latestChange(now, SensorLifetime, results[0], results[1])
	st.Site = latestChange(now, SiteLifetime, results[2], results[3])
	st.Override = activeAt(now, results[4])
	st.TempTarget = activeAt(now, results[5])

	c.setHealthy(err == nil)
	if err != nil {
		return st, fmt.Errorf("careportal: %w", err)
	}
	return st, nil
}

func latestChange(now time.Time, lifetime time.Duration, lists ...[]nightscout.Treatment) *Change {
	var newest time.Time
	for _, l := range lists {
		for _, t := range l {
			if at := t.Time(); at.After(newest) {
				newest = at
			}
		}
	}
	if newest.IsZero() {
		return nil
	}
	return &Change{
		At:        newest,
		Age:       now.Sub(newest),
		Remaining: FormatRemaining(newest.Add(lifetime).Sub(now)),
	}
}

// activeAt returns the newest treatment still running at now. A zero
// duration means indefinite.
func activeAt(now time.Time, ts []nightscout.Treatment) *Active {
	var best *nightscout.Treatment
	for i := range ts {
		t := &ts[i]
		start := t.Time()
		if start.IsZero() || start.After(now) {
			continue
		}
		if t.Duration > 0 && !t.End().After(now) {
			continue
		}
		if best == nil || start.After(best.Time()) {
			best = t
		}
	}
	if best == nil {
		return nil
	}
	a := &Active{
		Name:         best.Label(),
		Started:      best.Time(),
		TargetBottom: best.TargetBottom,
		TargetTop:    best.TargetTop,
	}
	if best.Duration > 0 {
		a.Ends = best.End()
	}
	if a.Name == "" {
		a.Name = best.EventType
	}
	return a
}

// FormatRemaining renders time left as "2d 5h", "5h 12m" or "40m". Expired
// durations render as "0m".
func FormatRemaining(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	days := int(d / (24 * time.Hour))
	hours := int(d % (24 * time.Hour) / time.Hour)
	minutes := int(d % time.Hour / time.Minute)

	var parts []string
	if days > 0 {
		parts = append(parts, strconv.Itoa(days)+"d")
	}
	if hours > 0 || days > 0 {
		parts = append(parts, strconv.Itoa(hours)+"h")
	}
	if days == 0 {
		parts = append(parts, strconv.Itoa(minutes)+"m")
	}
	return strings.Join(parts, " ")
}
