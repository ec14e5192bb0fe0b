// Package monitor binds the data sources to the shared state. Monitor is the
// poll.Fetcher the scheduler drives: each fetch reads the newest device
// status from Nightscout, folds it into the state and time-series store,
// notifies listeners, and reports the loop event back to the scheduler.
// It also applies the periodic collector updates (glucose, careportal).
package monitor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"gitlab.com/tinyland/lab/loop-pulse/pkg/collectors"
	"gitlab.com/tinyland/lab/loop-pulse/pkg/collectors/careportal"
	"gitlab.com/tinyland/lab/loop-pulse/pkg/collectors/glucose"
	"gitlab.com/tinyland/lab/loop-pulse/pkg/data"
	"gitlab.com/tinyland/lab/loop-pulse/pkg/nightscout"
	"gitlab.com/tinyland/lab/loop-pulse/pkg/poll"
	"gitlab.com/tinyland/lab/loop-pulse/pkg/state"
)

// DeviceStatusClient abstracts the Nightscout device status endpoint.
// *nightscout.Client satisfies it.
type DeviceStatusClient interface {
	DeviceStatus(ctx context.Context, count int) ([]nightscout.RawDeviceStatus, error)
}

// Listener is told about every snapshot produced by a fetch.
type Listener func(state.Snapshot)

// Config wires a Monitor.
type Config struct {
	Client DeviceStatusClient
	State  *state.Store
	// Series may be nil when no history is kept.
	Series *data.Store
	// StatusCount is how many records to request; the newest one with a
	// loop section wins. Zero means 1.
	StatusCount     int
	NotLoopingAfter time.Duration
	Now             func() time.Time
	Logger          *slog.Logger
	Listeners       []Listener
}

// Monitor implements poll.Fetcher.
type Monitor struct {
	client    DeviceStatusClient
	state     *state.Store
	series    *data.Store
	count     int
	notLoop   time.Duration
	now       func() time.Time
	log       *slog.Logger
	listeners []Listener
}

var _ poll.Fetcher = (*Monitor)(nil)

// New validates cfg and returns a Monitor.
func New(cfg Config) (*Monitor, error) {
	if cfg.Client == nil {
		return nil, errors.New("monitor: client is required")
	}
	if cfg.State == nil {
		return nil, errors.New("monitor: state store is required")
	}
	m := &Monitor{
		client:    cfg.Client,
		state:     cfg.State,
		series:    cfg.Series,
		count:     max(cfg.StatusCount, 1),
		notLoop:   cfg.NotLoopingAfter,
		now:       cfg.Now,
		log:       cfg.Logger,
		listeners: cfg.Listeners,
	}
	if m.now == nil {
		m.now = time.Now
	}
	if m.log == nil {
		m.log = slog.Default()
	}
	m.log = m.log.With("component", "monitor")
	return m, nil
}

// FetchLatestLoopEvent runs Fetch on its own goroutine.
func (m *Monitor) FetchLatestLoopEvent(ctx context.Context, complete func(poll.LoopEvent, error)) {
	poll.FetchFunc(m.Fetch).FetchLatestLoopEvent(ctx, complete)
}

// Fetch reads and applies the newest device status. A failed loop run is a
// successful fetch whose event has Succeeded == false.
func (m *Monitor) Fetch(ctx context.Context) (poll.LoopEvent, error) {
	ds, err := m.latest(ctx)
	if err != nil {
		if ctx.Err() == nil {
			m.state.Update(func(sn *state.Snapshot) { sn.LastError = err.Error() })
		}
		return poll.LoopEvent{}, err
	}

	m.recordLoop(ds)
	snap := m.state.Update(func(sn *state.Snapshot) {
		sn.Loop = ds
		sn.LastError = ""
	})
	for _, l := range m.listeners {
		l(snap)
	}

	m.log.Debug("device status applied",
		"system", ds.System,
		"state", ds.State,
		"loop_time", ds.LoopTime,
	)
	return poll.LoopEvent{Timestamp: ds.LoopTime, Succeeded: !ds.Failed}, nil
}

func (m *Monitor) latest(ctx context.Context) (*nightscout.DeviceStatus, error) {
	raws, err := m.client.DeviceStatus(ctx, m.count)
	if err != nil {
		return nil, err
	}
	opts := nightscout.ParseOptions{
		LastBGTime:      m.state.Snapshot().LastBGTime(),
		Now:             m.now(),
		NotLoopingAfter: m.notLoop,
	}
	for _, raw := range raws {
		ds, err := nightscout.ParseDeviceStatus(raw, opts)
		if errors.Is(err, nightscout.ErrNoDeviceStatus) {
			continue
		}
		if err != nil {
			return nil, err
		}
		return ds, nil
	}
	return nil, nightscout.ErrNoDeviceStatus
}

// PredictionRetention is how long a predicted point is kept after its time.
// A stopped loop leaves its last curve behind for no longer than this.
const PredictionRetention = time.Hour

// predictionSeries maps prediction curve names to series names.
var predictionSeries = map[string]string{
	nightscout.PredLoop: data.SeriesPredLoop,
	nightscout.PredCOB:  data.SeriesPredCOB,
	nightscout.PredUAM:  data.SeriesPredUAM,
	nightscout.PredIOB:  data.SeriesPredIOB,
	nightscout.PredZT:   data.SeriesPredZT,
}

func (m *Monitor) recordLoop(ds *nightscout.DeviceStatus) {
	if m.series == nil || ds.LoopTime.IsZero() {
		return
	}
	if ds.IOB != nil {
		m.series.AddPoint(data.SeriesIOB, ds.LoopTime, *ds.IOB)
	}
	if ds.COB != nil {
		m.series.AddPoint(data.SeriesCOB, ds.LoopTime, *ds.COB)
	}
	// Curves absent from this record are removed so stale predictions do
	// not linger on the chart.
	for curve, name := range predictionSeries {
		pts := ds.Predictions[curve]
		if len(pts) == 0 {
			m.series.DeleteSeries(name)
			continue
		}
		times := make([]time.Time, len(pts))
		values := make([]float64, len(pts))
		for i, p := range pts {
			times[i], values[i] = p.Time, p.Value
		}
		m.series.ReplaceSeries(name, times, values)
		m.series.SetRetention(name, PredictionRetention)
	}
}

// Apply folds a collector update into the state. Failed updates only record
// the error.
func (m *Monitor) Apply(u collectors.Update) {
	if u.Error != nil {
		m.log.Warn("collector update failed", "source", u.Source, "error", u.Error)
		if u.Data == nil {
			return
		}
	}
	switch v := u.Data.(type) {
	case *glucose.Readings:
		m.applyGlucose(v)
	case *careportal.Status:
		m.state.Update(func(sn *state.Snapshot) { sn.Careportal = v })
	case nil:
	default:
		m.log.Debug("ignoring update", "source", u.Source, "type", fmt.Sprintf("%T", v))
	}
}

// applyGlucose keeps whichever source has the newer reading, so Nightscout
// and Dexcom Share can both run.
func (m *Monitor) applyGlucose(r *glucose.Readings) {
	if m.series != nil && len(r.History) > 0 {
		times := make([]time.Time, len(r.History))
		values := make([]float64, len(r.History))
		for i, h := range r.History {
			times[i], values[i] = h.Time, h.Mgdl
		}
		m.series.AddPoints(data.SeriesBG, times, values)
	}
	m.state.Update(func(sn *state.Snapshot) {
		if sn.Glucose != nil && sn.Glucose.Latest.Time.After(r.Latest.Time) {
			return
		}
		sn.Glucose = r
	})
}

// Consume applies updates until the channel closes or ctx is done.
func (m *Monitor) Consume(ctx context.Context, updates <-chan collectors.Update) {
	for {
		select {
		case <-ctx.Done():
			return
		case u, ok := <-updates:
			if !ok {
				return
			}
			m.Apply(u)
		}
	}
}
