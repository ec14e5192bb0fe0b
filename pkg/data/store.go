// Package data provides a Structure-of-Arrays time-series store for glucose,
// insulin-on-board, carbs-on-board and prediction curves. Each series keeps
// its timestamps and values in parallel slices on a sorted time axis, so the
// sparkline and the HTTP API can iterate a single metric cheaply.
package data

import (
	"sort"
	"sync"
	"time"
)

// Series names written by the loop monitor and glucose collectors.
const (
	SeriesBG       = "bg"
	SeriesIOB      = "iob"
	SeriesCOB      = "cob"
	SeriesPredLoop = "pred.loop"
	SeriesPredCOB  = "pred.cob"
	SeriesPredUAM  = "pred.uam"
	SeriesPredIOB  = "pred.iob"
	SeriesPredZT   = "pred.zt"
)

// KnownSeries lists every series name the daemon writes, in display order.
var KnownSeries = []string{
	SeriesBG, SeriesIOB, SeriesCOB,
	SeriesPredLoop, SeriesPredCOB, SeriesPredUAM, SeriesPredIOB, SeriesPredZT,
}

// StoreConfig controls the behavior of a Store instance.
type StoreConfig struct {
	// DefaultRetention is how long data points are kept before pruning.
	// Zero means 24 hours.
	DefaultRetention time.Duration

	// MaxPoints is the upper bound on points per series. Zero means 576
	// (two days of five-minute readings).
	MaxPoints int

	// Now overrides the clock used by Prune. Nil uses time.Now.
	Now func() time.Time
}

func (c StoreConfig) defaults() StoreConfig {
	if c.DefaultRetention <= 0 {
		c.DefaultRetention = 24 * time.Hour
	}
	if c.MaxPoints <= 0 {
		c.MaxPoints = 288 * 2
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	return c
}

// Series is a single named time-series with timestamps and corresponding
// values stored in parallel slices.
type Series struct {
	Name      string
	Times     []time.Time
	Values    []float64
	Retention time.Duration // per-series override; 0 = use store default
}

// Point is one sample, used by the JSON API.
type Point struct {
	Time  time.Time `json:"t"`
	Value float64   `json:"v"`
}

// SeriesSnapshot is an immutable copy of a series, safe for concurrent reads
// without holding a lock.
type SeriesSnapshot struct {
	Name   string
	Times  []time.Time
	Values []float64
}

// Len returns the number of data points.
func (s *SeriesSnapshot) Len() int {
	if s == nil {
		return 0
	}
	return len(s.Values)
}

// Min returns the minimum value. Returns 0 for empty snapshots.
func (s *SeriesSnapshot) Min() float64 {
	if s.Len() == 0 {
		return 0
	}
	m := s.Values[0]
	for _, v := range s.Values[1:] {
		m = min(m, v)
	}
	return m
}

// Max returns the maximum value. Returns 0 for empty snapshots.
func (s *SeriesSnapshot) Max() float64 {
	if s.Len() == 0 {
		return 0
	}
	m := s.Values[0]
	for _, v := range s.Values[1:] {
		m = max(m, v)
	}
	return m
}

// Last returns the most recent value. Returns 0 for empty snapshots.
func (s *SeriesSnapshot) Last() float64 {
	if s.Len() == 0 {
		return 0
	}
	return s.Values[len(s.Values)-1]
}

// Points converts the snapshot into a slice of Point.
func (s *SeriesSnapshot) Points() []Point {
	out := make([]Point, s.Len())
	for i := range out {
		out[i] = Point{Time: s.Times[i], Value: s.Values[i]}
	}
	return out
}

// Store is the main container for all time-series data. It is safe for
// concurrent use by multiple goroutines.
type Store struct {
	mu     sync.RWMutex
	cfg    StoreConfig
	series map[string]*Series

	lastPruneStats PruneStats
}

// NewStore creates a new time-series store with the given configuration.
func NewStore(cfg StoreConfig) *Store {
	return &Store{
		cfg:    cfg.defaults(),
		series: make(map[string]*Series),
	}
}

// AddPoint records a sample. Points at or before the newest timestamp
// replace the sample with the same time, or are inserted in order, so
// re-fetched readings never duplicate.
func (s *Store) AddPoint(name string, t time.Time, v float64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ser := s.getOrCreate(name)
	s.insert(ser, t, v)
	s.enforceMaxPoints(ser)
}

// AddPoints records many samples in one lock acquisition. Mismatched slice
// lengths are ignored.
func (s *Store) AddPoints(name string, times []time.Time, values []float64) {
	if len(times) != len(values) {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	ser := s.getOrCreate(name)
	for i := range times {
		s.insert(ser, times[i], values[i])
	}
	s.enforceMaxPoints(ser)
}

// ReplaceSeries swaps the whole contents of a series. Prediction curves are
// recomputed on every loop cycle, so they are replaced rather than merged.
// Points are sorted by time before storing.
func (s *Store) ReplaceSeries(name string, times []time.Time, values []float64) {
	if len(times) != len(values) {
		return
	}
	idx := make([]int, len(times))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool { return times[idx[a]].Before(times[idx[b]]) })

	ser := &Series{
		Name:   name,
		Times:  make([]time.Time, len(idx)),
		Values: make([]float64, len(idx)),
	}
	for i, j := range idx {
		ser.Times[i] = times[j]
		ser.Values[i] = values[j]
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if old, ok := s.series[name]; ok {
		ser.Retention = old.Retention
	}
	s.series[name] = ser
	s.enforceMaxPoints(ser)
}

// GetSeries returns a read-only snapshot of the named series.
func (s *Store) GetSeries(name string) (*SeriesSnapshot, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ser, ok := s.series[name]
	if !ok {
		return nil, false
	}
	return snapshotFrom(ser, 0, len(ser.Times)), true
}

// GetRange returns a snapshot containing only points within [start, end].
func (s *Store) GetRange(name string, start, end time.Time) (*SeriesSnapshot, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ser, ok := s.series[name]
	if !ok {
		return nil, false
	}
	lo := sort.Search(len(ser.Times), func(i int) bool {
		return !ser.Times[i].Before(start)
	})
	hi := sort.Search(len(ser.Times), func(i int) bool {
		return ser.Times[i].After(end)
	})
	if lo >= hi {
		return &SeriesSnapshot{Name: ser.Name}, true
	}
	return snapshotFrom(ser, lo, hi), true
}

// GetLatest returns the most recent time and value for the named series.
func (s *Store) GetLatest(name string) (time.Time, float64, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ser, ok := s.series[name]
	if !ok || len(ser.Values) == 0 {
		return time.Time{}, 0, false
	}
	n := len(ser.Values)
	return ser.Times[n-1], ser.Values[n-1], true
}

// GetLatestN returns a snapshot of the last n points for the named series.
func (s *Store) GetLatestN(name string, n int) (*SeriesSnapshot, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ser, ok := s.series[name]
	if !ok {
		return nil, false
	}
	n = max(0, min(n, len(ser.Values)))
	return snapshotFrom(ser, len(ser.Values)-n, len(ser.Values)), true
}

// ListSeries returns the names of all series in sorted order.
func (s *Store) ListSeries() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	names := make([]string, 0, len(s.series))
	for name := range s.series {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// DeleteSeries removes a series entirely.
func (s *Store) DeleteSeries(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.series, name)
}

// SetRetention overrides the retention duration for a specific series.
// A zero duration reverts to the store default.
func (s *Store) SetRetention(name string, d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.getOrCreate(name).Retention = d
}

func (s *Store) retentionFor(ser *Series) time.Duration {
	if ser.Retention > 0 {
		return ser.Retention
	}
	return s.cfg.DefaultRetention
}

// getOrCreate must be called with the write lock held.
func (s *Store) getOrCreate(name string) *Series {
	ser, ok := s.series[name]
	if !ok {
		ser = &Series{Name: name}
		s.series[name] = ser
	}
	return ser
}

// insert keeps Times sorted and unique. Must be called with the write lock
// held.
func (s *Store) insert(ser *Series, t time.Time, v float64) {
	n := len(ser.Times)
	if n == 0 || t.After(ser.Times[n-1]) {
		ser.Times = append(ser.Times, t)
		ser.Values = append(ser.Values, v)
		return
	}
	i := sort.Search(n, func(i int) bool { return !ser.Times[i].Before(t) })
	if i < n && ser.Times[i].Equal(t) {
		ser.Values[i] = v
		return
	}
	ser.Times = append(ser.Times, time.Time{})
	ser.Values = append(ser.Values, 0)
	copy(ser.Times[i+1:], ser.Times[i:])
	copy(ser.Values[i+1:], ser.Values[i:])
	ser.Times[i] = t
	ser.Values[i] = v
}

// enforceMaxPoints trims the oldest points if the series exceeds MaxPoints.
func (s *Store) enforceMaxPoints(ser *Series) {
	if len(ser.Values) > s.cfg.MaxPoints {
		excess := len(ser.Values) - s.cfg.MaxPoints
		ser.Times = ser.Times[excess:]
		ser.Values = ser.Values[excess:]
	}
}

func snapshotFrom(ser *Series, lo, hi int) *SeriesSnapshot {
	snap := &SeriesSnapshot{Name: ser.Name}
	if hi > lo {
		snap.Times = append([]time.Time(nil), ser.Times[lo:hi]...)
		snap.Values = append([]float64(nil), ser.Values[lo:hi]...)
	}
	return snap
}
