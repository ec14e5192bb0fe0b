// Package state holds the latest view of the looping system: glucose, the
// parsed device status, careportal ages and the poll scheduler's status.
// One Store is created by the daemon (or the one-shot CLI) and passed to
// every component that reads or writes it.
package state

import (
	"sync"
	"time"

	"gitlab.com/tinyland/lab/loop-pulse/pkg/collectors/careportal"
	"gitlab.com/tinyland/lab/loop-pulse/pkg/collectors/glucose"
	"gitlab.com/tinyland/lab/loop-pulse/pkg/nightscout"
	"gitlab.com/tinyland/lab/loop-pulse/pkg/poll"
)

// Snapshot is a point-in-time copy of everything loop-pulse knows. Nested
// pointers are shared between copies, so writers replace them rather than
// mutating what they point to.
type Snapshot struct {
	Units      string                   `json:"units"`
	Glucose    *glucose.Readings        `json:"glucose,omitempty"`
	Loop       *nightscout.DeviceStatus `json:"loop,omitempty"`
	Careportal *careportal.Status       `json:"careportal,omitempty"`
	// Poll is filled in when the snapshot leaves the process (API, cache).
	Poll      *poll.Status `json:"poll,omitempty"`
	LastError string       `json:"last_error,omitempty"`
	Updated   time.Time    `json:"updated"`
	Version   uint64       `json:"version"`
}

// LastBGTime returns the time of the newest glucose reading, or zero.
func (s Snapshot) LastBGTime() time.Time {
	if s.Glucose == nil {
		return time.Time{}
	}
	return s.Glucose.Latest.Time
}

// LoopAge returns how long ago the loop last ran, and false when unknown.
func (s Snapshot) LoopAge(now time.Time) (time.Duration, bool) {
	if s.Loop == nil || s.Loop.LoopTime.IsZero() {
		return 0, false
	}
	return now.Sub(s.Loop.LoopTime), true
}

// Store owns the current Snapshot. It is safe for concurrent use.
type Store struct {
	mu     sync.RWMutex
	snap   Snapshot
	now    func() time.Time
	subs   map[int]chan Snapshot
	nextID int
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the clock used to stamp updates.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// NewStore creates a Store whose snapshots render in units.
func NewStore(units string, opts ...Option) *Store {
	s := &Store{
		snap: Snapshot{Units: units},
		now:  time.Now,
		subs: make(map[int]chan Snapshot),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Snapshot returns a copy of the current snapshot.
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snap
}

// Seed replaces the snapshot wholesale without notifying subscribers. It is
// used to warm a new Store from the disk cache.
func (s *Store) Seed(snap Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	units := s.snap.Units
	s.snap = snap
	if units != "" {
		s.snap.Units = units
	}
}

// Update applies fn to the snapshot under the write lock, stamps it, and
// hands the result to every subscriber.
func (s *Store) Update(fn func(*Snapshot)) Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	fn(&s.snap)
	s.snap.Updated = s.now()
	s.snap.Version++
	out := s.snap
	for _, ch := range s.subs {
		offer(ch, out)
	}
	return out
}

// Subscribe returns a channel that always holds the most recent snapshot
// not yet received, and a function that unsubscribes and closes it.
// Slow readers skip intermediate snapshots.
func (s *Store) Subscribe() (<-chan Snapshot, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.nextID
	s.nextID++
	ch := make(chan Snapshot, 1)
	s.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subs, id)
			s.mu.Unlock()
			close(ch)
		})
	}
}

// offer replaces any unread value in ch with snap. Only Update sends, under
// the store lock, so the second send cannot block.
func offer(ch chan Snapshot, snap Snapshot) {
	select {
	case ch <- snap:
		return
	default:
	}
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- snap:
	default:
	}
}
