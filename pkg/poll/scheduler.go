package poll

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// State is the scheduler's lifecycle state.
type State int

const (
	// Idle means no timer is armed and no fetch is running.
	Idle State = iota
	// Armed means exactly one timer is pending.
	Armed
	// Fetching means a fetch is in flight and no timer is pending.
	Fetching
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Armed:
		return "armed"
	case Fetching:
		return "fetching"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// MarshalText renders the state name in JSON and TOML output.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText parses a name written by MarshalText.
func (s *State) UnmarshalText(b []byte) error {
	switch string(b) {
	case "idle":
		*s = Idle
	case "armed":
		*s = Armed
	case "fetching":
		*s = Fetching
	default:
		return fmt.Errorf("poll: unknown state %q", b)
	}
	return nil
}

const (
	// DefaultInitialDelay is the delay armed by Start and ManualRefresh.
	DefaultInitialDelay = 2 * time.Second
	// DefaultRetryDelay is the delay armed after a failed fetch.
	DefaultRetryDelay = 10 * time.Second
)

// Config holds the scheduler's collaborators. Only Fetcher is required.
type Config struct {
	Fetcher  Fetcher
	Timer    Timer
	Clock    Clock
	Executor Executor
	Logger   *slog.Logger

	InitialDelay time.Duration
	RetryDelay   time.Duration
}

// Status is a point-in-time view of the scheduler for health and API
// consumers.
type Status struct {
	State               State         `json:"state"`
	LastLoop            time.Time     `json:"last_loop"`
	LastSuccess         bool          `json:"last_success"`
	NextFetch           time.Time     `json:"next_fetch"`
	LastDelay           time.Duration `json:"last_delay"`
	ConsecutiveFailures int           `json:"consecutive_failures"`
	Fetches             int64         `json:"fetches"`
	LastError           string        `json:"last_error,omitempty"`
	RefreshPending      bool          `json:"refresh_pending"`
}

// Scheduler re-fetches loop status on a staleness-adaptive cadence.
//
// All state changes run on the configured Executor. The mutex exists so the
// read methods can be called from any goroutine.
type Scheduler struct {
	cfg Config
	log *slog.Logger

	mu sync.Mutex

	state State
	// generation advances on Start from Idle and on Stop. Callbacks carry the
	// generation they were created under and are ignored once it moves on.
	generation uint64
	// armSeq identifies the currently armed timer so a fire that raced a
	// Cancel is ignored.
	armSeq uint64
	handle Handle

	cancelFetch context.CancelFunc
	pending     bool

	lastLoop    time.Time
	lastSuccess bool
	nextFetch   time.Time
	lastDelay   time.Duration
	failures    int
	fetches     int64
	lastErr     error
}

// NewScheduler returns an idle scheduler.
func NewScheduler(cfg Config) (*Scheduler, error) {
	if cfg.Fetcher == nil {
		return nil, fmt.Errorf("poll: new scheduler: fetcher is required")
	}
	if cfg.Timer == nil {
		cfg.Timer = NewRealTimer()
	}
	if cfg.Clock == nil {
		cfg.Clock = SystemClock{}
	}
	if cfg.Executor == nil {
		cfg.Executor = Inline
	}
	if cfg.InitialDelay < 0 {
		cfg.InitialDelay = 0
	}
	if cfg.InitialDelay == 0 {
		cfg.InitialDelay = DefaultInitialDelay
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = DefaultRetryDelay
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Scheduler{cfg: cfg, log: log.With("component", "poll")}, nil
}

// Start arms the initial delay. While a fetch is running it only records a
// pending refresh, which the fetch completion honours.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.kickLocked("start")
}

// ManualRefresh behaves like Start: the current timer is replaced by one for
// the initial delay, or a refresh is queued behind the running fetch.
func (s *Scheduler) ManualRefresh() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.kickLocked("manual refresh")
}

func (s *Scheduler) kickLocked(reason string) {
	switch s.state {
	case Fetching:
		s.pending = true
		s.log.Debug("refresh queued behind running fetch", "reason", reason)
		return
	case Idle:
		s.generation++
	}
	s.log.Debug("scheduling device status fetch", "reason", reason, "next_delay", s.cfg.InitialDelay)
	s.armLocked(s.cfg.InitialDelay)
}

// Stop cancels the pending timer and abandons any running fetch. Its result,
// if it ever arrives, is discarded. Stop is safe to call in any state and
// more than once.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == Idle && s.handle == 0 {
		return
	}
	s.generation++
	s.cancelTimerLocked()
	if s.cancelFetch != nil {
		s.cancelFetch()
		s.cancelFetch = nil
	}
	s.pending = false
	s.nextFetch = time.Time{}
	s.state = Idle
	s.log.Debug("scheduler stopped")
}

// LastLoopTimestamp returns the timestamp of the last successfully fetched
// loop event, or the zero time before the first success.
func (s *Scheduler) LastLoopTimestamp() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastLoop
}

// State returns the current lifecycle state.
func (s *Scheduler) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Status returns a snapshot of the scheduler's bookkeeping.
func (s *Scheduler) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := Status{
		State:               s.state,
		LastLoop:            s.lastLoop,
		LastSuccess:         s.lastSuccess,
		NextFetch:           s.nextFetch,
		LastDelay:           s.lastDelay,
		ConsecutiveFailures: s.failures,
		Fetches:             s.fetches,
		RefreshPending:      s.pending,
	}
	if s.lastErr != nil {
		st.LastError = s.lastErr.Error()
	}
	return st
}

// armLocked replaces any pending timer with one for d.
func (s *Scheduler) armLocked(d time.Duration) {
	s.cancelTimerLocked()

	s.armSeq++
	gen, seq := s.generation, s.armSeq
	s.handle = s.cfg.Timer.Schedule(d, func() {
		s.cfg.Executor.Submit(func() { s.fire(gen, seq) })
	})
	s.state = Armed
	s.lastDelay = d
	s.nextFetch = s.cfg.Clock.Now().Add(d)
}

func (s *Scheduler) cancelTimerLocked() {
	if s.handle != 0 {
		s.cfg.Timer.Cancel(s.handle)
		s.handle = 0
	}
}

func (s *Scheduler) fire(gen, seq uint64) {
	s.mu.Lock()
	if gen != s.generation || seq != s.armSeq || s.state != Armed {
		s.mu.Unlock()
		return
	}
	s.handle = 0
	s.state = Fetching
	s.nextFetch = time.Time{}
	s.fetches++
	ctx, cancel := context.WithCancel(context.Background())
	s.cancelFetch = cancel
	s.mu.Unlock()

	s.log.Debug("fetching device status", "generation", gen)
	s.cfg.Fetcher.FetchLatestLoopEvent(ctx, once(func(ev LoopEvent, err error) {
		s.cfg.Executor.Submit(func() { s.complete(gen, ev, err) })
	}))
}

func (s *Scheduler) complete(gen uint64, ev LoopEvent, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if gen != s.generation || s.state != Fetching {
		s.log.Debug("discarding stale fetch result", "generation", gen, "current", s.generation)
		return
	}
	if s.cancelFetch != nil {
		s.cancelFetch()
		s.cancelFetch = nil
	}

	var delay time.Duration
	if err != nil {
		s.failures++
		s.lastErr = err
		delay = s.cfg.RetryDelay
		s.log.Warn("device status fetch failed", "error", err,
			"consecutive_failures", s.failures, "next_delay", delay)
	} else {
		s.failures = 0
		s.lastErr = nil
		s.lastLoop = ev.Timestamp
		s.lastSuccess = ev.Succeeded
		elapsed := s.cfg.Clock.Now().Sub(ev.Timestamp)
		delay = NextDelay(elapsed)
		s.log.Debug("device status fetched", "last_loop", ev.Timestamp,
			"elapsed", elapsed.Round(time.Second), "next_delay", delay)
	}

	if s.pending {
		s.pending = false
		delay = s.cfg.InitialDelay
	}
	s.armLocked(delay)
}
