package poll

import (
	"sync"
	"time"
)

// Handle identifies a scheduled callback. The zero Handle means "no timer".
type Handle uint64

// Timer schedules one-shot callbacks. Cancel must be safe to call with a
// handle that has already fired or was already cancelled.
type Timer interface {
	Schedule(d time.Duration, fn func()) Handle
	Cancel(h Handle)
}

// Clock supplies the current time.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the wall clock.
type SystemClock struct{}

// Now returns time.Now().
func (SystemClock) Now() time.Time { return time.Now() }

// RealTimer implements Timer on top of time.AfterFunc.
type RealTimer struct {
	mu     sync.Mutex
	next   Handle
	timers map[Handle]*time.Timer
}

// NewRealTimer returns a Timer backed by the runtime timer heap.
func NewRealTimer() *RealTimer {
	return &RealTimer{timers: make(map[Handle]*time.Timer)}
}

// Schedule runs fn on its own goroutine after d.
func (t *RealTimer) Schedule(d time.Duration, fn func()) Handle {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.next++
	h := t.next
	t.timers[h] = time.AfterFunc(d, func() {
		t.mu.Lock()
		_, live := t.timers[h]
		delete(t.timers, h)
		t.mu.Unlock()
		if live {
			fn()
		}
	})
	return h
}

// Cancel stops the timer for h. Unknown handles are ignored.
func (t *RealTimer) Cancel(h Handle) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if tm, ok := t.timers[h]; ok {
		tm.Stop()
		delete(t.timers, h)
	}
}

// Pending returns how many timers are scheduled and not yet fired.
func (t *RealTimer) Pending() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.timers)
}
