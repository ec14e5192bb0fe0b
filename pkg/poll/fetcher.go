package poll

import (
	"context"
	"sync"
	"time"
)

// LoopEvent is the most recent loop run reported by the device-status source.
type LoopEvent struct {
	Timestamp time.Time `json:"timestamp"`
	Succeeded bool      `json:"succeeded"`
}

// Fetcher retrieves the latest loop event. Implementations call complete
// exactly once, from any goroutine, with either an event or an error.
type Fetcher interface {
	FetchLatestLoopEvent(ctx context.Context, complete func(LoopEvent, error))
}

// FetchFunc adapts a blocking fetch to the Fetcher interface by running it on
// its own goroutine.
type FetchFunc func(ctx context.Context) (LoopEvent, error)

// FetchLatestLoopEvent runs f in a goroutine and reports its result.
func (f FetchFunc) FetchLatestLoopEvent(ctx context.Context, complete func(LoopEvent, error)) {
	go func() {
		complete(f(ctx))
	}()
}

// once guards a completion callback so a misbehaving Fetcher that calls it
// twice only delivers the first result.
func once(fn func(LoopEvent, error)) func(LoopEvent, error) {
	var o sync.Once
	return func(ev LoopEvent, err error) {
		o.Do(func() { fn(ev, err) })
	}
}
