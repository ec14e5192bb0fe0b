package poll

import "sync"

// Executor is the single logical context on which scheduler state changes
// run. Fetch completions and timer fires are handed to it explicitly.
type Executor interface {
	Submit(fn func())
}

// ExecutorFunc adapts a function to the Executor interface.
type ExecutorFunc func(fn func())

// Submit calls f(fn).
func (f ExecutorFunc) Submit(fn func()) { f(fn) }

// Inline runs every submitted function synchronously on the caller's
// goroutine. Useful in tests and when callers already serialize.
var Inline Executor = ExecutorFunc(func(fn func()) { fn() })

// SerialExecutor runs submitted functions one at a time, in submission
// order, on a dedicated goroutine.
type SerialExecutor struct {
	queue     chan func()
	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// NewSerialExecutor starts the executor goroutine. buffer bounds how many
// functions may queue before Submit blocks; values below 1 become 64.
func NewSerialExecutor(buffer int) *SerialExecutor {
	if buffer < 1 {
		buffer = 64
	}
	e := &SerialExecutor{
		queue: make(chan func(), buffer),
		done:  make(chan struct{}),
	}
	e.wg.Add(1)
	go e.loop()
	return e
}

// Submit enqueues fn. After Close, Submit drops fn.
func (e *SerialExecutor) Submit(fn func()) {
	select {
	case <-e.done:
		return
	default:
	}
	select {
	case e.queue <- fn:
	case <-e.done:
	}
}

// Close stops the executor and waits for the running function to return.
// Queued functions that have not started are discarded. Safe to call more
// than once.
func (e *SerialExecutor) Close() {
	e.closeOnce.Do(func() { close(e.done) })
	e.wg.Wait()
}

func (e *SerialExecutor) loop() {
	defer e.wg.Done()
	for {
		select {
		case <-e.done:
			return
		case fn := <-e.queue:
			fn()
		}
	}
}
