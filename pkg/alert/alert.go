// Package alert notifies caregivers when the loop stops running. The
// Evaluator watches snapshots and sends one message through a Sender when the
// last loop run is older than the threshold, repeats no more often than the
// repeat interval, and resets silently once looping resumes.
package alert

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"gitlab.com/tinyland/lab/loop-pulse/pkg/nightscout"
	"gitlab.com/tinyland/lab/loop-pulse/pkg/state"
)

// Defaults.
const (
	DefaultThreshold      = 15 * time.Minute
	DefaultRepeatInterval = 30 * time.Minute
)

// Sender delivers an alert message.
type Sender interface {
	Send(ctx context.Context, subject, body string) error
}

// Config holds the evaluator settings.
type Config struct {
	Threshold      time.Duration
	RepeatInterval time.Duration
	Units          string
	Now            func() time.Time
	Logger         *slog.Logger
}

// Evaluator decides when to send not-looping alerts.
type Evaluator struct {
	sender    Sender
	threshold time.Duration
	repeat    time.Duration
	units     string
	now       func() time.Time
	log       *slog.Logger

	mu       sync.Mutex
	alerting bool
	lastSent time.Time
	sent     int
}

// NewEvaluator creates an Evaluator that sends through sender.
func NewEvaluator(sender Sender, cfg Config) *Evaluator {
	e := &Evaluator{
		sender:    sender,
		threshold: cfg.Threshold,
		repeat:    cfg.RepeatInterval,
		units:     cfg.Units,
		now:       cfg.Now,
		log:       cfg.Logger,
	}
	if e.threshold <= 0 {
		e.threshold = DefaultThreshold
	}
	if e.repeat <= 0 {
		e.repeat = DefaultRepeatInterval
	}
	if e.now == nil {
		e.now = time.Now
	}
	if e.log == nil {
		e.log = slog.Default()
	}
	e.log = e.log.With("component", "alert")
	return e
}

// Evaluate checks one snapshot and sends an alert when due. It reports
// whether a message was sent. Send failures leave the evaluator armed so
// the next snapshot retries.
func (e *Evaluator) Evaluate(ctx context.Context, snap state.Snapshot) (bool, error) {
	now := e.now()
	age, ok := snap.LoopAge(now)
	if !ok {
		return false, nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if age <= e.threshold {
		if e.alerting {
			e.log.Info("looping resumed", "loop_age", age.Round(time.Second))
		}
		e.alerting = false
		e.lastSent = time.Time{}
		return false, nil
	}
	if e.alerting && now.Sub(e.lastSent) < e.repeat {
		return false, nil
	}

	subject, body := e.message(snap, age)
	if err := e.sender.Send(ctx, subject, body); err != nil {
		return false, fmt.Errorf("alert: send: %w", err)
	}
	e.alerting = true
	e.lastSent = now
	e.sent++
	e.log.Warn("not-looping alert sent", "loop_age", age.Round(time.Second))
	return true, nil
}

// Alerting reports whether the loop is currently considered down.
func (e *Evaluator) Alerting() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.alerting
}

// Sent returns how many alerts have been sent.
func (e *Evaluator) Sent() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sent
}

func (e *Evaluator) message(snap state.Snapshot, age time.Duration) (string, string) {
	mins := int(age / time.Minute)
	subject := fmt.Sprintf("Not looping for %d minutes", mins)

	var b strings.Builder
	fmt.Fprintf(&b, "The last loop run was %d minutes ago (%s).\n",
		mins, snap.Loop.LoopTime.Local().Format("15:04"))
	if snap.Loop.State != nightscout.LoopUnknown {
		fmt.Fprintf(&b, "Loop status: %s %s\n", snap.Loop.State.Symbol(), snap.Loop.State)
	}
	if g := snap.Glucose; g != nil {
		fmt.Fprintf(&b, "Glucose: %s %s %s (%s ago)\n",
			nightscout.FormatBG(g.Latest.Mgdl, e.units), e.units, g.Latest.Arrow(),
			state.Ago(e.now().Sub(g.Latest.Time)))
	}
	if snap.Loop.IOB != nil {
		fmt.Fprintf(&b, "IOB: %.2fU\n", *snap.Loop.IOB)
	}
	return subject, b.String()
}

// Run evaluates every snapshot from updates until ctx is done or the
// channel closes.
func (e *Evaluator) Run(ctx context.Context, updates <-chan state.Snapshot) {
	for {
		select {
		case <-ctx.Done():
			return
		case snap, ok := <-updates:
			if !ok {
				return
			}
			if _, err := e.Evaluate(ctx, snap); err != nil {
				e.log.Error("alert failed", "error", err)
			}
		}
	}
}
