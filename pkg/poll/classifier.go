// Package poll drives the device-status refresh loop. A single Scheduler owns
// at most one pending timer and at most one in-flight fetch; the delay until
// the next fetch is chosen from how stale the last loop event is.
package poll

import "time"

// stalenessStep maps a minimum elapsed time since the last loop event to the
// retry delay used while the loop is that overdue.
type stalenessStep struct {
	minElapsed time.Duration
	delay      time.Duration
}

// stalenessTable is evaluated top to bottom; the first step whose minElapsed
// is reached wins.
var stalenessTable = []stalenessStep{
	{minElapsed: 20 * time.Minute, delay: 5 * time.Minute},
	{minElapsed: 10 * time.Minute, delay: time.Minute},
	{minElapsed: 7 * time.Minute, delay: 30 * time.Second},
	{minElapsed: 5 * time.Minute, delay: 10 * time.Second},
}

// loopCycleTarget is when the next loop event is expected: one five minute
// loop cycle plus a ten second buffer.
const loopCycleTarget = 310 * time.Second

// NextDelay returns how long to wait before fetching device status again,
// given the time elapsed since the last loop event. A current loop is
// re-checked exactly loopCycleTarget after its event; an overdue loop is
// retried on a cadence that slows down the longer it stays silent.
//
// Negative elapsed values (a loop timestamp ahead of the local clock) are
// treated as zero.
func NextDelay(elapsed time.Duration) time.Duration {
	if elapsed < 0 {
		elapsed = 0
	}
	for _, step := range stalenessTable {
		if elapsed >= step.minElapsed {
			return step.delay
		}
	}
	if d := loopCycleTarget - elapsed; d > 0 {
		return d
	}
	return 0
}

// NextDelaySeconds is NextDelay expressed in fractional seconds.
func NextDelaySeconds(elapsed float64) float64 {
	if elapsed < 0 {
		elapsed = 0
	}
	for _, step := range stalenessTable {
		if elapsed >= step.minElapsed.Seconds() {
			return step.delay.Seconds()
		}
	}
	if d := loopCycleTarget.Seconds() - elapsed; d > 0 {
		return d
	}
	return 0
}
