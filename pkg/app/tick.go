package app

import (
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"gitlab.com/tinyland/lab/loop-pulse/pkg/state"
)

// TickCmd sends a TickEvent after d.
func TickCmd(d time.Duration) tea.Cmd {
	return tea.Tick(d, func(t time.Time) tea.Msg {
		return TickEvent{Time: t}
	})
}

// WaitForSnapshot blocks on ch and delivers the next snapshot. The model
// re-issues it after every SnapshotEvent, so at most one read is pending.
func WaitForSnapshot(ch <-chan state.Snapshot) tea.Cmd {
	if ch == nil {
		return nil
	}
	return func() tea.Msg {
		snap, ok := <-ch
		if !ok {
			return feedClosedEvent{}
		}
		return SnapshotEvent{Snapshot: snap}
	}
}
