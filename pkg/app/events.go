// Package app is the bubbletea root model of the loop-pulse dashboard. It
// owns focus, expansion, the help overlay and the snapshot feed; widgets
// render themselves from the snapshots it forwards.
package app

import (
	"time"

	"gitlab.com/tinyland/lab/loop-pulse/pkg/state"
)

// SnapshotEvent delivers a new state snapshot to the model and every widget.
type SnapshotEvent struct {
	Snapshot state.Snapshot
}

// TickEvent is sent periodically so relative times ("3m ago") stay current.
type TickEvent struct {
	Time time.Time
}

// WidgetFocusEvent requests that focus move to a specific widget.
type WidgetFocusEvent struct {
	WidgetID string
}

// WidgetExpandEvent focuses a widget and toggles it fullscreen.
type WidgetExpandEvent struct {
	WidgetID string
}

// feedClosedEvent reports that the snapshot channel was closed.
type feedClosedEvent struct{}
