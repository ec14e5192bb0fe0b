// Package widgets provides the dashboard panels: the loop header, the status
// table and the glucose graph. Each implements app.Widget and is fed
// snapshots through the bubbletea Update loop.
package widgets

import (
	"strings"
	"time"

	"gitlab.com/tinyland/lab/loop-pulse/pkg/components"
)

// StaleAfter is how old a reading or loop run may be before it is dimmed.
const StaleAfter = 15 * time.Minute

// Options are shared by every widget constructor.
type Options struct {
	Thresholds components.Thresholds
	// Now defaults to time.Now.
	Now func() time.Time
}

func (o Options) withDefaults() Options {
	if o.Thresholds == (components.Thresholds{}) {
		o.Thresholds = components.DefaultThresholds
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

// noData centres msg in a width x height block.
func noData(msg string, width, height int) string {
	lines := make([]string, 0, height)
	for i := 0; i < (height-1)/2; i++ {
		lines = append(lines, "")
	}
	lines = append(lines, components.PadCenter(components.Dim(msg), width))
	return components.FitBlock(strings.Join(lines, "\n"), width, height)
}
