package widgets

import (
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"gitlab.com/tinyland/lab/loop-pulse/pkg/app"
	"gitlab.com/tinyland/lab/loop-pulse/pkg/components"
	"gitlab.com/tinyland/lab/loop-pulse/pkg/nightscout"
	"gitlab.com/tinyland/lab/loop-pulse/pkg/state"
)

// LoopWidget is the header panel: current glucose with trend and delta on the
// first line, loop state and eventual glucose on the second, and the poll
// schedule on the third when there is room.
type LoopWidget struct {
	opts Options
	snap state.Snapshot
	has  bool
}

// NewLoopWidget returns an empty header.
func NewLoopWidget(opts Options) *LoopWidget {
	return &LoopWidget{opts: opts.withDefaults()}
}

func (w *LoopWidget) ID() string          { return "loop" }
func (w *LoopWidget) Title() string       { return "Loop" }
func (w *LoopWidget) MinSize() (int, int) { return 30, 2 }

func (w *LoopWidget) Update(msg tea.Msg) tea.Cmd {
	if ev, ok := msg.(app.SnapshotEvent); ok {
		w.snap = ev.Snapshot
		w.has = true
	}
	return nil
}

func (w *LoopWidget) HandleKey(tea.KeyMsg) tea.Cmd { return nil }

func (w *LoopWidget) View(width, height int) string {
	if width <= 0 || height <= 0 {
		return ""
	}
	if !w.has || (w.snap.Glucose == nil && w.snap.Loop == nil) {
		return noData("No data", width, height)
	}
	lines := []string{w.glucoseLine(), w.loopLine()}
	if height > 2 {
		if p := w.pollLine(); p != "" {
			lines = append(lines, p)
		}
	}
	return components.FitBlock(strings.Join(lines, "\n"), width, height)
}

// glucoseLine renders e.g. "6.2 ↗ +0.1  3m ago".
func (w *LoopWidget) glucoseLine() string {
	g := w.snap.Glucose
	if g == nil {
		return components.Dim("BG --")
	}
	now := w.opts.Now()
	units := w.snap.Units
	age := now.Sub(g.Latest.Time)

	bg := nightscout.FormatBG(g.Latest.Mgdl, units)
	var b strings.Builder
	if age > StaleAfter {
		b.WriteString(components.Dim(bg + " " + g.Latest.Arrow()))
	} else {
		color := w.opts.Thresholds.Classify(g.Latest.Mgdl).Color()
		b.WriteString(components.Colorize(components.Bold(bg)+" "+g.Latest.Arrow(), color))
	}
	if g.HasDelta {
		b.WriteString(" " + nightscout.FormatDelta(g.Delta, units))
	}
	b.WriteString("  " + components.Dim(agoText(age)))
	if g.Source != "" {
		b.WriteString(components.Dim(" via " + g.Source))
	}
	return b.String()
}

// loopLine renders e.g. "↻ looping 2m ago  eventual 6.4".
func (w *LoopWidget) loopLine() string {
	ds := w.snap.Loop
	if ds == nil {
		return components.Dim("? no loop status")
	}
	color := components.ColorInRange
	switch ds.State {
	case nightscout.NotLooping, nightscout.Failed:
		color = components.ColorUrgent
	case nightscout.OpenLoop, nightscout.NotEnacted, nightscout.LoopUnknown:
		color = components.ColorHigh
	}
	var b strings.Builder
	b.WriteString(components.Colorize(ds.State.Symbol()+" "+ds.State.String(), color))
	if !ds.LoopTime.IsZero() {
		b.WriteString(" " + components.Dim(agoText(w.opts.Now().Sub(ds.LoopTime))))
	}
	if ds.EventualBG != nil {
		b.WriteString("  eventual " + nightscout.FormatBG(*ds.EventualBG, w.snap.Units))
	}
	return b.String()
}

func (w *LoopWidget) pollLine() string {
	p := w.snap.Poll
	if p == nil {
		return ""
	}
	var parts []string
	if !p.NextFetch.IsZero() {
		if d := p.NextFetch.Sub(w.opts.Now()); d > 0 {
			parts = append(parts, "next fetch in "+d.Round(time.Second).String())
		} else {
			parts = append(parts, "fetch due")
		}
	} else {
		parts = append(parts, p.State.String())
	}
	if p.ConsecutiveFailures > 0 {
		parts = append(parts, components.Colorize(p.LastError, components.ColorUrgent))
	}
	return components.Dim(strings.Join(parts, "  "))
}

func agoText(d time.Duration) string {
	if ago := state.Ago(d); ago != "now" {
		return ago + " ago"
	}
	return "now"
}
