// Package starship renders a one-line loop summary for use as a starship
// custom module. It only reads the daemon's cached snapshot, so it is cheap
// enough to run on every prompt.
package starship

import (
	"fmt"
	"time"

	"gitlab.com/tinyland/lab/loop-pulse/pkg/cache"
	"gitlab.com/tinyland/lab/loop-pulse/pkg/components"
	"gitlab.com/tinyland/lab/loop-pulse/pkg/nightscout"
	"gitlab.com/tinyland/lab/loop-pulse/pkg/state"
)

// DefaultStaleAfter is how old the snapshot, its newest reading or its loop
// run may be before the module prints nothing.
const DefaultStaleAfter = 15 * time.Minute

// ssDefaultMaxWidth is the default maximum visible width of the line.
const ssDefaultMaxWidth = 60

// Config controls the starship output.
type Config struct {
	CacheDir   string // where the daemon writes its snapshot
	MaxWidth   int    // max visible width (default 60)
	StaleAfter time.Duration
	Thresholds components.Thresholds
	ShowCOB    bool
	// Plain disables colour.
	Plain bool
	Now   func() time.Time
}

// Segment is one piece of the status line.
type Segment struct {
	Icon  string
	Text  string
	Color string // hex colour, empty for the terminal default
}

// Render reads the cached snapshot and produces the module string. It
// returns "" when there is no fresh data, which starship hides.
func Render(cfg Config) string {
	if cfg.CacheDir == "" {
		return ""
	}
	store, err := cache.NewStore(cache.StoreConfig{Dir: cfg.CacheDir, Now: cfg.Now})
	if err != nil {
		return ""
	}
	snap, written, err := cache.GetTypedEntry[state.Snapshot](store, cache.KeySnapshot)
	if err != nil {
		return ""
	}
	return RenderSnapshot(cfg, snap, written)
}

// RenderSnapshot formats snap, written at the given time.
func RenderSnapshot(cfg Config, snap state.Snapshot, written time.Time) string {
	now := time.Now()
	if cfg.Now != nil {
		now = cfg.Now()
	}
	stale := cfg.StaleAfter
	if stale <= 0 {
		stale = DefaultStaleAfter
	}
	if cfg.Thresholds == (components.Thresholds{}) {
		cfg.Thresholds = components.DefaultThresholds
	}
	if now.Sub(written) > stale {
		return ""
	}
	g := snap.Glucose
	if g == nil || now.Sub(g.Latest.Time) > stale {
		return ""
	}

	segments := []*Segment{ssGlucoseSegment(cfg, snap, now, stale)}
	if ds := snap.Loop; ds != nil {
		if ds.IOB != nil {
			segments = append(segments, &Segment{Text: fmt.Sprintf("IOB %.2fU", *ds.IOB)})
		}
		if cfg.ShowCOB && ds.COB != nil {
			segments = append(segments, &Segment{Text: fmt.Sprintf("COB %.0fg", *ds.COB)})
		}
	}
	segments = append(segments, &Segment{
		Text:  state.Ago(now.Sub(g.Latest.Time)),
		Color: components.ColorDim,
	})
	return ssFormatLine(segments, cfg.MaxWidth, cfg.Plain)
}

// ssGlucoseSegment renders e.g. "↻ 6.2↗ +0.1". The loop symbol is "?" when
// there is no loop status or the last run is stale.
func ssGlucoseSegment(cfg Config, snap state.Snapshot, now time.Time, stale time.Duration) *Segment {
	g := snap.Glucose
	icon := nightscout.LoopUnknown.Symbol()
	if ds := snap.Loop; ds != nil {
		icon = ds.State.Symbol()
		if now.Sub(ds.LoopTime) > stale {
			icon = nightscout.NotLooping.Symbol()
		}
	}
	text := nightscout.FormatBG(g.Latest.Mgdl, snap.Units) + g.Latest.Arrow()
	if g.HasDelta {
		text += " " + nightscout.FormatDelta(g.Delta, snap.Units)
	}
	return &Segment{
		Icon:  icon,
		Text:  text,
		Color: cfg.Thresholds.Classify(g.Latest.Mgdl).Color(),
	}
}
