package widgets

import (
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"gitlab.com/tinyland/lab/loop-pulse/pkg/app"
	"gitlab.com/tinyland/lab/loop-pulse/pkg/components"
	"gitlab.com/tinyland/lab/loop-pulse/pkg/data"
	"gitlab.com/tinyland/lab/loop-pulse/pkg/nightscout"
	"gitlab.com/tinyland/lab/loop-pulse/pkg/state"
)

// DefaultGraphWindow is how much glucose history the graph shows.
const DefaultGraphWindow = 3 * time.Hour

// predictionOrder is the order in which prediction series are tried.
var predictionOrder = []struct{ series, curve string }{
	{data.SeriesPredLoop, nightscout.PredLoop},
	{data.SeriesPredCOB, nightscout.PredCOB},
	{data.SeriesPredUAM, nightscout.PredUAM},
	{data.SeriesPredIOB, nightscout.PredIOB},
	{data.SeriesPredZT, nightscout.PredZT},
}

// GlucoseGraph draws recent glucose as a sparkline followed by the loop's
// prediction. History comes from the series store when one is attached and
// from the snapshot otherwise.
type GlucoseGraph struct {
	opts   Options
	series *data.Store
	window time.Duration
	spark  *components.Sparkline
	snap   state.Snapshot

	hidePrediction bool
}

// NewGlucoseGraph returns a graph reading from series, which may be nil.
func NewGlucoseGraph(opts Options, series *data.Store) *GlucoseGraph {
	opts = opts.withDefaults()
	return &GlucoseGraph{
		opts:   opts,
		series: series,
		window: DefaultGraphWindow,
		spark:  components.NewSparkline(opts.Thresholds),
	}
}

func (w *GlucoseGraph) ID() string          { return "graph" }
func (w *GlucoseGraph) Title() string       { return "Glucose" }
func (w *GlucoseGraph) MinSize() (int, int) { return 30, 2 }

func (w *GlucoseGraph) Update(msg tea.Msg) tea.Cmd {
	if ev, ok := msg.(app.SnapshotEvent); ok {
		w.snap = ev.Snapshot
	}
	return nil
}

// HandleKey toggles the prediction tail with p.
func (w *GlucoseGraph) HandleKey(msg tea.KeyMsg) tea.Cmd {
	if msg.String() == "p" {
		w.hidePrediction = !w.hidePrediction
	}
	return nil
}

func (w *GlucoseGraph) View(width, height int) string {
	if width <= 0 || height <= 0 {
		return ""
	}
	history := w.history(width)
	if len(history) == 0 {
		return noData("No glucose history", width, height)
	}
	var prediction []float64
	if !w.hidePrediction {
		prediction = w.prediction()
	}
	lines := []string{w.spark.Render(history, prediction, width)}
	if height > 1 {
		lines = append(lines, components.Dim(w.summary(history, prediction)))
	}
	return components.FitBlock(strings.Join(lines, "\n"), width, height)
}

// history returns at most width mg/dL values, oldest first, within the
// window.
func (w *GlucoseGraph) history(width int) []float64 {
	now := w.opts.Now()
	cutoff := now.Add(-w.window)
	if w.series != nil {
		if snap, ok := w.series.GetLatestN(data.SeriesBG, width); ok {
			var out []float64
			for _, p := range snap.Points() {
				if !p.Time.Before(cutoff) && !p.Time.After(now) {
					out = append(out, p.Value)
				}
			}
			if len(out) > 0 {
				return out
			}
		}
	}
	g := w.snap.Glucose
	if g == nil {
		return nil
	}
	var out []float64
	for _, r := range g.History {
		if !r.Time.Before(cutoff) {
			out = append(out, r.Mgdl)
		}
	}
	return out
}

// prediction returns the first non-empty curve in predictionOrder.
func (w *GlucoseGraph) prediction() []float64 {
	for _, p := range predictionOrder {
		if w.series != nil {
			if snap, ok := w.series.GetSeries(p.series); ok && snap.Len() > 0 {
				return snap.Values
			}
		}
		if w.snap.Loop != nil {
			if pts := w.snap.Loop.Predictions[p.curve]; len(pts) > 0 {
				out := make([]float64, len(pts))
				for i, pt := range pts {
					out[i] = pt.Value
				}
				return out
			}
		}
	}
	return nil
}

func (w *GlucoseGraph) summary(history, prediction []float64) string {
	lo, hi := history[0], history[0]
	for _, v := range history {
		lo, hi = min(lo, v), max(hi, v)
	}
	units := w.snap.Units
	s := fmt.Sprintf("%gh  low %s  high %s", w.window.Hours(), nightscout.FormatBG(lo, units), nightscout.FormatBG(hi, units))
	if len(prediction) > 0 {
		s += "  pred " + nightscout.FormatBG(prediction[len(prediction)-1], units)
	}
	return s
}
