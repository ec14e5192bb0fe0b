package widgets

import (
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"gitlab.com/tinyland/lab/loop-pulse/pkg/app"
	"gitlab.com/tinyland/lab/loop-pulse/pkg/collectors/glucose"
	"gitlab.com/tinyland/lab/loop-pulse/pkg/components"
	"gitlab.com/tinyland/lab/loop-pulse/pkg/data"
	"gitlab.com/tinyland/lab/loop-pulse/pkg/nightscout"
	"gitlab.com/tinyland/lab/loop-pulse/pkg/poll"
	"gitlab.com/tinyland/lab/loop-pulse/pkg/state"
)

var testNow = time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)

func testOptions() Options {
	return Options{Now: func() time.Time { return testNow }}
}

func fp(v float64) *float64 { return &v }

// testSnapshot has 12 readings rising from 100 to 155 mg/dL, the last one
// 3 minutes old, and a loop run 2 minutes ago.
func testSnapshot() state.Snapshot {
	var history []glucose.Reading
	for i := 0; i < 12; i++ {
		history = append(history, glucose.Reading{
			Time:      testNow.Add(-3*time.Minute - time.Duration(11-i)*5*time.Minute),
			Mgdl:      100 + float64(i)*5,
			Direction: "FortyFiveUp",
		})
	}
	g, _ := glucose.FromReadings("nightscout", history)
	return state.Snapshot{
		Units:   nightscout.Mgdl,
		Glucose: &g,
		Loop: &nightscout.DeviceStatus{
			LoopTime:   testNow.Add(-2 * time.Minute),
			State:      nightscout.Looping,
			IOB:        fp(1.25),
			COB:        fp(12),
			EventualBG: fp(140),
			Predictions: map[string][]nightscout.PredictionPoint{
				nightscout.PredLoop: {
					{Time: testNow, Value: 150},
					{Time: testNow.Add(5 * time.Minute), Value: 145},
					{Time: testNow.Add(10 * time.Minute), Value: 140},
				},
			},
		},
		Poll:    &poll.Status{State: poll.Armed, NextFetch: testNow.Add(28 * time.Second)},
		Updated: testNow,
	}
}

func feed(w app.Widget, s state.Snapshot) {
	w.Update(app.SnapshotEvent{Snapshot: s})
}

func assertShape(t *testing.T, out string, width, height int) {
	t.Helper()
	lines := strings.Split(out, "\n")
	if len(lines) != height {
		t.Errorf("got %d lines, want %d", len(lines), height)
	}
	for i, l := range lines {
		if n := components.VisibleLen(l); n != width {
			t.Errorf("line %d has width %d, want %d", i, n, width)
		}
	}
}

func TestWidgetsImplementInterface(t *testing.T) {
	var _ app.Widget = NewLoopWidget(Options{})
	var _ app.Widget = NewStatusTable(Options{})
	var _ app.Widget = NewGlucoseGraph(Options{}, nil)
}

func TestLoopWidgetNoData(t *testing.T) {
	w := NewLoopWidget(testOptions())
	out := w.View(40, 3)
	if !strings.Contains(out, "No data") {
		t.Errorf("View = %q", out)
	}
	assertShape(t, out, 40, 3)
	if w.View(0, 3) != "" {
		t.Error("zero width should render nothing")
	}
}

func TestLoopWidgetRendersGlucoseAndLoop(t *testing.T) {
	w := NewLoopWidget(testOptions())
	feed(w, testSnapshot())
	out := w.View(60, 3)
	for _, want := range []string{"155", "↗", "+5", "3m ago", "↻ looping", "2m ago", "eventual 140", "next fetch in 28s"} {
		if !strings.Contains(out, want) {
			t.Errorf("missing %q in:\n%s", want, out)
		}
	}
	assertShape(t, out, 60, 3)
}

func TestLoopWidgetMmol(t *testing.T) {
	w := NewLoopWidget(testOptions())
	s := testSnapshot()
	s.Units = nightscout.Mmoll
	feed(w, s)
	out := w.View(60, 2)
	if !strings.Contains(out, "8.6") || !strings.Contains(out, "+0.3") {
		t.Errorf("mmol view:\n%s", out)
	}
}

func TestLoopWidgetNotLooping(t *testing.T) {
	w := NewLoopWidget(testOptions())
	s := testSnapshot()
	s.Loop.State = nightscout.NotLooping
	s.Loop.LoopTime = testNow.Add(-40 * time.Minute)
	feed(w, s)
	out := w.View(60, 2)
	if !strings.Contains(out, "⚠ not_looping") || !strings.Contains(out, "40m ago") {
		t.Errorf("view:\n%s", out)
	}
}

func TestLoopWidgetPollFailure(t *testing.T) {
	w := NewLoopWidget(testOptions())
	s := testSnapshot()
	s.Poll.ConsecutiveFailures = 2
	s.Poll.LastError = "nightscout: unauthorized"
	feed(w, s)
	if out := w.View(80, 3); !strings.Contains(out, "unauthorized") {
		t.Errorf("view:\n%s", out)
	}
}

func TestStatusTableRows(t *testing.T) {
	w := NewStatusTable(testOptions())
	if len(w.Rows()) == 0 {
		t.Fatal("placeholder rows missing")
	}
	feed(w, testSnapshot())
	rows := w.Rows()
	if rows[0].Name != state.RowIOB || rows[0].Value != "1.25U" {
		t.Errorf("first row = %+v", rows[0])
	}
	out := w.View(40, 8)
	if !strings.Contains(out, "IOB") || !strings.Contains(out, "1.25U") {
		t.Errorf("view:\n%s", out)
	}
	assertShape(t, out, 40, 8)
}

func TestStatusTableScrolls(t *testing.T) {
	w := NewStatusTable(testOptions())
	feed(w, testSnapshot())
	w.View(40, 6)
	w.HandleKey(tea.KeyMsg{Type: tea.KeyDown})
	w.HandleKey(tea.KeyMsg{Type: tea.KeyDown})
	if w.Cursor() != 2 {
		t.Errorf("cursor = %d after two downs", w.Cursor())
	}
	w.HandleKey(tea.KeyMsg{Type: tea.KeyUp})
	if w.Cursor() != 1 {
		t.Errorf("cursor = %d after up", w.Cursor())
	}
}

func TestGlucoseGraphFromSnapshot(t *testing.T) {
	w := NewGlucoseGraph(testOptions(), nil)
	if out := w.View(40, 2); !strings.Contains(out, "No glucose history") {
		t.Errorf("empty view = %q", out)
	}
	feed(w, testSnapshot())
	out := w.View(40, 2)
	if !strings.Contains(out, "┊") {
		t.Errorf("prediction separator missing:\n%s", out)
	}
	if !strings.Contains(out, "low 100") || !strings.Contains(out, "high 155") || !strings.Contains(out, "pred 140") {
		t.Errorf("summary wrong:\n%s", out)
	}
	assertShape(t, out, 40, 2)
}

func TestGlucoseGraphTogglePrediction(t *testing.T) {
	w := NewGlucoseGraph(testOptions(), nil)
	feed(w, testSnapshot())
	w.HandleKey(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("p")})
	if out := w.View(40, 2); strings.Contains(out, "┊") || strings.Contains(out, "pred") {
		t.Errorf("prediction still shown:\n%s", out)
	}
}

func TestGlucoseGraphPrefersSeriesStore(t *testing.T) {
	store := data.NewStore(data.StoreConfig{Now: func() time.Time { return testNow }})
	for i := 0; i < 6; i++ {
		store.AddPoint(data.SeriesBG, testNow.Add(-time.Duration(6-i)*10*time.Minute), 60+float64(i))
	}
	// Older than the window.
	store.AddPoint(data.SeriesBG, testNow.Add(-5*time.Hour), 300)
	store.ReplaceSeries(data.SeriesPredCOB,
		[]time.Time{testNow.Add(5 * time.Minute), testNow.Add(10 * time.Minute)},
		[]float64{70, 72})

	w := NewGlucoseGraph(testOptions(), store)
	s := testSnapshot()
	s.Loop.Predictions = nil
	feed(w, s)
	out := w.View(40, 2)
	if !strings.Contains(out, "low 60") || !strings.Contains(out, "high 65") {
		t.Errorf("series history not used:\n%s", out)
	}
	if !strings.Contains(out, "pred 72") {
		t.Errorf("COB prediction not used:\n%s", out)
	}
}

func TestGlucoseGraphHistoryFitsWidth(t *testing.T) {
	store := data.NewStore(data.StoreConfig{Now: func() time.Time { return testNow }})
	for i := 0; i < 6; i++ {
		store.AddPoint(data.SeriesBG, testNow.Add(-time.Duration(6-i)*5*time.Minute), 60+float64(i))
	}
	w := NewGlucoseGraph(testOptions(), store)
	got := w.history(4)
	if len(got) != 4 || got[0] != 62 || got[3] != 65 {
		t.Errorf("history(4) = %v, want the newest 4 readings", got)
	}
}
