package daemon

import (
	"context"
	"errors"
	"math"
	"time"

	"gitlab.com/tinyland/lab/loop-pulse/pkg/collectors/glucose"
	"gitlab.com/tinyland/lab/loop-pulse/pkg/nightscout"
)

// MockSite fabricates a plausible Nightscout site: a slow glucose wave, a
// loop that ran a minute ago and careportal events a few days old. It
// satisfies every client interface the daemon consumes.
type MockSite struct {
	Now func() time.Time
}

func (m MockSite) now() time.Time {
	if m.Now != nil {
		return m.Now()
	}
	return time.Now()
}

// bgAt traces a 4-hour sine between roughly 80 and 180 mg/dL.
func bgAt(t time.Time) float64 {
	phase := float64(t.Unix()%(4*3600)) / (4 * 3600) * 2 * math.Pi
	return math.Round(130 + 50*math.Sin(phase))
}

func direction(delta float64) string {
	switch {
	case delta > 10:
		return "SingleUp"
	case delta > 5:
		return "FortyFiveUp"
	case delta < -10:
		return "SingleDown"
	case delta < -5:
		return "FortyFiveDown"
	default:
		return "Flat"
	}
}

// Entries returns count readings five minutes apart, oldest first.
func (m MockSite) Entries(_ context.Context, count int) ([]nightscout.Entry, error) {
	last := m.now().Truncate(5 * time.Minute)
	out := make([]nightscout.Entry, 0, count)
	for i := count - 1; i >= 0; i-- {
		t := last.Add(-time.Duration(i) * 5 * time.Minute)
		bg := bgAt(t)
		out = append(out, nightscout.Entry{
			SGV:       bg,
			Date:      t.UnixMilli(),
			Direction: direction(bg - bgAt(t.Add(-5*time.Minute))),
			Type:      "sgv",
			Device:    "mock",
		})
	}
	return out, nil
}

// DeviceStatus returns one Loop record whose prediction continues the wave.
func (m MockSite) DeviceStatus(_ context.Context, _ int) ([]nightscout.RawDeviceStatus, error) {
	now := m.now()
	loopTime := now.Add(-time.Minute).UTC()
	ts := loopTime.Format(time.RFC3339)

	iob, cob := 1.25, 12.0
	reservoir, battery, rate, dur := 87.5, 64.0, 0.85, 30.0
	recBolus := 0.0
	received := true

	pred := make([]float64, 0, 36)
	for i := 0; i < 36; i++ {
		pred = append(pred, bgAt(loopTime.Add(time.Duration(i)*5*time.Minute)))
	}

	loop := &nightscout.RawLoop{
		Timestamp:        ts,
		Enacted:          &nightscout.RawEnacted{Timestamp: ts, Rate: &rate, Duration: &dur, Received: &received},
		RecommendedBolus: &recBolus,
	}
	loop.IOB = &struct {
		IOB *float64 `json:"iob"`
	}{IOB: &iob}
	loop.COB = &struct {
		COB *float64 `json:"cob"`
	}{COB: &cob}
	loop.Predicted = &struct {
		StartDate string    `json:"startDate"`
		Values    []float64 `json:"values"`
	}{StartDate: ts, Values: pred}

	return []nightscout.RawDeviceStatus{{
		ID:        "mock",
		CreatedAt: ts,
		Device:    "loop://mock",
		Pump:      &nightscout.RawPump{Clock: ts, Reservoir: &reservoir},
		Uploader:  &nightscout.RawUploader{Battery: &battery},
		Loop:      loop,
	}}, nil
}

// Treatments returns a sensor change four days ago and a pod change one day
// ago; other event types are empty.
func (m MockSite) Treatments(_ context.Context, q nightscout.TreatmentQuery) ([]nightscout.Treatment, error) {
	now := m.now().UTC()
	switch q.EventType {
	case nightscout.EventSensorChange:
		return []nightscout.Treatment{{
			EventType: q.EventType,
			CreatedAt: now.Add(-4 * 24 * time.Hour).Format(time.RFC3339),
		}}, nil
	case nightscout.EventPodChange:
		return []nightscout.Treatment{{
			EventType: q.EventType,
			CreatedAt: now.Add(-26 * time.Hour).Format(time.RFC3339),
		}}, nil
	}
	return nil, nil
}

// shareLag is how far the simulated Dexcom feed trails Nightscout.
const shareLag = 2 * time.Minute

// ShareReadings simulates the Dexcom Share feed: the same wave as Entries,
// sampled shareLag earlier, tagged with the Dexcom source.
func (m MockSite) ShareReadings(ctx context.Context) (any, error) {
	lagged := MockSite{Now: func() time.Time { return m.now().Add(-shareLag) }}
	entries, err := lagged.Entries(ctx, 12)
	if err != nil {
		return nil, err
	}
	history := make([]glucose.Reading, 0, len(entries))
	for _, e := range entries {
		history = append(history, glucose.Reading{Time: e.Time(), Mgdl: e.SGV, Direction: e.Direction})
	}
	r, ok := glucose.FromReadings(glucose.SourceDexcom, history)
	if !ok {
		return nil, errors.New("daemon: mock share returned no readings")
	}
	return &r, nil
}
