package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"gitlab.com/tinyland/lab/loop-pulse/pkg/collectors/glucose"
	"gitlab.com/tinyland/lab/loop-pulse/pkg/data"
	"gitlab.com/tinyland/lab/loop-pulse/pkg/nightscout"
	"gitlab.com/tinyland/lab/loop-pulse/pkg/poll"
	"gitlab.com/tinyland/lab/loop-pulse/pkg/state"
)

var testNow = time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)

type fixture struct {
	srv      *Server
	st       *state.Store
	series   *data.Store
	refreshs atomic.Int32
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		st:     state.NewStore(nightscout.Mgdl, state.WithClock(func() time.Time { return testNow })),
		series: data.NewStore(data.StoreConfig{Now: func() time.Time { return testNow }}),
	}
	srv, err := NewServer(Config{
		State:  f.st,
		Series: f.series,
		PollStatus: func() poll.Status {
			return poll.Status{State: poll.Armed, Fetches: 7}
		},
		Refresh: func() { f.refreshs.Add(1) },
		Health:  func() any { return map[string]int{"pid": 42} },
	})
	if err != nil {
		t.Fatal(err)
	}
	f.srv = srv
	return f
}

func (f *fixture) do(method, target string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	f.srv.Handler().ServeHTTP(rec, httptest.NewRequest(method, target, nil))
	return rec
}

func TestNewServerRequiresState(t *testing.T) {
	if _, err := NewServer(Config{}); err == nil {
		t.Error("expected error without state store")
	}
}

func TestHealth(t *testing.T) {
	f := newFixture(t)
	rec := f.do(http.MethodGet, "/health")
	if rec.Code != http.StatusOK {
		t.Fatalf("code = %d", rec.Code)
	}
	var body struct {
		Status string         `json:"status"`
		Daemon map[string]int `json:"daemon"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if body.Status != "ok" || body.Daemon["pid"] != 42 {
		t.Errorf("body = %+v", body)
	}
}

func TestStatusIncludesPoll(t *testing.T) {
	f := newFixture(t)
	f.st.Update(func(s *state.Snapshot) {
		s.Glucose = &glucose.Readings{Latest: glucose.Reading{Time: testNow, Mgdl: 120}}
	})

	rec := f.do(http.MethodGet, "/api/status")
	if rec.Code != http.StatusOK {
		t.Fatalf("code = %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("content type = %q", ct)
	}
	var snap state.Snapshot
	if err := json.NewDecoder(rec.Body).Decode(&snap); err != nil {
		t.Fatal(err)
	}
	if snap.Poll == nil || snap.Poll.State != poll.Armed || snap.Poll.Fetches != 7 {
		t.Errorf("poll = %+v", snap.Poll)
	}
	if snap.Glucose == nil || snap.Glucose.Latest.Mgdl != 120 || snap.Version != 1 {
		t.Errorf("snapshot = %+v", snap)
	}
}

func TestSeries(t *testing.T) {
	f := newFixture(t)
	f.series.AddPoint(data.SeriesBG, testNow.Add(-4*time.Hour), 90)
	f.series.AddPoint(data.SeriesBG, testNow.Add(-time.Hour), 100)
	f.series.AddPoint(data.SeriesBG, testNow, 110)

	rec := f.do(http.MethodGet, "/api/series/bg")
	if rec.Code != http.StatusOK {
		t.Fatalf("code = %d", rec.Code)
	}
	var resp seriesResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	if len(resp.Points) != 2 || resp.Points[1].Value != 110 || resp.Since != "3h0m0s" {
		t.Errorf("resp = %+v", resp)
	}
	if resp.Min == nil || *resp.Min != 100 || resp.Max == nil || *resp.Max != 110 {
		t.Errorf("min/max = %v/%v", resp.Min, resp.Max)
	}
	if resp.Latest == nil || resp.Latest.Value != 110 {
		t.Errorf("latest = %+v", resp.Latest)
	}

	rec = f.do(http.MethodGet, "/api/series/bg?since=5h")
	resp = seriesResponse{}
	_ = json.NewDecoder(rec.Body).Decode(&resp)
	if len(resp.Points) != 3 || resp.Min == nil || *resp.Min != 90 {
		t.Errorf("since=5h points = %d, want 3", len(resp.Points))
	}

	// A series whose points all fall outside the window still reports its
	// newest value.
	f.series.AddPoint(data.SeriesIOB, testNow.Add(-6*time.Hour), 0.4)
	rec = f.do(http.MethodGet, "/api/series/iob")
	resp = seriesResponse{}
	_ = json.NewDecoder(rec.Body).Decode(&resp)
	if len(resp.Points) != 0 || resp.Min != nil || resp.Latest == nil || resp.Latest.Value != 0.4 {
		t.Errorf("iob resp = %+v", resp)
	}
}

func TestSeriesEmptyKnownSeries(t *testing.T) {
	f := newFixture(t)
	rec := f.do(http.MethodGet, "/api/series/pred.uam")
	if rec.Code != http.StatusOK {
		t.Fatalf("code = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"points":[]`) {
		t.Errorf("body = %s", rec.Body.String())
	}
}

func TestSeriesErrors(t *testing.T) {
	f := newFixture(t)
	cases := map[string]int{
		"/api/series/nope":            http.StatusNotFound,
		"/api/series/bg?since=banana": http.StatusBadRequest,
		"/api/series/bg?since=-1h":    http.StatusBadRequest,
		"/api/series/bg?since=100h":   http.StatusBadRequest,
	}
	for target, want := range cases {
		if rec := f.do(http.MethodGet, target); rec.Code != want {
			t.Errorf("%s: code = %d, want %d", target, rec.Code, want)
		}
	}
}

func TestSeriesList(t *testing.T) {
	f := newFixture(t)
	f.series.AddPoint(data.SeriesIOB, testNow, 1)
	rec := f.do(http.MethodGet, "/api/series")
	var names []string
	if err := json.NewDecoder(rec.Body).Decode(&names); err != nil {
		t.Fatal(err)
	}
	if len(names) != 1 || names[0] != data.SeriesIOB {
		t.Errorf("names = %v", names)
	}
}

func TestRefresh(t *testing.T) {
	f := newFixture(t)
	if rec := f.do(http.MethodPost, "/api/refresh"); rec.Code != http.StatusAccepted {
		t.Errorf("code = %d", rec.Code)
	}
	if f.refreshs.Load() != 1 {
		t.Errorf("refresh calls = %d", f.refreshs.Load())
	}
	if rec := f.do(http.MethodGet, "/api/refresh"); rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("GET code = %d, want 405", rec.Code)
	}
}

func TestRefreshUnavailable(t *testing.T) {
	srv, err := NewServer(Config{State: state.NewStore(nightscout.Mgdl)})
	if err != nil {
		t.Fatal(err)
	}
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/refresh", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("code = %d", rec.Code)
	}
}

func TestWebsocketStream(t *testing.T) {
	f := newFixture(t)
	ts := httptest.NewServer(f.srv.Handler())
	defer ts.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+"/ws", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))

	var first state.Snapshot
	if err := conn.ReadJSON(&first); err != nil {
		t.Fatalf("initial snapshot: %v", err)
	}
	if first.Poll == nil {
		t.Error("initial snapshot lacks poll status")
	}

	deadline := time.Now().Add(time.Second)
	for f.srv.Hub().Len() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	updates, unsubscribe := f.st.Subscribe()
	defer unsubscribe()
	go f.srv.Hub().Run(ctx, updates, func(s state.Snapshot) state.Snapshot { return s })

	f.st.Update(func(s *state.Snapshot) { s.LastError = "boom" })

	var next state.Snapshot
	if err := conn.ReadJSON(&next); err != nil {
		t.Fatalf("broadcast: %v", err)
	}
	if next.LastError != "boom" || next.Version != 1 {
		t.Errorf("broadcast = %+v", next)
	}
}

func TestHubDropsClosedClients(t *testing.T) {
	f := newFixture(t)
	ts := httptest.NewServer(f.srv.Handler())
	defer ts.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+"/ws", nil)
	if err != nil {
		t.Fatal(err)
	}
	var first state.Snapshot
	_ = conn.ReadJSON(&first)
	conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		f.srv.Hub().Broadcast(state.Snapshot{})
		if f.srv.Hub().Len() == 0 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Errorf("hub still holds %d clients", f.srv.Hub().Len())
}

func TestHubCloseRejectsNewClients(t *testing.T) {
	f := newFixture(t)
	f.srv.Hub().Close()
	ts := httptest.NewServer(f.srv.Handler())
	defer ts.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+"/ws", nil)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()
	time.Sleep(20 * time.Millisecond)
	if n := f.srv.Hub().Len(); n != 0 {
		t.Errorf("Len = %d after Close", n)
	}
}
