package share

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"gitlab.com/tinyland/lab/loop-pulse/pkg/collectors/glucose"
)

const testSession = "0f1e2d3c-4b5a-6978-8796-a5b4c3d2e1f0"

// shareServer fakes the two Share endpoints. expireFirst makes the first
// read fail with SessionIdNotFound.
type shareServer struct {
	logins      atomic.Int32
	reads       atomic.Int32
	expireFirst bool
	loginResp   string
	values      string
}

func (s *shareServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch {
	case strings.HasSuffix(r.URL.Path, loginPath):
		s.logins.Add(1)
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body["applicationId"] != ApplicationID || body["accountName"] != "user" {
			w.WriteHeader(http.StatusInternalServerError)
			fmt.Fprint(w, `{"Code":"SSO_AuthenticateAccountNotFound","Message":"not found"}`)
			return
		}
		fmt.Fprint(w, s.loginResp)
	case strings.HasSuffix(r.URL.Path, latestPath):
		n := s.reads.Add(1)
		if r.URL.Query().Get("sessionId") != testSession {
			w.WriteHeader(http.StatusInternalServerError)
			fmt.Fprint(w, `{"Code":"SessionNotValid"}`)
			return
		}
		if s.expireFirst && n == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			fmt.Fprint(w, `{"Code":"SessionIdNotFound","Message":"expired"}`)
			return
		}
		fmt.Fprint(w, s.values)
	default:
		http.NotFound(w, r)
	}
}

func newShareServer(t *testing.T, s *shareServer) *Client {
	t.Helper()
	if s.loginResp == "" {
		s.loginResp = `"` + testSession + `"`
	}
	srv := httptest.NewServer(s)
	t.Cleanup(srv.Close)
	return NewClient(srv.URL, "user", "secret", srv.Client())
}

const twoValues = `[
	{"WT":"Date(1773489900000)","ST":"Date(1773489900000)","DT":"Date(1773489900000-0500)","Value":126,"Trend":"FortyFiveUp"},
	{"WT":"Date(1773489600000)","Value":118,"Trend":3}
]`

func TestLatestGlucose(t *testing.T) {
	s := &shareServer{values: twoValues}
	c := newShareServer(t, s)

	vals, err := c.LatestGlucose(context.Background(), 180, 2)
	if err != nil {
		t.Fatalf("LatestGlucose: %v", err)
	}
	if len(vals) != 2 {
		t.Fatalf("len = %d, want 2", len(vals))
	}
	if vals[0].Value != 126 || vals[0].Trend != "FortyFiveUp" {
		t.Errorf("vals[0] = %+v", vals[0])
	}
	if vals[1].Trend != "FortyFiveUp" {
		t.Errorf("numeric trend 3 = %q, want FortyFiveUp", vals[1].Trend)
	}
	if !vals[0].Time.Equal(time.UnixMilli(1773489900000)) {
		t.Errorf("time = %v", vals[0].Time)
	}

	// Session is reused.
	if _, err := c.LatestGlucose(context.Background(), 180, 2); err != nil {
		t.Fatal(err)
	}
	if got := s.logins.Load(); got != 1 {
		t.Errorf("logins = %d, want 1", got)
	}
}

func TestLatestGlucoseRelogin(t *testing.T) {
	s := &shareServer{values: twoValues, expireFirst: true}
	c := newShareServer(t, s)

	if _, err := c.LatestGlucose(context.Background(), 180, 2); err != nil {
		t.Fatalf("LatestGlucose: %v", err)
	}
	if s.logins.Load() != 2 || s.reads.Load() != 2 {
		t.Errorf("logins=%d reads=%d, want 2 and 2", s.logins.Load(), s.reads.Load())
	}
}

func TestLoginNilSession(t *testing.T) {
	s := &shareServer{loginResp: `"00000000-0000-0000-0000-000000000000"`}
	c := newShareServer(t, s)

	_, err := c.LatestGlucose(context.Background(), 180, 2)
	if !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("err = %v, want ErrInvalidCredentials", err)
	}
}

func TestLoginBadAccount(t *testing.T) {
	srv := httptest.NewServer(&shareServer{})
	t.Cleanup(srv.Close)
	c := NewClient(srv.URL, "someone-else", "secret", srv.Client())

	_, err := c.LatestGlucose(context.Background(), 180, 2)
	if !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("err = %v, want ErrInvalidCredentials", err)
	}
}

func TestParseShareTime(t *testing.T) {
	for _, s := range []string{"Date(1773489900000)", "/Date(1773489900000-0500)/"} {
		got, err := ParseShareTime(s)
		if err != nil {
			t.Errorf("ParseShareTime(%q): %v", s, err)
			continue
		}
		if got.UnixMilli() != 1773489900000 {
			t.Errorf("ParseShareTime(%q) = %v", s, got)
		}
	}
	if _, err := ParseShareTime("yesterday"); err == nil {
		t.Error("expected error for malformed timestamp")
	}
}

func TestParseTrend(t *testing.T) {
	tests := []struct {
		raw, want string
	}{
		{`4`, "Flat"},
		{`7`, "DoubleDown"},
		{`42`, "NONE"},
		{`"SingleUp"`, "SingleUp"},
		{`"NotComputable"`, "NOT COMPUTABLE"},
		{`"None"`, "NONE"},
		{`null`, "NONE"},
	}
	for _, tt := range tests {
		if got := parseTrend(json.RawMessage(tt.raw)); got != tt.want {
			t.Errorf("parseTrend(%s) = %q, want %q", tt.raw, got, tt.want)
		}
	}
}

func TestServerURL(t *testing.T) {
	if ServerURL("EU") != ServerEU || ServerURL("us") != ServerUS || ServerURL("") != ServerUS {
		t.Error("ServerURL region mapping")
	}
}

type fakeGlucose struct {
	vals []GlucoseValue
	err  error
}

func (f *fakeGlucose) LatestGlucose(ctx context.Context, minutes, maxCount int) ([]GlucoseValue, error) {
	return f.vals, f.err
}

func TestCollectorSortsOldestFirst(t *testing.T) {
	base := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	c := New(Config{}, &fakeGlucose{vals: []GlucoseValue{
		{Time: base, Value: 100, Trend: "Flat"},
		{Time: base.Add(-5 * time.Minute), Value: 104, Trend: "Flat"},
	}})

	data, err := c.Collect(context.Background())
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	r := data.(*glucose.Readings)
	if r.Source != glucose.SourceDexcom {
		t.Errorf("Source = %q", r.Source)
	}
	if r.Latest.Mgdl != 100 || r.Delta != -4 {
		t.Errorf("Latest = %v, Delta = %v", r.Latest.Mgdl, r.Delta)
	}
	if c.Name() != "share" || c.Interval() != DefaultInterval {
		t.Errorf("name=%q interval=%v", c.Name(), c.Interval())
	}
}

func TestCollectorError(t *testing.T) {
	c := New(Config{}, &fakeGlucose{err: ErrInvalidCredentials})
	if _, err := c.Collect(context.Background()); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("err = %v", err)
	}
	if c.Healthy() {
		t.Error("collector should be unhealthy")
	}

	c = New(Config{}, &fakeGlucose{})
	if _, err := c.Collect(context.Background()); err == nil {
		t.Error("expected error for empty result")
	}
}
