package alert

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"gitlab.com/tinyland/lab/loop-pulse/pkg/collectors/glucose"
	"gitlab.com/tinyland/lab/loop-pulse/pkg/nightscout"
	"gitlab.com/tinyland/lab/loop-pulse/pkg/state"
)

type recordingSender struct {
	subjects []string
	bodies   []string
	err      error
}

func (r *recordingSender) Send(ctx context.Context, subject, body string) error {
	if r.err != nil {
		return r.err
	}
	r.subjects = append(r.subjects, subject)
	r.bodies = append(r.bodies, body)
	return nil
}

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }

var start = time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)

func snapAt(loop time.Time) state.Snapshot {
	iob := 0.8
	return state.Snapshot{
		Loop:    &nightscout.DeviceStatus{LoopTime: loop, State: nightscout.NotLooping, IOB: &iob},
		Glucose: &glucose.Readings{Latest: glucose.Reading{Time: loop, Mgdl: 180, Direction: "Flat"}},
	}
}

func TestEvaluateLifecycle(t *testing.T) {
	c := &clock{t: start}
	s := &recordingSender{}
	e := NewEvaluator(s, Config{Units: nightscout.Mgdl, Now: c.now})
	ctx := context.Background()
	lastLoop := start.Add(-5 * time.Minute)

	if sent, _ := e.Evaluate(ctx, snapAt(lastLoop)); sent {
		t.Fatal("should not alert while looping")
	}

	c.t = lastLoop.Add(16 * time.Minute)
	if sent, err := e.Evaluate(ctx, snapAt(lastLoop)); !sent || err != nil {
		t.Fatalf("expected first alert, sent=%v err=%v", sent, err)
	}
	if !e.Alerting() || s.subjects[0] != "Not looping for 16 minutes" {
		t.Errorf("subject = %q", s.subjects[0])
	}
	if !strings.Contains(s.bodies[0], "Glucose: 180 mg/dL →") || !strings.Contains(s.bodies[0], "IOB: 0.80U") {
		t.Errorf("body = %q", s.bodies[0])
	}

	c.t = c.t.Add(10 * time.Minute)
	if sent, _ := e.Evaluate(ctx, snapAt(lastLoop)); sent {
		t.Error("repeat sent before the repeat interval")
	}
	c.t = c.t.Add(21 * time.Minute)
	if sent, _ := e.Evaluate(ctx, snapAt(lastLoop)); !sent {
		t.Error("repeat not sent after the repeat interval")
	}

	// Looping resumes: reset without a message.
	if sent, _ := e.Evaluate(ctx, snapAt(c.t.Add(-time.Minute))); sent {
		t.Error("recovery should be silent")
	}
	if e.Alerting() || e.Sent() != 2 {
		t.Errorf("alerting=%v sent=%d", e.Alerting(), e.Sent())
	}
}

func TestEvaluateSendFailureRetries(t *testing.T) {
	c := &clock{t: start}
	s := &recordingSender{err: errors.New("smtp down")}
	e := NewEvaluator(s, Config{Threshold: 10 * time.Minute, Now: c.now})
	old := snapAt(start.Add(-20 * time.Minute))

	if _, err := e.Evaluate(context.Background(), old); err == nil {
		t.Fatal("expected send error")
	}
	if e.Alerting() {
		t.Error("failed send should not mark alerting")
	}
	s.err = nil
	if sent, _ := e.Evaluate(context.Background(), old); !sent {
		t.Error("next evaluation should retry")
	}
}

func TestEvaluateUnknownLoop(t *testing.T) {
	e := NewEvaluator(&recordingSender{}, Config{})
	if sent, err := e.Evaluate(context.Background(), state.Snapshot{}); sent || err != nil {
		t.Errorf("sent=%v err=%v", sent, err)
	}
}

func TestRunStopsOnClose(t *testing.T) {
	c := &clock{t: start}
	s := &recordingSender{}
	e := NewEvaluator(s, Config{Now: c.now})
	ch := make(chan state.Snapshot, 1)
	ch <- snapAt(start.Add(-time.Hour))
	close(ch)
	e.Run(context.Background(), ch)
	if len(s.subjects) != 1 {
		t.Errorf("sent %d alerts, want 1", len(s.subjects))
	}
}

func TestMailgunSender(t *testing.T) {
	var gotPath, gotUser, gotTo, gotSubject string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotUser, _, _ = r.BasicAuth()
		_ = r.ParseMultipartForm(1 << 20)
		gotTo = r.FormValue("to")
		gotSubject = r.FormValue("subject")
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"id":"<20260314.1@mg.example.com>","message":"Queued. Thank you."}`)
	}))
	defer srv.Close()

	s, err := NewMailgunSender(MailgunConfig{
		Domain:     "mg.example.com",
		APIKey:     "key-test",
		Sender:     "loop-pulse <alerts@mg.example.com>",
		Recipients: []string{"parent@example.com"},
		APIBase:    srv.URL + "/v3",
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Send(context.Background(), "Not looping", "body"); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if gotPath != "/v3/mg.example.com/messages" || gotUser != "api" {
		t.Errorf("path=%q user=%q", gotPath, gotUser)
	}
	if gotTo != "parent@example.com" || gotSubject != "Not looping" {
		t.Errorf("to=%q subject=%q", gotTo, gotSubject)
	}
}

func TestNewMailgunSenderValidates(t *testing.T) {
	if _, err := NewMailgunSender(MailgunConfig{Domain: "d"}); err == nil {
		t.Error("expected error without api key")
	}
	if _, err := NewMailgunSender(MailgunConfig{Domain: "d", APIKey: "k"}); err == nil {
		t.Error("expected error without recipients")
	}
}
