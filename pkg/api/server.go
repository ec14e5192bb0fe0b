// Package api serves the daemon's state over HTTP: a health check, the
// current snapshot, time-series history, a manual refresh trigger and a
// websocket stream of snapshots.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"time"

	"github.com/gorilla/mux"

	"gitlab.com/tinyland/lab/loop-pulse/pkg/data"
	"gitlab.com/tinyland/lab/loop-pulse/pkg/poll"
	"gitlab.com/tinyland/lab/loop-pulse/pkg/state"
)

const (
	defaultSeriesWindow = 3 * time.Hour
	maxSeriesWindow     = 48 * time.Hour
	shutdownTimeout     = 5 * time.Second
)

// Config wires a Server.
type Config struct {
	Addr   string
	State  *state.Store
	Series *data.Store
	// PollStatus reports the scheduler status; nil omits it.
	PollStatus func() poll.Status
	// Refresh triggers an immediate fetch; nil disables POST /api/refresh.
	Refresh func()
	// Health adds daemon details to /health; nil returns only "ok".
	Health func() any
	Logger *slog.Logger
}

// Server is the HTTP API.
type Server struct {
	cfg    Config
	hub    *Hub
	router *mux.Router
	log    *slog.Logger
}

// NewServer builds the router. It does not start listening.
func NewServer(cfg Config) (*Server, error) {
	if cfg.State == nil {
		return nil, errors.New("api: state store is required")
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	s := &Server{cfg: cfg, log: log.With("component", "api")}
	s.hub = NewHub(s.log)
	s.router = s.routes()
	return s, nil
}

// Hub returns the websocket hub so callers can broadcast snapshots.
func (s *Server) Hub() *Hub { return s.hub }

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) routes() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/api/status", s.handleStatus).Methods(http.MethodGet)
	r.HandleFunc("/api/series", s.handleSeriesList).Methods(http.MethodGet)
	r.HandleFunc("/api/series/{name}", s.handleSeries).Methods(http.MethodGet)
	r.HandleFunc("/api/refresh", s.handleRefresh).Methods(http.MethodPost)
	r.HandleFunc("/ws", s.handleWS).Methods(http.MethodGet)
	return r
}

// Snapshot returns the current snapshot with the poll status attached.
func (s *Server) Snapshot() state.Snapshot {
	snap := s.cfg.State.Snapshot()
	if s.cfg.PollStatus != nil {
		ps := s.cfg.PollStatus()
		snap.Poll = &ps
	}
	return snap
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	body := map[string]any{"status": "ok"}
	if s.cfg.Health != nil {
		body["daemon"] = s.cfg.Health()
	}
	writeJSON(w, http.StatusOK, body)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.Snapshot())
}

func (s *Server) handleSeriesList(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Series == nil {
		writeJSON(w, http.StatusOK, []string{})
		return
	}
	writeJSON(w, http.StatusOK, s.cfg.Series.ListSeries())
}

type seriesResponse struct {
	Name   string       `json:"name"`
	Since  string       `json:"since"`
	Points []data.Point `json:"points"`
	Min    *float64     `json:"min,omitempty"`
	Max    *float64     `json:"max,omitempty"`
	// Latest is the newest point even when it is older than the window.
	Latest *data.Point `json:"latest,omitempty"`
}

// handleSeries serves GET /api/series/{name}?since=3h.
func (s *Server) handleSeries(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	if s.cfg.Series == nil || !slices.Contains(data.KnownSeries, name) {
		writeError(w, http.StatusNotFound, fmt.Sprintf("unknown series %q", name))
		return
	}
	window := defaultSeriesWindow
	if v := r.URL.Query().Get("since"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 || d > maxSeriesWindow {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("since must be a duration up to %s", maxSeriesWindow))
			return
		}
		window = d
	}
	resp := seriesResponse{Name: name, Since: window.String(), Points: []data.Point{}}
	if snap, ok := s.cfg.Series.Since(name, window); ok && snap.Len() > 0 {
		resp.Points = snap.Points()
		lo, hi := snap.Min(), snap.Max()
		resp.Min, resp.Max = &lo, &hi
	}
	if t, v, ok := s.cfg.Series.GetLatest(name); ok {
		resp.Latest = &data.Point{Time: t, Value: v}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Refresh == nil {
		writeError(w, http.StatusServiceUnavailable, "refresh not available")
		return
	}
	s.cfg.Refresh()
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "refresh requested"})
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	if err := s.hub.Serve(w, r, s.Snapshot()); err != nil {
		s.log.Debug("websocket upgrade failed", "error", err)
	}
}

// ListenAndServe serves on cfg.Addr until ctx is cancelled, then shuts down
// gracefully and closes every websocket.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errc := make(chan error, 1)
	go func() {
		s.log.Info("http api listening", "addr", s.cfg.Addr)
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("api: listen %s: %w", s.cfg.Addr, err)
	case <-ctx.Done():
	}

	s.hub.Close()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("api: shutdown: %w", err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
