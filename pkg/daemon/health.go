package daemon

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gitlab.com/tinyland/lab/loop-pulse/pkg/cache"
	"gitlab.com/tinyland/lab/loop-pulse/pkg/collectors"
	"gitlab.com/tinyland/lab/loop-pulse/pkg/data"
	"gitlab.com/tinyland/lab/loop-pulse/pkg/poll"
)

// Health is the daemon's self-report, written to the health file and
// returned by the HEALTH command.
type Health struct {
	PID        int                          `json:"pid"`
	Version    string                       `json:"version"`
	Started    time.Time                    `json:"started"`
	Uptime     string                       `json:"uptime"`
	Poll       poll.Status                  `json:"poll"`
	Collectors []collectors.CollectorStatus `json:"collectors"`
	// SnapshotVersion counts state updates since start.
	SnapshotVersion uint64 `json:"snapshot_version"`
	LastError       string `json:"last_error,omitempty"`
	MQTTConnected   *bool  `json:"mqtt_connected,omitempty"`
	Alerting        bool   `json:"alerting"`
	WSClients       int    `json:"ws_clients"`
	// LastPrune is the most recent series maintenance pass.
	LastPrune data.PruneStats `json:"last_prune"`
	Written   time.Time       `json:"written"`
}

// Healthy reports whether the last fetch succeeded and every collector is
// healthy and running on schedule as of Written.
func (h Health) Healthy() bool {
	if h.Poll.ConsecutiveFailures > 0 {
		return false
	}
	for _, c := range h.Collectors {
		if !c.Healthy || c.Overdue(h.Written) {
			return false
		}
	}
	return true
}

// WriteHealthFile writes h as indented JSON, atomically.
func WriteHealthFile(path string, h Health) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("daemon: create health directory: %w", err)
	}
	b, err := json.MarshalIndent(h, "", "  ")
	if err != nil {
		return fmt.Errorf("daemon: marshal health: %w", err)
	}
	return cache.WriteFileAtomic(path, b)
}

// ReadHealthFile parses a health file written by WriteHealthFile.
func ReadHealthFile(path string) (Health, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Health{}, fmt.Errorf("daemon: read health file: %w", err)
	}
	var h Health
	if err := json.Unmarshal(b, &h); err != nil {
		return Health{}, fmt.Errorf("daemon: parse health file: %w", err)
	}
	return h, nil
}
