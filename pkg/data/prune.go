package data

import (
	"sort"
	"time"
)

// PruneStats holds metrics from the most recent prune cycle.
type PruneStats struct {
	PointsRemoved int       `json:"points_removed"`
	SeriesPruned  int       `json:"series_pruned"`
	At            time.Time `json:"at"`
}

// Prune removes data points older than each series' effective retention.
// A series with no points left is removed.
func (s *Store) Prune() PruneStats {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.cfg.Now()
	stats := PruneStats{At: now}

	for name, ser := range s.series {
		cutoff := now.Add(-s.retentionFor(ser))
		idx := sort.Search(len(ser.Times), func(i int) bool {
			return ser.Times[i].After(cutoff)
		})
		if idx == 0 {
			continue
		}
		stats.PointsRemoved += idx
		stats.SeriesPruned++

		if idx == len(ser.Times) {
			delete(s.series, name)
			continue
		}
		// Compact when more than half is dropped so the backing array is
		// released.
		if idx > len(ser.Times)/2 {
			ser.Times = append([]time.Time(nil), ser.Times[idx:]...)
			ser.Values = append([]float64(nil), ser.Values[idx:]...)
		} else {
			ser.Times = ser.Times[idx:]
			ser.Values = ser.Values[idx:]
		}
	}

	s.lastPruneStats = stats
	return stats
}

// PruneStats returns the metrics from the most recent Prune call.
func (s *Store) PruneStats() PruneStats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastPruneStats
}
