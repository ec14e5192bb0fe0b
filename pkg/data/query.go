package data

import "time"

// Since returns the points of a series newer than d before the store clock,
// including future points such as predictions.
func (s *Store) Since(name string, d time.Duration) (*SeriesSnapshot, bool) {
	now := s.cfg.Now()
	return s.GetRange(name, now.Add(-d), now.Add(24*time.Hour))
}
