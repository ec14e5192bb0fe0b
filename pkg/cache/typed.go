package cache

import (
	"encoding/json"
	"fmt"
	"time"
)

// Well-known keys.
const (
	KeySnapshot = "loop.snapshot"
	KeyStatus   = "daemon.status"
)

// GetTyped deserializes a cached JSON value into T. Returns the zero value
// and false if the key is missing, expired, or does not decode as T.
func GetTyped[T any](s *Store, key string) (T, bool) {
	var v T
	data, ok := s.Get(key)
	if !ok {
		return v, false
	}
	if err := json.Unmarshal(data, &v); err != nil {
		var zero T
		return zero, false
	}
	return v, true
}

// GetTypedEntry is GetTyped that also reports when the value was written.
func GetTypedEntry[T any](s *Store, key string) (T, time.Time, error) {
	var v T
	e, err := s.Entry(key)
	if err != nil {
		return v, time.Time{}, err
	}
	if err := json.Unmarshal(e.Data, &v); err != nil {
		return v, time.Time{}, fmt.Errorf("cache: decode %q: %w", key, err)
	}
	return v, e.Created, nil
}

// PutTyped serializes value as JSON and stores it with the default TTL.
func PutTyped[T any](s *Store, key string, value T) error {
	return PutTypedWithTTL(s, key, value, s.cfg.DefaultTTL)
}

// PutTypedWithTTL serializes value as JSON and stores it with a custom TTL.
func PutTypedWithTTL[T any](s *Store, key string, value T, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("cache: marshal typed value for %q: %w", key, err)
	}
	return s.PutWithTTL(key, data, ttl)
}
