// Package cache persists small JSON documents (the latest loop snapshot and
// daemon status) on disk so that short-lived processes such as the prompt
// segment and a freshly started TUI can render without a network round trip.
package cache

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

const (
	entrySuffix = ".cache"
	tmpPrefix   = ".tmp-"
)

// ErrNotFound is returned by Entry when the key is missing or expired.
var ErrNotFound = errors.New("cache: not found")

// StoreConfig holds configuration for a cache Store.
type StoreConfig struct {
	// Dir is the directory path where cache files are stored.
	Dir string

	// DefaultTTL is the default time-to-live for entries. Zero means entries
	// never expire by TTL.
	DefaultTTL time.Duration

	// Now overrides the clock in tests.
	Now func() time.Time
}

// CacheStats holds runtime statistics for a cache Store.
type CacheStats struct {
	Hits    int64
	Misses  int64
	Expired int64
}

// envelope is the on-disk form of one entry.
type envelope struct {
	Key     string          `json:"key"`
	Created time.Time       `json:"created"`
	TTLNS   int64           `json:"ttl_ns"` // 0 = no TTL
	Data    json.RawMessage `json:"data"`
}

func (e envelope) expired(now time.Time) bool {
	return e.TTLNS > 0 && now.Sub(e.Created) > time.Duration(e.TTLNS)
}

// Entry describes a stored value without decoding it.
type Entry struct {
	Key     string
	Created time.Time
	TTL     time.Duration
	Data    []byte
}

// Age returns how long ago the entry was written.
func (e Entry) Age(now time.Time) time.Duration { return now.Sub(e.Created) }

// Store is a disk-backed key-value store with TTL expiry. Each entry is one
// file named by the hash of its key. Writes are atomic via
// temp-file-then-rename, so concurrent readers in other processes never see
// a partial document.
type Store struct {
	cfg StoreConfig

	mu      sync.Mutex
	hits    int64
	misses  int64
	expired int64
}

// NewStore creates a cache Store, creating the directory if needed.
func NewStore(cfg StoreConfig) (*Store, error) {
	if cfg.Dir == "" {
		return nil, errors.New("cache: directory is required")
	}
	if cfg.DefaultTTL < 0 {
		cfg.DefaultTTL = 0
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("cache: create directory %s: %w", cfg.Dir, err)
	}
	return &Store{cfg: cfg}, nil
}

// Dir returns the cache directory.
func (s *Store) Dir() string { return s.cfg.Dir }

// Entry returns the stored entry for key. Expired entries are removed and
// reported as ErrNotFound.
func (s *Store) Entry(key string) (Entry, error) {
	env, err := s.read(hashKey(key))
	if err != nil {
		s.count(&s.misses)
		return Entry{}, err
	}
	if env.expired(s.cfg.Now()) {
		_ = os.Remove(s.path(hashKey(key)))
		s.count(&s.expired)
		s.count(&s.misses)
		return Entry{}, ErrNotFound
	}
	s.count(&s.hits)
	return Entry{
		Key:     env.Key,
		Created: env.Created,
		TTL:     time.Duration(env.TTLNS),
		Data:    env.Data,
	}, nil
}

// Get retrieves the raw JSON for key. Returns (nil, false) if the key is
// missing, expired or unreadable.
func (s *Store) Get(key string) ([]byte, bool) {
	e, err := s.Entry(key)
	if err != nil {
		return nil, false
	}
	return e.Data, true
}

// Put stores raw JSON under key with the default TTL.
func (s *Store) Put(key string, value []byte) error {
	return s.PutWithTTL(key, value, s.cfg.DefaultTTL)
}

// PutWithTTL stores raw JSON under key with a custom TTL. Zero never
// expires.
func (s *Store) PutWithTTL(key string, value []byte, ttl time.Duration) error {
	if !json.Valid(value) {
		return fmt.Errorf("cache: value for %q is not valid JSON", key)
	}
	env := envelope{
		Key:     key,
		Created: s.cfg.Now(),
		TTLNS:   int64(ttl),
		Data:    value,
	}
	b, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("cache: marshal %q: %w", key, err)
	}
	if err := atomicWrite(s.path(hashKey(key)), b, s.cfg.Dir); err != nil {
		return fmt.Errorf("cache: write %q: %w", key, err)
	}
	return nil
}

// Delete removes an entry. Missing keys are not an error.
func (s *Store) Delete(key string) error {
	err := os.Remove(s.path(hashKey(key)))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("cache: delete %q: %w", key, err)
	}
	return nil
}

// Keys returns the keys of all live entries.
func (s *Store) Keys() []string {
	var keys []string
	now := s.cfg.Now()
	s.walk(func(hash string, env envelope) {
		if !env.expired(now) {
			keys = append(keys, env.Key)
		}
	})
	return keys
}

// Sweep removes expired and corrupt entries plus stale temp files, and
// returns how many files were removed.
func (s *Store) Sweep() int {
	now := s.cfg.Now()
	removed := 0
	entries, err := os.ReadDir(s.cfg.Dir)
	if err != nil {
		return 0
	}
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() {
			continue
		}
		switch {
		case strings.HasPrefix(name, tmpPrefix):
			if info, err := e.Info(); err == nil && now.Sub(info.ModTime()) > time.Minute {
				if os.Remove(filepath.Join(s.cfg.Dir, name)) == nil {
					removed++
				}
			}
		case strings.HasSuffix(name, entrySuffix):
			hash := strings.TrimSuffix(name, entrySuffix)
			env, err := s.read(hash)
			if err != nil || env.expired(now) {
				if os.Remove(s.path(hash)) == nil {
					removed++
					s.count(&s.expired)
				}
			}
		}
	}
	return removed
}

// Stats returns a snapshot of cache statistics.
func (s *Store) Stats() CacheStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return CacheStats{Hits: s.hits, Misses: s.misses, Expired: s.expired}
}

func (s *Store) count(n *int64) {
	s.mu.Lock()
	*n++
	s.mu.Unlock()
}

func (s *Store) path(hash string) string {
	return filepath.Join(s.cfg.Dir, hash+entrySuffix)
}

func (s *Store) read(hash string) (envelope, error) {
	var env envelope
	b, err := os.ReadFile(s.path(hash))
	if errors.Is(err, os.ErrNotExist) {
		return env, ErrNotFound
	}
	if err != nil {
		return env, fmt.Errorf("cache: read: %w", err)
	}
	if err := json.Unmarshal(b, &env); err != nil {
		return env, fmt.Errorf("cache: decode: %w", err)
	}
	return env, nil
}

func (s *Store) walk(fn func(hash string, env envelope)) {
	entries, err := os.ReadDir(s.cfg.Dir)
	if err != nil {
		return
	}
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, entrySuffix) {
			continue
		}
		hash := strings.TrimSuffix(name, entrySuffix)
		if env, err := s.read(hash); err == nil {
			fn(hash, env)
		}
	}
}

// atomicWrite writes data to path via a temporary file and rename.
func atomicWrite(path string, data []byte, tmpDir string) error {
	tmp, err := os.CreateTemp(tmpDir, tmpPrefix+"*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	success := false
	defer func() {
		if !success {
			_ = os.Remove(tmpName)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		return err
	}
	success = true
	return nil
}

// WriteFileAtomic writes data to path through a temp file in the same
// directory. The daemon uses it for its health file.
func WriteFileAtomic(path string, data []byte) error {
	if err := atomicWrite(path, data, filepath.Dir(path)); err != nil {
		return fmt.Errorf("cache: write %s: %w", path, err)
	}
	return nil
}
