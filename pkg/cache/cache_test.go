package cache

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

type fakeNow struct{ t time.Time }

func (f *fakeNow) Now() time.Time { return f.t }

func newTestStore(t *testing.T, ttl time.Duration) (*Store, *fakeNow) {
	t.Helper()
	clock := &fakeNow{t: time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)}
	s, err := NewStore(StoreConfig{Dir: t.TempDir(), DefaultTTL: ttl, Now: clock.Now})
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	return s, clock
}

func TestNewStoreRequiresDir(t *testing.T) {
	if _, err := NewStore(StoreConfig{}); err == nil {
		t.Fatal("expected error for empty dir")
	}
}

func TestNewStoreCreatesDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "a", "b")
	if _, err := NewStore(StoreConfig{Dir: dir}); err != nil {
		t.Fatal(err)
	}
	if info, err := os.Stat(dir); err != nil || !info.IsDir() {
		t.Fatalf("dir not created: %v", err)
	}
}

func TestPutGet(t *testing.T) {
	s, _ := newTestStore(t, 0)
	if err := s.Put("k", []byte(`{"a":1}`)); err != nil {
		t.Fatal(err)
	}
	got, ok := s.Get("k")
	if !ok || string(got) != `{"a":1}` {
		t.Fatalf("Get = %s, %v", got, ok)
	}
	if _, ok := s.Get("missing"); ok {
		t.Fatal("expected miss")
	}
	st := s.Stats()
	if st.Hits != 1 || st.Misses != 1 {
		t.Errorf("stats = %+v", st)
	}
}

func TestPutRejectsInvalidJSON(t *testing.T) {
	s, _ := newTestStore(t, 0)
	if err := s.Put("k", []byte("not json")); err == nil {
		t.Fatal("expected error")
	}
}

func TestTTLExpiry(t *testing.T) {
	s, clock := newTestStore(t, time.Minute)
	if err := s.Put("k", []byte(`1`)); err != nil {
		t.Fatal(err)
	}
	clock.t = clock.t.Add(59 * time.Second)
	if _, ok := s.Get("k"); !ok {
		t.Fatal("entry expired too early")
	}
	clock.t = clock.t.Add(2 * time.Second)
	if _, err := s.Entry("k"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
	if _, err := os.Stat(s.path(hashKey("k"))); !os.IsNotExist(err) {
		t.Error("expired file should be removed")
	}
}

func TestZeroTTLNeverExpires(t *testing.T) {
	s, clock := newTestStore(t, time.Minute)
	if err := s.PutWithTTL("k", []byte(`1`), 0); err != nil {
		t.Fatal(err)
	}
	clock.t = clock.t.Add(365 * 24 * time.Hour)
	if _, ok := s.Get("k"); !ok {
		t.Fatal("zero TTL entry should not expire")
	}
}

func TestEntryAge(t *testing.T) {
	s, clock := newTestStore(t, 0)
	_ = s.Put("k", []byte(`"v"`))
	clock.t = clock.t.Add(7 * time.Minute)
	e, err := s.Entry("k")
	if err != nil {
		t.Fatal(err)
	}
	if e.Key != "k" || e.Age(clock.t) != 7*time.Minute {
		t.Errorf("entry = %+v age=%v", e, e.Age(clock.t))
	}
}

func TestDeleteAndKeys(t *testing.T) {
	s, _ := newTestStore(t, 0)
	_ = s.Put("a", []byte(`1`))
	_ = s.Put("b", []byte(`2`))
	if keys := s.Keys(); len(keys) != 2 {
		t.Fatalf("Keys = %v", keys)
	}
	if err := s.Delete("a"); err != nil {
		t.Fatal(err)
	}
	if err := s.Delete("a"); err != nil {
		t.Fatalf("second delete: %v", err)
	}
	if keys := s.Keys(); len(keys) != 1 || keys[0] != "b" {
		t.Fatalf("Keys = %v", keys)
	}
}

func TestSweep(t *testing.T) {
	s, clock := newTestStore(t, time.Minute)
	_ = s.Put("old", []byte(`1`))
	_ = s.PutWithTTL("keep", []byte(`1`), 0)
	if err := os.WriteFile(filepath.Join(s.Dir(), "deadbeef"+entrySuffix), []byte("{"), 0o644); err != nil {
		t.Fatal(err)
	}
	clock.t = clock.t.Add(time.Hour)

	if n := s.Sweep(); n != 2 {
		t.Errorf("Sweep removed %d, want 2", n)
	}
	if keys := s.Keys(); len(keys) != 1 || keys[0] != "keep" {
		t.Errorf("Keys after sweep = %v", keys)
	}
}

func TestAtomicWriteLeavesNoTemp(t *testing.T) {
	s, _ := newTestStore(t, 0)
	for i := 0; i < 5; i++ {
		_ = s.Put("k", []byte(`{"n":1}`))
	}
	entries, _ := os.ReadDir(s.Dir())
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), tmpPrefix) {
			t.Errorf("leftover temp file %s", e.Name())
		}
	}
	if len(entries) != 1 {
		t.Errorf("files = %d, want 1", len(entries))
	}
}

type snap struct {
	BG    float64 `json:"bg"`
	State string  `json:"state"`
}

func TestTyped(t *testing.T) {
	s, clock := newTestStore(t, 0)
	if err := PutTyped(s, KeySnapshot, snap{BG: 123, State: "looping"}); err != nil {
		t.Fatal(err)
	}
	got, ok := GetTyped[snap](s, KeySnapshot)
	if !ok || got.BG != 123 || got.State != "looping" {
		t.Fatalf("GetTyped = %+v, %v", got, ok)
	}

	v, at, err := GetTypedEntry[snap](s, KeySnapshot)
	if err != nil || v.BG != 123 || !at.Equal(clock.t) {
		t.Fatalf("GetTypedEntry = %+v %v %v", v, at, err)
	}

	_ = s.Put("bad", []byte(`"string"`))
	if _, ok := GetTyped[snap](s, "bad"); ok {
		t.Error("expected decode failure")
	}
	if _, _, err := GetTypedEntry[snap](s, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v", err)
	}
}

func TestWriteFileAtomic(t *testing.T) {
	path := filepath.Join(t.TempDir(), "health.json")
	if err := WriteFileAtomic(path, []byte(`{}`)); err != nil {
		t.Fatal(err)
	}
	b, err := os.ReadFile(path)
	if err != nil || string(b) != "{}" {
		t.Fatalf("read back %q, %v", b, err)
	}
}

func TestHashKeyStable(t *testing.T) {
	if hashKey("a") != hashKey("a") || hashKey("a") == hashKey("b") || len(hashKey("x/y")) != 24 {
		t.Error("hashKey")
	}
}
