package poll

import (
	"testing"
	"time"
)

func TestNextDelayBuckets(t *testing.T) {
	tests := []struct {
		elapsed time.Duration
		want    time.Duration
	}{
		{0, 310 * time.Second},
		{120 * time.Second, 190 * time.Second},
		{299 * time.Second, 11 * time.Second},
		{300 * time.Second, 10 * time.Second},
		{309 * time.Second, 10 * time.Second},
		{419 * time.Second, 10 * time.Second},
		{420 * time.Second, 30 * time.Second},
		{599 * time.Second, 30 * time.Second},
		{600 * time.Second, 60 * time.Second},
		{1199 * time.Second, 60 * time.Second},
		{1200 * time.Second, 300 * time.Second},
		{24 * time.Hour, 300 * time.Second},
	}

	for _, tt := range tests {
		if got := NextDelay(tt.elapsed); got != tt.want {
			t.Errorf("NextDelay(%v) = %v, want %v", tt.elapsed, got, tt.want)
		}
	}
}

func TestNextDelaySecondsMatchesDuration(t *testing.T) {
	for _, s := range []float64{0, 1, 120, 299.5, 300, 419.9, 420, 600, 1200, 5000} {
		want := NextDelay(time.Duration(s * float64(time.Second))).Seconds()
		if got := NextDelaySeconds(s); got != want {
			t.Errorf("NextDelaySeconds(%v) = %v, want %v", s, got, want)
		}
	}
}

func TestNextDelaySecondsBoundaries(t *testing.T) {
	tests := []struct {
		elapsed, want float64
	}{
		{0, 310},
		{309, 10},
		{299, 11},
		{0.5, 309.5},
	}
	for _, tt := range tests {
		if got := NextDelaySeconds(tt.elapsed); got != tt.want {
			t.Errorf("NextDelaySeconds(%v) = %v, want %v", tt.elapsed, got, tt.want)
		}
	}
}

func TestNextDelayNegativeElapsedClamped(t *testing.T) {
	if got := NextDelay(-30 * time.Second); got != 310*time.Second {
		t.Errorf("NextDelay(-30s) = %v, want 310s", got)
	}
	if got := NextDelaySeconds(-1); got != 310 {
		t.Errorf("NextDelaySeconds(-1) = %v, want 310", got)
	}
}

func TestNextDelayNeverNegative(t *testing.T) {
	for s := 0; s <= 2000; s++ {
		if d := NextDelay(time.Duration(s) * time.Second); d < 0 {
			t.Fatalf("NextDelay(%ds) = %v, want >= 0", s, d)
		}
	}
}
