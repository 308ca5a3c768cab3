package cache

import (
	"testing"
	"time"
)

func TestFreshnessBoundary(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	fresh := NewFreshness(30 * time.Minute).WithClock(func() time.Time { return now })

	testCases := []struct {
		name string
		age  time.Duration
		want bool
	}{
		{"just written", 0, true},
		{"exactly threshold", 30 * time.Minute, true},
		{"one second over", 30*time.Minute + time.Second, false},
		{"a day old", 24 * time.Hour, false},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			entry := &Entry{Timestamp: now.Add(-tc.age)}
			if got := fresh.IsFresh(entry); got != tc.want {
				t.Fatalf("IsFresh(%s) = %v, want %v", tc.age, got, tc.want)
			}
		})
	}
}

func TestFreshnessMissingDateIsStale(t *testing.T) {
	fresh := NewFreshness(time.Hour)
	if fresh.IsFresh(&Entry{}) {
		t.Fatalf("entry without Date should be stale")
	}
}

func TestNewFreshnessDefaultsThreshold(t *testing.T) {
	if got := NewFreshness(0).Threshold(); got != DefaultFreshness {
		t.Fatalf("expected default threshold, got %s", got)
	}
}
