package ratelimiter

import (
	"testing"
	"time"
)

func TestFailureLimiterBlocksAfterBurstAndRefills(t *testing.T) {
	l := New(60, 3, time.Minute)
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		if !l.Allow("scanner", now) {
			t.Fatalf("attempt %d should be allowed", i)
		}
		l.RecordFailure("scanner", now)
	}
	if l.Allow("scanner", now) {
		t.Fatal("expected key to be throttled after burst of failures")
	}
	if !l.Allow("other", now) {
		t.Fatal("other keys must not be affected")
	}
	if !l.Allow("scanner", now.Add(1100*time.Millisecond)) {
		t.Fatal("expected one token to refill after a second")
	}
}

func TestNilFailureLimiterNeverThrottles(t *testing.T) {
	l := New(0, 0, 0)
	if l != nil {
		t.Fatal("invalid args should yield nil limiter")
	}
	l.RecordFailure("k", time.Now())
	if !l.Allow("k", time.Now()) {
		t.Fatal("nil limiter must allow")
	}
}
