package ratelimit_test

import (
	"errors"
	"testing"
	"time"

	"issuelab/internal/ratelimit"
)

func fixedClock(at time.Time) func() time.Time {
	return func() time.Time { return at }
}

func TestBudgetExhaustionAtTwentyOneSearches(t *testing.T) {
	start := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	l := ratelimit.New(100, time.Minute)
	l.Now = fixedClock(start)

	for i := 0; i < 20; i++ {
		if err := l.Admit("alice", 5); err != nil {
			t.Fatalf("request %d: unexpected rejection: %v", i+1, err)
		}
	}
	err := l.Admit("alice", 5)
	var le *ratelimit.LimitError
	if !errors.As(err, &le) {
		t.Fatalf("21st request: want LimitError, got %v", err)
	}
	if le.RetryAfter < time.Second {
		t.Fatalf("retryAfter = %s, want >= 1s", le.RetryAfter)
	}
	if le.Remaining != 0 {
		t.Fatalf("remaining = %d, want 0", le.Remaining)
	}
	if want := start.Add(time.Minute); !le.ResetAt.Equal(want) {
		t.Fatalf("resetAt = %s, want %s", le.ResetAt, want)
	}
}

func TestWindowSlidesEntriesOut(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	l := ratelimit.New(10, time.Minute)
	l.Now = func() time.Time { return now }

	if err := l.Admit("bob", 10); err != nil {
		t.Fatalf("fill budget: %v", err)
	}
	if err := l.Admit("bob", 1); err == nil {
		t.Fatal("over budget: want rejection")
	}
	now = now.Add(61 * time.Second)
	if err := l.Admit("bob", 10); err != nil {
		t.Fatalf("after window slide: %v", err)
	}
}

func TestCredentialsAreIsolated(t *testing.T) {
	l := ratelimit.New(5, time.Minute)
	l.Now = fixedClock(time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC))

	if err := l.Admit("alice", 5); err != nil {
		t.Fatalf("alice: %v", err)
	}
	if err := l.Admit("bob", 5); err != nil {
		t.Fatalf("bob should have an independent budget: %v", err)
	}
}

func TestForceRejectFiresExactlyOnce(t *testing.T) {
	l := ratelimit.New(100, time.Minute)
	l.Now = fixedClock(time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC))

	l.ForceReject("alice")
	l.ForceReject("alice") // idempotent, still one shot

	var le *ratelimit.LimitError
	if err := l.Admit("alice", 1); !errors.As(err, &le) {
		t.Fatalf("first admit after flag: want LimitError, got %v", err)
	}
	if err := l.Admit("alice", 1); err != nil {
		t.Fatalf("second admit: flag must be consumed, got %v", err)
	}
}

func TestRejectionDoesNotConsumeBudget(t *testing.T) {
	l := ratelimit.New(10, time.Minute)
	l.Now = fixedClock(time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC))

	if err := l.Admit("carol", 8); err != nil {
		t.Fatalf("first: %v", err)
	}
	if err := l.Admit("carol", 5); err == nil {
		t.Fatal("second: want rejection")
	}
	// The rejected request must not count against the window.
	if err := l.Admit("carol", 2); err != nil {
		t.Fatalf("third should fit in remaining budget: %v", err)
	}
}
