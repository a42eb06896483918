// Package ratelimit implements per-credential sliding-window admission
// control. Each credential has a budget of weighted request costs over a
// trailing window; the caller supplies the cost of the operation it is about
// to perform.
package ratelimit

import (
	"fmt"
	"sync"
	"time"
)

const (
	DefaultWindow = 60 * time.Second
	DefaultLimit  = 100
)

// LimitError carries the retry metadata a rejected caller needs to back off.
type LimitError struct {
	RetryAfter time.Duration `json:"retry_after"`
	Remaining  int           `json:"remaining"`
	ResetAt    time.Time     `json:"reset_at"`
}

func (e *LimitError) Error() string {
	return fmt.Sprintf("rate limit exceeded; retry after %s", e.RetryAfter)
}

type entry struct {
	at   time.Time
	cost int
}

type bucket struct {
	mu          sync.Mutex
	entries     []entry
	forceReject bool
}

// Limiter admits or rejects requests per credential. Buckets are partitioned
// per credential and locked individually.
type Limiter struct {
	window time.Duration
	limit  int

	mu      sync.Mutex
	buckets map[string]*bucket

	Now func() time.Time
}

func New(limit int, window time.Duration) *Limiter {
	if limit <= 0 {
		limit = DefaultLimit
	}
	if window <= 0 {
		window = DefaultWindow
	}
	return &Limiter{
		window:  window,
		limit:   limit,
		buckets: make(map[string]*bucket),
		Now:     time.Now,
	}
}

func (l *Limiter) bucketFor(credential string) *bucket {
	l.mu.Lock()
	defer l.mu.Unlock()
	b, ok := l.buckets[credential]
	if !ok {
		b = &bucket{}
		l.buckets[credential] = b
	}
	return b
}

// Admit checks the credential's budget and, on success, records the cost.
// On rejection it returns a LimitError with the time until the oldest entry
// expires (minimum one second), the budget still unused, and the expiry
// timestamp of the oldest entry.
func (l *Limiter) Admit(credential string, cost int) error {
	now := l.now()
	b := l.bucketFor(credential)
	b.mu.Lock()
	defer b.mu.Unlock()

	// Drop entries that have slid out of the window.
	cutoff := now.Add(-l.window)
	kept := b.entries[:0]
	for _, e := range b.entries {
		if e.at.After(cutoff) {
			kept = append(kept, e)
		}
	}
	b.entries = kept

	sum := 0
	for _, e := range b.entries {
		sum += e.cost
	}

	if b.forceReject {
		// One-shot test hook: consumed on first use, never fires twice.
		b.forceReject = false
		return l.limitError(now, b.entries, sum)
	}

	if sum+cost > l.limit {
		return l.limitError(now, b.entries, sum)
	}
	b.entries = append(b.entries, entry{at: now, cost: cost})
	return nil
}

func (l *Limiter) limitError(now time.Time, entries []entry, sum int) *LimitError {
	resetAt := now.Add(l.window)
	if len(entries) > 0 {
		resetAt = entries[0].at.Add(l.window)
	}
	retryAfter := resetAt.Sub(now)
	if retryAfter < time.Second {
		retryAfter = time.Second
	}
	remaining := l.limit - sum
	if remaining < 0 {
		remaining = 0
	}
	return &LimitError{
		RetryAfter: retryAfter,
		Remaining:  remaining,
		ResetAt:    resetAt,
	}
}

// ForceReject flags a credential for exactly one forced rejection regardless
// of budget. Flagging an already-flagged credential is a no-op.
func (l *Limiter) ForceReject(credential string) {
	b := l.bucketFor(credential)
	b.mu.Lock()
	b.forceReject = true
	b.mu.Unlock()
}

func (l *Limiter) now() time.Time {
	if l.Now != nil {
		return l.Now()
	}
	return time.Now()
}
