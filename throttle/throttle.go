// Package throttle implements sliding-window rate limiting of command
// invocations per user, channel, or guild.
//
// State is process-local and resets on restart. It protects a single session
// against bursts; it is not a durable quota.
package throttle

import (
	"fmt"
	"sync"
	"time"

	"github.com/zephyrtronium/warden/deque"
	"github.com/zephyrtronium/warden/syncmap"
)

// Scope is the kind of subject a bucket counts invocations for.
type Scope string

const (
	User    Scope = "user"
	Channel Scope = "channel"
	Guild   Scope = "guild"
)

// ParseScope converts a scope name to a Scope.
func ParseScope(s string) (Scope, error) {
	switch Scope(s) {
	case User, Channel, Guild:
		return Scope(s), nil
	default:
		return "", fmt.Errorf("unknown throttle scope %q", s)
	}
}

// Key identifies a bucket.
type Key struct {
	Scope   Scope
	Subject string
	Command string
}

// Result is the outcome of a check.
type Result struct {
	// Allowed is whether the invocation was admitted and recorded.
	Allowed bool
	// RetryAfter is the time until the oldest recorded invocation leaves the
	// window. It is zero when Allowed is true.
	RetryAfter time.Duration
}

// Limiter is a set of sliding-window buckets.
// It is safe to use concurrently.
type Limiter struct {
	buckets *syncmap.Map[Key, *bucket]
}

type bucket struct {
	mu sync.Mutex
	// times is the invocation times within the window, oldest first.
	times deque.Deque[time.Time]
	// window is the window size of the most recent check.
	window time.Duration
	// last is the time of the most recent check.
	last time.Time
	// dead is set once the bucket is evicted. A checker holding a dead bucket
	// must start over with a fresh one.
	dead bool
}

// New creates an empty limiter.
func New() *Limiter {
	return &Limiter{buckets: syncmap.New[Key, *bucket]()}
}

// Check prunes the bucket for key of invocations older than window and
// records now if fewer than limit remain. A denied check records nothing.
func (l *Limiter) Check(now time.Time, key Key, limit int, window time.Duration) Result {
	for {
		b, _ := l.buckets.LoadOrStore(key, new(bucket))
		b.mu.Lock()
		if b.dead {
			b.mu.Unlock()
			continue
		}
		r := b.check(now, limit, window)
		b.mu.Unlock()
		return r
	}
}

// Undo removes the invocation recorded at t for key, if it is still present.
// It is used to release a slot when a later check in the same request is
// denied.
func (l *Limiter) Undo(key Key, t time.Time) {
	b, ok := l.buckets.Load(key)
	if !ok {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	s := b.times.Slice()
	for i := len(s) - 1; i >= 0; i-- {
		if s[i].Equal(t) {
			kept := make([]time.Time, 0, len(s)-1)
			kept = append(kept, s[:i]...)
			kept = append(kept, s[i+1:]...)
			b.times = b.times.Reset().Append(kept...)
			return
		}
	}
}

func (b *bucket) check(now time.Time, limit int, window time.Duration) Result {
	b.window = window
	b.last = now
	cut := now.Add(-window)
	b.times = b.times.DropFrontWhile(func(t time.Time) bool { return !t.After(cut) })
	if b.times.Len() < limit {
		b.times = b.times.Append(now)
		return Result{Allowed: true}
	}
	oldest, ok := b.times.Front()
	if !ok {
		// A non-positive limit never admits anything.
		return Result{RetryAfter: window}
	}
	return Result{RetryAfter: oldest.Add(window).Sub(now)}
}

// Sweep evicts buckets which are empty after pruning and have been idle for
// at least their window. It returns the number of buckets evicted.
func (l *Limiter) Sweep(now time.Time) int {
	n := 0
	for k, b := range l.buckets.All() {
		b.mu.Lock()
		if b.dead {
			b.mu.Unlock()
			continue
		}
		cut := now.Add(-b.window)
		b.times = b.times.DropFrontWhile(func(t time.Time) bool { return !t.After(cut) })
		if b.times.Len() == 0 && now.Sub(b.last) >= b.window {
			b.dead = true
			l.buckets.Update(k, func(old *bucket, ok bool) (*bucket, bool) {
				return old, ok && old != b
			})
			n++
		}
		b.mu.Unlock()
	}
	return n
}

// Len returns the number of live buckets.
func (l *Limiter) Len() int {
	return l.buckets.Len()
}
