package adapters

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	ports "github.com/ZanzyTHEbar/journey-chat/jchat/harness/ports"
)

// ErrRateLimitExceeded is returned when no token becomes available within the wait budget.
var ErrRateLimitExceeded = errors.New("rate limit exceeded")

// TokenBucket is a per-key token bucket. Acquire waits for a refill up to maxWait.
type TokenBucket struct {
	mu         sync.Mutex
	buckets    map[string]*bucket
	capacity   int
	refillRate time.Duration // one token per refillRate
	maxWait    time.Duration
	now        func() time.Time
}

type bucket struct {
	tokens     int
	lastRefill time.Time
}

// NewTokenBucket creates a limiter with the given burst capacity and refill interval.
func NewTokenBucket(capacity int, refillRate time.Duration) *TokenBucket {
	if capacity < 1 {
		capacity = 1
	}
	if refillRate <= 0 {
		refillRate = time.Second
	}
	return &TokenBucket{
		buckets:    make(map[string]*bucket),
		capacity:   capacity,
		refillRate: refillRate,
		maxWait:    5 * time.Second,
		now:        time.Now,
	}
}

// WithMaxWait bounds how long Acquire blocks. Zero fails immediately when empty.
func (tb *TokenBucket) WithMaxWait(d time.Duration) *TokenBucket {
	tb.maxWait = d
	return tb
}

// Acquire takes one token for key. The returned release is a no-op kept for the port contract.
func (tb *TokenBucket) Acquire(ctx context.Context, key string) (func(), error) {
	deadline := tb.now().Add(tb.maxWait)
	for {
		wait, ok := tb.take(key)
		if ok {
			return func() {}, nil
		}
		if tb.now().Add(wait).After(deadline) {
			return nil, fmt.Errorf("%w for %s", ErrRateLimitExceeded, key)
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, fmt.Errorf("%w for %s: %v", ErrRateLimitExceeded, key, ctx.Err())
		case <-timer.C:
		}
	}
}

// take consumes a token or reports how long until the next one.
func (tb *TokenBucket) take(key string) (time.Duration, bool) {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	now := tb.now()
	b, exists := tb.buckets[key]
	if !exists {
		b = &bucket{tokens: tb.capacity, lastRefill: now}
		tb.buckets[key] = b
	}

	if refills := int(now.Sub(b.lastRefill) / tb.refillRate); refills > 0 {
		b.tokens = min(b.tokens+refills, tb.capacity)
		b.lastRefill = b.lastRefill.Add(time.Duration(refills) * tb.refillRate)
	}

	if b.tokens > 0 {
		b.tokens--
		return 0, true
	}
	return b.lastRefill.Add(tb.refillRate).Sub(now), false
}

var _ ports.RateLimiter = (*TokenBucket)(nil)
