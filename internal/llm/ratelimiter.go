// Token-bucket rate limiter for the LLM gateway, per spec.md section 4.3:
// capacity `burst`, refilling at `rate` tokens per second, one logical
// bucket per operation ("chat", "embed"). A non-blocking TryAcquire
// returns false immediately when no token is available; Acquire sleeps
// for the computed refill delay and retries until granted or the context
// is cancelled.
//
// This is hand-rolled rather than built on golang.org/x/time/rate: see
// DESIGN.md for why that library's Wait doesn't expose the distinct
// sync/async call shapes the spec requires.
package llm

import (
	"context"
	"sync"
	"time"
)

// TokenBucket is a single named rate-limited operation's bucket.
type TokenBucket struct {
	rate  float64 // tokens per second
	burst float64 // bucket capacity

	mu     sync.Mutex
	tokens float64
	last   time.Time
}

// NewTokenBucket constructs a bucket starting full.
func NewTokenBucket(rate float64, burst int) *TokenBucket {
	return &TokenBucket{
		rate:   rate,
		burst:  float64(burst),
		tokens: float64(burst),
		last:   time.Now(),
	}
}

func (b *TokenBucket) refill(now time.Time) {
	elapsed := now.Sub(b.last).Seconds()
	if elapsed <= 0 {
		return
	}
	b.tokens += elapsed * b.rate
	if b.tokens > b.burst {
		b.tokens = b.burst
	}
	b.last = now
}

// TryAcquire attempts to consume one token immediately, returning false
// without blocking if none is available.
func (b *TokenBucket) TryAcquire() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refill(time.Now())
	if b.tokens >= 1 {
		b.tokens--
		return true
	}
	return false
}

// delayForNextToken returns how long to wait until at least one token
// will be available, assuming the bucket state observed under lock.
func (b *TokenBucket) delayForNextToken() time.Duration {
	if b.rate <= 0 {
		return time.Duration(1<<63 - 1) // effectively "never", rate=0 means burst-only
	}
	missing := 1 - b.tokens
	if missing <= 0 {
		return 0
	}
	return time.Duration(missing / b.rate * float64(time.Second))
}

// Acquire blocks, sleeping for the computed refill delay and retrying,
// until a token is granted or ctx is cancelled.
func (b *TokenBucket) Acquire(ctx context.Context) error {
	for {
		b.mu.Lock()
		b.refill(time.Now())
		if b.tokens >= 1 {
			b.tokens--
			b.mu.Unlock()
			return nil
		}
		delay := b.delayForNextToken()
		b.mu.Unlock()

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// RateLimiter owns one TokenBucket per named logical operation.
type RateLimiter struct {
	mu      sync.Mutex
	buckets map[string]*TokenBucket
}

// NewRateLimiter constructs an empty limiter. Configure registers a bucket;
// an operation that was never configured gets a rate-1, burst-1 bucket on
// first use.
func NewRateLimiter() *RateLimiter {
	return &RateLimiter{buckets: make(map[string]*TokenBucket)}
}

// Configure registers (or replaces) the bucket for a named operation.
func (r *RateLimiter) Configure(operation string, rate float64, burst int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.buckets[operation] = NewTokenBucket(rate, burst)
}

func (r *RateLimiter) bucket(operation string) *TokenBucket {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.buckets[operation]
	if !ok {
		b = NewTokenBucket(1, 1)
		r.buckets[operation] = b
	}
	return b
}

// TryAcquire is the non-blocking variant used by the synchronous adapter.
func (r *RateLimiter) TryAcquire(operation string) bool {
	return r.bucket(operation).TryAcquire()
}

// Acquire is the async-native variant: sleeps and retries until granted.
func (r *RateLimiter) Acquire(ctx context.Context, operation string) error {
	return r.bucket(operation).Acquire(ctx)
}
