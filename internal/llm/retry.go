// Retry-with-backoff for the LLM gateway's HTTP stage, per spec.md
// section 4.3: up to N attempts, sleeping base_delay*2^attempt between
// them, and only for errors whose message looks transient
// (connection/timeout/network). Non-transient failures surface
// immediately without consuming further attempts.
package llm

import (
	"context"
	"strings"
	"time"
)

var transientSubstrings = []string{"connection", "timeout", "network"}

// isTransient classifies err as retryable by substring match on its
// message, matching spec.md section 4.3's literal definition.
func isTransient(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, s := range transientSubstrings {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}

// RetryConfig controls the backoff schedule.
type RetryConfig struct {
	MaxAttempts int
	BaseDelay   time.Duration
}

// DefaultRetryConfig matches spec.md section 4.3's default of 3 attempts.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{MaxAttempts: 3, BaseDelay: 200 * time.Millisecond}
}

// withRetry calls fn up to cfg.MaxAttempts times, sleeping
// cfg.BaseDelay*2^attempt between attempts, stopping early on the first
// non-transient error or on success.
func withRetry(ctx context.Context, cfg RetryConfig, fn func() error) error {
	var lastErr error
	for attempt := 0; attempt < cfg.MaxAttempts; attempt++ {
		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if !isTransient(lastErr) {
			return lastErr
		}
		if attempt == cfg.MaxAttempts-1 {
			break
		}
		delay := cfg.BaseDelay * time.Duration(1<<uint(attempt))
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	return lastErr
}
