// Package llm implements the being's single logical LLM call surface:
// budget check -> rate limiter -> response cache -> circuit breaker ->
// retry-with-backoff -> HTTP, exactly the stage order of spec.md section
// 4.3. On success the response is cached and returned; on any final
// failure the gateway surfaces an empty result rather than raising -- no
// stage here ever propagates an exception to a cognitive step.
package llm

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/digitalbeing/core/internal/logging"
)

// Operation names the two logical call kinds the spec names explicitly.
const (
	OpChat  = "chat"
	OpEmbed = "embed"
)

// Config bundles the gateway's tunables, sourced from spec.md section 6's
// configuration keys.
type Config struct {
	MaxLLMCallsPerTick int

	CacheMaxSize int
	CacheTTL     time.Duration

	ChatRate   float64
	ChatBurst  int
	EmbedRate  float64
	EmbedBurst int

	FailureThreshold int
	SuccessThreshold int
	RecoveryTimeout  time.Duration

	Retry RetryConfig

	ChatModel  string
	EmbedModel string
}

// Gateway is the composite LLM call path described in spec.md section 4.3.
type Gateway struct {
	cfg     Config
	backend Backend
	logger  logging.Logger

	cache   *ResponseCache
	limiter *RateLimiter

	mu       sync.Mutex
	breakers map[string]*CircuitBreaker

	tickMu   sync.Mutex
	usedThis int
}

// New constructs a Gateway. backend is the HTTP call stage; tests
// substitute a fake Backend to exercise cache/breaker/retry behavior
// without a real model server.
func New(cfg Config, backend Backend, logger logging.Logger) *Gateway {
	g := &Gateway{
		cfg:      cfg,
		backend:  backend,
		logger:   logger,
		cache:    NewResponseCache(cfg.CacheMaxSize, cfg.CacheTTL),
		limiter:  NewRateLimiter(),
		breakers: make(map[string]*CircuitBreaker),
	}
	g.limiter.Configure(OpChat, cfg.ChatRate, cfg.ChatBurst)
	g.limiter.Configure(OpEmbed, cfg.EmbedRate, cfg.EmbedBurst)
	g.breakers[OpChat] = NewCircuitBreaker(OpChat, cfg.FailureThreshold, cfg.SuccessThreshold, cfg.RecoveryTimeout)
	g.breakers[OpEmbed] = NewCircuitBreaker(OpEmbed, cfg.FailureThreshold, cfg.SuccessThreshold, cfg.RecoveryTimeout)
	return g
}

// ResetTick zeroes the per-Heavy-Tick LLM call counter; called from the
// orchestrator's cycle preamble (spec.md section 4.8, Phase A).
func (g *Gateway) ResetTick() {
	g.tickMu.Lock()
	g.usedThis = 0
	g.tickMu.Unlock()
}

// CallsUsedThisTick reports the gateway's own per-tick call counter, for
// introspection.
func (g *Gateway) CallsUsedThisTick() int {
	g.tickMu.Lock()
	defer g.tickMu.Unlock()
	return g.usedThis
}

func (g *Gateway) budgetCheck() bool {
	g.tickMu.Lock()
	defer g.tickMu.Unlock()
	if g.cfg.MaxLLMCallsPerTick > 0 && g.usedThis >= g.cfg.MaxLLMCallsPerTick {
		return false
	}
	g.usedThis++
	return true
}

func (g *Gateway) breakerFor(operation string) *CircuitBreaker {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.breakers[operation]
}

// Chat performs a chat completion through the full gateway stack, using
// the non-blocking rate-limiter acquire (the "synchronous adapter" path
// from spec.md section 4.3). ok is false whenever any stage results in no
// usable text; callers must fall through to the fallback cache.
func (g *Gateway) Chat(ctx context.Context, systemPrompt, userPrompt string) (text string, ok bool) {
	return g.chat(ctx, systemPrompt, userPrompt, false)
}

// ChatAsync is the async-native path: it blocks on the rate limiter
// (sleeping for the computed refill delay) rather than failing fast.
func (g *Gateway) ChatAsync(ctx context.Context, systemPrompt, userPrompt string) (text string, ok bool) {
	return g.chat(ctx, systemPrompt, userPrompt, true)
}

func (g *Gateway) chat(ctx context.Context, systemPrompt, userPrompt string, blocking bool) (string, bool) {
	if !g.budgetCheck() {
		if g.logger != nil {
			g.logger.Warn("llm: budget exhausted for this tick", "operation", OpChat)
		}
		return "", false
	}

	if blocking {
		if err := g.limiter.Acquire(ctx, OpChat); err != nil {
			return "", false
		}
	} else if !g.limiter.TryAcquire(OpChat) {
		if g.logger != nil {
			g.logger.Warn("llm: rate limited", "operation", OpChat)
		}
		return "", false
	}

	key := CacheKey(systemPrompt, userPrompt)
	if cached, hit := g.cache.Get(key); hit {
		return cached, true
	}

	breaker := g.breakerFor(OpChat)
	if !breaker.Allow() {
		if g.logger != nil {
			g.logger.Warn("llm: circuit open", "operation", OpChat)
		}
		return "", false
	}

	var result string
	err := withRetry(ctx, g.cfg.Retry, func() error {
		r, err := g.backend.Chat(ctx, g.cfg.ChatModel, systemPrompt, userPrompt)
		if err != nil {
			return err
		}
		result = r
		return nil
	})
	if err != nil {
		breaker.RecordFailure()
		if g.logger != nil {
			g.logger.Error("llm: chat call failed", "error", err)
		}
		return "", false
	}
	breaker.RecordSuccess()
	g.cache.Set(key, result)
	return result, true
}

// Embed computes an embedding through the gateway stack (non-blocking
// rate-limiter path); embeddings skip the response cache.
func (g *Gateway) Embed(ctx context.Context, text string) ([]float32, bool) {
	if !g.budgetCheck() {
		if g.logger != nil {
			g.logger.Warn("llm: budget exhausted for this tick", "operation", OpEmbed)
		}
		return nil, false
	}
	if !g.limiter.TryAcquire(OpEmbed) {
		if g.logger != nil {
			g.logger.Warn("llm: rate limited", "operation", OpEmbed)
		}
		return nil, false
	}

	breaker := g.breakerFor(OpEmbed)
	if !breaker.Allow() {
		if g.logger != nil {
			g.logger.Warn("llm: circuit open", "operation", OpEmbed)
		}
		return nil, false
	}

	var result []float32
	err := withRetry(ctx, g.cfg.Retry, func() error {
		r, err := g.backend.Embed(ctx, g.cfg.EmbedModel, text)
		if err != nil {
			return err
		}
		result = r
		return nil
	})
	if err != nil {
		breaker.RecordFailure()
		if g.logger != nil {
			g.logger.Error("llm: embed call failed", "error", err)
		}
		return nil, false
	}
	breaker.RecordSuccess()
	return result, true
}

// Healthy reports a distinguished error when the chat circuit is open, for
// the health monitor's backend probe.
func (g *Gateway) Healthy() error {
	if g.breakerFor(OpChat).State() == StateOpen {
		return fmt.Errorf("llm: %w", ErrCircuitOpen)
	}
	return nil
}
