// Circuit breaker for the LLM gateway, adapted from the teacher's
// modules/reverseproxy/circuit_breaker.go -- same three-state machine
// (closed/open/half-open) and the same half-open-allows-one-probe
// discipline, generalized here from HTTP backend proxying to LLM backend
// calls and from a single success-closes-immediately rule to an explicit
// configurable success threshold, per spec.md section 4.3.
package llm

import (
	"errors"
	"sync"
	"time"
)

// CircuitState is the three-state machine's current mode.
type CircuitState int

const (
	StateClosed CircuitState = iota
	StateOpen
	StateHalfOpen
)

func (s CircuitState) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// ErrCircuitOpen is the distinguished failure the gateway surfaces when a
// call is rejected without reaching the backend.
var ErrCircuitOpen = errors.New("llm: circuit breaker is open")

// CircuitBreaker implements spec.md section 4.3's three-state breaker.
type CircuitBreaker struct {
	name string

	failureThreshold int
	successThreshold int
	recoveryTimeout  time.Duration

	mu               sync.Mutex
	state            CircuitState
	consecutiveFails int
	successesInHalf  int
	probeInFlight    bool
	lastFailure      time.Time
}

// NewCircuitBreaker constructs a breaker in the closed state.
func NewCircuitBreaker(name string, failureThreshold, successThreshold int, recoveryTimeout time.Duration) *CircuitBreaker {
	return &CircuitBreaker{
		name:             name,
		failureThreshold: failureThreshold,
		successThreshold: successThreshold,
		recoveryTimeout:  recoveryTimeout,
		state:            StateClosed,
	}
}

// Allow reports whether a call may proceed, transitioning open->half-open
// once the recovery timeout has elapsed. In half-open, exactly one probe
// call is admitted at a time; further calls are rejected until that
// probe's outcome is recorded.
func (cb *CircuitBreaker) Allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateOpen:
		if time.Since(cb.lastFailure) >= cb.recoveryTimeout {
			cb.state = StateHalfOpen
			cb.successesInHalf = 0
			cb.probeInFlight = true
			return true
		}
		return false
	case StateHalfOpen:
		if cb.probeInFlight {
			return false
		}
		cb.probeInFlight = true
		return true
	default:
		return true
	}
}

// RecordSuccess registers a successful call outcome.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateClosed:
		cb.consecutiveFails = 0
	case StateHalfOpen:
		cb.successesInHalf++
		if cb.successesInHalf >= cb.successThreshold {
			cb.state = StateClosed
			cb.consecutiveFails = 0
			cb.successesInHalf = 0
		}
		cb.probeInFlight = false
	}
}

// RecordFailure registers a failed call outcome.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.lastFailure = time.Now()

	switch cb.state {
	case StateClosed:
		cb.consecutiveFails++
		if cb.consecutiveFails >= cb.failureThreshold {
			cb.state = StateOpen
		}
	case StateHalfOpen:
		cb.state = StateOpen
		cb.successesInHalf = 0
		cb.probeInFlight = false
	}
}

// State returns the current state, mainly for introspection and tests.
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// FailureCount returns the current consecutive-failure count.
func (cb *CircuitBreaker) FailureCount() int {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.consecutiveFails
}
