package llm

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestBreakerOpensAfterFailureThreshold(t *testing.T) {
	cb := NewCircuitBreaker("test", 2, 1, time.Minute)
	require.True(t, cb.Allow())
	cb.RecordFailure()
	require.Equal(t, StateClosed, cb.State())

	require.True(t, cb.Allow())
	cb.RecordFailure()
	require.Equal(t, StateOpen, cb.State())
	require.False(t, cb.Allow())
}

func TestBreakerHalfOpenAdmitsExactlyOneProbe(t *testing.T) {
	cb := NewCircuitBreaker("test", 1, 2, time.Millisecond)
	cb.RecordFailure()
	require.Equal(t, StateOpen, cb.State())

	time.Sleep(2 * time.Millisecond)

	require.True(t, cb.Allow(), "first call after recovery timeout should probe")
	require.Equal(t, StateHalfOpen, cb.State())
	require.False(t, cb.Allow(), "a second concurrent call must not admit a second probe")

	cb.RecordSuccess()
	require.Equal(t, StateHalfOpen, cb.State(), "below success threshold, stays half-open")
	require.True(t, cb.Allow(), "probe outcome recorded, next call may probe again")
}

func TestBreakerClosesAfterSuccessThreshold(t *testing.T) {
	cb := NewCircuitBreaker("test", 1, 2, time.Millisecond)
	cb.RecordFailure()
	time.Sleep(2 * time.Millisecond)

	require.True(t, cb.Allow())
	cb.RecordSuccess()
	require.True(t, cb.Allow())
	cb.RecordSuccess()

	require.Equal(t, StateClosed, cb.State())
	require.Equal(t, 0, cb.FailureCount())
}

func TestBreakerHalfOpenFailureReopens(t *testing.T) {
	cb := NewCircuitBreaker("test", 1, 2, time.Millisecond)
	cb.RecordFailure()
	time.Sleep(2 * time.Millisecond)

	require.True(t, cb.Allow())
	cb.RecordFailure()
	require.Equal(t, StateOpen, cb.State())
}
