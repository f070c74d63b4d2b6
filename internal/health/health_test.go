package health

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestTransitionToUnhealthyAfterThreshold(t *testing.T) {
	m := NewMonitor(5*time.Millisecond, 3, nil)

	var mu sync.Mutex
	failing := true
	m.Register("svc", func(ctx context.Context) (bool, time.Duration, error) {
		mu.Lock()
		defer mu.Unlock()
		if failing {
			return false, 0, errors.New("down")
		}
		return true, time.Millisecond, nil
	}, 50*time.Millisecond)

	transitions := make(chan Status, 10)
	m.OnStatusChange(func(ctx context.Context, name string, previous, current Status) {
		transitions <- current
	})

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		m.probeOne(ctx, m.services["svc"])
	}

	require.False(t, m.IsHealthy("svc"))
	select {
	case s := <-transitions:
		require.Equal(t, StatusUnhealthy, s)
	default:
		t.Fatal("expected a status-change callback to fire")
	}
}

func TestRecoversOnFirstSuccess(t *testing.T) {
	m := NewMonitor(5*time.Millisecond, 1, nil)
	m.Register("svc", func(ctx context.Context) (bool, time.Duration, error) {
		return false, 0, errors.New("down")
	}, 50*time.Millisecond)

	ctx := context.Background()
	m.probeOne(ctx, m.services["svc"])
	require.False(t, m.IsHealthy("svc"))

	m.services["svc"].probe = func(ctx context.Context) (bool, time.Duration, error) {
		return true, time.Millisecond, nil
	}
	m.probeOne(ctx, m.services["svc"])
	require.True(t, m.IsHealthy("svc"))
}

func TestStartStopDoesNotLeak(t *testing.T) {
	m := NewMonitor(2*time.Millisecond, 3, nil)
	m.Register("svc", func(ctx context.Context) (bool, time.Duration, error) {
		return true, time.Millisecond, nil
	}, 10*time.Millisecond)

	m.Start(context.Background())
	time.Sleep(10 * time.Millisecond)
	m.Stop()

	snap := m.Snapshot()
	require.Contains(t, snap, "svc")
}
