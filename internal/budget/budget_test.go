package budget

import (
	"testing"
	"time"

	"github.com/digitalbeing/core/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCriticalAlwaysAllowed(t *testing.T) {
	tr := New(Limits{MaxImportantCalls: 0, MaxOptionalCalls: 0})
	for i := 0; i < 100; i++ {
		require.True(t, tr.CanExecute(model.PriorityCritical, 1))
	}
}

func TestImportantGatedOnCallCount(t *testing.T) {
	tr := New(Limits{MaxImportantCalls: 2})
	tr.ResetCycle()

	require.True(t, tr.CanExecute(model.PriorityImportant, 1))
	tr.RecordUsage(model.PriorityImportant, 1)
	require.True(t, tr.CanExecute(model.PriorityImportant, 1))
	tr.RecordUsage(model.PriorityImportant, 1)
	require.False(t, tr.CanExecute(model.PriorityImportant, 1))
}

func TestOptionalGatedOnWallTime(t *testing.T) {
	tr := New(Limits{MaxOptionalCalls: 100, MaxWallTime: 10 * time.Millisecond})
	tr.ResetCycle()
	require.True(t, tr.CanExecute(model.PriorityOptional, 1))
	time.Sleep(15 * time.Millisecond)
	require.False(t, tr.CanExecute(model.PriorityOptional, 1))
}

func TestResetCycleClearsCounters(t *testing.T) {
	tr := New(Limits{MaxImportantCalls: 1})
	tr.ResetCycle()
	tr.RecordUsage(model.PriorityImportant, 1)
	require.False(t, tr.CanExecute(model.PriorityImportant, 1))

	tr.ResetCycle()
	require.True(t, tr.CanExecute(model.PriorityImportant, 1))
}

func TestReportUtilization(t *testing.T) {
	tr := New(Limits{MaxImportantCalls: 4, MaxOptionalCalls: 0})
	tr.ResetCycle()
	tr.RecordUsage(model.PriorityImportant, 1)
	tr.RecordSkip(model.PriorityOptional)

	report := tr.Report()
	byPriority := make(map[model.Priority]Usage)
	for _, u := range report {
		byPriority[u.Priority] = u
	}

	assert.Equal(t, 1, byPriority[model.PriorityImportant].Calls)
	assert.Equal(t, 25.0, byPriority[model.PriorityImportant].UtilizationPct)
	assert.Equal(t, 1, byPriority[model.PriorityOptional].Skips)
	assert.Equal(t, 0.0, byPriority[model.PriorityOptional].UtilizationPct)
}
