package cognitive

import (
	"testing"

	"github.com/digitalbeing/core/internal/model"
	"github.com/stretchr/testify/require"
)

func TestNextGoalFallsBackOnInvalidDecision(t *testing.T) {
	g := NextGoal(StrategyDecision{}, nil, 5)
	require.Equal(t, model.DefaultGoal(5), g)
}

func TestNextGoalMarksResumedAndKeepsStartTick(t *testing.T) {
	prior := model.ActiveGoal{Goal: "investigate anomaly", StartTick: 2, Status: model.GoalInterrupted}
	decision := StrategyDecision{Goal: "investigate anomaly", ActionType: model.ActionAnalyze, Risk: model.RiskLow}

	g := NextGoal(decision, &prior, 9)

	require.True(t, g.Resumed)
	require.Equal(t, uint64(2), g.StartTick)
}

func TestNextGoalFreshSelectionIsNotResumed(t *testing.T) {
	decision := StrategyDecision{Goal: "observe new directory", ActionType: model.ActionObserve, Risk: model.RiskLow}
	g := NextGoal(decision, nil, 9)

	require.False(t, g.Resumed)
	require.Equal(t, uint64(9), g.StartTick)
}

func TestCountsTowardCompletedExcludesResumed(t *testing.T) {
	require.True(t, CountsTowardCompleted(model.ActiveGoal{Status: model.GoalCompleted, Resumed: false}))
	require.False(t, CountsTowardCompleted(model.ActiveGoal{Status: model.GoalCompleted, Resumed: true}))
	require.False(t, CountsTowardCompleted(model.ActiveGoal{Status: model.GoalActive}))
}
