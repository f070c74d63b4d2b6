package cognitive

import (
	"github.com/digitalbeing/core/internal/model"
)

// StrategyDecision is the structured record the strategy engine returns
// for goal selection, per spec.md section 4.8 Phase B step 2.
type StrategyDecision struct {
	Goal         string
	Reasoning    string
	ActionType   model.ActionType
	Risk         model.RiskLevel
	ShellCommand string
}

// Valid reports whether d is a usable structured record: a non-empty
// goal and a recognized action type. An invalid decision falls back to
// model.DefaultGoal per spec.md section 4.8.
func (d StrategyDecision) Valid() bool {
	if d.Goal == "" {
		return false
	}
	switch d.ActionType {
	case model.ActionObserve, model.ActionAnalyze, model.ActionWrite, model.ActionReflect, model.ActionShell:
		return true
	default:
		return false
	}
}

// ResumePrompt builds the textual "resume candidate" fragment added to
// the goal-selection prompt context when the prior goal was left
// interrupted, per SPEC_FULL.md section C.1 (Open Question 1).
func ResumePrompt(prior model.ActiveGoal) string {
	if prior.Status != model.GoalInterrupted {
		return ""
	}
	return "A previous goal was interrupted before completion and may be worth resuming: \"" + prior.Goal + "\""
}

// NextGoal builds the ActiveGoal the orchestrator should persist after
// goal selection, applying the resumed-goal accounting rule: if the
// strategy engine re-selected exactly the prior goal's text while it was
// interrupted, the new record carries the prior StartTick forward and is
// marked Resumed so its eventual completion does not increment the
// "goals completed" counter (spec.md section 3 "Active goal";
// SPEC_FULL.md section C.1).
func NextGoal(decision StrategyDecision, prior *model.ActiveGoal, tick uint64) model.ActiveGoal {
	if !decision.Valid() {
		return model.DefaultGoal(tick)
	}

	g := model.ActiveGoal{
		Goal:         decision.Goal,
		Reasoning:    decision.Reasoning,
		ActionType:   decision.ActionType,
		Risk:         decision.Risk,
		ShellCommand: decision.ShellCommand,
		StartTick:    tick,
		Status:       model.GoalActive,
	}

	if prior != nil && prior.Status == model.GoalInterrupted && prior.Goal == decision.Goal {
		g.StartTick = prior.StartTick
		g.Resumed = true
	}
	return g
}

// CountsTowardCompleted reports whether completing goal should increment
// the "goals completed" counter: only a goal both selected and completed
// within a single uninterrupted lifetime counts (SPEC_FULL.md section
// C.1).
func CountsTowardCompleted(goal model.ActiveGoal) bool {
	return goal.Status == model.GoalCompleted && !goal.Resumed
}
