package cognitive

import "github.com/digitalbeing/core/internal/model"

// EmotionState is a small set of named affect scores in [0,1]. The Heavy
// Tick orchestrator holds it in memory only; it is not written to disk.
type EmotionState map[string]float64

// UpdateEmotion nudges state's "confidence" and "frustration" scores
// toward the boundary implied by outcome, deterministically rather than
// through an LLM call -- this runs on every action dispatch and must not
// itself consume LLM budget.
func UpdateEmotion(state EmotionState, outcome model.Outcome) EmotionState {
	if state == nil {
		state = EmotionState{}
	}
	const step = 0.05
	switch outcome {
	case model.OutcomeSuccess:
		state["confidence"] = model.ClampScore(state["confidence"] + step)
		state["frustration"] = model.ClampScore(state["frustration"] - step)
	case model.OutcomeFailure:
		state["confidence"] = model.ClampScore(state["confidence"] - step)
		state["frustration"] = model.ClampScore(state["frustration"] + step)
	default:
		// unknown outcomes leave emotion untouched
	}
	return state
}

// ValueScores tracks how well recent actions have honored named values
// (e.g. "curiosity", "caution"). The Heavy Tick orchestrator holds it in
// memory only; it is not written to disk.
type ValueScores map[string]float64

// UpdateValues nudges the score for actionType's associated value
// according to outcome.
func UpdateValues(scores ValueScores, actionType model.ActionType, outcome model.Outcome) ValueScores {
	if scores == nil {
		scores = ValueScores{}
	}
	value := valueFor(actionType)
	const step = 0.05
	switch outcome {
	case model.OutcomeSuccess:
		scores[value] = model.ClampScore(scores[value] + step)
	case model.OutcomeFailure:
		scores[value] = model.ClampScore(scores[value] - step)
	}
	return scores
}

func valueFor(actionType model.ActionType) string {
	switch actionType {
	case model.ActionObserve:
		return "attentiveness"
	case model.ActionAnalyze:
		return "curiosity"
	case model.ActionWrite:
		return "productivity"
	case model.ActionReflect:
		return "self_awareness"
	case model.ActionShell:
		return "caution"
	default:
		return "general"
	}
}
