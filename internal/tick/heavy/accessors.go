package heavy

import "github.com/digitalbeing/core/internal/cognitive"

// Emotions returns a copy of the current emotion state, for the
// introspection surface's /emotions endpoint.
func (o *Orchestrator) Emotions() cognitive.EmotionState {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make(cognitive.EmotionState, len(o.emotions))
	for k, v := range o.emotions {
		out[k] = v
	}
	return out
}

// Values returns a copy of the current value scores, for the
// introspection surface's /values endpoint.
func (o *Orchestrator) Values() cognitive.ValueScores {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make(cognitive.ValueScores, len(o.values))
	for k, v := range o.values {
		out[k] = v
	}
	return out
}

// Beliefs returns a copy of the current belief set, for the
// introspection surface's /beliefs endpoint.
func (o *Orchestrator) Beliefs() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]string, len(o.beliefs))
	copy(out, o.beliefs)
	return out
}

// GoalsCompleted reports how many non-resumed goals have completed since
// process start, per SPEC_FULL.md section C.1.
func (o *Orchestrator) GoalsCompleted() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.goalsDone
}
