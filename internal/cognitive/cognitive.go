// Package cognitive implements the being's content-generating subsystems
// behind a single uniform contract, per spec.md section 1: "the core
// drives them through a uniform optional step contract; their internal
// prompt engineering and JSON parsing is not part of this design." The
// orchestrator in internal/tick/heavy calls every optional step through
// this Step interface; its three critical-path steps are orchestrator
// methods rather than Step values.
//
// Field naming for the belief/observation shapes is cross-checked
// against the episodic/knowledge/procedure split and observational
// record shapes surfacing in the other_examples retrieval pack, applied
// here to this being's value/emotion/belief/strategy domain rather than
// copied verbatim.
package cognitive

import (
	"context"
	"time"

	"github.com/digitalbeing/core/internal/model"
)

// Snapshot is the read-only aggregation of current being state passed to
// every step: recent episodes, world summary, current
// strategy, emotion state, belief context, time-perception context and
// meta-cognition context, per spec.md section 4.8 Phase B step 1.
type Snapshot struct {
	Tick          uint64
	RecentEpisodes []model.Episode
	WorldSummary   string
	Strategy       map[string]any
	Emotions       map[string]float64
	Beliefs        []string
	TimePerception map[string]any
	MetaCognition  map[string]any
	ActiveGoal     *model.ActiveGoal
	Monologue      string // populated once Phase B step 1 has run
}

// Result is the uniform value every step returns, whether or not it
// produced a side effect. Critical steps interpret Outcome strictly;
// optional steps record Outcome into the cycle summary regardless.
type Result struct {
	Outcome model.Outcome
	Detail  string
	Data    map[string]any
}

// Step is the uniform contract every cognitive subsystem implements.
// Name identifies the step for fallback-cache keys, budget priority
// lookups, and the cycle summary.
type Step interface {
	Name() string
	Run(ctx context.Context, snap Snapshot) (Result, error)
}

// Priority maps a step name to its budget class, per spec.md section
// 4.8: the three critical-path steps are CRITICAL; everything in Phase C
// is OPTIONAL except periodic maintenance, which this design treats as
// IMPORTANT since losing it silently for many cycles degrades storage
// health.
func Priority(name string) model.Priority {
	switch name {
	case "monologue", "goal_selection", "action_dispatch":
		return model.PriorityCritical
	case "maintenance":
		return model.PriorityImportant
	default:
		return model.PriorityOptional
	}
}

// DefaultTimeout returns the per-step timeout used when wrapping Run in
// the fallback strategy, per spec.md section 4.8 ("each has an
// individual timeout"). Critical steps get more room since they may
// issue multiple LLM calls.
func DefaultTimeout(name string) time.Duration {
	switch Priority(name) {
	case model.PriorityCritical:
		return 20 * time.Second
	default:
		return 10 * time.Second
	}
}
