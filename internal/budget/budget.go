// Package budget implements the per-Heavy-Tick resource accounting of
// spec.md section 4.6: three priority classes (critical/important/
// optional), critical always allowed, important/optional gated on a
// call count and wall-time cap for the running cycle.
//
// Modeled on the running-count bookkeeping shape of the teacher's
// modules/scheduler concurrency tracking (a small map guarded by its own
// mutex, incremented on acquire and decremented/reset on release),
// applied here to a fixed 3-key priority map instead of per-job.
package budget

import (
	"sync"
	"time"

	"github.com/digitalbeing/core/internal/model"
)

// Limits configures the per-cycle caps for the gated classes. Critical
// steps are never gated.
type Limits struct {
	MaxImportantCalls int
	MaxOptionalCalls  int
	MaxWallTime       time.Duration
}

type classUsage struct {
	calls int
	skips int
}

// Tracker accounts LLM-call and wall-time usage for a single Heavy Tick
// cycle, per priority class.
type Tracker struct {
	limits Limits

	mu        sync.Mutex
	usage     map[model.Priority]*classUsage
	cycleOpen time.Time
}

// New constructs a Tracker with the given per-cycle limits.
func New(limits Limits) *Tracker {
	return &Tracker{
		limits: limits,
		usage: map[model.Priority]*classUsage{
			model.PriorityCritical:  {},
			model.PriorityImportant: {},
			model.PriorityOptional:  {},
		},
	}
}

// ResetCycle zeroes all counters and starts the wall-time clock for a new
// Heavy Tick cycle. Called from the orchestrator's cycle preamble
// (spec.md section 4.8, Phase A).
func (t *Tracker) ResetCycle() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, u := range t.usage {
		u.calls = 0
		u.skips = 0
	}
	t.cycleOpen = time.Now()
}

// CanExecute reports whether a step at the given priority, projected to
// make llmCalls LLM calls, may proceed: spec.md section 4.6's
// can_execute(priority, llm_calls, estimated_duration). Critical steps
// are always allowed. Important/optional steps are allowed only while
// both their post-call count and the cycle's elapsed wall time remain
// under the configured caps, so a multi-call step is rejected up front
// rather than admitted and left to overshoot the cap mid-step.
func (t *Tracker) CanExecute(priority model.Priority, llmCalls int) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if priority == model.PriorityCritical {
		return true
	}

	if t.limits.MaxWallTime > 0 && !t.cycleOpen.IsZero() && time.Since(t.cycleOpen) >= t.limits.MaxWallTime {
		return false
	}

	u := t.usage[priority]
	switch priority {
	case model.PriorityImportant:
		if t.limits.MaxImportantCalls > 0 && u.calls+llmCalls > t.limits.MaxImportantCalls {
			return false
		}
	case model.PriorityOptional:
		if t.limits.MaxOptionalCalls > 0 && u.calls+llmCalls > t.limits.MaxOptionalCalls {
			return false
		}
	}
	return true
}

// RecordUsage records calls consumed at the given priority.
func (t *Tracker) RecordUsage(priority model.Priority, calls int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.usage[priority].calls += calls
}

// RecordSkip records one step skipped for being over budget, for the
// cycle summary's utilization report.
func (t *Tracker) RecordSkip(priority model.Priority) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.usage[priority].skips++
}

// Usage is a snapshot of one priority class's cycle accounting.
type Usage struct {
	Priority        model.Priority `json:"priority"`
	Calls           int            `json:"calls"`
	Skips           int            `json:"skips"`
	UtilizationPct  float64        `json:"utilization_pct"`
}

// Report returns the current cycle's per-class usage, including
// utilization percentages against the configured caps (0 when a class
// has no cap, i.e. unlimited).
func (t *Tracker) Report() []Usage {
	t.mu.Lock()
	defer t.mu.Unlock()

	cap := func(p model.Priority) int {
		switch p {
		case model.PriorityImportant:
			return t.limits.MaxImportantCalls
		case model.PriorityOptional:
			return t.limits.MaxOptionalCalls
		default:
			return 0
		}
	}

	out := make([]Usage, 0, 3)
	for _, p := range []model.Priority{model.PriorityCritical, model.PriorityImportant, model.PriorityOptional} {
		u := t.usage[p]
		pct := 0.0
		if c := cap(p); c > 0 {
			pct = 100 * float64(u.calls) / float64(c)
		}
		out = append(out, Usage{Priority: p, Calls: u.calls, Skips: u.skips, UtilizationPct: pct})
	}
	return out
}

// ElapsedWallTime reports how long the current cycle has been open.
func (t *Tracker) ElapsedWallTime() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.cycleOpen.IsZero() {
		return 0
	}
	return time.Since(t.cycleOpen)
}
