// Package model holds the data types shared across the being's subsystems.
//
// None of these types carry behavior beyond simple helpers: they are the
// nouns that episodic memory, vector memory, the orchestrator, and the
// introspection surface all exchange.
package model

import "time"

// Outcome is the terminal classification of a logged episode or a
// completed action.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
	OutcomeUnknown Outcome = "unknown"
)

// NormalizeOutcome maps any value outside the known set to OutcomeUnknown,
// per spec.md section 4.2.
func NormalizeOutcome(o Outcome) Outcome {
	switch o {
	case OutcomeSuccess, OutcomeFailure, OutcomeUnknown:
		return o
	default:
		return OutcomeUnknown
	}
}

// MaxDescriptionLen bounds an episode description.
const MaxDescriptionLen = 1000

// Episode is a durable, immutable, typed log entry.
type Episode struct {
	ID          int64     `json:"id"`
	Timestamp   time.Time `json:"timestamp"`
	EventType   string    `json:"event_type"`
	Description string    `json:"description"`
	Outcome     Outcome   `json:"outcome"`
	Data        []byte    `json:"data,omitempty"` // raw JSON, may be null
}

// VectorRecord is a fixed-dimension embedding tied back to an episode.
type VectorRecord struct {
	ID        string    `json:"id"`
	EpisodeID int64     `json:"episode_id,omitempty"`
	EventType string    `json:"event_type"`
	Text      string    `json:"text"`
	Embedding []float32 `json:"embedding"`
	CreatedAt time.Time `json:"created_at"`
}

// ActionType enumerates the dispatchable action kinds for an active goal.
type ActionType string

const (
	ActionObserve ActionType = "observe"
	ActionAnalyze ActionType = "analyze"
	ActionWrite   ActionType = "write"
	ActionReflect ActionType = "reflect"
	ActionShell   ActionType = "shell"
)

// RiskLevel classifies how cautious an action is.
type RiskLevel string

const (
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

// GoalStatus is the lifecycle state of an ActiveGoal.
type GoalStatus string

const (
	GoalActive      GoalStatus = "active"
	GoalCompleted   GoalStatus = "completed"
	GoalInterrupted GoalStatus = "interrupted"
)

// ActiveGoal is the single goal the orchestrator is currently pursuing.
type ActiveGoal struct {
	Goal         string     `json:"goal"`
	Reasoning    string     `json:"reasoning,omitempty"`
	ActionType   ActionType `json:"action_type"`
	Risk         RiskLevel  `json:"risk"`
	ShellCommand string     `json:"shell_command,omitempty"`
	StartTick    uint64     `json:"start_tick"`
	Status       GoalStatus `json:"status"`
	// Resumed is true when this goal was carried over from an
	// interrupted lifetime rather than freshly selected; see
	// SPEC_FULL.md section C.1 for why this affects completion counting.
	Resumed bool `json:"resumed"`
}

// DefaultGoal is the safe substitute used when goal selection fails to
// produce a valid structured record.
func DefaultGoal(tick uint64) ActiveGoal {
	return ActiveGoal{
		Goal:       "observe surroundings",
		ActionType: ActionObserve,
		Risk:       RiskLow,
		StartTick:  tick,
		Status:     GoalActive,
	}
}

// Priority is a budget class.
type Priority string

const (
	PriorityCritical  Priority = "critical"
	PriorityImportant Priority = "important"
	PriorityOptional  Priority = "optional"
)

// ProposalStatus is the lifecycle state of a ModificationProposal.
type ProposalStatus string

const (
	ProposalPending    ProposalStatus = "pending"
	ProposalApproved   ProposalStatus = "approved"
	ProposalRejected   ProposalStatus = "rejected"
	ProposalRolledBack ProposalStatus = "rolled_back"
)

// ModificationProposal is a whitelisted runtime config change suggested by
// the self-modification subsystem.
type ModificationProposal struct {
	ID                string         `json:"id"`
	ConfigKey         string         `json:"config_key"`
	OldValue          string         `json:"old_value"`
	NewValue          string         `json:"new_value"`
	Status            ProposalStatus `json:"status"`
	VerificationNote  string         `json:"verification_note,omitempty"`
	BeforeMetrics     map[string]float64 `json:"before_metrics,omitempty"`
	AfterMetrics      map[string]float64 `json:"after_metrics,omitempty"`
	CreatedAtTick     uint64         `json:"created_at_tick"`
	MonitorUntilTick  uint64         `json:"monitor_until_tick,omitempty"`
}

// ClampScore clamps a score-like value to [0,1] and rounds to 3 decimals,
// per spec.md section 6 "Persisted numeric semantics".
func ClampScore(v float64) float64 {
	if v < 0 {
		v = 0
	}
	if v > 1 {
		v = 1
	}
	return roundTo3(v)
}

func roundTo3(v float64) float64 {
	const scale = 1000.0
	r := float64(int64(v*scale+0.5)) / scale
	return r
}
