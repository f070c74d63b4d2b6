package cognitive

import (
	"context"
	"fmt"

	"github.com/digitalbeing/core/internal/llm"
	"github.com/digitalbeing/core/internal/memory/episodic"
	"github.com/digitalbeing/core/internal/model"
)

// LLMWorldModel implements the heavy orchestrator's WorldModel contract
// (DetectAnomalies) for the "analyze" action branch of spec.md section
// 4.8 Phase B step 3. Anomaly detection itself is scoped out of the core
// design per spec.md section 1 -- this is a minimal, real implementation
// rather than a stub: it looks at the recent failure rate in the
// episodic log and, when it crosses a threshold, asks the gateway to
// name the standout pattern in one sentence.
type LLMWorldModel struct {
	Gateway  *llm.Gateway
	Episodic *episodic.Store

	// FailureRatioThreshold is the fraction of recent "action.outcome"
	// episodes that must be failures before an LLM call is spent naming
	// the anomaly; below it, DetectAnomalies reports "nothing notable"
	// without consuming gateway budget.
	FailureRatioThreshold float64
}

func (w *LLMWorldModel) DetectAnomalies(ctx context.Context) (string, error) {
	recent, err := w.Episodic.GetByType(ctx, "action.outcome", 20, nil)
	if err != nil {
		return "", fmt.Errorf("worldmodel: query recent actions: %w", err)
	}
	if len(recent) == 0 {
		return "no recent activity to analyze", nil
	}

	failures := 0
	for _, e := range recent {
		if e.Outcome == model.OutcomeFailure {
			failures++
		}
	}
	ratio := float64(failures) / float64(len(recent))

	threshold := w.FailureRatioThreshold
	if threshold <= 0 {
		threshold = 0.3
	}
	if ratio < threshold {
		return fmt.Sprintf("nothing notable (failure ratio %.2f)", ratio), nil
	}

	prompt := fmt.Sprintf("Recent action failure ratio is %.2f (%d of %d). Most recent failure: %q. Name the standout anomaly in one sentence.",
		ratio, failures, len(recent), recent[0].Description)
	text, ok := w.Gateway.Chat(ctx, "You detect anomalies in an autonomous agent's recent action history.", prompt)
	if !ok {
		return fmt.Sprintf("elevated failure ratio %.2f, gateway unavailable to characterize it", ratio), nil
	}
	return text, nil
}
