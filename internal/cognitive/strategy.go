package cognitive

import (
	"context"
	"strings"

	"github.com/digitalbeing/core/internal/llm"
	"github.com/digitalbeing/core/internal/model"
)

// Strategy is the goal-selection content generator's contract, per
// spec.md section 4.8 Phase B step 2: given the monologue and the same
// contextual aggregation, produce a structured decision or signal that
// none could be produced.
type Strategy interface {
	Decide(ctx context.Context, monologue string, snap Snapshot) (StrategyDecision, bool)
}

// LLMStrategy is the default Strategy: one gateway call, with the
// response parsed as simple "key=value" lines. Its prompt engineering
// and parsing are intentionally minimal -- spec.md section 1 scopes the
// strategy engine's internals out of the core design; the core only
// needs the uniform contract and the documented fallback-on-invalid
// behavior.
type LLMStrategy struct {
	Gateway *llm.Gateway
}

func (s *LLMStrategy) Decide(ctx context.Context, monologue string, snap Snapshot) (StrategyDecision, bool) {
	prompt := "Monologue: " + monologue + "\n" +
		"World summary: " + snap.WorldSummary + "\n"
	if resume := resumePromptFromSnapshot(snap); resume != "" {
		prompt += resume + "\n"
	}
	prompt += "Respond with exactly these lines: goal=<text>\nreasoning=<text>\naction_type=<observe|analyze|write|reflect|shell>\nrisk=<low|medium|high>\nshell_command=<text, only if action_type is shell>"

	text, ok := s.Gateway.Chat(ctx, "You select the single next goal for an autonomous agent, responding only in the requested key=value format.", prompt)
	if !ok {
		return StrategyDecision{}, false
	}
	return parseStrategyDecision(text), true
}

func resumePromptFromSnapshot(snap Snapshot) string {
	if snap.ActiveGoal == nil {
		return ""
	}
	return ResumePrompt(*snap.ActiveGoal)
}

func parseStrategyDecision(text string) StrategyDecision {
	var d StrategyDecision
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		key, value, found := strings.Cut(line, "=")
		if !found {
			continue
		}
		key = strings.ToLower(strings.TrimSpace(key))
		value = strings.TrimSpace(value)
		switch key {
		case "goal":
			d.Goal = value
		case "reasoning":
			d.Reasoning = value
		case "action_type":
			d.ActionType = model.ActionType(strings.ToLower(value))
		case "risk":
			d.Risk = model.RiskLevel(strings.ToLower(value))
		case "shell_command":
			d.ShellCommand = value
		}
	}
	return d
}
