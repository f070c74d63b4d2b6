package cognitive

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/digitalbeing/core/internal/config"
	"github.com/digitalbeing/core/internal/llm"
	"github.com/digitalbeing/core/internal/logging"
	"github.com/digitalbeing/core/internal/memory/episodic"
	"github.com/digitalbeing/core/internal/model"
	"github.com/google/uuid"
)

// monitorWindowTicks is the number of Heavy Ticks an applied proposal is
// watched before being considered safe, per SPEC_FULL.md section C.3
// (Open Question 3).
const monitorWindowTicks = 10

// MetricFunc reports the current value of the health/performance metric
// a proposal is judged against during its monitoring window.
type MetricFunc func() float64

// Manager owns the lifecycle of modification proposals: creation,
// operator approval/rejection via the introspection surface, and the
// automatic monitor-and-rollback loop.
type Manager struct {
	cfg      *config.Config
	episodic *episodic.Store
	metric   MetricFunc
	logger   logging.Logger

	mu        sync.Mutex
	proposals map[string]*model.ModificationProposal
}

// NewManager constructs a Manager bound to the live config (so approval
// can mutate it and rollback can restore it) and a metric function used
// to judge the monitoring window.
func NewManager(cfg *config.Config, ep *episodic.Store, metric MetricFunc, logger logging.Logger) *Manager {
	return &Manager{
		cfg:       cfg,
		episodic:  ep,
		metric:    metric,
		logger:    logger,
		proposals: make(map[string]*model.ModificationProposal),
	}
}

// Propose records a new pending proposal for a whitelisted config key.
// Non-whitelisted keys are rejected outright.
func (m *Manager) Propose(ctx context.Context, configKey, newValue, reason string, tick uint64) (*model.ModificationProposal, error) {
	if !m.cfg.IsMutable(configKey) {
		return nil, fmt.Errorf("selfmod: %q is not a whitelisted config key", configKey)
	}
	old, _ := m.cfg.Get(configKey)

	p := &model.ModificationProposal{
		ID:               uuid.NewString(),
		ConfigKey:        configKey,
		OldValue:         old,
		NewValue:         newValue,
		Status:           model.ProposalPending,
		VerificationNote: reason,
		CreatedAtTick:    tick,
	}

	m.mu.Lock()
	m.proposals[p.ID] = p
	m.mu.Unlock()

	if m.episodic != nil {
		_, _ = m.episodic.AddEpisode(ctx, "selfmod.proposed", fmt.Sprintf("%s: %s -> %s (%s)", configKey, old, newValue, reason), model.OutcomeUnknown, nil)
	}
	return p, nil
}

// List returns a snapshot of every known proposal. Proposals are held in a
// map, so the order of the returned slice is not defined.
func (m *Manager) List() []model.ModificationProposal {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.ModificationProposal, 0, len(m.proposals))
	for _, p := range m.proposals {
		out = append(out, *p)
	}
	return out
}

// Approve applies a pending proposal's new value to the live config and
// opens its monitoring window through currentTick+monitorWindowTicks.
func (m *Manager) Approve(ctx context.Context, id string, currentTick uint64) error {
	m.mu.Lock()
	p, ok := m.proposals[id]
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("selfmod: unknown proposal %q", id)
	}
	if p.Status != model.ProposalPending {
		return fmt.Errorf("selfmod: proposal %q is not pending", id)
	}

	if m.metric != nil {
		p.BeforeMetrics = map[string]float64{"metric": m.metric()}
	}
	if err := m.cfg.Set(p.ConfigKey, p.NewValue); err != nil {
		return fmt.Errorf("selfmod: apply %q: %w", p.ConfigKey, err)
	}

	m.mu.Lock()
	p.Status = model.ProposalApproved
	p.MonitorUntilTick = currentTick + monitorWindowTicks
	m.mu.Unlock()

	if m.episodic != nil {
		_, _ = m.episodic.AddEpisode(ctx, "selfmod.approved", fmt.Sprintf("%s -> %s", p.ConfigKey, p.NewValue), model.OutcomeSuccess, nil)
	}
	return nil
}

// Reject marks a pending proposal rejected without applying it.
func (m *Manager) Reject(ctx context.Context, id, reason string) error {
	m.mu.Lock()
	p, ok := m.proposals[id]
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("selfmod: unknown proposal %q", id)
	}
	if p.Status != model.ProposalPending {
		return fmt.Errorf("selfmod: proposal %q is not pending", id)
	}

	m.mu.Lock()
	p.Status = model.ProposalRejected
	p.VerificationNote = reason
	m.mu.Unlock()

	if m.episodic != nil {
		_, _ = m.episodic.AddEpisode(ctx, "selfmod.rejected", fmt.Sprintf("%s: %s", p.ConfigKey, reason), model.OutcomeUnknown, nil)
	}
	return nil
}

// MonitorWindowStep checks every approved-and-monitoring proposal once
// per Heavy Tick (SPEC_FULL.md section C.3): if the configured metric has
// worsened past threshold before MonitorUntilTick, the prior config value
// is restored and the proposal rolls back.
type MonitorWindowStep struct {
	Manager           *Manager
	WorsenedThreshold float64
}

func (s *MonitorWindowStep) Name() string { return "self_modification_monitor" }

func (s *MonitorWindowStep) Run(ctx context.Context, snap Snapshot) (Result, error) {
	m := s.Manager
	m.mu.Lock()
	var active []*model.ModificationProposal
	for _, p := range m.proposals {
		if p.Status == model.ProposalApproved && p.MonitorUntilTick > 0 {
			active = append(active, p)
		}
	}
	m.mu.Unlock()

	if len(active) == 0 {
		return Result{Outcome: "success", Detail: "no proposals under monitoring"}, nil
	}

	rolledBack := 0
	for _, p := range active {
		current := 0.0
		if m.metric != nil {
			current = m.metric()
		}

		worsened := false
		if before, ok := p.BeforeMetrics["metric"]; ok && s.WorsenedThreshold > 0 {
			worsened = current < before-s.WorsenedThreshold
		}

		expired := snap.Tick >= p.MonitorUntilTick

		if worsened {
			if err := m.cfg.Set(p.ConfigKey, p.OldValue); err != nil {
				continue
			}
			m.mu.Lock()
			p.Status = model.ProposalRolledBack
			p.AfterMetrics = map[string]float64{"metric": current}
			m.mu.Unlock()
			rolledBack++
			if m.episodic != nil {
				_, _ = m.episodic.AddEpisode(ctx, "selfmod.rolled_back", fmt.Sprintf("%s restored to %s", p.ConfigKey, p.OldValue), model.OutcomeFailure, nil)
			}
			continue
		}

		if expired {
			m.mu.Lock()
			p.MonitorUntilTick = 0 // monitoring window closed cleanly, proposal stays approved
			p.AfterMetrics = map[string]float64{"metric": current}
			m.mu.Unlock()
		}
	}

	return Result{
		Outcome: "success",
		Detail:  fmt.Sprintf("checked %d proposals under monitoring, rolled back %d", len(active), rolledBack),
		Data:    map[string]any{"rolled_back": rolledBack},
	}, nil
}

// SelfModificationStep suggests at most one whitelisted config change
// per invocation when recent performance signals warrant one. It only
// proposes; application flows through Manager.Approve via the
// introspection surface.
type SelfModificationStep struct {
	Gateway  *llm.Gateway
	Manager  *Manager
	Tick     func() uint64
	Logger   logging.Logger
}

func (s *SelfModificationStep) Name() string { return "self_modification" }

func (s *SelfModificationStep) Run(ctx context.Context, snap Snapshot) (Result, error) {
	prompt := "Given recent performance, suggest at most one whitelisted config change as \"key=value: reason\", or answer NONE."
	answer, ok := s.Gateway.Chat(ctx, "You propose conservative, whitelisted runtime tuning changes.", prompt)
	if !ok || answer == "" || answer == "NONE" {
		return Result{Outcome: "success", Detail: "no modification proposed"}, nil
	}

	key, value, reason := parseProposal(answer)
	if key == "" {
		return Result{Outcome: "success", Detail: "proposal text unparseable, discarded"}, nil
	}

	tick := uint64(0)
	if s.Tick != nil {
		tick = s.Tick()
	}
	p, err := s.Manager.Propose(ctx, key, value, reason, tick)
	if err != nil {
		return Result{Outcome: "unknown", Detail: err.Error()}, nil
	}
	return Result{Outcome: "success", Detail: p.ID, Data: map[string]any{"proposal_id": p.ID}}, nil
}

// parseProposal extracts "key=value: reason" from a model response. A
// response not in this shape yields an empty key, which the caller
// treats as "discard".
func parseProposal(text string) (key, value, reason string) {
	colonIdx := -1
	for i, r := range text {
		if r == ':' {
			colonIdx = i
			break
		}
	}
	head := text
	if colonIdx >= 0 {
		head = text[:colonIdx]
		reason = text[colonIdx+1:]
	}
	eqIdx := -1
	for i, r := range head {
		if r == '=' {
			eqIdx = i
			break
		}
	}
	if eqIdx < 0 {
		return "", "", ""
	}
	return strings.TrimSpace(head[:eqIdx]), strings.TrimSpace(head[eqIdx+1:]), strings.TrimSpace(reason)
}
