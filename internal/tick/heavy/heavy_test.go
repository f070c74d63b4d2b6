package heavy

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/digitalbeing/core/internal/budget"
	"github.com/digitalbeing/core/internal/cognitive"
	"github.com/digitalbeing/core/internal/eventbus"
	"github.com/digitalbeing/core/internal/fallback"
	"github.com/digitalbeing/core/internal/llm"
	"github.com/digitalbeing/core/internal/memory/episodic"
	"github.com/digitalbeing/core/internal/model"
	"github.com/stretchr/testify/require"
)

// fakeBackend answers every chat call with a canned line so the monologue
// step has deterministic input.
type fakeBackend struct {
	chatResponse string
	chatErr      error
}

func (f *fakeBackend) Chat(ctx context.Context, model, systemPrompt, userPrompt string) (string, error) {
	return f.chatResponse, f.chatErr
}
func (f *fakeBackend) Embed(ctx context.Context, model, text string) ([]float32, error) {
	return []float32{0.1, 0.2}, nil
}

type fakeStrategy struct {
	decision cognitive.StrategyDecision
	ok       bool
}

func (f *fakeStrategy) Decide(ctx context.Context, monologue string, snap cognitive.Snapshot) (cognitive.StrategyDecision, bool) {
	return f.decision, f.ok
}

func newTestOrchestrator(t *testing.T, backend llm.Backend, strategy cognitive.Strategy) (*Orchestrator, *episodic.Store) {
	t.Helper()
	dir := t.TempDir()

	store, err := episodic.Open(filepath.Join(dir, "episodic.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	gw := llm.New(llm.Config{
		MaxLLMCallsPerTick: 20,
		CacheMaxSize:       16,
		CacheTTL:           time.Minute,
		ChatRate:           100,
		ChatBurst:          100,
		EmbedRate:          100,
		EmbedBurst:         100,
		FailureThreshold:   3,
		SuccessThreshold:   1,
		RecoveryTimeout:    time.Second,
		Retry:              llm.RetryConfig{MaxAttempts: 1, BaseDelay: time.Millisecond},
		ChatModel:          "test-model",
	}, backend, nil)

	bus := eventbus.New(nil)
	fb := fallback.New(nil)
	bt := budget.New(budget.Limits{MaxImportantCalls: 10, MaxOptionalCalls: 10})

	orch := New(time.Hour, Paths{
		GoalState: filepath.Join(dir, "goal_state.json"),
	}, Cadences{}, Deps{
		Gateway:  gw,
		Episodic: store,
		Fallback: fb,
		Budget:   bt,
		Bus:      bus,
		Strategy: strategy,
	})
	return orch, store
}

func TestRunCycleHappyPathObserve(t *testing.T) {
	backend := &fakeBackend{chatResponse: "internal monologue text"}
	strategy := &fakeStrategy{
		decision: cognitive.StrategyDecision{Goal: "look around", ActionType: model.ActionObserve, Risk: model.RiskLow},
		ok:       true,
	}
	orch, _ := newTestOrchestrator(t, backend, strategy)

	summary := orch.RunCycle(context.Background())

	require.False(t, summary.Aborted)
	require.Equal(t, 3, summary.CriticalCompleted)
	require.Equal(t, model.GoalCompleted, orch.ActiveGoal().Status)
}

func TestRunCycleAbortsWithoutFallbackOnMonologueFailure(t *testing.T) {
	backend := &fakeBackend{chatErr: errTransientlessFailure{}}
	strategy := &fakeStrategy{ok: true}
	orch, _ := newTestOrchestrator(t, backend, strategy)

	summary := orch.RunCycle(context.Background())

	require.True(t, summary.Aborted)
	require.Equal(t, 0, summary.CriticalCompleted)
}

func TestResumedGoalDoesNotIncrementCompletedCounter(t *testing.T) {
	backend := &fakeBackend{chatResponse: "monologue"}
	strategy := &fakeStrategy{
		decision: cognitive.StrategyDecision{Goal: "investigate anomaly", ActionType: model.ActionObserve, Risk: model.RiskLow},
		ok:       true,
	}
	orch, _ := newTestOrchestrator(t, backend, strategy)

	interrupted := model.ActiveGoal{Goal: "investigate anomaly", Status: model.GoalInterrupted, StartTick: 1}
	orch.mu.Lock()
	orch.activeGoal = &interrupted
	orch.mu.Unlock()

	orch.RunCycle(context.Background())

	require.True(t, orch.ActiveGoal().Resumed)
	require.Equal(t, 0, orch.goalsDone)
}

type errTransientlessFailure struct{}

func (errTransientlessFailure) Error() string { return "model backend rejected request" }
