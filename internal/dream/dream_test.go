package dream

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/digitalbeing/core/internal/eventbus"
	"github.com/digitalbeing/core/internal/llm"
	"github.com/digitalbeing/core/internal/memory/episodic"
	"github.com/digitalbeing/core/internal/model"
)

type fakeBackend struct {
	chatResponse string
}

func (f *fakeBackend) Chat(ctx context.Context, model, systemPrompt, userPrompt string) (string, error) {
	return f.chatResponse, nil
}
func (f *fakeBackend) Embed(ctx context.Context, model, text string) ([]float32, error) {
	return []float32{0.1}, nil
}

func newTestConsolidator(t *testing.T, chatResponse string) (*Consolidator, *episodic.Store, string) {
	t.Helper()
	dir := t.TempDir()
	store, err := episodic.Open(filepath.Join(dir, "episodic.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	gw := llm.New(llm.Config{
		MaxLLMCallsPerTick: 10,
		CacheMaxSize:       8,
		CacheTTL:           time.Minute,
		ChatRate:           100,
		ChatBurst:          100,
		FailureThreshold:   3,
		SuccessThreshold:   1,
		RecoveryTimeout:    time.Second,
		Retry:              llm.RetryConfig{MaxAttempts: 1, BaseDelay: time.Millisecond},
	}, &fakeBackend{chatResponse: chatResponse}, nil)

	strategyPath := filepath.Join(dir, "strategy.json")
	return &Consolidator{
		Gateway:      gw,
		Episodic:     store,
		Bus:          eventbus.New(nil),
		StrategyPath: strategyPath,
	}, store, strategyPath
}

func TestRunSkipsWithNoEpisodes(t *testing.T) {
	c, store, strategyPath := newTestConsolidator(t, "updated strategy")
	c.run(context.Background())

	count, err := store.Count(context.Background())
	require.NoError(t, err)
	require.Zero(t, count)

	_, err = os.Stat(strategyPath)
	require.True(t, os.IsNotExist(err))
}

func TestRunConsolidatesAndWritesStrategy(t *testing.T) {
	c, store, strategyPath := newTestConsolidator(t, "focus on reliable shell execution")
	ctx := context.Background()
	_, _ = store.AddEpisode(ctx, "action.outcome", "wrote sandbox artifact", model.OutcomeSuccess, nil)

	c.run(ctx)

	data, err := os.ReadFile(strategyPath)
	require.NoError(t, err)
	require.Equal(t, "focus on reliable shell execution", string(data))

	completed, err := store.GetByType(ctx, "dream.completed", 5, nil)
	require.NoError(t, err)
	require.Len(t, completed, 1)
}

func TestStartStopIsIdempotentAndDeterministic(t *testing.T) {
	c, _, _ := newTestConsolidator(t, "")
	c.Start(time.Hour)
	c.Stop()
	c.Stop()
}
