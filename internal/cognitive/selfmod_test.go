package cognitive

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/digitalbeing/core/internal/config"
	"github.com/digitalbeing/core/internal/memory/episodic"
	"github.com/digitalbeing/core/internal/model"
	"github.com/stretchr/testify/require"
)

func newTestManager(t *testing.T) (*Manager, *config.Config) {
	t.Helper()
	cfg := config.Default()
	store, err := episodic.Open(filepath.Join(t.TempDir(), "episodic.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return NewManager(cfg, store, func() float64 { return 1.0 }, nil), cfg
}

func TestProposeRejectsNonWhitelistedKey(t *testing.T) {
	m, _ := newTestManager(t)
	_, err := m.Propose(context.Background(), "ollama.base_url", "http://evil", "test", 1)
	require.Error(t, err)
}

func TestApproveAppliesAndOpensMonitorWindow(t *testing.T) {
	m, cfg := newTestManager(t)
	p, err := m.Propose(context.Background(), "attention.top_k", "20", "widen recall", 1)
	require.NoError(t, err)

	require.NoError(t, m.Approve(context.Background(), p.ID, 1))
	require.Equal(t, 20, cfg.Attention.TopK)

	got := m.List()[0]
	require.Equal(t, uint64(11), got.MonitorUntilTick)
}

func TestMonitorWindowRollsBackOnWorsenedMetric(t *testing.T) {
	calls := 0
	metricSeq := []float64{1.0, 0.0}
	cfg := config.Default()
	store, err := episodic.Open(filepath.Join(t.TempDir(), "episodic.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	m := NewManager(cfg, store, func() float64 {
		v := metricSeq[calls]
		if calls < len(metricSeq)-1 {
			calls++
		}
		return v
	}, nil)

	p, err := m.Propose(context.Background(), "attention.top_k", "20", "widen recall", 1)
	require.NoError(t, err)
	require.NoError(t, m.Approve(context.Background(), p.ID, 1))
	require.Equal(t, 20, cfg.Attention.TopK)

	step := &MonitorWindowStep{Manager: m, WorsenedThreshold: 0.5}
	_, err = step.Run(context.Background(), Snapshot{Tick: 2})
	require.NoError(t, err)

	require.Equal(t, 10, cfg.Attention.TopK)
	got := m.List()[0]
	require.Equal(t, "rolled_back", string(got.Status))
}

func TestApproveRejectsOutOfRangeValue(t *testing.T) {
	m, cfg := newTestManager(t)
	p, err := m.Propose(context.Background(), "attention.min_score", "9.9", "be more selective", 1)
	require.NoError(t, err)

	err = m.Approve(context.Background(), p.ID, 1)
	require.Error(t, err)
	require.ErrorIs(t, err, config.ErrOutOfRange)
	require.Equal(t, 0.3, cfg.Attention.MinScore)

	got := m.List()[0]
	require.Equal(t, model.ProposalPending, got.Status)
}

func TestApproveRejectsNegativeTickCount(t *testing.T) {
	m, cfg := newTestManager(t)
	p, err := m.Propose(context.Background(), "curiosity.ask_every_n_ticks", "-3", "ask more often", 1)
	require.NoError(t, err)

	err = m.Approve(context.Background(), p.ID, 1)
	require.Error(t, err)
	require.ErrorIs(t, err, config.ErrOutOfRange)
	require.Equal(t, 15, cfg.Curiosity.AskEveryNTicks)
}

func TestParseProposal(t *testing.T) {
	key, value, reason := parseProposal("attention.top_k=15: widen recall window")
	require.Equal(t, "attention.top_k", key)
	require.Equal(t, "15", value)
	require.Equal(t, "widen recall window", reason)

	key, _, _ = parseProposal("not a valid proposal")
	require.Empty(t, key)
}
