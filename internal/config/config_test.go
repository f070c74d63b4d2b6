package config

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSetRejectsNonWhitelistedKey(t *testing.T) {
	cfg := Default()
	err := cfg.Set("ollama.base_url", "http://evil")
	require.Error(t, err)
}

func TestSetAppliesWhitelistedKeyWithinBounds(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Set("attention.top_k", "20"))
	require.Equal(t, 20, cfg.Attention.TopK)
}

func TestSetRejectsScoreOutsideZeroOne(t *testing.T) {
	cfg := Default()
	err := cfg.Set("attention.min_score", "9.9")
	require.Error(t, err)
	require.ErrorIs(t, err, ErrOutOfRange)
	require.Equal(t, 0.3, cfg.Attention.MinScore)
}

func TestSetRejectsNegativeTickCount(t *testing.T) {
	cfg := Default()
	err := cfg.Set("curiosity.ask_every_n_ticks", "-3")
	require.Error(t, err)
	require.ErrorIs(t, err, ErrOutOfRange)
	require.Equal(t, 15, cfg.Curiosity.AskEveryNTicks)
}

func TestSetRejectsZeroTopK(t *testing.T) {
	cfg := Default()
	err := cfg.Set("attention.top_k", "0")
	require.Error(t, err)
	require.ErrorIs(t, err, ErrOutOfRange)
}

func TestGetRoundTripsSetValue(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Set("dream.interval_hours", "12"))
	v, ok := cfg.Get("dream.interval_hours")
	require.True(t, ok)
	require.Equal(t, "12", v)
}
