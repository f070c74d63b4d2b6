package logging

import (
	"testing"

	"github.com/stretchr/testify/require"
)

type recordingLogger struct {
	msg  string
	args []any
}

func (r *recordingLogger) Info(msg string, args ...any)  { r.msg, r.args = msg, args }
func (r *recordingLogger) Warn(msg string, args ...any)  { r.msg, r.args = msg, args }
func (r *recordingLogger) Error(msg string, args ...any) { r.msg, r.args = msg, args }
func (r *recordingLogger) Debug(msg string, args ...any) { r.msg, r.args = msg, args }

func TestMaskingLoggerRedactsBearerToken(t *testing.T) {
	rec := &recordingLogger{}
	m := NewMasking(rec)

	m.Info("calling backend", "header", "Authorization: Bearer abc123.def456")

	require.Contains(t, rec.args[1], redacted)
	require.NotContains(t, rec.args[1], "abc123")
}

func TestMaskingLoggerRedactsKeyValueSecret(t *testing.T) {
	rec := &recordingLogger{}
	m := NewMasking(rec)

	m.Error("shell output", "stdout", "api_key=sk-liveSUPERSECRET1234567890")

	require.NotContains(t, rec.args[1], "SUPERSECRET")
}

func TestMaskingLoggerPassesThroughCleanText(t *testing.T) {
	rec := &recordingLogger{}
	m := NewMasking(rec)

	m.Warn("plain message", "count", 3)

	require.Equal(t, "plain message", rec.msg)
	require.Equal(t, 3, rec.args[1])
}
