package introspect

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/digitalbeing/core/internal/cognitive"
	"github.com/digitalbeing/core/internal/memory/episodic"
	"github.com/digitalbeing/core/internal/model"
	"github.com/digitalbeing/core/internal/shellexec"
)

type fakeOrchestrator struct {
	tick  uint64
	goal  *model.ActiveGoal
	done  int
}

func (f *fakeOrchestrator) Tick() uint64                     { return f.tick }
func (f *fakeOrchestrator) ActiveGoal() *model.ActiveGoal    { return f.goal }
func (f *fakeOrchestrator) Emotions() cognitive.EmotionState { return cognitive.EmotionState{"confidence": 0.5} }
func (f *fakeOrchestrator) Values() cognitive.ValueScores    { return cognitive.ValueScores{"curiosity": 0.6} }
func (f *fakeOrchestrator) Beliefs() []string                { return []string{"the sky is blue"} }
func (f *fakeOrchestrator) GoalsCompleted() int              { return f.done }

type fakeSelfMod struct {
	proposals []model.ModificationProposal
}

func (f *fakeSelfMod) List() []model.ModificationProposal { return f.proposals }
func (f *fakeSelfMod) Approve(ctx context.Context, id string, tick uint64) error { return nil }
func (f *fakeSelfMod) Reject(ctx context.Context, id, reason string) error       { return nil }

func newTestServer(t *testing.T) (*Server, *episodic.Store, string) {
	t.Helper()
	dir := t.TempDir()
	store, err := episodic.Open(filepath.Join(dir, "episodic.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	inboxPath := filepath.Join(dir, "inbox.txt")
	shellExec, err := shellexec.New(dir, 4096, nil, store, nil)
	require.NoError(t, err)

	srv := New(Deps{
		ListenAddr: ":0",
		InboxPath:  inboxPath,
		Heavy:      &fakeOrchestrator{tick: 3, goal: &model.ActiveGoal{Goal: "observe", Status: model.GoalActive}},
		Episodic:   store,
		SelfMod:    &fakeSelfMod{},
		Shell:      shellExec,
	})
	return srv, store, inboxPath
}

func TestStatusEndpointReportsTickAndGoal(t *testing.T) {
	srv, _, _ := newTestServer(t)
	req := httptest.NewRequest("GET", "/status", nil)
	w := httptest.NewRecorder()
	srv.server.Handler.ServeHTTP(w, req)

	require.Equal(t, 200, w.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.EqualValues(t, 3, body["heavy_tick"])
}

func TestEmotionsAndValuesEndpoints(t *testing.T) {
	srv, _, _ := newTestServer(t)

	w := httptest.NewRecorder()
	srv.server.Handler.ServeHTTP(w, httptest.NewRequest("GET", "/emotions", nil))
	require.Equal(t, 200, w.Code)
	require.Contains(t, w.Body.String(), "confidence")

	w2 := httptest.NewRecorder()
	srv.server.Handler.ServeHTTP(w2, httptest.NewRequest("GET", "/values", nil))
	require.Equal(t, 200, w2.Code)
	require.Contains(t, w2.Body.String(), "curiosity")
}

func TestChatSendAppendsToInbox(t *testing.T) {
	srv, _, inboxPath := newTestServer(t)

	payload, _ := json.Marshal(map[string]any{"text": "hello", "urgent": true})
	req := httptest.NewRequest("POST", "/chat/send", bytes.NewReader(payload))
	w := httptest.NewRecorder()
	srv.server.Handler.ServeHTTP(w, req)

	require.Equal(t, 202, w.Code)
	data, err := os.ReadFile(inboxPath)
	require.NoError(t, err)
	require.Equal(t, "!URGENT hello\n", string(data))
}

func TestShellExecuteDelegatesToExecutor(t *testing.T) {
	srv, _, _ := newTestServer(t)

	payload, _ := json.Marshal(map[string]string{"command": "pwd"})
	req := httptest.NewRequest("POST", "/shell/execute", bytes.NewReader(payload))
	w := httptest.NewRecorder()
	srv.server.Handler.ServeHTTP(w, req)

	require.Equal(t, 200, w.Code)
	var result shellexec.Result
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &result))
	require.True(t, result.Success)
}

func TestMissingResourceReturnsJSONError(t *testing.T) {
	srv, _, _ := newTestServer(t)
	req := httptest.NewRequest("GET", "/search?q=test", nil)
	w := httptest.NewRecorder()
	srv.server.Handler.ServeHTTP(w, req)

	require.Equal(t, 503, w.Code)
	require.Contains(t, w.Body.String(), "\"error\"")
}
