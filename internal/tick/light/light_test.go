package light

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	cloudevents "github.com/cloudevents/sdk-go/v2"
	"github.com/digitalbeing/core/internal/eventbus"
	"github.com/stretchr/testify/require"
)

func TestUrgentInboxPath(t *testing.T) {
	dir := t.TempDir()
	inbox := filepath.Join(dir, "inbox.txt")
	require.NoError(t, os.WriteFile(inbox, []byte("!URGENT help"), 0o644))

	bus := eventbus.New(nil)
	received := make(chan inboxPayload, 1)
	bus.Subscribe(EventTypeUserUrgent, func(ctx context.Context, evt cloudevents.Event) error {
		var p inboxPayload
		_ = evt.DataAs(&p)
		received <- p
		return nil
	})

	loop := New(Config{
		Interval:  time.Hour,
		InboxPath: inbox,
		ActionLog: filepath.Join(dir, "logs", "actions.log"),
	}, bus, nil)

	loop.tick(context.Background())

	select {
	case p := <-received:
		require.Equal(t, "help", p.Text)
	case <-time.After(time.Second):
		t.Fatal("expected user.urgent event")
	}

	data, err := os.ReadFile(inbox)
	require.NoError(t, err)
	require.Empty(t, data)

	logData, err := os.ReadFile(filepath.Join(dir, "logs", "actions.log"))
	require.NoError(t, err)
	require.Contains(t, string(logData), "tick=1")
}

func TestSnapshotRotationKeepsNewest(t *testing.T) {
	dir := t.TempDir()
	statePath := filepath.Join(dir, "state.json")
	snapDir := filepath.Join(dir, "snapshots")
	require.NoError(t, os.WriteFile(statePath, []byte(`{"tick":1}`), 0o644))

	loop := New(Config{
		Interval:     time.Hour,
		StatePath:    statePath,
		SnapshotDir:  snapDir,
		MaxSnapshots: 2,
	}, eventbus.New(nil), nil)

	for i := 0; i < 4; i++ {
		require.NoError(t, loop.rotateSnapshot())
		time.Sleep(1100 * time.Millisecond)
	}

	entries, err := os.ReadDir(snapDir)
	require.NoError(t, err)
	require.Len(t, entries, 2)
}

func TestNoInboxFileIsNotAnError(t *testing.T) {
	dir := t.TempDir()
	loop := New(Config{
		Interval:  time.Hour,
		InboxPath: filepath.Join(dir, "missing_inbox.txt"),
	}, eventbus.New(nil), nil)
	require.NoError(t, loop.processInbox(context.Background()))
}
