package watcher

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	cloudevents "github.com/cloudevents/sdk-go/v2"
	"github.com/stretchr/testify/require"

	"github.com/digitalbeing/core/internal/eventbus"
)

func TestFileCreationPublishesEvent(t *testing.T) {
	dir := t.TempDir()
	bus := eventbus.New(nil)

	done := make(chan struct{})
	bus.Subscribe(EventTypeFileCreated, func(ctx context.Context, evt cloudevents.Event) error {
		select {
		case <-done:
		default:
			close(done)
		}
		return nil
	})

	w, err := New(dir, 50*time.Millisecond, bus, nil)
	require.NoError(t, err)
	w.Start(context.Background())
	defer w.Stop()

	require.NoError(t, os.WriteFile(filepath.Join(dir, "new.txt"), []byte("hi"), 0o644))

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for file_created event")
	}
}

func TestStopClosesLoopWithoutLeaking(t *testing.T) {
	dir := t.TempDir()
	bus := eventbus.New(nil)

	w, err := New(dir, 50*time.Millisecond, bus, nil)
	require.NoError(t, err)

	w.Start(context.Background())
	w.Stop()
}
