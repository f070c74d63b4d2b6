// Package watcher implements the filesystem-observation leaf device of
// SPEC_FULL.md section C.4: it feeds the world model's content
// generation without generating content itself, publishing raw file
// change notifications onto the event bus so whichever cognitive step
// wants them can subscribe.
//
// Grounded on the teacher's go.mod fsnotify dependency (the teacher pulls
// it in for its config hot-reload modules); the watch-loop shape here
// follows fsnotify's own documented NewWatcher/Add/event-channel-select
// idiom rather than the teacher's internal reload plumbing, since that
// source was not part of the retrieved teacher.
package watcher

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/digitalbeing/core/internal/eventbus"
	"github.com/digitalbeing/core/internal/logging"
)

const (
	EventTypeFileCreated = "com.digitalbeing.world.file_created"
	EventTypeFileChanged = "com.digitalbeing.world.file_changed"
	EventTypeFileDeleted = "com.digitalbeing.world.file_deleted"
	EventTypeUpdated     = "com.digitalbeing.world.updated"
	EventTypeReady       = "com.digitalbeing.world.ready"
)

// filePayload is published for every individual file-change event.
type filePayload struct {
	Path string `json:"path"`
}

// Watcher observes a root directory (recursively, one watch per
// directory since fsnotify does not watch subtrees on its own) and
// republishes changes onto the event bus, debounced so a burst of writes
// to the same file collapses into a single world.updated.
type Watcher struct {
	root     string
	debounce time.Duration

	bus    *eventbus.Bus
	logger logging.Logger
	fsw    *fsnotify.Watcher

	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

// New constructs a Watcher. debounce collapses rapid-fire fsnotify
// events for the same underlying write into one world.updated.
func New(root string, debounce time.Duration, bus *eventbus.Bus, logger logging.Logger) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if debounce <= 0 {
		debounce = 500 * time.Millisecond
	}
	w := &Watcher{root: root, debounce: debounce, bus: bus, logger: logger, fsw: fsw}
	if err := w.addRecursive(root); err != nil {
		_ = fsw.Close()
		return nil, err
	}
	return w, nil
}

func (w *Watcher) addRecursive(root string) error {
	return filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return w.fsw.Add(path)
		}
		return nil
	})
}

// Start launches the watch loop and publishes world.ready once
// established.
func (w *Watcher) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	w.done = make(chan struct{})

	w.bus.Publish(ctx, EventTypeReady, map[string]string{"root": w.root})

	go func() {
		defer close(w.done)
		var (
			debounceTimer *time.Timer
			pendingMu     sync.Mutex
		)
		defer func() {
			if debounceTimer != nil {
				debounceTimer.Stop()
			}
		}()

		for {
			select {
			case <-ctx.Done():
				return
			case evt, ok := <-w.fsw.Events:
				if !ok {
					return
				}
				w.publishOne(ctx, evt)

				pendingMu.Lock()
				if debounceTimer == nil {
					debounceTimer = time.AfterFunc(w.debounce, func() {
						w.bus.Publish(context.Background(), EventTypeUpdated, map[string]string{"root": w.root})
						pendingMu.Lock()
						debounceTimer = nil
						pendingMu.Unlock()
					})
				}
				pendingMu.Unlock()
			case err, ok := <-w.fsw.Errors:
				if !ok {
					return
				}
				if w.logger != nil {
					w.logger.Error("watcher: fsnotify error", "error", err)
				}
			}
		}
	}()
}

func (w *Watcher) publishOne(ctx context.Context, evt fsnotify.Event) {
	payload := filePayload{Path: evt.Name}
	switch {
	case evt.Op&fsnotify.Create != 0:
		w.bus.Publish(ctx, EventTypeFileCreated, payload)
		if info, err := os.Stat(evt.Name); err == nil && info.IsDir() {
			_ = w.fsw.Add(evt.Name)
		}
	case evt.Op&fsnotify.Write != 0:
		w.bus.Publish(ctx, EventTypeFileChanged, payload)
	case evt.Op&(fsnotify.Remove|fsnotify.Rename) != 0:
		w.bus.Publish(ctx, EventTypeFileDeleted, payload)
	}
}

// Stop closes the underlying fsnotify watcher and waits for the loop to
// exit, deterministically.
func (w *Watcher) Stop() {
	w.once.Do(func() {
		if w.cancel != nil {
			w.cancel()
		}
		_ = w.fsw.Close()
		if w.done != nil {
			<-w.done
		}
	})
}
