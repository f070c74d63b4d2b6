// Package light implements the Light Tick heartbeat loop of spec.md
// section 4.7: inbox ingestion, state-snapshot rotation, and an
// action-log append, on a short fixed cadence that runs independently of
// the Heavy Tick.
//
// Grounded on the two-loop cooperative scheduling shape of the teacher's
// modules/scheduler/scheduler.go (a ticker-driven loop selecting between
// its timer channel and a cancellation context, with a deterministic,
// awaitable Stop via sync.WaitGroup).
package light

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/digitalbeing/core/internal/eventbus"
	"github.com/digitalbeing/core/internal/logging"
)

const urgentPrefix = "!URGENT "

// EventTypeUserMessage and EventTypeUserUrgent are the two topics Light
// Tick publishes inbox contents to, per spec.md section 4.7.
const (
	EventTypeUserMessage = "com.digitalbeing.user.message"
	EventTypeUserUrgent  = "com.digitalbeing.user.urgent"
)

// inboxPayload is published to the event bus for both inbox event types.
type inboxPayload struct {
	Text string `json:"text"`
	Tick int64  `json:"tick"`
}

// Loop runs the Light Tick heartbeat.
type Loop struct {
	interval     time.Duration
	inboxPath    string
	snapshotDir  string
	statePath    string
	actionLog    string
	maxSnapshots int

	bus    *eventbus.Bus
	logger logging.Logger

	counter int64

	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

// Config bundles Loop's filesystem paths and cadence, sourced from
// spec.md section 6's filesystem layout.
type Config struct {
	Interval     time.Duration
	InboxPath    string
	StatePath    string
	SnapshotDir  string
	ActionLog    string
	MaxSnapshots int // default 10
}

// New constructs a Light Tick loop.
func New(cfg Config, bus *eventbus.Bus, logger logging.Logger) *Loop {
	max := cfg.MaxSnapshots
	if max <= 0 {
		max = 10
	}
	return &Loop{
		interval:     cfg.Interval,
		inboxPath:    cfg.InboxPath,
		snapshotDir:  cfg.SnapshotDir,
		statePath:    cfg.StatePath,
		actionLog:    cfg.ActionLog,
		maxSnapshots: max,
		bus:          bus,
		logger:       logger,
	}
}

// Start launches the heartbeat goroutine. Each iteration measures its own
// wall time and sleeps only the remainder of the interval, so a long
// iteration shortens (never lengthens) the next sleep.
func (l *Loop) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	l.cancel = cancel
	l.done = make(chan struct{})

	go func() {
		defer close(l.done)
		for {
			start := time.Now()
			select {
			case <-ctx.Done():
				return
			default:
			}

			l.tick(ctx)

			elapsed := time.Since(start)
			sleep := l.interval - elapsed
			if sleep < 0 {
				sleep = 0
			}
			timer := time.NewTimer(sleep)
			select {
			case <-ctx.Done():
				timer.Stop()
				return
			case <-timer.C:
			}
		}
	}()
}

// Stop signals the loop to exit and waits for it, deterministically.
func (l *Loop) Stop() {
	l.once.Do(func() {
		if l.cancel != nil {
			l.cancel()
		}
		if l.done != nil {
			<-l.done
		}
	})
}

// Counter reports the number of Light Tick iterations completed so far.
// Per spec.md section 3, this counter is process-lifetime only, never
// persisted across restarts.
func (l *Loop) Counter() int64 {
	return l.counter
}

func (l *Loop) tick(ctx context.Context) {
	l.counter++
	status := "ok"

	if err := l.processInbox(ctx); err != nil {
		status = "inbox_error"
		if l.logger != nil {
			l.logger.Error("light tick: inbox processing failed", "error", err)
		}
	}
	if err := l.rotateSnapshot(); err != nil {
		status = "snapshot_error"
		if l.logger != nil {
			l.logger.Error("light tick: snapshot rotation failed", "error", err)
		}
	}
	l.appendActionLog(status)
}

// processInbox implements spec.md section 4.7 step 1: read-if-present,
// classify urgent vs normal, truncate before delivering to the bus so a
// handler panic cannot cause redelivery on the next tick.
func (l *Loop) processInbox(ctx context.Context) error {
	if l.inboxPath == "" {
		return nil
	}
	data, err := os.ReadFile(l.inboxPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	content := strings.TrimRight(string(data), "\n")
	if content == "" {
		return nil
	}

	eventType := EventTypeUserMessage
	text := content
	if strings.HasPrefix(content, urgentPrefix) {
		eventType = EventTypeUserUrgent
		text = strings.TrimPrefix(content, urgentPrefix)
	}

	if err := os.WriteFile(l.inboxPath, nil, 0o644); err != nil {
		return fmt.Errorf("light: truncate inbox: %w", err)
	}

	l.bus.Publish(ctx, eventType, inboxPayload{Text: text, Tick: l.counter})
	return nil
}

// rotateSnapshot implements spec.md section 4.7 step 2: copy the current
// state file to a timestamped snapshot, then keep only the newest
// maxSnapshots, unlinking the rest.
func (l *Loop) rotateSnapshot() error {
	if l.statePath == "" || l.snapshotDir == "" {
		return nil
	}
	data, err := os.ReadFile(l.statePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	if err := os.MkdirAll(l.snapshotDir, 0o755); err != nil {
		return err
	}
	name := fmt.Sprintf("state_%s.json", time.Now().Format("20060102_150405"))
	dest := filepath.Join(l.snapshotDir, name)
	if err := os.WriteFile(dest, data, 0o644); err != nil {
		return err
	}

	return l.pruneSnapshots()
}

func (l *Loop) pruneSnapshots() error {
	entries, err := os.ReadDir(l.snapshotDir)
	if err != nil {
		return err
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() && strings.HasPrefix(e.Name(), "state_") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	if len(names) <= l.maxSnapshots {
		return nil
	}
	excess := names[:len(names)-l.maxSnapshots]
	for _, n := range excess {
		if err := os.Remove(filepath.Join(l.snapshotDir, n)); err != nil && !os.IsNotExist(err) {
			return err
		}
	}
	return nil
}

// appendActionLog implements spec.md section 4.7 step 3: one line per
// iteration naming the tick and its completion status.
func (l *Loop) appendActionLog(status string) {
	if l.actionLog == "" {
		return
	}
	if dir := filepath.Dir(l.actionLog); dir != "." {
		_ = os.MkdirAll(dir, 0o755)
	}
	f, err := os.OpenFile(l.actionLog, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		if l.logger != nil {
			l.logger.Error("light tick: action log append failed", "error", err)
		}
		return
	}
	defer f.Close()
	line := fmt.Sprintf("%s tick=%d status=%s\n", time.Now().Format(time.RFC3339), l.counter, status)
	_, _ = f.WriteString(line)
}
