// Package dream implements the "weekly strategy update" maintenance task
// of spec.md section 4.8's periodic-maintenance bullet. Unlike the
// Heavy Tick's other maintenance work (vector cleanup, episodic
// archival), a strategy consolidation pass is meaningful on its own
// wall-clock cadence rather than a tick multiple, so it runs on its own
// cron-scheduled goroutine rather than inside the optional phase.
package dream

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/digitalbeing/core/internal/atomicfile"
	"github.com/digitalbeing/core/internal/eventbus"
	"github.com/digitalbeing/core/internal/llm"
	"github.com/digitalbeing/core/internal/logging"
	"github.com/digitalbeing/core/internal/memory/episodic"
	"github.com/digitalbeing/core/internal/model"
)

// EventTypeCompleted is published once a consolidation pass finishes,
// per spec.md section 6's `dream.completed` event-bus topic.
const EventTypeCompleted = "com.digitalbeing.dream.completed"

// Consolidator folds recent episodes and standing principles into an
// updated strategy statement, on a constant-delay schedule driven by
// dream.interval_hours.
type Consolidator struct {
	Gateway      *llm.Gateway
	Episodic     *episodic.Store
	Bus          *eventbus.Bus
	Logger       logging.Logger
	StrategyPath string

	cron *cron.Cron
}

// Start schedules the consolidation job at the given interval, grounded
// on the teacher's modules/scheduler.go use of robfig/cron for recurring
// work -- here via cron.Every's constant-delay schedule rather than a
// parsed cron expression, since the interval is hours, not a calendar
// pattern.
func (c *Consolidator) Start(interval time.Duration) {
	if interval <= 0 {
		interval = 6 * time.Hour
	}
	c.cron = cron.New()
	c.cron.Schedule(cron.Every(interval), cron.FuncJob(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		c.run(ctx)
	}))
	c.cron.Start()
}

// Stop halts the scheduler and waits for any in-flight job to finish.
func (c *Consolidator) Stop() {
	if c.cron == nil {
		return
	}
	<-c.cron.Stop().Done()
}

func (c *Consolidator) run(ctx context.Context) {
	recent, err := c.Episodic.GetRecent(ctx, 50)
	if err != nil || len(recent) == 0 {
		return
	}
	principles, _ := c.Episodic.GetActivePrinciples(ctx)

	prompt := fmt.Sprintf("Recent episode count: %d. Active standing principles: %d. Write one updated strategy paragraph consolidating what has been learned.", len(recent), len(principles))
	text, ok := c.Gateway.Chat(ctx, "You consolidate an autonomous agent's recent experience into an updated strategy statement.", prompt)
	if !ok || text == "" {
		return
	}

	if c.StrategyPath != "" {
		_ = atomicfile.Write(c.StrategyPath, []byte(text), 0o644)
	}
	_, _ = c.Episodic.AddEpisode(ctx, "dream.completed", text, model.OutcomeSuccess, nil)
	if c.Bus != nil {
		c.Bus.Publish(ctx, EventTypeCompleted, map[string]string{"summary": text})
	}
	if c.Logger != nil {
		c.Logger.Info("dream: strategy consolidation complete")
	}
}
