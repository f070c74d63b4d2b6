// Package heavy implements the Heavy Tick orchestrator of spec.md
// section 4.8 -- the locus of design complexity: a cycle preamble, a
// strictly sequential critical path (monologue -> goal selection ->
// action dispatch) wrapped in a fallback strategy, a concurrent optional
// path gated by the prioritized budget, and a cycle postamble.
//
// Grounded on the same two-loop cooperative scheduling shape as
// internal/tick/light (itself grounded on the teacher's
// modules/scheduler/scheduler.go ticker-driven loop with a deterministic,
// awaitable Stop), generalized here to a single long-running,
// non-overlapping cycle instead of a worker pool pulling from a job
// queue.
package heavy

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/digitalbeing/core/internal/atomicfile"
	"github.com/digitalbeing/core/internal/budget"
	"github.com/digitalbeing/core/internal/cognitive"
	"github.com/digitalbeing/core/internal/eventbus"
	"github.com/digitalbeing/core/internal/fallback"
	"github.com/digitalbeing/core/internal/llm"
	"github.com/digitalbeing/core/internal/logging"
	"github.com/digitalbeing/core/internal/memory/episodic"
	"github.com/digitalbeing/core/internal/memory/vector"
	"github.com/digitalbeing/core/internal/model"
	"github.com/digitalbeing/core/internal/shellexec"
)

// ShellRunner is the contract the action dispatch "shell" branch calls
// through; implemented by *shellexec.Executor.
type ShellRunner interface {
	Execute(ctx context.Context, command string) (shellexec.Result, error)
}

// WorldModel performs the "analyze" action's anomaly detection. The
// orchestrator only needs success/failure and a detail string; the
// anomaly-detection content itself is an out-of-scope cognitive
// generator per spec.md section 1.
type WorldModel interface {
	DetectAnomalies(ctx context.Context) (detail string, err error)
}

// Paths bundles the filesystem layout Heavy Tick reads from and writes
// to, per spec.md section 6.
type Paths struct {
	MonologueLog string
	DecisionLog  string
	GoalState    string
	SelfModel    string
	SandboxDir   string
	ArchiveDir   string
}

// Cadences bundles the tick-modulo gates for optional subsystems, per
// spec.md section 6's configuration keys.
type Cadences struct {
	ReflectionEveryNTicks   int
	NarrativeEveryNTicks    int
	CuriosityAskEveryNTicks int
	VectorCleanupEveryTicks int // default ~1000, per spec.md section 4.8
	EpisodicRetentionDays   int
	VectorRetentionDays     int
}

// Orchestrator drives one non-overlapping Heavy Tick cycle at a time.
type Orchestrator struct {
	interval time.Duration
	paths    Paths
	cadences Cadences

	gateway  *llm.Gateway
	episodic *episodic.Store
	vector   *vector.Store
	fallback *fallback.Cache
	budget   *budget.Tracker
	bus      *eventbus.Bus
	logger   logging.Logger

	strategy cognitive.Strategy
	shell    ShellRunner
	world    WorldModel
	selfmod  *cognitive.Manager

	optionalSteps []cognitive.Step

	mu         sync.Mutex
	tick       uint64
	activeGoal *model.ActiveGoal
	emotions   cognitive.EmotionState
	values     cognitive.ValueScores
	beliefs    []string
	goalsDone  int

	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

// Deps bundles every collaborator the orchestrator needs.
type Deps struct {
	Gateway  *llm.Gateway
	Episodic *episodic.Store
	Vector   *vector.Store
	Fallback *fallback.Cache
	Budget   *budget.Tracker
	Bus      *eventbus.Bus
	Logger   logging.Logger
	Strategy cognitive.Strategy
	Shell    ShellRunner
	World    WorldModel
	SelfMod  *cognitive.Manager

	OptionalSteps []cognitive.Step
}

// New constructs an Orchestrator.
func New(interval time.Duration, paths Paths, cadences Cadences, deps Deps) *Orchestrator {
	if cadences.VectorCleanupEveryTicks <= 0 {
		cadences.VectorCleanupEveryTicks = 1000
	}
	return &Orchestrator{
		interval:      interval,
		paths:         paths,
		cadences:      cadences,
		gateway:       deps.Gateway,
		episodic:      deps.Episodic,
		vector:        deps.Vector,
		fallback:      deps.Fallback,
		budget:        deps.Budget,
		bus:           deps.Bus,
		logger:        deps.Logger,
		strategy:      deps.Strategy,
		shell:         deps.Shell,
		world:         deps.World,
		selfmod:       deps.SelfMod,
		optionalSteps: deps.OptionalSteps,
		emotions:      cognitive.EmotionState{},
		values:        cognitive.ValueScores{},
	}
}

// CycleSummary is Phase D's output, per spec.md section 4.8.
type CycleSummary struct {
	Tick              uint64        `json:"tick"`
	CriticalCompleted int           `json:"critical_completed"`
	OptionalCompleted int           `json:"optional_completed"`
	Errors            []string      `json:"errors,omitempty"`
	BudgetReport      []budget.Usage `json:"budget_report"`
	Aborted           bool          `json:"aborted"`
}

// Start launches the Heavy Tick loop. Cycles never overlap: they run one
// at a time on a single goroutine driven by a fixed-period ticker, which
// keeps at most one pending tick while a cycle runs and drops the rest.
func (o *Orchestrator) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	o.cancel = cancel
	o.done = make(chan struct{})

	go func() {
		defer close(o.done)
		ticker := time.NewTicker(o.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				o.onShutdown()
				return
			case <-ticker.C:
				o.RunCycle(ctx)
			}
		}
	}()
}

// Stop signals the loop to exit after its current cycle and waits for it
// deterministically.
func (o *Orchestrator) Stop() {
	o.once.Do(func() {
		if o.cancel != nil {
			o.cancel()
		}
		if o.done != nil {
			<-o.done
		}
	})
}

// Tick reports the current Heavy Tick counter, per spec.md section 3
// ("not reset by restart" is a persistence decision left to callers that
// choose to seed an Orchestrator's counter from a prior run; in-process
// it simply counts up from zero).
func (o *Orchestrator) Tick() uint64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.tick
}

// ActiveGoal returns a copy of the currently active goal, if any.
func (o *Orchestrator) ActiveGoal() *model.ActiveGoal {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.activeGoal == nil {
		return nil
	}
	g := *o.activeGoal
	return &g
}

// onShutdown marks an in-progress goal interrupted and re-persists it,
// per spec.md section 4.8 Cancellation: "The Heavy Tick's shutdown
// handler is the only place permitted to mark an active goal as
// interrupted."
func (o *Orchestrator) onShutdown() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.activeGoal == nil || o.activeGoal.Status != model.GoalActive {
		return
	}
	o.activeGoal.Status = model.GoalInterrupted
	_ = o.persistGoal(*o.activeGoal)
}

// RunCycle executes exactly one Heavy Tick cycle's four phases.
func (o *Orchestrator) RunCycle(ctx context.Context) CycleSummary {
	o.preamble()

	summary := CycleSummary{Tick: o.Tick()}

	monologue, ok := o.stepMonologue(ctx)
	if !ok {
		summary.Aborted = true
		summary.Errors = append(summary.Errors, "monologue step aborted cycle")
		return o.postamble(summary)
	}
	summary.CriticalCompleted++

	decision, ok := o.stepGoalSelection(ctx, monologue)
	if !ok {
		summary.Aborted = true
		summary.Errors = append(summary.Errors, "goal selection step aborted cycle")
		return o.postamble(summary)
	}
	summary.CriticalCompleted++

	if ok := o.stepActionDispatch(ctx, decision); ok {
		summary.CriticalCompleted++
	} else {
		summary.Errors = append(summary.Errors, "action dispatch failed")
	}

	optDone, optErrs := o.runOptionalPhase(ctx)
	summary.OptionalCompleted = optDone
	summary.Errors = append(summary.Errors, optErrs...)

	return o.postamble(summary)
}

// preamble implements Phase A.
func (o *Orchestrator) preamble() {
	o.gateway.ResetTick()
	o.budget.ResetCycle()
	o.mu.Lock()
	o.tick++
	o.mu.Unlock()
	o.fallback.CleanupExpired()
}

// criticalStep wraps fn in the fallback strategy: execute with a
// per-step timeout; on failure, fall through to a (possibly stale)
// fallback cache entry for name; a successful run refreshes the cache
// entry. Per spec.md section 4.8, if neither path yields a value the
// whole cycle aborts -- callers of criticalStep check the returned ok.
func (o *Orchestrator) criticalStep(ctx context.Context, name string, fn func(ctx context.Context) (any, error)) (any, bool) {
	stepCtx, cancel := context.WithTimeout(ctx, cognitive.DefaultTimeout(name))
	defer cancel()

	val, err := fn(stepCtx)
	if err == nil {
		o.fallback.Set(name, val, time.Hour)
		return val, true
	}

	if o.logger != nil {
		o.logger.Error("heavy tick: critical step failed", "step", name, "error", err)
	}
	if cached, found := o.fallback.Get(name, nil, true); found {
		if o.logger != nil {
			o.logger.Warn("heavy tick: falling back to stale cache entry", "step", name)
		}
		return cached, true
	}
	if o.logger != nil {
		o.logger.Error("heavy tick: cycle aborted, no fallback available", "step", name)
	}
	return nil, false
}

func (o *Orchestrator) snapshot(monologue string) cognitive.Snapshot {
	recent, _ := o.episodic.GetRecent(context.Background(), 20)
	return cognitive.Snapshot{
		Tick:           o.Tick(),
		RecentEpisodes: recent,
		WorldSummary:   fmt.Sprintf("tick %d, %d recent episodes observed", o.Tick(), len(recent)),
		Emotions:       o.emotions,
		Beliefs:        o.beliefs,
		ActiveGoal:     o.ActiveGoal(),
		Monologue:      monologue,
	}
}

// stepMonologue implements Phase B step 1.
func (o *Orchestrator) stepMonologue(ctx context.Context) (string, bool) {
	val, ok := o.criticalStep(ctx, "monologue", func(ctx context.Context) (any, error) {
		snap := o.snapshot("")
		prompt := fmt.Sprintf("World summary: %s\nEmotions: %v\nBeliefs: %v\nCompose a short internal monologue about the current situation.",
			snap.WorldSummary, snap.Emotions, snap.Beliefs)
		text, ok := o.gateway.Chat(ctx, "You are the internal monologue of an autonomous agent. Be concise.", prompt)
		if !ok {
			return nil, fmt.Errorf("heavy: monologue gateway call failed")
		}
		o.appendLog(o.paths.MonologueLog, text)
		o.episodic.AddEpisode(ctx, "monologue", firstN(text, model.MaxDescriptionLen), model.OutcomeSuccess, nil)
		return text, nil
	})
	if !ok {
		return "", false
	}
	return val.(string), true
}

// stepGoalSelection implements Phase B step 2.
func (o *Orchestrator) stepGoalSelection(ctx context.Context, monologue string) (model.ActiveGoal, bool) {
	val, ok := o.criticalStep(ctx, "goal_selection", func(ctx context.Context) (any, error) {
		snap := o.snapshot(monologue)
		decision, ok := o.strategy.Decide(ctx, monologue, snap)
		if !ok {
			return nil, fmt.Errorf("heavy: strategy engine unavailable")
		}

		prior := o.ActiveGoal()
		goal := cognitive.NextGoal(decision, prior, o.Tick())
		if err := o.persistGoal(goal); err != nil {
			return nil, err
		}
		o.mu.Lock()
		o.activeGoal = &goal
		o.mu.Unlock()
		return goal, nil
	})
	if !ok {
		return model.ActiveGoal{}, false
	}
	return val.(model.ActiveGoal), true
}

// stepActionDispatch implements Phase B step 3: branch on action type,
// then update emotion/value state and write the post-action episode
// regardless of branch outcome.
func (o *Orchestrator) stepActionDispatch(ctx context.Context, goal model.ActiveGoal) bool {
	val, ok := o.criticalStep(ctx, "action_dispatch", func(ctx context.Context) (any, error) {
		outcome, detail := o.dispatch(ctx, goal)

		o.mu.Lock()
		o.emotions = cognitive.UpdateEmotion(o.emotions, outcome)
		o.values = cognitive.UpdateValues(o.values, goal.ActionType, outcome)
		if outcome == model.OutcomeSuccess {
			goal.Status = model.GoalCompleted
			if cognitive.CountsTowardCompleted(goal) {
				o.goalsDone++
			}
			o.activeGoal = &goal
			_ = o.persistGoal(goal)
		}
		o.mu.Unlock()

		o.episodic.AddEpisode(ctx, "action.outcome", firstN(fmt.Sprintf("%s: %s", goal.ActionType, detail), model.MaxDescriptionLen), outcome, nil)
		o.appendLog(o.paths.DecisionLog, fmt.Sprintf("tick=%d action=%s outcome=%s detail=%s", o.Tick(), goal.ActionType, outcome, detail))

		if outcome != model.OutcomeSuccess {
			return nil, fmt.Errorf("heavy: action dispatch outcome %s: %s", outcome, detail)
		}
		return detail, nil
	})
	return ok && val != nil
}

func (o *Orchestrator) dispatch(ctx context.Context, goal model.ActiveGoal) (model.Outcome, string) {
	switch goal.ActionType {
	case model.ActionObserve:
		return model.OutcomeSuccess, "observed, no side effect"

	case model.ActionAnalyze:
		if o.world == nil {
			return model.OutcomeUnknown, "no world model wired"
		}
		detail, err := o.world.DetectAnomalies(ctx)
		if err != nil {
			return model.OutcomeFailure, err.Error()
		}
		return model.OutcomeSuccess, detail

	case model.ActionWrite:
		if o.paths.SandboxDir == "" {
			return model.OutcomeFailure, "no sandbox directory configured"
		}
		name := fmt.Sprintf("artifact_%s.txt", time.Now().Format("20060102_150405"))
		dest := filepath.Join(o.paths.SandboxDir, name)
		content := fmt.Sprintf("goal: %s\nreasoning: %s\n", goal.Goal, goal.Reasoning)
		if err := atomicfile.Write(dest, []byte(content), 0o644); err != nil {
			return model.OutcomeFailure, err.Error()
		}
		return model.OutcomeSuccess, "wrote " + dest

	case model.ActionReflect:
		return o.reflect(ctx)

	case model.ActionShell:
		if o.shell == nil {
			return model.OutcomeFailure, "no shell executor configured"
		}
		result, err := o.shell.Execute(ctx, goal.ShellCommand)
		if err != nil {
			return model.OutcomeFailure, err.Error()
		}
		if !result.Success {
			return model.OutcomeFailure, result.Stderr
		}
		return model.OutcomeSuccess, result.Stdout

	default:
		return model.OutcomeUnknown, "unrecognized action type"
	}
}

// reflect implements spec.md section 4.8's "reflect" branch: read recent
// error episodes; if any, ask the LLM for a one-sentence principle and
// add it to the self-model, deduplicated by exact text.
func (o *Orchestrator) reflect(ctx context.Context) (model.Outcome, string) {
	errType := model.OutcomeFailure
	errs, err := o.episodic.GetByType(ctx, "action.outcome", 10, &errType)
	if err != nil {
		return model.OutcomeFailure, err.Error()
	}
	if len(errs) == 0 {
		return model.OutcomeSuccess, "no recent errors to reflect on"
	}

	prompt := fmt.Sprintf("Recent error: %s\nState one general principle to avoid repeating this, in one sentence.", errs[0].Description)
	principle, ok := o.gateway.Chat(ctx, "You distill one-sentence operating principles from past errors.", prompt)
	if !ok || principle == "" {
		return model.OutcomeFailure, "gateway produced no principle"
	}

	existing, err := o.episodic.GetActivePrinciples(ctx)
	if err == nil {
		for _, p := range existing {
			if p.Text == principle {
				return model.OutcomeSuccess, "principle already present, deduplicated"
			}
		}
	}

	if _, err := o.episodic.AddPrinciple(ctx, principle, errs[0].ID); err != nil {
		return model.OutcomeFailure, err.Error()
	}
	return model.OutcomeSuccess, "added principle: " + principle
}

// runOptionalPhase implements Phase C: every registered optional step
// runs concurrently, each under its own timeout and budget admission
// check, with a panic boundary isolating one step's failure from the
// rest of the cycle.
func (o *Orchestrator) runOptionalPhase(ctx context.Context) (completed int, errs []string) {
	snap := o.snapshot("")
	tick := snap.Tick

	var mu sync.Mutex
	var wg sync.WaitGroup
	for _, step := range o.optionalSteps {
		step := step
		if !o.dueThisTick(step.Name(), tick) {
			continue
		}
		priority := cognitive.Priority(step.Name())
		if !o.budget.CanExecute(priority, 1) {
			o.budget.RecordSkip(priority)
			continue
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					mu.Lock()
					errs = append(errs, fmt.Sprintf("%s: panic: %v", step.Name(), r))
					mu.Unlock()
					if o.logger != nil {
						o.logger.Error("heavy tick: optional step panicked", "step", step.Name(), "panic", r)
					}
				}
			}()

			stepCtx, cancel := context.WithTimeout(ctx, cognitive.DefaultTimeout(step.Name()))
			defer cancel()

			start := time.Now()
			result, err := step.Run(stepCtx, snap)
			o.budget.RecordUsage(priority, 1)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, fmt.Sprintf("%s: %v", step.Name(), err))
				if o.logger != nil {
					o.logger.Warn("heavy tick: optional step failed", "step", step.Name(), "error", err, "elapsed", time.Since(start))
				}
				return
			}
			completed++
			_ = result
		}()
	}
	wg.Wait()
	return completed, errs
}

// dueThisTick applies the tick-modulo cadence gates of spec.md section 6
// to the named optional step. A cadence of zero means "every tick".
// Cadences without a corresponding optional step (reflection, which is
// an action-dispatch branch chosen by the strategy engine rather than a
// cadence, and narrative, whose content generator is out of scope per
// spec.md section 1) are not consulted here.
func (o *Orchestrator) dueThisTick(name string, tick uint64) bool {
	switch name {
	case "curiosity":
		return o.cadences.CuriosityAskEveryNTicks <= 0 || tick%uint64(o.cadences.CuriosityAskEveryNTicks) == 0
	default:
		return true
	}
}

// postamble implements Phase D: log budget utilization and return the
// cycle summary.
func (o *Orchestrator) postamble(summary CycleSummary) CycleSummary {
	summary.BudgetReport = o.budget.Report()
	if o.logger != nil {
		o.logger.Info("heavy tick: cycle complete",
			"tick", summary.Tick,
			"critical_completed", summary.CriticalCompleted,
			"optional_completed", summary.OptionalCompleted,
			"errors", len(summary.Errors),
			"aborted", summary.Aborted)
	}
	return summary
}

func (o *Orchestrator) persistGoal(goal model.ActiveGoal) error {
	if o.paths.GoalState == "" {
		return nil
	}
	data, err := json.Marshal(goal)
	if err != nil {
		return fmt.Errorf("heavy: marshal goal state: %w", err)
	}
	return atomicfile.WriteJSON(o.paths.GoalState, data)
}

func (o *Orchestrator) appendLog(path, line string) {
	if path == "" {
		return
	}
	if dir := filepath.Dir(path); dir != "." {
		_ = os.MkdirAll(dir, 0o755)
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return
	}
	defer f.Close()
	_, _ = f.WriteString(fmt.Sprintf("[%s] %s\n", time.Now().Format(time.RFC3339), line))
}

func firstN(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
