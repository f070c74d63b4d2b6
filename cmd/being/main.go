// Command being is the Digital Being process entrypoint: it loads
// configuration, wires every subsystem described in spec.md section 4,
// starts the two independent tick loops plus the health monitor,
// watcher and introspection server, then blocks until an interrupt or
// terminate signal arrives and shuts everything down in reverse
// dependency order.
//
// Grounded on the teacher's application.go Run() lifecycle (Init then
// Start then block on SIGINT/SIGTERM then Stop), generalized from the
// teacher's DI-container module registration to explicit constructor
// wiring since this being has no modular.Application underneath it.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	cloudevents "github.com/cloudevents/sdk-go/v2"

	"github.com/digitalbeing/core/internal/atomicfile"
	"github.com/digitalbeing/core/internal/budget"
	"github.com/digitalbeing/core/internal/cognitive"
	"github.com/digitalbeing/core/internal/config"
	"github.com/digitalbeing/core/internal/dream"
	"github.com/digitalbeing/core/internal/eventbus"
	"github.com/digitalbeing/core/internal/fallback"
	"github.com/digitalbeing/core/internal/health"
	"github.com/digitalbeing/core/internal/introspect"
	"github.com/digitalbeing/core/internal/llm"
	"github.com/digitalbeing/core/internal/logging"
	"github.com/digitalbeing/core/internal/memory/episodic"
	"github.com/digitalbeing/core/internal/memory/vector"
	"github.com/digitalbeing/core/internal/model"
	"github.com/digitalbeing/core/internal/shellexec"
	"github.com/digitalbeing/core/internal/tick/heavy"
	"github.com/digitalbeing/core/internal/tick/light"
	"github.com/digitalbeing/core/internal/watcher"
)

func main() {
	os.Exit(run())
}

// run returns the process exit code rather than calling os.Exit directly
// so deferred cleanup always executes.
func run() int {
	var configPath string
	var root string
	flag.StringVar(&configPath, "config", "", "path to a TOML or YAML config file (optional)")
	flag.StringVar(&root, "root", ".", "working directory the being's filesystem layout is rooted at")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "being: config load failed: %v\n", err)
		return 1
	}

	logger := logging.NewMasking(logging.New(cfg.Logging.Level, cfg.Logging.Format))

	paths := newLayout(root, cfg)
	if err := paths.ensureDirs(); err != nil {
		logger.Error("being: failed to prepare filesystem layout", "error", err)
		return 1
	}

	bus := eventbus.New(logger)

	episodicStore, err := episodic.Open(paths.episodicDB, logger)
	if err != nil {
		logger.Error("being: failed to open episodic store", "error", err)
		return 1
	}
	defer episodicStore.Close()

	vectorStore, err := vector.Open(paths.vectorDir, cfg.Memory.VectorDimension, logger)
	if err != nil {
		logger.Error("being: failed to open vector store", "error", err)
		return 1
	}

	backend := llm.NewOllamaBackend(cfg.Ollama.BaseURL, cfg.OllamaTimeout())
	gateway := llm.New(llm.Config{
		MaxLLMCallsPerTick: cfg.Resources.Budget.MaxLLMCalls,
		CacheMaxSize:       cfg.Cache.MaxSize,
		CacheTTL:           time.Duration(cfg.Cache.TTLSeconds) * time.Second,
		ChatRate:           cfg.RateLimit.ChatRate,
		ChatBurst:          cfg.RateLimit.ChatBurst,
		EmbedRate:          cfg.RateLimit.EmbedRate,
		EmbedBurst:         cfg.RateLimit.EmbedBurst,
		FailureThreshold:   5,
		SuccessThreshold:   2,
		RecoveryTimeout:    30 * time.Second,
		Retry:              llm.DefaultRetryConfig(),
		ChatModel:          cfg.Ollama.StrategyModel,
		EmbedModel:         cfg.Ollama.EmbedModel,
	}, backend, logger)

	fallbackCache := fallback.New(logger)
	fallbackCache.SetDefault("monologue", "the being has nothing to report yet")
	fallbackCache.SetDefault("goal_selection", model.DefaultGoal(0))
	fallbackCache.SetDefault("action_dispatch", "no action taken")

	budgetTracker := budget.New(budget.Limits{
		MaxImportantCalls: 6,
		MaxOptionalCalls:  4,
		MaxWallTime:       cfg.HeavyTickInterval(),
	})

	healthMonitor := health.NewMonitor(time.Duration(cfg.Health.CheckIntervalSec*float64(time.Second)), cfg.Health.FailureThreshold, logger)
	healthMonitor.Register("llm_gateway", func(ctx context.Context) (bool, time.Duration, error) {
		start := time.Now()
		err := gateway.Healthy()
		return err == nil, time.Since(start), err
	}, 5*time.Second)
	healthMonitor.Register("episodic_store", func(ctx context.Context) (bool, time.Duration, error) {
		start := time.Now()
		err := episodicStore.Healthy(ctx)
		return err == nil, time.Since(start), err
	}, 2*time.Second)

	shellExecutor, err := shellexec.New(paths.sandboxDir, cfg.Shell.OutputCapBytes, shellexec.DefaultWhitelist(), episodicStore, logger)
	if err != nil {
		logger.Error("being: failed to construct shell executor", "error", err)
		return 1
	}

	fsWatcher, err := watcher.New(paths.watchRoot, time.Duration(cfg.Watcher.DebounceMs)*time.Millisecond, bus, logger)
	if err != nil {
		logger.Error("being: failed to start filesystem watcher", "error", err)
		return 1
	}

	strategy := &cognitive.LLMStrategy{Gateway: gateway}
	world := &cognitive.LLMWorldModel{Gateway: gateway, Episodic: episodicStore}

	selfModManager := cognitive.NewManager(cfg, episodicStore, selfModMetric(healthMonitor), logger)

	// orch is captured by the maintenance step's cleanup closure below so
	// its cadence gate can read the orchestrator's live tick; it is
	// assigned once heavy.New returns, before the cycle loop ever starts.
	var orch *heavy.Orchestrator

	cadences := heavy.Cadences{
		ReflectionEveryNTicks:   cfg.Reflection.EveryNTicks,
		NarrativeEveryNTicks:    cfg.Narrative.EveryNTicks,
		CuriosityAskEveryNTicks: cfg.Curiosity.AskEveryNTicks,
		VectorCleanupEveryTicks: 1000,
		EpisodicRetentionDays:   cfg.Memory.EpisodicRetentionDays,
		VectorRetentionDays:     cfg.Memory.VectorRetentionDays,
	}

	optionalSteps := []cognitive.Step{
		&cognitive.CuriosityStep{Gateway: gateway, Episodic: episodicStore, Logger: logger},
		&cognitive.BeliefStep{Gateway: gateway, Episodic: episodicStore, Logger: logger},
		&cognitive.ContradictionStep{Gateway: gateway, Episodic: episodicStore, Logger: logger},
		&cognitive.TimePerceptionStep{Episodic: episodicStore, Logger: logger},
		&cognitive.SocialStep{Episodic: episodicStore, Logger: logger},
		&cognitive.MetaCognitionStep{Episodic: episodicStore, Logger: logger},
		&cognitive.SelfModificationStep{Gateway: gateway, Manager: selfModManager, Tick: func() uint64 { return orch.Tick() }, Logger: logger},
		&cognitive.MonitorWindowStep{Manager: selfModManager, WorsenedThreshold: 0.1},
		&cognitive.MaintenanceStep{
			Episodic: episodicStore,
			Archive: func(ctx context.Context) (int, error) {
				return episodicStore.ArchiveOld(ctx, cadences.EpisodicRetentionDays, paths.archiveDir)
			},
			Cleanup: func(ctx context.Context) (int, error) {
				if orch != nil && orch.Tick()%uint64(cadences.VectorCleanupEveryTicks) != 0 {
					return 0, nil
				}
				return vectorStore.CleanupOlderThan(ctx, cadences.VectorRetentionDays)
			},
			Logger: logger,
		},
	}

	orch = heavy.New(cfg.HeavyTickInterval(), heavy.Paths{
		MonologueLog: paths.monologueLog,
		DecisionLog:  paths.decisionLog,
		GoalState:    paths.goalState,
		SelfModel:    paths.selfModel,
		SandboxDir:   paths.sandboxDir,
		ArchiveDir:   paths.archiveDir,
	}, cadences, heavy.Deps{
		Gateway:       gateway,
		Episodic:      episodicStore,
		Vector:        vectorStore,
		Fallback:      fallbackCache,
		Budget:        budgetTracker,
		Bus:           bus,
		Logger:        logger,
		Strategy:      strategy,
		Shell:         shellExecutor,
		World:         world,
		SelfMod:       selfModManager,
		OptionalSteps: optionalSteps,
	})

	lightLoop := light.New(light.Config{
		Interval:     cfg.LightTickInterval(),
		InboxPath:    paths.inboxFile,
		StatePath:    paths.stateFile,
		SnapshotDir:  paths.snapshotDir,
		ActionLog:    paths.actionLog,
		MaxSnapshots: 10,
	}, bus, logger)

	subscribeWorldEvents(bus, episodicStore, logger)
	subscribeInboxEvents(bus, episodicStore, logger)

	dreamConsolidator := &dream.Consolidator{
		Gateway:      gateway,
		Episodic:     episodicStore,
		Bus:          bus,
		Logger:       logger,
		StrategyPath: paths.strategyFile,
	}

	introspectServer := introspect.New(introspect.Deps{
		ListenAddr: cfg.HTTP.ListenAddr,
		InboxPath:  paths.inboxFile,
		Heavy:      orch,
		Light:      lightLoop,
		Episodic:   episodicStore,
		Vector:     vectorStore,
		Gateway:    gateway,
		Budget:     budgetTracker,
		Health:     healthMonitor,
		SelfMod:    selfModManager,
		Shell:      shellExecutor,
		Logger:     logger,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	healthMonitor.Start(ctx)
	fsWatcher.Start(ctx)
	lightLoop.Start(ctx)
	orch.Start(ctx)
	introspectServer.Start()
	dreamConsolidator.Start(time.Duration(cfg.Dream.IntervalHours * float64(time.Hour)))

	logger.Info("being: started", "listen_addr", cfg.HTTP.ListenAddr, "light_tick", cfg.LightTickInterval(), "heavy_tick", cfg.HeavyTickInterval())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	logger.Info("being: shutdown signal received, stopping")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := introspectServer.Stop(shutdownCtx); err != nil {
		logger.Warn("being: introspection server stop error", "error", err)
	}

	dreamConsolidator.Stop()
	orch.Stop()
	lightLoop.Stop()
	fsWatcher.Stop()
	healthMonitor.Stop()
	cancel()

	logger.Info("being: stopped cleanly")
	return 0
}

// selfModMetric derives the single scalar the self-modification
// monitoring window judges proposals against: the fraction of
// registered health probes currently reporting healthy. A real
// deployment with richer telemetry could substitute a narrower signal;
// this one is always available since the health monitor always has at
// least two probes registered.
func selfModMetric(h *health.Monitor) cognitive.MetricFunc {
	return func() float64 {
		snap := h.Snapshot()
		if len(snap) == 0 {
			return 1
		}
		healthy := 0
		for _, s := range snap {
			if s.Status == health.StatusHealthy {
				healthy++
			}
		}
		return float64(healthy) / float64(len(snap))
	}
}

// subscribeWorldEvents records filesystem-watcher activity into episodic
// memory, per SPEC_FULL.md section C.4: the watcher itself only
// publishes; something has to consume world.* events for them to be
// more than noise.
func subscribeWorldEvents(bus *eventbus.Bus, ep *episodic.Store, logger logging.Logger) {
	record := func(eventType string) eventbus.Handler {
		return func(ctx context.Context, evt cloudevents.Event) error {
			var payload struct {
				Path string `json:"path"`
			}
			_ = evt.DataAs(&payload)
			_, _ = ep.AddEpisode(ctx, "world."+eventType, payload.Path, model.OutcomeSuccess, nil)
			return nil
		}
	}
	bus.Subscribe(watcher.EventTypeFileCreated, record("file_created"))
	bus.Subscribe(watcher.EventTypeFileChanged, record("file_changed"))
	bus.Subscribe(watcher.EventTypeFileDeleted, record("file_deleted"))
}

// subscribeInboxEvents records Light Tick's inbox deliveries into
// episodic memory so the monologue and goal-selection steps have a
// trace of user input to attend to, per spec.md section 4.7's urgent
// inbox acceptance scenario.
func subscribeInboxEvents(bus *eventbus.Bus, ep *episodic.Store, logger logging.Logger) {
	record := func(eventType string) eventbus.Handler {
		return func(ctx context.Context, evt cloudevents.Event) error {
			var payload struct {
				Text string `json:"text"`
				Tick int64  `json:"tick"`
			}
			_ = evt.DataAs(&payload)
			_, _ = ep.AddEpisode(ctx, eventType, payload.Text, model.OutcomeUnknown, nil)
			return nil
		}
	}
	bus.Subscribe(light.EventTypeUserMessage, record("user.message"))
	bus.Subscribe(light.EventTypeUserUrgent, record("user.urgent"))
}

// layout bundles the process's resolved filesystem paths, per spec.md
// section 6's filesystem layout table.
type layout struct {
	memoryDir    string
	episodicDB   string
	vectorDir    string
	archiveDir   string
	snapshotDir  string
	sandboxDir   string
	logsDir      string
	watchRoot    string
	stateFile    string
	goalState    string
	selfModel    string
	strategyFile string
	inboxFile    string
	outboxFile   string
	actionLog    string
	monologueLog string
	decisionLog  string
}

func newLayout(root string, cfg *config.Config) layout {
	memDir := cfg.Memory.Dir
	if !filepath.IsAbs(memDir) {
		memDir = filepath.Join(root, memDir)
	}
	sandboxDir := cfg.Shell.AllowedDir
	if !filepath.IsAbs(sandboxDir) {
		sandboxDir = filepath.Join(root, sandboxDir)
	}
	watchRoot := cfg.Watcher.RootDir
	if !filepath.IsAbs(watchRoot) {
		watchRoot = filepath.Join(root, watchRoot)
	}
	logsDir := filepath.Join(root, "logs")
	return layout{
		memoryDir:    memDir,
		episodicDB:   filepath.Join(memDir, "episodic.db"),
		vectorDir:    filepath.Join(memDir, "vector"),
		archiveDir:   filepath.Join(memDir, "archives"),
		snapshotDir:  filepath.Join(memDir, "snapshots"),
		sandboxDir:   sandboxDir,
		logsDir:      logsDir,
		watchRoot:    watchRoot,
		stateFile:    filepath.Join(memDir, "state.json"),
		goalState:    filepath.Join(memDir, "goal_state.json"),
		selfModel:    filepath.Join(memDir, "self_model.json"),
		strategyFile: filepath.Join(memDir, "strategy.json"),
		inboxFile:    filepath.Join(root, "inbox.txt"),
		outboxFile:   filepath.Join(root, "outbox.txt"),
		actionLog:    filepath.Join(logsDir, "actions.log"),
		monologueLog: filepath.Join(logsDir, "monologue.log"),
		decisionLog:  filepath.Join(logsDir, "decisions.log"),
	}
}

func (l layout) ensureDirs() error {
	for _, dir := range []string{l.memoryDir, l.vectorDir, l.archiveDir, l.snapshotDir, l.sandboxDir, l.logsDir, l.watchRoot} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("layout: mkdir %s: %w", dir, err)
		}
	}
	if _, err := os.Stat(l.inboxFile); os.IsNotExist(err) {
		if err := atomicfile.Write(l.inboxFile, nil, 0o644); err != nil {
			return fmt.Errorf("layout: seed inbox file: %w", err)
		}
	}
	return nil
}
