package main

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"lcmeval/internal/agents"
	"lcmeval/internal/catalog"
	"lcmeval/internal/common"
	"lcmeval/internal/config"
	"lcmeval/internal/coverage"
	"lcmeval/internal/database"
	"lcmeval/internal/events"
	"lcmeval/internal/llm"
	"lcmeval/internal/pipeline"
	"lcmeval/internal/store"
	"lcmeval/pkg/logger"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"gorm.io/gorm"
)

const completionsFile = "completions.yaml"

// app holds the services shared by run, serve and coverage.
type app struct {
	cfg        *config.Config
	logger     *logger.Logger
	runID      common.RunID
	catalog    *catalog.Catalog
	tracker    *coverage.Tracker[catalog.APIEntry]
	db         *gorm.DB
	repository store.Repository
	eventBus   events.EventBus
	monitor    *events.Monitor
	registry   *prometheus.Registry
	metrics    *pipeline.Metrics
}

// newApp loads the catalog, builds the tracker over its k-combinations and
// opens the store. The event bus, monitor and metrics are always created.
func newApp(ctx context.Context, cfg *config.Config, log *logger.Logger) (*app, error) {
	a := &app{
		cfg:      cfg,
		logger:   log,
		runID:    common.NewRunID(),
		registry: prometheus.NewRegistry(),
	}
	a.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	cat, err := catalog.LoadCSV(cfg.Catalog.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to load catalog: %w", err)
	}
	a.catalog = cat

	start := time.Now()
	tracker, err := coverage.NewTracker(ctx, cat.Names(), cat.Details(), coverage.Config{
		K:           cfg.Coverage.K,
		Parallelism: cfg.Coverage.Parallelism,
		Seed:        cfg.Coverage.SeedPtr(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to build coverage tracker: %w", err)
	}
	a.tracker = tracker
	log.Infow("Combination universe ready",
		"apis", cat.Len(),
		"k", tracker.K(),
		"universe", tracker.Size(),
		"elapsed", time.Since(start).String())

	if err := a.openStore(); err != nil {
		return nil, err
	}

	a.eventBus = events.NewEventBus(log.Zap())
	a.monitor = events.NewMonitor(a.eventBus, log.Zap())
	if err := a.monitor.Start(); err != nil {
		a.close()
		return nil, err
	}
	a.metrics = pipeline.NewMetrics(a.registry)
	return a, nil
}

func (a *app) openStore() error {
	if !a.cfg.Database.Enabled {
		a.logger.Info("Database disabled, keeping generations in memory")
		a.repository = store.NewMemoryRepository()
		return nil
	}

	db, err := database.NewPostgresConnection(a.cfg.Database)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := store.RunMigrations(db); err != nil {
		_ = database.Close(db)
		return fmt.Errorf("failed to run store migrations: %w", err)
	}
	a.db = db
	a.repository = store.NewGormRepository(db, a.logger.Zap())
	return nil
}

// newRunner wires the LLM provider and agents into a pipeline runner.
func (a *app) newRunner() (*pipeline.Runner, error) {
	zapLogger := a.logger.Zap()

	provider, err := llm.NewOpenAIProvider(a.cfg.LLM, zapLogger)
	if err != nil {
		return nil, err
	}

	opts := agents.Options{
		Tracker: llm.NewTokenTracker(),
		Logger:  zapLogger,
	}
	if a.cfg.Pipeline.DumpCompletions {
		opts.Dumper = agents.NewCompletionDumper(filepath.Join(a.cfg.Run.RunsDir, completionsFile))
	}
	generator, err := agents.NewGenerator(provider, a.cfg.Agents, opts)
	if err != nil {
		return nil, err
	}

	runner, err := pipeline.NewRunner(a.cfg.Pipeline, a.runID, pipeline.Dependencies{
		Tracker:    a.tracker,
		Generator:  generator,
		Repository: a.repository,
		EventBus:   a.eventBus,
		Metrics:    a.metrics,
		Logger:     zapLogger,
	})
	if err != nil {
		return nil, err
	}

	info := provider.GetModelInfo()
	a.logger.Infow("Pipeline ready",
		"run_id", a.runID,
		"model", info.Name,
		"base_url", info.BaseURL,
		"mode", a.cfg.Agents.Mode,
		"evaluator", a.cfg.Agents.UseEvaluator)
	return runner, nil
}

func (a *app) close() {
	if a.monitor != nil {
		if err := a.monitor.Stop(); err != nil {
			a.logger.Debugw("Event monitor already stopped", "error", err)
		}
	}
	if a.eventBus != nil {
		if err := a.eventBus.Close(); err != nil {
			a.logger.Warnw("Failed to close event bus", "error", err)
		}
	}
	if a.db != nil {
		if err := database.Close(a.db); err != nil {
			a.logger.Warnw("Failed to close database", "error", err)
		}
	}
}

// runLogger dumps the effective config into the runs dir and returns a
// logger that also writes to the run log there.
func runLogger(cfg *config.Config) (*logger.Logger, error) {
	dumped, err := config.Dump(cfg, cfg.Run.RunsDir)
	if err != nil {
		return nil, err
	}
	log, err := logger.NewWithFile(filepath.Join(cfg.Run.RunsDir, cfg.Run.LogFile))
	if err != nil {
		return nil, err
	}
	log.Infow("Configuration saved", "path", dumped)
	return log, nil
}

func printSummary(log *logger.Logger, summary pipeline.Summary) {
	log.Infow("Run finished",
		"run_id", summary.RunID,
		"stop_reason", summary.StopReason,
		"attempts", summary.Attempts,
		"successes", summary.Successes,
		"failures", summary.Failures,
		"covered", summary.Coverage.Covered,
		"universe", summary.Coverage.Universe,
		"coverage", fmt.Sprintf("%.2f%%", summary.Coverage.Ratio*100),
		"tokens", summary.Usage.String(),
		"duration", summary.Duration.String())
}
