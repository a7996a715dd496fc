package pipeline

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"lcmeval/internal/agents"
	"lcmeval/internal/catalog"
	"lcmeval/internal/common"
	"lcmeval/internal/config"
	"lcmeval/internal/coverage"
	"lcmeval/internal/events"
	"lcmeval/internal/llm"
	"lcmeval/internal/store"

	"go.uber.org/zap"
)

// Generator turns an API combination into a task and candidate code
type Generator interface {
	Generate(ctx context.Context, names []string, details map[string]catalog.APIEntry) (agents.Result, error)
}

// StopReason explains why a run ended
type StopReason string

const (
	StopTargetReached   StopReason = "target_reached"
	StopBudgetExhausted StopReason = "budget_exhausted"
	StopExhausted       StopReason = "universe_exhausted"
	StopCancelled       StopReason = "cancelled"
)

// Summary describes a finished run
type Summary struct {
	RunID      common.RunID   `json:"run_id"`
	Attempts   int64          `json:"attempts"`
	Successes  int64          `json:"successes"`
	Failures   int64          `json:"failures"`
	Coverage   coverage.Stats `json:"coverage"`
	Usage      llm.Usage      `json:"usage"`
	Duration   time.Duration  `json:"duration"`
	StopReason StopReason     `json:"stop_reason"`
}

// Dependencies are the collaborators of a Runner
type Dependencies struct {
	Tracker    *coverage.Tracker[catalog.APIEntry]
	Generator  Generator
	Repository store.Repository
	EventBus   events.EventBus
	Metrics    *Metrics
	Logger     *zap.Logger
	Clock      common.Clock
}

// Runner drives workers that sample uncovered combinations, generate a task
// and code for each, persist the result and report the combination covered.
type Runner struct {
	config     config.PipelineConfig
	runID      common.RunID
	tracker    *coverage.Tracker[catalog.APIEntry]
	generator  Generator
	repository store.Repository
	eventBus   events.EventBus
	metrics    *Metrics
	logger     *zap.Logger
	clock      common.Clock

	running    atomic.Bool
	budget     atomic.Int64
	stopMu     sync.Mutex
	stopReason StopReason
}

// NewRunner validates cfg and deps
func NewRunner(cfg config.PipelineConfig, runID common.RunID, deps Dependencies) (*Runner, error) {
	if cfg.Workers <= 0 {
		return nil, NewConfigurationError("workers", cfg.Workers, "must be greater than 0")
	}
	if cfg.Iterations < 0 {
		return nil, NewConfigurationError("iterations", cfg.Iterations, "must not be negative")
	}
	if cfg.TargetCoverage < 0 || cfg.TargetCoverage > 1 {
		return nil, NewConfigurationError("target_coverage", cfg.TargetCoverage, "must be within [0, 1]")
	}
	if cfg.ShutdownTimeout <= 0 {
		return nil, NewConfigurationError("shutdown_timeout", cfg.ShutdownTimeout, "must be greater than 0")
	}
	if cfg.FailureBackoffMS < 0 {
		return nil, NewConfigurationError("failure_backoff_ms", cfg.FailureBackoffMS, "must not be negative")
	}
	if deps.Tracker == nil {
		return nil, NewConfigurationError("tracker", nil, "is required")
	}
	if deps.Generator == nil {
		return nil, NewConfigurationError("generator", nil, "is required")
	}
	if deps.Repository == nil {
		return nil, NewConfigurationError("repository", nil, "is required")
	}
	if deps.EventBus == nil {
		return nil, NewConfigurationError("event_bus", nil, "is required")
	}
	if runID == "" {
		runID = common.NewRunID()
	}
	if deps.Metrics == nil {
		deps.Metrics = NewMetrics(nil)
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Clock == nil {
		deps.Clock = common.NewRealClock()
	}

	return &Runner{
		config:     cfg,
		runID:      runID,
		tracker:    deps.Tracker,
		generator:  deps.Generator,
		repository: deps.Repository,
		eventBus:   deps.EventBus,
		metrics:    deps.Metrics,
		logger:     deps.Logger.With(zap.String("run_id", string(runID))),
		clock:      deps.Clock,
	}, nil
}

// RunID returns the identifier stamped on every record and event
func (r *Runner) RunID() common.RunID {
	return r.runID
}

// Metrics returns the live metrics of the runner
func (r *Runner) Metrics() *Metrics {
	return r.metrics
}

// IsRunning reports whether Run is in progress
func (r *Runner) IsRunning() bool {
	return r.running.Load()
}

// Restore replays covered keys from the repository into the tracker and
// returns how many combinations were newly marked.
func (r *Runner) Restore(ctx context.Context) (int, error) {
	restored, stored, err := RestoreCoverage(ctx, r.tracker, r.repository)
	if err != nil {
		return 0, err
	}
	r.metrics.SetCoverage(r.tracker.Ratio())

	r.logger.Info("Restored coverage",
		zap.Int("stored_keys", stored),
		zap.Int("restored", restored),
		zap.Float64("coverage", r.tracker.Ratio()))
	return restored, nil
}

// RestoreCoverage marks every combination the repository holds as covered in
// tracker. Keys outside the universe are ignored. It returns the number of
// newly covered combinations and the number of stored keys.
func RestoreCoverage(ctx context.Context, tracker *coverage.Tracker[catalog.APIEntry], repository store.Repository) (int, int, error) {
	keys, err := repository.CoveredKeys(ctx)
	if err != nil {
		return 0, 0, err
	}

	restored := 0
	for _, key := range keys {
		c := coverage.NewCombination(store.SplitKey(key)...)
		if !tracker.Contains(c) || tracker.IsCovered(c) {
			continue
		}
		tracker.ReportCovered(c)
		restored++
	}
	return restored, len(keys), nil
}

// Run blocks until the workers stop: the context is cancelled, the iteration
// budget is spent, the target coverage is reached or nothing is left to
// cover. A cancelled run returns its summary together with ctx.Err().
func (r *Runner) Run(ctx context.Context) (Summary, error) {
	if !r.running.CompareAndSwap(false, true) {
		return Summary{}, NewAlreadyRunningError()
	}
	defer r.running.Store(false)

	r.budget.Store(int64(r.config.Iterations))
	r.stopMu.Lock()
	r.stopReason = ""
	r.stopMu.Unlock()
	start := r.clock.Now()

	listener := r.coverageListener()
	if err := r.eventBus.Subscribe(events.TopicCombinationUsed, listener); err != nil {
		return Summary{}, err
	}
	defer func() {
		if err := r.eventBus.Unsubscribe(events.TopicCombinationUsed, listener); err != nil {
			r.logger.Warn("Failed to unsubscribe coverage listener", zap.Error(err))
		}
	}()

	r.metrics.SetCoverage(r.tracker.Ratio())
	r.logger.Info("Starting pipeline",
		zap.Int("workers", r.config.Workers),
		zap.Int("iterations", r.config.Iterations),
		zap.Float64("target_coverage", r.config.TargetCoverage),
		zap.Int("universe", r.tracker.Size()))

	workCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	for i := 0; i < r.config.Workers; i++ {
		wg.Add(1)
		go r.worker(workCtx, &wg, i)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	var runErr error
	select {
	case <-done:
	case <-ctx.Done():
		select {
		case <-done:
		case <-time.After(time.Duration(r.config.ShutdownTimeout) * time.Second):
			r.logger.Warn("Pipeline shutdown timed out, some workers may still be running")
			runErr = NewShutdownError(r.config.ShutdownTimeout)
		}
	}
	if runErr == nil && ctx.Err() != nil {
		r.stop(StopCancelled)
		runErr = ctx.Err()
	}

	summary := r.summary(r.clock.Since(start))
	r.logger.Info("Pipeline stopped",
		zap.String("stop_reason", string(summary.StopReason)),
		zap.Int64("attempts", summary.Attempts),
		zap.Int64("successes", summary.Successes),
		zap.Int64("failures", summary.Failures),
		zap.Float64("coverage_percent", summary.Coverage.Ratio*100),
		zap.String("usage", summary.Usage.String()))
	return summary, runErr
}

func (r *Runner) summary(elapsed time.Duration) Summary {
	snapshot := r.metrics.GetMetricsSummary()
	return Summary{
		RunID:      r.runID,
		Attempts:   snapshot.Attempts,
		Successes:  snapshot.Successes,
		Failures:   snapshot.Failures,
		Coverage:   r.tracker.Stats(),
		Usage:      snapshot.Usage,
		Duration:   elapsed,
		StopReason: r.reason(),
	}
}

// stop records the first reason a worker gave for stopping
func (r *Runner) stop(reason StopReason) {
	r.stopMu.Lock()
	defer r.stopMu.Unlock()
	if r.stopReason == "" {
		r.stopReason = reason
	}
}

func (r *Runner) reason() StopReason {
	r.stopMu.Lock()
	defer r.stopMu.Unlock()
	return r.stopReason
}

// coverageListener marks combinations of this run covered. The bus calls it
// before Publish returns.
func (r *Runner) coverageListener() func(events.CombinationUsed) {
	return func(event events.CombinationUsed) {
		if event.RunID != string(r.runID) {
			return
		}
		r.tracker.ReportCovered(coverage.NewCombination(event.APIs...))
		r.metrics.SetCoverage(r.tracker.Ratio())
	}
}
