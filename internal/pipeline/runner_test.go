package pipeline

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"lcmeval/internal/agents"
	"lcmeval/internal/catalog"
	"lcmeval/internal/common"
	"lcmeval/internal/config"
	"lcmeval/internal/coverage"
	"lcmeval/internal/events"
	"lcmeval/internal/llm"
	"lcmeval/internal/mocks"
	"lcmeval/internal/store"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

var okResult = agents.Result{
	Task:      "Create a zero array and add one to every element.",
	TaskThink: "zeros then add",
	Code:      "import numpy as np\nprint(np.add(np.zeros(3), 1))",
	Usage:     llm.Usage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15},
}

func newTracker(t *testing.T, k int, names ...string) *coverage.Tracker[catalog.APIEntry] {
	t.Helper()
	details := make(map[string]catalog.APIEntry, len(names))
	for _, name := range names {
		details[name] = catalog.APIEntry{Name: name, Description: "doc for " + name}
	}
	seed := int64(7)
	tracker, err := coverage.NewTracker(context.Background(), names, details, coverage.Config{K: k, Seed: &seed})
	require.NoError(t, err)
	return tracker
}

type fixture struct {
	runner    *Runner
	tracker   *coverage.Tracker[catalog.APIEntry]
	generator *mocks.MockGenerator
	repo      *store.MemoryRepository
	bus       events.EventBus
	registry  *prometheus.Registry
}

func newFixture(t *testing.T, cfg config.PipelineConfig, tracker *coverage.Tracker[catalog.APIEntry]) *fixture {
	t.Helper()
	f := &fixture{
		tracker:   tracker,
		generator: &mocks.MockGenerator{},
		repo:      store.NewMemoryRepository(),
		bus:       events.NewEventBus(zaptest.NewLogger(t)),
		registry:  prometheus.NewRegistry(),
	}
	t.Cleanup(func() { _ = f.bus.Close() })

	runner, err := NewRunner(cfg, common.NewRunID(), Dependencies{
		Tracker:    tracker,
		Generator:  f.generator,
		Repository: f.repo,
		EventBus:   f.bus,
		Metrics:    NewMetrics(f.registry),
		Logger:     zaptest.NewLogger(t),
	})
	require.NoError(t, err)
	f.runner = runner
	return f
}

func pipelineConfig(workers, iterations int, target float64) config.PipelineConfig {
	return config.PipelineConfig{
		Workers:         workers,
		Iterations:      iterations,
		TargetCoverage:  target,
		ShutdownTimeout: 5,
	}
}

func TestNewRunner_Validation(t *testing.T) {
	tracker := newTracker(t, 1, "numpy.add")
	deps := Dependencies{
		Tracker:    tracker,
		Generator:  &mocks.MockGenerator{},
		Repository: store.NewMemoryRepository(),
		EventBus:   events.NewMockEventBus(),
	}

	tests := []struct {
		name  string
		cfg   config.PipelineConfig
		deps  Dependencies
		field string
	}{
		{"zero workers", pipelineConfig(0, 1, 1), deps, "workers"},
		{"negative iterations", pipelineConfig(1, -1, 1), deps, "iterations"},
		{"target above one", pipelineConfig(1, 1, 1.5), deps, "target_coverage"},
		{"no shutdown timeout", config.PipelineConfig{Workers: 1}, deps, "shutdown_timeout"},
		{"negative failure backoff", config.PipelineConfig{Workers: 1, ShutdownTimeout: 1, FailureBackoffMS: -1}, deps, "failure_backoff_ms"},
		{"missing generator", pipelineConfig(1, 1, 1), Dependencies{Tracker: tracker}, "generator"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewRunner(tt.cfg, "", tt.deps)

			var cfgErr *ConfigurationError
			require.True(t, errors.As(err, &cfgErr))
			assert.Equal(t, tt.field, cfgErr.Field)
			assert.True(t, HasCode(err, ErrInvalidConfiguration))
			assert.False(t, IsRetryableError(err))
		})
	}

	runner, err := NewRunner(pipelineConfig(1, 1, 1), "", deps)
	require.NoError(t, err)
	assert.True(t, common.ID(runner.RunID()).IsValid())
}

func TestRunner_CoversUniverseWithOneWorker(t *testing.T) {
	f := newFixture(t, pipelineConfig(1, 0, 1.0), newTracker(t, 2, "numpy.add", "numpy.zeros", "numpy.pi", "numpy.sum"))
	f.generator.On("Generate", mock.Anything, mock.Anything, mock.Anything).Return(okResult, nil)

	summary, err := f.runner.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, StopTargetReached, summary.StopReason)
	assert.Equal(t, int64(6), summary.Attempts)
	assert.Equal(t, int64(6), summary.Successes)
	assert.Zero(t, summary.Failures)
	assert.Equal(t, 6, summary.Coverage.Covered)
	assert.Equal(t, 1.0, summary.Coverage.Ratio)
	assert.Equal(t, 90, summary.Usage.TotalTokens)
	assert.False(t, f.runner.IsRunning())

	keys, err := f.repo.CoveredKeys(context.Background())
	require.NoError(t, err)
	assert.Len(t, keys, 6)

	records, err := f.repo.ListGenerations(context.Background(), store.GenerationFilter{RunID: f.runner.RunID()})
	require.NoError(t, err)
	require.Len(t, records, 6)
	assert.Equal(t, common.GenerationSucceeded, records[0].Status)
	assert.Equal(t, okResult.Task, records[0].Task)
	assert.Len(t, records[0].APIs, 2)

	// every call received the sampled names with their details
	for _, call := range f.generator.Calls {
		names := call.Arguments.Get(1).([]string)
		details := call.Arguments.Get(2).(map[string]catalog.APIEntry)
		require.Len(t, names, 2)
		assert.Len(t, details, 2)
		assert.Equal(t, "doc for "+names[0], details[names[0]].Description)
	}

	assert.Equal(t, 6.0, testutil.ToFloat64(f.runner.Metrics().attemptsTotal))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.runner.Metrics().coverageRatio))
	assert.Equal(t, 60.0, testutil.ToFloat64(f.runner.Metrics().tokensTotal.WithLabelValues("prompt")))
}

func TestRunner_ConcurrentWorkers(t *testing.T) {
	names := []string{"a", "b", "c", "d", "e", "f", "g", "h"}
	f := newFixture(t, pipelineConfig(4, 0, 1.0), newTracker(t, 3, names...))
	f.generator.On("Generate", mock.Anything, mock.Anything, mock.Anything).Return(okResult, nil)

	summary, err := f.runner.Run(context.Background())
	require.NoError(t, err)

	assert.Contains(t, []StopReason{StopTargetReached, StopExhausted}, summary.StopReason)
	assert.Equal(t, 56, summary.Coverage.Covered)
	assert.GreaterOrEqual(t, summary.Attempts, int64(56))
	assert.Equal(t, summary.Attempts, summary.Successes)
	assert.True(t, f.tracker.Exhausted())
}

func TestRunner_IterationBudget(t *testing.T) {
	f := newFixture(t, pipelineConfig(1, 2, 1.0), newTracker(t, 1, "numpy.add", "numpy.zeros", "numpy.pi"))
	f.generator.On("Generate", mock.Anything, mock.Anything, mock.Anything).Return(okResult, nil)

	summary, err := f.runner.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, StopBudgetExhausted, summary.StopReason)
	assert.Equal(t, int64(2), summary.Attempts)
	assert.Equal(t, 2, summary.Coverage.Covered)
	assert.InDelta(t, 2.0/3.0, summary.Coverage.Ratio, 1e-9)
	f.generator.AssertNumberOfCalls(t, "Generate", 2)
}

func TestRunner_TargetCoverage(t *testing.T) {
	f := newFixture(t, pipelineConfig(1, 0, 0.5), newTracker(t, 1, "a", "b", "c", "d"))
	f.generator.On("Generate", mock.Anything, mock.Anything, mock.Anything).Return(okResult, nil)

	summary, err := f.runner.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, StopTargetReached, summary.StopReason)
	assert.Equal(t, 2, summary.Coverage.Covered)
}

func TestRunner_EmptyUniverse(t *testing.T) {
	f := newFixture(t, pipelineConfig(2, 0, 1.0), newTracker(t, 3, "numpy.add"))

	summary, err := f.runner.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, StopExhausted, summary.StopReason)
	assert.Zero(t, summary.Attempts)
	f.generator.AssertNotCalled(t, "Generate", mock.Anything, mock.Anything, mock.Anything)
}

func TestRunner_FailedGenerationLeavesCombinationUncovered(t *testing.T) {
	f := newFixture(t, pipelineConfig(1, 0, 1.0), newTracker(t, 1, "numpy.add", "numpy.zeros"))
	partial := agents.Result{Task: "orphan task", Usage: llm.Usage{PromptTokens: 12, CompletionTokens: 4, TotalTokens: 16}}
	f.generator.On("Generate", mock.Anything, mock.Anything, mock.Anything).
		Return(partial, llm.NewAPIError(503, "upstream down")).Once()
	f.generator.On("Generate", mock.Anything, mock.Anything, mock.Anything).Return(okResult, nil)

	var failed []events.GenerationFailed
	require.NoError(t, f.bus.Subscribe(events.TopicGenerationFailed, func(e events.GenerationFailed) {
		failed = append(failed, e)
	}))

	summary, err := f.runner.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, int64(3), summary.Attempts)
	assert.Equal(t, int64(2), summary.Successes)
	assert.Equal(t, int64(1), summary.Failures)
	assert.Equal(t, 1.0, summary.Coverage.Ratio)

	require.Len(t, failed, 1)
	assert.True(t, failed[0].Retryable)
	assert.Equal(t, string(f.runner.RunID()), failed[0].RunID)

	status := common.GenerationFailed
	records, err := f.repo.ListGenerations(context.Background(), store.GenerationFilter{Status: &status})
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "orphan task", records[0].Task)
	assert.Contains(t, records[0].Error, "upstream down")
	assert.Equal(t, 12, records[0].PromptTokens)
	assert.Equal(t, 4, records[0].CompletionTokens)
	assert.Equal(t, 46, summary.Usage.TotalTokens)
}

func TestRunner_PausesAfterFailedAttempts(t *testing.T) {
	cfg := pipelineConfig(1, 0, 0)
	cfg.FailureBackoffMS = 100
	f := newFixture(t, cfg, newTracker(t, 1, "numpy.add", "numpy.zeros"))
	f.generator.On("Generate", mock.Anything, mock.Anything, mock.Anything).
		Return(agents.Result{}, llm.NewAPIError(503, "upstream down"))

	ctx, cancel := context.WithTimeout(context.Background(), 400*time.Millisecond)
	defer cancel()

	summary, err := f.runner.Run(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, StopCancelled, summary.StopReason)
	assert.GreaterOrEqual(t, summary.Attempts, int64(1))
	// pauses of at least 50ms, 100ms and 200ms fit at most four attempts
	assert.LessOrEqual(t, summary.Attempts, int64(4))
	assert.Equal(t, summary.Attempts, summary.Failures)
	assert.Zero(t, f.tracker.Ratio())
}

func TestRunner_RecoversGeneratorPanic(t *testing.T) {
	f := newFixture(t, pipelineConfig(1, 0, 1.0), newTracker(t, 1, "numpy.add"))
	f.generator.On("Generate", mock.Anything, mock.Anything, mock.Anything).Panic("kaboom").Once()
	f.generator.On("Generate", mock.Anything, mock.Anything, mock.Anything).Return(okResult, nil)

	summary, err := f.runner.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, int64(1), summary.Failures)
	assert.Equal(t, int64(1), summary.Successes)
	assert.Equal(t, 1.0, summary.Coverage.Ratio)

	status := common.GenerationFailed
	records, err := f.repo.ListGenerations(context.Background(), store.GenerationFilter{Status: &status})
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Contains(t, records[0].Error, "kaboom")
}

func TestRunner_PersistFailureRollsBack(t *testing.T) {
	f := newFixture(t, pipelineConfig(1, 3, 1.0), newTracker(t, 1, "numpy.add", "numpy.zeros"))
	f.generator.On("Generate", mock.Anything, mock.Anything, mock.Anything).Return(okResult, nil)
	f.repo.SetMarkError(errors.New("disk full"))

	summary, err := f.runner.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, StopBudgetExhausted, summary.StopReason)
	assert.Equal(t, int64(3), summary.Failures)
	assert.Zero(t, summary.Coverage.Covered)

	succeeded := common.GenerationSucceeded
	records, err := f.repo.ListGenerations(context.Background(), store.GenerationFilter{Status: &succeeded})
	require.NoError(t, err)
	assert.Empty(t, records)

	count, err := f.repo.CountGenerations(context.Background(), f.runner.RunID())
	require.NoError(t, err)
	assert.Equal(t, int64(3), count)
}

func TestRunner_ReportsDirectlyWhenBusFails(t *testing.T) {
	tracker := newTracker(t, 1, "numpy.add", "numpy.zeros")
	bus := events.NewMockEventBus()
	generator := &mocks.MockGenerator{}
	generator.On("Generate", mock.Anything, mock.Anything, mock.Anything).Return(okResult, nil)

	runner, err := NewRunner(pipelineConfig(1, 0, 1.0), "", Dependencies{
		Tracker:    tracker,
		Generator:  generator,
		Repository: store.NewMemoryRepository(),
		EventBus:   bus,
		Logger:     zaptest.NewLogger(t),
	})
	require.NoError(t, err)
	bus.SetPublishError(events.ErrBusClosed)

	summary, err := runner.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1.0, summary.Coverage.Ratio)
	assert.Equal(t, int64(2), summary.Attempts)
	assert.Equal(t, 0, bus.GetSubscriberCount(events.TopicCombinationUsed))
}

func TestRunner_PublishesEventFlow(t *testing.T) {
	tracker := newTracker(t, 2, "numpy.add", "numpy.zeros")
	bus := events.NewMockEventBus()
	generator := &mocks.MockGenerator{}
	generator.On("Generate", mock.Anything, mock.Anything, mock.Anything).Return(okResult, nil)

	runner, err := NewRunner(pipelineConfig(1, 0, 1.0), "", Dependencies{
		Tracker:    tracker,
		Generator:  generator,
		Repository: store.NewMemoryRepository(),
		EventBus:   bus,
	})
	require.NoError(t, err)

	_, err = runner.Run(context.Background())
	require.NoError(t, err)

	events.AssertEventCount(t, bus, events.TopicCombinationSampled, 1)
	events.AssertEventCount(t, bus, events.TopicTaskGenerated, 1)
	events.AssertEventCount(t, bus, events.TopicCodeGenerated, 1)
	events.AssertEventCount(t, bus, events.TopicCombinationUsed, 1)
	events.AssertEventCount(t, bus, events.TopicGenerationFailed, 0)
	assert.Empty(t, bus.GetErrors())

	used := bus.GetPublishedEvents(events.TopicCombinationUsed)[0].(events.CombinationUsed)
	assert.Equal(t, []string{"numpy.add", "numpy.zeros"}, used.APIs)
	assert.True(t, common.ID(used.RecordID).IsValid())
}

func TestRunner_IgnoresOtherRuns(t *testing.T) {
	f := newFixture(t, pipelineConfig(1, 0, 1.0), newTracker(t, 1, "numpy.add"))

	listener := f.runner.coverageListener()
	listener(events.CombinationUsed{RunID: "another-run", APIs: []string{"numpy.add"}})
	assert.Zero(t, f.tracker.Ratio())

	listener(events.CombinationUsed{RunID: string(f.runner.RunID()), APIs: []string{"numpy.add"}})
	assert.Equal(t, 1.0, f.tracker.Ratio())
}

func TestRunner_CancelledContext(t *testing.T) {
	f := newFixture(t, pipelineConfig(2, 0, 1.0), newTracker(t, 1, "numpy.add", "numpy.zeros"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	summary, err := f.runner.Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, StopCancelled, summary.StopReason)
	assert.Zero(t, summary.Attempts)
}

func TestRunner_RejectsConcurrentRun(t *testing.T) {
	f := newFixture(t, pipelineConfig(1, 0, 1.0), newTracker(t, 1, "numpy.add"))

	release := make(chan struct{})
	started := make(chan struct{})
	var once sync.Once
	f.generator.On("Generate", mock.Anything, mock.Anything, mock.Anything).
		Run(func(mock.Arguments) {
			once.Do(func() { close(started) })
			<-release
		}).
		Return(okResult, nil)

	done := make(chan error, 1)
	go func() {
		_, err := f.runner.Run(context.Background())
		done <- err
	}()

	<-started
	_, err := f.runner.Run(context.Background())
	assert.True(t, HasCode(err, ErrAlreadyRunning))
	assert.True(t, f.runner.IsRunning())

	close(release)
	require.NoError(t, <-done)
	assert.False(t, f.runner.IsRunning())
}

func TestRunner_Restore(t *testing.T) {
	f := newFixture(t, pipelineConfig(1, 0, 1.0), newTracker(t, 2, "numpy.add", "numpy.zeros", "numpy.pi"))
	ctx := context.Background()
	previous := common.NewRunID()

	require.NoError(t, f.repo.MarkCovered(ctx, previous, store.CombinationKey([]string{"numpy.zeros", "numpy.add"})))
	require.NoError(t, f.repo.MarkCovered(ctx, previous, store.CombinationKey([]string{"numpy.add", "numpy.removed"})))
	require.NoError(t, f.repo.MarkCovered(ctx, previous, "numpy.add"))

	restored, err := f.runner.Restore(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, restored)
	assert.True(t, f.tracker.IsCovered(coverage.NewCombination("numpy.add", "numpy.zeros")))
	assert.InDelta(t, 1.0/3.0, testutil.ToFloat64(f.runner.Metrics().coverageRatio), 1e-9)

	restored, err = f.runner.Restore(ctx)
	require.NoError(t, err)
	assert.Zero(t, restored)

	f.generator.On("Generate", mock.Anything, mock.Anything, mock.Anything).Return(okResult, nil)
	summary, err := f.runner.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), summary.Attempts)
}
