package pipeline

import (
	"context"
	"sync"
	"time"

	"lcmeval/internal/agents"
	"lcmeval/internal/catalog"
	"lcmeval/internal/common"
	"lcmeval/internal/coverage"
	"lcmeval/internal/events"
	"lcmeval/internal/store"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
)

// maxFailureBackoffFactor caps a worker's pause at this multiple of the
// configured first pause.
const maxFailureBackoffFactor = 60

// worker loops until the run has a reason to stop
func (r *Runner) worker(ctx context.Context, wg *sync.WaitGroup, workerID int) {
	defer wg.Done()

	logger := r.logger.With(zap.Int("worker_id", workerID))
	logger.Debug("Starting pipeline worker")

	pause := r.newFailureBackOff()
	for {
		if reason, stop := r.shouldStop(ctx); stop {
			r.stop(reason)
			logger.Debug("Worker stopping", zap.String("reason", string(reason)))
			return
		}

		selection, ok := r.tracker.Sample()
		if !ok {
			r.stop(StopExhausted)
			logger.Debug("Worker stopping", zap.String("reason", string(StopExhausted)))
			return
		}

		if err := r.process(ctx, workerID, selection, logger); err != nil {
			logger.Warn("Combination left uncovered",
				zap.Strings("apis", selection.Names()),
				zap.Bool("retryable", IsRetryableError(err)),
				zap.Error(err))
			r.waitAfterFailure(ctx, pause, logger)
			continue
		}
		if pause != nil {
			pause.Reset()
		}
	}
}

// newFailureBackOff returns the per-worker pause schedule, or nil when
// pausing is disabled. The schedule never gives up; the run's own stop
// conditions end the loop.
func (r *Runner) newFailureBackOff() backoff.BackOff {
	if r.config.FailureBackoffMS <= 0 {
		return nil
	}
	initial := time.Duration(r.config.FailureBackoffMS) * time.Millisecond
	strategy := backoff.NewExponentialBackOff()
	strategy.InitialInterval = initial
	strategy.MaxInterval = maxFailureBackoffFactor * initial
	strategy.MaxElapsedTime = 0
	strategy.Multiplier = 2.0
	strategy.Reset()
	return strategy
}

// waitAfterFailure sleeps for the next pause or until ctx is done.
func (r *Runner) waitAfterFailure(ctx context.Context, pause backoff.BackOff, logger *zap.Logger) {
	if pause == nil {
		return
	}
	delay := pause.NextBackOff()
	if delay == backoff.Stop {
		return
	}
	logger.Debug("Pausing after failed attempt", zap.Duration("delay", delay))

	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

// shouldStop checks cancellation, target coverage and the iteration budget.
// A zero target or a zero iteration count means unbounded.
func (r *Runner) shouldStop(ctx context.Context) (StopReason, bool) {
	if ctx.Err() != nil {
		return StopCancelled, true
	}
	if target := r.config.TargetCoverage; target > 0 && r.tracker.Size() > 0 && r.tracker.Ratio() >= target {
		return StopTargetReached, true
	}
	if r.config.Iterations > 0 && r.budget.Add(-1) < 0 {
		return StopBudgetExhausted, true
	}
	return "", false
}

// process generates and records one combination. A panic in the generator
// is returned as a worker panic error.
func (r *Runner) process(ctx context.Context, workerID int, selection coverage.Selection[catalog.APIEntry], logger *zap.Logger) (err error) {
	names := selection.Names()
	start := r.clock.Now()
	var result agents.Result

	r.metrics.RecordAttempt()
	r.metrics.RecordWorkerActivity(workerID, true)
	defer func() {
		if recovered := recover(); recovered != nil {
			logger.Error("Worker panic recovered", zap.Any("panic", recovered))
			err = NewWorkerPanicError(workerID, recovered)
		}
		r.metrics.RecordWorkerActivity(workerID, false)

		elapsed := r.clock.Since(start)
		if err != nil {
			r.metrics.RecordFailure(elapsed)
			r.recordFailure(ctx, names, result, err, logger)
			return
		}
		r.metrics.RecordSuccess(elapsed)
	}()

	r.publish(events.TopicCombinationSampled, events.CombinationSampled{
		Event:  events.NewEvent(),
		RunID:  string(r.runID),
		APIs:   names,
		Worker: workerID,
	}, logger)

	result, err = r.generator.Generate(ctx, names, selection.Details)
	r.metrics.RecordUsage(result.Usage)
	if err != nil {
		return NewGenerationError(names, err)
	}

	r.publish(events.TopicTaskGenerated, events.TaskGenerated{
		Event: events.NewEvent(),
		RunID: string(r.runID),
		APIs:  names,
		Task:  result.Task,
	}, logger)
	r.publish(events.TopicCodeGenerated, events.CodeGenerated{
		Event: events.NewEvent(),
		RunID: string(r.runID),
		APIs:  names,
		Code:  result.Code,
	}, logger)

	record := r.newRecord(names, result)
	record.Status = common.GenerationSucceeded
	err = r.repository.WithTransaction(ctx, func(tx store.Repository) error {
		if err := tx.SaveGeneration(ctx, record); err != nil {
			return err
		}
		return tx.MarkCovered(ctx, r.runID, record.CombinationKey)
	})
	if err != nil {
		return NewPersistError(names, err)
	}

	used := events.CombinationUsed{
		Event:    events.NewEvent(),
		RunID:    string(r.runID),
		APIs:     names,
		RecordID: string(record.ID),
	}
	if err := r.eventBus.Publish(events.TopicCombinationUsed, used); err != nil {
		// the record is already stored, so coverage must not depend on the bus
		logger.Warn("Failed to publish combination used, reporting directly", zap.Error(err))
		r.tracker.ReportCovered(selection.Combination)
		r.metrics.SetCoverage(r.tracker.Ratio())
	}

	logger.Info("Combination covered",
		zap.Strings("apis", names),
		zap.String("record_id", string(record.ID)),
		zap.Float64("coverage_percent", r.tracker.Percent()))
	return nil
}

func (r *Runner) newRecord(names []string, result agents.Result) *store.GenerationRecord {
	think := result.TaskThink
	if result.CodeThink != "" {
		if think != "" {
			think += "\n\n"
		}
		think += result.CodeThink
	}

	return &store.GenerationRecord{
		ID:               common.NewRecordID(),
		RunID:            r.runID,
		CombinationKey:   store.CombinationKey(names),
		APIs:             names,
		Task:             result.Task,
		Code:             result.Code,
		Think:            think,
		PromptTokens:     result.Usage.PromptTokens,
		CompletionTokens: result.Usage.CompletionTokens,
		CreatedAt:        r.clock.Now(),
	}
}

// recordFailure stores a failed record and publishes GenerationFailed. The
// combination stays uncovered so a later sample can retry it.
func (r *Runner) recordFailure(ctx context.Context, names []string, partial agents.Result, cause error, logger *zap.Logger) {
	record := r.newRecord(names, partial)
	record.Status = common.GenerationFailed
	record.Error = cause.Error()
	if err := r.repository.SaveGeneration(context.WithoutCancel(ctx), record); err != nil {
		logger.Warn("Failed to store failed generation", zap.Error(err))
	}

	r.publish(events.TopicGenerationFailed, events.GenerationFailed{
		Event:     events.NewEvent(),
		RunID:     string(r.runID),
		APIs:      names,
		Error:     cause.Error(),
		Retryable: IsRetryableError(cause),
	}, logger)
}

func (r *Runner) publish(topic string, event interface{}, logger *zap.Logger) {
	if err := r.eventBus.Publish(topic, event); err != nil {
		logger.Warn("Failed to publish event", zap.String("topic", topic), zap.Error(err))
	}
}
