package main

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"

	"lcmeval/internal/pipeline"
	"lcmeval/pkg/logger"

	"github.com/spf13/cobra"
)

func runPipeline(cmd *cobra.Command, args []string) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	log, err := runLogger(cfg)
	if err != nil {
		return err
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer a.close()

	runner, err := a.newRunner()
	if err != nil {
		return err
	}
	if cfg.Run.Resume {
		if _, err := runner.Restore(ctx); err != nil {
			return fmt.Errorf("failed to restore coverage: %w", err)
		}
	}

	summary, err := runner.Run(ctx)
	printSummary(log.WithRunID(string(a.runID)), summary)
	if errors.Is(err, context.Canceled) {
		log.Info("Run interrupted, coverage so far is kept in the store")
		return nil
	}
	return err
}

// runCoverage reports how much of the universe the stored combinations cover.
func runCoverage(cmd *cobra.Command, args []string) error {
	log := logger.New()
	defer log.Sync()

	a, err := newApp(cmd.Context(), cfg, log)
	if err != nil {
		return err
	}
	defer a.close()

	restored, stored, err := pipeline.RestoreCoverage(cmd.Context(), a.tracker, a.repository)
	if err != nil {
		return fmt.Errorf("failed to read covered combinations: %w", err)
	}

	stats := a.tracker.Stats()
	fmt.Fprintf(cmd.OutOrStdout(), "k=%d universe=%d covered=%d uncovered=%d coverage=%.2f%% (stored keys %d, in universe %d)\n",
		stats.K, stats.Universe, stats.Covered, stats.Uncovered, stats.Ratio*100, stored, restored)

	if showUncovered > 0 {
		for i, c := range a.tracker.Uncovered() {
			if i >= showUncovered {
				break
			}
			fmt.Fprintln(cmd.OutOrStdout(), c.String())
		}
	}
	return nil
}
