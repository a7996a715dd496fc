package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"lcmeval/api/routes"
	"lcmeval/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
)

func runServe(cmd *cobra.Command, args []string) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	var log *logger.Logger
	if withPipeline {
		l, err := runLogger(cfg)
		if err != nil {
			return err
		}
		log = l
	} else {
		log = logger.New()
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer a.close()

	if cfg.Server.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	routes.SetupRoutes(router, routes.Dependencies{
		DB:         a.db,
		Tracker:    a.tracker,
		Repository: a.repository,
		RunID:      a.runID,
		Monitor:    a.monitor,
		Metrics:    a.metrics,
		Registry:   a.registry,
		Logger:     log,
	})

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Infow("Starting server", "port", cfg.Server.Port, "run_id", a.runID)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	pipelineDone := make(chan error, 1)
	if withPipeline {
		runner, err := a.newRunner()
		if err != nil {
			_ = srv.Close()
			return err
		}
		if cfg.Run.Resume {
			if _, err := runner.Restore(ctx); err != nil {
				_ = srv.Close()
				return fmt.Errorf("failed to restore coverage: %w", err)
			}
		}
		go func() {
			summary, err := runner.Run(ctx)
			printSummary(log.WithRunID(string(a.runID)), summary)
			pipelineDone <- err
		}()
	}

	var runErr error
	pipelineFinished := !withPipeline
	select {
	case <-ctx.Done():
		log.Info("Shutting down server...")
	case err := <-serverErr:
		runErr = fmt.Errorf("server failed: %w", err)
	case err := <-pipelineDone:
		pipelineFinished = true
		// The API keeps serving the final coverage until interrupted.
		if err != nil && !errors.Is(err, context.Canceled) {
			log.Errorw("Pipeline stopped with error", "error", err)
		}
		select {
		case <-ctx.Done():
			log.Info("Shutting down server...")
		case err := <-serverErr:
			runErr = fmt.Errorf("server failed: %w", err)
		}
	}

	stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.Pipeline.ShutdownTimeout)*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Errorw("Server forced to shutdown", "error", err)
	}

	if !pipelineFinished {
		select {
		case <-pipelineDone:
		case <-shutdownCtx.Done():
			log.Warn("Pipeline did not stop before the shutdown timeout")
		}
	}

	log.Info("Server exited")
	return runErr
}
