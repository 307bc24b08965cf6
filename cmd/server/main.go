// Package main provides the entry point for the charswap server.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/maauso/charswap/internal/bootstrap"
	"github.com/maauso/charswap/internal/config"
	"github.com/maauso/charswap/internal/queue"
)

// drainTimeout bounds how long shutdown waits for the in-flight pass.
const drainTimeout = 5 * time.Minute

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// Load configuration from .env and environment
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	// Create structured logger
	logger := cfg.NewLogger()
	slog.SetDefault(logger)

	logger.Info("starting charswap",
		slog.Int("port", cfg.Port),
		slog.String("log_format", cfg.LogFormat),
		slog.String("log_level", cfg.LogLevel),
		slog.String("compute_url", cfg.ComputeURL),
		slog.String("projects_dir", cfg.ProjectsDir),
		slog.String("output_dir", cfg.OutputDir),
		slog.String("work_dir", cfg.WorkDir),
		slog.Bool("s3_enabled", cfg.S3Enabled()),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	deps, err := bootstrap.NewDependencies(ctx, cfg, logger, nil)
	if err != nil {
		return fmt.Errorf("initialize dependencies: %w", err)
	}

	// The worker outlives the signal context so the in-flight pass is not
	// cut short by a shutdown.
	workerCtx, cancelWorker := context.WithCancel(context.Background())
	workerDone := make(chan struct{})
	go func() {
		defer close(workerDone)
		_ = deps.Worker.Run(workerCtx)
	}()

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      deps.Handler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Minute, // POST /projects/{id}/stitch runs synchronously
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("HTTP server listening",
			slog.String("addr", srv.Addr),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("server failed: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("received shutdown signal")
	case err := <-errCh:
		cancelWorker()
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	logger.Info("shutting down server...")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		cancelWorker()
		return fmt.Errorf("shutdown failed: %w", err)
	}

	// Let the in-flight pass finish; the unit halts at its next checkpoint.
	discarded := deps.Worker.Stop()
	drainCtx, cancelDrain := context.WithTimeout(context.Background(), drainTimeout)
	defer cancelDrain()
	waitIdle(drainCtx, deps.Worker.Status)
	cancelWorker()
	<-workerDone

	logger.Info("server stopped gracefully", slog.Int("discarded_units", discarded))
	return nil
}

// waitIdle returns once the worker reports no running unit or ctx is done.
func waitIdle(ctx context.Context, status func() queue.Status) {
	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()
	for status().Running {
		select {
		case <-ctx.Done():
			slog.Warn("worker still busy at shutdown deadline")
			return
		case <-ticker.C:
		}
	}
}
