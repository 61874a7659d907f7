// Package main provides the entry point for the outro API server.
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

	"github.com/maauso/outro-api/internal/bootstrap"
	"github.com/maauso/outro-api/internal/config"
	"github.com/maauso/outro-api/internal/server"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// Load configuration from environment
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := cfg.NewLogger()
	slog.SetDefault(logger)

	logger.Info("starting outro API",
		slog.Int("port", cfg.Port),
		slog.String("log_format", cfg.LogFormat),
		slog.String("log_level", cfg.LogLevel),
		slog.String("temp_dir", cfg.TempDir),
		slog.Int("max_concurrent_pipelines", cfg.MaxConcurrentPipelines),
		slog.Duration("step_timeout", cfg.StepTimeout),
		slog.Bool("s3_enabled", cfg.S3Enabled()),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	deps, err := bootstrap.NewDependencies(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("initialize dependencies: %w", err)
	}

	handlers := server.NewHandlers(deps.Pipeline, logger, server.WithMaxBodyBytes(cfg.MaxBodyBytes))
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      server.NewRouter(handlers, logger, server.Config{AllowedOrigins: cfg.AllowedOrigins}),
		ReadTimeout:  2 * time.Minute, // Inline videos arrive in the request body
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	return serve(ctx, srv, cfg.ShutdownTimeout, logger)
}

// serve runs srv until ctx is cancelled, then drains in-flight pipelines for
// up to grace before closing remaining connections.
func serve(ctx context.Context, srv *http.Server, grace time.Duration, logger *slog.Logger) error {
	errCh := make(chan error, 1)
	go func() {
		logger.Info("HTTP server listening", slog.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("server failed: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("received shutdown signal")
	case err := <-errCh:
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), grace)
	defer cancel()

	logger.Info("shutting down server, waiting for in-flight pipelines",
		slog.Duration("grace", grace),
	)
	if err := srv.Shutdown(shutdownCtx); err != nil {
		// Closing connections cancels the remaining request contexts, which
		// kills their tools and triggers session cleanup.
		_ = srv.Close()
		return fmt.Errorf("shutdown failed: %w", err)
	}

	logger.Info("server stopped gracefully")
	return nil
}
