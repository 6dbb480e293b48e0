// Package main runs the status tracker: the REST API, the /ws realtime
// endpoint and, with the Postgres store, the notification job consumer.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"fabtrack.io/tracker/internal/app"
	"fabtrack.io/tracker/internal/config"
	"fabtrack.io/tracker/internal/pkg/logger"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "tracker: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := logger.Init(cfg.Log.Level, cfg.Log.Format); err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	application, err := app.Bootstrap(ctx, cfg)
	if err != nil {
		return fmt.Errorf("bootstrap: %w", err)
	}
	// Runs after the HTTP server stops, so no request reaches a closed hub.
	defer application.Shutdown()

	if err := application.Start(ctx); err != nil {
		return err
	}

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      application.Router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}
	logger.Info("Status tracker listening",
		zap.String("addr", srv.Addr),
		zap.String("store", cfg.Store.Driver),
		zap.String("lock_backend", cfg.Status.LockBackend),
	)
	return serve(ctx, srv, cfg)
}

// serve blocks until the listener fails or ctx is cancelled, then drains
// in-flight requests. Upgraded websocket connections are not tracked by
// http.Server; the hub closes them during Shutdown.
func serve(ctx context.Context, srv *http.Server, cfg *config.Config) error {
	listenErr := make(chan error, 1)
	go func() { //nolint:naked-goroutine // the listener owns the process lifetime
		listenErr <- srv.ListenAndServe()
	}()

	select {
	case err := <-listenErr:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("listen: %w", err)
	case <-ctx.Done():
		logger.Info("Stop signal received, draining requests",
			zap.Duration("timeout", cfg.Server.ShutdownTimeout))
	}

	drainCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(drainCtx); err != nil {
		return fmt.Errorf("drain http server: %w", err)
	}
	logger.Info("HTTP server stopped")
	return nil
}
