package app

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"fabtrack.io/tracker/internal/pkg/logger"
)

const defaultStopTimeout = 10 * time.Second

// Start begins consuming completion-notification jobs. It is a no-op on the
// memory store, where notifications run on the worker pool instead.
func (a *Application) Start(ctx context.Context) error {
	if a.DB == nil || a.DB.RiverClient == nil {
		return nil
	}
	if err := a.DB.RiverClient.Start(ctx); err != nil {
		return fmt.Errorf("start river client: %w", err)
	}
	logger.Info("Notification jobs consumer started")
	return nil
}

// Shutdown stops the application in dependency order:
//
//  1. the River client, so running completion jobs finish while the hub can
//     still deliver their notifications;
//  2. the modules, which closes every realtime session and lets the pumps
//     return to the pool;
//  3. the infrastructure, which drains the pools and closes Redis and
//     Postgres last.
func (a *Application) Shutdown() {
	timeout := defaultStopTimeout
	if a.Config != nil && a.Config.Server.ShutdownTimeout > 0 {
		timeout = a.Config.Server.ShutdownTimeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	a.stopJobs(ctx)
	a.stopModules(ctx)
	a.closeInfrastructure()
}

func (a *Application) stopJobs(ctx context.Context) {
	if a.DB == nil || a.DB.RiverClient == nil {
		return
	}
	if err := a.DB.RiverClient.Stop(ctx); err != nil {
		logger.Error("Stop notification jobs consumer failed", zap.Error(err))
		return
	}
	logger.Info("Notification jobs consumer stopped")
}

func (a *Application) stopModules(ctx context.Context) {
	for _, mod := range a.Modules {
		if mod == nil {
			continue
		}
		if err := mod.Shutdown(ctx); err != nil {
			logger.Warn("Module shutdown failed", zap.String("module", mod.Name()), zap.Error(err))
		}
	}
}

// closeInfrastructure releases what Bootstrap built. An Application
// assembled by hand may carry only pools or a database.
func (a *Application) closeInfrastructure() {
	if a.infra != nil {
		a.infra.Close()
		return
	}
	if a.Pools != nil {
		a.Pools.Shutdown()
	}
	if a.DB != nil {
		a.DB.Close()
	}
}
