// Package app is the composition root. Bootstrap only orchestrates; the
// wiring of each concern lives in internal/app/modules.
package app

import (
	"context"
	"fmt"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/riverqueue/river"

	"fabtrack.io/tracker/internal/api/handlers"
	"fabtrack.io/tracker/internal/app/modules"
	"fabtrack.io/tracker/internal/config"
	"fabtrack.io/tracker/internal/infrastructure"
	"fabtrack.io/tracker/internal/pkg/metrics"
	"fabtrack.io/tracker/internal/pkg/worker"
	"fabtrack.io/tracker/internal/realtime"
)

// Application holds composed application dependencies.
type Application struct {
	Config  *config.Config
	Router  *gin.Engine
	DB      *infrastructure.DatabaseClients
	Pools   *worker.Pools
	Hub     *realtime.Hub
	Modules []modules.Module

	infra *modules.Infrastructure
}

// Bootstrap initializes all dependencies using module-oriented manual DI.
func Bootstrap(ctx context.Context, cfg *config.Config) (*Application, error) {
	metrics.Register(prometheus.DefaultRegisterer)

	infra, err := modules.NewInfrastructure(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("init infrastructure: %w", err)
	}

	jwtCfg := modules.JWTConfigFrom(cfg.Security)
	rt := modules.NewRealtimeModule(infra, jwtCfg)

	workers := river.NewWorkers()
	rt.RegisterWorkers(workers)
	if err := infra.InitRiver(workers); err != nil {
		infra.Close()
		return nil, fmt.Errorf("init river workers: %w", err)
	}

	status := modules.NewStatusModule(infra, rt)
	allModules := []modules.Module{rt, status}
	server := handlers.NewServer(modules.NewServerDeps(infra, allModules))

	return &Application{
		Config:  cfg,
		Router:  newRouter(cfg, server, jwtCfg, rt.Handler()),
		DB:      infra.DB,
		Pools:   infra.Pools,
		Hub:     rt.Hub(),
		Modules: allModules,
		infra:   infra,
	}, nil
}
