// Package worker provides goroutine pool management.
//
// Long-lived goroutines (socket pumps, detached notifications) go through a
// pool so shutdown can wait for them and panics are recovered in one place.
package worker

import (
	"context"
	"errors"
	"time"

	"github.com/panjf2000/ants/v2"
	"go.uber.org/zap"

	"fabtrack.io/tracker/internal/pkg/logger"
)

// ErrPoolOverloaded is returned when a non-blocking pool has no free worker.
var ErrPoolOverloaded = errors.New("worker pool is at capacity")

// Task is a context-aware task function.
type Task func(ctx context.Context)

// Pool wraps ants.Pool with context-aware submission.
type Pool struct {
	pool *ants.Pool
	name string
}

// Pools is the worker pool collection.
type Pools struct {
	// General runs detached background tasks (notifications, telemetry).
	General *Pool
	// Realtime runs websocket read/write pumps. It never blocks the caller:
	// a full pool rejects the task so the connection can be refused.
	Realtime *Pool

	serviceCtx    context.Context
	serviceCancel context.CancelFunc
}

// PoolConfig contains worker pool configuration.
type PoolConfig struct {
	GeneralPoolSize  int
	RealtimePoolSize int
}

// DefaultPoolConfig returns default configuration.
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		GeneralPoolSize:  64,
		RealtimePoolSize: 2048,
	}
}

// NewPools creates the worker pool collection.
func NewPools(ctx context.Context, cfg PoolConfig) (*Pools, error) {
	serviceCtx, serviceCancel := context.WithCancel(ctx)

	panicHandler := func(p interface{}) {
		logger.Error("Worker panic recovered",
			zap.Any("panic", p),
			zap.Stack("stack"),
		)
	}

	generalAnts, err := ants.NewPool(cfg.GeneralPoolSize,
		ants.WithPanicHandler(panicHandler),
		ants.WithNonblocking(false),
		ants.WithExpiryDuration(10*time.Second),
	)
	if err != nil {
		serviceCancel()
		return nil, err
	}

	realtimeAnts, err := ants.NewPool(cfg.RealtimePoolSize,
		ants.WithPanicHandler(panicHandler),
		ants.WithNonblocking(true),
		ants.WithExpiryDuration(time.Minute),
	)
	if err != nil {
		generalAnts.Release()
		serviceCancel()
		return nil, err
	}

	return &Pools{
		General:       &Pool{pool: generalAnts, name: "general"},
		Realtime:      &Pool{pool: realtimeAnts, name: "realtime"},
		serviceCtx:    serviceCtx,
		serviceCancel: serviceCancel,
	}, nil
}

// Submit submits a context-aware task.
// If ctx is already cancelled, returns ctx.Err() without submitting.
func (p *Pool) Submit(ctx context.Context, task Task) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	err := p.pool.Submit(func() {
		select {
		case <-ctx.Done():
			logger.Debug("Task skipped: context cancelled",
				zap.String("pool", p.name),
				zap.Error(ctx.Err()),
			)
			return
		default:
		}
		task(ctx)
	})
	if errors.Is(err, ants.ErrPoolOverload) {
		return ErrPoolOverloaded
	}
	return err
}

// Name returns the pool name used in logs and metrics.
func (p *Pool) Name() string { return p.name }

// Free returns the number of idle worker slots.
func (p *Pool) Free() int { return p.pool.Free() }

// SubmitDetached runs a task on the General pool under the service lifecycle
// context instead of a request context. The task survives request
// cancellation but stops at shutdown.
func (p *Pools) SubmitDetached(task Task) error {
	return p.General.pool.Submit(func() {
		select {
		case <-p.serviceCtx.Done():
			logger.Debug("Detached task skipped: service shutting down")
			return
		default:
		}
		task(p.serviceCtx)
	})
}

// ServiceContext returns the lifecycle context cancelled by Shutdown.
func (p *Pools) ServiceContext() context.Context {
	return p.serviceCtx
}

// Shutdown cancels the service context, then waits for running tasks.
func (p *Pools) Shutdown() {
	p.serviceCancel()

	const shutdownTimeout = 30 * time.Second
	if err := p.General.pool.ReleaseTimeout(shutdownTimeout); err != nil {
		logger.Warn("General pool shutdown timeout", zap.Error(err))
	}
	if err := p.Realtime.pool.ReleaseTimeout(shutdownTimeout); err != nil {
		logger.Warn("Realtime pool shutdown timeout", zap.Error(err))
	}
}

// Metrics returns pool occupancy for the health endpoint.
func (p *Pools) Metrics() map[string]interface{} {
	return map[string]interface{}{
		"general": map[string]int{
			"running": p.General.pool.Running(),
			"free":    p.General.pool.Free(),
			"cap":     p.General.pool.Cap(),
		},
		"realtime": map[string]int{
			"running": p.Realtime.pool.Running(),
			"free":    p.Realtime.pool.Free(),
			"cap":     p.Realtime.pool.Cap(),
		},
	}
}
