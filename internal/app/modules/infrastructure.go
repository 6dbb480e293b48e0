package modules

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/redis/go-redis/v9"
	"github.com/riverqueue/river"
	"go.uber.org/zap"

	"fabtrack.io/tracker/internal/config"
	"fabtrack.io/tracker/internal/infrastructure"
	"fabtrack.io/tracker/internal/pkg/logger"
	"fabtrack.io/tracker/internal/pkg/worker"
	"fabtrack.io/tracker/internal/repository"
	"fabtrack.io/tracker/internal/repository/memory"
	"fabtrack.io/tracker/internal/repository/postgres"
	"fabtrack.io/tracker/internal/service"
)

// Infrastructure holds shared cross-cutting dependencies for all modules.
// It is a provider, not a Module.
type Infrastructure struct {
	Config *config.Config
	// DB is nil with the memory store.
	DB     *infrastructure.DatabaseClients
	Pools  *worker.Pools
	Store  *repository.Store
	Policy *service.Policy
	// Redis is set only for the redis lock backend.
	Redis       redis.UniversalClient
	RiverClient *river.Client[pgx.Tx]
}

// NewInfrastructure initializes pools, the store and shared services.
func NewInfrastructure(ctx context.Context, cfg *config.Config) (*Infrastructure, error) {
	policy, err := service.LoadPolicy(cfg.Status.PolicyFile)
	if err != nil {
		return nil, fmt.Errorf("load status policy: %w", err)
	}

	infra := &Infrastructure{Config: cfg, Policy: policy}

	switch cfg.Store.Driver {
	case config.StorePostgres:
		db, err := infrastructure.NewDatabaseClients(ctx, cfg.Database)
		if err != nil {
			return nil, fmt.Errorf("init database: %w", err)
		}
		if cfg.Database.AutoMigrate {
			if err := db.AutoMigrate(ctx); err != nil {
				db.Close()
				return nil, fmt.Errorf("auto-migrate: %w", err)
			}
		}
		infra.DB = db
		infra.Store = postgres.NewStore(db.Pool)
	default:
		infra.Store = memory.NewStore()
		logger.Warn("Using in-memory store: status history is lost on restart")
	}

	pools, err := worker.NewPools(ctx, worker.PoolConfig{
		GeneralPoolSize:  cfg.Worker.GeneralPoolSize,
		RealtimePoolSize: cfg.Worker.RealtimePoolSize,
	})
	if err != nil {
		infra.Close()
		return nil, fmt.Errorf("init worker pools: %w", err)
	}
	infra.Pools = pools

	if cfg.Status.LockBackend == config.LockRedis {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			_ = rdb.Close()
			infra.Close()
			return nil, fmt.Errorf("ping redis %s: %w", cfg.Redis.Address, err)
		}
		infra.Redis = rdb
	}

	logger.Info("Infrastructure initialized",
		zap.String("store", cfg.Store.Driver),
		zap.String("lock_backend", cfg.Status.LockBackend),
	)
	return infra, nil
}

// Locker returns the update locker selected by status.lock_backend.
func (i *Infrastructure) Locker() service.Locker {
	switch i.Config.Status.LockBackend {
	case config.LockRedis:
		return service.NewRedisLocker(i.Redis, i.Config.Status.LockTTL)
	case config.LockLocal:
		return service.NewLocalLocker()
	default:
		return service.NoopLocker{}
	}
}

// InitRiver initializes the River client on top of a prepared worker
// registry. It is a no-op without a database.
func (i *Infrastructure) InitRiver(workers *river.Workers) error {
	if i == nil || i.Config == nil {
		return fmt.Errorf("infrastructure is not initialized")
	}
	if i.DB == nil {
		return nil
	}
	if err := i.DB.InitRiverClient(workers, i.Config.River); err != nil {
		return fmt.Errorf("init river: %w", err)
	}
	i.RiverClient = i.DB.RiverClient
	return nil
}

// Close releases infra resources in reverse dependency order.
func (i *Infrastructure) Close() {
	if i == nil {
		return
	}
	if i.Pools != nil {
		i.Pools.Shutdown()
	}
	if i.Redis != nil {
		if err := i.Redis.Close(); err != nil {
			logger.Warn("failed to close redis client", zap.Error(err))
		}
	}
	if i.Store != nil {
		i.Store.Close()
	}
	if i.DB != nil {
		i.DB.Close()
	}
}
