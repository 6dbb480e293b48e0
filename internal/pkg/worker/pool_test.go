package worker

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fabtrack.io/tracker/internal/pkg/logger"
)

func init() {
	_ = logger.Init("error", "json")
}

func TestNewPools(t *testing.T) {
	pools, err := NewPools(context.Background(), DefaultPoolConfig())
	require.NoError(t, err)
	defer pools.Shutdown()

	assert.NotNil(t, pools.General)
	assert.NotNil(t, pools.Realtime)
	assert.Equal(t, "realtime", pools.Realtime.Name())
}

func TestPool_Submit(t *testing.T) {
	ctx := context.Background()
	pools, err := NewPools(ctx, PoolConfig{GeneralPoolSize: 4, RealtimePoolSize: 4})
	require.NoError(t, err)
	defer pools.Shutdown()

	var executed atomic.Bool
	var wg sync.WaitGroup
	wg.Add(1)
	err = pools.General.Submit(ctx, func(ctx context.Context) {
		executed.Store(true)
		wg.Done()
	})
	require.NoError(t, err)

	wg.Wait()
	assert.True(t, executed.Load())
}

func TestPool_Submit_CancelledContext(t *testing.T) {
	pools, err := NewPools(context.Background(), DefaultPoolConfig())
	require.NoError(t, err)
	defer pools.Shutdown()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err = pools.General.Submit(ctx, func(ctx context.Context) {
		t.Error("task should not execute with cancelled context")
	})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRealtimePool_RejectsWhenFull(t *testing.T) {
	ctx := context.Background()
	pools, err := NewPools(ctx, PoolConfig{GeneralPoolSize: 1, RealtimePoolSize: 1})
	require.NoError(t, err)

	release := make(chan struct{})
	started := make(chan struct{})
	require.NoError(t, pools.Realtime.Submit(ctx, func(ctx context.Context) {
		close(started)
		<-release
	}))
	<-started

	err = pools.Realtime.Submit(ctx, func(ctx context.Context) {})
	assert.ErrorIs(t, err, ErrPoolOverloaded)

	close(release)
	pools.Shutdown()
}

func TestPools_SubmitDetached(t *testing.T) {
	pools, err := NewPools(context.Background(), DefaultPoolConfig())
	require.NoError(t, err)

	var gotCtx context.Context
	var wg sync.WaitGroup
	wg.Add(1)
	require.NoError(t, pools.SubmitDetached(func(ctx context.Context) {
		gotCtx = ctx
		wg.Done()
	}))
	wg.Wait()

	assert.Equal(t, pools.ServiceContext(), gotCtx)
	pools.Shutdown()
	assert.Error(t, pools.ServiceContext().Err())
}

func TestPools_Metrics(t *testing.T) {
	pools, err := NewPools(context.Background(), PoolConfig{GeneralPoolSize: 10, RealtimePoolSize: 5})
	require.NoError(t, err)
	defer pools.Shutdown()

	metrics := pools.Metrics()
	general, ok := metrics["general"].(map[string]int)
	require.True(t, ok)
	assert.Equal(t, 10, general["cap"])

	realtime, ok := metrics["realtime"].(map[string]int)
	require.True(t, ok)
	assert.Equal(t, 5, realtime["cap"])
}
