package main

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fabtrack.io/tracker/internal/domain"
	"fabtrack.io/tracker/internal/pkg/logger"
	"fabtrack.io/tracker/internal/repository/memory"
	"fabtrack.io/tracker/internal/service"
	"fabtrack.io/tracker/internal/usecase"
)

func init() {
	_ = logger.Init("error", "json")
}

func TestDemoProjects_UniqueIDs(t *testing.T) {
	t.Parallel()

	seen := make(map[string]bool)
	for _, p := range demoProjects() {
		require.False(t, seen[p.ID], "duplicate demo project %s", p.ID)
		seen[p.ID] = true
		assert.NotEmpty(t, p.Name)
	}
}

func TestSeed_IsIdempotent(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := memory.NewStore()
	policy := service.DefaultPolicy()

	created, err := seed(ctx, store, policy)
	require.NoError(t, err)
	assert.Equal(t, len(demoProjects()), created)

	created, err = seed(ctx, store, policy)
	require.NoError(t, err)
	assert.Zero(t, created)

	snaps, err := usecase.NewProjectUseCase(store.Projects, store.Statuses, noopBroadcaster{}).ListSnapshots(ctx)
	require.NoError(t, err)
	require.Len(t, snaps, len(demoProjects()))

	byID := make(map[string]*domain.ProjectSnapshot, len(snaps))
	for _, s := range snaps {
		byID[s.ID] = s
	}
	assert.Equal(t, domain.OverallStatusCompleted, byID["demo-summit"].OverallStatus)
	assert.Equal(t, "Picked (W.H)", byID["demo-canyon"].Value(domain.CategoryPickup))
	assert.Equal(t, domain.OverallStatusActive, byID["demo-riverside"].OverallStatus)
	assert.Empty(t, byID["demo-riverside"].Statuses)
}
