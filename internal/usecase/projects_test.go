package usecase

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fabtrack.io/tracker/internal/domain"
	apperrors "fabtrack.io/tracker/internal/pkg/errors"
)

func TestProjectUseCase_Create(t *testing.T) {
	f := newFixture(t)
	uc := NewProjectUseCase(f.store.Projects, f.store.Statuses, f.broadcaster)
	uc.now = func() time.Time { return t0 }
	ctx := context.Background()

	p, err := uc.Create(ctx, CreateProjectInput{Name: "  Tower C ", Actor: pm})
	require.NoError(t, err)
	assert.NotEmpty(t, p.ID)
	assert.Equal(t, "Tower C", p.Name)
	assert.Equal(t, domain.OverallStatusActive, p.OverallStatus)
	assert.Equal(t, []domain.EntityRefData{{ID: p.ID, Name: "Tower C"}}, f.broadcaster.created)

	_, err = uc.Create(ctx, CreateProjectInput{ID: p.ID, Name: "dup"})
	assert.ErrorIs(t, err, apperrors.ErrConflict)

	_, err = uc.Create(ctx, CreateProjectInput{Name: " "})
	assert.Equal(t, apperrors.CodeInvalidRequestField, apperrors.CodeOf(err))
	assert.Len(t, f.broadcaster.created, 1)
}

func TestProjectUseCase_SnapshotsAndHistory(t *testing.T) {
	f := newFixture(t, "P1", "P2")
	uc := NewProjectUseCase(f.store.Projects, f.store.Statuses, f.broadcaster)
	ctx := context.Background()

	for _, v := range []string{"Picked (A.P)", "Failed (N.A)"} {
		_, err := f.uc.Execute(ctx, UpdateStatusInput{ProjectID: "P1", Category: domain.CategoryPickup, Actor: warehouse, Value: v})
		require.NoError(t, err)
	}
	_, err := f.uc.Execute(ctx, UpdateStatusInput{ProjectID: "P1", Category: domain.CategoryOrder, Actor: pm, Value: "Ordered - (L.S)"})
	require.NoError(t, err)

	snap, err := uc.Snapshot(ctx, "P1")
	require.NoError(t, err)
	assert.Equal(t, "Failed (N.A)", snap.Value(domain.CategoryPickup))
	assert.Equal(t, "Ordered - (L.S)", snap.Value(domain.CategoryOrder))
	assert.Equal(t, "", snap.Value(domain.CategoryCheck))

	all, err := uc.ListSnapshots(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)

	history, err := uc.History(ctx, "P1", domain.CategoryPickup, 0)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "Failed (N.A)", history[0].Value)

	_, err = uc.History(ctx, "missing", "", 0)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
	_, err = uc.Snapshot(ctx, "missing")
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}
