package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fabtrack.io/tracker/internal/domain"
	apperrors "fabtrack.io/tracker/internal/pkg/errors"
)

var t0 = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func TestProjectRepository(t *testing.T) {
	ctx := context.Background()
	repo := NewProjectRepository()

	p := &domain.Project{ID: "p1", Name: "Tower A", OverallStatus: domain.OverallStatusActive, CreatedAt: t0, UpdatedAt: t0}
	require.NoError(t, repo.Create(ctx, p))
	require.NoError(t, repo.Create(ctx, &domain.Project{ID: "p0", Name: "Annex", CreatedAt: t0.Add(time.Hour)}))

	err := repo.Create(ctx, p)
	assert.ErrorIs(t, err, apperrors.ErrConflict)

	got, err := repo.FindByID(ctx, "p1")
	require.NoError(t, err)
	got.Name = "mutated"

	again, err := repo.FindByID(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, "Tower A", again.Name, "callers get copies")

	again.OverallStatus = domain.OverallStatusCompleted
	require.NoError(t, repo.Update(ctx, again))
	updated, err := repo.FindByID(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, domain.OverallStatusCompleted, updated.OverallStatus)

	all, err := repo.FindAll(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "p1", all[0].ID)

	_, err = repo.FindByID(ctx, "missing")
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
	assert.ErrorIs(t, repo.Update(ctx, &domain.Project{ID: "missing"}), apperrors.ErrNotFound)
}

func TestStatusRepository_Latest(t *testing.T) {
	ctx := context.Background()
	repo := NewStatusRepository()

	none, err := repo.Latest(ctx, "p1", domain.CategoryPickup)
	require.NoError(t, err)
	assert.Nil(t, none)

	records := []*domain.StatusUpdateRecord{
		{ID: "r1", ProjectID: "p1", Category: domain.CategoryPickup, Value: "Picked (B.T.W)", CreatedAt: t0},
		{ID: "r2", ProjectID: "p1", Category: domain.CategoryPickup, Value: "Failed (E.S)", CreatedAt: t0.Add(time.Minute)},
		{ID: "r3", ProjectID: "p1", Category: domain.CategoryPickup, Value: "Picked (A.P)", CreatedAt: t0.Add(time.Minute)},
		{ID: "r4", ProjectID: "p1", Category: domain.CategoryCheck, Value: "(C.B)", CreatedAt: t0},
		{ID: "r5", ProjectID: "p2", Category: domain.CategoryPickup, Value: "Picked (W.H)", CreatedAt: t0.Add(time.Hour)},
	}
	for _, rec := range records {
		require.NoError(t, repo.Create(ctx, rec))
	}

	latest, err := repo.Latest(ctx, "p1", domain.CategoryPickup)
	require.NoError(t, err)
	assert.Equal(t, "r3", latest.ID, "equal timestamps resolve to the later insert")

	all, err := repo.LatestAll(ctx, "p1")
	require.NoError(t, err)
	assert.Len(t, all, 2)
	assert.Equal(t, "r4", all[domain.CategoryCheck].ID)

	assert.Error(t, repo.Create(ctx, records[0]), "ids are unique")
}

func TestStatusRepository_FindAll(t *testing.T) {
	ctx := context.Background()
	repo := NewStatusRepository()

	for i, cat := range []domain.StatusCategory{domain.CategoryOrder, domain.CategoryPickup, domain.CategoryOrder} {
		require.NoError(t, repo.Create(ctx, &domain.StatusUpdateRecord{
			ID:        string(rune('a' + i)),
			ProjectID: "p1",
			Category:  cat,
			CreatedAt: t0.Add(time.Duration(i) * time.Second),
		}))
	}

	history, err := repo.FindAll(ctx, domain.StatusFilter{ProjectID: "p1", Category: domain.CategoryOrder})
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "c", history[0].ID)

	limited, err := repo.FindAll(ctx, domain.StatusFilter{ProjectID: "p1", Limit: 1})
	require.NoError(t, err)
	require.Len(t, limited, 1)
	assert.Equal(t, "c", limited[0].ID)

	rec, err := repo.FindByID(ctx, "b")
	require.NoError(t, err)
	assert.Equal(t, domain.CategoryPickup, rec.Category)

	_, err = repo.FindByID(ctx, "zz")
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}
