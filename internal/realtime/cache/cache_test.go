package cache

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fabtrack.io/tracker/internal/domain"
	apperrors "fabtrack.io/tracker/internal/pkg/errors"
	"fabtrack.io/tracker/internal/pkg/logger"
	"fabtrack.io/tracker/internal/realtime/client"
)

func init() {
	_ = logger.Init("error", "json")
}

var t0 = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

type fakeServer struct {
	mu        sync.Mutex
	snapshots []*domain.ProjectSnapshot
	fetches   int
	updateErr error
	batchErr  error
	batches   [][]Mutation
	updates   []Mutation
}

func (f *fakeServer) ListSnapshots(context.Context) ([]*domain.ProjectSnapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetches++
	out := make([]*domain.ProjectSnapshot, 0, len(f.snapshots))
	for _, s := range f.snapshots {
		out = append(out, s.Clone())
	}
	return out, nil
}

func (f *fakeServer) UpdateStatus(_ context.Context, m Mutation) (*domain.StatusUpdatedData, error) {
	f.mu.Lock()
	f.updates = append(f.updates, m)
	f.mu.Unlock()
	if f.updateErr != nil {
		return nil, f.updateErr
	}
	return f.confirm(m), nil
}

func (f *fakeServer) UpdateStatusBatch(_ context.Context, ms []Mutation) ([]*domain.StatusUpdatedData, error) {
	f.mu.Lock()
	f.batches = append(f.batches, ms)
	f.mu.Unlock()
	if f.batchErr != nil {
		return nil, f.batchErr
	}
	out := make([]*domain.StatusUpdatedData, 0, len(ms))
	for _, m := range ms {
		out = append(out, f.confirm(m))
	}
	return out, nil
}

func (f *fakeServer) confirm(m Mutation) *domain.StatusUpdatedData {
	rec := &domain.StatusUpdateRecord{ID: "srv-" + m.EntityID + "-" + m.Value, ProjectID: m.EntityID, Category: m.Category, Value: m.Value, ActorID: "u1", CreatedAt: t0.Add(time.Hour)}
	snap := &domain.ProjectSnapshot{ID: m.EntityID, Name: "Tower", Statuses: map[domain.StatusCategory]*domain.StatusUpdateRecord{m.Category: rec}}
	return &domain.StatusUpdatedData{ProjectSnapshot: *snap, LastUpdate: rec}
}

func seeded(t *testing.T) (*Cache, *fakeServer) {
	t.Helper()
	srv := &fakeServer{snapshots: []*domain.ProjectSnapshot{
		{ID: "P1", Name: "Tower", OverallStatus: domain.OverallStatusActive, Statuses: map[domain.StatusCategory]*domain.StatusUpdateRecord{
			domain.CategoryPickup: {ID: "r0", ProjectID: "P1", Category: domain.CategoryPickup, Value: "Picked (A.P)", CreatedAt: t0},
		}},
		{ID: "P2", Name: "Bridge", OverallStatus: domain.OverallStatusActive},
	}}
	c := New(srv, srv)
	c.now = func() time.Time { return t0.Add(time.Minute) }
	require.NoError(t, c.Refetch(context.Background()))
	return c, srv
}

func envelope(t *testing.T, typ domain.EventType, data any) domain.Envelope {
	t.Helper()
	env, err := domain.NewEnvelope(typ, data, t0)
	require.NoError(t, err)
	return env
}

func statusUpdated(id, recordID, value string) domain.StatusUpdatedData {
	rec := &domain.StatusUpdateRecord{ID: recordID, ProjectID: id, Category: domain.CategoryPickup, Value: value, CreatedAt: t0.Add(time.Hour)}
	return domain.StatusUpdatedData{
		ProjectSnapshot: domain.ProjectSnapshot{ID: id, Name: "Tower", OverallStatus: domain.OverallStatusActive,
			Statuses: map[domain.StatusCategory]*domain.StatusUpdateRecord{domain.CategoryPickup: rec}},
		LastUpdate: rec,
	}
}

func TestApplyInbound_StatusUpdatedIsIdempotent(t *testing.T) {
	c, _ := seeded(t)
	ctx := context.Background()
	env := envelope(t, domain.EventStatusUpdated, statusUpdated("P1", "r1", "Failed (N.A)"))

	require.NoError(t, c.ApplyInbound(ctx, env))
	first, _ := c.Get("P1")
	require.NoError(t, c.ApplyInbound(ctx, env))
	second, _ := c.Get("P1")

	assert.Equal(t, first, second)
	assert.Equal(t, "Failed (N.A)", second.Value(domain.CategoryPickup))
	assert.Len(t, c.History("P1"), 1)
}

func TestApplyInbound_UnknownEntityIsInserted(t *testing.T) {
	c, _ := seeded(t)
	require.NoError(t, c.ApplyInbound(context.Background(), envelope(t, domain.EventStatusUpdated, statusUpdated("P9", "r9", "Picked (A.P)"))))

	snap, ok := c.Get("P9")
	require.True(t, ok)
	assert.Equal(t, "Picked (A.P)", snap.Value(domain.CategoryPickup))
	list := c.List()
	require.Len(t, list, 3)
	assert.Equal(t, "P9", list[2].ID)
}

func TestApplyInbound_CreatedAndDeletedRefetch(t *testing.T) {
	c, srv := seeded(t)
	ctx := context.Background()
	srv.snapshots = append(srv.snapshots, &domain.ProjectSnapshot{ID: "P3", Name: "Dock"})

	require.NoError(t, c.ApplyInbound(ctx, envelope(t, domain.EventStatusCreated, domain.EntityRefData{ID: "P3"})))
	assert.Equal(t, 2, srv.fetches)
	assert.Len(t, c.List(), 3)

	srv.snapshots = srv.snapshots[:1]
	require.NoError(t, c.ApplyInbound(ctx, envelope(t, domain.EventStatusDeleted, domain.EntityRefData{ID: "P2"})))
	assert.Equal(t, 3, srv.fetches)
	_, ok := c.Get("P2")
	assert.False(t, ok)
}

func TestApplyInbound_ProjectUpdated(t *testing.T) {
	c, _ := seeded(t)
	require.NoError(t, c.ApplyInbound(context.Background(), envelope(t, domain.EventProjectUpdated, domain.ProjectUpdatedData{
		EntityID: "P1", OverallStatus: domain.OverallStatusCompleted, Timestamp: t0.Add(2 * time.Hour),
	})))
	snap, _ := c.Get("P1")
	assert.Equal(t, domain.OverallStatusCompleted, snap.OverallStatus)
	assert.Equal(t, t0.Add(2*time.Hour), snap.UpdatedAt)
	assert.Equal(t, "Picked (A.P)", snap.Value(domain.CategoryPickup), "statuses untouched")
}

func TestApplyInbound_Malformed(t *testing.T) {
	c, _ := seeded(t)
	err := c.ApplyInbound(context.Background(), domain.Envelope{Type: domain.EventStatusUpdated, Data: []byte(`{"id":`)})
	assert.ErrorIs(t, err, apperrors.ErrMalformedEvent)

	err = c.ApplyInbound(context.Background(), envelope(t, domain.EventStatusUpdated, domain.StatusUpdatedData{}))
	assert.ErrorIs(t, err, apperrors.ErrMalformedEvent)

	assert.NoError(t, c.ApplyInbound(context.Background(), envelope(t, domain.EventNotification, domain.NotificationData{Kind: "k"})))
}

func TestOptimisticUpdate_Success(t *testing.T) {
	c, srv := seeded(t)
	m := Mutation{EntityID: "P1", Category: domain.CategoryOrder, Value: "Ordered - (L.S)"}

	var sawPending bool
	srv.updateErr = nil
	c.OnChange(func(id string) {
		if id == "P1" && c.IsPending("P1", domain.CategoryOrder) {
			sawPending = true
		}
	})

	snap, err := c.OptimisticUpdate(context.Background(), m)
	require.NoError(t, err)
	assert.True(t, sawPending, "local value shown before confirmation")
	assert.Equal(t, "Ordered - (L.S)", snap.Value(domain.CategoryOrder))
	assert.False(t, c.IsPending("P1", domain.CategoryOrder))
	require.Len(t, c.History("P1"), 1)
	assert.Equal(t, "srv-P1-Ordered - (L.S)", c.History("P1")[0].ID)
}

func TestOptimisticUpdate_DeliveryDetails(t *testing.T) {
	c, srv := seeded(t)
	details := &domain.DeliveryDetails{Time: "10:00", Address: "Dock 4", PurchaseOrder: "PO-9", DeliveredBy: "J. Okafor"}
	m := Mutation{EntityID: "P2", Category: domain.CategoryDelivery, Value: "Delivered", Delivery: details}

	var pending *domain.StatusUpdateRecord
	c.OnChange(func(id string) {
		if id == "P2" && c.IsPending("P2", domain.CategoryDelivery) {
			snap, _ := c.Get("P2")
			pending = snap.Statuses[domain.CategoryDelivery]
		}
	})

	_, err := c.OptimisticUpdate(context.Background(), m)
	require.NoError(t, err)
	require.Len(t, srv.updates, 1)
	assert.Equal(t, details, srv.updates[0].Delivery)
	require.NotNil(t, pending)
	require.NotNil(t, pending.Extra)
	assert.Equal(t, details, pending.Extra.Delivery)
}

func TestOptimisticUpdate_FailureRestoresExactEntry(t *testing.T) {
	tests := []struct {
		name     string
		category domain.StatusCategory
	}{
		{"category previously set", domain.CategoryPickup},
		{"category previously empty", domain.CategoryCheck},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, srv := seeded(t)
			srv.updateErr = apperrors.ErrTransitionInvalidf(string(tt.category), "nope")
			before, _ := c.Get("P1")

			_, err := c.OptimisticUpdate(context.Background(), Mutation{EntityID: "P1", Category: tt.category, Value: "Yes"})
			assert.ErrorIs(t, err, apperrors.ErrValidation)

			after, _ := c.Get("P1")
			assert.Equal(t, before, after)
			assert.False(t, c.IsPending("P1", tt.category))
		})
	}
}

func TestOptimisticUpdate_UnknownEntity(t *testing.T) {
	c, _ := seeded(t)
	_, err := c.OptimisticUpdate(context.Background(), Mutation{EntityID: "nope", Category: domain.CategoryOrder, Value: "x"})
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestOptimisticBatch(t *testing.T) {
	ms := []Mutation{
		{EntityID: "P1", Category: domain.CategoryCheck, Value: "Yes"},
		{EntityID: "P2", Category: domain.CategoryOrder, Value: "Ordered - (L.S)"},
	}

	t.Run("success", func(t *testing.T) {
		c, srv := seeded(t)
		snaps, err := c.OptimisticBatch(context.Background(), ms)
		require.NoError(t, err)
		require.Len(t, snaps, 2)
		assert.Len(t, srv.batches, 1, "one request")
		assert.False(t, c.IsPending("P2", domain.CategoryOrder))
	})

	t.Run("failure keeps local values until revert", func(t *testing.T) {
		c, srv := seeded(t)
		srv.batchErr = errors.New("boom")
		before1, _ := c.Get("P1")
		before2, _ := c.Get("P2")

		_, err := c.OptimisticBatch(context.Background(), ms)
		var be *BatchError
		require.ErrorAs(t, err, &be)
		assert.Equal(t, ms, be.Mutations)

		p1, _ := c.Get("P1")
		assert.Equal(t, "Yes", p1.Value(domain.CategoryCheck))
		assert.True(t, c.IsPending("P2", domain.CategoryOrder))

		c.Revert(be)
		after1, _ := c.Get("P1")
		after2, _ := c.Get("P2")
		assert.Equal(t, before1, after1)
		assert.Equal(t, before2, after2)
	})

	t.Run("failure reconciled by refetch", func(t *testing.T) {
		c, srv := seeded(t)
		srv.batchErr = errors.New("boom")
		_, err := c.OptimisticBatch(context.Background(), ms)
		require.Error(t, err)

		require.NoError(t, c.Refetch(context.Background()))
		p1, _ := c.Get("P1")
		assert.Equal(t, "", p1.Value(domain.CategoryCheck))
		assert.False(t, c.IsPending("P1", domain.CategoryCheck))
	})

	t.Run("unknown entity applies nothing", func(t *testing.T) {
		c, srv := seeded(t)
		before, _ := c.Get("P1")
		_, err := c.OptimisticBatch(context.Background(), append(ms[:1:1], Mutation{EntityID: "nope", Category: domain.CategoryOrder}))
		assert.ErrorIs(t, err, apperrors.ErrNotFound)
		after, _ := c.Get("P1")
		assert.Equal(t, before, after)
		assert.Empty(t, srv.batches)
	})
}

type recordingSource struct {
	handlers map[domain.EventType]client.Handler
}

func (s *recordingSource) On(t domain.EventType, h client.Handler) {
	if s.handlers == nil {
		s.handlers = map[domain.EventType]client.Handler{}
	}
	s.handlers[t] = h
}

func TestBind(t *testing.T) {
	c, _ := seeded(t)
	src := &recordingSource{}
	c.Bind(src)

	assert.Len(t, src.handlers, 4)
	src.handlers[domain.EventStatusUpdated](envelope(t, domain.EventStatusUpdated, statusUpdated("P2", "r2", "Picked (A.P)")))
	snap, _ := c.Get("P2")
	assert.Equal(t, "Picked (A.P)", snap.Value(domain.CategoryPickup))
}
