// Package cache keeps a consumer-side copy of project snapshots current by
// applying realtime events in arrival order, and applies local edits
// optimistically before the server confirms them.
package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"fabtrack.io/tracker/internal/domain"
	apperrors "fabtrack.io/tracker/internal/pkg/errors"
	"fabtrack.io/tracker/internal/pkg/logger"
	"fabtrack.io/tracker/internal/realtime/client"
)

// Mutation is one status change requested by the local user.
type Mutation struct {
	EntityID string                `json:"entityId"`
	Category domain.StatusCategory `json:"category"`
	// Value is the display form, e.g. "Picked (A.P)".
	Value  string `json:"value"`
	Reason string `json:"reason,omitempty"`
	// Delivery is required when a DELIVERY value is "Delivered".
	Delivery *domain.DeliveryDetails `json:"delivery,omitempty"`
}

// Fetcher loads the authoritative snapshot list.
type Fetcher interface {
	ListSnapshots(ctx context.Context) ([]*domain.ProjectSnapshot, error)
}

// Updater submits mutations to the server.
type Updater interface {
	UpdateStatus(ctx context.Context, m Mutation) (*domain.StatusUpdatedData, error)
	UpdateStatusBatch(ctx context.Context, ms []Mutation) ([]*domain.StatusUpdatedData, error)
}

// EventSource is what Bind needs from a realtime client.
type EventSource interface {
	On(t domain.EventType, h client.Handler)
}

// BatchError reports a failed batch. The optimistic values stay in place
// until the caller calls Refetch or Revert.
type BatchError struct {
	Err       error
	Mutations []Mutation

	previous []previousValue
}

func (e *BatchError) Error() string {
	return fmt.Sprintf("status batch of %d failed: %v", len(e.Mutations), e.Err)
}

func (e *BatchError) Unwrap() error { return e.Err }

type previousValue struct {
	entityID string
	category domain.StatusCategory
	record   *domain.StatusUpdateRecord
	present  bool
}

type entry struct {
	snapshot *domain.ProjectSnapshot
	// history is newest first and unique by record id.
	history []*domain.StatusUpdateRecord
	pending map[domain.StatusCategory]bool
}

// Cache is safe for concurrent use.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]*entry
	order   []string

	fetcher Fetcher
	updater Updater
	now     func() time.Time
	log     *zap.Logger

	lmu       sync.RWMutex
	listeners []func(entityID string)
}

// New creates an empty cache.
func New(fetcher Fetcher, updater Updater) *Cache {
	return &Cache{
		entries: make(map[string]*entry),
		fetcher: fetcher,
		updater: updater,
		now:     time.Now,
		log:     logger.Named("realtime.cache"),
	}
}

// OnChange registers fn to be called with the entity id after every change.
// An empty id means the whole cache was reloaded.
func (c *Cache) OnChange(fn func(entityID string)) {
	c.lmu.Lock()
	defer c.lmu.Unlock()
	c.listeners = append(c.listeners, fn)
}

// Bind feeds the cache from a realtime client.
func (c *Cache) Bind(src EventSource) {
	handle := func(env domain.Envelope) {
		if err := c.ApplyInbound(context.Background(), env); err != nil {
			c.log.Warn("Apply realtime event failed", zap.String("type", string(env.Type)), zap.Error(err))
		}
	}
	for _, t := range []domain.EventType{
		domain.EventStatusUpdated,
		domain.EventStatusCreated,
		domain.EventStatusDeleted,
		domain.EventProjectUpdated,
	} {
		src.On(t, handle)
	}
}

// Get returns a copy of the cached snapshot.
func (c *Cache) Get(entityID string) (*domain.ProjectSnapshot, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[entityID]
	if !ok {
		return nil, false
	}
	return e.snapshot.Clone(), true
}

// List returns copies of every cached snapshot in load order.
func (c *Cache) List() []*domain.ProjectSnapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]*domain.ProjectSnapshot, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, c.entries[id].snapshot.Clone())
	}
	return out
}

// History returns the records seen for entityID, newest first.
func (c *Cache) History(entityID string) []*domain.StatusUpdateRecord {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[entityID]
	if !ok {
		return nil
	}
	out := make([]*domain.StatusUpdateRecord, 0, len(e.history))
	for _, r := range e.history {
		cp := *r
		out = append(out, &cp)
	}
	return out
}

// IsPending reports whether a category holds an unconfirmed local value.
func (c *Cache) IsPending(entityID string, cat domain.StatusCategory) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[entityID]
	return ok && e.pending[cat]
}

// Refetch replaces the whole cache with the server's list.
func (c *Cache) Refetch(ctx context.Context) error {
	snaps, err := c.fetcher.ListSnapshots(ctx)
	if err != nil {
		return fmt.Errorf("refetch snapshots: %w", err)
	}
	entries := make(map[string]*entry, len(snaps))
	order := make([]string, 0, len(snaps))
	for _, s := range snaps {
		if s == nil {
			continue
		}
		if _, dup := entries[s.ID]; !dup {
			order = append(order, s.ID)
		}
		entries[s.ID] = &entry{snapshot: s.Clone(), pending: map[domain.StatusCategory]bool{}}
	}

	c.mu.Lock()
	c.entries = entries
	c.order = order
	c.mu.Unlock()

	c.notify("")
	return nil
}

// ApplyInbound applies one realtime event. Re-applying an event is a no-op.
func (c *Cache) ApplyInbound(ctx context.Context, env domain.Envelope) error {
	switch env.Type {
	case domain.EventStatusUpdated:
		var data domain.StatusUpdatedData
		if err := env.Decode(&data); err != nil {
			return apperrors.ErrMalformedEventf(err)
		}
		if data.ID == "" {
			return apperrors.ErrMalformedEventf(errors.New("STATUS_UPDATED without entity id"))
		}
		c.upsert(&data)
		c.notify(data.ID)
	case domain.EventStatusCreated, domain.EventStatusDeleted:
		return c.Refetch(ctx)
	case domain.EventProjectUpdated:
		var data domain.ProjectUpdatedData
		if err := env.Decode(&data); err != nil {
			return apperrors.ErrMalformedEventf(err)
		}
		c.mu.Lock()
		e, ok := c.entries[data.EntityID]
		if ok {
			e.snapshot.OverallStatus = data.OverallStatus
			if data.Timestamp.After(e.snapshot.UpdatedAt) {
				e.snapshot.UpdatedAt = data.Timestamp
			}
		}
		c.mu.Unlock()
		if ok {
			c.notify(data.EntityID)
		}
	}
	return nil
}

// OptimisticUpdate shows m immediately, then submits it. On failure the
// category is restored exactly as it was and the error is returned.
func (c *Cache) OptimisticUpdate(ctx context.Context, m Mutation) (*domain.ProjectSnapshot, error) {
	prev, err := c.applyLocal(m)
	if err != nil {
		return nil, err
	}
	c.notify(m.EntityID)

	result, err := c.updater.UpdateStatus(ctx, m)
	if err != nil {
		c.restore([]previousValue{prev})
		c.notify(m.EntityID)
		return nil, err
	}
	c.upsert(result)
	c.notify(m.EntityID)
	snap, _ := c.Get(m.EntityID)
	return snap, nil
}

// OptimisticBatch shows every mutation immediately and submits them in one
// request. A failure returns *BatchError and keeps the local values.
func (c *Cache) OptimisticBatch(ctx context.Context, ms []Mutation) ([]*domain.ProjectSnapshot, error) {
	previous := make([]previousValue, 0, len(ms))
	for _, m := range ms {
		prev, err := c.applyLocal(m)
		if err != nil {
			c.restore(previous)
			return nil, err
		}
		previous = append(previous, prev)
	}
	for _, m := range ms {
		c.notify(m.EntityID)
	}

	results, err := c.updater.UpdateStatusBatch(ctx, ms)
	if err != nil {
		return nil, &BatchError{Err: err, Mutations: ms, previous: previous}
	}
	out := make([]*domain.ProjectSnapshot, 0, len(results))
	for _, r := range results {
		c.upsert(r)
		c.notify(r.ID)
		if snap, ok := c.Get(r.ID); ok {
			out = append(out, snap)
		}
	}
	return out, nil
}

// Revert undoes the optimistic values of a failed batch.
func (c *Cache) Revert(be *BatchError) {
	c.restore(be.previous)
	for _, m := range be.Mutations {
		c.notify(m.EntityID)
	}
}

func (c *Cache) applyLocal(m Mutation) (previousValue, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[m.EntityID]
	if !ok {
		return previousValue{}, apperrors.ErrProjectNotFoundf(m.EntityID)
	}
	prev := previousValue{entityID: m.EntityID, category: m.Category}
	if r, ok := e.snapshot.Statuses[m.Category]; ok {
		cp := *r
		prev.record, prev.present = &cp, true
	}
	if e.snapshot.Statuses == nil {
		e.snapshot.Statuses = make(map[domain.StatusCategory]*domain.StatusUpdateRecord)
	}
	rec := &domain.StatusUpdateRecord{
		ProjectID: m.EntityID,
		Category:  m.Category,
		Value:     m.Value,
		CreatedAt: c.now().UTC(),
	}
	if m.Delivery != nil || m.Reason != "" {
		rec.Extra = &domain.StatusExtra{Delivery: m.Delivery, Reason: m.Reason}
	}
	e.snapshot.Statuses[m.Category] = rec
	e.pending[m.Category] = true
	return prev, nil
}

// restore puts previous values back in reverse order so a category touched
// twice ends at its oldest value.
func (c *Cache) restore(previous []previousValue) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := len(previous) - 1; i >= 0; i-- {
		p := previous[i]
		e, ok := c.entries[p.entityID]
		if !ok {
			continue
		}
		if p.present {
			cp := *p.record
			e.snapshot.Statuses[p.category] = &cp
		} else {
			delete(e.snapshot.Statuses, p.category)
		}
		delete(e.pending, p.category)
	}
}

func (c *Cache) upsert(data *domain.StatusUpdatedData) {
	if data == nil {
		return
	}
	snap := data.ProjectSnapshot.Clone()

	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[snap.ID]
	if !ok {
		e = &entry{pending: map[domain.StatusCategory]bool{}}
		c.entries[snap.ID] = e
		c.order = append(c.order, snap.ID)
	}
	e.snapshot = snap
	if r := data.LastUpdate; r != nil {
		delete(e.pending, r.Category)
		if !containsRecord(e.history, r.ID) {
			cp := *r
			e.history = append([]*domain.StatusUpdateRecord{&cp}, e.history...)
		}
	}
}

func containsRecord(history []*domain.StatusUpdateRecord, id string) bool {
	for _, r := range history {
		if r.ID == id {
			return true
		}
	}
	return false
}

func (c *Cache) notify(entityID string) {
	c.lmu.RLock()
	listeners := append([]func(string){}, c.listeners...)
	c.lmu.RUnlock()
	for _, fn := range listeners {
		fn(entityID)
	}
}
