// Package usecase provides the application use cases of the status service.
//
// Use cases are transport-agnostic: the HTTP handlers, the seed command and
// the tests all drive them directly.
package usecase

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"fabtrack.io/tracker/internal/domain"
	apperrors "fabtrack.io/tracker/internal/pkg/errors"
	"fabtrack.io/tracker/internal/pkg/logger"
	"fabtrack.io/tracker/internal/pkg/metrics"
	"fabtrack.io/tracker/internal/repository"
	"fabtrack.io/tracker/internal/service"
)

// Authorizer decides whether a role may update a category.
type Authorizer interface {
	IsAuthorized(role domain.Role, category domain.StatusCategory) bool
}

// Broadcaster hands committed changes to the realtime layer. Publishing never
// blocks on slow consumers.
type Broadcaster interface {
	PublishStatusUpdate(ev domain.StatusUpdatedData)
	PublishEntityUpdate(ev domain.ProjectUpdatedData)
	PublishEntityCreated(ref domain.EntityRefData)
}

// CompletionNotifier is told when a CHECK update completes a project.
type CompletionNotifier interface {
	NotifyProjectCompleted(ctx context.Context, project *domain.Project, actor domain.Identity) error
}

// UpdateStatusInput is one status change request.
type UpdateStatusInput struct {
	ProjectID string
	Category  domain.StatusCategory
	Actor     domain.Identity
	// Proposal holds the structured change. When it has no primary or
	// secondary, Value is parsed into one and Proposal.Delivery is kept.
	Proposal service.Proposal
	Value    string
	Reason   string
}

// BatchItem is one entry of a batch update. The actor is shared.
type BatchItem struct {
	ProjectID string
	Category  domain.StatusCategory
	Proposal  service.Proposal
	Value     string
	Reason    string
}

// UpdateStatusUseCase validates, persists and broadcasts status changes.
type UpdateStatusUseCase struct {
	projects    repository.ProjectRepository
	statuses    repository.StatusRepository
	validator   *service.TransitionValidator
	authz       Authorizer
	broadcaster Broadcaster
	locker      service.Locker
	notifier    CompletionNotifier
	now         func() time.Time
}

// NewUpdateStatusUseCase creates a new UpdateStatusUseCase.
func NewUpdateStatusUseCase(
	projects repository.ProjectRepository,
	statuses repository.StatusRepository,
	validator *service.TransitionValidator,
	authz Authorizer,
	broadcaster Broadcaster,
) *UpdateStatusUseCase {
	return &UpdateStatusUseCase{
		projects:    projects,
		statuses:    statuses,
		validator:   validator,
		authz:       authz,
		broadcaster: broadcaster,
		locker:      service.NoopLocker{},
		now:         time.Now,
	}
}

// WithLocker serializes updates per (project, category) through l.
func (uc *UpdateStatusUseCase) WithLocker(l service.Locker) *UpdateStatusUseCase {
	uc.locker = l
	return uc
}

// WithCompletionNotifier sets the notifier (optional dependency).
func (uc *UpdateStatusUseCase) WithCompletionNotifier(n CompletionNotifier) *UpdateStatusUseCase {
	uc.notifier = n
	return uc
}

// WithClock replaces the time source.
func (uc *UpdateStatusUseCase) WithClock(now func() time.Time) *UpdateStatusUseCase {
	uc.now = now
	return uc
}

// plan is a validated change waiting to be written.
type plan struct {
	project  *domain.Project
	category domain.StatusCategory
	proposal service.Proposal
	value    string
	reason   string
	// floor is the CreatedAt the new record must exceed.
	floor time.Time
}

// Execute runs a single status update: authorize, load, validate, persist,
// apply the CHECK side effect and broadcast.
func (uc *UpdateStatusUseCase) Execute(ctx context.Context, input UpdateStatusInput) (*domain.StatusUpdateRecord, error) {
	start := uc.now()
	item := BatchItem{
		ProjectID: input.ProjectID,
		Category:  input.Category,
		Proposal:  input.Proposal,
		Value:     input.Value,
		Reason:    input.Reason,
	}

	if err := uc.authorize(input.Actor, item.Category); err != nil {
		metrics.StatusUpdatesTotal.WithLabelValues(string(item.Category), "forbidden").Inc()
		return nil, err
	}

	release, err := uc.locker.Lock(ctx, service.LockKey(item.ProjectID, item.Category))
	if err != nil {
		return nil, err
	}
	defer release()

	p, err := uc.prepare(ctx, item, newBatchState())
	if err != nil {
		metrics.StatusUpdatesTotal.WithLabelValues(string(item.Category), outcomeOf(err)).Inc()
		return nil, err
	}

	rec, err := uc.commit(ctx, p, input.Actor)
	if err != nil {
		metrics.StatusUpdatesTotal.WithLabelValues(string(item.Category), "error").Inc()
		return nil, err
	}

	metrics.StatusUpdatesTotal.WithLabelValues(string(item.Category), "accepted").Inc()
	metrics.StatusUpdateDuration.WithLabelValues(string(item.Category)).Observe(uc.now().Sub(start).Seconds())
	return rec, nil
}

// ExecuteBatch validates every item against current state before writing
// any. A rejection fails the whole batch with no writes. Items are then
// written in order; a store failure part-way leaves earlier items written.
func (uc *UpdateStatusUseCase) ExecuteBatch(ctx context.Context, actor domain.Identity, items []BatchItem) ([]*domain.StatusUpdateRecord, error) {
	if len(items) == 0 {
		return nil, apperrors.BadRequest(apperrors.CodeStatusBatchEmpty, "batch has no items")
	}

	for i, item := range items {
		if err := uc.authorize(actor, item.Category); err != nil {
			return nil, withIndex(err, i)
		}
	}

	keys := make([]string, 0, len(items))
	seen := make(map[string]bool, len(items))
	for _, item := range items {
		key := service.LockKey(item.ProjectID, item.Category)
		if !seen[key] {
			seen[key] = true
			keys = append(keys, key)
		}
	}
	// Fixed order so two overlapping batches cannot deadlock.
	sort.Strings(keys)
	for _, key := range keys {
		release, err := uc.locker.Lock(ctx, key)
		if err != nil {
			return nil, err
		}
		defer release()
	}

	state := newBatchState()
	plans := make([]*plan, 0, len(items))
	for i, item := range items {
		p, err := uc.prepare(ctx, item, state)
		if err != nil {
			metrics.StatusUpdatesTotal.WithLabelValues(string(item.Category), outcomeOf(err)).Inc()
			return nil, withIndex(err, i)
		}
		state.pending[service.LockKey(item.ProjectID, item.Category)] = p
		plans = append(plans, p)
	}

	records := make([]*domain.StatusUpdateRecord, 0, len(plans))
	last := make(map[string]time.Time, len(plans))
	for i, p := range plans {
		key := service.LockKey(p.project.ID, p.category)
		if t, ok := last[key]; ok && t.After(p.floor) {
			p.floor = t
		}
		rec, err := uc.commit(ctx, p, actor)
		if err != nil {
			return records, withIndex(err, i)
		}
		last[key] = rec.CreatedAt
		metrics.StatusUpdatesTotal.WithLabelValues(string(p.category), "accepted").Inc()
		records = append(records, rec)
	}
	return records, nil
}

func (uc *UpdateStatusUseCase) authorize(actor domain.Identity, category domain.StatusCategory) error {
	if !category.Valid() {
		return apperrors.Invalid(apperrors.CodeStatusCategoryInvalid,
			fmt.Sprintf("unknown status category %q", category))
	}
	if !uc.authz.IsAuthorized(actor.Role, category) {
		return apperrors.ErrCategoryForbiddenf(string(actor.Role), string(category))
	}
	return nil
}

// batchState carries what earlier items of a batch have planned. Items of
// one project share a *domain.Project so a completion is seen by later items.
type batchState struct {
	pending  map[string]*plan
	projects map[string]*domain.Project
}

func newBatchState() *batchState {
	return &batchState{
		pending:  make(map[string]*plan),
		projects: make(map[string]*domain.Project),
	}
}

// prepare loads the project and current value and validates the change.
// A later item on the same key validates against the earlier item's value.
func (uc *UpdateStatusUseCase) prepare(ctx context.Context, item BatchItem, state *batchState) (*plan, error) {
	project, ok := state.projects[item.ProjectID]
	if !ok {
		var err error
		project, err = uc.projects.FindByID(ctx, item.ProjectID)
		if err != nil {
			return nil, err
		}
		state.projects[item.ProjectID] = project
	}

	var err error
	proposal := item.Proposal
	// A display value may travel with delivery details and no primary.
	if proposal.Primary == "" && proposal.Secondary == "" && item.Value != "" {
		delivery := proposal.Delivery
		proposal, err = uc.validator.ParseValue(item.Category, item.Value)
		if err != nil {
			return nil, apperrors.ErrTransitionInvalidf(string(item.Category), err.Error())
		}
		if delivery != nil {
			proposal.Delivery = delivery
		}
	}

	var (
		current *string
		floor   time.Time
	)
	if prev, ok := state.pending[service.LockKey(item.ProjectID, item.Category)]; ok {
		current = &prev.value
		floor = prev.floor
	} else {
		latest, err := uc.statuses.Latest(ctx, item.ProjectID, item.Category)
		if err != nil {
			return nil, fmt.Errorf("load current %s status: %w", item.Category, err)
		}
		if latest != nil {
			current = &latest.Value
			floor = latest.CreatedAt
		}
	}

	res := uc.validator.Validate(item.Category, current, proposal)
	if !res.Valid {
		return nil, apperrors.ErrTransitionInvalidf(string(item.Category), res.Reason)
	}

	return &plan{
		project:  project,
		category: item.Category,
		proposal: proposal,
		value:    res.Value,
		reason:   item.Reason,
		floor:    floor,
	}, nil
}

// commit writes the record and hands the result to the broadcaster.
func (uc *UpdateStatusUseCase) commit(ctx context.Context, p *plan, actor domain.Identity) (*domain.StatusUpdateRecord, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("generate status id: %w", err)
	}

	createdAt := uc.now().UTC().Truncate(time.Microsecond)
	if !createdAt.After(p.floor) {
		createdAt = p.floor.Add(time.Microsecond)
	}

	rec := &domain.StatusUpdateRecord{
		ID:        id.String(),
		ProjectID: p.project.ID,
		Category:  p.category,
		Value:     p.value,
		ActorID:   actor.UserID,
		ActorName: actor.Username,
		Extra: &domain.StatusExtra{
			Primary:   p.proposal.Primary,
			Secondary: p.proposal.Secondary,
			Delivery:  p.proposal.Delivery,
			Reason:    p.reason,
		},
		CreatedAt: createdAt,
	}
	if err := uc.statuses.Create(ctx, rec); err != nil {
		return nil, fmt.Errorf("persist status update: %w", err)
	}
	p.floor = createdAt

	completed := false
	if p.category == domain.CategoryCheck && rec.Value != "" && p.project.OverallStatus != domain.OverallStatusCompleted {
		p.project.OverallStatus = domain.OverallStatusCompleted
		p.project.UpdatedAt = createdAt
		if err := uc.projects.Update(ctx, p.project); err != nil {
			return nil, fmt.Errorf("complete project %s: %w", p.project.ID, err)
		}
		completed = true
	}

	logger.Info("Status updated",
		zap.String("project_id", rec.ProjectID),
		zap.String("category", string(rec.Category)),
		zap.String("value", rec.Value),
		zap.String("actor", actor.UserID),
		zap.Bool("completed", completed),
	)

	uc.broadcast(ctx, p.project, rec, actor, completed)
	return rec, nil
}

func (uc *UpdateStatusUseCase) broadcast(ctx context.Context, project *domain.Project, rec *domain.StatusUpdateRecord, actor domain.Identity, completed bool) {
	latest, err := uc.statuses.LatestAll(ctx, project.ID)
	if err != nil {
		// The record is committed; subscribers catch up on their next fetch.
		logger.Warn("Skipping status broadcast: snapshot load failed",
			zap.String("project_id", project.ID),
			zap.Error(err),
		)
	} else {
		latest[rec.Category] = rec
		uc.broadcaster.PublishStatusUpdate(domain.StatusUpdatedData{
			ProjectSnapshot: *domain.NewProjectSnapshot(project, latest),
			LastUpdate:      rec,
		})
	}

	if !completed {
		return
	}
	uc.broadcaster.PublishEntityUpdate(domain.ProjectUpdatedData{
		EntityID:      project.ID,
		EntityName:    project.Name,
		OverallStatus: project.OverallStatus,
		UpdatedBy:     actor.Username,
		Timestamp:     rec.CreatedAt,
	})
	if uc.notifier != nil {
		if err := uc.notifier.NotifyProjectCompleted(ctx, project, actor); err != nil {
			logger.Warn("Project completion notification failed",
				zap.String("project_id", project.ID),
				zap.Error(err),
			)
		}
	}
}

func withIndex(err error, i int) error {
	if appErr, ok := apperrors.IsAppError(err); ok {
		return appErr.WithParam("index", i)
	}
	return fmt.Errorf("batch item %d: %w", i, err)
}

func outcomeOf(err error) string {
	switch apperrors.CodeOf(err) {
	case apperrors.CodeStatusTransitionInvalid:
		return "rejected"
	case apperrors.CodeProjectNotFound:
		return "not_found"
	case "":
		return "error"
	default:
		return "invalid"
	}
}
