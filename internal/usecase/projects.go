package usecase

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"fabtrack.io/tracker/internal/domain"
	apperrors "fabtrack.io/tracker/internal/pkg/errors"
	"fabtrack.io/tracker/internal/pkg/logger"
	"fabtrack.io/tracker/internal/repository"
)

// CreateProjectInput represents the input for creating a project.
type CreateProjectInput struct {
	// ID is optional; a UUIDv7 is generated when empty.
	ID    string
	Name  string
	Actor domain.Identity
}

// ProjectUseCase creates projects and serves snapshot reads.
type ProjectUseCase struct {
	projects    repository.ProjectRepository
	statuses    repository.StatusRepository
	broadcaster Broadcaster
	now         func() time.Time
}

// NewProjectUseCase creates a new ProjectUseCase.
func NewProjectUseCase(projects repository.ProjectRepository, statuses repository.StatusRepository, broadcaster Broadcaster) *ProjectUseCase {
	return &ProjectUseCase{
		projects:    projects,
		statuses:    statuses,
		broadcaster: broadcaster,
		now:         time.Now,
	}
}

// Create stores a new ACTIVE project and announces it with STATUS_CREATED.
func (uc *ProjectUseCase) Create(ctx context.Context, input CreateProjectInput) (*domain.Project, error) {
	name := strings.TrimSpace(input.Name)
	if name == "" {
		return nil, apperrors.BadRequest(apperrors.CodeInvalidRequestField, "project name is required").
			WithParam("field", "name")
	}

	id := strings.TrimSpace(input.ID)
	if id == "" {
		v7, err := uuid.NewV7()
		if err != nil {
			return nil, fmt.Errorf("generate project id: %w", err)
		}
		id = v7.String()
	}

	now := uc.now().UTC().Truncate(time.Microsecond)
	p := &domain.Project{
		ID:            id,
		Name:          name,
		OverallStatus: domain.OverallStatusActive,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := uc.projects.Create(ctx, p); err != nil {
		return nil, err
	}

	logger.Info("Project created",
		zap.String("project_id", p.ID),
		zap.String("actor", input.Actor.UserID),
	)
	uc.broadcaster.PublishEntityCreated(domain.EntityRefData{ID: p.ID, Name: p.Name})
	return p, nil
}

// Snapshot returns the project with the latest record of each category.
func (uc *ProjectUseCase) Snapshot(ctx context.Context, id string) (*domain.ProjectSnapshot, error) {
	p, err := uc.projects.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	latest, err := uc.statuses.LatestAll(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load statuses of %s: %w", id, err)
	}
	return domain.NewProjectSnapshot(p, latest), nil
}

// ListSnapshots returns a snapshot of every project, oldest first.
func (uc *ProjectUseCase) ListSnapshots(ctx context.Context) ([]*domain.ProjectSnapshot, error) {
	projects, err := uc.projects.FindAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}
	out := make([]*domain.ProjectSnapshot, 0, len(projects))
	for _, p := range projects {
		latest, err := uc.statuses.LatestAll(ctx, p.ID)
		if err != nil {
			return nil, fmt.Errorf("load statuses of %s: %w", p.ID, err)
		}
		out = append(out, domain.NewProjectSnapshot(p, latest))
	}
	return out, nil
}

// History returns a project's records, newest first. The project must exist.
func (uc *ProjectUseCase) History(ctx context.Context, projectID string, category domain.StatusCategory, limit int) ([]*domain.StatusUpdateRecord, error) {
	if _, err := uc.projects.FindByID(ctx, projectID); err != nil {
		return nil, err
	}
	records, err := uc.statuses.FindAll(ctx, domain.StatusFilter{
		ProjectID: projectID,
		Category:  category,
		Limit:     limit,
	})
	if err != nil {
		return nil, fmt.Errorf("load history of %s: %w", projectID, err)
	}
	return records, nil
}
