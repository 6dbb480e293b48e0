// Package repository defines the persistence boundary of the status service.
//
// Implementations live in the memory and postgres subpackages. Lookups of a
// missing id return an *errors.AppError wrapping errors.ErrNotFound.
package repository

import (
	"context"

	"fabtrack.io/tracker/internal/domain"
)

// ProjectRepository stores projects.
type ProjectRepository interface {
	Create(ctx context.Context, p *domain.Project) error
	FindByID(ctx context.Context, id string) (*domain.Project, error)
	// FindAll returns every project, oldest first.
	FindAll(ctx context.Context) ([]*domain.Project, error)
	Update(ctx context.Context, p *domain.Project) error
}

// StatusRepository stores the append-only status history.
type StatusRepository interface {
	Create(ctx context.Context, rec *domain.StatusUpdateRecord) error
	FindByID(ctx context.Context, id string) (*domain.StatusUpdateRecord, error)
	// FindAll returns matching records, newest first.
	FindAll(ctx context.Context, filter domain.StatusFilter) ([]*domain.StatusUpdateRecord, error)
	// Latest returns the newest record of a category, or nil when the
	// category was never set. Ties on CreatedAt go to the later insert.
	Latest(ctx context.Context, projectID string, category domain.StatusCategory) (*domain.StatusUpdateRecord, error)
	// LatestAll returns the newest record of every category that was set.
	LatestAll(ctx context.Context, projectID string) (map[domain.StatusCategory]*domain.StatusUpdateRecord, error)
}

// Store bundles the repositories of one backend.
type Store struct {
	Projects ProjectRepository
	Statuses StatusRepository
	// Close releases backend resources. Never nil.
	Close func()
}
