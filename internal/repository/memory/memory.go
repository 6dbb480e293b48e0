// Package memory implements the repositories in process memory. It backs the
// default single-node setup and the tests.
package memory

import (
	"context"
	"sort"
	"sync"

	"fabtrack.io/tracker/internal/domain"
	apperrors "fabtrack.io/tracker/internal/pkg/errors"
	"fabtrack.io/tracker/internal/repository"
)

// NewStore returns an empty in-memory store.
func NewStore() *repository.Store {
	return &repository.Store{
		Projects: NewProjectRepository(),
		Statuses: NewStatusRepository(),
		Close:    func() {},
	}
}

// ProjectRepository keeps projects in a map. Values are copied on the way in
// and out.
type ProjectRepository struct {
	mu       sync.RWMutex
	projects map[string]domain.Project
}

// NewProjectRepository creates an empty repository.
func NewProjectRepository() *ProjectRepository {
	return &ProjectRepository{projects: make(map[string]domain.Project)}
}

// Create implements repository.ProjectRepository.
func (r *ProjectRepository) Create(_ context.Context, p *domain.Project) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.projects[p.ID]; ok {
		return apperrors.ErrProjectExistsf(p.ID)
	}
	r.projects[p.ID] = *p
	return nil
}

// FindByID implements repository.ProjectRepository.
func (r *ProjectRepository) FindByID(_ context.Context, id string) (*domain.Project, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.projects[id]
	if !ok {
		return nil, apperrors.ErrProjectNotFoundf(id)
	}
	return &p, nil
}

// FindAll implements repository.ProjectRepository.
func (r *ProjectRepository) FindAll(_ context.Context) ([]*domain.Project, error) {
	r.mu.RLock()
	out := make([]*domain.Project, 0, len(r.projects))
	for _, p := range r.projects {
		p := p
		out = append(out, &p)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

// Update implements repository.ProjectRepository.
func (r *ProjectRepository) Update(_ context.Context, p *domain.Project) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.projects[p.ID]; !ok {
		return apperrors.ErrProjectNotFoundf(p.ID)
	}
	r.projects[p.ID] = *p
	return nil
}

// StatusRepository keeps the history as an insertion-ordered slice.
type StatusRepository struct {
	mu      sync.RWMutex
	records []domain.StatusUpdateRecord
	byID    map[string]int
}

// NewStatusRepository creates an empty repository.
func NewStatusRepository() *StatusRepository {
	return &StatusRepository{byID: make(map[string]int)}
}

// Create implements repository.StatusRepository.
func (r *StatusRepository) Create(_ context.Context, rec *domain.StatusUpdateRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byID[rec.ID]; ok {
		return apperrors.Conflict(apperrors.CodeStatusExists, "status update id already used")
	}
	r.byID[rec.ID] = len(r.records)
	r.records = append(r.records, *rec)
	return nil
}

// FindByID implements repository.StatusRepository.
func (r *StatusRepository) FindByID(_ context.Context, id string) (*domain.StatusUpdateRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	i, ok := r.byID[id]
	if !ok {
		return nil, apperrors.ErrStatusNotFoundf(id)
	}
	rec := r.records[i]
	return &rec, nil
}

// FindAll implements repository.StatusRepository.
func (r *StatusRepository) FindAll(_ context.Context, f domain.StatusFilter) ([]*domain.StatusUpdateRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*domain.StatusUpdateRecord
	for i := len(r.records) - 1; i >= 0; i-- {
		rec := r.records[i]
		if f.ProjectID != "" && rec.ProjectID != f.ProjectID {
			continue
		}
		if f.Category != "" && rec.Category != f.Category {
			continue
		}
		out = append(out, &rec)
	}
	// Insertion order is already newest-first for equal timestamps.
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

// Latest implements repository.StatusRepository.
func (r *StatusRepository) Latest(_ context.Context, projectID string, category domain.StatusCategory) (*domain.StatusUpdateRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.latestLocked(projectID, category), nil
}

// LatestAll implements repository.StatusRepository.
func (r *StatusRepository) LatestAll(_ context.Context, projectID string) (map[domain.StatusCategory]*domain.StatusUpdateRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[domain.StatusCategory]*domain.StatusUpdateRecord)
	for _, cat := range domain.Categories() {
		if rec := r.latestLocked(projectID, cat); rec != nil {
			out[cat] = rec
		}
	}
	return out, nil
}

func (r *StatusRepository) latestLocked(projectID string, category domain.StatusCategory) *domain.StatusUpdateRecord {
	best := -1
	for i, rec := range r.records {
		if rec.ProjectID != projectID || rec.Category != category {
			continue
		}
		if best < 0 || !rec.CreatedAt.Before(r.records[best].CreatedAt) {
			best = i
		}
	}
	if best < 0 {
		return nil
	}
	rec := r.records[best]
	return &rec
}
