// Package postgres implements the repositories on PostgreSQL through pgx.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"fabtrack.io/tracker/internal/domain"
	apperrors "fabtrack.io/tracker/internal/pkg/errors"
	"fabtrack.io/tracker/internal/repository"
)

const uniqueViolation = "23505"

const schemaSQL = `
CREATE TABLE IF NOT EXISTS projects (
	id             TEXT PRIMARY KEY,
	name           TEXT NOT NULL,
	overall_status TEXT NOT NULL DEFAULT 'ACTIVE',
	created_at     TIMESTAMPTZ NOT NULL,
	updated_at     TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS status_updates (
	seq        BIGSERIAL,
	id         TEXT PRIMARY KEY,
	project_id TEXT NOT NULL REFERENCES projects (id) ON DELETE CASCADE,
	category   TEXT NOT NULL,
	value      TEXT NOT NULL,
	actor_id   TEXT NOT NULL,
	actor_name TEXT NOT NULL DEFAULT '',
	extra      JSONB,
	created_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS status_updates_latest_idx
	ON status_updates (project_id, category, created_at DESC, seq DESC);
`

// Migrate creates the tables when they do not exist.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("create status schema: %w", err)
	}
	return nil
}

// NewStore returns repositories over pool. Closing the store does not close
// the pool, which is owned by the caller.
func NewStore(pool *pgxpool.Pool) *repository.Store {
	return &repository.Store{
		Projects: NewProjectRepository(pool),
		Statuses: NewStatusRepository(pool),
		Close:    func() {},
	}
}

// ProjectRepository stores projects in the projects table.
type ProjectRepository struct {
	pool *pgxpool.Pool
}

// NewProjectRepository creates a ProjectRepository.
func NewProjectRepository(pool *pgxpool.Pool) *ProjectRepository {
	return &ProjectRepository{pool: pool}
}

const projectColumns = `id, name, overall_status, created_at, updated_at`

// Create implements repository.ProjectRepository.
func (r *ProjectRepository) Create(ctx context.Context, p *domain.Project) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO projects (`+projectColumns+`) VALUES ($1, $2, $3, $4, $5)`,
		p.ID, p.Name, string(p.OverallStatus), p.CreatedAt, p.UpdatedAt)
	if isUniqueViolation(err) {
		return apperrors.ErrProjectExistsf(p.ID)
	}
	if err != nil {
		return fmt.Errorf("insert project %s: %w", p.ID, err)
	}
	return nil
}

// FindByID implements repository.ProjectRepository.
func (r *ProjectRepository) FindByID(ctx context.Context, id string) (*domain.Project, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+projectColumns+` FROM projects WHERE id = $1`, id)
	p, err := scanProject(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperrors.ErrProjectNotFoundf(id)
	}
	if err != nil {
		return nil, fmt.Errorf("query project %s: %w", id, err)
	}
	return p, nil
}

// FindAll implements repository.ProjectRepository.
func (r *ProjectRepository) FindAll(ctx context.Context) ([]*domain.Project, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+projectColumns+` FROM projects ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("query projects: %w", err)
	}
	defer rows.Close()

	var out []*domain.Project
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, fmt.Errorf("scan project: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// Update implements repository.ProjectRepository.
func (r *ProjectRepository) Update(ctx context.Context, p *domain.Project) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE projects SET name = $2, overall_status = $3, updated_at = $4 WHERE id = $1`,
		p.ID, p.Name, string(p.OverallStatus), p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update project %s: %w", p.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.ErrProjectNotFoundf(p.ID)
	}
	return nil
}

func scanProject(row pgx.Row) (*domain.Project, error) {
	var (
		p      domain.Project
		status string
	)
	if err := row.Scan(&p.ID, &p.Name, &status, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, err
	}
	p.OverallStatus = domain.OverallStatus(status)
	p.CreatedAt = p.CreatedAt.UTC()
	p.UpdatedAt = p.UpdatedAt.UTC()
	return &p, nil
}

// StatusRepository stores records in the status_updates table.
type StatusRepository struct {
	pool *pgxpool.Pool
}

// NewStatusRepository creates a StatusRepository.
func NewStatusRepository(pool *pgxpool.Pool) *StatusRepository {
	return &StatusRepository{pool: pool}
}

const statusColumns = `id, project_id, category, value, actor_id, actor_name, extra, created_at`

// Create implements repository.StatusRepository.
func (r *StatusRepository) Create(ctx context.Context, rec *domain.StatusUpdateRecord) error {
	var extra []byte
	if rec.Extra != nil {
		var err error
		if extra, err = json.Marshal(rec.Extra); err != nil {
			return fmt.Errorf("encode status extra: %w", err)
		}
	}
	_, err := r.pool.Exec(ctx,
		`INSERT INTO status_updates (`+statusColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		rec.ID, rec.ProjectID, string(rec.Category), rec.Value, rec.ActorID, rec.ActorName, extra, rec.CreatedAt)
	if isUniqueViolation(err) {
		return apperrors.Conflict(apperrors.CodeStatusExists, "status update id already used")
	}
	if err != nil {
		return fmt.Errorf("insert status update %s: %w", rec.ID, err)
	}
	return nil
}

// FindByID implements repository.StatusRepository.
func (r *StatusRepository) FindByID(ctx context.Context, id string) (*domain.StatusUpdateRecord, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+statusColumns+` FROM status_updates WHERE id = $1`, id)
	rec, err := scanStatus(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperrors.ErrStatusNotFoundf(id)
	}
	if err != nil {
		return nil, fmt.Errorf("query status update %s: %w", id, err)
	}
	return rec, nil
}

// FindAll implements repository.StatusRepository.
func (r *StatusRepository) FindAll(ctx context.Context, f domain.StatusFilter) ([]*domain.StatusUpdateRecord, error) {
	var (
		where []string
		args  []any
	)
	if f.ProjectID != "" {
		args = append(args, f.ProjectID)
		where = append(where, fmt.Sprintf("project_id = $%d", len(args)))
	}
	if f.Category != "" {
		args = append(args, string(f.Category))
		where = append(where, fmt.Sprintf("category = $%d", len(args)))
	}

	q := `SELECT ` + statusColumns + ` FROM status_updates`
	if len(where) > 0 {
		q += ` WHERE ` + strings.Join(where, " AND ")
	}
	q += ` ORDER BY created_at DESC, seq DESC`
	if f.Limit > 0 {
		args = append(args, f.Limit)
		q += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := r.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query status history: %w", err)
	}
	defer rows.Close()

	var out []*domain.StatusUpdateRecord
	for rows.Next() {
		rec, err := scanStatus(rows)
		if err != nil {
			return nil, fmt.Errorf("scan status update: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Latest implements repository.StatusRepository.
func (r *StatusRepository) Latest(ctx context.Context, projectID string, category domain.StatusCategory) (*domain.StatusUpdateRecord, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+statusColumns+` FROM status_updates
		 WHERE project_id = $1 AND category = $2
		 ORDER BY created_at DESC, seq DESC LIMIT 1`,
		projectID, string(category))
	rec, err := scanStatus(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query latest %s status of %s: %w", category, projectID, err)
	}
	return rec, nil
}

// LatestAll implements repository.StatusRepository.
func (r *StatusRepository) LatestAll(ctx context.Context, projectID string) (map[domain.StatusCategory]*domain.StatusUpdateRecord, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT DISTINCT ON (category) `+statusColumns+` FROM status_updates
		 WHERE project_id = $1
		 ORDER BY category, created_at DESC, seq DESC`,
		projectID)
	if err != nil {
		return nil, fmt.Errorf("query latest statuses of %s: %w", projectID, err)
	}
	defer rows.Close()

	out := make(map[domain.StatusCategory]*domain.StatusUpdateRecord)
	for rows.Next() {
		rec, err := scanStatus(rows)
		if err != nil {
			return nil, fmt.Errorf("scan status update: %w", err)
		}
		out[rec.Category] = rec
	}
	return out, rows.Err()
}

func scanStatus(row pgx.Row) (*domain.StatusUpdateRecord, error) {
	var (
		rec      domain.StatusUpdateRecord
		category string
		extra    []byte
	)
	if err := row.Scan(&rec.ID, &rec.ProjectID, &category, &rec.Value, &rec.ActorID, &rec.ActorName, &extra, &rec.CreatedAt); err != nil {
		return nil, err
	}
	rec.Category = domain.StatusCategory(category)
	rec.CreatedAt = rec.CreatedAt.UTC()
	if len(extra) > 0 {
		rec.Extra = &domain.StatusExtra{}
		if err := json.Unmarshal(extra, rec.Extra); err != nil {
			return nil, fmt.Errorf("decode status extra: %w", err)
		}
	}
	return &rec, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}
