// Package handlers implements the tracker's HTTP API.
//
// Handlers report failures with c.Error and leave the response body to
// middleware.ErrorHandler. Route registration lives in internal/app.
package handlers

import (
	"context"

	"fabtrack.io/tracker/internal/api/middleware"
	"fabtrack.io/tracker/internal/domain"
	apperrors "fabtrack.io/tracker/internal/pkg/errors"
	"fabtrack.io/tracker/internal/pkg/worker"
	"fabtrack.io/tracker/internal/realtime"
	"fabtrack.io/tracker/internal/usecase"
)

// Pinger reports whether a backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Server holds the dependencies of every handler.
type Server struct {
	projects *usecase.ProjectUseCase
	status   *usecase.UpdateStatusUseCase
	presence *realtime.SessionManager
	pools    *worker.Pools
	db       Pinger
}

// ServerDeps holds all dependencies for creating a Server.
type ServerDeps struct {
	Projects *usecase.ProjectUseCase
	Status   *usecase.UpdateStatusUseCase
	Presence *realtime.SessionManager
	Pools    *worker.Pools
	// DB is nil with the in-memory store.
	DB Pinger
}

// NewServer creates a new Server with all dependencies.
func NewServer(deps ServerDeps) *Server {
	return &Server{
		projects: deps.Projects,
		status:   deps.Status,
		presence: deps.Presence,
		pools:    deps.Pools,
		db:       deps.DB,
	}
}

// actorFromCtx returns the identity set by middleware.JWTAuth.
func actorFromCtx(ctx context.Context) (domain.Identity, error) {
	identity, ok := middleware.GetIdentity(ctx)
	if !ok {
		return domain.Identity{}, apperrors.Unauthorized(apperrors.CodeAuthFailed, "authentication required")
	}
	return identity, nil
}
