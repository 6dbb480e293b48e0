package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"fabtrack.io/tracker/internal/domain"
	apperrors "fabtrack.io/tracker/internal/pkg/errors"
	"fabtrack.io/tracker/internal/usecase"
)

type createProjectRequest struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type listResponse[T any] struct {
	Items []T `json:"items"`
}

// CreateProject handles POST /projects.
func (s *Server) CreateProject(c *gin.Context) {
	actor, err := actorFromCtx(c.Request.Context())
	if err != nil {
		_ = c.Error(err)
		return
	}
	var req createProjectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(apperrors.BadRequest(apperrors.CodeValidationFailed, err.Error()))
		return
	}

	p, err := s.projects.Create(c.Request.Context(), usecase.CreateProjectInput{ID: req.ID, Name: req.Name, Actor: actor})
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusCreated, domain.NewProjectSnapshot(p, nil))
}

// ListProjects handles GET /projects.
func (s *Server) ListProjects(c *gin.Context) {
	snaps, err := s.projects.ListSnapshots(c.Request.Context())
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, listResponse[*domain.ProjectSnapshot]{Items: snaps})
}

// GetProject handles GET /projects/:id.
func (s *Server) GetProject(c *gin.Context) {
	snap, err := s.projects.Snapshot(c.Request.Context(), c.Param("id"))
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, snap)
}

// GetProjectStatus handles GET /projects/:id/status.
func (s *Server) GetProjectStatus(c *gin.Context) {
	snap, err := s.projects.Snapshot(c.Request.Context(), c.Param("id"))
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"entityId":      snap.ID,
		"overallStatus": snap.OverallStatus,
		"statuses":      snap.Statuses,
		"updatedAt":     snap.UpdatedAt,
	})
}

// GetStatusHistory handles GET /projects/:id/status/history.
func (s *Server) GetStatusHistory(c *gin.Context) {
	var category domain.StatusCategory
	if raw := c.Query("category"); raw != "" {
		cat, err := domain.ParseCategory(raw)
		if err != nil {
			_ = c.Error(apperrors.Invalid(apperrors.CodeStatusCategoryInvalid, err.Error()).
				WithParam("category", raw))
			return
		}
		category = cat
	}
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			_ = c.Error(apperrors.BadRequest(apperrors.CodeInvalidRequestField, "limit must be a non-negative integer").
				WithParam("field", "limit"))
			return
		}
		limit = n
	}

	records, err := s.projects.History(c.Request.Context(), c.Param("id"), category, limit)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, listResponse[*domain.StatusUpdateRecord]{Items: records})
}
