package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"fabtrack.io/tracker/internal/domain"
	apperrors "fabtrack.io/tracker/internal/pkg/errors"
	"fabtrack.io/tracker/internal/service"
	"fabtrack.io/tracker/internal/usecase"
)

// statusRequest carries either a display value or the structured proposal.
type statusRequest struct {
	Category  string                  `json:"category"`
	Value     string                  `json:"value,omitempty"`
	Primary   string                  `json:"primary,omitempty"`
	Secondary string                  `json:"secondary,omitempty"`
	Delivery  *domain.DeliveryDetails `json:"delivery,omitempty"`
	Reason    string                  `json:"reason,omitempty"`
}

type batchItemRequest struct {
	EntityID string `json:"entityId"`
	statusRequest
}

type batchRequest struct {
	Items []batchItemRequest `json:"items"`
}

func (r statusRequest) item(projectID string) usecase.BatchItem {
	// An unparseable category is passed through so the use case rejects it
	// with the category error code.
	cat, err := domain.ParseCategory(r.Category)
	if err != nil {
		cat = domain.StatusCategory(r.Category)
	}
	return usecase.BatchItem{
		ProjectID: projectID,
		Category:  cat,
		Proposal:  service.Proposal{Primary: r.Primary, Secondary: r.Secondary, Delivery: r.Delivery},
		Value:     r.Value,
		Reason:    r.Reason,
	}
}

// UpdateStatus handles POST /projects/:id/status.
func (s *Server) UpdateStatus(c *gin.Context) {
	ctx := c.Request.Context()
	actor, err := actorFromCtx(ctx)
	if err != nil {
		_ = c.Error(err)
		return
	}
	var req statusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(apperrors.BadRequest(apperrors.CodeValidationFailed, err.Error()))
		return
	}

	item := req.item(c.Param("id"))
	rec, err := s.status.Execute(ctx, usecase.UpdateStatusInput{
		ProjectID: item.ProjectID,
		Category:  item.Category,
		Actor:     actor,
		Proposal:  item.Proposal,
		Value:     item.Value,
		Reason:    item.Reason,
	})
	if err != nil {
		_ = c.Error(err)
		return
	}

	resp, err := s.statusResponse(ctx, rec)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// UpdateStatusBatch handles POST /status/batch.
func (s *Server) UpdateStatusBatch(c *gin.Context) {
	ctx := c.Request.Context()
	actor, err := actorFromCtx(ctx)
	if err != nil {
		_ = c.Error(err)
		return
	}
	var req batchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(apperrors.BadRequest(apperrors.CodeValidationFailed, err.Error()))
		return
	}

	items := make([]usecase.BatchItem, 0, len(req.Items))
	for _, it := range req.Items {
		items = append(items, it.item(it.EntityID))
	}
	records, err := s.status.ExecuteBatch(ctx, actor, items)
	if err != nil {
		_ = c.Error(err)
		return
	}

	out := make([]*domain.StatusUpdatedData, 0, len(records))
	for _, rec := range records {
		resp, err := s.statusResponse(ctx, rec)
		if err != nil {
			_ = c.Error(err)
			return
		}
		out = append(out, resp)
	}
	c.JSON(http.StatusOK, listResponse[*domain.StatusUpdatedData]{Items: out})
}

// statusResponse has the STATUS_UPDATED payload shape so API callers and
// socket subscribers apply the same document.
func (s *Server) statusResponse(ctx context.Context, rec *domain.StatusUpdateRecord) (*domain.StatusUpdatedData, error) {
	snap, err := s.projects.Snapshot(ctx, rec.ProjectID)
	if err != nil {
		return nil, err
	}
	return &domain.StatusUpdatedData{ProjectSnapshot: *snap, LastUpdate: rec}, nil
}
