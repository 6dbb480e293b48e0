package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"fabtrack.io/tracker/internal/domain"
	"fabtrack.io/tracker/internal/realtime"
)

type presenceResponse struct {
	Items  []realtime.Presence  `json:"items"`
	ByRole map[domain.Role]int `json:"byRole"`
}

// GetPresence handles GET /realtime/presence.
func (s *Server) GetPresence(c *gin.Context) {
	byRole := make(map[domain.Role]int, 4)
	for _, role := range []domain.Role{domain.RoleAdmin, domain.RolePM, domain.RoleWarehouse, domain.RoleViewer} {
		byRole[role] = s.presence.CountByRole(role)
	}
	c.JSON(http.StatusOK, presenceResponse{Items: s.presence.Snapshot(), ByRole: byRole})
}
