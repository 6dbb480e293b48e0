package handlers

import (
	"github.com/gin-gonic/gin"

	"fabtrack.io/tracker/internal/api/middleware"
	"fabtrack.io/tracker/internal/domain"
)

// RegisterRoutes mounts the authenticated API on api. The group must
// already run middleware.JWTAuth. Status writes are authorized per category
// by the use case, so only project creation and presence carry role guards
// here.
func (s *Server) RegisterRoutes(api gin.IRoutes) {
	api.POST("/projects", middleware.RequireRole(domain.RoleAdmin, domain.RolePM), s.CreateProject)
	api.GET("/projects", s.ListProjects)
	api.GET("/projects/:id", s.GetProject)
	api.GET("/projects/:id/status", s.GetProjectStatus)
	api.GET("/projects/:id/status/history", s.GetStatusHistory)
	api.POST("/projects/:id/status", s.UpdateStatus)
	api.POST("/status/batch", s.UpdateStatusBatch)
	api.GET("/realtime/presence", middleware.RequireRole(domain.RoleAdmin), s.GetPresence)
}

// RegisterHealth mounts the unauthenticated probes.
func (s *Server) RegisterHealth(r gin.IRoutes) {
	r.GET("/health/live", s.GetLiveness)
	r.GET("/health/ready", s.GetReadiness)
}
