package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// GetLiveness handles GET /health/live.
func (s *Server) GetLiveness(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// GetReadiness handles GET /health/ready.
func (s *Server) GetReadiness(c *gin.Context) {
	checks := make(map[string]string)
	allHealthy := true

	if s.db != nil {
		if err := s.db.Ping(c.Request.Context()); err != nil {
			checks["database"] = "error"
			allHealthy = false
		} else {
			checks["database"] = "ok"
		}
	}

	status := "ok"
	httpStatus := http.StatusOK
	if !allHealthy {
		status = "degraded"
		httpStatus = http.StatusServiceUnavailable
	}

	body := gin.H{"status": status, "checks": checks}
	if s.pools != nil {
		body["workers"] = s.pools.Metrics()
	}
	c.JSON(httpStatus, body)
}
