package app

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"fabtrack.io/tracker/internal/api/handlers"
	"fabtrack.io/tracker/internal/api/middleware"
	"fabtrack.io/tracker/internal/config"
	"fabtrack.io/tracker/internal/pkg/logger"
	"fabtrack.io/tracker/internal/realtime"
)

var defaultAllowedOrigins = []string{"http://localhost:3000", "http://127.0.0.1:3000"}

func newRouter(cfg *config.Config, server *handlers.Server, jwtCfg middleware.JWTConfig, ws *realtime.Handler) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), middleware.RequestID(), cors.New(buildCORSConfig(cfg)), middleware.ErrorHandler())

	server.RegisterHealth(router)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	level := gin.WrapH(logger.LevelHandler())
	router.GET("/log/level", level)
	router.PUT("/log/level", level)

	// The socket authenticates itself so browsers can pass the token as a
	// query parameter.
	router.GET("/ws", ws.Handle)

	api := router.Group("/api/v1", middleware.JWTAuth(jwtCfg))
	server.RegisterRoutes(api)
	return router
}

// buildCORSConfig turns the server settings into a cors config. A "*" entry
// is ignored unless unsafe_allow_all_origins is set, and allowing every
// origin turns credentials off.
func buildCORSConfig(cfg *config.Config) cors.Config {
	c := cors.Config{
		AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodOptions},
		AllowHeaders:     []string{"Authorization", "Content-Type", middleware.RequestIDHeader},
		ExposeHeaders:    []string{middleware.RequestIDHeader, "Retry-After"},
		AllowCredentials: cfg.Server.AllowCredentials,
		MaxAge:           12 * time.Hour,
	}
	if cfg.Server.UnsafeAllowAllOrigins {
		c.AllowAllOrigins = true
		c.AllowCredentials = false
		return c
	}

	origins := make([]string, 0, len(cfg.Server.AllowedOrigins))
	for _, o := range cfg.Server.AllowedOrigins {
		o = strings.TrimSpace(o)
		if o == "" || o == "*" {
			continue
		}
		origins = append(origins, o)
	}
	if len(origins) == 0 {
		origins = append(origins, defaultAllowedOrigins...)
	}
	c.AllowOrigins = origins
	return c
}
