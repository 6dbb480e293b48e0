package realtime

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"fabtrack.io/tracker/internal/domain"
	apperrors "fabtrack.io/tracker/internal/pkg/errors"
	"fabtrack.io/tracker/internal/pkg/metrics"
	"fabtrack.io/tracker/internal/pkg/worker"
)

// Authenticator resolves a bearer credential to an identity.
type Authenticator interface {
	Authenticate(token string) (domain.Identity, error)
}

// pumpsPerConn is the number of pool workers a connection occupies.
const pumpsPerConn = 2

// Handler upgrades authenticated HTTP requests to hub sessions.
type Handler struct {
	hub      *Hub
	auth     Authenticator
	pools    *worker.Pools
	cfg      ConnConfig
	upgrader websocket.Upgrader
}

// NewHandler creates the upgrade handler. checkOrigin may be nil to accept
// same-origin requests only.
func NewHandler(hub *Hub, auth Authenticator, pools *worker.Pools, cfg ConnConfig, checkOrigin func(*http.Request) bool) *Handler {
	return &Handler{
		hub:   hub,
		auth:  auth,
		pools: pools,
		cfg:   cfg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     checkOrigin,
		},
	}
}

// Handle serves GET /ws. The credential is checked before the upgrade so
// a rejected client gets a plain HTTP 401.
func (h *Handler) Handle(c *gin.Context) {
	token := BearerToken(c.Request)
	if token == "" {
		h.reject(c, "missing_token", apperrors.ErrAuthenticationRequired())
		return
	}
	identity, err := h.auth.Authenticate(token)
	if err != nil {
		h.reject(c, "invalid_token", err)
		return
	}
	if h.pools.Realtime.Free() < pumpsPerConn {
		h.reject(c, "capacity", apperrors.Unavailable(apperrors.CodeRealtimeCapacity, "realtime capacity exceeded"))
		return
	}

	ws, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// The upgrader has already written an HTTP error.
		metrics.RealtimeRejectedConnections.WithLabelValues("upgrade").Inc()
		h.hub.log.Debug("Upgrade failed", zap.Error(err))
		return
	}

	s, err := h.hub.Admit(identity)
	if err != nil {
		metrics.RealtimeRejectedConnections.WithLabelValues("admit").Inc()
		_ = ws.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.ClosePolicyViolation, err.Error()))
		_ = ws.Close()
		return
	}
	_ = h.hub.Send(s, domain.EventConnected, domain.ConnectedData{
		ConnectionID: s.ID(),
		UserID:       identity.UserID,
		Username:     identity.Username,
		Role:         identity.Role,
	})

	if err := h.hub.Serve(h.pools.ServiceContext(), h.pools.Realtime, ws, s, h.cfg); err != nil {
		metrics.RealtimeRejectedConnections.WithLabelValues("capacity").Inc()
		h.hub.log.Warn("Realtime pumps not started", zap.String("connection_id", s.ID()), zap.Error(err))
	}
}

func (h *Handler) reject(c *gin.Context, reason string, err error) {
	metrics.RealtimeRejectedConnections.WithLabelValues(reason).Inc()
	status, code, message := http.StatusUnauthorized, apperrors.CodeRealtimeAuthFailed, "authentication failed"
	if appErr, ok := apperrors.IsAppError(err); ok {
		status, code, message = appErr.HTTPStatus, appErr.Code, appErr.Message
	}
	if status == http.StatusServiceUnavailable {
		c.Header("Retry-After", "5")
	}
	c.AbortWithStatusJSON(status, gin.H{"code": code, "message": message})
}

// BearerToken extracts the credential from the Authorization header or,
// for browsers that cannot set headers on a websocket, the token query
// parameter.
func BearerToken(r *http.Request) string {
	if header := r.Header.Get("Authorization"); header != "" {
		parts := strings.SplitN(header, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
			return strings.TrimSpace(parts[1])
		}
		return ""
	}
	return strings.TrimSpace(r.URL.Query().Get("token"))
}
