package modules

import (
	"context"
	"net/http"
	"net/url"
	"slices"
	"strings"

	"github.com/riverqueue/river"

	"fabtrack.io/tracker/internal/api/handlers"
	"fabtrack.io/tracker/internal/config"
	"fabtrack.io/tracker/internal/jobs"
	"fabtrack.io/tracker/internal/notification"
	"fabtrack.io/tracker/internal/realtime"
)

// RealtimeModule owns the broadcast hub, the socket upgrade handler and
// notification triggers.
type RealtimeModule struct {
	hub      *realtime.Hub
	handler  *realtime.Handler
	triggers *notification.Triggers
}

// NewRealtimeModule creates the hub with the policy's fan-out rules.
func NewRealtimeModule(infra *Infrastructure, auth realtime.Authenticator) *RealtimeModule {
	cfg := infra.Config
	hub := realtime.NewHub(infra.Policy, realtime.NewSessionManager(), realtime.HubConfig{
		SendQueueSize: cfg.Realtime.SendQueueSize,
	})
	return &RealtimeModule{
		hub:      hub,
		handler:  realtime.NewHandler(hub, auth, infra.Pools, realtime.ConnConfigFrom(cfg.Realtime), CheckOrigin(cfg.Server)),
		triggers: notification.NewTriggers(notification.NewRealtimeSender(hub), infra.Policy.CompletionNotify),
	}
}

// Name implements Module.
func (m *RealtimeModule) Name() string { return "realtime" }

// Hub returns the broadcast hub.
func (m *RealtimeModule) Hub() *realtime.Hub { return m.hub }

// Handler returns the socket upgrade handler.
func (m *RealtimeModule) Handler() *realtime.Handler { return m.handler }

// Triggers returns the notification triggers.
func (m *RealtimeModule) Triggers() *notification.Triggers { return m.triggers }

// ContributeServerDeps implements Module.
func (m *RealtimeModule) ContributeServerDeps(deps *handlers.ServerDeps) {
	deps.Presence = m.hub.Presence()
}

// RegisterWorkers implements Module.
func (m *RealtimeModule) RegisterWorkers(workers *river.Workers) {
	river.AddWorker(workers, jobs.NewProjectCompletedWorker(m.triggers))
}

// Shutdown closes every session.
func (m *RealtimeModule) Shutdown(context.Context) error {
	m.hub.Close()
	return nil
}

// CheckOrigin accepts upgrades from the CORS allowlist and from the server's
// own host. Clients that send no Origin header are not browsers and pass.
func CheckOrigin(cfg config.ServerConfig) func(*http.Request) bool {
	if cfg.UnsafeAllowAllOrigins {
		return func(*http.Request) bool { return true }
	}
	allowed := make([]string, 0, len(cfg.AllowedOrigins))
	for _, o := range cfg.AllowedOrigins {
		if o = strings.TrimRight(strings.TrimSpace(o), "/"); o != "" && o != "*" {
			allowed = append(allowed, o)
		}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		if slices.Contains(allowed, origin) {
			return true
		}
		u, err := url.Parse(origin)
		return err == nil && strings.EqualFold(u.Host, r.Host)
	}
}
