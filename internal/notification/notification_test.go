package notification

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fabtrack.io/tracker/internal/domain"
	"fabtrack.io/tracker/internal/pkg/logger"
	"fabtrack.io/tracker/internal/pkg/worker"
)

func init() {
	_ = logger.Init("error", "json")
}

type sent struct {
	to   string
	data domain.NotificationData
}

type fakeHub struct {
	mu   sync.Mutex
	sent []sent
}

func (h *fakeHub) SendDirectNotification(userID string, data domain.NotificationData) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.sent = append(h.sent, sent{to: "identity:" + userID, data: data})
}

func (h *fakeHub) SendRoleNotification(role domain.Role, data domain.NotificationData) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.sent = append(h.sent, sent{to: "role:" + string(role), data: data})
}

func (h *fakeHub) targets() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]string, 0, len(h.sent))
	for _, s := range h.sent {
		out = append(out, s.to)
	}
	return out
}

func TestRealtimeSender_Validation(t *testing.T) {
	s := NewRealtimeSender(&fakeHub{})
	ctx := context.Background()

	assert.Error(t, s.Send(ctx, "", Params{Kind: KindProjectCompleted, Title: "t"}))
	assert.Error(t, s.Send(ctx, "u1", Params{Title: "t"}))
	assert.Error(t, s.SendToRoles(ctx, []domain.Role{domain.RoleAdmin}, Params{Kind: KindProjectCompleted}))
}

func TestRealtimeSender_SendToRoles_SkipsUnknownRole(t *testing.T) {
	hub := &fakeHub{}
	s := NewRealtimeSender(hub)

	err := s.SendToRoles(context.Background(), []domain.Role{domain.RolePM, "JANITOR", domain.RoleAdmin},
		Params{Kind: KindProjectCompleted, Title: "t"})
	require.Error(t, err)
	assert.Equal(t, []string{"role:PM", "role:ADMIN"}, hub.targets())
}

func TestTriggers_OnProjectCompleted(t *testing.T) {
	hub := &fakeHub{}
	tr := NewTriggers(NewRealtimeSender(hub), []domain.Role{domain.RolePM, domain.RoleAdmin})

	err := tr.OnProjectCompleted(context.Background(), "P1", "Tower",
		domain.Identity{UserID: "u1", Username: "ada", Role: domain.RoleAdmin})
	require.NoError(t, err)
	assert.Equal(t, []string{"role:PM", "role:ADMIN", "identity:u1"}, hub.targets())

	got := hub.sent[0].data
	assert.Equal(t, KindProjectCompleted, got.Kind)
	assert.Equal(t, "P1", got.EntityID)
	assert.Equal(t, "Tower was marked complete by ada", got.Message)
}

func TestAsyncNotifier(t *testing.T) {
	pools, err := worker.NewPools(context.Background(), worker.PoolConfig{GeneralPoolSize: 2, RealtimePoolSize: 2})
	require.NoError(t, err)
	defer pools.Shutdown()

	hub := &fakeHub{}
	n := NewAsyncNotifier(pools, NewTriggers(NewRealtimeSender(hub), []domain.Role{domain.RoleAdmin}))
	require.NoError(t, n.NotifyProjectCompleted(context.Background(),
		&domain.Project{ID: "P1", Name: "Tower"}, domain.Identity{Username: "ada"}))

	assert.Eventually(t, func() bool { return len(hub.targets()) == 1 }, time.Second, 5*time.Millisecond)
}
