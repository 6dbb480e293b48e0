package realtime

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fabtrack.io/tracker/internal/domain"
	"fabtrack.io/tracker/internal/pkg/logger"
	"fabtrack.io/tracker/internal/service"
)

func init() {
	_ = logger.Init("error", "json")
}

var (
	adminID     = domain.Identity{UserID: "u-admin", Username: "ada", Role: domain.RoleAdmin}
	pmID        = domain.Identity{UserID: "u-pm", Username: "pat", Role: domain.RolePM}
	warehouseID = domain.Identity{UserID: "u-wh", Username: "wes", Role: domain.RoleWarehouse}
	viewerID    = domain.Identity{UserID: "u-view", Username: "val", Role: domain.RoleViewer}
)

func newTestHub(queue int) *Hub {
	return NewHub(service.DefaultPolicy(), NewSessionManager(), HubConfig{SendQueueSize: queue})
}

// drain returns the envelopes queued for s without blocking.
func drain(t *testing.T, s *Session) []domain.Envelope {
	t.Helper()
	var out []domain.Envelope
	for {
		select {
		case frame, ok := <-s.Outbound():
			if !ok {
				return out
			}
			env, err := domain.DecodeEnvelope(frame)
			require.NoError(t, err)
			out = append(out, env)
		default:
			return out
		}
	}
}

func types(envs []domain.Envelope) []domain.EventType {
	out := make([]domain.EventType, 0, len(envs))
	for _, e := range envs {
		out = append(out, e.Type)
	}
	return out
}

func admit(t *testing.T, h *Hub, id domain.Identity) *Session {
	t.Helper()
	s, err := h.Admit(id)
	require.NoError(t, err)
	return s
}

func TestHub_AdmitJoinsRoleAndIdentityRooms(t *testing.T) {
	h := newTestHub(8)
	s := admit(t, h, pmID)

	assert.Equal(t, 1, h.RoomSize(RoleRoom(domain.RolePM)))
	assert.Equal(t, 1, h.RoomSize(IdentityRoom(pmID.UserID)))
	assert.True(t, h.Presence().IsOnline(pmID.UserID))
	assert.Equal(t, pmID, s.Identity())

	_, err := h.Admit(domain.Identity{UserID: "x", Role: "GUEST"})
	assert.Error(t, err)
}

func TestHub_RemoveLeavesEveryRoom(t *testing.T) {
	h := newTestHub(8)
	s := admit(t, h, warehouseID)
	require.NoError(t, h.Subscribe(s, "P1"))

	h.Remove(s)
	h.Remove(s)

	assert.Equal(t, 0, h.SessionCount())
	assert.Equal(t, 0, h.RoomSize(EntityRoom("P1")))
	assert.Equal(t, 0, h.RoomSize(RoleRoom(domain.RoleWarehouse)))
	assert.False(t, h.Presence().IsOnline(warehouseID.UserID))
	_, ok := <-s.Outbound()
	assert.False(t, ok, "queue closed")
	assert.ErrorIs(t, h.Subscribe(s, "P1"), ErrSessionClosed)
}

func TestHub_PublishStatusUpdateRouting(t *testing.T) {
	h := newTestHub(8)
	admin := admit(t, h, adminID)
	pm := admit(t, h, pmID)
	pmSubscribed := admit(t, h, domain.Identity{UserID: "u-pm2", Role: domain.RolePM})
	wh := admit(t, h, warehouseID)
	viewer := admit(t, h, viewerID)

	require.NoError(t, h.Subscribe(pmSubscribed, "P1"))
	// Subscribed and in a fan-out room: still one delivery.
	require.NoError(t, h.Subscribe(wh, "P1"))

	h.PublishStatusUpdate(domain.StatusUpdatedData{ProjectSnapshot: domain.ProjectSnapshot{ID: "P1", Name: "Tower"}})

	assert.Equal(t, []domain.EventType{domain.EventStatusUpdated}, types(drain(t, admin)))
	assert.Equal(t, []domain.EventType{domain.EventStatusUpdated}, types(drain(t, wh)))
	assert.Equal(t, []domain.EventType{domain.EventStatusUpdated}, types(drain(t, pmSubscribed)))
	assert.Empty(t, drain(t, pm))
	assert.Empty(t, drain(t, viewer))
}

func TestHub_PublishPayload(t *testing.T) {
	h := newTestHub(8)
	s := admit(t, h, adminID)

	h.PublishStatusUpdate(domain.StatusUpdatedData{
		ProjectSnapshot: domain.ProjectSnapshot{ID: "P1", Name: "Tower", OverallStatus: domain.OverallStatusActive},
		LastUpdate:      &domain.StatusUpdateRecord{ID: "r1", ProjectID: "P1", Category: domain.CategoryPickup, Value: "Picked (A.P)"},
	})

	envs := drain(t, s)
	require.Len(t, envs, 1)
	var got domain.StatusUpdatedData
	require.NoError(t, envs[0].Decode(&got))
	assert.Equal(t, "P1", got.ID)
	require.NotNil(t, got.LastUpdate)
	assert.Equal(t, "Picked (A.P)", got.LastUpdate.Value)
	assert.False(t, envs[0].Timestamp.IsZero())
}

func TestHub_GlobalEventsReachEverySession(t *testing.T) {
	h := newTestHub(8)
	sessions := []*Session{admit(t, h, adminID), admit(t, h, pmID), admit(t, h, viewerID)}

	h.PublishEntityUpdate(domain.ProjectUpdatedData{EntityID: "P1", OverallStatus: domain.OverallStatusCompleted})
	h.PublishEntityCreated(domain.EntityRefData{ID: "P2", Name: "New"})

	for _, s := range sessions {
		assert.Equal(t, []domain.EventType{domain.EventProjectUpdated, domain.EventStatusCreated}, types(drain(t, s)))
	}
}

func TestHub_EntityRoomOnlyWithoutFanout(t *testing.T) {
	h := NewHub(nil, nil, HubConfig{})
	sub := admit(t, h, viewerID)
	other := admit(t, h, adminID)
	require.NoError(t, h.Subscribe(sub, "P1"))

	h.PublishStatusUpdate(domain.StatusUpdatedData{ProjectSnapshot: domain.ProjectSnapshot{ID: "P1"}})

	assert.Len(t, drain(t, sub), 1)
	assert.Empty(t, drain(t, other))

	require.NoError(t, h.Unsubscribe(sub, "P1"))
	h.PublishStatusUpdate(domain.StatusUpdatedData{ProjectSnapshot: domain.ProjectSnapshot{ID: "P1"}})
	assert.Empty(t, drain(t, sub))
}

func TestHub_EmptyRoomIsNoop(t *testing.T) {
	h := NewHub(nil, nil, HubConfig{})
	assert.NotPanics(t, func() {
		h.PublishStatusUpdate(domain.StatusUpdatedData{ProjectSnapshot: domain.ProjectSnapshot{ID: "nobody"}})
		h.SendDirectNotification("ghost", domain.NotificationData{Kind: "x"})
		h.SendRoleNotification(domain.RoleViewer, domain.NotificationData{Kind: "x"})
	})
}

func TestHub_Notifications(t *testing.T) {
	h := newTestHub(8)
	pm1 := admit(t, h, pmID)
	pm2 := admit(t, h, pmID) // same user, second tab
	admin := admit(t, h, adminID)

	h.SendDirectNotification(pmID.UserID, domain.NotificationData{Kind: "direct", Title: "hi"})
	assert.Len(t, drain(t, pm1), 1)
	assert.Len(t, drain(t, pm2), 1)
	assert.Empty(t, drain(t, admin))

	h.SendRoleNotification(domain.RoleAdmin, domain.NotificationData{Kind: "role", Title: "hi"})
	assert.Empty(t, drain(t, pm1))
	envs := drain(t, admin)
	require.Len(t, envs, 1)
	var n domain.NotificationData
	require.NoError(t, envs[0].Decode(&n))
	assert.Equal(t, "role", n.Kind)
}

func TestHub_FullQueueDropsForThatSessionOnly(t *testing.T) {
	h := newTestHub(1)
	slow := admit(t, h, adminID)
	fast := admit(t, h, warehouseID)

	h.PublishStatusUpdate(domain.StatusUpdatedData{ProjectSnapshot: domain.ProjectSnapshot{ID: "P1"}})
	assert.Len(t, drain(t, fast), 1)

	h.PublishStatusUpdate(domain.StatusUpdatedData{ProjectSnapshot: domain.ProjectSnapshot{ID: "P2"}})
	assert.Len(t, drain(t, fast), 1)

	envs := drain(t, slow)
	require.Len(t, envs, 1, "second event dropped")
	var got domain.StatusUpdatedData
	require.NoError(t, envs[0].Decode(&got))
	assert.Equal(t, "P1", got.ID)
}

func TestHub_HandleControl(t *testing.T) {
	h := NewHub(nil, nil, HubConfig{})
	s := admit(t, h, viewerID)

	h.HandleControl(s, []byte(`{"type":"subscribe:entity","data":{"id":"P9"}}`))
	assert.Equal(t, 1, h.RoomSize(EntityRoom("P9")))
	assert.Empty(t, drain(t, s))

	h.HandleControl(s, []byte(`{"type":"ack:statusUpdate","data":{"updateId":"r1","entityId":"P9"}}`))
	assert.Empty(t, drain(t, s))

	h.HandleControl(s, []byte(`{"type":"unsubscribe:entity","data":{"id":"P9"}}`))
	assert.Equal(t, 0, h.RoomSize(EntityRoom("P9")))

	tests := []struct {
		name  string
		frame string
	}{
		{"not json", `not-json`},
		{"missing type", `{"data":{}}`},
		{"unknown type", `{"type":"shout","data":{}}`},
		{"missing data", `{"type":"subscribe:entity"}`},
		{"empty id", `{"type":"subscribe:entity","data":{"id":" "}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h.HandleControl(s, []byte(tt.frame))
			envs := drain(t, s)
			require.Len(t, envs, 1)
			assert.Equal(t, domain.EventError, envs[0].Type)
			var e domain.ErrorData
			require.NoError(t, envs[0].Decode(&e))
			assert.NotEmpty(t, e.Code)
			assert.Equal(t, 1, h.SessionCount(), "session stays up")
		})
	}
}

func TestHub_Close(t *testing.T) {
	h := newTestHub(8)
	admit(t, h, adminID)
	admit(t, h, pmID)
	h.Close()
	assert.Equal(t, 0, h.SessionCount())
	assert.Empty(t, h.Presence().Snapshot())
}
