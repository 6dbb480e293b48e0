package realtime

import (
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"fabtrack.io/tracker/internal/domain"
	apperrors "fabtrack.io/tracker/internal/pkg/errors"
	"fabtrack.io/tracker/internal/pkg/logger"
	"fabtrack.io/tracker/internal/pkg/metrics"
	"fabtrack.io/tracker/internal/service"
)

// ErrSessionClosed is returned when operating on a removed session.
var ErrSessionClosed = errors.New("realtime session closed")

// DefaultSendQueueSize is used when HubConfig leaves the queue size unset.
const DefaultSendQueueSize = 64

// FanoutSource resolves the rooms, beyond the entity room, an event reaches.
type FanoutSource interface {
	FanoutFor(t domain.EventType) service.FanoutRule
}

// HubConfig contains hub settings.
type HubConfig struct {
	// SendQueueSize bounds each session's outbound queue.
	SendQueueSize int
}

// Session is one admitted connection. The hub owns its room membership and
// its outbound queue; the socket pumps only read Outbound.
type Session struct {
	id          string
	identity    domain.Identity
	connectedAt time.Time
	send        chan []byte

	// Guarded by Hub.mu.
	rooms  map[string]struct{}
	closed bool
}

// ID returns the connection id.
func (s *Session) ID() string { return s.id }

// Identity returns the authenticated identity of the connection.
func (s *Session) Identity() domain.Identity { return s.identity }

// ConnectedAt returns the admission time.
func (s *Session) ConnectedAt() time.Time { return s.connectedAt }

// Outbound returns the frames queued for the socket. It is closed when the
// session is removed.
func (s *Session) Outbound() <-chan []byte { return s.send }

// Hub routes events to rooms of admitted sessions.
type Hub struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	rooms    map[string]map[string]*Session

	presence  *SessionManager
	fanout    FanoutSource
	queueSize int
	now       func() time.Time
	log       *zap.Logger
}

// NewHub creates a Hub. presence is updated atomically with room membership.
func NewHub(fanout FanoutSource, presence *SessionManager, cfg HubConfig) *Hub {
	if presence == nil {
		presence = NewSessionManager()
	}
	size := cfg.SendQueueSize
	if size <= 0 {
		size = DefaultSendQueueSize
	}
	return &Hub{
		sessions:  make(map[string]*Session),
		rooms:     make(map[string]map[string]*Session),
		presence:  presence,
		fanout:    fanout,
		queueSize: size,
		now:       time.Now,
		log:       logger.Named("realtime.hub"),
	}
}

// Presence returns the session manager fed by the hub.
func (h *Hub) Presence() *SessionManager { return h.presence }

// Admit registers an authenticated identity and joins its role and identity
// rooms.
func (h *Hub) Admit(identity domain.Identity) (*Session, error) {
	if identity.UserID == "" || !identity.Role.Valid() {
		return nil, apperrors.Unauthorized(apperrors.CodeRealtimeAuthFailed, "identity is incomplete")
	}
	id, err := uuid.NewV7()
	if err != nil {
		return nil, err
	}
	s := &Session{
		id:          id.String(),
		identity:    identity,
		connectedAt: h.now().UTC(),
		send:        make(chan []byte, h.queueSize),
		rooms:       make(map[string]struct{}),
	}

	h.mu.Lock()
	h.sessions[s.id] = s
	h.joinLocked(s, RoleRoom(identity.Role))
	h.joinLocked(s, IdentityRoom(identity.UserID))
	h.presence.AddConnection(identity, s.id)
	h.mu.Unlock()

	metrics.RealtimeConnections.WithLabelValues(string(identity.Role)).Inc()
	h.log.Info("Session admitted",
		zap.String("connection_id", s.id),
		zap.String("user_id", identity.UserID),
		zap.String("role", string(identity.Role)),
	)
	return s, nil
}

// Remove leaves every room and closes the outbound queue. Removing twice is a
// no-op.
func (h *Hub) Remove(s *Session) {
	h.mu.Lock()
	if s.closed {
		h.mu.Unlock()
		return
	}
	s.closed = true
	for room := range s.rooms {
		h.leaveLocked(s, room)
	}
	delete(h.sessions, s.id)
	close(s.send)
	h.presence.RemoveConnection(s.identity, s.id)
	h.mu.Unlock()

	metrics.RealtimeConnections.WithLabelValues(string(s.identity.Role)).Dec()
	h.log.Info("Session removed",
		zap.String("connection_id", s.id),
		zap.String("user_id", s.identity.UserID),
	)
}

// Subscribe joins the entity room of entityID. Joining twice is a no-op.
func (h *Hub) Subscribe(s *Session, entityID string) error {
	entityID = strings.TrimSpace(entityID)
	if entityID == "" {
		return apperrors.BadRequest(apperrors.CodeInvalidRequestField, "entity id is required").
			WithParam("field", "id")
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if s.closed {
		return ErrSessionClosed
	}
	h.joinLocked(s, EntityRoom(entityID))
	return nil
}

// Unsubscribe leaves the entity room of entityID.
func (h *Hub) Unsubscribe(s *Session, entityID string) error {
	entityID = strings.TrimSpace(entityID)
	if entityID == "" {
		return apperrors.BadRequest(apperrors.CodeInvalidRequestField, "entity id is required").
			WithParam("field", "id")
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if s.closed {
		return ErrSessionClosed
	}
	h.leaveLocked(s, EntityRoom(entityID))
	return nil
}

// PublishStatusUpdate sends STATUS_UPDATED to the entity room and the
// fan-out rooms of the policy.
func (h *Hub) PublishStatusUpdate(data domain.StatusUpdatedData) {
	h.publish(domain.EventStatusUpdated, data.ID, data)
}

// PublishEntityUpdate sends PROJECT_UPDATED to the entity room and the
// fan-out rooms of the policy.
func (h *Hub) PublishEntityUpdate(data domain.ProjectUpdatedData) {
	h.publish(domain.EventProjectUpdated, data.EntityID, data)
}

// PublishEntityCreated announces a new project with STATUS_CREATED.
func (h *Hub) PublishEntityCreated(data domain.EntityRefData) {
	h.publish(domain.EventStatusCreated, data.ID, data)
}

// SendDirectNotification sends NOTIFICATION to every connection of userID.
func (h *Hub) SendDirectNotification(userID string, data domain.NotificationData) {
	h.publishRooms(domain.EventNotification, data, IdentityRoom(userID))
}

// SendRoleNotification sends NOTIFICATION to every session of role.
func (h *Hub) SendRoleNotification(role domain.Role, data domain.NotificationData) {
	h.publishRooms(domain.EventNotification, data, RoleRoom(role))
}

// Send queues one event for a single session.
func (h *Hub) Send(s *Session, t domain.EventType, data any) error {
	frame, err := h.encode(t, data)
	if err != nil {
		return err
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	if s.closed {
		return ErrSessionClosed
	}
	h.deliver(s, t, frame)
	return nil
}

// SessionCount returns the number of admitted sessions.
func (h *Hub) SessionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions)
}

// RoomSize returns the number of sessions in room.
func (h *Hub) RoomSize(room string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[room])
}

// Close removes every session.
func (h *Hub) Close() {
	h.mu.RLock()
	all := make([]*Session, 0, len(h.sessions))
	for _, s := range h.sessions {
		all = append(all, s)
	}
	h.mu.RUnlock()
	for _, s := range all {
		h.Remove(s)
	}
}

func (h *Hub) publish(t domain.EventType, entityID string, data any) {
	var rule service.FanoutRule
	if h.fanout != nil {
		rule = h.fanout.FanoutFor(t)
	}
	if rule.Global {
		frame, err := h.encode(t, data)
		if err != nil {
			h.log.Error("Encode event failed", zap.String("type", string(t)), zap.Error(err))
			return
		}
		metrics.RealtimeEventsPublished.WithLabelValues(string(t)).Inc()
		h.mu.RLock()
		defer h.mu.RUnlock()
		for _, s := range h.sessions {
			h.deliver(s, t, frame)
		}
		return
	}

	rooms := make([]string, 0, 1+len(rule.Roles))
	rooms = append(rooms, EntityRoom(entityID))
	for _, role := range rule.Roles {
		rooms = append(rooms, RoleRoom(role))
	}
	h.publishRooms(t, data, rooms...)
}

func (h *Hub) publishRooms(t domain.EventType, data any, rooms ...string) {
	frame, err := h.encode(t, data)
	if err != nil {
		h.log.Error("Encode event failed", zap.String("type", string(t)), zap.Error(err))
		return
	}
	metrics.RealtimeEventsPublished.WithLabelValues(string(t)).Inc()

	h.mu.RLock()
	defer h.mu.RUnlock()
	seen := make(map[string]struct{})
	for _, room := range rooms {
		for id, s := range h.rooms[room] {
			if _, dup := seen[id]; dup {
				continue
			}
			seen[id] = struct{}{}
			h.deliver(s, t, frame)
		}
	}
}

// deliver must run under h.mu (read or write) so Remove cannot close the
// queue concurrently.
func (h *Hub) deliver(s *Session, t domain.EventType, frame []byte) {
	select {
	case s.send <- frame:
		metrics.RealtimeDeliveries.WithLabelValues(string(t), "queued").Inc()
	default:
		metrics.RealtimeDeliveries.WithLabelValues(string(t), "dropped").Inc()
		h.log.Warn("Send queue full, event dropped",
			zap.String("connection_id", s.id),
			zap.String("user_id", s.identity.UserID),
			zap.String("type", string(t)),
		)
	}
}

func (h *Hub) encode(t domain.EventType, data any) ([]byte, error) {
	env, err := domain.NewEnvelope(t, data, h.now())
	if err != nil {
		return nil, err
	}
	return json.Marshal(env)
}

func (h *Hub) joinLocked(s *Session, room string) {
	members, ok := h.rooms[room]
	if !ok {
		members = make(map[string]*Session)
		h.rooms[room] = members
	}
	members[s.id] = s
	s.rooms[room] = struct{}{}
}

func (h *Hub) leaveLocked(s *Session, room string) {
	delete(s.rooms, room)
	members, ok := h.rooms[room]
	if !ok {
		return
	}
	delete(members, s.id)
	if len(members) == 0 {
		delete(h.rooms, room)
	}
}
