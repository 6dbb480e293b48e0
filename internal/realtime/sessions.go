package realtime

import (
	"sort"
	"sync"
	"time"

	"fabtrack.io/tracker/internal/domain"
)

// Presence describes one online identity.
type Presence struct {
	UserID      string      `json:"userId"`
	Username    string      `json:"username"`
	Role        domain.Role `json:"role"`
	Connections int         `json:"connections"`
	Since       time.Time   `json:"since"`
}

// SessionManager tracks which identities hold live connections. An identity
// is online while it has at least one connection.
type SessionManager struct {
	mu     sync.RWMutex
	byUser map[string]*presenceEntry
	now    func() time.Time
}

type presenceEntry struct {
	identity domain.Identity
	conns    map[string]time.Time
}

// NewSessionManager creates an empty SessionManager.
func NewSessionManager() *SessionManager {
	return &SessionManager{
		byUser: make(map[string]*presenceEntry),
		now:    time.Now,
	}
}

// AddConnection registers connID for identity.
func (m *SessionManager) AddConnection(identity domain.Identity, connID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.byUser[identity.UserID]
	if !ok {
		e = &presenceEntry{identity: identity, conns: make(map[string]time.Time)}
		m.byUser[identity.UserID] = e
	}
	// The latest connection's claims win when a user's role changes.
	e.identity = identity
	e.conns[connID] = m.now().UTC()
}

// RemoveConnection forgets connID. Unknown ids are ignored.
func (m *SessionManager) RemoveConnection(identity domain.Identity, connID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.byUser[identity.UserID]
	if !ok {
		return
	}
	delete(e.conns, connID)
	if len(e.conns) == 0 {
		delete(m.byUser, identity.UserID)
	}
}

// IsOnline reports whether userID has a live connection.
func (m *SessionManager) IsOnline(userID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.byUser[userID]
	return ok
}

// CountByRole returns the number of online identities holding role.
func (m *SessionManager) CountByRole(role domain.Role) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, e := range m.byUser {
		if e.identity.Role == role {
			n++
		}
	}
	return n
}

// Snapshot returns every online identity sorted by user id.
func (m *SessionManager) Snapshot() []Presence {
	m.mu.RLock()
	out := make([]Presence, 0, len(m.byUser))
	for _, e := range m.byUser {
		p := Presence{
			UserID:      e.identity.UserID,
			Username:    e.identity.Username,
			Role:        e.identity.Role,
			Connections: len(e.conns),
		}
		for _, at := range e.conns {
			if p.Since.IsZero() || at.Before(p.Since) {
				p.Since = at
			}
		}
		out = append(out, p)
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out
}
