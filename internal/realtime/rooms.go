// Package realtime pushes status events to connected websocket clients.
//
// Every session joins its role room and identity room on admission and may
// subscribe to any number of entity rooms. Events are routed to rooms, never
// to individual sockets, and each session receives an event at most once.
package realtime

import "fabtrack.io/tracker/internal/domain"

// Room name prefixes.
const (
	entityRoomPrefix   = "entity:"
	roleRoomPrefix     = "role:"
	identityRoomPrefix = "identity:"
)

// EntityRoom names the room of a project.
func EntityRoom(entityID string) string { return entityRoomPrefix + entityID }

// RoleRoom names the room shared by every session of a role.
func RoleRoom(role domain.Role) string { return roleRoomPrefix + string(role) }

// IdentityRoom names the room shared by every connection of one user.
func IdentityRoom(userID string) string { return identityRoomPrefix + userID }
