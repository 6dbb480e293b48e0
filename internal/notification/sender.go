// Package notification delivers NOTIFICATION events to users and roles over
// the realtime hub.
//
// Notifications are best-effort: a recipient with no open connection misses
// the event and sees the result on its next fetch.
package notification

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"fabtrack.io/tracker/internal/domain"
	"fabtrack.io/tracker/internal/pkg/logger"
)

// KindProjectCompleted is the NotificationData.Kind of completion notices.
const KindProjectCompleted = "PROJECT_COMPLETED"

// Params holds the fields of one notification.
type Params struct {
	Kind     string
	Title    string
	Message  string
	EntityID string
}

func (p Params) data() domain.NotificationData {
	return domain.NotificationData{Kind: p.Kind, Title: p.Title, Message: p.Message, EntityID: p.EntityID}
}

// Sender delivers notifications.
type Sender interface {
	// Send notifies a single user on every open connection.
	Send(ctx context.Context, userID string, params Params) error

	// SendToRoles notifies every connection of the given roles.
	SendToRoles(ctx context.Context, roles []domain.Role, params Params) error
}

// Publisher is the part of realtime.Hub the sender needs.
type Publisher interface {
	SendDirectNotification(userID string, data domain.NotificationData)
	SendRoleNotification(role domain.Role, data domain.NotificationData)
}

// RealtimeSender publishes notifications through the hub.
type RealtimeSender struct {
	hub Publisher
}

// NewRealtimeSender creates a new realtime sender.
func NewRealtimeSender(hub Publisher) *RealtimeSender {
	return &RealtimeSender{hub: hub}
}

// Send implements Sender.
func (s *RealtimeSender) Send(ctx context.Context, userID string, params Params) error {
	if userID == "" {
		return errors.New("recipient user id is required")
	}
	if err := validateParams(params); err != nil {
		return fmt.Errorf("notification params invalid: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.hub.SendDirectNotification(userID, params.data())

	logger.Debug("notification sent",
		zap.String("recipient", userID),
		zap.String("kind", params.Kind),
	)
	return nil
}

// SendToRoles implements Sender. An unknown role is skipped and reported
// after the others have been notified.
func (s *RealtimeSender) SendToRoles(ctx context.Context, roles []domain.Role, params Params) error {
	if err := validateParams(params); err != nil {
		return fmt.Errorf("notification params invalid: %w", err)
	}

	var invalid int
	for _, role := range roles {
		if err := ctx.Err(); err != nil {
			return err
		}
		if !role.Valid() {
			invalid++
			logger.Error("notification delivery skipped",
				zap.String("role", string(role)),
				zap.String("kind", params.Kind),
			)
			continue
		}
		s.hub.SendRoleNotification(role, params.data())
	}

	logger.Debug("role notification sent",
		zap.Int("roles", len(roles)-invalid),
		zap.String("kind", params.Kind),
		zap.String("entity_id", params.EntityID),
	)
	if invalid > 0 {
		return fmt.Errorf("notification skipped for %d/%d roles", invalid, len(roles))
	}
	return nil
}

// compile-time check
var _ Sender = (*RealtimeSender)(nil)

func validateParams(p Params) error {
	if p.Kind == "" {
		return errors.New("kind is required")
	}
	if p.Title == "" {
		return errors.New("title is required")
	}
	return nil
}
