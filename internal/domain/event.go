package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// EventType names a server-to-client realtime event.
type EventType string

const (
	EventConnected      EventType = "CONNECTED"
	EventStatusUpdated  EventType = "STATUS_UPDATED"
	EventStatusCreated  EventType = "STATUS_CREATED"
	EventStatusDeleted  EventType = "STATUS_DELETED"
	EventProjectUpdated EventType = "PROJECT_UPDATED"
	EventNotification   EventType = "NOTIFICATION"
	EventError          EventType = "ERROR"
)

// Known reports whether t is an event type the server emits.
func (t EventType) Known() bool {
	switch t {
	case EventConnected, EventStatusUpdated, EventStatusCreated, EventStatusDeleted,
		EventProjectUpdated, EventNotification, EventError:
		return true
	}
	return false
}

// Client-to-server control message types.
const (
	MessageSubscribeEntity   EventType = "subscribe:entity"
	MessageUnsubscribeEntity EventType = "unsubscribe:entity"
	MessageAckStatusUpdate   EventType = "ack:statusUpdate"
)

// Envelope is the frame exchanged in both directions over the socket.
type Envelope struct {
	Type      EventType       `json:"type"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// NewEnvelope marshals data into an envelope of the given type.
func NewEnvelope(t EventType, data any, ts time.Time) (Envelope, error) {
	env := Envelope{Type: t, Timestamp: ts.UTC()}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return Envelope{}, fmt.Errorf("marshal %s payload: %w", t, err)
		}
		env.Data = raw
	}
	return env, nil
}

// DecodeEnvelope parses a frame. A frame without a type is rejected.
func DecodeEnvelope(frame []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return Envelope{}, err
	}
	if env.Type == "" {
		return Envelope{}, fmt.Errorf("frame has no type")
	}
	return env, nil
}

// Decode unmarshals the payload into v.
func (e Envelope) Decode(v any) error {
	if len(e.Data) == 0 {
		return fmt.Errorf("%s frame has no data", e.Type)
	}
	if err := json.Unmarshal(e.Data, v); err != nil {
		return fmt.Errorf("decode %s payload: %w", e.Type, err)
	}
	return nil
}

// StatusUpdatedData is the STATUS_UPDATED payload: the full snapshot plus the
// record that caused it.
type StatusUpdatedData struct {
	ProjectSnapshot
	LastUpdate *StatusUpdateRecord `json:"lastUpdate,omitempty"`
}

// ProjectUpdatedData is the PROJECT_UPDATED payload.
type ProjectUpdatedData struct {
	EntityID      string        `json:"entityId"`
	EntityName    string        `json:"entityName"`
	OverallStatus OverallStatus `json:"overallStatus"`
	UpdatedBy     string        `json:"updatedBy"`
	Timestamp     time.Time     `json:"timestamp"`
}

// EntityRefData is the partial payload of STATUS_CREATED and STATUS_DELETED.
type EntityRefData struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
}

// NotificationData is the NOTIFICATION payload.
type NotificationData struct {
	Kind     string `json:"kind"`
	Title    string `json:"title"`
	Message  string `json:"message,omitempty"`
	EntityID string `json:"entityId,omitempty"`
}

// ConnectedData is sent once a connection has been admitted.
type ConnectedData struct {
	ConnectionID string `json:"connectionId"`
	UserID       string `json:"userId"`
	Username     string `json:"username"`
	Role         Role   `json:"role"`
}

// ErrorData is the ERROR payload.
type ErrorData struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// SubscriptionData is the payload of subscribe:entity and unsubscribe:entity.
type SubscriptionData struct {
	ID string `json:"id"`
}

// AckData is the payload of ack:statusUpdate.
type AckData struct {
	UpdateID string `json:"updateId"`
	EntityID string `json:"entityId"`
}
