package outbox

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

type Kind string

const (
	KindNotification Kind = "notification"
	KindWebhook      Kind = "webhook"
)

// Event is a pending side effect written in the same transaction as the booking
// that caused it.
type Event struct {
	ID            int64
	TenantID      uuid.UUID
	AppointmentID uuid.UUID
	Kind          Kind
	Payload       []byte
	Attempts      int
	CreatedAt     time.Time
}

type NotificationPayload struct {
	EventType string `json:"event_type"`
	Channel   string `json:"channel"`
}

type WebhookPayload struct {
	PreviousStatus *string `json:"previous_status,omitempty"`
}

func NewNotificationEvent(tenantID, appointmentID uuid.UUID, eventType, channel string) (Event, error) {
	data, err := json.Marshal(NotificationPayload{EventType: eventType, Channel: channel})
	if err != nil {
		return Event{}, fmt.Errorf("marshal notification payload: %w", err)
	}
	return Event{
		TenantID:      tenantID,
		AppointmentID: appointmentID,
		Kind:          KindNotification,
		Payload:       data,
	}, nil
}

func NewWebhookEvent(tenantID, appointmentID uuid.UUID, previousStatus *string) (Event, error) {
	data, err := json.Marshal(WebhookPayload{PreviousStatus: previousStatus})
	if err != nil {
		return Event{}, fmt.Errorf("marshal webhook payload: %w", err)
	}
	return Event{
		TenantID:      tenantID,
		AppointmentID: appointmentID,
		Kind:          KindWebhook,
		Payload:       data,
	}, nil
}
