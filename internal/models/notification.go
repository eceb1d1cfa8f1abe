package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Типы уведомлений о событиях заказа.
const (
	NotificationApplicationAccepted = "application_accepted"
	NotificationApplicationRejected = "application_rejected"
	NotificationWorkSubmitted       = "work_submitted"
	NotificationPaymentHeld         = "payment_held"
	NotificationPaymentFailed       = "payment_failed"
	NotificationPaymentReleased     = "payment_released"
	NotificationPaymentRefunded     = "payment_refunded"
	NotificationDisputeRaised       = "dispute_raised"
	NotificationDisputeResolved     = "dispute_resolved"
)

// Notification описывает событие, отправленное пользователю.
type Notification struct {
	ID        uuid.UUID       `db:"id" json:"id"`
	UserID    uuid.UUID       `db:"user_id" json:"user_id"`
	Payload   json.RawMessage `db:"payload" json:"payload"`
	IsRead    bool            `db:"is_read" json:"is_read"`
	CreatedAt time.Time       `db:"created_at" json:"created_at"`
}

// NotificationMessage: содержимое уведомления, которое передают контроллеры.
type NotificationMessage struct {
	Type      string     `json:"type"`
	Title     string     `json:"title"`
	Message   string     `json:"message"`
	RelatedID *uuid.UUID `json:"related_id,omitempty"`
}
