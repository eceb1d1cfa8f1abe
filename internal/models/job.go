package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/ignatzorin/msme-escrow/internal/domain/valueobject"
)

// Job описывает заказ клиента, оплачиваемый через эскроу.
type Job struct {
	ID             uuid.UUID                 `db:"id" json:"id"`
	ClientID       uuid.UUID                 `db:"client_id" json:"client_id"`
	ProfessionalID *uuid.UUID                `db:"professional_id" json:"professional_id,omitempty"`
	Title          string                    `db:"title" json:"title"`
	Description    string                    `db:"description" json:"description"`
	Budget         float64                   `db:"budget" json:"budget"`
	Region         valueobject.Region        `db:"region" json:"region"`
	Currency       string                    `db:"currency" json:"currency"`
	PayerPhone     string                    `db:"payer_phone" json:"-"`
	Status         valueobject.JobStatus     `db:"status" json:"status"`
	PaymentStatus  valueobject.PaymentStatus `db:"payment_status" json:"payment_status"`
	EscrowAmount   float64                   `db:"escrow_amount" json:"escrow_amount"`
	CorrelationID  *string                   `db:"correlation_id" json:"correlation_id,omitempty"`
	PaymentReceipt *string                   `db:"payment_receipt" json:"payment_receipt,omitempty"`
	DeliverableRef *string                   `db:"deliverable_ref" json:"deliverable_ref,omitempty"`
	SubmittedAt    *time.Time                `db:"submitted_at" json:"submitted_at,omitempty"`
	CompletedAt    *time.Time                `db:"completed_at" json:"completed_at,omitempty"`
	PaidAt         *time.Time                `db:"paid_at" json:"paid_at,omitempty"`
	CreatedAt      time.Time                 `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time                 `db:"updated_at" json:"updated_at"`
}

func (j *Job) IsOwnedBy(userID uuid.UUID) bool {
	return j.ClientID == userID
}

func (j *Job) IsAssignedTo(userID uuid.UUID) bool {
	return j.ProfessionalID != nil && *j.ProfessionalID == userID
}

// IsParticipant сообщает, является ли пользователь клиентом или назначенным исполнителем.
func (j *Job) IsParticipant(userID uuid.UUID) bool {
	return j.IsOwnedBy(userID) || j.IsAssignedTo(userID)
}

// HasCorrelation проверяет, что заказ ожидает ответа именно по этой транзакции шлюза.
func (j *Job) HasCorrelation(correlationID string) bool {
	return j.CorrelationID != nil && *j.CorrelationID == correlationID
}

// CurrentCorrelation возвращает идентификатор текущей транзакции или пустую строку.
func (j *Job) CurrentCorrelation() string {
	if j.CorrelationID == nil {
		return ""
	}
	return *j.CorrelationID
}
