package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/ignatzorin/msme-escrow/internal/domain/valueobject"
)

// Application представляет отклик исполнителя на заказ.
type Application struct {
	ID                uuid.UUID                     `db:"id" json:"id"`
	JobID             uuid.UUID                     `db:"job_id" json:"job_id"`
	ProfessionalID    uuid.UUID                     `db:"professional_id" json:"professional_id"`
	Proposal          string                        `db:"proposal" json:"proposal"`
	BidAmount         float64                       `db:"bid_amount" json:"bid_amount"`
	EstimatedDuration *string                       `db:"estimated_duration" json:"estimated_duration,omitempty"`
	PayoutPhone       *string                       `db:"payout_phone" json:"-"`
	Status            valueobject.ApplicationStatus `db:"status" json:"status"`
	CreatedAt         time.Time                     `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time                     `db:"updated_at" json:"updated_at"`
}
