package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/ignatzorin/msme-escrow/internal/domain/valueobject"
)

type Dispute struct {
	ID         uuid.UUID                   `db:"id" json:"id"`
	JobID      uuid.UUID                   `db:"job_id" json:"job_id"`
	RaisedBy   uuid.UUID                   `db:"raised_by" json:"raised_by"`
	Reason     string                      `db:"reason" json:"reason"`
	Region     valueobject.Region          `db:"region" json:"region"`
	Currency   string                      `db:"currency" json:"currency"`
	Status     valueobject.DisputeStatus   `db:"status" json:"status"`
	Evidence   pq.StringArray              `db:"evidence" json:"evidence"`
	AdminNotes *string                     `db:"admin_notes" json:"admin_notes,omitempty"`
	Resolution *valueobject.DisputeOutcome `db:"resolution" json:"resolution,omitempty"`
	ResolvedBy *uuid.UUID                  `db:"resolved_by" json:"resolved_by,omitempty"`
	CreatedAt  time.Time                   `db:"created_at" json:"created_at"`
	ResolvedAt *time.Time                  `db:"resolved_at" json:"resolved_at,omitempty"`
}
