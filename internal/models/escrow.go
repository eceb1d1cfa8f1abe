package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/ignatzorin/msme-escrow/internal/domain/valueobject"
)

// EscrowTransaction фиксирует одно обращение к платёжному шлюзу. Записи не удаляются.
type EscrowTransaction struct {
	ID               uuid.UUID                    `db:"id" json:"id"`
	JobID            uuid.UUID                    `db:"job_id" json:"job_id"`
	CorrelationID    string                       `db:"correlation_id" json:"correlation_id"`
	AccountReference string                       `db:"account_reference" json:"account_reference"`
	Amount           float64                      `db:"amount" json:"amount"`
	Phone            string                       `db:"phone" json:"-"`
	Receipt          *string                      `db:"receipt" json:"receipt,omitempty"`
	State            valueobject.TransactionState `db:"state" json:"state"`
	ResultCode       *int                         `db:"result_code" json:"result_code,omitempty"`
	ResultDesc       *string                      `db:"result_desc" json:"result_desc,omitempty"`
	CreatedAt        time.Time                    `db:"created_at" json:"created_at"`
	ResolvedAt       *time.Time                   `db:"resolved_at" json:"resolved_at,omitempty"`
}
