package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Действия, попадающие в журнал аудита.
const (
	AuditActionAdminApprove      = "job.admin_approve"
	AuditActionDisputeResolved   = "dispute.resolved"
	AuditActionDisputeReviewing  = "dispute.investigating"
	AuditActionCallbackDiscarded = "callback.discarded"
	AuditActionCallbackFailed    = "callback.failed"
	AuditActionCallbackApplied   = "callback.applied"
	AuditActionPayoutRequested   = "payout.requested"
	AuditActionPayoutFailed      = "payout.failed"
	AuditActionPayoutResult      = "payout.result"

	// AuditActionInitiationOrphaned: списание запрошено у шлюза, но заказ успел измениться.
	AuditActionInitiationOrphaned = "escrow.initiation_orphaned"
)

// Типы объектов аудита.
const (
	AuditTargetJob         = "job"
	AuditTargetDispute     = "dispute"
	AuditTargetTransaction = "escrow_transaction"
)

// AuditEntry: запись журнала административных и платёжных действий.
type AuditEntry struct {
	ID         uuid.UUID       `db:"id" json:"id"`
	ActorID    *uuid.UUID      `db:"actor_id" json:"actor_id,omitempty"`
	Action     string          `db:"action" json:"action"`
	TargetType string          `db:"target_type" json:"target_type"`
	TargetID   string          `db:"target_id" json:"target_id"`
	Details    json.RawMessage `db:"details" json:"details,omitempty"`
	CreatedAt  time.Time       `db:"created_at" json:"created_at"`
}
