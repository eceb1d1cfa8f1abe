package repository

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ignatzorin/msme-escrow/internal/domain/valueobject"
	"github.com/ignatzorin/msme-escrow/internal/models"
	"github.com/ignatzorin/msme-escrow/internal/repository/common"
)

// JobUpdate описывает условное обновление заказа: поля Expect* задают предусловие,
// остальные задают изменения. Пустые значения не проверяются и не меняются.
type JobUpdate struct {
	ExpectStatus        []valueobject.JobStatus
	ExpectPaymentStatus []valueobject.PaymentStatus
	ExpectCorrelationID string

	Status         valueobject.JobStatus
	PaymentStatus  valueobject.PaymentStatus
	ProfessionalID *uuid.UUID
	CorrelationID  *string
	EscrowAmount   *float64
	PaymentReceipt *string
	DeliverableRef *string
	SubmittedAt    *time.Time
	CompletedAt    *time.Time
	PaidAt         *time.Time

	// ClearProfessional снимает исполнителя; вместе с ProfessionalID не используется.
	ClearProfessional bool
}

// Matches проверяет предусловие на уже прочитанной записи.
func (u JobUpdate) Matches(job *models.Job) bool {
	if len(u.ExpectStatus) > 0 && !valueobject.Contains(u.ExpectStatus, job.Status) {
		return false
	}
	if len(u.ExpectPaymentStatus) > 0 && !valueobject.Contains(u.ExpectPaymentStatus, job.PaymentStatus) {
		return false
	}
	if u.ExpectCorrelationID != "" && !job.HasCorrelation(u.ExpectCorrelationID) {
		return false
	}
	return true
}

// Apply переносит изменения на запись в памяти.
func (u JobUpdate) Apply(job *models.Job, now time.Time) {
	if u.Status != "" {
		job.Status = u.Status
	}
	if u.PaymentStatus != "" {
		job.PaymentStatus = u.PaymentStatus
	}
	if u.ProfessionalID != nil {
		id := *u.ProfessionalID
		job.ProfessionalID = &id
	}
	if u.ClearProfessional {
		job.ProfessionalID = nil
	}
	if u.CorrelationID != nil {
		v := *u.CorrelationID
		job.CorrelationID = &v
	}
	if u.EscrowAmount != nil {
		job.EscrowAmount = *u.EscrowAmount
	}
	if u.PaymentReceipt != nil {
		v := *u.PaymentReceipt
		job.PaymentReceipt = &v
	}
	if u.DeliverableRef != nil {
		v := *u.DeliverableRef
		job.DeliverableRef = &v
	}
	if u.SubmittedAt != nil {
		t := *u.SubmittedAt
		job.SubmittedAt = &t
	}
	if u.CompletedAt != nil {
		t := *u.CompletedAt
		job.CompletedAt = &t
	}
	if u.PaidAt != nil {
		t := *u.PaidAt
		job.PaidAt = &t
	}
	job.UpdatedAt = now
}

// toSQL строит UPDATE ... WHERE <предусловие> RETURNING *.
func (u JobUpdate) toSQL(id uuid.UUID) (string, []interface{}) {
	args := []interface{}{id}
	sets := []string{"updated_at = NOW()"}

	set := func(column string, value interface{}) {
		args = append(args, value)
		sets = append(sets, fmt.Sprintf("%s = $%d", column, len(args)))
	}

	if u.Status != "" {
		set("status", string(u.Status))
	}
	if u.PaymentStatus != "" {
		set("payment_status", string(u.PaymentStatus))
	}
	if u.ProfessionalID != nil {
		set("professional_id", *u.ProfessionalID)
	}
	if u.ClearProfessional {
		sets = append(sets, "professional_id = NULL")
	}
	if u.CorrelationID != nil {
		set("correlation_id", *u.CorrelationID)
	}
	if u.EscrowAmount != nil {
		set("escrow_amount", *u.EscrowAmount)
	}
	if u.PaymentReceipt != nil {
		set("payment_receipt", *u.PaymentReceipt)
	}
	if u.DeliverableRef != nil {
		set("deliverable_ref", *u.DeliverableRef)
	}
	if u.SubmittedAt != nil {
		set("submitted_at", *u.SubmittedAt)
	}
	if u.CompletedAt != nil {
		set("completed_at", *u.CompletedAt)
	}
	if u.PaidAt != nil {
		set("paid_at", *u.PaidAt)
	}

	where := []string{"id = $1"}
	if len(u.ExpectStatus) > 0 {
		args = append(args, common.StringArray(u.ExpectStatus))
		where = append(where, fmt.Sprintf("status = ANY($%d)", len(args)))
	}
	if len(u.ExpectPaymentStatus) > 0 {
		args = append(args, common.StringArray(u.ExpectPaymentStatus))
		where = append(where, fmt.Sprintf("payment_status = ANY($%d)", len(args)))
	}
	if u.ExpectCorrelationID != "" {
		args = append(args, u.ExpectCorrelationID)
		where = append(where, fmt.Sprintf("correlation_id = $%d", len(args)))
	}

	query := fmt.Sprintf("UPDATE jobs SET %s WHERE %s RETURNING *",
		strings.Join(sets, ", "), strings.Join(where, " AND "))
	return query, args
}
