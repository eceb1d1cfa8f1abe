package service

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/ignatzorin/msme-escrow/internal/domain/valueobject"
	"github.com/ignatzorin/msme-escrow/internal/logger"
	"github.com/ignatzorin/msme-escrow/internal/models"
	"github.com/ignatzorin/msme-escrow/internal/pkg/apperror"
	"github.com/ignatzorin/msme-escrow/internal/repository"
	"github.com/ignatzorin/msme-escrow/internal/repository/common"
	"github.com/ignatzorin/msme-escrow/internal/validation"
)

type DisputeRepository interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Dispute, error)
	GetActiveByJob(ctx context.Context, jobID uuid.UUID) (*models.Dispute, error)
	ListActive(ctx context.Context, limit, offset int) ([]models.Dispute, error)
	Close(ctx context.Context, id uuid.UUID, outcome valueobject.DisputeOutcome, adminID uuid.UUID, notes *string) (*models.Dispute, error)
	SetInvestigating(ctx context.Context, id uuid.UUID, notes *string) (*models.Dispute, error)
	AddEvidence(ctx context.Context, id uuid.UUID, ref string) (*models.Dispute, error)
}

// DisputeService: административное разрешение споров. Деньги двигаются
// только через EscrowService с теми же проверками исходного состояния.
type DisputeService struct {
	disputes DisputeRepository
	jobs     JobReader
	apps     AcceptedApplicationReader
	escrow   *EscrowService
	audit    *AuditService
	notify   *Dispatcher
}

func NewDisputeService(disputes DisputeRepository, jobs JobReader, apps AcceptedApplicationReader, escrow *EscrowService, audit *AuditService, notify *Dispatcher) *DisputeService {
	return &DisputeService{
		disputes: disputes,
		jobs:     jobs,
		apps:     apps,
		escrow:   escrow,
		audit:    audit,
		notify:   notify,
	}
}

// ResolveDisputeResult: итог решения по спору.
type ResolveDisputeResult struct {
	Dispute     *models.Dispute `json:"dispute"`
	Job         *models.Job     `json:"job"`
	SideEffects []SideEffect    `json:"side_effects,omitempty"`
}

// Resolve выплачивает или возвращает средства и закрывает спор. Заказ переходит
// в completed или cancelled в том же условном обновлении, что и эскроу.
func (s *DisputeService) Resolve(ctx context.Context, disputeID uuid.UUID, actor Actor, outcome valueobject.DisputeOutcome, notes string) (*ResolveDisputeResult, error) {
	if !actor.IsAdmin() {
		return nil, apperror.ErrForbidden
	}
	outcome, err := valueobject.NewDisputeOutcome(string(outcome))
	if err != nil {
		return nil, err
	}
	notes, err = validation.Optional("заметки", notes, validation.MaxNotesLength)
	if err != nil {
		return nil, invalidInput(err)
	}

	dispute, err := s.activeDispute(ctx, disputeID)
	if err != nil {
		return nil, err
	}

	job, err := s.jobs.GetByID(ctx, dispute.JobID)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	coupled := repository.JobUpdate{ExpectStatus: []valueobject.JobStatus{valueobject.JobStatusDisputed}}

	var settled *models.Job
	resumed := alreadySettled(job, outcome)
	switch {
	case resumed:
		// Эскроу урегулировано прошлой попыткой, которая не успела закрыть спор.
		settled = job
	case outcome == valueobject.DisputeOutcomeRelease:
		coupled.Status = valueobject.JobStatusCompleted
		coupled.CompletedAt = &now
		settled, err = s.escrow.Release(ctx, job, coupled)
	case outcome == valueobject.DisputeOutcomeRefund:
		coupled.Status = valueobject.JobStatusCancelled
		coupled.ClearProfessional = true
		settled, err = s.escrow.Refund(ctx, job, coupled)
	default:
		return nil, apperror.New(apperror.ErrCodeValidation, "решение по спору должно быть release или refund")
	}
	if err != nil {
		return nil, err
	}

	adminID := actor.ID
	closed, err := s.disputes.Close(ctx, disputeID, outcome, adminID, optionalString(notes))
	if err != nil {
		// Эскроу уже урегулировано; спор остаётся активным до повторного закрытия.
		logger.WithJob(job.ID).WithField("dispute_id", disputeID).WithError(err).Error("dispute settled but not closed")
		if errors.Is(err, common.ErrDisputeConflict) {
			return nil, apperror.ErrDisputeNotFound
		}
		return nil, err
	}

	_ = s.audit.Record(ctx, &adminID, models.AuditActionDisputeResolved, models.AuditTargetDispute, disputeID.String(), map[string]interface{}{
		"job_id":         job.ID,
		"outcome":        outcome,
		"payment_status": settled.PaymentStatus,
		"job_status":     settled.Status,
		"notes":          notes,
	})
	logger.WithJob(job.ID).WithFields(map[string]interface{}{
		"dispute_id": disputeID,
		"outcome":    outcome,
		"admin_id":   adminID,
	}).Info("dispute resolved")

	result := &ResolveDisputeResult{Dispute: closed, Job: settled}
	if outcome == valueobject.DisputeOutcomeRelease && !resumed {
		result.SideEffects = append(result.SideEffects, payoutAfterRelease(ctx, s.escrow, s.apps, settled))
	}

	msg := jobMessage(models.NotificationDisputeResolved, "Спор разрешён",
		"Администратор принял решение по спору о заказе «"+job.Title+"»: "+string(outcome), job.ID)
	s.notify.Send(job.ClientID, msg)
	if professionalID, ok := s.formerProfessional(ctx, job); ok {
		s.notify.Send(professionalID, msg)
	}

	return result, nil
}

// MarkInvestigating отмечает, что администратор взял спор в работу.
func (s *DisputeService) MarkInvestigating(ctx context.Context, disputeID uuid.UUID, actor Actor, notes string) (*models.Dispute, error) {
	if !actor.IsAdmin() {
		return nil, apperror.ErrForbidden
	}
	notes, err := validation.Optional("заметки", notes, validation.MaxNotesLength)
	if err != nil {
		return nil, invalidInput(err)
	}

	dispute, err := s.disputes.SetInvestigating(ctx, disputeID, optionalString(notes))
	if err != nil {
		if errors.Is(err, common.ErrDisputeConflict) {
			current, readErr := s.disputes.GetByID(ctx, disputeID)
			if readErr != nil {
				return nil, readErr
			}
			return nil, apperror.InvalidTransition("dispute", string(current.Status), string(valueobject.DisputeStatusInvestigating))
		}
		return nil, err
	}

	adminID := actor.ID
	_ = s.audit.Record(ctx, &adminID, models.AuditActionDisputeReviewing, models.AuditTargetDispute, disputeID.String(), nil)
	return dispute, nil
}

// AddEvidence прикладывает материал к активному спору. Доступно сторонам заказа.
func (s *DisputeService) AddEvidence(ctx context.Context, disputeID uuid.UUID, actor Actor, ref string) (*models.Dispute, error) {
	ref, err := validation.ValidateReference("ссылка на материал", ref)
	if err != nil {
		return nil, invalidInput(err)
	}

	dispute, err := s.activeDispute(ctx, disputeID)
	if err != nil {
		return nil, err
	}
	job, err := s.jobs.GetByID(ctx, dispute.JobID)
	if err != nil {
		return nil, err
	}
	if !job.IsParticipant(actor.ID) {
		return nil, apperror.ErrForbidden
	}

	updated, err := s.disputes.AddEvidence(ctx, disputeID, ref)
	if errors.Is(err, common.ErrDisputeConflict) {
		return nil, apperror.ErrDisputeNotFound
	}
	return updated, err
}

// Get возвращает спор сторонам заказа и администратору.
func (s *DisputeService) Get(ctx context.Context, disputeID uuid.UUID, actor Actor) (*models.Dispute, error) {
	dispute, err := s.disputes.GetByID(ctx, disputeID)
	if err != nil {
		return nil, err
	}
	if actor.IsAdmin() {
		return dispute, nil
	}

	job, err := s.jobs.GetByID(ctx, dispute.JobID)
	if err != nil {
		return nil, err
	}
	if !job.IsParticipant(actor.ID) {
		return nil, apperror.ErrForbidden
	}
	return dispute, nil
}

// ActiveForJob возвращает нерешённый спор по заказу его сторонам и администратору.
func (s *DisputeService) ActiveForJob(ctx context.Context, jobID uuid.UUID, actor Actor) (*models.Dispute, error) {
	job, err := s.jobs.GetByID(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if !job.IsParticipant(actor.ID) && !actor.IsAdmin() {
		return nil, apperror.ErrForbidden
	}
	return s.disputes.GetActiveByJob(ctx, jobID)
}

// ListOpen возвращает споры, ожидающие решения.
func (s *DisputeService) ListOpen(ctx context.Context, actor Actor, limit, offset int) ([]models.Dispute, error) {
	if !actor.IsAdmin() {
		return nil, apperror.ErrForbidden
	}
	limit, offset = normalizePage(limit, offset)
	return s.disputes.ListActive(ctx, limit, offset)
}

// formerProfessional находит исполнителя и тогда, когда возврат уже снял его с заказа.
func (s *DisputeService) formerProfessional(ctx context.Context, job *models.Job) (uuid.UUID, bool) {
	if job.ProfessionalID != nil {
		return *job.ProfessionalID, true
	}
	app, err := s.apps.GetAcceptedByJob(ctx, job.ID)
	if err != nil {
		return uuid.Nil, false
	}
	return app.ProfessionalID, true
}

func alreadySettled(job *models.Job, outcome valueobject.DisputeOutcome) bool {
	switch outcome {
	case valueobject.DisputeOutcomeRelease:
		return job.Status == valueobject.JobStatusCompleted && job.PaymentStatus == valueobject.PaymentStatusReleased
	case valueobject.DisputeOutcomeRefund:
		return job.Status == valueobject.JobStatusCancelled && job.PaymentStatus == valueobject.PaymentStatusRefunded
	}
	return false
}

// activeDispute возвращает спор, только если он ещё ждёт решения.
func (s *DisputeService) activeDispute(ctx context.Context, disputeID uuid.UUID) (*models.Dispute, error) {
	dispute, err := s.disputes.GetByID(ctx, disputeID)
	if err != nil {
		return nil, err
	}
	if !dispute.Status.IsActive() {
		return nil, apperror.ErrDisputeNotFound
	}
	return dispute, nil
}
