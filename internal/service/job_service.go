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

type JobRepository interface {
	Create(ctx context.Context, job *models.Job) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Job, error)
	Transition(ctx context.Context, id uuid.UUID, update repository.JobUpdate) (*models.Job, error)
	ListByClient(ctx context.Context, clientID uuid.UUID, limit, offset int) ([]models.Job, error)
	ListByProfessional(ctx context.Context, professionalID uuid.UUID, limit, offset int) ([]models.Job, error)
	ListOpen(ctx context.Context, limit, offset int) ([]models.Job, error)
}

// DisputeOpener переводит заказ в спор вместе с созданием записи спора.
type DisputeOpener interface {
	OpenWithJob(ctx context.Context, d *models.Dispute, update repository.JobUpdate) (*models.Job, error)
}

// AcceptedApplicationReader возвращает принятый отклик заказа.
type AcceptedApplicationReader interface {
	GetAcceptedByJob(ctx context.Context, jobID uuid.UUID) (*models.Application, error)
}

// JobService управляет жизненным циклом заказа и вызывает эскроу при оплате и выплате.
type JobService struct {
	jobs       JobRepository
	apps       AcceptedApplicationReader
	disputes   DisputeOpener
	escrow     *EscrowService
	audit      *AuditService
	notify     *Dispatcher
	moderation bool
}

func NewJobService(jobs JobRepository, apps AcceptedApplicationReader, disputes DisputeOpener, escrow *EscrowService, audit *AuditService, notify *Dispatcher, moderation bool) *JobService {
	return &JobService{
		jobs:       jobs,
		apps:       apps,
		disputes:   disputes,
		escrow:     escrow,
		audit:      audit,
		notify:     notify,
		moderation: moderation,
	}
}

// CreateJobInput описывает новый заказ.
type CreateJobInput struct {
	ClientID    uuid.UUID
	Title       string
	Description string
	Budget      float64
	Region      string
	PayerPhone  string
}

// ReleaseResult: результат выплаты: заказ и побочные действия после неё.
type ReleaseResult struct {
	Job         *models.Job  `json:"job"`
	SideEffects []SideEffect `json:"side_effects,omitempty"`
}

// CreateJob создаёт заказ. При включённой модерации заказ ждёт одобрения администратора.
func (s *JobService) CreateJob(ctx context.Context, in CreateJobInput) (*models.Job, error) {
	title, description, err := validation.ValidateJobText(in.Title, in.Description)
	if err != nil {
		return nil, invalidInput(err)
	}

	region, err := valueobject.NewRegion(in.Region)
	if err != nil {
		return nil, err
	}
	budget, err := valueobject.NewMoney(in.Budget, region.Currency())
	if err != nil {
		return nil, err
	}
	phone, err := region.NormalizePhone(in.PayerPhone)
	if err != nil {
		return nil, err
	}

	status := valueobject.JobStatusOpen
	if s.moderation {
		status = valueobject.JobStatusPendingApproval
	}

	job := &models.Job{
		ClientID:      in.ClientID,
		Title:         title,
		Description:   description,
		Budget:        budget.Amount,
		Region:        region,
		Currency:      budget.Currency,
		PayerPhone:    phone,
		Status:        status,
		PaymentStatus: valueobject.PaymentStatusUnpaid,
	}
	if err := s.jobs.Create(ctx, job); err != nil {
		return nil, err
	}

	logger.WithJob(job.ID).WithField("status", job.Status).Info("job created")
	return job, nil
}

// Get возвращает заказ. Открытые заказы видны всем, остальные только участникам и администратору.
func (s *JobService) Get(ctx context.Context, jobID uuid.UUID, actor Actor) (*models.Job, error) {
	job, err := s.jobs.GetByID(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.Status == valueobject.JobStatusOpen || job.IsParticipant(actor.ID) || actor.IsAdmin() {
		return job, nil
	}
	return nil, apperror.ErrForbidden
}

// ListMine возвращает заказы пользователя: исполнителю назначенные, клиенту созданные.
func (s *JobService) ListMine(ctx context.Context, actor Actor, limit, offset int) ([]models.Job, error) {
	limit, offset = normalizePage(limit, offset)
	if actor.Role == RoleProfessional {
		return s.jobs.ListByProfessional(ctx, actor.ID, limit, offset)
	}
	return s.jobs.ListByClient(ctx, actor.ID, limit, offset)
}

func (s *JobService) ListOpen(ctx context.Context, limit, offset int) ([]models.Job, error) {
	limit, offset = normalizePage(limit, offset)
	return s.jobs.ListOpen(ctx, limit, offset)
}

// SubmitWork сдаёт результат работы на проверку клиенту.
func (s *JobService) SubmitWork(ctx context.Context, jobID, professionalID uuid.UUID, deliverableRef string) (*models.Job, error) {
	deliverableRef, err := validation.ValidateReference("ссылка на результат", deliverableRef)
	if err != nil {
		return nil, invalidInput(err)
	}

	job, err := s.jobs.GetByID(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if !job.IsAssignedTo(professionalID) {
		return nil, apperror.ErrForbidden
	}

	target := valueobject.JobStatusUnderReview
	if job.Status != valueobject.JobStatusInProgress {
		return nil, apperror.InvalidTransition("job", string(job.Status), string(target))
	}

	now := time.Now().UTC()
	updated, err := s.transition(ctx, jobID, target, repository.JobUpdate{
		ExpectStatus:   []valueobject.JobStatus{valueobject.JobStatusInProgress},
		Status:         target,
		DeliverableRef: &deliverableRef,
		SubmittedAt:    &now,
	})
	if err != nil {
		return nil, err
	}

	s.notify.Send(job.ClientID, jobMessage(models.NotificationWorkSubmitted,
		"Работа сдана", "Исполнитель сдал работу по заказу «"+job.Title+"»", job.ID))
	return updated, nil
}

// ApproveAndRelease принимает работу и выплачивает эскроу одним условным обновлением:
// если средства не удерживаются, заказ не меняется.
func (s *JobService) ApproveAndRelease(ctx context.Context, jobID, clientID uuid.UUID) (*ReleaseResult, error) {
	job, err := s.jobs.GetByID(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if !job.IsOwnedBy(clientID) {
		return nil, apperror.ErrForbidden
	}

	target := valueobject.JobStatusCompleted
	if job.Status != valueobject.JobStatusUnderReview {
		return nil, apperror.InvalidTransition("job", string(job.Status), string(target))
	}

	now := time.Now().UTC()
	released, err := s.escrow.Release(ctx, job, repository.JobUpdate{
		ExpectStatus: []valueobject.JobStatus{valueobject.JobStatusUnderReview},
		Status:       target,
		CompletedAt:  &now,
	})
	if err != nil {
		return nil, err
	}

	result := &ReleaseResult{Job: released}
	result.SideEffects = append(result.SideEffects, payoutAfterRelease(ctx, s.escrow, s.apps, released))

	if released.ProfessionalID != nil {
		s.notify.Send(*released.ProfessionalID, jobMessage(models.NotificationPaymentReleased,
			"Оплата выплачена", "Клиент принял работу по заказу «"+job.Title+"»", job.ID))
	}
	return result, nil
}

// AdminApprove: ручное одобрение оператором: заказ открывается и помечается
// оплаченным без транзакции шлюза. Действие всегда попадает в журнал аудита.
func (s *JobService) AdminApprove(ctx context.Context, jobID uuid.UUID, actor Actor) (*models.Job, error) {
	if !actor.IsAdmin() {
		return nil, apperror.ErrForbidden
	}

	job, err := s.jobs.GetByID(ctx, jobID)
	if err != nil {
		return nil, err
	}

	approvable := []valueobject.JobStatus{valueobject.JobStatusPendingApproval, valueobject.JobStatusOpen}
	unpaid := []valueobject.PaymentStatus{valueobject.PaymentStatusUnpaid, valueobject.PaymentStatusFailed}
	if !valueobject.Contains(approvable, job.Status) {
		return nil, apperror.InvalidTransition("job", string(job.Status), string(valueobject.JobStatusOpen))
	}
	if !valueobject.Contains(unpaid, job.PaymentStatus) {
		return nil, apperror.InvalidTransition("payment", string(job.PaymentStatus), string(valueobject.PaymentStatusPaid))
	}

	now := time.Now().UTC()
	updated, err := s.jobs.Transition(ctx, jobID, repository.JobUpdate{
		ExpectStatus:        approvable,
		ExpectPaymentStatus: unpaid,
		Status:              valueobject.JobStatusOpen,
		PaymentStatus:       valueobject.PaymentStatusPaid,
		PaidAt:              &now,
	})
	if errors.Is(err, common.ErrJobConflict) {
		current, readErr := s.jobs.GetByID(ctx, jobID)
		if readErr != nil {
			return nil, readErr
		}
		return nil, apperror.InvalidTransition("payment", string(current.PaymentStatus), string(valueobject.PaymentStatusPaid))
	}
	if err != nil {
		return nil, err
	}

	adminID := actor.ID
	_ = s.audit.Record(ctx, &adminID, models.AuditActionAdminApprove, models.AuditTargetJob, jobID.String(), map[string]interface{}{
		"from_status":         job.Status,
		"from_payment_status": job.PaymentStatus,
		"to_payment_status":   updated.PaymentStatus,
	})
	logger.WithJob(jobID).WithField("admin_id", adminID).Warn("job approved and marked paid by operator")

	return updated, nil
}

// RaiseDispute открывает спор по заказу. Заказ переходит в disputed
// в той же транзакции, что и создание спора.
func (s *JobService) RaiseDispute(ctx context.Context, jobID, requesterID uuid.UUID, reason string) (*models.Dispute, error) {
	reason, err := validation.Required("причина спора", reason, validation.MaxDisputeReasonLength)
	if err != nil {
		return nil, invalidInput(err)
	}

	job, err := s.jobs.GetByID(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if !job.IsParticipant(requesterID) {
		return nil, apperror.ErrForbidden
	}

	disputable := []valueobject.JobStatus{valueobject.JobStatusInProgress, valueobject.JobStatusUnderReview}
	if !valueobject.Contains(disputable, job.Status) {
		return nil, apperror.InvalidTransition("job", string(job.Status), string(valueobject.JobStatusDisputed))
	}

	dispute := &models.Dispute{
		JobID:    jobID,
		RaisedBy: requesterID,
		Reason:   reason,
		Region:   job.Region,
		Currency: job.Currency,
		Status:   valueobject.DisputeStatusOpen,
		Evidence: []string{},
	}
	_, err = s.disputes.OpenWithJob(ctx, dispute, repository.JobUpdate{
		ExpectStatus: disputable,
		Status:       valueobject.JobStatusDisputed,
	})
	switch {
	case errors.Is(err, common.ErrJobConflict):
		return nil, s.conflict(ctx, jobID, valueobject.JobStatusDisputed)
	case errors.Is(err, common.ErrDisputeConflict):
		return nil, apperror.New(apperror.ErrCodeConflict, "по заказу уже открыт спор")
	case err != nil:
		return nil, err
	}

	other := job.ClientID
	if job.IsOwnedBy(requesterID) && job.ProfessionalID != nil {
		other = *job.ProfessionalID
	}
	s.notify.Send(other, jobMessage(models.NotificationDisputeRaised,
		"Открыт спор", "По заказу «"+job.Title+"» открыт спор", job.ID))

	return dispute, nil
}

// RetryPayment повторно запрашивает оплату, если предыдущая попытка не удалась
// или не была запущена при найме.
func (s *JobService) RetryPayment(ctx context.Context, jobID, clientID uuid.UUID) (*models.Job, error) {
	job, err := s.jobs.GetByID(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if !job.IsOwnedBy(clientID) {
		return nil, apperror.ErrForbidden
	}

	active := []valueobject.JobStatus{valueobject.JobStatusInProgress, valueobject.JobStatusUnderReview}
	if !valueobject.Contains(active, job.Status) {
		return nil, apperror.InvalidTransition("job", string(job.Status), string(valueobject.PaymentStatusPendingSTK))
	}

	app, err := s.apps.GetAcceptedByJob(ctx, jobID)
	if err != nil {
		return nil, err
	}

	return s.escrow.Initiate(ctx, job, app.BidAmount)
}

// CancelJob отменяет заказ, пока исполнитель не нанят.
func (s *JobService) CancelJob(ctx context.Context, jobID, clientID uuid.UUID) (*models.Job, error) {
	job, err := s.jobs.GetByID(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if !job.IsOwnedBy(clientID) {
		return nil, apperror.ErrForbidden
	}

	target := valueobject.JobStatusCancelled
	if job.Status == valueobject.JobStatusDisputed || !job.Status.CanTransitionTo(target) {
		return nil, apperror.InvalidTransition("job", string(job.Status), string(target))
	}

	// Деньги в пути или на эскроу не дают отменить заказ в обход refund.
	idle := []valueobject.PaymentStatus{valueobject.PaymentStatusUnpaid, valueobject.PaymentStatusFailed, valueobject.PaymentStatusPaid}
	if !valueobject.Contains(idle, job.PaymentStatus) {
		return nil, apperror.InvalidTransition("payment", string(job.PaymentStatus), string(target))
	}

	return s.transition(ctx, jobID, target, repository.JobUpdate{
		ExpectStatus:        []valueobject.JobStatus{valueobject.JobStatusOpen, valueobject.JobStatusPendingApproval},
		ExpectPaymentStatus: idle,
		Status:              target,
	})
}

// PaymentHistory возвращает попытки оплаты заказа его участникам и администратору.
func (s *JobService) PaymentHistory(ctx context.Context, jobID uuid.UUID, actor Actor) ([]models.EscrowTransaction, error) {
	job, err := s.jobs.GetByID(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if !job.IsParticipant(actor.ID) && !actor.IsAdmin() {
		return nil, apperror.ErrForbidden
	}
	return s.escrow.History(ctx, jobID)
}

func (s *JobService) transition(ctx context.Context, jobID uuid.UUID, target valueobject.JobStatus, update repository.JobUpdate) (*models.Job, error) {
	updated, err := s.jobs.Transition(ctx, jobID, update)
	if errors.Is(err, common.ErrJobConflict) {
		return nil, s.conflict(ctx, jobID, target)
	}
	return updated, err
}

// conflict строит ошибку перехода по свежему состоянию заказа.
func (s *JobService) conflict(ctx context.Context, jobID uuid.UUID, target valueobject.JobStatus) error {
	current, err := s.jobs.GetByID(ctx, jobID)
	if err != nil {
		return err
	}
	return apperror.InvalidTransition("job", string(current.Status), string(target))
}

// payoutAfterRelease запрашивает выплату исполнителю на телефон из принятого отклика.
func payoutAfterRelease(ctx context.Context, escrow *EscrowService, apps AcceptedApplicationReader, job *models.Job) SideEffect {
	app, err := apps.GetAcceptedByJob(ctx, job.ID)
	if err != nil {
		if apperror.IsNotFound(err) {
			return skipped(SideEffectPayout, "no accepted application")
		}
		return failed(SideEffectPayout, err, false, map[string]interface{}{"job_id": job.ID})
	}

	phone := ""
	if app.PayoutPhone != nil {
		phone = *app.PayoutPhone
	}
	return escrow.Disburse(ctx, job, phone)
}

func normalizePage(limit, offset int) (int, int) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}
