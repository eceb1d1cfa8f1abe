package service

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/ignatzorin/msme-escrow/internal/domain/valueobject"
	"github.com/ignatzorin/msme-escrow/internal/logger"
	"github.com/ignatzorin/msme-escrow/internal/models"
	"github.com/ignatzorin/msme-escrow/internal/pkg/apperror"
	"github.com/ignatzorin/msme-escrow/internal/repository"
	"github.com/ignatzorin/msme-escrow/internal/repository/common"
	"github.com/ignatzorin/msme-escrow/internal/validation"
)

type ApplicationRepository interface {
	Create(ctx context.Context, app *models.Application) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Application, error)
	GetByJobAndProfessional(ctx context.Context, jobID, professionalID uuid.UUID) (*models.Application, error)
	GetAcceptedByJob(ctx context.Context, jobID uuid.UUID) (*models.Application, error)
	ListByJob(ctx context.Context, jobID uuid.UUID) ([]models.Application, error)
	Transition(ctx context.Context, id uuid.UUID, from, to valueobject.ApplicationStatus) (*models.Application, error)
	AcceptAndHire(ctx context.Context, applicationID uuid.UUID, hire repository.JobUpdate, jobID uuid.UUID) (*models.Job, *models.Application, error)
}

// ApplicationService управляет откликами и наймом исполнителя.
type ApplicationService struct {
	apps   ApplicationRepository
	jobs   JobReader
	escrow *EscrowService
	notify *Dispatcher
}

func NewApplicationService(apps ApplicationRepository, jobs JobReader, escrow *EscrowService, notify *Dispatcher) *ApplicationService {
	return &ApplicationService{apps: apps, jobs: jobs, escrow: escrow, notify: notify}
}

// SubmitApplicationInput описывает отклик исполнителя.
type SubmitApplicationInput struct {
	JobID             uuid.UUID
	ProfessionalID    uuid.UUID
	Proposal          string
	BidAmount         float64
	EstimatedDuration *string
	PayoutPhone       string
}

// DecisionResult: результат решения по отклику. SideEffects содержит
// результат запуска оплаты: его неудача не отменяет найм.
type DecisionResult struct {
	Application *models.Application `json:"application"`
	Job         *models.Job         `json:"job"`
	SideEffects []SideEffect        `json:"side_effects,omitempty"`
}

// Submit создаёт отклик в статусе pending.
func (s *ApplicationService) Submit(ctx context.Context, in SubmitApplicationInput) (*models.Application, error) {
	proposal, err := validation.Required("текст отклика", in.Proposal, validation.MaxProposalLength)
	if err != nil {
		return nil, invalidInput(err)
	}
	if in.EstimatedDuration != nil {
		d, err := validation.Optional("срок выполнения", *in.EstimatedDuration, validation.MaxDurationLength)
		if err != nil {
			return nil, invalidInput(err)
		}
		in.EstimatedDuration = optionalString(d)
	}

	job, err := s.jobs.GetByID(ctx, in.JobID)
	if err != nil {
		return nil, err
	}

	if _, err := valueobject.NewMoney(in.BidAmount, job.Currency); err != nil {
		return nil, err
	}

	var payoutPhone *string
	if in.PayoutPhone != "" {
		phone, err := job.Region.NormalizePhone(in.PayoutPhone)
		if err != nil {
			return nil, err
		}
		payoutPhone = &phone
	}

	if job.IsOwnedBy(in.ProfessionalID) {
		return nil, apperror.New(apperror.ErrCodeForbidden, "нельзя откликнуться на собственный заказ")
	}

	if _, err := s.apps.GetByJobAndProfessional(ctx, in.JobID, in.ProfessionalID); err == nil {
		return nil, apperror.ErrDuplicateApplication
	} else if !apperror.IsNotFound(err) {
		return nil, err
	}

	if job.Status != valueobject.JobStatusOpen {
		return nil, apperror.JobNotOpen(string(job.Status))
	}

	app := &models.Application{
		JobID:             in.JobID,
		ProfessionalID:    in.ProfessionalID,
		Proposal:          proposal,
		BidAmount:         in.BidAmount,
		EstimatedDuration: in.EstimatedDuration,
		PayoutPhone:       payoutPhone,
		Status:            valueobject.ApplicationStatusPending,
	}
	if err := s.apps.Create(ctx, app); err != nil {
		return nil, err
	}

	return app, nil
}

// Withdraw отзывает собственный отклик, пока он ожидает решения.
func (s *ApplicationService) Withdraw(ctx context.Context, applicationID, requesterID uuid.UUID) (*models.Application, error) {
	app, err := s.apps.GetByID(ctx, applicationID)
	if err != nil {
		return nil, err
	}
	if app.ProfessionalID != requesterID {
		return nil, apperror.ErrForbidden
	}

	return s.transition(ctx, app, valueobject.ApplicationStatusWithdrawn)
}

// Decide принимает или отклоняет отклик. Принятие в одной транзакции нанимает
// исполнителя, затем запускает оплату; сбой оплаты возвращается в SideEffects.
func (s *ApplicationService) Decide(ctx context.Context, applicationID uuid.UUID, decision valueobject.ApplicationStatus, requesterID uuid.UUID) (*DecisionResult, error) {
	decision, err := valueobject.NewDecision(string(decision))
	if err != nil {
		return nil, err
	}

	app, err := s.apps.GetByID(ctx, applicationID)
	if err != nil {
		return nil, err
	}

	job, err := s.jobs.GetByID(ctx, app.JobID)
	if err != nil {
		return nil, err
	}
	if !job.IsOwnedBy(requesterID) {
		return nil, apperror.ErrForbidden
	}

	if !app.Status.CanTransitionTo(decision) {
		return nil, apperror.InvalidTransition("application", string(app.Status), string(decision))
	}
	if job.Status != valueobject.JobStatusOpen {
		return nil, apperror.JobNotOpen(string(job.Status))
	}

	if decision == valueobject.ApplicationStatusRejected {
		rejected, err := s.transition(ctx, app, decision)
		if err != nil {
			return nil, err
		}
		s.notify.Send(app.ProfessionalID, jobMessage(models.NotificationApplicationRejected,
			"Отклик отклонён", "Клиент выбрал другого исполнителя для заказа «"+job.Title+"»", job.ID))
		return &DecisionResult{Application: rejected, Job: job}, nil
	}

	return s.accept(ctx, app, job)
}

func (s *ApplicationService) accept(ctx context.Context, app *models.Application, job *models.Job) (*DecisionResult, error) {
	professionalID := app.ProfessionalID
	hired, accepted, err := s.apps.AcceptAndHire(ctx, app.ID, repository.JobUpdate{
		ExpectStatus:   []valueobject.JobStatus{valueobject.JobStatusOpen},
		Status:         valueobject.JobStatusInProgress,
		ProfessionalID: &professionalID,
	}, job.ID)
	switch {
	case errors.Is(err, common.ErrJobConflict):
		current, readErr := s.jobs.GetByID(ctx, job.ID)
		if readErr != nil {
			return nil, readErr
		}
		return nil, apperror.JobNotOpen(string(current.Status))
	case errors.Is(err, common.ErrApplicationConflict):
		current, readErr := s.apps.GetByID(ctx, app.ID)
		if readErr != nil {
			return nil, readErr
		}
		return nil, apperror.InvalidTransition("application", string(current.Status), string(valueobject.ApplicationStatusAccepted))
	case err != nil:
		return nil, err
	}

	logger.WithJob(job.ID).WithField("professional_id", professionalID).Info("application accepted, professional hired")

	result := &DecisionResult{Application: accepted, Job: hired}
	effect, pending := s.startPayment(ctx, hired, accepted.BidAmount)
	result.SideEffects = append(result.SideEffects, effect)
	if pending != nil {
		result.Job = pending
	}

	s.notify.Send(professionalID, jobMessage(models.NotificationApplicationAccepted,
		"Отклик принят", "Вас выбрали исполнителем заказа «"+job.Title+"»", job.ID))

	return result, nil
}

// startPayment запускает оплату после найма. Заказ, уже оплаченный
// администратором, повторно не оплачивается.
func (s *ApplicationService) startPayment(ctx context.Context, job *models.Job, amount float64) (SideEffect, *models.Job) {
	if job.PaymentStatus == valueobject.PaymentStatusPaid {
		return skipped(SideEffectEscrowInitiate, "job already marked paid by operator"), nil
	}

	pending, err := s.escrow.Initiate(ctx, job, amount)
	if err != nil {
		return failed(SideEffectEscrowInitiate, err, apperror.IsRetryable(err), map[string]interface{}{"job_id": job.ID}), nil
	}
	return succeeded(SideEffectEscrowInitiate, pending.CurrentCorrelation()), pending
}

func (s *ApplicationService) transition(ctx context.Context, app *models.Application, to valueobject.ApplicationStatus) (*models.Application, error) {
	if !app.Status.CanTransitionTo(to) {
		return nil, apperror.InvalidTransition("application", string(app.Status), string(to))
	}

	updated, err := s.apps.Transition(ctx, app.ID, valueobject.ApplicationStatusPending, to)
	if errors.Is(err, common.ErrApplicationConflict) {
		current, readErr := s.apps.GetByID(ctx, app.ID)
		if readErr != nil {
			return nil, readErr
		}
		return nil, apperror.InvalidTransition("application", string(current.Status), string(to))
	}
	return updated, err
}

// Get возвращает отклик автору или владельцу заказа.
func (s *ApplicationService) Get(ctx context.Context, applicationID uuid.UUID, actor Actor) (*models.Application, error) {
	app, err := s.apps.GetByID(ctx, applicationID)
	if err != nil {
		return nil, err
	}
	if app.ProfessionalID == actor.ID || actor.IsAdmin() {
		return app, nil
	}

	job, err := s.jobs.GetByID(ctx, app.JobID)
	if err != nil {
		return nil, err
	}
	if !job.IsOwnedBy(actor.ID) {
		return nil, apperror.ErrForbidden
	}
	return app, nil
}

// ListForJob возвращает отклики на заказ его владельцу.
func (s *ApplicationService) ListForJob(ctx context.Context, jobID uuid.UUID, actor Actor) ([]models.Application, error) {
	job, err := s.jobs.GetByID(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if !job.IsOwnedBy(actor.ID) && !actor.IsAdmin() {
		return nil, apperror.ErrForbidden
	}
	return s.apps.ListByJob(ctx, jobID)
}
