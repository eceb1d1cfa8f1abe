package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ignatzorin/msme-escrow/internal/domain/valueobject"
	"github.com/ignatzorin/msme-escrow/internal/gateway"
	"github.com/ignatzorin/msme-escrow/internal/logger"
	"github.com/ignatzorin/msme-escrow/internal/models"
	"github.com/ignatzorin/msme-escrow/internal/pkg/apperror"
	"github.com/ignatzorin/msme-escrow/internal/repository"
	"github.com/ignatzorin/msme-escrow/internal/repository/common"
)

// EscrowRepository хранит транзакции шлюза и меняет их вместе с заказом.
type EscrowRepository interface {
	Open(ctx context.Context, record *models.EscrowTransaction, update repository.JobUpdate) (*models.Job, error)
	Settle(ctx context.Context, jobID uuid.UUID, txUpdate repository.TransactionUpdate, jobUpdate repository.JobUpdate) (*models.Job, *models.EscrowTransaction, error)
	GetByCorrelationID(ctx context.Context, correlationID string) (*models.EscrowTransaction, error)
	ListByJob(ctx context.Context, jobID uuid.UUID) ([]models.EscrowTransaction, error)
}

// JobReader читает актуальное состояние заказа.
type JobReader interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Job, error)
}

// PaymentGateway: исходящие вызовы шлюза мобильных платежей.
type PaymentGateway interface {
	STKPush(ctx context.Context, req gateway.STKPushRequest) (*gateway.STKPushResponse, error)
	Disburse(ctx context.Context, req gateway.DisburseRequest) (*gateway.DisburseResponse, error)
}

// EscrowService: единственное место, где меняется платёжный статус заказа.
// Все переходы выполняются условными обновлениями по исходному состоянию.
type EscrowService struct {
	repo    EscrowRepository
	jobs    JobReader
	gateway PaymentGateway
	audit   *AuditService
	now     func() time.Time
}

func NewEscrowService(repo EscrowRepository, jobs JobReader, gw PaymentGateway, audit *AuditService) *EscrowService {
	return &EscrowService{
		repo:    repo,
		jobs:    jobs,
		gateway: gw,
		audit:   audit,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Initiate запрашивает у шлюза списание amount с телефона клиента и переводит
// заказ в PENDING_STK. При ошибке шлюза состояние не меняется.
func (s *EscrowService) Initiate(ctx context.Context, job *models.Job, amount float64) (*models.Job, error) {
	source := job.PaymentStatus
	if !source.CanTransitionTo(valueobject.PaymentStatusPendingSTK) {
		return nil, apperror.InvalidTransition("payment", string(source), string(valueobject.PaymentStatusPendingSTK))
	}
	if job.Status.IsTerminal() {
		return nil, apperror.InvalidTransition("job", string(job.Status), string(valueobject.PaymentStatusPendingSTK))
	}

	money, err := valueobject.NewMoney(amount, job.Currency)
	if err != nil {
		return nil, err
	}

	reference := newAccountReference()
	log := logger.WithJob(job.ID).WithField("account_reference", reference)

	resp, err := s.gateway.STKPush(ctx, gateway.STKPushRequest{
		Phone:            job.PayerPhone,
		Amount:           money.GatewayAmount(),
		AccountReference: reference,
		Description:      "Escrow " + reference,
	})
	if err != nil {
		log.WithError(err).Warn("escrow: stk push failed")
		return nil, apperror.GatewayUnavailable(err)
	}

	correlationID := resp.CheckoutRequestID
	record := &models.EscrowTransaction{
		JobID:            job.ID,
		CorrelationID:    correlationID,
		AccountReference: reference,
		Amount:           money.Amount,
		Phone:            job.PayerPhone,
		State:            valueobject.TransactionStatePending,
	}

	updated, err := s.repo.Open(ctx, record, repository.JobUpdate{
		ExpectPaymentStatus: []valueobject.PaymentStatus{source},
		PaymentStatus:       valueobject.PaymentStatusPendingSTK,
		CorrelationID:       &correlationID,
	})
	if err != nil {
		if errors.Is(err, common.ErrJobConflict) {
			// Запрос в шлюз уже ушёл; его уведомление будет отброшено как неизвестное.
			log.WithField("correlation_id", correlationID).Warn("escrow: job changed during initiation")
			_ = s.audit.Record(ctx, nil, models.AuditActionInitiationOrphaned, models.AuditTargetTransaction, correlationID,
				map[string]interface{}{
					"job_id":            job.ID,
					"amount":            money.Amount,
					"account_reference": reference,
				})
			return nil, s.paymentConflict(ctx, job, valueobject.PaymentStatusPendingSTK)
		}
		if errors.Is(err, common.ErrAlreadyExists) {
			// Шлюз вернул уже известный CheckoutRequestID: такую попытку нельзя сопоставить с уведомлением.
			log.WithField("correlation_id", correlationID).Error("escrow: gateway reused correlation id")
			return nil, apperror.GatewayUnavailable(fmt.Errorf("correlation id %s already recorded: %w", correlationID, err))
		}
		return nil, err
	}

	log.WithField("correlation_id", correlationID).Info("escrow: payment requested")
	return updated, nil
}

// ResolveInput: результат транзакции, сообщённый шлюзом.
type ResolveInput struct {
	CorrelationID string
	Success       bool
	Receipt       string
	ResultCode    int
	ResultDesc    string
	Amount        *float64
}

// ResolveResult сообщает, была ли транзакция разрешена этим вызовом.
type ResolveResult struct {
	Applied     bool
	Job         *models.Job
	Transaction *models.EscrowTransaction
}

// Resolve применяет результат транзакции ровно один раз. Повторный вызов для
// уже разрешённой транзакции ничего не меняет и не считается ошибкой.
func (s *EscrowService) Resolve(ctx context.Context, in ResolveInput) (*ResolveResult, error) {
	record, err := s.repo.GetByCorrelationID(ctx, in.CorrelationID)
	if err != nil {
		return nil, err
	}
	if record.State.IsResolved() {
		return &ResolveResult{Transaction: record}, nil
	}

	log := logger.WithJob(record.JobID).WithField("correlation_id", in.CorrelationID)
	if in.Success && in.Amount != nil && *in.Amount != math.Ceil(record.Amount) {
		log.WithFields(map[string]interface{}{
			"expected": record.Amount,
			"reported": *in.Amount,
		}).Warn("escrow: reported amount differs from requested")
	}

	code, desc := in.ResultCode, in.ResultDesc
	txUpdate := repository.TransactionUpdate{
		CorrelationID: in.CorrelationID,
		From:          valueobject.TransactionStatePending,
		To:            valueobject.TransactionStateFailed,
		ResultCode:    &code,
		ResultDesc:    &desc,
	}
	jobUpdate := repository.JobUpdate{
		ExpectPaymentStatus: []valueobject.PaymentStatus{valueobject.PaymentStatusPendingSTK},
		ExpectCorrelationID: in.CorrelationID,
		PaymentStatus:       valueobject.PaymentStatusFailed,
	}

	if in.Success {
		amount := record.Amount
		txUpdate.To = valueobject.TransactionStateHeld
		jobUpdate.PaymentStatus = valueobject.PaymentStatusEscrowHeld
		jobUpdate.EscrowAmount = &amount
		if in.Receipt != "" {
			receipt := in.Receipt
			txUpdate.Receipt = &receipt
			jobUpdate.PaymentReceipt = &receipt
		}
	}

	job, settled, err := s.repo.Settle(ctx, record.JobID, txUpdate, jobUpdate)
	switch {
	case errors.Is(err, common.ErrTransactionConflict):
		// Параллельная доставка того же уведомления успела раньше.
		return &ResolveResult{Transaction: record}, nil
	case errors.Is(err, common.ErrJobConflict):
		current, readErr := s.jobs.GetByID(ctx, record.JobID)
		if readErr != nil {
			return nil, readErr
		}
		log.WithFields(map[string]interface{}{
			"payment_status": current.PaymentStatus,
			"current":        current.CurrentCorrelation(),
		}).Warn("escrow: job no longer awaits this transaction")
		return nil, apperror.InvalidTransition("payment", string(current.PaymentStatus), string(jobUpdate.PaymentStatus))
	case err != nil:
		return nil, err
	}

	log.WithField("payment_status", job.PaymentStatus).Info("escrow: transaction resolved")
	return &ResolveResult{Applied: true, Job: job, Transaction: settled}, nil
}

// Release выплачивает удерживаемые средства. coupled задаёт изменение статуса
// заказа, которое должно произойти в том же условном обновлении.
func (s *EscrowService) Release(ctx context.Context, job *models.Job, coupled repository.JobUpdate) (*models.Job, error) {
	now := s.now()
	coupled.PaidAt = &now
	return s.settleHeld(ctx, job, valueobject.PaymentStatusReleased, valueobject.TransactionStateReleased, coupled)
}

// Refund возвращает удерживаемые средства клиенту и обнуляет сумму эскроу.
func (s *EscrowService) Refund(ctx context.Context, job *models.Job, coupled repository.JobUpdate) (*models.Job, error) {
	zero := 0.0
	coupled.EscrowAmount = &zero
	return s.settleHeld(ctx, job, valueobject.PaymentStatusRefunded, valueobject.TransactionStateRefunded, coupled)
}

func (s *EscrowService) settleHeld(ctx context.Context, job *models.Job, target valueobject.PaymentStatus, txState valueobject.TransactionState, coupled repository.JobUpdate) (*models.Job, error) {
	if err := heldPrecondition(job.PaymentStatus, target); err != nil {
		return nil, err
	}

	correlationID := job.CurrentCorrelation()
	update := coupled
	update.ExpectPaymentStatus = []valueobject.PaymentStatus{valueobject.PaymentStatusEscrowHeld}
	update.ExpectCorrelationID = correlationID
	update.PaymentStatus = target

	updated, _, err := s.repo.Settle(ctx, job.ID, repository.TransactionUpdate{
		CorrelationID: correlationID,
		From:          valueobject.TransactionStateHeld,
		To:            txState,
	}, update)
	if err != nil {
		if errors.Is(err, common.ErrStateConflict) {
			return nil, s.settleConflict(ctx, job.ID, target, coupled)
		}
		return nil, err
	}

	logger.WithJob(job.ID).WithFields(map[string]interface{}{
		"payment_status": target,
		"status":         updated.Status,
	}).Info("escrow: settled")
	return updated, nil
}

// heldPrecondition: повторная выплата или возврат считается недопустимым переходом,
// остальные состояния означают, что средства не удерживаются.
func heldPrecondition(current, target valueobject.PaymentStatus) error {
	switch {
	case current == valueobject.PaymentStatusEscrowHeld:
		return nil
	case current.IsSettled():
		return apperror.InvalidTransition("payment", string(current), string(target))
	default:
		return apperror.EscrowNotHeld(string(current))
	}
}

// settleConflict объясняет, почему условное обновление не применилось, по свежему состоянию заказа.
func (s *EscrowService) settleConflict(ctx context.Context, jobID uuid.UUID, target valueobject.PaymentStatus, coupled repository.JobUpdate) error {
	current, err := s.jobs.GetByID(ctx, jobID)
	if err != nil {
		return err
	}
	if err := heldPrecondition(current.PaymentStatus, target); err != nil {
		return err
	}
	if coupled.Status != "" {
		return apperror.InvalidTransition("job", string(current.Status), string(coupled.Status))
	}
	return apperror.InvalidTransition("payment", string(current.PaymentStatus), string(target))
}

func (s *EscrowService) paymentConflict(ctx context.Context, job *models.Job, target valueobject.PaymentStatus) error {
	current, err := s.jobs.GetByID(ctx, job.ID)
	if err != nil {
		return apperror.InvalidTransition("payment", string(job.PaymentStatus), string(target))
	}
	return apperror.InvalidTransition("payment", string(current.PaymentStatus), string(target))
}

// Disburse запрашивает выплату B2C исполнителю после release. Ошибка не меняет
// состояние заказа и возвращается как побочный результат.
func (s *EscrowService) Disburse(ctx context.Context, job *models.Job, payoutPhone string) SideEffect {
	fields := map[string]interface{}{"job_id": job.ID}

	if job.PaymentStatus != valueobject.PaymentStatusReleased {
		return skipped(SideEffectPayout, fmt.Sprintf("payment status %s", job.PaymentStatus))
	}
	if payoutPhone == "" {
		return skipped(SideEffectPayout, "payout phone not set")
	}

	amount := int64(math.Ceil(job.EscrowAmount))
	resp, err := s.gateway.Disburse(ctx, gateway.DisburseRequest{
		Phone:    payoutPhone,
		Amount:   amount,
		Remarks:  "Job payout",
		Occasion: job.ID.String(),
	})
	if err != nil {
		_ = s.audit.Record(ctx, nil, models.AuditActionPayoutFailed, models.AuditTargetJob, job.ID.String(),
			map[string]interface{}{"amount": amount, "error": err.Error()})
		return failed(SideEffectPayout, apperror.GatewayUnavailable(err), true, fields)
	}

	_ = s.audit.Record(ctx, nil, models.AuditActionPayoutRequested, models.AuditTargetJob, job.ID.String(),
		map[string]interface{}{"amount": amount, "conversation_id": resp.ConversationID})
	return succeeded(SideEffectPayout, resp.ConversationID)
}

// History возвращает все попытки оплаты заказа.
func (s *EscrowService) History(ctx context.Context, jobID uuid.UUID) ([]models.EscrowTransaction, error) {
	return s.repo.ListByJob(ctx, jobID)
}

// newAccountReference: короткая ссылка для плательщика, уникальная для каждой попытки.
func newAccountReference() string {
	id := strings.ReplaceAll(uuid.NewString(), "-", "")
	return "JOB" + strings.ToUpper(id[:9])
}
