package service

import (
	"context"
	"encoding/json"

	"github.com/ignatzorin/msme-escrow/internal/gateway"
	"github.com/ignatzorin/msme-escrow/internal/logger"
	"github.com/ignatzorin/msme-escrow/internal/models"
	"github.com/ignatzorin/msme-escrow/internal/pkg/apperror"
)

// Итог обработки уведомления шлюза. Шлюзу в любом случае отвечают подтверждением.
type CallbackOutcome string

const (
	CallbackApplied   CallbackOutcome = "applied"
	CallbackDuplicate CallbackOutcome = "duplicate"
	CallbackDiscarded CallbackOutcome = "discarded"
	CallbackFailed    CallbackOutcome = "failed"
)

// CorrelatedJobReader ищет заказ по идентификатору транзакции шлюза.
type CorrelatedJobReader interface {
	GetByCorrelationID(ctx context.Context, correlationID string) (*models.Job, error)
}

// CallbackInput: уведомление шлюза о результате STK push.
type CallbackInput struct {
	CorrelationID string
	ResultCode    int
	ResultDesc    string
	Receipt       string
	Amount        *float64
}

// CallbackInputFromSTK переводит разобранное уведомление шлюза во входные данные сверки.
func CallbackInputFromSTK(cb *gateway.STKCallback) CallbackInput {
	return CallbackInput{
		CorrelationID: cb.CheckoutRequestID,
		ResultCode:    cb.ResultCode,
		ResultDesc:    cb.ResultDesc,
		Receipt:       cb.Receipt,
		Amount:        cb.Amount,
	}
}

// CallbackReconciler сопоставляет уведомления шлюза с ожидающими транзакциями
// и применяет результат ровно один раз. Ошибки не возвращаются вызывающему:
// они логируются и попадают в журнал аудита.
type CallbackReconciler struct {
	jobs   CorrelatedJobReader
	escrow *EscrowService
	audit  *AuditService
	notify *Dispatcher
}

func NewCallbackReconciler(jobs CorrelatedJobReader, escrow *EscrowService, audit *AuditService, notify *Dispatcher) *CallbackReconciler {
	return &CallbackReconciler{jobs: jobs, escrow: escrow, audit: audit, notify: notify}
}

// Reconcile обрабатывает уведомление о результате списания.
func (r *CallbackReconciler) Reconcile(ctx context.Context, in CallbackInput) CallbackOutcome {
	log := logger.Log.WithFields(map[string]interface{}{
		"correlation_id": in.CorrelationID,
		"result_code":    in.ResultCode,
	})
	details := map[string]interface{}{
		"correlation_id": in.CorrelationID,
		"result_code":    in.ResultCode,
		"result_desc":    in.ResultDesc,
	}

	job, err := r.jobs.GetByCorrelationID(ctx, in.CorrelationID)
	if err != nil {
		if apperror.IsNotFound(err) {
			log.Warn("callback: unknown correlation id, discarded")
			_ = r.audit.Record(ctx, nil, models.AuditActionCallbackDiscarded, models.AuditTargetTransaction, in.CorrelationID, details)
			return CallbackDiscarded
		}
		log.WithError(err).Error("callback: job lookup failed")
		details["error"] = err.Error()
		_ = r.audit.Record(ctx, nil, models.AuditActionCallbackFailed, models.AuditTargetTransaction, in.CorrelationID, details)
		return CallbackFailed
	}

	log = log.WithField("job_id", job.ID)
	res, err := r.escrow.Resolve(ctx, ResolveInput{
		CorrelationID: in.CorrelationID,
		Success:       in.ResultCode == 0,
		Receipt:       in.Receipt,
		ResultCode:    in.ResultCode,
		ResultDesc:    in.ResultDesc,
		Amount:        in.Amount,
	})
	if err != nil {
		log.WithError(err).Error("callback: resolve failed")
		details["error"] = err.Error()
		_ = r.audit.Record(ctx, nil, models.AuditActionCallbackFailed, models.AuditTargetJob, job.ID.String(), details)
		return CallbackFailed
	}
	if !res.Applied {
		log.Info("callback: transaction already resolved, ignored")
		return CallbackDuplicate
	}

	details["payment_status"] = res.Job.PaymentStatus
	_ = r.audit.Record(ctx, nil, models.AuditActionCallbackApplied, models.AuditTargetJob, job.ID.String(), details)
	log.WithField("payment_status", res.Job.PaymentStatus).Info("callback: applied")

	r.notifyOutcome(res.Job, in.ResultCode == 0)
	return CallbackApplied
}

// Discard фиксирует уведомление, которое не удалось разобрать.
func (r *CallbackReconciler) Discard(ctx context.Context, raw []byte, reason error) {
	logger.Log.WithError(reason).Warn("callback: invalid payload, discarded")

	details := map[string]interface{}{"error": reason.Error()}
	if json.Valid(raw) {
		details["payload"] = json.RawMessage(raw)
	}
	_ = r.audit.Record(ctx, nil, models.AuditActionCallbackDiscarded, models.AuditTargetTransaction, "", details)
}

// RecordPayoutResult записывает итог выплаты B2C. Выплата не меняет состояние заказа.
func (r *CallbackReconciler) RecordPayoutResult(ctx context.Context, res *gateway.B2CResult) {
	log := logger.Log.WithFields(map[string]interface{}{
		"conversation_id": res.ConversationID,
		"result_code":     res.ResultCode,
	})
	if res.Succeeded() {
		log.Info("payout completed")
	} else {
		log.Warn("payout failed at gateway")
	}

	_ = r.audit.Record(ctx, nil, models.AuditActionPayoutResult, models.AuditTargetTransaction, res.ConversationID, res)
}

func (r *CallbackReconciler) notifyOutcome(job *models.Job, success bool) {
	if !success {
		r.notify.Send(job.ClientID, jobMessage(models.NotificationPaymentFailed,
			"Оплата не прошла", "Платёж по заказу «"+job.Title+"» не подтверждён. Повторите оплату.", job.ID))
		return
	}

	msg := jobMessage(models.NotificationPaymentHeld,
		"Оплата получена", "Средства по заказу «"+job.Title+"» зарезервированы", job.ID)
	r.notify.Send(job.ClientID, msg)
	if job.ProfessionalID != nil {
		r.notify.Send(*job.ProfessionalID, msg)
	}
}
