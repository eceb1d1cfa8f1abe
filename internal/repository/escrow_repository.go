package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/ignatzorin/msme-escrow/internal/domain/valueobject"
	"github.com/ignatzorin/msme-escrow/internal/models"
	"github.com/ignatzorin/msme-escrow/internal/pkg/apperror"
	"github.com/ignatzorin/msme-escrow/internal/repository/common"
)

// Идентификатор транзакции шлюза уникален и в заказах, и в журнале транзакций.
const (
	jobCorrelationConstraint         = "jobs_correlation_id_key"
	transactionCorrelationConstraint = "escrow_transactions_correlation_id_key"
)

// TransactionUpdate: условный переход транзакции шлюза из From в To.
type TransactionUpdate struct {
	CorrelationID string
	From          valueobject.TransactionState
	To            valueobject.TransactionState
	Receipt       *string
	ResultCode    *int
	ResultDesc    *string
}

// Matches проверяет предусловие перехода.
func (u TransactionUpdate) Matches(tx *models.EscrowTransaction) bool {
	return tx.CorrelationID == u.CorrelationID && tx.State == u.From
}

// Apply переносит изменения на запись в памяти.
func (u TransactionUpdate) Apply(tx *models.EscrowTransaction, now time.Time) {
	tx.State = u.To
	if u.Receipt != nil {
		v := *u.Receipt
		tx.Receipt = &v
	}
	if u.ResultCode != nil {
		v := *u.ResultCode
		tx.ResultCode = &v
	}
	if u.ResultDesc != nil {
		v := *u.ResultDesc
		tx.ResultDesc = &v
	}
	if tx.ResolvedAt == nil {
		t := now
		tx.ResolvedAt = &t
	}
}

// EscrowRepository хранит журнал транзакций шлюза и связывает его с состоянием заказа.
type EscrowRepository struct {
	db *sqlx.DB
}

func NewEscrowRepository(db *sqlx.DB) *EscrowRepository {
	return &EscrowRepository{db: db}
}

// Open в одной транзакции переводит заказ в ожидание оплаты и записывает
// новую транзакцию шлюза.
func (r *EscrowRepository) Open(ctx context.Context, record *models.EscrowTransaction, update JobUpdate) (*models.Job, error) {
	var job *models.Job

	err := common.WithTransaction(ctx, r.db, func(tx *sqlx.Tx) error {
		var err error
		job, err = transitionJob(ctx, tx, record.JobID, update)
		if err != nil {
			return err
		}

		return tx.QueryRowxContext(ctx, `
			INSERT INTO escrow_transactions (job_id, correlation_id, account_reference, amount, phone, state)
			VALUES ($1, $2, $3, $4, $5, $6)
			RETURNING id, created_at
		`,
			record.JobID,
			record.CorrelationID,
			record.AccountReference,
			record.Amount,
			record.Phone,
			record.State,
		).Scan(&record.ID, &record.CreatedAt)
	})
	if err != nil {
		if common.IsUniqueViolation(err, jobCorrelationConstraint) || common.IsUniqueViolation(err, transactionCorrelationConstraint) {
			return nil, common.ErrAlreadyExists
		}
		return nil, err
	}

	return job, nil
}

// Settle в одной транзакции переводит транзакцию шлюза и заказ. Потеря условия
// по транзакции даёт common.ErrTransactionConflict, по заказу common.ErrJobConflict.
func (r *EscrowRepository) Settle(ctx context.Context, jobID uuid.UUID, txUpdate TransactionUpdate, jobUpdate JobUpdate) (*models.Job, *models.EscrowTransaction, error) {
	var (
		job    *models.Job
		record models.EscrowTransaction
	)

	err := common.WithTransaction(ctx, r.db, func(tx *sqlx.Tx) error {
		err := tx.GetContext(ctx, &record, `
			UPDATE escrow_transactions
			SET state = $3,
				receipt = COALESCE($4, receipt),
				result_code = COALESCE($5, result_code),
				result_desc = COALESCE($6, result_desc),
				resolved_at = COALESCE(resolved_at, NOW())
			WHERE correlation_id = $1 AND state = $2
			RETURNING *
		`, txUpdate.CorrelationID, txUpdate.From, txUpdate.To, txUpdate.Receipt, txUpdate.ResultCode, txUpdate.ResultDesc)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return common.ErrTransactionConflict
			}
			return fmt.Errorf("escrow repository: settle transaction %w", err)
		}

		job, err = transitionJob(ctx, tx, jobID, jobUpdate)
		return err
	})
	if err != nil {
		return nil, nil, err
	}

	return job, &record, nil
}

func (r *EscrowRepository) GetByCorrelationID(ctx context.Context, correlationID string) (*models.EscrowTransaction, error) {
	return common.GetByField[models.EscrowTransaction](ctx, r.db, "escrow_transactions", "correlation_id", correlationID, apperror.ErrTransactionNotFound)
}

// ListByJob возвращает все попытки оплаты заказа в порядке создания.
func (r *EscrowRepository) ListByJob(ctx context.Context, jobID uuid.UUID) ([]models.EscrowTransaction, error) {
	var records []models.EscrowTransaction
	if err := r.db.SelectContext(ctx, &records,
		`SELECT * FROM escrow_transactions WHERE job_id = $1 ORDER BY created_at ASC`, jobID); err != nil {
		return nil, fmt.Errorf("escrow repository: list by job %w", err)
	}
	return records, nil
}
