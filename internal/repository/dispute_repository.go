package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/ignatzorin/msme-escrow/internal/domain/valueobject"
	"github.com/ignatzorin/msme-escrow/internal/models"
	"github.com/ignatzorin/msme-escrow/internal/pkg/apperror"
	"github.com/ignatzorin/msme-escrow/internal/repository/common"
)

const disputeActiveConstraint = "disputes_one_active_per_job"

// activeDisputeStatuses: статусы, в которых спор ждёт решения.
var activeDisputeStatuses = []valueobject.DisputeStatus{
	valueobject.DisputeStatusOpen,
	valueobject.DisputeStatusInvestigating,
}

type DisputeRepository struct {
	db *sqlx.DB
}

func NewDisputeRepository(db *sqlx.DB) *DisputeRepository {
	return &DisputeRepository{db: db}
}

// OpenWithJob переводит заказ в спор и создаёт запись спора в одной транзакции.
func (r *DisputeRepository) OpenWithJob(ctx context.Context, d *models.Dispute, update JobUpdate) (*models.Job, error) {
	var job *models.Job

	err := common.WithTransaction(ctx, r.db, func(tx *sqlx.Tx) error {
		var err error
		job, err = transitionJob(ctx, tx, d.JobID, update)
		if err != nil {
			return err
		}

		err = tx.QueryRowxContext(ctx, `
			INSERT INTO disputes (job_id, raised_by, reason, region, currency, status, evidence)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			RETURNING id, created_at
		`, d.JobID, d.RaisedBy, d.Reason, d.Region, d.Currency, d.Status, d.Evidence).Scan(&d.ID, &d.CreatedAt)
		if common.IsUniqueViolation(err, disputeActiveConstraint) {
			return common.ErrDisputeConflict
		}
		return err
	})
	if err != nil {
		return nil, err
	}

	return job, nil
}

func (r *DisputeRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Dispute, error) {
	return common.GetByID[models.Dispute](ctx, r.db, "disputes", id, apperror.ErrDisputeNotFound)
}

// GetActiveByJob возвращает нерешённый спор по заказу.
func (r *DisputeRepository) GetActiveByJob(ctx context.Context, jobID uuid.UUID) (*models.Dispute, error) {
	var d models.Dispute
	err := r.db.GetContext(ctx, &d,
		`SELECT * FROM disputes WHERE job_id = $1 AND status = ANY($2)`, jobID, common.StringArray(activeDisputeStatuses))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.ErrDisputeNotFound
		}
		return nil, fmt.Errorf("dispute repository: get active %w", err)
	}
	return &d, nil
}

// ListActive возвращает споры, ожидающие решения, старые первыми.
func (r *DisputeRepository) ListActive(ctx context.Context, limit, offset int) ([]models.Dispute, error) {
	query, args := paginate(
		`SELECT * FROM disputes WHERE status = ANY($1) ORDER BY created_at ASC`,
		[]interface{}{common.StringArray(activeDisputeStatuses)}, limit, offset)

	var disputes []models.Dispute
	if err := r.db.SelectContext(ctx, &disputes, query, args...); err != nil {
		return nil, fmt.Errorf("dispute repository: list active %w", err)
	}
	return disputes, nil
}

// Close фиксирует решение по спору, если он ещё активен.
func (r *DisputeRepository) Close(ctx context.Context, id uuid.UUID, outcome valueobject.DisputeOutcome, adminID uuid.UUID, notes *string) (*models.Dispute, error) {
	return r.update(ctx, `
		UPDATE disputes
		SET status = 'resolved', resolution = $3, resolved_by = $4,
			admin_notes = COALESCE($5, admin_notes), resolved_at = NOW()
		WHERE id = $1 AND status = ANY($2)
		RETURNING *
	`, id, common.StringArray(activeDisputeStatuses), outcome, adminID, notes)
}

// SetInvestigating отмечает, что администратор взял спор в работу.
func (r *DisputeRepository) SetInvestigating(ctx context.Context, id uuid.UUID, notes *string) (*models.Dispute, error) {
	return r.update(ctx, `
		UPDATE disputes SET status = 'investigating', admin_notes = COALESCE($2, admin_notes)
		WHERE id = $1 AND status = 'open'
		RETURNING *
	`, id, notes)
}

// AddEvidence добавляет ссылку на материал к активному спору.
func (r *DisputeRepository) AddEvidence(ctx context.Context, id uuid.UUID, ref string) (*models.Dispute, error) {
	return r.update(ctx, `
		UPDATE disputes SET evidence = array_append(evidence, $3)
		WHERE id = $1 AND status = ANY($2)
		RETURNING *
	`, id, common.StringArray(activeDisputeStatuses), ref)
}

func (r *DisputeRepository) update(ctx context.Context, query string, args ...interface{}) (*models.Dispute, error) {
	var d models.Dispute
	if err := r.db.GetContext(ctx, &d, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrDisputeConflict
		}
		return nil, fmt.Errorf("dispute repository: update %w", err)
	}
	return &d, nil
}
