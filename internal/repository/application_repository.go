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

const (
	applicationPairConstraint     = "applications_job_professional_key"
	applicationAcceptedConstraint = "applications_one_accepted_per_job"
)

type ApplicationRepository struct {
	db *sqlx.DB
}

func NewApplicationRepository(db *sqlx.DB) *ApplicationRepository {
	return &ApplicationRepository{db: db}
}

// Create сохраняет отклик. Повторный отклик того же исполнителя даёт ErrDuplicateApplication.
func (r *ApplicationRepository) Create(ctx context.Context, app *models.Application) error {
	query := `
		INSERT INTO applications (job_id, professional_id, proposal, bid_amount, estimated_duration, payout_phone, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at, updated_at
	`

	err := r.db.QueryRowxContext(ctx, query,
		app.JobID,
		app.ProfessionalID,
		app.Proposal,
		app.BidAmount,
		app.EstimatedDuration,
		app.PayoutPhone,
		app.Status,
	).Scan(&app.ID, &app.CreatedAt, &app.UpdatedAt)
	if err != nil {
		if common.IsUniqueViolation(err, applicationPairConstraint) {
			return apperror.ErrDuplicateApplication
		}
		return fmt.Errorf("application repository: create %w", err)
	}

	return nil
}

func (r *ApplicationRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Application, error) {
	return common.GetByID[models.Application](ctx, r.db, "applications", id, apperror.ErrApplicationNotFound)
}

// GetByJobAndProfessional ищет отклик исполнителя на конкретный заказ.
func (r *ApplicationRepository) GetByJobAndProfessional(ctx context.Context, jobID, professionalID uuid.UUID) (*models.Application, error) {
	var app models.Application
	err := r.db.GetContext(ctx, &app,
		`SELECT * FROM applications WHERE job_id = $1 AND professional_id = $2`, jobID, professionalID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.ErrApplicationNotFound
		}
		return nil, fmt.Errorf("application repository: get by job and professional %w", err)
	}
	return &app, nil
}

// GetAcceptedByJob возвращает принятый отклик заказа.
func (r *ApplicationRepository) GetAcceptedByJob(ctx context.Context, jobID uuid.UUID) (*models.Application, error) {
	var app models.Application
	err := r.db.GetContext(ctx, &app,
		`SELECT * FROM applications WHERE job_id = $1 AND status = $2`, jobID, valueobject.ApplicationStatusAccepted)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.ErrApplicationNotFound
		}
		return nil, fmt.Errorf("application repository: get accepted %w", err)
	}
	return &app, nil
}

func (r *ApplicationRepository) ListByJob(ctx context.Context, jobID uuid.UUID) ([]models.Application, error) {
	var apps []models.Application
	if err := r.db.SelectContext(ctx, &apps,
		`SELECT * FROM applications WHERE job_id = $1 ORDER BY created_at ASC`, jobID); err != nil {
		return nil, fmt.Errorf("application repository: list by job %w", err)
	}
	return apps, nil
}

// Transition меняет статус отклика, только если текущий статус равен from.
func (r *ApplicationRepository) Transition(ctx context.Context, id uuid.UUID, from, to valueobject.ApplicationStatus) (*models.Application, error) {
	return transitionApplication(ctx, r.db, id, from, to)
}

// AcceptAndHire в одной транзакции переводит заказ в работу с назначенным исполнителем
// и принимает отклик. Потеря условия по заказу даёт common.ErrJobConflict,
// по отклику common.ErrApplicationConflict; в обоих случаях ничего не меняется.
func (r *ApplicationRepository) AcceptAndHire(ctx context.Context, applicationID uuid.UUID, hire JobUpdate, jobID uuid.UUID) (*models.Job, *models.Application, error) {
	var (
		job *models.Job
		app *models.Application
	)

	err := common.WithTransaction(ctx, r.db, func(tx *sqlx.Tx) error {
		var err error
		job, err = transitionJob(ctx, tx, jobID, hire)
		if err != nil {
			return err
		}

		app, err = transitionApplication(ctx, tx, applicationID,
			valueobject.ApplicationStatusPending, valueobject.ApplicationStatusAccepted)
		if err != nil {
			if common.IsUniqueViolation(err, applicationAcceptedConstraint) {
				return common.ErrJobConflict
			}
			return err
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}

	return job, app, nil
}

func transitionApplication(ctx context.Context, q sqlx.QueryerContext, id uuid.UUID, from, to valueobject.ApplicationStatus) (*models.Application, error) {
	var app models.Application
	err := sqlx.GetContext(ctx, q, &app, `
		UPDATE applications SET status = $3, updated_at = NOW()
		WHERE id = $1 AND status = $2
		RETURNING *
	`, id, from, to)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrApplicationConflict
		}
		return nil, fmt.Errorf("application repository: transition %w", err)
	}
	return &app, nil
}
