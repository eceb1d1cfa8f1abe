package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/ignatzorin/msme-escrow/internal/models"
	"github.com/ignatzorin/msme-escrow/internal/pkg/apperror"
	"github.com/ignatzorin/msme-escrow/internal/repository/common"
)

// JobRepository отвечает за хранение заказов.
type JobRepository struct {
	db *sqlx.DB
}

// NewJobRepository создаёт репозиторий заказов.
func NewJobRepository(db *sqlx.DB) *JobRepository {
	return &JobRepository{db: db}
}

// Create сохраняет новый заказ и заполняет сгенерированные поля.
func (r *JobRepository) Create(ctx context.Context, job *models.Job) error {
	query := `
		INSERT INTO jobs (client_id, title, description, budget, region, currency, payer_phone, status, payment_status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id, escrow_amount, created_at, updated_at
	`

	if err := r.db.QueryRowxContext(ctx, query,
		job.ClientID,
		job.Title,
		job.Description,
		job.Budget,
		job.Region,
		job.Currency,
		job.PayerPhone,
		job.Status,
		job.PaymentStatus,
	).Scan(&job.ID, &job.EscrowAmount, &job.CreatedAt, &job.UpdatedAt); err != nil {
		return fmt.Errorf("job repository: create %w", err)
	}

	return nil
}

// GetByID возвращает заказ по идентификатору.
func (r *JobRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Job, error) {
	return common.GetByID[models.Job](ctx, r.db, "jobs", id, apperror.ErrJobNotFound)
}

// GetByCorrelationID возвращает заказ, ожидающий ответа по указанной транзакции шлюза.
func (r *JobRepository) GetByCorrelationID(ctx context.Context, correlationID string) (*models.Job, error) {
	return common.GetByField[models.Job](ctx, r.db, "jobs", "correlation_id", correlationID, apperror.ErrJobNotFound)
}

// Transition применяет условное обновление. Если предусловие не выполнено,
// возвращает common.ErrJobConflict и ничего не меняет.
func (r *JobRepository) Transition(ctx context.Context, id uuid.UUID, update JobUpdate) (*models.Job, error) {
	return transitionJob(ctx, r.db, id, update)
}

// ListByClient возвращает заказы клиента, новые первыми.
func (r *JobRepository) ListByClient(ctx context.Context, clientID uuid.UUID, limit, offset int) ([]models.Job, error) {
	query := `SELECT * FROM jobs WHERE client_id = $1 ORDER BY created_at DESC`
	args := []interface{}{clientID}
	query, args = paginate(query, args, limit, offset)

	var jobs []models.Job
	if err := r.db.SelectContext(ctx, &jobs, query, args...); err != nil {
		return nil, fmt.Errorf("job repository: list by client %w", err)
	}
	return jobs, nil
}

// ListByProfessional возвращает заказы, назначенные исполнителю.
func (r *JobRepository) ListByProfessional(ctx context.Context, professionalID uuid.UUID, limit, offset int) ([]models.Job, error) {
	query := `SELECT * FROM jobs WHERE professional_id = $1 ORDER BY created_at DESC`
	args := []interface{}{professionalID}
	query, args = paginate(query, args, limit, offset)

	var jobs []models.Job
	if err := r.db.SelectContext(ctx, &jobs, query, args...); err != nil {
		return nil, fmt.Errorf("job repository: list by professional %w", err)
	}
	return jobs, nil
}

// ListOpen возвращает заказы, принимающие отклики.
func (r *JobRepository) ListOpen(ctx context.Context, limit, offset int) ([]models.Job, error) {
	query := `SELECT * FROM jobs WHERE status = 'open' ORDER BY created_at DESC`
	query, args := paginate(query, nil, limit, offset)

	var jobs []models.Job
	if err := r.db.SelectContext(ctx, &jobs, query, args...); err != nil {
		return nil, fmt.Errorf("job repository: list open %w", err)
	}
	return jobs, nil
}

// transitionJob выполняет условное обновление на соединении или внутри транзакции.
func transitionJob(ctx context.Context, q sqlx.QueryerContext, id uuid.UUID, update JobUpdate) (*models.Job, error) {
	query, args := update.toSQL(id)

	var job models.Job
	if err := sqlx.GetContext(ctx, q, &job, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrJobConflict
		}
		return nil, fmt.Errorf("job repository: transition %w", err)
	}
	return &job, nil
}

func paginate(query string, args []interface{}, limit, offset int) (string, []interface{}) {
	if limit > 0 {
		args = append(args, limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if offset > 0 {
		args = append(args, offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}
	return query, args
}
