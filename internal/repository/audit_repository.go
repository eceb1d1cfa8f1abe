package repository

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/ignatzorin/msme-escrow/internal/models"
)

// AuditRepository ведёт журнал административных и платёжных действий. Записи только добавляются.
type AuditRepository struct {
	db *sqlx.DB
}

func NewAuditRepository(db *sqlx.DB) *AuditRepository {
	return &AuditRepository{db: db}
}

func (r *AuditRepository) Add(ctx context.Context, entry *models.AuditEntry) error {
	details := entry.Details
	if len(details) == 0 {
		details = []byte("{}")
	}

	err := r.db.QueryRowxContext(ctx, `
		INSERT INTO audit_logs (actor_id, action, target_type, target_id, details)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at
	`, entry.ActorID, entry.Action, entry.TargetType, entry.TargetID, []byte(details)).Scan(&entry.ID, &entry.CreatedAt)
	if err != nil {
		return fmt.Errorf("audit repository: add %w", err)
	}
	return nil
}

// ListByTarget возвращает историю действий над объектом в хронологическом порядке.
func (r *AuditRepository) ListByTarget(ctx context.Context, targetType, targetID string) ([]models.AuditEntry, error) {
	var entries []models.AuditEntry
	if err := r.db.SelectContext(ctx, &entries, `
		SELECT * FROM audit_logs WHERE target_type = $1 AND target_id = $2 ORDER BY created_at ASC
	`, targetType, targetID); err != nil {
		return nil, fmt.Errorf("audit repository: list by target %w", err)
	}
	return entries, nil
}
