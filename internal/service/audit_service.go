package service

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/google/uuid"

	"github.com/ignatzorin/msme-escrow/internal/logger"
	"github.com/ignatzorin/msme-escrow/internal/models"
	"github.com/ignatzorin/msme-escrow/internal/pkg/apperror"
)

type AuditRepository interface {
	Add(ctx context.Context, entry *models.AuditEntry) error
	ListByTarget(ctx context.Context, targetType, targetID string) ([]models.AuditEntry, error)
}

// AuditService пишет журнал административных вмешательств и обработки уведомлений шлюза.
type AuditService struct {
	repo AuditRepository
}

func NewAuditService(repo AuditRepository) *AuditService {
	return &AuditService{repo: repo}
}

// Record добавляет запись в журнал. actorID nil означает действие шлюза.
// Ошибка записи логируется и возвращается вызывающему.
func (s *AuditService) Record(ctx context.Context, actorID *uuid.UUID, action, targetType, targetID string, details interface{}) error {
	if s == nil {
		return nil
	}
	entry := &models.AuditEntry{
		ActorID:    actorID,
		Action:     action,
		TargetType: targetType,
		TargetID:   targetID,
	}
	if details != nil {
		raw, err := json.Marshal(details)
		if err != nil {
			return err
		}
		entry.Details = raw
	}

	if err := s.repo.Add(ctx, entry); err != nil {
		logger.Log.WithFields(map[string]interface{}{
			"action":    action,
			"target":    targetType,
			"target_id": targetID,
			"error":     err.Error(),
		}).Error("audit entry not written")
		return err
	}
	return nil
}

var auditTargets = map[string]bool{
	models.AuditTargetJob:         true,
	models.AuditTargetDispute:     true,
	models.AuditTargetTransaction: true,
}

// History возвращает журнал по объекту. Доступно только администратору.
func (s *AuditService) History(ctx context.Context, actor Actor, targetType, targetID string) ([]models.AuditEntry, error) {
	if !actor.IsAdmin() {
		return nil, apperror.ErrForbidden
	}
	if !auditTargets[targetType] {
		return nil, apperror.New(apperror.ErrCodeValidation, "неизвестный тип объекта аудита")
	}
	targetID = strings.TrimSpace(targetID)
	if targetID == "" {
		return nil, apperror.New(apperror.ErrCodeValidation, "идентификатор объекта обязателен")
	}

	entries, err := s.repo.ListByTarget(ctx, targetType, targetID)
	if err != nil {
		return nil, err
	}
	if entries == nil {
		entries = []models.AuditEntry{}
	}
	return entries, nil
}
