package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ignatzorin/msme-escrow/internal/goroutine"
	"github.com/ignatzorin/msme-escrow/internal/logger"
	"github.com/ignatzorin/msme-escrow/internal/models"
)

// notifyTimeout ограничивает одну фоновую доставку уведомления.
const notifyTimeout = 10 * time.Second

// NotificationRepository описывает взаимодействие сервиса с хранилищем уведомлений.
type NotificationRepository interface {
	Create(ctx context.Context, notification *models.Notification) error
	List(ctx context.Context, userID uuid.UUID, limit, offset int, unreadOnly bool) ([]models.Notification, error)
	MarkAsRead(ctx context.Context, id, userID uuid.UUID) error
	CountUnread(ctx context.Context, userID uuid.UUID) (int, error)
}

// WSNotifier интерфейс для отправки WebSocket уведомлений.
type WSNotifier interface {
	BroadcastToUser(userID uuid.UUID, event string, data interface{}) error
}

// Notifier доставляет уведомление получателю.
type Notifier interface {
	Notify(ctx context.Context, recipientID uuid.UUID, msg models.NotificationMessage) error
}

// NotificationService сохраняет уведомления и отправляет их подключённым клиентам.
type NotificationService struct {
	repo NotificationRepository
	hub  WSNotifier
}

// NewNotificationService создаёт сервис уведомлений. hub может быть nil.
func NewNotificationService(repo NotificationRepository, hub WSNotifier) *NotificationService {
	return &NotificationService{repo: repo, hub: hub}
}

// Notify сохраняет уведомление и пытается отправить его по WebSocket.
// Ошибка отправки по WebSocket не считается ошибкой доставки.
func (s *NotificationService) Notify(ctx context.Context, recipientID uuid.UUID, msg models.NotificationMessage) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("notification service: marshal payload %w", err)
	}

	notification := &models.Notification{
		UserID:  recipientID,
		Payload: payload,
	}
	if err := s.repo.Create(ctx, notification); err != nil {
		return err
	}

	if s.hub != nil {
		if err := s.hub.BroadcastToUser(recipientID, "notification", notification); err != nil {
			logger.Log.WithField("user_id", recipientID).WithError(err).Debug("notification service: ws push failed")
		}
	}
	return nil
}

// ListNotifications возвращает список уведомлений пользователя.
func (s *NotificationService) ListNotifications(ctx context.Context, userID uuid.UUID, limit, offset int, unreadOnly bool) ([]models.Notification, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	return s.repo.List(ctx, userID, limit, offset, unreadOnly)
}

// MarkAsRead отмечает уведомление пользователя как прочитанное.
func (s *NotificationService) MarkAsRead(ctx context.Context, id, userID uuid.UUID) error {
	return s.repo.MarkAsRead(ctx, id, userID)
}

func (s *NotificationService) CountUnread(ctx context.Context, userID uuid.UUID) (int, error) {
	return s.repo.CountUnread(ctx, userID)
}

// Dispatcher отправляет уведомления в фоне; ошибки только логируются
// и не влияют на вызвавшую операцию.
type Dispatcher struct {
	notifier Notifier
	spawn    func(func())
}

// NewDispatcher создаёт диспетчер. notifier может быть nil: тогда уведомления не отправляются.
func NewDispatcher(notifier Notifier) *Dispatcher {
	return &Dispatcher{notifier: notifier, spawn: goroutine.SafeGo}
}

// Send ставит уведомление в отправку и сразу возвращает управление.
func (d *Dispatcher) Send(recipientID uuid.UUID, msg models.NotificationMessage) {
	if d == nil || d.notifier == nil {
		return
	}

	d.spawn(func() {
		ctx, cancel := context.WithTimeout(context.Background(), notifyTimeout)
		defer cancel()

		if err := d.notifier.Notify(ctx, recipientID, msg); err != nil {
			logger.Log.WithFields(map[string]interface{}{
				"user_id": recipientID,
				"type":    msg.Type,
				"error":   err.Error(),
			}).Warn("notification delivery failed")
		}
	})
}

func jobMessage(kind, title, message string, jobID uuid.UUID) models.NotificationMessage {
	id := jobID
	return models.NotificationMessage{Type: kind, Title: title, Message: message, RelatedID: &id}
}
