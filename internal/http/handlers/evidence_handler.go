package handlers

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/ignatzorin/msme-escrow/internal/http/handlers/common"
	"github.com/ignatzorin/msme-escrow/internal/logger"
	"github.com/ignatzorin/msme-escrow/internal/models"
	"github.com/ignatzorin/msme-escrow/internal/pkg/apperror"
	"github.com/ignatzorin/msme-escrow/internal/service"
	"github.com/ignatzorin/msme-escrow/internal/storage"
)

// EvidenceStore сохраняет файлы материалов спора.
type EvidenceStore interface {
	Save(ctx context.Context, disputeID, uploaderID uuid.UUID, r io.Reader) (string, int64, error)
	Delete(ctx context.Context, ref string) error
}

// EvidenceAdder прикладывает ссылку на материал к спору.
type EvidenceAdder interface {
	AddEvidence(ctx context.Context, disputeID uuid.UUID, actor service.Actor, ref string) (*models.Dispute, error)
}

// EvidenceHandler принимает файлы материалов спора.
type EvidenceHandler struct {
	disputes EvidenceAdder
	store    EvidenceStore
}

func NewEvidenceHandler(disputes EvidenceAdder, store EvidenceStore) *EvidenceHandler {
	return &EvidenceHandler{disputes: disputes, store: store}
}

// Upload POST /api/disputes/:id/evidence/file
func (h *EvidenceHandler) Upload(c *gin.Context) {
	actor, disputeID, ok := actorAndID(c, "id")
	if !ok {
		return
	}

	file, err := c.FormFile("file")
	if err != nil {
		common.RespondAppError(c, apperror.New(apperror.ErrCodeValidation, "поле file обязательно"))
		return
	}

	src, err := file.Open()
	if err != nil {
		common.RespondAppError(c, apperror.Wrap(err, apperror.ErrCodeInternal, "не удалось открыть файл"))
		return
	}
	defer src.Close()

	ctx := c.Request.Context()
	ref, size, err := h.store.Save(ctx, disputeID, actor.ID, src)
	if err != nil {
		common.RespondAppError(c, storageError(err))
		return
	}

	dispute, err := h.disputes.AddEvidence(ctx, disputeID, actor, ref)
	if err != nil {
		// Материал не принят, файл больше не нужен.
		if delErr := h.store.Delete(context.WithoutCancel(ctx), ref); delErr != nil {
			logger.Log.WithError(delErr).WithField("ref", ref).Warn("evidence: не удалось удалить файл")
		}
		common.RespondAppError(c, err)
		return
	}

	logger.Log.WithFields(map[string]interface{}{
		"dispute_id": disputeID,
		"user_id":    actor.ID,
		"size":       size,
	}).Info("evidence: файл загружен")

	c.JSON(http.StatusCreated, gin.H{"ref": ref, "dispute": dispute})
}

func storageError(err error) error {
	switch {
	case errors.Is(err, storage.ErrEmptyFile),
		errors.Is(err, storage.ErrUnsupportedType),
		errors.Is(err, storage.ErrTooLarge):
		return apperror.Wrap(err, apperror.ErrCodeValidation, err.Error())
	default:
		return apperror.Wrap(err, apperror.ErrCodeInternal, "не удалось сохранить файл")
	}
}
