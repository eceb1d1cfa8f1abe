package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/ignatzorin/msme-escrow/internal/http/handlers/common"
	"github.com/ignatzorin/msme-escrow/internal/models"
	"github.com/ignatzorin/msme-escrow/internal/service"
)

// AuditReader отдаёт журнал действий по объекту.
type AuditReader interface {
	History(ctx context.Context, actor service.Actor, targetType, targetID string) ([]models.AuditEntry, error)
}

type AuditHandler struct {
	audit AuditReader
}

func NewAuditHandler(audit AuditReader) *AuditHandler {
	return &AuditHandler{audit: audit}
}

// History GET /api/admin/audit/:target/:id
// Для транзакций шлюза id является correlation id, а не UUID.
func (h *AuditHandler) History(c *gin.Context) {
	actor, err := common.CurrentActor(c)
	if err != nil {
		common.RespondUnauthorized(c, "")
		return
	}

	entries, err := h.audit.History(c.Request.Context(), actor, c.Param("target"), c.Param("id"))
	if err != nil {
		common.RespondAppError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": entries})
}
