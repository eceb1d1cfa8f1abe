package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/ignatzorin/msme-escrow/internal/domain/valueobject"
	"github.com/ignatzorin/msme-escrow/internal/dto"
	"github.com/ignatzorin/msme-escrow/internal/http/handlers/common"
	"github.com/ignatzorin/msme-escrow/internal/models"
	"github.com/ignatzorin/msme-escrow/internal/service"
)

// DisputeUseCases: разбор споров сторонами и администратором.
type DisputeUseCases interface {
	Resolve(ctx context.Context, disputeID uuid.UUID, actor service.Actor, outcome valueobject.DisputeOutcome, notes string) (*service.ResolveDisputeResult, error)
	MarkInvestigating(ctx context.Context, disputeID uuid.UUID, actor service.Actor, notes string) (*models.Dispute, error)
	AddEvidence(ctx context.Context, disputeID uuid.UUID, actor service.Actor, ref string) (*models.Dispute, error)
	Get(ctx context.Context, disputeID uuid.UUID, actor service.Actor) (*models.Dispute, error)
	ActiveForJob(ctx context.Context, jobID uuid.UUID, actor service.Actor) (*models.Dispute, error)
	ListOpen(ctx context.Context, actor service.Actor, limit, offset int) ([]models.Dispute, error)
}

type DisputeHandler struct {
	svc DisputeUseCases
}

func NewDisputeHandler(s DisputeUseCases) *DisputeHandler {
	return &DisputeHandler{svc: s}
}

// GetDispute GET /api/disputes/:id
func (h *DisputeHandler) GetDispute(c *gin.Context) {
	actor, disputeID, ok := actorAndID(c, "id")
	if !ok {
		return
	}

	dispute, err := h.svc.Get(c.Request.Context(), disputeID, actor)
	if err != nil {
		common.RespondAppError(c, err)
		return
	}

	c.JSON(http.StatusOK, dispute)
}

// ActiveForJob GET /api/jobs/:id/dispute
func (h *DisputeHandler) ActiveForJob(c *gin.Context) {
	actor, jobID, ok := actorAndID(c, "id")
	if !ok {
		return
	}

	dispute, err := h.svc.ActiveForJob(c.Request.Context(), jobID, actor)
	if err != nil {
		common.RespondAppError(c, err)
		return
	}

	c.JSON(http.StatusOK, dispute)
}

// AddEvidence POST /api/disputes/:id/evidence
func (h *DisputeHandler) AddEvidence(c *gin.Context) {
	actor, disputeID, ok := actorAndID(c, "id")
	if !ok {
		return
	}

	var req dto.AddEvidenceRequest
	if err := common.BindJSON(c, &req); err != nil {
		common.RespondAppError(c, err)
		return
	}

	dispute, err := h.svc.AddEvidence(c.Request.Context(), disputeID, actor, req.Ref)
	if err != nil {
		common.RespondAppError(c, err)
		return
	}

	c.JSON(http.StatusOK, dispute)
}

// ListOpen GET /api/admin/disputes
func (h *DisputeHandler) ListOpen(c *gin.Context) {
	actor, err := common.CurrentActor(c)
	if err != nil {
		common.RespondUnauthorized(c, "")
		return
	}

	limit, offset := common.GetPagination(c)
	disputes, err := h.svc.ListOpen(c.Request.Context(), actor, limit, offset)
	if err != nil {
		common.RespondAppError(c, err)
		return
	}

	c.JSON(http.StatusOK, dto.NewListResponse(disputes, len(disputes), limit, offset))
}

// Investigate POST /api/admin/disputes/:id/investigate
func (h *DisputeHandler) Investigate(c *gin.Context) {
	actor, disputeID, ok := actorAndID(c, "id")
	if !ok {
		return
	}

	var req dto.InvestigateDisputeRequest
	if c.Request.ContentLength > 0 {
		if err := common.BindJSON(c, &req); err != nil {
			common.RespondAppError(c, err)
			return
		}
	}

	dispute, err := h.svc.MarkInvestigating(c.Request.Context(), disputeID, actor, req.Notes)
	if err != nil {
		common.RespondAppError(c, err)
		return
	}

	c.JSON(http.StatusOK, dispute)
}

// Resolve POST /api/admin/disputes/:id/resolve
func (h *DisputeHandler) Resolve(c *gin.Context) {
	actor, disputeID, ok := actorAndID(c, "id")
	if !ok {
		return
	}

	var req dto.ResolveDisputeRequest
	if err := common.BindJSON(c, &req); err != nil {
		common.RespondAppError(c, err)
		return
	}

	res, err := h.svc.Resolve(c.Request.Context(), disputeID, actor, valueobject.DisputeOutcome(req.Outcome), req.Notes)
	if err != nil {
		common.RespondAppError(c, err)
		return
	}

	c.JSON(http.StatusOK, res)
}
