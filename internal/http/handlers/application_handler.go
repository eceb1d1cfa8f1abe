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

// ApplicationUseCases: операции с откликами исполнителей.
type ApplicationUseCases interface {
	Submit(ctx context.Context, in service.SubmitApplicationInput) (*models.Application, error)
	Withdraw(ctx context.Context, applicationID, requesterID uuid.UUID) (*models.Application, error)
	Decide(ctx context.Context, applicationID uuid.UUID, decision valueobject.ApplicationStatus, requesterID uuid.UUID) (*service.DecisionResult, error)
	Get(ctx context.Context, applicationID uuid.UUID, actor service.Actor) (*models.Application, error)
	ListForJob(ctx context.Context, jobID uuid.UUID, actor service.Actor) ([]models.Application, error)
}

type ApplicationHandler struct {
	apps ApplicationUseCases
}

func NewApplicationHandler(apps ApplicationUseCases) *ApplicationHandler {
	return &ApplicationHandler{apps: apps}
}

// Submit POST /api/jobs/:id/applications
func (h *ApplicationHandler) Submit(c *gin.Context) {
	actor, jobID, ok := actorAndID(c, "id")
	if !ok {
		return
	}

	var req dto.SubmitApplicationRequest
	if err := common.BindJSON(c, &req); err != nil {
		common.RespondAppError(c, err)
		return
	}

	app, err := h.apps.Submit(c.Request.Context(), req.ToInput(jobID, actor.ID))
	if err != nil {
		common.RespondAppError(c, err)
		return
	}

	c.JSON(http.StatusCreated, app)
}

// ListForJob GET /api/jobs/:id/applications
func (h *ApplicationHandler) ListForJob(c *gin.Context) {
	actor, jobID, ok := actorAndID(c, "id")
	if !ok {
		return
	}

	apps, err := h.apps.ListForJob(c.Request.Context(), jobID, actor)
	if err != nil {
		common.RespondAppError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": apps})
}

// Get GET /api/applications/:id
func (h *ApplicationHandler) Get(c *gin.Context) {
	actor, appID, ok := actorAndID(c, "id")
	if !ok {
		return
	}

	app, err := h.apps.Get(c.Request.Context(), appID, actor)
	if err != nil {
		common.RespondAppError(c, err)
		return
	}

	c.JSON(http.StatusOK, app)
}

// Decide POST /api/applications/:id/decision
// Сбой запуска оплаты не отменяет найм и возвращается в side_effects.
func (h *ApplicationHandler) Decide(c *gin.Context) {
	actor, appID, ok := actorAndID(c, "id")
	if !ok {
		return
	}

	var req dto.DecideApplicationRequest
	if err := common.BindJSON(c, &req); err != nil {
		common.RespondAppError(c, err)
		return
	}

	res, err := h.apps.Decide(c.Request.Context(), appID, valueobject.ApplicationStatus(req.Status), actor.ID)
	if err != nil {
		common.RespondAppError(c, err)
		return
	}

	c.JSON(http.StatusOK, res)
}

// Withdraw POST /api/applications/:id/withdraw
func (h *ApplicationHandler) Withdraw(c *gin.Context) {
	actor, appID, ok := actorAndID(c, "id")
	if !ok {
		return
	}

	app, err := h.apps.Withdraw(c.Request.Context(), appID, actor.ID)
	if err != nil {
		common.RespondAppError(c, err)
		return
	}

	c.JSON(http.StatusOK, app)
}
