package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/ignatzorin/msme-escrow/internal/dto"
	"github.com/ignatzorin/msme-escrow/internal/http/handlers/common"
	"github.com/ignatzorin/msme-escrow/internal/models"
	"github.com/ignatzorin/msme-escrow/internal/service"
)

// JobUseCases: операции жизненного цикла заказа, которые вызывает HTTP слой.
type JobUseCases interface {
	CreateJob(ctx context.Context, in service.CreateJobInput) (*models.Job, error)
	Get(ctx context.Context, jobID uuid.UUID, actor service.Actor) (*models.Job, error)
	ListMine(ctx context.Context, actor service.Actor, limit, offset int) ([]models.Job, error)
	ListOpen(ctx context.Context, limit, offset int) ([]models.Job, error)
	SubmitWork(ctx context.Context, jobID, professionalID uuid.UUID, deliverableRef string) (*models.Job, error)
	ApproveAndRelease(ctx context.Context, jobID, clientID uuid.UUID) (*service.ReleaseResult, error)
	AdminApprove(ctx context.Context, jobID uuid.UUID, actor service.Actor) (*models.Job, error)
	RaiseDispute(ctx context.Context, jobID, requesterID uuid.UUID, reason string) (*models.Dispute, error)
	RetryPayment(ctx context.Context, jobID, clientID uuid.UUID) (*models.Job, error)
	CancelJob(ctx context.Context, jobID, clientID uuid.UUID) (*models.Job, error)
	PaymentHistory(ctx context.Context, jobID uuid.UUID, actor service.Actor) ([]models.EscrowTransaction, error)
}

type JobHandler struct {
	jobs JobUseCases
}

func NewJobHandler(jobs JobUseCases) *JobHandler {
	return &JobHandler{jobs: jobs}
}

// CreateJob POST /api/jobs
func (h *JobHandler) CreateJob(c *gin.Context) {
	actor, err := common.CurrentActor(c)
	if err != nil {
		common.RespondUnauthorized(c, "")
		return
	}

	var req dto.CreateJobRequest
	if err := common.BindJSON(c, &req); err != nil {
		common.RespondAppError(c, err)
		return
	}

	job, err := h.jobs.CreateJob(c.Request.Context(), req.ToInput(actor.ID))
	if err != nil {
		common.RespondAppError(c, err)
		return
	}

	c.JSON(http.StatusCreated, job)
}

// GetJob GET /api/jobs/:id
func (h *JobHandler) GetJob(c *gin.Context) {
	actor, jobID, ok := actorAndID(c, "id")
	if !ok {
		return
	}

	job, err := h.jobs.Get(c.Request.Context(), jobID, actor)
	if err != nil {
		common.RespondAppError(c, err)
		return
	}

	c.JSON(http.StatusOK, job)
}

// ListMyJobs GET /api/jobs/my
func (h *JobHandler) ListMyJobs(c *gin.Context) {
	actor, err := common.CurrentActor(c)
	if err != nil {
		common.RespondUnauthorized(c, "")
		return
	}

	limit, offset := common.GetPagination(c)
	jobs, err := h.jobs.ListMine(c.Request.Context(), actor, limit, offset)
	if err != nil {
		common.RespondAppError(c, err)
		return
	}

	c.JSON(http.StatusOK, dto.NewListResponse(jobs, len(jobs), limit, offset))
}

// ListOpenJobs GET /api/jobs
func (h *JobHandler) ListOpenJobs(c *gin.Context) {
	limit, offset := common.GetPagination(c)
	jobs, err := h.jobs.ListOpen(c.Request.Context(), limit, offset)
	if err != nil {
		common.RespondAppError(c, err)
		return
	}

	c.JSON(http.StatusOK, dto.NewListResponse(jobs, len(jobs), limit, offset))
}

// SubmitWork POST /api/jobs/:id/submit
func (h *JobHandler) SubmitWork(c *gin.Context) {
	actor, jobID, ok := actorAndID(c, "id")
	if !ok {
		return
	}

	var req dto.SubmitWorkRequest
	if err := common.BindJSON(c, &req); err != nil {
		common.RespondAppError(c, err)
		return
	}

	job, err := h.jobs.SubmitWork(c.Request.Context(), jobID, actor.ID, req.DeliverableRef)
	if err != nil {
		common.RespondAppError(c, err)
		return
	}

	c.JSON(http.StatusOK, job)
}

// ApproveAndRelease POST /api/jobs/:id/approve
func (h *JobHandler) ApproveAndRelease(c *gin.Context) {
	actor, jobID, ok := actorAndID(c, "id")
	if !ok {
		return
	}

	res, err := h.jobs.ApproveAndRelease(c.Request.Context(), jobID, actor.ID)
	if err != nil {
		common.RespondAppError(c, err)
		return
	}

	c.JSON(http.StatusOK, dto.JobActionResponse{Job: res.Job, SideEffects: res.SideEffects})
}

// AdminApprove POST /api/admin/jobs/:id/approve
func (h *JobHandler) AdminApprove(c *gin.Context) {
	actor, jobID, ok := actorAndID(c, "id")
	if !ok {
		return
	}

	job, err := h.jobs.AdminApprove(c.Request.Context(), jobID, actor)
	if err != nil {
		common.RespondAppError(c, err)
		return
	}

	c.JSON(http.StatusOK, job)
}

// RaiseDispute POST /api/jobs/:id/disputes
func (h *JobHandler) RaiseDispute(c *gin.Context) {
	actor, jobID, ok := actorAndID(c, "id")
	if !ok {
		return
	}

	var req dto.RaiseDisputeRequest
	if err := common.BindJSON(c, &req); err != nil {
		common.RespondAppError(c, err)
		return
	}

	dispute, err := h.jobs.RaiseDispute(c.Request.Context(), jobID, actor.ID, req.Reason)
	if err != nil {
		common.RespondAppError(c, err)
		return
	}

	c.JSON(http.StatusCreated, dispute)
}

// RetryPayment POST /api/jobs/:id/payment/retry
func (h *JobHandler) RetryPayment(c *gin.Context) {
	actor, jobID, ok := actorAndID(c, "id")
	if !ok {
		return
	}

	job, err := h.jobs.RetryPayment(c.Request.Context(), jobID, actor.ID)
	if err != nil {
		common.RespondAppError(c, err)
		return
	}

	c.JSON(http.StatusAccepted, job)
}

// CancelJob POST /api/jobs/:id/cancel
func (h *JobHandler) CancelJob(c *gin.Context) {
	actor, jobID, ok := actorAndID(c, "id")
	if !ok {
		return
	}

	job, err := h.jobs.CancelJob(c.Request.Context(), jobID, actor.ID)
	if err != nil {
		common.RespondAppError(c, err)
		return
	}

	c.JSON(http.StatusOK, job)
}

// PaymentHistory GET /api/jobs/:id/payments
func (h *JobHandler) PaymentHistory(c *gin.Context) {
	actor, jobID, ok := actorAndID(c, "id")
	if !ok {
		return
	}

	txs, err := h.jobs.PaymentHistory(c.Request.Context(), jobID, actor)
	if err != nil {
		common.RespondAppError(c, err)
		return
	}

	c.JSON(http.StatusOK, dto.PaymentHistoryResponse{JobID: jobID.String(), Transactions: txs})
}

// actorAndID достаёт пользователя и id из пути; при ошибке ответ уже отправлен.
func actorAndID(c *gin.Context, param string) (service.Actor, uuid.UUID, bool) {
	actor, err := common.CurrentActor(c)
	if err != nil {
		common.RespondUnauthorized(c, "")
		return service.Actor{}, uuid.Nil, false
	}

	id, err := common.ParseUUIDParam(c, param)
	if err != nil {
		common.RespondAppError(c, err)
		return service.Actor{}, uuid.Nil, false
	}

	return actor, id, true
}
