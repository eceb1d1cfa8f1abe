package router

import (
	"github.com/gin-gonic/gin"

	"github.com/ignatzorin/msme-escrow/internal/config"
	"github.com/ignatzorin/msme-escrow/internal/http/handlers"
	"github.com/ignatzorin/msme-escrow/internal/http/middleware"
	"github.com/ignatzorin/msme-escrow/internal/service"
)

// Handlers собирает все HTTP обработчики приложения.
type Handlers struct {
	Jobs          *handlers.JobHandler
	Applications  *handlers.ApplicationHandler
	Disputes      *handlers.DisputeHandler
	Evidence      *handlers.EvidenceHandler
	Callbacks     *handlers.CallbackHandler
	Notifications *handlers.NotificationHandler
	Audit         *handlers.AuditHandler
	Health        *handlers.HealthHandler
	WS            *handlers.WSHandler
}

func SetupRouter(cfg *config.Config, h Handlers, tokenManager *service.TokenManager) *gin.Engine {
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Logger(), gin.Recovery())
	r.Use(middleware.ErrorHandler())
	r.Use(middleware.CORSMiddleware(cfg.AllowedOrigins))

	r.GET("/health", h.Health.Health)

	api := r.Group("/api")

	// Уведомления шлюза приходят без JWT и всегда получают подтверждение;
	// превышение частоты только логируется.
	payments := api.Group("/payments")
	payments.Use(middleware.RateWatchMiddleware(cfg.CallbackRateLimit, cfg.RateLimitPeriod, middleware.ByClientIP))
	{
		payments.POST("/callback", h.Callbacks.STKCallback)
		payments.POST("/b2c/result", h.Callbacks.PayoutResult)
	}

	if h.WS != nil {
		api.GET("/ws", h.WS.Handle)
	}

	protected := api.Group("")
	protected.Use(middleware.AuthMiddleware(tokenManager))
	protected.Use(middleware.RateLimitMiddleware(cfg.RateLimitLimit, cfg.RateLimitPeriod, middleware.ByUserOrIP))

	jobs := protected.Group("/jobs")
	{
		jobs.GET("", h.Jobs.ListOpenJobs)
		jobs.POST("", middleware.RequireRole(service.RoleClient), h.Jobs.CreateJob)
		jobs.GET("/my", h.Jobs.ListMyJobs)
		jobs.GET("/:id", middleware.UUIDValidator("id"), h.Jobs.GetJob)
		jobs.POST("/:id/submit", middleware.UUIDValidator("id"), h.Jobs.SubmitWork)
		jobs.POST("/:id/approve", middleware.UUIDValidator("id"), h.Jobs.ApproveAndRelease)
		jobs.POST("/:id/cancel", middleware.UUIDValidator("id"), h.Jobs.CancelJob)
		jobs.POST("/:id/payment/retry", middleware.UUIDValidator("id"), h.Jobs.RetryPayment)
		jobs.GET("/:id/payments", middleware.UUIDValidator("id"), h.Jobs.PaymentHistory)
		jobs.POST("/:id/disputes", middleware.UUIDValidator("id"), h.Jobs.RaiseDispute)
		jobs.GET("/:id/dispute", middleware.UUIDValidator("id"), h.Disputes.ActiveForJob)
		jobs.GET("/:id/applications", middleware.UUIDValidator("id"), h.Applications.ListForJob)
		jobs.POST("/:id/applications", middleware.UUIDValidator("id"), middleware.RequireRole(service.RoleProfessional), h.Applications.Submit)
	}

	applications := protected.Group("/applications")
	applications.Use(middleware.UUIDValidator("id"))
	{
		applications.GET("/:id", h.Applications.Get)
		applications.POST("/:id/decision", h.Applications.Decide)
		applications.POST("/:id/withdraw", h.Applications.Withdraw)
	}

	disputes := protected.Group("/disputes")
	disputes.Use(middleware.UUIDValidator("id"))
	{
		disputes.GET("/:id", h.Disputes.GetDispute)
		disputes.POST("/:id/evidence", h.Disputes.AddEvidence)
		if h.Evidence != nil {
			disputes.POST("/:id/evidence/file", h.Evidence.Upload)
		}
	}

	notifications := protected.Group("/notifications")
	{
		notifications.GET("", h.Notifications.ListNotifications)
		notifications.GET("/unread/count", h.Notifications.CountUnread)
		notifications.POST("/:id/read", middleware.UUIDValidator("id"), h.Notifications.MarkAsRead)
	}

	admin := protected.Group("/admin")
	admin.Use(middleware.RequireRole(service.RoleAdmin))
	{
		admin.POST("/jobs/:id/approve", middleware.UUIDValidator("id"), h.Jobs.AdminApprove)
		admin.GET("/disputes", h.Disputes.ListOpen)
		admin.POST("/disputes/:id/investigate", middleware.UUIDValidator("id"), h.Disputes.Investigate)
		admin.POST("/disputes/:id/resolve", middleware.UUIDValidator("id"), h.Disputes.Resolve)
		if h.Audit != nil {
			admin.GET("/audit/:target/:id", h.Audit.History)
		}
	}

	return r
}
