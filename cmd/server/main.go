package main

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"os/signal"
	"syscall"

	"github.com/jmoiron/sqlx"

	"github.com/ignatzorin/msme-escrow/internal/config"
	"github.com/ignatzorin/msme-escrow/internal/db"
	"github.com/ignatzorin/msme-escrow/internal/gateway"
	"github.com/ignatzorin/msme-escrow/internal/goroutine"
	httpHandlers "github.com/ignatzorin/msme-escrow/internal/http/handlers"
	httpRouter "github.com/ignatzorin/msme-escrow/internal/http/router"
	"github.com/ignatzorin/msme-escrow/internal/logger"
	"github.com/ignatzorin/msme-escrow/internal/repository"
	"github.com/ignatzorin/msme-escrow/internal/service"
	"github.com/ignatzorin/msme-escrow/internal/storage"
	"github.com/ignatzorin/msme-escrow/internal/ws"
)

func main() {
	// Готовим контекст для graceful shutdown.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		logger.Log.Fatalf("main: ошибка загрузки конфигурации: %v", err)
	}
	logger.Init(cfg.LogLevel, cfg.Env)

	// Подключение к базе и миграции.
	dbConn, err := db.NewPostgres(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Log.Fatalf("main: ошибка подключения к базе: %v", err)
	}
	defer safeClose(dbConn)

	if err := db.RunMigrations(ctx, dbConn, cfg.MigrationsPath); err != nil {
		logger.Log.Fatalf("main: ошибка миграций: %v", err)
	}

	tokenManager := service.NewTokenManager(cfg.JWTSecret, cfg.AccessTokenTTL)

	// Платёжный шлюз.
	gatewayClient := gateway.NewClient(cfg.Gateway)
	callbackValidator, err := gateway.NewValidator()
	if err != nil {
		logger.Log.Fatalf("main: не удалось скомпилировать схемы уведомлений шлюза: %v", err)
	}

	evidenceStorage, err := storage.NewEvidenceStorage(cfg.EvidenceDir, cfg.MaxEvidenceMB)
	if err != nil {
		logger.Log.Fatalf("main: ошибка инициализации хранилища материалов: %v", err)
	}

	// Репозитории.
	jobRepo := repository.NewJobRepository(dbConn)
	applicationRepo := repository.NewApplicationRepository(dbConn)
	escrowRepo := repository.NewEscrowRepository(dbConn)
	disputeRepo := repository.NewDisputeRepository(dbConn)
	auditRepo := repository.NewAuditRepository(dbConn)
	notificationRepo := repository.NewNotificationRepository(dbConn)

	// Вебсокеты.
	hub := ws.NewHub()
	goroutine.SafeGoWithContext(ctx, hub.Run)

	// Сервисы.
	auditService := service.NewAuditService(auditRepo)
	notificationService := service.NewNotificationService(notificationRepo, hub)
	dispatcher := service.NewDispatcher(notificationService)
	escrowService := service.NewEscrowService(escrowRepo, jobRepo, gatewayClient, auditService)
	applicationService := service.NewApplicationService(applicationRepo, jobRepo, escrowService, dispatcher)
	jobService := service.NewJobService(jobRepo, applicationRepo, disputeRepo, escrowService, auditService, dispatcher, cfg.JobModeration)
	disputeService := service.NewDisputeService(disputeRepo, jobRepo, applicationRepo, escrowService, auditService, dispatcher)
	reconciler := service.NewCallbackReconciler(jobRepo, escrowService, auditService, dispatcher)

	// HTTP хэндлеры и роутер.
	engine := httpRouter.SetupRouter(cfg, httpRouter.Handlers{
		Jobs:          httpHandlers.NewJobHandler(jobService),
		Applications:  httpHandlers.NewApplicationHandler(applicationService),
		Disputes:      httpHandlers.NewDisputeHandler(disputeService),
		Evidence:      httpHandlers.NewEvidenceHandler(disputeService, evidenceStorage),
		Callbacks:     httpHandlers.NewCallbackHandler(callbackValidator, reconciler),
		Notifications: httpHandlers.NewNotificationHandler(notificationService),
		Audit:         httpHandlers.NewAuditHandler(auditService),
		Health:        httpHandlers.NewHealthHandler(dbConn, gatewayHost(cfg.Gateway.BaseURL)),
		WS:            httpHandlers.NewWSHandler(hub, tokenManager, cfg.AllowedOrigins),
	}, tokenManager)

	server := &http.Server{
		Addr:    ":" + cfg.HTTPPort,
		Handler: engine,
	}

	// Завершаем сервер при получении сигнала.
	goroutine.SafeGo(func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownGracePeriod)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Log.WithError(err).Error("main: ошибка остановки http сервера")
		}
	})

	logger.Log.WithFields(map[string]interface{}{
		"port":       cfg.HTTPPort,
		"env":        cfg.Env,
		"moderation": cfg.JobModeration,
	}).Info("main: HTTP сервер запущен")

	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Log.Fatalf("main: сервер завершился с ошибкой: %v", err)
	}
}

func gatewayHost(baseURL string) string {
	u, err := url.Parse(baseURL)
	if err != nil {
		return ""
	}
	return u.Host
}

// safeClose закрывает соединение с базой.
func safeClose(db *sqlx.DB) {
	if err := db.Close(); err != nil {
		logger.Log.WithError(err).Error("main: ошибка закрытия базы")
	}
}
