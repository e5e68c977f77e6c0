// Package main runs the conference registration API with the live alert feed and graceful shutdown.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/aura-conference/backend/config"
	"github.com/aura-conference/backend/internal/auth"
	"github.com/aura-conference/backend/internal/badgetokens"
	"github.com/aura-conference/backend/internal/conferences"
	"github.com/aura-conference/backend/internal/gateway"
	"github.com/aura-conference/backend/internal/integrity"
	"github.com/aura-conference/backend/internal/membercodes"
	"github.com/aura-conference/backend/internal/middleware"
	"github.com/aura-conference/backend/internal/models"
	"github.com/aura-conference/backend/internal/notifications"
	"github.com/aura-conference/backend/internal/organizations"
	"github.com/aura-conference/backend/internal/realtime"
	"github.com/aura-conference/backend/internal/registrations"
	"github.com/aura-conference/backend/pkg/cache"
	"github.com/aura-conference/backend/pkg/database"
	"github.com/aura-conference/backend/pkg/queue"
	"github.com/aura-conference/backend/pkg/redis"
	"github.com/aura-conference/backend/pkg/response"
	"github.com/aura-conference/backend/pkg/storage"
)

func main() {
	logger := newLogger()
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("load config", zap.Error(err))
	}

	ctx := context.Background()
	pool, err := database.NewPostgresPool(ctx, cfg.Database.DSN(), logger)
	if err != nil {
		logger.Fatal("database", zap.Error(err))
	}
	defer pool.Close()

	if err := database.Migrate(ctx, pool, logger); err != nil {
		logger.Fatal("migrate", zap.Error(err))
	}

	rdb, err := redis.NewClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, logger)
	if err != nil {
		logger.Fatal("redis", zap.Error(err))
	}
	defer rdb.Close()

	var (
		receiptStore    registrations.ReceiptStore
		receiptArchiver registrations.ReceiptArchiver
	)
	if cfg.AWS.ReceiptsBucket != "" {
		s3Client, err := storage.NewS3(ctx, storage.S3Config{
			Region:               cfg.AWS.Region,
			AccessKeyID:          cfg.AWS.AccessKeyID,
			SecretAccessKey:      cfg.AWS.SecretAccessKey,
			ReceiptsBucket:       cfg.AWS.ReceiptsBucket,
			PresignExpireMinutes: cfg.AWS.PresignExpireMinutes,
		}, logger)
		if err != nil {
			logger.Warn("receipt archive disabled", zap.Error(err))
		} else {
			receiptStore, receiptArchiver = s3Client, s3Client
		}
	}

	jwtService := auth.NewJWTService(cfg.JWT.Secret, cfg.JWT.ExpireHours)
	jobQueue := queue.NewQueue(rdb.Client, logger)
	notifier := notifications.NewQueueDispatcher(jobQueue, logger)
	redisPubSub := realtime.NewRedisPubSub(rdb.Client, logger)
	hub := realtime.NewHub(logger, redisPubSub)

	// Auth
	authRepo := auth.NewRepository(pool)
	authHandler := auth.NewHandler(authRepo, jwtService, logger)
	if err := auth.Bootstrap(ctx, authRepo, cfg.Bootstrap.AdminEmail, cfg.Bootstrap.AdminPassword, logger); err != nil {
		logger.Fatal("bootstrap admin", zap.Error(err))
	}

	// Organizations and the allowed-origin cache
	orgRepo := organizations.NewRepository(pool)
	staticOrigins := middleware.OriginSet(config.SplitOrigins(cfg.Server.CORSAllowedOrigins))
	origins := cache.NewReadThrough[map[string]bool](
		time.Duration(cfg.Server.OriginCacheTTLSec)*time.Second,
		func(ctx context.Context) (map[string]bool, error) {
			stored, err := orgRepo.AllowedOrigins(ctx)
			if err != nil {
				return nil, err
			}
			set := middleware.OriginSet(stored)
			for o := range staticOrigins {
				set[o] = true
			}
			return set, nil
		},
		cache.WithFallback(staticOrigins),
		cache.WithErrorHandler[map[string]bool](func(err error) {
			logger.Warn("allowed origins reload failed", zap.Error(err))
		}),
	)
	orgHandler := organizations.NewHandler(orgRepo, origins.Invalidate, logger)

	// Conferences
	confRepo := conferences.NewRepository(pool)
	confHandler := conferences.NewHandler(confRepo, logger)

	// Integrity alerts raised by request handlers are published to every instance.
	alertRepo := integrity.NewRepository(pool)
	monitor := integrity.NewMonitor(alertRepo, redisPubSub, logger)
	alertHandler := integrity.NewHandler(alertRepo, logger)

	// Member codes
	memberRepo := membercodes.NewRepository(pool)
	memberSvc := membercodes.NewService(memberRepo, logger)
	memberHandler := membercodes.NewHandler(memberSvc, logger)

	// Badge tokens
	regRepo := registrations.NewRepository(pool)
	badgeSvc := badgetokens.NewService(badgetokens.NewRepository(pool), regRepo, confRepo, notifier, badgetokens.Config{
		DefaultBaseURL: cfg.Badge.DefaultBaseURL,
		FallbackTTL:    time.Duration(cfg.Badge.FallbackTTLDays) * 24 * time.Hour,
	}, logger)
	badgeHandler := badgetokens.NewHandler(badgeSvc, logger)

	// Registrations
	reconciler := registrations.NewReconciler(registrations.Deps{
		Store:       regRepo,
		Conferences: confRepo,
		Credentials: orgRepo,
		Gateway: gateway.NewRouter(gateway.Config{
			TossBaseURL: cfg.Gateway.TossBaseURL,
			NiceBaseURL: cfg.Gateway.NiceBaseURL,
			Timeout:     cfg.Gateway.Timeout(),
		}, logger),
		Members:  memberSvc,
		Tokens:   badgeSvc,
		Alerts:   monitor,
		Notifier: notifier,
		Receipts: receiptArchiver,
		Defaults: registrations.DefaultCredentials{
			Provider:  cfg.Gateway.DefaultProvider,
			SecretKey: cfg.Gateway.DefaultSecretKey,
			ClientKey: cfg.Gateway.DefaultClientKey,
		},
		ReceiptLocation: seoul(logger),
		Logger:          logger,
	})
	regHandler := registrations.NewHandler(reconciler, regRepo, receiptStore, logger)

	notificationHandler := notifications.NewHandler(notifications.NewRepository(pool), logger)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.CORS(origins))
	router.Use(middleware.Logger(logger))

	// Health and metrics
	router.GET("/health", func(c *gin.Context) { response.OK(c, gin.H{"status": "ok"}) })
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Public: payment confirmation, gateway webhooks, badge page, member verification
	router.POST("/payments/confirm", regHandler.Confirm)
	router.POST("/webhooks/payments", regHandler.Webhook)
	router.POST("/badge/validate", badgeHandler.Validate)
	router.POST("/societies/:orgId/members/verify", memberHandler.Verify)
	router.POST("/conferences/:confId/registrations/:regId/refund-request", regHandler.RequestRefund)

	// Auth (public)
	router.POST("/auth/login", authHandler.Login)

	// Operator console (JWT required)
	admin := router.Group("")
	admin.Use(middleware.JWT(jwtService))
	admin.Use(middleware.RequireRole(string(models.RoleAdmin), string(models.RoleOperator)))
	{
		admin.GET("/auth/me", authHandler.Me)

		// Organizations
		admin.PUT("/admin/organizations/:orgId", middleware.RequireRole(string(models.RoleAdmin)), orgHandler.Upsert)
		admin.PUT("/admin/organizations/:orgId/gateway", middleware.RequireRole(string(models.RoleAdmin)), orgHandler.SetGateway)
		admin.GET("/admin/organizations/:orgId/origins", orgHandler.ListOrigins)
		admin.POST("/admin/organizations/:orgId/origins", middleware.RequireRole(string(models.RoleAdmin)), orgHandler.AddOrigin)
		admin.DELETE("/admin/organizations/:orgId/origins", middleware.RequireRole(string(models.RoleAdmin)), orgHandler.RemoveOrigin)

		// Conferences
		admin.POST("/admin/organizations/:orgId/conferences", confHandler.Create)
		admin.GET("/admin/organizations/:orgId/conferences", confHandler.List)
		admin.GET("/admin/conferences/:confId", confHandler.GetByID)
		admin.PATCH("/admin/conferences/:confId", confHandler.Update)

		// Registrations
		admin.GET("/admin/conferences/:confId/registrations", regHandler.List)
		admin.POST("/admin/conferences/:confId/registrations/:regId/cancel", regHandler.Cancel)
		admin.POST("/admin/conferences/:confId/registrations/:regId/check-in", regHandler.CheckIn)
		admin.GET("/admin/conferences/:confId/registrations/:regId/receipt", regHandler.Receipt)
		admin.DELETE("/admin/conferences/:confId/registrations/:regId", middleware.RequireRole(string(models.RoleAdmin)), regHandler.Delete)

		// Badge tokens
		admin.POST("/admin/conferences/:confId/registrations/:regId/badge-token", badgeHandler.Reissue)
		admin.POST("/admin/conferences/:confId/badge-tokens/:token/issued", badgeHandler.MarkIssued)

		// Member codes
		admin.GET("/admin/societies/:orgId/members/:memberId", memberHandler.Get)
		admin.PUT("/admin/societies/:orgId/members/:memberId", middleware.RequireRole(string(models.RoleAdmin)), memberHandler.Upsert)
		admin.POST("/admin/societies/:orgId/members/:memberId/reset", memberHandler.Reset)

		// Integrity alerts and the live feed (token in query for the WebSocket upgrade)
		admin.GET("/admin/integrity/alerts", alertHandler.List)
		admin.POST("/admin/integrity/alerts/:id/resolve", alertHandler.Resolve)
		admin.GET("/admin/integrity/alerts/ws", realtime.ServeAlerts(hub, logger, middleware.AdminID, func(origin string) bool {
			set := origins.Get(context.Background())
			return len(set) == 0 || set["*"] || set[origin]
		}))

		// Notifications
		admin.GET("/admin/notifications", notificationHandler.List)
	}

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	go func() {
		logger.Info("server listening", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}
	logger.Info("server stopped")
}

// seoul dates receipt numbers in Korean time. Images without tzdata fall back to a fixed +09:00.
func seoul(logger *zap.Logger) *time.Location {
	loc, err := time.LoadLocation("Asia/Seoul")
	if err != nil {
		logger.Warn("Asia/Seoul unavailable, using fixed offset", zap.Error(err))
		return time.FixedZone("KST", 9*60*60)
	}
	return loc
}

func newLogger() *zap.Logger {
	config := zap.NewProductionConfig()
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	logger, _ := config.Build()
	return logger
}
