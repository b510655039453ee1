package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	_ "github.com/noah-isme/campus-leave-api/api/swagger"
	"github.com/noah-isme/campus-leave-api/internal/handler"
	internalmiddleware "github.com/noah-isme/campus-leave-api/internal/middleware"
	"github.com/noah-isme/campus-leave-api/internal/models"
	"github.com/noah-isme/campus-leave-api/internal/repository"
	"github.com/noah-isme/campus-leave-api/internal/service"
	"github.com/noah-isme/campus-leave-api/pkg/cache"
	"github.com/noah-isme/campus-leave-api/pkg/config"
	"github.com/noah-isme/campus-leave-api/pkg/database"
	"github.com/noah-isme/campus-leave-api/pkg/jobs"
	"github.com/noah-isme/campus-leave-api/pkg/logger"
	"github.com/noah-isme/campus-leave-api/pkg/mail"
	corsmiddleware "github.com/noah-isme/campus-leave-api/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/campus-leave-api/pkg/middleware/requestid"
)

// @title Campus Leave API
// @version 1.0.0
// @description Outing/outpass approval workflow and bulk CSV ingestion
// @BasePath /api/v1
// @schemes http
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		logr.Fatal("failed to connect database", zap.Error(err))
	}
	defer db.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	metrics := service.NewMetricsService()
	validate := validator.New()

	var cacheRepo service.CacheRepository
	if cfg.Cache.Enabled {
		client, err := cache.NewRedis(cfg.Redis)
		if err != nil {
			logr.Warn("redis unavailable, profile cache disabled", zap.Error(err))
		} else {
			redisRepo := repository.NewCacheRepository(client)
			defer redisRepo.Close() //nolint:errcheck
			cacheRepo = redisRepo
		}
	}
	cacheSvc := service.NewCacheService(cacheRepo, metrics, cfg.Cache.ProfileTTL, logr, cfg.Cache.Enabled)

	location, err := time.LoadLocation(cfg.Leave.Timezone)
	if err != nil {
		logr.Fatal("invalid leave timezone", zap.String("timezone", cfg.Leave.Timezone), zap.Error(err))
	}
	resolver, err := service.NewRoleResolver(service.ChainsFromConfig(cfg.Leave.OutingChain, cfg.Leave.OutpassChain))
	if err != nil {
		logr.Fatal("invalid approval chains", zap.Error(err))
	}

	var transport mail.Transport = mail.NewLogTransport(logr)
	if cfg.Mail.Enabled {
		smtp, err := mail.NewSMTPTransport(cfg.Mail)
		if err != nil {
			logr.Fatal("failed to configure smtp transport", zap.Error(err))
		}
		transport = smtp
	}
	notifications := service.NewNotificationService(transport, metrics, logr, cfg.Mail.Timeout)
	recipients := roleRecipients(cfg.Mail.RoleRecipients)

	userRepo := repository.NewUserRepository(db)
	studentRepo := repository.NewStudentRepository(db)
	gradeRepo := repository.NewGradeRepository(db)
	leaveRepo := repository.NewLeaveRequestRepository(db)
	ingestionRepo := repository.NewIngestionRepository(db)

	profiles := service.NewProfileService(studentRepo, cacheSvc, logr)
	directory := service.NewRecipientDirectory(recipients, userRepo, cacheSvc, cfg.Cache.ProfileTTL, logr)
	authSvc := service.NewAuthService(userRepo, validate, logr, service.AuthConfig{
		AccessTokenSecret: cfg.JWT.Secret,
		AccessTokenExpiry: cfg.JWT.Expiration,
		Issuer:            cfg.JWT.Issuer,
	})
	requestSvc := service.NewRequestService(leaveRepo, resolver, profiles, notifications, validate, logr, service.RequestServiceConfig{
		OutpassMaxDays: cfg.Leave.OutpassMaxDays,
		Location:       location,
		QueueLimit:     cfg.Leave.QueueLimit,
		RoleRecipients: recipients,
	}, service.WithRequestMetrics(metrics), service.WithRecipientDirectory(directory))

	targets := service.NewTargetRegistry(
		service.StudentsTarget(studentRepo, profiles),
		service.GradesTarget(studentRepo, gradeRepo),
	)
	worker := service.NewIngestionWorker(ingestionRepo, targets, metrics, cfg.Ingestion.MaxRetries, cfg.Ingestion.FlushEvery, logr)
	ingestionQueue := jobs.NewQueue(service.IngestionJobType, worker.Handle, jobs.QueueConfig{
		Workers:    cfg.Ingestion.Workers,
		MaxRetries: cfg.Ingestion.MaxRetries,
		RetryDelay: cfg.Ingestion.RetryDelay,
		Logger:     logr,
	})
	ingestionQueue.Start(ctx)
	defer ingestionQueue.Stop()

	ingestionSvc := service.NewIngestionService(ingestionRepo, targets, ingestionQueue, validate, logr, service.IngestionServiceConfig{
		MaxRows: cfg.Ingestion.MaxRows,
	})
	if cfg.Ingestion.RecoverOnStartup {
		ingestionSvc.RecoverRunningJobs(ctx)
	}

	if cfg.Leave.SweepEnabled {
		sweeper := service.NewExpirySweeper(leaveRepo, profiles, notifications, metrics, logr, service.SweeperConfig{
			Schedule:   cfg.Leave.SweepSchedule,
			BatchSize:  cfg.Leave.SweepBatchSize,
			Location:   location,
			Recipients: directory,
		})
		if err := sweeper.Start(ctx); err != nil {
			logr.Fatal("failed to start expiry sweeper", zap.Error(err))
		}
		defer sweeper.Stop()
	}

	authHandler := handler.NewAuthHandler(authSvc)
	requestHandler := handler.NewRequestHandler(requestSvc)
	ingestionHandler := handler.NewIngestionHandler(ingestionSvc, cfg.Ingestion.MaxUploadBytes, cfg.Ingestion.MaxRows)
	metricsHandler := handler.NewMetricsHandler(metrics, db)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(internalmiddleware.Metrics(metrics))

	r.GET("/health", metricsHandler.Health)
	r.GET("/ready", metricsHandler.Ready)
	r.GET("/metrics", metricsHandler.Prometheus)

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := r.Group(cfg.APIPrefix)
	api.POST("/auth/login", authHandler.Login)

	secured := api.Group("")
	secured.Use(internalmiddleware.JWT(authSvc))
	secured.GET("/auth/me", authHandler.Me)

	viewRequest := internalmiddleware.RequirePermission(resolver, service.ActionRequestViewOwn, service.ActionRequestViewAny)
	requests := secured.Group("/requests")
	requests.POST("", internalmiddleware.RequirePermission(resolver, service.ActionRequestCreate), requestHandler.Create)
	requests.GET("", viewRequest, requestHandler.List)
	requests.GET("/queue", internalmiddleware.RequirePermission(resolver, service.ActionRequestViewQueue), requestHandler.Queue)
	requests.GET("/:id", viewRequest, requestHandler.Get)
	requests.GET("/:id/pass", viewRequest, requestHandler.GatePass)
	requests.POST("/:id/decision", internalmiddleware.RequirePermission(resolver, service.ActionRequestDecide), requestHandler.Decide)
	requests.POST("/:id/return", internalmiddleware.RequirePermission(resolver, service.ActionRequestRecordReturn), requestHandler.RecordReturn)

	uploads := secured.Group("/ingestion/uploads")
	uploads.POST("", internalmiddleware.RequirePermission(resolver, service.ActionIngestionSubmit), ingestionHandler.Upload)
	uploads.GET("/:processId", internalmiddleware.RequirePermission(resolver, service.ActionIngestionView), ingestionHandler.Progress)
	uploads.GET("/:processId/failures.csv", internalmiddleware.RequirePermission(resolver, service.ActionIngestionView), ingestionHandler.Failures)

	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := &http.Server{Addr: addr, Handler: r, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		logr.Sugar().Infow("server starting", "addr", addr, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logr.Sugar().Fatalw("server failed", "error", err)
		}
	}()

	<-ctx.Done()
	logr.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Warn("graceful shutdown failed", zap.Error(err))
	}
}

func roleRecipients(raw map[string]string) map[models.UserRole]string {
	out := make(map[models.UserRole]string, len(raw))
	for role, address := range raw {
		out[models.ParseRole(strings.TrimSpace(role))] = address
	}
	return out
}
