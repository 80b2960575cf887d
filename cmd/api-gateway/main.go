package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	_ "github.com/noah-isme/timetable-api/api/swagger"
	"github.com/noah-isme/timetable-api/internal/handler"
	internalmiddleware "github.com/noah-isme/timetable-api/internal/middleware"
	"github.com/noah-isme/timetable-api/internal/models"
	"github.com/noah-isme/timetable-api/internal/repository"
	"github.com/noah-isme/timetable-api/internal/service"
	"github.com/noah-isme/timetable-api/internal/timetable"
	"github.com/noah-isme/timetable-api/pkg/cache"
	"github.com/noah-isme/timetable-api/pkg/config"
	"github.com/noah-isme/timetable-api/pkg/database"
	"github.com/noah-isme/timetable-api/pkg/jobs"
	"github.com/noah-isme/timetable-api/pkg/logger"
	corsmiddleware "github.com/noah-isme/timetable-api/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/timetable-api/pkg/middleware/requestid"
)

// @title Timetable API
// @version 1.0.0
// @description Course timetabling: scheduling runs, exports, workload and audits
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

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := database.NewPostgres(ctx, cfg.Database)
	if err != nil {
		logr.Fatal("failed to connect database", zap.Error(err))
	}
	defer db.Close() //nolint:errcheck

	var cacheRepo *repository.CacheRepository
	if cfg.Cache.Enabled {
		client, err := cache.NewRedis(ctx, cfg.Redis)
		if err != nil {
			logr.Warn("redis unavailable, async runs and view caching disabled", zap.Error(err))
		} else {
			cacheRepo = repository.NewCacheRepository(client, logr)
			defer cacheRepo.Close() //nolint:errcheck
		}
	}

	validate := validator.New()
	metricsSvc := service.NewMetricsService()
	var cacheSvc *service.CacheService
	if cacheRepo != nil {
		cacheSvc = service.NewCacheService(cacheRepo, metricsSvc, cfg.Scheduler.ResultTTL, logr, true)
	}
	tokenSvc := service.NewTokenService(cfg.JWT.Secret)

	termRepo := repository.NewTermRepository(db)
	offeringRepo := repository.NewOfferingRepository(db)
	roomRepo := repository.NewRoomRepository(db)
	runRepo := repository.NewSchedulingRunRepository(db)

	schedulingSvc := service.NewSchedulingService(termRepo, offeringRepo, roomRepo, runRepo, db, cacheSvc, metricsSvc, validate, logr, service.SchedulingConfig{
		Optimizer:     optimizerConfig(cfg.Scheduler),
		DefaultMethod: models.SchedulingMethod(cfg.Scheduler.DefaultMethod),
		RunTimeout:    cfg.Scheduler.RunTimeout,
		ResultTTL:     cfg.Scheduler.ResultTTL,
	})
	queue := jobs.NewQueue("scheduling", schedulingSvc.HandleJob, jobs.QueueConfig{
		Workers:    cfg.Scheduler.QueueWorkers,
		MaxRetries: 0,
		Logger:     logr,
	})
	schedulingSvc.AttachQueue(queue)
	queue.Start(ctx)
	defer queue.Stop()

	timetableSvc := service.NewTimetableService(termRepo, offeringRepo, roomRepo, cacheSvc, nil, nil, validate, logr)

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(internalmiddleware.Metrics(metricsSvc, "/metrics"))

	metricsHandler := handler.NewMetricsHandler(metricsSvc, readinessChecks(db, cacheRepo))
	r.GET("/health", metricsHandler.Health)
	r.GET("/ready", metricsHandler.Ready)
	r.GET("/metrics", metricsHandler.Prometheus)

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	schedulerHandler := handler.NewSchedulerHandler(schedulingSvc, logr)
	timetableHandler := handler.NewTimetableHandler(timetableSvc)

	api := r.Group(cfg.APIPrefix)
	api.Use(internalmiddleware.JWT(tokenSvc))

	scheduler := api.Group("/scheduler")
	scheduler.Use(internalmiddleware.RequireRoles(models.RoleSuperAdmin, models.RoleAdmin))
	scheduler.POST("/runs", schedulerHandler.Run)
	scheduler.GET("/runs", schedulerHandler.List)
	scheduler.GET("/runs/:id", schedulerHandler.Status)

	timetableGroup := api.Group("/timetable")
	timetableGroup.GET("/export", timetableHandler.Export)
	timetableGroup.GET("/workload", internalmiddleware.RequireRoles(models.RoleSuperAdmin, models.RoleAdmin, models.RoleLecturer), timetableHandler.Workload)
	timetableGroup.GET("/audit", internalmiddleware.RequireRoles(models.RoleSuperAdmin, models.RoleAdmin), timetableHandler.Audit)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logr.Sugar().Infow("server starting", "addr", srv.Addr, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logr.Sugar().Fatalw("server failed", "error", err)
		}
	}()

	<-ctx.Done()
	logr.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Error("graceful shutdown failed", zap.Error(err))
	}
}

func optimizerConfig(cfg config.SchedulerConfig) timetable.Config {
	return timetable.Config{
		PopulationSize:    cfg.PopulationSize,
		Generations:       cfg.Generations,
		MutationRate:      cfg.MutationRate,
		TournamentSize:    cfg.TournamentSize,
		EliteRatio:        cfg.EliteRatio,
		GoodEnoughFitness: cfg.GoodEnoughFitness,
		AcceptableFitness: cfg.AcceptableFitness,
		Workers:           cfg.Workers,
		Seed:              cfg.Seed,
		LogEvery:          cfg.LogEvery,
	}
}

func readinessChecks(db *sqlx.DB, cacheRepo *repository.CacheRepository) map[string]handler.ReadinessCheck {
	checks := map[string]handler.ReadinessCheck{
		"database": db.PingContext,
	}
	if cacheRepo != nil {
		checks["redis"] = cacheRepo.Ping
	}
	return checks
}
