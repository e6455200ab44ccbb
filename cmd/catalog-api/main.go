package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/media-catalog-api/internal/handler"
	"github.com/noah-isme/media-catalog-api/internal/middleware"
	"github.com/noah-isme/media-catalog-api/internal/repository"
	"github.com/noah-isme/media-catalog-api/internal/service"
	"github.com/noah-isme/media-catalog-api/pkg/cache"
	"github.com/noah-isme/media-catalog-api/pkg/config"
	"github.com/noah-isme/media-catalog-api/pkg/database"
	"github.com/noah-isme/media-catalog-api/pkg/jobs"
	"github.com/noah-isme/media-catalog-api/pkg/logger"
	corsmiddleware "github.com/noah-isme/media-catalog-api/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/media-catalog-api/pkg/middleware/requestid"
	"github.com/noah-isme/media-catalog-api/pkg/storage"
)

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

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		logr.Sugar().Fatalw("database connection failed", "error", err)
	}
	defer db.Close() //nolint:errcheck

	store, err := storage.NewArtifactStore(cfg.ZipCache.ArtifactsRoot)
	if err != nil {
		logr.Sugar().Fatalw("artifact store init failed", "error", err)
	}

	artifactRepo := repository.NewZipArtifactRepository(db,
		time.Duration(cfg.ZipCache.HotTTLDays)*24*time.Hour,
		time.Duration(cfg.ZipCache.WarmTTLDays)*24*time.Hour)
	trendRepo := repository.NewTrendRepository(db)
	lockRepo := repository.NewAdvisoryLockRepository(db, logr)

	var cacheRepo *repository.CacheRepository
	if cfg.Redis.Enabled {
		redisClient, err := cache.NewRedis(cfg.Redis)
		if err != nil {
			logr.Sugar().Warnw("redis unavailable, lookup memo disabled", "error", err)
		} else {
			cacheRepo = repository.NewCacheRepository(redisClient, logr)
			defer cacheRepo.Close() //nolint:errcheck
		}
	}

	metricsSvc := service.NewMetricsService()
	var memo *service.CacheService
	if cacheRepo != nil {
		memo = service.NewCacheService(cacheRepo, metricsSvc, logr, cfg.Redis.MemoTTL)
	}

	buildSvc := service.NewBuildService(artifactRepo, trendRepo, store, memo, logr, metricsSvc,
		cfg.Catalog.Root, cfg.ZipCache.CompressionLevel,
		cfg.ZipCache.PrewarmTopWindow, cfg.ZipCache.PrewarmNewWindow)

	cleanupSvc := service.NewCleanupService(lockRepo, artifactRepo, store, memo, logr, metricsSvc,
		cfg.ZipCache.DiskFraction, cfg.ZipCache.CleanupInterval)

	prewarmSvc := service.NewPrewarmService(lockRepo, trendRepo, buildSvc, logr, metricsSvc,
		cfg.ZipCache.PrewarmTopWindow, cfg.ZipCache.PrewarmNewWindow,
		cfg.ZipCache.PrewarmConcurrency, cfg.ZipCache.PrewarmInterval)

	tokenSvc := service.NewTokenService(cfg.JWT.Secret)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	buildQueue := jobs.NewQueue("zip-builds", func(ctx context.Context, job jobs.Job) error {
		_, _, err := buildSvc.BuildAndPublish(ctx, job.Payload, "queued")
		return err
	}, jobs.QueueConfig{
		Workers:    cfg.BuildJobs.Workers,
		BufferSize: cfg.BuildJobs.BufferSize,
		MaxRetries: cfg.BuildJobs.MaxRetries,
		Logger:     logr,
	})
	buildQueue.Start(ctx)
	defer buildQueue.Stop()

	artifactSvc := service.NewArtifactService(artifactRepo, buildSvc, store, memo,
		service.NewBuildQueueEnqueuer(buildQueue), logr, metricsSvc,
		cfg.Catalog.BackendURL, cfg.APIPrefix)

	cleanupSvc.StartScheduler(ctx)
	prewarmSvc.StartScheduler(ctx)

	artifactHandler := handler.NewArtifactHandler(artifactSvc)
	adminHandler := handler.NewAdminHandler(cleanupSvc, prewarmSvc, artifactSvc)
	metricsHandler := handler.NewMetricsHandler(metricsSvc)

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(metricsSvc))

	r.GET("/health", metricsHandler.Health)
	r.GET("/ready", metricsHandler.Health)
	r.GET("/metrics", metricsHandler.Prometheus)

	api := r.Group(cfg.APIPrefix)
	authed := api.Group("", middleware.JWT(tokenSvc))
	{
		authed.GET("/artifacts/lookup", artifactHandler.Lookup)
		authed.GET("/artifacts/download", artifactHandler.Download)
		authed.GET("/artifacts/:id/download", artifactHandler.DownloadByID)
	}

	admin := api.Group("/admin", middleware.JWT(tokenSvc), middleware.RequireAdmin())
	{
		admin.POST("/zip-cache/cleanup", adminHandler.TriggerCleanup)
		admin.POST("/zip-cache/prewarm", adminHandler.TriggerPrewarm)
		admin.GET("/zip-cache/artifacts.csv", adminHandler.ExportInventory)
	}

	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := &http.Server{Addr: addr, Handler: r}

	go func() {
		logr.Sugar().Infow("server starting", "addr", addr, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logr.Sugar().Fatalw("server failed", "error", err)
		}
	}()

	<-ctx.Done()
	logr.Sugar().Infow("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Sugar().Errorw("shutdown failed", "error", err)
	}
}
