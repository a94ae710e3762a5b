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

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/noah-isme/roster-api/internal/handler"
	"github.com/noah-isme/roster-api/internal/repository"
	"github.com/noah-isme/roster-api/internal/repository/memory"
	"github.com/noah-isme/roster-api/internal/router"
	"github.com/noah-isme/roster-api/internal/service"
	"github.com/noah-isme/roster-api/pkg/cache"
	"github.com/noah-isme/roster-api/pkg/config"
	"github.com/noah-isme/roster-api/pkg/database"
	"github.com/noah-isme/roster-api/pkg/imaging"
	"github.com/noah-isme/roster-api/pkg/logger"
	"github.com/noah-isme/roster-api/pkg/storage"
	"github.com/noah-isme/roster-api/pkg/validation"
)

// @title Roster API
// @version 1.0.0
// @description Faculties, students and student avatars.
// @BasePath /api/v1
// @schemes http

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

	checks := map[string]handler.PingFunc{}

	var store repository.Transactor
	switch cfg.StorageDriver {
	case config.StorageDriverMemory:
		logr.Warn("using in-memory storage, data is lost on restart")
		store = memory.NewStore()
	default:
		db, err := database.NewPostgres(cfg.Database)
		if err != nil {
			logr.Fatal("failed to connect to postgres", zap.Error(err))
		}
		defer db.Close()
		if cfg.MigrateOnStart {
			if err := database.Migrate(db); err != nil {
				logr.Fatal("failed to migrate database", zap.Error(err))
			}
			logr.Info("database migrated")
		}
		checks["postgres"] = db.PingContext
		store = repository.NewStore(db)
	}

	var redisClient *redis.Client
	if cfg.Cache.Enabled {
		redisClient, err = cache.NewRedis(context.Background(), cfg.Redis)
		if err != nil {
			logr.Warn("redis unavailable, caching disabled", zap.Error(err))
		} else {
			defer redisClient.Close()
			checks["redis"] = func(ctx context.Context) error { return redisClient.Ping(ctx).Err() }
		}
	}

	files, err := storage.NewLocalStorage(cfg.Avatars.Dir)
	if err != nil {
		logr.Fatal("failed to prepare avatar directory", zap.String("dir", cfg.Avatars.Dir), zap.Error(err))
	}

	metricsSvc := service.NewMetricsService()
	cacheSvc := service.NewCacheService(repository.NewCacheRepository(redisClient, logr), metricsSvc, cfg.Cache.StatsTTL, logr, redisClient != nil)
	validator := validation.New()

	reconciler := service.NewReconciler(store, logr)
	studentSvc := service.NewStudentService(store, reconciler, cacheSvc, files, validator, logr)
	facultySvc := service.NewFacultyService(store, reconciler, cacheSvc, files, validator, logr)
	avatarSvc := service.NewAvatarService(store, files, imaging.NewCodec(cfg.Avatars.PreviewSize), metricsSvc, service.AvatarConfig{MaxBytes: cfg.Avatars.MaxFileBytes}, logr)

	handlers := &router.Handlers{
		Faculty: handler.NewFacultyHandler(facultySvc),
		Student: handler.NewStudentHandler(studentSvc),
		Avatar:  handler.NewAvatarHandler(avatarSvc, cfg.Avatars.MaxFileBytes),
		Admin:   handler.NewAdminHandler(reconciler),
		Metrics: handler.NewMetricsHandler(metricsSvc, checks),
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           router.New(cfg, logr, metricsSvc, handlers),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logr.Sugar().Infow("server starting", "addr", srv.Addr, "env", cfg.Env, "storage", cfg.StorageDriver)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logr.Sugar().Fatalw("server failed", "error", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	logr.Info("shutting down", zap.String("signal", sig.String()))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logr.Error("graceful shutdown failed", zap.Error(err))
	}
}
