package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/example/hazardscan/internal/analyzer"
	"github.com/example/hazardscan/internal/auth"
	"github.com/example/hazardscan/internal/config"
	"github.com/example/hazardscan/internal/dispatcher"
	"github.com/example/hazardscan/internal/handlers"
	"github.com/example/hazardscan/internal/logging"
	"github.com/example/hazardscan/internal/repository"
	"github.com/example/hazardscan/internal/scheduler"
	"github.com/example/hazardscan/internal/storage"
	"github.com/example/hazardscan/internal/usecase"
)

func main() {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	logger, err := logging.NewLogger()
	if err != nil {
		panic(err)
	}
	defer logger.Sync() //nolint:errcheck

	cfg := config.Load()

	db := initDatabase(ctx, cfg, logger)
	records := repository.NewRecordRepository(db, logger)
	if err := records.AutoMigrate(ctx); err != nil {
		logger.Fatal("auto migrate failed", zap.Error(err))
	}
	users := repository.NewUserRepository(db, logger)

	redisCtx, redisCancel := context.WithTimeout(ctx, 5*time.Second)
	defer redisCancel()
	redisClient := initRedis(redisCtx, cfg, logger)

	artifacts := initArtifactStore(ctx, cfg, logger)

	detector := analyzer.NewSimulatedDetector(artifacts, logger, cfg.DetectorLatency)
	disp := dispatcher.New(records, detector, logger, dispatcher.Config{
		BatchSize:       cfg.BatchSize,
		RetryLimit:      cfg.RetryLimit,
		AnalysisTimeout: cfg.AnalysisTimeout,
		StuckAfter:      cfg.StuckAfter,
	})

	sched := scheduler.New(disp, cfg.ScanInterval, logger)
	schedCtx, schedCancel := context.WithCancel(context.Background())
	sched.Start(schedCtx)
	defer func() {
		schedCancel()
		sched.Stop()
		disp.Wait()
	}()

	cache := usecase.NewRedisCache(redisClient)
	analysisUC := usecase.NewAnalysisUseCase(records, cache, artifacts, disp, logger)
	accountUC := usecase.NewAccountUseCase(users, cfg.JWTSecret, cfg.JWTAudience, cfg.TokenTTL, logger)

	r := gin.Default()
	r.MaxMultipartMemory = handlers.MaxUploadSize

	authMiddleware := auth.JWTMiddleware(cfg.JWTSecret, cfg.JWTAudience)
	handlers.RegisterRoutes(r, analysisUC, accountUC, authMiddleware)

	server := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: r,
	}

	logger.Info("hazardscan API listening", zap.String("addr", cfg.HTTPAddr))
	if err := serveHTTPServer(server, 15*time.Second, logger); err != nil {
		logger.Fatal("server failed", zap.Error(err))
	}
}

func initDatabase(ctx context.Context, cfg *config.Config, zapLogger *zap.Logger) *gorm.DB {
	db, err := gorm.Open(postgres.Open(cfg.DatabaseDSN), &gorm.Config{
		Logger:         gormlogger.Default.LogMode(gormlogger.Warn),
		TranslateError: true,
	})
	if err != nil {
		zapLogger.Fatal("failed to connect to database", zap.Error(err))
	}

	sqlDB, err := db.DB()
	if err != nil {
		zapLogger.Fatal("failed to access db handle", zap.Error(err))
	}
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetMaxOpenConns(10)
	sqlDB.SetConnMaxLifetime(time.Hour)

	if err := sqlDB.PingContext(ctx); err != nil {
		zapLogger.Fatal("database ping failed", zap.Error(err))
	}

	return db
}

func initRedis(ctx context.Context, cfg *config.Config, zapLogger *zap.Logger) *redis.Client {
	client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	if err := client.Ping(ctx).Err(); err != nil {
		zapLogger.Fatal("redis connection failed", zap.Error(err))
	}
	return client
}

func initArtifactStore(ctx context.Context, cfg *config.Config, zapLogger *zap.Logger) storage.ArtifactStore {
	if cfg.StorageBackend == "minio" {
		store, err := storage.NewMinioStore(ctx, cfg.MinioEndpoint, cfg.MinioAccessKey, cfg.MinioSecretKey, cfg.MinioBucket, cfg.MinioUseSSL)
		if err != nil {
			zapLogger.Fatal("minio connection failed", zap.Error(err))
		}
		return store
	}

	store, err := storage.NewDiskStore(cfg.UploadDir)
	if err != nil {
		zapLogger.Fatal("upload dir unavailable", zap.Error(err))
	}
	return store
}

func serveHTTPServer(server *http.Server, shutdownTimeout time.Duration, logger *zap.Logger) error {
	return serveHTTPServerWithOptions(server, shutdownTimeout, logger, nil, nil)
}

func serveHTTPServerWithOptions(server *http.Server, shutdownTimeout time.Duration, logger *zap.Logger, listener net.Listener, signalCh <-chan os.Signal) error {
	errCh := make(chan error, 1)
	go func() {
		var err error
		if listener != nil {
			err = server.Serve(listener)
		} else {
			err = server.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		errCh <- err
	}()

	var (
		sigCh       <-chan os.Signal
		stopSignals func()
	)

	if signalCh != nil {
		sigCh = signalCh
		stopSignals = func() {}
	} else {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, os.Interrupt, syscall.SIGTERM)
		sigCh = ch
		stopSignals = func() {
			signal.Stop(ch)
		}
	}
	defer stopSignals()

	select {
	case err := <-errCh:
		return err
	case sig, ok := <-sigCh:
		if !ok {
			return <-errCh
		}
		logger.Info("received shutdown signal", zap.String("signal", sig.String()))
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return <-errCh
	}
}
