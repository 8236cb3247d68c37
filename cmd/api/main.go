package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coder/quartz"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"presence-service/internal/config"
	"presence-service/internal/database"
	"presence-service/internal/job"
	"presence-service/internal/live"
	"presence-service/internal/metrics"
	"presence-service/internal/repository"
	"presence-service/internal/router"
	"presence-service/internal/service"
)

func main() {
	// Load configuration
	cfg, err := config.Load(getEnv("CONFIG_PATH", "configs/config.yaml"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	logger, err := initLogger(cfg.Logger.Level)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if cfg.Server.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	logger.Info("Starting Presence Service",
		zap.String("port", cfg.Server.Port),
		zap.String("mode", cfg.Server.Mode),
		zap.String("base_path", cfg.Server.BasePath),
		zap.Duration("heartbeat_interval", cfg.Presence.HeartbeatInterval),
		zap.Duration("staleness_threshold", cfg.Presence.StalenessThreshold),
		zap.Duration("sweep_period", cfg.Presence.SweepPeriod),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Metrics
	m := metrics.NewWithLogger(logger)

	// Database is required; keep retrying until it is reachable or we are told to stop
	db, err := database.NewWithRetry(ctx, database.Config{
		DSN:             cfg.Database.GetDSN(),
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
	}, 5*time.Second, logger)
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer database.Close(db)

	if err := database.RegisterMetricsCallbacks(db, m); err != nil {
		logger.Warn("Failed to register database metrics callbacks", zap.Error(err))
	}

	if cfg.Database.AutoMigrate {
		if err := database.AutoMigrateWithRetry(db, logger, 3); err != nil {
			logger.Fatal("Failed to run database migrations", zap.Error(err))
		}
		logger.Info("Database migrations completed")
	}

	clock := quartz.NewReal()

	// Presence core
	repo := repository.NewPresenceRepository(db)
	hub := live.NewHub(service.NewSummaryReader(repo, clock, cfg.Presence.StalenessThreshold), m, logger)
	defer hub.Close()

	// Redis fans change notices out to every instance; without it changes stay local
	var notifier service.ChangeNotifier = hub
	redisClient, err := database.NewRedis(cfg.Redis, logger)
	if err != nil {
		logger.Warn("Redis unavailable, live updates limited to this instance", zap.Error(err))
		redisClient = nil
	} else {
		defer redisClient.Close()
		notifier = live.NewRedisNotifier(redisClient, hub, logger)
		go runListener(ctx, live.NewRedisListener(redisClient, hub, logger), logger)
	}

	presenceService := service.NewPresenceService(repo, notifier, cfg.Presence, clock, m, logger)

	// Reconciliation sweep
	scheduler := job.NewScheduler(logger)
	reconcile := job.NewReconcileJob(repo, notifier, clock, cfg.Presence.StalenessThreshold, m, logger)
	if err := scheduler.Every("reconcile-offline", cfg.Presence.SweepPeriod, reconcile); err != nil {
		logger.Fatal("Failed to schedule reconciliation job", zap.Error(err))
	}
	scheduler.Start()

	sqlDB, err := db.DB()
	if err != nil {
		logger.Fatal("Failed to get sql.DB", zap.Error(err))
	}
	collector := metrics.NewBusinessMetricsCollector(repo, sqlDB, m, logger, clock)
	collector.Start()

	r := router.Setup(router.Config{
		DB:              db,
		Redis:           redisClient,
		Logger:          logger,
		JWTSecret:       cfg.JWT.Secret,
		BasePath:        cfg.Server.BasePath,
		CORSOrigins:     cfg.Server.CORSOrigins,
		Metrics:         m,
		Gatherer:        prometheus.DefaultGatherer,
		PresenceService: presenceService,
		Hub:             hub,
	})

	// no write timeout: live presence streams stay open indefinitely
	srv := &http.Server{
		Addr:        fmt.Sprintf(":%s", cfg.Server.Port),
		Handler:     r,
		ReadTimeout: cfg.Server.ReadTimeout,
	}

	go func() {
		logger.Info("Presence Service started successfully", zap.String("address", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	// close live streams first so Shutdown does not wait on hijacked connections
	hub.Close()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}
	if err := scheduler.Stop(shutdownCtx); err != nil {
		logger.Warn("Reconciliation job did not finish in time", zap.Error(err))
	}
	collector.Stop()

	logger.Info("Server exited gracefully")
}

// runListener keeps the Redis subscription alive until ctx is cancelled
func runListener(ctx context.Context, listener *live.RedisListener, logger *zap.Logger) {
	for {
		err := listener.Run(ctx, nil)
		if ctx.Err() != nil {
			return
		}
		logger.Warn("Presence change listener stopped, reconnecting", zap.Error(err))
		select {
		case <-ctx.Done():
			return
		case <-time.After(5 * time.Second):
		}
	}
}

// initLogger initializes the zap logger with the specified level
func initLogger(level string) (*zap.Logger, error) {
	var zapLevel zapcore.Level
	switch level {
	case "debug":
		zapLevel = zapcore.DebugLevel
	case "info":
		zapLevel = zapcore.InfoLevel
	case "warn":
		zapLevel = zapcore.WarnLevel
	case "error":
		zapLevel = zapcore.ErrorLevel
	default:
		zapLevel = zapcore.InfoLevel
	}

	config := zap.Config{
		Level:            zap.NewAtomicLevelAt(zapLevel),
		Development:      zapLevel == zapcore.DebugLevel,
		Encoding:         "json",
		EncoderConfig:    zap.NewProductionEncoderConfig(),
		OutputPaths:      []string{"stdout"},
		ErrorOutputPaths: []string{"stderr"},
	}

	return config.Build()
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
