package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/ByteSurgeonAmos/pesaTalk/config"
	"github.com/ByteSurgeonAmos/pesaTalk/internal/handler"
	"github.com/ByteSurgeonAmos/pesaTalk/internal/notify"
	"github.com/ByteSurgeonAmos/pesaTalk/internal/phone"
	"github.com/ByteSurgeonAmos/pesaTalk/internal/provider/mpesa"
	"github.com/ByteSurgeonAmos/pesaTalk/internal/ratelimit"
	"github.com/ByteSurgeonAmos/pesaTalk/internal/repository"
	"github.com/ByteSurgeonAmos/pesaTalk/internal/router"
	"github.com/ByteSurgeonAmos/pesaTalk/internal/usecase"
	"github.com/ByteSurgeonAmos/pesaTalk/internal/worker"
	"github.com/ByteSurgeonAmos/pesaTalk/pkg/cache"
)

func main() {
	// Initialize logger
	logger, err := zap.NewProduction()
	if err != nil {
		panic(fmt.Sprintf("failed to initialize logger: %v", err))
	}
	defer logger.Sync()

	logger.Info("starting pesatalk transaction service")

	// Local development overrides; absent file is fine.
	_ = godotenv.Load()

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("failed to load configuration", zap.Error(err))
	}

	logger.Info("configuration loaded",
		zap.String("environment", cfg.Server.Env),
		zap.String("port", cfg.Server.Port))

	// Connect to database
	dbPool, err := pgxpool.New(context.Background(), cfg.Database.URL())
	if err != nil {
		logger.Fatal("failed to connect to database", zap.Error(err))
	}
	defer dbPool.Close()

	logger.Info("connected to database",
		zap.String("database", cfg.Database.DBName))

	// Connect to Redis
	cacheSvc, err := cache.NewService(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, logger)
	if err != nil {
		logger.Fatal("failed to connect to redis", zap.Error(err))
	}
	defer cacheSvc.Close()

	// Phone vault
	vault, err := phone.NewVault(cfg.Phone.EncryptionKey)
	if err != nil {
		logger.Fatal("failed to initialize phone vault", zap.Error(err))
	}

	// Initialize repositories
	transactionStore := repository.NewTransactionRepository(dbPool)
	contactCounter := repository.NewPgContactCounter(dbPool)

	// Initialize gateway client
	gateway := mpesa.NewClient(cfg.Mpesa, logger)

	// Rate limiting and notification
	limiter := ratelimit.NewLimiter(cfg.Limits, cacheSvc)
	notifier := notify.NewLogNotifier(logger)

	// Initialize usecases
	engine := usecase.NewTransactionEngine(
		transactionStore,
		gateway,
		vault,
		limiter,
		cfg,
		logger,
	)

	reconciler := usecase.NewCallbackReconciler(
		transactionStore,
		contactCounter,
		notifier,
		logger,
	)

	// Background sweeps
	scheduler := worker.NewScheduler(
		transactionStore,
		worker.CacheLocker{Service: cacheSvc},
		notifier,
		limiter,
		cfg.Windows,
		logger,
	)
	scheduler.Start()
	defer scheduler.Stop()

	// Initialize handlers
	transactionHandler := handler.NewTransactionHandler(engine, limiter, vault, logger)
	callbackHandler := handler.NewCallbackHandler(reconciler, logger)
	healthHandler := handler.NewHealthHandler(dbPool, cacheSvc, logger)

	// Setup routes
	r := router.SetupRoutes(transactionHandler, callbackHandler, healthHandler, logger)

	// Create HTTP server
	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		logger.Info("server starting", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("failed to start server", zap.Error(err))
		}
	}()

	logger.Info("pesatalk transaction service started",
		zap.String("port", cfg.Server.Port),
		zap.String("environment", cfg.Server.Env))

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")

	// Graceful shutdown
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("server forced to shutdown", zap.Error(err))
	}

	logger.Info("server stopped")
}
