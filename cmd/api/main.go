package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bobarin/threadcast/internal/api"
	"github.com/bobarin/threadcast/internal/app"
	"github.com/bobarin/threadcast/internal/config"
	"github.com/bobarin/threadcast/internal/db"
	"github.com/bobarin/threadcast/internal/queue"
	"github.com/bobarin/threadcast/internal/worker"
	"go.uber.org/zap"
)

func main() {
	logger, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	logger.Info("starting threadcast API")

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("failed to load config", zap.Error(err))
	}

	// Connect to database
	database, err := db.New(cfg.DatabaseURL)
	if err != nil {
		logger.Fatal("failed to connect to database", zap.Error(err))
	}
	defer database.Close()
	logger.Info("connected to database")

	if cfg.AutoMigrate {
		n, err := database.Migrate()
		if err != nil {
			logger.Fatal("failed to migrate database", zap.Error(err))
		}
		logger.Info("applied migrations", zap.Int("count", n))
	}

	// Connect to Redis queue
	q, err := queue.New(cfg.RedisURL)
	if err != nil {
		logger.Fatal("failed to connect to queue", zap.Error(err))
	}
	defer q.Close()
	logger.Info("connected to redis queue")

	// Initialize storage
	initCtx, initCancel := context.WithTimeout(context.Background(), 30*time.Second)
	objects, err := app.NewObjectStore(initCtx, cfg, logger)
	initCancel()
	if err != nil {
		logger.Fatal("failed to initialize storage", zap.Error(err))
	}
	logger.Info("initialized object storage", zap.String("backend", cfg.StorageBackend))

	// Create API handler
	handler := api.NewHandler(database, q, objects, logger)
	router := api.NewRouter(handler, api.RouterConfig{
		BackendAPIKey:      cfg.BackendAPIKey,
		CorsAllowedOrigins: cfg.CorsAllowedOrigins,
	}, logger)

	if cfg.BackendAPIKey != "" {
		logger.Info("API key authentication enabled")
	} else {
		logger.Warn("no BACKEND_API_KEY set, API is unprotected (dev mode)")
	}

	server := &http.Server{
		Addr:    ":" + cfg.APIPort,
		Handler: router,
	}

	// Start worker if enabled
	var workerCancel context.CancelFunc
	workerDone := make(chan struct{})
	if cfg.WorkerEnabled {
		p, err := app.NewPipeline(cfg, logger)
		if err != nil {
			logger.Fatal("failed to build pipeline", zap.Error(err))
		}

		w := worker.New(database, q, p, objects, logger)

		var workerCtx context.Context
		workerCtx, workerCancel = context.WithCancel(context.Background())
		go func() {
			defer close(workerDone)
			if err := w.Start(workerCtx, cfg.MaxConcurrentJobs); err != nil {
				logger.Error("worker stopped", zap.Error(err))
			}
		}()
	} else {
		close(workerDone)
	}

	go func() {
		logger.Info("API server listening", zap.String("port", cfg.APIPort))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server")

	if workerCancel != nil {
		workerCancel()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Error("server forced to shutdown", zap.Error(err))
	}

	select {
	case <-workerDone:
	case <-ctx.Done():
		logger.Warn("worker did not stop before shutdown deadline")
	}

	logger.Info("server exited")
}
