package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	gormlogger "gorm.io/gorm/logger"

	"jan-server/services/upload-api/internal/config"
	domain "jan-server/services/upload-api/internal/domain/media"
	"jan-server/services/upload-api/internal/infrastructure/auth"
	"jan-server/services/upload-api/internal/infrastructure/database"
	"jan-server/services/upload-api/internal/infrastructure/logger"
	"jan-server/services/upload-api/internal/infrastructure/observability"
	"jan-server/services/upload-api/internal/infrastructure/queue"
	repo "jan-server/services/upload-api/internal/infrastructure/repository/media"
	"jan-server/services/upload-api/internal/infrastructure/storage"
	"jan-server/services/upload-api/internal/interfaces/httpserver"
	"jan-server/services/upload-api/internal/worker"
)

// @title Upload API
// @version 1.0
// @description Resumable media upload and analysis handoff service
// @BasePath /
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
type Application struct {
	httpServer *httpserver.HttpServer
	pool       *worker.Pool
	log        zerolog.Logger
}

func NewApplication(httpServer *httpserver.HttpServer, pool *worker.Pool, log zerolog.Logger) *Application {
	return &Application{
		httpServer: httpServer,
		pool:       pool,
		log:        log,
	}
}

func (a *Application) Start(ctx context.Context) error {
	if err := a.pool.Start(ctx); err != nil {
		return err
	}
	defer a.pool.Stop()
	return a.httpServer.Run(ctx)
}

func main() {
	loadEnvFiles()

	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	log := logger.New(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, err := observability.Setup(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("initialize observability")
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := shutdownTelemetry(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("shutdown telemetry")
		}
	}()

	db, err := database.Connect(ctx, database.Config{
		DSN:             cfg.GetDatabaseWriteDSN(),
		MaxIdleConns:    cfg.DBMaxIdleConns,
		MaxOpenConns:    cfg.DBMaxOpenConns,
		ConnMaxLifetime: cfg.DBConnLifetime,
		LogLevel:        gormlogger.Warn,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("connect database")
	}

	if err := database.AutoMigrate(ctx, db, log); err != nil {
		log.Fatal().Err(err).Msg("migrate database")
	}

	storageClient, err := storage.NewS3Storage(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("initialize storage")
	}

	mediaRepository := repo.NewRepository(db)
	taskQueue := queue.NewPostgresQueue(db, log)

	mediaService, err := domain.NewService(cfg, mediaRepository, storageClient, taskQueue, log)
	if err != nil {
		log.Fatal().Err(err).Msg("initialize media service")
	}

	if recovered, err := mediaService.RecoverStrandedUploads(ctx, cfg.StrandedAfter, cfg.StrandedSweepLimit); err != nil {
		log.Warn().Err(err).Msg("stranded upload sweep failed")
	} else if recovered > 0 {
		log.Info().Int("recovered", recovered).Msg("stranded upload sweep complete")
	}

	notifier := worker.NewHTTPNotifier(cfg.AnalysisWebhookURL, cfg.AnalysisTimeout, log)
	pool := worker.NewPool(taskQueue, notifier, mediaService, worker.Config{
		WorkerCount:  cfg.AnalysisWorkerCount,
		TaskTimeout:  cfg.AnalysisTimeout,
		PollInterval: cfg.AnalysisPollEvery,
		MaxAttempts:  cfg.AnalysisMaxAttempts,
	}, log)

	authValidator, err := auth.NewValidator(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("initialize auth validator")
	}

	httpServer := httpserver.New(cfg, log, mediaService, authValidator, db, storageClient)
	app := NewApplication(httpServer, pool, log)

	if err := app.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("application stopped with error")
	}

	log.Info().Msg("application exited cleanly")
}

func loadEnvFiles() {
	paths := []string{".env", "../.env"}
	for _, path := range paths {
		if _, err := os.Stat(path); err == nil {
			if err := godotenv.Overload(path); err != nil {
				fmt.Fprintf(os.Stderr, "warning: failed to load %s: %v\n", path, err)
			}
		}
	}
}
