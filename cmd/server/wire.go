//go:build wireinject

package main

import (
	"context"

	"github.com/google/wire"
	"github.com/rs/zerolog"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"jan-server/services/upload-api/internal/config"
	domain "jan-server/services/upload-api/internal/domain/media"
	"jan-server/services/upload-api/internal/infrastructure/auth"
	"jan-server/services/upload-api/internal/infrastructure/database"
	"jan-server/services/upload-api/internal/infrastructure/logger"
	"jan-server/services/upload-api/internal/infrastructure/queue"
	repo "jan-server/services/upload-api/internal/infrastructure/repository/media"
	"jan-server/services/upload-api/internal/infrastructure/storage"
	"jan-server/services/upload-api/internal/interfaces/httpserver"
	"jan-server/services/upload-api/internal/worker"
)

var uploadSet = wire.NewSet(
	repo.NewRepository,
	wire.Bind(new(domain.Repository), new(*repo.Repository)),
	storage.NewS3Storage,
	wire.Bind(new(domain.Storage), new(*storage.S3Storage)),
	wire.Bind(new(httpserver.HealthChecker), new(*storage.S3Storage)),
	queue.NewPostgresQueue,
	wire.Bind(new(domain.AnalysisTrigger), new(*queue.PostgresQueue)),
	wire.Bind(new(queue.TaskQueue), new(*queue.PostgresQueue)),
	domain.NewService,
)

// BuildApplication assembles the upload API with Wire.
func BuildApplication(ctx context.Context) (*Application, error) {
	wire.Build(
		config.Load,
		logger.New,
		auth.NewValidator,
		newDatabaseConfig,
		newGormDB,
		uploadSet,
		provideWorkerPool,
		httpserver.New,
		NewApplication,
	)
	return nil, nil
}

func newDatabaseConfig(cfg *config.Config) database.Config {
	return database.Config{
		DSN:             cfg.GetDatabaseWriteDSN(),
		MaxIdleConns:    cfg.DBMaxIdleConns,
		MaxOpenConns:    cfg.DBMaxOpenConns,
		ConnMaxLifetime: cfg.DBConnLifetime,
		LogLevel:        gormlogger.Warn,
	}
}

func newGormDB(ctx context.Context, cfg database.Config, log zerolog.Logger) (*gorm.DB, error) {
	db, err := database.Connect(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if err := database.AutoMigrate(ctx, db, log); err != nil {
		return nil, err
	}
	return db, nil
}

func provideWorkerPool(cfg *config.Config, taskQueue queue.TaskQueue, records *domain.Service, log zerolog.Logger) *worker.Pool {
	notifier := worker.NewHTTPNotifier(cfg.AnalysisWebhookURL, cfg.AnalysisTimeout, log)
	return worker.NewPool(taskQueue, notifier, records, worker.Config{
		WorkerCount:  cfg.AnalysisWorkerCount,
		TaskTimeout:  cfg.AnalysisTimeout,
		PollInterval: cfg.AnalysisPollEvery,
		MaxAttempts:  cfg.AnalysisMaxAttempts,
	}, log)
}
