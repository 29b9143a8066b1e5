// Package setup performs the shared initialization for the bot and the
// batch jobs: config, logging, database, Redis and the email cipher.
package setup

import (
	"context"
	"log"

	"github.com/pulsegate/pulsegate/internal/crypto"
	"github.com/pulsegate/pulsegate/internal/database"
	"github.com/pulsegate/pulsegate/internal/redis"
	"github.com/pulsegate/pulsegate/internal/setup/config"
	"github.com/pulsegate/pulsegate/internal/setup/logging"
	"go.uber.org/zap"
)

// App contains all the common application components.
type App struct {
	Config       *config.Config
	Logger       *zap.Logger
	DBLogger     *zap.Logger
	DB           database.Client
	RedisManager *redis.Manager
	Codec        *crypto.Codec
}

// InitializeApp performs common setup tasks and returns an App.
func InitializeApp(ctx context.Context, logDir string) (*App, error) {
	cfg, configPath, err := config.LoadConfig()
	if err != nil {
		return nil, err
	}

	logger, dbLogger, err := logging.NewLoggers(
		logDir, cfg.Common.Debug.LogLevel, cfg.Common.Debug.MaxLogsToKeep)
	if err != nil {
		return nil, err
	}

	logger.Info("Loaded configuration", zap.String("configPath", configPath))

	db, err := database.NewConnection(ctx, &cfg.Common.PostgreSQL, dbLogger, true)
	if err != nil {
		logger.Error("Failed to connect to database", zap.Error(err))
		return nil, err
	}

	codec, err := crypto.NewCodec(cfg.Common.Verification.EncryptionKey)
	if err != nil {
		logger.Error("Invalid encryption key", zap.Error(err))
		return nil, err
	}

	redisManager := redis.NewManager(&cfg.Common.Redis, logger)

	return &App{
		Config:       cfg,
		Logger:       logger,
		DBLogger:     dbLogger,
		DB:           db,
		RedisManager: redisManager,
		Codec:        codec,
	}, nil
}

// Cleanup releases every shared resource.
func (a *App) Cleanup() {
	if err := a.Logger.Sync(); err != nil {
		log.Printf("Failed to sync logger: %v", err)
	}

	if err := a.DBLogger.Sync(); err != nil {
		log.Printf("Failed to sync DB logger: %v", err)
	}

	if err := a.DB.Close(); err != nil {
		log.Printf("Failed to close database connection: %v", err)
	}

	a.RedisManager.Close()
}
