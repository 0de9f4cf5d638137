package common

import (
	"context"
	"log"
	"strings"

	"otc-settlement-go/internal/database"
	"otc-settlement-go/internal/ledger"
	"otc-settlement-go/internal/models"
	"otc-settlement-go/internal/notify"
	"otc-settlement-go/internal/settlement"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

// init loads environment variables from .env file if it exists
func init() {
	// Try to load .env file - if it doesn't exist, that's okay
	// Environment variables can be set via other means (shell export, docker, etc.)
	if err := godotenv.Load(); err != nil {
		log.Printf("Note: No .env file found or unable to load it: %v\n", err)
	}
}

type Services struct {
	DbService  *database.Service
	Engine     *settlement.Engine
	Notifier   *notify.Emitter
	Replicator *ledger.Replicator
}

func InitializeLogger() (*zap.Logger, func()) {
	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}

	zap.ReplaceGlobals(logger)

	cleanup := func() {
		if err := logger.Sync(); err != nil {
			if !isIgnorableSyncError(err) {
				log.Printf("Failed to sync logger: %v\n", err)
			}
		}
	}

	return logger, cleanup
}

func InitializeServices(ctx context.Context, cfg *models.Config) (*Services, error) {
	dbService, err := database.NewService(ctx, cfg.Database)
	if err != nil {
		return nil, err
	}

	zap.L().Info("Loading supported currencies", zap.String("file", cfg.Server.CurrenciesFile))
	fiatCurrencies, err := LoadCurrencyCodes(cfg.Server.CurrenciesFile)
	if err != nil {
		dbService.Close()
		return nil, err
	}
	zap.L().Info("Supported fiat currencies loaded", zap.Strings("codes", fiatCurrencies))

	notifier := notify.NewEmitter(dbService)
	replicator := ledger.NewReplicator(dbService)
	engine := settlement.NewEngine(dbService, replicator, notifier, fiatCurrencies)

	return &Services{
		DbService:  dbService,
		Engine:     engine,
		Notifier:   notifier,
		Replicator: replicator,
	}, nil
}

// InitializeDatabaseOnly initializes just the database service.
// Useful for read-only operations like listing a user's activity.
func InitializeDatabaseOnly(ctx context.Context, cfg *models.Config) (*database.Service, error) {
	return database.NewService(ctx, cfg.Database)
}

func (cs *Services) Close() {
	if cs.DbService != nil {
		cs.DbService.Close()
	}
}

func isIgnorableSyncError(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "sync /dev/stderr: inappropriate ioctl for device") ||
		strings.Contains(msg, "sync /dev/stdout: inappropriate ioctl for device")
}
