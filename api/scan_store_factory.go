package api

import (
	"context"
	"fmt"

	"github.com/netscope/scancollab/internal/config"
	"github.com/netscope/scancollab/internal/database"
	"github.com/netscope/scancollab/internal/slogging"
	"go.opentelemetry.io/otel/trace"
)

// NewScanStore opens the document store selected by cfg.Driver
func NewScanStore(ctx context.Context, cfg config.StoreConfig, tp trace.TracerProvider) (ScanStore, error) {
	logger := slogging.Get()

	switch cfg.Driver {
	case config.StoreDriverMemory:
		logger.Warn("Using in-memory scan store; documents are lost on restart")
		return NewMemoryScanStore(nil), nil

	case config.StoreDriverPostgres, config.StoreDriverSQLite, config.StoreDriverMySQL, config.StoreDriverSQLServer:
		db, err := database.OpenGorm(ctx, database.GormConfig{
			Type:            database.DatabaseType(cfg.Driver),
			DSN:             cfg.DSN,
			MaxOpenConns:    cfg.MaxOpenConns,
			ConnMaxLifetime: cfg.ConnMaxLifetime,
			TracerProvider:  tp,
		})
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
		store := NewGormScanStore(db)
		if cfg.AutoMigrate {
			if err := store.Migrate(ctx); err != nil {
				_ = store.Close()
				return nil, err
			}
		}
		logger.Info("Scan store ready (driver=%s)", cfg.Driver)
		return store, nil

	case config.StoreDriverMongo:
		client, coll, err := database.ConnectMongo(ctx, database.MongoConfig{
			URI:        cfg.MongoURI,
			Database:   cfg.MongoDatabase,
			Collection: cfg.MongoCollection,
		})
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
		logger.Info("Scan store ready (driver=mongodb database=%s collection=%s)", cfg.MongoDatabase, cfg.MongoCollection)
		return NewMongoScanStore(client, coll), nil

	default:
		return nil, fmt.Errorf("unsupported store driver: %s", cfg.Driver)
	}
}
