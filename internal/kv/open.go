package kv

import (
	"context"
	"database/sql"
	"fmt"

	"go.uber.org/zap"

	"civicreport/internal/config"
	"civicreport/internal/db"
)

// Open builds the engine selected by cfg.StoreDriver. SQL engines are
// migrated before they are returned.
func Open(ctx context.Context, cfg config.Config, logger *zap.Logger) (Engine, error) {
	switch cfg.StoreDriver {
	case "memory":
		logger.Warn("using in-memory store; data is lost on exit")
		return NewMemory(), nil
	case "sqlite":
		sqdb, err := db.OpenSQLite(cfg.DBPath, cfg.DBMaxOpenConns, cfg.DBMaxIdleConns, cfg.DBConnMaxLifetime)
		if err != nil {
			return nil, fmt.Errorf("open sqlite: %w", err)
		}
		return migrated(ctx, sqdb, db.DialectSQLite, logger)
	case "postgres", "mysql":
		sqdb, err := db.Open(ctx, cfg.StoreDriver, cfg.StoreDSN, cfg.DBMaxOpenConns, cfg.DBMaxIdleConns, cfg.DBConnMaxLifetime)
		if err != nil {
			return nil, err
		}
		return migrated(ctx, sqdb, cfg.StoreDriver, logger)
	case "mongo":
		m, err := OpenMongo(ctx, cfg.StoreDSN, cfg.MongoDatabase)
		if err != nil {
			return nil, err
		}
		logger.Info("store ready", zap.String("driver", "mongo"), zap.String("database", cfg.MongoDatabase))
		return m, nil
	default:
		return nil, fmt.Errorf("unsupported store driver %q", cfg.StoreDriver)
	}
}

func migrated(ctx context.Context, sqdb *sql.DB, dialect string, logger *zap.Logger) (Engine, error) {
	if err := db.Migrate(ctx, sqdb, dialect); err != nil {
		_ = sqdb.Close()
		return nil, fmt.Errorf("migrate %s: %w", dialect, err)
	}
	logger.Info("store ready", zap.String("driver", dialect))
	return NewSQL(sqdb, dialect), nil
}
