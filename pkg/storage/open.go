package storage

import (
	"fmt"
	"strings"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Open connects to the database named by dsn. PostgreSQL URLs and keyword
// DSNs ("host=... dbname=...") use the postgres driver; anything else is
// treated as a SQLite path.
func Open(dsn string, logLevel logger.LogLevel, opts ...PoolOption) (*gorm.DB, error) {
	if dsn == "" {
		return nil, fmt.Errorf("storage: empty database dsn")
	}

	var dialector gorm.Dialector
	if isPostgresDSN(dsn) {
		dialector = postgres.Open(dsn)
	} else {
		dialector = sqlite.Open(dsn)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:         logger.Default.LogMode(logLevel),
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("storage: open database: %w", err)
	}

	if db.Dialector.Name() == "sqlite" {
		// SQLite has a single writer; more connections only produce
		// "database is locked" errors under concurrent workers.
		opts = append(opts, MaxOpenConns(1), MaxIdleConns(1))
	}
	if err := ConfigurePool(db, opts...); err != nil {
		return nil, err
	}
	return db, nil
}

func isPostgresDSN(dsn string) bool {
	lower := strings.ToLower(dsn)
	return strings.HasPrefix(lower, "postgres://") ||
		strings.HasPrefix(lower, "postgresql://") ||
		strings.Contains(lower, "host=")
}
