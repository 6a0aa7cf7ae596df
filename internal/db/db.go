// Package db provides database connection and migration functionality.
package db

import (
	"fmt"
	"time"

	"commit-reveal-oracle/internal/config"
	applog "commit-reveal-oracle/internal/logger"
	"commit-reveal-oracle/internal/models"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const (
	maxOpenConns    = 10
	connMaxLifetime = 30 * time.Minute
	slowQuery       = 200 * time.Millisecond
)

// Open opens a database connection using the provided configuration. It
// returns nil when no database is configured.
func Open(cfg config.Config, log *applog.Logger) (*gorm.DB, error) {
	if cfg.DBDialect == "" || cfg.DBDsn == "" {
		return nil, nil
	}

	// GORM output goes through the application logger, and only in debug.
	level := logger.Silent
	if log != nil && log.Debugging() {
		level = logger.Warn
	}
	var writer logger.Writer = discard{}
	if log != nil {
		writer = log
	}
	gormLogger := logger.New(writer, logger.Config{
		SlowThreshold:             slowQuery,
		LogLevel:                  level,
		IgnoreRecordNotFoundError: true,
		Colorful:                  false,
	})

	var dialector gorm.Dialector
	switch cfg.DBDialect {
	case config.DatabaseSchemePostgres:
		dialector = postgres.Open(cfg.DBDsn)
	default:
		return nil, fmt.Errorf("unsupported DB_DIALECT: %s", cfg.DBDialect)
	}

	db, err := gorm.Open(dialector, &gorm.Config{Logger: gormLogger})
	if err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("database handle: %w", err)
	}
	sqlDB.SetMaxOpenConns(maxOpenConns)
	sqlDB.SetConnMaxLifetime(connMaxLifetime)
	return db, nil
}

type discard struct{}

func (discard) Printf(string, ...interface{}) {}

// AutoMigrate runs database migrations for all models.
func AutoMigrate(db *gorm.DB) error {
	if db == nil {
		return nil
	}
	return db.AutoMigrate(
		&models.Round{},
		&models.Node{},
		&models.Balance{},
		&models.PhaseTransition{},
		&models.NodeVote{},
		&models.SlashRecord{},
		&models.Resolution{},
		&models.Payout{},
	)
}
