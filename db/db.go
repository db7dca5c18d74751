package db

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"architect-studio/common"
	"architect-studio/sections/models"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// DB wraps the gorm handle. It is built once in main and passed to every
// handler; nothing in the repo reaches for a package-level connection.
type DB struct {
	*gorm.DB
}

// Config holds database configuration
type Config struct {
	DatabaseURL string
	Debug       bool
}

// Connect establishes a connection to PostgreSQL
func Connect(ctx context.Context, cfg *Config) (*DB, error) {
	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL environment variable is required")
	}

	db, err := Open(postgres.Open(cfg.DatabaseURL), cfg.Debug)
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying DB: %w", err)
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	slog.Info("Database connection established")
	return db, nil
}

// Open wraps any gorm dialector. Every write is a single statement, so the
// implicit per-write transaction gorm adds is switched off.
func Open(dialector gorm.Dialector, debug bool) (*DB, error) {
	gormConfig := &gorm.Config{
		SkipDefaultTransaction: true,
		DisableAutomaticPing:   true,
		TranslateError:         true,
	}
	if debug {
		gormConfig.Logger = logger.Default.LogMode(logger.Info)
	} else {
		gormConfig.Logger = logger.Default.LogMode(logger.Silent)
	}

	db, err := gorm.Open(dialector, gormConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return &DB{DB: db}, nil
}

// Migrate creates or updates every table
func (db *DB) Migrate(ctx context.Context) error {
	all := models.All()
	if err := db.WithContext(ctx).AutoMigrate(all...); err != nil {
		return fmt.Errorf("failed to migrate models: %w", err)
	}
	slog.Info("Models migrated", "count", len(all))
	return nil
}

// Ping reports whether the database answers
func (db *DB) Ping(ctx context.Context) error {
	sqlDB, err := db.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Close closes the database connection
func (db *DB) Close() error {
	sqlDB, err := db.DB.DB()
	if err != nil {
		return fmt.Errorf("failed to get underlying DB: %w", err)
	}
	return sqlDB.Close()
}

func translate(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return common.ErrNotFound
	}
	return err
}
