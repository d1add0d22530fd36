package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"rifa/internal/config"

	"github.com/google/logger"
)

// DB holds the database connection
type DB struct {
	Postgres *sqlx.DB
}

// NewDB connects to PostgreSQL using config
func NewDB(ctx context.Context, cfg *config.Config) (*DB, error) {
	postgres, err := sqlx.Connect("postgres", cfg.Database.GetDatabaseURL())
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL: %w", err)
	}

	// Configure connection pool
	postgres.SetMaxOpenConns(cfg.Database.MaxConns)
	postgres.SetMaxIdleConns(cfg.Database.MinConns)
	postgres.SetConnMaxLifetime(time.Hour)

	if err := postgres.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping PostgreSQL: %w", err)
	}

	logger.Infof("Successfully connected to PostgreSQL at %s:%s", cfg.Database.Host, cfg.Database.Port)

	return &DB{
		Postgres: postgres,
	}, nil
}

// Close closes the database connection
func (db *DB) Close() error {
	if err := db.Postgres.Close(); err != nil {
		return fmt.Errorf("failed to close PostgreSQL: %w", err)
	}

	return nil
}
