package database

import (
	"agora/config"
	"agora/pkg/logger"
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"time"

	_ "github.com/lib/pq"
)

//go:embed schema.sql
var schema string

const (
	pingAttempts = 5
	pingBackoff  = 2 * time.Second
)

// Connect opens the PostgreSQL pool and waits until it answers, retrying a few times for network blips.
func Connect(ctx context.Context, cfg config.Database) (*sql.DB, error) {
	db, err := sql.Open("postgres", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := ping(ctx, db, pingAttempts, pingBackoff); err != nil {
		db.Close()
		return nil, err
	}
	logger.Sugar.Info("Successfully connected to the database")
	return db, nil
}

func ping(ctx context.Context, db *sql.DB, attempts int, backoff time.Duration) error {
	var err error
	for i := 0; i < attempts; i++ {
		if err = db.PingContext(ctx); err == nil {
			return nil
		}
		logger.Sugar.Infof("Database connection failed, retrying in %s... (%v)", backoff, err)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
	}
	return fmt.Errorf("could not connect to database after %d attempts: %w", attempts, err)
}

// Migrate creates the decisions and votes tables when they are missing.
func Migrate(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	logger.Sugar.Info("Database schema is up to date")
	return nil
}
