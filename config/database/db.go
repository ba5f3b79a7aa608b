package database

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"time"

	"colladoc/pkg/logger"

	_ "github.com/lib/pq"
)

//go:embed schema.sql
var schema string

const (
	connectAttempts = 5
	retryDelay      = 2 * time.Second
)

// Connect opens the Postgres pool and pings it with a few retries so a
// temporary DNS or network blip at boot does not kill the process.
func Connect(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	db.SetConnMaxIdleTime(5 * time.Minute)
	db.SetConnMaxLifetime(30 * time.Minute)
	db.SetMaxIdleConns(10)
	db.SetMaxOpenConns(20)

	for i := 0; i < connectAttempts; i++ {
		if err = db.PingContext(ctx); err == nil {
			logger.Sugar.Info("Successfully connected to the database")
			return db, nil
		}
		logger.Sugar.Infof("Database connection failed, retrying in %s... (%v)", retryDelay, err)
		select {
		case <-ctx.Done():
			db.Close()
			return nil, ctx.Err()
		case <-time.After(retryDelay):
		}
	}
	db.Close()
	return nil, fmt.Errorf("ping db after %d attempts: %w", connectAttempts, err)
}

// Migrate applies the idempotent schema.
func Migrate(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}
