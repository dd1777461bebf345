// Package database provides connection setup for MariaDB and Redis.
// Both connections are created once at startup and shared across the
// application via dependency injection. This package owns the connection
// lifecycle (open, configure pool, ping, close).
package database

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	// MariaDB driver -- imported for side effect of registering the driver.
	_ "github.com/go-sql-driver/mysql"
	"github.com/sethvargo/go-retry"

	"github.com/horacite/horacite/internal/config"
)

// connectAttempts bounds how long startup waits for a backing service.
const connectAttempts = 10

// connectBackoff returns the shared startup backoff: exponential from one
// second, capped at 30 seconds per wait.
func connectBackoff() retry.Backoff {
	b := retry.NewExponential(1 * time.Second)
	b = retry.WithCappedDuration(30*time.Second, b)
	return retry.WithMaxRetries(connectAttempts-1, b)
}

// pingWithRetry calls ping until it succeeds or the backoff gives up.
// MariaDB and Redis may still be starting when the app container launches.
func pingWithRetry(ctx context.Context, name string, ping func(context.Context) error) error {
	attempt := 0
	return retry.Do(ctx, connectBackoff(), func(ctx context.Context) error {
		attempt++
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()

		if err := ping(pingCtx); err != nil {
			slog.Warn(name+" not ready, retrying...",
				slog.Int("attempt", attempt),
				slog.Int("max_attempts", connectAttempts),
				slog.Any("error", err),
			)
			return retry.RetryableError(err)
		}
		return nil
	})
}

// NewMariaDB creates a new MariaDB connection pool configured with the
// settings from the provided config. It pings the database to verify
// connectivity before returning.
func NewMariaDB(ctx context.Context, cfg config.DatabaseConfig) (*sql.DB, error) {
	db, err := sql.Open("mysql", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("opening mariadb connection: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	if err := pingWithRetry(ctx, "mariadb", db.PingContext); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging mariadb after %d attempts: %w", connectAttempts, err)
	}

	return db, nil
}
