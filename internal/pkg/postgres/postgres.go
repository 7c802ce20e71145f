// Package postgres opens and migrates the PostgreSQL database that holds the
// notification queue and the tracker tables it reads.
package postgres

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

const maxBackoff = 16 * time.Second

// Config contains PostgreSQL connection configuration.
type Config struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	// ConnectAttempts bounds how often Connect retries while the database
	// is still starting up.
	ConnectAttempts int
}

// Connect opens a pool and pings it, retrying with exponential backoff.
func Connect(ctx context.Context, cfg Config) (*pgxpool.Pool, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		poolConfig.MaxConns = int32(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		poolConfig.MinConns = int32(min(cfg.MaxIdleConns, int(poolConfig.MaxConns)))
	}
	if cfg.ConnMaxLifetime > 0 {
		poolConfig.MaxConnLifetime = cfg.ConnMaxLifetime
	}

	logger := slog.With(
		"host", poolConfig.ConnConfig.Host,
		"database", poolConfig.ConnConfig.Database,
	)

	attempts := max(cfg.ConnectAttempts, 1)
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		pool, err := open(ctx, poolConfig)
		if err == nil {
			logger.Info("connected to database", "attempts", attempt)
			return pool, nil
		}
		lastErr = err
		if attempt == attempts {
			break
		}

		backoff := calcBackoff(attempt)
		logger.Warn("database not ready, retrying",
			"attempt", attempt,
			"max_attempts", attempts,
			"backoff", backoff,
			"error", err,
		)
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("connection cancelled: %w", ctx.Err())
		case <-time.After(backoff):
		}
	}

	return nil, fmt.Errorf("connect to database after %d attempts: %w", attempts, lastErr)
}

func open(ctx context.Context, cfg *pgxpool.Config) (*pgxpool.Pool, error) {
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}
	return pool, nil
}

// calcBackoff doubles from one second up to maxBackoff.
func calcBackoff(attempt int) time.Duration {
	return min(time.Duration(1<<(attempt-1))*time.Second, maxBackoff)
}
