package app

import (
	"context"
	"fmt"

	"github.com/bissquit/issue-notifier/internal/config"
	"github.com/bissquit/issue-notifier/internal/notifications"
	notificationspostgres "github.com/bissquit/issue-notifier/internal/notifications/postgres"
	"github.com/bissquit/issue-notifier/internal/notifications/sqlite"
	"github.com/bissquit/issue-notifier/internal/pkg/metrics"
	"github.com/bissquit/issue-notifier/internal/pkg/postgres"
	"github.com/bissquit/issue-notifier/migrations"
)

// storage bundles the queue store and tracker reader of one database.
type storage struct {
	driver      string
	store       notifications.Store
	reader      notifications.IssueReader
	recordStats func()
	close       func()
}

func openStorage(ctx context.Context, cfg config.DatabaseConfig) (*storage, error) {
	switch cfg.Driver {
	case config.DriverSQLite:
		db, err := sqlite.Open(ctx, sqlite.Config{
			Path:        cfg.SQLitePath,
			BusyTimeout: cfg.BusyTimeout,
		})
		if err != nil {
			return nil, fmt.Errorf("open sqlite: %w", err)
		}
		return &storage{
			driver:      config.DriverSQLite,
			store:       sqlite.NewStore(db),
			reader:      sqlite.NewIssueReader(db),
			recordStats: func() { metrics.RecordPoolStats(metrics.SQLPoolStats(db)) },
			close:       func() { _ = db.Close() },
		}, nil

	case config.DriverPostgres:
		pool, err := postgres.Connect(ctx, postgres.Config{
			URL:             cfg.URL,
			MaxOpenConns:    cfg.MaxOpenConns,
			MaxIdleConns:    cfg.MaxIdleConns,
			ConnMaxLifetime: cfg.ConnMaxLifetime,
			ConnectAttempts: cfg.ConnectAttempts,
		})
		if err != nil {
			return nil, fmt.Errorf("connect to database: %w", err)
		}

		if cfg.MigrateOnStart {
			if err := postgres.Migrate(migrations.FS, cfg.URL); err != nil {
				pool.Close()
				return nil, fmt.Errorf("migrate database: %w", err)
			}
		}

		return &storage{
			driver:      config.DriverPostgres,
			store:       notificationspostgres.NewRepository(pool),
			reader:      notificationspostgres.NewIssueReader(pool),
			recordStats: func() { metrics.RecordPoolStats(metrics.PgxPoolStats(pool)) },
			close:       pool.Close,
		}, nil

	default:
		return nil, fmt.Errorf("unknown database driver %q", cfg.Driver)
	}
}
