// Command notifier runs the issue notification service: the event intake
// API, the debounce queue and the webhook delivery loop.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/bissquit/issue-notifier/internal/app"
	"github.com/bissquit/issue-notifier/internal/config"
	"github.com/bissquit/issue-notifier/internal/version"
)

func main() {
	if err := run(); err != nil {
		slog.Error("notifier failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	application, err := app.New(cfg)
	if err != nil {
		return err
	}

	build := version.Get()
	slog.Info("notifier starting",
		"version", build.Version,
		"commit", build.Commit,
		"go", build.GoVersion,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		errCh <- application.Run()
	}()

	select {
	case err := <-errCh:
		if err != nil {
			_ = shutdown(application, cfg)
			return err
		}
	case <-ctx.Done():
		slog.Info("shutdown signal received")
	}

	return shutdown(application, cfg)
}

func shutdown(application *app.App, cfg *config.Config) error {
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	return application.Shutdown(ctx)
}
