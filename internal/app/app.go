// Package app provides application initialization and lifecycle management.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/bissquit/issue-notifier/internal/config"
	"github.com/bissquit/issue-notifier/internal/notifications"
	"github.com/bissquit/issue-notifier/internal/notifications/discord"
	"github.com/bissquit/issue-notifier/internal/pkg/ctxlog"
	"github.com/bissquit/issue-notifier/internal/pkg/httputil"
	"github.com/bissquit/issue-notifier/internal/version"
)

const metricsInterval = 15 * time.Second

// App represents the application instance.
type App struct {
	config        *config.Config
	logger        *slog.Logger
	storage       *storage
	notifier      *notifications.Notifier
	processor     *notifications.Processor
	server        *http.Server
	metricsServer *http.Server
	bgCancel      context.CancelFunc
}

// New creates a new application instance. Notifications stuck in
// processing by a previous run are recovered before New returns.
func New(cfg *config.Config) (*App, error) {
	logger := initLogger(cfg.Log)
	slog.SetDefault(logger)

	connectCtx, connectCancel := context.WithTimeout(context.Background(), cfg.Database.ConnectTimeout)
	defer connectCancel()

	st, err := openStorage(connectCtx, cfg.Database)
	if err != nil {
		return nil, err
	}

	bgCtx, bgCancel := context.WithCancel(context.Background())

	n := cfg.Notifications
	composer := notifications.NewComposer(st.reader, notifications.ComposerConfig{
		BaseURL:   n.BaseURL,
		MaxEmbeds: n.MaxEmbeds,
	})
	sender := discord.NewSender(discord.Config{
		Username:    n.Username,
		AvatarURL:   n.AvatarURL,
		Timeout:     n.RequestTimeout,
		MaxAttempts: n.MaxAttempts,
		RateLimit:   n.RateLimit,
	})

	app := &App{
		config:   cfg,
		logger:   logger,
		storage:  st,
		bgCancel: bgCancel,
		notifier: notifications.NewNotifier(notifications.NotifierConfig{
			Enabled:        n.Enabled,
			DebounceWindow: n.DebounceWindow,
			MaxWait:        n.MaxWait,
		}, st.store),
		processor: notifications.NewProcessor(notifications.ProcessorConfig{
			WebhookURL:   n.WebhookURL,
			PollInterval: n.PollInterval,
			BatchSize:    n.BatchSize,
			Retention:    n.Retention,
		}, st.store, composer, sender),
	}

	slog.Info("notifications configured",
		"enabled", n.Enabled,
		"storage", st.driver,
		"webhook_configured", n.WebhookURL != "",
		"debounce_window", n.DebounceWindow,
		"max_wait", n.MaxWait,
	)

	go app.collectDBMetrics(bgCtx)
	go app.collectQueueMetrics(bgCtx)

	app.processor.Start(bgCtx)

	app.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port),
		Handler:           app.setupRouter(),
		ReadTimeout:       cfg.Server.ReadTimeout,
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       cfg.Server.IdleTimeout,
	}

	// Metrics server on separate port
	metricsRouter := chi.NewRouter()
	metricsRouter.Handle("/metrics", promhttp.Handler())

	app.metricsServer = &http.Server{
		Addr:              fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.MetricsPort),
		Handler:           metricsRouter,
		ReadTimeout:       5 * time.Second,
		ReadHeaderTimeout: 2 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	return app, nil
}

// Run starts the HTTP servers.
func (a *App) Run() error {
	go func() {
		a.logger.Info("starting metrics server",
			"host", a.config.Server.Host,
			"port", a.config.Server.MetricsPort,
		)
		if err := a.metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			a.logger.Error("metrics server error", "error", err)
		}
	}()

	a.logger.Info("starting server",
		"host", a.config.Server.Host,
		"port", a.config.Server.Port,
	)

	if err := a.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server error: %w", err)
	}

	return nil
}

// Shutdown gracefully shuts down the application. The queue processor is
// drained first so an in-flight delivery can finish and record its outcome.
func (a *App) Shutdown(ctx context.Context) error {
	a.logger.Info("shutting down")

	var errs []error
	if !a.processor.Stop(a.config.Notifications.DrainTimeout) {
		errs = append(errs, errors.New("queue processor did not drain in time"))
	}

	a.bgCancel()

	var wg sync.WaitGroup
	var mu sync.Mutex

	for name, srv := range map[string]*http.Server{"server": a.server, "metrics server": a.metricsServer} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := srv.Shutdown(ctx); err != nil {
				mu.Lock()
				errs = append(errs, fmt.Errorf("shutdown %s: %w", name, err))
				mu.Unlock()
			}
		}()
	}

	wg.Wait()

	a.storage.close()

	return errors.Join(errs...)
}

// Router returns the HTTP handler for testing.
func (a *App) Router() http.Handler {
	return a.server.Handler
}

// Notifier returns the inbound entry point for in-process callers.
func (a *App) Notifier() *notifications.Notifier {
	return a.notifier
}

// Processor returns the queue processor. Used in tests to drive cycles.
func (a *App) Processor() *notifications.Processor {
	return a.processor
}

func (a *App) collectDBMetrics(ctx context.Context) {
	a.storage.recordStats()

	ticker := time.NewTicker(metricsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			a.storage.recordStats()
		case <-ctx.Done():
			return
		}
	}
}

func (a *App) collectQueueMetrics(ctx context.Context) {
	ticker := time.NewTicker(metricsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			stats, err := a.storage.store.GetQueueStats(ctx)
			if err != nil {
				slog.Error("failed to get queue stats", "error", err)
				continue
			}
			notifications.RecordQueueStats(stats)
		case <-ctx.Done():
			return
		}
	}
}

func (a *App) setupRouter() *chi.Mux {
	r := chi.NewRouter()

	// Metrics middleware must be first to measure full request time
	r.Use(httputil.MetricsMiddleware)
	r.Use(httputil.CORSMiddleware(a.config.CORS.AllowedOrigins))
	r.Use(middleware.RequestID)
	r.Use(httputil.RequestLoggerMiddleware(a.logger))
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Get("/healthz", a.healthzHandler)
	r.Get("/readyz", a.readyzHandler)
	r.Get("/version", a.versionHandler)

	r.Get("/api/openapi.yaml", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/x-yaml")
		http.ServeFile(w, r, "api/openapi/openapi.yaml")
	})

	notificationsHandler := notifications.NewHandler(a.notifier, a.storage.store)

	r.Route("/api/v1", func(r chi.Router) {
		notificationsHandler.RegisterRoutes(r)
	})

	return r
}

func (a *App) healthzHandler(w http.ResponseWriter, _ *http.Request) {
	httputil.Text(w, http.StatusOK, "OK")
}

func (a *App) readyzHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := a.storage.store.Ping(ctx); err != nil {
		ctxlog.FromContext(r.Context()).Error("readiness check failed", "error", err)
		httputil.Text(w, http.StatusServiceUnavailable, "Database unavailable")
		return
	}

	httputil.Text(w, http.StatusOK, "OK")
}

func (a *App) versionHandler(w http.ResponseWriter, _ *http.Request) {
	httputil.JSON(w, http.StatusOK, version.Get())
}

func initLogger(cfg config.LogConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: level}

	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}
