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
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/simplauto/simplauto-agent-api/internal/agent"
	"github.com/simplauto/simplauto-agent-api/internal/config"
	"github.com/simplauto/simplauto-agent-api/internal/delivery"
	"github.com/simplauto/simplauto-agent-api/internal/dispatch"
	"github.com/simplauto/simplauto-agent-api/internal/pkg/ctxlog"
	"github.com/simplauto/simplauto-agent-api/internal/pkg/httputil"
	"github.com/simplauto/simplauto-agent-api/internal/queue"
	"github.com/simplauto/simplauto-agent-api/internal/queue/filestore"
	"github.com/simplauto/simplauto-agent-api/internal/refund"
	"github.com/simplauto/simplauto-agent-api/internal/schedule"
	"github.com/simplauto/simplauto-agent-api/internal/version"
)

// App represents the application instance.
type App struct {
	config        *config.Config
	logger        *slog.Logger
	store         queue.Store
	dispatcher    *dispatch.Dispatcher
	server        *http.Server
	metricsServer *http.Server
	metricsCancel context.CancelFunc
}

// New creates a new application instance.
func New(cfg *config.Config) (*App, error) {
	logger := initLogger(cfg.Log)

	cal, err := schedule.NewCalendar(cfg.Schedule.Timezone)
	if err != nil {
		return nil, fmt.Errorf("load business calendar: %w", err)
	}

	store, err := filestore.New(filestore.Config{
		Dir:           cfg.Queue.Dir,
		LockTimeout:   cfg.Queue.LockTimeout,
		LockStaleness: cfg.Queue.LockStaleness,
	}, cal)
	if err != nil {
		return nil, fmt.Errorf("open queue store: %w", err)
	}

	metricsCtx, metricsCancel := context.WithCancel(context.Background())

	app := &App{
		config:        cfg,
		logger:        logger,
		store:         store,
		metricsCancel: metricsCancel,
	}

	if cfg.Dispatch.Enabled {
		caller, err := agent.NewClient(agent.Config{
			APIURL:          cfg.Agent.APIURL,
			ConversationURL: cfg.Agent.ConversationURL,
			APIKey:          cfg.Agent.APIKey,
			AgentID:         cfg.Agent.AgentID,
			PhoneNumberID:   cfg.Agent.PhoneNumberID,
			PhoneNumber:     cfg.Agent.PhoneNumber,
			CallTimeout:     cfg.Agent.CallTimeout,
			RateLimit:       cfg.Agent.RateLimit,
			PollInterval:    cfg.Agent.PollInterval,
			PollBudget:      cfg.Agent.PollBudget,
		})
		if err != nil {
			metricsCancel()
			return nil, fmt.Errorf("create agent client: %w", err)
		}

		sender, err := delivery.NewSender(delivery.Config{
			Enabled:    cfg.Delivery.Enabled,
			WebhookURL: cfg.Delivery.WebhookURL,
			Timeout:    cfg.Delivery.Timeout,
		})
		if err != nil {
			metricsCancel()
			return nil, fmt.Errorf("create delivery sender: %w", err)
		}

		if !cfg.Delivery.Enabled {
			slog.Warn("outcome delivery is disabled: call results will not reach the automation webhook")
		}

		app.dispatcher = dispatch.New(dispatch.Config{
			PollInterval:    cfg.Dispatch.PollInterval,
			CleanupInterval: cfg.Dispatch.CleanupInterval,
			Retention:       cfg.Queue.Retention,
		}, store, caller, sender)
		app.dispatcher.Start(metricsCtx)
	} else {
		slog.Warn("dispatcher is disabled: queued requests will not be called")
	}

	go app.collectQueueMetrics(metricsCtx)

	app.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:           app.setupRouter(),
		ReadTimeout:       cfg.Server.ReadTimeout,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       60 * time.Second,
	}

	// Metrics server on separate port
	metricsRouter := chi.NewRouter()
	metricsRouter.Handle("/metrics", promhttp.Handler())

	app.metricsServer = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.MetricsPort),
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

// Shutdown gracefully shuts down the application.
func (a *App) Shutdown(ctx context.Context) error {
	a.logger.Info("shutting down servers")

	a.metricsCancel()

	// Stop the dispatcher first so no call is left mid-flight
	if a.dispatcher != nil {
		a.dispatcher.Stop()
	}

	var wg sync.WaitGroup
	var errs []error
	var mu sync.Mutex

	wg.Add(2)

	go func() {
		defer wg.Done()
		if err := a.server.Shutdown(ctx); err != nil {
			mu.Lock()
			errs = append(errs, fmt.Errorf("shutdown server: %w", err))
			mu.Unlock()
		}
	}()

	go func() {
		defer wg.Done()
		if err := a.metricsServer.Shutdown(ctx); err != nil {
			mu.Lock()
			errs = append(errs, fmt.Errorf("shutdown metrics server: %w", err))
			mu.Unlock()
		}
	}()

	wg.Wait()

	return errors.Join(errs...)
}

func (a *App) collectQueueMetrics(ctx context.Context) {
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			stats, err := a.store.Stats(ctx)
			if err != nil {
				slog.Error("failed to get queue stats", "error", err)
				continue
			}
			queue.RecordStats(stats)
		case <-ctx.Done():
			return
		}
	}
}

// Router returns the HTTP handler for testing.
func (a *App) Router() http.Handler {
	return a.server.Handler
}

// Store returns the queue store. Used in tests to seed queue state.
func (a *App) Store() queue.Store {
	return a.store
}

func (a *App) setupRouter() *chi.Mux {
	r := chi.NewRouter()

	// Metrics middleware must be first to measure full request time
	r.Use(httputil.MetricsMiddleware)

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

	refundHandler := refund.NewHandler(a.store)

	r.Route("/api", func(r chi.Router) {
		r.Route("/webhook", func(r chi.Router) {
			r.Use(httprate.LimitByIP(a.config.Server.WebhookRatePerMin, time.Minute))
			refundHandler.RegisterWebhookRoutes(r)
		})

		r.Route("/queue", func(r chi.Router) {
			r.Use(httputil.AdminAuthMiddleware(a.config.Auth.AdminSecret))
			refundHandler.RegisterQueueRoutes(r)
		})
	})

	return r
}

func (a *App) healthzHandler(w http.ResponseWriter, _ *http.Request) {
	httputil.Text(w, http.StatusOK, "OK")
}

func (a *App) readyzHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if _, err := a.store.Stats(ctx); err != nil {
		ctxlog.FromContext(r.Context()).Error("readiness check failed", "error", err)
		httputil.Text(w, http.StatusServiceUnavailable, "Queue store unavailable")
		return
	}

	httputil.Text(w, http.StatusOK, "OK")
}

func (a *App) versionHandler(w http.ResponseWriter, _ *http.Request) {
	httputil.JSON(w, http.StatusOK, map[string]string{
		"version":    version.Version,
		"commit":     version.GitCommit,
		"build_date": version.BuildDate,
	})
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
