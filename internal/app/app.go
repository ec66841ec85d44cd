package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"slices"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"

	"profusion/internal/blob"
	"profusion/internal/cleaning"
	"profusion/internal/config"
	"profusion/internal/dataset"
	"profusion/internal/infrastructure"
	custommw "profusion/internal/middleware"
	"profusion/internal/progress"
	"profusion/internal/services"
	handlers "profusion/internal/transport/http"
)

const Version = "1.0.0"

// Application is the dependency container for the service.
type Application struct {
	Config       *config.Config
	Router       *chi.Mux
	Server       *http.Server
	Logger       *slog.Logger
	Metrics      *infrastructure.Metrics
	Hub          *progress.Hub
	Repository   dataset.Repository
	Store        blob.Store
	Orchestrator *cleaning.Orchestrator

	Datasets      *services.DatasetService
	Segmentations *services.SegmentationService
}

// NewApplication builds the application from configuration.
func NewApplication(ctx context.Context) (*Application, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	logger, err := infrastructure.InitializeLogger(cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	metrics, err := infrastructure.InitializeMetrics(logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize metrics: %w", err)
	}

	store, err := blob.NewFSStore(cfg.Storage.DataDir, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize blob store: %w", err)
	}

	var repo dataset.Repository
	if cfg.Database.URI != "" {
		connectCtx, cancel := context.WithTimeout(ctx, cfg.Database.ConnectTimeout)
		defer cancel()
		pg, err := dataset.NewPostgresRepository(connectCtx, cfg.Database.URI)
		if err != nil {
			return nil, fmt.Errorf("failed to connect dataset repository: %w", err)
		}
		repo = pg
	} else {
		logger.Warn("no database configured, using in-memory dataset repository")
		repo = dataset.NewMemoryRepository()
	}

	hub := progress.NewHub(logger)
	hub.Start()

	cleaner, err := cleaning.NewSubprocessCleaner(cfg.Cleaning.Command, cfg.Cleaning.Timeout, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to build cleaner: %w", err)
	}
	orchestrator := cleaning.NewOrchestrator(store, repo, cleaner, hub, cfg.Storage.ScratchDir, logger)

	app := &Application{
		Config:       cfg,
		Logger:       logger,
		Metrics:      metrics,
		Hub:          hub,
		Repository:   repo,
		Store:        store,
		Orchestrator: orchestrator,
		Datasets: services.NewDatasetService(
			repo, store, orchestrator, metrics, cfg.Cleaning.Timeout, logger),
		Segmentations: services.NewSegmentationService(repo, store, metrics, logger),
	}

	app.setupRouter()
	app.Server = &http.Server{
		Addr:           fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:        app.Router,
		ReadTimeout:    cfg.Server.ReadTimeout,
		WriteTimeout:   cfg.Server.WriteTimeout,
		IdleTimeout:    cfg.Server.IdleTimeout,
		MaxHeaderBytes: cfg.Server.MaxHeaderBytes,
	}

	return app, nil
}

// setupRouter configures the HTTP router with all routes.
func (a *Application) setupRouter() {
	r := chi.NewRouter()

	// Minimal middleware first; these never wrap the ResponseWriter, so
	// the websocket upgrade stays hijackable.
	r.Use(custommw.RequestID)
	r.Use(custommw.RealIP)

	wsHandler := handlers.NewWebSocketHandler(
		a.Hub,
		a.Config.WebSocket.ReadBufferSize,
		a.Config.WebSocket.WriteBufferSize,
		a.originChecker(),
		a.Logger)
	r.Handle("/ws", wsHandler)

	r.Group(func(r chi.Router) {
		r.Use(custommw.StructuredLogger(a.Logger))
		r.Use(custommw.Recoverer(a.Logger))
		r.Use(custommw.SecurityHeaders)

		if a.Config.Security.EnableCORS {
			r.Use(custommw.CORS(a.Config.Security.AllowedOrigins))
		}
		if a.Config.Security.RateLimit.Enabled {
			r.Use(custommw.NewRateLimiter(
				a.Config.Security.RateLimit.RPS,
				a.Config.Security.RateLimit.Burst,
				a.Logger,
			).Handler)
		}

		r.Route("/api", func(r chi.Router) {
			r.Use(render.SetContentType(render.ContentTypeJSON))

			datasetHandler := handlers.NewDatasetHandler(
				a.Datasets, a.Config.Server.MaxUploadBytes, a.Logger)
			r.Mount("/datasets", datasetHandler.Routes())

			segmentationHandler := handlers.NewSegmentationHandler(a.Segmentations, a.Logger)
			r.Mount("/segmentations", segmentationHandler.Routes())
		})
	})

	r.Method(http.MethodGet, "/healthz", handlers.NewHealthHandler(Version))
	r.Handle("/metrics", a.Metrics.Handler)

	a.Router = r
}

// originChecker allows websocket upgrades only from configured origins.
func (a *Application) originChecker() func(*http.Request) bool {
	allowed := a.Config.Security.AllowedOrigins
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		if slices.Contains(allowed, "*") || slices.Contains(allowed, origin) {
			return true
		}
		// Same-host origins are always fine.
		if u, err := url.Parse(origin); err == nil && u.Host == r.Host {
			return true
		}
		return false
	}
}

// Run starts the HTTP server and blocks until shutdown.
func (a *Application) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		a.Logger.Info("server starting",
			slog.String("addr", a.Server.Addr),
			slog.String("version", Version))
		if err := a.Server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	case sig := <-quit:
		a.Logger.Info("shutdown signal received", slog.String("signal", sig.String()))
	case <-ctx.Done():
		a.Logger.Info("context cancelled, shutting down")
	}

	return a.Shutdown()
}

// Shutdown stops the server and releases resources.
func (a *Application) Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), a.Config.Server.ShutdownTimeout)
	defer cancel()

	if err := a.Server.Shutdown(ctx); err != nil {
		a.Logger.Error("server shutdown failed", slog.String("error", err.Error()))
	}
	a.Hub.Stop()
	if err := a.Metrics.Shutdown(ctx); err != nil {
		a.Logger.Warn("metrics shutdown failed", slog.String("error", err.Error()))
	}
	if closer, ok := a.Repository.(interface{ Close() error }); ok {
		if err := closer.Close(); err != nil {
			a.Logger.Warn("repository close failed", slog.String("error", err.Error()))
		}
	}
	if err := infrastructure.CloseLogFile(); err != nil {
		return err
	}

	a.Logger.Info("shutdown complete")
	return nil
}

// WaitForShutdown is kept for callers that manage their own signals.
func (a *Application) WaitForShutdown(timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return a.Server.Shutdown(ctx)
}
