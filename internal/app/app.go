package app

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"

	"munireports/internal/browser"
	"munireports/internal/config"
	apierrors "munireports/internal/errors"
	"munireports/internal/history"
	"munireports/internal/infrastructure"
	customMiddleware "munireports/internal/middleware"
	"munireports/internal/operations"
	"munireports/internal/progress"
	"munireports/internal/recipes"
	"munireports/internal/services"
	handlers "munireports/internal/transport/http"
	ws "munireports/internal/websocket"
)

const (
	// hubBuffer sizes the sink subscription the WebSocket hub follows
	hubBuffer = 256

	readyPollInterval = 500 * time.Millisecond
	readyPollAttempts = 10
)

// Options carries what New cannot load by itself. Everything is optional.
type Options struct {
	// Config defaults to config.Load()
	Config *config.Config
	// Paths defaults to config.GetPaths(Config.Paths)
	Paths *config.Paths
	// Factory starts browsers. Nil means Chrome via chromedp.
	Factory browser.DriverFactory
	// Launcher opens workspaces and the UI. Nil means the system launcher.
	Launcher services.Launcher
	// OTel defaults to infrastructure.DefaultOTelConfig()
	OTel   *infrastructure.OTelConfig
	Logger *slog.Logger
}

// Application represents the main application container
type Application struct {
	Config *config.Config
	Paths  *config.Paths
	Logger *slog.Logger
	Router *chi.Mux
	Server *http.Server

	Cities        config.Cities
	Registry      *recipes.Registry
	OTelProviders *infrastructure.OTelProviders
	Tracer        *operations.OperationTracer
	History       *history.Store
	Sink          *progress.Sink
	WebSocketHub  *ws.Hub
	Pool          *operations.Pool
	RunService    *services.RunService
	HealthService *services.HealthService
	Launcher      services.Launcher
	ErrorHandler  *apierrors.ErrorHandler

	stopFollow context.CancelFunc
	ownsLog    bool
}

// New wires every component. The returned application is not serving yet;
// call Start or Run.
func New(opts Options) (*Application, error) {
	cfg := opts.Config
	if cfg == nil {
		var err error
		if cfg, err = config.Load(); err != nil {
			return nil, fmt.Errorf("failed to load configuration: %w", err)
		}
	}

	paths := opts.Paths
	if paths == nil {
		var err error
		if paths, err = config.GetPaths(cfg.Paths); err != nil {
			return nil, fmt.Errorf("failed to get paths: %w", err)
		}
	}
	if err := paths.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("failed to ensure directories: %w", err)
	}

	logger := opts.Logger
	if logger == nil {
		logCfg := cfg.Logging
		if logCfg.FilePath == "" {
			logCfg.FilePath = infrastructure.DefaultLoggingConfig(paths.LogsDir).FilePath
		}
		var err error
		if logger, err = infrastructure.InitializeLogger(logCfg); err != nil {
			return nil, fmt.Errorf("failed to initialize logger: %w", err)
		}
	}

	logger.Info("Application starting",
		slog.String("name", config.AppName),
		slog.String("version", config.AppVersion))
	paths.LogPathResolution(logger)

	a := &Application{
		Config:   cfg,
		Paths:    paths,
		Logger:   logger,
		Launcher: opts.Launcher,
		ownsLog:  opts.Logger == nil,
	}
	if a.Launcher == nil {
		a.Launcher = services.NewSystemLauncher(logger)
	}

	if err := a.loadCatalog(); err != nil {
		return nil, err
	}

	otelCfg := opts.OTel
	if otelCfg == nil {
		otelCfg = infrastructure.DefaultOTelConfig()
	}
	providers, err := infrastructure.InitializeOTel(otelCfg, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize OpenTelemetry: %w", err)
	}
	a.OTelProviders = providers

	if err := a.initializeServices(opts.Factory); err != nil {
		a.closeStores()
		return nil, err
	}

	a.ErrorHandler = apierrors.NewErrorHandler(logger, false)
	if err := a.setupRouter(); err != nil {
		a.closeStores()
		return nil, err
	}
	a.createServer()

	logger.Info("Application initialized",
		slog.Int("cities", len(a.Cities)),
		slog.Int("recipes", len(a.Registry.Names())))
	return a, nil
}

// loadCatalog reads the city file and the recipe registry. A missing city
// file is not fatal: the UI still starts and runs fail per pair.
func (a *Application) loadCatalog() error {
	cities, err := config.LoadCities(a.Paths.CitiesFile)
	switch {
	case err == nil:
		a.Cities = cities
	case errors.Is(err, fs.ErrNotExist):
		a.Logger.Warn("City configuration not found, no city can run until it exists",
			slog.String("path", a.Paths.CitiesFile))
		a.Cities = config.Cities{}
	default:
		return fmt.Errorf("failed to load cities: %w", err)
	}

	registry, err := recipes.Load(a.Paths.RecipesFile)
	if err != nil {
		return fmt.Errorf("failed to load recipes: %w", err)
	}
	a.Registry = registry
	return nil
}

func (a *Application) initializeServices(factory browser.DriverFactory) error {
	tracer, err := operations.NewOperationTracer(a.OTelProviders)
	if err != nil {
		return fmt.Errorf("failed to create operation tracer: %w", err)
	}
	a.Tracer = tracer

	store, err := history.Open(context.Background(), a.Paths.HistoryDB, a.Logger)
	if err != nil {
		return fmt.Errorf("failed to open history: %w", err)
	}
	a.History = store

	a.Sink = progress.NewSink(a.Logger)

	hubMetrics, err := ws.NewMetrics(a.OTelProviders.Meter)
	if err != nil {
		return fmt.Errorf("failed to create websocket metrics: %w", err)
	}
	a.WebSocketHub = ws.NewHub(a.Logger, hubMetrics)

	builder, err := services.NewWorkflowBuilder(services.BuilderConfig{
		Config:   a.Config,
		Paths:    a.Paths,
		Cities:   a.Cities,
		Registry: a.Registry,
		Factory:  factory,
		Tracer:   tracer,
		Logger:   a.Logger,
	})
	if err != nil {
		return fmt.Errorf("failed to create workflow builder: %w", err)
	}
	a.Pool = operations.NewPool(builder, a.Logger)

	a.RunService = services.NewRunService(a.Pool, a.Sink, services.RunServiceOptions{
		Paths:              a.Paths,
		DefaultConcurrency: a.Config.Pool.Concurrency,
		History:            store,
		Launcher:           a.Launcher,
		Logger:             a.Logger,
	})

	a.HealthService = services.NewHealthService(services.HealthDeps{
		Version:  config.AppVersion,
		DataRoot: a.Paths.DataRoot,
		Runs:     a.RunService,
		Hub:      a.WebSocketHub,
		History:  store,
		Logger:   a.Logger,
	})
	return nil
}

func (a *Application) setupRouter() error {
	r := chi.NewRouter()
	r.Use(customMiddleware.RequestID)
	r.Use(customMiddleware.RealIP)
	r.NotFound(a.ErrorHandler.NotFound)
	r.MethodNotAllowed(a.ErrorHandler.MethodNotAllowed)

	// the upgrade needs the raw writer, so /ws sits before the full stack
	r.Handle("/ws", ws.NewHandler(a.WebSocketHub, a.Config.WebSocket, a.Config.Security.AllowedOrigins, a.Logger))

	if a.OTelProviders.PrometheusHTTP != nil {
		r.Handle("/metrics", a.OTelProviders.PrometheusHTTP)
	}

	otelMiddleware, err := customMiddleware.NewOTelMiddleware(a.OTelProviders.Tracer, a.Tracer.Metrics(), a.Logger)
	if err != nil {
		return fmt.Errorf("failed to create OpenTelemetry middleware: %w", err)
	}
	ui, err := handlers.NewUIHandler(handlers.UIOptions{Concurrency: a.Config.Pool.Concurrency}, a.Logger)
	if err != nil {
		return fmt.Errorf("failed to create UI handler: %w", err)
	}

	r.Group(func(r chi.Router) {
		r.Use(otelMiddleware.Handler)
		r.Use(customMiddleware.StructuredLogger(a.Logger))
		r.Use(customMiddleware.Recoverer(a.ErrorHandler))
		r.Use(customMiddleware.SecurityHeaders)
		r.Use(customMiddleware.CORS(customMiddleware.CORSConfig{
			AllowedOrigins: a.Config.Security.AllowedOrigins,
			MaxAge:         300,
			Logger:         a.Logger,
		}))
		if a.Config.Security.RateLimit.Enabled {
			r.Use(customMiddleware.NewRateLimiter(
				a.Config.Security.RateLimit.RPS,
				a.Config.Security.RateLimit.Burst,
				a.ErrorHandler,
				a.Logger,
			).Handler)
		}

		a.setupAPIRoutes(r)
		r.Get("/", ui.ServeHTTP)
	})

	a.Router = r
	return nil
}

// setupAPIRoutes configures API endpoints
func (a *Application) setupAPIRoutes(r chi.Router) {
	validator := customMiddleware.NewValidator(a.Logger, a.ErrorHandler)

	runs := handlers.NewRunsHandler(a.RunService, validator, a.ErrorHandler, a.Logger)
	catalog := handlers.NewCatalogHandler(a.Cities, a.Registry, a.ErrorHandler, a.Logger)
	workspaces := handlers.NewWorkspaceHandler(a.RunService, a.Paths, validator, a.ErrorHandler, a.Logger)
	hist := handlers.NewHistoryHandler(a.History, validator, a.ErrorHandler, a.Logger)
	health := handlers.NewHealthHandler(a.HealthService, a.Logger)
	clientLog := handlers.NewClientLogHandler(validator, a.Logger)

	r.Route("/api", func(r chi.Router) {
		r.Use(render.SetContentType(render.ContentTypeJSON))

		r.Mount("/health", health.Routes())

		r.Route("/v1", func(r chi.Router) {
			r.Use(apierrors.NewErrorMiddleware(a.ErrorHandler, a.Logger).Handler)
			r.Use(customMiddleware.ContentTypeValidator(a.ErrorHandler, "application/json"))

			r.Mount("/runs", runs.Routes())
			r.Mount("/cities", catalog.CityRoutes())
			r.Mount("/recipes", catalog.RecipeRoutes())
			r.Mount("/workspaces", workspaces.Routes())
			r.Mount("/history", hist.Routes())
			r.Post("/client-log", clientLog.Handle)
		})
	})
}

func (a *Application) createServer() {
	a.Server = &http.Server{
		Addr:         fmt.Sprintf(":%d", a.Config.Server.Port),
		Handler:      a.Router,
		ReadTimeout:  a.Config.Server.ReadTimeout,
		WriteTimeout: a.Config.Server.WriteTimeout,
		IdleTimeout:  a.Config.Server.IdleTimeout,
	}
}

// Start runs the hub and the HTTP server in the background. A listener
// failure calls cancel so Run can shut down.
func (a *Application) Start(ctx context.Context, cancel context.CancelFunc) error {
	a.Logger.InfoContext(ctx, "Starting application",
		slog.String("version", config.AppVersion),
		slog.Int("port", a.Config.Server.Port),
		slog.String("data_root", a.Paths.DataRoot),
		slog.String("level", a.Config.Logging.Level))

	a.WebSocketHub.Start()
	events, unsubscribe := a.Sink.Subscribe(hubBuffer)
	followCtx, stopFollow := context.WithCancel(context.Background())
	a.stopFollow = func() {
		stopFollow()
		unsubscribe()
	}
	go a.WebSocketHub.Follow(followCtx, events)

	go func() {
		if err := a.Server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			a.Logger.ErrorContext(ctx, "Server error", slog.String("error", err.Error()))
			cancel()
		}
	}()

	if err := a.performStartupHealthCheck(ctx); err != nil {
		a.Logger.WarnContext(ctx, "Startup health check warnings", slog.String("warnings", err.Error()))
	}

	url := fmt.Sprintf("http://localhost:%d", a.Config.Server.Port)
	a.Logger.InfoContext(ctx, "Application started", slog.String("address", url))

	if a.Config.Server.OpenBrowser {
		go a.openWhenReady(ctx, url)
	}
	return nil
}

// openWhenReady polls the health endpoint and opens the UI once it answers
func (a *Application) openWhenReady(ctx context.Context, url string) {
	client := &http.Client{Timeout: 2 * time.Second}
	for i := 0; i < readyPollAttempts; i++ {
		select {
		case <-ctx.Done():
			return
		default:
		}

		resp, err := client.Get(url + "/api/health/live")
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				if err := a.Launcher.Open(ctx, url); err != nil {
					a.Logger.WarnContext(ctx, "Failed to open browser, open it manually",
						slog.String("url", url),
						slog.String("error", err.Error()))
				}
				return
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(readyPollInterval):
		}
	}
	a.Logger.WarnContext(ctx, "Server did not become ready for browser opening",
		slog.String("url", url),
		slog.Int("attempts", readyPollAttempts))
}

// Stop shuts the server down, cancels running workflows and waits for them
// to record their history before closing the stores
func (a *Application) Stop(ctx context.Context) error {
	a.Logger.InfoContext(ctx, "Shutting down application")

	shutdownCtx, cancel := context.WithTimeout(ctx, a.Config.Server.ShutdownTimeout)
	defer cancel()

	var errs []string
	if err := a.Server.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, fmt.Sprintf("server: %v", err))
	}
	if err := a.RunService.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, fmt.Sprintf("runs: %v", err))
	}

	if a.stopFollow != nil {
		a.stopFollow()
	}
	a.WebSocketHub.Stop()
	a.closeStores()

	if err := a.OTelProviders.Shutdown(shutdownCtx); err != nil {
		a.Logger.ErrorContext(ctx, "Error shutting down OpenTelemetry", slog.String("error", err.Error()))
	}

	if len(errs) > 0 {
		return fmt.Errorf("shutdown: %s", strings.Join(errs, "; "))
	}
	a.Logger.InfoContext(ctx, "Application shutdown complete")
	if a.ownsLog {
		infrastructure.CloseLogFile()
	}
	return nil
}

func (a *Application) closeStores() {
	if a.Sink != nil {
		a.Sink.Close()
	}
	if a.History != nil {
		if err := a.History.Close(); err != nil {
			a.Logger.Error("Failed to close history", slog.String("error", err.Error()))
		}
	}
}

// Run runs the application until interrupted
func (a *Application) Run() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	if err := a.Start(ctx, cancel); err != nil {
		return err
	}

	select {
	case <-sigChan:
		a.Logger.InfoContext(ctx, "Received interrupt signal")
	case <-ctx.Done():
	}
	return a.Stop(context.Background())
}

// performStartupHealthCheck checks the data root is writable and reports
// catalog gaps as warnings
func (a *Application) performStartupHealthCheck(ctx context.Context) error {
	var warnings []string

	for name, dir := range map[string]string{"Data": a.Paths.DataRoot, "Logs": a.Paths.LogsDir} {
		testFile := filepath.Join(dir, ".write_test")
		if err := os.WriteFile(testFile, []byte("test"), 0o644); err != nil {
			warnings = append(warnings, fmt.Sprintf("%s directory not writable: %s", name, dir))
			continue
		}
		os.Remove(testFile)
	}
	if len(a.Cities) == 0 {
		warnings = append(warnings, fmt.Sprintf("no cities configured in %s", a.Paths.CitiesFile))
	}

	if len(warnings) > 0 {
		return fmt.Errorf("startup health check warnings: %s", strings.Join(warnings, "; "))
	}
	a.Logger.InfoContext(ctx, "Startup health check passed")
	return nil
}
