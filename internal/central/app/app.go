package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	httpapi "github.com/openfederation/centralid/internal/central/http"
	"github.com/openfederation/centralid/internal/central/jobs"
	"github.com/openfederation/centralid/internal/central/service"
	"github.com/openfederation/centralid/internal/central/sites"
	"github.com/openfederation/centralid/internal/central/store"
	"github.com/openfederation/centralid/internal/central/store/drivers/sqlite"
	"github.com/openfederation/centralid/internal/central/tokenstore"
	"github.com/openfederation/centralid/pkg/cryptox"
	"github.com/openfederation/centralid/pkg/jwtx"
	"github.com/openfederation/centralid/pkg/slogx"
)

const (
	// BuildVersion should be set at build time via ldflags.
	BuildVersion = "v0.1.0"
)

// Application encapsulates the central identity service with all its
// dependencies.
type Application struct {
	cfg    Config
	logger *slog.Logger

	// Core dependencies
	db        store.Store
	registry  *sites.Registry
	connector *sites.StaticConnector
	tokens    *tokenstore.Memory
	signer    *jwtx.Signer

	// Background workers
	pool     *jobs.Pool
	deferred *jobs.DeferredRunner

	// Services
	auditService        *service.AuditService
	identityService     *service.IdentityService
	authService         *service.AuthService
	tokenSessionService *service.TokenSessionService
	orchestrator        *service.RenameOrchestrator
	queueService        *service.RenameQueueService
	housekeepingService *service.HousekeepingService

	// HTTP server
	server *http.Server
	router *httpapi.Router

	// cancelWorkers scopes the background worker goroutines.
	cancelWorkers context.CancelFunc
}

// New creates a new Application instance with all dependencies initialized
func New(cfg Config) (*Application, error) {
	app := &Application{
		cfg: cfg,
		logger: slogx.New(slogx.Config{
			Service: "centralid",
			Version: BuildVersion,
			Env:     cfg.Env,
			Level:   cfg.LogLevel,
			Format:  cfg.LogFormat,
		}),
	}

	// Set pepper path for password hashing
	cryptox.SetPepperPath(app.cfg.PepperFile)

	if err := app.initDatabase(); err != nil {
		return nil, err
	}

	if err := app.initSites(); err != nil {
		_ = app.db.Close()
		return nil, err
	}

	signer, err := jwtx.NewSigner()
	if err != nil {
		_ = app.db.Close()
		return nil, fmt.Errorf("failed to initialize session signer: %w", err)
	}
	app.signer = signer
	app.tokens = tokenstore.NewMemory()

	app.initServices()
	app.initHTTP()

	return app, nil
}

// Run starts the application and blocks until shutdown is requested
func (app *Application) Run() error {
	workerCtx, cancel := context.WithCancel(slogx.WithContext(context.Background(), app.logger))
	app.cancelWorkers = cancel

	app.housekeepingService.Start()
	app.pool.Start(workerCtx)
	app.deferred.Start(workerCtx)

	app.logger.Info("central identity service starting",
		"port", app.cfg.Port,
		"version", BuildVersion,
		"sites", app.registry.Len(),
	)

	// Start server in a goroutine
	serverErrors := make(chan error, 1)
	go func() {
		serverErrors <- app.server.ListenAndServe()
	}()

	// Setup signal handling for graceful shutdown
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	// Block until we receive a shutdown signal or server error
	select {
	case err := <-serverErrors:
		if err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server failed: %w", err)
		}
	case sig := <-shutdown:
		app.logger.Info("shutdown signal received", "signal", sig)

		if err := app.Shutdown(); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
	}

	return nil
}

// Shutdown gracefully shuts down the application
func (app *Application) Shutdown() error {
	app.logger.Info("shutting down central identity service...")

	// Give outstanding requests a deadline for completion
	ctx, cancel := context.WithTimeout(context.Background(), app.cfg.ShutdownGracePeriod)
	defer cancel()

	// Shutdown the HTTP server
	if err := app.server.Shutdown(ctx); err != nil {
		app.logger.Error("graceful server shutdown failed", "error", err)
		if err := app.server.Close(); err != nil {
			app.logger.Error("error closing server", "error", err)
		}
	}

	// Drain background workers before closing their stores.
	app.deferred.Stop()
	app.pool.Stop()
	app.housekeepingService.Stop()
	if app.cancelWorkers != nil {
		app.cancelWorkers()
	}

	if err := app.connector.CloseAll(); err != nil {
		app.logger.Error("error closing site connections", "error", err)
	}

	// Close database connection
	if err := app.db.Close(); err != nil {
		app.logger.Error("error closing database", "error", err)
		return err
	}

	app.logger.Info("central identity service stopped")
	return nil
}

// initDatabase initializes the central database and applies migrations
func (app *Application) initDatabase() error {
	host := fmt.Sprintf("file:%s?_busy_timeout=5000&_journal_mode=WAL", app.cfg.DatabaseFile)
	db, err := sqlite.NewStore(host)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	app.db = db

	if err := db.ApplyMigrations(); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to apply database migrations: %w", err)
	}

	app.logger.Info("database migrations applied successfully")
	return nil
}

// initSites loads the site registry and opens one local store per
// registered site.
func (app *Application) initSites() error {
	registry, err := sites.LoadRegistry(app.cfg.SiteRegistryFile)
	if err != nil {
		return fmt.Errorf("failed to load site registry: %w", err)
	}
	app.registry = registry

	connector := sites.NewStaticConnector()
	for _, site := range registry.List() {
		ls, err := sites.OpenSQLiteLocal(site.ID, site.DSN)
		if err != nil {
			_ = connector.CloseAll()
			return fmt.Errorf("failed to open local store for site %s: %w", site.ID, err)
		}
		connector.Register(site.ID, ls)
	}
	app.connector = connector

	app.logger.Info("site registry loaded", "sites", registry.Len())
	return nil
}

// initServices initializes all business logic services
func (app *Application) initServices() {
	app.auditService = &service.AuditService{Store: app.db}

	tieBreak := service.TieBreakRegistration
	if app.cfg.HomeTieBreak == string(service.TieBreakEdits) {
		tieBreak = service.TieBreakEdits
	}

	app.identityService = &service.IdentityService{
		Store:             app.db,
		Registry:          app.registry,
		Connector:         app.connector,
		Audit:             app.auditService,
		FanOutTimeout:     app.cfg.FanOutTimeout,
		FanOutLimit:       app.cfg.FanOutConcurrency,
		HomeTieBreak:      tieBreak,
		PreventUnattached: app.cfg.PreventUnattached,
		AutoNew:           app.cfg.AutoNew,
		DryRun:            app.cfg.DryRun,
	}

	app.deferred = jobs.NewDeferredRunner(0)

	app.authService = &service.AuthService{
		Identity:             app.identityService,
		Store:                app.db,
		Sessions:             app.tokens,
		Deferred:             app.deferred,
		AutoMigrate:          app.cfg.AutoMigrate,
		AutoMigrateNonGlobal: app.cfg.AutoMigrateNonGlobal,
		Strict:               app.cfg.Strict,
		RenameDetection:      app.cfg.RenameConfirmation,
	}

	app.tokenSessionService = &service.TokenSessionService{
		Identity:     app.identityService,
		Tokens:       app.tokens,
		TokenTTL:     app.cfg.TokenTTL,
		BlacklistTTL: app.cfg.BlacklistTTL,
	}

	// The orchestrator executes the per-site tasks the pool dispatches,
	// so it is built first and handed the pool afterwards.
	app.orchestrator = &service.RenameOrchestrator{
		Store:     app.db,
		Identity:  app.identityService,
		Connector: app.connector,
		Audit:     app.auditService,
	}
	app.pool = jobs.NewPool(app.cfg.RenameWorkers, 0, app.orchestrator.ExecuteSiteTask)
	app.orchestrator.Dispatcher = app.pool

	app.queueService = &service.RenameQueueService{
		Store:        app.db,
		Orchestrator: app.orchestrator,
		Notifier:     service.LogNotifier{},
	}

	app.housekeepingService = service.NewHousekeepingService(
		app.db,
		app.tokens,
		app.logger,
		app.cfg.HousekeepingInterval,
	)
}

// initHTTP initializes the HTTP router and server
func (app *Application) initHTTP() {
	router := httpapi.NewRouter(
		app.signer,
		app.cfg.Issuer,
		BuildVersion,
		app.db,
		app.logger,
	)

	// Wire services to router
	router.AuthService = app.authService
	router.Identity = app.identityService
	router.TokenSessions = app.tokenSessionService
	router.Queue = app.queueService
	router.ApplyRoutes()

	app.router = router

	// Initialize HTTP server
	app.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", app.cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 3 * time.Second,
	}
}
