package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"busbuddy/internal/api"
	"busbuddy/internal/config"
	"busbuddy/internal/database"
	"busbuddy/internal/localstore"
	"busbuddy/internal/session"
	pkgdatabase "busbuddy/pkg/database"
	"busbuddy/pkg/interfaces"
)

// rateLimitWindow is the span WriteRateLimit is counted over
const rateLimitWindow = time.Minute

// Application coordinates all system components
// Clean dependency injection pattern with proper initialization order
type Application struct {
	config         *config.Config
	store          interfaces.Store
	sessionManager *session.Manager
	limiter        *api.RateLimiter
	apiServer      *api.Server
	httpServer     *http.Server

	listener net.Listener
	stop     chan struct{}
	wg       sync.WaitGroup
}

// NewApplication creates a new application instance with all components initialized
// Component initialization follows strict dependency order:
// Store → Session → API → HTTP
func NewApplication(ctx context.Context, cfg *config.Config) (*Application, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}

	// Validate configuration before component initialization
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	// STEP 1: Open storage (foundation layer)
	store, err := OpenStore(ctx, cfg.Database)
	if err != nil {
		return nil, err
	}

	// STEP 2: Session service over the store
	sessionManager := session.NewManager(store,
		session.WithDefaultDuration(cfg.Session.DefaultDuration),
		session.WithMaxDuration(cfg.Session.MaxDuration),
	)

	// STEP 3: API server with write throttling
	var limiter *api.RateLimiter
	if cfg.HTTP.WriteRateLimit > 0 {
		limiter = api.NewRateLimiter(cfg.HTTP.WriteRateLimit, rateLimitWindow)
	}
	apiServer := api.NewServer(sessionManager, store, api.Options{
		PublicBaseURL: cfg.HTTP.PublicBaseURL,
		Limiter:       limiter,
	})

	httpServer := &http.Server{
		Addr:         cfg.HTTP.Addr(),
		Handler:      apiServer,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}

	return &Application{
		config:         cfg,
		store:          store,
		sessionManager: sessionManager,
		limiter:        limiter,
		apiServer:      apiServer,
		httpServer:     httpServer,
		stop:           make(chan struct{}),
	}, nil
}

// OpenStore builds the storage variant named by cfg.Driver. SQL variants are
// migrated and their schema validated before use.
func OpenStore(ctx context.Context, cfg *config.DatabaseConfig) (interfaces.Store, error) {
	if cfg.Driver == config.DriverLocal {
		store, err := localstore.Open(cfg.Path, time.Now)
		if err != nil {
			return nil, fmt.Errorf("failed to open local store: %w", err)
		}
		log.Info().Str("path", cfg.Path).Msg("Local store opened")
		return store, nil
	}

	dbConfig := cfg.SQLConfig()
	dbManager, err := database.NewManager(dbConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database manager: %w", err)
	}

	// Apply database migrations to ensure schema is up to date
	migrationManager := pkgdatabase.NewMigrationManager(dbManager.DB(), dbManager.Dialect())
	if err := migrationManager.ApplyMigrations(ctx); err != nil {
		_ = dbManager.Close()
		return nil, fmt.Errorf("failed to apply database migrations: %w", err)
	}
	if err := migrationManager.ValidateSchema(ctx); err != nil {
		_ = dbManager.Close()
		return nil, fmt.Errorf("database schema is invalid: %w", err)
	}

	log.Info().Str("driver", string(dbConfig.Driver)).Msg("Database ready")
	return dbManager, nil
}

// Handler exposes the full HTTP surface without a listener
func (app *Application) Handler() http.Handler {
	return app.apiServer
}

// Addr is the bound listen address once Start has returned
func (app *Application) Addr() string {
	if app.listener != nil {
		return app.listener.Addr().String()
	}
	return app.httpServer.Addr
}

// Start binds the listener and serves in the background. A bind failure is
// returned directly; later serve errors are logged.
func (app *Application) Start(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	listener, err := net.Listen("tcp", app.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", app.httpServer.Addr, err)
	}
	app.listener = listener

	app.wg.Add(1)
	go func() {
		defer app.wg.Done()
		if err := app.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("HTTP server error")
		}
	}()

	if app.limiter != nil {
		app.wg.Add(1)
		go app.sweepRateLimits()
	}

	log.Info().Str("addr", listener.Addr().String()).Msg("BusBuddy application started")
	return nil
}

// sweepRateLimits drops stale limiter entries once per window
func (app *Application) sweepRateLimits() {
	defer app.wg.Done()

	ticker := time.NewTicker(rateLimitWindow)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			app.limiter.Cleanup()
			log.Debug().Int("clients", app.limiter.Len()).Msg("Rate limiter swept")
		case <-app.stop:
			return
		}
	}
}

// Stop shuts down in reverse dependency order: HTTP, background work, storage
func (app *Application) Stop(ctx context.Context) error {
	log.Info().Msg("Shutting down BusBuddy application")

	var errs []error

	// STEP 1: Stop accepting new connections
	if err := app.httpServer.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("HTTP server shutdown: %w", err))
	}

	// STEP 2: Stop background work
	select {
	case <-app.stop:
	default:
		close(app.stop)
	}
	app.wg.Wait()

	// STEP 3: Close storage
	if err := app.store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("storage shutdown: %w", err))
	}

	log.Info().Msg("BusBuddy application shutdown complete")
	return errors.Join(errs...)
}
