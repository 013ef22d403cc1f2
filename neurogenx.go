// Package neurogenx is the public API for embedding the NeuroGenX run
// orchestrator.
//
//	app, err := neurogenx.New(
//	    neurogenx.WithVersion(version),
//	    neurogenx.WithLogger(logger),
//	    neurogenx.WithObserver(mySink),
//	)
//	if err != nil { ... }
//	if err := app.Run(ctx); err != nil { ... }
//
// The root package imports internal/*; internal/* never imports the root.
package neurogenx

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"github.com/neurogenx/neurogenx/api"
	"github.com/neurogenx/neurogenx/internal/auth"
	"github.com/neurogenx/neurogenx/internal/broadcast"
	"github.com/neurogenx/neurogenx/internal/champion"
	"github.com/neurogenx/neurogenx/internal/config"
	"github.com/neurogenx/neurogenx/internal/mcp"
	"github.com/neurogenx/neurogenx/internal/orchestrator"
	"github.com/neurogenx/neurogenx/internal/ratelimit"
	"github.com/neurogenx/neurogenx/internal/registry"
	"github.com/neurogenx/neurogenx/internal/search"
	"github.com/neurogenx/neurogenx/internal/server"
	"github.com/neurogenx/neurogenx/internal/stages"
	"github.com/neurogenx/neurogenx/internal/storage"
	"github.com/neurogenx/neurogenx/internal/telemetry"
	"github.com/neurogenx/neurogenx/migrations"
)

// App is the NeuroGenX server lifecycle. Construct with New(), run with Run().
type App struct {
	cfg          config.Config
	db           *storage.DB              // nil without DATABASE_URL
	sqlite       *champion.SQLiteRegistry // nil unless NGX_CHAMPION_STORE=sqlite
	limiter      ratelimit.Limiter
	broadcaster  *broadcast.Broadcaster
	orch         *orchestrator.Orchestrator
	srv          *server.Server
	otelShutdown telemetry.Shutdown
	logger       *slog.Logger
	version      string
}

// New loads configuration, opens the configured stores, and wires every
// subsystem. It does not start the HTTP listener; call Run.
func New(opts ...Option) (*App, error) {
	o := resolvedOptions{}
	for _, fn := range opts {
		fn(&o)
	}

	logger := o.logger
	if logger == nil {
		logger = slog.Default()
	}

	// Load .env file if present (non-fatal; production won't have one).
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if o.port != 0 {
		cfg.Port = o.port
	}
	if o.databaseURL != "" {
		cfg.DatabaseURL = o.databaseURL
	}
	if o.dataDir != "" {
		cfg.DataDir = o.dataDir
	}
	if o.modelsDir != "" {
		cfg.ModelsDir = o.modelsDir
	}
	version := o.version
	if version == "" {
		version = "dev"
	}

	logger.Info("neurogenx starting", "version", version, "port", cfg.Port)

	a := &App{cfg: cfg, logger: logger, version: version}
	ok := false
	defer func() {
		if !ok {
			a.closeStores()
		}
	}()

	a.otelShutdown, err = telemetry.Init(context.Background(), cfg.OTELEndpoint, cfg.ServiceName, version, cfg.OTELInsecure)
	if err != nil {
		return nil, fmt.Errorf("telemetry: %w", err)
	}

	// Optional Postgres run store.
	var runStore registry.Store
	if cfg.DatabaseURL != "" {
		a.db, err = storage.New(context.Background(), cfg.DatabaseURL, logger)
		if err != nil {
			return nil, fmt.Errorf("storage: %w", err)
		}
		applied, err := a.db.RunMigrations(context.Background(), migrations.FS)
		if err != nil {
			return nil, fmt.Errorf("migrations: %w", err)
		}
		if len(applied) > 0 {
			logger.Info("database migrated", "versions", applied)
		}
		if n, err := a.db.MarkInterrupted(context.Background(), "interrupted by restart"); err != nil {
			logger.Warn("mark interrupted runs failed", "error", err)
		} else if n > 0 {
			logger.Info("marked interrupted runs failed", "count", n)
		}
		runStore = a.db
		logger.Info("run store: postgres")
	} else {
		logger.Info("run store: memory only (no DATABASE_URL)")
	}

	champions, err := a.openChampions(o.champions)
	if err != nil {
		return nil, err
	}

	space := search.DefaultSpace()
	if cfg.SearchSpaceFile != "" {
		if space, err = search.LoadSpace(cfg.SearchSpaceFile); err != nil {
			return nil, fmt.Errorf("search space: %w", err)
		}
		logger.Info("search space loaded", "path", cfg.SearchSpaceFile, "kinds", len(space.Kinds))
	}

	pipe, err := stages.NewPipeline(stages.Config{
		DataDir:           cfg.DataDir,
		ModelsDir:         cfg.ModelsDir,
		AllowDatasetPaths: cfg.AllowDatasetPaths,
		TestFraction:      cfg.TestFraction,
		Folds:             cfg.CVFolds,
		Seed:              cfg.Seed,
		Space:             space,
		Champions:         champions,
		Logger:            logger,
	})
	if err != nil {
		return nil, fmt.Errorf("pipeline: %w", err)
	}

	a.broadcaster = broadcast.New(logger)
	for _, obs := range o.observers {
		a.broadcaster.Register(obs)
	}

	a.orch, err = orchestrator.New(orchestrator.Config{
		Pipeline:      pipe,
		Registry:      registry.New(cfg.RegistryCapacity, runStore, logger),
		Publisher:     a.broadcaster,
		MaxConcurrent: int64(cfg.MaxConcurrentRuns),
		MaxBudget:     cfg.MaxTrialBudget,
		Logger:        logger,
	})
	if err != nil {
		return nil, fmt.Errorf("orchestrator: %w", err)
	}

	var (
		jwtMgr   *auth.JWTManager
		adminKey *auth.AdminKey
	)
	if cfg.AuthEnabled() {
		if jwtMgr, err = auth.NewJWTManager(cfg.JWTPrivateKeyPath, cfg.JWTPublicKeyPath, cfg.JWTExpiration, logger); err != nil {
			return nil, fmt.Errorf("auth: %w", err)
		}
		if adminKey, err = auth.NewAdminKey(cfg.AdminAPIKey); err != nil {
			return nil, fmt.Errorf("auth: %w", err)
		}
		logger.Info("auth: bearer tokens required on mutating routes")
	} else {
		logger.Warn("auth: disabled (no NGX_ADMIN_API_KEY), mutating routes are open")
	}

	if cfg.RateLimitEnabled {
		a.limiter = ratelimit.NewMemoryLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst)
		logger.Info("rate limiting: memory (in-process token bucket)",
			"rps", cfg.RateLimitRPS, "burst", cfg.RateLimitBurst)
	} else {
		a.limiter = ratelimit.NoopLimiter{}
		logger.Info("rate limiting: disabled")
	}

	mcpSrv := mcp.New(a.orch, champions, cfg.DefaultTrialBudget, logger, version)

	var pinger server.Pinger
	if a.db != nil {
		pinger = a.db
	}
	a.srv = server.New(server.ServerConfig{
		Runs:                a.orch,
		Broadcaster:         a.broadcaster,
		Logger:              logger,
		Champions:           champions,
		Limiter:             a.limiter,
		JWTMgr:              jwtMgr,
		AdminKey:            adminKey,
		Pinger:              pinger,
		MCPServer:           mcpSrv.MCPServer(),
		Port:                cfg.Port,
		ReadTimeout:         cfg.ReadTimeout,
		WriteTimeout:        cfg.WriteTimeout,
		Version:             version,
		DefaultTrialBudget:  cfg.DefaultTrialBudget,
		MaxRequestBodyBytes: cfg.MaxRequestBodyBytes,
		OpenAPISpec:         api.Document,
	})

	ok = true
	return a, nil
}

// openChampions returns the override if set, else the store selected by
// NGX_CHAMPION_STORE.
func (a *App) openChampions(override ChampionRegistry) (champion.Registry, error) {
	if override != nil {
		a.logger.Info("champion store: external")
		return override, nil
	}
	switch a.cfg.ChampionStore {
	case config.ChampionStoreSQLite:
		reg, err := champion.OpenSQLite(context.Background(), a.cfg.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("champion store: %w", err)
		}
		a.sqlite = reg
		a.logger.Info("champion store: sqlite", "path", a.cfg.SQLitePath)
		return reg, nil
	case config.ChampionStorePostgres:
		if a.db == nil {
			return nil, errors.New("champion store: postgres requires DATABASE_URL")
		}
		a.logger.Info("champion store: postgres")
		return a.db, nil
	default:
		reg, err := champion.NewFileRegistry(a.cfg.ModelsDir)
		if err != nil {
			return nil, fmt.Errorf("champion store: %w", err)
		}
		a.logger.Info("champion store: file", "path", reg.Path())
		return reg, nil
	}
}

// StartRun starts a run in-process, bypassing HTTP.
func (a *App) StartRun(ctx context.Context, req RunRequest) (uuid.UUID, error) {
	return a.orch.StartRun(ctx, req)
}

// GetStatus returns a snapshot of a run or ErrRunNotFound.
func (a *App) GetStatus(ctx context.Context, id uuid.UUID) (RunRecord, error) {
	return a.orch.GetStatus(ctx, id)
}

// CancelRun asks a run to stop.
func (a *App) CancelRun(ctx context.Context, id uuid.UUID) error {
	return a.orch.CancelRun(ctx, id)
}

// Handler returns the HTTP handler, for serving under a caller's listener
// or in tests.
func (a *App) Handler() http.Handler {
	return a.srv.Handler()
}

// Run starts the HTTP server and blocks until ctx is cancelled or the
// server fails. On return, Shutdown has been called.
func (a *App) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		if err := a.srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-errCh:
		a.logger.Error("http server failed", "error", runErr)
	}
	return errors.Join(runErr, a.Shutdown(context.Background()))
}

// Shutdown stops accepting requests, gives in-flight runs up to
// NGX_SHUTDOWN_TIMEOUT to finish, cancels the rest, and closes the stores.
func (a *App) Shutdown(ctx context.Context) error {
	a.logger.Info("neurogenx shutting down")

	httpCtx, httpCancel := context.WithTimeout(ctx, 10*time.Second)
	if err := a.srv.Shutdown(httpCtx); err != nil {
		a.logger.Error("http shutdown error", "error", err)
	}
	httpCancel()

	runCtx, runCancel := context.WithTimeout(ctx, a.cfg.ShutdownTimeout)
	runErr := a.orch.Shutdown(runCtx)
	runCancel()
	if runErr != nil {
		a.logger.Warn("runs cancelled at shutdown", "error", runErr)
	}

	a.closeStores()
	a.logger.Info("neurogenx stopped")
	return nil
}

// closeStores releases whatever New managed to open. Safe on a partially
// constructed App.
func (a *App) closeStores() {
	if a.limiter != nil {
		_ = a.limiter.Close()
	}
	if a.sqlite != nil {
		_ = a.sqlite.Close()
	}
	if a.db != nil {
		a.db.Close()
	}
	if a.otelShutdown != nil {
		_ = a.otelShutdown(context.Background())
	}
}
