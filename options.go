package neurogenx

import "log/slog"

// Option configures an App.
type Option func(*resolvedOptions)

// resolvedOptions holds the overrides collected from Option values.
// Unexported; callers use the With* functions.
type resolvedOptions struct {
	port        int
	databaseURL string
	dataDir     string
	modelsDir   string
	logger      *slog.Logger
	version     string
	champions   ChampionRegistry
	observers   []Observer
}

// WithPort overrides the TCP port from config (NGX_PORT env var).
func WithPort(port int) Option {
	return func(o *resolvedOptions) { o.port = port }
}

// WithDatabaseURL overrides the Postgres connection string (DATABASE_URL
// env var). A non-empty URL enables the persistent run store.
func WithDatabaseURL(url string) Option {
	return func(o *resolvedOptions) { o.databaseURL = url }
}

// WithDataDir overrides where datasets are read from (NGX_DATA_DIR).
func WithDataDir(dir string) Option {
	return func(o *resolvedOptions) { o.dataDir = dir }
}

// WithModelsDir overrides where fitted champions are written (NGX_MODELS_DIR).
func WithModelsDir(dir string) Option {
	return func(o *resolvedOptions) { o.modelsDir = dir }
}

// WithLogger sets the structured logger for the App.
// If not set, the default slog logger is used.
func WithLogger(logger *slog.Logger) Option {
	return func(o *resolvedOptions) { o.logger = logger }
}

// WithVersion sets the version string reported in the health endpoint and logs.
func WithVersion(version string) Option {
	return func(o *resolvedOptions) { o.version = version }
}

// WithChampionRegistry replaces the store selected by NGX_CHAMPION_STORE.
func WithChampionRegistry(r ChampionRegistry) Option {
	return func(o *resolvedOptions) { o.champions = r }
}

// WithObserver registers an in-process telemetry observer before any run
// starts. Multiple observers may be registered.
func WithObserver(obs Observer) Option {
	return func(o *resolvedOptions) { o.observers = append(o.observers, obs) }
}
