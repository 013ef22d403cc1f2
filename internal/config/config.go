// Package config loads and validates application configuration from environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Champion store backends.
const (
	ChampionStoreFile     = "file"
	ChampionStoreSQLite   = "sqlite"
	ChampionStorePostgres = "postgres"
)

// Config holds all application configuration.
type Config struct {
	// Server settings.
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	// Data locations.
	DataDir           string // Where <dataset_id>.csv files live.
	ModelsDir         string // Where fitted champions and the file manifest are written.
	AllowDatasetPaths bool   // Accept absolute or *.csv dataset ids as file paths.

	// Persistence.
	ChampionStore string // "file", "sqlite", or "postgres".
	SQLitePath    string
	DatabaseURL   string // Optional; enables the Postgres run store.

	// Orchestration.
	RegistryCapacity   int
	MaxConcurrentRuns  int
	DefaultTrialBudget int
	MaxTrialBudget     int
	ShutdownTimeout    time.Duration

	// Search.
	CVFolds         int
	TestFraction    float64
	Seed            uint64 // 0 derives a seed from each run id.
	SearchSpaceFile string // Optional YAML search space.

	// Logging.
	LogLevel  string
	LogFormat string // "json" or "text"

	// OTEL settings.
	OTELEndpoint string
	ServiceName  string
	OTELInsecure bool

	// Rate limiting on run creation.
	RateLimitEnabled bool
	RateLimitRPS     float64
	RateLimitBurst   int

	// Auth. Bearer auth on mutating routes is enabled when AdminAPIKey is set.
	AdminAPIKey       string
	JWTPrivateKeyPath string // Ed25519 private key PEM; empty generates an ephemeral key.
	JWTPublicKeyPath  string
	JWTExpiration     time.Duration

	MaxRequestBodyBytes int64
}

// AuthEnabled reports whether mutating routes require a bearer token.
func (c Config) AuthEnabled() bool { return c.AdminAPIKey != "" }

// Load reads configuration from environment variables with sensible
// defaults. Malformed values are collected and reported together.
func Load() (Config, error) {
	var errs []error
	collect := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}
	getInt := func(key string, def int) int {
		v, err := envInt(key, def)
		collect(err)
		return v
	}
	getBool := func(key string, def bool) bool {
		v, err := envBool(key, def)
		collect(err)
		return v
	}
	getDuration := func(key string, def time.Duration) time.Duration {
		v, err := envDuration(key, def)
		collect(err)
		return v
	}
	getFloat := func(key string, def float64) float64 {
		v, err := envFloat(key, def)
		collect(err)
		return v
	}

	cfg := Config{
		Port:                getInt("NGX_PORT", 8080),
		ReadTimeout:         getDuration("NGX_READ_TIMEOUT", 30*time.Second),
		WriteTimeout:        getDuration("NGX_WRITE_TIMEOUT", 30*time.Second),
		DataDir:             envStr("NGX_DATA_DIR", "./data"),
		ModelsDir:           envStr("NGX_MODELS_DIR", "./models"),
		AllowDatasetPaths:   getBool("NGX_ALLOW_DATASET_PATHS", false),
		ChampionStore:       strings.ToLower(envStr("NGX_CHAMPION_STORE", ChampionStoreFile)),
		SQLitePath:          envStr("NGX_SQLITE_PATH", "./models/champion.db"),
		DatabaseURL:         envStr("DATABASE_URL", ""),
		RegistryCapacity:    getInt("NGX_REGISTRY_CAPACITY", 1000),
		MaxConcurrentRuns:   getInt("NGX_MAX_CONCURRENT_RUNS", 4),
		DefaultTrialBudget:  getInt("NGX_DEFAULT_TRIAL_BUDGET", 10),
		MaxTrialBudget:      getInt("NGX_MAX_TRIAL_BUDGET", 500),
		ShutdownTimeout:     getDuration("NGX_SHUTDOWN_TIMEOUT", 30*time.Second),
		CVFolds:             getInt("NGX_CV_FOLDS", 5),
		TestFraction:        getFloat("NGX_TEST_FRACTION", 0.2),
		Seed:                uint64(getInt("NGX_SEED", 0)),
		SearchSpaceFile:     envStr("NGX_SEARCH_SPACE_FILE", ""),
		LogLevel:            strings.ToLower(envStr("NGX_LOG_LEVEL", "info")),
		LogFormat:           strings.ToLower(envStr("NGX_LOG_FORMAT", "json")),
		OTELEndpoint:        envStr("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
		ServiceName:         envStr("OTEL_SERVICE_NAME", "neurogenx"),
		OTELInsecure:        getBool("NGX_OTEL_INSECURE", false),
		RateLimitEnabled:    getBool("NGX_RATE_LIMIT_ENABLED", true),
		RateLimitRPS:        getFloat("NGX_RATE_LIMIT_RPS", 2),
		RateLimitBurst:      getInt("NGX_RATE_LIMIT_BURST", 10),
		AdminAPIKey:         envStr("NGX_ADMIN_API_KEY", ""),
		JWTPrivateKeyPath:   envStr("NGX_JWT_PRIVATE_KEY", ""),
		JWTPublicKeyPath:    envStr("NGX_JWT_PUBLIC_KEY", ""),
		JWTExpiration:       getDuration("NGX_JWT_EXPIRATION", 24*time.Hour),
		MaxRequestBodyBytes: int64(getInt("NGX_MAX_REQUEST_BODY_BYTES", 1*1024*1024)), // 1 MB default
	}
	if len(errs) > 0 {
		return Config{}, fmt.Errorf("config: %w", errors.Join(errs...))
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks that configuration values are usable together.
func (c Config) Validate() error {
	var errs []error
	if c.Port <= 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("NGX_PORT %d is out of range", c.Port))
	}
	switch c.ChampionStore {
	case ChampionStoreFile, ChampionStoreSQLite:
	case ChampionStorePostgres:
		if c.DatabaseURL == "" {
			errs = append(errs, errors.New("NGX_CHAMPION_STORE=postgres requires DATABASE_URL"))
		}
	default:
		errs = append(errs, fmt.Errorf("NGX_CHAMPION_STORE %q must be file, sqlite, or postgres", c.ChampionStore))
	}
	if c.RegistryCapacity <= 0 {
		errs = append(errs, errors.New("NGX_REGISTRY_CAPACITY must be positive"))
	}
	if c.MaxConcurrentRuns <= 0 {
		errs = append(errs, errors.New("NGX_MAX_CONCURRENT_RUNS must be positive"))
	}
	if c.MaxTrialBudget <= 0 {
		errs = append(errs, errors.New("NGX_MAX_TRIAL_BUDGET must be positive"))
	}
	if c.DefaultTrialBudget < 0 || c.DefaultTrialBudget > c.MaxTrialBudget {
		errs = append(errs, fmt.Errorf("NGX_DEFAULT_TRIAL_BUDGET must be between 0 and %d", c.MaxTrialBudget))
	}
	if c.CVFolds < 2 {
		errs = append(errs, errors.New("NGX_CV_FOLDS must be at least 2"))
	}
	if c.TestFraction <= 0 || c.TestFraction >= 1 {
		errs = append(errs, errors.New("NGX_TEST_FRACTION must be between 0 and 1 exclusive"))
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("NGX_LOG_LEVEL %q must be debug, info, warn, or error", c.LogLevel))
	}
	switch c.LogFormat {
	case "json", "text":
	default:
		errs = append(errs, fmt.Errorf("NGX_LOG_FORMAT %q must be json or text", c.LogFormat))
	}
	if c.RateLimitEnabled && (c.RateLimitRPS <= 0 || c.RateLimitBurst <= 0) {
		errs = append(errs, errors.New("NGX_RATE_LIMIT_RPS and NGX_RATE_LIMIT_BURST must be positive when rate limiting is enabled"))
	}
	if (c.JWTPrivateKeyPath == "") != (c.JWTPublicKeyPath == "") {
		errs = append(errs, errors.New("NGX_JWT_PRIVATE_KEY and NGX_JWT_PUBLIC_KEY must be set together"))
	}
	if c.MaxRequestBodyBytes <= 0 {
		errs = append(errs, errors.New("NGX_MAX_REQUEST_BODY_BYTES must be positive"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: %w", errors.Join(errs...))
	}
	return nil
}

func envStr(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal, fmt.Errorf("%s=%q is not a valid integer", key, v)
	}
	return n, nil
}

func envFloat(key string, defaultVal float64) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return defaultVal, fmt.Errorf("%s=%q is not a valid number", key, v)
	}
	return f, nil
}

func envBool(key string, defaultVal bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return defaultVal, fmt.Errorf("%s=%q is not a valid boolean", key, v)
	}
	return b, nil
}

func envDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal, fmt.Errorf("%s=%q is not a valid duration", key, v)
	}
	return d, nil
}
