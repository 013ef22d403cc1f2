package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnvIntValid(t *testing.T) {
	t.Setenv("TEST_INT", "42")
	v, err := envInt("TEST_INT", 0)
	require.NoError(t, err)
	assert.Equal(t, 42, v)
}

func TestEnvIntFallback(t *testing.T) {
	v, err := envInt("TEST_INT_MISSING", 99)
	require.NoError(t, err)
	assert.Equal(t, 99, v)
}

func TestEnvIntInvalid(t *testing.T) {
	t.Setenv("TEST_INT_BAD", "abc")
	_, err := envInt("TEST_INT_BAD", 0)
	require.Error(t, err)
	assert.Equal(t, `TEST_INT_BAD="abc" is not a valid integer`, err.Error())
}

func TestEnvBool(t *testing.T) {
	t.Setenv("TEST_BOOL", "true")
	v, err := envBool("TEST_BOOL", false)
	require.NoError(t, err)
	assert.True(t, v)

	t.Setenv("TEST_BOOL_BAD", "maybe")
	_, err = envBool("TEST_BOOL_BAD", false)
	require.Error(t, err)
	assert.Equal(t, `TEST_BOOL_BAD="maybe" is not a valid boolean`, err.Error())
}

func TestEnvDurationAndFloat(t *testing.T) {
	t.Setenv("TEST_DUR", "90s")
	d, err := envDuration("TEST_DUR", time.Second)
	require.NoError(t, err)
	assert.Equal(t, 90*time.Second, d)

	t.Setenv("TEST_FLOAT", "0.25")
	f, err := envFloat("TEST_FLOAT", 0)
	require.NoError(t, err)
	assert.InDelta(t, 0.25, f, 1e-12)

	t.Setenv("TEST_DUR_BAD", "soon")
	_, err = envDuration("TEST_DUR_BAD", time.Second)
	assert.Error(t, err)
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, "./data", cfg.DataDir)
	assert.Equal(t, "./models", cfg.ModelsDir)
	assert.Equal(t, ChampionStoreFile, cfg.ChampionStore)
	assert.Equal(t, 1000, cfg.RegistryCapacity)
	assert.Equal(t, 4, cfg.MaxConcurrentRuns)
	assert.Equal(t, 10, cfg.DefaultTrialBudget)
	assert.Equal(t, 500, cfg.MaxTrialBudget)
	assert.Equal(t, 5, cfg.CVFolds)
	assert.InDelta(t, 0.2, cfg.TestFraction, 1e-12)
	assert.False(t, cfg.AuthEnabled())
}

func TestLoadCollectsParseErrors(t *testing.T) {
	t.Setenv("NGX_PORT", "eighty")
	t.Setenv("NGX_RATE_LIMIT_ENABLED", "sometimes")
	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "NGX_PORT")
	assert.Contains(t, err.Error(), "NGX_RATE_LIMIT_ENABLED")
}

func TestValidate(t *testing.T) {
	base, err := Load()
	require.NoError(t, err)

	cases := map[string]func(*Config){
		"postgres store without url": func(c *Config) { c.ChampionStore = ChampionStorePostgres },
		"unknown store":              func(c *Config) { c.ChampionStore = "s3" },
		"one fold":                   func(c *Config) { c.CVFolds = 1 },
		"test fraction":              func(c *Config) { c.TestFraction = 1 },
		"default above max":          func(c *Config) { c.DefaultTrialBudget = c.MaxTrialBudget + 1 },
		"no concurrency":             func(c *Config) { c.MaxConcurrentRuns = 0 },
		"log level":                  func(c *Config) { c.LogLevel = "trace" },
		"log format":                 func(c *Config) { c.LogFormat = "xml" },
		"rate limit":                 func(c *Config) { c.RateLimitRPS = 0 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			c := base
			mutate(&c)
			assert.Error(t, c.Validate())
		})
	}

	ok := base
	ok.ChampionStore = ChampionStorePostgres
	ok.DatabaseURL = "postgres://localhost/neurogenx"
	assert.NoError(t, ok.Validate())
}
