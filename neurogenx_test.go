package neurogenx

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/neurogenx/neurogenx/internal/model"
	"github.com/neurogenx/neurogenx/internal/testutil"
)

type envelopeSink struct {
	mu    sync.Mutex
	types []string
	last  model.RunRecord
}

func (s *envelopeSink) Receive(msg []byte) error {
	var env struct {
		Type string          `json:"type"`
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(msg, &env); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.types = append(s.types, env.Type)
	if env.Type == "status_update" {
		var rec model.RunRecord
		if err := json.Unmarshal(env.Data, &rec); err != nil {
			return err
		}
		s.last = rec
	}
	return nil
}

func (s *envelopeSink) count(typ string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, t := range s.types {
		if t == typ {
			n++
		}
	}
	return n
}

func newTestApp(t *testing.T, opts ...Option) (*App, string) {
	t.Helper()
	t.Setenv("NGX_RATE_LIMIT_ENABLED", "false")
	t.Setenv("NGX_CV_FOLDS", "3")
	dataDir := t.TempDir()
	modelsDir := t.TempDir()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	all := append([]Option{
		WithDataDir(dataDir),
		WithModelsDir(modelsDir),
		WithLogger(logger),
		WithVersion("test"),
	}, opts...)
	app, err := New(all...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = app.Shutdown(context.Background()) })
	return app, dataDir
}

func TestAppRunsToCompletion(t *testing.T) {
	sink := &envelopeSink{}
	app, dataDir := newTestApp(t, WithObserver(sink))
	testutil.WriteBinaryCSV(t, dataDir, "churn", 120, 3)

	ctx := context.Background()
	id, err := app.StartRun(ctx, RunRequest{DatasetID: "churn", Target: "label", TrialBudget: 2})
	require.NoError(t, err)

	var rec RunRecord
	require.Eventually(t, func() bool {
		rec, err = app.GetStatus(ctx, id)
		return err == nil && rec.Status.Terminal()
	}, 60*time.Second, 20*time.Millisecond)

	require.Equal(t, model.RunStatusCompleted, rec.Status, "log: %v", rec.Log)
	assert.Equal(t, 100, rec.Progress)
	assert.Equal(t, 2, rec.TrialsEvaluated)
	require.NotNil(t, rec.Champion)
	assert.FileExists(t, rec.Champion.ArtifactReference)

	assert.Equal(t, 2, sink.count("trial_update"))
	assert.Eventually(t, func() bool {
		sink.mu.Lock()
		defer sink.mu.Unlock()
		return sink.last.Status == model.RunStatusCompleted
	}, time.Second, 10*time.Millisecond)

	req := httptest.NewRequest(http.MethodGet, "/v1/champion", nil)
	w := httptest.NewRecorder()
	app.Handler().ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	var env struct {
		Data ChampionManifest `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	assert.Equal(t, id, env.Data.RunID)
}

func TestAppUnknownRun(t *testing.T) {
	app, _ := newTestApp(t)
	rec := httptest.NewRecorder()
	app.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	_, err := app.GetStatus(context.Background(), uuid.New())
	assert.ErrorIs(t, err, ErrRunNotFound)
}

func TestAppSQLiteChampionStore(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "champion.db")
	t.Setenv("NGX_CHAMPION_STORE", "sqlite")
	t.Setenv("NGX_SQLITE_PATH", dbPath)
	app, _ := newTestApp(t)
	require.NotNil(t, app.sqlite)

	_, err := os.Stat(dbPath)
	assert.NoError(t, err)
}

func TestAppInvalidConfig(t *testing.T) {
	t.Setenv("NGX_CHAMPION_STORE", "postgres")
	_, err := New(WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DATABASE_URL")
}
