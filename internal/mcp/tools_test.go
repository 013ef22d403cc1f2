package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	mcplib "github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/neurogenx/neurogenx/internal/champion"
	"github.com/neurogenx/neurogenx/internal/model"
	"github.com/neurogenx/neurogenx/internal/testutil"
)

type fakeRuns struct {
	mu      sync.Mutex
	started []model.RunRequest
	records map[uuid.UUID]model.RunRecord
	err     error
}

func (f *fakeRuns) StartRun(_ context.Context, req model.RunRequest) (uuid.UUID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return uuid.Nil, f.err
	}
	f.started = append(f.started, req)
	id := uuid.New()
	if f.records == nil {
		f.records = make(map[uuid.UUID]model.RunRecord)
	}
	f.records[id] = model.NewRunRecord(id, req, time.Now().UTC())
	return id, nil
}

func (f *fakeRuns) GetStatus(_ context.Context, id uuid.UUID) (model.RunRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.records[id]
	if !ok {
		return model.RunRecord{}, model.ErrRunNotFound
	}
	return rec, nil
}

func callTool(name string, args map[string]any) mcplib.CallToolRequest {
	return mcplib.CallToolRequest{
		Params: mcplib.CallToolParams{Name: name, Arguments: args},
	}
}

// parseToolText extracts the first TextContent text from a CallToolResult.
func parseToolText(t *testing.T, result *mcplib.CallToolResult) string {
	t.Helper()
	require.NotEmpty(t, result.Content)
	tc, ok := result.Content[0].(mcplib.TextContent)
	require.True(t, ok, "expected TextContent")
	return tc.Text
}

func newTestServer(t *testing.T, runs Runs) (*Server, *champion.FileRegistry) {
	t.Helper()
	champions, err := champion.NewFileRegistry(t.TempDir())
	require.NoError(t, err)
	return New(runs, champions, 10, testutil.TestLogger(), "test"), champions
}

func TestStartRunAndGetStatus(t *testing.T) {
	runs := &fakeRuns{}
	s, _ := newTestServer(t, runs)
	ctx := context.Background()

	result, err := s.handleStartRun(ctx, callTool("neurogenx_start_run", map[string]any{
		"dataset_id": "churn",
		"target":     "label",
		"run_budget": 3.0,
	}))
	require.NoError(t, err)
	require.False(t, result.IsError, parseToolText(t, result))

	var created model.CreateRunResponse
	require.NoError(t, json.Unmarshal([]byte(parseToolText(t, result)), &created))
	assert.Equal(t, model.RunStatusPending, created.Status)
	require.Len(t, runs.started, 1)
	assert.Equal(t, model.RunRequest{DatasetID: "churn", Target: "label", TrialBudget: 3}, runs.started[0])

	result, err = s.handleGetStatus(ctx, callTool("neurogenx_get_status", map[string]any{
		"run_id": created.RunID.String(),
	}))
	require.NoError(t, err)
	require.False(t, result.IsError)
	var rec model.RunRecord
	require.NoError(t, json.Unmarshal([]byte(parseToolText(t, result)), &rec))
	assert.Equal(t, created.RunID, rec.RunID)
	assert.Equal(t, "churn", rec.DatasetID)
}

func TestStartRunDefaultsBudget(t *testing.T) {
	runs := &fakeRuns{}
	s, _ := newTestServer(t, runs)
	_, err := s.handleStartRun(context.Background(), callTool("neurogenx_start_run", map[string]any{
		"dataset_id": "churn",
		"target":     "label",
	}))
	require.NoError(t, err)
	require.Len(t, runs.started, 1)
	assert.Equal(t, 10, runs.started[0].TrialBudget)
}

func TestStartRunError(t *testing.T) {
	s, _ := newTestServer(t, &fakeRuns{err: errors.New("invalid run request: target is required")})
	result, err := s.handleStartRun(context.Background(), callTool("neurogenx_start_run", map[string]any{
		"dataset_id": "churn",
	}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, parseToolText(t, result), "target is required")
}

func TestGetStatusErrors(t *testing.T) {
	s, _ := newTestServer(t, &fakeRuns{})
	ctx := context.Background()

	result, err := s.handleGetStatus(ctx, callTool("neurogenx_get_status", map[string]any{"run_id": "nope"}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, parseToolText(t, result), "invalid run_id")

	result, err = s.handleGetStatus(ctx, callTool("neurogenx_get_status", map[string]any{"run_id": uuid.NewString()}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, parseToolText(t, result), "not found")
}

func TestChampionTool(t *testing.T) {
	s, champions := newTestServer(t, &fakeRuns{})
	ctx := context.Background()

	result, err := s.handleChampion(ctx, callTool("neurogenx_champion", nil))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, parseToolText(t, result), "no champion")

	manifest := model.ChampionManifest{
		RunID:     uuid.New(),
		Timestamp: time.Now().UTC().Truncate(time.Second),
		Metrics:   map[string]float64{model.MetricROCAUC: 0.8},
		Genome:    model.Candidate{Kind: "logistic_regression", Params: map[string]any{"C": 1.0}},
		BestScore: 0.81,
	}
	require.NoError(t, champions.RegisterChampion(ctx, manifest))

	result, err = s.handleChampion(ctx, callTool("neurogenx_champion", nil))
	require.NoError(t, err)
	require.False(t, result.IsError)
	var got model.ChampionManifest
	require.NoError(t, json.Unmarshal([]byte(parseToolText(t, result)), &got))
	assert.Equal(t, manifest.RunID, got.RunID)
	assert.InDelta(t, 0.81, got.BestScore, 1e-12)

	contents, err := s.handleChampionResource(ctx, mcplib.ReadResourceRequest{
		Params: mcplib.ReadResourceParams{URI: "neurogenx://champion/current"},
	})
	require.NoError(t, err)
	require.Len(t, contents, 1)
	text, ok := contents[0].(mcplib.TextResourceContents)
	require.True(t, ok)
	assert.Contains(t, text.Text, manifest.RunID.String())
}
