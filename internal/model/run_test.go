package model_test

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/neurogenx/neurogenx/internal/model"
)

func ptr[T any](v T) *T { return &v }

func TestValidateRunTransition_HappyPath(t *testing.T) {
	path := []model.RunStatus{
		model.RunStatusPending,
		model.RunStatusIngesting,
		model.RunStatusPreprocessing,
		model.RunStatusEvolving,
		model.RunStatusEvaluating,
		model.RunStatusDeploying,
		model.RunStatusCompleted,
	}
	for i := 0; i < len(path)-1; i++ {
		assert.NoError(t, model.ValidateRunTransition(path[i], path[i+1]), "%s -> %s", path[i], path[i+1])
	}
}

func TestValidateRunTransition_AnyNonTerminalCanFail(t *testing.T) {
	for _, s := range []model.RunStatus{
		model.RunStatusPending,
		model.RunStatusIngesting,
		model.RunStatusPreprocessing,
		model.RunStatusEvolving,
		model.RunStatusEvaluating,
		model.RunStatusDeploying,
	} {
		assert.NoError(t, model.ValidateRunTransition(s, model.RunStatusFailed), string(s))
		assert.NoError(t, model.ValidateRunTransition(s, model.RunStatusCancelled), string(s))
	}
}

func TestValidateRunTransition_TerminalIsFinal(t *testing.T) {
	for _, from := range []model.RunStatus{model.RunStatusCompleted, model.RunStatusFailed, model.RunStatusCancelled} {
		assert.True(t, from.Terminal())
		for _, to := range []model.RunStatus{model.RunStatusPending, model.RunStatusIngesting, model.RunStatusFailed, model.RunStatusCompleted} {
			assert.Error(t, model.ValidateRunTransition(from, to), "%s -> %s", from, to)
		}
	}
}

func TestValidateRunTransition_RejectsSkips(t *testing.T) {
	err := model.ValidateRunTransition(model.RunStatusPending, model.RunStatusEvolving)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "pending -> evolving")

	assert.Error(t, model.ValidateRunTransition("bogus", model.RunStatusFailed))
}

func TestRunRecordTransition(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	rec := model.NewRunRecord(uuid.New(), model.RunRequest{DatasetID: "d", Target: "label", TrialBudget: 3}, now)
	assert.Equal(t, model.RunStatusPending, rec.Status)
	assert.Equal(t, 0, rec.Progress)

	require.NoError(t, rec.Transition(model.RunStatusIngesting, now.Add(time.Second), "ingesting data"))
	assert.Equal(t, 10, rec.Progress)
	assert.Equal(t, []string{"ingesting data"}, rec.Log)
	assert.Nil(t, rec.CompletedAt)

	require.NoError(t, rec.Transition(model.RunStatusFailed, now.Add(2*time.Second), ""))
	assert.Equal(t, 10, rec.Progress, "failed keeps the last checkpoint")
	require.NotNil(t, rec.CompletedAt)

	err := rec.Transition(model.RunStatusIngesting, now, "again")
	require.Error(t, err)
	assert.Equal(t, model.RunStatusFailed, rec.Status)
	assert.Len(t, rec.Log, 1)
}

func TestRunRecordCloneIsDeep(t *testing.T) {
	rec := model.NewRunRecord(uuid.New(), model.RunRequest{DatasetID: "d", Target: "y"}, time.Now())
	rec.Log = append(rec.Log, "a")
	rec.Error = ptr("boom")
	rec.Metrics = map[string]float64{model.MetricROCAUC: 0.9}
	rec.Champion = &model.ChampionManifest{
		Metrics: map[string]float64{model.MetricF1Score: 0.5},
		Genome:  model.Candidate{Kind: "random_forest", Params: map[string]any{"max_depth": 5}},
	}

	snap := rec.Clone()
	rec.Log[0] = "changed"
	*rec.Error = "changed"
	rec.Metrics[model.MetricROCAUC] = 0.1
	rec.Champion.Metrics[model.MetricF1Score] = 0.1
	rec.Champion.Genome.Params["max_depth"] = 9

	assert.Equal(t, []string{"a"}, snap.Log)
	assert.Equal(t, "boom", *snap.Error)
	assert.Equal(t, 0.9, snap.Metrics[model.MetricROCAUC])
	assert.Equal(t, 0.5, snap.Champion.Metrics[model.MetricF1Score])
	assert.Equal(t, 5, snap.Champion.Genome.Params["max_depth"])
}

func TestRunRequestValidate(t *testing.T) {
	ok := model.RunRequest{DatasetID: "iris", Target: "label", TrialBudget: 3}
	assert.NoError(t, ok.Validate(10))

	zero := ok
	zero.TrialBudget = 0
	assert.NoError(t, zero.Validate(10), "zero budget surfaces later as a run failure")

	cases := map[string]model.RunRequest{
		"dataset_id": {Target: "label", TrialBudget: 1},
		"target":     {DatasetID: "iris", TrialBudget: 1},
		"negative":   {DatasetID: "iris", Target: "label", TrialBudget: -1},
		"maximum":    {DatasetID: "iris", Target: "label", TrialBudget: 11},
	}
	for want, req := range cases {
		err := req.Validate(10)
		require.Error(t, err, want)
		assert.Contains(t, err.Error(), map[string]string{
			"dataset_id": "dataset_id",
			"target":     "target",
			"negative":   "negative",
			"maximum":    "maximum",
		}[want])
	}
}
