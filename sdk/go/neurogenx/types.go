package neurogenx

import (
	"time"

	"github.com/google/uuid"
)

// RunStatus is the lifecycle state of a run.
type RunStatus string

const (
	StatusPending       RunStatus = "pending"
	StatusIngesting     RunStatus = "ingesting"
	StatusPreprocessing RunStatus = "preprocessing"
	StatusEvolving      RunStatus = "evolving"
	StatusEvaluating    RunStatus = "evaluating"
	StatusDeploying     RunStatus = "deploying"
	StatusCompleted     RunStatus = "completed"
	StatusFailed        RunStatus = "failed"
	StatusCancelled     RunStatus = "cancelled"
)

// Terminal reports whether the run can no longer change.
func (s RunStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// StartRunRequest is the body of POST /v1/runs. A nil RunBudget takes the
// server's default.
type StartRunRequest struct {
	DatasetID string `json:"dataset_id"`
	Target    string `json:"target"`
	RunBudget *int   `json:"run_budget,omitempty"`
}

// StartRunResponse is returned when a run is accepted.
type StartRunResponse struct {
	RunID  uuid.UUID `json:"run_id"`
	Status RunStatus `json:"status"`
}

// Candidate is one sampled model configuration.
type Candidate struct {
	Model  string         `json:"model"`
	Params map[string]any `json:"params"`
}

// ChampionManifest describes the deployed winner of a run.
type ChampionManifest struct {
	RunID     uuid.UUID          `json:"run_id"`
	Timestamp time.Time          `json:"timestamp"`
	Metrics   map[string]float64 `json:"metrics"`
	Genome    Candidate          `json:"genome"`
	BestScore float64            `json:"best_score"`
	ModelPath string             `json:"model_path"`
}

// Run is a snapshot of one run's state.
type Run struct {
	RunID           uuid.UUID          `json:"run_id"`
	Status          RunStatus          `json:"status"`
	Progress        int                `json:"progress"`
	Log             []string           `json:"log"`
	Error           *string            `json:"error,omitempty"`
	DatasetID       string             `json:"dataset_id"`
	Target          string             `json:"target"`
	TrialBudget     int                `json:"trial_budget"`
	TrialsEvaluated int                `json:"trials_evaluated"`
	BestScore       *float64           `json:"best_score,omitempty"`
	Metrics         map[string]float64 `json:"metrics,omitempty"`
	Champion        *ChampionManifest  `json:"champion_model,omitempty"`
	CreatedAt       time.Time          `json:"created_at"`
	UpdatedAt       time.Time          `json:"updated_at"`
	CompletedAt     *time.Time         `json:"completed_at,omitempty"`
}

// HealthResponse is returned by GET /health.
type HealthResponse struct {
	Status     string `json:"status"`
	Version    string `json:"version"`
	Uptime     int64  `json:"uptime_seconds"`
	ActiveRuns int    `json:"active_runs"`
	Observers  int    `json:"observers"`
}
