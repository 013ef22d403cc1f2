package model

import (
	"maps"
	"time"

	"github.com/google/uuid"
)

// Candidate is one sampled model configuration (a "genome"). It is never
// mutated after the sampler creates it.
type Candidate struct {
	Kind   string         `json:"model"`
	Params map[string]any `json:"params"`
}

// Clone returns a copy with its own params map.
func (c Candidate) Clone() Candidate {
	return Candidate{Kind: c.Kind, Params: maps.Clone(c.Params)}
}

// TrialStatus is the outcome of a single search iteration.
type TrialStatus string

const (
	TrialCompleted TrialStatus = "completed"
	TrialFailed    TrialStatus = "failed"
)

// TrialEvent reports one search iteration. It is broadcast once and never
// stored by the orchestrator.
type TrialEvent struct {
	RunID      uuid.UUID   `json:"run_id"`
	TrialIndex int         `json:"trial_id"`
	Candidate  Candidate   `json:"candidate"`
	Score      float64     `json:"score"`
	Status     TrialStatus `json:"status"`
	Error      string      `json:"error,omitempty"`
	DurationMs int64       `json:"duration_ms"`
}

// ChampionManifest describes the deployed winner of a run.
type ChampionManifest struct {
	RunID             uuid.UUID          `json:"run_id"`
	Timestamp         time.Time          `json:"timestamp"`
	Metrics           map[string]float64 `json:"metrics"`
	Genome            Candidate          `json:"genome"`
	BestScore         float64            `json:"best_score"`
	ArtifactReference string             `json:"model_path"`
}

// Clone returns a deep copy of the manifest.
func (m ChampionManifest) Clone() ChampionManifest {
	out := m
	out.Metrics = maps.Clone(m.Metrics)
	out.Genome = m.Genome.Clone()
	return out
}

// Metric names produced by the evaluate stage.
const (
	MetricROCAUC  = "roc_auc"
	MetricPRAUC   = "pr_auc"
	MetricF1Score = "f1_score"
)
