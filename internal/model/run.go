// Package model defines the core domain types for NeuroGenX.
//
// Types here are shared by the orchestrator, the HTTP and MCP surfaces, and
// the persistence layer. They carry JSON tags matching the wire format that
// telemetry observers and pollers see.
package model

import (
	"fmt"
	"maps"
	"slices"
	"time"

	"github.com/google/uuid"
)

// RunStatus represents the lifecycle state of a model-search run.
type RunStatus string

const (
	RunStatusPending       RunStatus = "pending"
	RunStatusIngesting     RunStatus = "ingesting"
	RunStatusPreprocessing RunStatus = "preprocessing"
	RunStatusEvolving      RunStatus = "evolving"
	RunStatusEvaluating    RunStatus = "evaluating"
	RunStatusDeploying     RunStatus = "deploying"
	RunStatusCompleted     RunStatus = "completed"
	RunStatusFailed        RunStatus = "failed"
	RunStatusCancelled     RunStatus = "cancelled"
)

// Progress checkpoints reported on RunRecord.Progress. They are fixed per
// status and never derived from stage-internal work.
var runProgress = map[RunStatus]int{
	RunStatusPending:       0,
	RunStatusIngesting:     10,
	RunStatusPreprocessing: 25,
	RunStatusEvolving:      50,
	RunStatusEvaluating:    80,
	RunStatusDeploying:     95,
	RunStatusCompleted:     100,
}

var allowedRunTransitions = map[RunStatus]map[RunStatus]struct{}{
	RunStatusPending: {
		RunStatusIngesting: {},
		RunStatusFailed:    {},
		RunStatusCancelled: {},
	},
	RunStatusIngesting: {
		RunStatusPreprocessing: {},
		RunStatusFailed:        {},
		RunStatusCancelled:     {},
	},
	RunStatusPreprocessing: {
		RunStatusEvolving:  {},
		RunStatusFailed:    {},
		RunStatusCancelled: {},
	},
	RunStatusEvolving: {
		RunStatusEvaluating: {},
		RunStatusFailed:     {},
		RunStatusCancelled:  {},
	},
	RunStatusEvaluating: {
		RunStatusDeploying: {},
		RunStatusFailed:    {},
		RunStatusCancelled: {},
	},
	RunStatusDeploying: {
		RunStatusCompleted: {},
		RunStatusFailed:    {},
		RunStatusCancelled: {},
	},
	RunStatusCompleted: {},
	RunStatusFailed:    {},
	RunStatusCancelled: {},
}

// Valid reports whether s is a known status.
func (s RunStatus) Valid() bool {
	_, ok := allowedRunTransitions[s]
	return ok
}

// Terminal reports whether no further transition is possible out of s.
func (s RunStatus) Terminal() bool {
	return s == RunStatusCompleted || s == RunStatusFailed || s == RunStatusCancelled
}

// Progress returns the fixed progress checkpoint for s. Failed and cancelled
// runs keep whatever progress they had reached, so ok is false for them.
func (s RunStatus) Progress() (progress int, ok bool) {
	progress, ok = runProgress[s]
	return progress, ok
}

// ValidateRunTransition returns an error unless from -> to is an allowed edge.
func ValidateRunTransition(from, to RunStatus) error {
	if !from.Valid() {
		return fmt.Errorf("invalid run status: %q", from)
	}
	if !to.Valid() {
		return fmt.Errorf("invalid run status: %q", to)
	}
	if _, ok := allowedRunTransitions[from][to]; !ok {
		return fmt.Errorf("invalid run transition: %s -> %s", from, to)
	}
	return nil
}

// RunRecord is the externally visible state of one run. The orchestrator
// owning the run is the only writer; everybody else sees Clone()d snapshots.
type RunRecord struct {
	RunID           uuid.UUID          `json:"run_id"`
	Status          RunStatus          `json:"status"`
	Progress        int                `json:"progress"`
	Log             []string           `json:"log"`
	Error           *string            `json:"error,omitempty"`
	DatasetID       string             `json:"dataset_id"`
	Target          string             `json:"target"`
	TrialBudget     int                `json:"trial_budget"`
	// TrialsEvaluated counts reported trials, failed ones included.
	TrialsEvaluated int                `json:"trials_evaluated"`
	BestScore       *float64           `json:"best_score,omitempty"`
	Metrics         map[string]float64 `json:"metrics,omitempty"`
	Champion        *ChampionManifest  `json:"champion_model,omitempty"`
	CreatedAt       time.Time          `json:"created_at"`
	UpdatedAt       time.Time          `json:"updated_at"`
	CompletedAt     *time.Time         `json:"completed_at,omitempty"`
}

// NewRunRecord returns a pending record for req.
func NewRunRecord(id uuid.UUID, req RunRequest, now time.Time) RunRecord {
	return RunRecord{
		RunID:       id,
		Status:      RunStatusPending,
		Progress:    0,
		Log:         []string{},
		DatasetID:   req.DatasetID,
		Target:      req.Target,
		TrialBudget: req.TrialBudget,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// Transition moves the record to status, applying the status's progress
// checkpoint and appending a log line. The record is left untouched when
// the edge is not allowed.
func (r *RunRecord) Transition(status RunStatus, now time.Time, logLine string) error {
	if err := ValidateRunTransition(r.Status, status); err != nil {
		return err
	}
	r.Status = status
	if p, ok := status.Progress(); ok {
		r.Progress = p
	}
	if logLine != "" {
		r.Log = append(r.Log, logLine)
	}
	r.UpdatedAt = now
	if status.Terminal() {
		t := now
		r.CompletedAt = &t
	}
	return nil
}

// Clone returns a deep copy so that callers can read a snapshot while the
// owning flow keeps mutating the original.
func (r RunRecord) Clone() RunRecord {
	out := r
	out.Log = slices.Clone(r.Log)
	if out.Log == nil {
		out.Log = []string{}
	}
	if r.Error != nil {
		e := *r.Error
		out.Error = &e
	}
	if r.BestScore != nil {
		s := *r.BestScore
		out.BestScore = &s
	}
	if r.Metrics != nil {
		out.Metrics = maps.Clone(r.Metrics)
	}
	if r.Champion != nil {
		c := r.Champion.Clone()
		out.Champion = &c
	}
	if r.CompletedAt != nil {
		t := *r.CompletedAt
		out.CompletedAt = &t
	}
	return out
}

// RunRequest is the input to StartRun.
type RunRequest struct {
	DatasetID   string `json:"dataset_id"`
	Target      string `json:"target"`
	TrialBudget int    `json:"run_budget"`
}

// Validate checks a run request against the configured budget ceiling.
// A zero budget is allowed through so that the search stage can report it
// as a run failure; negative budgets are rejected outright.
func (r RunRequest) Validate(maxBudget int) error {
	if r.DatasetID == "" {
		return fmt.Errorf("dataset_id is required")
	}
	if r.Target == "" {
		return fmt.Errorf("target is required")
	}
	if r.TrialBudget < 0 {
		return fmt.Errorf("run_budget must not be negative")
	}
	if maxBudget > 0 && r.TrialBudget > maxBudget {
		return fmt.Errorf("run_budget exceeds maximum of %d", maxBudget)
	}
	return nil
}
