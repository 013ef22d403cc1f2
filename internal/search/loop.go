package search

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/neurogenx/neurogenx/internal/dataset"
	"github.com/neurogenx/neurogenx/internal/learn"
	"github.com/neurogenx/neurogenx/internal/model"
)

// Scorer evaluates and fits candidates. learn.Backend is the default.
type Scorer interface {
	Score(ctx context.Context, c model.Candidate, d dataset.Labeled) (float64, error)
	Fit(ctx context.Context, c model.Candidate, d dataset.Labeled) (learn.Model, error)
}

// Reporter receives each trial as soon as it is scored.
type Reporter interface {
	ReportTrial(ev model.TrialEvent)
}

// ReporterFunc adapts a function to Reporter.
type ReporterFunc func(model.TrialEvent)

func (f ReporterFunc) ReportTrial(ev model.TrialEvent) { f(ev) }

// NoChampionError means the loop finished without any candidate to refit,
// which happens only with a zero budget.
type NoChampionError struct {
	Budget int
}

func (e *NoChampionError) Error() string {
	return fmt.Sprintf("no champion selected (budget %d)", e.Budget)
}

// TrialEvaluationError records why a single trial could not be scored.
// It is logged and reported, never returned from Run.
type TrialEvaluationError struct {
	Index     int
	Candidate model.Candidate
	Cause     error
}

func (e *TrialEvaluationError) Error() string {
	return fmt.Sprintf("trial %d (%s): %v", e.Index, e.Candidate.Kind, e.Cause)
}

func (e *TrialEvaluationError) Unwrap() error { return e.Cause }

// Result is the outcome of a completed search.
type Result struct {
	Champion  learn.Model
	Candidate model.Candidate
	BestScore float64
	Trials    int
	Failed    int
}

// Loop is a sequential, budgeted search. Trials are scored one at a time;
// trial i+1 is sampled only after trial i has been reported.
type Loop struct {
	RunID    uuid.UUID
	Budget   int
	Sampler  Sampler
	Scorer   Scorer
	Reporter Reporter
	Logger   *slog.Logger
}

// Run executes Budget trials over train and refits the best candidate on
// all of train. A trial whose scoring fails is reported as failed with a
// score of zero and does not stop the loop. The best candidate is replaced
// only by a strictly greater score, so among equal scores the earliest
// trial wins. Cancellation of ctx is checked before every trial and before
// the refit.
func (l *Loop) Run(ctx context.Context, train dataset.Labeled) (*Result, error) {
	logger := l.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if l.Budget <= 0 {
		return nil, &NoChampionError{Budget: l.Budget}
	}

	best := math.Inf(-1)
	var champion model.Candidate
	found := false
	failed := 0

	for i := range l.Budget {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("search: stopped before trial %d: %w", i, err)
		}
		c := l.Sampler.Sample()
		start := time.Now()
		score, err := l.Scorer.Score(ctx, c, train)
		if err == nil && (math.IsNaN(score) || math.IsInf(score, 0)) {
			err = fmt.Errorf("non-finite score %v", score)
		}
		if err != nil && ctx.Err() != nil {
			return nil, fmt.Errorf("search: trial %d: %w", i, ctx.Err())
		}

		ev := model.TrialEvent{
			RunID:      l.RunID,
			TrialIndex: i,
			Candidate:  c,
			Score:      score,
			Status:     model.TrialCompleted,
			DurationMs: time.Since(start).Milliseconds(),
		}
		if err != nil {
			terr := &TrialEvaluationError{Index: i, Candidate: c, Cause: err}
			logger.Warn("search: trial failed", "run_id", l.RunID, "trial_index", i, "error", terr)
			failed++
			ev.Score = 0
			ev.Status = model.TrialFailed
			ev.Error = err.Error()
		} else {
			logger.Debug("search: trial scored", "run_id", l.RunID, "trial_index", i, "kind", c.Kind, "score", score)
		}
		if l.Reporter != nil {
			l.Reporter.ReportTrial(ev)
		}

		if ev.Score > best {
			best = ev.Score
			champion = c
			found = true
		}
	}
	if !found {
		return nil, &NoChampionError{Budget: l.Budget}
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("search: stopped before refit: %w", err)
	}

	fitted, err := l.Scorer.Fit(ctx, champion, train)
	if err != nil {
		return nil, fmt.Errorf("search: refit champion %s: %w", champion.Kind, err)
	}
	logger.Info("search: champion selected",
		"run_id", l.RunID, "kind", champion.Kind, "best_score", best, "trials", l.Budget, "failed_trials", failed)
	return &Result{Champion: fitted, Candidate: champion, BestScore: best, Trials: l.Budget, Failed: failed}, nil
}

// IsNoChampion reports whether err is or wraps a NoChampionError.
func IsNoChampion(err error) bool {
	var nc *NoChampionError
	return errors.As(err, &nc)
}
