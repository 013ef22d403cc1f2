// Package orchestrator drives model-search runs through the stage pipeline.
//
// Each accepted run gets its own goroutine. The goroutine waits for a
// concurrency slot, then invokes the stages in order, moving the run's
// record through the status lifecycle and broadcasting every change. Run
// failures never reach the StartRun caller; they surface only as a failed
// or cancelled record.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/semaphore"

	"github.com/neurogenx/neurogenx/internal/model"
	"github.com/neurogenx/neurogenx/internal/pipeline"
	"github.com/neurogenx/neurogenx/internal/registry"
	"github.com/neurogenx/neurogenx/internal/search"
	"github.com/neurogenx/neurogenx/internal/stages"
	"github.com/neurogenx/neurogenx/internal/telemetry"
)

var (
	// ErrInvalidRequest wraps run request validation failures.
	ErrInvalidRequest = errors.New("invalid run request")
	// ErrRunTerminal is returned when cancelling a run that already finished.
	ErrRunTerminal = errors.New("run already finished")
	// ErrShuttingDown is returned by StartRun once Shutdown has begun, and
	// is the cancellation cause of runs interrupted by it.
	ErrShuttingDown = errors.New("orchestrator shutting down")
	// ErrCancelled is the cancellation cause of runs stopped by CancelRun.
	ErrCancelled = errors.New("run cancelled by request")
	// ErrRunsAbandoned is joined into Shutdown's error when cancelled runs
	// fail to stop within the grace period.
	ErrRunsAbandoned = errors.New("runs abandoned at shutdown")
)

// StageStatus maps stage names to the run status reported while the stage
// executes.
var StageStatus = map[string]model.RunStatus{
	"ingest":     model.RunStatusIngesting,
	"preprocess": model.RunStatusPreprocessing,
	"search":     model.RunStatusEvolving,
	"evaluate":   model.RunStatusEvaluating,
	"deploy":     model.RunStatusDeploying,
}

// Publisher fans run snapshots and trial events out to observers.
type Publisher interface {
	PublishStatus(rec model.RunRecord)
	ReportTrial(ev model.TrialEvent)
}

// Config wires an Orchestrator.
type Config struct {
	Pipeline      *pipeline.Pipeline
	Registry      *registry.Registry
	Publisher     Publisher
	MaxConcurrent int64         // Runs executing at once; others stay pending.
	MaxBudget     int           // 0 means unbounded.
	CancelGrace   time.Duration // How long Shutdown waits for cancelled runs; default 5s.
	Metrics       *telemetry.RunMetrics
	Logger        *slog.Logger
	Now           func() time.Time
}

// Orchestrator is safe for concurrent use.
type Orchestrator struct {
	pipe      *pipeline.Pipeline
	reg       *registry.Registry
	pub       Publisher
	sem       *semaphore.Weighted
	maxBudget int
	grace     time.Duration
	metrics   *telemetry.RunMetrics
	tracer    trace.Tracer
	logger    *slog.Logger
	now       func() time.Time

	base     context.Context
	stopAll  context.CancelCauseFunc
	mu       sync.Mutex
	cancels  map[uuid.UUID]context.CancelCauseFunc
	draining bool
	wg       sync.WaitGroup
}

// New checks that every stage maps to a status and that the statuses
// follow the run lifecycle in order.
func New(cfg Config) (*Orchestrator, error) {
	if cfg.Pipeline == nil {
		return nil, errors.New("orchestrator: pipeline is required")
	}
	if cfg.Registry == nil {
		return nil, errors.New("orchestrator: registry is required")
	}
	if err := checkLifecycle(cfg.Pipeline); err != nil {
		return nil, err
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 1
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.CancelGrace <= 0 {
		cfg.CancelGrace = 5 * time.Second
	}
	if cfg.Now == nil {
		cfg.Now = func() time.Time { return time.Now().UTC() }
	}
	if cfg.Metrics == nil {
		m, err := telemetry.NewRunMetrics(telemetry.Meter(telemetry.Scope))
		if err != nil {
			return nil, fmt.Errorf("orchestrator: %w", err)
		}
		cfg.Metrics = m
	}
	base, stop := context.WithCancelCause(context.Background())
	return &Orchestrator{
		pipe:      cfg.Pipeline,
		reg:       cfg.Registry,
		pub:       cfg.Publisher,
		sem:       semaphore.NewWeighted(cfg.MaxConcurrent),
		maxBudget: cfg.MaxBudget,
		grace:     cfg.CancelGrace,
		metrics:   cfg.Metrics,
		tracer:    telemetry.Tracer(telemetry.Scope),
		logger:    cfg.Logger,
		now:       cfg.Now,
		base:      base,
		stopAll:   stop,
		cancels:   make(map[uuid.UUID]context.CancelCauseFunc),
	}, nil
}

func checkLifecycle(p *pipeline.Pipeline) error {
	status := model.RunStatusPending
	for _, s := range p.Stages() {
		next, ok := StageStatus[s.Name()]
		if !ok {
			return fmt.Errorf("orchestrator: stage %q has no run status", s.Name())
		}
		if err := model.ValidateRunTransition(status, next); err != nil {
			return fmt.Errorf("orchestrator: stage %q: %w", s.Name(), err)
		}
		status = next
	}
	if err := model.ValidateRunTransition(status, model.RunStatusCompleted); err != nil {
		return fmt.Errorf("orchestrator: pipeline cannot complete: %w", err)
	}
	return nil
}

// StartRun validates req, records a pending run, and starts it in the
// background. The returned id is valid for GetStatus immediately.
func (o *Orchestrator) StartRun(ctx context.Context, req model.RunRequest) (uuid.UUID, error) {
	if err := req.Validate(o.maxBudget); err != nil {
		return uuid.Nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}

	id := uuid.New()
	rec := model.NewRunRecord(id, req, o.now())
	runCtx, cancel := context.WithCancelCause(o.base)

	o.mu.Lock()
	if o.draining {
		o.mu.Unlock()
		cancel(ErrShuttingDown)
		return uuid.Nil, ErrShuttingDown
	}
	o.cancels[id] = cancel
	o.wg.Add(1)
	o.mu.Unlock()

	if err := o.reg.Create(ctx, rec); err != nil {
		if errors.Is(err, registry.ErrRunExists) {
			o.release(id)
			o.wg.Done()
			return uuid.Nil, fmt.Errorf("orchestrator: %w", err)
		}
		// The record is in memory; persistence is retried on the next update.
		o.logger.Warn("orchestrator: create run record", "run_id", id, "error", err)
	}
	o.publish(rec)
	o.metrics.RunsStarted.Add(ctx, 1)
	o.metrics.ActiveRuns.Add(ctx, 1)
	o.logger.Info("run accepted",
		"run_id", id, "dataset_id", req.DatasetID, "target", req.Target, "budget", req.TrialBudget)

	links := []trace.Link{trace.LinkFromContext(ctx)}
	go o.execute(runCtx, rec, links)
	return id, nil
}

// GetStatus returns a snapshot of the run or model.ErrRunNotFound.
func (o *Orchestrator) GetStatus(ctx context.Context, id uuid.UUID) (model.RunRecord, error) {
	return o.reg.Get(ctx, id)
}

// List returns up to limit run snapshots, newest first, optionally
// filtered by status. Runs evicted from memory are included when a
// persistent store is configured.
func (o *Orchestrator) List(ctx context.Context, status model.RunStatus, limit int) ([]model.RunRecord, error) {
	return o.reg.Query(ctx, status, limit)
}

// Active returns the number of runs not yet terminal.
func (o *Orchestrator) Active() int {
	return o.reg.Active()
}

// CancelRun asks a run to stop. The run reaches the cancelled status at
// its next cancellation point; CancelRun does not wait for it.
func (o *Orchestrator) CancelRun(ctx context.Context, id uuid.UUID) error {
	rec, err := o.reg.Get(ctx, id)
	if err != nil {
		return err
	}
	o.mu.Lock()
	cancel, ok := o.cancels[id]
	o.mu.Unlock()
	if ok && !rec.Status.Terminal() {
		cancel(ErrCancelled)
		return nil
	}
	if rec.Status.Terminal() {
		return fmt.Errorf("%w: %s is %s", ErrRunTerminal, id, rec.Status)
	}
	// Known to a store but not owned by this process, e.g. a stale record
	// from before a restart.
	return fmt.Errorf("%w: %s is not running in this process", ErrRunTerminal, id)
}

// Wait blocks until every started run is terminal or ctx is done.
func (o *Orchestrator) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Shutdown stops accepting runs and waits for in-flight runs until ctx is
// done. Runs still going at that point are cancelled, and Shutdown waits
// up to the cancel grace period for them to record the cancellation. Runs
// stuck outside a cancellation point past that are abandoned.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	o.mu.Lock()
	o.draining = true
	o.mu.Unlock()

	err := o.Wait(ctx)
	if err == nil {
		o.stopAll(ErrShuttingDown)
		return nil
	}
	o.logger.Warn("orchestrator: drain timed out, cancelling runs", "active", o.Active())
	o.stopAll(ErrShuttingDown)

	graceCtx, cancel := context.WithTimeout(context.Background(), o.grace)
	defer cancel()
	if o.Wait(graceCtx) != nil {
		leaked := o.running()
		o.logger.Error("orchestrator: runs did not stop after cancellation", "count", len(leaked), "run_ids", leaked)
		return errors.Join(err, fmt.Errorf("%w: %d runs still executing", ErrRunsAbandoned, len(leaked)))
	}
	return err
}

// running returns the ids of runs whose goroutine has not returned.
func (o *Orchestrator) running() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	ids := make([]string, 0, len(o.cancels))
	for id := range o.cancels {
		ids = append(ids, id.String())
	}
	slices.Sort(ids)
	return ids
}

func (o *Orchestrator) release(id uuid.UUID) {
	o.mu.Lock()
	cancel, ok := o.cancels[id]
	delete(o.cancels, id)
	o.mu.Unlock()
	if ok {
		cancel(nil)
	}
}

// execute owns rec for the lifetime of the run.
func (o *Orchestrator) execute(ctx context.Context, rec model.RunRecord, links []trace.Link) {
	defer o.wg.Done()
	defer o.release(rec.RunID)

	ctx, span := o.tracer.Start(ctx, "neurogenx.run",
		trace.WithNewRoot(),
		trace.WithLinks(links...),
		trace.WithAttributes(
			attribute.String("run_id", rec.RunID.String()),
			attribute.String("dataset_id", rec.DatasetID),
			attribute.Int("budget", rec.TrialBudget),
		))
	defer span.End()
	logger := o.logger.With("run_id", rec.RunID)

	if err := o.sem.Acquire(ctx, 1); err != nil {
		o.fail(ctx, &rec, err, logger)
		return
	}
	defer o.sem.Release(1)

	pc := pipeline.NewContext()
	pc.Set(stages.KeyRunID, rec.RunID)
	pc.Set(stages.KeyDatasetID, rec.DatasetID)
	pc.Set(stages.KeyTarget, rec.Target)
	pc.Set(stages.KeyBudget, rec.TrialBudget)
	pc.Set(stages.KeyReporter, search.Reporter(o.trialReporter(ctx, &rec)))

	for _, st := range o.pipe.Stages() {
		if ctx.Err() != nil {
			o.fail(ctx, &rec, ctx.Err(), logger)
			return
		}
		status := StageStatus[st.Name()]
		if err := o.transition(ctx, &rec, status, fmt.Sprintf("%s: started", st.Name())); err != nil {
			o.fail(ctx, &rec, err, logger)
			return
		}
		logger.Info("stage started", "stage", st.Name(), "status", status)

		out, err := o.invoke(ctx, st, pc)
		if err != nil {
			o.fail(ctx, &rec, err, logger)
			return
		}
		pc = out
	}

	collectResults(pc, &rec)
	line := "run completed"
	if rec.BestScore != nil {
		line = fmt.Sprintf("run completed: best_score=%.4f", *rec.BestScore)
	}
	if err := o.transition(ctx, &rec, model.RunStatusCompleted, line); err != nil {
		o.fail(ctx, &rec, err, logger)
		return
	}
	o.finished(ctx, rec)
	logger.Info("run completed", "best_score", rec.BestScore, "metrics", rec.Metrics)
}

// invoke runs one stage under its own span. A panicking stage fails the
// run instead of the process.
func (o *Orchestrator) invoke(ctx context.Context, st pipeline.Stage, pc *pipeline.Context) (out *pipeline.Context, err error) {
	ctx, span := o.tracer.Start(ctx, "neurogenx.stage."+st.Name())
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			out, err = nil, &pipeline.StageError{Stage: st.Name(), Cause: fmt.Errorf("panic: %v", r)}
		}
		o.metrics.StageDuration.Record(ctx, time.Since(start).Seconds(),
			metric.WithAttributes(attribute.String("stage", st.Name()), attribute.Bool("ok", err == nil)))
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()
	return pipeline.Invoke(ctx, st, pc)
}

// trialReporter broadcasts each trial and folds it into rec. The search
// stage calls it on the run goroutine, so rec needs no locking.
func (o *Orchestrator) trialReporter(ctx context.Context, rec *model.RunRecord) search.ReporterFunc {
	return func(ev model.TrialEvent) {
		if o.pub != nil {
			o.pub.ReportTrial(ev)
		}
		o.metrics.Trials.Add(ctx, 1, metric.WithAttributes(attribute.String("status", string(ev.Status))))
		if ev.Status == model.TrialCompleted {
			o.metrics.TrialScore.Record(ctx, ev.Score)
		}

		rec.TrialsEvaluated++
		if ev.Status == model.TrialCompleted && (rec.BestScore == nil || ev.Score > *rec.BestScore) {
			s := ev.Score
			rec.BestScore = &s
		}
		rec.UpdatedAt = o.now()
		if err := o.reg.Update(ctx, *rec); err != nil {
			o.logger.Warn("orchestrator: update run record", "run_id", rec.RunID, "error", err)
		}
	}
}

func (o *Orchestrator) transition(ctx context.Context, rec *model.RunRecord, status model.RunStatus, line string) error {
	if err := rec.Transition(status, o.now(), line); err != nil {
		return err
	}
	// Observers hear about a status no later than pollers do.
	o.publish(*rec)
	if err := o.reg.Update(context.WithoutCancel(ctx), *rec); err != nil {
		o.logger.Warn("orchestrator: update run record", "run_id", rec.RunID, "status", status, "error", err)
	}
	return nil
}

// fail moves rec to cancelled when its context was cancelled and to failed
// otherwise.
func (o *Orchestrator) fail(ctx context.Context, rec *model.RunRecord, err error, logger *slog.Logger) {
	status := model.RunStatusFailed
	msg := err.Error()
	if ctx.Err() != nil && errors.Is(err, context.Canceled) {
		status = model.RunStatusCancelled
		if cause := context.Cause(ctx); cause != nil {
			msg = cause.Error()
		}
	}
	rec.Error = &msg
	span := trace.SpanFromContext(ctx)
	span.RecordError(err)
	span.SetStatus(codes.Error, msg)

	if terr := o.transition(ctx, rec, status, fmt.Sprintf("run %s: %s", status, msg)); terr != nil {
		logger.Error("orchestrator: record run failure", "error", terr, "cause", err)
	}
	o.finished(ctx, *rec)
	if status == model.RunStatusCancelled {
		logger.Info("run cancelled", "reason", msg)
		return
	}
	logger.Warn("run failed", "error", err)
}

func (o *Orchestrator) finished(ctx context.Context, rec model.RunRecord) {
	ctx = context.WithoutCancel(ctx)
	o.metrics.ActiveRuns.Add(ctx, -1)
	o.metrics.RunsFinished.Add(ctx, 1, metric.WithAttributes(attribute.String("status", string(rec.Status))))
}

func (o *Orchestrator) publish(rec model.RunRecord) {
	if o.pub != nil {
		o.pub.PublishStatus(rec.Clone())
	}
}

// collectResults copies whatever run outputs the stages produced onto rec.
func collectResults(pc *pipeline.Context, rec *model.RunRecord) {
	if m, err := pipeline.Value[map[string]float64](pc, stages.KeyMetrics); err == nil {
		rec.Metrics = m
	}
	if s, err := pipeline.Value[float64](pc, stages.KeyBestScore); err == nil {
		rec.BestScore = &s
	}
	if c, err := pipeline.Value[model.ChampionManifest](pc, stages.KeyChampionManifest); err == nil {
		rec.Champion = &c
	}
}
