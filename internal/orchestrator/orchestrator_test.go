package orchestrator

import (
	"context"
	"errors"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/neurogenx/neurogenx/internal/champion"
	"github.com/neurogenx/neurogenx/internal/learn"
	"github.com/neurogenx/neurogenx/internal/model"
	"github.com/neurogenx/neurogenx/internal/pipeline"
	"github.com/neurogenx/neurogenx/internal/registry"
	"github.com/neurogenx/neurogenx/internal/search"
	"github.com/neurogenx/neurogenx/internal/stages"
	"github.com/neurogenx/neurogenx/internal/testutil"
)

type recorder struct {
	mu       sync.Mutex
	statuses []model.RunRecord
	trials   []model.TrialEvent
}

func (r *recorder) PublishStatus(rec model.RunRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.statuses = append(r.statuses, rec)
}

func (r *recorder) ReportTrial(ev model.TrialEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.trials = append(r.trials, ev)
}

func (r *recorder) statusesFor(id uuid.UUID) []model.RunStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []model.RunStatus
	for _, rec := range r.statuses {
		if rec.RunID == id {
			out = append(out, rec.Status)
		}
	}
	return out
}

func (r *recorder) trialsFor(id uuid.UUID) []model.TrialEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []model.TrialEvent
	for _, ev := range r.trials {
		if ev.RunID == id {
			out = append(out, ev)
		}
	}
	return out
}

type fakeStage struct {
	name string
	run  func(ctx context.Context, pc *pipeline.Context) error
}

func (f *fakeStage) Name() string             { return f.name }
func (f *fakeStage) Requires() []pipeline.Key { return nil }
func (f *fakeStage) Produces() []pipeline.Key { return nil }
func (f *fakeStage) Execute(ctx context.Context, pc *pipeline.Context) (*pipeline.Context, error) {
	if f.run != nil {
		if err := f.run(ctx, pc); err != nil {
			return nil, err
		}
	}
	return pc, nil
}

// fakePipeline builds the five named stages as no-ops, replacing those
// named in overrides.
func fakePipeline(t *testing.T, overrides map[string]func(context.Context, *pipeline.Context) error) *pipeline.Pipeline {
	t.Helper()
	var ss []pipeline.Stage
	for _, name := range []string{"ingest", "preprocess", "search", "evaluate", "deploy"} {
		ss = append(ss, &fakeStage{name: name, run: overrides[name]})
	}
	p, err := pipeline.New(stages.SeedKeys, ss...)
	require.NoError(t, err)
	return p
}

func newOrchestrator(t *testing.T, p *pipeline.Pipeline, maxConcurrent int64) (*Orchestrator, *recorder) {
	t.Helper()
	rec := &recorder{}
	o, err := New(Config{
		Pipeline:      p,
		Registry:      registry.New(10, nil, testutil.TestLogger()),
		Publisher:     rec,
		MaxConcurrent: maxConcurrent,
		MaxBudget:     50,
		Logger:        testutil.TestLogger(),
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = o.Shutdown(ctx)
	})
	return o, rec
}

func waitTerminal(t *testing.T, o *Orchestrator, id uuid.UUID) model.RunRecord {
	t.Helper()
	var rec model.RunRecord
	require.Eventually(t, func() bool {
		var err error
		rec, err = o.GetStatus(context.Background(), id)
		return err == nil && rec.Status.Terminal()
	}, 30*time.Second, 5*time.Millisecond)
	return rec
}

func waitStatus(t *testing.T, o *Orchestrator, id uuid.UUID, want model.RunStatus) {
	t.Helper()
	require.Eventually(t, func() bool {
		rec, err := o.GetStatus(context.Background(), id)
		return err == nil && rec.Status == want
	}, 10*time.Second, 2*time.Millisecond)
}

func realPipeline(t *testing.T, dataDir, modelsDir string) *pipeline.Pipeline {
	t.Helper()
	space := search.DefaultSpace()
	space.Kinds[1].Params[learn.ParamNEstimators] = search.Param{Type: search.ParamInt, Min: 5, Max: 10}
	champions, err := champion.NewFileRegistry(modelsDir)
	require.NoError(t, err)
	p, err := stages.NewPipeline(stages.Config{
		DataDir:   dataDir,
		ModelsDir: modelsDir,
		Space:     space,
		Seed:      7,
		Champions: champions,
		Logger:    testutil.TestLogger(),
	})
	require.NoError(t, err)
	return p
}

func TestRunCompletesEndToEnd(t *testing.T) {
	dataDir, modelsDir := t.TempDir(), t.TempDir()
	testutil.WriteBinaryCSV(t, dataDir, "churn", 100, 3)
	o, pub := newOrchestrator(t, realPipeline(t, dataDir, modelsDir), 2)

	id, err := o.StartRun(context.Background(), model.RunRequest{DatasetID: "churn", Target: "label", TrialBudget: 3})
	require.NoError(t, err)
	rec := waitTerminal(t, o, id)

	require.Equal(t, model.RunStatusCompleted, rec.Status, "error: %v", rec.Error)
	assert.Equal(t, 100, rec.Progress)
	assert.Nil(t, rec.Error)
	assert.Equal(t, 3, rec.TrialsEvaluated)
	require.NotNil(t, rec.BestScore)
	require.NotNil(t, rec.Champion)
	assert.Equal(t, id, rec.Champion.RunID)
	assert.NotNil(t, rec.CompletedAt)
	for _, k := range []string{model.MetricROCAUC, model.MetricPRAUC, model.MetricF1Score} {
		require.Contains(t, rec.Metrics, k)
		assert.GreaterOrEqual(t, rec.Metrics[k], 0.0, k)
		assert.LessOrEqual(t, rec.Metrics[k], 1.0, k)
	}

	trials := pub.trialsFor(id)
	require.Len(t, trials, 3)
	for i, ev := range trials {
		assert.Equal(t, i, ev.TrialIndex)
		assert.LessOrEqual(t, ev.Score, *rec.BestScore)
	}

	assert.Equal(t, []model.RunStatus{
		model.RunStatusPending,
		model.RunStatusIngesting,
		model.RunStatusPreprocessing,
		model.RunStatusEvolving,
		model.RunStatusEvaluating,
		model.RunStatusDeploying,
		model.RunStatusCompleted,
	}, pub.statusesFor(id))
}

func TestRunMissingDatasetFails(t *testing.T) {
	dataDir := t.TempDir()
	o, pub := newOrchestrator(t, realPipeline(t, dataDir, t.TempDir()), 1)

	id, err := o.StartRun(context.Background(), model.RunRequest{DatasetID: "nope", Target: "label", TrialBudget: 3})
	require.NoError(t, err)
	rec := waitTerminal(t, o, id)

	assert.Equal(t, model.RunStatusFailed, rec.Status)
	require.NotNil(t, rec.Error)
	assert.Contains(t, *rec.Error, "nope.csv")
	assert.Contains(t, *rec.Error, "not found")
	assert.Equal(t, 10, rec.Progress)
	assert.Empty(t, pub.trialsFor(id))
	assert.Equal(t, model.RunStatusFailed, pub.statusesFor(id)[len(pub.statusesFor(id))-1])
}

func TestRunZeroBudgetFails(t *testing.T) {
	dataDir := t.TempDir()
	testutil.WriteBinaryCSV(t, dataDir, "churn", 60, 1)
	o, pub := newOrchestrator(t, realPipeline(t, dataDir, t.TempDir()), 1)

	id, err := o.StartRun(context.Background(), model.RunRequest{DatasetID: "churn", Target: "label", TrialBudget: 0})
	require.NoError(t, err)
	rec := waitTerminal(t, o, id)

	assert.Equal(t, model.RunStatusFailed, rec.Status)
	require.NotNil(t, rec.Error)
	assert.Contains(t, *rec.Error, "no champion")
	assert.Empty(t, pub.trialsFor(id))
}

func TestGetStatusUnknownRun(t *testing.T) {
	o, _ := newOrchestrator(t, fakePipeline(t, nil), 1)
	_, err := o.GetStatus(context.Background(), uuid.New())
	assert.ErrorIs(t, err, model.ErrRunNotFound)
	assert.ErrorIs(t, o.CancelRun(context.Background(), uuid.New()), model.ErrRunNotFound)
}

func TestStartRunRejectsInvalidRequests(t *testing.T) {
	o, _ := newOrchestrator(t, fakePipeline(t, nil), 1)
	cases := map[string]model.RunRequest{
		"no dataset": {Target: "label", TrialBudget: 1},
		"no target":  {DatasetID: "churn", TrialBudget: 1},
		"negative":   {DatasetID: "churn", Target: "label", TrialBudget: -1},
		"above max":  {DatasetID: "churn", Target: "label", TrialBudget: 51},
	}
	for name, req := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := o.StartRun(context.Background(), req)
			assert.ErrorIs(t, err, ErrInvalidRequest)
		})
	}
	listed, err := o.List(context.Background(), "", 100)
	require.NoError(t, err)
	assert.Empty(t, listed)
}

func TestStageErrorFailsRun(t *testing.T) {
	boom := errors.New("evaluation exploded")
	o, pub := newOrchestrator(t, fakePipeline(t, map[string]func(context.Context, *pipeline.Context) error{
		"evaluate": func(context.Context, *pipeline.Context) error { return boom },
	}), 1)

	id, err := o.StartRun(context.Background(), model.RunRequest{DatasetID: "d", Target: "y", TrialBudget: 1})
	require.NoError(t, err)
	rec := waitTerminal(t, o, id)

	assert.Equal(t, model.RunStatusFailed, rec.Status)
	require.NotNil(t, rec.Error)
	assert.Equal(t, "stage evaluate: evaluation exploded", *rec.Error)
	assert.Equal(t, 80, rec.Progress)
	assert.NotContains(t, pub.statusesFor(id), model.RunStatusDeploying)
}

func TestStagePanicFailsRun(t *testing.T) {
	o, _ := newOrchestrator(t, fakePipeline(t, map[string]func(context.Context, *pipeline.Context) error{
		"preprocess": func(context.Context, *pipeline.Context) error { panic("index out of range") },
	}), 1)

	id, err := o.StartRun(context.Background(), model.RunRequest{DatasetID: "d", Target: "y", TrialBudget: 1})
	require.NoError(t, err)
	rec := waitTerminal(t, o, id)

	assert.Equal(t, model.RunStatusFailed, rec.Status)
	require.NotNil(t, rec.Error)
	assert.Contains(t, *rec.Error, "panic: index out of range")
}

func TestTrialReporterUpdatesRecord(t *testing.T) {
	scores := []float64{0.6, 0.9, 0.7}
	o, pub := newOrchestrator(t, fakePipeline(t, map[string]func(context.Context, *pipeline.Context) error{
		"search": func(_ context.Context, pc *pipeline.Context) error {
			r, err := pipeline.Value[search.Reporter](pc, stages.KeyReporter)
			if err != nil {
				return err
			}
			id, _ := pipeline.Value[uuid.UUID](pc, stages.KeyRunID)
			for i, s := range scores {
				r.ReportTrial(model.TrialEvent{RunID: id, TrialIndex: i, Score: s, Status: model.TrialCompleted})
			}
			r.ReportTrial(model.TrialEvent{RunID: id, TrialIndex: 3, Status: model.TrialFailed, Error: "bad"})
			return nil
		},
	}), 1)

	id, err := o.StartRun(context.Background(), model.RunRequest{DatasetID: "d", Target: "y", TrialBudget: 4})
	require.NoError(t, err)
	rec := waitTerminal(t, o, id)

	assert.Equal(t, model.RunStatusCompleted, rec.Status)
	assert.Equal(t, 4, rec.TrialsEvaluated, "failed trials are counted as evaluated")
	require.NotNil(t, rec.BestScore)
	assert.InDelta(t, 0.9, *rec.BestScore, 1e-12)
	assert.Len(t, pub.trialsFor(id), 4)
}

func TestCancelRun(t *testing.T) {
	started := make(chan struct{})
	o, _ := newOrchestrator(t, fakePipeline(t, map[string]func(context.Context, *pipeline.Context) error{
		"search": func(ctx context.Context, _ *pipeline.Context) error {
			close(started)
			<-ctx.Done()
			return ctx.Err()
		},
	}), 1)

	id, err := o.StartRun(context.Background(), model.RunRequest{DatasetID: "d", Target: "y", TrialBudget: 1})
	require.NoError(t, err)
	<-started
	require.NoError(t, o.CancelRun(context.Background(), id))
	rec := waitTerminal(t, o, id)

	assert.Equal(t, model.RunStatusCancelled, rec.Status)
	require.NotNil(t, rec.Error)
	assert.Equal(t, ErrCancelled.Error(), *rec.Error)
	assert.Equal(t, 50, rec.Progress)

	require.NoError(t, o.Wait(context.Background()))
	assert.ErrorIs(t, o.CancelRun(context.Background(), id), ErrRunTerminal)
}

func TestConcurrencyLimitKeepsRunsPending(t *testing.T) {
	release := make(chan struct{})
	o, _ := newOrchestrator(t, fakePipeline(t, map[string]func(context.Context, *pipeline.Context) error{
		"ingest": func(ctx context.Context, _ *pipeline.Context) error {
			select {
			case <-release:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		},
	}), 1)

	first, err := o.StartRun(context.Background(), model.RunRequest{DatasetID: "a", Target: "y", TrialBudget: 1})
	require.NoError(t, err)
	waitStatus(t, o, first, model.RunStatusIngesting)

	second, err := o.StartRun(context.Background(), model.RunRequest{DatasetID: "b", Target: "y", TrialBudget: 1})
	require.NoError(t, err)
	time.Sleep(20 * time.Millisecond)
	rec, err := o.GetStatus(context.Background(), second)
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusPending, rec.Status)
	assert.Equal(t, 2, o.Active())

	close(release)
	assert.Equal(t, model.RunStatusCompleted, waitTerminal(t, o, first).Status)
	assert.Equal(t, model.RunStatusCompleted, waitTerminal(t, o, second).Status)
}

func TestCancelPendingRun(t *testing.T) {
	block := make(chan struct{})
	o, pub := newOrchestrator(t, fakePipeline(t, map[string]func(context.Context, *pipeline.Context) error{
		"ingest": func(ctx context.Context, _ *pipeline.Context) error {
			select {
			case <-block:
			case <-ctx.Done():
			}
			return ctx.Err()
		},
	}), 1)
	t.Cleanup(func() { close(block) })

	first, err := o.StartRun(context.Background(), model.RunRequest{DatasetID: "a", Target: "y", TrialBudget: 1})
	require.NoError(t, err)
	waitStatus(t, o, first, model.RunStatusIngesting)
	second, err := o.StartRun(context.Background(), model.RunRequest{DatasetID: "b", Target: "y", TrialBudget: 1})
	require.NoError(t, err)

	require.NoError(t, o.CancelRun(context.Background(), second))
	rec := waitTerminal(t, o, second)
	assert.Equal(t, model.RunStatusCancelled, rec.Status)
	assert.Equal(t, 0, rec.Progress)
	assert.Equal(t, []model.RunStatus{model.RunStatusPending, model.RunStatusCancelled}, pub.statusesFor(second))
}

func TestShutdownCancelsStragglers(t *testing.T) {
	started := make(chan struct{})
	o, _ := newOrchestrator(t, fakePipeline(t, map[string]func(context.Context, *pipeline.Context) error{
		"ingest": func(ctx context.Context, _ *pipeline.Context) error {
			close(started)
			<-ctx.Done()
			return ctx.Err()
		},
	}), 1)

	id, err := o.StartRun(context.Background(), model.RunRequest{DatasetID: "a", Target: "y", TrialBudget: 1})
	require.NoError(t, err)
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, o.Shutdown(ctx), context.DeadlineExceeded)

	rec, err := o.GetStatus(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusCancelled, rec.Status)
	require.NotNil(t, rec.Error)
	assert.Equal(t, ErrShuttingDown.Error(), *rec.Error)

	_, err = o.StartRun(context.Background(), model.RunRequest{DatasetID: "a", Target: "y", TrialBudget: 1})
	assert.ErrorIs(t, err, ErrShuttingDown)
}

func TestShutdownAbandonsRunsThatIgnoreCancellation(t *testing.T) {
	started := make(chan struct{})
	unblock := make(chan struct{})
	o, err := New(Config{
		Pipeline: fakePipeline(t, map[string]func(context.Context, *pipeline.Context) error{
			"evaluate": func(context.Context, *pipeline.Context) error {
				close(started)
				<-unblock
				return nil
			},
		}),
		Registry:    registry.New(10, nil, testutil.TestLogger()),
		CancelGrace: 50 * time.Millisecond,
		Logger:      testutil.TestLogger(),
	})
	require.NoError(t, err)
	t.Cleanup(func() { close(unblock) })

	id, err := o.StartRun(context.Background(), model.RunRequest{DatasetID: "a", Target: "y", TrialBudget: 1})
	require.NoError(t, err)
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	begin := time.Now()
	err = o.Shutdown(ctx)
	assert.Less(t, time.Since(begin), 2*time.Second)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.ErrorIs(t, err, ErrRunsAbandoned)
	assert.Equal(t, []string{id.String()}, o.running())
}

func TestCancelRunRejectsFinishedRunStillReleasing(t *testing.T) {
	o, _ := newOrchestrator(t, fakePipeline(t, nil), 1)
	rec := model.NewRunRecord(uuid.New(), model.RunRequest{DatasetID: "d", Target: "y", TrialBudget: 1}, time.Now())
	require.NoError(t, rec.Transition(model.RunStatusFailed, time.Now(), "failed"))
	require.NoError(t, o.reg.Create(context.Background(), rec))

	called := false
	o.mu.Lock()
	o.cancels[rec.RunID] = func(error) { called = true }
	o.mu.Unlock()

	assert.ErrorIs(t, o.CancelRun(context.Background(), rec.RunID), ErrRunTerminal)
	assert.False(t, called)
}

func TestNewRejectsBrokenLifecycle(t *testing.T) {
	reg := registry.New(10, nil, testutil.TestLogger())

	unknown, err := pipeline.New(stages.SeedKeys, &fakeStage{name: "train"})
	require.NoError(t, err)
	_, err = New(Config{Pipeline: unknown, Registry: reg})
	assert.ErrorContains(t, err, `stage "train" has no run status`)

	var ss []pipeline.Stage
	for _, name := range []string{"ingest", "search", "preprocess", "evaluate", "deploy"} {
		ss = append(ss, &fakeStage{name: name})
	}
	outOfOrder, err := pipeline.New(stages.SeedKeys, ss...)
	require.NoError(t, err)
	_, err = New(Config{Pipeline: outOfOrder, Registry: reg})
	assert.ErrorContains(t, err, "invalid run transition")

	short, err := pipeline.New(stages.SeedKeys, &fakeStage{name: "ingest"})
	require.NoError(t, err)
	_, err = New(Config{Pipeline: short, Registry: reg})
	assert.ErrorContains(t, err, "cannot complete")
}

func TestListNewestFirst(t *testing.T) {
	o, _ := newOrchestrator(t, fakePipeline(t, nil), 2)
	var ids []uuid.UUID
	for range 3 {
		id, err := o.StartRun(context.Background(), model.RunRequest{DatasetID: "d", Target: "y", TrialBudget: 1})
		require.NoError(t, err)
		ids = append(ids, id)
		time.Sleep(time.Millisecond)
	}
	require.NoError(t, o.Wait(context.Background()))

	runs, err := o.List(context.Background(), "", 100)
	require.NoError(t, err)
	var listed []uuid.UUID
	for _, rec := range runs {
		listed = append(listed, rec.RunID)
	}
	slices.Reverse(ids)
	assert.Equal(t, ids, listed)
}
