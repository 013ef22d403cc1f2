package pipeline

import (
	"context"
	"errors"
	"fmt"
)

// Stage is one unit of work in a run.
//
// Execute receives the run's Context by exclusive hand-off and returns it
// with the keys named by Produces added or overwritten. Every key named by
// Requires is guaranteed present when Execute is called through Invoke.
// Side effects must be safe to repeat.
type Stage interface {
	Name() string
	Requires() []Key
	Produces() []Key
	Execute(ctx context.Context, pc *Context) (*Context, error)
}

// MissingInputError reports a required Context key that was not present.
type MissingInputError struct {
	Key Key
}

func (e *MissingInputError) Error() string {
	return fmt.Sprintf("missing required input %q", e.Key)
}

// StageError wraps any failure raised while a stage executed.
type StageError struct {
	Stage string
	Cause error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("stage %s: %v", e.Stage, e.Cause)
}

func (e *StageError) Unwrap() error { return e.Cause }

// Invoke runs s against pc, enforcing the stage contract around the call:
// required keys are checked before dispatch and declared outputs after it.
// Every error returned is a *StageError.
func Invoke(ctx context.Context, s Stage, pc *Context) (*Context, error) {
	for _, k := range s.Requires() {
		if !pc.Has(k) {
			return nil, &StageError{Stage: s.Name(), Cause: &MissingInputError{Key: k}}
		}
	}
	out, err := s.Execute(ctx, pc)
	if err != nil {
		var se *StageError
		if errors.As(err, &se) && se.Stage == s.Name() {
			return nil, se
		}
		return nil, &StageError{Stage: s.Name(), Cause: err}
	}
	if out == nil {
		return nil, &StageError{Stage: s.Name(), Cause: errors.New("stage returned a nil context")}
	}
	for _, k := range s.Produces() {
		if !out.Has(k) {
			return nil, &StageError{Stage: s.Name(), Cause: fmt.Errorf("declared output %q was not produced", k)}
		}
	}
	return out, nil
}

// Pipeline is an ordered list of stages whose declared keys have been
// checked against each other.
type Pipeline struct {
	stages []Stage
}

// New assembles a pipeline. seed lists the keys the caller will place in
// the initial Context. Assembly fails if a stage requires a key that
// neither the seed nor an earlier stage provides, or if two stages share
// a name.
func New(seed []Key, stages ...Stage) (*Pipeline, error) {
	if len(stages) == 0 {
		return nil, errors.New("pipeline: at least one stage is required")
	}
	available := make(map[Key]string, len(seed))
	for _, k := range seed {
		available[k] = "seed"
	}
	names := make(map[string]struct{}, len(stages))
	for i, s := range stages {
		if s == nil {
			return nil, fmt.Errorf("pipeline: stage %d is nil", i)
		}
		if _, dup := names[s.Name()]; dup {
			return nil, fmt.Errorf("pipeline: duplicate stage name %q", s.Name())
		}
		names[s.Name()] = struct{}{}
		for _, k := range s.Requires() {
			if _, ok := available[k]; !ok {
				return nil, fmt.Errorf("pipeline: stage %q requires %q, which no earlier stage produces", s.Name(), k)
			}
		}
		for _, k := range s.Produces() {
			available[k] = s.Name()
		}
	}
	return &Pipeline{stages: stages}, nil
}

// Stages returns the stages in execution order.
func (p *Pipeline) Stages() []Stage {
	out := make([]Stage, len(p.stages))
	copy(out, p.stages)
	return out
}

// Len returns the number of stages.
func (p *Pipeline) Len() int { return len(p.stages) }
