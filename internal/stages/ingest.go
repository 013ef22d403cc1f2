package stages

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/neurogenx/neurogenx/internal/dataset"
	"github.com/neurogenx/neurogenx/internal/pipeline"
)

// Ingest reads the run's dataset from CSV.
//
// A dataset id names <DataDir>/<id>.csv. When AllowPaths is set, an id
// that is an absolute path or ends in ".csv" is used as a file path.
type Ingest struct {
	DataDir    string
	AllowPaths bool
	Logger     *slog.Logger
}

func (s *Ingest) Name() string { return "ingest" }

func (s *Ingest) Requires() []pipeline.Key { return []pipeline.Key{KeyDatasetID, KeyTarget} }

func (s *Ingest) Produces() []pipeline.Key { return []pipeline.Key{KeyFrame, KeySchema} }

func (s *Ingest) Execute(ctx context.Context, pc *pipeline.Context) (*pipeline.Context, error) {
	id, err := pipeline.Value[string](pc, KeyDatasetID)
	if err != nil {
		return nil, err
	}
	target, err := pipeline.Value[string](pc, KeyTarget)
	if err != nil {
		return nil, err
	}
	path, err := s.resolve(id)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	frame, err := dataset.LoadFile(path, target)
	if err != nil {
		return nil, err
	}
	logger(s.Logger).Info("ingest: dataset loaded", "path", path, "rows", frame.NumRows(), "columns", len(frame.Columns))

	pc.Set(KeyFrame, frame)
	pc.Set(KeySchema, frame.Schema())
	return pc, nil
}

// resolve returns the file a dataset id refers to.
func (s *Ingest) resolve(id string) (string, error) {
	if id == "" {
		return "", errors.New("dataset id is empty")
	}
	if s.AllowPaths && (filepath.IsAbs(id) || strings.HasSuffix(id, ".csv")) {
		return filepath.Clean(id), nil
	}
	if strings.ContainsAny(id, `/\`) || strings.Contains(id, "..") {
		return "", fmt.Errorf("invalid dataset id %q", id)
	}
	return filepath.Join(s.DataDir, id+".csv"), nil
}

func logger(l *slog.Logger) *slog.Logger {
	if l == nil {
		return slog.Default()
	}
	return l
}
