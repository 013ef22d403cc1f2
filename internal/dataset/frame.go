// Package dataset loads tabular training data and splits it for
// model search.
package dataset

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"slices"
	"strconv"
	"strings"
)

// ErrNotFound is returned when a dataset file does not exist.
var ErrNotFound = errors.New("dataset: not found")

// ColumnType is the inferred type of a CSV column.
type ColumnType string

const (
	ColumnInt     ColumnType = "int64"
	ColumnFloat   ColumnType = "float64"
	ColumnLabel   ColumnType = "label"
	ColumnUnknown ColumnType = "unknown"
)

// Frame is a numeric table read from CSV. Every cell of Rows is a float;
// a categorical target column is encoded to 0/1 and its original labels
// are kept in Labels, in code order.
type Frame struct {
	Columns []string
	Types   map[string]ColumnType
	Rows    [][]float64
	Labels  map[string][]string
}

// NumRows returns the number of data rows.
func (f *Frame) NumRows() int { return len(f.Rows) }

// ColumnIndex returns the position of name, or -1.
func (f *Frame) ColumnIndex(name string) int {
	return slices.Index(f.Columns, name)
}

// Schema returns column name → inferred type as strings.
func (f *Frame) Schema() map[string]string {
	out := make(map[string]string, len(f.Types))
	for k, v := range f.Types {
		out[k] = string(v)
	}
	return out
}

// Labeled is a feature matrix with binary labels.
type Labeled struct {
	X [][]float64
	Y []int
}

// Len returns the number of samples.
func (d Labeled) Len() int { return len(d.Y) }

// Subset returns the rows at idx. Row slices are shared, not copied.
func (d Labeled) Subset(idx []int) Labeled {
	out := Labeled{X: make([][]float64, len(idx)), Y: make([]int, len(idx))}
	for i, j := range idx {
		out.X[i] = d.X[j]
		out.Y[i] = d.Y[j]
	}
	return out
}

// LoadFile opens path and parses it with ReadCSV. A missing file yields an
// error wrapping ErrNotFound whose message names the path.
func LoadFile(path, target string) (*Frame, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("dataset file not found at %s: %w", path, ErrNotFound)
		}
		return nil, fmt.Errorf("dataset: open %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()
	frame, err := ReadCSV(f, target)
	if err != nil {
		return nil, fmt.Errorf("dataset: %s: %w", path, err)
	}
	return frame, nil
}

// ReadCSV parses a header row followed by data rows. Every feature column
// must be numeric. The target column, when named, may hold numeric or
// string labels; string labels are encoded in sorted order.
func ReadCSV(r io.Reader, target string) (*Frame, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.New("empty file")
		}
		return nil, fmt.Errorf("read header: %w", err)
	}
	for i := range header {
		header[i] = strings.TrimSpace(header[i])
		if header[i] == "" {
			return nil, fmt.Errorf("column %d has an empty name", i)
		}
	}

	var raw [][]string
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read row %d: %w", len(raw)+1, err)
		}
		raw = append(raw, rec)
	}
	if len(raw) == 0 {
		return nil, errors.New("no data rows")
	}

	frame := &Frame{
		Columns: header,
		Types:   make(map[string]ColumnType, len(header)),
		Rows:    make([][]float64, len(raw)),
		Labels:  make(map[string][]string),
	}
	for i := range frame.Rows {
		frame.Rows[i] = make([]float64, len(header))
	}

	for c, name := range header {
		typ, err := parseColumn(frame, raw, c)
		if err == nil {
			frame.Types[name] = typ
			continue
		}
		if name != target {
			return nil, fmt.Errorf("column %q: %w", name, err)
		}
		labels := encodeLabels(frame, raw, c)
		frame.Types[name] = ColumnLabel
		frame.Labels[name] = labels
	}
	return frame, nil
}

func parseColumn(frame *Frame, raw [][]string, c int) (ColumnType, error) {
	typ := ColumnInt
	for i, rec := range raw {
		cell := strings.TrimSpace(rec[c])
		if cell == "" {
			return ColumnUnknown, fmt.Errorf("missing value in row %d", i+1)
		}
		if _, err := strconv.ParseInt(cell, 10, 64); err != nil {
			typ = ColumnFloat
		}
		v, err := strconv.ParseFloat(cell, 64)
		if err != nil {
			return ColumnUnknown, fmt.Errorf("non-numeric value %q in row %d", cell, i+1)
		}
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return ColumnUnknown, fmt.Errorf("non-finite value %q in row %d", cell, i+1)
		}
		frame.Rows[i][c] = v
	}
	return typ, nil
}

func encodeLabels(frame *Frame, raw [][]string, c int) []string {
	seen := make(map[string]struct{})
	for _, rec := range raw {
		seen[strings.TrimSpace(rec[c])] = struct{}{}
	}
	labels := make([]string, 0, len(seen))
	for l := range seen {
		labels = append(labels, l)
	}
	slices.Sort(labels)
	for i, rec := range raw {
		frame.Rows[i][c] = float64(slices.Index(labels, strings.TrimSpace(rec[c])))
	}
	return labels
}

// Split separates target from the feature columns. The target must take
// exactly two distinct values; the smaller maps to 0 and the larger to 1.
func (f *Frame) Split(target string) (Labeled, []string, error) {
	ti := f.ColumnIndex(target)
	if ti < 0 {
		return Labeled{}, nil, fmt.Errorf("target column %q not found", target)
	}
	if len(f.Columns) < 2 {
		return Labeled{}, nil, errors.New("no feature columns")
	}

	distinct := make(map[float64]struct{})
	for _, row := range f.Rows {
		distinct[row[ti]] = struct{}{}
	}
	if len(distinct) != 2 {
		return Labeled{}, nil, fmt.Errorf("target column %q must be binary, found %d distinct values", target, len(distinct))
	}
	var lo float64
	first := true
	for v := range distinct {
		if first || v < lo {
			lo, first = v, false
		}
	}

	features := make([]string, 0, len(f.Columns)-1)
	for i, name := range f.Columns {
		if i != ti {
			features = append(features, name)
		}
	}
	out := Labeled{X: make([][]float64, len(f.Rows)), Y: make([]int, len(f.Rows))}
	for i, row := range f.Rows {
		x := make([]float64, 0, len(row)-1)
		x = append(x, row[:ti]...)
		x = append(x, row[ti+1:]...)
		out.X[i] = x
		if row[ti] != lo {
			out.Y[i] = 1
		}
	}
	return out, features, nil
}
