package dataset_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/neurogenx/neurogenx/internal/dataset"
)

func TestReadCSVNumeric(t *testing.T) {
	in := "a,b,label\n1,2.5,0\n3,4.5,1\n5,6,1\n"
	f, err := dataset.ReadCSV(strings.NewReader(in), "label")
	require.NoError(t, err)

	assert.Equal(t, []string{"a", "b", "label"}, f.Columns)
	assert.Equal(t, 3, f.NumRows())
	assert.Equal(t, dataset.ColumnInt, f.Types["a"])
	assert.Equal(t, dataset.ColumnFloat, f.Types["b"])
	assert.Equal(t, map[string]string{"a": "int64", "b": "float64", "label": "int64"}, f.Schema())

	d, features, err := f.Split("label")
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, features)
	assert.Equal(t, []int{0, 1, 1}, d.Y)
	assert.Equal(t, []float64{3, 4.5}, d.X[1])
}

func TestReadCSVStringTarget(t *testing.T) {
	in := "x,churn\n1,yes\n2,no\n3,yes\n"
	f, err := dataset.ReadCSV(strings.NewReader(in), "churn")
	require.NoError(t, err)
	assert.Equal(t, dataset.ColumnLabel, f.Types["churn"])
	assert.Equal(t, []string{"no", "yes"}, f.Labels["churn"])

	d, _, err := f.Split("churn")
	require.NoError(t, err)
	assert.Equal(t, []int{1, 0, 1}, d.Y)
}

func TestReadCSVRejectsNonNumericFeature(t *testing.T) {
	_, err := dataset.ReadCSV(strings.NewReader("city,label\nparis,1\nrome,0\n"), "label")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `column "city"`)
}

func TestReadCSVRejectsNonFiniteFeature(t *testing.T) {
	for _, cell := range []string{"NaN", "Inf", "+Inf", "-inf"} {
		t.Run(cell, func(t *testing.T) {
			in := "a,b,label\n1,2,0\n3," + cell + ",1\n5,6,1\n"
			_, err := dataset.ReadCSV(strings.NewReader(in), "label")
			require.Error(t, err)
			assert.Contains(t, err.Error(), `column "b"`)
			assert.Contains(t, err.Error(), "row 2")
		})
	}
}

func TestReadCSVRejectsEmpty(t *testing.T) {
	_, err := dataset.ReadCSV(strings.NewReader(""), "label")
	require.Error(t, err)
	_, err = dataset.ReadCSV(strings.NewReader("a,label\n"), "label")
	require.Error(t, err)
}

func TestSplitRequiresBinaryTarget(t *testing.T) {
	f, err := dataset.ReadCSV(strings.NewReader("a,label\n1,0\n2,1\n3,2\n"), "label")
	require.NoError(t, err)
	_, _, err = f.Split("label")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "must be binary")

	_, _, err = f.Split("nope")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestLoadFileMissing(t *testing.T) {
	path := filepath.Join(t.TempDir(), "absent.csv")
	_, err := dataset.LoadFile(path, "label")
	require.ErrorIs(t, err, dataset.ErrNotFound)
	assert.Contains(t, err.Error(), "dataset file not found at "+path)
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "d.csv")
	require.NoError(t, os.WriteFile(path, []byte("a,label\n1,0\n2,1\n"), 0o600))
	f, err := dataset.LoadFile(path, "label")
	require.NoError(t, err)
	assert.Equal(t, 2, f.NumRows())
}

func labels(pos, neg int) []int {
	y := make([]int, 0, pos+neg)
	for range neg {
		y = append(y, 0)
	}
	for range pos {
		y = append(y, 1)
	}
	return y
}

func countPositive(y []int, idx []int) int {
	n := 0
	for _, i := range idx {
		n += y[i]
	}
	return n
}

func TestStratifiedSplit(t *testing.T) {
	y := labels(30, 70)
	train, test, err := dataset.StratifiedSplit(y, 0.2, 42)
	require.NoError(t, err)

	assert.Len(t, test, 20)
	assert.Len(t, train, 80)
	assert.Equal(t, 6, countPositive(y, test))
	assert.Equal(t, 24, countPositive(y, train))
	assert.ElementsMatch(t, dataset.Complement(100, test), train)

	train2, test2, err := dataset.StratifiedSplit(y, 0.2, 42)
	require.NoError(t, err)
	assert.Equal(t, train, train2)
	assert.Equal(t, test, test2)
}

func TestStratifiedSplitErrors(t *testing.T) {
	_, _, err := dataset.StratifiedSplit(labels(5, 5), 0, 1)
	require.Error(t, err)
	_, _, err = dataset.StratifiedSplit(labels(1, 5), 0.2, 1)
	require.Error(t, err)
}

func TestStratifiedKFold(t *testing.T) {
	y := labels(20, 30)
	folds, err := dataset.StratifiedKFold(y, 5, 7)
	require.NoError(t, err)
	require.Len(t, folds, 5)

	seen := make(map[int]bool)
	for _, f := range folds {
		assert.Len(t, f, 10)
		assert.Equal(t, 4, countPositive(y, f))
		for _, i := range f {
			assert.False(t, seen[i], "index %d in two folds", i)
			seen[i] = true
		}
	}
	assert.Len(t, seen, 50)

	_, err = dataset.StratifiedKFold(y, 1, 7)
	require.Error(t, err)
	_, err = dataset.StratifiedKFold([]int{0, 1}, 5, 7)
	require.Error(t, err)
}

func TestSubset(t *testing.T) {
	d := dataset.Labeled{X: [][]float64{{1}, {2}, {3}}, Y: []int{0, 1, 0}}
	s := d.Subset([]int{2, 0})
	assert.Equal(t, [][]float64{{3}, {1}}, s.X)
	assert.Equal(t, []int{0, 0}, s.Y)
	assert.Equal(t, 2, s.Len())
}
