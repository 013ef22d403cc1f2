package testutil

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/neurogenx/neurogenx/internal/dataset"
)

// WriteBinaryCSV writes dir/<name>.csv with rows samples, three numeric
// features, and a balanced binary "label" column. The first feature is
// shifted by the label, so the classes are learnable but not separable.
// It returns the file path.
func WriteBinaryCSV(t testing.TB, dir, name string, rows int, seed uint64) string {
	t.Helper()
	rng := dataset.NewRand(seed)
	var b strings.Builder
	b.WriteString("f1,f2,f3,label\n")
	for i := range rows {
		label := i % 2
		fmt.Fprintf(&b, "%.6f,%.6f,%d,%d\n",
			float64(label)*1.5+rng.NormFloat64(),
			rng.NormFloat64()*3,
			rng.IntN(10),
			label)
	}
	path := filepath.Join(dir, name+".csv")
	if err := os.WriteFile(path, []byte(b.String()), 0o600); err != nil {
		t.Fatalf("testutil: write %s: %v", path, err)
	}
	return path
}
