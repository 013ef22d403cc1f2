package champion

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/neurogenx/neurogenx/internal/model"
)

// ManifestFile is the file name FileRegistry writes under its directory.
const ManifestFile = "champion_manifest.json"

// FileRegistry keeps the current manifest as a JSON file. Writes go to a
// temporary file that is renamed over the old one, so readers never see a
// partial manifest. Concurrent reads are coalesced into one file read.
type FileRegistry struct {
	path string

	mu    sync.Mutex // serializes writers
	reads singleflight.Group
}

// NewFileRegistry creates dir if needed and returns a registry writing
// dir/champion_manifest.json.
func NewFileRegistry(dir string) (*FileRegistry, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("champion: create %s: %w", dir, err)
	}
	return &FileRegistry{path: filepath.Join(dir, ManifestFile)}, nil
}

// Path returns the manifest file path.
func (r *FileRegistry) Path() string { return r.path }

func (r *FileRegistry) RegisterChampion(ctx context.Context, m model.ChampionManifest) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("champion: encode manifest: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if err := WriteFileAtomic(r.path, data); err != nil {
		return fmt.Errorf("champion: write manifest: %w", err)
	}
	return nil
}

func (r *FileRegistry) CurrentChampion(ctx context.Context) (*model.ChampionManifest, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	v, err, _ := r.reads.Do("current", func() (any, error) {
		data, err := os.ReadFile(r.path)
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNoChampion
		}
		if err != nil {
			return nil, fmt.Errorf("champion: read manifest: %w", err)
		}
		var m model.ChampionManifest
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("champion: decode manifest: %w", err)
		}
		return m, nil
	})
	if err != nil {
		return nil, err
	}
	// Callers sharing a flight each get their own copy.
	m := v.(model.ChampionManifest).Clone()
	return &m, nil
}

// WriteFileAtomic writes data to a temporary file beside path and renames
// it into place.
func WriteFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	name := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(name)
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		_ = os.Remove(name)
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(name)
		return err
	}
	if err := os.Rename(name, path); err != nil {
		_ = os.Remove(name)
		return err
	}
	return nil
}
