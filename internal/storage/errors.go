package storage

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned when a requested row does not exist. Lookups
// also wrap the matching domain sentinel, so callers outside this package
// can test for model.ErrRunNotFound without importing storage.
var ErrNotFound = errors.New("storage: not found")

func notFound(kind string, id any, domain error) error {
	return fmt.Errorf("storage: %s %v: %w", kind, id, errors.Join(ErrNotFound, domain))
}
