package model

import "errors"

// ErrRunNotFound is returned when no run exists for a run id.
var ErrRunNotFound = errors.New("run not found")
