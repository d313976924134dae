package registry

import "errors"

var (
	// ErrNotSynced is returned when no sync pass has succeeded yet.
	ErrNotSynced = errors.New("registry: not synced")
)
