package store

import "errors"

var (
	// ErrNotFound is returned when a row addressed by key does not exist.
	ErrNotFound = errors.New("store: not found")

	// ErrInvalidMode is returned for a notification mode other than
	// ModeStateOnly or ModeStateAndKeyAttrs.
	ErrInvalidMode = errors.New("store: invalid notification mode")

	// ErrInvalidTask is returned when a task is missing a required field.
	ErrInvalidTask = errors.New("store: invalid task")

	// ErrCorruptPayload is returned when a stored task payload is not a JSON
	// object.
	ErrCorruptPayload = errors.New("store: corrupt task payload")
)
