package checkpoint

import "errors"

var (
	// ErrNotFound is returned when no checkpoint or the requested revision does not exist.
	ErrNotFound = errors.New("checkpoint not found")

	// ErrCorrupt is returned when a manifest or table blob fails validation.
	ErrCorrupt = errors.New("checkpoint corrupt")

	// ErrDuplicateID is returned when a table ID is registered twice.
	ErrDuplicateID = errors.New("table already registered")

	// ErrInvalidRevision is returned for a malformed revision string.
	ErrInvalidRevision = errors.New("invalid revision")
)
