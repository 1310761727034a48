package eventtable

import (
	"errors"
	"fmt"
)

var (
	// ErrIncompatibleCondition is returned when a compiled condition was
	// produced by another table or another backend. It indicates a caller
	// defect and must not be retried.
	ErrIncompatibleCondition = errors.New("compiled condition belongs to another table")

	// ErrIncompatibleUpdateSet is returned when a compiled update set was
	// produced by another table or another backend. It must not be retried.
	ErrIncompatibleUpdateSet = errors.New("compiled update set belongs to another table")

	// ErrTableDestroyed is returned by every operation after Destroy.
	ErrTableDestroyed = errors.New("table destroyed")

	// ErrNotInitialized is returned when an operation runs before Init.
	ErrNotInitialized = errors.New("table not initialized")

	// ErrUnsupported is returned when the table backend does not implement an optional operation.
	ErrUnsupported = errors.New("operation not supported by table backend")

	// ErrSnapshotUnsupported is returned when the table backend cannot take part in checkpoints.
	ErrSnapshotUnsupported = fmt.Errorf("%w: snapshot", ErrUnsupported)
)

// ErrConnectionUnavailable reports that an externally backed table cannot
// reach its store right now. The caller may retry.
//
// The in-memory table never returns it. The original underlying error can be
// accessed via errors.Unwrap.
type ErrConnectionUnavailable struct {
	TableID string
	cause   error
}

// NewConnectionUnavailable wraps cause as a retryable connection error.
func NewConnectionUnavailable(tableID string, cause error) *ErrConnectionUnavailable {
	return &ErrConnectionUnavailable{TableID: tableID, cause: cause}
}

func (e *ErrConnectionUnavailable) Error() string {
	if e.cause == nil {
		return fmt.Sprintf("table %s: connection unavailable", e.TableID)
	}
	return fmt.Sprintf("table %s: connection unavailable: %v", e.TableID, e.cause)
}

func (e *ErrConnectionUnavailable) Unwrap() error { return e.cause }

// IsRetryable reports whether err is a connection error the caller may retry.
func IsRetryable(err error) bool {
	var cu *ErrConnectionUnavailable
	return errors.As(err, &cu)
}
