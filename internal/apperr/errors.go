// Package apperr defines the error taxonomy shared by the stock core.
package apperr

import (
	"errors"
	"fmt"
)

// Sentinel kinds. Wrapped errors are matched with errors.Is.
var (
	ErrValidation    = errors.New("validation error")
	ErrNotFound      = errors.New("not found")
	ErrPersistence   = errors.New("persistence error")
	ErrTimeout       = errors.New("timeout")
	ErrInconsistency = errors.New("inconsistency")
	// ErrConflict marks a write that lost a compare-and-swap race. It is also a
	// persistence failure.
	ErrConflict = fmt.Errorf("%w: conflicting update", ErrPersistence)
	// ErrConstraint marks a write rejected by a store constraint such as a
	// duplicate product code.
	ErrConstraint = fmt.Errorf("%w: constraint violation", ErrPersistence)
)

// Validation returns an ErrValidation with a formatted message.
func Validation(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// NotFound returns an ErrNotFound naming the missing entity.
func NotFound(entity, id string) error {
	return fmt.Errorf("%w: %s %q", ErrNotFound, entity, id)
}

// Persistence wraps cause as an ErrPersistence for op.
func Persistence(op string, cause error) error {
	if cause == nil {
		return fmt.Errorf("%w: %s", ErrPersistence, op)
	}
	if errors.Is(cause, ErrPersistence) {
		return fmt.Errorf("%s: %w", op, cause)
	}
	return fmt.Errorf("%w: %s: %w", ErrPersistence, op, cause)
}

// Timeout wraps cause as an ErrTimeout for op.
func Timeout(op string, cause error) error {
	return fmt.Errorf("%w: %s: %w", ErrTimeout, op, cause)
}

// InconsistencyError reports a compensating action that failed and left
// orphaned data behind.
type InconsistencyError struct {
	SaleID string
	Action string
	Cause  error
}

func (e *InconsistencyError) Error() string {
	msg := fmt.Sprintf("inconsistency: %s failed for sale %s", e.Action, e.SaleID)
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *InconsistencyError) Unwrap() error { return e.Cause }

// Is matches ErrInconsistency.
func (e *InconsistencyError) Is(target error) bool { return target == ErrInconsistency }

// Kind returns the taxonomy name of err, or "internal" when unclassified.
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInconsistency):
		return "inconsistency"
	case errors.Is(err, ErrValidation):
		return "validation_error"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrTimeout):
		return "timeout"
	case errors.Is(err, ErrConflict):
		return "conflict"
	case errors.Is(err, ErrPersistence):
		return "persistence_error"
	default:
		return "internal"
	}
}

// IsNotFound reports whether err is an ErrNotFound.
func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }
