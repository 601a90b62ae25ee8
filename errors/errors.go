// Package errors defines the error taxonomy of the conversation core.
//
// ValidationError and InvalidOperationError are rejected synchronously,
// before any state change. ErrTransport and ErrPersistence classify
// failures that happen inside a queued job; neither is fatal to the
// process or to the queue of the conversation that produced them.
package errors

import (
	"errors"
	"fmt"
)

var (
	ErrTransport    = fmt.Errorf("transport failure")
	ErrPersistence  = fmt.Errorf("persistence failure")
	ErrNotFound     = fmt.Errorf("conversation not found")
	ErrEmptyQuery   = fmt.Errorf("empty search query")
	ErrQueueDrained = fmt.Errorf("job queue already drained")
	ErrJobPanic     = fmt.Errorf("job panic")
)

// ValidationError rejects an aggregate before it is persisted.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid conversation: %s %s", e.Field, e.Reason)
}

// InvalidOperationError rejects an operation called on the wrong
// conversation kind. No state is changed.
type InvalidOperationError struct {
	Op   string
	Kind string
}

func (e *InvalidOperationError) Error() string {
	return fmt.Sprintf("%s is not valid on a %s conversation", e.Op, e.Kind)
}

func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}

func IsInvalidOperation(err error) bool {
	var v *InvalidOperationError
	return errors.As(err, &v)
}

// Transport wraps a failed dispatch so callers can classify it with
// errors.Is(err, ErrTransport).
func Transport(err error) error {
	return fmt.Errorf("%w: %w", ErrTransport, err)
}

func Persistence(err error) error {
	return fmt.Errorf("%w: %w", ErrPersistence, err)
}
