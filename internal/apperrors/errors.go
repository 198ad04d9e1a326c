// Package apperrors holds the error taxonomy shared by the importer, the
// webhook dispatcher and the HTTP layer.
package apperrors

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ErrNotFound is returned by repositories and services when an id matches no row.
var ErrNotFound = errors.New("not found")

// NotFound wraps ErrNotFound with the kind of entity that was looked up.
func NotFound(kind string, id fmt.Stringer) error {
	return fmt.Errorf("%s %s %w", kind, id, ErrNotFound)
}

// ValidationError reports bad or missing input. Either Message or Fields is set;
// both may be.
type ValidationError struct {
	Message string
	Fields  map[string]string
}

func (e *ValidationError) Error() string {
	if len(e.Fields) == 0 {
		return e.Message
	}

	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s: %s", k, e.Fields[k]))
	}
	if e.Message == "" {
		return strings.Join(parts, "; ")
	}
	return e.Message + ": " + strings.Join(parts, "; ")
}

func NewValidation(message string) *ValidationError {
	return &ValidationError{Message: message}
}

func NewFieldValidation(fields map[string]string) *ValidationError {
	return &ValidationError{Message: "Validation failed", Fields: fields}
}

// IsValidation reports whether err carries a *ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// RowError describes a CSV row that was rejected. It is counted, never returned
// past the import loop.
type RowError struct {
	Line   int
	Reason string
}

func (e *RowError) Error() string {
	return fmt.Sprintf("row %d: %s", e.Line, e.Reason)
}

// JobFatalError terminates an import job. It is returned to the task runner after
// the job ledger has already recorded the failure.
type JobFatalError struct {
	JobID string
	Err   error
}

func (e *JobFatalError) Error() string {
	return fmt.Sprintf("import job %s failed: %v", e.JobID, e.Err)
}

func (e *JobFatalError) Unwrap() error {
	return e.Err
}

// TransientDeliveryError marks a webhook attempt that may succeed when retried.
type TransientDeliveryError struct {
	StatusCode int
	Err        error
}

func (e *TransientDeliveryError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("webhook delivery failed: %v", e.Err)
	}
	return fmt.Sprintf("webhook delivery failed with status %d", e.StatusCode)
}

func (e *TransientDeliveryError) Unwrap() error {
	return e.Err
}
