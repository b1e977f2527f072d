package optimization

import (
	"fmt"
	"sort"
	"strings"

	"github.com/cockroachdb/errors"
)

// Sentinel errors for the core error taxonomy. Every typed error below
// matches exactly one of them through errors.Is.
var (
	ErrInvalidFeature     = errors.New("invalid feature")
	ErrSingularCovariance = errors.New("singular covariance")
	ErrNotFitted          = errors.New("model not fitted")
	ErrInsufficientData   = errors.New("insufficient data")
)

// Error represents an optimization error with context
// that can be wrapped with additional information.
type Error struct {
	// Message describes the error that occurred.
	Message string
	// Op is the operation that caused the error.
	Op string
	// Component is the component where the error occurred.
	Component string
	// Err is the underlying error that triggered this one, if any.
	Err error
}

// Error returns the string representation of the error.
func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	var prefix string
	if e.Component != "" && e.Op != "" {
		prefix = fmt.Sprintf("%s: %s", e.Component, e.Op)
	} else if e.Component != "" {
		prefix = e.Component
	} else if e.Op != "" {
		prefix = e.Op
	}

	if e.Err != nil {
		if prefix != "" {
			return fmt.Sprintf("%s: %s: %v", prefix, e.Message, e.Err)
		}
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}

	if prefix != "" {
		return fmt.Sprintf("%s: %s", prefix, e.Message)
	}
	return e.Message
}

// Unwrap returns the underlying error, if any.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// WithOperation adds operation context to the error.
func (e *Error) WithOperation(op string) *Error {
	e.Op = op
	return e
}

// WithComponent adds component context to the error.
func (e *Error) WithComponent(component string) *Error {
	e.Component = component
	return e
}

// NewError creates a new optimization error with the given message.
func NewError(message string) *Error {
	return &Error{
		Message: message,
	}
}

// NewErrorf creates a new optimization error with formatted message.
func NewErrorf(format string, args ...interface{}) *Error {
	return &Error{
		Message: fmt.Sprintf(format, args...),
	}
}

// WrapError wraps an existing error with additional context.
// If err is nil, WrapError returns nil.
func WrapError(err error, message string) error {
	if err == nil {
		return nil
	}
	return &Error{
		Message: message,
		Err:     err,
	}
}

// IsOptimizationError checks if an error is of type Error.
// If the error is an optimization error, it returns the error and true.
// Otherwise, it returns nil and false.
func IsOptimizationError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// InvalidFeatureError reports a malformed or non-finite feature vector.
// Row and Column are -1 when they do not apply.
type InvalidFeatureError struct {
	Row    int
	Column int
	Value  float64
	Reason string
}

func (e *InvalidFeatureError) Error() string {
	switch {
	case e.Row >= 0 && e.Column >= 0:
		return fmt.Sprintf("invalid feature at row %d, column %d (%v): %s", e.Row, e.Column, e.Value, e.Reason)
	case e.Row >= 0:
		return fmt.Sprintf("invalid feature at row %d: %s", e.Row, e.Reason)
	default:
		return "invalid feature: " + e.Reason
	}
}

// Is matches ErrInvalidFeature.
func (e *InvalidFeatureError) Is(target error) bool { return target == ErrInvalidFeature }

// NewInvalidFeatureError returns an InvalidFeatureError with a stack attached.
func NewInvalidFeatureError(row, column int, value float64, reason string) error {
	return errors.WithStack(&InvalidFeatureError{Row: row, Column: column, Value: value, Reason: reason})
}

// SingularCovarianceError is returned when the training covariance could not
// be factorized even after the bounded jitter retries.
type SingularCovarianceError struct {
	// Hyperparameters are the natural-scale values the factorization failed at.
	Hyperparameters map[string]float64
	// Jitter is the last diagonal jitter tried.
	Jitter   float64
	Attempts int
}

func (e *SingularCovarianceError) Error() string {
	names := make([]string, 0, len(e.Hyperparameters))
	for name := range e.Hyperparameters {
		names = append(names, name)
	}
	sort.Strings(names)
	parts := make([]string, len(names))
	for i, name := range names {
		parts[i] = fmt.Sprintf("%s=%.6g", name, e.Hyperparameters[name])
	}
	return fmt.Sprintf("covariance matrix not positive definite after %d attempts (jitter %.3g, hyperparameters {%s})",
		e.Attempts, e.Jitter, strings.Join(parts, ", "))
}

// Is matches ErrSingularCovariance.
func (e *SingularCovarianceError) Is(target error) bool { return target == ErrSingularCovariance }

// NotFittedError is returned by read operations on a model that was never fitted.
type NotFittedError struct {
	Op string
}

func (e *NotFittedError) Error() string {
	return fmt.Sprintf("%s: model is not fitted yet, call Fit first", e.Op)
}

// Is matches ErrNotFitted.
func (e *NotFittedError) Is(target error) bool { return target == ErrNotFitted }

// NewNotFittedError returns a NotFittedError with a stack attached.
func NewNotFittedError(op string) error {
	return errors.WithStack(&NotFittedError{Op: op})
}

// InsufficientDataError is returned when a requested subset size exceeds the
// number of available rows.
type InsufficientDataError struct {
	Requested int
	Available int
}

func (e *InsufficientDataError) Error() string {
	return fmt.Sprintf("requested %d rows but only %d available", e.Requested, e.Available)
}

// Is matches ErrInsufficientData.
func (e *InsufficientDataError) Is(target error) bool { return target == ErrInsufficientData }

// NewInsufficientDataError returns an InsufficientDataError with a stack attached.
func NewInsufficientDataError(requested, available int) error {
	return errors.WithStack(&InsufficientDataError{Requested: requested, Available: available})
}
