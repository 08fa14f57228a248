// Package errors provides the error kinds shared by the canon packages.
//
// Every operation that rejects input or fails returns one of four kinds:
// ValidationError and NotFoundError are raised before any mutation,
// ConflictError signals a retryable optimistic-concurrency mismatch, and
// UpstreamError wraps a failure of the storage layer or the extraction
// collaborator without masking the cause.
package errors

import (
	"errors"
	"fmt"
)

// New is an alias for the standard library errors.New.
var New = errors.New

// Sentinels matched by the typed errors through errors.Is.
var (
	ErrInvalidInput = errors.New("invalid input")
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
	ErrUpstream     = errors.New("upstream failure")
)

// ValidationError reports missing or malformed input.
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
}

// Error implements the error interface
func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validation failed for field %s: %s", e.Field, e.Message)
	}
	return fmt.Sprintf("validation failed: %s", e.Message)
}

// Is implements errors.Is support
func (e *ValidationError) Is(target error) bool {
	return target == ErrInvalidInput
}

// NewValidationError creates a new ValidationError
func NewValidationError(field string, value interface{}, message string) *ValidationError {
	return &ValidationError{Field: field, Value: value, Message: message}
}

// NotFoundError reports an absent claim, category, club, source or evidence chunk.
type NotFoundError struct {
	Resource string
	ID       string
}

// Error implements the error interface
func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s with ID %s not found", e.Resource, e.ID)
}

// Is implements errors.Is support
func (e *NotFoundError) Is(target error) bool {
	return target == ErrNotFound
}

// NewNotFoundError creates a new NotFoundError
func NewNotFoundError(resource, id string) *NotFoundError {
	return &NotFoundError{Resource: resource, ID: id}
}

// ConflictError reports a version mismatch on a read-modify-write. Callers may
// re-read the resource and retry.
type ConflictError struct {
	Resource string
	ID       string
	Expected int64
	Actual   int64
}

// Error implements the error interface
func (e *ConflictError) Error() string {
	if e.Expected != 0 || e.Actual != 0 {
		return fmt.Sprintf("%s %s was modified concurrently (expected version %d, found %d)", e.Resource, e.ID, e.Expected, e.Actual)
	}
	return fmt.Sprintf("%s %s was modified concurrently", e.Resource, e.ID)
}

// Is implements errors.Is support
func (e *ConflictError) Is(target error) bool {
	return target == ErrConflict
}

// Retryable reports whether the operation may be retried. Always true.
func (e *ConflictError) Retryable() bool { return true }

// NewConflictError creates a new ConflictError
func NewConflictError(resource, id string, expected, actual int64) *ConflictError {
	return &ConflictError{Resource: resource, ID: id, Expected: expected, Actual: actual}
}

// UpstreamError wraps a failure attributed to a collaborator (storage or extraction).
type UpstreamError struct {
	Component string
	Err       error
}

// Error implements the error interface
func (e *UpstreamError) Error() string {
	return fmt.Sprintf("%s: %v", e.Component, e.Err)
}

// Unwrap implements errors.Unwrap
func (e *UpstreamError) Unwrap() error {
	return e.Err
}

// Is implements errors.Is support
func (e *UpstreamError) Is(target error) bool {
	return target == ErrUpstream
}

// NewUpstreamError creates a new UpstreamError
func NewUpstreamError(component string, err error) *UpstreamError {
	return &UpstreamError{Component: component, Err: err}
}

// Classify returns err unchanged when it already carries one of the kinds above
// and wraps it as an UpstreamError of component otherwise.
func Classify(component string, err error) error {
	if err == nil {
		return nil
	}
	if IsValidationError(err) || IsNotFound(err) || IsConflict(err) || IsUpstream(err) {
		return err
	}
	return NewUpstreamError(component, err)
}

// IsValidationError reports whether err is a validation failure.
func IsValidationError(err error) bool {
	return errors.Is(err, ErrInvalidInput)
}

// IsNotFound reports whether err is a not-found failure.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsConflict reports whether err is an optimistic-concurrency conflict.
func IsConflict(err error) bool {
	return errors.Is(err, ErrConflict)
}

// IsUpstream reports whether err is attributed to a collaborator.
func IsUpstream(err error) bool {
	return errors.Is(err, ErrUpstream)
}

// IsRetryable reports whether the caller may retry the failed operation.
func IsRetryable(err error) bool {
	var r interface{ Retryable() bool }
	if errors.As(err, &r) {
		return r.Retryable()
	}
	return false
}
