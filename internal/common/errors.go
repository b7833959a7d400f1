// Package common provides shared utilities and types used across the application.
package common

import (
	"context"
	"errors"
	"fmt"
)

// Common application errors.
var (
	// Database errors.
	ErrNotFound          = errors.New("not found")
	ErrDuplicateEntry    = errors.New("duplicate entry")
	ErrDatabaseCorrupted = errors.New("database corrupted")

	// Classification errors.
	ErrNoDocuments          = errors.New("no documents to classify")
	ErrClassificationFailed = errors.New("classification failed")
	ErrInvalidChoice        = errors.New("reasoning service returned an option outside the offered set")
	ErrServiceUnavailable   = errors.New("reasoning service unavailable")

	// Review errors.
	ErrConflict   = errors.New("record is not pending confirmation")
	ErrValidation = errors.New("validation failed")

	// Configuration errors.
	ErrMissingConfig = errors.New("missing configuration")
	ErrInvalidConfig = errors.New("invalid configuration")
)

// UserError represents an error that should be shown to the user.
type UserError struct {
	Err         error
	UserMessage string
}

func (e *UserError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.UserMessage, e.Err)
	}
	return e.UserMessage
}

func (e *UserError) Unwrap() error {
	return e.Err
}

// NewUserError creates a new user-friendly error.
func NewUserError(userMessage string, err error) error {
	return &UserError{
		UserMessage: userMessage,
		Err:         err,
	}
}

// ValidationError is returned for input that can never succeed, such as a
// corrected code that is not in the catalog. It is never retried.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("validation failed: %s", e.Message)
	}
	return fmt.Sprintf("validation failed: %s: %s", e.Field, e.Message)
}

// Is lets errors.Is(err, ErrValidation) match any ValidationError.
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// NewValidationError creates a ValidationError for the given field.
func NewValidationError(field, format string, args ...any) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// ConflictError reports a confirm/correct against a record that already left
// pending_confirmation.
type ConflictError struct {
	DocumentID    string
	CurrentStatus string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("conflict: document %s has status %q, expected pending_confirmation", e.DocumentID, e.CurrentStatus)
}

// Is lets errors.Is(err, ErrConflict) match any ConflictError.
func (e *ConflictError) Is(target error) bool {
	return target == ErrConflict
}

// TransientServiceError wraps rate-limit and overload responses from an
// external service. These are the only errors retried with backoff.
type TransientServiceError struct {
	Err        error
	StatusCode int
}

func (e *TransientServiceError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("transient service error (status %d): %v", e.StatusCode, e.Err)
	}
	return fmt.Sprintf("transient service error: %v", e.Err)
}

func (e *TransientServiceError) Unwrap() error {
	return e.Err
}

// TimeoutError marks a pipeline run that exceeded its hard deadline.
type TimeoutError struct {
	DocumentID string
	Limit      string
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("document %s exceeded run timeout of %s", e.DocumentID, e.Limit)
}

// Is lets errors.Is(err, context.DeadlineExceeded) match a TimeoutError.
func (e *TimeoutError) Is(target error) bool {
	return target == context.DeadlineExceeded
}

// IsTransient reports whether err is a rate-limit or overload response.
func IsTransient(err error) bool {
	var transient *TransientServiceError
	return errors.As(err, &transient) || errors.Is(err, ErrRateLimit)
}
