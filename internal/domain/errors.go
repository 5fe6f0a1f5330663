package domain

import (
	"errors"
	"fmt"
)

// Common domain errors that can occur during arena operations.
var (
	// ErrSessionNotFound indicates that no battle or tournament exists for
	// the requested id. Expired sessions are indistinguishable from ids that
	// never existed.
	ErrSessionNotFound = errors.New("session not found")

	// ErrInvalidChoice indicates that a vote value is not one of the
	// accepted choices.
	ErrInvalidChoice = errors.New("invalid choice")

	// ErrInvalidRequest indicates a malformed caller request.
	ErrInvalidRequest = errors.New("invalid request")

	// ErrSessionCompleted indicates a mutation was attempted on a
	// tournament that already produced its final ranking.
	ErrSessionCompleted = errors.New("session already completed")

	// ErrAlreadyVoted indicates a second vote on a battle whose preference
	// has already been recorded.
	ErrAlreadyVoted = errors.New("battle already voted")

	// ErrNoCandidate indicates that the matchup selector found no opponent
	// while more than one contender remained. This is a structural defect.
	ErrNoCandidate = errors.New("no matchup candidate available")

	// ErrNoCurrentPair indicates a round was recorded with no pair set.
	ErrNoCurrentPair = errors.New("no current pair")

	// ErrInvalidConfiguration indicates that configuration is invalid or incomplete.
	ErrInvalidConfiguration = errors.New("invalid configuration")
)

// SessionError represents an error that occurred while operating on a
// battle or tournament. It records which session and operation failed.
type SessionError struct {
	// SessionID is the battle or tournament id involved in the failure.
	SessionID string

	// Operation describes what was being performed when the error occurred.
	Operation string

	// Err is the underlying error that caused the operation to fail.
	Err error
}

// Error implements the error interface for SessionError.
func (e *SessionError) Error() string {
	return fmt.Sprintf("session error: operation=%s, session=%s, err=%v", e.Operation, e.SessionID, e.Err)
}

// Unwrap returns the underlying error, supporting errors.Is and errors.As.
func (e *SessionError) Unwrap() error { return e.Err }

// NewSessionError creates a new SessionError with the given details.
func NewSessionError(sessionID, operation string, err error) *SessionError {
	return &SessionError{
		SessionID: sessionID,
		Operation: operation,
		Err:       err,
	}
}

// ValidationError represents a caller-facing validation failure.
// It can contain multiple validation messages and an optional sentinel
// cause so callers can match it with errors.Is.
type ValidationError struct {
	// Entity is the name of the entity that failed validation.
	Entity string

	// Errors contains the list of validation error messages.
	Errors []string

	// Cause is the sentinel error classifying the failure.
	Cause error
}

// Error implements the error interface for ValidationError.
func (e *ValidationError) Error() string {
	if len(e.Errors) == 1 {
		return fmt.Sprintf("validation error for %s: %s", e.Entity, e.Errors[0])
	}
	return fmt.Sprintf("validation errors for %s: %v", e.Entity, e.Errors)
}

// Unwrap returns the sentinel cause.
func (e *ValidationError) Unwrap() error { return e.Cause }

// AddError adds a new error message to the validation error.
func (e *ValidationError) AddError(msg string) { e.Errors = append(e.Errors, msg) }

// HasErrors returns true if there are any validation errors.
func (e *ValidationError) HasErrors() bool { return len(e.Errors) > 0 }

// NewValidationError creates a new ValidationError for the given entity
// classified by cause.
func NewValidationError(entity string, cause error) *ValidationError {
	return &ValidationError{
		Entity: entity,
		Errors: make([]string, 0),
		Cause:  cause,
	}
}

// IsValidation reports whether err is a caller-facing validation failure.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
