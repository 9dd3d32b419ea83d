// Package shared contains the error taxonomy used across the bot's domain
// packages. This package has zero external dependencies.
package shared

import (
	"errors"
	"fmt"
)

// Base error kinds that can be used for error checking with errors.Is().
var (
	// Entity errors
	ErrNotFound      = errors.New("entity not found")
	ErrAlreadyExists = errors.New("entity already exists")

	// Validation errors
	ErrInvalidInput = errors.New("invalid input")
	ErrEmptyValue   = errors.New("value cannot be empty")

	// State errors
	ErrInvalidState = errors.New("invalid state")

	// Authorization errors
	ErrUnauthorized = errors.New("unauthorized")

	// External service errors
	ErrServiceUnavailable = errors.New("service unavailable")
	ErrTimeout            = errors.New("operation timeout")
	ErrRateLimited        = errors.New("rate limited")
)

// DomainError represents a domain-specific error with context.
type DomainError struct {
	Domain  string // e.g., "account", "coursework", "moodle"
	Op      string // Operation that failed, e.g., "Register", "GetHomework"
	Kind    error  // Base error type for errors.Is() checking
	Message string // Human-readable message
	Err     error  // Underlying error (optional)
}

// Error implements the error interface.
func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s.%s: %s: %v", e.Domain, e.Op, e.Message, e.Err)
	}
	return fmt.Sprintf("%s.%s: %s", e.Domain, e.Op, e.Message)
}

// Unwrap returns the underlying error for errors.Unwrap().
func (e *DomainError) Unwrap() error {
	if e.Err != nil {
		return e.Err
	}
	return e.Kind
}

// Is implements errors.Is() matching.
func (e *DomainError) Is(target error) bool {
	if e.Kind != nil && errors.Is(e.Kind, target) {
		return true
	}
	if e.Err != nil && errors.Is(e.Err, target) {
		return true
	}
	return false
}

// NewDomainError creates a new domain error.
func NewDomainError(domain, op string, kind error, message string) *DomainError {
	return &DomainError{
		Domain:  domain,
		Op:      op,
		Kind:    kind,
		Message: message,
	}
}

// WrapError wraps an existing error with domain context.
func WrapError(domain, op string, kind error, message string, err error) *DomainError {
	return &DomainError{
		Domain:  domain,
		Op:      op,
		Kind:    kind,
		Message: message,
		Err:     err,
	}
}

// Account domain errors
var (
	ErrAuthFailure            = NewDomainError("account", "AcquireToken", ErrUnauthorized, "invalid Moodle login")
	ErrNotRegistered          = NewDomainError("account", "FetchToken", ErrNotFound, "user is not registered")
	ErrAlreadyRegistered      = NewDomainError("account", "Register", ErrAlreadyExists, "user is already registered")
	ErrRegistrationInProgress = NewDomainError("account", "Register", ErrInvalidState, "registration already in progress")
	ErrTimedOut               = NewDomainError("account", "Register", ErrTimeout, "registration timed out")
)

// Coursework domain errors
var (
	ErrCourseNotFound    = NewDomainError("coursework", "GetCourseInfo", ErrNotFound, "course not found")
	ErrRemoteUnavailable = NewDomainError("moodle", "Request", ErrServiceUnavailable, "Moodle returned an unexpected response")
)

// IsNotFound checks if the error is a "not found" error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsExternalService checks if the error is from an external service.
func IsExternalService(err error) bool {
	return errors.Is(err, ErrServiceUnavailable) ||
		errors.Is(err, ErrTimeout) ||
		errors.Is(err, ErrRateLimited)
}
