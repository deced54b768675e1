// Package shared contains common domain types, errors, and events
// that are used across all domain packages. This package has zero external dependencies.
package shared

import (
	"errors"
	"fmt"
)

// Base domain errors that can be used for error checking with errors.Is().
var (
	// Entity errors
	ErrNotFound      = errors.New("entity not found")
	ErrAlreadyExists = errors.New("entity already exists")

	// Validation errors
	ErrValidation      = errors.New("validation error")
	ErrInvalidID       = errors.New("invalid ID")
	ErrInvalidInput    = errors.New("invalid input")
	ErrNegativeValue   = errors.New("value cannot be negative")
	ErrValueOutOfRange = errors.New("value out of range")

	// State errors
	ErrInvalidState    = errors.New("invalid state")
	ErrStateTransition = errors.New("invalid state transition")

	// Economy errors
	ErrLimitExceeded = errors.New("limit exceeded")

	// Concurrency errors
	ErrConcurrentModification = errors.New("concurrent modification detected")
	ErrOptimisticLock         = errors.New("optimistic lock failure")

	// External service errors
	ErrServiceUnavailable = errors.New("service unavailable")
	ErrTimeout            = errors.New("operation timeout")
)

// DomainError represents a domain-specific error with context.
type DomainError struct {
	Domain  string // e.g., "student", "product", "group"
	Op      string // Operation that failed, e.g., "Purchase", "Deactivate"
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

// Student domain errors
var (
	ErrStudentNotFound      = NewDomainError("student", "Find", ErrNotFound, "student not found")
	ErrStudentAlreadyExists = NewDomainError("student", "Create", ErrAlreadyExists, "student already exists")
	ErrInsufficientBalance  = NewDomainError("student", "Debit", ErrLimitExceeded, "insufficient balance")
)

// Product domain errors
var (
	ErrProductNotFound      = NewDomainError("product", "Find", ErrNotFound, "product not found")
	ErrProductAlreadyExists = NewDomainError("product", "Create", ErrAlreadyExists, "product already exists")
	ErrInsufficientStock    = NewDomainError("product", "Reserve", ErrLimitExceeded, "insufficient stock")
)

// Group domain errors
var (
	ErrGroupNotFound      = NewDomainError("group", "Find", ErrNotFound, "group not found")
	ErrGroupAlreadyExists = NewDomainError("group", "Create", ErrAlreadyExists, "group already exists")
	ErrAlreadyInactive    = NewDomainError("group", "Deactivate", ErrStateTransition, "group is already inactive")
	ErrGroupInactive      = NewDomainError("group", "CheckStatus", ErrInvalidState, "group is inactive")
)

// Activity domain errors
var (
	ErrActivityNotFound         = NewDomainError("activity", "Find", ErrNotFound, "activity not found")
	ErrActivityAlreadyCompleted = NewDomainError("activity", "Complete", ErrAlreadyExists, "activity already completed by student")
	ErrActivityInactive         = NewDomainError("activity", "Complete", ErrInvalidState, "activity is inactive")
)

// Ledger errors
var (
	ErrInvalidQuantity  = NewDomainError("ledger", "Validate", ErrValueOutOfRange, "quantity must be positive")
	ErrInvalidAmount    = NewDomainError("ledger", "Validate", ErrNegativeValue, "amount cannot be negative")
	ErrContention       = NewDomainError("ledger", "Commit", ErrConcurrentModification, "transaction retries exhausted")
	ErrStoreConflict    = NewDomainError("store", "Commit", ErrOptimisticLock, "record changed since read")
	ErrStoreUnavailable = NewDomainError("store", "Request", ErrServiceUnavailable, "entity store unavailable")
)

// StoreFailure wraps a collaborator I/O error so that it matches ErrStoreUnavailable
// while keeping the original error in the chain.
func StoreFailure(op string, err error) error {
	if err == nil {
		return nil
	}
	return WrapError("store", op, ErrStoreUnavailable, "entity store unavailable", err)
}

// IsNotFound checks if the error is a "not found" error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsAlreadyExists checks if the error is an "already exists" error.
func IsAlreadyExists(err error) bool {
	return errors.Is(err, ErrAlreadyExists)
}

// IsValidation checks if the error is a validation error.
func IsValidation(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrInvalidID) ||
		errors.Is(err, ErrInvalidInput) ||
		errors.Is(err, ErrNegativeValue) ||
		errors.Is(err, ErrValueOutOfRange)
}

// IsConflict reports whether an optimistic commit lost against a concurrent writer.
func IsConflict(err error) bool {
	return errors.Is(err, ErrOptimisticLock)
}

// IsRetryable checks if the operation can be retried.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrOptimisticLock) ||
		errors.Is(err, ErrTimeout)
}
