package store

import (
	"errors"
	"fmt"
)

// Common store errors used across all store implementations.
var (
	// ErrNotFound is returned when a requested entity does not exist in the store.
	// Entity-specific not found errors wrap it.
	ErrNotFound = errors.New("entity not found")

	// ErrDuplicate is returned when an operation would create a duplicate
	// of a unique entity.
	ErrDuplicate = errors.New("entity already exists")

	// ErrInvalidEntity is returned when an entity fails validation before
	// being stored. Check the wrapped error for specific validation details.
	ErrInvalidEntity = errors.New("invalid entity")

	// ErrUpdateFailed is returned when an update operation matched no row it
	// was allowed to change.
	ErrUpdateFailed = errors.New("update failed")

	// ErrTransactionFailed is returned when a database transaction fails
	// to commit or when an operation within a transaction fails.
	ErrTransactionFailed = errors.New("transaction failed")

	// Entity-specific "not found" errors

	// ErrSessionNotFound indicates that the requested diagnosis session does not exist.
	ErrSessionNotFound = fmt.Errorf("%w: diagnosis session", ErrNotFound)

	// ErrResultNotFound indicates that no result has been stored for a session.
	ErrResultNotFound = fmt.Errorf("%w: diagnosis result", ErrNotFound)

	// ErrAccountNotFound indicates that the user has not linked the provider.
	ErrAccountNotFound = fmt.Errorf("%w: cloud account", ErrNotFound)

	// ErrVehicleNotFound indicates that the requested vehicle does not exist.
	ErrVehicleNotFound = fmt.Errorf("%w: vehicle", ErrNotFound)

	// Entity-specific "duplicate" errors

	// ErrOpenSessionExists is returned when a second open session would be
	// created for the same vehicle and trigger kind.
	ErrOpenSessionExists = fmt.Errorf("%w: open diagnosis session", ErrDuplicate)

	// ErrResultExists is returned when a session already has a result.
	ErrResultExists = fmt.Errorf("%w: diagnosis result", ErrDuplicate)

	// ErrStaleStatus is returned by conditional status updates when the
	// session is no longer in a state the requested transition may leave.
	ErrStaleStatus = fmt.Errorf("%w: session status changed", ErrUpdateFailed)
)

// IsNotFoundError checks if the error is any kind of "not found" error.
func IsNotFoundError(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsDuplicateError checks if the error is any kind of "duplicate" error.
func IsDuplicateError(err error) bool {
	return errors.Is(err, ErrDuplicate)
}

// StoreError is a custom error type for store-specific errors with additional context.
type StoreError struct {
	Entity    string // The entity type (e.g., "session", "account")
	Operation string // The operation that failed (e.g., "create", "update")
	Message   string // Error message
	Err       error  // Original error
}

// Error implements the error interface for StoreError.
func (e *StoreError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf(
			"%s operation on %s failed: %s: %v",
			e.Operation,
			e.Entity,
			e.Message,
			e.Err,
		)
	}
	return fmt.Sprintf("%s operation on %s failed: %s", e.Operation, e.Entity, e.Message)
}

// Unwrap returns the wrapped error to support errors.Is/errors.As.
func (e *StoreError) Unwrap() error {
	return e.Err
}

// NewStoreError creates a new StoreError with the given entity, operation, message, and wrapped error.
func NewStoreError(entity, operation, message string, err error) *StoreError {
	return &StoreError{
		Entity:    entity,
		Operation: operation,
		Message:   message,
		Err:       err,
	}
}
