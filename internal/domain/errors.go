// Package domain defines the core business entities and errors.
package domain

import "errors"

// Common domain errors used across the application.
var (
	// ErrValidation is returned when a domain entity fails validation.
	// This is often wrapped with a more specific error message.
	ErrValidation = errors.New("validation failed")

	// ErrInvalidID is returned when an ID is malformed or invalid.
	ErrInvalidID = errors.New("invalid ID")

	// ErrInvalidTriggerKind is returned when a trigger kind is not one of the known kinds.
	ErrInvalidTriggerKind = errors.New("invalid trigger kind")

	// ErrInvalidSessionStatus is returned when a session status is not valid.
	ErrInvalidSessionStatus = errors.New("invalid session status")

	// ErrInvalidTransition is returned when a status change would move a
	// session backwards or out of a terminal state.
	ErrInvalidTransition = errors.New("invalid session status transition")

	// ErrInvalidRiskLevel is returned when a risk level is not recognised.
	ErrInvalidRiskLevel = errors.New("invalid risk level")

	// ErrInvalidProvider is returned when a cloud provider is not supported.
	ErrInvalidProvider = errors.New("invalid cloud provider")

	// ErrNoVIN is returned when a vehicle has not been linked to a VIN yet.
	ErrNoVIN = errors.New("vehicle has no VIN linkage")
)
