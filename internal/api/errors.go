package api

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/phrazzld/carsync-api/internal/api/shared"
	"github.com/phrazzld/carsync-api/internal/cloudsync"
	"github.com/phrazzld/carsync-api/internal/domain"
	"github.com/phrazzld/carsync-api/internal/store"
)

// MapErrorToStatusCode maps internal errors to appropriate HTTP status codes
// based on the error type. This prevents leaking internal error types or
// messages to clients.
func MapErrorToStatusCode(err error) int {
	var validationErrs validator.ValidationErrors
	switch {
	case errors.As(err, &validationErrs),
		errors.Is(err, shared.ErrEmptyBody),
		errors.Is(err, domain.ErrValidation),
		errors.Is(err, domain.ErrInvalidID),
		errors.Is(err, domain.ErrInvalidTriggerKind),
		errors.Is(err, domain.ErrInvalidProvider),
		errors.Is(err, domain.ErrEmptyVehicleID),
		errors.Is(err, domain.ErrEmptyAccountUserID),
		errors.Is(err, cloudsync.ErrEmptyAuthCode),
		errors.Is(err, store.ErrInvalidEntity):
		return http.StatusBadRequest

	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound

	case errors.Is(err, domain.ErrNoVIN):
		return http.StatusConflict

	case errors.Is(err, cloudsync.ErrLinkFailed):
		return http.StatusBadGateway

	default:
		return http.StatusInternalServerError
	}
}

// GetSafeErrorMessage returns a sanitized, user-friendly error message
// based on the error type. This prevents leaking sensitive internal details.
func GetSafeErrorMessage(err error) string {
	if err == nil {
		return "An unexpected error occurred"
	}

	var validationErrs validator.ValidationErrors
	switch {
	case errors.As(err, &validationErrs):
		return SanitizeValidationError(validationErrs)
	case errors.Is(err, shared.ErrEmptyBody):
		return "Request body is required"
	case errors.Is(err, domain.ErrInvalidID):
		return "Invalid ID format"
	case errors.Is(err, domain.ErrInvalidTriggerKind):
		return "Invalid trigger kind"
	case errors.Is(err, domain.ErrInvalidProvider):
		return "Unsupported cloud provider"
	case errors.Is(err, domain.ErrEmptyVehicleID):
		return "Vehicle ID is required"
	case errors.Is(err, domain.ErrEmptyAccountUserID):
		return "Missing user in state parameter"
	case errors.Is(err, cloudsync.ErrEmptyAuthCode):
		return "Missing authorization code"
	case errors.Is(err, domain.ErrValidation), errors.Is(err, store.ErrInvalidEntity):
		return "Invalid request data"

	case errors.Is(err, store.ErrSessionNotFound):
		return "Diagnosis session not found"
	case errors.Is(err, store.ErrVehicleNotFound):
		return "Vehicle not found"
	case errors.Is(err, store.ErrAccountNotFound):
		return "Cloud account not found"
	case errors.Is(err, store.ErrNotFound):
		return "Resource not found"

	case errors.Is(err, domain.ErrNoVIN):
		return "Vehicle is not linked to a VIN"
	case errors.Is(err, cloudsync.ErrLinkFailed):
		return "Failed to link cloud account"

	default:
		return "An unexpected error occurred"
	}
}

// SanitizeValidationError describes the first failed field of a validation
// error without echoing the submitted value.
func SanitizeValidationError(errs validator.ValidationErrors) string {
	if len(errs) == 0 {
		return "Validation error"
	}
	fe := errs[0]
	return fmt.Sprintf("Invalid %s: %s", fe.Field(), getValidationTagMessage(fe.Tag()))
}

// getValidationTagMessage maps validation tags to user-friendly error messages
func getValidationTagMessage(tag string) string {
	switch tag {
	case "required":
		return "required field"
	case "min":
		return "too short"
	case "max":
		return "too long"
	case "oneof":
		return "invalid value"
	case "alphanum":
		return "must be alphanumeric"
	default:
		return "validation failed"
	}
}

// HandleAPIError writes the status and safe message for err. A non-empty
// message overrides the derived one.
func HandleAPIError(w http.ResponseWriter, r *http.Request, err error, message string) {
	status := MapErrorToStatusCode(err)
	if message == "" {
		message = GetSafeErrorMessage(err)
	}
	shared.RespondWithErrorAndLog(w, r, status, message, err)
}
