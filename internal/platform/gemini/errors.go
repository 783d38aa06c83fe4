package gemini

import "errors"

// Error definitions for the gemini package.
var (
	// ErrInvalidConfig is returned when the narrator cannot be built from its configuration.
	ErrInvalidConfig = errors.New("invalid gemini configuration")

	// ErrEmptyFindings is returned when there is nothing to narrate.
	ErrEmptyFindings = errors.New("findings cannot be empty")

	// ErrEmptyResponse is returned when the model produces no text.
	ErrEmptyResponse = errors.New("gemini returned no content")

	// ErrContentBlocked is returned when safety filters withheld the response.
	ErrContentBlocked = errors.New("gemini response blocked by safety filters")
)
