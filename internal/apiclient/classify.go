package apiclient

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"

	"github.com/phrazzld/carsync-api/internal/redact"
	"golang.org/x/oauth2"
)

// maxErrorBody bounds how much of an error response body is kept.
const maxErrorBody = 512

// StatusError is returned for a completed request whose status is not 2xx.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("unexpected status %d", e.StatusCode)
	}
	return fmt.Sprintf("unexpected status %d: %s", e.StatusCode, e.Body)
}

// CheckResponse returns a StatusError for non-2xx responses.
// The body is read (bounded) and redacted but not closed.
func CheckResponse(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	return &StatusError{StatusCode: resp.StatusCode, Body: redact.String(string(body))}
}

// TransientStatus reports whether an HTTP status is worth retrying.
func TransientStatus(code int) bool {
	return code >= 500 || code == http.StatusRequestTimeout || code == http.StatusTooManyRequests
}

// Classify reports whether err is transient and the HTTP status it carried.
// Network errors, timeouts, 5xx, 408 and 429 are transient; every other
// status and any decoding or request-building failure is permanent.
func Classify(err error) (transient bool, status int) {
	if err == nil {
		return false, 0
	}

	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return TransientStatus(statusErr.StatusCode), statusErr.StatusCode
	}

	var retrieveErr *oauth2.RetrieveError
	if errors.As(err, &retrieveErr) {
		if retrieveErr.Response == nil {
			return true, 0
		}
		code := retrieveErr.Response.StatusCode
		return TransientStatus(code), code
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true, 0
	}
	if errors.Is(err, io.ErrUnexpectedEOF) {
		return true, 0
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true, 0
	}

	return false, 0
}
