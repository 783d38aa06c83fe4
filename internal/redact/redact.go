// Package redact removes credentials and personal data from strings before
// they are logged or returned in error responses. Provider error bodies, OAuth
// callback parameters and connection errors all pass through it.
package redact

import "regexp"

// Constants for redaction placeholders
const (
	RedactionPlaceholder          = "[REDACTED]"
	RedactedPathPlaceholder       = "[REDACTED_PATH]"
	RedactedCredentialPlaceholder = "[REDACTED_CREDENTIAL]"
	RedactedKeyPlaceholder        = "[REDACTED_KEY]"
	RedactedTokenPlaceholder      = "[REDACTED_TOKEN]"
	RedactedVINPlaceholder        = "[REDACTED_VIN]"
	RedactedEmailPlaceholder      = "[REDACTED_EMAIL]"
)

// rule replaces matches of re with replacement, which may refer to groups.
type rule struct {
	re          *regexp.Regexp
	replacement string
}

// Rules run in order.
var rules = []rule{
	// user:password@ in any URL (postgres, amqp, https ...)
	{regexp.MustCompile(`(?i)\b([a-z][a-z0-9+.-]*://)[^/@\s:]+:[^/@\s]+@`), "${1}" + RedactedCredentialPlaceholder + "@"},
	// Authorization headers
	{regexp.MustCompile(`(?i)\b(bearer|basic)\s+[A-Za-z0-9._~+/=-]{8,}`), "${1} " + RedactedTokenPlaceholder},
	// Standalone JWTs
	{regexp.MustCompile(`eyJ[a-zA-Z0-9_-]+\.eyJ[a-zA-Z0-9_-]+\.[a-zA-Z0-9_-]+`), "[REDACTED_JWT]"},
	// OAuth and credential fields in query strings, form bodies and JSON
	{
		regexp.MustCompile(`(?i)("?\b(?:access_token|refresh_token|id_token|client_secret|code|password|passwd|api[_-]?key|secret)"?\s*[:=]\s*"?)[^"&\s,}]+`),
		"${1}" + RedactionPlaceholder,
	},
	{regexp.MustCompile(`(AKIA|AccessKey(Id)?)([^a-zA-Z0-9])?[A-Z0-9]{8,}`), RedactedKeyPlaceholder},
	// Vehicle identification numbers: 17 characters, no I, O or Q
	{regexp.MustCompile(`\b[A-HJ-NPR-Z0-9]{17}\b`), RedactedVINPlaceholder},
	{regexp.MustCompile(`\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}\b`), RedactedEmailPlaceholder},
	{regexp.MustCompile(`(?:goroutine \d+|panic:)[\s\S]*?(\n\t.*)+`), "[STACK_TRACE_REDACTED]"},
	{regexp.MustCompile(`(^|\s)(?:/[\w.-]+){2,}`), "${1}" + RedactedPathPlaceholder},
	{regexp.MustCompile(`[A-Za-z]:\\[^\\]+(\\[^\\]+)+`), RedactedPathPlaceholder},
}

// String redacts sensitive information from the input string
func String(input string) string {
	if input == "" {
		return input
	}

	result := input
	for _, r := range rules {
		result = r.re.ReplaceAllString(result, r.replacement)
	}
	return result
}

// Error redacts sensitive information from an error's Error() output
func Error(err error) string {
	if err == nil {
		return ""
	}
	return String(err.Error())
}

// Payload redacts a response body and truncates it to max bytes.
func Payload(body []byte, max int) string {
	if max > 0 && len(body) > max {
		return String(string(body[:max])) + "...(truncated)"
	}
	return String(string(body))
}
