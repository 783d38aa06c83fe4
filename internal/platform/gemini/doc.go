// Package gemini writes diagnosis reports with Google's Gemini API.
//
// Narrator turns the structured findings of a diagnosis into a short
// report for the vehicle owner. It renders an embedded prompt template,
// calls the model, and retries transient API failures with exponential
// backoff. Content blocked by safety filters and empty responses are
// permanent failures, and callers are expected to fall back to a
// template-rendered report.
package gemini
