// Package apiclient wraps every outbound call to the AI diagnosis server and
// the cloud vehicle-data providers.
//
// Calls are grouped into classes (inference, token, status, data), each with
// its own connect and read timeouts. Transient failures are retried a bounded
// number of times with a short exponential delay; the caller always receives
// an Outcome that is either a value or a classified CallError.
//
// The package also owns the provider OAuth strategies and the TokenCache that
// collapses concurrent token refreshes for a provider into a single exchange.
package apiclient
