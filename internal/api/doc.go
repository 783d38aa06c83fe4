// Package api serves the orchestrator's HTTP surface: submitting and reading
// diagnoses, requesting vehicle syncs, and completing provider account links.
// Handlers translate HTTP concerns to the diagnosis and cloudsync services and
// never expose internal error text to clients.
package api
