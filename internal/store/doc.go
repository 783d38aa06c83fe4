// Package store defines interfaces for data persistence operations.
// These interfaces abstract the underlying data storage mechanism from
// the orchestration logic: diagnosis sessions and results, linked cloud
// accounts, the read-only vehicle view and telemetry snapshots.
package store
