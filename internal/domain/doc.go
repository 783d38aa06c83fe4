// Package domain holds the carsync entities: diagnosis sessions and their
// lifecycle, diagnosis results, vehicles, linked cloud accounts and
// telemetry snapshots. It has no knowledge of storage or transport.
package domain
