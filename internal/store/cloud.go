package store

import (
	"context"
	"time"

	"github.com/phrazzld/carsync-api/internal/domain"
)

// CloudAccountStore defines the interface for linked provider accounts.
type CloudAccountStore interface {
	// Upsert creates the account or replaces its tokens and expiry.
	Upsert(ctx context.Context, account *domain.CloudAccount) error

	// Get retrieves the account a user linked for a provider.
	// Returns ErrAccountNotFound if the user has not linked it.
	Get(ctx context.Context, userID string, provider domain.Provider) (*domain.CloudAccount, error)

	// MarkSynced records the time of a successful full sync.
	// Returns ErrAccountNotFound if the account does not exist.
	MarkSynced(ctx context.Context, userID string, provider domain.Provider, at time.Time) error
}

// VehicleStore is the orchestrator's read-only view of registered vehicles.
type VehicleStore interface {
	// GetByID retrieves a vehicle.
	// Returns ErrVehicleNotFound if it does not exist.
	GetByID(ctx context.Context, id string) (*domain.Vehicle, error)

	// ListByOwner returns the user's vehicles registered with provider.
	ListByOwner(ctx context.Context, userID string, provider domain.Provider) ([]*domain.Vehicle, error)

	// ListLinked returns every vehicle that has a VIN and whose owner has
	// linked the vehicle's provider.
	ListLinked(ctx context.Context) ([]*domain.Vehicle, error)
}

// TelemetryStore persists snapshots produced by a full sync.
type TelemetryStore interface {
	Save(ctx context.Context, snapshot *domain.TelemetrySnapshot) error
}
