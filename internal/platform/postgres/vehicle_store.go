package postgres

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"

	"github.com/phrazzld/carsync-api/internal/domain"
	"github.com/phrazzld/carsync-api/internal/platform/logger"
	"github.com/phrazzld/carsync-api/internal/store"
)

// PostgresVehicleStore implements the read-only store.VehicleStore interface.
type PostgresVehicleStore struct {
	db     store.DBTX
	logger *slog.Logger
}

// NewPostgresVehicleStore creates a new PostgreSQL implementation of the VehicleStore interface.
func NewPostgresVehicleStore(db store.DBTX, logger *slog.Logger) *PostgresVehicleStore {
	if db == nil {
		panic("db cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresVehicleStore{
		db:     db,
		logger: logger.With(slog.String("component", "vehicle_store")),
	}
}

var _ store.VehicleStore = (*PostgresVehicleStore)(nil)

// GetByID implements store.VehicleStore.GetByID.
func (s *PostgresVehicleStore) GetByID(ctx context.Context, id string) (*domain.Vehicle, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, user_id, provider, encrypted_vin FROM vehicles WHERE id = $1`, id)

	vehicle, err := scanVehicle(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrVehicleNotFound
		}
		logger.FromContextOrDefault(ctx, s.logger).Error("failed to get vehicle",
			slog.String("error", err.Error()),
			slog.String("vehicle_id", id))
		return nil, MapError(err)
	}
	return vehicle, nil
}

// ListByOwner implements store.VehicleStore.ListByOwner.
func (s *PostgresVehicleStore) ListByOwner(
	ctx context.Context,
	userID string,
	provider domain.Provider,
) ([]*domain.Vehicle, error) {
	return s.list(ctx, `
		SELECT id, user_id, provider, encrypted_vin
		FROM vehicles
		WHERE user_id = $1 AND provider = $2
		ORDER BY id
	`, userID, string(provider))
}

// ListLinked implements store.VehicleStore.ListLinked.
func (s *PostgresVehicleStore) ListLinked(ctx context.Context) ([]*domain.Vehicle, error) {
	return s.list(ctx, `
		SELECT v.id, v.user_id, v.provider, v.encrypted_vin
		FROM vehicles v
		JOIN cloud_accounts a ON a.user_id = v.user_id AND a.provider = v.provider
		WHERE v.encrypted_vin IS NOT NULL
		ORDER BY v.id
	`)
}

func (s *PostgresVehicleStore) list(ctx context.Context, query string, args ...any) ([]*domain.Vehicle, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		logger.FromContextOrDefault(ctx, s.logger).Error("failed to list vehicles",
			slog.String("error", err.Error()))
		return nil, MapError(err)
	}
	defer func() { _ = rows.Close() }()

	vehicles := []*domain.Vehicle{}
	for rows.Next() {
		vehicle, err := scanVehicle(rows)
		if err != nil {
			return nil, MapError(err)
		}
		vehicles = append(vehicles, vehicle)
	}
	if err := rows.Err(); err != nil {
		return nil, MapError(err)
	}
	return vehicles, nil
}

func scanVehicle(row rowScanner) (*domain.Vehicle, error) {
	var (
		vehicle  domain.Vehicle
		provider string
	)
	if err := row.Scan(&vehicle.ID, &vehicle.UserID, &provider, &vehicle.EncryptedVIN); err != nil {
		return nil, err
	}
	vehicle.Provider = domain.Provider(provider)
	return &vehicle, nil
}
