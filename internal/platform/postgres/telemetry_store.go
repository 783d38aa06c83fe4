package postgres

import (
	"context"
	"log/slog"

	"github.com/phrazzld/carsync-api/internal/domain"
	"github.com/phrazzld/carsync-api/internal/platform/logger"
	"github.com/phrazzld/carsync-api/internal/store"
)

// PostgresTelemetryStore implements the store.TelemetryStore interface.
type PostgresTelemetryStore struct {
	db     store.DBTX
	logger *slog.Logger
}

// NewPostgresTelemetryStore creates a new PostgreSQL implementation of the TelemetryStore interface.
func NewPostgresTelemetryStore(db store.DBTX, logger *slog.Logger) *PostgresTelemetryStore {
	if db == nil {
		panic("db cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresTelemetryStore{
		db:     db,
		logger: logger.With(slog.String("component", "telemetry_store")),
	}
}

var _ store.TelemetryStore = (*PostgresTelemetryStore)(nil)

// Save implements store.TelemetryStore.Save.
func (s *PostgresTelemetryStore) Save(ctx context.Context, snapshot *domain.TelemetrySnapshot) error {
	query := `
		INSERT INTO telemetry_snapshots (
			vehicle_id, odometer_km, fuel_percent, battery_percent, engine_on,
			latitude, longitude, model_name, model_year, captured_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	_, err := s.db.ExecContext(ctx, query,
		snapshot.VehicleID,
		snapshot.OdometerKm,
		snapshot.FuelPercent,
		snapshot.BatteryPercent,
		snapshot.EngineOn,
		snapshot.Latitude,
		snapshot.Longitude,
		snapshot.ModelName,
		snapshot.ModelYear,
		snapshot.CapturedAt,
	)
	if err != nil {
		logger.FromContextOrDefault(ctx, s.logger).Error("failed to save telemetry snapshot",
			slog.String("error", err.Error()),
			slog.String("vehicle_id", snapshot.VehicleID))
		return MapError(err)
	}
	return nil
}
