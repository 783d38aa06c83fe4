package domain

import "time"

// Vehicle is the orchestrator's read-only view of a registered vehicle.
// EncryptedVIN is nil until the owner links the vehicle to a provider.
type Vehicle struct {
	ID           string   `json:"id"`
	UserID       string   `json:"user_id"`
	Provider     Provider `json:"provider"`
	EncryptedVIN []byte   `json:"-"`
}

// HasVIN reports whether the vehicle has been linked to a VIN.
func (v *Vehicle) HasVIN() bool {
	return len(v.EncryptedVIN) > 0
}

// TelemetrySnapshot holds the state fetched from a provider during a full sync.
type TelemetrySnapshot struct {
	VehicleID      string    `json:"vehicle_id"`
	OdometerKm     float64   `json:"odometer_km"`
	FuelPercent    *float64  `json:"fuel_percent,omitempty"`
	BatteryPercent *float64  `json:"battery_percent,omitempty"`
	EngineOn       bool      `json:"engine_on"`
	Latitude       *float64  `json:"latitude,omitempty"`
	Longitude      *float64  `json:"longitude,omitempty"`
	ModelName      string    `json:"model_name,omitempty"`
	ModelYear      int       `json:"model_year,omitempty"`
	CapturedAt     time.Time `json:"captured_at"`
}
