package api

import (
	"time"

	"github.com/phrazzld/carsync-api/internal/domain"
)

// SubmitDiagnosisRequest is the body of POST /api/vehicles/{vehicleID}/diagnoses.
type SubmitDiagnosisRequest struct {
	TriggerKind string   `json:"trigger_kind" validate:"required,oneof=MANUAL DTC ANOMALY ROUTINE"`
	TripID      *string  `json:"trip_id,omitempty" validate:"omitempty,min=1,max=128"`
	ImageRef    string   `json:"image_ref,omitempty" validate:"omitempty,max=2048"`
	AudioRef    string   `json:"audio_ref,omitempty" validate:"omitempty,max=2048"`
	DTCCodes    []string `json:"dtc_codes,omitempty" validate:"omitempty,max=50,dive,required,alphanum,max=16"`
}

// SessionResponse represents a diagnosis session.
type SessionResponse struct {
	ID            string    `json:"id"`
	VehicleID     string    `json:"vehicle_id"`
	TripID        *string   `json:"trip_id,omitempty"`
	TriggerKind   string    `json:"trigger_kind"`
	Status        string    `json:"status"`
	FailureReason string    `json:"failure_reason,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// SubmitDiagnosisResponse is returned when a diagnosis is accepted.
// Created is false when an open session was reused.
type SubmitDiagnosisResponse struct {
	Session SessionResponse `json:"session"`
	Created bool            `json:"created"`
}

// ResultResponse represents the report of a finished diagnosis.
type ResultResponse struct {
	ID        string                     `json:"id"`
	Report    string                     `json:"report"`
	RiskLevel string                     `json:"risk_level"`
	Issues    []domain.DetectedIssue     `json:"issues"`
	Actions   []domain.RecommendedAction `json:"actions"`
	CreatedAt time.Time                  `json:"created_at"`
}

// DiagnosisResponse is returned by GET /api/diagnoses/{sessionID}.
type DiagnosisResponse struct {
	Session SessionResponse `json:"session"`
	Result  *ResultResponse `json:"result,omitempty"`
}

// SyncResponse acknowledges a queued sync request.
type SyncResponse struct {
	VehicleID string `json:"vehicle_id"`
	Status    string `json:"status"`
}

// AccountResponse describes a linked cloud account without its tokens.
type AccountResponse struct {
	UserID    string    `json:"user_id"`
	Provider  string    `json:"provider"`
	ExpiresAt time.Time `json:"expires_at"`
	Linked    bool      `json:"linked"`
}

func sessionToResponse(s *domain.DiagnosisSession) SessionResponse {
	return SessionResponse{
		ID:            s.ID.String(),
		VehicleID:     s.VehicleID,
		TripID:        s.TripID,
		TriggerKind:   string(s.TriggerKind),
		Status:        string(s.Status),
		FailureReason: s.FailureReason,
		CreatedAt:     s.CreatedAt,
		UpdatedAt:     s.UpdatedAt,
	}
}

func resultToResponse(r *domain.DiagnosisResult) *ResultResponse {
	return &ResultResponse{
		ID:        r.ID.String(),
		Report:    r.Report,
		RiskLevel: string(r.RiskLevel),
		Issues:    r.Issues,
		Actions:   r.Actions,
		CreatedAt: r.CreatedAt,
	}
}
