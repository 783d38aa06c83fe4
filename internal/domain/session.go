package domain

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// TriggerKind identifies what caused a diagnosis to be requested.
type TriggerKind string

// Possible trigger kinds
const (
	TriggerManual  TriggerKind = "MANUAL"
	TriggerDTC     TriggerKind = "DTC"
	TriggerAnomaly TriggerKind = "ANOMALY"
	TriggerRoutine TriggerKind = "ROUTINE"
)

// SessionStatus represents the processing state of a diagnosis session.
type SessionStatus string

// Possible session status values
const (
	SessionPending    SessionStatus = "PENDING"
	SessionProcessing SessionStatus = "PROCESSING"
	SessionDone       SessionStatus = "DONE"
	SessionFailed     SessionStatus = "FAILED"
)

// Validation errors for DiagnosisSession
var (
	ErrEmptySessionID = errors.New("session ID cannot be empty")
	ErrEmptyVehicleID = errors.New("vehicle ID cannot be empty")
)

// rank orders statuses along the forward-only lifecycle. DONE and FAILED
// share a rank because neither can follow the other.
var rank = map[SessionStatus]int{
	SessionPending:    0,
	SessionProcessing: 1,
	SessionDone:       2,
	SessionFailed:     2,
}

// ParseTriggerKind converts a raw string into a TriggerKind.
func ParseTriggerKind(s string) (TriggerKind, error) {
	k := TriggerKind(s)
	if !k.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidTriggerKind, s)
	}
	return k, nil
}

// Valid reports whether k is a known trigger kind.
func (k TriggerKind) Valid() bool {
	switch k {
	case TriggerManual, TriggerDTC, TriggerAnomaly, TriggerRoutine:
		return true
	default:
		return false
	}
}

// Valid reports whether s is a known session status.
func (s SessionStatus) Valid() bool {
	_, ok := rank[s]
	return ok
}

// Terminal reports whether no further transitions are possible from s.
func (s SessionStatus) Terminal() bool {
	return s == SessionDone || s == SessionFailed
}

// Open reports whether a session in status s may still be reused by a new
// submission for the same vehicle and trigger kind.
func (s SessionStatus) Open() bool {
	return s == SessionPending || s == SessionProcessing
}

// CanTransition reports whether a session may move from status from to status to.
// Transitions only move forward. PROCESSING to PROCESSING is allowed so that an
// interrupted message can be picked up again on redelivery. DONE is reachable
// only from PROCESSING, while FAILED may also end a session still PENDING.
func CanTransition(from, to SessionStatus) bool {
	if !from.Valid() || !to.Valid() || from.Terminal() {
		return false
	}
	if from == to {
		return from == SessionProcessing
	}
	if to == SessionDone {
		return from == SessionProcessing
	}
	return rank[to] > rank[from]
}

// PredecessorsOf returns the statuses a session may be in for a transition
// to status to to be accepted.
func PredecessorsOf(to SessionStatus) []SessionStatus {
	var out []SessionStatus
	for _, from := range []SessionStatus{SessionPending, SessionProcessing, SessionDone, SessionFailed} {
		if CanTransition(from, to) {
			out = append(out, from)
		}
	}
	return out
}

// DiagnosisSession tracks a single diagnosis request for a vehicle through
// its lifecycle. Sessions are never deleted.
type DiagnosisSession struct {
	ID            uuid.UUID     `json:"id"`
	VehicleID     string        `json:"vehicle_id"`
	TripID        *string       `json:"trip_id,omitempty"`
	TriggerKind   TriggerKind   `json:"trigger_kind"`
	Status        SessionStatus `json:"status"`
	FailureReason string        `json:"failure_reason,omitempty"`
	CreatedAt     time.Time     `json:"created_at"`
	UpdatedAt     time.Time     `json:"updated_at"`
}

// NewDiagnosisSession creates a PENDING session for the given vehicle and trigger.
func NewDiagnosisSession(vehicleID string, trigger TriggerKind, tripID *string) (*DiagnosisSession, error) {
	now := time.Now().UTC()
	session := &DiagnosisSession{
		ID:          uuid.New(),
		VehicleID:   vehicleID,
		TripID:      tripID,
		TriggerKind: trigger,
		Status:      SessionPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := session.Validate(); err != nil {
		return nil, err
	}

	return session, nil
}

// Validate checks if the DiagnosisSession has valid data.
func (s *DiagnosisSession) Validate() error {
	if s.ID == uuid.Nil {
		return ErrEmptySessionID
	}
	if s.VehicleID == "" {
		return ErrEmptyVehicleID
	}
	if !s.TriggerKind.Valid() {
		return ErrInvalidTriggerKind
	}
	if !s.Status.Valid() {
		return ErrInvalidSessionStatus
	}
	return nil
}

// TransitionTo moves the session to the given status if the lifecycle allows it.
func (s *DiagnosisSession) TransitionTo(status SessionStatus) error {
	if !status.Valid() {
		return ErrInvalidSessionStatus
	}
	if !CanTransition(s.Status, status) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, s.Status, status)
	}

	s.Status = status
	s.UpdatedAt = time.Now().UTC()
	return nil
}
