package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/carsync-api/internal/domain"
)

// SessionStore defines the interface for diagnosis session persistence.
type SessionStore interface {
	// Create saves a new session.
	// Returns ErrOpenSessionExists if an open session already exists for the
	// same vehicle and trigger kind.
	Create(ctx context.Context, session *domain.DiagnosisSession) error

	// GetByID retrieves a session by its unique ID.
	// Returns ErrSessionNotFound if the session does not exist.
	GetByID(ctx context.Context, id uuid.UUID) (*domain.DiagnosisSession, error)

	// FindOpen returns the most recent PENDING or PROCESSING session for the
	// vehicle and trigger kind.
	// Returns ErrSessionNotFound if there is none.
	FindOpen(ctx context.Context, vehicleID string, trigger domain.TriggerKind) (*domain.DiagnosisSession, error)

	// UpdateStatus moves a session to status, but only from a state the
	// lifecycle allows to reach it. reason is recorded for FAILED sessions.
	// Returns ErrSessionNotFound if the session does not exist and
	// ErrStaleStatus if its current status forbids the transition.
	UpdateStatus(ctx context.Context, id uuid.UUID, status domain.SessionStatus, reason string) error

	// Complete stores result and moves its session to DONE atomically.
	// Returns ErrResultExists if the session already has a result.
	Complete(ctx context.Context, result *domain.DiagnosisResult) error

	// FindStale returns open sessions last updated before cutoff, oldest first.
	FindStale(ctx context.Context, cutoff time.Time, limit int) ([]*domain.DiagnosisSession, error)

	// FailIfStale moves a session to FAILED only while it is still open and
	// was last updated before cutoff.
	// Returns ErrStaleStatus if the session finished or moved since.
	FailIfStale(ctx context.Context, id uuid.UUID, cutoff time.Time, reason string) error

	// WithTx returns a new SessionStore instance that uses the provided transaction.
	WithTx(tx *sql.Tx) SessionStore
}

// ResultStore defines the interface for diagnosis result persistence.
// Results are immutable once written.
type ResultStore interface {
	// Create saves a result.
	// Returns ErrResultExists if the session already has one.
	Create(ctx context.Context, result *domain.DiagnosisResult) error

	// GetBySessionID retrieves the result of a session.
	// Returns ErrResultNotFound if none has been stored.
	GetBySessionID(ctx context.Context, sessionID uuid.UUID) (*domain.DiagnosisResult, error)

	// WithTx returns a new ResultStore instance that uses the provided transaction.
	WithTx(tx *sql.Tx) ResultStore
}
