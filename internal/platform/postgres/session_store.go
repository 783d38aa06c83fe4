package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/carsync-api/internal/domain"
	"github.com/phrazzld/carsync-api/internal/platform/logger"
	"github.com/phrazzld/carsync-api/internal/store"
)

const sessionColumns = `id, vehicle_id, trip_id, trigger_kind, status, failure_reason, created_at, updated_at`

// PostgresSessionStore implements the store.SessionStore interface
// using a PostgreSQL database as the storage backend.
type PostgresSessionStore struct {
	db     store.DBTX
	logger *slog.Logger
}

// NewPostgresSessionStore creates a new PostgreSQL implementation of the SessionStore interface.
// If logger is nil, a default logger will be used.
func NewPostgresSessionStore(db store.DBTX, logger *slog.Logger) *PostgresSessionStore {
	if db == nil {
		panic("db cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &PostgresSessionStore{
		db:     db,
		logger: logger.With(slog.String("component", "session_store")),
	}
}

// Ensure PostgresSessionStore implements store.SessionStore interface
var _ store.SessionStore = (*PostgresSessionStore)(nil)

// Create implements store.SessionStore.Create.
// The partial unique index on open sessions turns a concurrent duplicate
// submission into store.ErrOpenSessionExists.
func (s *PostgresSessionStore) Create(ctx context.Context, session *domain.DiagnosisSession) error {
	log := logger.FromContextOrDefault(ctx, s.logger)

	if err := session.Validate(); err != nil {
		log.Warn("session validation failed during create",
			slog.String("error", err.Error()),
			slog.String("session_id", session.ID.String()))
		return fmt.Errorf("%w: %v", store.ErrInvalidEntity, err)
	}

	query := `
		INSERT INTO diagnosis_sessions (` + sessionColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err := s.db.ExecContext(ctx, query,
		session.ID,
		session.VehicleID,
		nullString(session.TripID),
		string(session.TriggerKind),
		string(session.Status),
		session.FailureReason,
		session.CreatedAt,
		session.UpdatedAt,
	)
	if err != nil {
		if IsUniqueViolation(err) && violatedConstraint(err) == openSessionConstraint {
			log.Debug("open session already exists",
				slog.String("vehicle_id", session.VehicleID),
				slog.String("trigger_kind", string(session.TriggerKind)))
			return MapUniqueViolation(err, store.ErrOpenSessionExists)
		}
		log.Error("failed to create session",
			slog.String("error", err.Error()),
			slog.String("session_id", session.ID.String()))
		return MapError(err)
	}

	log.Info("diagnosis session created",
		slog.String("session_id", session.ID.String()),
		slog.String("vehicle_id", session.VehicleID),
		slog.String("trigger_kind", string(session.TriggerKind)))
	return nil
}

// GetByID implements store.SessionStore.GetByID.
func (s *PostgresSessionStore) GetByID(ctx context.Context, id uuid.UUID) (*domain.DiagnosisSession, error) {
	query := `SELECT ` + sessionColumns + ` FROM diagnosis_sessions WHERE id = $1`

	session, err := scanSession(s.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrSessionNotFound
		}
		logger.FromContextOrDefault(ctx, s.logger).Error("failed to get session by ID",
			slog.String("error", err.Error()),
			slog.String("session_id", id.String()))
		return nil, MapError(err)
	}
	return session, nil
}

// FindOpen implements store.SessionStore.FindOpen.
func (s *PostgresSessionStore) FindOpen(
	ctx context.Context,
	vehicleID string,
	trigger domain.TriggerKind,
) (*domain.DiagnosisSession, error) {
	query := `
		SELECT ` + sessionColumns + `
		FROM diagnosis_sessions
		WHERE vehicle_id = $1 AND trigger_kind = $2 AND status IN ('PENDING', 'PROCESSING')
		ORDER BY created_at DESC
		LIMIT 1
	`

	session, err := scanSession(s.db.QueryRowContext(ctx, query, vehicleID, string(trigger)))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrSessionNotFound
		}
		logger.FromContextOrDefault(ctx, s.logger).Error("failed to find open session",
			slog.String("error", err.Error()),
			slog.String("vehicle_id", vehicleID))
		return nil, MapError(err)
	}
	return session, nil
}

// UpdateStatus implements store.SessionStore.UpdateStatus.
// The update only applies when the stored status is a legal predecessor of
// status, so concurrent workers can never move a session backwards.
func (s *PostgresSessionStore) UpdateStatus(
	ctx context.Context,
	id uuid.UUID,
	status domain.SessionStatus,
	reason string,
) error {
	log := logger.FromContextOrDefault(ctx, s.logger)

	if !status.Valid() {
		return fmt.Errorf("%w: %v", store.ErrInvalidEntity, domain.ErrInvalidSessionStatus)
	}

	query := `
		UPDATE diagnosis_sessions
		SET status = $2, failure_reason = $3, updated_at = $4
		WHERE id = $1 AND status = ANY($5::text[])
	`
	result, err := s.db.ExecContext(ctx, query,
		id,
		string(status),
		reason,
		time.Now().UTC(),
		textArray(domain.PredecessorsOf(status)),
	)
	if err != nil {
		log.Error("failed to update session status",
			slog.String("error", err.Error()),
			slog.String("session_id", id.String()),
			slog.String("status", string(status)))
		return MapError(err)
	}

	if err := CheckRowsAffected(result, store.ErrStaleStatus); err == nil {
		log.Debug("session status updated",
			slog.String("session_id", id.String()),
			slog.String("status", string(status)))
		return nil
	} else if !errors.Is(err, store.ErrStaleStatus) {
		return err
	}

	// Nothing matched: tell a missing session apart from a stale transition.
	var current string
	err = s.db.QueryRowContext(ctx, `SELECT status FROM diagnosis_sessions WHERE id = $1`, id).Scan(&current)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return store.ErrSessionNotFound
		}
		return MapError(err)
	}
	return fmt.Errorf("%w: %s -> %s", store.ErrStaleStatus, current, status)
}

// Complete implements store.SessionStore.Complete.
// When the store is bound to a connection pool it opens its own transaction;
// when it is already bound to a transaction it joins it.
func (s *PostgresSessionStore) Complete(ctx context.Context, result *domain.DiagnosisResult) error {
	if db, ok := s.db.(*sql.DB); ok {
		return store.RunInTransaction(ctx, db, func(ctx context.Context, tx *sql.Tx) error {
			return s.completeWith(ctx, tx, result)
		})
	}
	return s.completeWith(ctx, s.db, result)
}

func (s *PostgresSessionStore) completeWith(ctx context.Context, db store.DBTX, result *domain.DiagnosisResult) error {
	results := &PostgresResultStore{db: db, logger: s.logger}
	if err := results.Create(ctx, result); err != nil {
		return err
	}
	sessions := &PostgresSessionStore{db: db, logger: s.logger}
	return sessions.UpdateStatus(ctx, result.SessionID, domain.SessionDone, "")
}

// FindStale implements store.SessionStore.FindStale.
func (s *PostgresSessionStore) FindStale(
	ctx context.Context,
	cutoff time.Time,
	limit int,
) ([]*domain.DiagnosisSession, error) {
	query := `
		SELECT ` + sessionColumns + `
		FROM diagnosis_sessions
		WHERE status IN ('PENDING', 'PROCESSING') AND updated_at < $1
		ORDER BY updated_at
		LIMIT $2
	`

	rows, err := s.db.QueryContext(ctx, query, cutoff, limit)
	if err != nil {
		logger.FromContextOrDefault(ctx, s.logger).Error("failed to query stale sessions",
			slog.String("error", err.Error()))
		return nil, MapError(err)
	}
	defer func() { _ = rows.Close() }()

	sessions := []*domain.DiagnosisSession{}
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, MapError(err)
		}
		sessions = append(sessions, session)
	}
	if err := rows.Err(); err != nil {
		return nil, MapError(err)
	}
	return sessions, nil
}

// FailIfStale implements store.SessionStore.FailIfStale.
func (s *PostgresSessionStore) FailIfStale(
	ctx context.Context,
	id uuid.UUID,
	cutoff time.Time,
	reason string,
) error {
	query := `
		UPDATE diagnosis_sessions
		SET status = 'FAILED', failure_reason = $2, updated_at = $3
		WHERE id = $1 AND status IN ('PENDING', 'PROCESSING') AND updated_at < $4
	`
	result, err := s.db.ExecContext(ctx, query, id, reason, time.Now().UTC(), cutoff)
	if err != nil {
		logger.FromContextOrDefault(ctx, s.logger).Error("failed to fail stale session",
			slog.String("error", err.Error()),
			slog.String("session_id", id.String()))
		return MapError(err)
	}
	return CheckRowsAffected(result, store.ErrStaleStatus)
}

// WithTx implements store.SessionStore.WithTx.
func (s *PostgresSessionStore) WithTx(tx *sql.Tx) store.SessionStore {
	return &PostgresSessionStore{db: tx, logger: s.logger}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*domain.DiagnosisSession, error) {
	var (
		session domain.DiagnosisSession
		tripID  sql.NullString
		trigger string
		status  string
	)
	if err := row.Scan(
		&session.ID,
		&session.VehicleID,
		&tripID,
		&trigger,
		&status,
		&session.FailureReason,
		&session.CreatedAt,
		&session.UpdatedAt,
	); err != nil {
		return nil, err
	}

	if tripID.Valid {
		session.TripID = &tripID.String
	}
	session.TriggerKind = domain.TriggerKind(trigger)
	session.Status = domain.SessionStatus(status)
	return &session, nil
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

// textArray renders statuses as a PostgreSQL array literal.
func textArray(statuses []domain.SessionStatus) string {
	parts := make([]string, len(statuses))
	for i, st := range statuses {
		parts[i] = string(st)
	}
	return "{" + strings.Join(parts, ",") + "}"
}
