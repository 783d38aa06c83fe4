package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/phrazzld/carsync-api/internal/domain"
	"github.com/phrazzld/carsync-api/internal/platform/logger"
	"github.com/phrazzld/carsync-api/internal/store"
)

// PostgresResultStore implements the store.ResultStore interface.
// Issues and actions are stored as JSONB.
type PostgresResultStore struct {
	db     store.DBTX
	logger *slog.Logger
}

// NewPostgresResultStore creates a new PostgreSQL implementation of the ResultStore interface.
func NewPostgresResultStore(db store.DBTX, logger *slog.Logger) *PostgresResultStore {
	if db == nil {
		panic("db cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresResultStore{
		db:     db,
		logger: logger.With(slog.String("component", "result_store")),
	}
}

var _ store.ResultStore = (*PostgresResultStore)(nil)

// Create implements store.ResultStore.Create.
func (s *PostgresResultStore) Create(ctx context.Context, result *domain.DiagnosisResult) error {
	log := logger.FromContextOrDefault(ctx, s.logger)

	if err := result.Validate(); err != nil {
		return fmt.Errorf("%w: %v", store.ErrInvalidEntity, err)
	}

	issues, err := json.Marshal(result.Issues)
	if err != nil {
		return fmt.Errorf("failed to encode issues: %w", err)
	}
	actions, err := json.Marshal(result.Actions)
	if err != nil {
		return fmt.Errorf("failed to encode actions: %w", err)
	}

	query := `
		INSERT INTO diagnosis_results (id, session_id, report, risk_level, issues, actions, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err = s.db.ExecContext(ctx, query,
		result.ID,
		result.SessionID,
		result.Report,
		string(result.RiskLevel),
		issues,
		actions,
		result.CreatedAt,
	)
	if err != nil {
		switch {
		case IsUniqueViolation(err):
			log.Warn("session already has a result",
				slog.String("session_id", result.SessionID.String()))
			return MapUniqueViolation(err, store.ErrResultExists)
		case IsForeignKeyViolation(err) && violatedConstraint(err) == resultSessionFKConstraint:
			return fmt.Errorf("%w: %v", store.ErrSessionNotFound, err)
		}
		log.Error("failed to create result",
			slog.String("error", err.Error()),
			slog.String("session_id", result.SessionID.String()))
		return MapError(err)
	}

	log.Debug("diagnosis result stored",
		slog.String("session_id", result.SessionID.String()),
		slog.String("risk_level", string(result.RiskLevel)))
	return nil
}

// GetBySessionID implements store.ResultStore.GetBySessionID.
func (s *PostgresResultStore) GetBySessionID(ctx context.Context, sessionID uuid.UUID) (*domain.DiagnosisResult, error) {
	query := `
		SELECT id, session_id, report, risk_level, issues, actions, created_at
		FROM diagnosis_results
		WHERE session_id = $1
	`

	var (
		result          domain.DiagnosisResult
		risk            string
		issues, actions []byte
	)
	err := s.db.QueryRowContext(ctx, query, sessionID).Scan(
		&result.ID,
		&result.SessionID,
		&result.Report,
		&risk,
		&issues,
		&actions,
		&result.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrResultNotFound
		}
		logger.FromContextOrDefault(ctx, s.logger).Error("failed to get result",
			slog.String("error", err.Error()),
			slog.String("session_id", sessionID.String()))
		return nil, MapError(err)
	}

	result.RiskLevel = domain.RiskLevel(risk)
	if err := json.Unmarshal(issues, &result.Issues); err != nil {
		return nil, fmt.Errorf("failed to decode issues: %w", err)
	}
	if err := json.Unmarshal(actions, &result.Actions); err != nil {
		return nil, fmt.Errorf("failed to decode actions: %w", err)
	}
	return &result, nil
}

// WithTx implements store.ResultStore.WithTx.
func (s *PostgresResultStore) WithTx(tx *sql.Tx) store.ResultStore {
	return &PostgresResultStore{db: tx, logger: s.logger}
}
