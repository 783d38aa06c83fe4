package task

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/carsync-api/internal/domain"
	"github.com/phrazzld/carsync-api/internal/store"
)

// StuckSessionReason is recorded on sessions failed by the Sweeper.
const StuckSessionReason = "stuck session reaped"

// StaleSessionStore is the subset of store.SessionStore used by the Sweeper.
type StaleSessionStore interface {
	FindStale(ctx context.Context, cutoff time.Time, limit int) ([]*domain.DiagnosisSession, error)
	FailIfStale(ctx context.Context, id uuid.UUID, cutoff time.Time, reason string) error
}

var _ StaleSessionStore = (store.SessionStore)(nil)

// SweeperConfig holds configuration for the Sweeper
type SweeperConfig struct {
	// StuckAfter defines how long a session can stay open without an
	// update before it is considered stuck
	StuckAfter time.Duration

	// BatchSize limits how many sessions one sweep fails
	BatchSize int
}

// DefaultSweeperConfig returns a SweeperConfig with reasonable defaults
func DefaultSweeperConfig() SweeperConfig {
	return SweeperConfig{
		StuckAfter: 30 * time.Minute,
		BatchSize:  100,
	}
}

// Sweeper fails diagnosis sessions that have been PENDING or PROCESSING
// for too long, typically because their message was lost.
type Sweeper struct {
	sessions StaleSessionStore
	config   SweeperConfig
	now      func() time.Time
	logger   *slog.Logger
}

// NewSweeper creates a Sweeper. Zero config values take their defaults.
func NewSweeper(sessions StaleSessionStore, config SweeperConfig, logger *slog.Logger) *Sweeper {
	defaults := DefaultSweeperConfig()
	if config.StuckAfter <= 0 {
		config.StuckAfter = defaults.StuckAfter
	}
	if config.BatchSize <= 0 {
		config.BatchSize = defaults.BatchSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Sweeper{
		sessions: sessions,
		config:   config,
		now:      time.Now,
		logger:   logger.With(slog.String("component", "session_sweeper")),
	}
}

// Sweep fails every stuck session it finds and returns how many it failed.
// Sessions that finish or move on while the sweep runs are left alone.
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	cutoff := s.now().Add(-s.config.StuckAfter)
	stuck, err := s.sessions.FindStale(ctx, cutoff, s.config.BatchSize)
	if err != nil {
		return 0, fmt.Errorf("failed to find stuck sessions: %w", err)
	}
	if len(stuck) == 0 {
		return 0, nil
	}

	s.logger.Info("found stuck sessions", "count", len(stuck))

	reaped := 0
	for _, session := range stuck {
		if err := ctx.Err(); err != nil {
			return reaped, err
		}
		err := s.sessions.FailIfStale(ctx, session.ID, cutoff, StuckSessionReason)
		switch {
		case err == nil:
			reaped++
			s.logger.Warn("reaped stuck session",
				"session_id", session.ID,
				"vehicle_id", session.VehicleID,
				"status", session.Status,
				"updated_at", session.UpdatedAt)
		case errors.Is(err, store.ErrStaleStatus), errors.Is(err, store.ErrSessionNotFound):
			s.logger.Debug("stuck session finished before it was reaped", "session_id", session.ID)
		default:
			s.logger.Error("failed to reap stuck session",
				"session_id", session.ID,
				"error", err)
		}
	}
	return reaped, nil
}
