package diagnosis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/phrazzld/carsync-api/internal/domain"
	"github.com/phrazzld/carsync-api/internal/platform/logger"
	"github.com/phrazzld/carsync-api/internal/queue"
	"github.com/phrazzld/carsync-api/internal/store"
)

// ReasonEnqueueFailed is recorded on sessions whose task could not be published.
const ReasonEnqueueFailed = "enqueue failed"

// SubmitRequest asks for a diagnosis of a vehicle.
type SubmitRequest struct {
	VehicleID   string
	TriggerKind domain.TriggerKind
	TripID      *string
	ImageRef    string
	AudioRef    string
	DTCCodes    []string
}

// Dispatcher creates diagnosis sessions and enqueues their tasks.
type Dispatcher struct {
	sessions  store.SessionStore
	publisher queue.Publisher
	logger    *slog.Logger
}

// NewDispatcher creates a Dispatcher.
func NewDispatcher(sessions store.SessionStore, publisher queue.Publisher, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		sessions:  sessions,
		publisher: publisher,
		logger:    logger.With(slog.String("component", "diagnosis_dispatcher")),
	}
}

// Submit returns the open session for the request's vehicle and trigger
// kind, or creates one and publishes its task. The returned bool is true
// when a new session was created.
func (d *Dispatcher) Submit(ctx context.Context, req SubmitRequest) (*domain.DiagnosisSession, bool, error) {
	log := logger.FromContextOrDefault(ctx, d.logger).With(
		slog.String("vehicle_id", req.VehicleID),
		slog.String("trigger_kind", string(req.TriggerKind)))

	existing, err := d.sessions.FindOpen(ctx, req.VehicleID, req.TriggerKind)
	if err == nil {
		log.Debug("reusing open diagnosis session", slog.String("session_id", existing.ID.String()))
		return existing, false, nil
	}
	if !errors.Is(err, store.ErrSessionNotFound) {
		return nil, false, fmt.Errorf("failed to look up open session: %w", err)
	}

	session, err := domain.NewDiagnosisSession(req.VehicleID, req.TriggerKind, req.TripID)
	if err != nil {
		return nil, false, err
	}

	if err := d.sessions.Create(ctx, session); err != nil {
		if errors.Is(err, store.ErrOpenSessionExists) {
			// Lost the race to a concurrent submission; hand back the winner.
			winner, findErr := d.sessions.FindOpen(ctx, req.VehicleID, req.TriggerKind)
			if findErr != nil {
				return nil, false, fmt.Errorf("failed to load concurrent session: %w", findErr)
			}
			log.Debug("concurrent submission resolved to existing session",
				slog.String("session_id", winner.ID.String()))
			return winner, false, nil
		}
		return nil, false, fmt.Errorf("failed to create session: %w", err)
	}

	msg := TaskMessage{
		SessionID: session.ID.String(),
		VehicleID: session.VehicleID,
		ImageRef:  req.ImageRef,
		AudioRef:  req.AudioRef,
		DTCCodes:  req.DTCCodes,
	}
	body, err := msg.Encode()
	if err == nil {
		err = d.publisher.Publish(ctx, queue.DiagnosisRoutingKey(session.TriggerKind), body)
	}
	if err != nil {
		log.Error("failed to enqueue diagnosis task",
			slog.String("session_id", session.ID.String()),
			slog.String("error", err.Error()))
		// Free the (vehicle, trigger) slot so the request can be retried.
		if failErr := d.sessions.UpdateStatus(ctx, session.ID, domain.SessionFailed, ReasonEnqueueFailed); failErr != nil {
			log.Error("failed to mark unenqueued session as failed",
				slog.String("session_id", session.ID.String()),
				slog.String("error", failErr.Error()))
		}
		return nil, false, fmt.Errorf("failed to enqueue diagnosis task: %w", err)
	}

	log.Info("diagnosis session submitted", slog.String("session_id", session.ID.String()))
	return session, true, nil
}
