package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	"github.com/phrazzld/carsync-api/internal/api/shared"
	"github.com/phrazzld/carsync-api/internal/diagnosis"
	"github.com/phrazzld/carsync-api/internal/domain"
	"github.com/phrazzld/carsync-api/internal/platform/logger"
	"github.com/phrazzld/carsync-api/internal/store"
)

// DiagnosisSubmitter creates or reuses diagnosis sessions.
type DiagnosisSubmitter interface {
	Submit(ctx context.Context, req diagnosis.SubmitRequest) (*domain.DiagnosisSession, bool, error)
}

// SessionReader loads diagnosis sessions.
type SessionReader interface {
	GetByID(ctx context.Context, id uuid.UUID) (*domain.DiagnosisSession, error)
}

// ResultReader loads diagnosis results.
type ResultReader interface {
	GetBySessionID(ctx context.Context, sessionID uuid.UUID) (*domain.DiagnosisResult, error)
}

var (
	_ DiagnosisSubmitter = (*diagnosis.Dispatcher)(nil)
	_ SessionReader      = (store.SessionStore)(nil)
	_ ResultReader       = (store.ResultStore)(nil)
)

// DiagnosisHandler handles diagnosis HTTP requests.
type DiagnosisHandler struct {
	submitter DiagnosisSubmitter
	sessions  SessionReader
	results   ResultReader
	logger    *slog.Logger
}

// NewDiagnosisHandler creates a DiagnosisHandler.
func NewDiagnosisHandler(
	submitter DiagnosisSubmitter,
	sessions SessionReader,
	results ResultReader,
	logger *slog.Logger,
) *DiagnosisHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &DiagnosisHandler{
		submitter: submitter,
		sessions:  sessions,
		results:   results,
		logger:    logger.With(slog.String("component", "diagnosis_handler")),
	}
}

// Submit handles POST /api/vehicles/{vehicleID}/diagnoses. The response is
// 202 whether the session is new or an open one was reused.
func (h *DiagnosisHandler) Submit(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContextOrDefault(r.Context(), h.logger)

	vehicleID, err := getPathParam(r, "vehicleID")
	if err != nil {
		HandleAPIError(w, r, err, "")
		return
	}

	var req SubmitDiagnosisRequest
	if err := shared.DecodeJSON(r, &req); err != nil {
		if errors.Is(err, shared.ErrEmptyBody) {
			HandleAPIError(w, r, err, "")
			return
		}
		shared.RespondWithErrorAndLog(w, r, http.StatusBadRequest, "Invalid request format", err)
		return
	}
	if err := shared.ValidateRequest(req); err != nil {
		HandleAPIError(w, r, err, "")
		return
	}

	session, created, err := h.submitter.Submit(r.Context(), diagnosis.SubmitRequest{
		VehicleID:   vehicleID,
		TriggerKind: domain.TriggerKind(req.TriggerKind),
		TripID:      req.TripID,
		ImageRef:    req.ImageRef,
		AudioRef:    req.AudioRef,
		DTCCodes:    req.DTCCodes,
	})
	if err != nil {
		log.Error("failed to submit diagnosis",
			slog.String("vehicle_id", vehicleID),
			slog.String("error", err.Error()))
		HandleAPIError(w, r, err, "")
		return
	}

	shared.RespondWithJSON(w, r, http.StatusAccepted, SubmitDiagnosisResponse{
		Session: sessionToResponse(session),
		Created: created,
	})
}

// Get handles GET /api/diagnoses/{sessionID}. The result is included once
// the session is DONE.
func (h *DiagnosisHandler) Get(w http.ResponseWriter, r *http.Request) {
	sessionID, err := getPathUUID(r, "sessionID")
	if err != nil {
		HandleAPIError(w, r, err, "")
		return
	}

	session, err := h.sessions.GetByID(r.Context(), sessionID)
	if err != nil {
		HandleAPIError(w, r, err, "")
		return
	}

	resp := DiagnosisResponse{Session: sessionToResponse(session)}
	if session.Status == domain.SessionDone {
		result, err := h.results.GetBySessionID(r.Context(), sessionID)
		if err != nil {
			HandleAPIError(w, r, err, "Failed to load diagnosis result")
			return
		}
		resp.Result = resultToResponse(result)
	}

	shared.RespondWithJSON(w, r, http.StatusOK, resp)
}
