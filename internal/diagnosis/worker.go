package diagnosis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/phrazzld/carsync-api/internal/apiclient"
	"github.com/phrazzld/carsync-api/internal/domain"
	"github.com/phrazzld/carsync-api/internal/platform/logger"
	"github.com/phrazzld/carsync-api/internal/queue"
	"github.com/phrazzld/carsync-api/internal/store"
	"golang.org/x/sync/errgroup"
)

// Inference runs a single modality against the AI server.
type Inference interface {
	Diagnose(ctx context.Context, modality apiclient.Modality, req apiclient.InferenceRequest) apiclient.Outcome[*apiclient.InferenceResult]
}

var _ Inference = (*apiclient.InferenceClient)(nil)

// Worker processes diagnosis task messages.
type Worker struct {
	sessions  store.SessionStore
	inference Inference
	narrator  Narrator
	logger    *slog.Logger
}

// NewWorker creates a Worker. A nil narrator selects TemplateNarrator.
func NewWorker(sessions store.SessionStore, inference Inference, narrator Narrator, logger *slog.Logger) *Worker {
	if narrator == nil {
		narrator = TemplateNarrator{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{
		sessions:  sessions,
		inference: inference,
		narrator:  narrator,
		logger:    logger.With(slog.String("component", "diagnosis_worker")),
	}
}

// Handle implements queue.Handler. A nil return acknowledges the message;
// an error leaves the session in PROCESSING and asks the broker to
// redeliver.
func (w *Worker) Handle(ctx context.Context, d *queue.Delivery) error {
	msg, sessionID, err := DecodeTaskMessage(d.Body)
	if err != nil {
		if sessionID == uuid.Nil {
			w.logger.Warn("dropping diagnosis message without a usable session",
				slog.String("error", err.Error()))
			return nil
		}
		return w.fail(ctx, w.logger.With(slog.String("session_id", sessionID.String())), sessionID, err.Error())
	}

	log := w.logger.With(
		slog.String("session_id", sessionID.String()),
		slog.String("vehicle_id", msg.VehicleID),
		slog.Bool("redelivered", d.Redelivered))
	ctx = logger.WithContext(ctx, log)

	session, err := w.sessions.GetByID(ctx, sessionID)
	if err != nil {
		if errors.Is(err, store.ErrSessionNotFound) {
			log.Warn("dropping diagnosis message for unknown session")
			return nil
		}
		return fmt.Errorf("failed to load session: %w", err)
	}
	if session.Status.Terminal() {
		log.Debug("ignoring message for finished session", slog.String("status", string(session.Status)))
		return nil
	}

	if err := w.sessions.UpdateStatus(ctx, sessionID, domain.SessionProcessing, ""); err != nil {
		if errors.Is(err, store.ErrStaleStatus) || errors.Is(err, store.ErrSessionNotFound) {
			log.Debug("session finished while message was queued", slog.String("reason", err.Error()))
			return nil
		}
		return fmt.Errorf("failed to mark session processing: %w", err)
	}

	request := apiclient.InferenceRequest{
		SessionID:   sessionID.String(),
		VehicleID:   msg.VehicleID,
		TriggerKind: session.TriggerKind,
		DTCCodes:    msg.DTCCodes,
	}
	results, failure := w.runModalities(ctx, Modalities(session.TriggerKind, msg), msg, request)
	if failure != nil {
		if ctx.Err() != nil || errors.Is(failure, apiclient.ErrCanceled) {
			log.Warn("diagnosis interrupted, leaving session for redelivery", slog.String("error", failure.Error()))
			return fmt.Errorf("diagnosis interrupted: %w", failure)
		}
		return w.fail(ctx, log, sessionID, failure.Error())
	}

	findings := BuildFindings(session, results)
	report, err := w.narrator.Narrate(ctx, findings)
	if err != nil {
		log.Warn("narrator failed, using template report", slog.String("error", err.Error()))
		report, _ = TemplateNarrator{}.Narrate(ctx, findings)
	}

	result, err := domain.NewDiagnosisResult(sessionID, report, findings.RiskLevel, findings.Issues, findings.Actions)
	if err != nil {
		return w.fail(ctx, log, sessionID, err.Error())
	}

	if err := w.sessions.Complete(ctx, result); err != nil {
		if errors.Is(err, store.ErrResultExists) || errors.Is(err, store.ErrStaleStatus) {
			log.Debug("session already completed", slog.String("reason", err.Error()))
			return nil
		}
		return fmt.Errorf("failed to complete session: %w", err)
	}

	log.Info("diagnosis completed",
		slog.String("risk_level", string(result.RiskLevel)),
		slog.Int("issues", len(result.Issues)),
		slog.Int("modalities", len(results)))
	return nil
}

// runModalities calls every modality concurrently and returns the first
// terminal failure, or nil when all succeeded.
func (w *Worker) runModalities(
	ctx context.Context,
	modalities []apiclient.Modality,
	msg TaskMessage,
	req apiclient.InferenceRequest,
) ([]*apiclient.InferenceResult, error) {
	outcomes := make([]apiclient.Outcome[*apiclient.InferenceResult], len(modalities))

	var g errgroup.Group
	for i, modality := range modalities {
		r := req
		r.EvidenceRef = evidenceFor(modality, msg)
		g.Go(func() error {
			outcomes[i] = w.inference.Diagnose(ctx, modality, r)
			return nil
		})
	}
	_ = g.Wait()

	results := make([]*apiclient.InferenceResult, 0, len(outcomes))
	var canceled error
	for i, o := range outcomes {
		if o.OK() {
			results = append(results, o.Value)
			continue
		}
		if o.Canceled() {
			canceled = o.Err()
			continue
		}
		return nil, fmt.Errorf("%s modality failed: %w", modalities[i], o.Err())
	}
	if canceled != nil {
		return nil, canceled
	}
	return results, nil
}

func (w *Worker) fail(ctx context.Context, log *slog.Logger, id uuid.UUID, reason string) error {
	if err := w.sessions.UpdateStatus(ctx, id, domain.SessionFailed, reason); err != nil {
		if errors.Is(err, store.ErrStaleStatus) || errors.Is(err, store.ErrSessionNotFound) {
			log.Debug("session already finished, not failing it", slog.String("reason", err.Error()))
			return nil
		}
		return fmt.Errorf("failed to mark session failed: %w", err)
	}
	log.Warn("diagnosis failed", slog.String("reason", reason))
	return nil
}

// Modalities returns the analyses that apply to a task.
func Modalities(trigger domain.TriggerKind, msg TaskMessage) []apiclient.Modality {
	var out []apiclient.Modality
	if msg.ImageRef != "" {
		out = append(out, apiclient.ModalityVisual)
	}
	if msg.AudioRef != "" {
		out = append(out, apiclient.ModalityAudio)
	}
	if trigger == domain.TriggerDTC || trigger == domain.TriggerAnomaly {
		out = append(out, apiclient.ModalityAnomaly)
	}
	if len(out) == 0 {
		out = append(out, apiclient.ModalityComprehensive)
	}
	return out
}

func evidenceFor(modality apiclient.Modality, msg TaskMessage) string {
	switch modality {
	case apiclient.ModalityVisual:
		return msg.ImageRef
	case apiclient.ModalityAudio:
		return msg.AudioRef
	default:
		return ""
	}
}

// BuildFindings merges per-modality results. The overall risk is the worst
// of the modality risks and of every issue severity.
func BuildFindings(session *domain.DiagnosisSession, results []*apiclient.InferenceResult) domain.Findings {
	findings := domain.Findings{
		VehicleID:   session.VehicleID,
		TriggerKind: session.TriggerKind,
		Issues:      []domain.DetectedIssue{},
		Actions:     []domain.RecommendedAction{},
	}

	risks := make([]domain.RiskLevel, 0, len(results))
	seenActions := make(map[string]bool)
	for _, r := range results {
		risks = append(risks, r.RiskLevel)
		if r.Summary != "" {
			findings.Summaries = append(findings.Summaries, r.Summary)
		}
		for _, issue := range r.Issues {
			risks = append(risks, issue.Severity)
			findings.Issues = append(findings.Issues, issue)
		}
		for _, action := range r.Actions {
			if seenActions[action.Title] {
				continue
			}
			seenActions[action.Title] = true
			findings.Actions = append(findings.Actions, action)
		}
	}
	findings.RiskLevel = domain.WorstRisk(risks...)
	return findings
}
