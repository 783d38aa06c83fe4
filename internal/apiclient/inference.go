package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"

	"github.com/phrazzld/carsync-api/internal/config"
	"github.com/phrazzld/carsync-api/internal/domain"
)

// Modality is one kind of analysis the AI server performs.
type Modality string

// Modalities.
const (
	ModalityVisual        Modality = "visual"
	ModalityAudio         Modality = "audio"
	ModalityAnomaly       Modality = "anomaly"
	ModalityComprehensive Modality = "comprehensive"
)

// Evidence modes.
const (
	EvidenceModeURL       = "url"
	EvidenceModeMultipart = "multipart"
)

// InferenceRequest describes one modality call.
type InferenceRequest struct {
	SessionID   string             `json:"session_id"`
	VehicleID   string             `json:"vehicle_id"`
	TriggerKind domain.TriggerKind `json:"trigger_kind"`
	DTCCodes    []string           `json:"dtc_codes,omitempty"`
	EvidenceRef string             `json:"-"`
}

// InferenceResult is the decoded answer of the AI server.
type InferenceResult struct {
	Modality  Modality
	RiskLevel domain.RiskLevel
	Summary   string
	Issues    []domain.DetectedIssue
	Actions   []domain.RecommendedAction
}

type inferenceIssue struct {
	Code        string `json:"code"`
	Description string `json:"description"`
	Severity    string `json:"severity"`
}

type inferenceResponse struct {
	RiskLevel string                     `json:"risk_level"`
	Summary   string                     `json:"summary"`
	Issues    []inferenceIssue           `json:"issues"`
	Actions   []domain.RecommendedAction `json:"actions"`
}

type inferenceBody struct {
	InferenceRequest
	Evidence *evidenceRef `json:"evidence,omitempty"`
}

type evidenceRef struct {
	URL string `json:"url"`
}

// InferenceClient calls the AI diagnosis server.
type InferenceClient struct {
	client      *Client
	endpoints   map[Modality]string
	tokens      *ServiceTokenIssuer
	mode        string
	evidenceDir string
}

// NewInferenceClient creates an InferenceClient. tokens may be nil when the
// AI server does not require a service token.
func NewInferenceClient(client *Client, cfg config.AIConfig, tokens *ServiceTokenIssuer) *InferenceClient {
	mode := cfg.EvidenceMode
	if mode == "" {
		mode = EvidenceModeURL
	}
	return &InferenceClient{
		client: client,
		endpoints: map[Modality]string{
			ModalityVisual:        cfg.VisualURL,
			ModalityAudio:         cfg.AudioURL,
			ModalityAnomaly:       cfg.AnomalyURL,
			ModalityComprehensive: cfg.ComprehensiveURL,
		},
		tokens:      tokens,
		mode:        mode,
		evidenceDir: cfg.EvidenceDir,
	}
}

// Diagnose runs one modality in the inference call class.
func (c *InferenceClient) Diagnose(ctx context.Context, modality Modality, req InferenceRequest) Outcome[*InferenceResult] {
	op := "inference." + string(modality)

	endpoint, ok := c.endpoints[modality]
	if !ok || endpoint == "" {
		return Failed[*InferenceResult](&CallError{
			Class: ClassPermanent,
			Op:    op,
			Err:   fmt.Errorf("no endpoint configured for modality %q", modality),
		})
	}

	body, contentType, err := c.encode(req)
	if err != nil {
		return Failed[*InferenceResult](&CallError{Class: ClassPermanent, Op: op, Err: err})
	}

	return Execute(ctx, c.client, ClassInference, op, func(ctx context.Context, hc *http.Client) (*InferenceResult, error) {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		httpReq.Header.Set("Content-Type", contentType)
		httpReq.Header.Set("Accept", "application/json")
		if c.tokens != nil {
			token, err := c.tokens.Issue("diagnosis-worker")
			if err != nil {
				return nil, err
			}
			httpReq.Header.Set("Authorization", "Bearer "+token)
		}

		resp, err := hc.Do(httpReq)
		if err != nil {
			return nil, err
		}
		defer func() { _ = resp.Body.Close() }()

		if err := CheckResponse(resp); err != nil {
			return nil, err
		}
		return decodeInference(modality, resp.Body)
	})
}

// encode builds the request body once so every attempt resends the same bytes.
func (c *InferenceClient) encode(req InferenceRequest) ([]byte, string, error) {
	if req.EvidenceRef == "" || c.mode == EvidenceModeURL {
		payload := inferenceBody{InferenceRequest: req}
		if req.EvidenceRef != "" {
			payload.Evidence = &evidenceRef{URL: req.EvidenceRef}
		}
		body, err := json.Marshal(payload)
		if err != nil {
			return nil, "", fmt.Errorf("failed to encode inference request: %w", err)
		}
		return body, "application/json", nil
	}

	path, err := c.stagedPath(req.EvidenceRef)
	if err != nil {
		return nil, "", err
	}
	evidence, err := os.ReadFile(path)
	if err != nil {
		return nil, "", fmt.Errorf("failed to read staged evidence: %w", err)
	}

	metadata, err := json.Marshal(req)
	if err != nil {
		return nil, "", fmt.Errorf("failed to encode inference metadata: %w", err)
	}

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	if err := w.WriteField("metadata", string(metadata)); err != nil {
		return nil, "", err
	}
	part, err := w.CreateFormFile("evidence", filepath.Base(path))
	if err != nil {
		return nil, "", err
	}
	if _, err := part.Write(evidence); err != nil {
		return nil, "", err
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return buf.Bytes(), w.FormDataContentType(), nil
}

// stagedPath resolves ref inside the evidence directory; ".." segments
// cannot climb above it.
func (c *InferenceClient) stagedPath(ref string) (string, error) {
	base, err := filepath.Abs(c.evidenceDir)
	if err != nil {
		return "", err
	}
	return filepath.Join(base, filepath.Clean("/"+ref)), nil
}

func decodeInference(modality Modality, r io.Reader) (*InferenceResult, error) {
	var raw inferenceResponse
	if err := json.NewDecoder(r).Decode(&raw); err != nil {
		return nil, fmt.Errorf("failed to decode inference response: %w", err)
	}

	risk, err := domain.ParseRiskLevel(raw.RiskLevel)
	if err != nil {
		return nil, fmt.Errorf("inference response: %w", err)
	}

	result := &InferenceResult{
		Modality:  modality,
		RiskLevel: risk,
		Summary:   raw.Summary,
		Issues:    make([]domain.DetectedIssue, 0, len(raw.Issues)),
		Actions:   raw.Actions,
	}
	for _, issue := range raw.Issues {
		severity, err := domain.ParseRiskLevel(issue.Severity)
		if err != nil {
			severity = risk
		}
		result.Issues = append(result.Issues, domain.DetectedIssue{
			Code:        issue.Code,
			Description: issue.Description,
			Severity:    severity,
			Source:      string(modality),
		})
	}
	if result.Actions == nil {
		result.Actions = []domain.RecommendedAction{}
	}
	return result, nil
}
