package gemini

import (
	"bytes"
	"context"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"text/template"
	"time"

	"github.com/phrazzld/carsync-api/internal/config"
	"github.com/phrazzld/carsync-api/internal/domain"
	"github.com/sethvargo/go-retry"
	"google.golang.org/genai"
)

//go:embed prompt.tmpl
var promptTemplate string

const defaultRetryDelay = 500 * time.Millisecond

// contentGenerator is the subset of *genai.Models the narrator calls.
type contentGenerator interface {
	GenerateContent(
		ctx context.Context,
		model string,
		contents []*genai.Content,
		config *genai.GenerateContentConfig,
	) (*genai.GenerateContentResponse, error)
}

// Narrator writes diagnosis reports with a Gemini model.
type Narrator struct {
	logger     *slog.Logger
	models     contentGenerator
	model      string
	prompt     *template.Template
	maxRetries int
	retryDelay time.Duration
}

// NewNarrator creates a Narrator from the LLM configuration.
func NewNarrator(ctx context.Context, logger *slog.Logger, cfg config.LLMConfig) (*Narrator, error) {
	if cfg.GeminiAPIKey == "" {
		return nil, fmt.Errorf("%w: gemini API key cannot be empty", ErrInvalidConfig)
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.GeminiAPIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create Gemini client: %v", ErrInvalidConfig, err)
	}

	return newNarrator(client.Models, logger, cfg)
}

func newNarrator(models contentGenerator, logger *slog.Logger, cfg config.LLMConfig) (*Narrator, error) {
	if logger == nil {
		return nil, errors.New("logger cannot be nil")
	}
	if cfg.ModelName == "" {
		return nil, fmt.Errorf("%w: model name cannot be empty", ErrInvalidConfig)
	}

	prompt, err := template.New("report").Parse(promptTemplate)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to parse prompt template: %v", ErrInvalidConfig, err)
	}

	maxRetries := cfg.MaxRetries
	if maxRetries < 0 {
		maxRetries = 0
	}

	return &Narrator{
		logger:     logger.With(slog.String("component", "gemini_narrator")),
		models:     models,
		model:      cfg.ModelName,
		prompt:     prompt,
		maxRetries: maxRetries,
		retryDelay: defaultRetryDelay,
	}, nil
}

// Narrate writes a report for findings.
func (n *Narrator) Narrate(ctx context.Context, findings domain.Findings) (string, error) {
	prompt, err := n.createPrompt(findings)
	if err != nil {
		return "", err
	}

	attempt := 0
	var report string
	backoff := retry.WithMaxRetries(uint64(n.maxRetries), retry.NewExponential(n.retryDelay))
	err = retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		text, err := n.generate(ctx, prompt)
		if err == nil {
			report = text
			return nil
		}

		n.logger.WarnContext(ctx, "gemini call failed",
			"attempt", attempt,
			"error", err)
		if transient(err) {
			return retry.RetryableError(err)
		}
		return err
	})
	if err != nil {
		return "", fmt.Errorf("narration failed after %d attempts: %w", attempt, err)
	}

	n.logger.DebugContext(ctx, "report narrated",
		"vehicle_id", findings.VehicleID,
		"attempts", attempt,
		"report_length", len(report))
	return report, nil
}

func (n *Narrator) createPrompt(findings domain.Findings) (string, error) {
	if findings.VehicleID == "" && len(findings.Issues) == 0 && len(findings.Summaries) == 0 {
		return "", ErrEmptyFindings
	}

	var buf bytes.Buffer
	if err := n.prompt.Execute(&buf, findings); err != nil {
		return "", fmt.Errorf("failed to execute prompt template: %w", err)
	}
	return buf.String(), nil
}

func (n *Narrator) generate(ctx context.Context, prompt string) (string, error) {
	contents := []*genai.Content{{
		Role:  "user",
		Parts: []*genai.Part{{Text: prompt}},
	}}

	resp, err := n.models.GenerateContent(ctx, n.model, contents, nil)
	if err != nil {
		return "", err
	}
	if resp == nil || len(resp.Candidates) == 0 {
		return "", fmt.Errorf("%w: no candidates", ErrEmptyResponse)
	}

	candidate := resp.Candidates[0]
	if candidate.FinishReason == genai.FinishReasonSafety {
		return "", ErrContentBlocked
	}
	if candidate.Content == nil {
		return "", fmt.Errorf("%w: empty candidate", ErrEmptyResponse)
	}

	var b strings.Builder
	for _, part := range candidate.Content.Parts {
		if part != nil {
			b.WriteString(part.Text)
		}
	}
	text := strings.TrimSpace(b.String())
	if text == "" {
		return "", fmt.Errorf("%w: blank text", ErrEmptyResponse)
	}
	return text, nil
}

// transient reports whether a Gemini error is worth retrying.
func transient(err error) bool {
	if errors.Is(err, ErrContentBlocked) || errors.Is(err, ErrEmptyResponse) {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}

	var apiErr *genai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code >= http.StatusInternalServerError || apiErr.Code == http.StatusTooManyRequests
	}
	return true
}
