package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// RiskLevel grades how urgently a vehicle needs attention.
type RiskLevel string

// Possible risk levels, from least to most severe
const (
	RiskLow      RiskLevel = "LOW"
	RiskMid      RiskLevel = "MID"
	RiskHigh     RiskLevel = "HIGH"
	RiskCritical RiskLevel = "CRITICAL"
)

var riskSeverity = map[RiskLevel]int{
	RiskLow:      0,
	RiskMid:      1,
	RiskHigh:     2,
	RiskCritical: 3,
}

// Validation errors for DiagnosisResult
var (
	ErrEmptyResultSessionID = errors.New("result session ID cannot be empty")
	ErrEmptyReport          = errors.New("result report cannot be empty")
)

// ParseRiskLevel converts a raw string into a RiskLevel. Matching is case-insensitive
// and accepts MEDIUM as an alias of MID.
func ParseRiskLevel(s string) (RiskLevel, error) {
	upper := strings.ToUpper(strings.TrimSpace(s))
	if upper == "MEDIUM" {
		return RiskMid, nil
	}
	level := RiskLevel(upper)
	if !level.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidRiskLevel, s)
	}
	return level, nil
}

// Valid reports whether r is a known risk level.
func (r RiskLevel) Valid() bool {
	_, ok := riskSeverity[r]
	return ok
}

// Severity returns the ordinal severity of r; unknown levels rank below LOW.
func (r RiskLevel) Severity() int {
	if sev, ok := riskSeverity[r]; ok {
		return sev
	}
	return -1
}

// WorstRisk returns the most severe of the given levels, or LOW when none are given.
func WorstRisk(levels ...RiskLevel) RiskLevel {
	worst := RiskLow
	for _, level := range levels {
		if level.Severity() > worst.Severity() {
			worst = level
		}
	}
	return worst
}

// DetectedIssue is a single problem reported by the diagnosis engine.
type DetectedIssue struct {
	Code        string    `json:"code,omitempty"`
	Description string    `json:"description"`
	Severity    RiskLevel `json:"severity"`
	Source      string    `json:"source,omitempty"`
}

// RecommendedAction is a suggested follow-up for the vehicle owner.
type RecommendedAction struct {
	Title   string `json:"title"`
	Detail  string `json:"detail,omitempty"`
	Urgency string `json:"urgency,omitempty"`
}

// DiagnosisResult is the immutable outcome of a session that reached DONE.
type DiagnosisResult struct {
	ID        uuid.UUID           `json:"id"`
	SessionID uuid.UUID           `json:"session_id"`
	Report    string              `json:"report"`
	RiskLevel RiskLevel           `json:"risk_level"`
	Issues    []DetectedIssue     `json:"issues"`
	Actions   []RecommendedAction `json:"actions"`
	CreatedAt time.Time           `json:"created_at"`
}

// NewDiagnosisResult creates a result for the given session.
func NewDiagnosisResult(
	sessionID uuid.UUID,
	report string,
	risk RiskLevel,
	issues []DetectedIssue,
	actions []RecommendedAction,
) (*DiagnosisResult, error) {
	if issues == nil {
		issues = []DetectedIssue{}
	}
	if actions == nil {
		actions = []RecommendedAction{}
	}

	result := &DiagnosisResult{
		ID:        uuid.New(),
		SessionID: sessionID,
		Report:    report,
		RiskLevel: risk,
		Issues:    issues,
		Actions:   actions,
		CreatedAt: time.Now().UTC(),
	}

	if err := result.Validate(); err != nil {
		return nil, err
	}
	return result, nil
}

// Validate checks if the DiagnosisResult has valid data.
func (r *DiagnosisResult) Validate() error {
	if r.SessionID == uuid.Nil {
		return ErrEmptyResultSessionID
	}
	if strings.TrimSpace(r.Report) == "" {
		return ErrEmptyReport
	}
	if !r.RiskLevel.Valid() {
		return ErrInvalidRiskLevel
	}
	return nil
}

// Findings is what the diagnosis engine concluded about a vehicle, before
// it is written up as a report.
type Findings struct {
	VehicleID   string              `json:"vehicle_id"`
	TriggerKind TriggerKind         `json:"trigger_kind"`
	RiskLevel   RiskLevel           `json:"risk_level"`
	Summaries   []string            `json:"summaries,omitempty"`
	Issues      []DetectedIssue     `json:"issues"`
	Actions     []RecommendedAction `json:"actions"`
}
