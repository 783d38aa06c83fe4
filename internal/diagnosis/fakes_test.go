package diagnosis

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/carsync-api/internal/apiclient"
	"github.com/phrazzld/carsync-api/internal/domain"
	"github.com/phrazzld/carsync-api/internal/store"
)

// memSessions is an in-memory SessionStore that enforces the same
// open-session uniqueness and forward-only transitions as the database.
type memSessions struct {
	mu       sync.Mutex
	sessions map[uuid.UUID]*domain.DiagnosisSession
	results  map[uuid.UUID]*domain.DiagnosisResult
	history  map[uuid.UUID][]domain.SessionStatus

	// Hooks for injecting failures; nil means behave normally.
	getErr      error
	completeErr error
	createHook  func()
	updateErr   func(status domain.SessionStatus) error
}

var _ store.SessionStore = (*memSessions)(nil)

func newMemSessions() *memSessions {
	return &memSessions{
		sessions: map[uuid.UUID]*domain.DiagnosisSession{},
		results:  map[uuid.UUID]*domain.DiagnosisResult{},
		history:  map[uuid.UUID][]domain.SessionStatus{},
	}
}

func (m *memSessions) Create(_ context.Context, s *domain.DiagnosisSession) error {
	if m.createHook != nil {
		m.createHook()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.sessions {
		if existing.VehicleID == s.VehicleID && existing.TriggerKind == s.TriggerKind && existing.Status.Open() {
			return store.ErrOpenSessionExists
		}
	}
	cp := *s
	m.sessions[s.ID] = &cp
	m.history[s.ID] = []domain.SessionStatus{s.Status}
	return nil
}

func (m *memSessions) GetByID(_ context.Context, id uuid.UUID) (*domain.DiagnosisSession, error) {
	if m.getErr != nil {
		return nil, m.getErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, store.ErrSessionNotFound
	}
	cp := *s
	return &cp, nil
}

func (m *memSessions) FindOpen(_ context.Context, vehicleID string, trigger domain.TriggerKind) (*domain.DiagnosisSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.sessions {
		if s.VehicleID == vehicleID && s.TriggerKind == trigger && s.Status.Open() {
			cp := *s
			return &cp, nil
		}
	}
	return nil, store.ErrSessionNotFound
}

func (m *memSessions) UpdateStatus(_ context.Context, id uuid.UUID, status domain.SessionStatus, reason string) error {
	if m.updateErr != nil {
		if err := m.updateErr(status); err != nil {
			return err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.updateLocked(id, status, reason)
}

func (m *memSessions) updateLocked(id uuid.UUID, status domain.SessionStatus, reason string) error {
	s, ok := m.sessions[id]
	if !ok {
		return store.ErrSessionNotFound
	}
	if !domain.CanTransition(s.Status, status) {
		return fmt.Errorf("%w: %s -> %s", store.ErrStaleStatus, s.Status, status)
	}
	s.Status = status
	s.FailureReason = reason
	s.UpdatedAt = time.Now().UTC()
	m.history[id] = append(m.history[id], status)
	return nil
}

func (m *memSessions) Complete(_ context.Context, r *domain.DiagnosisResult) error {
	if m.completeErr != nil {
		return m.completeErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.results[r.SessionID]; ok {
		return store.ErrResultExists
	}
	if err := m.updateLocked(r.SessionID, domain.SessionDone, ""); err != nil {
		return err
	}
	m.results[r.SessionID] = r
	return nil
}

func (m *memSessions) FindStale(context.Context, time.Time, int) ([]*domain.DiagnosisSession, error) {
	return nil, errors.New("not used")
}

func (m *memSessions) FailIfStale(context.Context, uuid.UUID, time.Time, string) error {
	return errors.New("not used")
}

func (m *memSessions) WithTx(*sql.Tx) store.SessionStore { return m }

func (m *memSessions) put(s *domain.DiagnosisSession) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *s
	m.sessions[s.ID] = &cp
	m.history[s.ID] = []domain.SessionStatus{s.Status}
}

func (m *memSessions) status(id uuid.UUID) domain.SessionStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sessions[id].Status
}

func (m *memSessions) historyOf(id uuid.UUID) []domain.SessionStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.SessionStatus(nil), m.history[id]...)
}

func (m *memSessions) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// recordingPublisher captures published messages.
type recordingPublisher struct {
	mu   sync.Mutex
	keys []string
	msgs [][]byte
	err  error
}

func (p *recordingPublisher) Publish(_ context.Context, routingKey string, body []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.keys = append(p.keys, routingKey)
	p.msgs = append(p.msgs, body)
	return nil
}

func (p *recordingPublisher) published() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.msgs)
}

// fakeInference answers Diagnose from a function and counts calls.
type fakeInference struct {
	mu    sync.Mutex
	calls []apiclient.Modality
	fn    func(modality apiclient.Modality, req apiclient.InferenceRequest) apiclient.Outcome[*apiclient.InferenceResult]
}

func (f *fakeInference) Diagnose(
	_ context.Context,
	modality apiclient.Modality,
	req apiclient.InferenceRequest,
) apiclient.Outcome[*apiclient.InferenceResult] {
	f.mu.Lock()
	f.calls = append(f.calls, modality)
	f.mu.Unlock()
	return f.fn(modality, req)
}

func (f *fakeInference) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func okResult(modality apiclient.Modality, risk domain.RiskLevel) apiclient.Outcome[*apiclient.InferenceResult] {
	return apiclient.Success(&apiclient.InferenceResult{
		Modality:  modality,
		RiskLevel: risk,
		Summary:   string(modality) + " looks " + string(risk),
		Issues: []domain.DetectedIssue{
			{Code: string(modality), Description: string(modality) + " finding", Severity: risk, Source: string(modality)},
		},
		Actions: []domain.RecommendedAction{{Title: "Visit a workshop"}},
	})
}

func failedResult(class apiclient.FailureClass) apiclient.Outcome[*apiclient.InferenceResult] {
	return apiclient.Failed[*apiclient.InferenceResult](&apiclient.CallError{
		Class:    class,
		Op:       "inference.test",
		Attempts: 3,
		Err:      errors.New("boom"),
	})
}

type failingNarrator struct{}

func (failingNarrator) Narrate(context.Context, domain.Findings) (string, error) {
	return "", errors.New("model unavailable")
}
