package api

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/phrazzld/carsync-api/internal/diagnosis"
	"github.com/phrazzld/carsync-api/internal/domain"
	"github.com/phrazzld/carsync-api/internal/platform/logger"
	"github.com/phrazzld/carsync-api/internal/store"
)

type mockSubmitter struct {
	SubmitFn func(ctx context.Context, req diagnosis.SubmitRequest) (*domain.DiagnosisSession, bool, error)
	last     diagnosis.SubmitRequest
}

func (m *mockSubmitter) Submit(ctx context.Context, req diagnosis.SubmitRequest) (*domain.DiagnosisSession, bool, error) {
	m.last = req
	return m.SubmitFn(ctx, req)
}

type mockSessions struct {
	sessions map[uuid.UUID]*domain.DiagnosisSession
}

func (m *mockSessions) GetByID(_ context.Context, id uuid.UUID) (*domain.DiagnosisSession, error) {
	s, ok := m.sessions[id]
	if !ok {
		return nil, store.ErrSessionNotFound
	}
	return s, nil
}

type mockResults struct {
	results map[uuid.UUID]*domain.DiagnosisResult
}

func (m *mockResults) GetBySessionID(_ context.Context, id uuid.UUID) (*domain.DiagnosisResult, error) {
	r, ok := m.results[id]
	if !ok {
		return nil, store.ErrResultNotFound
	}
	return r, nil
}

type mockSyncs struct {
	requested []string
	err       error
}

func (m *mockSyncs) PublishSyncRequest(_ context.Context, vehicleID string) error {
	if m.err != nil {
		return m.err
	}
	m.requested = append(m.requested, vehicleID)
	return nil
}

type mockVehicles struct {
	vehicles map[string]*domain.Vehicle
}

func (m *mockVehicles) GetByID(_ context.Context, id string) (*domain.Vehicle, error) {
	v, ok := m.vehicles[id]
	if !ok {
		return nil, store.ErrVehicleNotFound
	}
	return v, nil
}

type mockLinker struct {
	LinkFn func(ctx context.Context, userID string, provider domain.Provider, code string) (*domain.CloudAccount, error)
}

func (m *mockLinker) Link(ctx context.Context, userID string, provider domain.Provider, code string) (*domain.CloudAccount, error) {
	return m.LinkFn(ctx, userID, provider, code)
}

type testServer struct {
	submitter *mockSubmitter
	sessions  *mockSessions
	results   *mockResults
	syncs     *mockSyncs
	vehicles  *mockVehicles
	linker    *mockLinker
	checks    map[string]HealthCheck
}

func newTestServer() *testServer {
	return &testServer{
		submitter: &mockSubmitter{},
		sessions:  &mockSessions{sessions: map[uuid.UUID]*domain.DiagnosisSession{}},
		results:   &mockResults{results: map[uuid.UUID]*domain.DiagnosisResult{}},
		syncs:     &mockSyncs{},
		vehicles:  &mockVehicles{vehicles: map[string]*domain.Vehicle{}},
		linker:    &mockLinker{},
	}
}

func (s *testServer) router() http.Handler {
	return s.routerWithLogger(logger.Discard())
}

func (s *testServer) routerWithLogger(l *slog.Logger) http.Handler {
	return NewRouter(RouterDeps{
		Diagnoses: NewDiagnosisHandler(s.submitter, s.sessions, s.results, l),
		Cloud:     NewCloudHandler(s.syncs, s.vehicles, s.linker, l),
		Checks:    s.checks,
	}, l)
}

func (s *testServer) do(t *testing.T, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	s.router().ServeHTTP(w, req)
	return w
}
