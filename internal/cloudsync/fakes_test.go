package cloudsync

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/phrazzld/carsync-api/internal/apiclient"
	"github.com/phrazzld/carsync-api/internal/domain"
	"github.com/phrazzld/carsync-api/internal/secrets"
	"github.com/phrazzld/carsync-api/internal/store"
	"github.com/stretchr/testify/require"
)

const testKey = "00112233445566778899aabbccddeeff00112233445566778899aabbccddeeff"

func testSealer(t *testing.T) *secrets.Sealer {
	t.Helper()
	s, err := secrets.NewSealerFromHex(testKey)
	require.NoError(t, err)
	return s
}

type fakeVehicles struct {
	vehicles map[string]*domain.Vehicle
	err      error
}

func (f *fakeVehicles) GetByID(_ context.Context, id string) (*domain.Vehicle, error) {
	if f.err != nil {
		return nil, f.err
	}
	v, ok := f.vehicles[id]
	if !ok {
		return nil, store.ErrVehicleNotFound
	}
	return v, nil
}

func (f *fakeVehicles) ListByOwner(_ context.Context, userID string, provider domain.Provider) ([]*domain.Vehicle, error) {
	var out []*domain.Vehicle
	for _, v := range f.vehicles {
		if v.UserID == userID && v.Provider == provider {
			out = append(out, v)
		}
	}
	return out, nil
}

func (f *fakeVehicles) ListLinked(context.Context) ([]*domain.Vehicle, error) {
	if f.err != nil {
		return nil, f.err
	}
	var out []*domain.Vehicle
	for _, v := range f.vehicles {
		if v.HasVIN() {
			out = append(out, v)
		}
	}
	return out, nil
}

type fakeAccounts struct {
	mu       sync.Mutex
	accounts map[string]*domain.CloudAccount
	upserts  int
	synced   map[string]time.Time
}

func newFakeAccounts() *fakeAccounts {
	return &fakeAccounts{accounts: map[string]*domain.CloudAccount{}, synced: map[string]time.Time{}}
}

func accountKey(userID string, p domain.Provider) string { return userID + "/" + string(p) }

func (f *fakeAccounts) Upsert(_ context.Context, a *domain.CloudAccount) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *a
	f.accounts[accountKey(a.UserID, a.Provider)] = &cp
	f.upserts++
	return nil
}

func (f *fakeAccounts) Get(_ context.Context, userID string, p domain.Provider) (*domain.CloudAccount, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.accounts[accountKey(userID, p)]
	if !ok {
		return nil, store.ErrAccountNotFound
	}
	cp := *a
	return &cp, nil
}

func (f *fakeAccounts) MarkSynced(_ context.Context, userID string, p domain.Provider, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.accounts[accountKey(userID, p)]
	if !ok {
		return store.ErrAccountNotFound
	}
	a.MarkSynced(at)
	f.synced[accountKey(userID, p)] = at
	return nil
}

func (f *fakeAccounts) upsertCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.upserts
}

type fakeTelemetry struct {
	mu        sync.Mutex
	snapshots []*domain.TelemetrySnapshot
}

func (f *fakeTelemetry) Save(_ context.Context, s *domain.TelemetrySnapshot) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.snapshots = append(f.snapshots, s)
	return nil
}

// fakeProvider replays clearance statuses in order, repeating the last.
type fakeProvider struct {
	mu          sync.Mutex
	clearances  []apiclient.Outcome[domain.ClearanceStatus]
	calls       int
	vins        []string
	dataTokens  []string
	serviceSeen []string
}

func approved() apiclient.Outcome[domain.ClearanceStatus] {
	return apiclient.Success(domain.ClearanceApproved)
}

func pending() apiclient.Outcome[domain.ClearanceStatus] {
	return apiclient.Success(domain.ClearancePending)
}

func clearanceStatus(code int) apiclient.Outcome[domain.ClearanceStatus] {
	class := apiclient.ClassPermanent
	if code >= 500 {
		class = apiclient.ClassTransientExhausted
	}
	return apiclient.Failed[domain.ClearanceStatus](&apiclient.CallError{
		Class: class, Op: "status", StatusCode: code, Err: errors.New("rejected"),
	})
}

func (f *fakeProvider) Clearance(_ context.Context, _ domain.Provider, vin, serviceToken string) apiclient.Outcome[domain.ClearanceStatus] {
	f.mu.Lock()
	defer f.mu.Unlock()
	i := f.calls
	if i >= len(f.clearances) {
		i = len(f.clearances) - 1
	}
	f.calls++
	f.vins = append(f.vins, vin)
	f.serviceSeen = append(f.serviceSeen, serviceToken)
	return f.clearances[i]
}

func (f *fakeProvider) Dynamic(_ context.Context, _ domain.Provider, _, accessToken string) apiclient.Outcome[apiclient.DynamicData] {
	f.mu.Lock()
	f.dataTokens = append(f.dataTokens, accessToken)
	f.mu.Unlock()

	fuel := 62.5
	data := apiclient.DynamicData{OdometerKm: 12345.6, FuelPercent: &fuel, EngineOn: true}
	data.Location = &apiclient.GeoPoint{Latitude: 37.5, Longitude: 127.0}
	return apiclient.Success(data)
}

func (f *fakeProvider) Static(context.Context, domain.Provider, string, string) apiclient.Outcome[apiclient.StaticData] {
	return apiclient.Success(apiclient.StaticData{ModelName: "Ioniq 5", ModelYear: 2024})
}

func (f *fakeProvider) clearanceCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeStrategy struct {
	provider  domain.Provider
	exchange  apiclient.Outcome[apiclient.Token]
	refresh   apiclient.Outcome[apiclient.Token]
	refreshes int
	mu        sync.Mutex

	// release, when set, holds Refresh until it is closed.
	release chan struct{}
	// refreshCtxErr is the context error Refresh saw once released.
	refreshCtxErr error
}

func (f *fakeStrategy) Provider() domain.Provider { return f.provider }

func (f *fakeStrategy) ExchangeCode(context.Context, string) apiclient.Outcome[apiclient.Token] {
	return f.exchange
}

func (f *fakeStrategy) Refresh(ctx context.Context, _ string) apiclient.Outcome[apiclient.Token] {
	f.mu.Lock()
	f.refreshes++
	release := f.release
	f.mu.Unlock()

	if release != nil {
		<-release
	}
	f.mu.Lock()
	f.refreshCtxErr = ctx.Err()
	f.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return apiclient.Failed[apiclient.Token](&apiclient.CallError{
			Class: apiclient.ClassCanceled, Op: "token", Err: err,
		})
	}
	return f.refresh
}

func (f *fakeStrategy) refreshCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.refreshes
}

func (f *fakeStrategy) ClientCredentials(context.Context) apiclient.Outcome[apiclient.Token] {
	return apiclient.Success(apiclient.Token{AccessToken: "svc", ExpiresAt: time.Now().Add(time.Hour)})
}

type fakeTokens struct {
	mu          sync.Mutex
	err         error
	invalidated []string
}

func (f *fakeTokens) GetAccessToken(_ context.Context, key string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return "svc-" + key, nil
}

func (f *fakeTokens) Invalidate(key string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.invalidated = append(f.invalidated, key)
}

type recordingDelayer struct {
	mu      sync.Mutex
	delayed []string
	deaths  []int
	err     error
}

func (r *recordingDelayer) PublishToDelayQueue(_ context.Context, vehicleID string, deathCount int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.delayed = append(r.delayed, vehicleID)
	r.deaths = append(r.deaths, deathCount)
	return nil
}

func (r *recordingDelayer) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.delayed)
}

var errTransient = errors.New("temporary outage")
