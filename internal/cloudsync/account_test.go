package cloudsync

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/phrazzld/carsync-api/internal/apiclient"
	"github.com/phrazzld/carsync-api/internal/domain"
	"github.com/phrazzld/carsync-api/internal/platform/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSyncs struct {
	mu        sync.Mutex
	requested []string
	err       error
}

func (r *recordingSyncs) PublishSyncRequest(_ context.Context, vehicleID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.requested = append(r.requested, vehicleID)
	return nil
}

func newAccountFixture(t *testing.T, exchange apiclient.Outcome[apiclient.Token]) (*AccountService, *fakeAccounts, *recordingSyncs) {
	t.Helper()
	accounts := newFakeAccounts()
	syncs := &recordingSyncs{}
	vehicles := &fakeVehicles{vehicles: map[string]*domain.Vehicle{
		"V1": {ID: "V1", UserID: "u1", Provider: domain.ProviderHyundai},
		"V2": {ID: "V2", UserID: "u1", Provider: domain.ProviderHyundai},
		"V3": {ID: "V3", UserID: "u1", Provider: domain.ProviderKia},
		"V4": {ID: "V4", UserID: "u2", Provider: domain.ProviderHyundai},
	}}
	strategies := apiclient.Strategies{
		domain.ProviderHyundai: &fakeStrategy{provider: domain.ProviderHyundai, exchange: exchange},
	}
	svc := NewAccountService(accounts, vehicles, strategies, testSealer(t), syncs, logger.Discard())
	return svc, accounts, syncs
}

func TestLinkStoresSealedTokensAndRequestsSync(t *testing.T) {
	t.Parallel()

	expires := time.Date(2026, 3, 1, 13, 0, 0, 0, time.UTC)
	svc, accounts, syncs := newAccountFixture(t, apiclient.Success(apiclient.Token{
		AccessToken: "access-1", RefreshToken: "refresh-1", ExpiresAt: expires,
	}))

	account, err := svc.Link(context.Background(), "u1", domain.ProviderHyundai, "auth-code")
	require.NoError(t, err)
	require.NotNil(t, account)

	assert.Equal(t, 1, accounts.upserts)
	stored := accounts.accounts[accountKey("u1", domain.ProviderHyundai)]
	require.NotNil(t, stored)
	assert.Equal(t, expires, stored.ExpiresAt)
	assert.NotContains(t, string(stored.EncryptedAccessToken), "access-1")

	sealer := testSealer(t)
	access, err := sealer.OpenString(stored.EncryptedAccessToken)
	require.NoError(t, err)
	assert.Equal(t, "access-1", access)
	refresh, err := sealer.OpenString(stored.EncryptedRefreshToken)
	require.NoError(t, err)
	assert.Equal(t, "refresh-1", refresh)

	assert.ElementsMatch(t, []string{"V1", "V2"}, syncs.requested)
}

func TestLinkWithoutRefreshToken(t *testing.T) {
	t.Parallel()

	svc, accounts, _ := newAccountFixture(t, apiclient.Success(apiclient.Token{
		AccessToken: "access-only", ExpiresAt: time.Now().Add(time.Hour),
	}))

	_, err := svc.Link(context.Background(), "u1", domain.ProviderHyundai, "auth-code")
	require.NoError(t, err)
	assert.Empty(t, accounts.accounts[accountKey("u1", domain.ProviderHyundai)].EncryptedRefreshToken)
}

func TestLinkErrors(t *testing.T) {
	t.Parallel()

	ok := apiclient.Success(apiclient.Token{AccessToken: "a", ExpiresAt: time.Now().Add(time.Hour)})
	failed := apiclient.Failed[apiclient.Token](&apiclient.CallError{
		Class: apiclient.ClassPermanent, Op: "token", Err: errors.New("invalid_grant"),
	})

	tests := []struct {
		name     string
		exchange apiclient.Outcome[apiclient.Token]
		userID   string
		provider domain.Provider
		code     string
		wantErr  error
	}{
		{"empty code", ok, "u1", domain.ProviderHyundai, "", ErrEmptyAuthCode},
		{"empty user", ok, "", domain.ProviderHyundai, "code", domain.ErrEmptyAccountUserID},
		{"unconfigured provider", ok, "u1", domain.ProviderKia, "code", domain.ErrInvalidProvider},
		{"exchange rejected", failed, "u1", domain.ProviderHyundai, "code", ErrLinkFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, accounts, syncs := newAccountFixture(t, tt.exchange)
			account, err := svc.Link(context.Background(), tt.userID, tt.provider, tt.code)
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.wantErr)
			assert.Nil(t, account)
			assert.Zero(t, accounts.upserts)
			assert.Empty(t, syncs.requested)
		})
	}
}

func TestLinkSucceedsWhenSyncPublishFails(t *testing.T) {
	t.Parallel()

	svc, accounts, syncs := newAccountFixture(t, apiclient.Success(apiclient.Token{
		AccessToken: "a", ExpiresAt: time.Now().Add(time.Hour),
	}))
	syncs.err = errors.New("broker down")

	_, err := svc.Link(context.Background(), "u1", domain.ProviderHyundai, "code")
	require.NoError(t, err)
	assert.Equal(t, 1, accounts.upserts)
}
