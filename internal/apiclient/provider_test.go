package apiclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/phrazzld/carsync-api/internal/config"
	"github.com/phrazzld/carsync-api/internal/domain"
	"github.com/phrazzld/carsync-api/internal/platform/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type tokenRequest struct {
	grantType    string
	bodyClientID string
	basicUser    string
	code         string
	refreshToken string
}

func tokenServer(t *testing.T, failFirst int) (*httptest.Server, chan tokenRequest, *atomic.Int32) {
	t.Helper()
	requests := make(chan tokenRequest, 10)
	var calls atomic.Int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := calls.Add(1)
		_ = r.ParseForm()
		user, _, _ := r.BasicAuth()
		requests <- tokenRequest{
			grantType:    r.PostForm.Get("grant_type"),
			bodyClientID: r.PostForm.Get("client_id"),
			basicUser:    user,
			code:         r.PostForm.Get("code"),
			refreshToken: r.PostForm.Get("refresh_token"),
		}
		if int(n) <= failFirst {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token":  "access-" + r.PostForm.Get("grant_type"),
			"refresh_token": "refresh-2",
			"token_type":    "Bearer",
			"expires_in":    3600,
		})
	}))
	t.Cleanup(srv.Close)
	return srv, requests, &calls
}

func providerConfig(tokenURL string) config.ProviderConfig {
	return config.ProviderConfig{
		ClientID:     "client-1",
		ClientSecret: "secret-1",
		RedirectURI:  "https://carsync.example/callback",
		TokenURI:     tokenURL,
		APIBaseURL:   "https://api.example",
	}
}

func TestHyundaiStrategySendsCredentialsInBody(t *testing.T) {
	srv, requests, _ := tokenServer(t, 0)
	strategy := NewHyundaiStrategy(testClient(time.Second), providerConfig(srv.URL))

	out := strategy.ExchangeCode(context.Background(), "auth-code")
	require.True(t, out.OK(), "unexpected failure: %v", out.Err())
	assert.Equal(t, "access-authorization_code", out.Value.AccessToken)
	assert.Equal(t, "refresh-2", out.Value.RefreshToken)
	assert.WithinDuration(t, time.Now().Add(time.Hour), out.Value.ExpiresAt, time.Minute)

	req := <-requests
	assert.Equal(t, "authorization_code", req.grantType)
	assert.Equal(t, "auth-code", req.code)
	assert.Equal(t, "client-1", req.bodyClientID)
	assert.Empty(t, req.basicUser)
	assert.Equal(t, domain.ProviderHyundai, strategy.Provider())
}

func TestKiaStrategyUsesBasicAuth(t *testing.T) {
	srv, requests, _ := tokenServer(t, 0)
	strategy := NewKiaStrategy(testClient(time.Second), providerConfig(srv.URL))

	out := strategy.ClientCredentials(context.Background())
	require.True(t, out.OK(), "unexpected failure: %v", out.Err())
	assert.Equal(t, "access-client_credentials", out.Value.AccessToken)

	req := <-requests
	assert.Equal(t, "client_credentials", req.grantType)
	assert.Equal(t, "client-1", req.basicUser)
	assert.Empty(t, req.bodyClientID)
}

func TestStrategyRefreshRetriesTransientTokenErrors(t *testing.T) {
	srv, requests, calls := tokenServer(t, 1)
	strategy := NewHyundaiStrategy(testClient(time.Second), providerConfig(srv.URL))

	out := strategy.Refresh(context.Background(), "refresh-1")
	require.True(t, out.OK(), "unexpected failure: %v", out.Err())
	assert.Equal(t, "access-refresh_token", out.Value.AccessToken)
	assert.EqualValues(t, 2, calls.Load())

	req := <-requests
	assert.Equal(t, "refresh_token", req.grantType)
	assert.Equal(t, "refresh-1", req.refreshToken)
}

func TestStrategyRejectedCodeIsPermanent(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"invalid_grant"}`))
	}))
	defer srv.Close()

	strategy := NewKiaStrategy(testClient(time.Second), providerConfig(srv.URL))
	out := strategy.ExchangeCode(context.Background(), "expired-code")

	assert.True(t, out.Permanent())
	assert.Equal(t, 400, out.Failure.StatusCode)
	assert.EqualValues(t, 1, calls.Load())
}

func TestStrategiesAndClientCredentialsFetcher(t *testing.T) {
	srv, _, _ := tokenServer(t, 0)
	client := testClient(time.Second)
	strategies := NewStrategies(client, config.ProvidersConfig{Hyundai: providerConfig(srv.URL)})

	_, err := strategies.For(domain.ProviderKia)
	assert.ErrorIs(t, err, domain.ErrInvalidProvider)

	cache := NewTokenCache(ClientCredentialsFetcher(strategies), DefaultTokenMargin, logger.Discard())
	tok, err := cache.GetAccessToken(context.Background(), string(domain.ProviderHyundai))
	require.NoError(t, err)
	assert.Equal(t, "access-client_credentials", tok)

	_, err = cache.GetAccessToken(context.Background(), string(domain.ProviderKia))
	assert.ErrorIs(t, err, domain.ErrInvalidProvider)
}
