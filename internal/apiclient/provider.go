package apiclient

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/phrazzld/carsync-api/internal/config"
	"github.com/phrazzld/carsync-api/internal/domain"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

// defaultTokenLifetime applies when a token endpoint omits expires_in.
const defaultTokenLifetime = time.Hour

// Token is an access token and the instant it stops being valid.
type Token struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
}

// ValidAt reports whether the token is usable at now with margin to spare.
func (t Token) ValidAt(now time.Time, margin time.Duration) bool {
	return t.AccessToken != "" && now.Before(t.ExpiresAt.Add(-margin))
}

// ProviderStrategy performs the OAuth grants of one cloud provider.
type ProviderStrategy interface {
	Provider() domain.Provider
	ExchangeCode(ctx context.Context, code string) Outcome[Token]
	Refresh(ctx context.Context, refreshToken string) Outcome[Token]
	ClientCredentials(ctx context.Context) Outcome[Token]
}

type oauthStrategy struct {
	provider domain.Provider
	client   *Client
	user     oauth2.Config
	service  clientcredentials.Config
}

// NewHyundaiStrategy creates the Hyundai strategy. Hyundai expects client
// credentials in the form body.
func NewHyundaiStrategy(client *Client, cfg config.ProviderConfig) ProviderStrategy {
	return newOAuthStrategy(domain.ProviderHyundai, client, cfg, oauth2.AuthStyleInParams)
}

// NewKiaStrategy creates the Kia strategy. Kia expects HTTP basic auth.
func NewKiaStrategy(client *Client, cfg config.ProviderConfig) ProviderStrategy {
	return newOAuthStrategy(domain.ProviderKia, client, cfg, oauth2.AuthStyleInHeader)
}

func newOAuthStrategy(
	provider domain.Provider,
	client *Client,
	cfg config.ProviderConfig,
	style oauth2.AuthStyle,
) *oauthStrategy {
	return &oauthStrategy{
		provider: provider,
		client:   client,
		user: oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURI,
			Endpoint:     oauth2.Endpoint{TokenURL: cfg.TokenURI, AuthStyle: style},
		},
		service: clientcredentials.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			TokenURL:     cfg.TokenURI,
			AuthStyle:    style,
		},
	}
}

func (s *oauthStrategy) Provider() domain.Provider {
	return s.provider
}

func (s *oauthStrategy) ExchangeCode(ctx context.Context, code string) Outcome[Token] {
	return s.grant(ctx, "exchange_code", func(ctx context.Context) (*oauth2.Token, error) {
		return s.user.Exchange(ctx, code)
	})
}

func (s *oauthStrategy) Refresh(ctx context.Context, refreshToken string) Outcome[Token] {
	return s.grant(ctx, "refresh", func(ctx context.Context) (*oauth2.Token, error) {
		return s.user.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken}).Token()
	})
}

func (s *oauthStrategy) ClientCredentials(ctx context.Context) Outcome[Token] {
	return s.grant(ctx, "client_credentials", func(ctx context.Context) (*oauth2.Token, error) {
		return s.service.Token(ctx)
	})
}

// grant runs an oauth2 call in the token class; oauth2 picks up the class's
// http.Client from the context.
func (s *oauthStrategy) grant(
	ctx context.Context,
	name string,
	fn func(ctx context.Context) (*oauth2.Token, error),
) Outcome[Token] {
	op := fmt.Sprintf("token.%s.%s", s.provider, name)
	return Execute(ctx, s.client, ClassToken, op, func(ctx context.Context, hc *http.Client) (Token, error) {
		tok, err := fn(context.WithValue(ctx, oauth2.HTTPClient, hc))
		if err != nil {
			return Token{}, err
		}
		expires := tok.Expiry
		if expires.IsZero() {
			expires = time.Now().Add(defaultTokenLifetime)
		}
		return Token{
			AccessToken:  tok.AccessToken,
			RefreshToken: tok.RefreshToken,
			ExpiresAt:    expires,
		}, nil
	})
}

// Strategies selects a ProviderStrategy by provider.
type Strategies map[domain.Provider]ProviderStrategy

// NewStrategies builds a strategy for every provider with complete settings.
func NewStrategies(client *Client, cfg config.ProvidersConfig) Strategies {
	strategies := Strategies{}
	if cfg.Hyundai.Enabled() {
		strategies[domain.ProviderHyundai] = NewHyundaiStrategy(client, cfg.Hyundai)
	}
	if cfg.Kia.Enabled() {
		strategies[domain.ProviderKia] = NewKiaStrategy(client, cfg.Kia)
	}
	return strategies
}

// For returns the strategy of provider.
func (s Strategies) For(provider domain.Provider) (ProviderStrategy, error) {
	strategy, ok := s[provider]
	if !ok {
		return nil, fmt.Errorf("%w: %q is not configured", domain.ErrInvalidProvider, provider)
	}
	return strategy, nil
}
