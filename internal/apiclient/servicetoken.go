package apiclient

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Service token claims.
const (
	serviceTokenIssuer   = "carsync-api"
	serviceTokenAudience = "ai-diagnosis"
	serviceTokenLifetime = 5 * time.Minute
)

// ErrWeakServiceSecret is returned when the shared secret is too short to sign with.
var ErrWeakServiceSecret = errors.New("service token secret must be at least 32 characters")

// ServiceTokenIssuer signs short-lived HS256 tokens that authenticate the
// orchestrator to the AI server.
type ServiceTokenIssuer struct {
	signingKey []byte
	timeFunc   func() time.Time
}

// NewServiceTokenIssuer creates an issuer from a shared secret.
func NewServiceTokenIssuer(secret string) (*ServiceTokenIssuer, error) {
	if len(secret) < 32 {
		return nil, ErrWeakServiceSecret
	}
	return &ServiceTokenIssuer{signingKey: []byte(secret), timeFunc: time.Now}, nil
}

// Issue returns a signed token whose subject names the calling component.
func (s *ServiceTokenIssuer) Issue(subject string) (string, error) {
	now := s.timeFunc()
	claims := jwt.RegisteredClaims{
		Issuer:    serviceTokenIssuer,
		Subject:   subject,
		Audience:  jwt.ClaimStrings{serviceTokenAudience},
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(serviceTokenLifetime)),
		ID:        uuid.NewString(),
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.signingKey)
	if err != nil {
		return "", fmt.Errorf("failed to sign service token with HMAC-SHA256: %w", err)
	}
	return signed, nil
}

// Verify parses and validates a token issued by Issue.
func (s *ServiceTokenIssuer) Verify(token string) (*jwt.RegisteredClaims, error) {
	claims := &jwt.RegisteredClaims{}
	_, err := jwt.ParseWithClaims(token, claims,
		func(t *jwt.Token) (interface{}, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
			}
			return s.signingKey, nil
		},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Name}),
		jwt.WithIssuer(serviceTokenIssuer),
		jwt.WithAudience(serviceTokenAudience),
		jwt.WithTimeFunc(s.timeFunc),
	)
	if err != nil {
		return nil, fmt.Errorf("invalid service token: %w", err)
	}
	return claims, nil
}
