package domain

import (
	"errors"
	"fmt"
	"time"
)

// Provider identifies a third-party cloud vehicle-data provider.
type Provider string

// Supported providers
const (
	ProviderHyundai Provider = "hyundai"
	ProviderKia     Provider = "kia"
)

// ClearanceStatus is a provider's approval state for reading a vehicle's data.
type ClearanceStatus string

// Possible clearance statuses
const (
	ClearanceApproved ClearanceStatus = "APPROVED"
	ClearancePending  ClearanceStatus = "PENDING"
	ClearanceRejected ClearanceStatus = "REJECTED"
)

// Validation errors for CloudAccount
var (
	ErrEmptyAccountUserID = errors.New("cloud account user ID cannot be empty")
	ErrEmptyAccessToken   = errors.New("cloud account access token cannot be empty")
)

// ParseProvider converts a raw string into a Provider.
func ParseProvider(s string) (Provider, error) {
	p := Provider(s)
	if !p.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidProvider, s)
	}
	return p, nil
}

// Valid reports whether p is a supported provider.
func (p Provider) Valid() bool {
	return p == ProviderHyundai || p == ProviderKia
}

// CloudAccount links a user to a provider. Tokens are stored sealed.
type CloudAccount struct {
	UserID                string     `json:"user_id"`
	Provider              Provider   `json:"provider"`
	EncryptedAccessToken  []byte     `json:"-"`
	EncryptedRefreshToken []byte     `json:"-"`
	ExpiresAt             time.Time  `json:"expires_at"`
	LastSyncedAt          *time.Time `json:"last_synced_at,omitempty"`
	CreatedAt             time.Time  `json:"created_at"`
	UpdatedAt             time.Time  `json:"updated_at"`
}

// Validate checks if the CloudAccount has valid data.
func (a *CloudAccount) Validate() error {
	if a.UserID == "" {
		return ErrEmptyAccountUserID
	}
	if !a.Provider.Valid() {
		return ErrInvalidProvider
	}
	if len(a.EncryptedAccessToken) == 0 {
		return ErrEmptyAccessToken
	}
	return nil
}

// NeedsRefresh reports whether the access token expires within margin of now.
func (a *CloudAccount) NeedsRefresh(now time.Time, margin time.Duration) bool {
	return !now.Before(a.ExpiresAt.Add(-margin))
}

// MarkSynced records a successful full sync.
func (a *CloudAccount) MarkSynced(at time.Time) {
	t := at.UTC()
	a.LastSyncedAt = &t
	a.UpdatedAt = t
}
