package cloudsync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/phrazzld/carsync-api/internal/domain"
	"github.com/phrazzld/carsync-api/internal/store"
)

// Errors returned by AccountService
var (
	ErrEmptyAuthCode = errors.New("authorization code cannot be empty")
	ErrLinkFailed    = errors.New("failed to link cloud account")
)

// SyncRequester publishes sync requests.
type SyncRequester interface {
	PublishSyncRequest(ctx context.Context, vehicleID string) error
}

// AccountService links users' provider accounts.
type AccountService struct {
	accounts   store.CloudAccountStore
	vehicles   store.VehicleStore
	strategies StrategySource
	sealer     Sealer
	syncs      SyncRequester
	now        func() time.Time
	logger     *slog.Logger
}

// NewAccountService creates an AccountService.
func NewAccountService(
	accounts store.CloudAccountStore,
	vehicles store.VehicleStore,
	strategies StrategySource,
	sealer Sealer,
	syncs SyncRequester,
	logger *slog.Logger,
) *AccountService {
	if logger == nil {
		logger = slog.Default()
	}
	return &AccountService{
		accounts:   accounts,
		vehicles:   vehicles,
		strategies: strategies,
		sealer:     sealer,
		syncs:      syncs,
		now:        time.Now,
		logger:     logger.With(slog.String("component", "account_service")),
	}
}

// Link exchanges an authorization code for tokens, stores them sealed, and
// requests a sync of each of the user's vehicles on that provider.
func (s *AccountService) Link(
	ctx context.Context,
	userID string,
	provider domain.Provider,
	code string,
) (*domain.CloudAccount, error) {
	if code == "" {
		return nil, ErrEmptyAuthCode
	}
	if userID == "" {
		return nil, domain.ErrEmptyAccountUserID
	}
	strategy, err := s.strategies.For(provider)
	if err != nil {
		return nil, err
	}

	outcome := strategy.ExchangeCode(ctx, code)
	if !outcome.OK() {
		return nil, fmt.Errorf("%w: %w", ErrLinkFailed, outcome.Err())
	}
	tok := outcome.Value

	sealedAccess, err := s.sealer.SealString(tok.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("failed to seal access token: %w", err)
	}
	var sealedRefresh []byte
	if tok.RefreshToken != "" {
		if sealedRefresh, err = s.sealer.SealString(tok.RefreshToken); err != nil {
			return nil, fmt.Errorf("failed to seal refresh token: %w", err)
		}
	}

	now := s.now().UTC()
	account := &domain.CloudAccount{
		UserID:                userID,
		Provider:              provider,
		EncryptedAccessToken:  sealedAccess,
		EncryptedRefreshToken: sealedRefresh,
		ExpiresAt:             tok.ExpiresAt,
		CreatedAt:             now,
		UpdatedAt:             now,
	}
	if err := account.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrLinkFailed, err)
	}
	if err := s.accounts.Upsert(ctx, account); err != nil {
		return nil, fmt.Errorf("failed to store cloud account: %w", err)
	}

	log := s.logger.With(slog.String("user_id", userID), slog.String("provider", string(provider)))
	log.Info("cloud account linked")

	vehicles, err := s.vehicles.ListByOwner(ctx, userID, provider)
	if err != nil {
		log.Error("failed to list vehicles for initial sync", slog.String("error", err.Error()))
		return account, nil
	}
	for _, v := range vehicles {
		if err := s.syncs.PublishSyncRequest(ctx, v.ID); err != nil {
			log.Error("failed to request initial sync",
				slog.String("vehicle_id", v.ID),
				slog.String("error", err.Error()))
		}
	}
	return account, nil
}
