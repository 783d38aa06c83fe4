package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/phrazzld/carsync-api/internal/domain"
	"github.com/phrazzld/carsync-api/internal/platform/logger"
	"github.com/phrazzld/carsync-api/internal/store"
)

// PostgresCloudAccountStore implements the store.CloudAccountStore interface.
type PostgresCloudAccountStore struct {
	db     store.DBTX
	logger *slog.Logger
}

// NewPostgresCloudAccountStore creates a new PostgreSQL implementation of the CloudAccountStore interface.
func NewPostgresCloudAccountStore(db store.DBTX, logger *slog.Logger) *PostgresCloudAccountStore {
	if db == nil {
		panic("db cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresCloudAccountStore{
		db:     db,
		logger: logger.With(slog.String("component", "cloud_account_store")),
	}
}

var _ store.CloudAccountStore = (*PostgresCloudAccountStore)(nil)

// Upsert implements store.CloudAccountStore.Upsert.
// An existing account keeps its created_at and last_synced_at.
func (s *PostgresCloudAccountStore) Upsert(ctx context.Context, account *domain.CloudAccount) error {
	log := logger.FromContextOrDefault(ctx, s.logger)

	if err := account.Validate(); err != nil {
		return fmt.Errorf("%w: %v", store.ErrInvalidEntity, err)
	}

	query := `
		INSERT INTO cloud_accounts (
			user_id, provider, encrypted_access_token, encrypted_refresh_token,
			expires_at, last_synced_at, created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (user_id, provider) DO UPDATE SET
			encrypted_access_token = EXCLUDED.encrypted_access_token,
			encrypted_refresh_token = COALESCE(EXCLUDED.encrypted_refresh_token, cloud_accounts.encrypted_refresh_token),
			expires_at = EXCLUDED.expires_at,
			updated_at = EXCLUDED.updated_at
	`
	_, err := s.db.ExecContext(ctx, query,
		account.UserID,
		string(account.Provider),
		account.EncryptedAccessToken,
		nullBytes(account.EncryptedRefreshToken),
		account.ExpiresAt,
		account.LastSyncedAt,
		account.CreatedAt,
		account.UpdatedAt,
	)
	if err != nil {
		log.Error("failed to upsert cloud account",
			slog.String("error", err.Error()),
			slog.String("user_id", account.UserID),
			slog.String("provider", string(account.Provider)))
		return MapError(err)
	}

	log.Info("cloud account stored",
		slog.String("user_id", account.UserID),
		slog.String("provider", string(account.Provider)),
		slog.Time("expires_at", account.ExpiresAt))
	return nil
}

// Get implements store.CloudAccountStore.Get.
func (s *PostgresCloudAccountStore) Get(
	ctx context.Context,
	userID string,
	provider domain.Provider,
) (*domain.CloudAccount, error) {
	query := `
		SELECT user_id, provider, encrypted_access_token, encrypted_refresh_token,
			expires_at, last_synced_at, created_at, updated_at
		FROM cloud_accounts
		WHERE user_id = $1 AND provider = $2
	`

	var (
		account  domain.CloudAccount
		prov     string
		lastSync sql.NullTime
	)
	err := s.db.QueryRowContext(ctx, query, userID, string(provider)).Scan(
		&account.UserID,
		&prov,
		&account.EncryptedAccessToken,
		&account.EncryptedRefreshToken,
		&account.ExpiresAt,
		&lastSync,
		&account.CreatedAt,
		&account.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrAccountNotFound
		}
		logger.FromContextOrDefault(ctx, s.logger).Error("failed to get cloud account",
			slog.String("error", err.Error()),
			slog.String("user_id", userID))
		return nil, MapError(err)
	}

	account.Provider = domain.Provider(prov)
	if lastSync.Valid {
		t := lastSync.Time
		account.LastSyncedAt = &t
	}
	return &account, nil
}

// MarkSynced implements store.CloudAccountStore.MarkSynced.
func (s *PostgresCloudAccountStore) MarkSynced(
	ctx context.Context,
	userID string,
	provider domain.Provider,
	at time.Time,
) error {
	query := `
		UPDATE cloud_accounts
		SET last_synced_at = $3, updated_at = $3
		WHERE user_id = $1 AND provider = $2
	`
	result, err := s.db.ExecContext(ctx, query, userID, string(provider), at.UTC())
	if err != nil {
		logger.FromContextOrDefault(ctx, s.logger).Error("failed to mark account synced",
			slog.String("error", err.Error()),
			slog.String("user_id", userID))
		return MapError(err)
	}
	return CheckRowsAffected(result, store.ErrAccountNotFound)
}

func nullBytes(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return b
}
