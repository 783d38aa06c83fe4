package postgres

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/phrazzld/carsync-api/internal/domain"
	"github.com/phrazzld/carsync-api/internal/platform/logger"
	"github.com/phrazzld/carsync-api/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResultStoreGetBySessionID(t *testing.T) {
	db, mock := newMock(t)
	results := NewPostgresResultStore(db, logger.Discard())
	sessionID := uuid.New()

	mock.ExpectQuery(regexp.QuoteMeta("FROM diagnosis_results")).
		WithArgs(sessionID).
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "session_id", "report", "risk_level", "issues", "actions", "created_at",
		}).AddRow(
			uuid.NewString(), sessionID.String(), "Battery weak.", "MID",
			[]byte(`[{"code":"P0562","description":"low voltage","severity":"MID"}]`),
			[]byte(`[{"title":"Test battery","urgency":"soon"}]`),
			time.Now(),
		))
	mock.ExpectQuery(regexp.QuoteMeta("FROM diagnosis_results")).
		WillReturnError(sql.ErrNoRows)

	got, err := results.GetBySessionID(context.Background(), sessionID)
	require.NoError(t, err)
	assert.Equal(t, domain.RiskMid, got.RiskLevel)
	require.Len(t, got.Issues, 1)
	assert.Equal(t, "P0562", got.Issues[0].Code)
	require.Len(t, got.Actions, 1)
	assert.Equal(t, "Test battery", got.Actions[0].Title)

	_, err = results.GetBySessionID(context.Background(), uuid.New())
	assert.ErrorIs(t, err, store.ErrResultNotFound)
}

func TestResultStoreCreateUnknownSession(t *testing.T) {
	db, mock := newMock(t)
	results := NewPostgresResultStore(db, logger.Discard())

	result, err := domain.NewDiagnosisResult(uuid.New(), "ok", domain.RiskLow, nil, nil)
	require.NoError(t, err)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO diagnosis_results")).
		WillReturnError(pgError(foreignKeyViolationCode, resultSessionFKConstraint))

	assert.ErrorIs(t, results.Create(context.Background(), result), store.ErrSessionNotFound)
}

func TestCloudAccountStore(t *testing.T) {
	db, mock := newMock(t)
	accounts := NewPostgresCloudAccountStore(db, logger.Discard())
	ctx := context.Background()
	expires := time.Now().Add(time.Hour).UTC()

	account := &domain.CloudAccount{
		UserID:                "U1",
		Provider:              domain.ProviderKia,
		EncryptedAccessToken:  []byte("sealed-access"),
		EncryptedRefreshToken: []byte("sealed-refresh"),
		ExpiresAt:             expires,
		CreatedAt:             time.Now().UTC(),
		UpdatedAt:             time.Now().UTC(),
	}

	mock.ExpectExec(regexp.QuoteMeta("ON CONFLICT (user_id, provider) DO UPDATE")).
		WithArgs("U1", "kia", []byte("sealed-access"), []byte("sealed-refresh"), expires, nil, sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, accounts.Upsert(ctx, account))

	synced := time.Now().Add(-time.Minute)
	mock.ExpectQuery(regexp.QuoteMeta("FROM cloud_accounts")).
		WithArgs("U1", "kia").
		WillReturnRows(sqlmock.NewRows([]string{
			"user_id", "provider", "encrypted_access_token", "encrypted_refresh_token",
			"expires_at", "last_synced_at", "created_at", "updated_at",
		}).AddRow("U1", "kia", []byte("sealed-access"), nil, expires, synced, synced, synced))

	got, err := accounts.Get(ctx, "U1", domain.ProviderKia)
	require.NoError(t, err)
	assert.Equal(t, domain.ProviderKia, got.Provider)
	assert.Nil(t, got.EncryptedRefreshToken)
	require.NotNil(t, got.LastSyncedAt)
	assert.WithinDuration(t, synced, *got.LastSyncedAt, time.Second)

	mock.ExpectExec(regexp.QuoteMeta("SET last_synced_at")).
		WithArgs("U9", "hyundai", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))
	err = accounts.MarkSynced(ctx, "U9", domain.ProviderHyundai, time.Now())
	assert.ErrorIs(t, err, store.ErrAccountNotFound)

	err = accounts.Upsert(ctx, &domain.CloudAccount{UserID: "U1", Provider: domain.ProviderKia})
	assert.ErrorIs(t, err, store.ErrInvalidEntity)
}

func TestVehicleAndTelemetryStores(t *testing.T) {
	db, mock := newMock(t)
	vehicles := NewPostgresVehicleStore(db, logger.Discard())
	telemetry := NewPostgresTelemetryStore(db, logger.Discard())
	ctx := context.Background()

	columns := []string{"id", "user_id", "provider", "encrypted_vin"}

	mock.ExpectQuery(regexp.QuoteMeta("FROM vehicles WHERE id = $1")).
		WithArgs("V2").
		WillReturnRows(sqlmock.NewRows(columns).AddRow("V2", "U1", "hyundai", []byte("sealed-vin")))
	mock.ExpectQuery(regexp.QuoteMeta("FROM vehicles WHERE id = $1")).
		WithArgs("V404").
		WillReturnError(sql.ErrNoRows)
	mock.ExpectQuery(regexp.QuoteMeta("JOIN cloud_accounts")).
		WillReturnRows(sqlmock.NewRows(columns).
			AddRow("V2", "U1", "hyundai", []byte("sealed-vin")).
			AddRow("V5", "U3", "kia", []byte("sealed-vin-2")))
	mock.ExpectQuery(regexp.QuoteMeta("WHERE user_id = $1 AND provider = $2")).
		WithArgs("U1", "hyundai").
		WillReturnRows(sqlmock.NewRows(columns).AddRow("V7", "U1", "hyundai", nil))

	v, err := vehicles.GetByID(ctx, "V2")
	require.NoError(t, err)
	assert.True(t, v.HasVIN())
	assert.Equal(t, domain.ProviderHyundai, v.Provider)

	_, err = vehicles.GetByID(ctx, "V404")
	assert.ErrorIs(t, err, store.ErrVehicleNotFound)

	linked, err := vehicles.ListLinked(ctx)
	require.NoError(t, err)
	assert.Len(t, linked, 2)

	owned, err := vehicles.ListByOwner(ctx, "U1", domain.ProviderHyundai)
	require.NoError(t, err)
	require.Len(t, owned, 1)
	assert.False(t, owned[0].HasVIN())

	fuel := 61.5
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO telemetry_snapshots")).
		WithArgs("V2", 42000.5, 61.5, nil, true, nil, nil, "Ioniq 5", 2023, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	require.NoError(t, telemetry.Save(ctx, &domain.TelemetrySnapshot{
		VehicleID:   "V2",
		OdometerKm:  42000.5,
		FuelPercent: &fuel,
		EngineOn:    true,
		ModelName:   "Ioniq 5",
		ModelYear:   2023,
		CapturedAt:  time.Now(),
	}))
}
