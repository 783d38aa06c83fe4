package cloudsync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/phrazzld/carsync-api/internal/apiclient"
	"github.com/phrazzld/carsync-api/internal/domain"
	"github.com/phrazzld/carsync-api/internal/queue"
	"github.com/phrazzld/carsync-api/internal/store"
	"golang.org/x/sync/singleflight"
)

// Decision is what the Worker did with a sync request.
type Decision string

// Possible decisions
const (
	DecisionSynced           Decision = "SYNCED"
	DecisionDelayed          Decision = "DELAYED"
	DecisionDroppedExhausted Decision = "DROPPED_EXHAUSTED"
	DecisionDroppedNoVIN     Decision = "DROPPED_NO_VIN"
	DecisionDroppedNotFound  Decision = "DROPPED_NOT_FOUND"
)

// ProviderData reads clearance and vehicle data from a provider.
type ProviderData interface {
	Clearance(ctx context.Context, provider domain.Provider, vin, serviceToken string) apiclient.Outcome[domain.ClearanceStatus]
	Dynamic(ctx context.Context, provider domain.Provider, vin, accessToken string) apiclient.Outcome[apiclient.DynamicData]
	Static(ctx context.Context, provider domain.Provider, vin, accessToken string) apiclient.Outcome[apiclient.StaticData]
}

// StrategySource selects the OAuth strategy of a provider.
type StrategySource interface {
	For(provider domain.Provider) (apiclient.ProviderStrategy, error)
}

// ServiceTokens hands out client-credentials tokens keyed by provider.
// Invalidate forgets a token the provider no longer accepts.
type ServiceTokens interface {
	GetAccessToken(ctx context.Context, key string) (string, error)
	Invalidate(key string)
}

// Sealer seals and opens secrets stored at rest.
type Sealer interface {
	SealString(plaintext string) ([]byte, error)
	OpenString(sealed []byte) (string, error)
}

// Delayer parks a sync request on the delay queue.
type Delayer interface {
	PublishToDelayQueue(ctx context.Context, vehicleID string, deathCount int) error
}

var (
	_ ProviderData   = (*apiclient.ProviderAPI)(nil)
	_ StrategySource = apiclient.Strategies(nil)
	_ ServiceTokens  = (*apiclient.TokenCache)(nil)
	_ Delayer        = (*Dispatcher)(nil)
)

// WorkerDeps groups the Worker's collaborators.
type WorkerDeps struct {
	Vehicles   store.VehicleStore
	Accounts   store.CloudAccountStore
	Telemetry  store.TelemetryStore
	Provider   ProviderData
	Strategies StrategySource
	Tokens     ServiceTokens
	Sealer     Sealer
	Delayer    Delayer
}

// WorkerConfig tunes the Worker.
type WorkerConfig struct {
	// MaxRetry is the number of delay cycles after which a request is dropped.
	MaxRetry int

	// TokenMargin is how close to expiry an account token is refreshed.
	TokenMargin time.Duration

	// RefreshTimeout bounds a shared account token refresh.
	RefreshTimeout time.Duration
}

// DefaultRefreshTimeout bounds an account token refresh when none is configured.
const DefaultRefreshTimeout = 30 * time.Second

// Worker processes cloud sync requests.
type Worker struct {
	deps    WorkerDeps
	config  WorkerConfig
	now     func() time.Time
	refresh singleflight.Group
	logger  *slog.Logger
}

// NewWorker creates a Worker.
func NewWorker(deps WorkerDeps, cfg WorkerConfig, logger *slog.Logger) *Worker {
	if cfg.MaxRetry <= 0 {
		cfg.MaxRetry = queue.DefaultMaxRetry
	}
	if cfg.TokenMargin <= 0 {
		cfg.TokenMargin = apiclient.DefaultTokenMargin
	}
	if cfg.RefreshTimeout <= 0 {
		cfg.RefreshTimeout = DefaultRefreshTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{
		deps:   deps,
		config: cfg,
		now:    time.Now,
		logger: logger.With(slog.String("component", "sync_worker")),
	}
}

// Handle implements queue.Handler. Every decision acknowledges the message;
// only a failure to park the request on the delay queue is returned so the
// broker redelivers it.
func (w *Worker) Handle(ctx context.Context, d *queue.Delivery) error {
	_, err := w.Process(ctx, strings.TrimSpace(string(d.Body)), d.DeathCount)
	return err
}

// Process runs one sync attempt for vehicleID, which has already been
// through deathCount delay cycles.
func (w *Worker) Process(ctx context.Context, vehicleID string, deathCount int) (Decision, error) {
	envelope := queue.NewRetryEnvelope(vehicleID, deathCount, w.config.MaxRetry)
	log := w.logger.With(
		slog.String("vehicle_id", vehicleID),
		slog.Int("attempt", envelope.Attempt))

	if envelope.Exhausted() {
		log.Warn("sync retries exhausted, dropping request", slog.Int("max_retry", envelope.MaxRetry))
		return DecisionDroppedExhausted, nil
	}

	vehicle, err := w.deps.Vehicles.GetByID(ctx, vehicleID)
	if err != nil {
		if errors.Is(err, store.ErrVehicleNotFound) {
			log.Warn("dropping sync for unknown vehicle")
			return DecisionDroppedNotFound, nil
		}
		return w.delay(ctx, log, envelope, "vehicle lookup failed", err)
	}
	if !vehicle.HasVIN() {
		log.Debug("vehicle has no VIN, dropping sync")
		return DecisionDroppedNoVIN, nil
	}

	vin, err := w.deps.Sealer.OpenString(vehicle.EncryptedVIN)
	if err != nil {
		return w.delay(ctx, log, envelope, "VIN could not be opened", err)
	}
	log = log.With(slog.String("provider", string(vehicle.Provider)))

	serviceToken, err := w.deps.Tokens.GetAccessToken(ctx, string(vehicle.Provider))
	if err != nil {
		return w.delay(ctx, log, envelope, "service token unavailable", err)
	}

	clearance := w.deps.Provider.Clearance(ctx, vehicle.Provider, vin, serviceToken)
	if !clearance.OK() {
		if rejectedCredentials(clearance.Failure) {
			log.Warn("provider rejected service token, discarding it",
				slog.Int("status_code", clearance.Failure.StatusCode))
			w.deps.Tokens.Invalidate(string(vehicle.Provider))
		}
		return w.delay(ctx, log, envelope, "clearance check failed", clearance.Err())
	}
	if clearance.Value != domain.ClearanceApproved {
		log.Info("clearance not approved yet", slog.String("clearance", string(clearance.Value)))
		return w.delay(ctx, log, envelope, "clearance "+string(clearance.Value), nil)
	}

	if err := w.fullSync(ctx, vehicle, vin); err != nil {
		return w.delay(ctx, log, envelope, "full sync failed", err)
	}

	log.Info("vehicle synced")
	return DecisionSynced, nil
}

// rejectedCredentials reports whether a call failed because the provider
// refused the token it was given.
func rejectedCredentials(failure *apiclient.CallError) bool {
	if failure == nil {
		return false
	}
	return failure.StatusCode == http.StatusUnauthorized || failure.StatusCode == http.StatusForbidden
}

func (w *Worker) delay(ctx context.Context, log *slog.Logger, envelope queue.RetryEnvelope, reason string, cause error) (Decision, error) {
	attrs := []any{slog.String("reason", reason)}
	if cause != nil {
		attrs = append(attrs, slog.String("error", cause.Error()))
	}
	log.Info("delaying sync", attrs...)

	if err := w.deps.Delayer.PublishToDelayQueue(ctx, envelope.Payload, envelope.Attempt); err != nil {
		log.Error("failed to delay sync", slog.String("error", err.Error()))
		return DecisionDelayed, err
	}
	return DecisionDelayed, nil
}

func (w *Worker) fullSync(ctx context.Context, vehicle *domain.Vehicle, vin string) error {
	account, err := w.deps.Accounts.Get(ctx, vehicle.UserID, vehicle.Provider)
	if err != nil {
		return fmt.Errorf("failed to load account: %w", err)
	}

	accessToken, err := w.accessToken(ctx, account)
	if err != nil {
		return err
	}

	dynamic := w.deps.Provider.Dynamic(ctx, vehicle.Provider, vin, accessToken)
	if !dynamic.OK() {
		return dynamic.Err()
	}
	static := w.deps.Provider.Static(ctx, vehicle.Provider, vin, accessToken)
	if !static.OK() {
		return static.Err()
	}

	now := w.now().UTC()
	snapshot := &domain.TelemetrySnapshot{
		VehicleID:      vehicle.ID,
		OdometerKm:     dynamic.Value.OdometerKm,
		FuelPercent:    dynamic.Value.FuelPercent,
		BatteryPercent: dynamic.Value.BatteryPercent,
		EngineOn:       dynamic.Value.EngineOn,
		ModelName:      static.Value.ModelName,
		ModelYear:      static.Value.ModelYear,
		CapturedAt:     now,
	}
	if loc := dynamic.Value.Location; loc != nil {
		snapshot.Latitude = &loc.Latitude
		snapshot.Longitude = &loc.Longitude
	}

	if err := w.deps.Telemetry.Save(ctx, snapshot); err != nil {
		return fmt.Errorf("failed to save telemetry: %w", err)
	}
	if err := w.deps.Accounts.MarkSynced(ctx, vehicle.UserID, vehicle.Provider, now); err != nil {
		return fmt.Errorf("failed to record sync time: %w", err)
	}
	return nil
}

// accessToken returns a usable access token for account, refreshing and
// persisting it first when it is about to expire. Concurrent refreshes of
// the same account collapse into one grant, which runs detached from ctx so
// the first caller giving up does not fail the others.
func (w *Worker) accessToken(ctx context.Context, account *domain.CloudAccount) (string, error) {
	if !account.NeedsRefresh(w.now(), w.config.TokenMargin) {
		token, err := w.deps.Sealer.OpenString(account.EncryptedAccessToken)
		if err != nil {
			return "", fmt.Errorf("failed to open access token: %w", err)
		}
		return token, nil
	}

	key := account.UserID + ":" + string(account.Provider)
	ch := w.refresh.DoChan(key, func() (any, error) {
		flightCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), w.config.RefreshTimeout)
		defer cancel()
		return w.refreshAccount(flightCtx, account)
	})

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	}
}

func (w *Worker) refreshAccount(ctx context.Context, account *domain.CloudAccount) (string, error) {
	if len(account.EncryptedRefreshToken) == 0 {
		return "", errors.New("account token expired and no refresh token is stored")
	}
	refreshToken, err := w.deps.Sealer.OpenString(account.EncryptedRefreshToken)
	if err != nil {
		return "", fmt.Errorf("failed to open refresh token: %w", err)
	}

	strategy, err := w.deps.Strategies.For(account.Provider)
	if err != nil {
		return "", err
	}
	outcome := strategy.Refresh(ctx, refreshToken)
	if !outcome.OK() {
		return "", outcome.Err()
	}
	tok := outcome.Value

	sealedAccess, err := w.deps.Sealer.SealString(tok.AccessToken)
	if err != nil {
		return "", fmt.Errorf("failed to seal access token: %w", err)
	}
	updated := *account
	updated.EncryptedAccessToken = sealedAccess
	updated.ExpiresAt = tok.ExpiresAt
	updated.UpdatedAt = w.now().UTC()
	if tok.RefreshToken != "" {
		sealedRefresh, err := w.deps.Sealer.SealString(tok.RefreshToken)
		if err != nil {
			return "", fmt.Errorf("failed to seal refresh token: %w", err)
		}
		updated.EncryptedRefreshToken = sealedRefresh
	}

	if err := w.deps.Accounts.Upsert(ctx, &updated); err != nil {
		return "", fmt.Errorf("failed to store refreshed token: %w", err)
	}
	w.logger.Debug("account token refreshed",
		slog.String("user_id", account.UserID),
		slog.String("provider", string(account.Provider)))
	return tok.AccessToken, nil
}
