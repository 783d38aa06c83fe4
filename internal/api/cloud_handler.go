package api

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/phrazzld/carsync-api/internal/api/shared"
	"github.com/phrazzld/carsync-api/internal/cloudsync"
	"github.com/phrazzld/carsync-api/internal/domain"
	"github.com/phrazzld/carsync-api/internal/platform/logger"
	"github.com/phrazzld/carsync-api/internal/redact"
	"github.com/phrazzld/carsync-api/internal/store"
)

// SyncRequester publishes sync requests.
type SyncRequester interface {
	PublishSyncRequest(ctx context.Context, vehicleID string) error
}

// VehicleReader loads vehicles.
type VehicleReader interface {
	GetByID(ctx context.Context, id string) (*domain.Vehicle, error)
}

// AccountLinker links provider accounts from an OAuth callback.
type AccountLinker interface {
	Link(ctx context.Context, userID string, provider domain.Provider, code string) (*domain.CloudAccount, error)
}

var (
	_ SyncRequester = (*cloudsync.Dispatcher)(nil)
	_ VehicleReader = (store.VehicleStore)(nil)
	_ AccountLinker = (*cloudsync.AccountService)(nil)
)

// CloudHandler handles vehicle sync and account linking requests.
type CloudHandler struct {
	syncs    SyncRequester
	vehicles VehicleReader
	accounts AccountLinker
	logger   *slog.Logger
}

// NewCloudHandler creates a CloudHandler.
func NewCloudHandler(syncs SyncRequester, vehicles VehicleReader, accounts AccountLinker, logger *slog.Logger) *CloudHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &CloudHandler{
		syncs:    syncs,
		vehicles: vehicles,
		accounts: accounts,
		logger:   logger.With(slog.String("component", "cloud_handler")),
	}
}

// RequestSync handles POST /api/vehicles/{vehicleID}/sync.
func (h *CloudHandler) RequestSync(w http.ResponseWriter, r *http.Request) {
	vehicleID, err := getPathParam(r, "vehicleID")
	if err != nil {
		HandleAPIError(w, r, err, "")
		return
	}

	vehicle, err := h.vehicles.GetByID(r.Context(), vehicleID)
	if err != nil {
		HandleAPIError(w, r, err, "")
		return
	}
	if !vehicle.HasVIN() {
		HandleAPIError(w, r, domain.ErrNoVIN, "")
		return
	}

	if err := h.syncs.PublishSyncRequest(r.Context(), vehicleID); err != nil {
		shared.RespondWithErrorAndLog(w, r, http.StatusServiceUnavailable, "Sync could not be queued", err)
		return
	}

	shared.RespondWithJSON(w, r, http.StatusAccepted, SyncResponse{VehicleID: vehicleID, Status: "queued"})
}

// Callback handles GET /api/cloud/{provider}/callback?code=&state=. The
// state parameter carries the user ID the authorization was started for.
func (h *CloudHandler) Callback(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContextOrDefault(r.Context(), h.logger)

	providerName, err := getPathParam(r, "provider")
	if err != nil {
		HandleAPIError(w, r, err, "")
		return
	}
	provider := domain.Provider(strings.ToLower(providerName))

	query := r.URL.Query()
	if oauthErr := query.Get("error"); oauthErr != "" {
		log.Warn("provider denied authorization",
			slog.String("provider", string(provider)),
			slog.String("oauth_error", redact.String(oauthErr)))
		shared.RespondWithError(w, r, http.StatusBadRequest, "Authorization was denied")
		return
	}

	account, err := h.accounts.Link(r.Context(), query.Get("state"), provider, query.Get("code"))
	if err != nil {
		HandleAPIError(w, r, err, "")
		return
	}

	shared.RespondWithJSON(w, r, http.StatusOK, AccountResponse{
		UserID:    account.UserID,
		Provider:  string(account.Provider),
		ExpiresAt: account.ExpiresAt,
		Linked:    true,
	})
}
