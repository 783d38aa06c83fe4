package apiclient

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/phrazzld/carsync-api/internal/config"
	"github.com/phrazzld/carsync-api/internal/domain"
)

// DynamicData is the live vehicle state reported by a provider.
type DynamicData struct {
	OdometerKm     float64   `json:"odometer_km"`
	FuelPercent    *float64  `json:"fuel_percent"`
	BatteryPercent *float64  `json:"battery_percent"`
	EngineOn       bool      `json:"engine_on"`
	Location       *GeoPoint `json:"location"`
}

// GeoPoint is a reported vehicle position.
type GeoPoint struct {
	Latitude  float64 `json:"lat"`
	Longitude float64 `json:"lon"`
}

// StaticData is the vehicle description reported by a provider.
type StaticData struct {
	ModelName string `json:"model_name"`
	ModelYear int    `json:"model_year"`
}

type clearanceResponse struct {
	Status string `json:"status"`
}

// ProviderAPI reads clearance status and vehicle data from the providers.
type ProviderAPI struct {
	client   *Client
	baseURLs map[domain.Provider]string
}

// NewProviderAPI creates a ProviderAPI for every provider with a base URL.
func NewProviderAPI(client *Client, cfg config.ProvidersConfig) *ProviderAPI {
	return &ProviderAPI{
		client: client,
		baseURLs: map[domain.Provider]string{
			domain.ProviderHyundai: cfg.Hyundai.APIBaseURL,
			domain.ProviderKia:     cfg.Kia.APIBaseURL,
		},
	}
}

// Clearance queries whether the provider has approved data access for vin.
// Unknown statuses are returned verbatim and treated as not approved.
func (p *ProviderAPI) Clearance(
	ctx context.Context,
	provider domain.Provider,
	vin, serviceToken string,
) Outcome[domain.ClearanceStatus] {
	op := fmt.Sprintf("status.%s.clearance", provider)
	return getJSON(ctx, p, ClassStatus, op, provider, vin, "clearance", serviceToken,
		func(r clearanceResponse) domain.ClearanceStatus {
			return domain.ClearanceStatus(strings.ToUpper(strings.TrimSpace(r.Status)))
		})
}

// Dynamic fetches the live state of vin with the owner's access token.
func (p *ProviderAPI) Dynamic(
	ctx context.Context,
	provider domain.Provider,
	vin, accessToken string,
) Outcome[DynamicData] {
	op := fmt.Sprintf("data.%s.dynamic", provider)
	return getJSON(ctx, p, ClassData, op, provider, vin, "dynamic", accessToken,
		func(d DynamicData) DynamicData { return d })
}

// Static fetches the description of vin with the owner's access token.
func (p *ProviderAPI) Static(
	ctx context.Context,
	provider domain.Provider,
	vin, accessToken string,
) Outcome[StaticData] {
	op := fmt.Sprintf("data.%s.static", provider)
	return getJSON(ctx, p, ClassData, op, provider, vin, "static", accessToken,
		func(d StaticData) StaticData { return d })
}

func getJSON[R, T any](
	ctx context.Context,
	p *ProviderAPI,
	class CallClass,
	op string,
	provider domain.Provider,
	vin, resource, bearer string,
	convert func(R) T,
) Outcome[T] {
	base, ok := p.baseURLs[provider]
	if !ok || base == "" {
		return Failed[T](&CallError{
			Class: ClassPermanent,
			Op:    op,
			Err:   fmt.Errorf("%w: no API base URL for %q", domain.ErrInvalidProvider, provider),
		})
	}
	endpoint := strings.TrimRight(base, "/") + "/api/v1/car/" + url.PathEscape(vin) + "/" + resource

	return Execute(ctx, p.client, class, op, func(ctx context.Context, hc *http.Client) (T, error) {
		var zero T
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return zero, err
		}
		req.Header.Set("Accept", "application/json")
		req.Header.Set("Authorization", "Bearer "+bearer)

		resp, err := hc.Do(req)
		if err != nil {
			return zero, err
		}
		defer func() { _ = resp.Body.Close() }()

		if err := CheckResponse(resp); err != nil {
			return zero, err
		}

		var raw R
		if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
			return zero, fmt.Errorf("failed to decode %s response: %w", resource, err)
		}
		return convert(raw), nil
	})
}
