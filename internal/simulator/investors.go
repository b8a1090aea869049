package simulator

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/rs/zerolog"
)

// defaultPlatformAssetsUSD is used when the analytics endpoint is
// unavailable.
const defaultPlatformAssetsUSD = 50_000_000.0

// InvestorClient fetches investor snapshots from the platform's investor
// service.
type InvestorClient struct {
	baseURL string
	client  *http.Client
	log     zerolog.Logger
}

// NewInvestorClient creates a client for the investor service.
func NewInvestorClient(baseURL string, log zerolog.Logger) *InvestorClient {
	return &InvestorClient{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 30 * time.Second},
		log:     log.With().Str("component", "investor_client").Logger(),
	}
}

// FetchInvestors queries the investor service with optional filters.
func (c *InvestorClient) FetchInvestors(ctx context.Context, jurisdiction string, filter map[string]string) ([]Investor, error) {
	query := url.Values{}
	if jurisdiction != "" {
		query.Set("jurisdiction", jurisdiction)
	}
	query.Set("include_compliance", "true")
	query.Set("include_holdings", "true")
	for k, v := range filter {
		query.Set(k, v)
	}

	endpoint := fmt.Sprintf("%s/investors?%s", c.baseURL, query.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build investor request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("investor service unreachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("investor service returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read investor response: %w", err)
	}

	// The service returns either a bare array or {"investors": [...]}.
	var wrapped struct {
		Investors []Investor `json:"investors"`
	}
	if err := json.Unmarshal(body, &wrapped); err == nil && wrapped.Investors != nil {
		return wrapped.Investors, nil
	}
	var investors []Investor
	if err := json.Unmarshal(body, &investors); err != nil {
		return nil, fmt.Errorf("failed to decode investor response: %w", err)
	}
	return investors, nil
}

// FetchPlatformAssets returns total platform assets under management,
// falling back to a default when the analytics endpoint is unavailable.
func (c *InvestorClient) FetchPlatformAssets(ctx context.Context) float64 {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/analytics/aum", nil)
	if err != nil {
		return defaultPlatformAssetsUSD
	}

	resp, err := c.client.Do(req)
	if err != nil {
		c.log.Warn().Err(err).Msg("Could not fetch platform AUM, using default")
		return defaultPlatformAssetsUSD
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return defaultPlatformAssetsUSD
	}

	var payload struct {
		TotalAUMUSD float64 `json:"total_aum_usd"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil || payload.TotalAUMUSD == 0 {
		return defaultPlatformAssetsUSD
	}
	return payload.TotalAUMUSD
}
