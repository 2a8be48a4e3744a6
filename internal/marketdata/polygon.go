// Polygon-backed Provider implementation. Retrieves put-chain snapshots
// and daily closes via Polygon HTTP APIs.
//
// Design notes:
//   - Uses raw HTTP calls instead of the official Polygon SDK
//   - Supports pagination and fallback providers
//   - Contracts without a venue implied volatility are filled from an
//     annualized historical-volatility estimate over recent closes
package marketdata

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/contactkeval/csp-optimizer/internal/logger"
	"github.com/contactkeval/csp-optimizer/internal/pricing"
)

// polygonProvider implements the Provider interface using Polygon APIs.
type polygonProvider struct {
	// APIKey used for authenticating requests with Polygon.
	APIKey string

	// Client is the HTTP client used to make API requests.
	Client *http.Client

	// BaseURL is the root endpoint for Polygon APIs
	// (e.g., https://api.polygon.io).
	BaseURL string

	// secondary is an optional fallback provider.
	secondary Provider
}

// polygonSnapshot represents a single option snapshot returned by
// Polygon's option-chain endpoint.
type polygonSnapshot struct {
	Details struct {
		ContractType string  `json:"contract_type"`
		ExpiryDate   string  `json:"expiration_date"`
		StrikePrice  float64 `json:"strike_price"`
		Ticker       string  `json:"ticker"`
	} `json:"details"`
	Day struct {
		Close float64 `json:"close"`
	} `json:"day"`
	LastQuote struct {
		Bid float64 `json:"bid"`
		Ask float64 `json:"ask"`
	} `json:"last_quote"`
	ImpliedVolatility float64 `json:"implied_volatility"`
	UnderlyingAsset   struct {
		Price float64 `json:"price"`
	} `json:"underlying_asset"`
}

// polygonChainResp models the paginated chain-snapshot response.
type polygonChainResp struct {
	Results   []polygonSnapshot `json:"results"`
	Status    string            `json:"status"`
	RequestID string            `json:"request_id"`
	NextURL   string            `json:"next_url"`
}

type polygonAggsResp struct {
	Results []struct {
		Close float64 `json:"c"`
	} `json:"results"`
}

// NewPolygonProvider constructs a Polygon-backed chain provider with an
// optional secondary fallback.
func NewPolygonProvider(apiKey string, secondary Provider) Provider {
	return &polygonProvider{
		APIKey: apiKey,
		Client: &http.Client{
			Timeout: 60 * time.Second,
			Transport: &http.Transport{
				TLSHandshakeTimeout:   10 * time.Second,
				ResponseHeaderTimeout: 30 * time.Second,
				ForceAttemptHTTP2:     true,
				MaxIdleConns:          100,
				IdleConnTimeout:       90 * time.Second,
			},
		},
		BaseURL:   "https://api.polygon.io",
		secondary: secondary,
	}
}

func (polyProv *polygonProvider) Secondary() Provider {
	return polyProv.secondary
}

// GetOptionChain fetches the full put-chain snapshot for a symbol,
// following pagination cursors until the venue reports no more pages.
func (polyProv *polygonProvider) GetOptionChain(symbol string, valuation time.Time) ([]OptionContract, error) {
	symbol = strings.ToUpper(symbol)
	url := fmt.Sprintf("%s/v3/snapshot/options/%s?contract_type=put&limit=250&apiKey=%s",
		polyProv.BaseURL, symbol, polyProv.APIKey)

	var snapshots []polygonSnapshot
	for url != "" {
		var page polygonChainResp
		if err := polyProv.getJSON(url, &page); err != nil {
			if polyProv.secondary != nil {
				logger.Errorf("polygon chain fetch for %s failed, delegating to secondary: %v", symbol, err)
				return polyProv.secondary.GetOptionChain(symbol, valuation)
			}
			return nil, fmt.Errorf("fetch option chain for %s: %w", symbol, err)
		}
		snapshots = append(snapshots, page.Results...)

		url = page.NextURL
		if url != "" && !strings.Contains(url, "apiKey=") {
			url += "&apiKey=" + polyProv.APIKey
		}
		logger.Tracef("polygon chain page for %s: %d contracts, next=%q", symbol, len(page.Results), page.NextURL)
	}

	// Single volatility fallback per chain, fetched lazily.
	fallbackIV := 0.0

	out := make([]OptionContract, 0, len(snapshots))
	for _, snap := range snapshots {
		if !strings.EqualFold(snap.Details.ContractType, PutType) {
			continue
		}
		expiry, err := time.Parse("2006-01-02", snap.Details.ExpiryDate)
		if err != nil {
			logger.Debugf("skipping %s: bad expiration %q", snap.Details.Ticker, snap.Details.ExpiryDate)
			continue
		}

		iv := snap.ImpliedVolatility
		if iv <= 0 {
			if fallbackIV == 0 {
				fallbackIV = polyProv.historicalVolatility(symbol, valuation)
			}
			iv = fallbackIV
		}

		out = append(out, OptionContract{
			Symbol:          symbol,
			Strike:          snap.Details.StrikePrice,
			Expiration:      expiry,
			UnderlyingPrice: snap.UnderlyingAsset.Price,
			ImpliedVol:      iv,
			Bid:             snap.LastQuote.Bid,
			Ask:             snap.LastQuote.Ask,
			Last:            snap.Day.Close,
			Type:            PutType,
		})
	}

	logger.Infof("polygon chain for %s: %d puts", symbol, len(out))
	return out, nil
}

// historicalVolatility estimates annualized volatility from the last 30
// calendar days of closes. Returns 0.25 when the series is unusable.
func (polyProv *polygonProvider) historicalVolatility(symbol string, valuation time.Time) float64 {
	from := valuation.AddDate(0, 0, -30)
	url := fmt.Sprintf("%s/v2/aggs/ticker/%s/range/1/day/%s/%s?adjusted=true&sort=asc&apiKey=%s",
		polyProv.BaseURL, symbol, from.Format("2006-01-02"), valuation.Format("2006-01-02"), polyProv.APIKey)

	var aggs polygonAggsResp
	if err := polyProv.getJSON(url, &aggs); err != nil {
		logger.Debugf("volatility fallback fetch for %s failed: %v", symbol, err)
		return 0.25
	}

	closes := make([]float64, 0, len(aggs.Results))
	for _, r := range aggs.Results {
		closes = append(closes, r.Close)
	}
	return pricing.AnnualizedVolatility(closes)
}

func (polyProv *polygonProvider) getJSON(url string, v any) error {
	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Add("Accept", "application/json")

	resp, err := polyProv.Client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("polygon status %d", resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(v)
}
