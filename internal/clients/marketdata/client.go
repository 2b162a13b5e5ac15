// Package marketdata provides the HTTP price feed client.
package marketdata

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"net/http"
	"net/url"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"github.com/coinpilot/coinpilot/internal/domain"
)

const (
	maxAttempts    = 3
	baseBackoff    = 250 * time.Millisecond
	requestTimeout = 10 * time.Second
)

// Client fetches prices and slippage estimates from the market-data service.
// Requests are rate-limited and retried with jittered backoff; they always
// complete before any ledger transaction opens.
type Client struct {
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
	log        zerolog.Logger
}

// NewClient creates a new market data client
func NewClient(baseURL string, log zerolog.Logger) *Client {
	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: requestTimeout},
		limiter:    rate.NewLimiter(rate.Limit(10), 20),
		log:        log.With().Str("client", "marketdata").Logger(),
	}
}

var _ domain.PriceFeed = (*Client)(nil)

type priceResponse struct {
	Symbol string `json:"symbol"`
	Price  string `json:"price"`
}

type slippageResponse struct {
	Symbol   string `json:"symbol"`
	Side     string `json:"side"`
	Fraction string `json:"fraction"`
}

// GetCurrentPrice returns the current price for a symbol. Failures after all
// retries propagate to the caller; there is no silent price default.
func (c *Client) GetCurrentPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	endpoint := fmt.Sprintf("%s/api/v1/price?symbol=%s",
		c.baseURL, url.QueryEscape(domain.NormalizeSymbol(symbol)))

	var resp priceResponse
	if err := c.getJSON(ctx, endpoint, &resp); err != nil {
		return decimal.Zero, fmt.Errorf("price fetch for %s failed: %w", symbol, err)
	}

	price, err := decimal.NewFromString(resp.Price)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid price for %s: %w", symbol, err)
	}
	if price.LessThanOrEqual(decimal.Zero) {
		return decimal.Zero, fmt.Errorf("non-positive price for %s: %s", symbol, price)
	}
	return price, nil
}

// EstimateSlippage returns the expected slippage fraction for a notional
// order. Callers fall back to a configured conservative default on error.
func (c *Client) EstimateSlippage(ctx context.Context, symbol, side string, notional decimal.Decimal) (decimal.Decimal, error) {
	endpoint := fmt.Sprintf("%s/api/v1/slippage?symbol=%s&side=%s&notional=%s",
		c.baseURL, url.QueryEscape(domain.NormalizeSymbol(symbol)),
		url.QueryEscape(side), url.QueryEscape(notional.String()))

	var resp slippageResponse
	if err := c.getJSON(ctx, endpoint, &resp); err != nil {
		return decimal.Zero, fmt.Errorf("slippage estimate for %s failed: %w", symbol, err)
	}

	fraction, err := decimal.NewFromString(resp.Fraction)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid slippage fraction for %s: %w", symbol, err)
	}
	if fraction.IsNegative() {
		return decimal.Zero, fmt.Errorf("negative slippage fraction for %s: %s", symbol, fraction)
	}
	return fraction, nil
}

func (c *Client) getJSON(ctx context.Context, endpoint string, out interface{}) error {
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}

		lastErr = c.doRequest(ctx, endpoint, out)
		if lastErr == nil {
			return nil
		}

		if attempt < maxAttempts {
			backoff := time.Duration(attempt) * baseBackoff
			jitter := time.Duration(rand.Int63n(int64(baseBackoff)))
			c.log.Debug().Err(lastErr).Int("attempt", attempt).
				Dur("backoff", backoff+jitter).Msg("Market data request failed, retrying")
			select {
			case <-time.After(backoff + jitter):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
	return fmt.Errorf("request failed after %d attempts: %w", maxAttempts, lastErr)
}

func (c *Client) doRequest(ctx context.Context, endpoint string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
