// internal/marketdata/client.go
package marketdata

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"
)

// Price source identifiers, in default priority order.
const (
	SourceBybit   = "bybit"
	SourceDeribit = "deribit"
)

// DefaultSourcePriority is the order in which cached sources are consulted
// when the caller does not specify one.
var DefaultSourcePriority = []string{SourceBybit, SourceDeribit}

// ErrNoPrice is returned when no source can supply a price for an asset.
var ErrNoPrice = errors.New("no price available")

const (
	bybitTickersURL  = "https://api.bybit.com/v5/market/tickers?category=linear"
	deribitTickerURL = "https://www.deribit.com/api/v2/public/ticker?instrument_name=%s"
)

// Client fetches spot prices from exchange public APIs. Transient HTTP
// failures are retried with exponential backoff; a non-2xx response is not
// retried.
type Client struct {
	httpClient *http.Client
	maxTries   uint
	logger     *zap.Logger

	bybitURL   string
	deribitURL string
}

// NewClient creates an exchange price client. timeout bounds each request,
// maxTries bounds the retry loop (minimum 1).
func NewClient(timeout time.Duration, maxTries int, logger *zap.Logger) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if maxTries < 1 {
		maxTries = 1
	}
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		maxTries:   uint(maxTries),
		logger:     logger.Named("marketdata_client"),
		bybitURL:   bybitTickersURL,
		deribitURL: deribitTickerURL,
	}
}

// BybitPrice returns the last price of a linear ticker, e.g. "BTCUSDT".
func (c *Client) BybitPrice(ctx context.Context, symbol string) (float64, error) {
	body, err := c.get(ctx, c.bybitURL)
	if err != nil {
		return 0, fmt.Errorf("bybit fetch: %w", err)
	}

	var resp struct {
		Result struct {
			List []struct {
				Symbol    string `json:"symbol"`
				LastPrice string `json:"lastPrice"`
			} `json:"list"`
		} `json:"result"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return 0, fmt.Errorf("bybit decode: %w", err)
	}

	for _, item := range resp.Result.List {
		if item.Symbol == symbol {
			var price float64
			if _, err := fmt.Sscanf(item.LastPrice, "%f", &price); err != nil {
				return 0, fmt.Errorf("bybit price %q: %w", item.LastPrice, err)
			}
			return price, nil
		}
	}
	return 0, fmt.Errorf("bybit: %w for symbol %s", ErrNoPrice, symbol)
}

// DeribitPrice returns the last traded price of an instrument, e.g.
// "BTC-PERPETUAL".
func (c *Client) DeribitPrice(ctx context.Context, instrument string) (float64, error) {
	body, err := c.get(ctx, fmt.Sprintf(c.deribitURL, instrument))
	if err != nil {
		return 0, fmt.Errorf("deribit fetch: %w", err)
	}

	var resp struct {
		Result struct {
			LastPrice float64 `json:"last_price"`
		} `json:"result"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return 0, fmt.Errorf("deribit decode: %w", err)
	}
	if resp.Result.LastPrice <= 0 {
		return 0, fmt.Errorf("deribit: %w for instrument %s", ErrNoPrice, instrument)
	}
	return resp.Result.LastPrice, nil
}

// get performs a GET with retries on transport errors.
func (c *Client) get(ctx context.Context, url string) ([]byte, error) {
	operation := func() ([]byte, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, backoff.Permanent(err)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			c.logger.Debug("Request failed, will retry", zap.String("url", url), zap.Error(err))
			return nil, err
		}
		defer resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return nil, backoff.Permanent(fmt.Errorf("unexpected status %d", resp.StatusCode))
		}
		return io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 200 * time.Millisecond

	body, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(policy),
		backoff.WithMaxTries(c.maxTries))
	if err != nil {
		return nil, err
	}
	return body, nil
}
