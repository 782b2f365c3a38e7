// internal/marketdata/feed.go
package marketdata

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"
)

// Feed is the price capability handed to the risk monitor: refresh live
// quotes for an asset, then read the latest known price by source priority.
type Feed struct {
	client *Client
	cache  *Cache
	logger *zap.Logger
}

// NewFeed wires a fetch client and a cache into a feed.
func NewFeed(client *Client, cache *Cache, logger *zap.Logger) *Feed {
	return &Feed{
		client: client,
		cache:  cache,
		logger: logger.Named("price_feed"),
	}
}

// Refresh fetches quotes from all sources for the asset and stores whatever
// succeeded. When every source fails the previously cached quotes are kept
// and an error is returned; the caller decides whether that is fatal.
func (f *Feed) Refresh(ctx context.Context, asset string) error {
	asset = strings.ToUpper(asset)
	prices := make(map[string]float64, 2)

	if price, err := f.client.BybitPrice(ctx, asset+"USDT"); err != nil {
		f.logger.Warn("Bybit fetch failed", zap.String("asset", asset), zap.Error(err))
	} else {
		prices[SourceBybit] = price
	}

	if price, err := f.client.DeribitPrice(ctx, asset+"-PERPETUAL"); err != nil {
		f.logger.Warn("Deribit fetch failed", zap.String("asset", asset), zap.Error(err))
	} else {
		prices[SourceDeribit] = price
	}

	if len(prices) == 0 {
		if _, ok := f.cache.Get(asset); ok {
			f.logger.Warn("All sources failed, keeping cached quotes", zap.String("asset", asset))
			return nil
		}
		return fmt.Errorf("refresh %s: %w", asset, ErrNoPrice)
	}

	f.cache.Put(asset, prices)
	return nil
}

// LatestPrice returns the most recent cached price for an asset, consulting
// sources in priority order.
func (f *Feed) LatestPrice(asset string, sources ...string) (float64, bool) {
	return f.cache.Get(asset, sources...)
}
