// internal/marketdata/cache.go
package marketdata

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// AssetQuote holds the last known price per source for one asset, plus the
// time the quotes were taken.
type AssetQuote struct {
	Prices    map[string]float64 `json:"prices"`
	Timestamp string             `json:"timestamp"`
}

// Cache is a file-backed snapshot of the latest quotes, keyed by uppercase
// asset symbol. It lets the feed serve prices across restarts and when all
// live sources are down. A malformed file is treated as empty.
type Cache struct {
	mu     sync.RWMutex
	path   string
	quotes map[string]AssetQuote
	logger *zap.Logger
}

// NewCache loads (or initializes) the cache file at path.
func NewCache(path string, logger *zap.Logger) (*Cache, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create cache directory: %w", err)
	}

	c := &Cache{
		path:   path,
		quotes: make(map[string]AssetQuote),
		logger: logger.Named("price_cache"),
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("read price cache: %w", err)
		}
		return c, nil
	}
	if err := json.Unmarshal(data, &c.quotes); err != nil {
		c.logger.Warn("Price cache was malformed, starting empty", zap.Error(err))
		c.quotes = make(map[string]AssetQuote)
	}
	return c, nil
}

// Put stores the quotes for an asset and persists the cache file. A write
// failure is logged; the in-memory quotes stay valid.
func (c *Cache) Put(asset string, prices map[string]float64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.quotes[strings.ToUpper(asset)] = AssetQuote{
		Prices:    prices,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}

	data, err := json.MarshalIndent(c.quotes, "", "  ")
	if err != nil {
		c.logger.Error("Failed to marshal price cache", zap.Error(err))
		return
	}
	if err := os.WriteFile(c.path, data, 0o644); err != nil {
		c.logger.Error("Failed to write price cache", zap.Error(err))
	}
}

// Get returns the first available price for an asset, walking sources in
// the given priority order.
func (c *Cache) Get(asset string, sources ...string) (float64, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	quote, ok := c.quotes[strings.ToUpper(asset)]
	if !ok {
		return 0, false
	}
	if len(sources) == 0 {
		sources = DefaultSourcePriority
	}
	for _, src := range sources {
		if price, ok := quote.Prices[src]; ok && price > 0 {
			return price, true
		}
	}
	return 0, false
}
