// internal/hedge/ledger.go
package hedge

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

// Mode distinguishes user-initiated hedges from those fired by the
// auto-hedge policy.
type Mode string

const (
	ModeManual Mode = "manual"
	ModeAuto   Mode = "auto"
)

// Record is one immutable ledger entry. Timestamps are ISO-8601 UTC with a
// 'Z' suffix and appended in call order.
type Record struct {
	Timestamp string  `json:"timestamp"`
	Asset     string  `json:"asset"`
	Size      float64 `json:"size"`
	Price     float64 `json:"price"`
	Mode      Mode    `json:"mode"`
}

// Ledger is an append-only hedge history backed by a single JSON array
// file. Every append rewrites the full array; appends are serialized by a
// mutex. A missing or malformed file is treated as empty, never as a fatal
// error, so a corrupted history cannot block hedging.
type Ledger struct {
	mu     sync.Mutex
	path   string
	now    func() time.Time
	logger *zap.Logger
}

// NewLedger creates a ledger writing to path, creating parent directories
// as needed.
func NewLedger(path string, logger *zap.Logger) (*Ledger, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create ledger directory: %w", err)
	}
	return &Ledger{
		path:   path,
		now:    time.Now,
		logger: logger.Named("hedge_ledger"),
	}, nil
}

// Append records a hedge. The asset symbol is stored uppercased.
func (l *Ledger) Append(asset string, size, price float64, mode Mode) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	history := l.load()
	record := Record{
		Timestamp: l.now().UTC().Format(time.RFC3339),
		Asset:     strings.ToUpper(asset),
		Size:      size,
		Price:     price,
		Mode:      mode,
	}
	history = append(history, record)

	data, err := json.MarshalIndent(history, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal hedge history: %w", err)
	}
	if err := os.WriteFile(l.path, data, 0o644); err != nil {
		return fmt.Errorf("write hedge history: %w", err)
	}

	l.logger.Info("Hedge logged",
		zap.String("asset", record.Asset),
		zap.Float64("size", size),
		zap.Float64("price", price),
		zap.String("mode", string(mode)))
	return nil
}

// All returns every record in append order.
func (l *Ledger) All() []Record {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.load()
}

// Recent returns up to limit records, newest first, optionally filtered by
// asset symbol. An empty asset matches everything.
func (l *Ledger) Recent(asset string, limit int) []Record {
	l.mu.Lock()
	defer l.mu.Unlock()

	history := l.load()
	asset = strings.ToUpper(asset)

	var filtered []Record
	for _, r := range history {
		if asset == "" || r.Asset == asset {
			filtered = append(filtered, r)
		}
	}

	if limit <= 0 || limit > len(filtered) {
		limit = len(filtered)
	}
	out := make([]Record, 0, limit)
	for i := len(filtered) - 1; i >= len(filtered)-limit; i-- {
		out = append(out, filtered[i])
	}
	return out
}

// load reads the ledger file. Corruption is logged and surfaces as an empty
// history; the next append overwrites the damaged file.
func (l *Ledger) load() []Record {
	data, err := os.ReadFile(l.path)
	if err != nil {
		if !os.IsNotExist(err) {
			l.logger.Error("Failed to read hedge history, resetting", zap.Error(err))
		}
		return nil
	}

	var history []Record
	if err := json.Unmarshal(data, &history); err != nil {
		l.logger.Warn("Hedge history was not a valid record list, resetting", zap.Error(err))
		return nil
	}
	return history
}
