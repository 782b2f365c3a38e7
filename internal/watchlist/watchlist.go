// internal/watchlist/watchlist.go
package watchlist

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// Entry is one position to start monitoring at boot.
type Entry struct {
	UserID    int64   `yaml:"user_id"`
	ChatID    int64   `yaml:"chat_id"`
	Asset     string  `yaml:"asset"`
	Size      float64 `yaml:"size"`
	Threshold float64 `yaml:"threshold"`

	AutoHedge *AutoHedgeEntry `yaml:"auto_hedge,omitempty"`
}

// AutoHedgeEntry is the optional per-user auto-hedge block.
type AutoHedgeEntry struct {
	Strategy string  `yaml:"strategy"`
	Trigger  float64 `yaml:"trigger"`
	Enabled  bool    `yaml:"enabled"`
}

// Manager loads and validates watchlist files.
type Manager struct {
	logger *zap.Logger
}

// NewManager constructs a Manager with the given logger.
func NewManager(logger *zap.Logger) *Manager {
	return &Manager{logger: logger.Named("watchlist")}
}

type fileSchema struct {
	Positions []Entry `yaml:"positions"`
}

// Load reads watchlist entries from a YAML file, skipping invalid entries
// with a warning so one bad line does not block the rest.
func (m *Manager) Load(path string) ([]Entry, error) {
	cleanPath := filepath.Clean(path)
	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	var schema fileSchema
	if err := yaml.Unmarshal(data, &schema); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	entries := make([]Entry, 0, len(schema.Positions))
	for i, e := range schema.Positions {
		e.Asset = strings.ToUpper(strings.TrimSpace(e.Asset))
		if e.Asset == "" || e.UserID == 0 {
			m.logger.Warn("Skipping watchlist entry with missing required fields",
				zap.Int("index", i),
				zap.Int64("user_id", e.UserID),
				zap.String("asset", e.Asset))
			continue
		}
		if e.Size <= 0 || e.Threshold <= 0 {
			m.logger.Warn("Skipping watchlist entry with non-positive size or threshold",
				zap.Int("index", i),
				zap.String("asset", e.Asset),
				zap.Float64("size", e.Size),
				zap.Float64("threshold", e.Threshold))
			continue
		}
		if e.ChatID == 0 {
			e.ChatID = e.UserID
		}
		if e.AutoHedge != nil && e.AutoHedge.Trigger <= 0 {
			m.logger.Warn("Dropping auto-hedge block with non-positive trigger",
				zap.Int("index", i),
				zap.String("asset", e.Asset))
			e.AutoHedge = nil
		}
		entries = append(entries, e)
	}

	if len(entries) == 0 {
		return nil, fmt.Errorf("no valid positions found in %s", cleanPath)
	}
	return entries, nil
}
