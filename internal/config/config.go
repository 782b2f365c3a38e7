// =================================
// File: internal/config/config.go
// =================================
package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

type Config struct {
	TelegramToken string   `mapstructure:"telegram_token"`
	DefaultChatID int64    `mapstructure:"default_chat_id"`
	PollInterval  int      `mapstructure:"poll_interval"` // seconds
	PriceSources  []string `mapstructure:"price_sources"`
	HTTPTimeout   int      `mapstructure:"http_timeout"` // seconds
	Retries       int      `mapstructure:"retries"`
	CacheFile     string   `mapstructure:"cache_file"`
	LedgerFile    string   `mapstructure:"ledger_file"`
	WatchlistFile string   `mapstructure:"watchlist_file"`
	LogFile       string   `mapstructure:"log_file"`
	DebugLogging  bool     `mapstructure:"debug_logging"`
}

const (
	DefaultPollInterval = 30
	DefaultHTTPTimeout  = 10
	DefaultRetries      = 3
)

var knownSources = map[string]bool{
	"bybit":   true,
	"deribit": true,
}

func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)

	defaults := map[string]interface{}{
		"poll_interval": DefaultPollInterval,
		"http_timeout":  DefaultHTTPTimeout,
		"retries":       DefaultRetries,
		"price_sources": []string{"bybit", "deribit"},
		"cache_file":    "cache/live_data.json",
		"ledger_file":   "cache/hedge_history.json",
		"log_file":      "logs/hedge-bot.log",
	}
	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if err := loadEnvironmentVariables(v, &cfg); err != nil {
		return nil, err
	}

	return &cfg, validateConfig(&cfg)
}

func validateConfig(cfg *Config) error {
	if cfg.PollInterval <= 0 {
		return errors.New("invalid poll_interval")
	}
	if cfg.HTTPTimeout <= 0 {
		return errors.New("invalid http_timeout")
	}
	if cfg.Retries < 0 {
		return errors.New("invalid retries count")
	}
	if len(cfg.PriceSources) == 0 {
		return errors.New("price_sources is empty")
	}
	for _, src := range cfg.PriceSources {
		if !knownSources[strings.ToLower(src)] {
			return fmt.Errorf("unknown price source: %q", src)
		}
	}
	if cfg.LedgerFile == "" {
		return errors.New("missing ledger_file in configuration")
	}
	if cfg.CacheFile == "" {
		return errors.New("missing cache_file in configuration")
	}
	return nil
}

func loadEnvironmentVariables(v *viper.Viper, cfg *Config) error {
	v.AutomaticEnv()
	v.SetEnvPrefix("HEDGE_BOT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	envToken := v.GetString("TELEGRAM_TOKEN")
	if envToken != "" {
		cfg.TelegramToken = envToken
	}

	envSources := v.GetString("PRICE_SOURCES")
	if envSources != "" {
		sources := strings.Split(envSources, ",")
		var cleanSources []string
		for _, src := range sources {
			clean := strings.TrimSpace(src)
			if clean != "" {
				cleanSources = append(cleanSources, clean)
			}
		}
		if len(cleanSources) > 0 {
			cfg.PriceSources = cleanSources
		}
	}
	return nil
}
