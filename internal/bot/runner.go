// internal/bot/runner.go
package bot

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rovshanmuradov/hedge-bot/internal/config"
	"github.com/rovshanmuradov/hedge-bot/internal/hedge"
	"github.com/rovshanmuradov/hedge-bot/internal/marketdata"
	"github.com/rovshanmuradov/hedge-bot/internal/monitor"
	"github.com/rovshanmuradov/hedge-bot/internal/notify"
	"github.com/rovshanmuradov/hedge-bot/internal/watchlist"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Runner assembles the bot from configuration and drives its lifecycle.
type Runner struct {
	logger     *zap.Logger
	cfg        *config.Config
	registry   *monitor.Registry
	service    *Service
	shutdownCh chan os.Signal
}

// NewRunner builds every component from the loaded configuration.
func NewRunner(cfg *config.Config, logger *zap.Logger) (*Runner, error) {
	client := marketdata.NewClient(
		time.Duration(cfg.HTTPTimeout)*time.Second,
		cfg.Retries,
		logger,
	)
	cache, err := marketdata.NewCache(cfg.CacheFile, logger)
	if err != nil {
		return nil, fmt.Errorf("init price cache: %w", err)
	}
	feed := marketdata.NewFeed(client, cache, logger)

	ledger, err := hedge.NewLedger(cfg.LedgerFile, logger)
	if err != nil {
		return nil, fmt.Errorf("init hedge ledger: %w", err)
	}
	executor := hedge.NewExecutor(rand.New(rand.NewSource(time.Now().UnixNano())), logger)

	var sender notify.Sender
	if cfg.TelegramToken != "" {
		sender = notify.NewTelegramSender(cfg.TelegramToken)
	} else {
		logger.Warn("No telegram token configured, notifications go to the log only")
		sender = notify.NewLogSender(logger)
	}
	notifier := notify.NewNotifier(sender, logger)

	registry := monitor.NewRegistry(monitor.RegistryConfig{
		Prices:       feed,
		Notifier:     notifier,
		Executor:     executor,
		Ledger:       ledger,
		Logger:       logger,
		PollInterval: time.Duration(cfg.PollInterval) * time.Second,
		Sources:      cfg.PriceSources,
	})

	return &Runner{
		logger:     logger,
		cfg:        cfg,
		registry:   registry,
		service:    NewService(registry, feed, executor, ledger, logger),
		shutdownCh: make(chan os.Signal, 1),
	}, nil
}

// Service exposes the command surface for transports.
func (r *Runner) Service() *Service {
	return r.service
}

// Run starts the watchlist positions and blocks until a shutdown signal or
// context cancellation, then stops every poller gracefully.
func (r *Runner) Run(ctx context.Context) error {
	signal.Notify(r.shutdownCh, syscall.SIGINT, syscall.SIGTERM)
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() {
		select {
		case sig := <-r.shutdownCh:
			r.logger.Info("Signal received: " + sig.String())
			cancel()
		case <-runCtx.Done():
		}
	}()

	if r.cfg.WatchlistFile != "" {
		if err := r.startWatchlist(runCtx); err != nil {
			return err
		}
	}

	<-runCtx.Done()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := r.registry.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	r.logger.Info("All monitoring sessions stopped")
	return nil
}

// startWatchlist boots monitoring for every configured position. Entries
// are started concurrently; a single failing asset does not stop the rest.
func (r *Runner) startWatchlist(ctx context.Context) error {
	entries, err := watchlist.NewManager(r.logger).Load(r.cfg.WatchlistFile)
	if err != nil {
		return fmt.Errorf("load watchlist: %w", err)
	}
	r.logger.Info(fmt.Sprintf("Loaded %d watchlist positions", len(entries)))

	g, gCtx := errgroup.WithContext(ctx)
	for _, entry := range entries {
		entry := entry
		g.Go(func() error {
			_, err := r.registry.StartMonitoring(gCtx, entry.UserID, entry.ChatID, entry.Asset, entry.Size, entry.Threshold)
			if err != nil {
				r.logger.Error("Failed to start watchlist position",
					zap.Int64("user_id", entry.UserID),
					zap.String("asset", entry.Asset),
					zap.Error(err))
				return nil // keep the others going
			}
			if entry.AutoHedge != nil {
				if err := r.registry.ConfigureAutoHedge(entry.UserID, entry.AutoHedge.Strategy, entry.AutoHedge.Trigger); err != nil {
					r.logger.Error("Failed to configure auto-hedge",
						zap.Int64("user_id", entry.UserID),
						zap.Error(err))
					return nil
				}
				if !entry.AutoHedge.Enabled {
					if err := r.registry.SetAutoHedgeEnabled(entry.UserID, false); err != nil {
						r.logger.Error("Failed to disable auto-hedge",
							zap.Int64("user_id", entry.UserID),
							zap.Error(err))
					}
				}
			}
			return nil
		})
	}
	return g.Wait()
}
