// internal/monitor/registry.go
package monitor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rovshanmuradov/hedge-bot/internal/hedge"
	"go.uber.org/zap"
)

// Validation errors reported synchronously to callers.
var (
	ErrInvalidAsset      = errors.New("asset symbol cannot be empty")
	ErrInvalidSize       = errors.New("position size must be positive")
	ErrInvalidThreshold  = errors.New("risk threshold must be positive")
	ErrPriceUnavailable  = errors.New("no live price available")
	ErrNoSession         = errors.New("no monitoring session for user")
	ErrNoPosition        = errors.New("asset is not monitored for user")
	ErrNoAutoHedgeConfig = errors.New("auto-hedge is not configured")
)

// PriceSource is the external price capability the monitor depends on.
type PriceSource interface {
	// Refresh fetches fresh quotes for the asset, best effort.
	Refresh(ctx context.Context, asset string) error
	// LatestPrice returns the last known price, walking sources in priority
	// order.
	LatestPrice(asset string, sources ...string) (float64, bool)
}

// Notifier delivers best-effort chat messages.
type Notifier interface {
	Notify(ctx context.Context, chatID int64, text string)
}

// Executor simulates hedge fills.
type Executor interface {
	Execute(asset string, size, refPrice float64) (hedge.Execution, error)
}

// Ledger records executed hedges.
type Ledger interface {
	Append(asset string, size, price float64, mode hedge.Mode) error
}

// RegistryConfig wires the registry's collaborators.
type RegistryConfig struct {
	Prices       PriceSource
	Notifier     Notifier
	Executor     Executor
	Ledger       Ledger
	Logger       *zap.Logger
	PollInterval time.Duration // default 30s
	Sources      []string      // price source priority, optional
}

// Registry owns every monitoring session and the single background poller
// per user. It is the integration point between the price feed, the pricing
// of exposure, the auto-hedge policy and the ledger. All session state is
// guarded by one lock; pollers re-validate sessions after every fetch.
type Registry struct {
	mu       sync.RWMutex
	sessions map[int64]*Session
	tasks    map[int64]*pollTask

	// lifecycleMu serializes poller start/stop transitions. The
	// remove-await-insert sequence in restartPoller must be atomic per
	// registry: two concurrent starts for one user would otherwise both
	// observe no task and each spawn a poller, one of them unreachable
	// through the task map.
	lifecycleMu sync.Mutex

	prices   PriceSource
	notifier Notifier
	executor Executor
	ledger   Ledger
	logger   *zap.Logger

	pollInterval time.Duration
	sources      []string

	rootCtx    context.Context
	rootCancel context.CancelFunc
}

// pollTask is the handle of one background polling goroutine. done is
// closed when the goroutine has observed cancellation and exited.
type pollTask struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// NewRegistry creates a session registry. Pollers live until Shutdown.
func NewRegistry(cfg RegistryConfig) *Registry {
	interval := cfg.PollInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	rootCtx, rootCancel := context.WithCancel(context.Background())
	return &Registry{
		sessions:     make(map[int64]*Session),
		tasks:        make(map[int64]*pollTask),
		prices:       cfg.Prices,
		notifier:     cfg.Notifier,
		executor:     cfg.Executor,
		ledger:       cfg.Ledger,
		logger:       cfg.Logger.Named("risk_monitor"),
		pollInterval: interval,
		sources:      cfg.Sources,
		rootCtx:      rootCtx,
		rootCancel:   rootCancel,
	}
}

// StartResult reports the state of a position right after monitoring
// started.
type StartResult struct {
	Asset     string
	Price     float64
	Size      float64
	Threshold float64
	Exposure  float64
	Breached  bool
}

// StartMonitoring validates the request, prices the position once, upserts
// it into the user's session and (re)starts the user's single background
// poller. A previous poller is cancelled and awaited first so two tasks
// never race on the same session.
func (r *Registry) StartMonitoring(ctx context.Context, userID, chatID int64, asset string, size, threshold float64) (StartResult, error) {
	asset = strings.ToUpper(strings.TrimSpace(asset))
	if asset == "" {
		return StartResult{}, ErrInvalidAsset
	}
	if size <= 0 {
		return StartResult{}, fmt.Errorf("%w: %g", ErrInvalidSize, size)
	}
	if threshold <= 0 {
		return StartResult{}, fmt.Errorf("%w: %g", ErrInvalidThreshold, threshold)
	}

	if err := r.prices.Refresh(ctx, asset); err != nil {
		r.logger.Warn("Initial refresh failed", zap.String("asset", asset), zap.Error(err))
	}
	price, ok := r.prices.LatestPrice(asset, r.sources...)
	if !ok {
		return StartResult{}, fmt.Errorf("%w for %s", ErrPriceUnavailable, asset)
	}

	exposure := size * price

	r.mu.Lock()
	session, exists := r.sessions[userID]
	if !exists {
		session = newSession(userID, chatID)
		r.sessions[userID] = session
	}
	session.ChatID = chatID
	session.Positions[asset] = &Position{
		Asset:        asset,
		Size:         size,
		Threshold:    threshold,
		LastExposure: exposure,
		UpdatedAt:    time.Now(),
	}
	r.mu.Unlock()

	r.restartPoller(userID)

	r.logger.Info("Monitoring started",
		zap.Int64("user_id", userID),
		zap.String("asset", asset),
		zap.Float64("size", size),
		zap.Float64("threshold", threshold),
		zap.Float64("exposure", exposure))

	return StartResult{
		Asset:     asset,
		Price:     price,
		Size:      size,
		Threshold: threshold,
		Exposure:  exposure,
		Breached:  exposure > threshold,
	}, nil
}

// StopMonitoring cancels the user's poller, waits for it to exit and drops
// the session. Calling it for an unknown user is a no-op.
func (r *Registry) StopMonitoring(userID int64) bool {
	r.lifecycleMu.Lock()
	defer r.lifecycleMu.Unlock()

	r.mu.Lock()
	task := r.tasks[userID]
	delete(r.tasks, userID)
	_, hadSession := r.sessions[userID]
	delete(r.sessions, userID)
	r.mu.Unlock()

	if task != nil {
		task.cancel()
		<-task.done
	}
	if hadSession || task != nil {
		r.logger.Info("Monitoring stopped", zap.Int64("user_id", userID))
		return true
	}
	return false
}

// AdjustThreshold updates a position's threshold in place. The breach flag
// is cleared: changing the tolerance is the explicit user action that
// acknowledges the alert. Poller lifecycle is untouched.
func (r *Registry) AdjustThreshold(userID int64, asset string, threshold float64) error {
	if threshold <= 0 {
		return fmt.Errorf("%w: %g", ErrInvalidThreshold, threshold)
	}
	asset = strings.ToUpper(strings.TrimSpace(asset))

	r.mu.Lock()
	defer r.mu.Unlock()

	session, ok := r.sessions[userID]
	if !ok {
		return fmt.Errorf("%w: %d", ErrNoSession, userID)
	}
	pos, ok := session.Positions[asset]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNoPosition, asset)
	}
	pos.Threshold = threshold
	pos.Breached = false
	pos.UpdatedAt = time.Now()

	r.logger.Info("Threshold adjusted",
		zap.Int64("user_id", userID),
		zap.String("asset", asset),
		zap.Float64("threshold", threshold))
	return nil
}

// ConfigureAutoHedge stores (or replaces) the user's auto-hedge policy and
// enables it.
func (r *Registry) ConfigureAutoHedge(userID int64, strategy string, trigger float64) error {
	if trigger <= 0 {
		return fmt.Errorf("%w: trigger %g", ErrInvalidThreshold, trigger)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	session, ok := r.sessions[userID]
	if !ok {
		return fmt.Errorf("%w: %d", ErrNoSession, userID)
	}
	session.AutoHedge = &AutoHedgeConfig{
		Strategy: strategy,
		Trigger:  trigger,
		Enabled:  true,
	}

	r.logger.Info("Auto-hedge configured",
		zap.Int64("user_id", userID),
		zap.String("strategy", strategy),
		zap.Float64("trigger", trigger))
	return nil
}

// SetAutoHedgeEnabled toggles the stored policy without discarding it.
func (r *Registry) SetAutoHedgeEnabled(userID int64, enabled bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	session, ok := r.sessions[userID]
	if !ok {
		return fmt.Errorf("%w: %d", ErrNoSession, userID)
	}
	if session.AutoHedge == nil {
		return ErrNoAutoHedgeConfig
	}
	session.AutoHedge.Enabled = enabled

	r.logger.Info("Auto-hedge toggled",
		zap.Int64("user_id", userID),
		zap.Bool("enabled", enabled))
	return nil
}

// Session returns a copy of the user's session state.
func (r *Registry) Session(userID int64) (SessionSnapshot, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	session, ok := r.sessions[userID]
	if !ok {
		return SessionSnapshot{}, false
	}
	return session.snapshot(), true
}

// ActivePollers reports how many background polling tasks are live.
func (r *Registry) ActivePollers() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tasks)
}

// Shutdown cancels every poller and waits for them to exit, bounded by ctx.
func (r *Registry) Shutdown(ctx context.Context) error {
	// Cancel first so a restart in flight spawns into a dead context, then
	// serialize with any such transition before draining the task map.
	r.rootCancel()

	r.lifecycleMu.Lock()
	defer r.lifecycleMu.Unlock()

	r.mu.Lock()
	tasks := make([]*pollTask, 0, len(r.tasks))
	for userID, task := range r.tasks {
		tasks = append(tasks, task)
		delete(r.tasks, userID)
	}
	active := len(r.sessions)
	r.mu.Unlock()

	r.logger.Info("Shutting down risk monitor", zap.Int("active_sessions", active))

	for _, task := range tasks {
		task.cancel()
		select {
		case <-task.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// restartPoller replaces the user's background task, awaiting the previous
// one before the new one starts. The whole transition runs under
// lifecycleMu so concurrent starts and stops for the same user cannot
// interleave and leave an orphaned poller.
func (r *Registry) restartPoller(userID int64) {
	r.lifecycleMu.Lock()
	defer r.lifecycleMu.Unlock()

	r.mu.Lock()
	old := r.tasks[userID]
	delete(r.tasks, userID)
	r.mu.Unlock()

	if old != nil {
		old.cancel()
		<-old.done
		r.logger.Debug("Previous poller stopped", zap.Int64("user_id", userID))
	}

	r.mu.Lock()
	if _, ok := r.sessions[userID]; !ok || r.rootCtx.Err() != nil {
		// A stop or shutdown won the race while the start was in flight;
		// nothing left to poll.
		r.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(r.rootCtx)
	task := &pollTask{cancel: cancel, done: make(chan struct{})}
	r.tasks[userID] = task
	r.mu.Unlock()

	go r.runPoller(ctx, userID, task)
}
