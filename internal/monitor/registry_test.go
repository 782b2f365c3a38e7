package monitor

import (
	"context"
	"math/rand"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/rovshanmuradov/hedge-bot/internal/hedge"
)

// fakeFeed is an in-memory PriceSource.
type fakeFeed struct {
	mu         sync.Mutex
	prices     map[string]float64
	refreshErr error
	refreshes  int
}

func (f *fakeFeed) Refresh(_ context.Context, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refreshes++
	return f.refreshErr
}

func (f *fakeFeed) LatestPrice(asset string, _ ...string) (float64, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	price, ok := f.prices[asset]
	return price, ok && price > 0
}

func (f *fakeFeed) setPrice(asset string, price float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.prices == nil {
		f.prices = make(map[string]float64)
	}
	f.prices[asset] = price
}

// fakeNotifier records delivered messages in order.
type fakeNotifier struct {
	mu       sync.Mutex
	messages []string
	chatIDs  []int64
}

func (f *fakeNotifier) Notify(_ context.Context, chatID int64, text string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.chatIDs = append(f.chatIDs, chatID)
	f.messages = append(f.messages, text)
}

func (f *fakeNotifier) all() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.messages))
	copy(out, f.messages)
	return out
}

func newTestRegistry(t *testing.T, feed *fakeFeed, notifier *fakeNotifier) (*Registry, *hedge.Ledger) {
	t.Helper()
	logger := zaptest.NewLogger(t)

	ledger, err := hedge.NewLedger(filepath.Join(t.TempDir(), "hedges.json"), logger)
	require.NoError(t, err)

	r := NewRegistry(RegistryConfig{
		Prices:       feed,
		Notifier:     notifier,
		Executor:     hedge.NewExecutor(rand.New(rand.NewSource(1)), logger),
		Ledger:       ledger,
		Logger:       logger,
		PollInterval: time.Hour, // ticks are driven manually in tests
	})
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = r.Shutdown(ctx)
	})
	return r, ledger
}

func TestStartMonitoringValidation(t *testing.T) {
	feed := &fakeFeed{}
	feed.setPrice("BTC", 50000)
	r, _ := newTestRegistry(t, feed, &fakeNotifier{})
	ctx := context.Background()

	_, err := r.StartMonitoring(ctx, 1, 1, "", 1, 1000)
	assert.ErrorIs(t, err, ErrInvalidAsset)

	_, err = r.StartMonitoring(ctx, 1, 1, "BTC", 0, 1000)
	assert.ErrorIs(t, err, ErrInvalidSize)

	_, err = r.StartMonitoring(ctx, 1, 1, "BTC", 1, -2)
	assert.ErrorIs(t, err, ErrInvalidThreshold)

	_, err = r.StartMonitoring(ctx, 1, 1, "XRP", 1, 1000)
	assert.ErrorIs(t, err, ErrPriceUnavailable)

	assert.Equal(t, 0, r.ActivePollers())
}

func TestStartMonitoringComputesExposure(t *testing.T) {
	feed := &fakeFeed{}
	feed.setPrice("BTC", 50000)
	r, _ := newTestRegistry(t, feed, &fakeNotifier{})

	res, err := r.StartMonitoring(context.Background(), 1, 99, "btc", 1.5, 100000)
	require.NoError(t, err)

	assert.Equal(t, "BTC", res.Asset)
	assert.Equal(t, 75000.0, res.Exposure)
	assert.False(t, res.Breached)
	assert.Equal(t, 1, r.ActivePollers())

	snap, ok := r.Session(1)
	require.True(t, ok)
	assert.Equal(t, int64(99), snap.ChatID)
	require.Len(t, snap.Positions, 1)
	assert.Equal(t, 75000.0, snap.Positions[0].LastExposure)
}

func TestStartMonitoringTwiceLeavesOnePoller(t *testing.T) {
	feed := &fakeFeed{}
	feed.setPrice("BTC", 50000)
	feed.setPrice("ETH", 3000)
	r, _ := newTestRegistry(t, feed, &fakeNotifier{})
	ctx := context.Background()

	_, err := r.StartMonitoring(ctx, 1, 1, "BTC", 1, 100000)
	require.NoError(t, err)
	_, err = r.StartMonitoring(ctx, 1, 1, "ETH", 2, 10000)
	require.NoError(t, err)

	assert.Equal(t, 1, r.ActivePollers())

	// Both assets accumulate in the same session.
	snap, ok := r.Session(1)
	require.True(t, ok)
	assert.Len(t, snap.Positions, 2)
}

func TestStartMonitoringUpsertsPositionPerAsset(t *testing.T) {
	feed := &fakeFeed{}
	feed.setPrice("BTC", 50000)
	r, _ := newTestRegistry(t, feed, &fakeNotifier{})
	ctx := context.Background()

	_, err := r.StartMonitoring(ctx, 1, 1, "BTC", 1, 100000)
	require.NoError(t, err)
	_, err = r.StartMonitoring(ctx, 1, 1, "BTC", 2.5, 200000)
	require.NoError(t, err)

	snap, _ := r.Session(1)
	require.Len(t, snap.Positions, 1)
	assert.Equal(t, 2.5, snap.Positions[0].Size)
	assert.Equal(t, 200000.0, snap.Positions[0].Threshold)
}

func TestTickBreachWithoutAutoHedge(t *testing.T) {
	feed := &fakeFeed{}
	feed.setPrice("BTC", 50000)
	notifier := &fakeNotifier{}
	r, ledger := newTestRegistry(t, feed, notifier)
	ctx := context.Background()

	_, err := r.StartMonitoring(ctx, 1, 7, "BTC", 1, 60000)
	require.NoError(t, err)

	feed.setPrice("BTC", 70000)
	r.tick(ctx, 1)

	snap, _ := r.Session(1)
	pos := snap.Positions[0]
	assert.True(t, pos.Breached)
	assert.Equal(t, 1.0, pos.Size) // size untouched without auto-hedge
	assert.Equal(t, 70000.0, pos.LastExposure)

	msgs := notifier.all()
	require.Len(t, msgs, 1)
	assert.Contains(t, msgs[0], "Risk Alert")
	assert.Contains(t, msgs[0], "BTC")
	assert.Empty(t, ledger.All())
}

func TestTickAutoHedgeReducesPosition(t *testing.T) {
	feed := &fakeFeed{}
	feed.setPrice("BTC", 50000)
	notifier := &fakeNotifier{}
	r, ledger := newTestRegistry(t, feed, notifier)
	ctx := context.Background()

	_, err := r.StartMonitoring(ctx, 1, 7, "BTC", 2, 60000)
	require.NoError(t, err)
	require.NoError(t, r.ConfigureAutoHedge(1, "delta_cut", 80000))

	// exposure 100000 > threshold 60000 and > trigger 80000:
	// hedgeSize = min(2, (100000-80000)/50000) = 0.4
	r.tick(ctx, 1)

	snap, _ := r.Session(1)
	pos := snap.Positions[0]
	assert.InDelta(t, 1.6, pos.Size, 1e-9)
	assert.InDelta(t, 80000.0, pos.LastExposure, 1e-6)

	records := ledger.All()
	require.Len(t, records, 1)
	assert.Equal(t, hedge.ModeAuto, records[0].Mode)
	assert.InDelta(t, 0.4, records[0].Size, 1e-9)
	assert.Equal(t, "BTC", records[0].Asset)

	// Ordering: confirmation, cost breakdown, performance summary.
	msgs := notifier.all()
	require.Len(t, msgs, 3)
	assert.Contains(t, msgs[0], "Auto-Hedge")
	assert.Contains(t, msgs[1], "Cost breakdown")
	assert.Contains(t, msgs[2], "Post-hedge summary")
}

func TestTickAutoHedgeDisabledFallsBackToAlert(t *testing.T) {
	feed := &fakeFeed{}
	feed.setPrice("BTC", 50000)
	notifier := &fakeNotifier{}
	r, ledger := newTestRegistry(t, feed, notifier)
	ctx := context.Background()

	_, err := r.StartMonitoring(ctx, 1, 7, "BTC", 2, 60000)
	require.NoError(t, err)
	require.NoError(t, r.ConfigureAutoHedge(1, "delta_cut", 80000))
	require.NoError(t, r.SetAutoHedgeEnabled(1, false))

	r.tick(ctx, 1)

	snap, _ := r.Session(1)
	assert.Equal(t, 2.0, snap.Positions[0].Size)
	assert.True(t, snap.Positions[0].Breached)
	assert.Empty(t, ledger.All())
	assert.Len(t, notifier.all(), 1)

	// Config survived the toggle.
	require.NotNil(t, snap.AutoHedge)
	assert.Equal(t, "delta_cut", snap.AutoHedge.Strategy)
	assert.False(t, snap.AutoHedge.Enabled)
}

func TestBreachFlagIsSticky(t *testing.T) {
	feed := &fakeFeed{}
	feed.setPrice("BTC", 70000)
	notifier := &fakeNotifier{}
	r, _ := newTestRegistry(t, feed, notifier)
	ctx := context.Background()

	_, err := r.StartMonitoring(ctx, 1, 7, "BTC", 1, 60000)
	require.NoError(t, err)

	r.tick(ctx, 1)
	snap, _ := r.Session(1)
	require.True(t, snap.Positions[0].Breached)

	// Price recovers; the flag stays until the user acts.
	feed.setPrice("BTC", 40000)
	r.tick(ctx, 1)

	snap, _ = r.Session(1)
	assert.True(t, snap.Positions[0].Breached)
	assert.Equal(t, 40000.0, snap.Positions[0].LastExposure)
}

func TestTickSkipsAssetWithoutPrice(t *testing.T) {
	feed := &fakeFeed{}
	feed.setPrice("BTC", 50000)
	notifier := &fakeNotifier{}
	r, _ := newTestRegistry(t, feed, notifier)
	ctx := context.Background()

	_, err := r.StartMonitoring(ctx, 1, 7, "BTC", 1, 60000)
	require.NoError(t, err)

	feed.setPrice("BTC", 0) // feed goes dark
	r.tick(ctx, 1)

	snap, _ := r.Session(1)
	assert.Equal(t, 50000.0, snap.Positions[0].LastExposure) // unchanged
	assert.False(t, snap.Positions[0].Breached)
	assert.Empty(t, notifier.all())
}

func TestStopMonitoringIdempotent(t *testing.T) {
	feed := &fakeFeed{}
	feed.setPrice("BTC", 50000)
	r, _ := newTestRegistry(t, feed, &fakeNotifier{})

	assert.False(t, r.StopMonitoring(42)) // nothing to stop, no panic

	_, err := r.StartMonitoring(context.Background(), 1, 1, "BTC", 1, 100000)
	require.NoError(t, err)
	require.Equal(t, 1, r.ActivePollers())

	assert.True(t, r.StopMonitoring(1))
	assert.Equal(t, 0, r.ActivePollers())
	_, ok := r.Session(1)
	assert.False(t, ok)

	assert.False(t, r.StopMonitoring(1))
}

func TestAdjustThreshold(t *testing.T) {
	feed := &fakeFeed{}
	feed.setPrice("BTC", 70000)
	r, _ := newTestRegistry(t, feed, &fakeNotifier{})
	ctx := context.Background()

	err := r.AdjustThreshold(1, "BTC", 1000)
	assert.ErrorIs(t, err, ErrNoSession)

	_, err = r.StartMonitoring(ctx, 1, 1, "BTC", 1, 60000)
	require.NoError(t, err)

	assert.ErrorIs(t, r.AdjustThreshold(1, "BTC", -5), ErrInvalidThreshold)
	assert.ErrorIs(t, r.AdjustThreshold(1, "ETH", 1000), ErrNoPosition)

	r.tick(ctx, 1)
	snap, _ := r.Session(1)
	require.True(t, snap.Positions[0].Breached)

	// Raising the tolerance acknowledges and clears the breach.
	require.NoError(t, r.AdjustThreshold(1, "btc", 90000))
	snap, _ = r.Session(1)
	assert.Equal(t, 90000.0, snap.Positions[0].Threshold)
	assert.False(t, snap.Positions[0].Breached)
	assert.Equal(t, 1, r.ActivePollers()) // lifecycle untouched
}

func TestSetAutoHedgeEnabledRequiresConfig(t *testing.T) {
	feed := &fakeFeed{}
	feed.setPrice("BTC", 50000)
	r, _ := newTestRegistry(t, feed, &fakeNotifier{})

	_, err := r.StartMonitoring(context.Background(), 1, 1, "BTC", 1, 100000)
	require.NoError(t, err)

	assert.ErrorIs(t, r.SetAutoHedgeEnabled(1, true), ErrNoAutoHedgeConfig)
	assert.ErrorIs(t, r.SetAutoHedgeEnabled(9, true), ErrNoSession)
	assert.ErrorIs(t, r.ConfigureAutoHedge(1, "x", 0), ErrInvalidThreshold)
}

func TestShutdownStopsAllPollers(t *testing.T) {
	feed := &fakeFeed{}
	feed.setPrice("BTC", 50000)
	feed.setPrice("ETH", 3000)
	r, _ := newTestRegistry(t, feed, &fakeNotifier{})
	ctx := context.Background()

	_, err := r.StartMonitoring(ctx, 1, 1, "BTC", 1, 100000)
	require.NoError(t, err)
	_, err = r.StartMonitoring(ctx, 2, 2, "ETH", 1, 100000)
	require.NoError(t, err)
	require.Equal(t, 2, r.ActivePollers())

	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	require.NoError(t, r.Shutdown(shutdownCtx))
	assert.Equal(t, 0, r.ActivePollers())
}

func newBackgroundRegistry(t *testing.T, feed *fakeFeed, notifier *fakeNotifier, interval time.Duration) *Registry {
	t.Helper()
	logger := zaptest.NewLogger(t)

	ledger, err := hedge.NewLedger(filepath.Join(t.TempDir(), "hedges.json"), logger)
	require.NoError(t, err)

	r := NewRegistry(RegistryConfig{
		Prices:       feed,
		Notifier:     notifier,
		Executor:     hedge.NewExecutor(rand.New(rand.NewSource(1)), logger),
		Ledger:       ledger,
		Logger:       logger,
		PollInterval: interval,
	})
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = r.Shutdown(ctx)
	})
	return r
}

func TestConcurrentStartsKeepSinglePoller(t *testing.T) {
	feed := &fakeFeed{}
	feed.setPrice("BTC", 70000)
	notifier := &fakeNotifier{}
	r := newBackgroundRegistry(t, feed, notifier, 25*time.Millisecond)
	ctx := context.Background()

	for round := 0; round < 100; round++ {
		var wg sync.WaitGroup
		wg.Add(2)
		for i := 0; i < 2; i++ {
			go func() {
				defer wg.Done()
				_, err := r.StartMonitoring(ctx, 1, 1, "BTC", 1, 60000)
				assert.NoError(t, err)
			}()
		}
		wg.Wait()
	}

	require.Equal(t, 1, r.ActivePollers())

	// A 25ms ticker fires at most 20 times in 500ms, so alert volume above
	// that means a second poller leaked past the task map.
	before := len(notifier.all())
	time.Sleep(500 * time.Millisecond)
	delta := len(notifier.all()) - before
	assert.Greater(t, delta, 0)
	assert.LessOrEqual(t, delta, 24)
}

func TestConcurrentStartStopLeavesNoOrphan(t *testing.T) {
	feed := &fakeFeed{}
	feed.setPrice("BTC", 70000)
	notifier := &fakeNotifier{}
	r := newBackgroundRegistry(t, feed, notifier, 10*time.Millisecond)
	ctx := context.Background()

	for round := 0; round < 100; round++ {
		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, err := r.StartMonitoring(ctx, 1, 1, "BTC", 1, 60000)
			assert.NoError(t, err)
		}()
		go func() {
			defer wg.Done()
			r.StopMonitoring(1)
		}()
		wg.Wait()
	}

	r.StopMonitoring(1)
	assert.Equal(t, 0, r.ActivePollers())
	_, ok := r.Session(1)
	assert.False(t, ok)

	// Stopped means stopped: no poller may tick after the final stop.
	before := len(notifier.all())
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, before, len(notifier.all()))
}

func TestPollerTicksInBackground(t *testing.T) {
	feed := &fakeFeed{}
	feed.setPrice("BTC", 70000)
	notifier := &fakeNotifier{}
	logger := zaptest.NewLogger(t)

	ledger, err := hedge.NewLedger(filepath.Join(t.TempDir(), "hedges.json"), logger)
	require.NoError(t, err)

	r := NewRegistry(RegistryConfig{
		Prices:       feed,
		Notifier:     notifier,
		Executor:     hedge.NewExecutor(rand.New(rand.NewSource(1)), logger),
		Ledger:       ledger,
		Logger:       logger,
		PollInterval: 20 * time.Millisecond,
	})
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = r.Shutdown(ctx)
	}()

	_, err = r.StartMonitoring(context.Background(), 1, 1, "BTC", 1, 60000)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		snap, ok := r.Session(1)
		return ok && snap.Positions[0].Breached
	}, 2*time.Second, 10*time.Millisecond)
}
