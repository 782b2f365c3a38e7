// internal/monitor/poller.go
package monitor

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/rovshanmuradov/hedge-bot/internal/hedge"
	"go.uber.org/zap"
)

const fetchTimeout = 10 * time.Second

// runPoller is the single background task servicing one user's session.
// Cancellation is cooperative: it is observed at the ticker wait and the
// loop body is never re-entered afterwards.
func (r *Registry) runPoller(ctx context.Context, userID int64, task *pollTask) {
	defer close(task.done)

	logger := r.logger.With(zap.Int64("user_id", userID))
	logger.Info("Monitoring loop started", zap.Duration("interval", r.pollInterval))

	ticker := time.NewTicker(r.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("Monitoring loop cancelled")
			return
		case <-ticker.C:
			r.tick(ctx, userID)
		}
	}
}

// tick refreshes every monitored asset of the session once. Failures for
// one asset never abort the tick for the others.
func (r *Registry) tick(ctx context.Context, userID int64) {
	r.mu.RLock()
	session, ok := r.sessions[userID]
	if !ok {
		r.mu.RUnlock()
		return
	}
	chatID := session.ChatID
	assets := make([]string, 0, len(session.Positions))
	for asset := range session.Positions {
		assets = append(assets, asset)
	}
	r.mu.RUnlock()

	for _, asset := range assets {
		if ctx.Err() != nil {
			return
		}
		r.checkPosition(ctx, userID, chatID, asset)
	}
}

// checkPosition refreshes one asset's price, recomputes exposure and
// applies the threshold / auto-hedge policy. The session is re-validated
// under the lock after the fetch: a stop command may have removed it while
// the request was in flight.
func (r *Registry) checkPosition(ctx context.Context, userID, chatID int64, asset string) {
	fetchCtx, cancel := context.WithTimeout(ctx, fetchTimeout)
	if err := r.prices.Refresh(fetchCtx, asset); err != nil {
		r.logger.Debug("Price refresh failed", zap.String("asset", asset), zap.Error(err))
	}
	cancel()

	price, ok := r.prices.LatestPrice(asset, r.sources...)
	if !ok {
		// Transient gap: skip this asset for one tick, retry on the next.
		r.logger.Debug("No price this tick, skipping",
			zap.Int64("user_id", userID),
			zap.String("asset", asset))
		return
	}

	r.mu.Lock()
	session, stillThere := r.sessions[userID]
	if !stillThere {
		r.mu.Unlock()
		return
	}
	pos, stillThere := session.Positions[asset]
	if !stillThere {
		r.mu.Unlock()
		return
	}

	exposure := pos.Size * price
	pos.LastExposure = exposure
	pos.UpdatedAt = time.Now()

	if exposure <= pos.Threshold {
		// Within tolerance. The breach flag stays as-is: only an explicit
		// threshold change or restart clears it.
		r.mu.Unlock()
		return
	}

	auto := session.AutoHedge
	if auto != nil && auto.Enabled && exposure > auto.Trigger {
		hedgeSize := math.Min(pos.Size, (exposure-auto.Trigger)/price)
		if hedgeSize > 0 {
			exec, err := r.executor.Execute(asset, hedgeSize, price)
			if err != nil {
				r.mu.Unlock()
				r.logger.Error("Auto-hedge execution failed",
					zap.Int64("user_id", userID),
					zap.String("asset", asset),
					zap.Error(err))
				return
			}

			pos.Size -= hedgeSize
			pos.LastExposure = pos.Size * price
			newExposure := pos.LastExposure
			threshold := pos.Threshold
			strategy := auto.Strategy
			r.mu.Unlock()

			// The hedge is considered executed even when the ledger write
			// fails; persistence problems must not undo the position change.
			if err := r.ledger.Append(asset, hedgeSize, price, hedge.ModeAuto); err != nil {
				r.logger.Error("Failed to record auto-hedge",
					zap.String("asset", asset),
					zap.Error(err))
			}

			r.logger.Info("Auto-hedge applied",
				zap.Int64("user_id", userID),
				zap.String("asset", asset),
				zap.Float64("hedge_size", hedgeSize),
				zap.Float64("exposure_after", newExposure))

			r.notifyAutoHedge(ctx, chatID, exec, strategy, newExposure, threshold)
			return
		}
	}

	pos.Breached = true
	text := fmt.Sprintf(
		"[Risk Alert] %s breach\nPrice: $%.2f\nExposure: $%.2f\nThreshold: $%.2f\nSuggested action: hedge now",
		asset, price, exposure, pos.Threshold)
	r.mu.Unlock()

	r.logger.Warn("Risk threshold breached",
		zap.Int64("user_id", userID),
		zap.String("asset", asset),
		zap.Float64("exposure", exposure))

	r.notifier.Notify(ctx, chatID, text)
}

// notifyAutoHedge delivers the three-message sequence for an automatic
// hedge: confirmation, then cost breakdown, then performance summary.
func (r *Registry) notifyAutoHedge(ctx context.Context, chatID int64, exec hedge.Execution, strategy string, newExposure, threshold float64) {
	confirmation := fmt.Sprintf(
		"[Auto-Hedge] %s executed (%s)\nSize: %.6f\nFill: $%.2f",
		exec.Asset, strategy, exec.Size, exec.ExecutionPrice)
	r.notifier.Notify(ctx, chatID, confirmation)

	costs := fmt.Sprintf(
		"Cost breakdown for %s:\nReference: $%.2f\nSlippage: %.4f%%\nFee: $%.2f",
		exec.Asset, exec.OriginalPrice, exec.SlippagePct, exec.Cost)
	r.notifier.Notify(ctx, chatID, costs)

	verdict := "still above threshold"
	if newExposure <= threshold {
		verdict = "back within threshold"
	}
	summary := fmt.Sprintf(
		"Post-hedge summary for %s:\nExposure: $%.2f\nThreshold: $%.2f\nStatus: %s",
		exec.Asset, newExposure, threshold, verdict)
	r.notifier.Notify(ctx, chatID, summary)
}
