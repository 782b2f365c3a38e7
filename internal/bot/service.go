// internal/bot/service.go
package bot

import (
	"context"
	"fmt"
	"strings"

	"github.com/rovshanmuradov/hedge-bot/internal/export"
	"github.com/rovshanmuradov/hedge-bot/internal/hedge"
	"github.com/rovshanmuradov/hedge-bot/internal/marketdata"
	"github.com/rovshanmuradov/hedge-bot/internal/monitor"
	"github.com/rovshanmuradov/hedge-bot/internal/pricing"
	"go.uber.org/zap"
)

// Defaults used by the quick Greeks command when the user supplies only an
// asset symbol.
const (
	autoGreeksDays       = 7
	autoGreeksVolatility = 0.35
)

// Service is the command surface of the bot. Each method maps to one chat
// command and returns the reply text; the chat transport itself lives
// outside this module.
type Service struct {
	registry *monitor.Registry
	feed     *marketdata.Feed
	executor *hedge.Executor
	ledger   *hedge.Ledger
	exporter *export.HistoryExporter
	logger   *zap.Logger
}

// NewService wires the command surface.
func NewService(registry *monitor.Registry, feed *marketdata.Feed, executor *hedge.Executor, ledger *hedge.Ledger, logger *zap.Logger) *Service {
	return &Service{
		registry: registry,
		feed:     feed,
		executor: executor,
		ledger:   ledger,
		exporter: export.NewHistoryExporter(logger),
		logger:   logger.Named("bot_service"),
	}
}

// MonitorRisk starts (or restarts) monitoring of one position and returns
// the initial status reply.
func (s *Service) MonitorRisk(ctx context.Context, userID, chatID int64, asset string, size, threshold float64) (string, error) {
	res, err := s.registry.StartMonitoring(ctx, userID, chatID, asset, size, threshold)
	if err != nil {
		return "", err
	}

	reply := fmt.Sprintf(
		"Monitoring %s\nPrice: $%.2f\nPosition size: %g\nDelta exposure: $%.2f\n",
		res.Asset, res.Price, res.Size, res.Exposure)
	if res.Breached {
		reply += fmt.Sprintf("Risk exceeds threshold $%.2f — suggested action: hedge now", res.Threshold)
	} else {
		reply += "Risk within safe threshold."
	}
	return reply, nil
}

// StopMonitoring stops the user's session.
func (s *Service) StopMonitoring(userID int64) string {
	if s.registry.StopMonitoring(userID) {
		return "Monitoring stopped."
	}
	return "No active monitoring to stop."
}

// AdjustThreshold updates the risk tolerance for one monitored asset.
func (s *Service) AdjustThreshold(userID int64, asset string, threshold float64) (string, error) {
	if err := s.registry.AdjustThreshold(userID, asset, threshold); err != nil {
		return "", err
	}

	reply := fmt.Sprintf("Threshold updated to $%.2f", threshold)
	if snap, ok := s.registry.Session(userID); ok {
		for _, pos := range snap.Positions {
			if pos.Asset == strings.ToUpper(asset) {
				reply += fmt.Sprintf("\n%s size %g, exposure $%.2f", pos.Asset, pos.Size, pos.LastExposure)
				if pos.LastExposure > pos.Threshold {
					reply += "\nRisk exceeds threshold!"
				} else {
					reply += "\nRisk within safe threshold."
				}
			}
		}
	}
	return reply, nil
}

// Greeks prices an option from explicit parameters.
func (s *Service) Greeks(params pricing.PositionParams) (string, error) {
	greeks, err := pricing.ComputeGreeks(params)
	if err != nil {
		return "", err
	}
	return formatGreeks(params, greeks), nil
}

// GreeksAuto prices an at-the-money call on the asset's live price using
// stock assumptions: 7 days to expiry, 35% volatility, 5% rate.
func (s *Service) GreeksAuto(ctx context.Context, asset string) (string, error) {
	asset = strings.ToUpper(strings.TrimSpace(asset))
	if err := s.feed.Refresh(ctx, asset); err != nil {
		return "", fmt.Errorf("fetch live data for %s: %w", asset, err)
	}
	price, ok := s.feed.LatestPrice(asset)
	if !ok {
		return "", fmt.Errorf("%w for %s", marketdata.ErrNoPrice, asset)
	}

	params := pricing.PositionParams{
		Spot:         price,
		Strike:       float64(int64(price + 0.5)), // nearest whole = ATM strike
		DaysToExpiry: autoGreeksDays,
		Volatility:   autoGreeksVolatility,
		RiskFreeRate: pricing.DefaultRiskFreeRate,
		OptionType:   pricing.OptionCall,
	}
	greeks, err := pricing.ComputeGreeks(params)
	if err != nil {
		return "", fmt.Errorf("greeks for %s: %w", asset, err)
	}
	return formatGreeks(params, greeks), nil
}

// HedgeNow executes a manual hedge and records it in the ledger.
func (s *Service) HedgeNow(asset string, size, price float64) (string, error) {
	exec, err := s.executor.Execute(asset, size, price)
	if err != nil {
		return "", err
	}
	if err := s.ledger.Append(asset, size, price, hedge.ModeManual); err != nil {
		// The simulated fill stands even when history cannot be written.
		s.logger.Error("Failed to record manual hedge", zap.Error(err))
	}

	return fmt.Sprintf(
		"[Simulated] Hedge order executed\nAsset: %s\nSize: %g\nOriginal price: $%.2f\nExecution price: $%.2f\nSlippage: %.4f%%\nEstimated cost: $%.2f",
		exec.Asset, exec.Size, exec.OriginalPrice, exec.ExecutionPrice, exec.SlippagePct, exec.Cost), nil
}

// HedgeHistory formats the most recent ledger records, newest first.
func (s *Service) HedgeHistory(asset string, limit int) string {
	if limit <= 0 {
		limit = 5
	}
	records := s.ledger.Recent(asset, limit)
	if len(records) == 0 {
		return "No hedge records found."
	}

	var b strings.Builder
	b.WriteString("Hedge history")
	if asset != "" {
		fmt.Fprintf(&b, " for %s", strings.ToUpper(asset))
	}
	b.WriteString(":\n")
	for _, r := range records {
		fmt.Fprintf(&b, "\n%s\nAsset: %s\nSize: %.4f\nPrice: $%.2f\nMode: %s\n",
			r.Timestamp, r.Asset, r.Size, r.Price, r.Mode)
	}
	return b.String()
}

// ExportHistory writes the full hedge history to a CSV or JSON file in
// outputDir and returns the reply naming the file.
func (s *Service) ExportHistory(asset string, format export.Format, outputDir string) (string, error) {
	path, err := s.exporter.Export(s.ledger.All(), export.Options{
		Format:      format,
		AssetFilter: strings.ToUpper(strings.TrimSpace(asset)),
		OutputDir:   outputDir,
	})
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("Hedge history exported to %s", path), nil
}

// StressReport runs the stress simulator and formats a per-scenario table.
func (s *Service) StressReport(base pricing.PositionParams, scenarios map[string]pricing.Shock) string {
	if len(scenarios) == 0 {
		scenarios = pricing.DefaultScenarios
	}
	results := pricing.SimulateStress(base, scenarios)

	var b strings.Builder
	fmt.Fprintf(&b, "Stress scenarios (%s %s, strike $%.2f):\n",
		strings.ToUpper(string(base.OptionType)), "option", base.Strike)
	for label, res := range results {
		fmt.Fprintf(&b, "\n[%s] spot $%.2f, vol %.2f, %.1f days left\n", label, res.Spot, res.Volatility, res.DaysRemaining)
		if res.Err != nil {
			fmt.Fprintf(&b, "  error: %v\n", res.Err)
			continue
		}
		fmt.Fprintf(&b, "  price $%.2f, delta %.4f, gamma %.4f, theta %.4f, vega %.4f\n",
			res.Greeks.Price, res.Greeks.Delta, res.Greeks.Gamma, res.Greeks.Theta, res.Greeks.Vega)
	}
	return b.String()
}

func formatGreeks(params pricing.PositionParams, g pricing.Greeks) string {
	return fmt.Sprintf(
		"Option Greeks (%s):\nSpot: $%g\nStrike: $%g\nDays to expiry: %g\nVolatility: %.1f%%\n\nPrice: %.2f\nDelta: %.4f\nGamma: %.4f\nTheta: %.4f\nVega: %.4f",
		strings.ToUpper(string(params.OptionType)),
		params.Spot, params.Strike, params.DaysToExpiry, params.Volatility*100,
		g.Price, g.Delta, g.Gamma, g.Theta, g.Vega)
}
