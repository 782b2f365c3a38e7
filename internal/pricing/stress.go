// internal/pricing/stress.go
package pricing

// Shock describes the adjustments one stress scenario applies to a base
// position: Spot and Vol are fractional moves (-0.2 means a 20% drop),
// DaysPassed is subtracted from the remaining lifetime.
type Shock struct {
	Spot       float64 `yaml:"spot" json:"spot"`
	Vol        float64 `yaml:"vol" json:"vol"`
	DaysPassed float64 `yaml:"days_passed" json:"days_passed"`
}

// StressResult carries the shocked market state for one scenario together
// with the re-priced Greeks. A pricing failure for a single scenario is
// recorded in Err and does not affect the other labels.
type StressResult struct {
	Spot          float64
	Volatility    float64
	DaysRemaining float64
	Greeks        Greeks
	Err           error
}

// minStressDays floors the shocked lifetime at roughly 0.001 years so a
// scenario that outlives the option does not divide by zero.
const minStressDays = 0.365

// DefaultScenarios are the canned shock sets offered by the bot.
var DefaultScenarios = map[string]Shock{
	"crash":      {Spot: -0.20},
	"vol_spike":  {Vol: 0.50},
	"time_decay": {DaysPassed: 5},
	"black_swan": {Spot: -0.30, Vol: 1.0},
}

// SimulateStress re-prices the base position under every named shock.
// Every input label appears in the result, order-independent.
func SimulateStress(base PositionParams, scenarios map[string]Shock) map[string]StressResult {
	results := make(map[string]StressResult, len(scenarios))

	for label, shock := range scenarios {
		spot := base.Spot * (1 + shock.Spot)
		vol := base.Volatility * (1 + shock.Vol)
		days := base.DaysToExpiry - shock.DaysPassed
		if days < minStressDays {
			days = minStressDays
		}

		greeks, err := ComputeGreeks(PositionParams{
			Spot:         spot,
			Strike:       base.Strike,
			DaysToExpiry: days,
			Volatility:   vol,
			RiskFreeRate: base.RiskFreeRate,
			OptionType:   base.OptionType,
		})

		results[label] = StressResult{
			Spot:          spot,
			Volatility:    vol,
			DaysRemaining: days,
			Greeks:        greeks,
			Err:           err,
		}
	}

	return results
}
