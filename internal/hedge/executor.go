// internal/hedge/executor.go
package hedge

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Validation errors for hedge requests.
var (
	ErrInvalidSize  = errors.New("hedge size must be positive")
	ErrInvalidPrice = errors.New("reference price must be positive")
)

const (
	// maxSlippagePct bounds the simulated slippage draw, in percent.
	maxSlippagePct = 0.2
	// feeRate is the simulated transaction fee, 7.5 basis points.
	feeRate = 0.00075
)

// Execution is the simulated fill produced for a hedge order.
type Execution struct {
	Asset          string    `json:"asset"`
	Size           float64   `json:"size"`
	OriginalPrice  float64   `json:"original_price"`
	ExecutionPrice float64   `json:"execution_price"`
	SlippagePct    float64   `json:"slippage_pct"`
	Cost           float64   `json:"cost"`
	Timestamp      time.Time `json:"timestamp"`
}

// Executor simulates hedge fills with random slippage and a fixed fee model.
// The random source is injected so tests can fix the seed and assert exact
// fills. It never touches a real venue.
type Executor struct {
	rng    *rand.Rand
	now    func() time.Time
	logger *zap.Logger
}

// NewExecutor creates an Executor drawing slippage from rng. A nil rng falls
// back to a time-seeded source.
func NewExecutor(rng *rand.Rand, logger *zap.Logger) *Executor {
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &Executor{
		rng:    rng,
		now:    time.Now,
		logger: logger.Named("hedge_executor"),
	}
}

// Execute simulates filling a hedge of the given size at the reference
// price. Slippage is drawn uniformly from [-0.2%, +0.2%].
func (e *Executor) Execute(asset string, size, refPrice float64) (Execution, error) {
	if size <= 0 || math.IsNaN(size) {
		return Execution{}, fmt.Errorf("%w: %g", ErrInvalidSize, size)
	}
	if refPrice <= 0 || math.IsNaN(refPrice) {
		return Execution{}, fmt.Errorf("%w: %g", ErrInvalidPrice, refPrice)
	}

	slippage := (e.rng.Float64()*2 - 1) * maxSlippagePct
	execPrice := refPrice * (1 + slippage/100)
	cost := execPrice * size * feeRate

	exec := Execution{
		Asset:          strings.ToUpper(asset),
		Size:           size,
		OriginalPrice:  round(refPrice, 2),
		ExecutionPrice: round(execPrice, 2),
		SlippagePct:    round(slippage, 4),
		Cost:           round(cost, 2),
		Timestamp:      e.now().UTC(),
	}

	e.logger.Info("Hedge executed",
		zap.String("asset", exec.Asset),
		zap.Float64("size", exec.Size),
		zap.Float64("reference_price", exec.OriginalPrice),
		zap.Float64("execution_price", exec.ExecutionPrice),
		zap.Float64("slippage_pct", exec.SlippagePct),
		zap.Float64("cost", exec.Cost))

	return exec, nil
}

func round(v float64, places int) float64 {
	pow := math.Pow10(places)
	return math.Round(v*pow) / pow
}
