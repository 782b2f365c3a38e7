// internal/pricing/greeks.go
package pricing

import (
	"errors"
	"fmt"
	"math"
	"strings"
)

// OptionType identifies the side of an option contract.
type OptionType string

const (
	OptionCall OptionType = "call"
	OptionPut  OptionType = "put"
)

// Validation errors returned by ComputeGreeks, in checking order.
var (
	ErrInvalidInput      = errors.New("input is not a finite number")
	ErrInvalidExpiry     = errors.New("time to expiry must be positive")
	ErrInvalidVolatility = errors.New("volatility must be positive")
	ErrInvalidSpot       = errors.New("spot price must be positive")
	ErrInvalidStrike     = errors.New("strike price must be positive")
	ErrInvalidOptionType = errors.New("option type must be call or put")
	ErrCalculation       = errors.New("greeks calculation failed")
)

// DefaultRiskFreeRate is the annualized risk-free rate assumed when the
// caller does not supply one.
const DefaultRiskFreeRate = 0.05

// PositionParams describes a single option position for pricing.
// DaysToExpiry is a float so stressed scenarios can pass fractional days.
type PositionParams struct {
	Spot         float64
	Strike       float64
	DaysToExpiry float64
	Volatility   float64
	RiskFreeRate float64
	OptionType   OptionType
}

// Greeks holds the option sensitivities plus the theoretical price.
// Sensitivities are rounded to 4 decimal places, the price to 2.
type Greeks struct {
	Price float64 `json:"price"`
	Delta float64 `json:"delta"`
	Gamma float64 `json:"gamma"`
	Theta float64 `json:"theta"`
	Vega  float64 `json:"vega"`
}

// ComputeGreeks prices a European option with Black-Scholes and returns its
// delta, gamma, theta and vega. It is pure and deterministic; every failure
// mode is reported through the returned error, never a panic.
func ComputeGreeks(in PositionParams) (g Greeks, err error) {
	for _, v := range []float64{in.Spot, in.Strike, in.DaysToExpiry, in.Volatility, in.RiskFreeRate} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return Greeks{}, fmt.Errorf("%w: %v", ErrInvalidInput, v)
		}
	}

	T := in.DaysToExpiry / 365.0
	if T <= 0 {
		return Greeks{}, fmt.Errorf("%w: %g days", ErrInvalidExpiry, in.DaysToExpiry)
	}
	if in.Volatility <= 0 {
		return Greeks{}, fmt.Errorf("%w: %g", ErrInvalidVolatility, in.Volatility)
	}
	if in.Spot <= 0 {
		return Greeks{}, fmt.Errorf("%w: %g", ErrInvalidSpot, in.Spot)
	}
	if in.Strike <= 0 {
		return Greeks{}, fmt.Errorf("%w: %g", ErrInvalidStrike, in.Strike)
	}
	optType := OptionType(strings.ToLower(string(in.OptionType)))
	if optType != OptionCall && optType != OptionPut {
		return Greeks{}, fmt.Errorf("%w: %q", ErrInvalidOptionType, in.OptionType)
	}

	defer func() {
		if r := recover(); r != nil {
			g, err = Greeks{}, fmt.Errorf("%w: %v", ErrCalculation, r)
		}
	}()

	var (
		S     = in.Spot
		K     = in.Strike
		sigma = in.Volatility
		r     = in.RiskFreeRate
	)

	sqrtT := math.Sqrt(T)
	d1 := (math.Log(S/K) + (r+0.5*sigma*sigma)*T) / (sigma * sqrtT)
	d2 := d1 - sigma*sqrtT

	pdfD1 := normPDF(d1)
	discount := math.Exp(-r * T)

	var price, delta, theta float64
	if optType == OptionCall {
		delta = normCDF(d1)
		price = S*normCDF(d1) - K*discount*normCDF(d2)
		theta = (-S*pdfD1*sigma/(2*sqrtT) - r*K*discount*normCDF(d2)) / 365
	} else {
		delta = -normCDF(-d1)
		price = K*discount*normCDF(-d2) - S*normCDF(-d1)
		theta = (-S*pdfD1*sigma/(2*sqrtT) + r*K*discount*normCDF(-d2)) / 365
	}

	gamma := pdfD1 / (S * sigma * sqrtT)
	vega := S * pdfD1 * sqrtT / 100 // per 1 percentage point of volatility

	g = Greeks{
		Price: round(price, 2),
		Delta: round(delta, 4),
		Gamma: round(gamma, 4),
		Theta: round(theta, 4),
		Vega:  round(vega, 4),
	}
	for _, v := range []float64{g.Price, g.Delta, g.Gamma, g.Theta, g.Vega} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return Greeks{}, fmt.Errorf("%w: non-finite result", ErrCalculation)
		}
	}
	return g, nil
}

// normCDF is the standard normal cumulative distribution function.
func normCDF(x float64) float64 {
	return 0.5 * (1 + math.Erf(x/math.Sqrt2))
}

// normPDF is the standard normal density.
func normPDF(x float64) float64 {
	return math.Exp(-0.5*x*x) / math.Sqrt(2*math.Pi)
}

func round(v float64, places int) float64 {
	pow := math.Pow10(places)
	return math.Round(v*pow) / pow
}
