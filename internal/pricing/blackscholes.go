// Package pricing implements the Black-Scholes quantities the screening
// pipeline needs: put delta with validated inputs, the full option price
// (used to synthesize premiums for chains without market quotes), and an
// annualized historical volatility estimate.
package pricing

import (
	"errors"
	"fmt"
	"math"

	"github.com/montanaflynn/stats"
)

// ErrInvalidInput is the sentinel for rejected pricing inputs. Callers are
// expected to skip the offending contract rather than abort a whole run.
var ErrInvalidInput = errors.New("invalid pricing input")

// InputError reports which delta input was out of range. It wraps
// ErrInvalidInput so callers can match the category with errors.Is.
type InputError struct {
	Field string
	Value float64
}

func (e *InputError) Error() string {
	return fmt.Sprintf("invalid pricing input: %s=%g", e.Field, e.Value)
}

func (e *InputError) Unwrap() error { return ErrInvalidInput }

// Delta calculates the Black-Scholes delta of a European put.
//
// Parameters:
//   - spot: price of the underlying asset
//   - strike: strike price of the option
//   - daysToExpiration: calendar days until expiration
//   - rate: risk-free interest rate (annual)
//   - sigma: volatility of the underlying asset (annual, as a decimal)
//
// Returns:
//
//	The put delta, a value in [-1, 0]. Inputs that would make the formula
//	degenerate (non-positive spot, strike, volatility, or expiry) return an
//	*InputError instead of producing NaN or Inf.
func Delta(spot, strike float64, daysToExpiration int, rate, sigma float64) (float64, error) {
	switch {
	case spot <= 0:
		return 0, &InputError{Field: "spot", Value: spot}
	case strike <= 0:
		return 0, &InputError{Field: "strike", Value: strike}
	case daysToExpiration <= 0:
		return 0, &InputError{Field: "days_to_expiration", Value: float64(daysToExpiration)}
	case sigma <= 0:
		return 0, &InputError{Field: "volatility", Value: sigma}
	}

	T := float64(daysToExpiration) / 365.0
	d1 := (math.Log(spot/strike) + (rate+0.5*sigma*sigma)*T) / (sigma * math.Sqrt(T))

	return normCDF(d1) - 1, nil
}

// Price calculates the price of a European option using the Black-Scholes
// model. If time to expiry or volatility is zero or negative it returns the
// intrinsic value of the option.
//
// Parameters:
//   - isCall: true for call option, false for put option
//   - S: spot price of the underlying asset
//   - K: strike price of the option
//   - T: time to expiry in years
//   - r: risk-free interest rate (annual)
//   - sigma: volatility of the underlying asset (annual, as a decimal)
func Price(isCall bool, S, K, T, r, sigma float64) float64 {
	if T <= 0 || sigma <= 0 {
		if isCall {
			return math.Max(0, S-K)
		}
		return math.Max(0, K-S)
	}

	d1 := (math.Log(S/K) + (r+0.5*sigma*sigma)*T) / (sigma * math.Sqrt(T))
	d2 := d1 - sigma*math.Sqrt(T)

	if isCall {
		return S*normCDF(d1) - K*math.Exp(-r*T)*normCDF(d2)
	}
	return K*math.Exp(-r*T)*normCDF(-d2) - S*normCDF(-d1)
}

// AnnualizedVolatility estimates annualized volatility from a series of
// daily closes using the sample standard deviation of log returns scaled
// by sqrt(252). The estimate is clamped to [0.10, 2.00]; fewer than two
// closes fall back to 0.25.
func AnnualizedVolatility(closes []float64) float64 {
	if len(closes) < 2 {
		return 0.25
	}

	rets := make([]float64, 0, len(closes)-1)
	for i := 1; i < len(closes); i++ {
		rets = append(rets, math.Log(closes[i]/closes[i-1]))
	}

	sd, err := stats.StandardDeviationSample(rets)
	if err != nil {
		return 0.25
	}

	hv := sd * math.Sqrt(252.0)
	return math.Max(0.10, math.Min(2.0, hv))
}

// normCDF computes the cumulative distribution function of the standard
// normal distribution for a given value x using the error function.
func normCDF(x float64) float64 {
	return 0.5 * (1.0 + math.Erf(x/math.Sqrt2))
}
