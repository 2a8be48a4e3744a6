// Package screener filters raw put chains down to cash-secured-put
// candidates and computes per-contract yield metrics.
//
// Responsibilities:
//   - Reject contracts outside the expiration window
//   - Compute Black-Scholes delta and apply the configured delta band
//   - Derive premium %, annualized return, collateral, and breakeven
//   - Record a diagnostic for every contract skipped on bad inputs
//
// Design notes:
//   - Screen is pure and deterministic given its inputs
//   - An empty result is a reportable outcome, never an error
package screener

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/contactkeval/csp-optimizer/internal/logger"
	"github.com/contactkeval/csp-optimizer/internal/marketdata"
	"github.com/contactkeval/csp-optimizer/internal/pricing"
)

// Config holds the screening criteria. The zero value is not usable
// directly; WithDefaults fills unset fields.
type Config struct {
	DeltaBand           [2]float64 `json:"delta_band,omitempty"`     // inclusive |delta| bounds
	MaxDaysToExpiration int        `json:"max_dte,omitempty"`        // inclusive upper DTE bound
	RiskFreeRate        float64    `json:"risk_free_rate,omitempty"` // annual
}

// WithDefaults returns a copy with unset fields replaced by defaults:
// delta band [0.17, 0.23], max DTE 7, risk-free rate 5%.
func (cfg Config) WithDefaults() Config {
	if cfg.DeltaBand[0] == 0 && cfg.DeltaBand[1] == 0 {
		cfg.DeltaBand = [2]float64{0.17, 0.23}
	}
	if cfg.MaxDaysToExpiration == 0 {
		cfg.MaxDaysToExpiration = 7
	}
	if cfg.RiskFreeRate == 0 {
		cfg.RiskFreeRate = 0.05
	}
	return cfg
}

// Candidate wraps a contract that passed screening plus its derived
// metrics. Derived fields are pure functions of the contract and the
// valuation date; candidates are never mutated after construction.
type Candidate struct {
	Contract         marketdata.OptionContract `json:"contract"`
	Delta            float64                   `json:"delta"`
	DaysToExpiration int                       `json:"days_to_expiration"`
	Premium          float64                   `json:"premium"`
	PremiumPct       float64                   `json:"premium_pct"`       // premium / strike
	AnnualizedReturn float64                   `json:"annualized_return"` // premium_pct * 365 / dte
	Collateral       float64                   `json:"collateral"`        // strike * 100
	Breakeven        float64                   `json:"breakeven"`         // strike - premium
}

// Skip is the diagnostic recorded when a contract cannot be evaluated.
// Skips never fail the run; they exist so no contract vanishes silently.
type Skip struct {
	Symbol     string    `json:"symbol"`
	Strike     float64   `json:"strike"`
	Expiration time.Time `json:"expiration"`
	Reason     string    `json:"reason"`
}

// Screen filters a chain down to CSP candidates.
//
// Contracts are dropped when their expiration lies outside
// [valuation, valuation+MaxDaysToExpiration] or their |delta| falls
// outside the band (both bounds inclusive). Contracts whose inputs
// violate the pricing preconditions, or that carry no usable premium,
// are skipped with a diagnostic instead of failing the run.
//
// The result is totally ordered: annualized return descending, then
// days-to-expiration ascending, then strike ascending.
func Screen(chain []marketdata.OptionContract, cfg Config, valuation time.Time) ([]Candidate, []Skip) {
	cfg = cfg.WithDefaults()

	var out []Candidate
	var skips []Skip

	for _, contract := range chain {
		dte := daysBetween(valuation, contract.Expiration)
		if dte < 0 || dte > cfg.MaxDaysToExpiration {
			continue
		}

		premium, ok := usablePremium(contract)
		if !ok {
			skips = append(skips, skip(contract, "no usable premium quote"))
			continue
		}

		delta, err := pricing.Delta(contract.UnderlyingPrice, contract.Strike, dte,
			cfg.RiskFreeRate, contract.ImpliedVol)
		if err != nil {
			if !errors.Is(err, pricing.ErrInvalidInput) {
				logger.Errorf("unexpected delta failure for %s %.2f: %v", contract.Symbol, contract.Strike, err)
			}
			skips = append(skips, skip(contract, err.Error()))
			continue
		}

		absDelta := math.Abs(delta)
		if absDelta < cfg.DeltaBand[0] || absDelta > cfg.DeltaBand[1] {
			continue
		}

		premiumPct := premium / contract.Strike
		out = append(out, Candidate{
			Contract:         contract,
			Delta:            delta,
			DaysToExpiration: dte,
			Premium:          premium,
			PremiumPct:       premiumPct,
			AnnualizedReturn: premiumPct * 365.0 / float64(dte),
			Collateral:       contract.Strike * 100.0,
			Breakeven:        contract.Strike - premium,
		})
	}

	sort.Slice(out, func(i, j int) bool { return less(out[i], out[j]) })

	logger.Debugf("screened %d contracts: %d candidates, %d skipped",
		len(chain), len(out), len(skips))
	return out, skips
}

// less is the candidate total order: annualized return descending, DTE
// ascending, strike ascending.
func less(a, b Candidate) bool {
	if a.AnnualizedReturn != b.AnnualizedReturn {
		return a.AnnualizedReturn > b.AnnualizedReturn
	}
	if a.DaysToExpiration != b.DaysToExpiration {
		return a.DaysToExpiration < b.DaysToExpiration
	}
	return a.Contract.Strike < b.Contract.Strike
}

// usablePremium picks the premium for a contract: the bid/ask mid when
// both sides are live, one live side alone, else the last trade.
func usablePremium(contract marketdata.OptionContract) (float64, bool) {
	switch {
	case contract.Bid > 0 && contract.Ask > 0:
		return (contract.Bid + contract.Ask) / 2, true
	case contract.Bid > 0:
		return contract.Bid, true
	case contract.Ask > 0:
		return contract.Ask, true
	case contract.Last > 0:
		return contract.Last, true
	default:
		return 0, false
	}
}

func skip(contract marketdata.OptionContract, reason string) Skip {
	return Skip{
		Symbol:     contract.Symbol,
		Strike:     contract.Strike,
		Expiration: contract.Expiration,
		Reason:     reason,
	}
}

// daysBetween counts whole calendar days from valuation to expiry,
// ignoring time-of-day on both sides.
func daysBetween(valuation, expiry time.Time) int {
	v := time.Date(valuation.Year(), valuation.Month(), valuation.Day(), 0, 0, 0, 0, time.UTC)
	e := time.Date(expiry.Year(), expiry.Month(), expiry.Day(), 0, 0, 0, 0, time.UTC)
	return int(e.Sub(v).Hours() / 24)
}

func (s Skip) String() string {
	return fmt.Sprintf("%s %.2f %s: %s", s.Symbol, s.Strike, s.Expiration.Format("2006-01-02"), s.Reason)
}
