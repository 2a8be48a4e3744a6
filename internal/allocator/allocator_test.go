package allocator

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/contactkeval/csp-optimizer/internal/marketdata"
	"github.com/contactkeval/csp-optimizer/internal/screener"
)

var friday = time.Date(2026, time.March, 6, 0, 0, 0, 0, time.UTC)

func cand(symbol string, strike, annualized, premium float64, expiry time.Time) screener.Candidate {
	return screener.Candidate{
		Contract: marketdata.OptionContract{
			Symbol:     symbol,
			Strike:     strike,
			Expiration: expiry,
			Type:       marketdata.PutType,
		},
		Premium:          premium,
		PremiumPct:       premium / strike,
		AnnualizedReturn: annualized,
		Collateral:       strike * 100,
		Breakeven:        strike - premium,
	}
}

func TestOptimizeThreeInstrumentBudget(t *testing.T) {
	perInstrument := map[string][]screener.Candidate{
		"AAA": {cand("AAA", 95, 0.28, 0.51, friday)},
		"BBB": {cand("BBB", 190, 0.19, 0.69, friday)},
		"CCC": {cand("CCC", 145, 0.24, 0.55, friday)},
	}
	cfg := Config{Budget: 100_000, Bounds: [2]float64{0.15, 0.60}, StepFraction: 0.05}

	outcome, err := Optimize(perInstrument, cfg)
	require.NoError(t, err)

	best := outcome.Best
	assert.True(t, best.Expiration.Equal(friday))
	require.Len(t, best.Slices, 3)

	// slices come back in symbol order
	assert.Equal(t, "AAA", best.Slices[0].Symbol)
	assert.Equal(t, "BBB", best.Slices[1].Symbol)
	assert.Equal(t, "CCC", best.Slices[2].Symbol)

	assert.Equal(t, 5, best.Slices[0].Contracts)
	assert.Equal(t, 1, best.Slices[1].Contracts)
	assert.Equal(t, 2, best.Slices[2].Contracts)

	assert.Equal(t, 47500.0, best.Slices[0].Capital)
	assert.Equal(t, 19000.0, best.Slices[1].Capital)
	assert.Equal(t, 29000.0, best.Slices[2].Capital)
	assert.InDelta(t, 0.475, best.Slices[0].Fraction, 1e-12)
	assert.InDelta(t, 0.19, best.Slices[1].Fraction, 1e-12)
	assert.InDelta(t, 0.29, best.Slices[2].Fraction, 1e-12)

	assert.Equal(t, 95500.0, best.CapitalDeployed)
	assert.Equal(t, 4500.0, best.UnusedCapital)
	assert.InDelta(t, 434.0, best.TotalPremium, 1e-9)
	assert.InDelta(t, 0.24994764397905758, best.WeightedAnnualizedReturn, 1e-12)
	assert.InDelta(t, 0.004544502617801047, best.CapitalEfficiency, 1e-12)
	assert.Equal(t, best.WeightedAnnualizedReturn, best.Score)
}

func TestOptimizePlanInvariants(t *testing.T) {
	perInstrument := map[string][]screener.Candidate{
		"AAA": {cand("AAA", 80, 0.22, 0.40, friday)},
		"BBB": {cand("BBB", 120, 0.31, 0.70, friday)},
		"CCC": {cand("CCC", 60, 0.18, 0.25, friday)},
	}
	cfg := Config{Budget: 100_000, Bounds: [2]float64{0.15, 0.60}, StepFraction: 0.05, Alternatives: 3}

	outcome, err := Optimize(perInstrument, cfg)
	require.NoError(t, err)
	assert.LessOrEqual(t, len(outcome.Alternatives), 3)

	plans := append([]Plan{outcome.Best}, outcome.Alternatives...)
	for _, plan := range plans {
		assert.LessOrEqual(t, plan.CapitalDeployed, cfg.Budget)
		assert.InDelta(t, cfg.Budget-plan.CapitalDeployed, plan.UnusedCapital, 1e-9)
		for _, slice := range plan.Slices {
			assert.GreaterOrEqual(t, slice.Contracts, 1)
			assert.GreaterOrEqual(t, slice.Fraction, cfg.Bounds[0]-sumEpsilon)
			assert.LessOrEqual(t, slice.Fraction, cfg.Bounds[1]+sumEpsilon)
			assert.Equal(t, float64(slice.Contracts)*slice.Candidate.Collateral, slice.Capital)
		}
	}
	for i := 1; i < len(plans); i++ {
		assert.GreaterOrEqual(t, plans[i-1].Score, plans[i].Score)
	}
}

// Independent re-derivation of the exhaustive search, kept deliberately
// naive so it cannot share bugs with the production walk.
func TestOptimizeAgreesWithBruteForce(t *testing.T) {
	symbols := []string{"AAA", "BBB", "CCC"}
	strikes := []float64{80, 120, 60}
	returns := []float64{0.22, 0.31, 0.18}

	perInstrument := make(map[string][]screener.Candidate)
	for i, symbol := range symbols {
		perInstrument[symbol] = []screener.Candidate{cand(symbol, strikes[i], returns[i], 0.50, friday)}
	}
	cfg := Config{Budget: 100_000, Bounds: [2]float64{0.15, 0.60}, StepFraction: 0.05}

	outcome, err := Optimize(perInstrument, cfg)
	require.NoError(t, err)

	bestScore := math.Inf(-1)
	for a := 0.15; a <= 0.60+sumEpsilon; a += 0.05 {
		for b := 0.15; b <= 0.60+sumEpsilon; b += 0.05 {
			for c := 0.15; c <= 0.60+sumEpsilon; c += 0.05 {
				if math.Abs(a+b+c-1.0) > sumEpsilon {
					continue
				}
				var deployed, weighted float64
				feasible := true
				for i, f := range []float64{a, b, c} {
					collateral := strikes[i] * 100
					n := math.Floor(f * cfg.Budget / collateral)
					realized := n * collateral / cfg.Budget
					if n < 1 || realized < 0.15-sumEpsilon || realized > 0.60+sumEpsilon {
						feasible = false
						break
					}
					deployed += n * collateral
					weighted += n * collateral * returns[i]
				}
				if feasible && weighted/deployed > bestScore {
					bestScore = weighted / deployed
				}
			}
		}
	}

	require.False(t, math.IsInf(bestScore, -1))
	assert.InDelta(t, bestScore, outcome.Best.Score, 1e-12)
}

func TestOptimizeCommitsToTopCandidate(t *testing.T) {
	better := cand("AAA", 95, 0.30, 0.60, friday)
	worse := cand("AAA", 90, 0.20, 0.35, friday)

	perInstrument := map[string][]screener.Candidate{
		"AAA": {better, worse},
		"BBB": {cand("BBB", 100, 0.25, 0.50, friday)},
	}

	outcome, err := Optimize(perInstrument, Config{Budget: 100_000})
	require.NoError(t, err)
	assert.Equal(t, 95.0, outcome.Best.Slices[0].Candidate.Contract.Strike)
}

func TestOptimizePicksBestExpiration(t *testing.T) {
	nextFriday := friday.AddDate(0, 0, 7)
	perInstrument := map[string][]screener.Candidate{
		"AAA": {
			cand("AAA", 95, 0.28, 0.51, friday),
			cand("AAA", 95, 0.14, 0.50, nextFriday),
		},
		"BBB": {
			cand("BBB", 100, 0.25, 0.50, friday),
			cand("BBB", 100, 0.12, 0.48, nextFriday),
		},
	}

	outcome, err := Optimize(perInstrument, Config{Budget: 100_000})
	require.NoError(t, err)
	assert.True(t, outcome.Best.Expiration.Equal(friday))
	for _, alt := range outcome.Alternatives {
		assert.LessOrEqual(t, alt.Score, outcome.Best.Score)
	}
}

func TestOptimizeErrorTaxonomy(t *testing.T) {
	t.Run("negative step fraction", func(t *testing.T) {
		perInstrument := map[string][]screener.Candidate{
			"AAA": {cand("AAA", 95, 0.28, 0.51, friday)},
		}
		_, err := Optimize(perInstrument, Config{StepFraction: -0.05})
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrInvalidConfig)
	})

	t.Run("inverted bounds", func(t *testing.T) {
		perInstrument := map[string][]screener.Candidate{
			"AAA": {cand("AAA", 95, 0.28, 0.51, friday)},
		}
		_, err := Optimize(perInstrument, Config{Bounds: [2]float64{0.60, 0.15}})
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrInvalidConfig)
	})

	t.Run("negative budget", func(t *testing.T) {
		perInstrument := map[string][]screener.Candidate{
			"AAA": {cand("AAA", 95, 0.28, 0.51, friday)},
		}
		_, err := Optimize(perInstrument, Config{Budget: -100_000})
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrInvalidConfig)
	})

	t.Run("empty candidate set names the instrument", func(t *testing.T) {
		perInstrument := map[string][]screener.Candidate{
			"AAA": {cand("AAA", 95, 0.28, 0.51, friday)},
			"BBB": {},
		}
		_, err := Optimize(perInstrument, Config{})
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrEmptyCandidateSet)

		var empty *EmptyCandidateSetError
		require.ErrorAs(t, err, &empty)
		assert.Equal(t, "BBB", empty.Symbol)
	})

	t.Run("disjoint expirations", func(t *testing.T) {
		perInstrument := map[string][]screener.Candidate{
			"AAA": {cand("AAA", 95, 0.28, 0.51, friday)},
			"BBB": {cand("BBB", 100, 0.25, 0.50, friday.AddDate(0, 0, 7))},
		}
		_, err := Optimize(perInstrument, Config{})
		assert.ErrorIs(t, err, ErrNoCommonExpiration)
	})

	t.Run("budget below any whole lot", func(t *testing.T) {
		perInstrument := map[string][]screener.Candidate{
			"AAA": {cand("AAA", 95, 0.28, 0.51, friday)},
			"BBB": {cand("BBB", 100, 0.25, 0.50, friday)},
		}
		_, err := Optimize(perInstrument, Config{Budget: 1_000})
		assert.ErrorIs(t, err, ErrNoFeasibleAllocation)
	})
}

func TestOptimizeObjectives(t *testing.T) {
	perInstrument := map[string][]screener.Candidate{
		"AAA": {cand("AAA", 95, 0.28, 0.51, friday)},
		"BBB": {cand("BBB", 100, 0.25, 0.50, friday)},
	}

	t.Run("capital efficiency", func(t *testing.T) {
		outcome, err := Optimize(perInstrument, Config{Objective: ObjectiveCapitalEfficiency})
		require.NoError(t, err)
		assert.Equal(t, outcome.Best.CapitalEfficiency, outcome.Best.Score)
	})

	t.Run("expression over plan aggregates", func(t *testing.T) {
		outcome, err := Optimize(perInstrument, Config{Objective: "expr:annualized_return * 2"})
		require.NoError(t, err)
		assert.InDelta(t, outcome.Best.WeightedAnnualizedReturn*2, outcome.Best.Score, 1e-12)
	})

	t.Run("total premium expression", func(t *testing.T) {
		outcome, err := Optimize(perInstrument, Config{Objective: "expr:total_premium"})
		require.NoError(t, err)
		assert.InDelta(t, outcome.Best.TotalPremium, outcome.Best.Score, 1e-9)
	})

	t.Run("unknown objective", func(t *testing.T) {
		_, err := Optimize(perInstrument, Config{Objective: "sharpe"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "unknown objective")
	})

	t.Run("malformed expression", func(t *testing.T) {
		_, err := Optimize(perInstrument, Config{Objective: "expr:(("})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid objective expression")
	})

	t.Run("non-numeric expression", func(t *testing.T) {
		_, err := Optimize(perInstrument, Config{Objective: "expr:annualized_return > 0"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "did not produce a number")
	})
}

func TestOptimizeDeterministic(t *testing.T) {
	perInstrument := map[string][]screener.Candidate{
		"AAA": {cand("AAA", 95, 0.28, 0.51, friday)},
		"BBB": {cand("BBB", 190, 0.19, 0.69, friday)},
		"CCC": {cand("CCC", 145, 0.24, 0.55, friday)},
	}

	first, err := Optimize(perInstrument, Config{})
	require.NoError(t, err)
	second, err := Optimize(perInstrument, Config{})
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestAllocatorConfigWithDefaults(t *testing.T) {
	cfg := Config{}.WithDefaults()
	assert.Equal(t, 100_000.0, cfg.Budget)
	assert.Equal(t, [2]float64{0.15, 0.60}, cfg.Bounds)
	assert.Equal(t, 0.05, cfg.StepFraction)
	assert.Equal(t, ObjectiveAnnualizedReturn, cfg.Objective)
	assert.Equal(t, 5, cfg.Alternatives)

	custom := Config{Budget: 50_000, Bounds: [2]float64{0.10, 0.50}, StepFraction: 0.10,
		Objective: ObjectiveCapitalEfficiency, Alternatives: 2}
	assert.Equal(t, custom, custom.WithDefaults())
}
