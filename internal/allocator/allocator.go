// Package allocator distributes a fixed capital budget across instruments
// sharing one expiration date, maximizing a yield objective.
//
// Responsibilities:
//   - Intersect expiration dates across all instruments
//   - Enumerate discretized allocation-fraction tuples under bounds
//   - Round allocations to whole lots and re-validate bounds
//   - Score plans by the configured objective and rank them
//
// Design notes:
//   - The search is exhaustive over a finite grid: given identical inputs
//     the result is exactly reproducible
//   - Failures are typed so callers can render precise messages
package allocator

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/contactkeval/csp-optimizer/internal/logger"
	"github.com/contactkeval/csp-optimizer/internal/screener"
)

// sumEpsilon is the tolerance used both when accepting fraction tuples
// that must sum to one and when re-validating bounds after lot rounding.
const sumEpsilon = 1e-9

//
// ==========================
// Error taxonomy
// ==========================
//

// Typed errors allow callers and tests to detect failure categories
// without string matching.
var (
	ErrInvalidConfig        = errors.New("invalid optimizer configuration")
	ErrEmptyCandidateSet    = errors.New("instrument has no qualifying candidates")
	ErrNoCommonExpiration   = errors.New("no expiration date shared by all instruments")
	ErrNoFeasibleAllocation = errors.New("no fraction tuple satisfies bounds and lot affordability")
)

// EmptyCandidateSetError names the instrument that produced zero
// candidates. It wraps ErrEmptyCandidateSet.
type EmptyCandidateSetError struct {
	Symbol string
}

func (e *EmptyCandidateSetError) Error() string {
	return fmt.Sprintf("instrument %s has no qualifying candidates", e.Symbol)
}

func (e *EmptyCandidateSetError) Unwrap() error { return ErrEmptyCandidateSet }

//
// ==========================
// Domain types
// ==========================
//

// Config holds the optimizer parameters. WithDefaults fills unset fields.
type Config struct {
	Budget       float64    `json:"budget,omitempty"`
	Bounds       [2]float64 `json:"allocation_bounds,omitempty"`
	StepFraction float64    `json:"step_fraction,omitempty"`
	Objective    string     `json:"objective,omitempty"`
	Alternatives int        `json:"alternatives_count,omitempty"`
}

// WithDefaults returns a copy with unset fields replaced by defaults:
// budget $100,000, bounds [0.15, 0.60], step 0.05, objective
// annualized_return, 5 alternatives.
func (cfg Config) WithDefaults() Config {
	if cfg.Budget == 0 {
		cfg.Budget = 100_000
	}
	if cfg.Bounds[0] == 0 && cfg.Bounds[1] == 0 {
		cfg.Bounds = [2]float64{0.15, 0.60}
	}
	if cfg.StepFraction == 0 {
		cfg.StepFraction = 0.05
	}
	if cfg.Objective == "" {
		cfg.Objective = ObjectiveAnnualizedReturn
	}
	if cfg.Alternatives == 0 {
		cfg.Alternatives = 5
	}
	return cfg
}

// validate rejects configurations the grid walk cannot handle. Defaults
// only replace zero values, so a config file can still carry negative or
// inverted settings.
func (cfg Config) validate() error {
	switch {
	case cfg.Budget <= 0:
		return fmt.Errorf("%w: budget %.2f must be positive", ErrInvalidConfig, cfg.Budget)
	case cfg.StepFraction <= 0:
		return fmt.Errorf("%w: step fraction %g must be positive", ErrInvalidConfig, cfg.StepFraction)
	case cfg.Bounds[0] > cfg.Bounds[1]:
		return fmt.Errorf("%w: allocation bounds [%g, %g] out of order", ErrInvalidConfig, cfg.Bounds[0], cfg.Bounds[1])
	}
	return nil
}

// Slice is one instrument's commitment within a plan. Capital and
// Fraction are the realized values after lot rounding.
type Slice struct {
	Symbol    string             `json:"symbol"`
	Candidate screener.Candidate `json:"candidate"`
	Contracts int                `json:"contracts"`
	Capital   float64            `json:"capital"`
	Fraction  float64            `json:"fraction"`
}

// Plan is a complete allocation across all instruments at one expiration.
// Plans are immutable once built.
type Plan struct {
	Expiration               time.Time `json:"expiration"`
	Slices                   []Slice   `json:"slices"`
	CapitalDeployed          float64   `json:"capital_deployed"`
	TotalPremium             float64   `json:"total_premium"`
	WeightedAnnualizedReturn float64   `json:"weighted_annualized_return"`
	CapitalEfficiency        float64   `json:"capital_efficiency"`
	UnusedCapital            float64   `json:"unused_capital"`
	Score                    float64   `json:"score"`
}

// Outcome is the optimizer result: the best plan plus up to
// Config.Alternatives ranked runners-up.
type Outcome struct {
	Best         Plan   `json:"best"`
	Alternatives []Plan `json:"alternatives"`
}

//
// ==========================
// Optimization
// ==========================
//

// Optimize searches every common expiration date for the fraction tuple
// that maximizes the configured objective.
//
// Candidates must already be screened and ordered (screener.Screen order);
// the optimizer commits to each instrument's top candidate per expiration.
//
// Returns, in failure order: ErrInvalidConfig when the settings cannot
// describe a grid, an *EmptyCandidateSetError when an instrument
// contributed zero candidates, ErrNoCommonExpiration when the instruments'
// expiration sets do not intersect, and ErrNoFeasibleAllocation when no
// grid tuple survives lot rounding and bounds.
func Optimize(perInstrument map[string][]screener.Candidate, cfg Config) (*Outcome, error) {
	cfg = cfg.WithDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	objective, err := newObjective(cfg.Objective)
	if err != nil {
		return nil, err
	}

	symbols := make([]string, 0, len(perInstrument))
	for symbol := range perInstrument {
		symbols = append(symbols, symbol)
	}
	sort.Strings(symbols)

	// Best candidate per instrument per expiration. Screen order means the
	// first candidate seen for an expiration is that expiration's best.
	best := make(map[string]map[time.Time]screener.Candidate, len(symbols))
	for _, symbol := range symbols {
		candidates := perInstrument[symbol]
		if len(candidates) == 0 {
			return nil, &EmptyCandidateSetError{Symbol: symbol}
		}
		perExpiry := make(map[time.Time]screener.Candidate)
		for _, cand := range candidates {
			if _, ok := perExpiry[cand.Contract.Expiration]; !ok {
				perExpiry[cand.Contract.Expiration] = cand
			}
		}
		best[symbol] = perExpiry
	}

	common := commonExpirations(symbols, best)
	if len(common) == 0 {
		return nil, ErrNoCommonExpiration
	}
	logger.Debugf("optimizing %d instruments over %d common expirations", len(symbols), len(common))

	var plans []Plan
	for _, expiry := range common {
		grid := newFractionGrid(cfg.Bounds, cfg.StepFraction, len(symbols))
		for {
			fractions, ok := grid.Next()
			if !ok {
				break
			}
			plan, feasible := buildPlan(symbols, best, expiry, fractions, cfg)
			if !feasible {
				continue
			}
			score, err := objective(plan)
			if err != nil {
				return nil, fmt.Errorf("score plan for %s: %w", expiry.Format("2006-01-02"), err)
			}
			plan.Score = score
			plans = append(plans, *plan)
		}
	}

	if len(plans) == 0 {
		return nil, ErrNoFeasibleAllocation
	}

	rankPlans(plans)

	outcome := &Outcome{Best: plans[0]}
	for _, plan := range plans[1:] {
		if len(outcome.Alternatives) == cfg.Alternatives {
			break
		}
		outcome.Alternatives = append(outcome.Alternatives, plan)
	}

	logger.Infof("optimizer: %d valid plans, best scores %.4f at %s",
		len(plans), outcome.Best.Score, outcome.Best.Expiration.Format("2006-01-02"))
	return outcome, nil
}

// buildPlan realizes one fraction tuple into a plan, or reports it
// infeasible when any instrument cannot afford a single lot or drifts
// outside the bounds after lot rounding.
func buildPlan(symbols []string, best map[string]map[time.Time]screener.Candidate,
	expiry time.Time, fractions []float64, cfg Config) (*Plan, bool) {

	plan := &Plan{Expiration: expiry, Slices: make([]Slice, 0, len(symbols))}

	var weighted float64
	for i, symbol := range symbols {
		cand := best[symbol][expiry]

		nominal := fractions[i] * cfg.Budget
		contracts := int(math.Floor(nominal / cand.Collateral))
		if contracts < 1 {
			return nil, false
		}

		capital := float64(contracts) * cand.Collateral
		fraction := capital / cfg.Budget
		if fraction < cfg.Bounds[0]-sumEpsilon || fraction > cfg.Bounds[1]+sumEpsilon {
			return nil, false
		}

		plan.Slices = append(plan.Slices, Slice{
			Symbol:    symbol,
			Candidate: cand,
			Contracts: contracts,
			Capital:   capital,
			Fraction:  fraction,
		})
		plan.CapitalDeployed += capital
		plan.TotalPremium += float64(contracts) * cand.Premium * 100.0
		weighted += capital * cand.AnnualizedReturn
	}

	plan.WeightedAnnualizedReturn = weighted / plan.CapitalDeployed
	plan.CapitalEfficiency = plan.TotalPremium / plan.CapitalDeployed
	plan.UnusedCapital = cfg.Budget - plan.CapitalDeployed

	return plan, true
}

// commonExpirations returns the expiration dates present for every
// instrument, ascending.
func commonExpirations(symbols []string, best map[string]map[time.Time]screener.Candidate) []time.Time {
	counts := make(map[time.Time]int)
	for _, symbol := range symbols {
		for expiry := range best[symbol] {
			counts[expiry]++
		}
	}

	var out []time.Time
	for expiry, n := range counts {
		if n == len(symbols) {
			out = append(out, expiry)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })

	return out
}

// rankPlans orders plans deterministically: score descending, then
// expiration ascending, then capital deployed descending.
func rankPlans(plans []Plan) {
	sort.SliceStable(plans, func(i, j int) bool {
		if plans[i].Score != plans[j].Score {
			return plans[i].Score > plans[j].Score
		}
		if !plans[i].Expiration.Equal(plans[j].Expiration) {
			return plans[i].Expiration.Before(plans[j].Expiration)
		}
		return plans[i].CapitalDeployed > plans[j].CapitalDeployed
	})
}
