package allocator

import (
	"fmt"
	"strings"

	"github.com/Knetic/govaluate"
)

// Recognized objective names. Anything carrying the ObjectiveExprPrefix is
// compiled as an expression over the plan aggregates annualized_return,
// capital_efficiency, total_premium, and capital_deployed.
const (
	ObjectiveAnnualizedReturn  = "annualized_return"
	ObjectiveCapitalEfficiency = "capital_efficiency"
	ObjectiveExprPrefix        = "expr:"
)

// objectiveFunc maps a built plan to its comparable score.
type objectiveFunc func(*Plan) (float64, error)

func newObjective(name string) (objectiveFunc, error) {
	switch name {
	case ObjectiveAnnualizedReturn:
		return func(p *Plan) (float64, error) { return p.WeightedAnnualizedReturn, nil }, nil
	case ObjectiveCapitalEfficiency:
		return func(p *Plan) (float64, error) { return p.CapitalEfficiency, nil }, nil
	}

	if strings.HasPrefix(name, ObjectiveExprPrefix) {
		return newExprObjective(strings.TrimPrefix(name, ObjectiveExprPrefix))
	}

	return nil, fmt.Errorf("unknown objective %q", name)
}

// newExprObjective compiles a custom scoring expression once; evaluation
// happens per plan with the plan's aggregates as parameters.
func newExprObjective(expr string) (objectiveFunc, error) {
	compiled, err := govaluate.NewEvaluableExpression(expr)
	if err != nil {
		return nil, fmt.Errorf("invalid objective expression %q: %w", expr, err)
	}

	return func(p *Plan) (float64, error) {
		result, err := compiled.Evaluate(map[string]interface{}{
			"annualized_return":  p.WeightedAnnualizedReturn,
			"capital_efficiency": p.CapitalEfficiency,
			"total_premium":      p.TotalPremium,
			"capital_deployed":   p.CapitalDeployed,
		})
		if err != nil {
			return 0, fmt.Errorf("evaluate objective expression: %w", err)
		}
		score, ok := result.(float64)
		if !ok {
			return 0, fmt.Errorf("objective expression %q did not produce a number", expr)
		}
		return score, nil
	}, nil
}
