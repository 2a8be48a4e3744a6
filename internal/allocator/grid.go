package allocator

import "math"

// fractionGrid lazily enumerates allocation-fraction tuples drawn from
// {min, min+step, ..., max}, one fraction per instrument, yielding only
// tuples that sum to one within sumEpsilon. The walk is an odometer over
// level indices, so no combination is ever materialized up front and the
// sequence is restartable via Reset.
type fractionGrid struct {
	levels []float64
	idx    []int
	done   bool
}

func newFractionGrid(bounds [2]float64, step float64, instruments int) *fractionGrid {
	n := int(math.Floor((bounds[1]-bounds[0])/step+sumEpsilon)) + 1

	levels := make([]float64, n)
	for i := range levels {
		levels[i] = bounds[0] + float64(i)*step
	}

	return &fractionGrid{
		levels: levels,
		idx:    make([]int, instruments),
		done:   instruments == 0 || n == 0,
	}
}

// Next returns the next sum-to-one tuple, or ok=false once the grid is
// exhausted. The returned slice is owned by the caller.
func (g *fractionGrid) Next() ([]float64, bool) {
	for !g.done {
		sum := 0.0
		for _, i := range g.idx {
			sum += g.levels[i]
		}
		hit := math.Abs(sum-1.0) <= sumEpsilon

		var tuple []float64
		if hit {
			tuple = make([]float64, len(g.idx))
			for pos, i := range g.idx {
				tuple[pos] = g.levels[i]
			}
		}

		g.advance()

		if hit {
			return tuple, true
		}
	}
	return nil, false
}

// Reset rewinds the grid to its first tuple.
func (g *fractionGrid) Reset() {
	for i := range g.idx {
		g.idx[i] = 0
	}
	g.done = false
}

// advance increments the index odometer, rightmost position fastest.
func (g *fractionGrid) advance() {
	for pos := len(g.idx) - 1; pos >= 0; pos-- {
		g.idx[pos]++
		if g.idx[pos] < len(g.levels) {
			return
		}
		g.idx[pos] = 0
	}
	g.done = true
}
