package marketdata

import (
	"hash/fnv"
	"math"
	"math/rand"
	"time"

	"github.com/contactkeval/csp-optimizer/internal/pricing"
)

// synthProvider generates plausible put chains without touching a venue.
// Chains are deterministic for a given (seed, symbol, valuation) so runs
// can be replayed.
type synthProvider struct {
	seed      int64
	rate      float64
	secondary Provider
}

// NewSyntheticProvider returns a Provider that fabricates put chains with
// Black-Scholes premiums. A zero seed picks one from the clock.
func NewSyntheticProvider(seed int64) Provider {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &synthProvider{seed: seed, rate: 0.05}
}

func (synthProv *synthProvider) Secondary() Provider {
	return synthProv.secondary
}

func (synthProv *synthProvider) GetOptionChain(symbol string, valuation time.Time) ([]OptionContract, error) {
	rng := rand.New(rand.NewSource(synthProv.seed ^ int64(symbolHash(symbol))))

	spot := 40.0 + rng.Float64()*360.0
	iv := 0.20 + rng.Float64()*0.35
	interval := strikeInterval(spot)

	var out []OptionContract
	for _, expiry := range weeklyExpirations(valuation, 4) {
		dte := expiry.Sub(valuation).Hours() / 24
		T := dte / 365.0

		// OTM put ladder from 70% of spot up to just above the money.
		lo := math.Floor(spot * 0.70 / interval)
		hi := math.Ceil(spot * 1.05 / interval)
		for k := lo; k <= hi; k++ {
			strike := k * interval
			theo := pricing.Price(false, spot, strike, T, synthProv.rate, iv)
			if theo < 0.01 {
				continue
			}
			spread := math.Max(0.01, theo*0.04)
			out = append(out, OptionContract{
				Symbol:          symbol,
				Strike:          strike,
				Expiration:      expiry,
				UnderlyingPrice: spot,
				ImpliedVol:      iv,
				Bid:             round2(theo - spread/2),
				Ask:             round2(theo + spread/2),
				Last:            round2(theo),
				Type:            PutType,
			})
		}
	}

	return out, nil
}

// weeklyExpirations returns the next n Friday expiration dates strictly
// after the valuation date.
func weeklyExpirations(valuation time.Time, n int) []time.Time {
	day := time.Date(valuation.Year(), valuation.Month(), valuation.Day(), 0, 0, 0, 0, time.UTC)
	out := make([]time.Time, 0, n)
	for len(out) < n {
		day = day.AddDate(0, 0, 1)
		if day.Weekday() == time.Friday {
			out = append(out, day)
		}
	}
	return out
}

func strikeInterval(spot float64) float64 {
	switch {
	case spot < 25:
		return 0.5
	case spot < 100:
		return 1.0
	case spot < 250:
		return 2.5
	default:
		return 5.0
	}
}

func symbolHash(symbol string) uint32 {
	h := fnv.New32a()
	h.Write([]byte(symbol))
	return h.Sum32()
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
