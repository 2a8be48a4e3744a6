package marketdata

import (
	"sort"
	"sync"
	"time"
)

// PutType is the only contract type this system screens.
const PutType = "put"

// OptionContract is an immutable snapshot of one listed put at fetch time.
// ImpliedVol is zero when the venue did not supply one; providers may fill
// it from a historical estimate before handing the chain over.
type OptionContract struct {
	Symbol          string
	Strike          float64
	Expiration      time.Time
	UnderlyingPrice float64
	ImpliedVol      float64
	Bid             float64
	Ask             float64
	Last            float64
	Type            string
}

// Provider supplies option chains. Implementations may delegate to a
// Secondary provider when they cannot serve a request themselves.
type Provider interface {
	Secondary() Provider
	GetOptionChain(symbol string, valuation time.Time) ([]OptionContract, error)
}

// ChainResult is one symbol's fetch outcome: either a chain or the error
// that prevented it. The screening core never sees partial chains.
type ChainResult struct {
	Contracts []OptionContract
	Err       error
}

// FetchChains retrieves chains for every symbol concurrently and returns a
// complete map, one entry per requested symbol. Concurrency stays inside
// this function; the caller receives finished results only.
func FetchChains(prov Provider, symbols []string, valuation time.Time) map[string]ChainResult {
	out := make(map[string]ChainResult, len(symbols))

	var mu sync.Mutex
	var wg sync.WaitGroup
	for _, symbol := range symbols {
		wg.Add(1)
		go func(symbol string) {
			defer wg.Done()
			contracts, err := prov.GetOptionChain(symbol, valuation)
			mu.Lock()
			out[symbol] = ChainResult{Contracts: contracts, Err: err}
			mu.Unlock()
		}(symbol)
	}
	wg.Wait()

	return out
}

// Expirations lists the distinct expiration dates present in a chain,
// ascending.
func Expirations(contracts []OptionContract) []time.Time {
	seen := make(map[time.Time]struct{})
	for _, c := range contracts {
		seen[c.Expiration] = struct{}{}
	}

	out := make([]time.Time, 0, len(seen))
	for exp := range seen {
		out = append(out, exp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })

	return out
}
