package engine

import (
	"fmt"
	"time"

	"github.com/contactkeval/csp-optimizer/internal/allocator"
	"github.com/contactkeval/csp-optimizer/internal/logger"
	"github.com/contactkeval/csp-optimizer/internal/marketdata"
	"github.com/contactkeval/csp-optimizer/internal/report"
	"github.com/contactkeval/csp-optimizer/internal/screener"
)

// Config is the full run configuration loaded from JSON.
type Config struct {
	Symbols   []string         `json:"symbols"`
	Screen    screener.Config  `json:"screen,omitempty"`
	Allocate  allocator.Config `json:"allocate,omitempty"`
	ReportDir string           `json:"report_dir,omitempty"`
	Seed      int64            `json:"seed,omitempty"`
	Verbosity int              `json:"verbosity,omitempty"`
	DataDir   string           `json:"data_dir,omitempty"`
}

// Engine ties a chain provider to the screen/optimize pipeline.
type Engine struct {
	cfg  *Config
	prov marketdata.Provider
}

func NewEngine(cfg *Config, prov marketdata.Provider) *Engine {
	return &Engine{cfg: cfg, prov: prov}
}

// Run fetches chains for every configured symbol, screens them, optimizes
// the allocation, and builds the report. Chains are fetched concurrently
// but Run does not start optimizing until every symbol has resolved; a
// failed fetch is terminal because the optimizer needs all instruments to
// consider common expirations.
func (e *Engine) Run(valuation time.Time) (*report.Result, error) {
	cfg := e.cfg
	if len(cfg.Symbols) == 0 {
		return nil, fmt.Errorf("no symbols configured")
	}

	chains := marketdata.FetchChains(e.prov, cfg.Symbols, valuation)

	candidates := make(map[string][]screener.Candidate, len(cfg.Symbols))
	var skips []screener.Skip
	for _, symbol := range cfg.Symbols {
		res := chains[symbol]
		if res.Err != nil {
			return nil, fmt.Errorf("fetch chain for %s: %w", symbol, res.Err)
		}

		cands, symbolSkips := screener.Screen(res.Contracts, cfg.Screen, valuation)
		if len(cands) == 0 {
			logger.Infof("no candidates for %s after screening %d contracts", symbol, len(res.Contracts))
		}
		candidates[symbol] = cands
		skips = append(skips, symbolSkips...)
	}

	for _, s := range skips {
		logger.Debugf("skipped contract: %s", s)
	}

	outcome, err := allocator.Optimize(candidates, cfg.Allocate)
	if err != nil {
		return nil, err
	}

	return report.Build(outcome, skips, valuation), nil
}
