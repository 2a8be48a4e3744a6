package marketdata

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gocarina/gocsv"

	"github.com/contactkeval/csp-optimizer/internal/logger"
)

// fileProvider reads previously captured chains from <dir>/<SYMBOL>.csv.
type fileProvider struct {
	dir       string
	secondary Provider
}

// contractRow is the CSV row shape for captured chains.
type contractRow struct {
	Strike          float64 `csv:"strike"`
	Expiration      string  `csv:"expiration"`
	UnderlyingPrice float64 `csv:"underlying_price"`
	ImpliedVol      float64 `csv:"implied_vol"`
	Bid             float64 `csv:"bid"`
	Ask             float64 `csv:"ask"`
	Last            float64 `csv:"last"`
}

// NewFileProvider returns a Provider backed by a directory of chain CSV
// files, optionally falling back to secondary for symbols with no file.
func NewFileProvider(dir string, secondary Provider) Provider {
	return &fileProvider{dir: dir, secondary: secondary}
}

func (fileProv *fileProvider) Secondary() Provider {
	return fileProv.secondary
}

func (fileProv *fileProvider) GetOptionChain(symbol string, valuation time.Time) ([]OptionContract, error) {
	path := filepath.Join(fileProv.dir, strings.ToUpper(symbol)+".csv")

	f, err := os.Open(path)
	if err != nil {
		if fileProv.secondary != nil {
			logger.Debugf("no chain file for %s, delegating to secondary: %v", symbol, err)
			return fileProv.secondary.GetOptionChain(symbol, valuation)
		}
		return nil, fmt.Errorf("open chain file for %s: %w", symbol, err)
	}
	defer f.Close()

	var rows []*contractRow
	if err := gocsv.UnmarshalFile(f, &rows); err != nil {
		return nil, fmt.Errorf("parse chain file %s: %w", path, err)
	}

	out := make([]OptionContract, 0, len(rows))
	for i, row := range rows {
		expiry, err := time.Parse("2006-01-02", row.Expiration)
		if err != nil {
			return nil, fmt.Errorf("chain file %s row %d: bad expiration %q: %w", path, i+1, row.Expiration, err)
		}
		out = append(out, OptionContract{
			Symbol:          strings.ToUpper(symbol),
			Strike:          row.Strike,
			Expiration:      expiry,
			UnderlyingPrice: row.UnderlyingPrice,
			ImpliedVol:      row.ImpliedVol,
			Bid:             row.Bid,
			Ask:             row.Ask,
			Last:            row.Last,
			Type:            PutType,
		})
	}

	logger.Debugf("loaded %d contracts for %s from %s", len(out), symbol, path)
	return out, nil
}
