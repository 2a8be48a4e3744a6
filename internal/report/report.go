// Package report turns an allocation outcome into consumer-facing
// structures: a per-slice breakdown with aggregate metrics, a rendered
// text summary, and a flat tabular export. It performs no computation
// beyond unit conversion and rounding; ordering is established upstream.
package report

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gocarina/gocsv"
	"github.com/olekukonko/tablewriter"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/contactkeval/csp-optimizer/internal/allocator"
	"github.com/contactkeval/csp-optimizer/internal/screener"
)

// Row is one line of the flat tabular export for the chosen plan.
type Row struct {
	Instrument       string  `csv:"instrument" json:"instrument"`
	Strike           float64 `csv:"strike" json:"strike"`
	Expiration       string  `csv:"expiration" json:"expiration"`
	Contracts        int     `csv:"contracts" json:"contracts"`
	CapitalDeployed  float64 `csv:"capital_deployed" json:"capital_deployed"`
	Premium          float64 `csv:"premium" json:"premium"`
	AnnualizedReturn float64 `csv:"annualized_return" json:"annualized_return"`
}

// Result is the full report payload handed to the display layer and,
// optionally, persisted by the caller.
type Result struct {
	GeneratedAt  time.Time        `json:"generated_at"`
	Best         allocator.Plan   `json:"best"`
	Alternatives []allocator.Plan `json:"alternatives"`
	Skips        []screener.Skip  `json:"skips,omitempty"`
	Rows         []Row            `json:"rows"`
	Summary      string           `json:"summary"`
}

// Build assembles the report for an optimizer outcome. Skips may be nil.
func Build(outcome *allocator.Outcome, skips []screener.Skip, generatedAt time.Time) *Result {
	res := &Result{
		GeneratedAt:  generatedAt,
		Best:         outcome.Best,
		Alternatives: outcome.Alternatives,
		Skips:        skips,
	}

	for _, slice := range outcome.Best.Slices {
		res.Rows = append(res.Rows, Row{
			Instrument:       slice.Symbol,
			Strike:           slice.Candidate.Contract.Strike,
			Expiration:       slice.Candidate.Contract.Expiration.Format("2006-01-02"),
			Contracts:        slice.Contracts,
			CapitalDeployed:  cents(slice.Capital),
			Premium:          cents(float64(slice.Contracts) * slice.Candidate.Premium * 100.0),
			AnnualizedReturn: slice.Candidate.AnnualizedReturn,
		})
	}

	res.Summary = summarize(outcome)
	return res
}

// summarize renders the best plan as a table plus aggregate lines, and
// one line per alternative.
func summarize(outcome *allocator.Outcome) string {
	display := &strings.Builder{}
	p := message.NewPrinter(language.English)

	best := outcome.Best
	display.WriteString(fmt.Sprintf("Best allocation for %s:\n", best.Expiration.Format("2006-01-02")))

	table := tablewriter.NewWriter(display)
	table.SetHeader([]string{"Instrument", "Strike", "Contracts", "Capital", "Premium", "Annual Return"})
	table.SetAlignment(tablewriter.ALIGN_RIGHT)

	for _, slice := range best.Slices {
		table.Append([]string{
			slice.Symbol,
			fmt.Sprintf("$%.2f", slice.Candidate.Contract.Strike),
			fmt.Sprintf("%d", slice.Contracts),
			p.Sprintf("$%.2f", slice.Capital),
			p.Sprintf("$%.2f", float64(slice.Contracts)*slice.Candidate.Premium*100.0),
			fmt.Sprintf("%.2f%%", slice.Candidate.AnnualizedReturn*100),
		})
	}
	table.Render()

	display.WriteString(p.Sprintf("Capital deployed: $%.2f (unused $%.2f)\n", best.CapitalDeployed, best.UnusedCapital))
	display.WriteString(p.Sprintf("Premium collected: $%.2f\n", best.TotalPremium))
	display.WriteString(fmt.Sprintf("Weighted annualized return: %.2f%%\n", best.WeightedAnnualizedReturn*100))
	display.WriteString(fmt.Sprintf("Capital efficiency: %.2f%%\n", best.CapitalEfficiency*100))

	if len(outcome.Alternatives) > 0 {
		display.WriteString("Alternatives:\n")
		for i, alt := range outcome.Alternatives {
			display.WriteString(fmt.Sprintf("  %d. %s score=%.4f deployed=%s\n",
				i+1, alt.Expiration.Format("2006-01-02"), alt.Score, p.Sprintf("$%.2f", alt.CapitalDeployed)))
		}
	}

	return display.String()
}

// ExportCSV writes the flat tabular export to a caller-provided sink.
func ExportCSV(res *Result, w io.Writer) error {
	return gocsv.Marshal(&res.Rows, w)
}

// WriteCSV writes the tabular export to <outdir>/allocation.csv.
func WriteCSV(res *Result, outdir string) error {
	f, err := os.Create(filepath.Join(outdir, "allocation.csv"))
	if err != nil {
		return err
	}
	defer f.Close()
	return ExportCSV(res, f)
}

// WriteJSON writes the full report to <outdir>/allocation.json.
func WriteJSON(res *Result, outdir string) error {
	b, err := json.MarshalIndent(res, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(outdir, "allocation.json"), b, 0644)
}

func cents(v float64) float64 {
	return float64(int64(v*100+0.5)) / 100
}
