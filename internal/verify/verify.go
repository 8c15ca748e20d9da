// Package verify re-labels a written transaction file and checks it
// against the labelling rules and the output invariants.
package verify

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/shopspring/decimal"

	"github.com/opensource-finance/fincrime-signals/internal/domain"
	"github.com/opensource-finance/fincrime-signals/internal/rules"
)

// MaxViolations caps the violations kept in a Report. Counting continues
// past the cap.
const MaxViolations = 50

var (
	minAmount = decimal.RequireFromString("0.01")
	maxAmount = decimal.NewFromInt(250000)
)

// Violation is one row that broke an invariant.
type Violation struct {
	Row           int
	TransactionID string
	Reason        string
}

// Agreement compares the label in the file with the recomputed one.
type Agreement struct {
	File       domain.AlertType
	Recomputed domain.AlertType
}

// Report is the outcome of a verification pass.
type Report struct {
	Rows          int
	Skipped       int
	Mismatches    int
	Violations    []Violation
	ViolationsAll int

	// Confusion counts rows per (file label, recomputed label) pair.
	Confusion map[Agreement]int
}

// OK reports whether the file matched the rules and broke no invariant.
func (r *Report) OK() bool {
	return r.Mismatches == 0 && r.ViolationsAll == 0
}

// Check re-evaluates txs with engine and compares labels. txs is not
// modified. pep may be nil when no population is available, in which case
// PEP-Offshore cannot be recomputed.
func Check(txs []domain.Transaction, engine *rules.Engine, pep rules.PEPLookup) *Report {
	rep := &Report{
		Rows:      len(txs),
		Confusion: make(map[Agreement]int),
	}

	relabelled := make([]domain.Transaction, len(txs))
	copy(relabelled, txs)
	res := engine.Evaluate(relabelled, pep)
	rep.Skipped = res.Skipped

	seen := make(map[string]int, len(txs))
	for i := range txs {
		tx := &txs[i]
		got := relabelled[i].AlertType

		rep.Confusion[Agreement{File: tx.AlertType, Recomputed: got}]++
		if got != tx.AlertType {
			rep.Mismatches++
		}

		for _, reason := range invariants(tx) {
			rep.violate(i, tx.ID, reason)
		}
		if prev, dup := seen[tx.ID]; dup {
			rep.violate(i, tx.ID, fmt.Sprintf("duplicate transaction id, first at row %d", prev+1))
		} else {
			seen[tx.ID] = i
		}
		if i > 0 && !tx.Timestamp.IsZero() && tx.Timestamp.Before(txs[i-1].Timestamp) {
			rep.violate(i, tx.ID, "rows not in timestamp order")
		}
	}

	return rep
}

func (r *Report) violate(row int, id, reason string) {
	r.ViolationsAll++
	if len(r.Violations) < MaxViolations {
		r.Violations = append(r.Violations, Violation{Row: row + 1, TransactionID: id, Reason: reason})
	}
}

func invariants(tx *domain.Transaction) []string {
	var out []string

	if !tx.AlertType.Valid() {
		out = append(out, fmt.Sprintf("unknown alert type %q", tx.AlertType))
	}
	if tx.Amount.LessThan(minAmount) || tx.Amount.GreaterThan(maxAmount) {
		out = append(out, fmt.Sprintf("amount %s outside [%s, %s]", tx.Amount, minAmount, maxAmount))
	}
	if tx.CrossBorder != (tx.OriginCountry != tx.DestinationCountry) {
		out = append(out, "is_cross_border disagrees with origin and destination")
	}
	if tx.AlertType == domain.AlertCorridor && (!tx.CrossBorder || !domain.HighRiskCountries[tx.DestinationCountry]) {
		out = append(out, "corridor label without a cross-border high-risk destination")
	}
	switch tx.Currency {
	case domain.CurrencyEUR, domain.CurrencyUSD, domain.CurrencyGBP:
	default:
		out = append(out, fmt.Sprintf("unexpected currency %q", tx.Currency))
	}
	return out
}

// WriteText prints the report.
func WriteText(w io.Writer, r *Report) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)

	fmt.Fprintf(tw, "Rows\t%d\n", r.Rows)
	fmt.Fprintf(tw, "Unparsable timestamps\t%d\n", r.Skipped)
	fmt.Fprintf(tw, "Label mismatches\t%d\n", r.Mismatches)
	fmt.Fprintf(tw, "Invariant violations\t%d\n", r.ViolationsAll)

	if r.Mismatches > 0 {
		fmt.Fprintln(tw)
		fmt.Fprintln(tw, "File label\tRecomputed\tRows")
		for _, file := range labels() {
			for _, got := range labels() {
				n := r.Confusion[Agreement{File: file, Recomputed: got}]
				if n == 0 || file == got {
					continue
				}
				fmt.Fprintf(tw, "%s\t%s\t%d\n", display(file), display(got), n)
			}
		}
	}

	if len(r.Violations) > 0 {
		fmt.Fprintln(tw)
		fmt.Fprintln(tw, "Row\tTransaction\tViolation")
		for _, v := range r.Violations {
			fmt.Fprintf(tw, "%d\t%s\t%s\n", v.Row, v.TransactionID, v.Reason)
		}
		if r.ViolationsAll > len(r.Violations) {
			fmt.Fprintf(tw, "...\t\t%d more\n", r.ViolationsAll-len(r.Violations))
		}
	}

	return tw.Flush()
}

func labels() []domain.AlertType {
	return append([]domain.AlertType{domain.AlertNone}, domain.AlertPriority...)
}

func display(a domain.AlertType) string {
	if a == domain.AlertNone {
		return "(none)"
	}
	return string(a)
}
