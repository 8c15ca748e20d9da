// Package report aggregates the outcome of a rule pass into a Summary and
// renders it for the console.
package report

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/opensource-finance/fincrime-signals/internal/domain"
)

// Summarize counts rows, labels and rule matches over txs.
func Summarize(txs []domain.Transaction) domain.Summary {
	s := domain.Summary{
		Rows:        len(txs),
		ByAlertType: make(map[domain.AlertType]int),
		RuleMatches: make(map[domain.AlertType]int),
	}

	customers := make(map[string]struct{})
	for i := range txs {
		tx := &txs[i]
		customers[tx.CustomerID] = struct{}{}

		if tx.Flagged() {
			s.Flagged++
			s.ByAlertType[tx.AlertType]++
		}
		for _, a := range tx.Matches.Types() {
			s.RuleMatches[a]++
		}
		if tx.CrossBorder {
			s.CrossBorder++
		}
		if tx.Cash {
			s.Cash++
		}

		if tx.Timestamp.IsZero() {
			continue
		}
		if s.FirstTimestamp.IsZero() || tx.Timestamp.Before(s.FirstTimestamp) {
			s.FirstTimestamp = tx.Timestamp
		}
		if tx.Timestamp.After(s.LastTimestamp) {
			s.LastTimestamp = tx.Timestamp
		}
	}
	s.DistinctCustomers = len(customers)
	return s
}

// WriteRun prints the inputs that reproduce b, then its summary. The as-of
// is always printed, including when it came from the clock.
func WriteRun(w io.Writer, b *domain.Batch, sample []domain.Transaction) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "Batch\t%s\n", b.ID)
	fmt.Fprintf(tw, "Seed\t%d\n", b.Seed)
	fmt.Fprintf(tw, "Months\t%d\n", b.Months)
	fmt.Fprintf(tw, "As of\t%s\n", b.AsOf.UTC().Format(time.RFC3339))
	fmt.Fprintln(tw)
	if err := tw.Flush(); err != nil {
		return err
	}
	return WriteText(w, b.Summary, sample)
}

// WriteText prints a summary followed by up to len(sample) example rows.
func WriteText(w io.Writer, s domain.Summary, sample []domain.Transaction) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)

	fmt.Fprintf(tw, "Rows\t%d\n", s.Rows)
	fmt.Fprintf(tw, "Customers\t%d\n", s.DistinctCustomers)
	fmt.Fprintf(tw, "Cross-border\t%d\n", s.CrossBorder)
	fmt.Fprintf(tw, "Cash\t%d\n", s.Cash)
	fmt.Fprintf(tw, "Flagged\t%d (%.2f%%)\n", s.Flagged, 100*s.FlaggedRate())
	if !s.FirstTimestamp.IsZero() {
		fmt.Fprintf(tw, "Window\t%s .. %s\n",
			s.FirstTimestamp.UTC().Format(domain.TimestampLayout),
			s.LastTimestamp.UTC().Format(domain.TimestampLayout))
	}

	fmt.Fprintln(tw)
	fmt.Fprintln(tw, "Alert type\tLabelled\tMatched")
	for _, a := range domain.AlertPriority {
		fmt.Fprintf(tw, "%s\t%d\t%d\n", a, s.ByAlertType[a], s.RuleMatches[a])
	}

	if len(sample) > 0 {
		fmt.Fprintln(tw)
		fmt.Fprintln(tw, "Transaction\tCustomer\tTimestamp\tAmount\tRoute\tType\tAlert")
		for i := range sample {
			tx := &sample[i]
			alert := string(tx.AlertType)
			if alert == "" {
				alert = "-"
			}
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s %s\t%s\t%s\t%s\n",
				tx.ID, tx.CustomerID, tx.Timestamp.UTC().Format(domain.TimestampLayout),
				tx.Amount.StringFixed(2), tx.Currency,
				route(tx), tx.Type, alert)
		}
	}

	return tw.Flush()
}

func route(tx *domain.Transaction) string {
	if !tx.CrossBorder {
		return tx.OriginCountry
	}
	return strings.Join([]string{tx.OriginCountry, tx.DestinationCountry}, " -> ")
}
