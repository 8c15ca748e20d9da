// Command custgen generates a synthetic onboarded customer population in
// the format txgen reads.
//
// Usage:
//
//	custgen -out data/customers.csv -count 1000 -seed 42 -as-of 2025-06-30
//
// Rejected applicants are dropped, so the file holds fewer than -count rows.
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/opensource-finance/fincrime-signals/internal/config"
	"github.com/opensource-finance/fincrime-signals/internal/domain"
	"github.com/opensource-finance/fincrime-signals/internal/population"
)

func main() {
	out := flag.String("out", "data/customers.csv", "output CSV path")
	count := flag.Int("count", 1000, "number of applicants to draw")
	seed := flag.Uint64("seed", domain.DefaultSeed, "random seed")
	asOf := flag.String("as-of", "", "anchor for join dates (RFC 3339 or YYYY-MM-DD); defaults to today")
	flag.Parse()

	anchor := time.Now().UTC()
	if *asOf != "" {
		t, err := config.ParseAsOf(*asOf)
		if err != nil {
			fmt.Fprintf(os.Stderr, "ERROR: %v\n", err)
			os.Exit(2)
		}
		anchor = t
	}

	profiles, err := population.Generate(population.GenerateOptions{
		Count: *count,
		Seed:  *seed,
		AsOf:  anchor,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: %v\n", err)
		os.Exit(2)
	}
	if err := population.WriteFile(*out, profiles); err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: %v\n", err)
		os.Exit(1)
	}

	review := 0
	for i := range profiles {
		if profiles[i].Decision == domain.DecisionManualReview {
			review++
		}
	}
	fmt.Printf("Saved %d onboarded customers -> %s\n", len(profiles), *out)
	fmt.Printf("  Approved:      %d\n", len(profiles)-review)
	fmt.Printf("  Manual Review: %d\n", review)
	fmt.Printf("  Seed %d, as of %s\n", *seed, anchor.Format(time.DateOnly))
}
