// Command verify re-labels a generated transaction file with the rule
// engine and checks the output invariants.
//
// Usage:
//
//	verify -in data/transactions.csv -customers data/customers.csv
//
// Without -customers no customer is treated as a PEP, so PEP-Offshore
// labels in the file show up as mismatches.
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/opensource-finance/fincrime-signals/internal/export"
	"github.com/opensource-finance/fincrime-signals/internal/population"
	"github.com/opensource-finance/fincrime-signals/internal/rules"
	"github.com/opensource-finance/fincrime-signals/internal/verify"
)

func main() {
	in := flag.String("in", "", "transaction CSV to verify")
	customers := flag.String("customers", "", "customer population CSV (for PEP flags)")
	flag.Parse()

	if *in == "" {
		fmt.Println("Usage: verify -in data/transactions.csv [-customers data/customers.csv]")
		fmt.Println("\nFlags:")
		flag.PrintDefaults()
		os.Exit(2)
	}

	start := time.Now()

	txs, err := export.ReadFile(*in)
	if err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: failed to read %s: %v\n", *in, err)
		os.Exit(1)
	}
	fmt.Printf("Loaded %d transactions from %s\n", len(txs), *in)

	var pep rules.PEPLookup
	if *customers != "" {
		pop, err := population.Load(*customers)
		if err != nil {
			fmt.Fprintf(os.Stderr, "ERROR: %v\n", err)
			os.Exit(1)
		}
		pep = pop.IsPEP
		fmt.Printf("Loaded %d customers from %s\n", pop.Len(), *customers)
	}

	engine, err := rules.NewEngine()
	if err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: %v\n", err)
		os.Exit(1)
	}

	rep := verify.Check(txs, engine, pep)

	fmt.Println()
	if err := verify.WriteText(os.Stdout, rep); err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("\nChecked in %v\n", time.Since(start).Round(time.Millisecond))

	if !rep.OK() {
		fmt.Println("FAILED")
		os.Exit(1)
	}
	fmt.Println("OK")
}
