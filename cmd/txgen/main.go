// Command txgen generates one labelled batch of synthetic transactions from
// a customer population and prints a summary.
//
// Usage:
//
//	txgen -customers data/customers.csv -out data/transactions.csv -rows 10000 -months 9 -seed 42
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"

	"github.com/opensource-finance/fincrime-signals/internal/bus"
	"github.com/opensource-finance/fincrime-signals/internal/cache"
	"github.com/opensource-finance/fincrime-signals/internal/config"
	"github.com/opensource-finance/fincrime-signals/internal/domain"
	"github.com/opensource-finance/fincrime-signals/internal/pipeline"
	"github.com/opensource-finance/fincrime-signals/internal/report"
	"github.com/opensource-finance/fincrime-signals/internal/repository"
)

// Version information (set via ldflags)
var Version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "", "YAML configuration file")
	customers := flag.String("customers", "", "customer population CSV")
	out := flag.String("out", "", "output CSV path ({batch} is replaced by the batch id)")
	rows := flag.Int("rows", 0, "number of transactions")
	months := flag.Int("months", 0, "length of the time window in 30-day months")
	seed := flag.Uint64("seed", 0, "random seed")
	asOf := flag.String("as-of", "", "end of the time window (RFC 3339 or YYYY-MM-DD); defaults to now")
	db := flag.String("db", "", "also mirror the batch into this SQLite database")
	matched := flag.Bool("matched-rules", false, "append a matched_rules column")
	sample := flag.Int("sample", 5, "number of flagged example rows to print")
	quiet := flag.Bool("quiet", false, "do not print the summary")
	version := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *version {
		fmt.Println("txgen", Version)
		return 0
	}

	cfg, err := config.Load(*configPath, domain.DefaultConfig())
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		return 1
	}
	if err := config.ApplyEnv(cfg); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		return 1
	}

	// Flags set on the command line win over file and environment.
	var flagErr error
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "customers":
			cfg.Input.CustomersPath = *customers
		case "out":
			cfg.Output.Path = *out
		case "rows":
			cfg.Generator.Rows = *rows
		case "months":
			cfg.Generator.Months = *months
		case "seed":
			cfg.Generator.Seed = *seed
		case "as-of":
			t, err := config.ParseAsOf(*asOf)
			if err != nil {
				flagErr = err
				return
			}
			cfg.Generator.AsOf = t
		case "db":
			cfg.Repository.Driver = domain.DriverSQLite
			cfg.Repository.SQLitePath = *db
		case "matched-rules":
			cfg.Output.IncludeMatchedRules = *matched
		}
	})
	if flagErr != nil {
		fmt.Fprintln(os.Stderr, "error:", flagErr)
		return 2
	}
	if err := config.Validate(cfg); err != nil {
		fmt.Fprintln(os.Stderr, "invalid configuration:", err)
		return 2
	}

	logger := config.NewLogger(os.Stderr, cfg.Logging)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	opts := pipeline.Options{Logger: logger}

	if cfg.Repository.Driver != "" && cfg.Repository.Driver != domain.DriverNone {
		repo, err := repository.New(cfg.Repository)
		if err != nil {
			slog.Error("failed to initialize repository", "error", err)
			return 1
		}
		defer repo.Close()
		opts.Repository = repo
	}

	cacheImpl, err := cache.New(cfg.Cache)
	if err != nil {
		slog.Error("failed to initialize cache", "error", err)
		return 1
	}
	defer cacheImpl.Close()
	opts.Cache = cacheImpl

	// Only a NATS bus has listeners outside this process.
	if cfg.EventBus.Type == "nats" {
		busImpl, err := bus.New(cfg.EventBus)
		if err != nil {
			slog.Error("failed to initialize event bus", "error", err)
			return 1
		}
		defer busImpl.Close()
		opts.Bus = busImpl
	}

	p, err := pipeline.New(cfg, opts)
	if err != nil {
		slog.Error("failed to initialize pipeline", "error", err)
		return 1
	}

	outcome, err := p.Run(ctx, domain.BatchRequest{RequestID: uuid.NewString()})
	if outcome == nil {
		slog.Error("generation failed", "stage", pipeline.StageOf(err), "error", err)
		return 1
	}

	if !*quiet {
		fmt.Printf("Wrote %s\n\n", outcome.Record.OutputPath)
		if werr := report.WriteRun(os.Stdout, outcome.Batch, pickSample(outcome.Batch.Transactions, *sample)); werr != nil {
			slog.Error("failed to print summary", "error", werr)
		}
	}

	if err != nil {
		var serErr *domain.SerializationError
		if errors.As(err, &serErr) {
			slog.Error("batch written but not mirrored", "batch_id", outcome.Record.ID, "error", err)
		}
		return 1
	}
	return 0
}

// pickSample returns up to n flagged rows, topped up with unflagged ones.
func pickSample(txs []domain.Transaction, n int) []domain.Transaction {
	if n <= 0 {
		return nil
	}
	out := make([]domain.Transaction, 0, n)
	for i := range txs {
		if len(out) == n {
			return out
		}
		if txs[i].Flagged() {
			out = append(out, txs[i])
		}
	}
	for i := range txs {
		if len(out) == n {
			break
		}
		if !txs[i].Flagged() {
			out = append(out, txs[i])
		}
	}
	return out
}
