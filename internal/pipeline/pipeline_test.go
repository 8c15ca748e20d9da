package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/opensource-finance/fincrime-signals/internal/bus"
	"github.com/opensource-finance/fincrime-signals/internal/cache"
	"github.com/opensource-finance/fincrime-signals/internal/domain"
	"github.com/opensource-finance/fincrime-signals/internal/export"
	"github.com/opensource-finance/fincrime-signals/internal/population"
	"github.com/opensource-finance/fincrime-signals/internal/repository"
	"github.com/opensource-finance/fincrime-signals/internal/synth"
)

var asOf = time.Date(2025, 6, 30, 0, 0, 0, 0, time.UTC)

const customersCSV = "customer_id,residency_country,risk_score,account_type,pep_flag,device_count,onboarding_decision\n" +
	"c-0001-aaaa,France,Low,Personal,False,2,Approved\n" +
	"c-0002-bbbb,Germany,Medium,Business,False,3,Approved\n" +
	"c-0003-cccc,Kenya,High,Personal,True,1,Manual Review\n" +
	"c-0004-dddd,Nigeria,High,Business,False,4,Approved\n" +
	"c-0005-eeee,Cayman Islands,Medium,Business,True,2,Approved\n" +
	"c-0006-ffff,United States,Low,Personal,False,1,Approved\n" +
	"c-0007-gggg,United Kingdom,Low,Personal,False,5,Rejected\n"

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func writeCustomers(t *testing.T, dir string) string {
	t.Helper()
	path := filepath.Join(dir, "customers.csv")
	if err := os.WriteFile(path, []byte(customersCSV), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func testConfig(t *testing.T, dir string) *domain.Config {
	t.Helper()
	cfg := domain.DefaultConfig()
	cfg.Generator.Rows = 2000
	cfg.Generator.Months = 3
	cfg.Generator.AsOf = asOf
	cfg.Input.CustomersPath = writeCustomers(t, dir)
	cfg.Output.Path = filepath.Join(dir, "out", "{batch}.csv")
	return cfg
}

func newPipeline(t *testing.T, cfg *domain.Config, opts Options) *Pipeline {
	t.Helper()
	if opts.Logger == nil {
		opts.Logger = quietLogger()
	}
	p, err := New(cfg, opts)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return p
}

func encode(t *testing.T, txs []domain.Transaction) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := export.Encode(&buf, txs, export.Options{}); err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	return buf.Bytes()
}

func TestGenerate(t *testing.T) {
	dir := t.TempDir()
	cfg := testConfig(t, dir)
	p := newPipeline(t, cfg, Options{})

	pop, err := population.Load(cfg.Input.CustomersPath)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	params := p.Resolve(domain.BatchRequest{})

	batch, err := p.Generate(context.Background(), pop, params)
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}

	t.Run("RowCount", func(t *testing.T) {
		if len(batch.Transactions) != 2000 || batch.Summary.Rows != 2000 {
			t.Fatalf("expected 2000 rows, got %d", len(batch.Transactions))
		}
	})

	t.Run("Deterministic", func(t *testing.T) {
		again, err := p.Generate(context.Background(), pop, params)
		if err != nil {
			t.Fatalf("second Generate failed: %v", err)
		}
		if !bytes.Equal(encode(t, batch.Transactions), encode(t, again.Transactions)) {
			t.Error("same params should give byte-identical output")
		}
	})

	t.Run("SeedChangesOutput", func(t *testing.T) {
		other := params
		other.Seed++
		again, err := p.Generate(context.Background(), pop, other)
		if err != nil {
			t.Fatalf("Generate failed: %v", err)
		}
		if bytes.Equal(encode(t, batch.Transactions), encode(t, again.Transactions)) {
			t.Error("different seeds should give different output")
		}
	})

	t.Run("Properties", func(t *testing.T) {
		minAmount := decimal.RequireFromString("0.01")
		maxAmount := decimal.NewFromInt(250000)
		start := asOf.AddDate(0, 0, -90)

		for i, tx := range batch.Transactions {
			if tx.Flagged() != (tx.AlertType != domain.AlertNone) {
				t.Fatalf("row %d: flagged/alert mismatch", i)
			}
			if !tx.AlertType.Valid() {
				t.Fatalf("row %d: invalid alert type %q", i, tx.AlertType)
			}
			if tx.Amount.LessThan(minAmount) || tx.Amount.GreaterThan(maxAmount) {
				t.Fatalf("row %d: amount %s out of bounds", i, tx.Amount)
			}
			if tx.Timestamp.Before(start) || tx.Timestamp.After(asOf.Add(24*time.Hour)) {
				t.Fatalf("row %d: timestamp %v outside window", i, tx.Timestamp)
			}
			if tx.AlertType == domain.AlertCorridor {
				if !tx.CrossBorder || !domain.HighRiskCountries[tx.DestinationCountry] {
					t.Fatalf("row %d: corridor label without cross-border high-risk destination", i)
				}
			}
			if tx.Matches.Has(domain.AlertCorridor) && tx.AlertType != domain.AlertCorridor {
				t.Fatalf("row %d: corridor match must win, got %q", i, tx.AlertType)
			}
			if i > 0 && tx.Timestamp.Before(batch.Transactions[i-1].Timestamp) {
				t.Fatalf("row %d: transactions not in timestamp order", i)
			}
			if _, ok := pop.Lookup(tx.CustomerID); !ok {
				t.Fatalf("row %d: unknown customer %q", i, tx.CustomerID)
			}
		}

		if batch.Summary.Flagged == 0 {
			t.Error("expected some flagged rows with high-risk residents in the population")
		}
	})

	t.Run("ZeroRows", func(t *testing.T) {
		empty := params
		empty.Rows = 0
		b, err := p.Generate(context.Background(), pop, empty)
		if err != nil {
			t.Fatalf("Generate failed: %v", err)
		}
		if len(b.Transactions) != 0 || b.Summary.Rows != 0 {
			t.Errorf("expected empty batch, got %d rows", len(b.Transactions))
		}
	})

	t.Run("NegativeRows", func(t *testing.T) {
		bad := params
		bad.Rows = -1
		_, err := p.Generate(context.Background(), pop, bad)
		var genErr *domain.GenerationError
		if !errors.As(err, &genErr) {
			t.Fatalf("expected GenerationError, got %v", err)
		}
	})

	t.Run("Cancelled", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := p.Generate(ctx, pop, params)
		if !errors.Is(err, context.Canceled) {
			t.Errorf("expected context.Canceled, got %v", err)
		}
	})
}

func TestGenerateIgnoresCachedDevices(t *testing.T) {
	dir := t.TempDir()
	cfg := testConfig(t, dir)

	store := cache.NewLRUCache(100)
	ctx := context.Background()
	for _, id := range []string{"c-0001-aaaa", "c-0002-bbbb", "c-0003-cccc", "c-0004-dddd", "c-0005-eeee", "c-0006-ffff"} {
		stale, _ := json.Marshal([]string{"stale-device"})
		if err := store.Set(ctx, "devices:"+id, stale, time.Hour); err != nil {
			t.Fatal(err)
		}
	}

	p := newPipeline(t, cfg, Options{Cache: store})
	pop, err := population.Load(cfg.Input.CustomersPath)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	batch, err := p.Generate(ctx, pop, p.Resolve(domain.BatchRequest{}))
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}

	for i, tx := range batch.Transactions {
		c, ok := pop.Lookup(tx.CustomerID)
		if !ok {
			t.Fatalf("row %d: unknown customer %q", i, tx.CustomerID)
		}
		if !slices.Contains(synth.DevicePool(c.ID, c.DeviceCount), tx.DeviceID) {
			t.Fatalf("row %d: device %q not derived from customer %s", i, tx.DeviceID, c.ID)
		}
	}
}

func TestResolve(t *testing.T) {
	clock := time.Date(2025, 1, 2, 3, 4, 5, 600, time.UTC)
	cfg := domain.DefaultConfig()
	p := newPipeline(t, cfg, Options{Now: func() time.Time { return clock }})

	t.Run("Defaults", func(t *testing.T) {
		params := p.Resolve(domain.BatchRequest{})
		if params.Rows != domain.DefaultRows || params.Months != domain.DefaultMonths || params.Seed != domain.DefaultSeed {
			t.Errorf("unexpected defaults %+v", params)
		}
		if !params.AsOf.Equal(clock.Truncate(time.Second)) {
			t.Errorf("expected clock as-of, got %v", params.AsOf)
		}
	})

	t.Run("Overrides", func(t *testing.T) {
		rows := 0
		seed := uint64(7)
		at := time.Date(2024, 5, 5, 0, 0, 0, 0, time.FixedZone("X", 3600))
		params := p.Resolve(domain.BatchRequest{Rows: &rows, Months: 2, Seed: &seed, AsOf: &at})
		if params.Rows != 0 || params.Months != 2 || params.Seed != 7 {
			t.Errorf("unexpected params %+v", params)
		}
		if params.AsOf.Location() != time.UTC || !params.AsOf.Equal(at) {
			t.Errorf("expected as-of in UTC, got %v", params.AsOf)
		}
	})
}

func TestRun(t *testing.T) {
	dir := t.TempDir()
	cfg := testConfig(t, dir)

	repo, err := repository.New(domain.RepositoryConfig{
		Driver:     domain.DriverSQLite,
		SQLitePath: filepath.Join(dir, "batches.db"),
	})
	if err != nil {
		t.Fatalf("repository.New failed: %v", err)
	}
	defer repo.Close()

	store := cache.NewLRUCache(1000)
	eventBus := bus.NewChannelBus(10)
	defer eventBus.Close()

	events := make(chan domain.BatchEvent, 4)
	for _, topic := range []string{domain.TopicBatchCompleted, domain.TopicBatchFailed} {
		_, err := eventBus.Subscribe(context.Background(), topic, func(ctx context.Context, msg *domain.Message) error {
			var ev domain.BatchEvent
			if err := json.Unmarshal(msg.Payload, &ev); err != nil {
				return err
			}
			events <- ev
			return nil
		})
		if err != nil {
			t.Fatalf("Subscribe failed: %v", err)
		}
	}

	p := newPipeline(t, cfg, Options{Repository: repo, Cache: store, Bus: eventBus})
	ctx := context.Background()

	first, err := p.Run(ctx, domain.BatchRequest{RequestID: "req-1"})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	t.Run("CompletedEvent", func(t *testing.T) {
		select {
		case ev := <-events:
			if ev.RequestID != "req-1" || ev.BatchID != first.Record.ID {
				t.Errorf("unexpected event %+v", ev)
			}
			if ev.Summary == nil || ev.Summary.Rows != 2000 {
				t.Error("event should carry the summary")
			}
			if ev.Error != "" {
				t.Errorf("unexpected error in event: %s", ev.Error)
			}
		case <-time.After(2 * time.Second):
			t.Fatal("timeout waiting for completed event")
		}
	})

	t.Run("FileWritten", func(t *testing.T) {
		want := filepath.Join(dir, "out", first.Record.ID+".csv")
		if first.Record.OutputPath != want {
			t.Fatalf("expected output %s, got %s", want, first.Record.OutputPath)
		}
		txs, err := export.ReadFile(want)
		if err != nil {
			t.Fatalf("ReadFile failed: %v", err)
		}
		if len(txs) != 2000 {
			t.Errorf("expected 2000 rows in file, got %d", len(txs))
		}
	})

	t.Run("ByteIdenticalRerun", func(t *testing.T) {
		second, err := p.Run(ctx, domain.BatchRequest{RequestID: "req-2"})
		if err != nil {
			t.Fatalf("second Run failed: %v", err)
		}
		<-events

		a, err := os.ReadFile(first.Record.OutputPath)
		if err != nil {
			t.Fatal(err)
		}
		b, err := os.ReadFile(second.Record.OutputPath)
		if err != nil {
			t.Fatal(err)
		}
		if !bytes.Equal(a, b) {
			t.Error("same seed, population and as-of should give byte-identical files")
		}
	})

	t.Run("Mirrored", func(t *testing.T) {
		rec, err := repo.GetBatch(ctx, first.Record.ID)
		if err != nil {
			t.Fatalf("GetBatch failed: %v", err)
		}
		if rec.Summary.Flagged != first.Record.Summary.Flagged {
			t.Errorf("repository summary mismatch: %d vs %d", rec.Summary.Flagged, first.Record.Summary.Flagged)
		}
		txs, err := repo.ListTransactions(ctx, first.Record.ID, nil)
		if err != nil {
			t.Fatalf("ListTransactions failed: %v", err)
		}
		if len(txs) != 2000 {
			t.Errorf("expected 2000 mirrored rows, got %d", len(txs))
		}

		cached, err := cache.GetSummary(ctx, store, first.Record.ID)
		if err != nil || cached == nil {
			t.Fatalf("expected cached summary, got %v, %v", cached, err)
		}
		latest, err := cache.GetSummary(ctx, store, "")
		if err != nil || latest == nil {
			t.Fatalf("expected latest summary, got %v, %v", latest, err)
		}
	})

	t.Run("PopulationFailure", func(t *testing.T) {
		broken := *cfg
		broken.Input.CustomersPath = filepath.Join(dir, "missing.csv")
		bp := newPipeline(t, &broken, Options{Bus: eventBus})

		outcome, err := bp.Run(ctx, domain.BatchRequest{RequestID: "req-bad"})
		if outcome != nil {
			t.Error("expected no outcome")
		}
		if StageOf(err) != domain.StagePopulation {
			t.Errorf("expected population stage, got %q (%v)", StageOf(err), err)
		}

		select {
		case ev := <-events:
			if ev.RequestID != "req-bad" || ev.Stage != domain.StagePopulation || ev.Error == "" {
				t.Errorf("unexpected failed event %+v", ev)
			}
		case <-time.After(2 * time.Second):
			t.Fatal("timeout waiting for failed event")
		}
	})
}

func TestWriteBatchRetry(t *testing.T) {
	dir := t.TempDir()
	cfg := testConfig(t, dir)

	blocker := filepath.Join(dir, "blocker")
	if err := os.WriteFile(blocker, []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}
	cfg.Output.Path = filepath.Join(blocker, "out.csv")

	p := newPipeline(t, cfg, Options{})
	pop, err := population.Load(cfg.Input.CustomersPath)
	if err != nil {
		t.Fatal(err)
	}
	batch, err := p.Generate(context.Background(), pop, p.Resolve(domain.BatchRequest{}))
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}

	rec, err := p.WriteBatch(context.Background(), batch)
	var serErr *domain.SerializationError
	if !errors.As(err, &serErr) {
		t.Fatalf("expected SerializationError, got %v", err)
	}
	if rec != nil {
		t.Error("expected no record when the CSV could not be written")
	}
	if StageOf(err) != domain.StageWrite {
		t.Errorf("expected write stage, got %q", StageOf(err))
	}

	p.output.Path = filepath.Join(dir, "retry.csv")
	rec, err = p.WriteBatch(context.Background(), batch)
	if err != nil {
		t.Fatalf("retry failed: %v", err)
	}
	data, err := os.ReadFile(rec.OutputPath)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(data, encodeSorted(t, batch.Transactions)) {
		t.Error("retried file should hold the in-memory batch")
	}
}

func TestOutputPath(t *testing.T) {
	cfg := domain.DefaultConfig()
	cfg.Output.Path = "data/{batch}/tx-{batch}.csv"
	p := newPipeline(t, cfg, Options{})
	if got := p.OutputPath("b1"); got != "data/b1/tx-b1.csv" {
		t.Errorf("unexpected path %q", got)
	}

	cfg.Output.Path = "data/transactions.csv"
	p = newPipeline(t, cfg, Options{})
	if got := p.OutputPath("b1"); got != "data/transactions.csv" {
		t.Errorf("path without placeholder should be unchanged, got %q", got)
	}
}

func TestStageOf(t *testing.T) {
	tests := []struct {
		err  error
		want domain.Stage
	}{
		{&domain.PopulationError{Source: "x"}, domain.StagePopulation},
		{domain.NewGenerationError(domain.StageSynthesis, nil, "x"), domain.StageSynthesis},
		{&domain.SerializationError{Destination: "x"}, domain.StageWrite},
		{errors.New("plain"), ""},
		{nil, ""},
	}
	for _, tt := range tests {
		if got := StageOf(tt.err); got != tt.want {
			t.Errorf("StageOf(%v) = %q, want %q", tt.err, got, tt.want)
		}
	}
}

func encodeSorted(t *testing.T, txs []domain.Transaction) []byte {
	t.Helper()
	return encode(t, export.SortByTimestamp(txs))
}

func TestZeroRowRun(t *testing.T) {
	dir := t.TempDir()
	cfg := testConfig(t, dir)
	cfg.Generator.Rows = 0
	cfg.Output.Path = filepath.Join(dir, "empty.csv")

	p := newPipeline(t, cfg, Options{})
	outcome, err := p.Run(context.Background(), domain.BatchRequest{})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	data, err := os.ReadFile(outcome.Record.OutputPath)
	if err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 1 || !strings.HasPrefix(lines[0], "transaction_id,") {
		t.Errorf("expected header only, got %q", data)
	}
}
