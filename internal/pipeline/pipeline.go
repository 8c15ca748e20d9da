// Package pipeline runs a batch end to end: load the population, sample,
// synthesize, label, write the CSV and mirror the result to the optional
// sinks.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/opensource-finance/fincrime-signals/internal/cache"
	"github.com/opensource-finance/fincrime-signals/internal/domain"
	"github.com/opensource-finance/fincrime-signals/internal/export"
	"github.com/opensource-finance/fincrime-signals/internal/population"
	"github.com/opensource-finance/fincrime-signals/internal/report"
	"github.com/opensource-finance/fincrime-signals/internal/rng"
	"github.com/opensource-finance/fincrime-signals/internal/rules"
	"github.com/opensource-finance/fincrime-signals/internal/sampler"
	"github.com/opensource-finance/fincrime-signals/internal/synth"
)

// SummaryTTL is how long batch summaries stay in the cache.
const SummaryTTL = 24 * time.Hour

var tracer = otel.Tracer("fincrime-pipeline")

// Params fixes every input of a generation run. Equal params over the same
// population produce the same transactions.
type Params struct {
	Rows   int
	Months int
	Seed   uint64
	AsOf   time.Time
}

// Options wires optional collaborators. Zero values disable the sink.
type Options struct {
	Engine     *rules.Engine
	Repository domain.Repository
	Cache      domain.Cache
	Bus        domain.EventBus
	Logger     *slog.Logger

	// Now is the clock used for created-at stamps and for the as-of
	// instant when none is configured.
	Now func() time.Time
}

// Pipeline produces batches. Runs are independent; a Pipeline may be
// reused but not shared by concurrent callers.
type Pipeline struct {
	generator domain.GeneratorConfig
	input     domain.InputConfig
	output    domain.OutputConfig

	engine *rules.Engine
	repo   domain.Repository
	cache  domain.Cache
	bus    domain.EventBus
	logger *slog.Logger
	now    func() time.Time
}

// Outcome is what a completed run leaves behind.
type Outcome struct {
	Batch  *domain.Batch
	Record *domain.BatchRecord
}

// New builds a pipeline from configuration. A nil engine compiles the
// standard rules.
func New(cfg *domain.Config, opts Options) (*Pipeline, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	engine := opts.Engine
	if engine == nil {
		var err error
		engine, err = rules.NewEngine()
		if err != nil {
			return nil, err
		}
		logger.Debug("rule engine compiled", "predicates", engine.Predicates())
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	return &Pipeline{
		generator: cfg.Generator,
		input:     cfg.Input,
		output:    cfg.Output,
		engine:    engine,
		repo:      opts.Repository,
		cache:     opts.Cache,
		bus:       opts.Bus,
		logger:    logger,
		now:       now,
	}, nil
}

// Resolve fills the fields req leaves unset from the configured defaults.
// A missing as-of falls back to the configured one, then to the clock.
func (p *Pipeline) Resolve(req domain.BatchRequest) Params {
	params := Params{
		Rows:   p.generator.Rows,
		Months: p.generator.Months,
		Seed:   p.generator.Seed,
		AsOf:   p.generator.AsOf,
	}
	if req.Rows != nil {
		params.Rows = *req.Rows
	}
	if req.Months != 0 {
		params.Months = req.Months
	}
	if req.Seed != nil {
		params.Seed = *req.Seed
	}
	if req.AsOf != nil && !req.AsOf.IsZero() {
		params.AsOf = *req.AsOf
	}
	if params.AsOf.IsZero() {
		params.AsOf = p.now()
	}
	params.AsOf = params.AsOf.UTC().Truncate(time.Second)
	return params
}

// Generate samples, synthesizes and labels one batch in memory. It does no
// I/O.
func (p *Pipeline) Generate(ctx context.Context, pop *population.Population, params Params) (*domain.Batch, error) {
	if params.Rows < 0 {
		return nil, domain.NewGenerationError(domain.StageSampling, nil, "rows must be >= 0, got %d", params.Rows)
	}

	s, err := sampler.New(pop, nil)
	if err != nil {
		return nil, err
	}

	var customers []*domain.Customer
	err = p.stage(ctx, "sampling", func(ctx context.Context, span trace.Span) error {
		var err error
		customers, err = s.Sample(rng.New(params.Seed, rng.StreamSampler), params.Rows)
		span.SetAttributes(attribute.Int("rows", params.Rows))
		return err
	})
	if err != nil {
		return nil, err
	}

	var txs []domain.Transaction
	err = p.stage(ctx, "synthesis", func(ctx context.Context, span trace.Span) error {
		syn, err := synth.New(pop, synth.Config{Months: params.Months, AsOf: params.AsOf})
		if err != nil {
			return err
		}
		from, to := syn.Window()
		span.SetAttributes(
			attribute.String("window.start", from.Format(time.RFC3339)),
			attribute.String("window.end", to.Format(time.RFC3339)),
		)
		txs, err = syn.Synthesize(ctx,
			rng.New(params.Seed, rng.StreamSynth),
			rng.New(params.Seed, rng.StreamIDs),
			customers,
		)
		return err
	})
	if err != nil {
		return nil, err
	}

	err = p.stage(ctx, "evaluation", func(ctx context.Context, span trace.Span) error {
		res := p.engine.Evaluate(txs, pop.IsPEP)
		span.SetAttributes(
			attribute.Int("evaluated", res.Evaluated),
			attribute.Int("skipped", res.Skipped),
		)
		if res.EvalErrors > 0 {
			p.logger.Warn("predicate evaluation errors treated as no match",
				"count", res.EvalErrors,
			)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	txs = export.SortByTimestamp(txs)

	return &domain.Batch{
		ID:           uuid.NewString(),
		Seed:         params.Seed,
		Rows:         params.Rows,
		Months:       params.Months,
		AsOf:         params.AsOf,
		CreatedAt:    p.now().UTC(),
		Transactions: txs,
		Summary:      report.Summarize(txs),
	}, nil
}

// Run executes a full batch for req and publishes the outcome. A repository
// failure after the CSV was written returns both the outcome and a
// SerializationError; the batch can then be retried with WriteBatch.
func (p *Pipeline) Run(ctx context.Context, req domain.BatchRequest) (*Outcome, error) {
	ctx, span := tracer.Start(ctx, "pipeline.run")
	defer span.End()

	start := time.Now()
	params := p.Resolve(req)
	span.SetAttributes(
		attribute.String("request_id", req.RequestID),
		attribute.Int("rows", params.Rows),
		attribute.Int("months", params.Months),
	)

	p.logger.Info("batch started",
		"request_id", req.RequestID,
		"rows", params.Rows,
		"months", params.Months,
		"seed", params.Seed,
		"as_of", params.AsOf,
	)

	outcome, err := p.run(ctx, params)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}

	switch {
	case outcome == nil:
		p.logger.Error("batch failed",
			"request_id", req.RequestID,
			"stage", StageOf(err),
			"error", err,
		)
		p.publish(ctx, domain.TopicBatchFailed, domain.BatchEvent{
			RequestID: req.RequestID,
			Stage:     StageOf(err),
			Error:     err.Error(),
		})
	default:
		event := domain.BatchEvent{
			RequestID:  req.RequestID,
			BatchID:    outcome.Record.ID,
			OutputPath: outcome.Record.OutputPath,
			Summary:    &outcome.Record.Summary,
		}
		if err != nil {
			event.Stage = StageOf(err)
			event.Error = err.Error()
		}
		p.logger.Info("batch completed",
			"request_id", req.RequestID,
			"batch_id", outcome.Record.ID,
			"rows", outcome.Record.Summary.Rows,
			"flagged", outcome.Record.Summary.Flagged,
			"output", outcome.Record.OutputPath,
			"duration_ms", time.Since(start).Milliseconds(),
		)
		p.publish(ctx, domain.TopicBatchCompleted, event)
	}

	return outcome, err
}

func (p *Pipeline) run(ctx context.Context, params Params) (*Outcome, error) {
	var pop *population.Population
	err := p.stage(ctx, "population", func(ctx context.Context, span trace.Span) error {
		var err error
		pop, err = population.Load(p.input.CustomersPath)
		if err == nil {
			span.SetAttributes(attribute.Int("customers", pop.Len()))
		}
		return err
	})
	if err != nil {
		return nil, err
	}

	batch, err := p.Generate(ctx, pop, params)
	if err != nil {
		return nil, err
	}

	rec, err := p.WriteBatch(ctx, batch)
	if rec == nil {
		return nil, err
	}
	return &Outcome{Batch: batch, Record: rec}, err
}

// WriteBatch writes the CSV for batch, then mirrors it to the repository
// and the cache. It can be called again after a SerializationError. The
// record is nil only when the CSV itself could not be written.
func (p *Pipeline) WriteBatch(ctx context.Context, batch *domain.Batch) (*domain.BatchRecord, error) {
	path := p.OutputPath(batch.ID)
	rec := batch.Record(path)

	err := p.stage(ctx, "write", func(ctx context.Context, span trace.Span) error {
		span.SetAttributes(attribute.String("path", path))
		return export.WriteFile(path, batch.Transactions, export.Options{
			IncludeMatchedRules: p.output.IncludeMatchedRules,
		})
	})
	if err != nil {
		return nil, err
	}

	if p.repo != nil {
		err = p.stage(ctx, "sink", func(ctx context.Context, span trace.Span) error {
			if err := p.repo.SaveBatch(ctx, rec, batch.Transactions); err != nil {
				return &domain.SerializationError{Destination: "repository", Err: err}
			}
			return nil
		})
		if err != nil {
			p.logger.Error("failed to mirror batch to repository",
				"batch_id", batch.ID,
				"error", err,
			)
		}
	}

	if p.cache != nil {
		if cerr := cache.SetSummary(ctx, p.cache, rec, SummaryTTL); cerr != nil {
			p.logger.Warn("failed to cache batch summary",
				"batch_id", batch.ID,
				"error", cerr,
			)
		}
	}

	return rec, err
}

// OutputPath returns the CSV path for a batch.
func (p *Pipeline) OutputPath(batchID string) string {
	return strings.ReplaceAll(p.output.Path, domain.BatchPlaceholder, batchID)
}

// StageOf reports the stage a run error belongs to, or "" when the error
// does not carry one.
func StageOf(err error) domain.Stage {
	var popErr *domain.PopulationError
	var genErr *domain.GenerationError
	var serErr *domain.SerializationError
	switch {
	case errors.As(err, &popErr):
		return domain.StagePopulation
	case errors.As(err, &genErr):
		return genErr.Stage
	case errors.As(err, &serErr):
		return domain.StageWrite
	}
	return ""
}

func (p *Pipeline) stage(ctx context.Context, name string, fn func(ctx context.Context, span trace.Span) error) error {
	ctx, span := tracer.Start(ctx, "pipeline."+name)
	defer span.End()

	start := time.Now()
	err := fn(ctx, span)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}

	p.logger.Debug("stage finished",
		"stage", name,
		"duration_ms", time.Since(start).Milliseconds(),
		"ok", err == nil,
	)
	return err
}

func (p *Pipeline) publish(ctx context.Context, topic string, event domain.BatchEvent) {
	if p.bus == nil {
		return
	}
	payload, err := json.Marshal(event)
	if err != nil {
		p.logger.Error("failed to encode batch event", "topic", topic, "error", err)
		return
	}
	if err := p.bus.Publish(ctx, topic, payload); err != nil {
		p.logger.Error("failed to publish batch event",
			"topic", topic,
			"request_id", event.RequestID,
			"error", err,
		)
	}
}
