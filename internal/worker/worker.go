// Package worker runs batch requests received from the event bus.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/opensource-finance/fincrime-signals/internal/domain"
	"github.com/opensource-finance/fincrime-signals/internal/pipeline"
)

// ErrAlreadyStarted is returned by Start on a running worker.
var ErrAlreadyStarted = errors.New("worker already started")

// Runner executes one batch request. *pipeline.Pipeline satisfies it.
type Runner interface {
	Run(ctx context.Context, req domain.BatchRequest) (*pipeline.Outcome, error)
}

// Worker consumes fincrime.batch.requested and runs one batch at a time.
// Outcome events are published by the runner.
type Worker struct {
	bus    domain.EventBus
	runner Runner

	mu           sync.Mutex
	runMu        sync.Mutex
	subscription domain.Subscription
	ctx          context.Context
	cancel       context.CancelFunc

	processed atomic.Int64
	failed    atomic.Int64
}

// NewWorker creates a worker. It does nothing until Start.
func NewWorker(bus domain.EventBus, runner Runner) *Worker {
	return &Worker{
		bus:    bus,
		runner: runner,
	}
}

// Start subscribes to batch requests.
func (w *Worker) Start() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.subscription != nil {
		return ErrAlreadyStarted
	}

	w.ctx, w.cancel = context.WithCancel(context.Background())
	sub, err := w.bus.Subscribe(w.ctx, domain.TopicBatchRequested, w.handleMessage)
	if err != nil {
		w.cancel()
		return err
	}
	w.subscription = sub

	slog.Info("batch worker started", "topic", domain.TopicBatchRequested)
	return nil
}

// handleMessage decodes a request and runs it. Runs never overlap.
func (w *Worker) handleMessage(ctx context.Context, msg *domain.Message) error {
	var req domain.BatchRequest
	if err := json.Unmarshal(msg.Payload, &req); err != nil {
		slog.Error("failed to parse batch request",
			"message_id", msg.ID,
			"error", err,
		)
		w.failed.Add(1)
		w.reject(ctx, msg.ID, err)
		return err
	}
	if req.RequestID == "" {
		req.RequestID = msg.ID
	}

	w.runMu.Lock()
	defer w.runMu.Unlock()

	slog.Debug("processing batch request", "request_id", req.RequestID)

	outcome, err := w.runner.Run(ctx, req)
	if outcome == nil {
		w.failed.Add(1)
		return err
	}
	w.processed.Add(1)
	return err
}

// reject publishes a failed event for a request that never reached the
// runner.
func (w *Worker) reject(ctx context.Context, requestID string, cause error) {
	payload, err := json.Marshal(domain.BatchEvent{
		RequestID: requestID,
		Error:     "invalid batch request: " + cause.Error(),
	})
	if err != nil {
		return
	}
	if err := w.bus.Publish(ctx, domain.TopicBatchFailed, payload); err != nil {
		slog.Error("failed to publish rejection",
			"request_id", requestID,
			"error", err,
		)
	}
}

// Stop unsubscribes and waits for the running batch, if any, to finish.
func (w *Worker) Stop() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.subscription == nil {
		return nil
	}

	w.cancel()
	err := w.subscription.Unsubscribe()
	if err != nil {
		slog.Error("failed to unsubscribe",
			"topic", w.subscription.Topic(),
			"error", err,
		)
	}
	w.subscription = nil

	// Wait for an in-flight run.
	w.runMu.Lock()
	w.runMu.Unlock()

	slog.Info("batch worker stopped")
	return err
}

// Stats reports worker activity.
type Stats struct {
	Running   bool   `json:"running"`
	Topic     string `json:"topic,omitempty"`
	Processed int64  `json:"processed"`
	Failed    int64  `json:"failed"`
}

// GetStats returns current worker statistics.
func (w *Worker) GetStats() Stats {
	w.mu.Lock()
	defer w.mu.Unlock()

	s := Stats{
		Processed: w.processed.Load(),
		Failed:    w.failed.Load(),
	}
	if w.subscription != nil {
		s.Running = true
		s.Topic = w.subscription.Topic()
	}
	return s
}
