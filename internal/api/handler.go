package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/opensource-finance/fincrime-signals/internal/cache"
	"github.com/opensource-finance/fincrime-signals/internal/config"
	"github.com/opensource-finance/fincrime-signals/internal/domain"
	"github.com/opensource-finance/fincrime-signals/internal/repository"
)

// MaxRequestRows bounds the size of a batch requested over HTTP.
const MaxRequestRows = 1_000_000

// AlertTypeNone selects unflagged rows in ?alert_type=.
const AlertTypeNone = "none"

// Handler holds dependencies for API handlers.
type Handler struct {
	repo    domain.Repository
	cache   domain.Cache
	bus     domain.EventBus
	version string
}

// NewHandler creates a new API handler.
func NewHandler(repo domain.Repository, cache domain.Cache, bus domain.EventBus, version string) *Handler {
	return &Handler{
		repo:    repo,
		cache:   cache,
		bus:     bus,
		version: version,
	}
}

// BatchRequestBody is the request body for POST /batches. Omitted fields
// use the server's generator defaults.
type BatchRequestBody struct {
	Rows   *int    `json:"rows,omitempty"`
	Months int     `json:"months,omitempty"`
	Seed   *uint64 `json:"seed,omitempty"`
	AsOf   string  `json:"asOf,omitempty"`
}

// BatchAcceptedResponse is the response for POST /batches.
type BatchAcceptedResponse struct {
	RequestID string `json:"requestId"`
	Status    string `json:"status"`
}

// TransactionView is a transaction as served by the API.
type TransactionView struct {
	domain.Transaction
	IsFlagged    bool               `json:"isFlagged"`
	MatchedRules []domain.AlertType `json:"matchedRules,omitempty"`
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	// Set for the in-process bus: batch requests or events lost to a full
	// subscriber queue.
	DroppedMessages *int64 `json:"droppedMessages,omitempty"`
	// Entries held by the in-process cache.
	CacheEntries *int `json:"cacheEntries,omitempty"`
}

// Health returns server health status.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{Status: "healthy", Version: h.version}
	if len(h.checks(r.Context())) > 0 {
		resp.Status = "degraded"
	}
	if d, ok := h.bus.(interface{ Dropped() int64 }); ok {
		n := d.Dropped()
		resp.DroppedMessages = &n
	}
	if c, ok := h.cache.(interface{ Stats() (int, int) }); ok {
		n, _ := c.Stats()
		resp.CacheEntries = &n
	}
	writeJSON(w, http.StatusOK, resp)
}

// Ready reports whether every configured backend answers a ping.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	failed := h.checks(r.Context())
	if len(failed) > 0 {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"ready":  false,
			"failed": failed,
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"ready": true,
	})
}

// checks pings the configured backends and returns the failing ones.
func (h *Handler) checks(ctx context.Context) map[string]string {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	failed := make(map[string]string)
	if h.repo != nil {
		if err := h.repo.Ping(ctx); err != nil {
			failed["repository"] = err.Error()
		}
	}
	if h.cache != nil {
		if err := h.cache.Ping(ctx); err != nil {
			failed["cache"] = err.Error()
		}
	}
	if h.bus != nil {
		if err := h.bus.Ping(ctx); err != nil {
			failed["eventBus"] = err.Error()
		}
	}
	return failed
}

// CreateBatch handles POST /batches. The request is queued on the event
// bus; the worker runs it and publishes the outcome.
func (h *Handler) CreateBatch(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if h.bus == nil {
		writeError(w, http.StatusServiceUnavailable, "event bus not available")
		return
	}

	var body BatchRequestBody
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON request body")
			return
		}
	}

	if body.Rows != nil && (*body.Rows < 0 || *body.Rows > MaxRequestRows) {
		writeError(w, http.StatusBadRequest, "rows must be between 0 and "+strconv.Itoa(MaxRequestRows))
		return
	}
	if body.Months < 0 {
		writeError(w, http.StatusBadRequest, "months must be positive")
		return
	}

	req := domain.BatchRequest{
		RequestID: GetRequestID(ctx),
		Rows:      body.Rows,
		Months:    body.Months,
		Seed:      body.Seed,
	}
	if body.AsOf != "" {
		asOf, err := config.ParseAsOf(body.AsOf)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		req.AsOf = &asOf
	}

	payload, err := json.Marshal(req)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to encode request")
		return
	}
	if err := h.bus.Publish(ctx, domain.TopicBatchRequested, payload); err != nil {
		slog.Error("failed to queue batch request",
			"request_id", req.RequestID,
			"error", err,
		)
		writeError(w, http.StatusServiceUnavailable, "failed to queue batch request")
		return
	}

	slog.Info("batch requested", "request_id", req.RequestID)
	writeJSON(w, http.StatusAccepted, BatchAcceptedResponse{
		RequestID: req.RequestID,
		Status:    "accepted",
	})
}

// ListBatches handles GET /batches?limit=.
func (h *Handler) ListBatches(w http.ResponseWriter, r *http.Request) {
	if h.repo == nil {
		writeError(w, http.StatusServiceUnavailable, "repository not available")
		return
	}

	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = n
	}

	records, err := h.repo.ListBatches(r.Context(), limit)
	if err != nil {
		h.repoError(w, "failed to list batches", err)
		return
	}
	if records == nil {
		records = []*domain.BatchRecord{}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"batches": records,
		"count":   len(records),
	})
}

// LatestBatch handles GET /batches/latest. The cached summary is served
// when present, otherwise the newest repository record.
func (h *Handler) LatestBatch(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if h.cache != nil {
		rec, err := cache.GetSummary(ctx, h.cache, "")
		if err != nil {
			slog.Warn("failed to read latest summary from cache", "error", err)
		}
		if rec != nil {
			writeJSON(w, http.StatusOK, rec)
			return
		}
	}

	if h.repo == nil {
		writeError(w, http.StatusNotFound, "no batch generated yet")
		return
	}

	records, err := h.repo.ListBatches(ctx, 1)
	if err != nil {
		h.repoError(w, "failed to read latest batch", err)
		return
	}
	if len(records) == 0 {
		writeError(w, http.StatusNotFound, "no batch generated yet")
		return
	}
	writeJSON(w, http.StatusOK, records[0])
}

// GetBatch handles GET /batches/{id}.
func (h *Handler) GetBatch(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	batchID := chi.URLParam(r, "id")

	if h.cache != nil {
		if rec, err := cache.GetSummary(ctx, h.cache, batchID); err == nil && rec != nil {
			writeJSON(w, http.StatusOK, rec)
			return
		}
	}

	if h.repo == nil {
		writeError(w, http.StatusServiceUnavailable, "repository not available")
		return
	}

	rec, err := h.repo.GetBatch(ctx, batchID)
	if err != nil {
		h.repoError(w, "failed to get batch", err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// ListTransactions handles GET /batches/{id}/transactions?alert_type=.
// alert_type takes a label such as "Structuring", or "none" for unflagged
// rows.
func (h *Handler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	batchID := chi.URLParam(r, "id")

	if h.repo == nil {
		writeError(w, http.StatusServiceUnavailable, "repository not available")
		return
	}

	filter, ok := parseAlertType(r.URL.Query().Get("alert_type"))
	if !ok {
		writeError(w, http.StatusBadRequest, "unknown alert_type")
		return
	}

	if _, err := h.repo.GetBatch(ctx, batchID); err != nil {
		h.repoError(w, "failed to get batch", err)
		return
	}

	txs, err := h.repo.ListTransactions(ctx, batchID, filter)
	if err != nil {
		h.repoError(w, "failed to list transactions", err)
		return
	}

	views := make([]TransactionView, len(txs))
	for i := range txs {
		views[i] = TransactionView{
			Transaction:  txs[i],
			IsFlagged:    txs[i].Flagged(),
			MatchedRules: txs[i].Matches.Types(),
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"batchId":      batchID,
		"count":        len(views),
		"transactions": views,
	})
}

func parseAlertType(v string) (*domain.AlertType, bool) {
	if v == "" {
		return nil, true
	}
	if strings.EqualFold(v, AlertTypeNone) {
		none := domain.AlertNone
		return &none, true
	}
	for _, a := range domain.AlertPriority {
		if strings.EqualFold(v, string(a)) {
			return &a, true
		}
	}
	return nil, false
}

func (h *Handler) repoError(w http.ResponseWriter, msg string, err error) {
	switch {
	case errors.Is(err, repository.ErrNotFound):
		writeError(w, http.StatusNotFound, "batch not found")
	case errors.Is(err, repository.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		slog.Error(msg, "error", err)
		writeError(w, http.StatusInternalServerError, msg)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
