package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/opensource-finance/fincrime-signals/internal/bus"
	"github.com/opensource-finance/fincrime-signals/internal/cache"
	"github.com/opensource-finance/fincrime-signals/internal/domain"
	"github.com/opensource-finance/fincrime-signals/internal/repository"
)

var serverCfg = domain.ServerConfig{
	Host:         "localhost",
	Port:         8080,
	ReadTimeout:  30,
	WriteTimeout: 30,
}

func newRepo(t *testing.T) domain.Repository {
	t.Helper()
	repo, err := repository.New(domain.RepositoryConfig{
		Driver:     domain.DriverSQLite,
		SQLitePath: filepath.Join(t.TempDir(), "api.db"),
	})
	if err != nil {
		t.Fatalf("repository.New failed: %v", err)
	}
	t.Cleanup(func() { repo.Close() })
	return repo
}

func seedBatch(t *testing.T, repo domain.Repository, id string, created time.Time) *domain.BatchRecord {
	t.Helper()
	ts := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	txs := []domain.Transaction{
		{
			ID: "TX000000000001", CustomerID: "c-1", Timestamp: ts,
			Amount: decimal.RequireFromString("9500"), Currency: "USD",
			OriginCountry: "France", DestinationCountry: "Kenya",
			Channel: "Online", Type: "Transfer", CounterpartyType: "Individual",
			CrossBorder: true, DeviceID: "c-1-dev-1",
			AlertType: domain.AlertCorridor,
			Matches:   domain.RuleBit(domain.AlertCorridor).With(domain.AlertStructuring),
		},
		{
			ID: "TX000000000002", CustomerID: "c-2", Timestamp: ts.Add(time.Hour),
			Amount: decimal.RequireFromString("12.5"), Currency: "EUR",
			OriginCountry: "France", DestinationCountry: "France",
			Channel: "Mobile", Type: "Payment", CounterpartyType: "Merchant",
			DeviceID: "c-2-dev-1",
		},
	}
	rec := &domain.BatchRecord{
		ID: id, Seed: 42, Rows: len(txs), Months: 9,
		AsOf: ts, CreatedAt: created,
		Summary: domain.Summary{Rows: len(txs), Flagged: 1},
	}
	if err := repo.SaveBatch(context.Background(), rec, txs); err != nil {
		t.Fatalf("SaveBatch failed: %v", err)
	}
	return rec
}

func do(t *testing.T, s *Server, method, target string, body []byte) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != nil {
		req = httptest.NewRequest(method, target, bytes.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	rr := httptest.NewRecorder()
	s.Router().ServeHTTP(rr, req)
	return rr
}

func TestHealthEndpoint(t *testing.T) {
	server := NewServer(serverCfg, nil, nil, nil, "test-v1")

	t.Run("HealthCheck", func(t *testing.T) {
		rr := do(t, server, http.MethodGet, "/health", nil)
		if rr.Code != http.StatusOK {
			t.Errorf("expected status 200, got %d", rr.Code)
		}

		var resp HealthResponse
		json.Unmarshal(rr.Body.Bytes(), &resp)
		if resp.Status != "healthy" {
			t.Errorf("expected status 'healthy', got '%s'", resp.Status)
		}
		if resp.Version != "test-v1" {
			t.Errorf("expected version 'test-v1', got '%s'", resp.Version)
		}
		if resp.DroppedMessages != nil {
			t.Error("expected no dropped count without a bus")
		}
	})

	t.Run("ReadyCheck", func(t *testing.T) {
		repo := newRepo(t)
		store := cache.NewLRUCache(10)
		eventBus := bus.NewChannelBus(10)
		defer eventBus.Close()

		s := NewServer(serverCfg, repo, store, eventBus, "test-v1")
		rr := do(t, s, http.MethodGet, "/ready", nil)
		if rr.Code != http.StatusOK {
			t.Errorf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
		}

		store.Set(context.Background(), "k", []byte("v"), time.Minute)
		rr = do(t, s, http.MethodGet, "/health", nil)
		var resp HealthResponse
		json.Unmarshal(rr.Body.Bytes(), &resp)
		if resp.CacheEntries == nil || *resp.CacheEntries != 1 {
			t.Errorf("expected 1 cache entry, got %v", resp.CacheEntries)
		}
	})

	t.Run("NotReadyWhenBusClosed", func(t *testing.T) {
		eventBus := bus.NewChannelBus(10)
		eventBus.Close()

		s := NewServer(serverCfg, nil, nil, eventBus, "test-v1")
		rr := do(t, s, http.MethodGet, "/ready", nil)
		if rr.Code != http.StatusServiceUnavailable {
			t.Errorf("expected status 503, got %d", rr.Code)
		}

		rr = do(t, s, http.MethodGet, "/health", nil)
		var resp HealthResponse
		json.Unmarshal(rr.Body.Bytes(), &resp)
		if resp.Status != "degraded" {
			t.Errorf("expected degraded, got %q", resp.Status)
		}
		if resp.DroppedMessages == nil || *resp.DroppedMessages != 0 {
			t.Errorf("expected dropped count 0, got %v", resp.DroppedMessages)
		}
	})
}

func TestCreateBatch(t *testing.T) {
	eventBus := bus.NewChannelBus(10)
	defer eventBus.Close()

	requests := make(chan domain.BatchRequest, 4)
	_, err := eventBus.Subscribe(context.Background(), domain.TopicBatchRequested, func(ctx context.Context, msg *domain.Message) error {
		var req domain.BatchRequest
		if err := json.Unmarshal(msg.Payload, &req); err != nil {
			return err
		}
		requests <- req
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}

	server := NewServer(serverCfg, nil, nil, eventBus, "test-v1")

	t.Run("Accepted", func(t *testing.T) {
		body := []byte(`{"rows": 100, "months": 3, "seed": 7, "asOf": "2025-01-31"}`)
		rr := do(t, server, http.MethodPost, "/batches", body)
		if rr.Code != http.StatusAccepted {
			t.Fatalf("expected status 202, got %d: %s", rr.Code, rr.Body.String())
		}

		var resp BatchAcceptedResponse
		if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
			t.Fatalf("failed to parse response: %v", err)
		}
		if resp.RequestID == "" || resp.RequestID != rr.Header().Get(RequestIDHeader) {
			t.Errorf("request id should match the X-Request-ID header, got %q", resp.RequestID)
		}

		select {
		case req := <-requests:
			if req.RequestID != resp.RequestID {
				t.Errorf("queued request id %q, want %q", req.RequestID, resp.RequestID)
			}
			if req.Rows == nil || *req.Rows != 100 || req.Months != 3 || req.Seed == nil || *req.Seed != 7 {
				t.Errorf("unexpected queued request %+v", req)
			}
			if req.AsOf == nil || !req.AsOf.Equal(time.Date(2025, 1, 31, 0, 0, 0, 0, time.UTC)) {
				t.Errorf("unexpected as-of %v", req.AsOf)
			}
		case <-time.After(2 * time.Second):
			t.Fatal("timeout waiting for queued request")
		}
	})

	t.Run("EmptyBodyUsesDefaults", func(t *testing.T) {
		rr := do(t, server, http.MethodPost, "/batches", nil)
		if rr.Code != http.StatusAccepted {
			t.Fatalf("expected status 202, got %d: %s", rr.Code, rr.Body.String())
		}
		select {
		case req := <-requests:
			if req.Rows != nil || req.Seed != nil || req.AsOf != nil {
				t.Errorf("expected unset fields, got %+v", req)
			}
		case <-time.After(2 * time.Second):
			t.Fatal("timeout waiting for queued request")
		}
	})

	tests := []struct {
		name string
		body string
	}{
		{"InvalidJSON", "not-json"},
		{"NegativeRows", `{"rows": -1}`},
		{"TooManyRows", `{"rows": 1000001}`},
		{"NegativeMonths", `{"months": -2}`},
		{"BadAsOf", `{"asOf": "soon"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := do(t, server, http.MethodPost, "/batches", []byte(tt.body))
			if rr.Code != http.StatusBadRequest {
				t.Errorf("expected status 400, got %d", rr.Code)
			}
		})
	}

	t.Run("NoBus", func(t *testing.T) {
		s := NewServer(serverCfg, nil, nil, nil, "test-v1")
		rr := do(t, s, http.MethodPost, "/batches", []byte(`{}`))
		if rr.Code != http.StatusServiceUnavailable {
			t.Errorf("expected status 503, got %d", rr.Code)
		}
	})
}

func TestBatchQueries(t *testing.T) {
	repo := newRepo(t)
	older := seedBatch(t, repo, "batch-old", time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC))
	newer := seedBatch(t, repo, "batch-new", time.Date(2025, 3, 2, 0, 0, 0, 0, time.UTC))

	server := NewServer(serverCfg, repo, nil, nil, "test-v1")

	t.Run("List", func(t *testing.T) {
		rr := do(t, server, http.MethodGet, "/batches", nil)
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", rr.Code)
		}
		var resp struct {
			Batches []domain.BatchRecord `json:"batches"`
			Count   int                  `json:"count"`
		}
		if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
			t.Fatal(err)
		}
		if resp.Count != 2 || resp.Batches[0].ID != newer.ID || resp.Batches[1].ID != older.ID {
			t.Errorf("expected newest first, got %+v", resp.Batches)
		}
	})

	t.Run("ListLimit", func(t *testing.T) {
		rr := do(t, server, http.MethodGet, "/batches?limit=1", nil)
		var resp struct {
			Count int `json:"count"`
		}
		json.Unmarshal(rr.Body.Bytes(), &resp)
		if resp.Count != 1 {
			t.Errorf("expected 1 batch, got %d", resp.Count)
		}

		rr = do(t, server, http.MethodGet, "/batches?limit=abc", nil)
		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rr.Code)
		}
	})

	t.Run("Latest", func(t *testing.T) {
		rr := do(t, server, http.MethodGet, "/batches/latest", nil)
		var rec domain.BatchRecord
		json.Unmarshal(rr.Body.Bytes(), &rec)
		if rr.Code != http.StatusOK || rec.ID != newer.ID {
			t.Errorf("expected latest %s, got %d %s", newer.ID, rr.Code, rec.ID)
		}
	})

	t.Run("Get", func(t *testing.T) {
		rr := do(t, server, http.MethodGet, "/batches/batch-old", nil)
		var rec domain.BatchRecord
		json.Unmarshal(rr.Body.Bytes(), &rec)
		if rr.Code != http.StatusOK || rec.ID != older.ID || rec.Summary.Flagged != 1 {
			t.Errorf("unexpected response %d %+v", rr.Code, rec)
		}
	})

	t.Run("GetNotFound", func(t *testing.T) {
		rr := do(t, server, http.MethodGet, "/batches/missing", nil)
		if rr.Code != http.StatusNotFound {
			t.Errorf("expected status 404, got %d", rr.Code)
		}
	})

	t.Run("Transactions", func(t *testing.T) {
		rr := do(t, server, http.MethodGet, "/batches/batch-new/transactions", nil)
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
		}
		var resp struct {
			Count        int `json:"count"`
			Transactions []struct {
				ID           string             `json:"transactionId"`
				AlertType    domain.AlertType   `json:"alertType"`
				IsFlagged    bool               `json:"isFlagged"`
				MatchedRules []domain.AlertType `json:"matchedRules"`
			} `json:"transactions"`
		}
		if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
			t.Fatal(err)
		}
		if resp.Count != 2 {
			t.Fatalf("expected 2 transactions, got %d", resp.Count)
		}
		first := resp.Transactions[0]
		if !first.IsFlagged || first.AlertType != domain.AlertCorridor || len(first.MatchedRules) != 2 {
			t.Errorf("unexpected first transaction %+v", first)
		}
		if resp.Transactions[1].IsFlagged {
			t.Error("second transaction should not be flagged")
		}
	})

	t.Run("TransactionFilter", func(t *testing.T) {
		tests := []struct {
			query string
			want  int
		}{
			{url.QueryEscape("High-Risk Corridor"), 1},
			{"structuring", 0},
			{"none", 1},
		}
		for _, tt := range tests {
			rr := do(t, server, http.MethodGet, "/batches/batch-new/transactions?alert_type="+tt.query, nil)
			var resp struct {
				Count int `json:"count"`
			}
			json.Unmarshal(rr.Body.Bytes(), &resp)
			if rr.Code != http.StatusOK || resp.Count != tt.want {
				t.Errorf("alert_type=%s: expected %d rows, got %d (%d)", tt.query, tt.want, resp.Count, rr.Code)
			}
		}

		rr := do(t, server, http.MethodGet, "/batches/batch-new/transactions?alert_type=Fraud", nil)
		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400 for unknown alert type, got %d", rr.Code)
		}
	})

	t.Run("TransactionsUnknownBatch", func(t *testing.T) {
		rr := do(t, server, http.MethodGet, "/batches/missing/transactions", nil)
		if rr.Code != http.StatusNotFound {
			t.Errorf("expected status 404, got %d", rr.Code)
		}
	})
}

func TestLatestFromCache(t *testing.T) {
	store := cache.NewLRUCache(10)
	rec := &domain.BatchRecord{ID: "cached-batch", Rows: 5}
	if err := cache.SetSummary(context.Background(), store, rec, time.Minute); err != nil {
		t.Fatal(err)
	}

	server := NewServer(serverCfg, nil, store, nil, "test-v1")

	rr := do(t, server, http.MethodGet, "/batches/latest", nil)
	var got domain.BatchRecord
	json.Unmarshal(rr.Body.Bytes(), &got)
	if rr.Code != http.StatusOK || got.ID != "cached-batch" {
		t.Errorf("expected cached record, got %d %+v", rr.Code, got)
	}

	rr = do(t, server, http.MethodGet, "/batches/cached-batch", nil)
	if rr.Code != http.StatusOK {
		t.Errorf("expected cached lookup by id, got %d", rr.Code)
	}

	rr = do(t, server, http.MethodGet, "/batches/other", nil)
	if rr.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503 without repository on cache miss, got %d", rr.Code)
	}
}

func TestLatestEmpty(t *testing.T) {
	server := NewServer(serverCfg, newRepo(t), cache.NewLRUCache(10), nil, "test-v1")
	rr := do(t, server, http.MethodGet, "/batches/latest", nil)
	if rr.Code != http.StatusNotFound {
		t.Errorf("expected status 404, got %d", rr.Code)
	}
}

func TestMiddleware(t *testing.T) {
	server := NewServer(serverCfg, nil, nil, nil, "test-v1")

	t.Run("ResponseHeaders", func(t *testing.T) {
		rr := do(t, server, http.MethodGet, "/health", nil)
		if rr.Header().Get(RequestIDHeader) == "" {
			t.Error("expected X-Request-ID header in response")
		}
		if rr.Header().Get(TraceIDHeader) == "" {
			t.Error("expected X-Trace-ID header in response")
		}
		if rr.Header().Get("Content-Type") != "application/json" {
			t.Error("expected Content-Type: application/json")
		}
	})

	t.Run("RequestIDPropagated", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/health", nil)
		req.Header.Set(RequestIDHeader, "req-fixed")
		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)
		if rr.Header().Get(RequestIDHeader) != "req-fixed" {
			t.Errorf("expected request id to be echoed, got %q", rr.Header().Get(RequestIDHeader))
		}
	})

	preflight := func(s *Server, origin string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodOptions, "/batches", nil)
		req.Header.Set("Origin", origin)
		req.Header.Set("Access-Control-Request-Method", http.MethodPost)
		rr := httptest.NewRecorder()
		s.Router().ServeHTTP(rr, req)
		return rr
	}

	t.Run("CORSPreflight", func(t *testing.T) {
		rr := preflight(server, "http://localhost:3000")
		if rr.Code >= http.StatusBadRequest {
			t.Errorf("expected a successful preflight, got %d", rr.Code)
		}
		if rr.Header().Get("Access-Control-Allow-Origin") == "" {
			t.Error("expected any origin to be allowed")
		}
		if !strings.Contains(rr.Header().Get("Access-Control-Allow-Methods"), http.MethodPost) {
			t.Errorf("expected POST in allowed methods, got %q", rr.Header().Get("Access-Control-Allow-Methods"))
		}
	})

	t.Run("CORSAllowList", func(t *testing.T) {
		cfg := serverCfg
		cfg.AllowedOrigins = []string{"https://ops.example.com"}
		restricted := NewServer(cfg, nil, nil, nil, "test-v1")

		rr := preflight(restricted, "https://evil.example.com")
		if rr.Header().Get("Access-Control-Allow-Origin") != "" {
			t.Error("expected no CORS headers for a foreign origin")
		}

		rr = preflight(restricted, "https://ops.example.com")
		if got := rr.Header().Get("Access-Control-Allow-Origin"); got != "https://ops.example.com" {
			t.Errorf("expected allowed origin to be echoed, got %q", got)
		}

		req := httptest.NewRequest(http.MethodGet, "/health", nil)
		req.Header.Set("Origin", "https://evil.example.com")
		rr = httptest.NewRecorder()
		restricted.Router().ServeHTTP(rr, req)
		if rr.Code != http.StatusOK {
			t.Errorf("expected status 200, got %d", rr.Code)
		}
		if rr.Header().Get("Access-Control-Allow-Origin") != "" {
			t.Error("expected no CORS headers on a foreign actual request")
		}
	})

	t.Run("Recover", func(t *testing.T) {
		h := RecoverMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			panic(errors.New("boom"))
		}))
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
		if rr.Code != http.StatusInternalServerError {
			t.Errorf("expected status 500, got %d", rr.Code)
		}
	})
}
