package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"perp-trade-engine/config"
	"perp-trade-engine/internal/approval"
	"perp-trade-engine/internal/engine"
	"perp-trade-engine/internal/exchange"
	"perp-trade-engine/internal/intent"
	"perp-trade-engine/internal/ledger"
	"perp-trade-engine/internal/leverage"
	"perp-trade-engine/internal/reconcile"
	"perp-trade-engine/internal/snapshot"
)

func newTestServer(t *testing.T) (*Server, *exchange.MockClient) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	ctx := context.Background()

	mock := exchange.NewMockClient()
	mock.SetMarkPrice("BTCUSDT", 50000)
	mock.SetMarkPrice("ETHUSDT", 2000)

	table := exchange.NewSymbolTable(mock)
	if err := table.Load(ctx); err != nil {
		t.Fatalf("failed to load symbol table: %v", err)
	}

	tracker := snapshot.NewTracker(mock, time.Minute, nil, zerolog.Nop())
	if err := tracker.Refresh(ctx); err != nil {
		t.Fatalf("failed to refresh snapshot: %v", err)
	}

	parser := intent.NewParser(table, intent.Limits{MaxNotionalUSDT: 100000}, zerolog.Nop())
	reconciler := reconcile.New(tracker, tracker, table, zerolog.Nop())
	lev := leverage.NewManager(mock, zerolog.Nop())
	store := ledger.NewMemoryStore()
	coordinator := engine.NewCoordinator(mock, lev, store, 5, time.Millisecond, time.Minute, zerolog.Nop())
	gate := approval.NewMemoryStore()
	eng := engine.New(parser, reconciler, coordinator, gate, store, mock, tracker, 2, zerolog.Nop())

	server := NewServer(config.ServerConfig{Host: "127.0.0.1", Port: 0}, eng, tracker, store,
		[]HealthChecker{{Name: "exchange", Check: func(context.Context) error { return nil }}},
		zerolog.Nop())
	return server, mock
}

func doJSON(t *testing.T, server *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	server.Router().ServeHTTP(w, req)
	return w
}

func TestSubmitOperatorBatch(t *testing.T) {
	server, mock := newTestServer(t)

	w := doJSON(t, server, http.MethodPost, "/api/v1/batches",
		`{"rows":[{"currency":"BTC","size_usdt":"1000","direct":"Long","lever":"10"}]}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}

	var batch engine.Batch
	if err := json.Unmarshal(w.Body.Bytes(), &batch); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if batch.Status != engine.BatchCompleted {
		t.Errorf("expected completed batch, got %s", batch.Status)
	}
	if len(mock.PlacedOrders) != 1 {
		t.Errorf("expected one placed order, got %d", len(mock.PlacedOrders))
	}

	// Records endpoint reflects the ledger.
	w = doJSON(t, server, http.MethodGet, "/api/v1/batches/"+batch.ID+"/records", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var resp struct {
		Records []ledger.Record `json:"records"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode records: %v", err)
	}
	// leverage record + placed record
	if len(resp.Records) != 2 {
		t.Errorf("expected 2 records, got %d", len(resp.Records))
	}
}

func TestSubmitInvalidBatches(t *testing.T) {
	server, _ := newTestServer(t)

	tests := []struct {
		name string
		body string
		want int
	}{
		{"empty body", `{}`, http.StatusBadRequest},
		{"mixed input kinds", `{"rows":[{"currency":"BTC","size_usdt":"1","direct":"Long"}],"suggestions":[{"currency":"BTC","amountUsdt":1,"positionSide":"long"}]}`, http.StatusBadRequest},
		{"unknown origin", `{"origin":"robot","rows":[{"currency":"BTC","size_usdt":"1","direct":"Long"}]}`, http.StatusBadRequest},
		{"all rows invalid", `{"rows":[{"currency":"NOPE","size_usdt":"100","direct":"Long"}]}`, http.StatusUnprocessableEntity},
		{"malformed json", `{"rows":`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := doJSON(t, server, http.MethodPost, "/api/v1/batches", tt.body)
			if w.Code != tt.want {
				t.Errorf("expected %d, got %d: %s", tt.want, w.Code, w.Body.String())
			}
		})
	}
}

func TestApprovalFlowOverHTTP(t *testing.T) {
	server, mock := newTestServer(t)

	w := doJSON(t, server, http.MethodPost, "/api/v1/batches",
		`{"origin":"assistant","suggestions":[{"currency":"ETH","amountUsdt":2000,"positionSide":"long","leverage":5}]}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
	var batch engine.Batch
	if err := json.Unmarshal(w.Body.Bytes(), &batch); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if batch.Status != engine.BatchPendingApproval {
		t.Fatalf("expected pending approval, got %s", batch.Status)
	}
	if len(mock.BatchCalls) != 0 {
		t.Fatal("exchange was called before approval")
	}

	w = doJSON(t, server, http.MethodPost, "/api/v1/batches/"+batch.ID+"/approve", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 on approve, got %d: %s", w.Code, w.Body.String())
	}
	if len(mock.BatchCalls) != 1 {
		t.Errorf("expected one chunk after approval, got %d", len(mock.BatchCalls))
	}

	// Second approval conflicts.
	w = doJSON(t, server, http.MethodPost, "/api/v1/batches/"+batch.ID+"/approve", "")
	if w.Code != http.StatusConflict {
		t.Errorf("expected 409 on re-approval, got %d", w.Code)
	}
}

func TestRejectOverHTTP(t *testing.T) {
	server, mock := newTestServer(t)

	w := doJSON(t, server, http.MethodPost, "/api/v1/batches",
		`{"origin":"assistant","suggestions":[{"currency":"BTC","amountUsdt":1000,"positionSide":"short"}]}`)
	var batch engine.Batch
	if err := json.Unmarshal(w.Body.Bytes(), &batch); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}

	w = doJSON(t, server, http.MethodPost, "/api/v1/batches/"+batch.ID+"/reject", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 on reject, got %d", w.Code)
	}
	if len(mock.BatchCalls) != 0 || len(mock.PlacedOrders) != 0 {
		t.Error("rejected batch reached the exchange")
	}

	w = doJSON(t, server, http.MethodGet, "/api/v1/batches/"+batch.ID+"/records", "")
	var resp struct {
		Records []ledger.Record `json:"records"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode records: %v", err)
	}
	if len(resp.Records) != 0 {
		t.Errorf("rejected batch has %d records", len(resp.Records))
	}
}

func TestBatchNotFound(t *testing.T) {
	server, _ := newTestServer(t)

	if w := doJSON(t, server, http.MethodGet, "/api/v1/batches/missing", ""); w.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", w.Code)
	}
	if w := doJSON(t, server, http.MethodPost, "/api/v1/batches/missing/approve", ""); w.Code != http.StatusNotFound {
		t.Errorf("expected 404 on approve, got %d", w.Code)
	}
}

func TestHealthEndpoint(t *testing.T) {
	server, _ := newTestServer(t)

	w := doJSON(t, server, http.MethodGet, "/health", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "healthy") {
		t.Errorf("unexpected health body: %s", w.Body.String())
	}
}

func TestPositionsEndpoint(t *testing.T) {
	server, mock := newTestServer(t)
	mock.SetPosition("BTCUSDT", 0.5, 48000, 10)

	// Refresh through a submit-free path: hit positions before any refresh
	// shows the stale (empty) snapshot, which is the documented behavior.
	w := doJSON(t, server, http.MethodGet, "/api/v1/positions", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
}
