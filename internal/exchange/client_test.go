package exchange

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func testClient(t *testing.T, handler http.HandlerFunc) *RESTClient {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return NewRESTClient("test-key", "test-secret", server.URL, false, 5*time.Second, zerolog.Nop())
}

func TestSignedRequestShape(t *testing.T) {
	var gotKey, gotSig, gotRecv string
	client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.Header.Get("X-MBX-APIKEY")
		gotSig = r.URL.Query().Get("signature")
		gotRecv = r.URL.Query().Get("recvWindow")
		w.Write([]byte(`[]`))
	})

	if _, err := client.GetPositions(context.Background()); err != nil {
		t.Fatalf("request failed: %v", err)
	}
	if gotKey != "test-key" {
		t.Errorf("expected API key header, got %q", gotKey)
	}
	if gotSig == "" {
		t.Error("expected signature parameter")
	}
	if gotRecv != recvWindow {
		t.Errorf("expected recvWindow %s, got %q", recvWindow, gotRecv)
	}
}

func TestPlaceBatchOrdersPayload(t *testing.T) {
	var batchParam string
	client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		batchParam = r.URL.Query().Get("batchOrders")
		w.Write([]byte(`[{"orderId":1,"symbol":"BTCUSDT","status":"FILLED","origQty":"0.020","price":"0","avgPrice":"50000","executedQty":"0.020","cumQuote":"1000"}]`))
	})

	results, err := client.PlaceBatchOrders(context.Background(), []OrderParams{
		{Symbol: "BTCUSDT", Side: "BUY", Type: OrderTypeMarket, Quantity: 0.02, QuantityPrecision: 3},
	})
	if err != nil {
		t.Fatalf("batch failed: %v", err)
	}
	if len(results) != 1 || results[0].OrderID != 1 {
		t.Fatalf("unexpected results: %+v", results)
	}

	var payload []map[string]string
	if err := json.Unmarshal([]byte(batchParam), &payload); err != nil {
		t.Fatalf("batchOrders is not valid JSON: %v", err)
	}
	if len(payload) != 1 {
		t.Fatalf("expected 1 order in payload, got %d", len(payload))
	}
	// Quantity is serialized at the symbol's precision.
	if payload[0]["quantity"] != "0.020" {
		t.Errorf("expected quantity 0.020, got %q", payload[0]["quantity"])
	}
	if _, ok := payload[0]["price"]; ok {
		t.Error("market order payload must not carry a price")
	}
}

func TestOrderParamsToValuesLimit(t *testing.T) {
	values := orderParamsToValues(OrderParams{
		Symbol:            "ETHUSDT",
		Side:              "SELL",
		Type:              OrderTypeLimit,
		Quantity:          1.5,
		Price:             2100,
		ReduceOnly:        true,
		QuantityPrecision: 2,
	})

	if values["quantity"] != "1.50" {
		t.Errorf("expected quantity 1.50, got %q", values["quantity"])
	}
	if values["price"] != "2100" {
		t.Errorf("expected price 2100, got %q", values["price"])
	}
	if values["timeInForce"] != string(TimeInForceGTC) {
		t.Errorf("expected GTC default, got %q", values["timeInForce"])
	}
	if values["reduceOnly"] != "true" {
		t.Errorf("expected reduceOnly true, got %q", values["reduceOnly"])
	}
}

func TestAPIErrorParsing(t *testing.T) {
	client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"code":-2019,"msg":"Margin is insufficient."}`))
	})

	_, err := client.SetLeverage(context.Background(), "BTCUSDT", 10)
	if err == nil {
		t.Fatal("expected error")
	}

	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %T", err)
	}
	if apiErr.Code != -2019 || apiErr.StatusCode != http.StatusBadRequest {
		t.Errorf("unexpected error: %+v", apiErr)
	}
}

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"server error", &APIError{StatusCode: 503}, true},
		{"gateway timeout", &APIError{StatusCode: 504}, true},
		{"client rejection", &APIError{StatusCode: 400, Code: -2019}, false},
		{"network error", &net.OpError{Op: "dial", Err: errors.New("refused")}, true},
		{"plain error", errors.New("boom"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsTransient(tt.err); got != tt.want {
				t.Errorf("IsTransient(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}
