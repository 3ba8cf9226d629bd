package ledger

import (
	"context"
	"testing"
)

func TestMemoryStoreAppendAndQuery(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	records := []Record{
		{BatchID: "batch-1", EventType: EventLeverage, Symbol: "BTCUSDT", Status: StatusFilled, Leverage: 10},
		{BatchID: "batch-1", EventType: EventPlaced, Symbol: "BTCUSDT", Status: StatusFilled, Side: "BUY", Quantity: 0.02, OrderID: 1001},
		{BatchID: "batch-2", EventType: EventPlaced, Symbol: "ETHUSDT", Status: StatusRejected, Side: "SELL", Detail: "Margin is insufficient."},
		{EventType: EventStatusUpdate, Symbol: "BTCUSDT", Status: StatusFilled, OrderID: 1001},
	}
	for _, rec := range records {
		if err := s.Append(ctx, rec); err != nil {
			t.Fatalf("append failed: %v", err)
		}
	}

	t.Run("records get ids and timestamps", func(t *testing.T) {
		recent, err := s.Recent(ctx, 10)
		if err != nil {
			t.Fatalf("recent failed: %v", err)
		}
		for _, rec := range recent {
			if rec.ID == "" {
				t.Error("record missing generated id")
			}
			if rec.CreatedAt.IsZero() {
				t.Error("record missing timestamp")
			}
		}
	})

	t.Run("by batch", func(t *testing.T) {
		got, err := s.ByBatch(ctx, "batch-1")
		if err != nil {
			t.Fatalf("by batch failed: %v", err)
		}
		if len(got) != 2 {
			t.Fatalf("expected 2 records for batch-1, got %d", len(got))
		}
		if got[0].EventType != EventLeverage || got[1].EventType != EventPlaced {
			t.Error("records not returned in append order")
		}
	})

	t.Run("by order follows lifecycle", func(t *testing.T) {
		got, err := s.ByOrder(ctx, "BTCUSDT", 1001)
		if err != nil {
			t.Fatalf("by order failed: %v", err)
		}
		if len(got) != 2 {
			t.Fatalf("expected placed + status_update, got %d records", len(got))
		}
		if got[1].EventType != EventStatusUpdate {
			t.Errorf("expected status_update last, got %s", got[1].EventType)
		}
	})

	t.Run("recent is newest first", func(t *testing.T) {
		got, err := s.Recent(ctx, 2)
		if err != nil {
			t.Fatalf("recent failed: %v", err)
		}
		if len(got) != 2 {
			t.Fatalf("expected 2 records, got %d", len(got))
		}
		if got[0].EventType != EventStatusUpdate {
			t.Errorf("expected newest record first, got %s", got[0].EventType)
		}
	})
}
