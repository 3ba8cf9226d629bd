package leverage

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"

	"perp-trade-engine/internal/exchange"
)

func TestApplySetsAndCaches(t *testing.T) {
	mock := exchange.NewMockClient()
	m := NewManager(mock, zerolog.Nop())

	res, err := m.Apply(context.Background(), "BTCUSDT", 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res != Applied {
		t.Fatalf("expected Applied, got %v", res)
	}
	if got := m.Known("BTCUSDT"); got != 10 {
		t.Errorf("expected cached leverage 10, got %d", got)
	}

	// Second apply at the same target must not call the exchange again.
	res, err = m.Apply(context.Background(), "BTCUSDT", 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res != Unchanged {
		t.Errorf("expected Unchanged on repeat apply, got %v", res)
	}
	if calls := len(mock.LeverageCalls); calls != 1 {
		t.Errorf("expected exactly 1 exchange call, got %d", calls)
	}
}

func TestApplyZeroTargetIsNoop(t *testing.T) {
	mock := exchange.NewMockClient()
	m := NewManager(mock, zerolog.Nop())

	res, err := m.Apply(context.Background(), "BTCUSDT", 0)
	if err != nil || res != Unchanged {
		t.Errorf("expected Unchanged with no error, got %v %v", res, err)
	}
	if len(mock.LeverageCalls) != 0 {
		t.Errorf("expected no exchange calls, got %d", len(mock.LeverageCalls))
	}
}

func TestSeedMakesApplyIdempotent(t *testing.T) {
	mock := exchange.NewMockClient()
	m := NewManager(mock, zerolog.Nop())

	m.Seed("ETHUSDT", 5)
	res, err := m.Apply(context.Background(), "ETHUSDT", 5)
	if err != nil || res != Unchanged {
		t.Errorf("expected Unchanged after seed, got %v %v", res, err)
	}
	if len(mock.LeverageCalls) != 0 {
		t.Errorf("expected no exchange calls after seed, got %d", len(mock.LeverageCalls))
	}
}

func TestApplyBestEffortFailure(t *testing.T) {
	mock := exchange.NewMockClient()
	mock.FailLeverage("BTCUSDT", &exchange.APIError{StatusCode: 400, Code: -4028, Message: "Invalid leverage"})
	m := NewManager(mock, zerolog.Nop())

	res, err := m.Apply(context.Background(), "BTCUSDT", 125)
	if res != Failed {
		t.Fatalf("expected Failed, got %v", res)
	}
	if err == nil {
		t.Fatal("expected an error")
	}
	if errors.Is(err, ErrMarginUnsafe) {
		t.Error("an invalid-leverage rejection must not be classified margin-unsafe")
	}
}

func TestApplyMarginUnsafeBlocks(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{"margin insufficient code", &exchange.APIError{StatusCode: 400, Code: -2019, Message: "Margin is insufficient."}},
		{"leverage reduction code", &exchange.APIError{StatusCode: 400, Code: -4161, Message: "Leverage reduction is not supported"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock := exchange.NewMockClient()
			mock.FailLeverage("BTCUSDT", tt.err)
			m := NewManager(mock, zerolog.Nop())

			_, err := m.Apply(context.Background(), "BTCUSDT", 2)
			if !errors.Is(err, ErrMarginUnsafe) {
				t.Errorf("expected ErrMarginUnsafe, got %v", err)
			}
		})
	}
}
