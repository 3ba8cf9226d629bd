package exchange

import (
	"context"
	"errors"
	"testing"
)

func loadedTable(t *testing.T) *SymbolTable {
	t.Helper()

	mock := NewMockClient()
	mock.SetMarkPrice("BTCUSDT", 50000)
	mock.SetMarkPrice("1000HYPEUSDT", 0.5)
	mock.SetQuantityPrecision("BTCUSDT", 3)
	mock.SetQuantityPrecision("1000HYPEUSDT", 0)

	table := NewSymbolTable(mock)
	if err := table.Load(context.Background()); err != nil {
		t.Fatalf("failed to load table: %v", err)
	}
	return table
}

func TestResolve(t *testing.T) {
	table := loadedTable(t)

	tests := []struct {
		input string
		want  string
	}{
		{"BTC", "BTCUSDT"},
		{"btc", "BTCUSDT"},
		{"BTCUSDT", "BTCUSDT"},
		{" btcusdt ", "BTCUSDT"},
		{"HYPE", "1000HYPEUSDT"},
		{"1000HYPE", "1000HYPEUSDT"},
		{"HYPEUSDT", "1000HYPEUSDT"},
		{"1000HYPEUSDT", "1000HYPEUSDT"},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := table.Resolve(tt.input)
			if err != nil {
				t.Fatalf("resolve failed: %v", err)
			}
			if got != tt.want {
				t.Errorf("expected %s, got %s", tt.want, got)
			}
		})
	}
}

func TestResolveUnknown(t *testing.T) {
	table := loadedTable(t)

	for _, input := range []string{"", "NOPE", "NOPEUSDT"} {
		if _, err := table.Resolve(input); !errors.Is(err, ErrUnknownSymbol) {
			t.Errorf("resolve(%q): expected ErrUnknownSymbol, got %v", input, err)
		}
	}
}

func TestQuantityPrecisionFallback(t *testing.T) {
	table := loadedTable(t)

	if got := table.QuantityPrecision("BTCUSDT"); got != 3 {
		t.Errorf("expected 3, got %d", got)
	}
	if got := table.QuantityPrecision("1000HYPEUSDT"); got != 0 {
		t.Errorf("expected 0, got %d", got)
	}
	if got := table.QuantityPrecision("UNKNOWNUSDT"); got != DefaultQuantityPrecision {
		t.Errorf("expected fallback %d, got %d", DefaultQuantityPrecision, got)
	}
}

func TestTruncateQuantity(t *testing.T) {
	tests := []struct {
		name      string
		qty       float64
		precision int
		want      float64
	}{
		{"truncates down", 0.0299, 3, 0.029},
		{"never rounds up", 0.0199999, 3, 0.019},
		{"negative truncates toward zero", -0.0299, 3, -0.029},
		{"zero precision", 5.99, 0, 5},
		{"precision clamped low", 7.5, -2, 7},
		{"exact value unchanged", 0.02, 3, 0.02},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := TruncateQuantity(tt.qty, tt.precision); got != tt.want {
				t.Errorf("TruncateQuantity(%v, %d) = %v, want %v", tt.qty, tt.precision, got, tt.want)
			}
		})
	}
}
