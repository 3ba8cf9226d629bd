package intent

import (
	"context"
	"testing"

	"github.com/rs/zerolog"

	"perp-trade-engine/internal/exchange"
)

func newTestParser(t *testing.T, limits Limits) *Parser {
	t.Helper()

	mock := exchange.NewMockClient()
	mock.SetMarkPrice("BTCUSDT", 50000)
	mock.SetMarkPrice("ETHUSDT", 2000)
	mock.SetMarkPrice("1000HYPEUSDT", 0.5)

	table := exchange.NewSymbolTable(mock)
	if err := table.Load(context.Background()); err != nil {
		t.Fatalf("failed to load symbol table: %v", err)
	}
	return NewParser(table, limits, zerolog.Nop())
}

func TestParseRows(t *testing.T) {
	p := newTestParser(t, Limits{MaxNotionalUSDT: 100000})

	rows := []Row{
		{Currency: "BTC", SizeUSDT: "1000", Direct: "Long", Lever: "10"},
		{Currency: "eth", SizeUSDT: "500", Direct: "short"},
		{Currency: "HYPE", SizeUSDT: "250", Direct: "Buy", Lever: "3"},
	}
	intents, dropped := p.ParseRows(rows)
	if len(dropped) != 0 {
		t.Fatalf("expected no drops, got %v", dropped)
	}
	if len(intents) != 3 {
		t.Fatalf("expected 3 intents, got %d", len(intents))
	}

	if intents[0].Symbol != "BTCUSDT" || intents[0].Side != SideLong || intents[0].Leverage != 10 {
		t.Errorf("unexpected first intent: %+v", intents[0])
	}
	if intents[1].Symbol != "ETHUSDT" || intents[1].Side != SideShort || intents[1].Leverage != 0 {
		t.Errorf("unexpected second intent: %+v", intents[1])
	}
	// HYPE resolves to the 1000-prefixed listing.
	if intents[2].Symbol != "1000HYPEUSDT" || intents[2].Side != SideLong {
		t.Errorf("unexpected third intent: %+v", intents[2])
	}
}

func TestParseRowsDropsInvalidIndividually(t *testing.T) {
	p := newTestParser(t, Limits{})

	rows := []Row{
		{Currency: "BTC", SizeUSDT: "1000", Direct: "Long"},
		{Currency: "", SizeUSDT: "100", Direct: "Long"},         // empty currency
		{Currency: "NOPE", SizeUSDT: "100", Direct: "Long"},     // unknown symbol
		{Currency: "ETH", SizeUSDT: "abc", Direct: "Long"},      // bad size
		{Currency: "ETH", SizeUSDT: "-5", Direct: "Long"},       // non-positive size
		{Currency: "ETH", SizeUSDT: "100", Direct: "sideways"},  // bad direction
		{Currency: "ETH", SizeUSDT: "100", Direct: "Short"},
	}
	intents, dropped := p.ParseRows(rows)
	if len(intents) != 2 {
		t.Fatalf("expected 2 surviving intents, got %d", len(intents))
	}
	if len(dropped) != 5 {
		t.Fatalf("expected 5 drops, got %d", len(dropped))
	}
	for i, d := range dropped {
		if d.Reason == "" {
			t.Errorf("drop %d has no reason", i)
		}
	}
	if dropped[0].Index != 1 || dropped[4].Index != 5 {
		t.Errorf("drop indexes wrong: %+v", dropped)
	}
}

func TestParseRowInvalidLeverKeepsOrder(t *testing.T) {
	p := newTestParser(t, Limits{})

	intents, dropped := p.ParseRows([]Row{
		{Currency: "BTC", SizeUSDT: "1000", Direct: "Long", Lever: "huge"},
	})
	if len(dropped) != 0 {
		t.Fatalf("bad lever must not drop the row, got %v", dropped)
	}
	if len(intents) != 1 || intents[0].Leverage != 0 {
		t.Errorf("expected order with leverage unchanged, got %+v", intents)
	}
}

func TestParseRowCloseNeedsNoSize(t *testing.T) {
	p := newTestParser(t, Limits{MinNotionalUSDT: 50})

	intents, dropped := p.ParseRows([]Row{
		{Currency: "BTC", Direct: "Close"},
	})
	if len(dropped) != 0 {
		t.Fatalf("close without size must parse, got %v", dropped)
	}
	if intents[0].Side != SideClose || intents[0].NotionalUSDT != 0 {
		t.Errorf("unexpected close intent: %+v", intents[0])
	}
}

func TestNotionalLimits(t *testing.T) {
	p := newTestParser(t, Limits{MaxNotionalUSDT: 1000, MinNotionalUSDT: 10})

	t.Run("oversized notional is clamped", func(t *testing.T) {
		intents, dropped := p.ParseRows([]Row{
			{Currency: "BTC", SizeUSDT: "50000", Direct: "Long"},
		})
		if len(dropped) != 0 {
			t.Fatalf("expected clamp not drop, got %v", dropped)
		}
		if intents[0].NotionalUSDT != 1000 {
			t.Errorf("expected clamp to 1000, got %v", intents[0].NotionalUSDT)
		}
	})

	t.Run("undersized notional is dropped", func(t *testing.T) {
		intents, dropped := p.ParseRows([]Row{
			{Currency: "BTC", SizeUSDT: "5", Direct: "Long"},
		})
		if len(intents) != 0 || len(dropped) != 1 {
			t.Errorf("expected drop below minimum, got %v %v", intents, dropped)
		}
	})
}

func TestParseSuggestions(t *testing.T) {
	p := newTestParser(t, Limits{MaxNotionalUSDT: 100000})

	suggestions := []Suggestion{
		{Currency: "BTC", AmountUSDT: 1000, PositionSide: "long", OrderType: "LIMIT", LimitPrice: 49000, Leverage: 5},
		{Currency: "ETH", AmountUSDT: 500, PositionSide: "short"},
		{Currency: "ETH", AmountUSDT: 0, PositionSide: "long"},     // no size
		{Currency: "BTC", AmountUSDT: 100, PositionSide: "long", OrderType: "STOP"}, // unsupported type
	}
	intents, dropped := p.ParseSuggestions(suggestions)
	if len(intents) != 2 {
		t.Fatalf("expected 2 intents, got %d", len(intents))
	}
	if len(dropped) != 2 {
		t.Fatalf("expected 2 drops, got %d", len(dropped))
	}

	if intents[0].OrderType != exchange.OrderTypeLimit || intents[0].LimitPrice != 49000 {
		t.Errorf("unexpected limit intent: %+v", intents[0])
	}
	if intents[1].OrderType != exchange.OrderTypeMarket {
		t.Errorf("expected market default, got %s", intents[1].OrderType)
	}
}
