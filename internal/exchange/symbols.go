package exchange

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
)

// ErrUnknownSymbol is returned when user input cannot be resolved to a listed
// USDT-margined futures symbol.
var ErrUnknownSymbol = errors.New("unknown or unsupported symbol")

// DefaultQuantityPrecision is used when a symbol's precision is unavailable.
const DefaultQuantityPrecision = 3

// SymbolTable resolves user symbol input (BTC, BTCUSDT, HYPE) to the listed
// exchange symbol (BTCUSDT, 1000HYPEUSDT) and caches per-symbol quantity
// precision from exchangeInfo.
type SymbolTable struct {
	mu           sync.RWMutex
	loaded       bool
	validSymbols map[string]struct{}
	baseToSymbol map[string]string
	qtyPrecision map[string]int

	client Client
}

// NewSymbolTable creates a SymbolTable backed by the given client.
func NewSymbolTable(client Client) *SymbolTable {
	return &SymbolTable{
		validSymbols: make(map[string]struct{}),
		baseToSymbol: make(map[string]string),
		qtyPrecision: make(map[string]int),
		client:       client,
	}
}

// Load fetches exchangeInfo and populates the table. Safe to call more than
// once; subsequent calls refresh the cached metadata.
func (t *SymbolTable) Load(ctx context.Context) error {
	info, err := t.client.GetExchangeInfo(ctx)
	if err != nil {
		return fmt.Errorf("failed to load exchange info: %w", err)
	}

	valid := make(map[string]struct{}, len(info.Symbols))
	baseToSymbol := make(map[string]string, len(info.Symbols))
	qtyPrecision := make(map[string]int, len(info.Symbols))

	for _, s := range info.Symbols {
		sym := strings.TrimSpace(s.Symbol)
		base := strings.TrimSpace(s.BaseAsset)
		if sym == "" || s.QuoteAsset != "USDT" || strings.ToUpper(s.Status) != "TRADING" {
			continue
		}
		valid[sym] = struct{}{}
		qtyPrecision[sym] = s.QuantityPrecision
		baseToSymbol[base] = sym
		// Map the shortened base to the listed symbol, e.g. HYPE -> 1000HYPEUSDT
		// when the exchange lists the base as 1000HYPE.
		if strings.HasPrefix(base, "1000") && len(base) > 4 {
			baseToSymbol[base[4:]] = sym
		}
	}

	t.mu.Lock()
	t.validSymbols = valid
	t.baseToSymbol = baseToSymbol
	t.qtyPrecision = qtyPrecision
	t.loaded = true
	t.mu.Unlock()
	return nil
}

// Loaded reports whether exchange metadata has been fetched.
func (t *SymbolTable) Loaded() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.loaded
}

// Resolve converts user input (BTC, btcusdt, HYPE) to the listed futures
// symbol. Returns ErrUnknownSymbol when no listed symbol matches.
func (t *SymbolTable) Resolve(userInput string) (string, error) {
	input := strings.ToUpper(strings.TrimSpace(userInput))
	if input == "" {
		return "", fmt.Errorf("%w: empty symbol", ErrUnknownSymbol)
	}

	t.mu.RLock()
	defer t.mu.RUnlock()

	if _, ok := t.validSymbols[input]; ok {
		return input, nil
	}
	base := strings.TrimSuffix(input, "USDT")
	if sym, ok := t.baseToSymbol[base]; ok {
		return sym, nil
	}
	candidate := base + "USDT"
	if _, ok := t.validSymbols[candidate]; ok {
		return candidate, nil
	}
	return "", fmt.Errorf("%w: %q not listed on USD-M futures", ErrUnknownSymbol, userInput)
}

// QuantityPrecision returns the decimal precision for a resolved symbol,
// falling back to DefaultQuantityPrecision when unknown.
func (t *SymbolTable) QuantityPrecision(symbol string) int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if prec, ok := t.qtyPrecision[symbol]; ok {
		return prec
	}
	return DefaultQuantityPrecision
}

// TruncateQuantity truncates a quantity toward zero to the given decimal
// precision. Truncation (never rounding up) keeps the executed notional at or
// below the requested notional.
func TruncateQuantity(qty float64, precision int) float64 {
	if precision < 0 {
		precision = 0
	}
	if precision > 8 {
		precision = 8
	}
	factor := math.Pow10(precision)
	return math.Trunc(qty*factor) / factor
}
