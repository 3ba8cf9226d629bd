// Package reconcile computes the signed quantity delta between desired and
// live positions. Multiple intents on one symbol net into at most one order;
// quantities are truncated toward zero so the executed notional never exceeds
// the requested notional.
package reconcile

import (
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"perp-trade-engine/internal/exchange"
	"perp-trade-engine/internal/intent"
)

// ErrNoPrice means no usable mark price was available for a symbol.
var ErrNoPrice = errors.New("no mark price available")

// PositionSource yields the latest known signed position size for a symbol.
// Implementations must return immediately with the last refreshed value and
// never block on a refresh; 0 means flat.
type PositionSource interface {
	SignedSize(symbol string) float64
}

// PriceSource yields the latest known mark price for a symbol.
type PriceSource interface {
	MarkPrice(symbol string) (float64, error)
}

// Result is the net order decision for one symbol.
type Result struct {
	Symbol            string  `json:"symbol"`
	CurrentSignedSize float64 `json:"currentSignedSize"`
	DesiredSignedSize float64 `json:"desiredSignedSize"`
	DeltaQuantity     float64 `json:"deltaQuantity"` // signed, post-truncation
	OrderSide         string  `json:"orderSide"`     // BUY or SELL
	MarkPriceUsed     float64 `json:"markPriceUsed"`
	ReduceOnly        bool    `json:"reduceOnly"`

	OrderType         exchange.OrderType `json:"orderType"`
	LimitPrice        float64            `json:"limitPrice,omitempty"`
	Leverage          int                `json:"leverage,omitempty"` // 0 = unchanged
	QuantityPrecision int                `json:"-"`
}

// SymbolError reports a symbol that could not be reconciled. It blocks only
// that symbol; the rest of the batch proceeds.
type SymbolError struct {
	Symbol string
	Err    error
}

func (e SymbolError) Error() string {
	return fmt.Sprintf("reconciliation failed for %s: %v", e.Symbol, e.Err)
}

func (e SymbolError) Unwrap() error { return e.Err }

// Reconciler nets intents against live positions.
type Reconciler struct {
	positions PositionSource
	prices    PriceSource
	symbols   *exchange.SymbolTable
	logger    zerolog.Logger
}

// New creates a Reconciler.
func New(positions PositionSource, prices PriceSource, symbols *exchange.SymbolTable, logger zerolog.Logger) *Reconciler {
	return &Reconciler{
		positions: positions,
		prices:    prices,
		symbols:   symbols,
		logger:    logger.With().Str("component", "Reconciler").Logger(),
	}
}

// netTarget accumulates the intents for one symbol.
type netTarget struct {
	symbol       string
	contribution float64 // signed notional sum in USDT
	hasClose     bool
	orderType    exchange.OrderType
	limitPrice   float64
	leverage     int
}

// Reconcile computes one Result per symbol with a non-zero post-truncation
// delta. Symbols that cannot be priced come back as SymbolErrors and block
// only themselves.
func (r *Reconciler) Reconcile(intents []intent.OrderIntent) ([]Result, []SymbolError) {
	// Net per symbol, preserving first-seen symbol order so chunking and
	// ledger output are deterministic.
	var order []string
	targets := make(map[string]*netTarget)

	for _, it := range intents {
		t, ok := targets[it.Symbol]
		if !ok {
			t = &netTarget{symbol: it.Symbol, orderType: exchange.OrderTypeMarket}
			targets[it.Symbol] = t
			order = append(order, it.Symbol)
		}

		switch it.Side {
		case intent.SideLong:
			t.contribution += it.NotionalUSDT
		case intent.SideShort:
			t.contribution -= it.NotionalUSDT
		case intent.SideClose:
			t.hasClose = true
		}
		if it.OrderType == exchange.OrderTypeLimit {
			t.orderType = exchange.OrderTypeLimit
			if it.LimitPrice > 0 {
				t.limitPrice = it.LimitPrice
			}
		}
		if it.Leverage > 0 {
			t.leverage = it.Leverage
		}
	}

	results := make([]Result, 0, len(order))
	var failed []SymbolError

	for _, symbol := range order {
		t := targets[symbol]
		res, err := r.resolve(t)
		if err != nil {
			r.logger.Warn().Str("symbol", symbol).Err(err).Msg("Symbol blocked during reconciliation")
			failed = append(failed, SymbolError{Symbol: symbol, Err: err})
			continue
		}
		if res == nil {
			// Explicit no-op: already at the desired position.
			r.logger.Debug().Str("symbol", symbol).Msg("Zero delta after truncation, no order emitted")
			continue
		}
		results = append(results, *res)
	}
	return results, failed
}

// resolve turns one netted target into a Result, or nil for a no-op.
func (r *Reconciler) resolve(t *netTarget) (*Result, error) {
	price, err := r.prices.MarkPrice(t.symbol)
	if err != nil || price <= 0 {
		if err == nil {
			err = fmt.Errorf("%w: got %v", ErrNoPrice, price)
		}
		return nil, err
	}

	// Limit orders priced by the caller convert notional at the resting
	// price; everything else uses the mark price.
	quotePrice := price
	if t.orderType == exchange.OrderTypeLimit && t.limitPrice > 0 {
		quotePrice = t.limitPrice
	}

	current := r.positions.SignedSize(t.symbol)

	// A close intent targets flat; long/short contributions on top of a
	// close re-target the summed notional from zero.
	desired := t.contribution / quotePrice
	if !t.hasClose && t.contribution == 0 {
		// Nothing requested for this symbol (can happen when long and short
		// rows cancel out exactly).
		desired = current
	}

	precision := r.symbols.QuantityPrecision(t.symbol)
	delta := exchange.TruncateQuantity(desired-current, precision)
	if delta == 0 {
		return nil, nil
	}

	side := "BUY"
	if delta < 0 {
		side = "SELL"
	}

	// Close netted with fresh contributions can end up growing or flipping
	// the position; the exchange rejects reduce-only orders that do that.
	reduceOnly := t.hasClose
	if reduceOnly && desired != 0 && (desired > 0) == (delta > 0) {
		reduceOnly = false
	}

	return &Result{
		Symbol:            t.symbol,
		CurrentSignedSize: current,
		DesiredSignedSize: desired,
		DeltaQuantity:     delta,
		OrderSide:         side,
		MarkPriceUsed:     quotePrice,
		ReduceOnly:        reduceOnly,
		OrderType:         t.orderType,
		LimitPrice:        t.limitPrice,
		Leverage:          t.leverage,
		QuantityPrecision: precision,
	}, nil
}
