// Package leverage applies per-symbol leverage changes ahead of order
// placement. Changes are idempotent and best-effort: a failed change logs and
// lets the order proceed, unless applying it would leave an open position
// under-margined, which blocks that symbol.
package leverage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"perp-trade-engine/internal/exchange"
)

// ErrMarginUnsafe means the requested leverage cannot be applied without
// leaving the open position under-margined. Orders for that symbol must not
// proceed at the stale leverage.
var ErrMarginUnsafe = errors.New("leverage change would leave position under-margined")

// Result classifies one Apply call.
type Result int

const (
	// Unchanged means no exchange call was made (already at target, or no
	// target requested).
	Unchanged Result = iota
	// Applied means the exchange accepted the new leverage.
	Applied
	// Failed means the exchange rejected the change. Whether the order may
	// still proceed depends on the accompanying error.
	Failed
)

// Binance error codes that indicate the position cannot carry the requested
// leverage.
var marginUnsafeCodes = map[int]struct{}{
	-2019: {}, // Margin is insufficient
	-2027: {}, // Exceeded the maximum allowable position at current leverage
	-4161: {}, // Leverage reduction not supported with open positions
}

// Manager tracks last-known leverage per symbol and applies changes.
type Manager struct {
	mu     sync.Mutex
	known  map[string]int
	client exchange.Client
	logger zerolog.Logger
}

// NewManager creates a Manager.
func NewManager(client exchange.Client, logger zerolog.Logger) *Manager {
	return &Manager{
		known:  make(map[string]int),
		client: client,
		logger: logger.With().Str("component", "LeverageManager").Logger(),
	}
}

// Seed records leverage observed from a position snapshot without calling the
// exchange, so a matching Apply becomes a no-op.
func (m *Manager) Seed(symbol string, leverage int) {
	if leverage < 1 {
		return
	}
	m.mu.Lock()
	m.known[symbol] = leverage
	m.mu.Unlock()
}

// Known returns the last-known leverage for a symbol (0 if never observed).
func (m *Manager) Known(symbol string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.known[symbol]
}

// Apply sets the symbol's leverage to target. A target of 0 means "leave
// unchanged". Re-applying the last-known value makes no exchange call.
//
// On failure the error is returned either way; callers must block the
// symbol's order only when errors.Is(err, ErrMarginUnsafe).
func (m *Manager) Apply(ctx context.Context, symbol string, target int) (Result, error) {
	if target <= 0 {
		return Unchanged, nil
	}

	m.mu.Lock()
	current, seen := m.known[symbol]
	m.mu.Unlock()
	if seen && current == target {
		m.logger.Debug().Str("symbol", symbol).Int("leverage", target).Msg("Leverage already at target, skipping")
		return Unchanged, nil
	}

	resp, err := m.client.SetLeverage(ctx, symbol, target)
	if err != nil {
		if marginUnsafe(err) {
			m.logger.Error().Str("symbol", symbol).Int("leverage", target).Err(err).
				Msg("Leverage change refused as margin-unsafe, blocking symbol")
			return Failed, fmt.Errorf("%w: %v", ErrMarginUnsafe, err)
		}
		m.logger.Warn().Str("symbol", symbol).Int("leverage", target).Err(err).
			Msg("Leverage change failed, proceeding at current leverage")
		return Failed, fmt.Errorf("failed to set leverage for %s: %w", symbol, err)
	}

	m.mu.Lock()
	m.known[symbol] = resp.Leverage
	m.mu.Unlock()

	m.logger.Info().Str("symbol", symbol).Int("leverage", resp.Leverage).Msg("Leverage updated")
	return Applied, nil
}

// marginUnsafe classifies an exchange error as one that makes trading at the
// requested leverage unsafe rather than merely unavailable.
func marginUnsafe(err error) bool {
	if errors.Is(err, ErrMarginUnsafe) {
		return true
	}
	var apiErr *exchange.APIError
	if errors.As(err, &apiErr) {
		if _, ok := marginUnsafeCodes[apiErr.Code]; ok {
			return true
		}
		return strings.Contains(strings.ToLower(apiErr.Message), "margin")
	}
	return false
}
