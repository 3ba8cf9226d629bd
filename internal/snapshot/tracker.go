// Package snapshot maintains a periodically refreshed cache of live positions
// and mark prices. Readers always get the latest completed snapshot and never
// wait for a refresh in flight.
package snapshot

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"perp-trade-engine/internal/exchange"
)

// priceEntry is one cached mark price.
type priceEntry struct {
	price     float64
	fetchedAt time.Time
}

// RefreshFunc is called after each successful position refresh with the new
// snapshot.
type RefreshFunc func([]exchange.Position)

// Tracker caches positions and mark prices from the exchange.
type Tracker struct {
	mu        sync.RWMutex
	positions map[string]exchange.Position
	prices    map[string]priceEntry

	client    exchange.Client
	interval  time.Duration
	maxAge    time.Duration
	onRefresh RefreshFunc
	logger    zerolog.Logger

	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewTracker creates a Tracker refreshing at the given interval.
func NewTracker(client exchange.Client, interval time.Duration, onRefresh RefreshFunc, logger zerolog.Logger) *Tracker {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	return &Tracker{
		positions: make(map[string]exchange.Position),
		prices:    make(map[string]priceEntry),
		client:    client,
		interval:  interval,
		maxAge:    3 * interval,
		onRefresh: onRefresh,
		logger:    logger.With().Str("component", "SnapshotTracker").Logger(),
	}
}

// Start launches the background refresh loop. The first refresh happens
// immediately so callers can reconcile right after startup.
func (t *Tracker) Start(ctx context.Context) {
	t.mu.Lock()
	if t.running {
		t.mu.Unlock()
		return
	}
	ctx, t.cancel = context.WithCancel(ctx)
	t.running = true
	t.mu.Unlock()

	t.wg.Add(1)
	go t.loop(ctx)
}

// Stop halts the refresh loop and waits for it to exit.
func (t *Tracker) Stop() {
	t.mu.Lock()
	if !t.running {
		t.mu.Unlock()
		return
	}
	t.running = false
	t.cancel()
	t.mu.Unlock()

	t.wg.Wait()
}

func (t *Tracker) loop(ctx context.Context) {
	defer t.wg.Done()

	if err := t.Refresh(ctx); err != nil {
		t.logger.Warn().Err(err).Msg("Initial position refresh failed")
	}

	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := t.Refresh(ctx); err != nil {
				t.logger.Warn().Err(err).Msg("Position refresh failed, keeping previous snapshot")
			}
		}
	}
}

// Refresh fetches positions once and swaps the snapshot in. A failed refresh
// leaves the previous snapshot untouched.
func (t *Tracker) Refresh(ctx context.Context) error {
	positions, err := t.client.GetPositions(ctx)
	if err != nil {
		return err
	}

	now := time.Now()
	fresh := make(map[string]exchange.Position, len(positions))
	for _, p := range positions {
		fresh[p.Symbol] = p
	}

	t.mu.Lock()
	t.positions = fresh
	for _, p := range positions {
		if p.MarkPrice > 0 {
			t.prices[p.Symbol] = priceEntry{price: p.MarkPrice, fetchedAt: now}
		}
	}
	t.mu.Unlock()

	if t.onRefresh != nil {
		t.onRefresh(positions)
	}
	return nil
}

// SignedSize returns the latest known signed position size; 0 means flat or
// unknown. Never blocks on a refresh.
func (t *Tracker) SignedSize(symbol string) float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.positions[symbol].PositionAmt
}

// Position returns the latest snapshot entry for a symbol.
func (t *Tracker) Position(symbol string) (exchange.Position, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	p, ok := t.positions[symbol]
	return p, ok
}

// Positions returns a copy of the latest snapshot.
func (t *Tracker) Positions() []exchange.Position {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]exchange.Position, 0, len(t.positions))
	for _, p := range t.positions {
		out = append(out, p)
	}
	return out
}

// MarkPrice returns a mark price for the symbol, preferring the cached value
// when fresh and fetching on demand otherwise (symbols with no open position
// never appear in the position snapshot).
func (t *Tracker) MarkPrice(symbol string) (float64, error) {
	t.mu.RLock()
	entry, ok := t.prices[symbol]
	t.mu.RUnlock()
	if ok && time.Since(entry.fetchedAt) <= t.maxAge {
		return entry.price, nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	mp, err := t.client.GetMarkPrice(ctx, symbol)
	if err != nil {
		// A stale cached price beats no price.
		if ok {
			t.logger.Warn().Str("symbol", symbol).Err(err).Msg("Mark price fetch failed, using cached value")
			return entry.price, nil
		}
		return 0, err
	}

	t.mu.Lock()
	t.prices[symbol] = priceEntry{price: mp.MarkPrice, fetchedAt: time.Now()}
	t.mu.Unlock()
	return mp.MarkPrice, nil
}
