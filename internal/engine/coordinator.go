package engine

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"perp-trade-engine/internal/exchange"
	"perp-trade-engine/internal/ledger"
	"perp-trade-engine/internal/leverage"
	"perp-trade-engine/internal/reconcile"
)

// Summary totals the per-order outcomes of one batch execution.
type Summary struct {
	Placed   int `json:"placed"`   // accepted, not yet final
	Filled   int `json:"filled"`
	Rejected int `json:"rejected"`
	Failed   int `json:"failed"`
}

// Total returns the number of orders the batch accounted for.
func (s Summary) Total() int {
	return s.Placed + s.Filled + s.Rejected + s.Failed
}

// Coordinator executes reconciled orders against the exchange: leverage
// first, then orders in chunks of at most maxBatchSize, sequentially. A
// transport failure retries the whole chunk exactly once after a backoff.
// Every order ends up with exactly one ledger record.
type Coordinator struct {
	client   exchange.Client
	leverage *leverage.Manager
	store    ledger.Store
	logger   zerolog.Logger

	maxBatchSize int
	retryDelay   time.Duration
	budget       time.Duration

	// Per-symbol locks serialize execution touching the same symbol across
	// concurrent batches.
	lockMu      sync.Mutex
	symbolLocks map[string]*sync.Mutex
}

// NewCoordinator creates a Coordinator.
func NewCoordinator(client exchange.Client, lev *leverage.Manager, store ledger.Store,
	maxBatchSize int, retryDelay, budget time.Duration, logger zerolog.Logger) *Coordinator {
	if maxBatchSize < 1 {
		maxBatchSize = 5
	}
	return &Coordinator{
		client:       client,
		leverage:     lev,
		store:        store,
		logger:       logger.With().Str("component", "Coordinator").Logger(),
		maxBatchSize: maxBatchSize,
		retryDelay:   retryDelay,
		budget:       budget,
		symbolLocks:  make(map[string]*sync.Mutex),
	}
}

// Execute runs one batch to completion within the wall-clock budget. Orders
// that never start because the budget ran out are recorded as Failed, never
// left Pending.
func (c *Coordinator) Execute(ctx context.Context, batchID string, orders []reconcile.Result) Summary {
	if len(orders) == 0 {
		return Summary{}
	}

	unlock := c.lockSymbols(orders)
	defer unlock()

	ctx, cancel := context.WithTimeout(ctx, c.budget)
	defer cancel()

	var summary Summary

	// Leverage changes first, so orders land at the requested leverage.
	// A margin-unsafe refusal drops that symbol's order before placement.
	executable := orders[:0:0]
	for _, o := range orders {
		if blocked := c.applyLeverage(ctx, batchID, o); blocked {
			c.appendRecord(batchID, o, 0, ledger.Record{
				Status: ledger.StatusFailed,
				Detail: "order blocked: leverage change refused as margin-unsafe",
			})
			summary.Failed++
			continue
		}
		executable = append(executable, o)
	}

	for start := 0; start < len(executable); start += c.maxBatchSize {
		end := start + c.maxBatchSize
		if end > len(executable) {
			end = len(executable)
		}
		chunk := executable[start:end]

		if ctx.Err() != nil {
			// Budget exhausted before this chunk started.
			for _, o := range chunk {
				c.appendRecord(batchID, o, 0, ledger.Record{
					Status: ledger.StatusFailed,
					Detail: "batch budget exhausted before order was submitted",
				})
				summary.Failed++
			}
			continue
		}
		c.submitChunk(ctx, batchID, chunk, &summary)
	}

	c.logger.Info().Str("batch_id", batchID).
		Int("placed", summary.Placed).Int("filled", summary.Filled).
		Int("rejected", summary.Rejected).Int("failed", summary.Failed).
		Msg("Batch execution finished")
	return summary
}

// applyLeverage applies a per-order leverage request and records the attempt.
// Returns true when the symbol's order must not proceed.
func (c *Coordinator) applyLeverage(ctx context.Context, batchID string, o reconcile.Result) bool {
	res, err := c.leverage.Apply(ctx, o.Symbol, o.Leverage)
	if res == leverage.Unchanged {
		return false
	}

	rec := ledger.Record{
		BatchID:   batchID,
		EventType: ledger.EventLeverage,
		Symbol:    o.Symbol,
		Leverage:  o.Leverage,
		Status:    ledger.StatusFilled,
	}
	if err != nil {
		rec.Status = ledger.StatusFailed
		rec.Detail = err.Error()
	}
	if appendErr := c.store.Append(context.WithoutCancel(ctx), rec); appendErr != nil {
		c.logger.Error().Err(appendErr).Str("symbol", o.Symbol).Msg("Failed to append leverage record")
	}

	return errors.Is(err, leverage.ErrMarginUnsafe)
}

// submitChunk places one chunk, retrying exactly once on a transport failure.
func (c *Coordinator) submitChunk(ctx context.Context, batchID string, chunk []reconcile.Result, summary *Summary) {
	params := make([]exchange.OrderParams, len(chunk))
	for i, o := range chunk {
		params[i] = orderParams(o)
	}

	retries := 0
	results, err := c.client.PlaceBatchOrders(ctx, params)
	if err != nil && exchange.IsTransient(err) {
		c.logger.Warn().Str("batch_id", batchID).Err(err).
			Dur("retry_in", c.retryDelay).Msg("Chunk failed at transport level, retrying once")

		select {
		case <-ctx.Done():
		case <-time.After(c.retryDelay):
		}

		retries = 1
		results, err = c.client.PlaceBatchOrders(ctx, params)
	}

	if err != nil {
		// Nothing from this chunk reached the book as far as we know.
		for _, o := range chunk {
			c.appendRecord(batchID, o, retries, ledger.Record{
				Status: ledger.StatusFailed,
				Detail: err.Error(),
			})
			summary.Failed++
		}
		return
	}

	for i, o := range chunk {
		if i >= len(results) {
			c.appendRecord(batchID, o, retries, ledger.Record{
				Status: ledger.StatusFailed,
				Detail: "exchange returned no outcome for this order",
			})
			summary.Failed++
			continue
		}

		res := results[i]
		if res.Rejected() {
			c.appendRecord(batchID, o, retries, ledger.Record{
				Status: ledger.StatusRejected,
				Detail: res.Msg,
			})
			summary.Rejected++
			continue
		}

		status := statusFromExchange(res.Status)
		c.appendRecord(batchID, o, retries, ledger.Record{
			Status:        status,
			OrderID:       res.OrderID,
			ClientOrderID: res.ClientOrderID,
			Price:         res.AvgPrice,
		})
		switch status {
		case ledger.StatusFilled:
			summary.Filled++
		case ledger.StatusRejected:
			summary.Rejected++
		default:
			summary.Placed++
		}
	}
}

// appendRecord writes the single placed record for one order attempt,
// merging the order's identity into the outcome fields.
func (c *Coordinator) appendRecord(batchID string, o reconcile.Result, retries int, outcome ledger.Record) {
	rec := ledger.Record{
		BatchID:       batchID,
		EventType:     ledger.EventPlaced,
		Symbol:        o.Symbol,
		Status:        outcome.Status,
		Side:          o.OrderSide,
		OrderType:     string(o.OrderType),
		Quantity:      absQuantity(o),
		Price:         outcome.Price,
		Leverage:      o.Leverage,
		ReduceOnly:    o.ReduceOnly,
		OrderID:       outcome.OrderID,
		ClientOrderID: outcome.ClientOrderID,
		RetryCount:    retries,
		Detail:        outcome.Detail,
	}
	if rec.Price == 0 {
		rec.Price = o.LimitPrice
	}
	if err := c.store.Append(context.Background(), rec); err != nil {
		c.logger.Error().Err(err).Str("symbol", o.Symbol).Msg("Failed to append execution record")
	}
}

// lockSymbols acquires the batch's symbol locks in sorted order and returns
// the matching unlock.
func (c *Coordinator) lockSymbols(orders []reconcile.Result) func() {
	symbols := make([]string, 0, len(orders))
	seen := make(map[string]struct{}, len(orders))
	for _, o := range orders {
		if _, ok := seen[o.Symbol]; !ok {
			seen[o.Symbol] = struct{}{}
			symbols = append(symbols, o.Symbol)
		}
	}
	sort.Strings(symbols)

	locks := make([]*sync.Mutex, len(symbols))
	for i, symbol := range symbols {
		c.lockMu.Lock()
		lock, ok := c.symbolLocks[symbol]
		if !ok {
			lock = &sync.Mutex{}
			c.symbolLocks[symbol] = lock
		}
		c.lockMu.Unlock()
		lock.Lock()
		locks[i] = lock
	}

	return func() {
		for i := len(locks) - 1; i >= 0; i-- {
			locks[i].Unlock()
		}
	}
}

func orderParams(o reconcile.Result) exchange.OrderParams {
	p := exchange.OrderParams{
		Symbol:            o.Symbol,
		Side:              o.OrderSide,
		Type:              o.OrderType,
		Quantity:          absQuantity(o),
		ReduceOnly:        o.ReduceOnly,
		QuantityPrecision: o.QuantityPrecision,
	}
	if o.OrderType == exchange.OrderTypeLimit {
		p.Price = o.LimitPrice
		if p.Price == 0 {
			p.Price = o.MarkPriceUsed
		}
		p.TimeInForce = exchange.TimeInForceGTC
	}
	return p
}

func absQuantity(o reconcile.Result) float64 {
	if o.DeltaQuantity < 0 {
		return -o.DeltaQuantity
	}
	return o.DeltaQuantity
}

// statusFromExchange maps an exchange order status to the ledger's view.
func statusFromExchange(s string) ledger.Status {
	switch strings.ToUpper(s) {
	case string(exchange.OrderStatusFilled):
		return ledger.StatusFilled
	case string(exchange.OrderStatusRejected), string(exchange.OrderStatusCanceled),
		string(exchange.OrderStatusExpired):
		return ledger.StatusRejected
	default:
		// NEW, PARTIALLY_FILLED: on the book, not final.
		return ledger.StatusPending
	}
}
