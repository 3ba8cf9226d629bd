// Package engine ties intent parsing, reconciliation, leverage, approval and
// execution together behind the operations collaborators call: submit a
// batch, approve or reject it, and read its execution status from the ledger.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"perp-trade-engine/internal/approval"
	"perp-trade-engine/internal/exchange"
	"perp-trade-engine/internal/intent"
	"perp-trade-engine/internal/ledger"
	"perp-trade-engine/internal/reconcile"
	"perp-trade-engine/internal/snapshot"
)

var (
	// ErrBatchNotFound means no batch exists for the given id.
	ErrBatchNotFound = errors.New("batch not found")
	// ErrNoValidIntents means every input row failed validation.
	ErrNoValidIntents = errors.New("no valid intents in batch")
	// ErrNotGated means the batch has no approval ticket (operator batches
	// execute immediately and cannot be approved or rejected).
	ErrNotGated = errors.New("batch is not approval-gated")
)

// BatchStatus is the lifecycle state of a batch.
type BatchStatus string

const (
	BatchPendingApproval BatchStatus = "PENDING_APPROVAL"
	BatchExecuting       BatchStatus = "EXECUTING"
	BatchCompleted       BatchStatus = "COMPLETED"
	BatchRejected        BatchStatus = "REJECTED"
	BatchCancelled       BatchStatus = "CANCELLED"
)

// Batch is one submitted set of intents and its execution outcome.
type Batch struct {
	ID         string               `json:"id"`
	Origin     intent.Origin        `json:"origin"`
	Status     BatchStatus          `json:"status"`
	Intents    []intent.OrderIntent `json:"intents"`
	Dropped    []intent.Dropped     `json:"dropped,omitempty"`
	Blocked    []string             `json:"blocked,omitempty"` // per-symbol pre-flight failures
	Summary    Summary              `json:"summary"`
	CreatedAt  time.Time            `json:"createdAt"`
	FinishedAt *time.Time           `json:"finishedAt,omitempty"`
}

// Engine is the orchestration facade.
type Engine struct {
	parser      *intent.Parser
	reconciler  *reconcile.Reconciler
	coordinator *Coordinator
	gate        approval.Store
	store       ledger.Store
	client      exchange.Client
	tracker     *snapshot.Tracker
	logger      zerolog.Logger

	defaultLeverage int

	mu      sync.RWMutex
	batches map[string]*Batch
}

// New creates an Engine.
func New(parser *intent.Parser, reconciler *reconcile.Reconciler, coordinator *Coordinator,
	gate approval.Store, store ledger.Store, client exchange.Client, tracker *snapshot.Tracker,
	defaultLeverage int, logger zerolog.Logger) *Engine {
	return &Engine{
		parser:          parser,
		reconciler:      reconciler,
		coordinator:     coordinator,
		gate:            gate,
		store:           store,
		client:          client,
		tracker:         tracker,
		logger:          logger.With().Str("component", "Engine").Logger(),
		defaultLeverage: defaultLeverage,
		batches:         make(map[string]*Batch),
	}
}

// SubmitRows submits a batch of tabular rows.
func (e *Engine) SubmitRows(ctx context.Context, rows []intent.Row, origin intent.Origin) (*Batch, error) {
	intents, dropped := e.parser.ParseRows(rows)
	return e.submit(ctx, intents, dropped, origin)
}

// SubmitSuggestions submits a batch of structured suggestions.
func (e *Engine) SubmitSuggestions(ctx context.Context, suggestions []intent.Suggestion, origin intent.Origin) (*Batch, error) {
	intents, dropped := e.parser.ParseSuggestions(suggestions)
	return e.submit(ctx, intents, dropped, origin)
}

func (e *Engine) submit(ctx context.Context, intents []intent.OrderIntent, dropped []intent.Dropped, origin intent.Origin) (*Batch, error) {
	if len(intents) == 0 {
		return nil, fmt.Errorf("%w: %d rows dropped", ErrNoValidIntents, len(dropped))
	}

	// Orders without an explicit leverage get the configured default; close
	// intents never touch leverage.
	for i := range intents {
		if intents[i].Side != intent.SideClose && intents[i].Leverage == 0 {
			intents[i].Leverage = e.defaultLeverage
		}
	}

	b := &Batch{
		ID:        uuid.New().String(),
		Origin:    origin,
		Intents:   intents,
		Dropped:   dropped,
		CreatedAt: time.Now().UTC(),
	}

	if origin == intent.OriginAssistant {
		// Gated: no exchange interaction of any kind until approval.
		// Reconciliation runs at approval time against fresh positions.
		if _, err := e.gate.Create(ctx, approval.Ticket{
			ID:         b.ID,
			BatchID:    b.ID,
			OrderCount: len(intents),
		}); err != nil {
			return nil, fmt.Errorf("failed to create approval ticket: %w", err)
		}
		b.Status = BatchPendingApproval
		e.putBatch(b)
		e.logger.Info().Str("batch_id", b.ID).Int("intents", len(intents)).
			Msg("Assistant batch waiting for approval")
		return e.Batch(b.ID)
	}

	b.Status = BatchExecuting
	e.putBatch(b)
	e.execute(ctx, b)
	return e.Batch(b.ID)
}

// Approve releases a gated batch for execution. Exactly one approval wins;
// re-approving a decided ticket fails without touching the exchange.
func (e *Engine) Approve(ctx context.Context, batchID, decidedBy string) (*Batch, error) {
	b, err := e.gatedBatch(batchID)
	if err != nil {
		return nil, err
	}
	if _, err := e.gate.Decide(ctx, batchID, approval.StateApproved, decidedBy); err != nil {
		return nil, err
	}

	e.setStatus(b, BatchExecuting)
	e.execute(ctx, b)
	return e.Batch(batchID)
}

// Reject discards a gated batch. No execution records are produced.
func (e *Engine) Reject(ctx context.Context, batchID, decidedBy string) (*Batch, error) {
	b, err := e.gatedBatch(batchID)
	if err != nil {
		return nil, err
	}
	if _, err := e.gate.Decide(ctx, batchID, approval.StateRejected, decidedBy); err != nil {
		return nil, err
	}
	e.setStatus(b, BatchRejected)
	e.logger.Info().Str("batch_id", batchID).Str("decided_by", decidedBy).Msg("Batch rejected")
	return e.Batch(batchID)
}

// Cancel withdraws a batch that is still waiting for approval. Executing or
// finished batches cannot be cancelled.
func (e *Engine) Cancel(ctx context.Context, batchID string) (*Batch, error) {
	b, err := e.gatedBatch(batchID)
	if err != nil {
		return nil, err
	}
	if _, err := e.gate.Decide(ctx, batchID, approval.StateCancelled, "submitter"); err != nil {
		return nil, err
	}
	e.setStatus(b, BatchCancelled)
	return e.Batch(batchID)
}

// ExecutionStatus returns the ledger records for a batch, the sole source of
// truth for what actually happened.
func (e *Engine) ExecutionStatus(ctx context.Context, batchID string) ([]ledger.Record, error) {
	if _, err := e.lookup(batchID); err != nil {
		return nil, err
	}
	return e.store.ByBatch(ctx, batchID)
}

// Batch returns a point-in-time copy of a batch by id. Callers get a copy so
// reads never race with an in-flight execution mutating the live batch.
func (e *Engine) Batch(batchID string) (*Batch, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	b, ok := e.batches[batchID]
	if !ok {
		return nil, ErrBatchNotFound
	}
	cp := *b
	return &cp, nil
}

// lookup returns the live batch. Field access outside this package goes
// through Batch; mutations hold e.mu.
func (e *Engine) lookup(batchID string) (*Batch, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	b, ok := e.batches[batchID]
	if !ok {
		return nil, ErrBatchNotFound
	}
	return b, nil
}

// CheckOrder polls the exchange for an order's status and appends a
// status_check record for the poll.
func (e *Engine) CheckOrder(ctx context.Context, symbol string, orderID int64) (*exchange.OrderResponse, error) {
	resp, err := e.client.GetOrder(ctx, symbol, orderID)
	if err != nil {
		return nil, err
	}

	rec := ledger.Record{
		EventType:     ledger.EventStatusCheck,
		Symbol:        resp.Symbol,
		Status:        statusFromExchange(resp.Status),
		Side:          resp.Side,
		OrderType:     resp.Type,
		Quantity:      resp.ExecutedQty,
		Price:         resp.AvgPrice,
		OrderID:       resp.OrderID,
		ClientOrderID: resp.ClientOrderID,
	}
	if err := e.store.Append(ctx, rec); err != nil {
		e.logger.Error().Err(err).Str("symbol", symbol).Msg("Failed to append status_check record")
	}
	return resp, nil
}

// OnOrderUpdate consumes a push update from the user data stream and appends
// a status_update record for the order's lifecycle.
func (e *Engine) OnOrderUpdate(update exchange.OrderUpdate) {
	rec := ledger.Record{
		EventType:     ledger.EventStatusUpdate,
		Symbol:        update.Symbol,
		Status:        statusFromExchange(update.OrderStatus),
		Side:          update.Side,
		OrderType:     update.OrderType,
		Quantity:      update.FilledQty,
		Price:         update.AvgPrice,
		OrderID:       update.OrderID,
		ClientOrderID: update.ClientOrderID,
	}
	if err := e.store.Append(context.Background(), rec); err != nil {
		e.logger.Error().Err(err).Str("symbol", update.Symbol).Msg("Failed to append status_update record")
	}
}

// execute reconciles and runs the batch to completion.
func (e *Engine) execute(ctx context.Context, b *Batch) {
	results, blocked := e.reconciler.Reconcile(b.Intents)
	e.mu.Lock()
	for _, se := range blocked {
		b.Blocked = append(b.Blocked, se.Error())
	}
	e.mu.Unlock()

	summary := e.coordinator.Execute(ctx, b.ID, results)

	finished := time.Now().UTC()
	e.mu.Lock()
	b.Summary = summary
	b.Status = BatchCompleted
	b.FinishedAt = &finished
	e.mu.Unlock()

	// Positions changed; refresh the snapshot so the next batch reconciles
	// against reality.
	if e.tracker != nil && summary.Total() > 0 {
		if err := e.tracker.Refresh(ctx); err != nil {
			e.logger.Warn().Err(err).Msg("Post-batch position refresh failed")
		}
	}
}

// gatedBatch looks up the live batch and checks it carries an approval ticket.
func (e *Engine) gatedBatch(batchID string) (*Batch, error) {
	b, err := e.lookup(batchID)
	if err != nil {
		return nil, err
	}
	if b.Origin != intent.OriginAssistant {
		return nil, fmt.Errorf("%w: %s", ErrNotGated, batchID)
	}
	return b, nil
}

func (e *Engine) putBatch(b *Batch) {
	e.mu.Lock()
	e.batches[b.ID] = b
	e.mu.Unlock()
}

func (e *Engine) setStatus(b *Batch, status BatchStatus) {
	e.mu.Lock()
	b.Status = status
	e.mu.Unlock()
}
