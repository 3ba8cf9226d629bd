// Package ledger is the append-only audit trail of everything the engine did
// or attempted. Records are never updated or deleted; order lifecycle changes
// append new records referencing the same order. The ledger is the source of
// truth for batch outcomes.
package ledger

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// EventType classifies a ledger record.
type EventType string

const (
	// EventPlaced is the outcome of one order placement attempt.
	EventPlaced EventType = "placed"
	// EventStatusCheck is a point-in-time order status poll.
	EventStatusCheck EventType = "status_check"
	// EventStatusUpdate is a push update from the user data stream.
	EventStatusUpdate EventType = "status_update"
	// EventLeverage is the outcome of one leverage change attempt.
	EventLeverage EventType = "leverage"
)

// Status is the engine's view of an attempted action.
type Status string

const (
	StatusPending  Status = "PENDING"  // accepted by the exchange, not final
	StatusFilled   Status = "FILLED"   // executed
	StatusRejected Status = "REJECTED" // refused by the exchange per-order
	StatusFailed   Status = "FAILED"   // never reached the exchange, or transport gave out
)

// Record is one immutable audit entry.
type Record struct {
	ID        string    `json:"id"`
	BatchID   string    `json:"batchId,omitempty"`
	EventType EventType `json:"eventType"`
	Symbol    string    `json:"symbol"`
	Status    Status    `json:"status"`

	Side       string  `json:"side,omitempty"` // BUY or SELL
	OrderType  string  `json:"orderType,omitempty"`
	Quantity   float64 `json:"quantity,omitempty"`
	Price      float64 `json:"price,omitempty"`
	Leverage   int     `json:"leverage,omitempty"`
	ReduceOnly bool    `json:"reduceOnly,omitempty"`

	OrderID       int64  `json:"orderId,omitempty"`
	ClientOrderID string `json:"clientOrderId,omitempty"`

	// RetryCount is 0 for a first attempt. A retried chunk appends fresh
	// records with the count bumped rather than touching earlier ones.
	RetryCount int `json:"retryCount"`

	// Detail carries the exchange rejection message or failure reason.
	Detail string `json:"detail,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
}

// Store persists ledger records. Implementations must be append-only and safe
// for concurrent use.
type Store interface {
	// Append writes one record. The record's ID and CreatedAt are filled in
	// if empty.
	Append(ctx context.Context, rec Record) error
	// ByBatch returns all records for a batch in append order.
	ByBatch(ctx context.Context, batchID string) ([]Record, error)
	// ByOrder returns the lifecycle of one exchange order in append order.
	ByOrder(ctx context.Context, symbol string, orderID int64) ([]Record, error)
	// Recent returns up to limit most recent records, newest first.
	Recent(ctx context.Context, limit int) ([]Record, error)
	// Close releases the store's resources.
	Close()
}

// stamp fills generated fields on a record before it is written.
func stamp(rec *Record) {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
}
