// Package approval gates assistant-suggested batches behind an explicit
// human decision. A ticket starts PendingApproval and moves exactly once to
// Approved, Rejected or Cancelled; decided tickets are terminal.
package approval

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// State is the approval state of a ticket.
type State string

const (
	StatePending   State = "PENDING_APPROVAL"
	StateApproved  State = "APPROVED"
	StateRejected  State = "REJECTED"
	StateCancelled State = "CANCELLED"
)

// Terminal reports whether no further transition is allowed from s.
func (s State) Terminal() bool {
	return s == StateApproved || s == StateRejected || s == StateCancelled
}

var (
	// ErrTicketNotFound means no ticket exists for the given id.
	ErrTicketNotFound = errors.New("approval ticket not found")
	// ErrAlreadyDecided means the ticket reached a terminal state and cannot
	// transition again.
	ErrAlreadyDecided = errors.New("approval ticket already decided")
)

// Ticket is one pending-approval gate in front of a batch.
type Ticket struct {
	ID         string    `json:"id"`
	BatchID    string    `json:"batchId"`
	State      State     `json:"state"`
	OrderCount int       `json:"orderCount"`
	CreatedAt  time.Time `json:"createdAt"`
	DecidedAt  time.Time `json:"decidedAt,omitempty"`
	DecidedBy  string    `json:"decidedBy,omitempty"`
}

// Store persists approval tickets. Decide must be atomic: concurrent
// decisions on one ticket resolve to exactly one winner.
type Store interface {
	Create(ctx context.Context, t Ticket) (Ticket, error)
	Get(ctx context.Context, id string) (Ticket, error)
	// Decide transitions a pending ticket to the given terminal state and
	// returns the decided ticket. Returns ErrAlreadyDecided if the ticket is
	// already terminal.
	Decide(ctx context.Context, id string, state State, decidedBy string) (Ticket, error)
}

// newTicket fills generated fields before a ticket is stored.
func newTicket(t Ticket) Ticket {
	if t.ID == "" {
		t.ID = uuid.New().String()
	}
	if t.State == "" {
		t.State = StatePending
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}
	return t
}
