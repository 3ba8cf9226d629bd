package approval

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MemoryStore is an in-memory ticket store for tests and single-node mock
// mode.
type MemoryStore struct {
	mu      sync.Mutex
	tickets map[string]Ticket
}

// NewMemoryStore creates an empty in-memory ticket store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{tickets: make(map[string]Ticket)}
}

func (s *MemoryStore) Create(ctx context.Context, t Ticket) (Ticket, error) {
	t = newTicket(t)
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.tickets[t.ID]; exists {
		return Ticket{}, fmt.Errorf("ticket %s already exists", t.ID)
	}
	s.tickets[t.ID] = t
	return t, nil
}

func (s *MemoryStore) Get(ctx context.Context, id string) (Ticket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tickets[id]
	if !ok {
		return Ticket{}, ErrTicketNotFound
	}
	return t, nil
}

func (s *MemoryStore) Decide(ctx context.Context, id string, state State, decidedBy string) (Ticket, error) {
	if !state.Terminal() {
		return Ticket{}, fmt.Errorf("invalid decision state %q", state)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tickets[id]
	if !ok {
		return Ticket{}, ErrTicketNotFound
	}
	if t.State.Terminal() {
		return Ticket{}, fmt.Errorf("%w: %s is %s", ErrAlreadyDecided, id, t.State)
	}

	t.State = state
	t.DecidedAt = time.Now().UTC()
	t.DecidedBy = decidedBy
	s.tickets[id] = t
	return t, nil
}
