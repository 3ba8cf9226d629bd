package approval

import (
	"context"
	"errors"
	"sync"
	"testing"
)

func TestTicketLifecycle(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	created, err := s.Create(ctx, Ticket{BatchID: "batch-1", OrderCount: 3})
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if created.ID == "" {
		t.Fatal("expected generated ticket id")
	}
	if created.State != StatePending {
		t.Fatalf("expected pending state, got %s", created.State)
	}

	decided, err := s.Decide(ctx, created.ID, StateApproved, "operator")
	if err != nil {
		t.Fatalf("decide failed: %v", err)
	}
	if decided.State != StateApproved || decided.DecidedAt.IsZero() {
		t.Errorf("expected approved with timestamp, got %+v", decided)
	}

	got, err := s.Get(ctx, created.ID)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if got.State != StateApproved {
		t.Errorf("expected persisted approval, got %s", got.State)
	}
}

func TestDecidedTicketIsTerminal(t *testing.T) {
	tests := []struct {
		name  string
		first State
		then  State
	}{
		{"approve then reject", StateApproved, StateRejected},
		{"reject then approve", StateRejected, StateApproved},
		{"cancel then approve", StateCancelled, StateApproved},
		{"approve then approve", StateApproved, StateApproved},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewMemoryStore()
			ctx := context.Background()

			created, err := s.Create(ctx, Ticket{BatchID: "batch-1"})
			if err != nil {
				t.Fatalf("create failed: %v", err)
			}
			if _, err := s.Decide(ctx, created.ID, tt.first, "operator"); err != nil {
				t.Fatalf("first decision failed: %v", err)
			}
			if _, err := s.Decide(ctx, created.ID, tt.then, "operator"); !errors.Is(err, ErrAlreadyDecided) {
				t.Errorf("expected ErrAlreadyDecided, got %v", err)
			}
		})
	}
}

func TestDecideUnknownTicket(t *testing.T) {
	s := NewMemoryStore()
	_, err := s.Decide(context.Background(), "missing", StateApproved, "operator")
	if !errors.Is(err, ErrTicketNotFound) {
		t.Errorf("expected ErrTicketNotFound, got %v", err)
	}
}

func TestConcurrentDecisionsOneWinner(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	created, err := s.Create(ctx, Ticket{BatchID: "batch-1"})
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}

	const racers = 10
	var wg sync.WaitGroup
	wins := make(chan State, racers)

	for i := 0; i < racers; i++ {
		state := StateApproved
		if i%2 == 1 {
			state = StateRejected
		}
		wg.Add(1)
		go func(state State) {
			defer wg.Done()
			if _, err := s.Decide(ctx, created.ID, state, "racer"); err == nil {
				wins <- state
			}
		}(state)
	}
	wg.Wait()
	close(wins)

	var winners []State
	for w := range wins {
		winners = append(winners, w)
	}
	if len(winners) != 1 {
		t.Fatalf("expected exactly one winning decision, got %d", len(winners))
	}

	final, err := s.Get(ctx, created.ID)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if final.State != winners[0] {
		t.Errorf("stored state %s does not match winner %s", final.State, winners[0])
	}
}
