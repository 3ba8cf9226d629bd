package ledger

import (
	"context"
	"sync"
)

// MemoryStore is an in-memory Store for tests and mock mode. Reads return
// copies so callers can never mutate the ledger.
type MemoryStore struct {
	mu      sync.RWMutex
	records []Record
}

// NewMemoryStore creates an empty in-memory ledger.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Append(ctx context.Context, rec Record) error {
	stamp(&rec)
	s.mu.Lock()
	s.records = append(s.records, rec)
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) ByBatch(ctx context.Context, batchID string) ([]Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Record
	for _, rec := range s.records {
		if rec.BatchID == batchID {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (s *MemoryStore) ByOrder(ctx context.Context, symbol string, orderID int64) ([]Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Record
	for _, rec := range s.records {
		if rec.Symbol == symbol && rec.OrderID == orderID {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (s *MemoryStore) Recent(ctx context.Context, limit int) ([]Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if limit <= 0 || limit > len(s.records) {
		limit = len(s.records)
	}
	out := make([]Record, 0, limit)
	for i := len(s.records) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, s.records[i])
	}
	return out, nil
}

func (s *MemoryStore) Close() {}

// Len returns the number of records, for tests.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}
