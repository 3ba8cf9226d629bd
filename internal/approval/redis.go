package approval

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const (
	// ticketKeyPrefix namespaces ticket keys.
	// Format: engine:approval_ticket:{id}
	ticketKeyPrefix = "engine:approval_ticket"

	// ticketTTL keeps decided tickets around for a day for audit queries via
	// the API; the ledger holds the durable record.
	ticketTTL = 24 * time.Hour
)

// RedisStore persists tickets in Redis so the gate survives restarts and is
// shared across replicas. Decisions use an optimistic transaction so exactly
// one concurrent decision wins.
type RedisStore struct {
	client *redis.Client
	logger zerolog.Logger
}

// NewRedisStore creates a Redis-backed ticket store.
func NewRedisStore(client *redis.Client, logger zerolog.Logger) *RedisStore {
	return &RedisStore{
		client: client,
		logger: logger.With().Str("component", "ApprovalStore").Logger(),
	}
}

func ticketKey(id string) string {
	return fmt.Sprintf("%s:%s", ticketKeyPrefix, id)
}

func (s *RedisStore) Create(ctx context.Context, t Ticket) (Ticket, error) {
	t = newTicket(t)
	data, err := json.Marshal(t)
	if err != nil {
		return Ticket{}, fmt.Errorf("failed to marshal ticket: %w", err)
	}

	ok, err := s.client.SetNX(ctx, ticketKey(t.ID), data, ticketTTL).Result()
	if err != nil {
		return Ticket{}, fmt.Errorf("failed to store ticket: %w", err)
	}
	if !ok {
		return Ticket{}, fmt.Errorf("ticket %s already exists", t.ID)
	}

	s.logger.Info().Str("ticket_id", t.ID).Str("batch_id", t.BatchID).Msg("Approval ticket created")
	return t, nil
}

func (s *RedisStore) Get(ctx context.Context, id string) (Ticket, error) {
	data, err := s.client.Get(ctx, ticketKey(id)).Result()
	if errors.Is(err, redis.Nil) {
		return Ticket{}, ErrTicketNotFound
	}
	if err != nil {
		return Ticket{}, fmt.Errorf("failed to get ticket: %w", err)
	}

	var t Ticket
	if err := json.Unmarshal([]byte(data), &t); err != nil {
		return Ticket{}, fmt.Errorf("failed to unmarshal ticket: %w", err)
	}
	return t, nil
}

func (s *RedisStore) Decide(ctx context.Context, id string, state State, decidedBy string) (Ticket, error) {
	if !state.Terminal() {
		return Ticket{}, fmt.Errorf("invalid decision state %q", state)
	}

	key := ticketKey(id)
	var decided Ticket

	// WATCH/MULTI: if anything else writes the key between read and write,
	// the transaction aborts and the caller's decision loses.
	err := s.client.Watch(ctx, func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, key).Result()
		if errors.Is(err, redis.Nil) {
			return ErrTicketNotFound
		}
		if err != nil {
			return fmt.Errorf("failed to get ticket: %w", err)
		}

		var t Ticket
		if err := json.Unmarshal([]byte(data), &t); err != nil {
			return fmt.Errorf("failed to unmarshal ticket: %w", err)
		}
		if t.State.Terminal() {
			return fmt.Errorf("%w: %s is %s", ErrAlreadyDecided, id, t.State)
		}

		t.State = state
		t.DecidedAt = time.Now().UTC()
		t.DecidedBy = decidedBy

		updated, err := json.Marshal(t)
		if err != nil {
			return fmt.Errorf("failed to marshal ticket: %w", err)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, updated, ticketTTL)
			return nil
		})
		if err != nil {
			return err
		}
		decided = t
		return nil
	}, key)

	if errors.Is(err, redis.TxFailedErr) {
		// Lost the race; whoever won has decided the ticket.
		return Ticket{}, fmt.Errorf("%w: concurrent decision on %s", ErrAlreadyDecided, id)
	}
	if err != nil {
		return Ticket{}, err
	}

	s.logger.Info().Str("ticket_id", id).Str("state", string(state)).Str("decided_by", decidedBy).
		Msg("Approval ticket decided")
	return decided, nil
}
