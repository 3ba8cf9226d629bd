package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

// PostgresStore is the durable ledger backed by PostgreSQL.
type PostgresStore struct {
	pool   *pgxpool.Pool
	logger zerolog.Logger
}

// NewPostgresStore connects, pings and migrates the ledger schema.
func NewPostgresStore(ctx context.Context, dsn string, logger zerolog.Logger) (*PostgresStore, error) {
	poolConfig, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("unable to parse database config: %w", err)
	}
	poolConfig.MaxConns = 10
	poolConfig.MinConns = 2
	poolConfig.MaxConnLifetime = time.Hour
	poolConfig.MaxConnIdleTime = 30 * time.Minute
	poolConfig.HealthCheckPeriod = time.Minute

	connCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(connCtx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}
	if err := pool.Ping(connCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	s := &PostgresStore{
		pool:   pool,
		logger: logger.With().Str("component", "LedgerStore").Logger(),
	}
	if err := s.migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	s.logger.Info().Msg("Ledger store connected")
	return s, nil
}

// migrate creates the execution_records table. The table is append-only; the
// schema deliberately has no updated_at.
func (s *PostgresStore) migrate(ctx context.Context) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS execution_records (
			id UUID PRIMARY KEY,
			batch_id UUID,
			event_type VARCHAR(20) NOT NULL,
			symbol VARCHAR(20) NOT NULL,
			status VARCHAR(20) NOT NULL,
			side VARCHAR(4),
			order_type VARCHAR(20),
			quantity DECIMAL(20, 8),
			price DECIMAL(20, 8),
			leverage INT,
			reduce_only BOOLEAN DEFAULT FALSE,
			order_id BIGINT,
			client_order_id VARCHAR(64),
			retry_count INT NOT NULL DEFAULT 0,
			detail TEXT,
			created_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_execution_records_batch ON execution_records(batch_id)`,
		`CREATE INDEX IF NOT EXISTS idx_execution_records_order ON execution_records(symbol, order_id)`,
		`CREATE INDEX IF NOT EXISTS idx_execution_records_created ON execution_records(created_at DESC)`,
	}
	for i, migration := range migrations {
		if _, err := s.pool.Exec(ctx, migration); err != nil {
			return fmt.Errorf("ledger migration %d failed: %w", i+1, err)
		}
	}
	return nil
}

func (s *PostgresStore) Append(ctx context.Context, rec Record) error {
	stamp(&rec)

	var batchID any
	if rec.BatchID != "" {
		batchID = rec.BatchID
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO execution_records
			(id, batch_id, event_type, symbol, status, side, order_type,
			 quantity, price, leverage, reduce_only, order_id, client_order_id,
			 retry_count, detail, created_at)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)`,
		rec.ID, batchID, rec.EventType, rec.Symbol, rec.Status, rec.Side,
		rec.OrderType, rec.Quantity, rec.Price, rec.Leverage, rec.ReduceOnly,
		rec.OrderID, rec.ClientOrderID, rec.RetryCount, rec.Detail, rec.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to append ledger record: %w", err)
	}
	return nil
}

const selectColumns = `id, COALESCE(batch_id::text, ''), event_type, symbol, status,
	COALESCE(side, ''), COALESCE(order_type, ''), COALESCE(quantity, 0),
	COALESCE(price, 0), COALESCE(leverage, 0), reduce_only,
	COALESCE(order_id, 0), COALESCE(client_order_id, ''), retry_count,
	COALESCE(detail, ''), created_at`

func (s *PostgresStore) ByBatch(ctx context.Context, batchID string) ([]Record, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+selectColumns+` FROM execution_records
		 WHERE batch_id = $1 ORDER BY created_at, id`, batchID)
	if err != nil {
		return nil, fmt.Errorf("failed to query batch records: %w", err)
	}
	return scanRecords(rows)
}

func (s *PostgresStore) ByOrder(ctx context.Context, symbol string, orderID int64) ([]Record, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+selectColumns+` FROM execution_records
		 WHERE symbol = $1 AND order_id = $2 ORDER BY created_at, id`, symbol, orderID)
	if err != nil {
		return nil, fmt.Errorf("failed to query order records: %w", err)
	}
	return scanRecords(rows)
}

func (s *PostgresStore) Recent(ctx context.Context, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+selectColumns+` FROM execution_records
		 ORDER BY created_at DESC, id DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query recent records: %w", err)
	}
	return scanRecords(rows)
}

func (s *PostgresStore) Close() {
	s.pool.Close()
}

// HealthCheck pings the underlying pool.
func (s *PostgresStore) HealthCheck(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func scanRecords(rows pgx.Rows) ([]Record, error) {
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var rec Record
		if err := rows.Scan(
			&rec.ID, &rec.BatchID, &rec.EventType, &rec.Symbol, &rec.Status,
			&rec.Side, &rec.OrderType, &rec.Quantity, &rec.Price, &rec.Leverage,
			&rec.ReduceOnly, &rec.OrderID, &rec.ClientOrderID, &rec.RetryCount,
			&rec.Detail, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan ledger record: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read ledger records: %w", err)
	}
	return out, nil
}
