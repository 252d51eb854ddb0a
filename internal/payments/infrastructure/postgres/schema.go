package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/webshop-labs/orderflow/internal/logger"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS accounts (
		id BIGSERIAL PRIMARY KEY,
		user_id BIGINT NOT NULL UNIQUE,
		balance DOUBLE PRECISION NOT NULL DEFAULT 0
			CONSTRAINT balance_non_negative CHECK (balance >= 0),
		version BIGINT NOT NULL DEFAULT 0,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ
	)`,

	`CREATE TABLE IF NOT EXISTS outbox_messages (
		id BIGSERIAL PRIMARY KEY,
		message_id TEXT NOT NULL,
		event_type TEXT NOT NULL,
		event_data TEXT NOT NULL,
		processed BOOLEAN NOT NULL DEFAULT FALSE,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		processed_at TIMESTAMPTZ
	)`,
	`CREATE INDEX IF NOT EXISTS idx_outbox_pending ON outbox_messages (id) WHERE processed = FALSE`,

	`CREATE TABLE IF NOT EXISTS inbox_messages (
		id BIGSERIAL PRIMARY KEY,
		message_id TEXT NOT NULL UNIQUE,
		event_type TEXT NOT NULL,
		event_data TEXT NOT NULL,
		processed BOOLEAN NOT NULL DEFAULT FALSE,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		processed_at TIMESTAMPTZ
	)`,

	`CREATE TABLE IF NOT EXISTS processed_transactions (
		id BIGSERIAL PRIMARY KEY,
		transaction_id TEXT NOT NULL UNIQUE,
		order_id BIGINT NOT NULL,
		user_id BIGINT NOT NULL,
		amount DOUBLE PRECISION NOT NULL,
		status TEXT NOT NULL,
		processed_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_processed_tx_order ON processed_transactions (order_id)`,
}

// EnsureSchema materialises the tables at startup. Peer instances run this
// concurrently, so "already exists" errors are logged and skipped; anything
// else aborts startup.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	log := logger.Logger.With().Str("component", "payments_schema").Logger()

	for _, stmt := range schema {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			if isDuplicateObject(err) {
				log.Debug().Err(err).Msg("schema object already exists")
				continue
			}
			return err
		}
	}
	return nil
}

// CREATE ... IF NOT EXISTS still races on catalog rows when two instances
// boot at once; those surface as duplicate_table/duplicate_object/unique
// violations and are safe to ignore.
func isDuplicateObject(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	switch pgErr.Code {
	case "42P07", "42710", "42P06", "23505":
		return true
	}
	return false
}
