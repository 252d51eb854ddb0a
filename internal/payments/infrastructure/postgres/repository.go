package postgres

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/webshop-labs/orderflow/internal/contracts/event"
	"github.com/webshop-labs/orderflow/internal/payments/domain"
)

type Repository struct {
	pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const accountColumns = `id, user_id, balance, version, created_at, updated_at`

func scanAccount(row pgx.Row) (domain.Account, error) {
	var a domain.Account
	err := row.Scan(&a.ID, &a.UserID, &a.Balance, &a.Version, &a.CreatedAt, &a.UpdatedAt)
	return a, err
}

func (r *Repository) CreateAccount(ctx context.Context, userID int64) (domain.Account, error) {
	a, err := scanAccount(r.pool.QueryRow(ctx, `
		INSERT INTO accounts (user_id)
		VALUES ($1)
		ON CONFLICT (user_id) DO NOTHING
		RETURNING `+accountColumns,
		userID))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Account{}, domain.ErrAccountExists
	}
	return a, err
}

// TopUp holds the row lock across the read-modify-write so a concurrent
// settle for the same user serialises behind it.
func (r *Repository) TopUp(ctx context.Context, userID int64, amount float64) (domain.Account, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return domain.Account{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	_, err = scanAccount(tx.QueryRow(ctx, `
		SELECT `+accountColumns+`
		FROM accounts
		WHERE user_id = $1
		FOR UPDATE
	`, userID))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Account{}, domain.ErrAccountNotFound
	}
	if err != nil {
		return domain.Account{}, err
	}

	a, err := scanAccount(tx.QueryRow(ctx, `
		UPDATE accounts
		SET balance = balance + $2, version = version + 1, updated_at = NOW()
		WHERE user_id = $1
		RETURNING `+accountColumns,
		userID, amount))
	if err != nil {
		return domain.Account{}, err
	}

	return a, tx.Commit(ctx)
}

func (r *Repository) GetByUserID(ctx context.Context, userID int64) (domain.Account, error) {
	a, err := scanAccount(r.pool.QueryRow(ctx, `
		SELECT `+accountColumns+`
		FROM accounts
		WHERE user_id = $1
	`, userID))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Account{}, domain.ErrAccountNotFound
	}
	return a, err
}

// Settle is the payment state machine. Everything happens in one
// transaction: the inbox fence, the account row lock, the balance debit,
// the audit row and the payment_result outbox reply commit together, so a
// crash at any point leaves either no trace or the complete outcome, and a
// broker redelivery hits the fence.
func (r *Repository) Settle(ctx context.Context, messageID string, orderID, userID int64, amount float64, payload []byte) (domain.SettleResult, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return domain.SettleResult{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	ct, err := tx.Exec(ctx, `
		INSERT INTO inbox_messages (message_id, event_type, event_data)
		VALUES ($1, $2, $3)
		ON CONFLICT (message_id) DO NOTHING
	`, messageID, event.TypeOrderCreated, string(payload))
	if err != nil {
		return domain.SettleResult{}, err
	}
	if ct.RowsAffected() == 0 {
		return domain.SettleResult{Duplicate: true}, nil
	}

	// Deterministic per (order, message): a redelivered message that somehow
	// passed the fence would still collide on the audit row, not double-charge.
	txID := event.TransactionID(orderID, messageID)

	var acct *domain.Account
	a, err := scanAccount(tx.QueryRow(ctx, `
		SELECT `+accountColumns+`
		FROM accounts
		WHERE user_id = $1
		FOR UPDATE
	`, userID))
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		// no account: the outcome below reports the failure
	case err != nil:
		return domain.SettleResult{}, err
	default:
		acct = &a
	}

	outcome := domain.DecideSettle(acct, amount)

	var remaining *float64
	if outcome.Debit {
		var balance float64
		err := tx.QueryRow(ctx, `
			UPDATE accounts
			SET balance = balance - $2, version = version + 1, updated_at = NOW()
			WHERE user_id = $1
			RETURNING balance
		`, userID, amount).Scan(&balance)
		if err != nil {
			return domain.SettleResult{}, err
		}
		remaining = &balance
	}

	if outcome.Audit != "" {
		_, err := tx.Exec(ctx, `
			INSERT INTO processed_transactions (transaction_id, order_id, user_id, amount, status)
			VALUES ($1, $2, $3, $4, $5)
		`, txID, orderID, userID, amount, string(outcome.Audit))
		if err != nil {
			return domain.SettleResult{}, err
		}
	}

	reply := event.PaymentResult{
		TransactionID:    txID,
		OrderID:          orderID,
		UserID:           userID,
		Success:          outcome.Success,
		Message:          outcome.Message,
		RemainingBalance: remaining,
	}
	body, err := json.Marshal(reply)
	if err != nil {
		return domain.SettleResult{}, err
	}

	// The reply's message id doubles as the orders-side dedup key.
	_, err = tx.Exec(ctx, `
		INSERT INTO outbox_messages (message_id, event_type, event_data)
		VALUES ($1, $2, $3)
	`, txID, event.TypePaymentResult, string(body))
	if err != nil {
		return domain.SettleResult{}, err
	}

	_, err = tx.Exec(ctx, `
		UPDATE inbox_messages
		SET processed = TRUE, processed_at = NOW()
		WHERE message_id = $1
	`, messageID)
	if err != nil {
		return domain.SettleResult{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return domain.SettleResult{}, err
	}

	return domain.SettleResult{
		TransactionID:    txID,
		Success:          outcome.Success,
		Message:          outcome.Message,
		RemainingBalance: remaining,
	}, nil
}

func (r *Repository) Ping(ctx context.Context) error {
	var one int
	return r.pool.QueryRow(ctx, `SELECT 1`).Scan(&one)
}
