package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/webshop-labs/orderflow/internal/contracts/event"
	"github.com/webshop-labs/orderflow/internal/orders/domain"
)

type Repository struct {
	pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const orderColumns = `id, user_id, amount, description, status, created_at, updated_at`

func scanOrder(row pgx.Row) (domain.Order, error) {
	var o domain.Order
	err := row.Scan(&o.ID, &o.UserID, &o.Amount, &o.Description, &o.Status, &o.CreatedAt, &o.UpdatedAt)
	return o, err
}

// CreateWithOutbox inserts the order row and the order_created outbox row in
// one transaction. The event timestamp is minted here, once, so every retry
// of the relay publishes a payload that derives the same message id.
func (r *Repository) CreateWithOutbox(ctx context.Context, userID int64, amount float64, description *string) (domain.Order, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return domain.Order{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	o, err := scanOrder(tx.QueryRow(ctx, `
		INSERT INTO orders (user_id, amount, description, status)
		VALUES ($1, $2, $3, $4)
		RETURNING `+orderColumns,
		userID, amount, description, domain.StatusNew))
	if err != nil {
		return domain.Order{}, err
	}

	evt := event.OrderCreated{
		OrderID:   o.ID,
		UserID:    o.UserID,
		Amount:    o.Amount,
		Timestamp: time.Now().Format(event.TimestampLayout),
	}
	payload, err := json.Marshal(evt)
	if err != nil {
		return domain.Order{}, err
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO outbox_messages (message_id, event_type, event_data)
		VALUES ($1, $2, $3)
	`, evt.MessageID(), event.TypeOrderCreated, string(payload))
	if err != nil {
		return domain.Order{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return domain.Order{}, err
	}
	return o, nil
}

func (r *Repository) ListByUser(ctx context.Context, userID int64) ([]domain.Order, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+orderColumns+`
		FROM orders
		WHERE user_id = $1
		ORDER BY created_at DESC
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

func (r *Repository) GetByID(ctx context.Context, orderID, userID int64) (domain.Order, error) {
	o, err := scanOrder(r.pool.QueryRow(ctx, `
		SELECT `+orderColumns+`
		FROM orders
		WHERE id = $1 AND user_id = $2
	`, orderID, userID))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	return o, err
}

// ApplyPaymentResult runs the inbox fence and the status transition in one
// transaction. The fence row commits together with the transition, so a
// crash anywhere in between leaves the message unseen and the broker
// redelivery processes it cleanly.
func (r *Repository) ApplyPaymentResult(ctx context.Context, messageID string, orderID int64, success bool, payload []byte) (domain.PaymentApplied, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return domain.PaymentApplied{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	ct, err := tx.Exec(ctx, `
		INSERT INTO inbox_messages (message_id, event_type, event_data)
		VALUES ($1, $2, $3)
		ON CONFLICT (message_id) DO NOTHING
	`, messageID, event.TypePaymentResult, string(payload))
	if err != nil {
		return domain.PaymentApplied{}, err
	}
	if ct.RowsAffected() == 0 {
		return domain.PaymentApplied{Duplicate: true}, nil
	}

	o, err := scanOrder(tx.QueryRow(ctx, `
		SELECT `+orderColumns+`
		FROM orders
		WHERE id = $1
		FOR UPDATE
	`, orderID))
	if errors.Is(err, pgx.ErrNoRows) {
		// keep the fence row so redeliveries of this message stay deduped
		if err := r.settleInbox(ctx, tx, messageID); err != nil {
			return domain.PaymentApplied{}, err
		}
		return domain.PaymentApplied{Dropped: true}, tx.Commit(ctx)
	}
	if err != nil {
		return domain.PaymentApplied{}, err
	}

	if o.Status.Terminal() {
		if err := r.settleInbox(ctx, tx, messageID); err != nil {
			return domain.PaymentApplied{}, err
		}
		return domain.PaymentApplied{Dropped: true}, tx.Commit(ctx)
	}

	newStatus := domain.StatusCancelled
	if success {
		newStatus = domain.StatusFinished
	}

	err = tx.QueryRow(ctx, `
		UPDATE orders
		SET status = $2, updated_at = NOW()
		WHERE id = $1
		RETURNING updated_at
	`, orderID, newStatus).Scan(&o.UpdatedAt)
	if err != nil {
		return domain.PaymentApplied{}, err
	}
	o.Status = newStatus

	if err := r.settleInbox(ctx, tx, messageID); err != nil {
		return domain.PaymentApplied{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return domain.PaymentApplied{}, err
	}
	return domain.PaymentApplied{Order: &o}, nil
}

func (r *Repository) settleInbox(ctx context.Context, tx pgx.Tx, messageID string) error {
	_, err := tx.Exec(ctx, `
		UPDATE inbox_messages
		SET processed = TRUE, processed_at = NOW()
		WHERE message_id = $1
	`, messageID)
	return err
}

func (r *Repository) Ping(ctx context.Context) error {
	var one int
	return r.pool.QueryRow(ctx, `SELECT 1`).Scan(&one)
}
