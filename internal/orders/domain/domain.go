package domain

import (
	"context"
	"errors"
	"time"
)

type OrderStatus string

const (
	StatusNew       OrderStatus = "NEW"
	StatusFinished  OrderStatus = "FINISHED"
	StatusCancelled OrderStatus = "CANCELLED"
)

// Terminal reports whether no further transition is allowed.
func (s OrderStatus) Terminal() bool {
	return s == StatusFinished || s == StatusCancelled
}

var ErrOrderNotFound = errors.New("order not found") // also covers orders owned by someone else

type Order struct {
	ID          int64
	UserID      int64
	Amount      float64
	Description *string
	Status      OrderStatus
	CreatedAt   time.Time
	UpdatedAt   *time.Time
}

// PaymentApplied describes what the inbox transaction did with one payment
// reply. Exactly one of the three shapes holds: Duplicate, Dropped, or a
// non-nil Order that just transitioned.
type PaymentApplied struct {
	Duplicate bool   // message already seen, nothing changed
	Dropped   bool   // order missing or already terminal
	Order     *Order // set when the NEW -> FINISHED/CANCELLED transition happened
}

// OrderRepository handles transactions, the outbox write and the inbox fence.
type OrderRepository interface {
	// CreateWithOutbox inserts the order and its order_created outbox row in
	// one transaction.
	CreateWithOutbox(ctx context.Context, userID int64, amount float64, description *string) (Order, error)

	// Reads
	ListByUser(ctx context.Context, userID int64) ([]Order, error)
	GetByID(ctx context.Context, orderID, userID int64) (Order, error)

	// ApplyPaymentResult runs the inbox fence and the status transition in
	// one transaction. payload is the raw broker message, kept for audit.
	ApplyPaymentResult(ctx context.Context, messageID string, orderID int64, success bool, payload []byte) (PaymentApplied, error)

	Ping(ctx context.Context) error
}
