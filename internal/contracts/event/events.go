// PATH: internal/contracts/event/events.go
package event

import (
	"fmt"

	"github.com/google/uuid"
)

// Queue and channel names shared by producers and consumers.
const (
	QueueOrdersToPay    = "orders.to_pay"
	QueuePaymentResults = "payment.results"

	ChannelOrderUpdates = "order_updates"

	TypeOrderCreated  = "order_created"
	TypePaymentResult = "payment_result"
	TypeOrderUpdate   = "order_update"
)

// TimestampLayout formats OrderCreated.Timestamp. The fractional part keeps
// retries of the same order on different wall-clock ticks distinguishable.
const TimestampLayout = "2006-01-02T15:04:05.000000"

// OrderCreated announces a new order awaiting payment (orders -> payments).
// Timestamp is minted once when the outbox row is written, so broker
// redeliveries of the same logical event derive the same message id.
type OrderCreated struct {
	OrderID   int64   `json:"order_id"`
	UserID    int64   `json:"user_id"`
	Amount    float64 `json:"amount"`
	Timestamp string  `json:"timestamp"`
}

// PaymentResult is the settle outcome (payments -> orders).
type PaymentResult struct {
	TransactionID    string   `json:"transaction_id"`
	OrderID          int64    `json:"order_id"`
	UserID           int64    `json:"user_id"`
	Success          bool     `json:"success"`
	Message          string   `json:"message,omitempty"`
	RemainingBalance *float64 `json:"remaining_balance,omitempty"`
}

// OrderUpdate is the realtime push fanned out to client sockets.
// Origin names the producing instance; subscribers skip their own
// publications because the producer already delivered locally.
type OrderUpdate struct {
	Type      string   `json:"type"`
	OrderID   int64    `json:"order_id"`
	UserID    int64    `json:"user_id"`
	Status    string   `json:"status"`
	Amount    *float64 `json:"amount"`
	Timestamp float64  `json:"timestamp"`
	Message   string   `json:"message"`
	Origin    string   `json:"origin,omitempty"`
}

// MessageID derives the dedup id for an order_created event:
// uuid5(NAMESPACE_OID, "{order_id}_{timestamp}").
func (e OrderCreated) MessageID() string {
	name := fmt.Sprintf("%d_%s", e.OrderID, e.Timestamp)
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(name)).String()
}

// TransactionID derives the audit id for one processing attempt:
// uuid5(NAMESPACE_OID, "{order_id}_{message_id}_tx").
func TransactionID(orderID int64, messageID string) string {
	name := fmt.Sprintf("%d_%s_tx", orderID, messageID)
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(name)).String()
}
