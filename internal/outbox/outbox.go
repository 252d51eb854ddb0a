// Package outbox implements the polling relay that drains transactional
// outbox rows to RabbitMQ. Rows are written by the service repositories in
// the same transaction as the domain change; the relay only reads, publishes
// and settles them.
package outbox

import (
	"context"
	"time"
)

// Message is one pending outbox row.
type Message struct {
	ID        int64
	MessageID string
	Queue     string
	Payload   []byte
	CreatedAt time.Time
}

// Store reads and settles outbox rows. PendingMessages must return rows in
// insertion order (id ascending) so per-queue FIFO survives the relay.
type Store interface {
	PendingMessages(ctx context.Context, limit int) ([]Message, error)
	MarkProcessed(ctx context.Context, ids []int64) error
}

// Publisher confirms broker delivery before returning nil.
type Publisher interface {
	Publish(ctx context.Context, queue, messageID string, body []byte) error
}
