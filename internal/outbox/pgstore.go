package outbox

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PGStore reads pending rows from a service's outbox_messages table. Both
// services share the table shape; the destination queue is fixed per service
// because each outbox feeds exactly one queue.
type PGStore struct {
	pool  *pgxpool.Pool
	queue string
}

func NewPGStore(pool *pgxpool.Pool, queue string) *PGStore {
	return &PGStore{pool: pool, queue: queue}
}

func (s *PGStore) PendingMessages(ctx context.Context, limit int) ([]Message, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, message_id, event_data, created_at
		FROM outbox_messages
		WHERE processed = FALSE
		ORDER BY id ASC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Message
	for rows.Next() {
		var m Message
		var data string
		if err := rows.Scan(&m.ID, &m.MessageID, &data, &m.CreatedAt); err != nil {
			return nil, err
		}
		m.Queue = s.queue
		m.Payload = []byte(data)
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *PGStore) MarkProcessed(ctx context.Context, ids []int64) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE outbox_messages
		SET processed = TRUE, processed_at = NOW()
		WHERE id = ANY($1)
	`, ids)
	return err
}
