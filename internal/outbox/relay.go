package outbox

import (
	"context"
	"time"

	"github.com/webshop-labs/orderflow/internal/logger"
	"github.com/webshop-labs/orderflow/internal/metrics"
)

const (
	pollBusy       = 100 * time.Millisecond
	pollIdle       = 500 * time.Millisecond
	failureBackoff = 5 * time.Second
)

// Relay drains the outbox in batches. Delivery is at-least-once: a row is
// settled only after the broker confirms, so a crash between publish and
// MarkProcessed re-sends the message and consumers drop it by message_id.
type Relay struct {
	store     Store
	pub       Publisher
	batchSize int
}

func NewRelay(store Store, pub Publisher, batchSize int) *Relay {
	if batchSize <= 0 {
		batchSize = 50
	}
	return &Relay{store: store, pub: pub, batchSize: batchSize}
}

// Run polls until ctx is canceled. A full batch shortens the next poll, an
// empty one lengthens it, and any failure backs off before retrying.
func (r *Relay) Run(ctx context.Context) {
	log := logger.Logger.With().Str("component", "outbox_relay").Logger()
	log.Info().Int("batch_size", r.batchSize).Msg("started")

	var lastErr string
	var lastAt time.Time

	for {
		n, err := r.drainOnce(ctx)

		var delay time.Duration
		switch {
		case err != nil:
			if err.Error() != lastErr || time.Since(lastAt) > 10*time.Second {
				log.Warn().Err(err).Msg("outbox pass failed")
				lastErr = err.Error()
				lastAt = time.Now()
			}
			delay = failureBackoff
		case n == 0:
			lastErr = ""
			delay = pollIdle
		default:
			lastErr = ""
			delay = pollBusy
		}

		select {
		case <-ctx.Done():
			log.Info().Msg("stopped")
			return
		case <-time.After(delay):
		}
	}
}

// drainOnce publishes one batch sequentially and settles the confirmed rows.
// A failed publish leaves its row pending and the pass moves on; the row is
// retried on the next scan and consumers dedupe by message_id. Only a pass
// where nothing moved reports an error, since that usually means the broker
// or the database is gone.
func (r *Relay) drainOnce(ctx context.Context) (int, error) {
	start := time.Now()

	msgs, err := r.store.PendingMessages(ctx, r.batchSize)
	if err != nil {
		return 0, err
	}
	if len(msgs) == 0 {
		return 0, nil
	}

	log := logger.Logger.With().Str("component", "outbox_relay").Logger()

	published := make([]int64, 0, len(msgs))
	counts := make(map[string]int, 2)
	var firstErr error

	for _, m := range msgs {
		if err := r.pub.Publish(ctx, m.Queue, m.MessageID, m.Payload); err != nil {
			metrics.RecordOutboxPublishFailed(m.Queue)
			log.Warn().Err(err).
				Int64("outbox_id", m.ID).
				Str("message_id", m.MessageID).
				Str("queue", m.Queue).
				Msg("publish failed; row stays pending")
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		published = append(published, m.ID)
		counts[m.Queue]++
	}

	if len(published) == 0 {
		return 0, firstErr
	}

	if err := r.store.MarkProcessed(ctx, published); err != nil {
		// rows get republished next pass; consumers dedupe by message_id
		return len(published), err
	}
	for q, n := range counts {
		metrics.RecordOutboxPublished(q, n)
	}
	metrics.RecordOutboxBatch(msgs[0].Queue, time.Since(start))

	return len(published), nil
}
