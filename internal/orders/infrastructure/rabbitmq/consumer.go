package rabbitmq

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/webshop-labs/orderflow/internal/contracts/event"
	"github.com/webshop-labs/orderflow/internal/logger"
	"github.com/webshop-labs/orderflow/internal/metrics"
	"github.com/webshop-labs/orderflow/internal/orders/domain"
)

const reconnectDelay = 5 * time.Second

// ResultApplier is the slice of the order service the consumer needs.
type ResultApplier interface {
	ApplyPaymentResult(ctx context.Context, messageID string, orderID int64, success bool, payload []byte) (domain.PaymentApplied, error)
}

// Consumer drains payment.results with manual acks. Poison messages are
// dropped with an ack; store errors nack-requeue so the broker redelivers.
type Consumer struct {
	rabbitURL string
	prefetch  int
	svc       ResultApplier
}

func NewConsumer(rabbitURL string, prefetch int, svc ResultApplier) *Consumer {
	if prefetch <= 0 {
		prefetch = 10
	}
	return &Consumer{
		rabbitURL: strings.TrimSpace(rabbitURL),
		prefetch:  prefetch,
		svc:       svc,
	}
}

// Start dials the broker and launches the consume loop. The first dial fails
// fast so boot problems surface immediately; afterwards the loop reconnects
// on its own.
func (c *Consumer) Start(ctx context.Context) error {
	deliveries, cleanup, err := c.connect()
	if err != nil {
		return err
	}

	go c.loop(ctx, deliveries, cleanup)

	logger.Logger.Info().Str("queue", event.QueuePaymentResults).Msg("payment results consumer started")
	return nil
}

func (c *Consumer) connect() (<-chan amqp.Delivery, func(), error) {
	conn, err := amqp.Dial(c.rabbitURL)
	if err != nil {
		return nil, nil, err
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, nil, err
	}

	q, err := ch.QueueDeclare(event.QueuePaymentResults, true, false, false, false, nil)
	if err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, nil, err
	}

	if err := ch.Qos(c.prefetch, 0, false); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, nil, err
	}

	deliveries, err := ch.Consume(q.Name, "orders-service", false, false, false, false, nil)
	if err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, nil, err
	}

	cleanup := func() {
		_ = ch.Close()
		_ = conn.Close()
	}
	return deliveries, cleanup, nil
}

func (c *Consumer) loop(ctx context.Context, deliveries <-chan amqp.Delivery, cleanup func()) {
	log := logger.Logger.With().Str("component", "payment_results_consumer").Logger()

	for {
		select {
		case <-ctx.Done():
			cleanup()
			log.Info().Msg("stopped")
			return
		case d, ok := <-deliveries:
			if !ok {
				cleanup()
				var err error
				deliveries, cleanup, err = c.reconnect(ctx)
				if err != nil {
					log.Info().Msg("stopped")
					return
				}
				continue
			}
			c.handleDelivery(ctx, d)
		}
	}
}

func (c *Consumer) reconnect(ctx context.Context) (<-chan amqp.Delivery, func(), error) {
	log := logger.Logger.With().Str("component", "payment_results_consumer").Logger()

	for {
		select {
		case <-ctx.Done():
			return nil, nil, ctx.Err()
		case <-time.After(reconnectDelay):
		}

		deliveries, cleanup, err := c.connect()
		if err != nil {
			log.Warn().Err(err).Msg("reconnect failed; retrying")
			continue
		}
		log.Info().Msg("reconnected")
		return deliveries, cleanup, nil
	}
}

func (c *Consumer) handleDelivery(ctx context.Context, d amqp.Delivery) {
	start := time.Now()
	log := logger.Logger.With().Str("component", "payment_results_consumer").Logger()

	var res event.PaymentResult
	if err := json.Unmarshal(d.Body, &res); err != nil {
		log.Warn().Err(err).Msg("invalid payment result json; dropping")
		metrics.RecordInboxFailed(event.QueuePaymentResults, "invalid_json")
		_ = d.Ack(false)
		return
	}
	if res.OrderID <= 0 {
		log.Warn().Msg("payment result without order_id; dropping")
		metrics.RecordInboxFailed(event.QueuePaymentResults, "missing_order_id")
		_ = d.Ack(false)
		return
	}

	msgID := messageID(d, res)

	applied, err := c.svc.ApplyPaymentResult(ctx, msgID, res.OrderID, res.Success, d.Body)
	if err != nil {
		log.Error().Err(err).
			Str("message_id", msgID).
			Int64("order_id", res.OrderID).
			Msg("processing failed (requeue)")
		metrics.RecordInboxFailed(event.QueuePaymentResults, "store_error")
		_ = d.Nack(false, true)
		return
	}

	if applied.Duplicate {
		metrics.RecordInboxDuplicate(event.QueuePaymentResults)
	} else {
		metrics.RecordInboxProcessed(event.QueuePaymentResults, time.Since(start))
	}
	_ = d.Ack(false)
}

// messageID prefers the transaction id, which the payments side derives
// deterministically per processing attempt, then the AMQP message id, then a
// content hash so even ill-formed producers get deduped.
func messageID(d amqp.Delivery, res event.PaymentResult) string {
	if id := strings.TrimSpace(res.TransactionID); id != "" {
		return id
	}
	if id := strings.TrimSpace(d.MessageId); id != "" {
		return id
	}
	h := sha256.Sum256(d.Body)
	return "hash:" + hex.EncodeToString(h[:])
}
