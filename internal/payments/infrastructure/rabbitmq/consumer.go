package rabbitmq

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/webshop-labs/orderflow/internal/contracts/event"
	"github.com/webshop-labs/orderflow/internal/logger"
	"github.com/webshop-labs/orderflow/internal/metrics"
	"github.com/webshop-labs/orderflow/internal/payments/domain"
)

const reconnectDelay = 5 * time.Second

// Settler is the slice of the payment service the consumer needs.
type Settler interface {
	Settle(ctx context.Context, messageID string, orderID, userID int64, amount float64, payload []byte) (domain.SettleResult, error)
}

// Consumer drains orders.to_pay with manual acks, fanning deliveries out over
// a worker pool. Poison messages are dropped with an ack; store errors
// nack-requeue so the broker redelivers.
type Consumer struct {
	rabbitURL string
	prefetch  int
	workers   int
	svc       Settler
}

func NewConsumer(rabbitURL string, prefetch, workers int, svc Settler) *Consumer {
	if prefetch <= 0 {
		prefetch = 10
	}
	return &Consumer{
		rabbitURL: strings.TrimSpace(rabbitURL),
		prefetch:  prefetch,
		workers:   workers,
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

	logger.Logger.Info().
		Str("queue", event.QueueOrdersToPay).
		Int("workers", c.workers).
		Msg("order created consumer started")
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

	q, err := ch.QueueDeclare(event.QueueOrdersToPay, true, false, false, false, nil)
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

	deliveries, err := ch.Consume(q.Name, "payments-service", false, false, false, false, nil)
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
	log := logger.Logger.With().Str("component", "order_created_consumer").Logger()

	pool := NewWorkerPool(c.workers)
	defer pool.Stop()

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
			delivery := d
			pool.Submit(func() { c.handleDelivery(ctx, delivery) })
		}
	}
}

func (c *Consumer) reconnect(ctx context.Context) (<-chan amqp.Delivery, func(), error) {
	log := logger.Logger.With().Str("component", "order_created_consumer").Logger()

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
	log := logger.Logger.With().Str("component", "order_created_consumer").Logger()

	var evt event.OrderCreated
	if err := json.Unmarshal(d.Body, &evt); err != nil {
		log.Warn().Err(err).Msg("invalid order created json; dropping")
		metrics.RecordInboxFailed(event.QueueOrdersToPay, "invalid_json")
		_ = d.Ack(false)
		return
	}
	if evt.OrderID <= 0 || evt.UserID <= 0 {
		log.Warn().
			Int64("order_id", evt.OrderID).
			Int64("user_id", evt.UserID).
			Msg("order created without ids; dropping")
		metrics.RecordInboxFailed(event.QueueOrdersToPay, "missing_ids")
		_ = d.Ack(false)
		return
	}
	if evt.Amount <= 0 {
		log.Warn().
			Int64("order_id", evt.OrderID).
			Float64("amount", evt.Amount).
			Msg("order created with non-positive amount; dropping")
		metrics.RecordInboxFailed(event.QueueOrdersToPay, "invalid_amount")
		_ = d.Ack(false)
		return
	}

	// Redeliveries carry the same order_id and timestamp, so they derive the
	// same id and hit the inbox fence.
	msgID := evt.MessageID()

	res, err := c.svc.Settle(ctx, msgID, evt.OrderID, evt.UserID, evt.Amount, d.Body)
	if err != nil {
		log.Error().Err(err).
			Str("message_id", msgID).
			Int64("order_id", evt.OrderID).
			Msg("settle failed (requeue)")
		metrics.RecordInboxFailed(event.QueueOrdersToPay, "store_error")
		_ = d.Nack(false, true)
		return
	}

	if res.Duplicate {
		metrics.RecordInboxDuplicate(event.QueueOrdersToPay)
	} else {
		log.Info().
			Str("transaction_id", res.TransactionID).
			Int64("order_id", evt.OrderID).
			Bool("success", res.Success).
			Str("message", res.Message).
			Msg("order settled")
		metrics.RecordInboxProcessed(event.QueueOrdersToPay, time.Since(start))
	}
	_ = d.Ack(false)
}
