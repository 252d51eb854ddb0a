package broker

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

const (
	// Wait window for Return / Confirm
	publishWait = 500 * time.Millisecond
)

// Publisher sends persistent messages to durable queues through the default
// exchange with publisher confirms enabled. After a connection-level failure
// the next Publish call redials, so the caller decides the retry cadence.
type Publisher struct {
	url    string
	queues []string

	mu sync.Mutex

	conn *amqp.Connection
	ch   *amqp.Channel

	confirmCh <-chan amqp.Confirmation
	returnCh  <-chan amqp.Return
}

// NewPublisher dials the broker and declares the given queues durable.
func NewPublisher(url string, queues ...string) (*Publisher, error) {
	p := &Publisher{
		url:    strings.TrimSpace(url),
		queues: queues,
	}
	if err := p.connect(); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *Publisher) connect() error {
	conn, err := amqp.Dial(p.url)
	if err != nil {
		return err
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return err
	}

	// enable publisher confirms
	if err := ch.Confirm(false); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return err
	}

	for _, q := range p.queues {
		if _, err := ch.QueueDeclare(q, true, false, false, false, nil); err != nil {
			_ = ch.Close()
			_ = conn.Close()
			return err
		}
	}

	p.conn = conn
	p.ch = ch

	p.confirmCh = ch.NotifyPublish(make(chan amqp.Confirmation, 1))
	p.returnCh = ch.NotifyReturn(make(chan amqp.Return, 1))

	return nil
}

func (p *Publisher) teardown() {
	if p.ch != nil {
		_ = p.ch.Close()
		p.ch = nil
	}
	if p.conn != nil {
		_ = p.conn.Close()
		p.conn = nil
	}
}

func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.teardown()
	return nil
}

// Publish sends a JSON body to the named queue and waits for the broker
// confirm. A nil return means the broker accepted the message; anything else
// means the caller must keep the message pending and retry.
// IMPORTANT: messageID MUST be stable across retries (outbox.message_id).
func (p *Publisher) Publish(ctx context.Context, queue, messageID string, body []byte) error {
	if queue == "" {
		return errors.New("missing queue")
	}
	if strings.TrimSpace(messageID) == "" {
		return errors.New("missing messageID")
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.ch == nil {
		if err := p.connect(); err != nil {
			return err
		}
	}

	err := p.ch.PublishWithContext(
		ctx,
		"", // default exchange routes by queue name
		queue,
		true,  // mandatory
		false, // immediate
		amqp.Publishing{
			MessageId:    messageID,
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Timestamp:    time.Now().UTC(),
			Body:         body,
		},
	)
	if err != nil {
		p.teardown()
		return err
	}

	// Wait for either Return (NO_ROUTE) or Confirm
	select {
	case ret := <-p.returnCh:
		// channel state is ambiguous after a return; rebuild on next call
		p.teardown()
		return errors.New("NO_ROUTE: " + ret.RoutingKey)
	case conf := <-p.confirmCh:
		if !conf.Ack {
			return errors.New("publish nack")
		}
		return nil
	case <-time.After(publishWait):
		return errors.New("confirm timeout")
	case <-ctx.Done():
		return ctx.Err()
	}
}
