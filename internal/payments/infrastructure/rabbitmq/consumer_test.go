package rabbitmq

import (
	"context"
	"errors"
	"testing"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/webshop-labs/orderflow/internal/contracts/event"
	"github.com/webshop-labs/orderflow/internal/payments/domain"
)

type MockSettler struct{ mock.Mock }

func (m *MockSettler) Settle(ctx context.Context, messageID string, orderID, userID int64, amount float64, payload []byte) (domain.SettleResult, error) {
	args := m.Called(ctx, messageID, orderID, userID, amount, payload)
	return args.Get(0).(domain.SettleResult), args.Error(1)
}

type fakeAcker struct {
	acked   bool
	nacked  bool
	requeue bool
}

func (f *fakeAcker) Ack(tag uint64, multiple bool) error {
	f.acked = true
	return nil
}
func (f *fakeAcker) Nack(tag uint64, multiple bool, requeue bool) error {
	f.nacked = true
	f.requeue = requeue
	return nil
}
func (f *fakeAcker) Reject(tag uint64, requeue bool) error { return nil }

func delivery(body string) (amqp.Delivery, *fakeAcker) {
	acker := &fakeAcker{}
	return amqp.Delivery{Acknowledger: acker, Body: []byte(body)}, acker
}

func TestHandleDelivery_SettlesAndAcks(t *testing.T) {
	svc := new(MockSettler)
	c := NewConsumer("amqp://", 10, 2, svc)

	evt := event.OrderCreated{OrderID: 11, UserID: 7, Amount: 100, Timestamp: "2024-01-15T10:30:00.123456"}
	body := `{"order_id":11,"user_id":7,"amount":100,"timestamp":"2024-01-15T10:30:00.123456"}`
	d, acker := delivery(body)

	svc.On("Settle", mock.Anything, evt.MessageID(), int64(11), int64(7), 100.0, []byte(body)).
		Return(domain.SettleResult{Success: true, Message: domain.MsgPaymentSuccessful}, nil).Once()

	c.handleDelivery(context.Background(), d)

	assert.True(t, acker.acked)
	assert.False(t, acker.nacked)
	svc.AssertExpectations(t)
}

func TestHandleDelivery_PoisonJSONIsDropped(t *testing.T) {
	svc := new(MockSettler)
	c := NewConsumer("amqp://", 10, 2, svc)

	d, acker := delivery(`{not json`)
	c.handleDelivery(context.Background(), d)

	assert.True(t, acker.acked)
	svc.AssertNotCalled(t, "Settle", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestHandleDelivery_MissingIDsAreDropped(t *testing.T) {
	svc := new(MockSettler)
	c := NewConsumer("amqp://", 10, 2, svc)

	for _, body := range []string{
		`{"user_id":7,"amount":100,"timestamp":"t"}`,
		`{"order_id":11,"amount":100,"timestamp":"t"}`,
	} {
		d, acker := delivery(body)
		c.handleDelivery(context.Background(), d)
		assert.True(t, acker.acked, body)
	}
	svc.AssertNotCalled(t, "Settle", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestHandleDelivery_NonPositiveAmountIsDropped(t *testing.T) {
	svc := new(MockSettler)
	c := NewConsumer("amqp://", 10, 2, svc)

	d, acker := delivery(`{"order_id":11,"user_id":7,"amount":0,"timestamp":"t"}`)
	c.handleDelivery(context.Background(), d)

	assert.True(t, acker.acked)
	svc.AssertNotCalled(t, "Settle", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestHandleDelivery_StoreErrorRequeues(t *testing.T) {
	svc := new(MockSettler)
	c := NewConsumer("amqp://", 10, 2, svc)

	body := `{"order_id":11,"user_id":7,"amount":100,"timestamp":"t"}`
	d, acker := delivery(body)

	svc.On("Settle", mock.Anything, mock.Anything, int64(11), int64(7), 100.0, []byte(body)).
		Return(domain.SettleResult{}, errors.New("db down")).Once()

	c.handleDelivery(context.Background(), d)

	assert.False(t, acker.acked)
	assert.True(t, acker.nacked)
	assert.True(t, acker.requeue)
}

func TestHandleDelivery_DuplicateAcks(t *testing.T) {
	svc := new(MockSettler)
	c := NewConsumer("amqp://", 10, 2, svc)

	body := `{"order_id":11,"user_id":7,"amount":100,"timestamp":"t"}`
	d, acker := delivery(body)

	svc.On("Settle", mock.Anything, mock.Anything, int64(11), int64(7), 100.0, []byte(body)).
		Return(domain.SettleResult{Duplicate: true}, nil).Once()

	c.handleDelivery(context.Background(), d)

	assert.True(t, acker.acked)
	assert.False(t, acker.nacked)
}

// Redelivery of the same body must present the same message id to the store.
func TestHandleDelivery_MessageIDStableAcrossRedelivery(t *testing.T) {
	svc := new(MockSettler)
	c := NewConsumer("amqp://", 10, 2, svc)

	body := `{"order_id":11,"user_id":7,"amount":100,"timestamp":"2024-01-15T10:30:00.123456"}`

	var ids []string
	svc.On("Settle", mock.Anything, mock.Anything, int64(11), int64(7), 100.0, []byte(body)).
		Run(func(args mock.Arguments) { ids = append(ids, args.String(1)) }).
		Return(domain.SettleResult{Success: true}, nil).Twice()

	d1, _ := delivery(body)
	d2, _ := delivery(body)
	c.handleDelivery(context.Background(), d1)
	c.handleDelivery(context.Background(), d2)

	assert.Len(t, ids, 2)
	assert.Equal(t, ids[0], ids[1])
}
