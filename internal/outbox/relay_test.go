package outbox

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockStore struct{ mock.Mock }

func (m *MockStore) PendingMessages(ctx context.Context, limit int) ([]Message, error) {
	args := m.Called(ctx, limit)
	if v := args.Get(0); v != nil {
		return v.([]Message), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockStore) MarkProcessed(ctx context.Context, ids []int64) error {
	return m.Called(ctx, ids).Error(0)
}

type MockPublisher struct{ mock.Mock }

func (m *MockPublisher) Publish(ctx context.Context, queue, messageID string, body []byte) error {
	return m.Called(ctx, queue, messageID, body).Error(0)
}

func pendingBatch() []Message {
	return []Message{
		{ID: 1, MessageID: "mid-1", Queue: "orders.to_pay", Payload: []byte(`{"order_id":1}`)},
		{ID: 2, MessageID: "mid-2", Queue: "orders.to_pay", Payload: []byte(`{"order_id":2}`)},
		{ID: 3, MessageID: "mid-3", Queue: "orders.to_pay", Payload: []byte(`{"order_id":3}`)},
	}
}

func TestDrainOnce_PublishesBatchAndSettlesRows(t *testing.T) {
	ctx := context.Background()
	store := new(MockStore)
	pub := new(MockPublisher)

	store.On("PendingMessages", ctx, 50).Return(pendingBatch(), nil).Once()
	pub.On("Publish", ctx, "orders.to_pay", "mid-1", []byte(`{"order_id":1}`)).Return(nil).Once()
	pub.On("Publish", ctx, "orders.to_pay", "mid-2", []byte(`{"order_id":2}`)).Return(nil).Once()
	pub.On("Publish", ctx, "orders.to_pay", "mid-3", []byte(`{"order_id":3}`)).Return(nil).Once()
	store.On("MarkProcessed", ctx, []int64{1, 2, 3}).Return(nil).Once()

	n, err := NewRelay(store, pub, 50).drainOnce(ctx)

	require.NoError(t, err)
	assert.Equal(t, 3, n)
	store.AssertExpectations(t)
	pub.AssertExpectations(t)
}

func TestDrainOnce_EmptyOutboxDoesNothing(t *testing.T) {
	ctx := context.Background()
	store := new(MockStore)
	pub := new(MockPublisher)

	store.On("PendingMessages", ctx, 50).Return([]Message(nil), nil).Once()

	n, err := NewRelay(store, pub, 50).drainOnce(ctx)

	require.NoError(t, err)
	assert.Zero(t, n)
	pub.AssertNotCalled(t, "Publish", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestDrainOnce_FailedRowStaysPendingAndBatchContinues(t *testing.T) {
	ctx := context.Background()
	store := new(MockStore)
	pub := new(MockPublisher)

	store.On("PendingMessages", ctx, 50).Return(pendingBatch(), nil).Once()
	pub.On("Publish", ctx, "orders.to_pay", "mid-1", mock.Anything).Return(nil).Once()
	pub.On("Publish", ctx, "orders.to_pay", "mid-2", mock.Anything).Return(errors.New("publish nack")).Once()
	pub.On("Publish", ctx, "orders.to_pay", "mid-3", mock.Anything).Return(nil).Once()
	// mid-2 is left for the next scan
	store.On("MarkProcessed", ctx, []int64{1, 3}).Return(nil).Once()

	n, err := NewRelay(store, pub, 50).drainOnce(ctx)

	require.NoError(t, err)
	assert.Equal(t, 2, n)
	store.AssertExpectations(t)
	pub.AssertExpectations(t)
}

func TestDrainOnce_WholeBatchFailedReportsError(t *testing.T) {
	ctx := context.Background()
	store := new(MockStore)
	pub := new(MockPublisher)

	store.On("PendingMessages", ctx, 50).Return(pendingBatch(), nil).Once()
	pub.On("Publish", ctx, "orders.to_pay", mock.Anything, mock.Anything).Return(errors.New("broker down")).Times(3)

	n, err := NewRelay(store, pub, 50).drainOnce(ctx)

	require.Error(t, err)
	assert.Zero(t, n)
	store.AssertNotCalled(t, "MarkProcessed", mock.Anything, mock.Anything)
}

func TestDrainOnce_StoreReadErrorPropagates(t *testing.T) {
	ctx := context.Background()
	store := new(MockStore)
	pub := new(MockPublisher)

	store.On("PendingMessages", ctx, 50).Return(nil, errors.New("db down")).Once()

	n, err := NewRelay(store, pub, 50).drainOnce(ctx)

	require.Error(t, err)
	assert.Zero(t, n)
	pub.AssertNotCalled(t, "Publish", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestDrainOnce_SettleErrorLeavesRowsForRetry(t *testing.T) {
	ctx := context.Background()
	store := new(MockStore)
	pub := new(MockPublisher)

	store.On("PendingMessages", ctx, 50).Return(pendingBatch()[:1], nil).Once()
	pub.On("Publish", ctx, "orders.to_pay", "mid-1", mock.Anything).Return(nil).Once()
	store.On("MarkProcessed", ctx, []int64{1}).Return(errors.New("db down")).Once()

	n, err := NewRelay(store, pub, 50).drainOnce(ctx)

	require.Error(t, err)
	assert.Equal(t, 1, n)
}

func TestNewRelay_DefaultsBatchSize(t *testing.T) {
	r := NewRelay(new(MockStore), new(MockPublisher), 0)
	assert.Equal(t, 50, r.batchSize)
}

func TestRun_StopsOnContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	store := new(MockStore)
	pub := new(MockPublisher)

	store.On("PendingMessages", mock.Anything, 50).Return([]Message(nil), nil)

	done := make(chan struct{})
	go func() {
		NewRelay(store, pub, 50).Run(ctx)
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("relay did not stop after context cancel")
	}
}
