package realtime

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/webshop-labs/orderflow/internal/contracts/event"
)

func newTestRedis(t *testing.T) *redis.Client {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return rdb
}

func TestBus_PublishTagsOrigin(t *testing.T) {
	ctx := context.Background()
	rdb := newTestRedis(t)

	sub := rdb.Subscribe(ctx, event.ChannelOrderUpdates)
	t.Cleanup(func() { _ = sub.Close() })
	_, err := sub.Receive(ctx)
	require.NoError(t, err)

	bus := NewBus(rdb, NewHub(), "1")
	bus.Publish(ctx, event.OrderUpdate{
		Type:    event.TypeOrderUpdate,
		OrderID: 9,
		UserID:  7,
		Status:  "NEW",
	})

	select {
	case msg := <-sub.Channel():
		var upd event.OrderUpdate
		require.NoError(t, json.Unmarshal([]byte(msg.Payload), &upd))
		assert.Equal(t, "1", upd.Origin)
		assert.Equal(t, event.TypeOrderUpdate, upd.Type)
		assert.Equal(t, int64(9), upd.OrderID)
	case <-time.After(2 * time.Second):
		t.Fatal("published update never reached the channel")
	}
}

func TestBus_ListenForwardsUpdatesFromOtherInstances(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	rdb := newTestRedis(t)

	hub := NewHub()
	srv := newWSServer(t, &Handler{Hub: hub})
	conn := dialWS(t, srv, 7)
	require.Eventually(t, func() bool { return hub.Connections() == 1 }, time.Second, 10*time.Millisecond)

	listener := NewBus(rdb, hub, "2")
	go func() { _ = listener.Listen(ctx) }()

	// frames of other types are ignored, so this doubles as a readiness probe
	require.Eventually(t, func() bool {
		return rdb.Publish(ctx, event.ChannelOrderUpdates, `{"type":"noise"}`).Val() == 1
	}, 2*time.Second, 10*time.Millisecond)

	producer := NewBus(rdb, NewHub(), "1")
	producer.Publish(ctx, event.OrderUpdate{
		Type:    event.TypeOrderUpdate,
		OrderID: 5,
		UserID:  7,
		Status:  "FINISHED",
		Message: "Order #5 status changed to: FINISHED",
	})

	frame := readFrame(t, conn, 2*time.Second)
	assert.Equal(t, "order_update", frame["type"])
	assert.Equal(t, float64(5), frame["order_id"])
	assert.Equal(t, float64(7), frame["user_id"])
	assert.Equal(t, "FINISHED", frame["status"])
	assert.NotContains(t, frame, "origin")
}

func TestBus_HandleSkipsOwnOrigin(t *testing.T) {
	hub := NewHub()
	srv := newWSServer(t, &Handler{Hub: hub})
	conn := dialWS(t, srv, 7)
	require.Eventually(t, func() bool { return hub.Connections() == 1 }, time.Second, 10*time.Millisecond)

	bus := NewBus(nil, hub, "1")

	own, _ := json.Marshal(event.OrderUpdate{Type: event.TypeOrderUpdate, OrderID: 1, UserID: 7, Status: "NEW", Origin: "1"})
	bus.handle(own)
	assertNoFrame(t, conn, 150*time.Millisecond)

	remote, _ := json.Marshal(event.OrderUpdate{Type: event.TypeOrderUpdate, OrderID: 2, UserID: 7, Status: "NEW", Origin: "9"})
	bus.handle(remote)
	frame := readFrame(t, conn, time.Second)
	assert.Equal(t, float64(2), frame["order_id"])
}

func TestBus_HandleDropsGarbage(t *testing.T) {
	bus := NewBus(nil, NewHub(), "1")
	bus.handle([]byte(`{`))
	bus.handle([]byte(`{"type":"something_else","user_id":7}`))
}

func TestNotifier_DeliversLocallyAndPublishes(t *testing.T) {
	ctx := context.Background()
	rdb := newTestRedis(t)

	sub := rdb.Subscribe(ctx, event.ChannelOrderUpdates)
	t.Cleanup(func() { _ = sub.Close() })
	_, err := sub.Receive(ctx)
	require.NoError(t, err)

	hub := NewHub()
	srv := newWSServer(t, &Handler{Hub: hub})
	conn := dialWS(t, srv, 7)
	require.Eventually(t, func() bool { return hub.Connections() == 1 }, time.Second, 10*time.Millisecond)

	amount := 150.0
	n := NewNotifier(hub, NewBus(rdb, hub, "1"))
	n.NotifyStatus(ctx, 3, 7, "NEW", &amount)

	frame := readFrame(t, conn, time.Second)
	assert.Equal(t, "order_update", frame["type"])
	assert.Equal(t, float64(3), frame["order_id"])
	assert.Equal(t, "NEW", frame["status"])
	assert.Equal(t, 150.0, frame["amount"])
	assert.Equal(t, "Order #3 status changed to: NEW", frame["message"])
	assert.NotContains(t, frame, "origin")

	select {
	case msg := <-sub.Channel():
		var upd event.OrderUpdate
		require.NoError(t, json.Unmarshal([]byte(msg.Payload), &upd))
		assert.Equal(t, "1", upd.Origin)
	case <-time.After(2 * time.Second):
		t.Fatal("update never published to redis")
	}
}
