package realtime

import (
	"context"
	"encoding/json"

	"github.com/redis/go-redis/v9"

	"github.com/webshop-labs/orderflow/internal/contracts/event"
	"github.com/webshop-labs/orderflow/internal/logger"
	"github.com/webshop-labs/orderflow/internal/metrics"
)

// Bus bridges order updates between instances over a Redis pub/sub channel.
// Every instance publishes the updates it produces and forwards the ones it
// receives to its own sockets, so a user lands on the right instance without
// sticky sessions.
type Bus struct {
	rdb      *redis.Client
	hub      *Hub
	instance string
}

func NewBus(rdb *redis.Client, hub *Hub, instance string) *Bus {
	return &Bus{rdb: rdb, hub: hub, instance: instance}
}

// Publish sends the update to the shared channel tagged with this instance
// id. Errors are logged, not returned: local sockets already got the frame
// and a Redis outage only costs cross-instance fan-out.
func (b *Bus) Publish(ctx context.Context, upd event.OrderUpdate) {
	upd.Origin = b.instance

	body, err := json.Marshal(upd)
	if err != nil {
		logger.Logger.Error().Err(err).Msg("marshal order update failed")
		return
	}

	if err := b.rdb.Publish(ctx, event.ChannelOrderUpdates, body).Err(); err != nil {
		logger.Logger.Warn().Err(err).Msg("redis publish failed; update delivered locally only")
		return
	}
	metrics.RecordRealtimePublished()
}

// Listen subscribes to the update channel and forwards frames produced by
// other instances to local sockets. It blocks until ctx is canceled or the
// subscription dies.
func (b *Bus) Listen(ctx context.Context) error {
	log := logger.Logger.With().Str("component", "realtime_bus").Str("instance", b.instance).Logger()

	sub := b.rdb.Subscribe(ctx, event.ChannelOrderUpdates)
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return err
	}
	log.Info().Str("channel", event.ChannelOrderUpdates).Msg("subscribed")

	go func() {
		<-ctx.Done()
		_ = sub.Close()
	}()

	for msg := range sub.Channel() {
		b.handle([]byte(msg.Payload))
	}

	log.Info().Msg("stopped")
	return nil
}

func (b *Bus) handle(payload []byte) {
	var upd event.OrderUpdate
	if err := json.Unmarshal(payload, &upd); err != nil {
		logger.Logger.Warn().Err(err).Msg("invalid order update from redis; dropping")
		return
	}
	if upd.Type != event.TypeOrderUpdate {
		return
	}
	// the producing instance already delivered to its own sockets
	if upd.Origin != "" && upd.Origin == b.instance {
		return
	}

	upd.Origin = ""
	data, err := json.Marshal(upd)
	if err != nil {
		return
	}
	if n := b.hub.SendToUser(upd.UserID, data); n > 0 {
		metrics.RecordRealtimeForwarded()
		logger.Logger.Debug().Int64("user_id", upd.UserID).Int("sockets", n).Msg("redis update forwarded")
	}
}
