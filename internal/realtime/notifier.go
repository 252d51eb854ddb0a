package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/webshop-labs/orderflow/internal/contracts/event"
	"github.com/webshop-labs/orderflow/internal/logger"
)

// Notifier builds order_update frames and delivers them: local sockets
// first, then the bus so every other instance can reach the user's remaining
// sockets. Delivery is best-effort; the status change is already committed.
type Notifier struct {
	hub   *Hub
	bus   *Bus
	start time.Time
}

func NewNotifier(hub *Hub, bus *Bus) *Notifier {
	return &Notifier{hub: hub, bus: bus, start: time.Now()}
}

// NotifyStatus pushes the order's new status to the owning user.
func (n *Notifier) NotifyStatus(ctx context.Context, orderID, userID int64, status string, amount *float64) {
	upd := event.OrderUpdate{
		Type:      event.TypeOrderUpdate,
		OrderID:   orderID,
		UserID:    userID,
		Status:    status,
		Amount:    amount,
		Timestamp: time.Since(n.start).Seconds(),
		Message:   fmt.Sprintf("Order #%d status changed to: %s", orderID, status),
	}

	if data, err := json.Marshal(upd); err == nil {
		if sent := n.hub.SendToUser(userID, data); sent > 0 {
			logger.Logger.Debug().
				Int64("order_id", orderID).
				Int64("user_id", userID).
				Str("status", status).
				Int("sockets", sent).
				Msg("order update delivered locally")
		}
	}

	if n.bus != nil {
		n.bus.Publish(ctx, upd)
	}
}
