// Package realtime pushes order status updates to WebSocket clients and
// fans them out across service instances over Redis pub/sub.
package realtime

import (
	"sync"

	"github.com/gorilla/websocket"

	"github.com/webshop-labs/orderflow/internal/logger"
	"github.com/webshop-labs/orderflow/internal/metrics"
)

// Peer is one registered WebSocket connection. Writes go through send so a
// single goroutine touches the connection at a time, which is what
// gorilla/websocket requires.
type Peer struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (p *Peer) send(messageType int, data []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.conn.WriteMessage(messageType, data)
}

// Hub tracks which users have sockets open on this instance. A user may hold
// several sockets (multiple tabs), so the value is a set.
type Hub struct {
	mu    sync.RWMutex
	peers map[int64]map[*Peer]struct{}
}

func NewHub() *Hub {
	return &Hub{peers: make(map[int64]map[*Peer]struct{})}
}

func (h *Hub) Register(userID int64, conn *websocket.Conn) *Peer {
	p := &Peer{conn: conn}

	h.mu.Lock()
	set, ok := h.peers[userID]
	if !ok {
		set = make(map[*Peer]struct{})
		h.peers[userID] = set
	}
	set[p] = struct{}{}
	h.mu.Unlock()

	metrics.WebsocketConnected()
	return p
}

// Unregister removes the peer if it is still registered. It is safe to call
// twice for the same peer (read loop exit races with a failed write).
func (h *Hub) Unregister(userID int64, p *Peer) {
	h.mu.Lock()
	removed := false
	if set, ok := h.peers[userID]; ok {
		if _, present := set[p]; present {
			delete(set, p)
			removed = true
			if len(set) == 0 {
				delete(h.peers, userID)
			}
		}
	}
	h.mu.Unlock()

	if removed {
		metrics.WebsocketDisconnected()
	}
}

// SendToUser writes data to every socket the user has on this instance and
// returns how many writes succeeded. A socket that fails the write is
// dropped and closed; the others still get the message.
func (h *Hub) SendToUser(userID int64, data []byte) int {
	h.mu.RLock()
	set := h.peers[userID]
	peers := make([]*Peer, 0, len(set))
	for p := range set {
		peers = append(peers, p)
	}
	h.mu.RUnlock()

	sent := 0
	for _, p := range peers {
		if err := p.send(websocket.TextMessage, data); err != nil {
			logger.Logger.Debug().Err(err).Int64("user_id", userID).Msg("dropping dead websocket")
			h.Unregister(userID, p)
			_ = p.conn.Close()
			continue
		}
		sent++
	}
	return sent
}

// Connections reports how many sockets are open on this instance.
func (h *Hub) Connections() int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	n := 0
	for _, set := range h.peers {
		n += len(set)
	}
	return n
}
