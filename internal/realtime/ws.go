package realtime

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	appCtx "github.com/webshop-labs/orderflow/internal/pkg/context"
	"github.com/webshop-labs/orderflow/internal/logger"
	"github.com/webshop-labs/orderflow/internal/transport/response"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// browsers connect from arbitrary origins; auth is out of scope here
	CheckOrigin: func(*http.Request) bool { return true },
}

// Handler upgrades GET /ws/{user_id} requests and keeps the socket in the
// hub until the client goes away. Greeting and Pong let each binary shape
// its own frames.
type Handler struct {
	Hub      *Hub
	Greeting func(userID int64) any
	Pong     func() any
}

func (h *Handler) ServeWS(w http.ResponseWriter, r *http.Request) {
	userID, err := strconv.ParseInt(chi.URLParam(r, "user_id"), 10, 64)
	if err != nil || userID <= 0 {
		response.Fail(w, http.StatusBadRequest, "user_id.invalid", "Invalid User ID", nil, appCtx.GetRequestID(r.Context()))
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already replied with an HTTP error
		logger.WithCtx(r.Context()).Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	log := logger.WithCtx(r.Context()).With().Int64("user_id", userID).Logger()
	peer := h.Hub.Register(userID, conn)
	log.Info().Msg("websocket connected")

	defer func() {
		h.Hub.Unregister(userID, peer)
		_ = conn.Close()
		log.Info().Msg("websocket disconnected")
	}()

	if h.Greeting != nil {
		if data, err := json.Marshal(h.Greeting(userID)); err == nil {
			if err := peer.send(websocket.TextMessage, data); err != nil {
				return
			}
		}
	}

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return
		}
		h.handleClientFrame(peer, raw)
	}
}

// handleClientFrame answers ping frames and ignores everything else, which
// matches what clients send to keep the connection alive.
func (h *Handler) handleClientFrame(peer *Peer, raw []byte) {
	var msg struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(raw, &msg); err != nil {
		return
	}
	if msg.Type != "ping" || h.Pong == nil {
		return
	}
	if data, err := json.Marshal(h.Pong()); err == nil {
		_ = peer.send(websocket.TextMessage, data)
	}
}
