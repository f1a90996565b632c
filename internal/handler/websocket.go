package handler

import (
	"encoding/json"
	"net/http"
	"slices"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"tsubuyaki/internal/metrics"
	"tsubuyaki/internal/model"
)

const eventWriteTimeout = 5 * time.Second

// newUpgrader accepts only handshakes whose Origin is listed
func newUpgrader(origins []string) websocket.Upgrader {
	allowed := slices.Clone(origins)
	return websocket.Upgrader{
		HandshakeTimeout: 10 * time.Second,
		CheckOrigin: func(r *http.Request) bool {
			return slices.Contains(allowed, r.Header.Get("Origin"))
		},
	}
}

// HandleWebSocket handles GET /ws
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("[WebSocket] upgrade error")
		return
	}
	defer conn.Close()

	h.ClientMu.Lock()
	h.Clients[conn] = true
	total := len(h.Clients)
	h.ClientMu.Unlock()
	metrics.WebSocketClients.Inc()
	log.Info().Msgf("[WebSocket] New connection. Total clients: %d", total)

	// 受信内容は使わない。切断を検知するためだけに読む
	for {
		if _, _, err := conn.NextReader(); err != nil {
			h.dropClient(conn)
			return
		}
	}
}

// dropClient forgets conn once, however many paths notice it is gone
func (h *Handler) dropClient(conn *websocket.Conn) {
	h.ClientMu.Lock()
	_, ok := h.Clients[conn]
	delete(h.Clients, conn)
	remaining := len(h.Clients)
	h.ClientMu.Unlock()
	if !ok {
		return
	}
	metrics.WebSocketClients.Dec()
	_ = conn.Close()
	log.Info().Msgf("[WebSocket] Client disconnected. Total clients: %d", remaining)
}

// publish queues ev for HandleBroadcast without blocking the request.
// After CloseBroadcast the event is dropped.
func (h *Handler) publish(ev model.Event) {
	h.broadcastMu.RLock()
	defer h.broadcastMu.RUnlock()
	if h.broadcastClosed {
		log.Debug().Msgf("[WebSocket] shutting down, dropped %s event for message: %d", ev.Type, ev.ID)
		return
	}
	select {
	case h.Broadcast <- ev:
		log.Debug().Msgf("[WebSocket] 📢 Queued %s event for message: %d", ev.Type, ev.ID)
	default:
		log.Warn().Msgf("[WebSocket] broadcast queue full, dropped %s event for message: %d", ev.Type, ev.ID)
	}
}

// CloseBroadcast stops HandleBroadcast. Safe to call more than once and
// while requests are still publishing.
func (h *Handler) CloseBroadcast() {
	h.broadcastMu.Lock()
	defer h.broadcastMu.Unlock()
	if h.broadcastClosed {
		return
	}
	h.broadcastClosed = true
	close(h.Broadcast)
}

// HandleBroadcast fans each queued event out to the connected clients
// until CloseBroadcast is called.
func (h *Handler) HandleBroadcast() {
	for ev := range h.Broadcast {
		data, err := json.Marshal(ev)
		if err != nil {
			log.Error().Err(err).Msgf("[WebSocket] encode %s event", ev.Type)
			continue
		}
		pm, err := websocket.NewPreparedMessage(websocket.TextMessage, data)
		if err != nil {
			log.Error().Err(err).Msgf("[WebSocket] prepare %s event", ev.Type)
			continue
		}

		// 書き込み中はロックを持たない
		h.ClientMu.RLock()
		conns := make([]*websocket.Conn, 0, len(h.Clients))
		for conn := range h.Clients {
			conns = append(conns, conn)
		}
		h.ClientMu.RUnlock()

		for _, conn := range conns {
			_ = conn.SetWriteDeadline(time.Now().Add(eventWriteTimeout))
			if err := conn.WritePreparedMessage(pm); err != nil {
				log.Debug().Err(err).Msg("[WebSocket] write failed")
				h.dropClient(conn)
			}
		}
	}
}
