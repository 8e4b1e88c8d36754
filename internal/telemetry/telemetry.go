// Package telemetry adapts the receiver's per-frame sync state into an
// opt-in WebSocket broadcast, for a browser-based monitor — the diagnostic
// stream a structured, machine-readable sibling.
package telemetry

import (
	"encoding/json"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/wT1J/radae-rx/internal/rxlog"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// FrameStatus is one broadcast update, emitted once per modem frame.
type FrameStatus struct {
	State     string  `json:"state"`
	Tmax      int     `json:"tmax"`
	Fmax      float64 `json:"fmax"`
	Dtmax12   float64 `json:"dtmax12"`
	SNREstDb  float64 `json:"snrEstDb"`
	EndOfOver bool    `json:"endOfOver"`
}

// Hub fans FrameStatus updates out to connected WebSocket clients.
type Hub struct {
	clients map[*websocket.Conn]bool
	mu      sync.RWMutex
	updates chan FrameStatus
}

// NewHub creates a Hub and starts its broadcast loop.
func NewHub() *Hub {
	h := &Hub{
		clients: make(map[*websocket.Conn]bool),
		updates: make(chan FrameStatus, 32),
	}
	go h.run()
	return h
}

func (h *Hub) run() {
	for status := range h.updates {
		data, err := json.Marshal(status)
		if err != nil {
			rxlog.Log.Warn().Err(err).Msg("telemetry: marshal status")
			continue
		}
		h.mu.RLock()
		for conn := range h.clients {
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				go h.removeClient(conn)
			}
		}
		h.mu.RUnlock()
	}
}

// Publish enqueues a status update for broadcast, dropping it rather than
// blocking the receive loop if the channel is full. Its signature matches
// internal/radae.StatusSink so a *Hub can be handed to a SyncFsm directly.
func (h *Hub) Publish(state string, tmax int, fmax, dtmax12, snrEstDb float64, endOfOver bool) {
	s := FrameStatus{
		State:     state,
		Tmax:      tmax,
		Fmax:      fmax,
		Dtmax12:   dtmax12,
		SNREstDb:  snrEstDb,
		EndOfOver: endOfOver,
	}
	select {
	case h.updates <- s:
	default:
		rxlog.Log.Debug().Msg("telemetry: dropped status update, channel full")
	}
}

func (h *Hub) addClient(conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[conn] = true
}

func (h *Hub) removeClient(conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.clients, conn)
	conn.Close()
}

// ServeWS upgrades an HTTP request to a WebSocket and registers it with the
// hub, reading (and discarding) client messages until it disconnects.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		rxlog.Log.Warn().Err(err).Msg("telemetry: websocket upgrade failed")
		return
	}
	h.addClient(conn)
	defer h.removeClient(conn)
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

// ListenAndServe starts an HTTP server exposing the hub at /ws. It blocks
// until the server exits and should be run in its own goroutine.
func ListenAndServe(addr string, h *Hub) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", h.ServeWS)
	rxlog.Log.Info().Str("addr", addr).Msg("telemetry: websocket server listening")
	return http.ListenAndServe(addr, mux)
}
