package server

import (
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/ngandimoun/voicejobs/broadcast"
)

// Hub tracks websocket clients and fans job status updates out to them.
type Hub struct {
	clients    map[*websocket.Conn]bool
	broadcast  chan []byte
	register   chan *websocket.Conn
	unregister chan *websocket.Conn
	stop       chan struct{}
	mu         sync.Mutex
	logger     *slog.Logger
}

// NewHub creates a websocket hub.
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		clients:    make(map[*websocket.Conn]bool),
		broadcast:  make(chan []byte, 64),
		register:   make(chan *websocket.Conn),
		unregister: make(chan *websocket.Conn),
		stop:       make(chan struct{}),
		logger:     logger,
	}
}

// Start begins the hub loop.
func (h *Hub) Start() {
	go func() {
		for {
			select {
			case client := <-h.register:
				h.mu.Lock()
				h.clients[client] = true
				h.mu.Unlock()
				h.logger.Info("websocket client connected", slog.Int("clients", h.clientCount()))
			case client := <-h.unregister:
				h.mu.Lock()
				if _, ok := h.clients[client]; ok {
					delete(h.clients, client)
					client.Close()
				}
				h.mu.Unlock()
				h.logger.Info("websocket client disconnected", slog.Int("clients", h.clientCount()))
			case message := <-h.broadcast:
				h.mu.Lock()
				for client := range h.clients {
					if err := client.WriteMessage(websocket.TextMessage, message); err != nil {
						h.logger.Warn("failed to write to websocket client", slog.String("error", err.Error()))
						client.Close()
						delete(h.clients, client)
					}
				}
				h.mu.Unlock()
			case <-h.stop:
				h.mu.Lock()
				for client := range h.clients {
					client.Close()
					delete(h.clients, client)
				}
				h.mu.Unlock()
				return
			}
		}
	}()
}

// Stop disconnects all clients and ends the hub loop.
func (h *Hub) Stop() {
	close(h.stop)
}

// BroadcastUpdate queues a job status update for all connected clients.
// Delivery is best-effort: if the hub is backed up the update is dropped.
func (h *Hub) BroadcastUpdate(u broadcast.StatusUpdate) {
	message := map[string]interface{}{
		"type":   "job_update",
		"job_id": u.JobID,
		"status": u.Status,
	}
	if u.Result != nil {
		message["result"] = u.Result
	}
	if u.Error != "" {
		message["error"] = u.Error
	}

	data, err := json.Marshal(message)
	if err != nil {
		h.logger.Error("failed to marshal job update", slog.String("error", err.Error()))
		return
	}

	select {
	case h.broadcast <- data:
	default:
		h.logger.Warn("dropping websocket update, hub backed up", slog.String("job_id", u.JobID))
	}
}

// Register adds a websocket client.
func (h *Hub) Register(conn *websocket.Conn) {
	h.register <- conn
}

// Unregister removes a websocket client.
func (h *Hub) Unregister(conn *websocket.Conn) {
	h.unregister <- conn
}

func (h *Hub) clientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}
