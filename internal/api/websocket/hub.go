package websocket

import (
	"encoding/json"
	"sync"

	"github.com/KevinKickass/OpenOBDCore/internal/scheduler"
	"go.uber.org/zap"
)

type outbound struct {
	pid  string
	data []byte
}

// Hub maintains active WebSocket clients and broadcasts messages
type Hub struct {
	// Registered clients
	clients map[*Client]bool

	// Inbound messages to broadcast
	broadcast chan Message

	// Register requests from clients
	register chan *Client

	// Unregister requests from clients
	unregister chan *Client

	stop chan struct{}

	mu     sync.RWMutex
	logger *zap.Logger
}

// NewHub creates a new Hub instance
func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		broadcast:  make(chan Message, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		stop:       make(chan struct{}),
		clients:    make(map[*Client]bool),
		logger:     logger,
	}
}

// Run starts the hub's main event loop
func (h *Hub) Run() {
	h.logger.Info("WebSocket Hub started")
	for {
		select {
		case <-h.stop:
			h.mu.Lock()
			for client := range h.clients {
				close(client.send)
				delete(h.clients, client)
			}
			h.mu.Unlock()
			h.logger.Info("WebSocket Hub stopped")
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			total := len(h.clients)
			h.mu.Unlock()
			h.logger.Info("WebSocket client registered",
				zap.String("remote_addr", client.remoteAddr()),
				zap.Int("total_clients", total))

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
				h.logger.Info("WebSocket client unregistered",
					zap.String("remote_addr", client.remoteAddr()),
					zap.Int("total_clients", len(h.clients)))
			}
			h.mu.Unlock()

		case message := <-h.broadcast:
			data, err := json.Marshal(message)
			if err != nil {
				h.logger.Error("Failed to marshal broadcast message",
					zap.Error(err))
				continue
			}
			h.deliver(outbound{pid: message.PID, data: data})
		}
	}
}

func (h *Hub) deliver(out outbound) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for client := range h.clients {
		if out.pid != "" && !client.wants(out.pid) {
			continue
		}
		select {
		case client.send <- out.data:
		default:
			// slow or dead client
			close(client.send)
			delete(h.clients, client)
			h.logger.Warn("Client send buffer full, unregistering",
				zap.String("remote_addr", client.remoteAddr()))
		}
	}
}

// Stop ends Run and closes every client.
func (h *Hub) Stop() {
	close(h.stop)
}

// Broadcast sends a message to all connected clients
func (h *Hub) Broadcast(msg Message) {
	select {
	case h.broadcast <- msg:
	default:
		h.logger.Warn("Hub broadcast channel full, message dropped",
			zap.String("message_type", string(msg.Type)))
	}
}

// Observe forwards query results to clients.
func (h *Hub) Observe(r scheduler.Result) {
	if r.Valid {
		h.Broadcast(NewSampleMessage(r.PID.String(), SampleData{
			Name:      r.Name,
			Value:     r.Value,
			Scaled:    r.Scaled,
			Unit:      r.Unit,
			ElapsedMs: r.Elapsed.Milliseconds(),
		}))
		return
	}
	h.Broadcast(NewQueryErrorMessage(r.PID.String(), QueryErrorData{
		Name:       r.Name,
		Outcome:    r.Outcome.String(),
		ElapsedMs:  r.Elapsed.Milliseconds(),
		IntervalMs: r.Interval.Milliseconds(),
	}))
}

func (h *Hub) StateChanged(from, to scheduler.State) {
	h.Broadcast(NewSessionStateMessage(to.String(), from.String()))
}

// GetClientCount returns the number of connected clients
func (h *Hub) GetClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
