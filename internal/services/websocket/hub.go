package websocket

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"catwatch/internal/dto"
	"catwatch/internal/logger"
	"catwatch/internal/metrics"

	"github.com/gorilla/websocket"
)

const (
	writeWait       = 5 * time.Second
	broadcastBuffer = 256
)

type registration struct {
	client   *websocket.Conn
	greeting [][]byte
}

// HubService fans status, log and cycle messages out to every viewer page.
// All writes to clients happen on the Run goroutine.
type HubService struct {
	clients    map[*websocket.Conn]bool
	broadcast  chan []byte
	register   chan registration
	unregister chan *websocket.Conn
	done       chan struct{}
	mutex      sync.RWMutex
	logger     *logger.Logger
	metrics    *metrics.Metrics
}

func NewHubService(logger *logger.Logger, m *metrics.Metrics) *HubService {
	return &HubService{
		clients:    make(map[*websocket.Conn]bool),
		broadcast:  make(chan []byte, broadcastBuffer),
		register:   make(chan registration),
		unregister: make(chan *websocket.Conn),
		done:       make(chan struct{}),
		logger:     logger,
		metrics:    m,
	}
}

// Run serves registrations and broadcasts until ctx ends, then closes all clients.
func (h *HubService) Run(ctx context.Context) {
	defer close(h.done)

	for {
		select {
		case <-ctx.Done():
			h.mutex.Lock()
			for client := range h.clients {
				client.Close()
				delete(h.clients, client)
			}
			h.mutex.Unlock()
			h.metrics.Viewers.Set(0)
			return

		case reg := <-h.register:
			h.mutex.Lock()
			h.clients[reg.client] = true
			count := len(h.clients)
			h.mutex.Unlock()
			h.metrics.Viewers.Set(float64(count))
			h.logger.Info("Client connected. Total: %d", count)
			for _, message := range reg.greeting {
				if !h.write(reg.client, message) {
					break
				}
			}

		case client := <-h.unregister:
			h.mutex.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				client.Close()
			}
			count := len(h.clients)
			h.mutex.Unlock()
			h.metrics.Viewers.Set(float64(count))
			h.logger.Info("Client disconnected. Total: %d", count)

		case message := <-h.broadcast:
			h.mutex.RLock()
			clients := make([]*websocket.Conn, 0, len(h.clients))
			for client := range h.clients {
				clients = append(clients, client)
			}
			h.mutex.RUnlock()
			for _, client := range clients {
				h.write(client, message)
			}
		}
	}
}

// write sends one message and drops the client on failure.
func (h *HubService) write(client *websocket.Conn, message []byte) bool {
	client.SetWriteDeadline(time.Now().Add(writeWait))
	if err := client.WriteMessage(websocket.TextMessage, message); err != nil {
		h.logger.Error("Error sending message: %v", err)
		h.mutex.Lock()
		delete(h.clients, client)
		count := len(h.clients)
		h.mutex.Unlock()
		h.metrics.Viewers.Set(float64(count))
		client.Close()
		return false
	}
	return true
}

// Register adds a client; greeting messages are written to it before any broadcast.
func (h *HubService) Register(client *websocket.Conn, greeting ...[]byte) {
	select {
	case h.register <- registration{client: client, greeting: greeting}:
	case <-h.done:
		client.Close()
	}
}

func (h *HubService) Unregister(client *websocket.Conn) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

// Broadcast queues message for every client. It never blocks; when the queue
// is full the message is dropped.
func (h *HubService) Broadcast(message []byte) {
	select {
	case h.broadcast <- message:
	default:
		h.logger.Warning("⚠️  Broadcast queue full - dropping message")
	}
}

// BroadcastMessage encodes msg as JSON and broadcasts it.
func (h *HubService) BroadcastMessage(msg dto.Message) {
	data, err := Encode(msg)
	if err != nil {
		h.logger.Error("Error encoding %s message: %v", msg.Type, err)
		return
	}
	h.Broadcast(data)
}

// Encode marshals a websocket message.
func Encode(msg dto.Message) ([]byte, error) {
	return json.Marshal(msg)
}

func (h *HubService) GetClientCount() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return len(h.clients)
}
