package websocket

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"wbcscan/internal/config"
	"wbcscan/internal/dto"
	"wbcscan/internal/logger"
)

const writeWait = 5 * time.Second

// allUsers addresses every connected viewer.
const allUsers int64 = 0

type viewer struct {
	conn   *websocket.Conn
	userID int64
}

type event struct {
	userID int64
	data   []byte
}

// HubService fans progress events out to connected viewers. Events published
// for a user reach only the viewers that user opened.
type HubService struct {
	clients    map[*websocket.Conn]int64
	broadcast  chan event
	register   chan viewer
	unregister chan *websocket.Conn
	mutex      sync.RWMutex
	logger     *logger.Logger
	dropped    func()
	done       chan struct{}
}

// NewHubService creates a hub whose event queue holds config.ProgressBuffer messages.
func NewHubService(config *config.Config, logger *logger.Logger) *HubService {
	size := config.ProgressBuffer
	if size <= 0 {
		size = 64
	}
	return &HubService{
		clients:    make(map[*websocket.Conn]int64),
		broadcast:  make(chan event, size),
		register:   make(chan viewer),
		unregister: make(chan *websocket.Conn),
		logger:     logger,
		dropped:    func() {},
		done:       make(chan struct{}),
	}
}

// OnDrop installs a callback invoked whenever an event is discarded.
func (h *HubService) OnDrop(fn func()) {
	h.dropped = fn
}

// Run delivers queued events until ctx is done, then closes every client.
func (h *HubService) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			close(h.done)
			h.mutex.Lock()
			for client := range h.clients {
				client.Close()
				delete(h.clients, client)
			}
			h.mutex.Unlock()
			return

		case v := <-h.register:
			h.mutex.Lock()
			h.clients[v.conn] = v.userID
			count := len(h.clients)
			h.mutex.Unlock()
			h.logger.Info("Progress viewer connected. Total: %d", count)

		case client := <-h.unregister:
			h.mutex.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				client.Close()
			}
			count := len(h.clients)
			h.mutex.Unlock()
			h.logger.Info("Progress viewer disconnected. Total: %d", count)

		case message := <-h.broadcast:
			h.mutex.Lock()
			for client, userID := range h.clients {
				if message.userID != allUsers && message.userID != userID {
					continue
				}
				client.SetWriteDeadline(time.Now().Add(writeWait))
				if err := client.WriteMessage(websocket.TextMessage, message.data); err != nil {
					h.logger.Warning("Error sending progress: %v", err)
					delete(h.clients, client)
					client.Close()
				}
			}
			h.mutex.Unlock()
		}
	}
}

// Register adds a viewer connection owned by userID. After Run has stopped the
// connection is closed instead.
func (h *HubService) Register(client *websocket.Conn, userID int64) {
	select {
	case h.register <- viewer{conn: client, userID: userID}:
	case <-h.done:
		client.Close()
	}
}

// Unregister removes and closes a viewer connection.
func (h *HubService) Unregister(client *websocket.Conn) {
	select {
	case h.unregister <- client:
	case <-h.done:
		client.Close()
	}
}

// Publish queues a progress event for every viewer. When the queue is full the
// event is dropped.
func (h *HubService) Publish(name string, percent int) {
	h.PublishTo(allUsers, name, percent)
}

// PublishTo queues a progress event for the viewers of one user.
func (h *HubService) PublishTo(userID int64, name string, percent int) {
	message, err := json.Marshal(dto.ProgressMessage{Event: name, Value: percent})
	if err != nil {
		h.logger.Error("Failed to encode progress event: %v", err)
		return
	}

	select {
	case h.broadcast <- event{userID: userID, data: message}:
	default:
		h.dropped()
	}
}

// UserProgress publishes to the viewers of a single user.
type UserProgress struct {
	hub    *HubService
	userID int64
}

// ForUser returns a notifier bound to userID.
func (h *HubService) ForUser(userID int64) *UserProgress {
	return &UserProgress{hub: h, userID: userID}
}

func (p *UserProgress) Publish(name string, percent int) {
	p.hub.PublishTo(p.userID, name, percent)
}

// GetClientCount returns the number of connected viewers.
func (h *HubService) GetClientCount() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return len(h.clients)
}
