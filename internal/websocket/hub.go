package websocket

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/knewbitmax/api/internal/model"
)

// Client represents a WebSocket subscriber to one dub job
type Client struct {
	JobID string
	Conn  *websocket.Conn
	Send  chan []byte

	mu     sync.Mutex
	closed bool
}

// NewClient creates a subscriber for jobID
func NewClient(jobID string, conn *websocket.Conn) *Client {
	return &Client{JobID: jobID, Conn: conn, Send: make(chan []byte, 256)}
}

// trySend queues data without blocking and reports whether it was accepted
func (c *Client) trySend(data []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.Send <- data:
		return true
	default:
		return false
	}
}

func (c *Client) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.Send)
	}
}

// Hub fans job events out to the WebSocket clients subscribed to each job
type Hub struct {
	// Clients grouped by job ID
	clients map[string]map[*Client]bool

	register   chan *Client
	unregister chan *Client
	broadcast  chan *BroadcastMessage
	done       chan struct{}

	mu sync.RWMutex
}

// BroadcastMessage represents a message to broadcast
type BroadcastMessage struct {
	JobID   string
	Message []byte
}

// NewHub creates a new Hub
func NewHub() *Hub {
	return &Hub{
		clients:    make(map[string]map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan *BroadcastMessage, 256),
		done:       make(chan struct{}),
	}
}

// Run starts the hub's main loop and returns when ctx is done
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return

		case client := <-h.register:
			h.mu.Lock()
			if h.clients[client.JobID] == nil {
				h.clients[client.JobID] = make(map[*Client]bool)
			}
			h.clients[client.JobID][client] = true
			h.mu.Unlock()
			log.Printf("Client registered for job %s", client.JobID)

		case client := <-h.unregister:
			h.mu.Lock()
			h.remove(client)
			h.mu.Unlock()
			log.Printf("Client unregistered from job %s", client.JobID)

		case msg := <-h.broadcast:
			h.mu.Lock()
			for client := range h.clients[msg.JobID] {
				if !client.trySend(msg.Message) {
					// slow subscriber
					h.remove(client)
				}
			}
			h.mu.Unlock()
		}
	}
}

// remove drops a client; h.mu must be held
func (h *Hub) remove(client *Client) {
	clients, ok := h.clients[client.JobID]
	if !ok {
		return
	}
	if _, ok := clients[client]; ok {
		delete(clients, client)
		client.close()
		if len(clients) == 0 {
			delete(h.clients, client.JobID)
		}
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, clients := range h.clients {
		for client := range clients {
			h.remove(client)
		}
	}
}

// Register adds a new client
func (h *Hub) Register(client *Client) {
	select {
	case h.register <- client:
	case <-h.done:
		client.close()
	}
}

// Unregister removes a client
func (h *Hub) Unregister(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

// Subscribers returns the number of clients watching jobID
func (h *Hub) Subscribers(jobID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[jobID])
}

// BroadcastProgress sends a progress update to all job subscribers
func (h *Hub) BroadcastProgress(jobID string, progress int, status model.JobStatus, step string) {
	h.publish(jobID, model.WSProgressEvent{
		Type:     model.WSEventProgress,
		JobID:    jobID,
		Progress: progress,
		Status:   status,
		Step:     step,
	})
}

// BroadcastComplete sends the job result to all job subscribers
func (h *Hub) BroadcastComplete(jobID string, result *model.DubResultResponse) {
	h.publish(jobID, model.WSCompleteEvent{
		Type:   model.WSEventComplete,
		JobID:  jobID,
		Result: result,
	})
}

// BroadcastError sends a failure to all job subscribers
func (h *Hub) BroadcastError(jobID, code, message, diagnostic string) {
	h.publish(jobID, model.WSErrorEvent{
		Type:       model.WSEventError,
		JobID:      jobID,
		Code:       code,
		Message:    message,
		Diagnostic: diagnostic,
	})
}

// BroadcastCanceled tells subscribers the job was canceled
func (h *Hub) BroadcastCanceled(jobID string) {
	h.publish(jobID, model.WSProgressEvent{
		Type:   model.WSEventCanceled,
		JobID:  jobID,
		Status: model.JobStatusCanceled,
	})
}

// publish never blocks the caller; events are dropped when the hub is saturated
func (h *Hub) publish(jobID string, msg interface{}) {
	data, err := json.Marshal(msg)
	if err != nil {
		log.Printf("Failed to marshal %T: %v", msg, err)
		return
	}

	select {
	case h.broadcast <- &BroadcastMessage{JobID: jobID, Message: data}:
	default:
		log.Printf("Warning: broadcast buffer full, dropping event for job %s", jobID)
	}
}

// HandleConnection serves a WebSocket subscriber. snapshot, when non-nil, is
// sent first so late subscribers see the job's current state.
func (h *Hub) HandleConnection(c *websocket.Conn, jobID string, snapshot interface{}) {
	client := NewClient(jobID, c)

	if snapshot != nil {
		if data, err := json.Marshal(snapshot); err == nil {
			client.trySend(data)
		}
	}

	h.Register(client)
	defer h.Unregister(client)

	// Writer
	go func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()

		for {
			select {
			case message, ok := <-client.Send:
				if !ok {
					c.WriteMessage(websocket.CloseMessage, []byte{})
					return
				}
				if err := c.WriteMessage(websocket.TextMessage, message); err != nil {
					return
				}

			case <-ticker.C:
				if err := c.WriteMessage(websocket.PingMessage, nil); err != nil {
					return
				}
			}
		}
	}()

	// Reader loop
	for {
		_, message, err := c.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("WebSocket error: %v", err)
			}
			break
		}

		var msg model.WSEvent
		if err := json.Unmarshal(message, &msg); err != nil {
			continue
		}

		if msg.Type == model.WSEventPing {
			pong := model.WSEvent{Type: model.WSEventPong}
			data, _ := json.Marshal(pong)
			client.trySend(data)
		}
	}
}
