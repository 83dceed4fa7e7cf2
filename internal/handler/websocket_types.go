// internal/handler/websocket_types.go
package handler

import (
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"maus-bus/internal/events"
)

// Client types
const (
	ClientEvents = "events"
	ClientDevice = "device"
)

// Client represents a WebSocket client
type Client struct {
	ID          string          `json:"id"`
	Connection  *websocket.Conn `json:"-"`
	Send        chan []byte     `json:"-"`
	Type        string          `json:"type"` // events, device
	Address     *string         `json:"address,omitempty"`
	UserAgent   string          `json:"user_agent"`
	RemoteAddr  string          `json:"remote_addr"`
	ConnectedAt time.Time       `json:"connected_at"`

	mu            sync.Mutex
	Subscriptions map[string]bool `json:"subscriptions,omitempty"`
}

// Subscribe adds a topic. A topic is an event type such as
// "device.status" or a group prefix such as "device".
func (c *Client) Subscribe(topic string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.Subscriptions == nil {
		c.Subscriptions = make(map[string]bool)
	}
	c.Subscriptions[topic] = true
}

// Unsubscribe removes a topic
func (c *Client) Unsubscribe(topic string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.Subscriptions, topic)
}

// Wants reports whether an event of type t should reach the client. A
// client without subscriptions receives everything.
func (c *Client) Wants(t events.Type) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.Subscriptions) == 0 {
		return true
	}
	s := string(t)
	if c.Subscriptions[s] {
		return true
	}
	if i := strings.IndexByte(s, '.'); i > 0 {
		return c.Subscriptions[s[:i]]
	}
	return false
}

// topics returns a copy of the subscriptions
func (c *Client) topics() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.Subscriptions))
	for t := range c.Subscriptions {
		out = append(out, t)
	}
	return out
}

// WebSocketMessage represents a WebSocket message
type WebSocketMessage struct {
	Type      string      `json:"type"`
	Data      interface{} `json:"data,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
	RequestID string      `json:"request_id,omitempty"`
}

// ConnectionManager manages WebSocket connections. A client's Send channel
// is closed only under the write lock, so senders holding the read lock
// never write to a closed channel.
type ConnectionManager struct {
	clients map[string]*Client
	mutex   sync.RWMutex
}

// NewConnectionManager creates a new connection manager
func NewConnectionManager() *ConnectionManager {
	return &ConnectionManager{
		clients: make(map[string]*Client),
	}
}

// Register registers a new client
func (cm *ConnectionManager) Register(client *Client) {
	cm.mutex.Lock()
	defer cm.mutex.Unlock()
	cm.clients[client.ID] = client
}

// Unregister unregisters a client and closes its send channel
func (cm *ConnectionManager) Unregister(client *Client) {
	cm.mutex.Lock()
	defer cm.mutex.Unlock()
	if _, ok := cm.clients[client.ID]; ok {
		delete(cm.clients, client.ID)
		close(client.Send)
	}
}

// CloseAll unregisters every client
func (cm *ConnectionManager) CloseAll() {
	cm.mutex.Lock()
	defer cm.mutex.Unlock()
	for id, client := range cm.clients {
		delete(cm.clients, id)
		close(client.Send)
	}
}

// Send queues msg for client. It returns false when the client is gone or
// its queue is full.
func (cm *ConnectionManager) Send(client *Client, msg []byte) bool {
	cm.mutex.RLock()
	defer cm.mutex.RUnlock()
	if _, ok := cm.clients[client.ID]; !ok {
		return false
	}
	select {
	case client.Send <- msg:
		return true
	default:
		return false
	}
}

// Broadcast queues msg for every client accepted by filter and returns the
// number of clients whose queue was full.
func (cm *ConnectionManager) Broadcast(filter func(*Client) bool, msg []byte) int {
	cm.mutex.RLock()
	defer cm.mutex.RUnlock()
	dropped := 0
	for _, client := range cm.clients {
		if !filter(client) {
			continue
		}
		select {
		case client.Send <- msg:
		default:
			dropped++
		}
	}
	return dropped
}

// GetDeviceClients returns clients watching a device address
func (cm *ConnectionManager) GetDeviceClients(address string) []*Client {
	cm.mutex.RLock()
	defer cm.mutex.RUnlock()

	var clients []*Client
	for _, client := range cm.clients {
		if client.Address != nil && *client.Address == address {
			clients = append(clients, client)
		}
	}
	return clients
}

// GetStats returns connection statistics
func (cm *ConnectionManager) GetStats() *ConnectionStats {
	cm.mutex.RLock()
	defer cm.mutex.RUnlock()

	stats := &ConnectionStats{
		TotalConnections: len(cm.clients),
		ByType:           make(map[string]int),
		Clients:          make([]ClientInfo, 0, len(cm.clients)),
	}

	for _, client := range cm.clients {
		stats.ByType[client.Type]++
		stats.Clients = append(stats.Clients, ClientInfo{
			ID:            client.ID,
			Type:          client.Type,
			Address:       client.Address,
			RemoteAddr:    client.RemoteAddr,
			ConnectedAt:   client.ConnectedAt,
			Subscriptions: client.topics(),
		})
	}

	return stats
}

// ConnectionStats represents connection statistics
type ConnectionStats struct {
	TotalConnections int            `json:"total_connections"`
	ByType           map[string]int `json:"by_type"`
	Clients          []ClientInfo   `json:"clients"`
}

// ClientInfo is a snapshot of one client
type ClientInfo struct {
	ID            string    `json:"id"`
	Type          string    `json:"type"`
	Address       *string   `json:"address,omitempty"`
	RemoteAddr    string    `json:"remote_addr"`
	ConnectedAt   time.Time `json:"connected_at"`
	Subscriptions []string  `json:"subscriptions,omitempty"`
}
