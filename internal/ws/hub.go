package ws

import (
	"encoding/json"
	"log"
	"sync"
)

// Hub maintains channel subscriptions of live connections. Channels are
// ephemeral: they exist while at least one connection is subscribed, and
// a connection's subscriptions vanish with it.
type Hub struct {
	mu       sync.RWMutex
	conns    map[string]*Conn          // by conn id
	rooms    map[string]map[*Conn]bool // members by channel
	channels map[*Conn]map[string]bool // channels by conn
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{
		conns:    make(map[string]*Conn),
		rooms:    make(map[string]map[*Conn]bool),
		channels: make(map[*Conn]map[string]bool),
	}
}

// Register tracks a new connection.
func (h *Hub) Register(conn *Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.conns[conn.ID] = conn
	h.channels[conn] = make(map[string]bool)
}

// Unregister removes the connection from every channel and closes its
// outbox. Safe to call once per connection.
func (h *Hub) Unregister(conn *Conn) {
	h.mu.Lock()
	for channel := range h.channels[conn] {
		h.dropFromRoom(conn, channel)
	}
	delete(h.channels, conn)
	delete(h.conns, conn.ID)
	h.mu.Unlock()

	conn.close()
}

// Join subscribes the connection to a channel.
func (h *Hub) Join(conn *Conn, channel string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.conns[conn.ID]; !ok {
		return
	}
	if _, ok := h.rooms[channel]; !ok {
		h.rooms[channel] = make(map[*Conn]bool)
	}
	h.rooms[channel][conn] = true
	h.channels[conn][channel] = true
}

// Leave unsubscribes the connection from a channel; a no-op when not
// subscribed.
func (h *Hub) Leave(conn *Conn, channel string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.dropFromRoom(conn, channel)
	delete(h.channels[conn], channel)
}

func (h *Hub) dropFromRoom(conn *Conn, channel string) {
	if members, ok := h.rooms[channel]; ok {
		delete(members, conn)
		if len(members) == 0 {
			delete(h.rooms, channel)
		}
	}
}

// Publish sends an event to every member of a channel, skipping the
// connection ids listed in except.
func (h *Hub) Publish(channel string, event string, data any, except ...string) {
	payload, err := json.Marshal(Envelope{Event: event, Data: data})
	if err != nil {
		log.Printf("websocket marshal error: %v", err)
		return
	}

	excluded := make(map[string]bool, len(except))
	for _, id := range except {
		excluded[id] = true
	}

	h.mu.RLock()
	members := make([]*Conn, 0, len(h.rooms[channel]))
	for conn := range h.rooms[channel] {
		if !excluded[conn.ID] {
			members = append(members, conn)
		}
	}
	h.mu.RUnlock()

	for _, conn := range members {
		conn.enqueue(payload)
	}
}

// PublishToUsers sends an event to the personal channel of every listed
// user.
func (h *Hub) PublishToUsers(userIDs []int, event string, data any) {
	for _, id := range userIDs {
		h.Publish(UserChannel(id), event, data)
	}
}

// BroadcastAll sends an event to every live connection.
func (h *Hub) BroadcastAll(event string, data any) {
	payload, err := json.Marshal(Envelope{Event: event, Data: data})
	if err != nil {
		log.Printf("websocket marshal error: %v", err)
		return
	}

	h.mu.RLock()
	conns := make([]*Conn, 0, len(h.conns))
	for _, conn := range h.conns {
		conns = append(conns, conn)
	}
	h.mu.RUnlock()

	for _, conn := range conns {
		conn.enqueue(payload)
	}
}

// Subscribed reports whether the connection is currently in the channel.
func (h *Hub) Subscribed(conn *Conn, channel string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.channels[conn][channel]
}
