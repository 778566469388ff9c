package ws

import (
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"talky-service/internal/observability"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
	// sendBuffer bounds the per-connection outbox. A consumer that
	// cannot keep up with a chunk stream loses frames instead of
	// growing the buffer without limit.
	sendBuffer = 256
)

// Conn is one live authenticated websocket session. The user id is set
// during the handshake and never changes afterwards.
type Conn struct {
	ID     string
	UserID int

	sock      *websocket.Conn
	connected time.Time

	// sendMu guards send and closed so a broadcast racing a disconnect
	// can never write to a closed outbox.
	sendMu sync.Mutex
	send   chan []byte
	closed bool
}

func newConn(sock *websocket.Conn, userID int) *Conn {
	return &Conn{
		ID:        uuid.NewString(),
		UserID:    userID,
		sock:      sock,
		send:      make(chan []byte, sendBuffer),
		connected: time.Now(),
	}
}

// enqueue offers a marshaled frame to the connection's outbox, dropping
// it when the outbox is full or already closed.
func (c *Conn) enqueue(payload []byte) {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if c.closed {
		return
	}
	select {
	case c.send <- payload:
	default:
		observability.IncWSDropped()
		log.Printf("websocket outbox full, frame dropped conn_id=%s user_id=%d", c.ID, c.UserID)
	}
}

// Send marshals an envelope and queues it for delivery.
func (c *Conn) Send(event string, data any, ackID int64) {
	payload, err := json.Marshal(Envelope{Event: event, Data: data, AckID: ackID})
	if err != nil {
		log.Printf("websocket marshal error: %v", err)
		return
	}
	c.enqueue(payload)
}

// close shuts the outbox exactly once; writePump exits when it drains.
func (c *Conn) close() {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}

// writePump serializes all writes to the socket and keeps the peer alive
// with periodic pings.
func (c *Conn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.sock.Close()
	}()

	for {
		select {
		case payload, ok := <-c.send:
			c.sock.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.sock.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.sock.WriteMessage(websocket.TextMessage, payload); err != nil {
				log.Printf("websocket write error: %v", err)
				return
			}

		case <-ticker.C:
			c.sock.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.sock.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
