package ws

import (
	"encoding/json"
	"strconv"
)

// Event names on the realtime channel. Server-to-client events mirror
// what fan-out publishes; chat:join and chat:leave come from clients.
const (
	EventOnlineUsers = "online:users"
	EventChatJoin    = "chat:join"
	EventChatLeave   = "chat:leave"
	EventChatNew     = "chat:new"
	EventChatUpdate  = "chat:update"
	EventMessageNew  = "message:new"
	EventChatAI      = "chat:ai"
	EventAck         = "ack"
)

// UserChannel names the personal channel a connection auto-joins.
func UserChannel(userID int) string {
	return "user:" + strconv.Itoa(userID)
}

// ChatChannel names the broadcast channel of one chat.
func ChatChannel(chatID int) string {
	return "chat:" + strconv.Itoa(chatID)
}

// Envelope is the wire format for every frame in both directions.
type Envelope struct {
	Event string `json:"event"`
	Data  any    `json:"data,omitempty"`
	AckID int64  `json:"ack_id,omitempty"`
}

// clientFrame is an incoming frame before its payload is decoded.
type clientFrame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
	AckID int64           `json:"ack_id,omitempty"`
}

// joinPayload is the body of a chat:join or chat:leave frame.
type joinPayload struct {
	ChatID int `json:"chat_id"`
}

// AckResult is sent back on the ack frame of a chat:join request.
type AckResult struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}
