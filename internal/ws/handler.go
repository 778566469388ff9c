package ws

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"talky-service/internal/auth"
	"talky-service/internal/observability"
	"talky-service/internal/repositories"
)

const joinTimeout = 5 * time.Second

// Handler authenticates and serves realtime connections.
type Handler struct {
	hub      *Hub
	presence *Registry
	verifier auth.TokenVerifier
	chatRepo repositories.ChatRepository
}

// NewHandler constructs a Handler.
func NewHandler(hub *Hub, presence *Registry, verifier auth.TokenVerifier, chatRepo repositories.ChatRepository) *Handler {
	return &Handler{hub: hub, presence: presence, verifier: verifier, chatRepo: chatRepo}
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// connInfo carries the request-scoped values the connection goroutines
// need. They are copied out during the handshake because the gin context
// is pooled and must not be touched once Handle returns.
type connInfo struct {
	IP        string
	RequestID string
}

func newConnInfo(r *http.Request) connInfo {
	return connInfo{
		IP:        observability.IPFromRequest(r),
		RequestID: observability.RequestIDFromRequest(r),
	}
}

// Handle runs the handshake: the credential is checked exactly once,
// before the upgrade, and a failure terminates the attempt with no
// retry. On success the connection joins its personal channel and is
// recorded online.
func (h *Handler) Handle(c *gin.Context) {
	ctx, span := otel.Tracer("talky-service/ws").Start(c.Request.Context(), "ws.handshake",
		trace.WithSpanKind(trace.SpanKindServer))
	defer span.End()
	c.Request = c.Request.WithContext(ctx)

	userID, err := h.verifier.Verify(tokenFromRequest(c))
	if err != nil {
		if errors.Is(err, auth.ErrNoToken) {
			log.Printf("ws handshake rejected: no token ip=%s", observability.IPFromRequest(c.Request))
		} else {
			log.Printf("ws handshake rejected: invalid token ip=%s", observability.IPFromRequest(c.Request))
		}
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	sock, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}

	conn := newConn(sock, userID)
	info := newConnInfo(c.Request)
	span.SetAttributes(attribute.Int("user.id", userID), attribute.String("conn.id", conn.ID))
	h.hub.Register(conn)
	h.hub.Join(conn, UserChannel(userID))
	h.presence.RecordOnline(userID, conn.ID)

	observability.IncWSActive()
	observability.IncWSEvent("ws_connect")
	h.publishLifecycle(ctx, info, conn, "ws_connect", "")
	log.Printf("ws connected conn_id=%s user_id=%d", conn.ID, userID)

	// The request context ends with the handshake; the connection
	// goroutines live until the socket closes.
	go conn.writePump()
	go h.readLoop(context.WithoutCancel(ctx), info, conn)
}

// readLoop consumes client frames until the transport closes, then tears
// down presence and subscriptions. Presence removal is guarded inside
// the registry so an old connection closing late cannot evict a newer
// session of the same user.
func (h *Handler) readLoop(ctx context.Context, info connInfo, conn *Conn) {
	var closeReason string
	defer func() {
		h.presence.RecordOffline(conn.UserID, conn.ID)
		h.hub.Unregister(conn)
		observability.DecWSActive()
		observability.IncWSEvent("ws_disconnect")
		h.publishLifecycle(ctx, info, conn, "ws_disconnect", closeReason)
		log.Printf("ws disconnected conn_id=%s user_id=%d", conn.ID, conn.UserID)
		conn.sock.Close()
	}()

	conn.sock.SetReadLimit(1 << 20)
	conn.sock.SetReadDeadline(time.Now().Add(pongWait))
	conn.sock.SetPongHandler(func(string) error {
		conn.sock.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := conn.sock.ReadMessage()
		if err != nil {
			closeReason = err.Error()
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				observability.IncWSEvent("ws_error")
				h.publishLifecycle(ctx, info, conn, "ws_error", closeReason)
			}
			return
		}

		var frame clientFrame
		if err := json.Unmarshal(raw, &frame); err != nil {
			log.Printf("ws invalid frame conn_id=%s: %v", conn.ID, err)
			continue
		}

		switch frame.Event {
		case EventChatJoin:
			h.handleJoin(conn, frame)
		case EventChatLeave:
			h.handleLeave(conn, frame)
		default:
			log.Printf("ws unknown event %q conn_id=%s", frame.Event, conn.ID)
		}
	}
}

// handleJoin subscribes the connection to a chat channel after checking
// that the user is one of the chat's participants. The outcome is always
// signalled back through the ack frame.
func (h *Handler) handleJoin(conn *Conn, frame clientFrame) {
	var req joinPayload
	if err := json.Unmarshal(frame.Data, &req); err != nil || req.ChatID == 0 {
		conn.Send(EventAck, AckResult{OK: false, Error: "invalid chat id"}, frame.AckID)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), joinTimeout)
	defer cancel()

	member, err := h.chatRepo.IsParticipant(ctx, req.ChatID, conn.UserID)
	if err != nil || !member {
		observability.IncWSEvent("chat_join_denied")
		conn.Send(EventAck, AckResult{OK: false, Error: "not authorized for chat"}, frame.AckID)
		return
	}

	h.hub.Join(conn, ChatChannel(req.ChatID))
	observability.IncWSEvent("chat_join")
	log.Printf("ws joined chat conn_id=%s user_id=%d chat_id=%d", conn.ID, conn.UserID, req.ChatID)
	conn.Send(EventAck, AckResult{OK: true}, frame.AckID)
}

func (h *Handler) handleLeave(conn *Conn, frame clientFrame) {
	var req joinPayload
	if err := json.Unmarshal(frame.Data, &req); err != nil || req.ChatID == 0 {
		return
	}
	h.hub.Leave(conn, ChatChannel(req.ChatID))
	observability.IncWSEvent("chat_leave")
}

func (h *Handler) publishLifecycle(ctx context.Context, info connInfo, conn *Conn, event string, reason string) {
	payload := map[string]interface{}{
		"ws": map[string]interface{}{
			"event":       event,
			"conn_id":     conn.ID,
			"duration_ms": time.Since(conn.connected).Milliseconds(),
			"reason":      reason,
		},
		"identity": map[string]interface{}{
			"user_id": conn.UserID,
			"ip":      info.IP,
		},
	}

	headers := observability.BuildHeaders(info.RequestID, "")
	_ = observability.PublishEvent(ctx, "ws_events.chats", observability.EventEnvelope{
		EventType: "ws_events",
		EventName: event,
		Payload:   payload,
	}, headers)
}

// tokenFromRequest pulls the credential off the handshake. The browser
// client carries it in the token cookie; bearer header and query param
// are accepted for non-browser clients.
func tokenFromRequest(c *gin.Context) string {
	if cookie, err := c.Cookie("token"); err == nil && cookie != "" {
		return cookie
	}

	header := c.GetHeader("Authorization")
	if parts := strings.SplitN(header, " ", 2); len(parts) == 2 && strings.EqualFold(parts[0], "bearer") {
		return parts[1]
	}

	return c.Query("token")
}
