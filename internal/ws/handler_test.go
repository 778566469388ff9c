package ws

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"talky-service/internal/mocks"
)

func ackFrom(t *testing.T, conn *Conn) (Envelope, AckResult) {
	t.Helper()
	env := nextFrame(t, conn)
	require.Equal(t, EventAck, env.Event)

	raw, err := json.Marshal(env.Data)
	require.NoError(t, err)
	var ack AckResult
	require.NoError(t, json.Unmarshal(raw, &ack))
	return env, ack
}

func TestHandleJoinAuthorized(t *testing.T) {
	hub := NewHub()
	chatRepo := new(mocks.ChatRepositoryMock)
	h := NewHandler(hub, NewRegistry(hub), nil, chatRepo)

	conn := register(t, hub, 1)
	chatRepo.On("IsParticipant", mock.Anything, 5, 1).Return(true, nil).Once()

	h.handleJoin(conn, clientFrame{Event: EventChatJoin, Data: json.RawMessage(`{"chat_id":5}`), AckID: 7})

	env, ack := ackFrom(t, conn)
	assert.Equal(t, int64(7), env.AckID)
	assert.True(t, ack.OK)
	assert.True(t, hub.Subscribed(conn, ChatChannel(5)))
	chatRepo.AssertExpectations(t)
}

func TestHandleJoinDenied(t *testing.T) {
	hub := NewHub()
	chatRepo := new(mocks.ChatRepositoryMock)
	h := NewHandler(hub, NewRegistry(hub), nil, chatRepo)

	conn := register(t, hub, 1)
	chatRepo.On("IsParticipant", mock.Anything, 5, 1).Return(false, nil).Once()

	h.handleJoin(conn, clientFrame{Event: EventChatJoin, Data: json.RawMessage(`{"chat_id":5}`), AckID: 8})

	_, ack := ackFrom(t, conn)
	assert.False(t, ack.OK)
	assert.NotEmpty(t, ack.Error)
	assert.False(t, hub.Subscribed(conn, ChatChannel(5)))
}

func TestHandleJoinBadPayload(t *testing.T) {
	hub := NewHub()
	h := NewHandler(hub, NewRegistry(hub), nil, new(mocks.ChatRepositoryMock))

	conn := register(t, hub, 1)
	h.handleJoin(conn, clientFrame{Event: EventChatJoin, Data: json.RawMessage(`{}`), AckID: 9})

	_, ack := ackFrom(t, conn)
	assert.False(t, ack.OK)
}

func TestHandleLeave(t *testing.T) {
	hub := NewHub()
	h := NewHandler(hub, NewRegistry(hub), nil, new(mocks.ChatRepositoryMock))

	conn := register(t, hub, 1)
	hub.Join(conn, ChatChannel(4))

	h.handleLeave(conn, clientFrame{Event: EventChatLeave, Data: json.RawMessage(`{"chat_id":4}`)})
	assert.False(t, hub.Subscribed(conn, ChatChannel(4)))
}

func testContext(req *http.Request) *gin.Context {
	gin.SetMode(gin.TestMode)
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	c.Request = req
	return c
}

func TestNewConnInfoCapturesRequestValues(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/ws", nil)
	req.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.1")
	req.Header.Set("X-Request-Id", "req-1")

	info := newConnInfo(req)
	assert.Equal(t, "203.0.113.9", info.IP)
	assert.Equal(t, "req-1", info.RequestID)

	// The goroutines read the copied values, so mutating the request
	// afterwards must not bleed into them.
	req.Header.Set("X-Forwarded-For", "198.51.100.4")
	req.Header.Set("X-Request-Id", "req-2")
	assert.Equal(t, "203.0.113.9", info.IP)
	assert.Equal(t, "req-1", info.RequestID)
}

func TestTokenFromRequestSources(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/ws", nil)
	req.AddCookie(&http.Cookie{Name: "token", Value: "cookie-token"})
	req.Header.Set("Authorization", "Bearer header-token")
	assert.Equal(t, "cookie-token", tokenFromRequest(testContext(req)))

	req = httptest.NewRequest(http.MethodGet, "/ws", nil)
	req.Header.Set("Authorization", "Bearer header-token")
	assert.Equal(t, "header-token", tokenFromRequest(testContext(req)))

	req = httptest.NewRequest(http.MethodGet, "/ws?token=query-token", nil)
	assert.Equal(t, "query-token", tokenFromRequest(testContext(req)))

	req = httptest.NewRequest(http.MethodGet, "/ws", nil)
	assert.Equal(t, "", tokenFromRequest(testContext(req)))
}
