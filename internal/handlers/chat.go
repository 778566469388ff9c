package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"talky-service/internal/repositories"
	"talky-service/internal/services"
	"talky-service/internal/telemetry"
	"talky-service/internal/ws"
)

// MessageSender runs the send pipeline for one message.
type MessageSender interface {
	SendMessage(ctx context.Context, senderID int, chatID int, content string, imageData []byte, imageContentType string, replyToID *int) (services.SendResult, error)
}

// ChatHandler manages chat and message endpoints.
type ChatHandler struct {
	chatRepo    repositories.ChatRepository
	messageRepo repositories.MessageRepository
	userRepo    repositories.UserRepository
	sender      MessageSender
	bus         services.Broadcaster
	audit       *telemetry.AuditEmitter
}

// NewChatHandler builds a ChatHandler.
func NewChatHandler(chatRepo repositories.ChatRepository, messageRepo repositories.MessageRepository, userRepo repositories.UserRepository, sender MessageSender, bus services.Broadcaster, audit *telemetry.AuditEmitter) *ChatHandler {
	return &ChatHandler{
		chatRepo:    chatRepo,
		messageRepo: messageRepo,
		userRepo:    userRepo,
		sender:      sender,
		bus:         bus,
		audit:       audit,
	}
}

// ListChats returns the chats visible to the authenticated user, newest
// activity first.
func (h *ChatHandler) ListChats(c *gin.Context) {
	userID := c.GetInt("userID")

	chats, err := h.chatRepo.ListChats(c.Request.Context(), userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load chats"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"chats": chats})
}

// CreateChat creates a direct or group chat. Creating a direct chat
// with an existing peer returns the existing chat instead of a
// duplicate.
func (h *ChatHandler) CreateChat(c *gin.Context) {
	var req struct {
		IsGroup   bool   `json:"is_group"`
		UserID    int    `json:"user_id"`
		GroupName string `json:"group_name"`
		MemberIDs []int  `json:"member_ids"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	userID := c.GetInt("userID")

	if req.IsGroup {
		h.createGroupChat(c, userID, req.GroupName, req.MemberIDs)
		return
	}
	h.createDirectChat(c, userID, req.UserID)
}

func (h *ChatHandler) createDirectChat(c *gin.Context, userID, otherID int) {
	if otherID == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "user_id is required"})
		return
	}
	if otherID == userID {
		c.JSON(http.StatusBadRequest, gin.H{"error": "cannot chat with yourself"})
		return
	}

	if _, err := h.userRepo.Get(c.Request.Context(), otherID); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, repositories.ErrUserNotFound) {
			status = http.StatusNotFound
		}
		c.JSON(status, gin.H{"error": "user not found"})
		return
	}

	chat, created, err := h.chatRepo.CreateOrGetDirectChat(c.Request.Context(), userID, otherID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not create chat"})
		return
	}

	if created {
		h.bus.PublishToUsers(chat.ParticipantIDs(), ws.EventChatNew, chat)
		h.audit.Emit(c.Request.Context(), "INFO", "chat created", requestIDFromContext(c), userIDFromContext(c))
		c.JSON(http.StatusCreated, chat)
		return
	}
	c.JSON(http.StatusOK, chat)
}

func (h *ChatHandler) createGroupChat(c *gin.Context, userID int, name string, memberIDs []int) {
	name = strings.TrimSpace(name)
	if name == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "group_name is required"})
		return
	}
	if len(memberIDs) < 2 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "a group needs at least two other members"})
		return
	}
	for _, id := range memberIDs {
		if id == userID {
			c.JSON(http.StatusBadRequest, gin.H{"error": "member_ids must not include yourself"})
			return
		}
	}

	chat, err := h.chatRepo.CreateGroupChat(c.Request.Context(), userID, name, memberIDs)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not create group"})
		return
	}

	h.bus.PublishToUsers(chat.ParticipantIDs(), ws.EventChatNew, chat)
	h.audit.Emit(c.Request.Context(), "INFO", "group chat created", requestIDFromContext(c), userIDFromContext(c))
	c.JSON(http.StatusCreated, chat)
}

// GetChatMessages returns the full message history of one chat.
func (h *ChatHandler) GetChatMessages(c *gin.Context) {
	chatID, err := strconv.Atoi(c.Param("chat_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid chat id"})
		return
	}

	userID := c.GetInt("userID")
	member, err := h.chatRepo.IsParticipant(c.Request.Context(), chatID, userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to verify membership"})
		return
	}
	if !member {
		c.JSON(http.StatusForbidden, gin.H{"error": "not a chat member"})
		return
	}

	msgs, err := h.messageRepo.ListForChat(c.Request.Context(), chatID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load messages"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"messages": msgs})
}

// PostChatMessage runs the send pipeline: store, broadcast, and on AI
// chats wait for the assistant's reply before responding.
func (h *ChatHandler) PostChatMessage(c *gin.Context) {
	chatID, err := strconv.Atoi(c.Param("chat_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid chat id"})
		return
	}

	var req struct {
		Content          string `json:"content"`
		ImageData        []byte `json:"image_data"`
		ImageContentType string `json:"image_content_type"`
		ReplyToID        *int   `json:"reply_to_id"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	userID := c.GetInt("userID")
	result, err := h.sender.SendMessage(c.Request.Context(), userID, chatID, req.Content, req.ImageData, req.ImageContentType, req.ReplyToID)
	if err != nil {
		switch {
		case errors.Is(err, services.ErrEmptyMessage), errors.Is(err, services.ErrBadReplyTarget):
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		case errors.Is(err, repositories.ErrChatNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "chat not found"})
		case errors.Is(err, repositories.ErrNotParticipant):
			c.JSON(http.StatusForbidden, gin.H{"error": "not a chat member"})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to send message"})
		}
		return
	}

	resp := gin.H{"message": result.Message}
	if result.AIReply != nil {
		resp["ai_reply"] = result.AIReply
	}
	c.JSON(http.StatusCreated, resp)
}

// ListUsers returns every user except the caller, for starting new
// chats.
func (h *ChatHandler) ListUsers(c *gin.Context) {
	userID := c.GetInt("userID")

	users, err := h.userRepo.List(c.Request.Context(), userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load users"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"users": users})
}
