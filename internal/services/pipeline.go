package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"talky-service/internal/media"
	"talky-service/internal/models"
	"talky-service/internal/repositories"
	"talky-service/internal/ws"
)

// ErrEmptyMessage is returned when a send carries neither text nor an
// image.
var ErrEmptyMessage = errors.New("message has no content")

// ErrBadReplyTarget means the referenced reply target does not exist in
// the same chat.
var ErrBadReplyTarget = errors.New("reply target not found in chat")

// Broadcaster fans events out to realtime subscribers.
type Broadcaster interface {
	Publish(channel string, event string, data any, except ...string)
	PublishToUsers(userIDs []int, event string, data any)
}

// Presence resolves a user's live connection, if any.
type Presence interface {
	Lookup(userID int) (string, bool)
}

// ReplyGenerator produces the assistant's answer to a freshly stored
// message. A nil reply with a nil error means the model produced
// nothing worth storing.
type ReplyGenerator interface {
	GenerateReply(ctx context.Context, chat models.Chat, trigger models.Message) (*models.Message, error)
}

// ChatUpdateEvent is the chat:update frame pushed to each participant's
// personal channel when a chat's last message changes.
type ChatUpdateEvent struct {
	ChatID      int             `json:"chat_id"`
	LastMessage *models.Message `json:"last_message"`
}

// SendResult is everything a send produced: the stored message, the
// chat with its bumped last message, and the assistant's reply when the
// chat has one.
type SendResult struct {
	Message models.Message
	Chat    models.Chat
	AIReply *models.Message
}

// MessagePipeline runs the full send path: validate, store, fan out,
// and hand AI chats to the reply generator.
type MessagePipeline struct {
	chats    repositories.ChatRepository
	messages repositories.MessageRepository
	uploader media.Uploader
	bus      Broadcaster
	presence Presence
	bridge   ReplyGenerator
	locks    *ChatLocker
}

func NewMessagePipeline(
	chats repositories.ChatRepository,
	messages repositories.MessageRepository,
	uploader media.Uploader,
	bus Broadcaster,
	presence Presence,
	bridge ReplyGenerator,
	locks *ChatLocker,
) *MessagePipeline {
	return &MessagePipeline{
		chats:    chats,
		messages: messages,
		uploader: uploader,
		bus:      bus,
		presence: presence,
		bridge:   bridge,
		locks:    locks,
	}
}

// SendMessage validates and stores one message, broadcasts it to the
// chat room minus the sender's own connection, pushes the updated chat
// to every participant, and triggers the assistant on AI chats.
//
// Validation failures happen before any write, so a rejected send
// leaves no rows behind.
func (p *MessagePipeline) SendMessage(ctx context.Context, senderID int, chatID int, content string, imageData []byte, imageContentType string, replyToID *int) (SendResult, error) {
	content = strings.TrimSpace(content)
	if content == "" && len(imageData) == 0 {
		return SendResult{}, ErrEmptyMessage
	}

	chat, err := p.chats.GetChatForUser(ctx, chatID, senderID)
	if err != nil {
		return SendResult{}, err
	}

	if replyToID != nil {
		if _, err := p.messages.GetInChat(ctx, *replyToID, chatID); err != nil {
			if errors.Is(err, repositories.ErrMessageNotFound) {
				return SendResult{}, ErrBadReplyTarget
			}
			return SendResult{}, err
		}
	}

	var imageURL *string
	if len(imageData) > 0 {
		url, err := p.uploader.Upload(ctx, imageData, imageContentType)
		if err != nil {
			return SendResult{}, fmt.Errorf("store attachment: %w", err)
		}
		imageURL = &url
	}

	var textPtr *string
	if content != "" {
		textPtr = &content
	}

	p.locks.Lock(chatID)
	msg, err := p.messages.Create(ctx, chatID, senderID, textPtr, imageURL, replyToID)
	if err != nil {
		p.locks.Unlock(chatID)
		return SendResult{}, err
	}
	if err := p.chats.SetLastMessage(ctx, chatID, msg.ID); err != nil {
		p.locks.Unlock(chatID)
		return SendResult{}, err
	}
	p.locks.Unlock(chatID)

	chat.LastMessageID = &msg.ID
	chat.LastMessage = &msg

	// Joined subscribers get the message itself; the sender already has
	// it locally, so their connection is excluded from the room send.
	var except []string
	if connID, ok := p.presence.Lookup(senderID); ok {
		except = append(except, connID)
	}
	p.bus.Publish(ws.ChatChannel(chatID), ws.EventMessageNew, msg, except...)

	// Every participant gets the chat preview refresh on their personal
	// channel, joined to the room or not.
	p.bus.PublishToUsers(chat.ParticipantIDs(), ws.EventChatUpdate, ChatUpdateEvent{
		ChatID:      chatID,
		LastMessage: &msg,
	})

	result := SendResult{Message: msg, Chat: chat}

	if chat.IsAIChat && p.bridge != nil {
		reply, err := p.bridge.GenerateReply(ctx, chat, msg)
		if err != nil {
			// The user's message is already stored and delivered, so a
			// failed generation does not fail the send.
			log.Printf("ai reply failed chat_id=%d trigger_id=%d err=%v", chatID, msg.ID, err)
		} else if reply != nil {
			result.AIReply = reply
			result.Chat.LastMessageID = &reply.ID
			result.Chat.LastMessage = reply
		}
	}

	return result, nil
}
