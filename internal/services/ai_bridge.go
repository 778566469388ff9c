package services

import (
	"context"
	"fmt"
	"log"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"talky-service/internal/ai"
	"talky-service/internal/models"
	"talky-service/internal/observability"
	"talky-service/internal/repositories"
	"talky-service/internal/ws"
)

const historyWindow = 10

const systemInstruction = "You are Talky AI, a helpful assistant inside a chat application. " +
	"Respond to the most recent user message; earlier messages are context only. " +
	"Keep answers concise and conversational."

// defaultImagePrompt stands in when a message carries an image and no
// text.
const defaultImagePrompt = "Describe what you see in the image"

// AIStreamEvent is the chat:ai frame. Chunk frames carry done=false and
// a null message; the closing frame carries done=true and the stored
// assistant message.
type AIStreamEvent struct {
	ChatID  int             `json:"chat_id"`
	Chunk   string          `json:"chunk"`
	Done    bool            `json:"done"`
	Message *models.Message `json:"message"`
	Sender  models.User     `json:"sender"`
}

// AIBridge turns a stored user message into a streamed assistant reply:
// it rebuilds recent context, streams the model output to the chat room
// chunk by chunk, and persists the final text as a regular message.
type AIBridge struct {
	users    repositories.UserRepository
	messages repositories.MessageRepository
	chats    repositories.ChatRepository
	gen      ai.Generator
	bus      Broadcaster
	locks    *ChatLocker
}

func NewAIBridge(
	users repositories.UserRepository,
	messages repositories.MessageRepository,
	chats repositories.ChatRepository,
	gen ai.Generator,
	bus Broadcaster,
	locks *ChatLocker,
) *AIBridge {
	return &AIBridge{
		users:    users,
		messages: messages,
		chats:    chats,
		gen:      gen,
		bus:      bus,
		locks:    locks,
	}
}

// historyToPrompt maps stored rows onto model turns. Rows from the
// assistant identity become assistant turns, everything else is a user
// turn regardless of which human sent it.
func historyToPrompt(entries []models.HistoryEntry) []ai.Message {
	msgs := make([]ai.Message, 0, len(entries))
	for _, e := range entries {
		role := ai.RoleUser
		if e.SenderIsAI {
			role = ai.RoleAssistant
		}

		text := e.Text()
		if e.ReplyToContent != nil && *e.ReplyToContent != "" {
			text = fmt.Sprintf("[Replying to: %q]\n%s", *e.ReplyToContent, text)
		}

		if e.ImageURL != nil {
			if strings.TrimSpace(text) == "" {
				text = defaultImagePrompt
			}
			msgs = append(msgs, ai.Message{Role: role, Parts: []ai.Part{
				{ImageURL: *e.ImageURL},
				{Text: text},
			}})
			continue
		}

		if strings.TrimSpace(text) == "" {
			continue
		}
		msgs = append(msgs, ai.TextMessage(role, text))
	}
	return msgs
}

// GenerateReply streams the assistant's answer into the chat room and
// stores it. An empty generation stores nothing, emits no closing
// frame, and returns (nil, nil).
func (b *AIBridge) GenerateReply(ctx context.Context, chat models.Chat, trigger models.Message) (*models.Message, error) {
	ctx, span := otel.Tracer("talky-service/ai").Start(ctx, "ai.generate")
	defer span.End()
	span.SetAttributes(attribute.Int("chat.id", chat.ID), attribute.Int("trigger.id", trigger.ID))

	assistant, err := b.users.GetAssistant(ctx)
	if err != nil {
		observability.IncAIGeneration("error")
		return nil, err
	}

	history, err := b.messages.RecentHistory(ctx, chat.ID, historyWindow)
	if err != nil {
		observability.IncAIGeneration("error")
		return nil, err
	}

	prompt := historyToPrompt(history)
	channel := ws.ChatChannel(chat.ID)

	var full strings.Builder
	streamErr := b.gen.StreamChat(ctx, systemInstruction, prompt, func(chunk string) error {
		full.WriteString(chunk)
		observability.IncAIChunk()
		b.bus.Publish(channel, ws.EventChatAI, AIStreamEvent{
			ChatID: chat.ID,
			Chunk:  chunk,
			Sender: assistant,
		})
		return nil
	})
	if streamErr != nil {
		observability.IncAIGeneration("error")
		return nil, streamErr
	}

	// An empty generation is a soft no-op: nothing stored, nothing
	// announced. A non-empty one is persisted exactly as streamed, so
	// the stored content matches what subscribers assembled chunk by
	// chunk.
	text := full.String()
	if text == "" {
		observability.IncAIGeneration("empty")
		log.Printf("ai generation empty chat_id=%d trigger_id=%d", chat.ID, trigger.ID)
		return nil, nil
	}

	b.locks.Lock(chat.ID)
	reply, err := b.messages.Create(ctx, chat.ID, assistant.ID, &text, nil, nil)
	if err != nil {
		b.locks.Unlock(chat.ID)
		observability.IncAIGeneration("error")
		return nil, err
	}
	if err := b.chats.SetLastMessage(ctx, chat.ID, reply.ID); err != nil {
		b.locks.Unlock(chat.ID)
		observability.IncAIGeneration("error")
		return nil, err
	}
	b.locks.Unlock(chat.ID)

	b.bus.Publish(channel, ws.EventChatAI, AIStreamEvent{
		ChatID:  chat.ID,
		Done:    true,
		Message: &reply,
		Sender:  assistant,
	})

	b.bus.PublishToUsers([]int{trigger.SenderID}, ws.EventChatUpdate, ChatUpdateEvent{
		ChatID:      chat.ID,
		LastMessage: &reply,
	})

	observability.IncAIGeneration("ok")
	return &reply, nil
}
