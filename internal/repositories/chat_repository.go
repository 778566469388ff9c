package repositories

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"talky-service/internal/models"
)

var ErrChatNotFound = errors.New("chat not found")

// ErrNotParticipant means the chat exists but the user is not part of it.
var ErrNotParticipant = errors.New("user is not a chat participant")

// ChatRepository abstracts chat persistence.
type ChatRepository interface {
	CreateOrGetDirectChat(ctx context.Context, creatorID int, otherID int) (models.Chat, bool, error)
	CreateGroupChat(ctx context.Context, creatorID int, name string, memberIDs []int) (models.Chat, error)
	GetChatForUser(ctx context.Context, chatID int, userID int) (models.Chat, error)
	IsParticipant(ctx context.Context, chatID int, userID int) (bool, error)
	ListChats(ctx context.Context, userID int) ([]models.Chat, error)
	SetLastMessage(ctx context.Context, chatID int, messageID int) error
}

// ChatRepo is a sqlx implementation of ChatRepository.
type ChatRepo struct {
	db *sqlx.DB
}

// NewChatRepo constructs a ChatRepo.
func NewChatRepo(db *sqlx.DB) *ChatRepo {
	return &ChatRepo{db: db}
}

const chatColumns = `id, is_group, group_name, is_ai_chat, created_by, last_message_id, created_at, updated_at`
const chatColumnsPrefixed = `c.id, c.is_group, c.group_name, c.is_ai_chat, c.created_by, c.last_message_id, c.created_at, c.updated_at`

// CreateOrGetDirectChat returns the unique direct chat between two users,
// creating it when absent. The second return value reports whether a new
// chat was created.
func (r *ChatRepo) CreateOrGetDirectChat(ctx context.Context, creatorID int, otherID int) (models.Chat, bool, error) {
	if creatorID == otherID {
		return models.Chat{}, false, errors.New("cannot create chat with self")
	}

	var chat models.Chat
	query := `SELECT ` + chatColumnsPrefixed + `
        FROM chats c
        JOIN chat_participants p1 ON p1.chat_id = c.id AND p1.user_id = $1
        JOIN chat_participants p2 ON p2.chat_id = c.id AND p2.user_id = $2
        WHERE c.is_group = FALSE`
	err := r.db.GetContext(ctx, &chat, query, creatorID, otherID)
	if err == nil {
		if chat.Participants, err = r.loadParticipants(ctx, chat.ID); err != nil {
			return models.Chat{}, false, err
		}
		return chat, false, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return models.Chat{}, false, err
	}

	chat, err = r.createChat(ctx, creatorID, false, nil, []int{creatorID, otherID})
	if err != nil {
		return models.Chat{}, false, err
	}
	return chat, true, nil
}

// CreateGroupChat creates a named group chat. The creator is always a
// member, duplicate member ids are collapsed.
func (r *ChatRepo) CreateGroupChat(ctx context.Context, creatorID int, name string, memberIDs []int) (models.Chat, error) {
	memberSet := map[int]struct{}{creatorID: {}}
	for _, id := range memberIDs {
		memberSet[id] = struct{}{}
	}
	ids := make([]int, 0, len(memberSet))
	for id := range memberSet {
		ids = append(ids, id)
	}

	return r.createChat(ctx, creatorID, true, &name, ids)
}

// createChat inserts the chat and its participants atomically. The AI
// flag is decided here, once, from the participant set.
func (r *ChatRepo) createChat(ctx context.Context, creatorID int, isGroup bool, groupName *string, memberIDs []int) (models.Chat, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return models.Chat{}, err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	var isAIChat bool
	if err = tx.GetContext(ctx, &isAIChat, `SELECT EXISTS(SELECT 1 FROM users WHERE id = ANY($1) AND is_ai = TRUE)`, pq.Array(memberIDs)); err != nil {
		return models.Chat{}, err
	}

	var chat models.Chat
	if err = tx.QueryRowxContext(ctx, `INSERT INTO chats (is_group, group_name, is_ai_chat, created_by)
        VALUES ($1, $2, $3, $4)
        RETURNING `+chatColumns, isGroup, groupName, isAIChat, creatorID).StructScan(&chat); err != nil {
		return models.Chat{}, err
	}

	for _, id := range memberIDs {
		if _, err = tx.ExecContext(ctx, `INSERT INTO chat_participants (chat_id, user_id) VALUES ($1, $2)`, chat.ID, id); err != nil {
			return models.Chat{}, err
		}
	}

	if err = tx.Commit(); err != nil {
		return models.Chat{}, err
	}

	if chat.Participants, err = r.loadParticipants(ctx, chat.ID); err != nil {
		return models.Chat{}, err
	}
	return chat, nil
}

// GetChatForUser loads a chat with its participants, failing when the
// chat does not exist or the user is not among its participants.
func (r *ChatRepo) GetChatForUser(ctx context.Context, chatID int, userID int) (models.Chat, error) {
	var chat models.Chat
	err := r.db.GetContext(ctx, &chat, `SELECT `+chatColumns+` FROM chats WHERE id=$1`, chatID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Chat{}, ErrChatNotFound
	}
	if err != nil {
		return models.Chat{}, err
	}

	if chat.Participants, err = r.loadParticipants(ctx, chat.ID); err != nil {
		return models.Chat{}, err
	}
	if !chat.HasParticipant(userID) {
		return models.Chat{}, ErrNotParticipant
	}
	return chat, nil
}

// IsParticipant checks whether a user belongs to the chat.
func (r *ChatRepo) IsParticipant(ctx context.Context, chatID int, userID int) (bool, error) {
	var exists bool
	err := r.db.GetContext(ctx, &exists, `SELECT EXISTS(SELECT 1 FROM chat_participants WHERE chat_id=$1 AND user_id=$2)`, chatID, userID)
	return exists, err
}

// ListChats returns the user's chats, most recently updated first, with
// participants and last message populated.
func (r *ChatRepo) ListChats(ctx context.Context, userID int) ([]models.Chat, error) {
	query := `SELECT ` + chatColumnsPrefixed + `
        FROM chats c
        JOIN chat_participants p ON p.chat_id = c.id AND p.user_id = $1
        ORDER BY c.updated_at DESC`
	var chats []models.Chat
	if err := r.db.SelectContext(ctx, &chats, query, userID); err != nil {
		return nil, err
	}

	for i := range chats {
		participants, err := r.loadParticipants(ctx, chats[i].ID)
		if err != nil {
			return nil, err
		}
		chats[i].Participants = participants

		if chats[i].LastMessageID == nil {
			continue
		}
		var msg models.Message
		err = r.db.GetContext(ctx, &msg, `SELECT `+messageColumns+` FROM messages WHERE id=$1`, *chats[i].LastMessageID)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		if err == nil {
			chats[i].LastMessage = &msg
		}
	}
	return chats, nil
}

// SetLastMessage moves the chat's last-message pointer and bumps updated_at.
func (r *ChatRepo) SetLastMessage(ctx context.Context, chatID int, messageID int) error {
	_, err := r.db.ExecContext(ctx, `UPDATE chats SET last_message_id=$2, updated_at=NOW() WHERE id=$1`, chatID, messageID)
	return err
}

func (r *ChatRepo) loadParticipants(ctx context.Context, chatID int) ([]models.User, error) {
	var users []models.User
	err := r.db.SelectContext(ctx, &users, `SELECT u.id, u.name, u.email, u.avatar, u.is_ai, u.created_at, u.updated_at
        FROM users u
        JOIN chat_participants p ON p.user_id = u.id
        WHERE p.chat_id = $1
        ORDER BY u.id`, chatID)
	return users, err
}
