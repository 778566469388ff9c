package repositories

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"

	"talky-service/internal/models"
)

var ErrMessageNotFound = errors.New("message not found")

// MessageRepository defines interactions for chat messages.
type MessageRepository interface {
	Create(ctx context.Context, chatID int, senderID int, content *string, imageURL *string, replyToID *int) (models.Message, error)
	GetInChat(ctx context.Context, messageID int, chatID int) (models.Message, error)
	ListForChat(ctx context.Context, chatID int) ([]models.Message, error)
	RecentHistory(ctx context.Context, chatID int, limit int) ([]models.HistoryEntry, error)
}

// MessageRepo is a sqlx-backed repository.
type MessageRepo struct {
	db *sqlx.DB
}

// NewMessageRepo constructs MessageRepo.
func NewMessageRepo(db *sqlx.DB) *MessageRepo {
	return &MessageRepo{db: db}
}

const messageColumns = `id, chat_id, sender_id, content, image_url, reply_to_id, created_at, updated_at`

// Create stores a message. Either content or image must be set; the
// schema enforces the same invariant.
func (r *MessageRepo) Create(ctx context.Context, chatID int, senderID int, content *string, imageURL *string, replyToID *int) (models.Message, error) {
	var msg models.Message
	err := r.db.QueryRowxContext(ctx, `INSERT INTO messages (chat_id, sender_id, content, image_url, reply_to_id)
        VALUES ($1, $2, $3, $4, $5)
        RETURNING `+messageColumns, chatID, senderID, content, imageURL, replyToID).StructScan(&msg)
	if err != nil {
		return models.Message{}, err
	}

	if err := r.attachSender(ctx, &msg); err != nil {
		return models.Message{}, err
	}
	return msg, nil
}

// GetInChat retrieves a message scoped to a chat, used to validate reply
// targets.
func (r *MessageRepo) GetInChat(ctx context.Context, messageID int, chatID int) (models.Message, error) {
	var msg models.Message
	err := r.db.GetContext(ctx, &msg, `SELECT `+messageColumns+` FROM messages WHERE id=$1 AND chat_id=$2`, messageID, chatID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Message{}, ErrMessageNotFound
	}
	return msg, err
}

// ListForChat returns the chat's messages in chronological order with
// sender and reply target populated.
func (r *MessageRepo) ListForChat(ctx context.Context, chatID int) ([]models.Message, error) {
	var msgs []models.Message
	err := r.db.SelectContext(ctx, &msgs, `SELECT `+messageColumns+` FROM messages WHERE chat_id=$1 ORDER BY created_at ASC, id ASC`, chatID)
	if err != nil {
		return nil, err
	}

	for i := range msgs {
		if err := r.attachSender(ctx, &msgs[i]); err != nil {
			return nil, err
		}
		if msgs[i].ReplyToID == nil {
			continue
		}
		var reply models.Message
		err := r.db.GetContext(ctx, &reply, `SELECT `+messageColumns+` FROM messages WHERE id=$1`, *msgs[i].ReplyToID)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		if err == nil {
			if err := r.attachSender(ctx, &reply); err != nil {
				return nil, err
			}
			msgs[i].ReplyTo = &reply
		}
	}
	return msgs, nil
}

// RecentHistory returns the newest messages of a chat in chronological
// order, each paired with its sender's kind and the replied-to text.
func (r *MessageRepo) RecentHistory(ctx context.Context, chatID int, limit int) ([]models.HistoryEntry, error) {
	query := `SELECT m.id, m.chat_id, m.sender_id, m.content, m.image_url, m.reply_to_id, m.created_at, m.updated_at,
            u.is_ai AS sender_is_ai,
            rt.content AS reply_to_content
        FROM messages m
        JOIN users u ON u.id = m.sender_id
        LEFT JOIN messages rt ON rt.id = m.reply_to_id
        WHERE m.chat_id = $1
        ORDER BY m.created_at DESC, m.id DESC
        LIMIT $2`
	var entries []models.HistoryEntry
	if err := r.db.SelectContext(ctx, &entries, query, chatID, limit); err != nil {
		return nil, err
	}

	// newest-first from the query, flipped to chronological
	for i, j := 0, len(entries)-1; i < j; i, j = i+1, j-1 {
		entries[i], entries[j] = entries[j], entries[i]
	}
	return entries, nil
}

func (r *MessageRepo) attachSender(ctx context.Context, msg *models.Message) error {
	var sender models.User
	err := r.db.GetContext(ctx, &sender, `SELECT id, name, email, avatar, is_ai, created_at, updated_at FROM users WHERE id=$1`, msg.SenderID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil
	}
	if err != nil {
		return err
	}
	msg.Sender = &sender
	return nil
}
