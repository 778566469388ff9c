package models

import "time"

// Message is a persisted chat message. At least one of Content or
// ImageURL is set; the pipeline enforces that before any write. Messages
// are immutable after creation.
type Message struct {
	ID        int       `db:"id" json:"id"`
	ChatID    int       `db:"chat_id" json:"chat_id"`
	SenderID  int       `db:"sender_id" json:"sender_id"`
	Content   *string   `db:"content" json:"content,omitempty"`
	ImageURL  *string   `db:"image_url" json:"image_url,omitempty"`
	ReplyToID *int      `db:"reply_to_id" json:"reply_to_id,omitempty"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`

	Sender  *User    `json:"sender,omitempty"`
	ReplyTo *Message `json:"reply_to,omitempty"`
}

// Text returns the message content or "" when the message is image-only.
func (m Message) Text() string {
	if m.Content == nil {
		return ""
	}
	return *m.Content
}

// HistoryEntry is one row of the bounded chat-history window handed to
// the AI bridge: the message plus its sender's kind and, when the message
// is a reply, the replied-to text.
type HistoryEntry struct {
	Message
	SenderIsAI     bool    `db:"sender_is_ai"`
	ReplyToContent *string `db:"reply_to_content"`
}
