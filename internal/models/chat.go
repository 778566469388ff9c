package models

import "time"

// Chat is a conversation between two or more users. A direct chat holds
// exactly two participants and is unique per pair; a group chat carries a
// name. IsAIChat is decided once at creation from the participant set and
// stored, never recomputed.
type Chat struct {
	ID            int       `db:"id" json:"id"`
	IsGroup       bool      `db:"is_group" json:"is_group"`
	GroupName     *string   `db:"group_name" json:"group_name,omitempty"`
	IsAIChat      bool      `db:"is_ai_chat" json:"is_ai_chat"`
	CreatedBy     int       `db:"created_by" json:"created_by"`
	LastMessageID *int      `db:"last_message_id" json:"last_message_id,omitempty"`
	CreatedAt     time.Time `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time `db:"updated_at" json:"updated_at"`

	Participants []User   `json:"participants,omitempty"`
	LastMessage  *Message `json:"last_message,omitempty"`
}

// HasParticipant reports whether the user is part of the chat. Only valid
// when Participants is populated.
func (c Chat) HasParticipant(userID int) bool {
	for _, p := range c.Participants {
		if p.ID == userID {
			return true
		}
	}
	return false
}

// ParticipantIDs returns the participant user ids in stored order.
func (c Chat) ParticipantIDs() []int {
	ids := make([]int, 0, len(c.Participants))
	for _, p := range c.Participants {
		ids = append(ids, p.ID)
	}
	return ids
}
