package models

import "time"

// User is a chat participant. Exactly one row has IsAI set; that row is
// the assistant identity and carries no credentials.
type User struct {
	ID        int       `db:"id" json:"id"`
	Name      string    `db:"name" json:"name"`
	Email     *string   `db:"email" json:"email,omitempty"`
	Avatar    *string   `db:"avatar" json:"avatar,omitempty"`
	IsAI      bool      `db:"is_ai" json:"is_ai"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}
