package models

import (
	"time"

	"github.com/google/uuid"
)

// Post is a user-authored text entry. Text is stored already sanitized.
type Post struct {
	ID          uuid.UUID `json:"id"`
	Text        string    `json:"text"`
	UserID      string    `json:"user_id"`
	UserEmail   string    `json:"user_email"`
	DisplayName string    `json:"display_name"`
	CreatedAt   time.Time `json:"created_at"`
	Public      bool      `json:"public"`
	Sanitized   bool      `json:"sanitized"`
}

// PostView is a post prepared for rendering as markup.
type PostView struct {
	Post
	DisplayText string `json:"display_text"`
}
