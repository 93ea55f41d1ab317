package model

import "time"

// User mirrors the chat-transport identity. Created on first
// interaction, never deleted.
type User struct {
	ID        int64
	ChatID    int64
	Locale    string
	Admin     bool
	CreatedAt time.Time
	UpdatedAt time.Time
}
