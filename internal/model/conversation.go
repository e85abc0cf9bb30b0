// internal/model/conversation.go
package model

import "time"

// ConversationMessage is one stored turn between a friend and the bot.
type ConversationMessage struct {
	ID        string    `db:"id" json:"id"`
	FriendID  string    `db:"friend_id" json:"friend_id"`
	Role      string    `db:"role" json:"role"` // user or assistant
	Content   string    `db:"content" json:"content"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}
