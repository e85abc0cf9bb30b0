// internal/model/recipient.go
package model

import "time"

type RecipientStatus string

const (
	RecipientStatusPending RecipientStatus = "pending"
	RecipientStatusSent    RecipientStatus = "sent"
	RecipientStatusFailed  RecipientStatus = "failed"
)

// Well-known per-recipient failure reasons. Anything else is the raw
// provider or transport error message.
const (
	FailureUserBlocked      = "USER_BLOCKED"
	FailureInvalidRecipient = "INVALID_RECIPIENT"
)

// Recipient joins an OutboundMessage to one target friend. Exactly one
// transition pending -> sent|failed happens per delivery attempt; failed
// rows are not retried within the same sweep.
type Recipient struct {
	ID           string          `db:"id" json:"id"`
	MessageID    string          `db:"message_id" json:"message_id"`
	FriendID     string          `db:"friend_id" json:"friend_id"`
	Status       RecipientStatus `db:"status" json:"status"`
	SentAt       *time.Time      `db:"sent_at" json:"sent_at,omitempty"`
	ErrorMessage string          `db:"error_message" json:"error_message,omitempty"`
	CreatedAt    time.Time       `db:"created_at" json:"created_at"`

	// Joined from friends for delivery; not columns of message_recipients.
	LineUserID string `db:"line_user_id" json:"-"`
	IsBlocked  bool   `db:"is_blocked" json:"-"`
}
