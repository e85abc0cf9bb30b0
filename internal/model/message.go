// internal/model/message.go
package model

import "time"

// MessageStatus is the lifecycle status of an outbound message.
// Transitions only move forward: draft -> scheduled -> sending -> completed|failed,
// or scheduled -> cancelled. Completed, failed and cancelled are terminal.
type MessageStatus string

const (
	MessageStatusDraft     MessageStatus = "draft"
	MessageStatusScheduled MessageStatus = "scheduled"
	MessageStatusSending   MessageStatus = "sending"
	MessageStatusCompleted MessageStatus = "completed"
	MessageStatusFailed    MessageStatus = "failed"
	MessageStatusCancelled MessageStatus = "cancelled"
)

// OutboundMessage is one broadcast unit: a payload plus its recipient set.
// Authoring creates it; only the sweeper and dispatcher mutate it afterwards.
type OutboundMessage struct {
	ID             string        `db:"id" json:"id"`
	OrganizationID string        `db:"organization_id" json:"organization_id"`
	Status         MessageStatus `db:"status" json:"status"`
	Content        []byte        `db:"content" json:"content"` // JSON message payload, typed in internal/line
	ScheduledAt    *time.Time    `db:"scheduled_at" json:"scheduled_at,omitempty"`
	SentAt         *time.Time    `db:"sent_at" json:"sent_at,omitempty"`
	CompletedAt    *time.Time    `db:"completed_at" json:"completed_at,omitempty"`
	SentCount      int           `db:"sent_count" json:"sent_count"`
	ErrorCount     int           `db:"error_count" json:"error_count"`
	CreatedAt      time.Time     `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time     `db:"updated_at" json:"updated_at"`
}
