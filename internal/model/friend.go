// internal/model/friend.go
package model

import "time"

// Friend is one LINE identity known to an organization.
type Friend struct {
	ID                string            `db:"id" json:"id"`
	OrganizationID    string            `db:"organization_id" json:"organization_id"`
	LineUserID        string            `db:"line_user_id" json:"line_user_id"`
	DisplayName       string            `db:"display_name" json:"display_name"`
	Tags              []string          `db:"-" json:"tags"`
	CustomFields      map[string]string `db:"-" json:"custom_fields"`
	IsBlocked         bool              `db:"is_blocked" json:"is_blocked"`
	LastInteractionAt *time.Time        `db:"last_interaction_at" json:"last_interaction_at,omitempty"`
	CreatedAt         time.Time         `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time         `db:"updated_at" json:"updated_at"`
}
