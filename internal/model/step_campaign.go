// internal/model/step_campaign.go
package model

import (
	"fmt"
	"time"
)

type DelayUnit string

const (
	DelayUnitMinutes DelayUnit = "minutes"
	DelayUnitHours   DelayUnit = "hours"
	DelayUnitDays    DelayUnit = "days"
)

// Delay converts a step's delay_value/delay_unit pair into a duration.
func Delay(value int, unit DelayUnit) (time.Duration, error) {
	switch unit {
	case DelayUnitMinutes:
		return time.Duration(value) * time.Minute, nil
	case DelayUnitHours:
		return time.Duration(value) * time.Hour, nil
	case DelayUnitDays:
		return time.Duration(value) * 24 * time.Hour, nil
	default:
		return 0, fmt.Errorf("unknown delay unit: %s", unit)
	}
}

// StepCampaignStep is static per-campaign content, read-only to the engine.
type StepCampaignStep struct {
	ID             string    `db:"id" json:"id"`
	StepCampaignID string    `db:"step_campaign_id" json:"step_campaign_id"`
	StepNumber     int       `db:"step_number" json:"step_number"`
	Name           string    `db:"name" json:"name"`
	DelayValue     int       `db:"delay_value" json:"delay_value"`
	DelayUnit      DelayUnit `db:"delay_unit" json:"delay_unit"`
	Content        []byte    `db:"message_content" json:"message_content"` // JSON, typed in internal/line
	Condition      []byte    `db:"condition" json:"condition,omitempty"`   // optional predicate payload
}

type LogStatus string

const (
	LogStatusActive    LogStatus = "active"
	LogStatusCompleted LogStatus = "completed"
)

// StepCampaignLog tracks one friend's position in a drip campaign.
// current_step_number never decreases; once no further step exists the
// row becomes completed and next_send_at is no longer consulted.
type StepCampaignLog struct {
	ID                string     `db:"id" json:"id"`
	StepCampaignID    string     `db:"step_campaign_id" json:"step_campaign_id"`
	FriendID          string     `db:"friend_id" json:"friend_id"`
	CurrentStepNumber int        `db:"current_step_number" json:"current_step_number"`
	Status            LogStatus  `db:"status" json:"status"`
	NextSendAt        time.Time  `db:"next_send_at" json:"next_send_at"`
	CompletedAt       *time.Time `db:"completed_at" json:"completed_at,omitempty"`
	CreatedAt         time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time  `db:"updated_at" json:"updated_at"`

	// Joined from friends for delivery.
	LineUserID string `db:"line_user_id" json:"-"`
}
