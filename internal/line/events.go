// internal/line/events.go
package line

import (
	"encoding/json"
	"fmt"
)

// WebhookEnvelope is the body LINE POSTs to the webhook endpoint.
type WebhookEnvelope struct {
	Destination string  `json:"destination"`
	Events      []Event `json:"events"`
}

// Event is one webhook event. The concrete payload is selected by the
// Type discriminator; dispatch sites must switch on Type exhaustively so
// an unhandled type is an explicit case, not a silent no-op.
type EventType string

const (
	EventTypeMessage  EventType = "message"
	EventTypeFollow   EventType = "follow"
	EventTypeUnfollow EventType = "unfollow"
	EventTypeJoin     EventType = "join"
	EventTypeLeave    EventType = "leave"
	EventTypePostback EventType = "postback"
)

type SourceType string

const (
	SourceTypeUser  SourceType = "user"
	SourceTypeGroup SourceType = "group"
	SourceTypeRoom  SourceType = "room"
)

type EventSource struct {
	Type    SourceType `json:"type"`
	UserID  string     `json:"userId,omitempty"`
	GroupID string     `json:"groupId,omitempty"`
	RoomID  string     `json:"roomId,omitempty"`
}

type Event struct {
	Type       EventType   `json:"type"`
	Timestamp  int64       `json:"timestamp"`
	Source     EventSource `json:"source"`
	ReplyToken string      `json:"replyToken,omitempty"`

	// Exactly one of the following is set, per Type.
	Message  *MessageEvent  `json:"message,omitempty"`
	Postback *PostbackEvent `json:"postback,omitempty"`
}

type MessageContentType string

const (
	MessageContentText     MessageContentType = "text"
	MessageContentImage    MessageContentType = "image"
	MessageContentVideo    MessageContentType = "video"
	MessageContentAudio    MessageContentType = "audio"
	MessageContentFile     MessageContentType = "file"
	MessageContentLocation MessageContentType = "location"
	MessageContentSticker  MessageContentType = "sticker"
)

// MessageEvent is the message payload of a message event.
type MessageEvent struct {
	ID        string             `json:"id"`
	Type      MessageContentType `json:"type"`
	Text      string             `json:"text,omitempty"`
	StickerID string             `json:"stickerId,omitempty"`
	PackageID string             `json:"packageId,omitempty"`
	FileName  string             `json:"fileName,omitempty"`
	Title     string             `json:"title,omitempty"`
	Address   string             `json:"address,omitempty"`
	Latitude  float64            `json:"latitude,omitempty"`
	Longitude float64            `json:"longitude,omitempty"`
}

type PostbackEvent struct {
	Data   string `json:"data"`
	Params struct {
		Date     string `json:"date,omitempty"`
		Time     string `json:"time,omitempty"`
		Datetime string `json:"datetime,omitempty"`
	} `json:"params,omitempty"`
}

// ParseEnvelope decodes a raw webhook body. Signature verification must
// happen on the raw bytes before this is called.
func ParseEnvelope(body []byte) (*WebhookEnvelope, error) {
	var env WebhookEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("decode webhook envelope: %w", err)
	}
	return &env, nil
}
