// internal/line/messages.go
package line

import (
	"encoding/json"
	"fmt"
)

// Message is one outbound LINE message payload. The closed set of
// implementations matches what the push endpoint accepts; the type field
// on the wire selects the variant.
type Message interface {
	messageType() string
}

type TextMessage struct {
	Text string `json:"text"`
}

func (TextMessage) messageType() string { return "text" }

type ImageMessage struct {
	OriginalContentURL string `json:"originalContentUrl"`
	PreviewImageURL    string `json:"previewImageUrl"`
}

func (ImageMessage) messageType() string { return "image" }

type StickerMessage struct {
	PackageID string `json:"packageId"`
	StickerID string `json:"stickerId"`
}

func (StickerMessage) messageType() string { return "sticker" }

// TemplateMessage carries a template payload (buttons, confirm, carousel)
// opaque to the engine; authoring produces it, the engine only transmits.
type TemplateMessage struct {
	AltText  string          `json:"altText"`
	Template json.RawMessage `json:"template"`
}

func (TemplateMessage) messageType() string { return "template" }

// NewText builds a text message.
func NewText(text string) Message { return TextMessage{Text: text} }

// MarshalMessage serializes a message with its type discriminator.
func MarshalMessage(m Message) ([]byte, error) {
	inner, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(inner, &fields); err != nil {
		return nil, err
	}
	fields["type"] = json.RawMessage(fmt.Sprintf("%q", m.messageType()))
	return json.Marshal(fields)
}

// UnmarshalMessage decodes a stored message payload into its typed
// variant. Unknown types are an error rather than a silent passthrough.
func UnmarshalMessage(raw []byte) (Message, error) {
	var probe struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		return nil, fmt.Errorf("decode message payload: %w", err)
	}
	switch probe.Type {
	case "text":
		var m TextMessage
		err := json.Unmarshal(raw, &m)
		return m, err
	case "image":
		var m ImageMessage
		err := json.Unmarshal(raw, &m)
		return m, err
	case "sticker":
		var m StickerMessage
		err := json.Unmarshal(raw, &m)
		return m, err
	case "template":
		var m TemplateMessage
		err := json.Unmarshal(raw, &m)
		return m, err
	default:
		return nil, fmt.Errorf("unknown message type: %q", probe.Type)
	}
}
