// internal/ai/prompt.go
package ai

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/hanamura/linebridge-backend/internal/model"
)

// ChatMessage is one turn in the conversation sent to the generation API.
type ChatMessage struct {
	Role    string `json:"role"` // system, user, assistant
	Content string `json:"content"`
}

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Settings is the per-organization AI configuration.
type Settings struct {
	SystemPrompt       string
	CustomInstructions string
}

// HistoryMessage is one prior turn loaded from the conversation store.
type HistoryMessage struct {
	Role      string
	Content   string
	CreatedAt time.Time
}

var (
	emailPattern = regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`)
	phonePattern = regexp.MustCompile(`0\d{1,4}-?\d{1,4}-?\d{4}`)
	cardPattern  = regexp.MustCompile(`\d{4}[-\s]?\d{4}[-\s]?\d{4}[-\s]?\d{4}`)
)

// BuildSystemPrompt assembles the system message: base prompt (or a
// default), optional custom instructions, then a customer-context block
// built from the friend record.
func BuildSystemPrompt(settings Settings, friend *model.Friend, orgName string, now time.Time) string {
	var parts []string

	if settings.SystemPrompt != "" {
		parts = append(parts, settings.SystemPrompt)
	} else {
		name := orgName
		if name == "" {
			name = "当社"
		}
		parts = append(parts, fmt.Sprintf("あなたは%sのカスタマーサポートAIアシスタントです。", name))
		parts = append(parts, "丁寧で親しみやすい対応を心がけ、顧客の問題解決をサポートします。")
	}

	if settings.CustomInstructions != "" {
		parts = append(parts, "\n【追加指示】")
		parts = append(parts, settings.CustomInstructions)
	}

	parts = append(parts, "\n【顧客情報】")

	if friend.DisplayName != "" {
		parts = append(parts, "名前: "+friend.DisplayName)
	}
	if len(friend.Tags) > 0 {
		parts = append(parts, "タグ: "+strings.Join(friend.Tags, ", "))
	}
	if len(friend.CustomFields) > 0 {
		parts = append(parts, "\nカスタムフィールド:")
		keys := make([]string, 0, len(friend.CustomFields))
		for k := range friend.CustomFields {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			parts = append(parts, fmt.Sprintf("- %s: %s", k, friend.CustomFields[k]))
		}
	}
	if friend.LastInteractionAt != nil {
		days := int(now.Sub(*friend.LastInteractionAt).Hours() / 24)
		switch {
		case days <= 0:
			parts = append(parts, "最終やり取り: 本日")
		case days == 1:
			parts = append(parts, "最終やり取り: 昨日")
		default:
			parts = append(parts, fmt.Sprintf("最終やり取り: %d日前", days))
		}
	}

	return strings.Join(parts, "\n")
}

// TruncateHistory keeps the most recent messages that fit within
// maxTokens, preserving chronological order. History is given
// newest-first, as loaded from the store.
func TruncateHistory(history []HistoryMessage, maxTokens int) []HistoryMessage {
	if len(history) == 0 {
		return nil
	}

	total := 0
	var kept []HistoryMessage
	for _, msg := range history {
		est := EstimateTokens(msg.Content)
		if total+est > maxTokens {
			break
		}
		// Prepend to restore chronological order.
		kept = append([]HistoryMessage{msg}, kept...)
		total += est
	}
	return kept
}

// SanitizeInbound masks PII-looking substrings in a user turn before it
// is included in a prompt. This is input-side sanitization; the
// validator sanitizes the generated output separately.
func SanitizeInbound(text string) string {
	sanitized := emailPattern.ReplaceAllString(text, "[メールアドレス]")
	sanitized = phonePattern.ReplaceAllString(sanitized, "[電話番号]")
	sanitized = cardPattern.ReplaceAllString(sanitized, "[カード番号]")
	return sanitized
}

// BuildMessages produces the ordered message list for a completion call:
// system message, history oldest to newest, then the current user turn.
// Providers treat the system role specially and expect history before
// the live turn, so the order is part of the contract.
func BuildMessages(systemPrompt string, history []HistoryMessage, current string) []ChatMessage {
	messages := make([]ChatMessage, 0, len(history)+2)
	messages = append(messages, ChatMessage{Role: RoleSystem, Content: systemPrompt})
	for _, msg := range history {
		messages = append(messages, ChatMessage{Role: msg.Role, Content: msg.Content})
	}
	messages = append(messages, ChatMessage{Role: RoleUser, Content: current})
	return messages
}

// EstimateTokens gives a rough token count. CJK text runs closer to 2.5
// characters per token, everything else around 4.
func EstimateTokens(text string) int {
	cjk := 0
	other := 0
	for _, r := range text {
		if isCJK(r) {
			cjk++
		} else {
			other++
		}
	}
	est := float64(cjk)/2.5 + float64(other)/4
	return int(est + 0.999)
}

func isCJK(r rune) bool {
	switch {
	case r >= 0x3000 && r <= 0x303f, // punctuation
		r >= 0x3040 && r <= 0x309f, // hiragana
		r >= 0x30a0 && r <= 0x30ff, // katakana
		r >= 0xff00 && r <= 0xff9f, // fullwidth forms
		r >= 0x4e00 && r <= 0x9faf, // common kanji
		r >= 0x3400 && r <= 0x4dbf: // rare kanji
		return true
	}
	return false
}
