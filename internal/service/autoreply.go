// internal/service/autoreply.go
package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/hanamura/linebridge-backend/internal/ai"
	appErrors "github.com/hanamura/linebridge-backend/internal/errors"
	"github.com/hanamura/linebridge-backend/internal/line"
	"github.com/hanamura/linebridge-backend/internal/model"
	"github.com/hanamura/linebridge-backend/internal/repository"
)

const (
	historyLoadLimit   = 20
	historyTokenBudget = 1000
	replyMaxLength     = 5000 // LINE text message hard cap
)

// Generator is the completion surface the reply pipeline needs.
type Generator interface {
	Complete(ctx context.Context, messages []ai.ChatMessage, cfg ai.Config) (*ai.GenerationResult, error)
}

type ReplyResult struct {
	Content       string
	Usage         ai.Usage
	EstimatedCost float64
	Warnings      []string
}

// AutoReplyService runs the generate-validate-deliver pipeline for one
// inbound message. Content that fails validation is never handed to the
// push primitive.
type AutoReplyService struct {
	Conversations repository.ConversationRepositoryInterface
	Friends       repository.FriendRepositoryInterface
	Generator     Generator
	Push          line.PushSender
	Logger        *zap.Logger

	Settings         ai.Settings
	GenerationConfig ai.Config
	Validation       ai.ValidationConfig
	OrgName          string

	now func() time.Time
}

func NewAutoReplyService(
	conversations repository.ConversationRepositoryInterface,
	friends repository.FriendRepositoryInterface,
	generator Generator,
	push line.PushSender,
	logger *zap.Logger,
	settings ai.Settings,
	genCfg ai.Config,
	validation ai.ValidationConfig,
) *AutoReplyService {
	if validation.MaxLength == 0 {
		validation.MaxLength = replyMaxLength
	}
	return &AutoReplyService{
		Conversations:    conversations,
		Friends:          friends,
		Generator:        generator,
		Push:             push,
		Logger:           logger,
		Settings:         settings,
		GenerationConfig: genCfg,
		Validation:       validation,
		now:              time.Now,
	}
}

// Reply generates, validates and delivers one AI response to a friend.
func (s *AutoReplyService) Reply(ctx context.Context, friend *model.Friend, inboundText string) (*ReplyResult, error) {
	now := s.now()

	sanitizedInbound := ai.SanitizeInbound(inboundText)

	stored, err := s.Conversations.RecentHistory(ctx, friend.ID, historyLoadLimit)
	if err != nil {
		return nil, fmt.Errorf("load conversation history: %w", err)
	}
	history := make([]ai.HistoryMessage, 0, len(stored))
	for _, m := range stored {
		history = append(history, ai.HistoryMessage{Role: m.Role, Content: m.Content, CreatedAt: m.CreatedAt})
	}
	history = ai.TruncateHistory(history, historyTokenBudget)

	systemPrompt := ai.BuildSystemPrompt(s.Settings, friend, s.OrgName, now)
	messages := ai.BuildMessages(systemPrompt, history, sanitizedInbound)

	generated, err := s.Generator.Complete(ctx, messages, s.GenerationConfig)
	if err != nil {
		return nil, fmt.Errorf("generate reply: %w", err)
	}

	validation := ai.Validate(generated.Content, s.Validation)
	if !validation.IsValid {
		s.Logger.Warn("generated reply blocked",
			zap.String("friend_id", friend.ID),
			zap.Strings("errors", validation.Errors))
		return nil, appErrors.NewContentBlocked(validation.Errors)
	}
	for _, w := range validation.Warnings {
		s.Logger.Warn("reply validation warning",
			zap.String("friend_id", friend.ID), zap.String("warning", w))
	}

	content := ai.FormatForLine(validation.SanitizedContent)

	if err := s.Push.Push(ctx, friend.LineUserID, []line.Message{line.NewText(content)}); err != nil {
		return nil, fmt.Errorf("push reply: %w", err)
	}

	// Persist both turns so the next reply sees them as history. Failures
	// here don't undo a delivered reply; log and move on.
	if err := s.Conversations.Append(ctx, friend.ID, ai.RoleUser, inboundText, now); err != nil {
		s.Logger.Error("append user turn failed", zap.String("friend_id", friend.ID), zap.Error(err))
	}
	if err := s.Conversations.Append(ctx, friend.ID, ai.RoleAssistant, content, s.now()); err != nil {
		s.Logger.Error("append assistant turn failed", zap.String("friend_id", friend.ID), zap.Error(err))
	}

	return &ReplyResult{
		Content:       content,
		Usage:         generated.Usage,
		EstimatedCost: ai.EstimateCost(generated.Model, generated.Usage.PromptTokens, generated.Usage.CompletionTokens),
		Warnings:      validation.Warnings,
	}, nil
}
