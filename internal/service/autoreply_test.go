package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/hanamura/linebridge-backend/internal/ai"
	appErrors "github.com/hanamura/linebridge-backend/internal/errors"
	"github.com/hanamura/linebridge-backend/internal/model"
)

type fakeConversations struct {
	history  []*model.ConversationMessage
	appended []model.ConversationMessage
}

func (f *fakeConversations) RecentHistory(_ context.Context, friendID string, limit int) ([]*model.ConversationMessage, error) {
	if len(f.history) > limit {
		return f.history[:limit], nil
	}
	return f.history, nil
}

func (f *fakeConversations) Append(_ context.Context, friendID, role, content string, at time.Time) error {
	f.appended = append(f.appended, model.ConversationMessage{
		FriendID: friendID, Role: role, Content: content, CreatedAt: at,
	})
	return nil
}

type fakeGenerator struct {
	gotMessages []ai.ChatMessage
	result      *ai.GenerationResult
	err         error
}

func (f *fakeGenerator) Complete(_ context.Context, messages []ai.ChatMessage, _ ai.Config) (*ai.GenerationResult, error) {
	f.gotMessages = messages
	return f.result, f.err
}

func replyFriend() *model.Friend {
	return &model.Friend{ID: "friend-1", LineUserID: "U001", DisplayName: "Tanaka"}
}

func newTestAutoReply(conversations *fakeConversations, gen *fakeGenerator, push *fakePush, validation ai.ValidationConfig) *AutoReplyService {
	s := NewAutoReplyService(conversations, nil, gen, push, zap.NewNop(),
		ai.Settings{}, ai.Config{Model: "gpt-4"}, validation)
	s.now = func() time.Time { return time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC) }
	return s
}

func TestReplyGeneratesValidatesAndDelivers(t *testing.T) {
	conversations := &fakeConversations{history: []*model.ConversationMessage{
		{Role: ai.RoleAssistant, Content: "previous answer"},
		{Role: ai.RoleUser, Content: "previous question"},
	}}
	gen := &fakeGenerator{result: &ai.GenerationResult{
		Content: "generated **reply**",
		Model:   "gpt-4",
		Usage:   ai.Usage{PromptTokens: 100, CompletionTokens: 20},
	}}
	push := &fakePush{}
	s := newTestAutoReply(conversations, gen, push, ai.ValidationConfig{})

	result, err := s.Reply(context.Background(), replyFriend(), "contact foo@example.com please")
	require.NoError(t, err)

	assert.Equal(t, "generated reply", result.Content, "provider markup is stripped before delivery")
	assert.Equal(t, []string{"U001"}, push.calls)
	assert.InDelta(t, ai.EstimateCost("gpt-4", 100, 20), result.EstimatedCost, 1e-9)

	// Prompt ordering: system, stored history oldest first, current turn.
	require.Len(t, gen.gotMessages, 4)
	assert.Equal(t, ai.RoleSystem, gen.gotMessages[0].Role)
	assert.Equal(t, "previous question", gen.gotMessages[1].Content)
	assert.Equal(t, "previous answer", gen.gotMessages[2].Content)
	assert.NotContains(t, gen.gotMessages[3].Content, "foo@example.com",
		"inbound PII is masked before prompting")

	// Both turns persist; the user turn keeps its original text.
	require.Len(t, conversations.appended, 2)
	assert.Equal(t, ai.RoleUser, conversations.appended[0].Role)
	assert.Equal(t, "contact foo@example.com please", conversations.appended[0].Content)
	assert.Equal(t, ai.RoleAssistant, conversations.appended[1].Role)
	assert.Equal(t, "generated reply", conversations.appended[1].Content)
}

func TestReplyBlockedContentNeverDelivered(t *testing.T) {
	gen := &fakeGenerator{result: &ai.GenerationResult{Content: "buy forbidden stuff", Model: "gpt-4"}}
	push := &fakePush{}
	conversations := &fakeConversations{}
	s := newTestAutoReply(conversations, gen, push, ai.ValidationConfig{
		ProhibitedWords: []string{"forbidden"},
	})

	_, err := s.Reply(context.Background(), replyFriend(), "hello")
	require.Error(t, err)

	var blocked *appErrors.ErrContentBlocked
	require.ErrorAs(t, err, &blocked)
	assert.Empty(t, push.calls, "blocked content must not reach the push primitive")
	assert.Empty(t, conversations.appended, "blocked exchanges are not persisted")
}

func TestReplyGenerationFailureSurfaces(t *testing.T) {
	gen := &fakeGenerator{err: errors.New("upstream down")}
	push := &fakePush{}
	s := newTestAutoReply(&fakeConversations{}, gen, push, ai.ValidationConfig{})

	_, err := s.Reply(context.Background(), replyFriend(), "hello")
	require.Error(t, err)
	assert.Empty(t, push.calls)
}

func TestReplyPushFailureSurfaces(t *testing.T) {
	gen := &fakeGenerator{result: &ai.GenerationResult{Content: "fine reply", Model: "gpt-4"}}
	push := &fakePush{errs: map[string][]error{
		"U001": {errors.New("connection reset")},
	}}
	conversations := &fakeConversations{}
	s := newTestAutoReply(conversations, gen, push, ai.ValidationConfig{})

	_, err := s.Reply(context.Background(), replyFriend(), "hello")
	require.Error(t, err)
	assert.Empty(t, conversations.appended, "undelivered replies are not persisted as history")
}

func TestReplyPassesWarningsThrough(t *testing.T) {
	gen := &fakeGenerator{result: &ai.GenerationResult{
		Content: "see https://example.com for details",
		Model:   "gpt-4",
	}}
	s := newTestAutoReply(&fakeConversations{}, gen, &fakePush{}, ai.ValidationConfig{})

	result, err := s.Reply(context.Background(), replyFriend(), "hello")
	require.NoError(t, err)
	assert.Contains(t, result.Warnings, "response contains URLs")
}
