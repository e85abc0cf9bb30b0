// internal/handler/webhook_handler.go
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	appErrors "github.com/hanamura/linebridge-backend/internal/errors"
	"github.com/hanamura/linebridge-backend/internal/line"
	"github.com/hanamura/linebridge-backend/internal/model"
	"github.com/hanamura/linebridge-backend/internal/repository"
	"github.com/hanamura/linebridge-backend/internal/service"
)

const signatureHeader = "X-Line-Signature"

// WebhookHandler receives LINE webhook events. Nothing in the body is
// trusted until the raw-byte signature check passes.
type WebhookHandler struct {
	ChannelSecret  string
	OrganizationID string

	Friends   repository.FriendRepositoryInterface
	AutoReply *service.AutoReplyService
	Logger    *zap.Logger

	now func() time.Time
}

func NewWebhookHandler(
	channelSecret, organizationID string,
	friends repository.FriendRepositoryInterface,
	autoReply *service.AutoReplyService,
	logger *zap.Logger,
) *WebhookHandler {
	return &WebhookHandler{
		ChannelSecret:  channelSecret,
		OrganizationID: organizationID,
		Friends:        friends,
		AutoReply:      autoReply,
		Logger:         logger,
		now:            time.Now,
	}
}

func (h *WebhookHandler) Handle(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "cannot read body", http.StatusBadRequest)
		return
	}

	if !line.VerifySignature(body, r.Header.Get(signatureHeader), h.ChannelSecret) {
		h.Logger.Warn("webhook signature mismatch")
		http.Error(w, "invalid signature", http.StatusUnauthorized)
		return
	}

	envelope, err := line.ParseEnvelope(body)
	if err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}

	for _, event := range envelope.Events {
		if err := h.handleEvent(r.Context(), event); err != nil {
			// Event-level failures are logged, not surfaced: LINE
			// redelivers the whole envelope on non-2xx, which would
			// reprocess events that already succeeded.
			h.Logger.Error("event handling failed",
				zap.String("type", string(event.Type)), zap.Error(err))
		}
	}

	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]bool{"success": true})
}

func (h *WebhookHandler) handleEvent(ctx context.Context, event line.Event) error {
	switch event.Type {
	case line.EventTypeMessage:
		return h.handleMessage(ctx, event)
	case line.EventTypeFollow:
		_, err := h.Friends.UpsertOnFollow(ctx, h.OrganizationID, event.Source.UserID)
		return err
	case line.EventTypeUnfollow:
		return h.Friends.MarkBlocked(ctx, h.OrganizationID, event.Source.UserID, true)
	case line.EventTypeJoin, line.EventTypeLeave, line.EventTypePostback:
		// Acknowledged but not acted on by the engine.
		h.Logger.Debug("event ignored", zap.String("type", string(event.Type)))
		return nil
	default:
		h.Logger.Warn("unknown event type", zap.String("type", string(event.Type)))
		return nil
	}
}

func (h *WebhookHandler) handleMessage(ctx context.Context, event line.Event) error {
	if event.Message == nil || event.Message.Type != line.MessageContentText {
		return nil
	}
	if event.Source.Type != line.SourceTypeUser {
		return nil
	}

	friend, err := h.Friends.GetByLineUserID(ctx, h.OrganizationID, event.Source.UserID)
	if err != nil {
		return err
	}
	if friend == nil || friend.IsBlocked {
		return nil
	}

	if err := h.Friends.TouchInteraction(ctx, friend.ID, h.now()); err != nil {
		h.Logger.Error("touch interaction failed", zap.String("friend_id", friend.ID), zap.Error(err))
	}

	if h.AutoReply == nil {
		return nil
	}
	return h.replyTo(ctx, friend, event.Message.Text)
}

func (h *WebhookHandler) replyTo(ctx context.Context, friend *model.Friend, text string) error {
	_, err := h.AutoReply.Reply(ctx, friend, text)
	var blocked *appErrors.ErrContentBlocked
	if errors.As(err, &blocked) {
		// Blocked content is a safety outcome, not a pipeline failure.
		h.Logger.Warn("auto-reply blocked",
			zap.String("friend_id", friend.ID),
			zap.Strings("reasons", blocked.Reasons))
		return nil
	}
	return err
}
