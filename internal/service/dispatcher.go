// internal/service/dispatcher.go
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/hanamura/linebridge-backend/internal/line"
	"github.com/hanamura/linebridge-backend/internal/model"
	"github.com/hanamura/linebridge-backend/internal/repository"
)

const (
	// 100 recipients per batch with 200ms spacing keeps delivery under
	// the provider ceiling of 500 pushes per second.
	defaultBatchSize  = 100
	defaultBatchDelay = 200 * time.Millisecond
	// Pause before retrying the same recipient after a 429.
	defaultRateLimitPause = 2 * time.Second
)

type DeliverResult struct {
	MessageID  string `json:"message_id"`
	SentCount  int    `json:"sent_count"`
	ErrorCount int    `json:"error_count"`
	Skipped    bool   `json:"skipped,omitempty"`
}

// Dispatcher drives one outbound message to a terminal status: it claims
// the message, pages pending recipients in rate-limited batches, pushes
// to each exactly once per sweep, and finalizes the counters.
type Dispatcher struct {
	Messages   repository.MessageRepositoryInterface
	Recipients repository.RecipientRepositoryInterface
	Push       line.PushSender
	Logger     *zap.Logger

	BatchSize      int
	BatchDelay     time.Duration
	RateLimitPause time.Duration

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

func NewDispatcher(
	messages repository.MessageRepositoryInterface,
	recipients repository.RecipientRepositoryInterface,
	push line.PushSender,
	logger *zap.Logger,
) *Dispatcher {
	return &Dispatcher{
		Messages:       messages,
		Recipients:     recipients,
		Push:           push,
		Logger:         logger,
		BatchSize:      defaultBatchSize,
		BatchDelay:     defaultBatchDelay,
		RateLimitPause: defaultRateLimitPause,
		now:            time.Now,
		sleep:          sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	select {
	case <-time.After(d):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Deliver processes all pending recipients of one message. A message
// already claimed by another worker is skipped silently; that race has
// exactly one winner by design.
func (d *Dispatcher) Deliver(ctx context.Context, messageID string) (*DeliverResult, error) {
	msg, err := d.Messages.GetByID(ctx, messageID)
	if err != nil {
		return nil, err
	}

	payload, err := line.UnmarshalMessage(msg.Content)
	if err != nil {
		return nil, fmt.Errorf("message %s has invalid content: %w", messageID, err)
	}

	claimed, err := d.Messages.MarkSending(ctx, messageID, d.now())
	if err != nil {
		return nil, err
	}
	if !claimed {
		d.Logger.Info("message already claimed, skipping",
			zap.String("message_id", messageID),
			zap.String("status", string(msg.Status)))
		return &DeliverResult{MessageID: messageID, Skipped: true}, nil
	}

	result := &DeliverResult{MessageID: messageID}
	attempted := make(map[string]bool)
	for {
		batch, err := d.Recipients.ListPending(ctx, messageID, d.BatchSize)
		if err != nil {
			return result, fmt.Errorf("list pending recipients: %w", err)
		}
		if len(batch) == 0 {
			break
		}

		progressed := false
		for _, recipient := range batch {
			// A row that failed to leave pending (MarkSent or MarkFailed
			// errored) comes back on the next page; it must not be
			// pushed twice in one invocation.
			if attempted[recipient.ID] {
				continue
			}
			attempted[recipient.ID] = true
			progressed = true
			d.deliverOne(ctx, recipient, payload, result)
		}

		// Partial page means no more pending rows; skip the pacing
		// delay and finalize. A full page of already-attempted rows
		// means the store is stuck, not that work remains.
		if len(batch) < d.BatchSize || !progressed {
			break
		}
		if err := d.sleep(ctx, d.BatchDelay); err != nil {
			return result, err
		}
	}

	status := model.MessageStatusCompleted
	if result.ErrorCount > 0 && result.SentCount == 0 {
		status = model.MessageStatusFailed
	}
	if err := d.Messages.Finalize(ctx, messageID, status, result.SentCount, result.ErrorCount, d.now()); err != nil {
		return result, fmt.Errorf("finalize message: %w", err)
	}

	d.Logger.Info("message delivery finished",
		zap.String("message_id", messageID),
		zap.String("status", string(status)),
		zap.Int("sent", result.SentCount),
		zap.Int("errors", result.ErrorCount))
	return result, nil
}

// deliverOne attempts exactly one delivery for a recipient. Rate limiting
// pauses and retries the same recipient; every other failure is terminal
// for this sweep.
func (d *Dispatcher) deliverOne(ctx context.Context, recipient *model.Recipient, payload line.Message, result *DeliverResult) {
	if recipient.IsBlocked {
		d.markFailed(ctx, recipient, model.FailureUserBlocked, result)
		return
	}

	for {
		err := d.Push.Push(ctx, recipient.LineUserID, []line.Message{payload})
		if err == nil {
			if err := d.Recipients.MarkSent(ctx, recipient.ID, d.now()); err != nil {
				d.Logger.Error("mark recipient sent failed",
					zap.String("recipient_id", recipient.ID), zap.Error(err))
			}
			result.SentCount++
			return
		}

		if errors.Is(err, line.ErrRateLimited) {
			if sleepErr := d.sleep(ctx, d.RateLimitPause); sleepErr != nil {
				// Context cancelled mid-pause; leave the row pending for
				// the next sweep.
				return
			}
			continue
		}

		if errors.Is(err, line.ErrInvalidRecipient) {
			d.markFailed(ctx, recipient, model.FailureInvalidRecipient, result)
			return
		}

		d.markFailed(ctx, recipient, err.Error(), result)
		return
	}
}

func (d *Dispatcher) markFailed(ctx context.Context, recipient *model.Recipient, reason string, result *DeliverResult) {
	if err := d.Recipients.MarkFailed(ctx, recipient.ID, reason); err != nil {
		d.Logger.Error("mark recipient failed errored",
			zap.String("recipient_id", recipient.ID), zap.Error(err))
	}
	result.ErrorCount++
}
