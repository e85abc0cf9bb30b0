// internal/service/sweeper.go
package service

import (
	"context"
	"fmt"
	"time"

	"github.com/hashicorp/go-multierror"
	"go.uber.org/zap"

	"github.com/hanamura/linebridge-backend/internal/repository"
)

const defaultSweepLimit = 100

type SweepResult struct {
	Processed int `json:"processed"`
	Failed    int `json:"failed"`

	// FailureDetails aggregates per-message invocation errors for
	// logging; per-recipient outcomes live on the rows themselves.
	FailureDetails error `json:"-"`
}

// Sweeper finds scheduled messages whose time has arrived and hands each
// to the dispatch port exactly once per sweep. The port is either the
// dispatcher itself or a queue publisher feeding the worker fleet.
type Sweeper struct {
	Messages repository.MessageRepositoryInterface
	Dispatch func(ctx context.Context, messageID string) error
	Logger   *zap.Logger
	Limit    int
}

func NewSweeper(
	messages repository.MessageRepositoryInterface,
	dispatch func(ctx context.Context, messageID string) error,
	logger *zap.Logger,
) *Sweeper {
	return &Sweeper{
		Messages: messages,
		Dispatch: dispatch,
		Logger:   logger,
		Limit:    defaultSweepLimit,
	}
}

// Sweep processes due messages oldest-first. A failure to even start
// delivery marks the message failed rather than leaving it stuck in
// scheduled; per-recipient failures are the dispatcher's business.
func (s *Sweeper) Sweep(ctx context.Context, now time.Time) (*SweepResult, error) {
	due, err := s.Messages.ListDue(ctx, now, s.Limit)
	if err != nil {
		return nil, fmt.Errorf("list due messages: %w", err)
	}

	result := &SweepResult{}
	for _, msg := range due {
		if err := s.Dispatch(ctx, msg.ID); err != nil {
			s.Logger.Error("dispatch failed",
				zap.String("message_id", msg.ID), zap.Error(err))
			if markErr := s.Messages.MarkFailed(ctx, msg.ID); markErr != nil {
				s.Logger.Error("mark message failed errored",
					zap.String("message_id", msg.ID), zap.Error(markErr))
			}
			result.Failed++
			result.FailureDetails = multierror.Append(result.FailureDetails,
				fmt.Errorf("message %s: %w", msg.ID, err))
			continue
		}
		result.Processed++
	}

	s.Logger.Info("sweep finished",
		zap.Int("due", len(due)),
		zap.Int("processed", result.Processed),
		zap.Int("failed", result.Failed))
	return result, nil
}
