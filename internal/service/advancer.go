// internal/service/advancer.go
package service

import (
	"context"
	"fmt"
	"time"

	"github.com/hashicorp/go-multierror"
	"go.uber.org/zap"

	"github.com/hanamura/linebridge-backend/internal/line"
	"github.com/hanamura/linebridge-backend/internal/model"
	"github.com/hanamura/linebridge-backend/internal/repository"
)

const (
	defaultAdvanceLimit = 100
	// A step whose condition does not hold yet is re-evaluated after this
	// delay instead of every sweep or never again.
	conditionRetryDelay = 15 * time.Minute
)

type AdvanceResult struct {
	Processed int `json:"processed"`
	Failed    int `json:"failed"`

	FailureDetails error `json:"-"`
}

// ConditionFunc evaluates a step's gating predicate. Evaluation itself
// is a collaborator concern; the engine only routes on the verdict.
type ConditionFunc func(ctx context.Context, log *model.StepCampaignLog, step *model.StepCampaignStep) (bool, error)

// StepAdvancer walks due drip-campaign rows: sends the next step's
// content, computes the next delay, and advances or completes each row.
type StepAdvancer struct {
	Campaigns repository.StepCampaignRepositoryInterface
	Push      line.PushSender
	Logger    *zap.Logger
	Limit     int

	// Condition defaults to always-true when nil.
	Condition ConditionFunc
	// OnComplete triggers the external campaign-statistics recompute.
	OnComplete func(ctx context.Context, campaignID string)
}

func NewStepAdvancer(
	campaigns repository.StepCampaignRepositoryInterface,
	push line.PushSender,
	logger *zap.Logger,
) *StepAdvancer {
	return &StepAdvancer{
		Campaigns: campaigns,
		Push:      push,
		Logger:    logger,
		Limit:     defaultAdvanceLimit,
	}
}

// Advance processes due rows independently: an error on one row is
// counted and logged, never aborts the sweep for its siblings.
func (a *StepAdvancer) Advance(ctx context.Context, now time.Time) (*AdvanceResult, error) {
	due, err := a.Campaigns.ListDueLogs(ctx, now, a.Limit)
	if err != nil {
		return nil, fmt.Errorf("list due campaign logs: %w", err)
	}

	result := &AdvanceResult{}
	for _, log := range due {
		if err := a.advanceOne(ctx, log, now); err != nil {
			a.Logger.Error("advance failed",
				zap.String("log_id", log.ID),
				zap.Int("step", log.CurrentStepNumber),
				zap.Error(err))
			result.Failed++
			result.FailureDetails = multierror.Append(result.FailureDetails,
				fmt.Errorf("log %s: %w", log.ID, err))
			continue
		}
		result.Processed++
	}

	a.Logger.Info("step advance finished",
		zap.Int("due", len(due)),
		zap.Int("processed", result.Processed),
		zap.Int("failed", result.Failed))
	return result, nil
}

func (a *StepAdvancer) advanceOne(ctx context.Context, log *model.StepCampaignLog, now time.Time) error {
	nextNumber := log.CurrentStepNumber + 1

	step, err := a.Campaigns.GetStep(ctx, log.StepCampaignID, nextNumber)
	if err != nil {
		return fmt.Errorf("get step %d: %w", nextNumber, err)
	}

	// No further step: the campaign is over for this recipient. No push
	// is attempted.
	if step == nil {
		claimed, err := a.Campaigns.CompleteLog(ctx, log.ID, log.CurrentStepNumber, now)
		if err != nil {
			return fmt.Errorf("complete log: %w", err)
		}
		if claimed && a.OnComplete != nil {
			a.OnComplete(ctx, log.StepCampaignID)
		}
		return nil
	}

	if len(step.Condition) > 0 {
		ok, err := a.evaluateCondition(ctx, log, step)
		if err != nil {
			return fmt.Errorf("evaluate condition: %w", err)
		}
		if !ok {
			// Reschedule rather than advancing past gated content or
			// stalling: the predicate is re-checked on a bounded cadence.
			if _, err := a.Campaigns.RescheduleLog(ctx, log.ID, log.CurrentStepNumber, now.Add(conditionRetryDelay)); err != nil {
				return fmt.Errorf("reschedule log: %w", err)
			}
			return nil
		}
	}

	payload, err := line.UnmarshalMessage(step.Content)
	if err != nil {
		return fmt.Errorf("step %d has invalid content: %w", step.StepNumber, err)
	}

	// A transient delivery failure does not halt drip progression; drip
	// content is fire-and-forget and blocking the whole campaign on one
	// failed send would strand the recipient.
	if err := a.Push.Push(ctx, log.LineUserID, []line.Message{payload}); err != nil {
		a.Logger.Warn("step delivery failed, advancing anyway",
			zap.String("log_id", log.ID),
			zap.Int("step", step.StepNumber),
			zap.Error(err))
	}

	delay, err := model.Delay(step.DelayValue, step.DelayUnit)
	if err != nil {
		return err
	}

	// The fromStep guard makes a lost race a silent skip, not a
	// double-advance.
	if _, err := a.Campaigns.AdvanceLog(ctx, log.ID, log.CurrentStepNumber, now.Add(delay)); err != nil {
		return fmt.Errorf("advance log: %w", err)
	}
	return nil
}

func (a *StepAdvancer) evaluateCondition(ctx context.Context, log *model.StepCampaignLog, step *model.StepCampaignStep) (bool, error) {
	if a.Condition == nil {
		return true, nil
	}
	return a.Condition(ctx, log, step)
}
