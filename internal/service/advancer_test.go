package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/hanamura/linebridge-backend/internal/model"
)

type fakeCampaigns struct {
	logs  map[string]*model.StepCampaignLog
	order []string
	steps map[string]map[int]*model.StepCampaignStep
}

func newFakeCampaigns() *fakeCampaigns {
	return &fakeCampaigns{
		logs:  map[string]*model.StepCampaignLog{},
		steps: map[string]map[int]*model.StepCampaignStep{},
	}
}

func (f *fakeCampaigns) addLog(l *model.StepCampaignLog) {
	f.logs[l.ID] = l
	f.order = append(f.order, l.ID)
}

func (f *fakeCampaigns) addStep(s *model.StepCampaignStep) {
	if f.steps[s.StepCampaignID] == nil {
		f.steps[s.StepCampaignID] = map[int]*model.StepCampaignStep{}
	}
	f.steps[s.StepCampaignID][s.StepNumber] = s
}

func (f *fakeCampaigns) ListDueLogs(_ context.Context, now time.Time, limit int) ([]*model.StepCampaignLog, error) {
	var due []*model.StepCampaignLog
	for _, id := range f.order {
		l := f.logs[id]
		if l.Status == model.LogStatusActive && !l.NextSendAt.After(now) {
			snapshot := *l
			due = append(due, &snapshot)
			if len(due) == limit {
				break
			}
		}
	}
	return due, nil
}

func (f *fakeCampaigns) GetStep(_ context.Context, campaignID string, stepNumber int) (*model.StepCampaignStep, error) {
	return f.steps[campaignID][stepNumber], nil
}

func (f *fakeCampaigns) AdvanceLog(_ context.Context, logID string, fromStep int, nextSendAt time.Time) (bool, error) {
	l, ok := f.logs[logID]
	if !ok || l.Status != model.LogStatusActive || l.CurrentStepNumber != fromStep {
		return false, nil
	}
	l.CurrentStepNumber = fromStep + 1
	l.NextSendAt = nextSendAt
	return true, nil
}

func (f *fakeCampaigns) CompleteLog(_ context.Context, logID string, fromStep int, at time.Time) (bool, error) {
	l, ok := f.logs[logID]
	if !ok || l.Status != model.LogStatusActive || l.CurrentStepNumber != fromStep {
		return false, nil
	}
	l.Status = model.LogStatusCompleted
	l.CompletedAt = &at
	return true, nil
}

func (f *fakeCampaigns) RescheduleLog(_ context.Context, logID string, fromStep int, at time.Time) (bool, error) {
	l, ok := f.logs[logID]
	if !ok || l.Status != model.LogStatusActive || l.CurrentStepNumber != fromStep {
		return false, nil
	}
	l.NextSendAt = at
	return true, nil
}

func stepContent(text string) []byte {
	return []byte(`{"type":"text","text":"` + text + `"}`)
}

func activeLog(id string, step int, nextSendAt time.Time) *model.StepCampaignLog {
	return &model.StepCampaignLog{
		ID:                id,
		StepCampaignID:    "camp-1",
		FriendID:          "friend-1",
		CurrentStepNumber: step,
		Status:            model.LogStatusActive,
		NextSendAt:        nextSendAt,
		LineUserID:        "U001",
	}
}

var advanceNow = time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)

func TestAdvanceSendsNextStepAndSchedulesDelay(t *testing.T) {
	campaigns := newFakeCampaigns()
	campaigns.addLog(activeLog("log-1", 1, advanceNow.Add(-time.Minute)))
	campaigns.addStep(&model.StepCampaignStep{
		StepCampaignID: "camp-1", StepNumber: 2,
		DelayValue: 2, DelayUnit: model.DelayUnitDays,
		Content: stepContent("step two"),
	})
	push := &fakePush{}
	a := NewStepAdvancer(campaigns, push, zap.NewNop())

	result, err := a.Advance(context.Background(), advanceNow)
	require.NoError(t, err)

	assert.Equal(t, 1, result.Processed)
	assert.Equal(t, []string{"U001"}, push.calls)

	l := campaigns.logs["log-1"]
	assert.Equal(t, 2, l.CurrentStepNumber)
	assert.Equal(t, advanceNow.Add(48*time.Hour), l.NextSendAt)
	assert.Equal(t, model.LogStatusActive, l.Status)
}

func TestAdvanceCompletesAfterLastStep(t *testing.T) {
	campaigns := newFakeCampaigns()
	campaigns.addLog(activeLog("log-1", 3, advanceNow.Add(-time.Minute)))
	// Steps 1..3 exist; there is no step 4.
	for n := 1; n <= 3; n++ {
		campaigns.addStep(&model.StepCampaignStep{
			StepCampaignID: "camp-1", StepNumber: n,
			DelayValue: 1, DelayUnit: model.DelayUnitDays,
			Content: stepContent("step"),
		})
	}
	push := &fakePush{}
	var completedCampaigns []string
	a := NewStepAdvancer(campaigns, push, zap.NewNop())
	a.OnComplete = func(_ context.Context, campaignID string) {
		completedCampaigns = append(completedCampaigns, campaignID)
	}

	result, err := a.Advance(context.Background(), advanceNow)
	require.NoError(t, err)

	assert.Equal(t, 1, result.Processed)
	assert.Empty(t, push.calls, "completion sends nothing")

	l := campaigns.logs["log-1"]
	assert.Equal(t, model.LogStatusCompleted, l.Status)
	require.NotNil(t, l.CompletedAt)
	assert.Equal(t, 3, l.CurrentStepNumber, "step number never moves past the last step")
	assert.Equal(t, []string{"camp-1"}, completedCampaigns)
}

func TestAdvanceTwiceDoesNotDoubleAdvance(t *testing.T) {
	campaigns := newFakeCampaigns()
	campaigns.addLog(activeLog("log-1", 1, advanceNow.Add(-time.Minute)))
	campaigns.addStep(&model.StepCampaignStep{
		StepCampaignID: "camp-1", StepNumber: 2,
		DelayValue: 1, DelayUnit: model.DelayUnitHours,
		Content: stepContent("step two"),
	})
	push := &fakePush{}
	a := NewStepAdvancer(campaigns, push, zap.NewNop())

	_, err := a.Advance(context.Background(), advanceNow)
	require.NoError(t, err)
	result, err := a.Advance(context.Background(), advanceNow)
	require.NoError(t, err)

	assert.Zero(t, result.Processed, "the advanced row is no longer due")
	assert.Equal(t, 2, campaigns.logs["log-1"].CurrentStepNumber)
	assert.Len(t, push.calls, 1)
}

func TestAdvanceStaleRowLosesClaimSilently(t *testing.T) {
	campaigns := newFakeCampaigns()
	campaigns.addLog(activeLog("log-1", 2, advanceNow.Add(-time.Minute)))
	campaigns.addStep(&model.StepCampaignStep{
		StepCampaignID: "camp-1", StepNumber: 2,
		DelayValue: 1, DelayUnit: model.DelayUnitHours,
		Content: stepContent("step two"),
	})
	a := NewStepAdvancer(campaigns, &fakePush{}, zap.NewNop())

	// A concurrent advancer already moved the row from step 1 to 2; this
	// sweep still holds the stale snapshot.
	stale := activeLog("log-1", 1, advanceNow.Add(-time.Minute))
	err := a.advanceOne(context.Background(), stale, advanceNow)
	require.NoError(t, err)

	assert.Equal(t, 2, campaigns.logs["log-1"].CurrentStepNumber,
		"losing the step guard must not rewind or re-advance the row")
}

func TestAdvanceReschedulesWhenConditionFails(t *testing.T) {
	campaigns := newFakeCampaigns()
	campaigns.addLog(activeLog("log-1", 1, advanceNow.Add(-time.Minute)))
	campaigns.addStep(&model.StepCampaignStep{
		StepCampaignID: "camp-1", StepNumber: 2,
		DelayValue: 1, DelayUnit: model.DelayUnitDays,
		Content:   stepContent("gated step"),
		Condition: []byte(`{"tag":"vip"}`),
	})
	push := &fakePush{}
	a := NewStepAdvancer(campaigns, push, zap.NewNop())
	a.Condition = func(_ context.Context, _ *model.StepCampaignLog, _ *model.StepCampaignStep) (bool, error) {
		return false, nil
	}

	result, err := a.Advance(context.Background(), advanceNow)
	require.NoError(t, err)

	assert.Equal(t, 1, result.Processed)
	assert.Empty(t, push.calls, "gated content must not be sent")

	l := campaigns.logs["log-1"]
	assert.Equal(t, 1, l.CurrentStepNumber, "a failed condition never advances the step")
	assert.Equal(t, advanceNow.Add(conditionRetryDelay), l.NextSendAt)
}

func TestAdvanceSendsWhenConditionHolds(t *testing.T) {
	campaigns := newFakeCampaigns()
	campaigns.addLog(activeLog("log-1", 1, advanceNow.Add(-time.Minute)))
	campaigns.addStep(&model.StepCampaignStep{
		StepCampaignID: "camp-1", StepNumber: 2,
		DelayValue: 1, DelayUnit: model.DelayUnitDays,
		Content:   stepContent("gated step"),
		Condition: []byte(`{"tag":"vip"}`),
	})
	push := &fakePush{}
	a := NewStepAdvancer(campaigns, push, zap.NewNop())
	a.Condition = func(_ context.Context, _ *model.StepCampaignLog, _ *model.StepCampaignStep) (bool, error) {
		return true, nil
	}

	_, err := a.Advance(context.Background(), advanceNow)
	require.NoError(t, err)

	assert.Len(t, push.calls, 1)
	assert.Equal(t, 2, campaigns.logs["log-1"].CurrentStepNumber)
}

func TestAdvanceDeliveryFailureStillAdvances(t *testing.T) {
	campaigns := newFakeCampaigns()
	campaigns.addLog(activeLog("log-1", 1, advanceNow.Add(-time.Minute)))
	campaigns.addStep(&model.StepCampaignStep{
		StepCampaignID: "camp-1", StepNumber: 2,
		DelayValue: 3, DelayUnit: model.DelayUnitHours,
		Content: stepContent("step two"),
	})
	push := &fakePush{errs: map[string][]error{
		"U001": {errors.New("connection reset")},
	}}
	a := NewStepAdvancer(campaigns, push, zap.NewNop())

	result, err := a.Advance(context.Background(), advanceNow)
	require.NoError(t, err)

	assert.Equal(t, 1, result.Processed)
	assert.Equal(t, 0, result.Failed)

	l := campaigns.logs["log-1"]
	assert.Equal(t, 2, l.CurrentStepNumber, "a failed send must not stall the drip")
	assert.Equal(t, advanceNow.Add(3*time.Hour), l.NextSendAt)
}

func TestAdvanceCountsRowFailuresIndependently(t *testing.T) {
	campaigns := newFakeCampaigns()
	campaigns.addLog(activeLog("broken", 1, advanceNow.Add(-2*time.Minute)))
	campaigns.addLog(activeLog("ok", 1, advanceNow.Add(-time.Minute)))
	campaigns.addStep(&model.StepCampaignStep{
		StepCampaignID: "camp-1", StepNumber: 2,
		DelayValue: 1, DelayUnit: model.DelayUnitDays,
		Content: stepContent("step two"),
	})
	// Both logs share the campaign, so break one row by putting it on a
	// step with unparseable content.
	campaigns.logs["broken"].StepCampaignID = "camp-broken"
	campaigns.addStep(&model.StepCampaignStep{
		StepCampaignID: "camp-broken", StepNumber: 2,
		DelayValue: 1, DelayUnit: model.DelayUnitDays,
		Content: []byte(`{"type":"flex"}`),
	})
	push := &fakePush{}
	a := NewStepAdvancer(campaigns, push, zap.NewNop())

	result, err := a.Advance(context.Background(), advanceNow)
	require.NoError(t, err)

	assert.Equal(t, 1, result.Processed)
	assert.Equal(t, 1, result.Failed)
	require.Error(t, result.FailureDetails)
	assert.Contains(t, result.FailureDetails.Error(), "broken")

	assert.Equal(t, 1, campaigns.logs["broken"].CurrentStepNumber)
	assert.Equal(t, 2, campaigns.logs["ok"].CurrentStepNumber)
}
