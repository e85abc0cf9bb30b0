package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/hanamura/linebridge-backend/internal/model"
)

type StepCampaignRepositoryInterface interface {
	ListDueLogs(ctx context.Context, now time.Time, limit int) ([]*model.StepCampaignLog, error)
	GetStep(ctx context.Context, campaignID string, stepNumber int) (*model.StepCampaignStep, error)
	AdvanceLog(ctx context.Context, logID string, fromStep int, nextSendAt time.Time) (bool, error)
	CompleteLog(ctx context.Context, logID string, fromStep int, at time.Time) (bool, error)
	RescheduleLog(ctx context.Context, logID string, fromStep int, at time.Time) (bool, error)
}

type StepCampaignRepository struct {
	DB *sql.DB
}

// ListDueLogs returns active progress rows whose next send time has
// arrived, joined with the friend identity for delivery.
func (r *StepCampaignRepository) ListDueLogs(ctx context.Context, now time.Time, limit int) ([]*model.StepCampaignLog, error) {
	query := `
        SELECT l.id, l.step_campaign_id, l.friend_id, l.current_step_number, l.status,
               l.next_send_at, l.completed_at, l.created_at, l.updated_at,
               f.line_user_id
        FROM step_campaign_logs l
        JOIN friends f ON f.id = l.friend_id
        WHERE l.status='active' AND l.next_send_at <= $1
        ORDER BY l.next_send_at ASC
        LIMIT $2
    `
	rows, err := r.DB.QueryContext(ctx, query, now, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	logs := []*model.StepCampaignLog{}
	for rows.Next() {
		var l model.StepCampaignLog
		if err := rows.Scan(
			&l.ID, &l.StepCampaignID, &l.FriendID, &l.CurrentStepNumber, &l.Status,
			&l.NextSendAt, &l.CompletedAt, &l.CreatedAt, &l.UpdatedAt,
			&l.LineUserID,
		); err != nil {
			return nil, err
		}
		logs = append(logs, &l)
	}
	return logs, rows.Err()
}

// GetStep returns the step definition, or nil when no such step exists
// (which is how a campaign signals its end).
func (r *StepCampaignRepository) GetStep(ctx context.Context, campaignID string, stepNumber int) (*model.StepCampaignStep, error) {
	query := `
        SELECT id, step_campaign_id, step_number, name, delay_value, delay_unit, message_content, condition
        FROM step_campaign_steps
        WHERE step_campaign_id=$1 AND step_number=$2
    `
	var s model.StepCampaignStep
	var condition sql.NullString
	err := r.DB.QueryRowContext(ctx, query, campaignID, stepNumber).Scan(
		&s.ID, &s.StepCampaignID, &s.StepNumber, &s.Name,
		&s.DelayValue, &s.DelayUnit, &s.Content, &condition,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	if condition.Valid {
		s.Condition = []byte(condition.String)
	}
	return &s, nil
}

// AdvanceLog moves a row to the next step. The fromStep guard makes the
// transition single-winner: a concurrent advancer that already moved the
// row leaves this update matching zero rows.
func (r *StepCampaignRepository) AdvanceLog(ctx context.Context, logID string, fromStep int, nextSendAt time.Time) (bool, error) {
	query := `
        UPDATE step_campaign_logs
        SET current_step_number=$1, next_send_at=$2, updated_at=NOW()
        WHERE id=$3 AND current_step_number=$4 AND status='active'
    `
	res, err := r.DB.ExecContext(ctx, query, fromStep+1, nextSendAt, logID, fromStep)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

// CompleteLog terminates a row once no further step exists.
func (r *StepCampaignRepository) CompleteLog(ctx context.Context, logID string, fromStep int, at time.Time) (bool, error) {
	query := `
        UPDATE step_campaign_logs
        SET status='completed', completed_at=$1, updated_at=$1
        WHERE id=$2 AND current_step_number=$3 AND status='active'
    `
	res, err := r.DB.ExecContext(ctx, query, at, logID, fromStep)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

// RescheduleLog pushes next_send_at forward without changing the step,
// used when a step condition does not hold yet.
func (r *StepCampaignRepository) RescheduleLog(ctx context.Context, logID string, fromStep int, at time.Time) (bool, error) {
	query := `
        UPDATE step_campaign_logs
        SET next_send_at=$1, updated_at=NOW()
        WHERE id=$2 AND current_step_number=$3 AND status='active'
    `
	res, err := r.DB.ExecContext(ctx, query, at, logID, fromStep)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

var _ StepCampaignRepositoryInterface = (*StepCampaignRepository)(nil)
