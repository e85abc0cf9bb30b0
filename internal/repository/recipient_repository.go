package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/hanamura/linebridge-backend/internal/model"
)

type RecipientRepositoryInterface interface {
	ListPending(ctx context.Context, messageID string, limit int) ([]*model.Recipient, error)
	MarkSent(ctx context.Context, id string, at time.Time) error
	MarkFailed(ctx context.Context, id, reason string) error
}

type RecipientRepository struct {
	DB *sql.DB
}

// ListPending pages pending recipients for one message in creation
// order, joined with the friend identity needed for delivery. Rows that
// were marked sent or failed fall out of the result set, so repeated
// calls with the same limit walk the remaining pending rows without an
// offset.
func (r *RecipientRepository) ListPending(ctx context.Context, messageID string, limit int) ([]*model.Recipient, error) {
	query := `
        SELECT mr.id, mr.message_id, mr.friend_id, mr.status, mr.sent_at, mr.error_message, mr.created_at,
               f.line_user_id, f.is_blocked
        FROM message_recipients mr
        JOIN friends f ON f.id = mr.friend_id
        WHERE mr.message_id=$1 AND mr.status='pending'
        ORDER BY mr.created_at ASC
        LIMIT $2
    `
	rows, err := r.DB.QueryContext(ctx, query, messageID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	recipients := []*model.Recipient{}
	for rows.Next() {
		var rec model.Recipient
		var errMsg sql.NullString
		if err := rows.Scan(
			&rec.ID, &rec.MessageID, &rec.FriendID, &rec.Status,
			&rec.SentAt, &errMsg, &rec.CreatedAt,
			&rec.LineUserID, &rec.IsBlocked,
		); err != nil {
			return nil, err
		}
		rec.ErrorMessage = errMsg.String
		recipients = append(recipients, &rec)
	}
	return recipients, rows.Err()
}

func (r *RecipientRepository) MarkSent(ctx context.Context, id string, at time.Time) error {
	query := `UPDATE message_recipients SET status='sent', sent_at=$1 WHERE id=$2 AND status='pending'`
	_, err := r.DB.ExecContext(ctx, query, at, id)
	return err
}

func (r *RecipientRepository) MarkFailed(ctx context.Context, id, reason string) error {
	query := `UPDATE message_recipients SET status='failed', error_message=$1 WHERE id=$2 AND status='pending'`
	_, err := r.DB.ExecContext(ctx, query, reason, id)
	return err
}

var _ RecipientRepositoryInterface = (*RecipientRepository)(nil)
