package repository

import (
	"context"
	"database/sql"
	"time"

	appErrors "github.com/hanamura/linebridge-backend/internal/errors"
	"github.com/hanamura/linebridge-backend/internal/model"
)

type MessageRepositoryInterface interface {
	GetByID(ctx context.Context, id string) (*model.OutboundMessage, error)
	ListDue(ctx context.Context, now time.Time, limit int) ([]*model.OutboundMessage, error)
	MarkSending(ctx context.Context, id string, at time.Time) (bool, error)
	Finalize(ctx context.Context, id string, status model.MessageStatus, sentCount, errorCount int, at time.Time) error
	MarkFailed(ctx context.Context, id string) error
	Cancel(ctx context.Context, id string) (bool, error)
	Delete(ctx context.Context, id string) (bool, error)
}

type MessageRepository struct {
	DB *sql.DB
}

const messageColumns = `id, organization_id, status, content, scheduled_at, sent_at, completed_at, sent_count, error_count, created_at, updated_at`

func scanMessage(row *sql.Row) (*model.OutboundMessage, error) {
	var m model.OutboundMessage
	err := row.Scan(
		&m.ID, &m.OrganizationID, &m.Status, &m.Content,
		&m.ScheduledAt, &m.SentAt, &m.CompletedAt,
		&m.SentCount, &m.ErrorCount, &m.CreatedAt, &m.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func (r *MessageRepository) GetByID(ctx context.Context, id string) (*model.OutboundMessage, error) {
	query := `SELECT ` + messageColumns + ` FROM messages WHERE id=$1`
	m, err := scanMessage(r.DB.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, appErrors.NewMessageNotFound(id)
	}
	return m, err
}

// ListDue returns scheduled messages whose send time has arrived,
// oldest first, capped so one sweep stays bounded.
func (r *MessageRepository) ListDue(ctx context.Context, now time.Time, limit int) ([]*model.OutboundMessage, error) {
	query := `
        SELECT ` + messageColumns + `
        FROM messages
        WHERE status='scheduled' AND scheduled_at <= $1
        ORDER BY scheduled_at ASC
        LIMIT $2
    `
	rows, err := r.DB.QueryContext(ctx, query, now, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	messages := []*model.OutboundMessage{}
	for rows.Next() {
		var m model.OutboundMessage
		if err := rows.Scan(
			&m.ID, &m.OrganizationID, &m.Status, &m.Content,
			&m.ScheduledAt, &m.SentAt, &m.CompletedAt,
			&m.SentCount, &m.ErrorCount, &m.CreatedAt, &m.UpdatedAt,
		); err != nil {
			return nil, err
		}
		messages = append(messages, &m)
	}
	return messages, rows.Err()
}

// MarkSending claims a message for delivery. The conditional update is
// the concurrency guard: of two sweeps racing on the same row, exactly
// one sees a row claimed here.
func (r *MessageRepository) MarkSending(ctx context.Context, id string, at time.Time) (bool, error) {
	query := `
        UPDATE messages
        SET status='sending', sent_at=$1, updated_at=$1
        WHERE id=$2 AND status IN ('draft', 'scheduled')
    `
	res, err := r.DB.ExecContext(ctx, query, at, id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

func (r *MessageRepository) Finalize(ctx context.Context, id string, status model.MessageStatus, sentCount, errorCount int, at time.Time) error {
	query := `
        UPDATE messages
        SET status=$1, sent_count=$2, error_count=$3, completed_at=$4, updated_at=$4
        WHERE id=$5 AND status='sending'
    `
	_, err := r.DB.ExecContext(ctx, query, status, sentCount, errorCount, at, id)
	return err
}

// MarkFailed records an invocation-level failure so the message does not
// sit in scheduled forever.
func (r *MessageRepository) MarkFailed(ctx context.Context, id string) error {
	query := `UPDATE messages SET status='failed', updated_at=NOW() WHERE id=$1 AND status NOT IN ('completed', 'cancelled')`
	_, err := r.DB.ExecContext(ctx, query, id)
	return err
}

// Cancel succeeds only while the message is still scheduled.
func (r *MessageRepository) Cancel(ctx context.Context, id string) (bool, error) {
	query := `UPDATE messages SET status='cancelled', updated_at=NOW() WHERE id=$1 AND status='scheduled'`
	res, err := r.DB.ExecContext(ctx, query, id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

// Delete removes a message; only drafts may be deleted.
func (r *MessageRepository) Delete(ctx context.Context, id string) (bool, error) {
	query := `DELETE FROM messages WHERE id=$1 AND status='draft'`
	res, err := r.DB.ExecContext(ctx, query, id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

var _ MessageRepositoryInterface = (*MessageRepository)(nil)
