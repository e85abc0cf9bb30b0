package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"github.com/hanamura/linebridge-backend/internal/model"
)

type ConversationRepositoryInterface interface {
	RecentHistory(ctx context.Context, friendID string, limit int) ([]*model.ConversationMessage, error)
	Append(ctx context.Context, friendID, role, content string, at time.Time) error
}

type ConversationRepository struct {
	DB *sql.DB
}

// RecentHistory returns the latest turns newest-first; the prompt
// builder trims and re-orders them.
func (r *ConversationRepository) RecentHistory(ctx context.Context, friendID string, limit int) ([]*model.ConversationMessage, error) {
	query := `
        SELECT id, friend_id, role, content, created_at
        FROM conversation_messages
        WHERE friend_id=$1
        ORDER BY created_at DESC
        LIMIT $2
    `
	rows, err := r.DB.QueryContext(ctx, query, friendID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	messages := []*model.ConversationMessage{}
	for rows.Next() {
		var m model.ConversationMessage
		if err := rows.Scan(&m.ID, &m.FriendID, &m.Role, &m.Content, &m.CreatedAt); err != nil {
			return nil, err
		}
		messages = append(messages, &m)
	}
	return messages, rows.Err()
}

func (r *ConversationRepository) Append(ctx context.Context, friendID, role, content string, at time.Time) error {
	query := `
        INSERT INTO conversation_messages (id, friend_id, role, content, created_at)
        VALUES ($1, $2, $3, $4, $5)
    `
	_, err := r.DB.ExecContext(ctx, query, uuid.NewString(), friendID, role, content, at)
	return err
}

var _ ConversationRepositoryInterface = (*ConversationRepository)(nil)
