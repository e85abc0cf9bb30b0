package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/hanamura/linebridge-backend/internal/model"
)

type FriendRepositoryInterface interface {
	GetByLineUserID(ctx context.Context, orgID, lineUserID string) (*model.Friend, error)
	UpsertOnFollow(ctx context.Context, orgID, lineUserID string) (*model.Friend, error)
	MarkBlocked(ctx context.Context, orgID, lineUserID string, blocked bool) error
	TouchInteraction(ctx context.Context, id string, at time.Time) error
}

type FriendRepository struct {
	DB *sql.DB
}

// GetByLineUserID looks up a friend within one organization. Not found
// is nil, nil.
func (r *FriendRepository) GetByLineUserID(ctx context.Context, orgID, lineUserID string) (*model.Friend, error) {
	query := `
        SELECT f.id, f.organization_id, f.line_user_id, f.display_name, f.custom_fields,
               f.is_blocked, f.last_interaction_at, f.created_at, f.updated_at,
               COALESCE(array_agg(t.name) FILTER (WHERE t.name IS NOT NULL), '{}')
        FROM friends f
        LEFT JOIN friend_tags ft ON ft.friend_id = f.id
        LEFT JOIN tags t ON t.id = ft.tag_id
        WHERE f.organization_id=$1 AND f.line_user_id=$2
        GROUP BY f.id
    `
	var f model.Friend
	var customFields []byte
	var tags pq.StringArray
	err := r.DB.QueryRowContext(ctx, query, orgID, lineUserID).Scan(
		&f.ID, &f.OrganizationID, &f.LineUserID, &f.DisplayName, &customFields,
		&f.IsBlocked, &f.LastInteractionAt, &f.CreatedAt, &f.UpdatedAt,
		&tags,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	if len(customFields) > 0 {
		if err := json.Unmarshal(customFields, &f.CustomFields); err != nil {
			return nil, err
		}
	}
	f.Tags = []string(tags)
	return &f, nil
}

// UpsertOnFollow creates the friend on first follow and clears the
// blocked flag on a re-follow.
func (r *FriendRepository) UpsertOnFollow(ctx context.Context, orgID, lineUserID string) (*model.Friend, error) {
	query := `
        INSERT INTO friends (id, organization_id, line_user_id, is_blocked, created_at, updated_at)
        VALUES ($1, $2, $3, false, NOW(), NOW())
        ON CONFLICT (organization_id, line_user_id)
        DO UPDATE SET is_blocked=false, updated_at=NOW()
        RETURNING id, organization_id, line_user_id, display_name, is_blocked, last_interaction_at, created_at, updated_at
    `
	var f model.Friend
	err := r.DB.QueryRowContext(ctx, query, uuid.NewString(), orgID, lineUserID).Scan(
		&f.ID, &f.OrganizationID, &f.LineUserID, &f.DisplayName,
		&f.IsBlocked, &f.LastInteractionAt, &f.CreatedAt, &f.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &f, nil
}

func (r *FriendRepository) MarkBlocked(ctx context.Context, orgID, lineUserID string, blocked bool) error {
	query := `UPDATE friends SET is_blocked=$1, updated_at=NOW() WHERE organization_id=$2 AND line_user_id=$3`
	_, err := r.DB.ExecContext(ctx, query, blocked, orgID, lineUserID)
	return err
}

func (r *FriendRepository) TouchInteraction(ctx context.Context, id string, at time.Time) error {
	query := `UPDATE friends SET last_interaction_at=$1, updated_at=$1 WHERE id=$2`
	_, err := r.DB.ExecContext(ctx, query, at, id)
	return err
}

var _ FriendRepositoryInterface = (*FriendRepository)(nil)
