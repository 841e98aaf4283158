package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/cloaktalk/cloaktalk/internal/model"
)

// UserStore is the read path over identity records provisioned by the
// accounts collaborator. The core never creates or mutates users.
type UserStore struct {
	db *sql.DB
}

// NewUserStore creates a user store on the given handle.
func NewUserStore(db *sql.DB) *UserStore {
	return &UserStore{db: db}
}

// Get loads a user by ID. Returns ErrNotFound if it does not exist.
func (s *UserStore) Get(ctx context.Context, userID string) (*model.User, error) {
	var (
		user  model.User
		orgID sql.NullString
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, organization_id, service_account, display_name, created_at
		FROM users WHERE id = $1`, userID).
		Scan(&user.ID, &orgID, &user.ServiceAccount, &user.DisplayName, &user.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: get user: %w", err)
	}
	if orgID.Valid {
		user.OrganizationID = &orgID.String
	}
	return &user, nil
}

// CountByOrganization returns the number of registered users in an
// organization, for activity broadcasts.
func (s *UserStore) CountByOrganization(ctx context.Context, orgID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM users WHERE organization_id = $1`, orgID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("store: count users: %w", err)
	}
	return count, nil
}
