package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/cloaktalk/cloaktalk/internal/model"
)

// OrganizationStore is the read path over organization records. Activation
// and window configuration are owned by the admin collaborator; the core
// only reads them for access snapshots.
type OrganizationStore struct {
	db *sql.DB
}

// NewOrganizationStore creates an organization store on the given handle.
func NewOrganizationStore(db *sql.DB) *OrganizationStore {
	return &OrganizationStore{db: db}
}

// Get loads an organization by ID. Returns ErrNotFound if it does not exist.
func (s *OrganizationStore) Get(ctx context.Context, orgID string) (*model.Organization, error) {
	var (
		org        model.Organization
		start, end string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, active, window_start::text, window_end::text
		FROM organizations WHERE id = $1`, orgID).
		Scan(&org.ID, &org.Name, &org.Active, &start, &end)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: get organization: %w", err)
	}

	if org.WindowStart, err = model.ParseDayTime(start); err != nil {
		return nil, err
	}
	if org.WindowEnd, err = model.ParseDayTime(end); err != nil {
		return nil, err
	}
	return &org, nil
}
