package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/cloaktalk/cloaktalk/internal/model"
)

// WaitingListStore manages the durable matchmaking queue. Each row is one
// (user, scope) entry; uniqueness is enforced by partial unique indexes so
// concurrent joins collapse into a single entry.
type WaitingListStore struct {
	db *sql.DB
}

// NewWaitingListStore creates a waiting list store on the given handle.
func NewWaitingListStore(db *sql.DB) *WaitingListStore {
	return &WaitingListStore{db: db}
}

// Add enqueues a user under the given scope. Returns false if an entry for
// that (user, scope) pair already exists (get-or-create semantics).
func (s *WaitingListStore) Add(ctx context.Context, userID string, scope model.Scope) (bool, error) {
	const query = `
		INSERT INTO waiting_list (user_id, organization_id)
		VALUES ($1, $2)
		ON CONFLICT DO NOTHING`

	res, err := s.db.ExecContext(ctx, query, userID, scope.OrgID())
	if err != nil {
		return false, fmt.Errorf("store: add waiting entry: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("store: add waiting entry: %w", err)
	}
	return n > 0, nil
}

// Remove dequeues a user. With a scope it removes only that scope's entry;
// with a nil scope it removes the user's entries across all scopes. Returns
// whether anything was actually removed.
func (s *WaitingListStore) Remove(ctx context.Context, userID string, scope *model.Scope) (bool, error) {
	var (
		res sql.Result
		err error
	)
	if scope == nil {
		res, err = s.db.ExecContext(ctx,
			`DELETE FROM waiting_list WHERE user_id = $1`, userID)
	} else if orgID := scope.OrgID(); orgID == nil {
		res, err = s.db.ExecContext(ctx,
			`DELETE FROM waiting_list WHERE user_id = $1 AND organization_id IS NULL`, userID)
	} else {
		res, err = s.db.ExecContext(ctx,
			`DELETE FROM waiting_list WHERE user_id = $1 AND organization_id = $2`, userID, *orgID)
	}
	if err != nil {
		return false, fmt.Errorf("store: remove waiting entry: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("store: remove waiting entry: %w", err)
	}
	return n > 0, nil
}

// Pool returns the waiting entries eligible for matching under the given
// scope, oldest first. For an organization scope with includeCrossScope set,
// service-account entries from any scope join the pool. For the service
// scope with includeCrossScope set, every waiting entry joins one merged
// pool, since service accounts may pair with users from any organization.
func (s *WaitingListStore) Pool(ctx context.Context, scope model.Scope, includeCrossScope bool) ([]model.WaitingEntry, error) {
	const base = `
		SELECT w.user_id, w.organization_id, u.service_account, w.created_at
		FROM waiting_list w
		JOIN users u ON u.id = w.user_id`

	var (
		rows *sql.Rows
		err  error
	)
	switch {
	case scope.IsService() && includeCrossScope:
		rows, err = s.db.QueryContext(ctx, base+`
			ORDER BY w.created_at, w.id`)
	case scope.IsService():
		rows, err = s.db.QueryContext(ctx, base+`
			WHERE u.service_account
			ORDER BY w.created_at, w.id`)
	case includeCrossScope:
		rows, err = s.db.QueryContext(ctx, base+`
			WHERE w.organization_id = $1 OR u.service_account
			ORDER BY w.created_at, w.id`, string(scope))
	default:
		rows, err = s.db.QueryContext(ctx, base+`
			WHERE w.organization_id = $1
			ORDER BY w.created_at, w.id`, string(scope))
	}
	if err != nil {
		return nil, fmt.Errorf("store: load waiting pool: %w", err)
	}
	defer rows.Close()

	var pool []model.WaitingEntry
	for rows.Next() {
		var (
			entry model.WaitingEntry
			orgID sql.NullString
		)
		if err := rows.Scan(&entry.UserID, &orgID, &entry.ServiceAccount, &entry.CreatedAt); err != nil {
			return nil, fmt.Errorf("store: scan waiting entry: %w", err)
		}
		if orgID.Valid {
			entry.OrganizationID = &orgID.String
		}
		pool = append(pool, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: iterate waiting pool: %w", err)
	}
	return pool, nil
}

// Exists reports whether the user has a waiting entry under any scope.
func (s *WaitingListStore) Exists(ctx context.Context, userID string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM waiting_list WHERE user_id = $1)`, userID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("store: waiting entry exists: %w", err)
	}
	return exists, nil
}

// Count returns the number of entries waiting under the given scope.
func (s *WaitingListStore) Count(ctx context.Context, scope model.Scope) (int, error) {
	var (
		count int
		err   error
	)
	if orgID := scope.OrgID(); orgID == nil {
		err = s.db.QueryRowContext(ctx, `
			SELECT COUNT(*) FROM waiting_list w
			JOIN users u ON u.id = w.user_id
			WHERE u.service_account`).Scan(&count)
	} else {
		err = s.db.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM waiting_list WHERE organization_id = $1`, *orgID).Scan(&count)
	}
	if err != nil {
		return 0, fmt.Errorf("store: count waiting entries: %w", err)
	}
	return count, nil
}

// Clear deletes every waiting entry. Used by the sweeper at window close.
func (s *WaitingListStore) Clear(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM waiting_list`)
	if err != nil {
		return 0, fmt.Errorf("store: clear waiting list: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("store: clear waiting list: %w", err)
	}
	return n, nil
}
