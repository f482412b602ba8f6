package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// Action is one row of the action journal.
type Action struct {
	ID        string
	Seq       int64
	Scope     string
	Kind      string
	EntityID  string
	State     string
	Digest    string
	Error     string
	Outcome   string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// ActionUpdate carries the fields a state transition may set. Empty fields
// leave the stored value unchanged.
type ActionUpdate struct {
	Digest  string
	Error   string
	Outcome string
	At      time.Time
}

// ActionFilter narrows ListActions. A zero Limit returns every row.
type ActionFilter struct {
	Scope string
	Limit int
}

// BeginAction inserts a journal row. Uses ON CONFLICT(id) DO NOTHING so a
// retried insert of the same action is silently ignored.
func (s *Store) BeginAction(ctx context.Context, a Action) error {
	if a.ID == "" || a.Scope == "" || a.Kind == "" || a.State == "" {
		return fmt.Errorf("begin action: id, scope, kind and state are required")
	}
	if a.UpdatedAt.IsZero() {
		a.UpdatedAt = a.CreatedAt
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO actions
		(id, seq, scope, kind, entity_id, state, digest, error, outcome, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`,
		a.ID,
		a.Seq,
		a.Scope,
		a.Kind,
		a.EntityID,
		a.State,
		a.Digest,
		a.Error,
		a.Outcome,
		a.CreatedAt.UnixMilli(),
		a.UpdatedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("begin action: %w", err)
	}
	return nil
}

// UpdateActionState moves a journal row to state.
func (s *Store) UpdateActionState(ctx context.Context, id, state string, u ActionUpdate) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE actions SET
			state = ?,
			digest = CASE WHEN ? = '' THEN digest ELSE ? END,
			error = CASE WHEN ? = '' THEN error ELSE ? END,
			outcome = CASE WHEN ? = '' THEN outcome ELSE ? END,
			updated_at = ?
		WHERE id = ?
	`,
		state,
		u.Digest, u.Digest,
		u.Error, u.Error,
		u.Outcome, u.Outcome,
		u.At.UnixMilli(),
		id,
	)
	if err != nil {
		return fmt.Errorf("update action %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update action %s: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("update action %s: %w", id, ErrNotFound)
	}
	return nil
}

// ListActions returns journal rows ordered by seq ASC, id ASC COLLATE BINARY.
// With a limit, the most recent rows are returned, still in ascending order.
//
// Returns an empty slice (not nil) if nothing matches.
func (s *Store) ListActions(ctx context.Context, f ActionFilter) ([]Action, error) {
	var (
		where []string
		args  []any
	)
	if f.Scope != "" {
		where = append(where, "scope = ?")
		args = append(args, f.Scope)
	}

	inner := `
		SELECT id, seq, scope, kind, entity_id, state, digest, error, outcome, created_at, updated_at
		FROM actions`
	if len(where) > 0 {
		inner += " WHERE " + strings.Join(where, " AND ")
	}

	query := inner + " ORDER BY seq ASC, id COLLATE BINARY ASC"
	if f.Limit > 0 {
		query = "SELECT * FROM (" + inner +
			" ORDER BY seq DESC, id COLLATE BINARY DESC LIMIT ?) ORDER BY seq ASC, id COLLATE BINARY ASC"
		args = append(args, f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query actions: %w", err)
	}
	defer rows.Close()

	actions := []Action{}
	for rows.Next() {
		a, err := scanAction(rows)
		if err != nil {
			return nil, err
		}
		actions = append(actions, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate actions: %w", err)
	}
	return actions, nil
}

// MaxActionSeq returns the highest journalled seq, or 0 for an empty journal.
func (s *Store) MaxActionSeq(ctx context.Context) (int64, error) {
	var seq sql.NullInt64
	if err := s.db.QueryRowContext(ctx, `SELECT MAX(seq) FROM actions`).Scan(&seq); err != nil {
		return 0, fmt.Errorf("max action seq: %w", err)
	}
	return seq.Int64, nil
}

func scanAction(rows *sql.Rows) (Action, error) {
	var (
		a                  Action
		createdMs, updated int64
	)
	if err := rows.Scan(
		&a.ID, &a.Seq, &a.Scope, &a.Kind, &a.EntityID, &a.State,
		&a.Digest, &a.Error, &a.Outcome, &createdMs, &updated,
	); err != nil {
		return Action{}, fmt.Errorf("scan action: %w", err)
	}
	a.CreatedAt = time.UnixMilli(createdMs).UTC()
	a.UpdatedAt = time.UnixMilli(updated).UTC()
	return a, nil
}

// ResumeSeq returns the highest logical seq recorded anywhere in the store:
// journalled actions and cached snapshot versions share one clock.
func (s *Store) ResumeSeq(ctx context.Context) (int64, error) {
	var seq sql.NullInt64
	if err := s.db.QueryRowContext(ctx, `
		SELECT MAX(seq) FROM (
			SELECT MAX(seq) AS seq FROM actions
			UNION ALL
			SELECT MAX(version) AS seq FROM snapshots
		)
	`).Scan(&seq); err != nil {
		return 0, fmt.Errorf("resume seq: %w", err)
	}
	return seq.Int64, nil
}
