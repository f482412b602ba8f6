package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/roach88/marketadmin/internal/ordering"
)

// SaveSnapshot replaces the cached snapshot for its scope.
//
// A snapshot with a lower version than the cached one is ignored, so a slow
// refetch cannot overwrite a newer copy written by another process.
func (s *Store) SaveSnapshot(ctx context.Context, snap *ordering.Snapshot) error {
	entities, err := json.Marshal(snap.Entities())
	if err != nil {
		return fmt.Errorf("save snapshot: marshal entities: %w", err)
	}

	stale := 0
	if snap.Stale() {
		stale = 1
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO snapshots (scope, entities, version, stale, fetched_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(scope) DO UPDATE SET
			entities = excluded.entities,
			version = excluded.version,
			stale = excluded.stale,
			fetched_at = excluded.fetched_at
		WHERE excluded.version >= snapshots.version
	`, snap.Scope(), string(entities), snap.Version(), stale, snap.FetchedAt().UnixMilli())
	if err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	return nil
}

// Snapshot returns the cached snapshot for scope, or ErrNotFound.
func (s *Store) Snapshot(ctx context.Context, scope string) (*ordering.Snapshot, error) {
	var (
		raw       string
		version   int64
		stale     int
		fetchedMs int64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT entities, version, stale, fetched_at FROM snapshots WHERE scope = ?
	`, scope).Scan(&raw, &version, &stale, &fetchedMs)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read snapshot: %w", err)
	}

	var entities []ordering.Entity
	if err := json.Unmarshal([]byte(raw), &entities); err != nil {
		return nil, fmt.Errorf("read snapshot: unmarshal entities: %w", err)
	}

	snap := ordering.NewSnapshot(scope, entities, version, time.UnixMilli(fetchedMs).UTC())
	if stale == 1 {
		snap = snap.MarkStale()
	}
	return snap, nil
}
