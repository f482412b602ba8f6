package ordering

import "time"

// Snapshot is an immutable, disposable copy of a collection as last fetched.
// It is never patched in place; reconciliation replaces it as a whole.
type Snapshot struct {
	scope     string
	entities  []Entity
	version   int64
	fetchedAt time.Time
	stale     bool
}

// NewSnapshot builds a snapshot from entities, copying them.
func NewSnapshot(scope string, entities []Entity, version int64, fetchedAt time.Time) *Snapshot {
	return &Snapshot{
		scope:     scope,
		entities:  Clone(entities),
		version:   version,
		fetchedAt: fetchedAt,
	}
}

func (s *Snapshot) Scope() string        { return s.scope }
func (s *Snapshot) Version() int64       { return s.version }
func (s *Snapshot) FetchedAt() time.Time { return s.fetchedAt }
func (s *Snapshot) Len() int             { return len(s.entities) }

// Stale reports whether a mutation succeeded after this snapshot was taken
// but the follow-up refetch failed.
func (s *Snapshot) Stale() bool { return s.stale }

// Entities returns a copy of the snapshot's entities in display order.
func (s *Snapshot) Entities() []Entity {
	return Clone(s.entities)
}

// Entity returns a copy of the entity with id.
func (s *Snapshot) Entity(id string) (Entity, bool) {
	i := IndexOf(s.entities, id)
	if i < 0 {
		return Entity{}, false
	}
	return Clone(s.entities[i : i+1])[0], true
}

// MarkStale returns a stale copy of the snapshot.
func (s *Snapshot) MarkStale() *Snapshot {
	cp := *s
	cp.entities = Clone(s.entities)
	cp.stale = true
	return &cp
}
