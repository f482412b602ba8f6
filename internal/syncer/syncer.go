// Package syncer submits batch reorders and reconciles local snapshots with
// the backend.
//
// Submission is a single request per plan, never per item, and is never
// retried. Reconciliation refetches the whole collection and replaces the
// scope's snapshot as a unit; a response that was requested before the
// current snapshot's fetch cannot overwrite it.
package syncer

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/roach88/marketadmin/internal/apperr"
	"github.com/roach88/marketadmin/internal/config"
	"github.com/roach88/marketadmin/internal/logger"
	"github.com/roach88/marketadmin/internal/ordering"
)

// API is the subset of the REST client the syncer needs.
type API interface {
	List(ctx context.Context, path string) ([]ordering.Entity, error)
	Reorder(ctx context.Context, method, path string, body any) error
}

// Cache persists snapshots across processes.
type Cache interface {
	SaveSnapshot(ctx context.Context, snap *ordering.Snapshot) error
}

// Sequencer hands out snapshot versions.
type Sequencer interface {
	Next() int64
}

type Options struct {
	API    API
	Seq    Sequencer
	Cache  Cache // optional
	Now    func() time.Time
	Logger *logger.Logger
}

type Syncer struct {
	api   API
	seq   Sequencer
	cache Cache
	now   func() time.Time
	log   *logger.Logger

	mu        sync.RWMutex
	snapshots map[string]*ordering.Snapshot
}

func New(opts Options) (*Syncer, error) {
	if opts.API == nil {
		return nil, errors.New("api required")
	}
	if opts.Seq == nil {
		return nil, errors.New("sequencer required")
	}
	s := &Syncer{
		api:       opts.API,
		seq:       opts.Seq,
		cache:     opts.Cache,
		now:       opts.Now,
		log:       opts.Logger,
		snapshots: map[string]*ordering.Snapshot{},
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.log == nil {
		s.log = logger.Nop()
	}
	return s, nil
}

type itemsBody struct {
	Items []ordering.Placement `json:"items"`
}

type idsBody struct {
	IDs []string `json:"ids"`
}

// ReorderBody renders a full assignment in the endpoint's body format.
func ReorderBody(ep config.ReorderEndpoint, a ordering.Assignment) any {
	if ep.Format == config.FormatIDs {
		return idsBody{IDs: a.IDs()}
	}
	items := make([]ordering.Placement, len(a))
	copy(items, a)
	return itemsBody{Items: items}
}

// SubmitOrder sends the assignment to the scope's reorder endpoint in one
// request. On failure nothing local changes.
func (s *Syncer) SubmitOrder(ctx context.Context, scope config.Scope, a ordering.Assignment) error {
	if len(a) == 0 {
		return nil
	}
	body := ReorderBody(scope.Reorder, a)
	if err := s.api.Reorder(ctx, scope.Reorder.Method, scope.Reorder.Path, body); err != nil {
		return annotate(err, scope.Name)
	}
	s.log.Debug("reorder submitted", "scope", scope.Name, "entities", len(a))
	return nil
}

// Refresh fetches the whole collection, sorts it by the scope's policy and
// installs it as the scope's snapshot. It returns whichever snapshot is
// current afterwards, which is newer than the fetched one if another
// refresh overtook this one.
func (s *Syncer) Refresh(ctx context.Context, scope config.Scope) (*ordering.Snapshot, error) {
	version := s.seq.Next()

	list, err := s.api.List(ctx, scope.Path)
	if err != nil {
		return nil, annotate(err, scope.Name)
	}

	snap := ordering.NewSnapshot(scope.Name, ordering.Sort(list, scope.Sort), version, s.now().UTC())
	current, installed := s.install(snap)
	if !installed {
		s.log.Debug("discarded out-of-date snapshot",
			"scope", scope.Name, "version", version, "current", current.Version())
		return current, nil
	}

	if s.cache != nil {
		if err := s.cache.SaveSnapshot(ctx, snap); err != nil {
			s.log.Warn("failed to cache snapshot", "scope", scope.Name, "error", err.Error())
		}
	}
	s.log.Debug("snapshot refreshed", "scope", scope.Name, "version", version, "entities", snap.Len())
	return snap, nil
}

// Install replaces the scope's snapshot unless the current one is newer.
// It reports whether snap was installed.
func (s *Syncer) Install(snap *ordering.Snapshot) bool {
	_, ok := s.install(snap)
	return ok
}

func (s *Syncer) install(snap *ordering.Snapshot) (*ordering.Snapshot, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, ok := s.snapshots[snap.Scope()]; ok && cur.Version() > snap.Version() {
		return cur, false
	}
	s.snapshots[snap.Scope()] = snap
	return snap, true
}

// Snapshot returns the current snapshot of scope.
func (s *Syncer) Snapshot(scope string) (*ordering.Snapshot, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap, ok := s.snapshots[scope]
	return snap, ok
}

// MarkStale flags the current snapshot of scope as outdated and returns it.
func (s *Syncer) MarkStale(ctx context.Context, scope string) (*ordering.Snapshot, bool) {
	s.mu.Lock()
	cur, ok := s.snapshots[scope]
	if ok {
		cur = cur.MarkStale()
		s.snapshots[scope] = cur
	}
	s.mu.Unlock()

	if ok && s.cache != nil {
		if err := s.cache.SaveSnapshot(ctx, cur); err != nil {
			s.log.Warn("failed to cache snapshot", "scope", scope, "error", err.Error())
		}
	}
	return cur, ok
}

func annotate(err error, scope string) error {
	var ae *apperr.Error
	if errors.As(err, &ae) {
		return ae.WithScope(scope, "")
	}
	return apperr.Transport(apperr.CodeRequestFailed, 0, err).WithScope(scope, "")
}
