// Package manager orchestrates user actions on ordered collections.
//
// Every mutating action follows the same path: claim an in-flight key,
// plan or validate against the local snapshot, submit, then reconcile by
// refetching the whole collection. The caller gets control back only after
// fresh data has landed (or the action failed).
//
// In-flight tracking is a set of (kind, scope, entity) keys: a second action
// with the same key fails fast as busy while actions on other entities
// proceed. Interleaved reorders of different entities may briefly disagree;
// the reconciliation of the later one settles the collection.
package manager

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/roach88/marketadmin/internal/apiclient"
	"github.com/roach88/marketadmin/internal/apperr"
	"github.com/roach88/marketadmin/internal/config"
	"github.com/roach88/marketadmin/internal/logger"
	"github.com/roach88/marketadmin/internal/ordering"
	"github.com/roach88/marketadmin/internal/store"
	"github.com/roach88/marketadmin/internal/syncer"
)

// API is the REST surface the manager mutates through.
type API interface {
	syncer.API
	Create(ctx context.Context, path string, in apiclient.CreateInput) (ordering.Entity, error)
	Update(ctx context.Context, itemPath string, p apiclient.Patch) error
	Delete(ctx context.Context, itemPath string) error
}

// Journal records actions and their state transitions.
type Journal interface {
	BeginAction(ctx context.Context, a store.Action) error
	UpdateActionState(ctx context.Context, id, state string, u store.ActionUpdate) error
}

// Transition is emitted on every state change of an action.
type Transition struct {
	ActionID string
	Seq      int64
	Kind     Kind
	Scope    string
	EntityID string
	From     State
	To       State
	Outcome  Outcome
	Error    string
}

type Options struct {
	Config *config.Config
	API    API

	// Cache persists refreshed snapshots. Optional.
	Cache syncer.Cache
	// Journal records actions. Optional.
	Journal Journal

	// Clock defaults to a Clock starting at zero.
	Clock syncer.Sequencer
	// IDs defaults to UUIDv7Generator.
	IDs IDGenerator
	Now func() time.Time

	Logger *logger.Logger

	// OnTransition observes every state change. Called synchronously.
	OnTransition func(Transition)
}

// Result is what a completed action hands back.
type Result struct {
	ActionID string
	// Snapshot is the reconciled snapshot, or the unchanged one for a no-op.
	Snapshot *ordering.Snapshot
	NoOp     bool
	// Entity is the backend's echo of a created member.
	Entity ordering.Entity
	Digest string
}

// Manager is safe for concurrent use.
type Manager struct {
	cfg      *config.Config
	api      API
	sync     *syncer.Syncer
	journal  Journal
	clock    syncer.Sequencer
	ids      IDGenerator
	now      func() time.Time
	log      *logger.Logger
	observe  func(Transition)
	inflight *inflight
}

func New(opts Options) (*Manager, error) {
	if opts.Config == nil {
		return nil, errors.New("config required")
	}
	if opts.API == nil {
		return nil, errors.New("api required")
	}

	m := &Manager{
		cfg:      opts.Config,
		api:      opts.API,
		journal:  opts.Journal,
		clock:    opts.Clock,
		ids:      opts.IDs,
		now:      opts.Now,
		log:      opts.Logger,
		observe:  opts.OnTransition,
		inflight: newInflight(),
	}
	if m.clock == nil {
		m.clock = NewClockAt(0)
	}
	if m.ids == nil {
		m.ids = UUIDv7Generator{}
	}
	if m.now == nil {
		m.now = time.Now
	}
	if m.log == nil {
		m.log = logger.Nop()
	}

	s, err := syncer.New(syncer.Options{
		API:    opts.API,
		Seq:    m.clock,
		Cache:  opts.Cache,
		Now:    m.now,
		Logger: m.log,
	})
	if err != nil {
		return nil, err
	}
	m.sync = s
	return m, nil
}

func (m *Manager) scope(name string) (config.Scope, error) {
	sc, ok := m.cfg.Scope(name)
	if !ok {
		return config.Scope{}, apperr.Validation(apperr.CodeUnknownScope,
			"unknown scope %q (known: %s)", name, strings.Join(m.cfg.ScopeNames(), ", ")).WithScope(name, "")
	}
	return sc, nil
}

// Load fetches the scope from the backend and installs a fresh snapshot.
func (m *Manager) Load(ctx context.Context, scope string) (*ordering.Snapshot, error) {
	sc, err := m.scope(scope)
	if err != nil {
		return nil, err
	}
	return m.sync.Refresh(ctx, sc)
}

// Snapshot returns the scope's current local snapshot without any request.
func (m *Manager) Snapshot(scope string) (*ordering.Snapshot, bool) {
	return m.sync.Snapshot(scope)
}

// InFlight reports whether an action with key is currently running.
func (m *Manager) InFlight(key Key) bool {
	return m.inflight.held(key)
}

// working returns the snapshot actions plan against, fetching it when
// missing or stale.
func (m *Manager) working(ctx context.Context, sc config.Scope) (*ordering.Snapshot, error) {
	if snap, ok := m.sync.Snapshot(sc.Name); ok && !snap.Stale() {
		return snap, nil
	}
	return m.sync.Refresh(ctx, sc)
}

// step is a validated action ready to submit.
type step struct {
	noop       bool
	assignment ordering.Assignment
	digest     string
	submit     func(ctx context.Context) error
}

type run struct {
	id       string
	seq      int64
	kind     Kind
	scope    string
	entityID string
	state    State
}

func (m *Manager) execute(
	ctx context.Context,
	kind Kind,
	sc config.Scope,
	entityID, keyID string,
	prepare func(snap *ordering.Snapshot) (step, error),
) (*Result, error) {
	key := Key{Kind: kind.keyKind(), Scope: sc.Name, EntityID: keyID}
	if err := m.inflight.claim(kind, key); err != nil {
		return nil, err
	}
	defer m.inflight.release(key)

	snap, err := m.working(ctx, sc)
	if err != nil {
		return nil, err
	}

	st, err := prepare(snap)
	if err != nil {
		return nil, scoped(err, sc.Name, entityID)
	}
	if st.noop {
		m.log.Debug("no-op action", "kind", string(kind), "scope", sc.Name, "id", entityID)
		return &Result{Snapshot: snap, NoOp: true, Digest: st.digest}, nil
	}

	r := m.begin(ctx, kind, sc.Name, entityID, st.digest)
	result := &Result{ActionID: r.id, Digest: st.digest}

	if err := st.submit(ctx); err != nil {
		err = scoped(err, sc.Name, entityID)
		m.transition(ctx, r, StateFailed, "", err)
		m.transition(ctx, r, StateIdle, OutcomeFailed, nil)
		return nil, err
	}
	m.transition(ctx, r, StateSucceeded, "", nil)
	m.transition(ctx, r, StateReconciling, "", nil)

	fresh, err := m.sync.Refresh(ctx, sc)
	if err != nil {
		err = reconcileFailed(err, entityID)
		stale, _ := m.sync.MarkStale(ctx, sc.Name)
		m.transition(ctx, r, StateIdle, OutcomeStale, err)
		result.Snapshot = stale
		return result, err
	}
	m.transition(ctx, r, StateIdle, OutcomeOK, nil)
	result.Snapshot = fresh

	if kind.reorders() && !ordering.Matches(fresh.Entities(), st.assignment) {
		m.log.Warn("collection changed concurrently, server order differs from submitted order",
			"scope", sc.Name, "action_id", r.id, "digest", st.digest)
	}
	return result, nil
}

func (m *Manager) begin(ctx context.Context, kind Kind, scope, entityID, digest string) *run {
	r := &run{
		id:       m.ids.Generate(),
		seq:      m.clock.Next(),
		kind:     kind,
		scope:    scope,
		entityID: entityID,
		state:    StateIdle,
	}
	if m.journal != nil {
		err := m.journal.BeginAction(context.WithoutCancel(ctx), store.Action{
			ID:        r.id,
			Seq:       r.seq,
			Scope:     scope,
			Kind:      string(kind),
			EntityID:  entityID,
			State:     string(StateSubmitting),
			Digest:    digest,
			CreatedAt: m.now().UTC(),
		})
		if err != nil {
			m.log.Warn("failed to journal action", "action_id", r.id, "error", err.Error())
		}
	}
	m.emit(r, StateSubmitting, "", nil)
	return r
}

func (m *Manager) transition(ctx context.Context, r *run, to State, outcome Outcome, cause error) {
	if m.journal != nil {
		u := store.ActionUpdate{Outcome: string(outcome), At: m.now().UTC()}
		if cause != nil {
			u.Error = cause.Error()
		}
		if err := m.journal.UpdateActionState(context.WithoutCancel(ctx), r.id, string(to), u); err != nil {
			m.log.Warn("failed to journal transition", "action_id", r.id, "state", string(to), "error", err.Error())
		}
	}
	m.emit(r, to, outcome, cause)
}

func (m *Manager) emit(r *run, to State, outcome Outcome, cause error) {
	from := r.state
	if !CanTransition(from, to) {
		m.log.Error("illegal action transition", "action_id", r.id, "from", string(from), "to", string(to))
	}
	r.state = to

	m.log.Debug("action transition",
		"action_id", r.id, "kind", string(r.kind), "scope", r.scope, "id", r.entityID,
		"from", string(from), "to", string(to))

	if m.observe == nil {
		return
	}
	t := Transition{
		ActionID: r.id,
		Seq:      r.seq,
		Kind:     r.kind,
		Scope:    r.scope,
		EntityID: r.entityID,
		From:     from,
		To:       to,
		Outcome:  outcome,
	}
	if cause != nil {
		t.Error = apperr.CodeOf(cause)
		if t.Error == "" {
			t.Error = cause.Error()
		}
	}
	m.observe(t)
}

func scoped(err error, scope, entityID string) error {
	var ae *apperr.Error
	if errors.As(err, &ae) {
		return ae.WithScope(scope, entityID)
	}
	return fmt.Errorf("%s: %w", scope, err)
}

// reconcileFailed re-codes a refetch transport failure. Unauthorized
// errors pass through unchanged.
func reconcileFailed(err error, entityID string) error {
	var ae *apperr.Error
	if !errors.As(err, &ae) || ae.Kind != apperr.KindTransport {
		return err
	}
	cp := ae.WithScope(ae.Scope, entityID)
	cp.Code = apperr.CodeReconcileFailed
	cp.Message = "change applied but refetch failed, snapshot is stale"
	if ae.Status != 0 {
		cp.Message = fmt.Sprintf("%s (status %d)", cp.Message, ae.Status)
	}
	return cp
}

func assignmentStep(plan ordering.Plan, submit func(ctx context.Context) error) (step, error) {
	if plan.NoOp {
		return step{noop: true}, nil
	}
	digest, err := ordering.Digest(plan.Assignment)
	if err != nil {
		return step{}, err
	}
	return step{assignment: plan.Assignment, digest: digest, submit: submit}, nil
}
