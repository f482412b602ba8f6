package manager

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/marketadmin/internal/apiclient"
	"github.com/roach88/marketadmin/internal/apperr"
	"github.com/roach88/marketadmin/internal/config"
	"github.com/roach88/marketadmin/internal/logger"
	"github.com/roach88/marketadmin/internal/ordering"
	"github.com/roach88/marketadmin/internal/sandbox"
	"github.com/roach88/marketadmin/internal/store"
	"github.com/roach88/marketadmin/internal/testutil"
)

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

type fixture struct {
	srv   *sandbox.Server
	store *store.Store
	mgr   *Manager
	logs  *syncBuffer

	mu          sync.Mutex
	transitions []Transition
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	cfg := config.Defaults()

	srv, err := sandbox.New(sandbox.Options{Scopes: sandbox.ScopesFromConfig(cfg)})
	require.NoError(t, err)
	t.Cleanup(func() { srv.Close() })
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	st, err := store.Open(filepath.Join(t.TempDir(), "state.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	token, err := srv.IssueToken("staff@example.com")
	require.NoError(t, err)
	_, err = st.SaveSession(ctx, token, time.Now())
	require.NoError(t, err)

	client, err := apiclient.New(apiclient.Options{BaseURL: ts.URL, Session: st})
	require.NoError(t, err)

	f := &fixture{srv: srv, store: st, logs: &syncBuffer{}}
	log, err := logger.New(logger.Options{Mode: "prod", Level: "debug", Output: f.logs})
	require.NoError(t, err)

	f.mgr, err = New(Options{
		Config:  cfg,
		API:     client,
		Cache:   st,
		Journal: st,
		Clock:   testutil.NewDeterministicClock(),
		IDs:     testutil.NewSequentialIDs("act"),
		Now:     testutil.FrozenTime(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)),
		Logger:  log,
		OnTransition: func(tr Transition) {
			f.mu.Lock()
			defer f.mu.Unlock()
			f.transitions = append(f.transitions, tr)
		},
	})
	require.NoError(t, err)
	return f
}

func (f *fixture) seedCategories(t *testing.T) {
	t.Helper()
	require.NoError(t, f.srv.Seed(context.Background(), "categories", []ordering.Entity{
		{ID: "a", Name: "Apparel", Order: 0},
		{ID: "b", Name: "Books", Order: 1},
		{ID: "c", Name: "Cameras", Order: 2},
	}))
}

func (f *fixture) seedBanners(t *testing.T) {
	t.Helper()
	require.NoError(t, f.srv.Seed(context.Background(), "banners", []ordering.Entity{
		{ID: "A", Name: "Spring", Order: 0, IsActive: ordering.Bool(true)},
		{ID: "B", Name: "Summer", Order: 1, IsActive: ordering.Bool(true)},
		{ID: "C", Name: "Autumn", Order: 2, IsActive: ordering.Bool(true)},
		{ID: "D", Name: "Winter", Order: 3, IsActive: ordering.Bool(true)},
		{ID: "E", Name: "Holiday", Order: 4, IsActive: ordering.Bool(false)},
	}))
}

// load fetches scope and clears the request log.
func (f *fixture) load(t *testing.T, scope string) *ordering.Snapshot {
	t.Helper()
	snap, err := f.mgr.Load(context.Background(), scope)
	require.NoError(t, err)
	f.srv.ResetRequests()
	return snap
}

func (f *fixture) requests() []string {
	var out []string
	for _, r := range f.srv.Requests() {
		out = append(out, r.Method+" "+r.Path)
	}
	return out
}

func (f *fixture) states() []State {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []State
	for _, tr := range f.transitions {
		out = append(out, tr.To)
	}
	return out
}

func (f *fixture) journal(t *testing.T) []store.Action {
	t.Helper()
	actions, err := f.store.ListActions(context.Background(), store.ActionFilter{})
	require.NoError(t, err)
	return actions
}

func ids(list []ordering.Entity) []string {
	out := make([]string, len(list))
	for i, e := range list {
		out[i] = e.ID
	}
	return out
}

func orders(list []ordering.Entity) []int {
	out := make([]int, len(list))
	for i, e := range list {
		out[i] = e.Order
	}
	return out
}

func TestNew_RequiresConfigAndAPI(t *testing.T) {
	_, err := New(Options{})
	assert.Error(t, err)
	_, err = New(Options{Config: config.Defaults()})
	assert.Error(t, err)
}

func TestUnknownScope(t *testing.T) {
	f := newFixture(t)
	_, err := f.mgr.MoveUp(context.Background(), "brands", "x")
	require.Error(t, err)
	assert.Equal(t, apperr.CodeUnknownScope, apperr.CodeOf(err))
	assert.Empty(t, f.srv.Requests())
}

func TestLoad_SortsAndCaches(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.srv.Seed(context.Background(), "categories", []ordering.Entity{
		{ID: "x", Name: "Zebra", Order: 0},
		{ID: "y", Name: "Apple", Order: 0},
	}))

	snap, err := f.mgr.Load(context.Background(), "categories")
	require.NoError(t, err)
	assert.Equal(t, []string{"y", "x"}, ids(snap.Entities()))

	local, ok := f.mgr.Snapshot("categories")
	require.True(t, ok)
	assert.Same(t, snap, local)

	cached, err := f.store.Snapshot(context.Background(), "categories")
	require.NoError(t, err)
	assert.Equal(t, snap.Version(), cached.Version())
}

func TestMoveUp_SubmitsOnceAndReconciles(t *testing.T) {
	f := newFixture(t)
	f.seedCategories(t)
	f.load(t, "categories")

	res, err := f.mgr.MoveUp(context.Background(), "categories", "c")
	require.NoError(t, err)
	assert.False(t, res.NoOp)
	assert.Equal(t, "act-0001", res.ActionID)
	assert.NotEmpty(t, res.Digest)

	assert.Equal(t, []string{"PUT /categories/reorder", "GET /categories"}, f.requests())
	assert.Equal(t, []string{"a", "c", "b"}, ids(res.Snapshot.Entities()))
	assert.Equal(t, []int{0, 1, 2}, orders(res.Snapshot.Entities()))
	assert.Equal(t, []State{StateSubmitting, StateSucceeded, StateReconciling, StateIdle}, f.states())

	actions := f.journal(t)
	require.Len(t, actions, 1)
	assert.Equal(t, "move_up", actions[0].Kind)
	assert.Equal(t, "c", actions[0].EntityID)
	assert.Equal(t, "idle", actions[0].State)
	assert.Equal(t, "ok", actions[0].Outcome)
	assert.Equal(t, res.Digest, actions[0].Digest)
	assert.Less(t, actions[0].Seq, res.Snapshot.Version())
}

func TestMove_LoadsMissingSnapshot(t *testing.T) {
	f := newFixture(t)
	f.seedCategories(t)

	_, err := f.mgr.MoveDown(context.Background(), "categories", "a")
	require.NoError(t, err)
	assert.Equal(t, []string{"GET /categories", "PUT /categories/reorder", "GET /categories"}, f.requests())
}

func TestMove_BoundaryIsNoOp(t *testing.T) {
	tests := []struct {
		name string
		move func(m *Manager) (*Result, error)
	}{
		{"first up", func(m *Manager) (*Result, error) { return m.MoveUp(context.Background(), "categories", "a") }},
		{"last down", func(m *Manager) (*Result, error) { return m.MoveDown(context.Background(), "categories", "c") }},
		{"same index", func(m *Manager) (*Result, error) { return m.MoveTo(context.Background(), "categories", "b", 1) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.seedCategories(t)
			before := f.load(t, "categories")

			res, err := tt.move(f.mgr)
			require.NoError(t, err)
			assert.True(t, res.NoOp)
			assert.Same(t, before, res.Snapshot)
			assert.Empty(t, f.srv.Requests())
			assert.Empty(t, f.journal(t))
			assert.Empty(t, f.states())
		})
	}
}

func TestMoveTo(t *testing.T) {
	f := newFixture(t)
	f.seedCategories(t)
	f.load(t, "categories")

	res, err := f.mgr.MoveTo(context.Background(), "categories", "a", 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "c", "a"}, ids(res.Snapshot.Entities()))

	_, err = f.mgr.MoveTo(context.Background(), "categories", "a", 7)
	assert.Equal(t, apperr.CodeInvalidIndex, apperr.CodeOf(err))
}

func TestReorder_RoundTripMatchesAssignment(t *testing.T) {
	f := newFixture(t)
	f.seedCategories(t)
	f.load(t, "categories")

	res, err := f.mgr.Reorder(context.Background(), "categories", []string{"c", "a", "b"})
	require.NoError(t, err)

	want := ordering.Assignment{{ID: "c", Order: 0}, {ID: "a", Order: 1}, {ID: "b", Order: 2}}
	assert.True(t, ordering.Matches(res.Snapshot.Entities(), want))

	server, err := f.srv.Entities(context.Background(), "categories")
	require.NoError(t, err)
	assert.True(t, ordering.Matches(server, want))
	assert.NotContains(t, f.logs.String(), "server order differs")
}

func TestReorder_InvalidSequenceSendsNothing(t *testing.T) {
	f := newFixture(t)
	f.seedCategories(t)
	f.load(t, "categories")

	tests := []struct {
		name string
		ids  []string
	}{
		{"short", []string{"a", "b"}},
		{"duplicate", []string{"a", "a", "b"}},
		{"unknown", []string{"a", "b", "z"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.mgr.Reorder(context.Background(), "categories", tt.ids)
			require.Error(t, err)
			assert.True(t, apperr.IsValidation(err))
			assert.Equal(t, apperr.CodeInvalidSequence, apperr.CodeOf(err))
		})
	}
	assert.Empty(t, f.srv.Requests())
	assert.Empty(t, f.journal(t))
}

func TestResequence_ClosesGaps(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.srv.Seed(context.Background(), "categories", []ordering.Entity{
		{ID: "a", Name: "Apparel", Order: 0},
		{ID: "b", Name: "Books", Order: 5},
		{ID: "c", Name: "Cameras", Order: 5},
	}))
	f.load(t, "categories")

	res, err := f.mgr.Resequence(context.Background(), "categories")
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, ids(res.Snapshot.Entities()))
	assert.Equal(t, []int{0, 1, 2}, orders(res.Snapshot.Entities()))

	res, err = f.mgr.Resequence(context.Background(), "categories")
	require.NoError(t, err)
	assert.True(t, res.NoOp)
}

func TestActivate_CapReachedSendsNoPatch(t *testing.T) {
	f := newFixture(t)
	f.seedBanners(t)
	f.load(t, "banners")

	_, err := f.mgr.Activate(context.Background(), "banners", "E")
	require.Error(t, err)
	assert.Equal(t, apperr.CodeActiveCapReached, apperr.CodeOf(err))
	assert.Empty(t, f.srv.Requests())

	server, err := f.srv.Entities(context.Background(), "banners")
	require.NoError(t, err)
	for _, e := range server {
		if e.ID == "E" {
			assert.False(t, e.Active())
		}
	}
	snap, _ := f.mgr.Snapshot("banners")
	e, _ := snap.Entity("E")
	assert.False(t, e.Active())
}

func TestActivateDeactivateToggle(t *testing.T) {
	f := newFixture(t)
	f.seedBanners(t)
	f.load(t, "banners")
	ctx := context.Background()

	res, err := f.mgr.Deactivate(ctx, "banners", "A")
	require.NoError(t, err)
	a, _ := res.Snapshot.Entity("A")
	assert.False(t, a.Active())

	res, err = f.mgr.Activate(ctx, "banners", "E")
	require.NoError(t, err)
	e, _ := res.Snapshot.Entity("E")
	assert.True(t, e.Active())

	res, err = f.mgr.Activate(ctx, "banners", "E")
	require.NoError(t, err)
	assert.True(t, res.NoOp)

	res, err = f.mgr.Toggle(ctx, "banners", "E")
	require.NoError(t, err)
	e, _ = res.Snapshot.Entity("E")
	assert.False(t, e.Active())

	_, err = f.mgr.Toggle(ctx, "banners", "missing")
	assert.True(t, apperr.IsNotFound(err))
}

func TestCreate(t *testing.T) {
	f := newFixture(t)
	f.seedBanners(t)
	f.load(t, "banners")
	ctx := context.Background()

	_, err := f.mgr.Create(ctx, "banners", CreateInput{Name: "  "})
	assert.Equal(t, apperr.CodeMissingField, apperr.CodeOf(err))

	_, err = f.mgr.Create(ctx, "banners", CreateInput{Name: "Flash", Active: ordering.Bool(true)})
	assert.Equal(t, apperr.CodeActiveCapReached, apperr.CodeOf(err))
	assert.Empty(t, f.srv.Requests())

	res, err := f.mgr.Create(ctx, "banners", CreateInput{Name: "Flash"})
	require.NoError(t, err)
	require.NotEmpty(t, res.Entity.ID)
	assert.Equal(t, "Flash", res.Entity.Name)
	assert.Equal(t, 5, res.Entity.Order)

	got, ok := res.Snapshot.Entity(res.Entity.ID)
	require.True(t, ok)
	assert.Equal(t, 5, got.Order)
	assert.Equal(t, 6, res.Snapshot.Len())
}

func TestUpdate(t *testing.T) {
	f := newFixture(t)
	f.seedBanners(t)
	f.load(t, "banners")
	ctx := context.Background()
	empty := ""
	name := "Black Friday"

	_, err := f.mgr.Update(ctx, "banners", "E", UpdateInput{})
	assert.Equal(t, apperr.CodeMissingField, apperr.CodeOf(err))

	_, err = f.mgr.Update(ctx, "banners", "E", UpdateInput{Name: &empty})
	assert.Equal(t, apperr.CodeMissingField, apperr.CodeOf(err))

	_, err = f.mgr.Update(ctx, "banners", "missing", UpdateInput{Name: &name})
	assert.True(t, apperr.IsNotFound(err))

	_, err = f.mgr.Update(ctx, "banners", "E", UpdateInput{Active: ordering.Bool(true)})
	assert.Equal(t, apperr.CodeActiveCapReached, apperr.CodeOf(err))
	assert.Empty(t, f.srv.Requests())

	// Saving an already active banner does not count against itself.
	res, err := f.mgr.Update(ctx, "banners", "A", UpdateInput{Name: &name, Active: ordering.Bool(true)})
	require.NoError(t, err)
	a, _ := res.Snapshot.Entity("A")
	assert.Equal(t, "Black Friday", a.Name)
	assert.True(t, a.Active())
}

func TestDelete(t *testing.T) {
	f := newFixture(t)
	f.seedCategories(t)
	f.load(t, "categories")

	_, err := f.mgr.Delete(context.Background(), "categories", "missing")
	assert.True(t, apperr.IsNotFound(err))
	assert.Empty(t, f.srv.Requests())

	res, err := f.mgr.Delete(context.Background(), "categories", "b")
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "c"}, ids(res.Snapshot.Entities()))
}

func TestSubmitFailure_KeepsSnapshot(t *testing.T) {
	f := newFixture(t)
	f.seedCategories(t)
	before := f.load(t, "categories")
	f.srv.FailNext(http.MethodPut, "/categories/reorder", http.StatusInternalServerError)

	_, err := f.mgr.MoveUp(context.Background(), "categories", "b")
	require.Error(t, err)
	assert.True(t, apperr.IsTransport(err))
	assert.Equal(t, http.StatusInternalServerError, apperr.StatusOf(err))

	after, _ := f.mgr.Snapshot("categories")
	assert.Same(t, before, after)
	assert.Equal(t, []string{"PUT /categories/reorder"}, f.requests(), "no retry, no refetch")
	assert.Equal(t, []State{StateSubmitting, StateFailed, StateIdle}, f.states())

	actions := f.journal(t)
	require.Len(t, actions, 1)
	assert.Equal(t, "failed", actions[0].Outcome)
	assert.Contains(t, actions[0].Error, "500")
}

func TestReconcileFailure_MarksStale(t *testing.T) {
	f := newFixture(t)
	f.seedCategories(t)
	f.load(t, "categories")
	f.srv.FailNext(http.MethodGet, "/categories", http.StatusServiceUnavailable)

	res, err := f.mgr.MoveDown(context.Background(), "categories", "a")
	require.Error(t, err)
	assert.Equal(t, apperr.CodeReconcileFailed, apperr.CodeOf(err))
	assert.Equal(t, http.StatusServiceUnavailable, apperr.StatusOf(err))
	require.NotNil(t, res)
	assert.True(t, res.Snapshot.Stale())

	actions := f.journal(t)
	require.Len(t, actions, 1)
	assert.Equal(t, "stale", actions[0].Outcome)

	cached, err := f.store.Snapshot(context.Background(), "categories")
	require.NoError(t, err)
	assert.True(t, cached.Stale())

	// The next action refetches before planning.
	f.srv.ResetRequests()
	res, err = f.mgr.MoveDown(context.Background(), "categories", "a")
	require.NoError(t, err)
	assert.Equal(t, []string{"GET /categories", "PUT /categories/reorder", "GET /categories"}, f.requests())
	assert.Equal(t, []string{"b", "c", "a"}, ids(res.Snapshot.Entities()))
	assert.False(t, res.Snapshot.Stale())
}

func TestBusyKey_OtherEntitiesProceed(t *testing.T) {
	f := newFixture(t)
	f.seedCategories(t)
	f.load(t, "categories")
	ctx := context.Background()

	var (
		busyErr   error
		otherErr  error
		wasHeld   bool
		otherName = "Bikes"
	)
	f.srv.AfterNext(http.MethodPut, "/categories/reorder", func() {
		wasHeld = f.mgr.InFlight(Key{Kind: "order", Scope: "categories", EntityID: "c"})
		_, busyErr = f.mgr.MoveTo(ctx, "categories", "c", 0)
		_, otherErr = f.mgr.Update(ctx, "categories", "a", UpdateInput{Name: &otherName})
	})

	_, err := f.mgr.MoveUp(ctx, "categories", "c")
	require.NoError(t, err)

	assert.True(t, wasHeld)
	require.Error(t, busyErr)
	assert.True(t, apperr.IsBusy(busyErr))
	assert.Equal(t, apperr.CodeActionInFlight, apperr.CodeOf(busyErr))
	assert.NoError(t, otherErr)

	assert.False(t, f.mgr.InFlight(Key{Kind: "order", Scope: "categories", EntityID: "c"}))
	assert.Zero(t, f.mgr.inflight.size())
}

func TestConcurrentChange_LogsWarning(t *testing.T) {
	f := newFixture(t)
	f.seedCategories(t)
	f.load(t, "categories")
	ctx := context.Background()

	f.srv.AfterNext(http.MethodPut, "/categories/reorder", func() {
		// Another administrator moves a to the end right after our batch.
		_ = f.srv.Apply(ctx, "categories", []ordering.Placement{{ID: "a", Order: 9}})
	})

	res, err := f.mgr.MoveUp(ctx, "categories", "c")
	require.NoError(t, err)

	server, err := f.srv.Entities(ctx, "categories")
	require.NoError(t, err)
	assert.True(t, ordering.Matches(res.Snapshot.Entities(), ordering.AssignmentOf(server)),
		"reconciled snapshot reflects the server")
	assert.Contains(t, f.logs.String(), "server order differs from submitted order")
}

func TestRejectedSession_ClearsStore(t *testing.T) {
	f := newFixture(t)
	f.seedCategories(t)
	f.load(t, "categories")
	ctx := context.Background()

	_, err := f.store.SaveSession(ctx, "not-a-valid-token", time.Now())
	require.NoError(t, err)

	_, err = f.mgr.MoveUp(ctx, "categories", "b")
	require.Error(t, err)
	assert.True(t, apperr.IsUnauthorized(err))
	assert.Equal(t, apperr.CodeSessionExpired, apperr.CodeOf(err))

	tok, err := f.store.Token(ctx)
	require.NoError(t, err)
	assert.Empty(t, tok)

	_, err = f.mgr.MoveUp(ctx, "categories", "b")
	assert.Equal(t, apperr.CodeNotLoggedIn, apperr.CodeOf(err))
}

func TestRestore_InstallsCachedSnapshot(t *testing.T) {
	f := newFixture(t)
	cached := ordering.NewSnapshot("categories", []ordering.Entity{{ID: "a", Name: "Apparel"}}, 3, time.Now())

	assert.True(t, f.mgr.Restore(cached))
	snap, ok := f.mgr.Snapshot("categories")
	require.True(t, ok)
	assert.Same(t, cached, snap)

	assert.False(t, f.mgr.Restore(ordering.NewSnapshot("categories", nil, 2, time.Now())))
}
