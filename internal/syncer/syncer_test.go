package syncer

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/marketadmin/internal/apperr"
	"github.com/roach88/marketadmin/internal/config"
	"github.com/roach88/marketadmin/internal/ordering"
	"github.com/roach88/marketadmin/internal/testutil"
)

type reorderCall struct {
	Method string
	Path   string
	Body   any
}

type fakeAPI struct {
	mu       sync.Mutex
	lists    map[string][]ordering.Entity
	listErr  error
	orderErr error
	reorders []reorderCall
	// gate, when set, blocks List until closed.
	gate chan struct{}
}

func (f *fakeAPI) List(ctx context.Context, path string) ([]ordering.Entity, error) {
	f.mu.Lock()
	gate := f.gate
	f.mu.Unlock()
	if gate != nil {
		<-gate
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	return ordering.Clone(f.lists[path]), nil
}

func (f *fakeAPI) Reorder(ctx context.Context, method, path string, body any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reorders = append(f.reorders, reorderCall{Method: method, Path: path, Body: body})
	return f.orderErr
}

type memCache struct {
	mu    sync.Mutex
	saved []*ordering.Snapshot
	err   error
}

func (c *memCache) SaveSnapshot(ctx context.Context, snap *ordering.Snapshot) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.saved = append(c.saved, snap)
	return c.err
}

func scope(t *testing.T, name string) config.Scope {
	t.Helper()
	sc, ok := config.Defaults().Scope(name)
	require.True(t, ok)
	return sc
}

func newSyncer(t *testing.T, api *fakeAPI, cache Cache) *Syncer {
	t.Helper()
	opts := Options{
		API: api,
		Seq: testutil.NewDeterministicClock(),
		Now: testutil.FrozenTime(time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)),
	}
	if cache != nil {
		opts.Cache = cache
	}
	s, err := New(opts)
	require.NoError(t, err)
	return s
}

func TestNew_Requires(t *testing.T) {
	_, err := New(Options{Seq: testutil.NewDeterministicClock()})
	assert.Error(t, err)
	_, err = New(Options{API: &fakeAPI{}})
	assert.Error(t, err)
}

func TestReorderBody(t *testing.T) {
	a := ordering.Assignment{{ID: "b", Order: 0}, {ID: "a", Order: 1}}

	items := ReorderBody(config.ReorderEndpoint{Format: config.FormatItems}, a)
	assert.Equal(t, itemsBody{Items: []ordering.Placement{{ID: "b", Order: 0}, {ID: "a", Order: 1}}}, items)

	ids := ReorderBody(config.ReorderEndpoint{Format: config.FormatIDs}, a)
	assert.Equal(t, idsBody{IDs: []string{"b", "a"}}, ids)
}

func TestSubmitOrder_SingleBatchRequest(t *testing.T) {
	api := &fakeAPI{}
	s := newSyncer(t, api, nil)
	sc := scope(t, "banners")

	a := ordering.Assignment{{ID: "b2", Order: 0}, {ID: "b1", Order: 1}, {ID: "b3", Order: 2}}
	require.NoError(t, s.SubmitOrder(context.Background(), sc, a))

	require.Len(t, api.reorders, 1)
	assert.Equal(t, "PUT", api.reorders[0].Method)
	assert.Equal(t, "/banners/popular/reorder", api.reorders[0].Path)
	assert.Len(t, api.reorders[0].Body.(itemsBody).Items, 3)
}

func TestSubmitOrder_EmptyIsNoCall(t *testing.T) {
	api := &fakeAPI{}
	s := newSyncer(t, api, nil)
	require.NoError(t, s.SubmitOrder(context.Background(), scope(t, "banners"), nil))
	assert.Empty(t, api.reorders)
}

func TestSubmitOrder_FailureNotRetried(t *testing.T) {
	api := &fakeAPI{orderErr: apperr.Transport(apperr.CodeRequestFailed, 500, errors.New("boom"))}
	s := newSyncer(t, api, nil)
	sc := scope(t, "banners")

	err := s.SubmitOrder(context.Background(), sc, ordering.Assignment{{ID: "x", Order: 0}})
	require.Error(t, err)
	assert.True(t, apperr.IsTransport(err))
	assert.Equal(t, 500, apperr.StatusOf(err))

	var ae *apperr.Error
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, "banners", ae.Scope)
	assert.Len(t, api.reorders, 1)
}

func TestSubmitOrder_PlainErrorBecomesTransport(t *testing.T) {
	api := &fakeAPI{orderErr: errors.New("dial tcp: refused")}
	s := newSyncer(t, api, nil)
	err := s.SubmitOrder(context.Background(), scope(t, "featured"), ordering.Assignment{{ID: "x", Order: 0}})
	assert.True(t, apperr.IsTransport(err))
}

func TestRefresh_SortsAndCaches(t *testing.T) {
	api := &fakeAPI{lists: map[string][]ordering.Entity{
		"/categories": {
			{ID: "c3", Name: "zebra", Order: 1},
			{ID: "c1", Name: "Apple", Order: 1},
			{ID: "c2", Name: "mango", Order: 0},
		},
	}}
	cache := &memCache{}
	s := newSyncer(t, api, cache)

	snap, err := s.Refresh(context.Background(), scope(t, "categories"))
	require.NoError(t, err)
	assert.Equal(t, []string{"c2", "c1", "c3"}, ordering.AssignmentOf(snap.Entities()).IDs())
	assert.Equal(t, int64(1), snap.Version())
	assert.Equal(t, time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC), snap.FetchedAt())

	cur, ok := s.Snapshot("categories")
	require.True(t, ok)
	assert.Same(t, snap, cur)
	require.Len(t, cache.saved, 1)
}

func TestRefresh_ServerPolicyKeepsOrder(t *testing.T) {
	api := &fakeAPI{lists: map[string][]ordering.Entity{
		"/banners/popular": {{ID: "b", Order: 3}, {ID: "a", Order: 1}},
	}}
	s := newSyncer(t, api, nil)
	snap, err := s.Refresh(context.Background(), scope(t, "banners"))
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "a"}, ordering.AssignmentOf(snap.Entities()).IDs())
}

func TestRefresh_FailureKeepsPreviousSnapshot(t *testing.T) {
	api := &fakeAPI{lists: map[string][]ordering.Entity{"/categories": {{ID: "c1"}}}}
	s := newSyncer(t, api, nil)
	sc := scope(t, "categories")

	first, err := s.Refresh(context.Background(), sc)
	require.NoError(t, err)

	api.listErr = apperr.Transport(apperr.CodeRequestFailed, 503, nil)
	_, err = s.Refresh(context.Background(), sc)
	require.Error(t, err)

	cur, ok := s.Snapshot("categories")
	require.True(t, ok)
	assert.Same(t, first, cur)
}

func TestRefresh_CacheFailureIsNotFatal(t *testing.T) {
	api := &fakeAPI{lists: map[string][]ordering.Entity{"/categories": {{ID: "c1"}}}}
	s := newSyncer(t, api, &memCache{err: errors.New("disk full")})
	_, err := s.Refresh(context.Background(), scope(t, "categories"))
	assert.NoError(t, err)
}

func TestInstall_OlderVersionDiscarded(t *testing.T) {
	s := newSyncer(t, &fakeAPI{}, nil)
	at := time.Unix(0, 0)

	newer := ordering.NewSnapshot("banners", []ordering.Entity{{ID: "new"}}, 5, at)
	older := ordering.NewSnapshot("banners", []ordering.Entity{{ID: "old"}}, 3, at)

	assert.True(t, s.Install(newer))
	assert.False(t, s.Install(older))

	cur, _ := s.Snapshot("banners")
	assert.Same(t, newer, cur)
}

func TestRefresh_SlowResponseCannotOverwriteNewer(t *testing.T) {
	api := &fakeAPI{lists: map[string][]ordering.Entity{
		"/banners/popular": {{ID: "stale"}},
	}}
	s := newSyncer(t, api, nil)
	sc := scope(t, "banners")

	gate := make(chan struct{})
	api.gate = gate

	done := make(chan *ordering.Snapshot)
	go func() {
		snap, err := s.Refresh(context.Background(), sc)
		assert.NoError(t, err)
		done <- snap
	}()

	// Wait until the slow refresh has taken its version.
	require.Eventually(t, func() bool {
		_, ok := s.Snapshot("banners")
		return !ok && s.seq.(*testutil.DeterministicClock).Current() == 1
	}, time.Second, time.Millisecond)

	// A later refresh lands first with newer data.
	fresh := ordering.NewSnapshot("banners", []ordering.Entity{{ID: "fresh"}}, s.seq.Next(), time.Unix(0, 0))
	require.True(t, s.Install(fresh))

	close(gate)
	got := <-done
	assert.Same(t, fresh, got)

	cur, _ := s.Snapshot("banners")
	assert.Equal(t, "fresh", cur.Entities()[0].ID)
}

func TestMarkStale(t *testing.T) {
	cache := &memCache{}
	s := newSyncer(t, &fakeAPI{}, cache)

	_, ok := s.MarkStale(context.Background(), "banners")
	assert.False(t, ok)

	s.Install(ordering.NewSnapshot("banners", nil, 1, time.Unix(0, 0)))
	snap, ok := s.MarkStale(context.Background(), "banners")
	require.True(t, ok)
	assert.True(t, snap.Stale())
	require.Len(t, cache.saved, 1)
	assert.True(t, cache.saved[0].Stale())
}
