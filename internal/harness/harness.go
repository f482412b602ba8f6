package harness

import (
	"context"
	"fmt"
	"net/http/httptest"
	"sort"
	"strconv"
	"time"

	"github.com/roach88/marketadmin/internal/apiclient"
	"github.com/roach88/marketadmin/internal/apperr"
	"github.com/roach88/marketadmin/internal/config"
	"github.com/roach88/marketadmin/internal/logger"
	"github.com/roach88/marketadmin/internal/manager"
	"github.com/roach88/marketadmin/internal/ordering"
	"github.com/roach88/marketadmin/internal/sandbox"
	"github.com/roach88/marketadmin/internal/store"
	"github.com/roach88/marketadmin/internal/testutil"
)

// Epoch is the frozen wall clock every scenario runs at.
var Epoch = time.Date(2026, 1, 5, 9, 0, 0, 0, time.UTC)

// Harness is the scenario execution environment: a sandbox backend, an
// in-memory store and a manager wired with deterministic clock and ids.
type Harness struct {
	cfg    *config.Config
	srv    *sandbox.Server
	store  *store.Store
	mgr    *manager.Manager
	result *Result
	step   int
}

// Run executes a scenario and returns the result.
//
// Each scenario runs against a fresh sandbox and in-memory store.
// Execution flow:
//  1. Build config and sandbox, seed collections, open a session
//  2. Execute flow steps, checking each expect clause
//  3. Evaluate assertions against requests, journal and server state
func Run(scenario *Scenario) (*Result, error) {
	return RunWithLogger(scenario, logger.Nop())
}

// RunWithLogger is Run with the manager and sandbox logging to log.
func RunWithLogger(scenario *Scenario, log *logger.Logger) (*Result, error) {
	ctx := context.Background()

	cfg := config.Defaults()
	if scenario.Config != "" {
		var err error
		if cfg, err = config.Parse([]byte(scenario.Config)); err != nil {
			return nil, fmt.Errorf("scenario config: %w", err)
		}
	}

	srv, err := sandbox.New(sandbox.Options{
		Scopes:    sandbox.ScopesFromConfig(cfg),
		LoginPath: cfg.API.LoginPath,
		Logger:    log,
		Now:       testutil.FrozenTime(Epoch),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to start sandbox: %w", err)
	}
	defer srv.Close()

	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	st, err := store.Open(":memory:")
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory store: %w", err)
	}
	defer st.Close()

	if err := seed(ctx, srv, scenario.Seed); err != nil {
		return nil, fmt.Errorf("failed to seed: %w", err)
	}

	token, err := srv.IssueToken("harness@example.com")
	if err != nil {
		return nil, err
	}
	if _, err := st.SaveSession(ctx, token, Epoch); err != nil {
		return nil, err
	}

	client, err := apiclient.New(apiclient.Options{
		BaseURL:   ts.URL,
		LoginPath: cfg.API.LoginPath,
		Session:   st,
		Logger:    log,
		RequestID: testutil.NewSequentialIDs("req").Generate,
	})
	if err != nil {
		return nil, err
	}

	h := &Harness{cfg: cfg, srv: srv, store: st, result: NewResult()}
	h.mgr, err = manager.New(manager.Options{
		Config:       cfg,
		API:          client,
		Cache:        st,
		Journal:      st,
		Clock:        testutil.NewDeterministicClock(),
		IDs:          testutil.NewSequentialIDs("act"),
		Now:          testutil.FrozenTime(Epoch),
		Logger:       log,
		OnTransition: h.onTransition,
	})
	if err != nil {
		return nil, err
	}

	for i, step := range scenario.Flow {
		h.step = i + 1
		h.executeStep(ctx, i, step)
	}

	for _, r := range srv.Requests() {
		h.result.Requests = append(h.result.Requests, formatRequest(r))
	}

	actx := &AssertionContext{Ctx: ctx, Config: cfg, Server: srv, Store: st}
	for _, msg := range EvaluateAssertions(h.result, scenario.Assertions, actx) {
		h.result.AddError(msg)
	}
	return h.result, nil
}

func seed(ctx context.Context, srv *sandbox.Server, seeds map[string][]SeedEntity) error {
	scopes := make([]string, 0, len(seeds))
	for scope := range seeds {
		scopes = append(scopes, scope)
	}
	sort.Strings(scopes)

	for _, scope := range scopes {
		entities := make([]ordering.Entity, 0, len(seeds[scope]))
		for _, e := range seeds[scope] {
			entities = append(entities, e.entity())
		}
		if err := srv.Seed(ctx, scope, entities); err != nil {
			return fmt.Errorf("%s: %w", scope, err)
		}
	}
	return nil
}

func (h *Harness) onTransition(t manager.Transition) {
	h.result.add(TraceEvent{
		Type: EventTransition,
		Step: h.step,
		Seq:  t.Seq,
		From: string(t.From),
		To:   string(t.To),
	})
}

// executeStep runs one flow step: arm sandbox hooks, invoke the manager,
// then record the completion and check the expect clause.
func (h *Harness) executeStep(ctx context.Context, i int, step FlowStep) {
	for _, f := range step.Fail {
		h.srv.FailNext(f.Method, f.Path, f.Status)
	}
	if c := step.Concurrent; c != nil {
		placements := c.Placements
		h.srv.AfterNext(c.Method, c.Path, func() {
			if err := h.srv.Apply(ctx, step.Scope, placements); err != nil {
				h.result.AddError(fmt.Sprintf("flow[%d]: concurrent change failed: %v", i, err))
			}
		})
	}

	h.result.add(TraceEvent{
		Type:   EventInvocation,
		Step:   h.step,
		Action: step.Action,
		Scope:  step.Scope,
		ID:     step.ID,
		IDs:    step.IDs,
		Index:  step.Index,
	})

	before := len(h.srv.Requests())
	res, err := h.invoke(ctx, step)

	completion := TraceEvent{Type: EventCompletion, Step: h.step, Outcome: outcomeOf(res, err)}
	if err != nil {
		completion.Code = apperr.CodeOf(err)
	}
	if snap, ok := h.mgr.Snapshot(step.Scope); ok {
		completion.Version = snap.Version()
		completion.Order = formatOrder(snap.Entities())
	}
	for _, r := range h.srv.Requests()[before:] {
		completion.Requests = append(completion.Requests, formatRequest(r))
	}
	h.result.add(completion)

	want := ExpectClause{Outcome: OutcomeOK}
	if step.Expect != nil {
		want = *step.Expect
	}
	if completion.Outcome != want.Outcome || (want.Code != "" && completion.Code != want.Code) {
		msg := fmt.Sprintf("flow[%d] %s: expected outcome %s", i, step.Action, want.Outcome)
		if want.Code != "" {
			msg += " (" + want.Code + ")"
		}
		msg += ", got " + completion.Outcome
		if err != nil {
			msg += ": " + err.Error()
		}
		h.result.AddError(msg)
	}
}

func (h *Harness) invoke(ctx context.Context, step FlowStep) (*manager.Result, error) {
	switch step.Action {
	case ActionLoad:
		snap, err := h.mgr.Load(ctx, step.Scope)
		if err != nil {
			return nil, err
		}
		return &manager.Result{Snapshot: snap}, nil
	case ActionMoveUp:
		return h.mgr.MoveUp(ctx, step.Scope, step.ID)
	case ActionMoveDown:
		return h.mgr.MoveDown(ctx, step.Scope, step.ID)
	case ActionMoveTo:
		return h.mgr.MoveTo(ctx, step.Scope, step.ID, *step.Index)
	case ActionReorder:
		return h.mgr.Reorder(ctx, step.Scope, step.IDs)
	case ActionResequence:
		return h.mgr.Resequence(ctx, step.Scope)
	case ActionActivate:
		return h.mgr.Activate(ctx, step.Scope, step.ID)
	case ActionDeactivate:
		return h.mgr.Deactivate(ctx, step.Scope, step.ID)
	case ActionToggle:
		return h.mgr.Toggle(ctx, step.Scope, step.ID)
	case ActionCreate:
		in := manager.CreateInput{Active: step.Active}
		if step.Name != nil {
			in.Name = *step.Name
		}
		return h.mgr.Create(ctx, step.Scope, in)
	case ActionEdit:
		return h.mgr.Update(ctx, step.Scope, step.ID, manager.UpdateInput{Name: step.Name, Active: step.Active})
	case ActionDelete:
		return h.mgr.Delete(ctx, step.Scope, step.ID)
	default:
		return nil, fmt.Errorf("unknown action %q", step.Action)
	}
}

func outcomeOf(res *manager.Result, err error) string {
	switch {
	case err != nil && apperr.CodeOf(err) == apperr.CodeReconcileFailed:
		return OutcomeStale
	case err != nil:
		return OutcomeError
	case res != nil && res.NoOp:
		return OutcomeNoOp
	default:
		return OutcomeOK
	}
}

func formatOrder(list []ordering.Entity) []string {
	out := make([]string, len(list))
	for i, e := range list {
		out[i] = e.ID + ":" + strconv.Itoa(e.Order)
	}
	return out
}

func formatRequest(r sandbox.Request) string {
	return fmt.Sprintf("%s %s %d", r.Method, r.Path, r.Status)
}
