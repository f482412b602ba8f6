package harness

import (
	"context"
	"fmt"
	"reflect"
	"sort"
	"strings"

	"github.com/roach88/marketadmin/internal/config"
	"github.com/roach88/marketadmin/internal/ordering"
	"github.com/roach88/marketadmin/internal/sandbox"
	"github.com/roach88/marketadmin/internal/store"
)

// AssertionError is returned when an assertion fails.
// It includes detailed context to help debug the failure.
type AssertionError struct {
	Type     string       // Assertion type for categorization
	Expected string       // Human-readable expected outcome
	Actual   string       // Human-readable actual outcome
	Trace    []TraceEvent // Full trace for debugging context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if len(e.Trace) > 0 {
		fmt.Fprintf(&buf, "\nFull trace:\n")
		for _, event := range e.Trace {
			if event.Type == EventCompletion {
				fmt.Fprintf(&buf, "  [%d] %s %v\n", event.Step, event.Outcome, event.Requests)
			}
		}
	}
	return buf.String()
}

// AssertionContext provides what assertions inspect besides the trace.
type AssertionContext struct {
	Ctx    context.Context
	Config *config.Config
	Server *sandbox.Server
	Store  *store.Store
}

// EvaluateAssertions evaluates all assertions against the result.
// Returns a slice of error messages for failed assertions.
func EvaluateAssertions(result *Result, assertions []Assertion, actx *AssertionContext) []string {
	var errors []string

	for i, assertion := range assertions {
		var err error

		switch assertion.Type {
		case AssertTraceOrder:
			err = assertTraceOrder(result.Trace, assertion)
		case AssertTraceCount:
			err = assertTraceCount(result.Trace, assertion)
		case AssertRequestCount, AssertJournalCount, AssertFinalOrder, AssertFinalState:
			if actx == nil || actx.Server == nil || actx.Store == nil {
				err = fmt.Errorf("assertion[%d]: %s requires a sandbox and store", i, assertion.Type)
				break
			}
			err = evaluateState(actx, result.Trace, assertion)
		default:
			err = fmt.Errorf("assertion[%d]: unknown assertion type %q", i, assertion.Type)
		}

		if err != nil {
			errors = append(errors, err.Error())
		}
	}
	return errors
}

func evaluateState(actx *AssertionContext, trace []TraceEvent, a Assertion) error {
	switch a.Type {
	case AssertRequestCount:
		return assertRequestCount(actx.Server.Requests(), trace, a)
	case AssertJournalCount:
		return assertJournalCount(actx, a)
	case AssertFinalOrder:
		return assertFinalOrder(actx, a)
	default:
		return assertFinalState(actx, a)
	}
}

// assertTraceOrder checks if actions appear in the specified order.
// Actions don't need to be consecutive (intervening actions are allowed).
func assertTraceOrder(trace []TraceEvent, assertion Assertion) error {
	pos := 0
	for _, event := range trace {
		if event.Type != EventInvocation || pos == len(assertion.Actions) {
			continue
		}
		if event.Action == assertion.Actions[pos] {
			pos++
		}
	}
	if pos < len(assertion.Actions) {
		return &AssertionError{
			Type:     AssertTraceOrder,
			Expected: fmt.Sprintf("actions in order: %v", assertion.Actions),
			Actual:   fmt.Sprintf("missing or out of order: %s", assertion.Actions[pos]),
			Trace:    trace,
		}
	}
	return nil
}

// assertTraceCount checks if the action was invoked exactly Count times.
func assertTraceCount(trace []TraceEvent, assertion Assertion) error {
	count := 0
	for _, event := range trace {
		if event.Type == EventInvocation && event.Action == assertion.Action {
			count++
		}
	}
	if count != assertion.Count {
		return &AssertionError{
			Type:     AssertTraceCount,
			Expected: fmt.Sprintf("%d occurrences of %s", assertion.Count, assertion.Action),
			Actual:   fmt.Sprintf("%d occurrences", count),
			Trace:    trace,
		}
	}
	return nil
}

// assertRequestCount counts sandbox requests matching "METHOD /path" or a
// bare method.
func assertRequestCount(requests []sandbox.Request, trace []TraceEvent, a Assertion) error {
	method, path, hasPath := strings.Cut(a.Request, " ")
	count := 0
	for _, r := range requests {
		if !strings.EqualFold(r.Method, method) {
			continue
		}
		if hasPath && r.Path != path {
			continue
		}
		count++
	}
	if count != a.Count {
		return &AssertionError{
			Type:     AssertRequestCount,
			Expected: fmt.Sprintf("%d requests matching %q", a.Count, a.Request),
			Actual:   fmt.Sprintf("%d requests", count),
			Trace:    trace,
		}
	}
	return nil
}

// assertJournalCount counts journal rows, optionally filtered by scope and
// outcome.
func assertJournalCount(actx *AssertionContext, a Assertion) error {
	actions, err := actx.Store.ListActions(actx.Ctx, store.ActionFilter{Scope: a.Scope})
	if err != nil {
		return fmt.Errorf("journal_count: %w", err)
	}
	count := 0
	for _, act := range actions {
		if a.Outcome == "" || act.Outcome == a.Outcome {
			count++
		}
	}
	if count != a.Count {
		return &AssertionError{
			Type:     AssertJournalCount,
			Expected: fmt.Sprintf("%d journal rows (scope=%q outcome=%q)", a.Count, a.Scope, a.Outcome),
			Actual:   fmt.Sprintf("%d journal rows", count),
		}
	}
	return nil
}

func serverEntities(actx *AssertionContext, scope string) ([]ordering.Entity, error) {
	sc, ok := actx.Config.Scope(scope)
	if !ok {
		return nil, fmt.Errorf("unknown scope %q", scope)
	}
	list, err := actx.Server.Entities(actx.Ctx, scope)
	if err != nil {
		return nil, err
	}
	return ordering.Sort(list, sc.Sort), nil
}

// assertFinalOrder compares the server's (id, order) pairs, sorted with the
// scope's policy, against the expected list.
func assertFinalOrder(actx *AssertionContext, a Assertion) error {
	list, err := serverEntities(actx, a.Scope)
	if err != nil {
		return fmt.Errorf("final_order: %w", err)
	}
	got := formatOrder(list)
	want := a.Order
	if want == nil {
		want = []string{}
	}
	if !reflect.DeepEqual(got, want) {
		return &AssertionError{
			Type:     AssertFinalOrder,
			Expected: fmt.Sprintf("%s = %v", a.Scope, want),
			Actual:   fmt.Sprintf("%v", got),
		}
	}
	return nil
}

// assertFinalState checks name, order and active of one server entity.
// Subset semantics: only the fields in Expect are checked.
func assertFinalState(actx *AssertionContext, a Assertion) error {
	list, err := serverEntities(actx, a.Scope)
	if err != nil {
		return fmt.Errorf("final_state: %w", err)
	}
	i := ordering.IndexOf(list, a.ID)
	if i < 0 {
		return &AssertionError{
			Type:     AssertFinalState,
			Expected: fmt.Sprintf("entity %s in %s", a.ID, a.Scope),
			Actual:   "entity not found",
		}
	}
	e := list[i]
	actual := map[string]any{
		"name":   e.Name,
		"order":  e.Order,
		"active": e.Active(),
	}

	keys := make([]string, 0, len(a.Expect))
	for k := range a.Expect {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		expectedValue := a.Expect[key]
		actualValue, exists := actual[key]
		if !exists {
			return &AssertionError{
				Type:     AssertFinalState,
				Expected: fmt.Sprintf("field %q to exist", key),
				Actual:   "fields are name, order and active",
			}
		}
		if !stateValuesEqual(expectedValue, actualValue) {
			return &AssertionError{
				Type:     AssertFinalState,
				Expected: fmt.Sprintf("%s.%s = %v (type %T)", a.ID, key, expectedValue, expectedValue),
				Actual:   fmt.Sprintf("%s.%s = %v (type %T)", a.ID, key, actualValue, actualValue),
			}
		}
	}
	return nil
}

// stateValuesEqual compares a YAML-decoded expectation with an entity field.
func stateValuesEqual(expected, actual any) bool {
	switch exp := expected.(type) {
	case int:
		if got, ok := actual.(int); ok {
			return exp == got
		}
		return false
	case int64:
		if got, ok := actual.(int); ok {
			return exp == int64(got)
		}
		return false
	}
	return reflect.DeepEqual(expected, actual)
}
