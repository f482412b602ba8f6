package harness

import (
	"bytes"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/roach88/marketadmin/internal/ordering"
)

// Scenario is a rehearsal of collection actions against an in-process
// sandbox. It seeds collections, executes a flow of manager actions and
// asserts on the requests sent, the journal and the final server state.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Config is an optional YAML config document merged over the defaults,
	// for scenarios that need custom scopes.
	Config string `yaml:"config,omitempty"`

	// Seed holds the initial contents of each scope.
	Seed map[string][]SeedEntity `yaml:"seed,omitempty"`

	// Flow contains the actions to execute, in order.
	Flow []FlowStep `yaml:"flow"`

	// Assertions validate requests, journal and final state.
	Assertions []Assertion `yaml:"assertions"`
}

// SeedEntity is one seeded collection member.
type SeedEntity struct {
	ID     string `yaml:"id"`
	Name   string `yaml:"name"`
	Order  int    `yaml:"order"`
	Active *bool  `yaml:"active,omitempty"`
}

func (s SeedEntity) entity() ordering.Entity {
	return ordering.Entity{ID: s.ID, Name: s.Name, Order: s.Order, IsActive: s.Active}
}

// FlowStep is a single manager action.
type FlowStep struct {
	// Action is one of the Action* constants.
	Action string `yaml:"action"`
	Scope  string `yaml:"scope"`
	ID     string `yaml:"id,omitempty"`

	// IDs is the full sequence for reorder.
	IDs []string `yaml:"ids,omitempty"`
	// Index is the target position for move_to.
	Index *int `yaml:"index,omitempty"`
	// Name and Active feed create and edit.
	Name   *string `yaml:"name,omitempty"`
	Active *bool   `yaml:"active,omitempty"`

	// Fail queues one-shot sandbox failures before the action runs.
	Fail []InjectedFailure `yaml:"fail,omitempty"`
	// Concurrent holds placements another administrator applies right
	// after the named request of this step is handled.
	Concurrent *ConcurrentChange `yaml:"concurrent,omitempty"`

	// Expect validates the action's outcome. Nil expects "ok".
	Expect *ExpectClause `yaml:"expect,omitempty"`
}

// InjectedFailure makes the next matching request answer Status.
type InjectedFailure struct {
	Method string `yaml:"method"`
	Path   string `yaml:"path"`
	Status int    `yaml:"status"`
}

// ConcurrentChange applies Placements after the next Method Path request.
type ConcurrentChange struct {
	Method     string               `yaml:"method"`
	Path       string               `yaml:"path"`
	Placements []ordering.Placement `yaml:"placements"`
}

// ExpectClause specifies the expected outcome of a flow step.
type ExpectClause struct {
	// Outcome is one of ok, noop, stale or error.
	Outcome string `yaml:"outcome"`
	// Code is the expected apperr code for error and stale outcomes.
	Code string `yaml:"code,omitempty"`
}

// Assertion validates what a scenario did.
type Assertion struct {
	// Type is one of the Assert* constants.
	Type string `yaml:"type"`

	// Action is the flow action (trace_count).
	Action string `yaml:"action,omitempty"`
	// Actions is the expected action order (trace_order).
	Actions []string `yaml:"actions,omitempty"`

	// Request is "METHOD /path" or a bare method (request_count).
	Request string `yaml:"request,omitempty"`

	// Scope and ID select server state (final_order, final_state).
	Scope string `yaml:"scope,omitempty"`
	ID    string `yaml:"id,omitempty"`
	// Order is the expected "id:order" list of the scope (final_order).
	Order []string `yaml:"order,omitempty"`
	// Expect holds name, order and active for final_state.
	Expect map[string]any `yaml:"expect,omitempty"`

	// Outcome filters journal rows (journal_count).
	Outcome string `yaml:"outcome,omitempty"`

	// Count is the expected number of matches.
	Count int `yaml:"count,omitempty"`
}

// Flow actions.
const (
	ActionLoad       = "load"
	ActionMoveUp     = "move_up"
	ActionMoveDown   = "move_down"
	ActionMoveTo     = "move_to"
	ActionReorder    = "reorder"
	ActionResequence = "resequence"
	ActionActivate   = "activate"
	ActionDeactivate = "deactivate"
	ActionToggle     = "toggle"
	ActionCreate     = "create"
	ActionEdit       = "edit"
	ActionDelete     = "delete"
)

// Expected outcomes.
const (
	OutcomeOK    = "ok"
	OutcomeNoOp  = "noop"
	OutcomeStale = "stale"
	OutcomeError = "error"
)

// Assertion type constants.
const (
	AssertTraceOrder   = "trace_order"
	AssertTraceCount   = "trace_count"
	AssertRequestCount = "request_count"
	AssertJournalCount = "journal_count"
	AssertFinalOrder   = "final_order"
	AssertFinalState   = "final_state"
)

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true) // Reject unknown fields
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if len(s.Flow) == 0 {
		return fmt.Errorf("flow list is required and must be non-empty")
	}
	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}

	for scope, entities := range s.Seed {
		for i, e := range entities {
			if e.ID == "" {
				return fmt.Errorf("seed.%s[%d]: id is required", scope, i)
			}
		}
	}

	for i, step := range s.Flow {
		if err := validateStep(i, step); err != nil {
			return err
		}
	}

	for i, assertion := range s.Assertions {
		if err := validateAssertion(i, &assertion); err != nil {
			return err
		}
	}
	return nil
}

func validateStep(i int, step FlowStep) error {
	if step.Scope == "" {
		return fmt.Errorf("flow[%d]: scope is required", i)
	}
	switch step.Action {
	case ActionLoad, ActionResequence, ActionCreate:
	case ActionMoveUp, ActionMoveDown, ActionActivate, ActionDeactivate,
		ActionToggle, ActionEdit, ActionDelete:
		if step.ID == "" {
			return fmt.Errorf("flow[%d]: id is required for %s", i, step.Action)
		}
	case ActionMoveTo:
		if step.ID == "" || step.Index == nil {
			return fmt.Errorf("flow[%d]: id and index are required for move_to", i)
		}
	case ActionReorder:
		if len(step.IDs) == 0 {
			return fmt.Errorf("flow[%d]: ids are required for reorder", i)
		}
	case "":
		return fmt.Errorf("flow[%d]: action is required", i)
	default:
		return fmt.Errorf("flow[%d]: unknown action %q", i, step.Action)
	}

	if step.Expect != nil {
		switch step.Expect.Outcome {
		case OutcomeOK, OutcomeNoOp, OutcomeStale, OutcomeError:
		default:
			return fmt.Errorf("flow[%d].expect: unknown outcome %q", i, step.Expect.Outcome)
		}
	}
	for j, f := range step.Fail {
		if f.Method == "" || !strings.HasPrefix(f.Path, "/") || f.Status < 400 {
			return fmt.Errorf("flow[%d].fail[%d]: method, path and a 4xx/5xx status are required", i, j)
		}
	}
	if c := step.Concurrent; c != nil && (c.Method == "" || c.Path == "" || len(c.Placements) == 0) {
		return fmt.Errorf("flow[%d].concurrent: method, path and placements are required", i)
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	switch a.Type {
	case "":
		return fmt.Errorf("assertions[%d]: type is required", index)
	case AssertTraceOrder:
		if len(a.Actions) == 0 {
			return fmt.Errorf("assertions[%d]: actions list is required for trace_order", index)
		}
	case AssertTraceCount:
		if a.Action == "" {
			return fmt.Errorf("assertions[%d]: action is required for trace_count", index)
		}
	case AssertRequestCount:
		if a.Request == "" {
			return fmt.Errorf("assertions[%d]: request is required for request_count", index)
		}
	case AssertJournalCount:
	case AssertFinalOrder:
		if a.Scope == "" {
			return fmt.Errorf("assertions[%d]: scope is required for final_order", index)
		}
	case AssertFinalState:
		if a.Scope == "" || a.ID == "" {
			return fmt.Errorf("assertions[%d]: scope and id are required for final_state", index)
		}
		if len(a.Expect) == 0 {
			return fmt.Errorf("assertions[%d]: expect is required for final_state", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	if a.Count < 0 {
		return fmt.Errorf("assertions[%d]: count must be non-negative", index)
	}
	return nil
}
