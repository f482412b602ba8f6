// Package harness rehearses collection actions as YAML scenarios.
//
// A scenario seeds an in-process sandbox, drives the real manager through
// a flow of actions and asserts on the requests the backend saw, the action
// journal and the final server state.
//
// # Scenario Format
//
//	name: banners_cap_blocks_activation
//	description: "What this scenario validates"
//	seed:
//	  banners:
//	    - { id: A, name: Spring, order: 0, active: true }
//	flow:
//	  - action: activate
//	    scope: banners
//	    id: E
//	    expect: { outcome: error, code: ACTIVE_CAP_REACHED }
//	assertions:
//	  - type: request_count
//	    request: PATCH
//	    count: 0
//	  - type: final_state
//	    scope: banners
//	    id: E
//	    expect: { active: false }
//
// # Assertion Types
//
//   - trace_order: flow actions were invoked in the given order
//   - trace_count: a flow action was invoked exactly N times
//   - request_count: the sandbox received N requests matching "METHOD /path"
//   - journal_count: the journal holds N rows, optionally by scope and outcome
//   - final_order: the server's sorted (id, order) pairs of a scope
//   - final_state: name, order or active of one server entity
//
// # Deterministic Testing
//
// Scenarios run with a deterministic logical clock, sequential action and
// request ids and a frozen wall clock, so traces are byte-identical across
// runs and can be compared against golden files.
package harness
