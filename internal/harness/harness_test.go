package harness

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScenarios_Golden(t *testing.T) {
	files, err := ScenarioFiles("testdata/scenarios")
	require.NoError(t, err)
	require.NotEmpty(t, files)

	for _, file := range files {
		scenario, err := LoadScenario(file)
		require.NoError(t, err, file)

		t.Run(scenario.Name, func(t *testing.T) {
			require.NoError(t, RunWithGolden(t, scenario))
		})
	}
}

func TestRun_Deterministic(t *testing.T) {
	scenario, err := LoadScenario("testdata/scenarios/categories_reconcile_failure.yaml")
	require.NoError(t, err)

	first, err := Run(scenario)
	require.NoError(t, err)
	second, err := Run(scenario)
	require.NoError(t, err)

	a, err := MarshalTrace(scenario.Name, first.Trace)
	require.NoError(t, err)
	b, err := MarshalTrace(scenario.Name, second.Trace)
	require.NoError(t, err)
	assert.Equal(t, string(a), string(b))
	assert.Equal(t, first.Requests, second.Requests)
}

const minimal = `
name: minimal
description: "one load"
seed:
  featured:
    - { id: p1, name: Lamp, order: 0 }
flow:
  - action: load
    scope: featured
assertions:
  - type: trace_count
    action: load
    count: 1
`

func TestParseScenario_Minimal(t *testing.T) {
	s, err := ParseScenario([]byte(minimal))
	require.NoError(t, err)
	assert.Equal(t, "minimal", s.Name)
	require.Len(t, s.Seed["featured"], 1)
	assert.Equal(t, "Lamp", s.Seed["featured"][0].Name)
	assert.Equal(t, ActionLoad, s.Flow[0].Action)
}

func TestParseScenario_Rejects(t *testing.T) {
	tests := []struct {
		name    string
		replace [2]string
		wantErr string
	}{
		{"unknown field", [2]string{"flow:", "flwo: []\nflow:"}, "field flwo not found"},
		{"missing name", [2]string{"name: minimal", ""}, "name is required"},
		{"missing description", [2]string{`description: "one load"`, ""}, "description is required"},
		{"unknown action", [2]string{"action: load", "action: jump"}, `unknown action "jump"`},
		{"missing scope", [2]string{"    scope: featured", ""}, "scope is required"},
		{"unknown assertion", [2]string{"type: trace_count", "type: vibes"}, `unknown assertion type "vibes"`},
		{"seed without id", [2]string{"id: p1, ", ""}, "id is required"},
		{"negative count", [2]string{"count: 1", "count: -1"}, "non-negative"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc := strings.Replace(minimal, tt.replace[0], tt.replace[1], 1)
			_, err := ParseScenario([]byte(doc))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestParseScenario_StepRequirements(t *testing.T) {
	tests := []struct {
		name string
		step string
		want string
	}{
		{"move needs id", "{ action: move_up, scope: featured }", "id is required for move_up"},
		{"move_to needs index", "{ action: move_to, scope: featured, id: p1 }", "id and index are required"},
		{"reorder needs ids", "{ action: reorder, scope: featured }", "ids are required"},
		{"bad outcome", "{ action: load, scope: featured, expect: { outcome: maybe } }", `unknown outcome "maybe"`},
		{"bad failure", "{ action: load, scope: featured, fail: [{ method: GET, path: x, status: 500 }] }", "fail[0]"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc := strings.Replace(minimal, "  - action: load\n    scope: featured\n", "  - "+tt.step+"\n", 1)
			_, err := ParseScenario([]byte(doc))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestRun_ReportsUnmetExpectations(t *testing.T) {
	s, err := ParseScenario([]byte(`
name: wrong_expectations
description: "every expectation here is wrong"
seed:
  categories:
    - { id: a, name: Apparel, order: 0 }
    - { id: b, name: Books, order: 1 }
flow:
  - action: move_up
    scope: categories
    id: a
  - action: move_down
    scope: categories
    id: a
    expect: { outcome: noop }
assertions:
  - type: request_count
    request: GET
    count: 0
  - type: final_order
    scope: categories
    order: ["a:0", "b:1"]
  - type: final_state
    scope: categories
    id: a
    expect: { name: Apparel, colour: red }
  - type: trace_order
    actions: [move_down, move_up]
  - type: journal_count
    count: 0
`))
	require.NoError(t, err)

	result, err := Run(s)
	require.NoError(t, err)
	assert.False(t, result.Pass)

	joined := strings.Join(result.Errors, "\n")
	assert.Contains(t, joined, "flow[0] move_up: expected outcome ok, got noop")
	assert.Contains(t, joined, "flow[1] move_down: expected outcome noop, got ok")
	assert.Contains(t, joined, "Assertion failed: request_count")
	assert.Contains(t, joined, "Assertion failed: final_order")
	assert.Contains(t, joined, `field "colour" to exist`)
	assert.Contains(t, joined, "Assertion failed: trace_order")
	assert.Contains(t, joined, "Assertion failed: journal_count")
}

func TestRun_BadConfig(t *testing.T) {
	s, err := ParseScenario([]byte(strings.Replace(minimal, "seed:", "config: \"api: { base_url: ftp://x }\"\nseed:", 1)))
	require.NoError(t, err)
	_, err = Run(s)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "scenario config")
}

func TestScenarioFiles_Directory(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.yml"), []byte(minimal), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.yaml"), []byte(minimal), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0o644))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "nested.yaml"), 0o755))

	files, err := ScenarioFiles(dir)
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(dir, "a.yaml"), filepath.Join(dir, "b.yml")}, files)

	_, err = ScenarioFiles(filepath.Join(dir, "missing"))
	assert.Error(t, err)
}

func TestScenarioFiles_SingleFile(t *testing.T) {
	files, err := ScenarioFiles("testdata/scenarios/brands_custom_scope.yaml")
	require.NoError(t, err)
	assert.Equal(t, []string{"testdata/scenarios/brands_custom_scope.yaml"}, files)
}
