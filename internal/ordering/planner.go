package ordering

import (
	"fmt"

	"github.com/roach88/marketadmin/internal/apperr"
)

// Direction is a single-step move request.
type Direction string

const (
	Up   Direction = "up"
	Down Direction = "down"
)

// ParseDirection converts user input to a Direction.
func ParseDirection(s string) (Direction, error) {
	switch Direction(s) {
	case Up, Down:
		return Direction(s), nil
	}
	return "", apperr.Validation(apperr.CodeMissingField, "direction must be %q or %q, got %q", Up, Down, s)
}

// Plan is the planner's output: the resulting list and the assignment to submit.
//
// When NoOp is true the assignment mirrors the input unchanged and callers
// must not submit anything.
type Plan struct {
	Entities   []Entity
	Assignment Assignment
	NoOp       bool
}

func noOpPlan(list []Entity) Plan {
	return Plan{Entities: Clone(list), Assignment: AssignmentOf(list), NoOp: true}
}

func reindexedPlan(list []Entity, base int) Plan {
	out := Reindex(list, base)
	return Plan{Entities: out, Assignment: AssignmentOf(out)}
}

// ComputeSwap exchanges targetID with its neighbour in direction and re-indexes
// the whole list, so gaps in the input are closed by the same submission.
//
// list must already be sorted with the scope's policy. Moving the first entity
// up or the last entity down is a no-op, not an error. A missing targetID
// returns a not_found error.
func ComputeSwap(list []Entity, targetID string, dir Direction, base int) (Plan, error) {
	i := IndexOf(list, targetID)
	if i < 0 {
		return Plan{}, apperr.NotFound("", targetID)
	}

	var j int
	switch dir {
	case Up:
		if i == 0 {
			return noOpPlan(list), nil
		}
		j = i - 1
	case Down:
		if i == len(list)-1 {
			return noOpPlan(list), nil
		}
		j = i + 1
	default:
		return Plan{}, apperr.Validation(apperr.CodeMissingField, "unknown direction %q", dir)
	}

	moved := Clone(list)
	moved[i], moved[j] = moved[j], moved[i]
	return reindexedPlan(moved, base), nil
}

// ComputeMoveTo removes targetID from its position and inserts it at index,
// then re-indexes the whole list. index must be within [0, len(list)).
func ComputeMoveTo(list []Entity, targetID string, index, base int) (Plan, error) {
	i := IndexOf(list, targetID)
	if i < 0 {
		return Plan{}, apperr.NotFound("", targetID)
	}
	if index < 0 || index >= len(list) {
		return Plan{}, apperr.Validation(apperr.CodeInvalidIndex,
			"index %d out of range [0, %d)", index, len(list))
	}
	if index == i {
		return noOpPlan(list), nil
	}

	rest := make([]Entity, 0, len(list)-1)
	rest = append(rest, list[:i]...)
	rest = append(rest, list[i+1:]...)

	moved := make([]Entity, 0, len(list))
	moved = append(moved, rest[:index]...)
	moved = append(moved, list[i])
	moved = append(moved, rest[index:]...)
	return reindexedPlan(moved, base), nil
}

// ComputeSequence applies an explicit sequence of ids. ids must be a
// permutation of the ids in list.
func ComputeSequence(list []Entity, ids []string, base int) (Plan, error) {
	if len(ids) != len(list) {
		return Plan{}, apperr.Validation(apperr.CodeInvalidSequence,
			"sequence has %d ids, collection has %d", len(ids), len(list))
	}

	byID := make(map[string]Entity, len(list))
	for _, e := range list {
		byID[e.ID] = e
	}

	seen := make(map[string]bool, len(ids))
	ordered := make([]Entity, 0, len(ids))
	for _, id := range ids {
		if seen[id] {
			return Plan{}, apperr.Validation(apperr.CodeInvalidSequence, "duplicate id %q in sequence", id)
		}
		e, ok := byID[id]
		if !ok {
			return Plan{}, apperr.Validation(apperr.CodeInvalidSequence, "unknown id %q in sequence", id)
		}
		seen[id] = true
		ordered = append(ordered, e)
	}

	if sameIDs(ordered, list) && IsContiguous(list, base) {
		return noOpPlan(list), nil
	}
	return reindexedPlan(ordered, base), nil
}

// ComputeResequence closes gaps and duplicates in an already sorted list.
func ComputeResequence(list []Entity, base int) Plan {
	if IsContiguous(list, base) {
		return noOpPlan(list)
	}
	return reindexedPlan(list, base)
}

func sameIDs(a, b []Entity) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].ID != b[i].ID {
			return false
		}
	}
	return true
}

// Matches reports whether list holds exactly the (id, order) pairs of a,
// regardless of list order. Used to confirm a submitted reorder after refetch.
func Matches(list []Entity, a Assignment) bool {
	if len(list) != len(a) {
		return false
	}
	want := make(map[string]int, len(a))
	for _, p := range a {
		want[p.ID] = p.Order
	}
	for _, e := range list {
		order, ok := want[e.ID]
		if !ok || order != e.Order {
			return false
		}
	}
	return true
}

// String renders a plan compactly for logs.
func (p Plan) String() string {
	if p.NoOp {
		return "noop"
	}
	return fmt.Sprintf("%v", p.Assignment.IDs())
}
