package manager

import (
	"fmt"
	"strings"
	"sync"

	"github.com/roach88/marketadmin/internal/apperr"
)

// State is a step of the per-action state machine:
//
//	idle -> submitting -> succeeded -> reconciling -> idle
//	               \---> failed -> idle
type State string

const (
	StateIdle        State = "idle"
	StateSubmitting  State = "submitting"
	StateSucceeded   State = "succeeded"
	StateReconciling State = "reconciling"
	StateFailed      State = "failed"
)

// Outcome is recorded when an action returns to idle.
type Outcome string

const (
	OutcomeOK     Outcome = "ok"
	OutcomeFailed Outcome = "failed"
	// OutcomeStale means the mutation succeeded but the refetch did not.
	OutcomeStale Outcome = "stale"
)

var transitions = map[State][]State{
	StateIdle:        {StateSubmitting},
	StateSubmitting:  {StateSucceeded, StateFailed},
	StateSucceeded:   {StateReconciling},
	StateReconciling: {StateIdle},
	StateFailed:      {StateIdle},
}

// CanTransition reports whether from -> to is a legal step.
func CanTransition(from, to State) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Kind names a user action in the journal.
type Kind string

const (
	KindMoveUp     Kind = "move_up"
	KindMoveDown   Kind = "move_down"
	KindMoveTo     Kind = "move_to"
	KindReorder    Kind = "reorder"
	KindResequence Kind = "resequence"
	KindActivate   Kind = "activate"
	KindDeactivate Kind = "deactivate"
	KindCreate     Kind = "create"
	KindUpdate     Kind = "edit"
	KindDelete     Kind = "delete"
)

// keyKind groups action kinds that must not overlap on the same entity.
// Reorders of a whole collection use an empty entity id.
func (k Kind) keyKind() string {
	switch k {
	case KindMoveUp, KindMoveDown, KindMoveTo, KindReorder, KindResequence:
		return "order"
	case KindActivate, KindDeactivate:
		return "toggle"
	default:
		return string(k)
	}
}

// reorders reports whether the kind submits a batch assignment.
func (k Kind) reorders() bool {
	return k.keyKind() == "order"
}

// Key identifies an in-flight action.
type Key struct {
	Kind     string
	Scope    string
	EntityID string
}

func (k Key) String() string {
	return fmt.Sprintf("%s/%s/%s", k.Kind, k.Scope, k.EntityID)
}

// inflight is the set of action keys currently between submit and idle.
type inflight struct {
	mu   sync.Mutex
	keys map[Key]struct{}
}

func newInflight() *inflight {
	return &inflight{keys: map[Key]struct{}{}}
}

// claim adds key to the set, or returns a busy error if it is held.
func (f *inflight) claim(kind Kind, key Key) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, held := f.keys[key]; held {
		label := strings.ReplaceAll(string(kind), "_", " ")
		return apperr.Busy(label, key.Scope, key.EntityID)
	}
	f.keys[key] = struct{}{}
	return nil
}

func (f *inflight) release(key Key) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.keys, key)
}

func (f *inflight) held(key Key) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.keys[key]
	return ok
}

func (f *inflight) size() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.keys)
}
