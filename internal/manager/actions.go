package manager

import (
	"context"
	"strings"

	"github.com/roach88/marketadmin/internal/apiclient"
	"github.com/roach88/marketadmin/internal/apperr"
	"github.com/roach88/marketadmin/internal/config"
	"github.com/roach88/marketadmin/internal/guard"
	"github.com/roach88/marketadmin/internal/ordering"
)

// CreateInput describes a new collection member. A nil Order appends the
// member after the current maximum.
type CreateInput struct {
	Name   string
	Active *bool
	Order  *int
}

// UpdateInput is a partial edit. Nil fields are left unchanged.
type UpdateInput struct {
	Name   *string
	Active *bool
}

// Restore installs a previously cached snapshot unless a newer one is
// already present.
func (m *Manager) Restore(snap *ordering.Snapshot) bool {
	return m.sync.Install(snap)
}

// MoveUp swaps id with its predecessor. Moving the first member is a no-op.
func (m *Manager) MoveUp(ctx context.Context, scope, id string) (*Result, error) {
	return m.move(ctx, scope, id, ordering.Up, KindMoveUp)
}

// MoveDown swaps id with its successor. Moving the last member is a no-op.
func (m *Manager) MoveDown(ctx context.Context, scope, id string) (*Result, error) {
	return m.move(ctx, scope, id, ordering.Down, KindMoveDown)
}

func (m *Manager) move(ctx context.Context, scope, id string, dir ordering.Direction, kind Kind) (*Result, error) {
	sc, err := m.scope(scope)
	if err != nil {
		return nil, err
	}
	return m.execute(ctx, kind, sc, id, id, func(snap *ordering.Snapshot) (step, error) {
		plan, err := ordering.ComputeSwap(snap.Entities(), id, dir, sc.Base)
		if err != nil {
			return step{}, err
		}
		return m.orderStep(sc, plan)
	})
}

// MoveTo places id at the zero-based index of the sorted collection.
func (m *Manager) MoveTo(ctx context.Context, scope, id string, index int) (*Result, error) {
	sc, err := m.scope(scope)
	if err != nil {
		return nil, err
	}
	return m.execute(ctx, KindMoveTo, sc, id, id, func(snap *ordering.Snapshot) (step, error) {
		plan, err := ordering.ComputeMoveTo(snap.Entities(), id, index, sc.Base)
		if err != nil {
			return step{}, err
		}
		return m.orderStep(sc, plan)
	})
}

// Reorder applies a full sequence of ids, typically the result of a drag.
// ids must be a permutation of the collection.
func (m *Manager) Reorder(ctx context.Context, scope string, ids []string) (*Result, error) {
	sc, err := m.scope(scope)
	if err != nil {
		return nil, err
	}
	return m.execute(ctx, KindReorder, sc, "", "", func(snap *ordering.Snapshot) (step, error) {
		plan, err := ordering.ComputeSequence(snap.Entities(), ids, sc.Base)
		if err != nil {
			return step{}, err
		}
		return m.orderStep(sc, plan)
	})
}

// Resequence rewrites the collection's orders to a contiguous run from the
// scope base, keeping the current sort.
func (m *Manager) Resequence(ctx context.Context, scope string) (*Result, error) {
	sc, err := m.scope(scope)
	if err != nil {
		return nil, err
	}
	return m.execute(ctx, KindResequence, sc, "", "", func(snap *ordering.Snapshot) (step, error) {
		return m.orderStep(sc, ordering.ComputeResequence(snap.Entities(), sc.Base))
	})
}

func (m *Manager) orderStep(sc config.Scope, plan ordering.Plan) (step, error) {
	return assignmentStep(plan, func(ctx context.Context) error {
		return m.sync.SubmitOrder(ctx, sc, plan.Assignment)
	})
}

// Activate flags id active, subject to the scope's active cap.
func (m *Manager) Activate(ctx context.Context, scope, id string) (*Result, error) {
	return m.setActive(ctx, scope, id, true)
}

// Deactivate clears the active flag of id. Never capped.
func (m *Manager) Deactivate(ctx context.Context, scope, id string) (*Result, error) {
	return m.setActive(ctx, scope, id, false)
}

// Toggle flips the active flag of id as seen in the current snapshot.
func (m *Manager) Toggle(ctx context.Context, scope, id string) (*Result, error) {
	sc, err := m.scope(scope)
	if err != nil {
		return nil, err
	}
	snap, err := m.working(ctx, sc)
	if err != nil {
		return nil, err
	}
	e, ok := snap.Entity(id)
	if !ok {
		return nil, apperr.NotFound(sc.Name, id)
	}
	return m.setActive(ctx, scope, id, !e.Active())
}

func (m *Manager) setActive(ctx context.Context, scope, id string, want bool) (*Result, error) {
	sc, err := m.scope(scope)
	if err != nil {
		return nil, err
	}
	kind := KindDeactivate
	if want {
		kind = KindActivate
	}
	return m.execute(ctx, kind, sc, id, id, func(snap *ordering.Snapshot) (step, error) {
		e, ok := snap.Entity(id)
		if !ok {
			return step{}, apperr.NotFound(sc.Name, id)
		}
		if e.IsActive != nil && e.Active() == want {
			return step{noop: true}, nil
		}
		if want {
			if err := guard.New(sc.ActiveCap).Check(snap.Entities(), id, guard.SiteToggle); err != nil {
				return step{}, err
			}
		}
		return step{submit: func(ctx context.Context) error {
			return m.api.Update(ctx, sc.ItemPath(id), apiclient.Patch{IsActive: ordering.Bool(want)})
		}}, nil
	})
}

// Create adds a member. An active member created in a capped scope counts
// against the cap before anything is sent.
func (m *Manager) Create(ctx context.Context, scope string, in CreateInput) (*Result, error) {
	sc, err := m.scope(scope)
	if err != nil {
		return nil, err
	}
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return nil, apperr.Validation(apperr.CodeMissingField, "name is required").WithScope(sc.Name, "")
	}

	var created ordering.Entity
	res, err := m.execute(ctx, KindCreate, sc, "", strings.ToLower(name), func(snap *ordering.Snapshot) (step, error) {
		if in.Active != nil && *in.Active {
			if err := guard.New(sc.ActiveCap).Check(snap.Entities(), "", guard.SiteCreate); err != nil {
				return step{}, err
			}
		}
		order := ordering.NextOrder(snap.Entities(), sc.Base)
		if in.Order != nil {
			order = *in.Order
		}
		body := apiclient.CreateInput{Name: name, IsActive: in.Active, Order: &order}
		return step{submit: func(ctx context.Context) error {
			e, err := m.api.Create(ctx, sc.Path, body)
			if err != nil {
				return err
			}
			created = e
			return nil
		}}, nil
	})
	if res != nil {
		res.Entity = created
	}
	return res, err
}

// Update edits the name or active flag of id. Activating through an edit is
// checked against the active cap like a toggle.
func (m *Manager) Update(ctx context.Context, scope, id string, in UpdateInput) (*Result, error) {
	sc, err := m.scope(scope)
	if err != nil {
		return nil, err
	}
	patch := apiclient.Patch{IsActive: in.Active}
	if in.Name != nil {
		name := strings.TrimSpace(*in.Name)
		if name == "" {
			return nil, apperr.Validation(apperr.CodeMissingField, "name must not be empty").WithScope(sc.Name, id)
		}
		patch.Name = &name
	}
	if patch.Empty() {
		return nil, apperr.Validation(apperr.CodeMissingField, "nothing to update").WithScope(sc.Name, id)
	}

	return m.execute(ctx, KindUpdate, sc, id, id, func(snap *ordering.Snapshot) (step, error) {
		e, ok := snap.Entity(id)
		if !ok {
			return step{}, apperr.NotFound(sc.Name, id)
		}
		if in.Active != nil && *in.Active && !e.Active() {
			if err := guard.New(sc.ActiveCap).Check(snap.Entities(), id, guard.SiteEdit); err != nil {
				return step{}, err
			}
		}
		return step{submit: func(ctx context.Context) error {
			return m.api.Update(ctx, sc.ItemPath(id), patch)
		}}, nil
	})
}

// Delete removes id from the collection. The remaining orders are left as
// the backend reports them; Resequence closes any gap.
func (m *Manager) Delete(ctx context.Context, scope, id string) (*Result, error) {
	sc, err := m.scope(scope)
	if err != nil {
		return nil, err
	}
	return m.execute(ctx, KindDelete, sc, id, id, func(snap *ordering.Snapshot) (step, error) {
		if _, ok := snap.Entity(id); !ok {
			return step{}, apperr.NotFound(sc.Name, id)
		}
		return step{submit: func(ctx context.Context) error {
			return m.api.Delete(ctx, sc.ItemPath(id))
		}}, nil
	})
}
