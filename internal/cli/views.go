package cli

import (
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/roach88/marketadmin/internal/manager"
	"github.com/roach88/marketadmin/internal/ordering"
)

// MemberView is one collection member as printed by the CLI.
type MemberView struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Order  int    `json:"order"`
	Active *bool  `json:"active,omitempty"`
}

// CollectionView is a snapshot as printed by the CLI.
type CollectionView struct {
	Scope     string       `json:"scope"`
	Version   int64        `json:"version"`
	FetchedAt time.Time    `json:"fetched_at"`
	Stale     bool         `json:"stale,omitempty"`
	Cached    bool         `json:"cached,omitempty"`
	Members   []MemberView `json:"members"`
}

func newCollectionView(snap *ordering.Snapshot) *CollectionView {
	if snap == nil {
		return nil
	}
	v := &CollectionView{
		Scope:     snap.Scope(),
		Version:   snap.Version(),
		FetchedAt: snap.FetchedAt(),
		Stale:     snap.Stale(),
		Members:   make([]MemberView, 0, snap.Len()),
	}
	for _, e := range snap.Entities() {
		v.Members = append(v.Members, MemberView{ID: e.ID, Name: e.Name, Order: e.Order, Active: e.IsActive})
	}
	return v
}

func (v *CollectionView) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s (version %d, fetched %s", v.Scope, v.Version, v.FetchedAt.Format(time.RFC3339))
	if v.Cached {
		b.WriteString(", cached")
	}
	if v.Stale {
		b.WriteString(", stale")
	}
	b.WriteString(")\n")

	if len(v.Members) == 0 {
		b.WriteString("  (empty)")
		return b.String()
	}

	tw := tabwriter.NewWriter(&b, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "  ORDER\tID\tNAME\tACTIVE")
	for _, m := range v.Members {
		active := "-"
		if m.Active != nil {
			active = fmt.Sprintf("%t", *m.Active)
		}
		fmt.Fprintf(tw, "  %d\t%s\t%s\t%s\n", m.Order, m.ID, m.Name, active)
	}
	_ = tw.Flush()
	return strings.TrimRight(b.String(), "\n")
}

// ActionView is the outcome of a mutating command.
type ActionView struct {
	Action     string          `json:"action"`
	ActionID   string          `json:"action_id,omitempty"`
	NoOp       bool            `json:"noop,omitempty"`
	Digest     string          `json:"digest,omitempty"`
	Entity     *MemberView     `json:"entity,omitempty"`
	Collection *CollectionView `json:"collection,omitempty"`
}

func newActionView(action string, res *manager.Result) *ActionView {
	v := &ActionView{Action: action}
	if res == nil {
		return v
	}
	v.ActionID = res.ActionID
	v.NoOp = res.NoOp
	v.Digest = res.Digest
	v.Collection = newCollectionView(res.Snapshot)
	if res.Entity.ID != "" {
		e := res.Entity
		v.Entity = &MemberView{ID: e.ID, Name: e.Name, Order: e.Order, Active: e.IsActive}
	}
	return v
}

func (v *ActionView) String() string {
	var b strings.Builder
	switch {
	case v.NoOp:
		fmt.Fprintf(&b, "%s: nothing to change", v.Action)
	case v.Entity != nil:
		fmt.Fprintf(&b, "%s: %s %q (action %s)", v.Action, v.Entity.ID, v.Entity.Name, v.ActionID)
	default:
		fmt.Fprintf(&b, "%s: done (action %s)", v.Action, v.ActionID)
	}
	if v.Collection != nil {
		b.WriteString("\n")
		b.WriteString(v.Collection.String())
	}
	return b.String()
}

// reportAction prints a manager result. A reconcile failure still carries
// the stale snapshot; it is printed before the error is reported.
func reportAction(f *OutputFormatter, action string, res *manager.Result, err error) error {
	if err != nil {
		if res != nil && res.Snapshot != nil {
			f.VerboseLog("%s", newActionView(action, res))
		}
		return f.Fail(err)
	}
	return f.SuccessWithTrace(newActionView(action, res), res.ActionID)
}
