package ordering

import (
	"encoding/json"
	"fmt"
	"sort"

	"golang.org/x/text/collate"
	"golang.org/x/text/language"
)

// Entity is one member of an ordered collection as served by the backend.
type Entity struct {
	ID    string `json:"id"`
	Name  string `json:"name,omitempty"`
	Order int    `json:"order"`

	// IsActive is nil for collections that carry no activation flag.
	IsActive *bool `json:"isActive,omitempty"`
}

// Active reports whether the entity is flagged active.
func (e Entity) Active() bool {
	return e.IsActive != nil && *e.IsActive
}

// UnmarshalJSON accepts "title" as a fallback label, which banner payloads use.
func (e *Entity) UnmarshalJSON(data []byte) error {
	var raw struct {
		ID       string `json:"id"`
		Name     string `json:"name"`
		Title    string `json:"title"`
		Order    int    `json:"order"`
		IsActive *bool  `json:"isActive"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if raw.ID == "" {
		return fmt.Errorf("entity missing id")
	}
	e.ID = raw.ID
	e.Name = raw.Name
	if e.Name == "" {
		e.Name = raw.Title
	}
	e.Order = raw.Order
	e.IsActive = raw.IsActive
	return nil
}

// Bool returns a pointer to b, for building IsActive values.
func Bool(b bool) *bool {
	return &b
}

// Placement assigns an order value to one entity id.
type Placement struct {
	ID    string `json:"id"`
	Order int    `json:"order"`
}

// Assignment is a full (id, order) mapping for a collection, in list order.
type Assignment []Placement

// IDs returns the assignment's ids in list order.
func (a Assignment) IDs() []string {
	ids := make([]string, len(a))
	for i, p := range a {
		ids[i] = p.ID
	}
	return ids
}

// AssignmentOf captures the current (id, order) pairs of list without changing them.
func AssignmentOf(list []Entity) Assignment {
	a := make(Assignment, len(list))
	for i, e := range list {
		a[i] = Placement{ID: e.ID, Order: e.Order}
	}
	return a
}

// SortPolicy selects how a fetched collection is ordered before planning.
type SortPolicy string

const (
	// SortOrderName sorts by order ascending, then name ascending
	// (alphabetical, case-insensitive). Used for categories.
	SortOrderName SortPolicy = "order_name"

	// SortServer keeps the order the backend returned.
	SortServer SortPolicy = "server"
)

// Sort returns a sorted copy of list according to policy.
// The sort is stable: entities that tie on every key keep their input order.
func Sort(list []Entity, policy SortPolicy) []Entity {
	out := Clone(list)
	if policy != SortOrderName {
		return out
	}

	col := collate.New(language.Und, collate.IgnoreCase)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Order != out[j].Order {
			return out[i].Order < out[j].Order
		}
		return col.CompareString(out[i].Name, out[j].Name) < 0
	})
	return out
}

// Reindex returns a copy of list with every order set to base plus its position.
// Applying Reindex to its own output returns an identical list.
func Reindex(list []Entity, base int) []Entity {
	out := Clone(list)
	for i := range out {
		out[i].Order = base + i
	}
	return out
}

// IsContiguous reports whether list's orders are exactly base, base+1, ... in list order.
func IsContiguous(list []Entity, base int) bool {
	for i, e := range list {
		if e.Order != base+i {
			return false
		}
	}
	return true
}

// IndexOf returns the position of id in list, or -1.
func IndexOf(list []Entity, id string) int {
	for i, e := range list {
		if e.ID == id {
			return i
		}
	}
	return -1
}

// NextOrder returns the order an appended entity should take:
// one past the current maximum, or base for an empty collection.
func NextOrder(list []Entity, base int) int {
	if len(list) == 0 {
		return base
	}
	max := list[0].Order
	for _, e := range list[1:] {
		if e.Order > max {
			max = e.Order
		}
	}
	if max < base {
		return base
	}
	return max + 1
}

// Clone deep-copies list, including IsActive pointers.
func Clone(list []Entity) []Entity {
	out := make([]Entity, len(list))
	for i, e := range list {
		out[i] = e
		if e.IsActive != nil {
			out[i].IsActive = Bool(*e.IsActive)
		}
	}
	return out
}
