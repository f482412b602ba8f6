// Package guard enforces active-set caps before an activation is submitted.
//
// The check is preventive only. The backend stays the final authority and may
// reject an activation the guard allowed, for example when two staff members
// activate banners at the same moment.
package guard

import (
	"github.com/roach88/marketadmin/internal/apperr"
	"github.com/roach88/marketadmin/internal/ordering"
)

// Site names the call site requesting an activation. All sites share the
// same counting rule; the site only appears in errors and logs.
type Site string

const (
	SiteCreate Site = "create"
	SiteToggle Site = "toggle"
	SiteEdit   Site = "edit"
)

// Guard limits how many members of a collection may be active at once.
// Cap == 0 means unbounded.
type Guard struct {
	Cap int
}

// New returns a guard with the given cap.
func New(cap int) Guard {
	return Guard{Cap: cap}
}

// Bounded reports whether the guard enforces any cap.
func (g Guard) Bounded() bool {
	return g.Cap > 0
}

// ActiveCount counts active entities, skipping excludeID so an entity that
// is already active and being saved again does not count against itself.
func ActiveCount(list []ordering.Entity, excludeID string) int {
	n := 0
	for _, e := range list {
		if e.ID == excludeID && excludeID != "" {
			continue
		}
		if e.Active() {
			n++
		}
	}
	return n
}

// CanActivate reports whether candidateID may become active.
// Pass an empty candidateID for an entity that does not exist yet.
func (g Guard) CanActivate(list []ordering.Entity, candidateID string) bool {
	if !g.Bounded() {
		return true
	}
	return ActiveCount(list, candidateID) < g.Cap
}

// Check returns a validation error when candidateID may not become active.
func (g Guard) Check(list []ordering.Entity, candidateID string, site Site) error {
	if g.CanActivate(list, candidateID) {
		return nil
	}
	err := apperr.Validation(apperr.CodeActiveCapReached,
		"at most %d may be active at once (%s)", g.Cap, site)
	err.EntityID = candidateID
	return err
}
