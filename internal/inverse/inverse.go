// Package inverse implements the Inverse Engine (component C7): deriving,
// from a specification, the set of listeners that must fire when a newly
// saved fact can change that specification's result.
package inverse

import (
	"context"

	"github.com/latticefact/runtime/internal/facts"
	"github.com/latticefact/runtime/internal/spec"
)

// Inverse is a (predecessor-walk, added, removed) triple: when a fact of
// Type is saved, its Role-predecessor identifies the anchor fact that the
// outer specification was bound to. Added (if non-empty) is re-run with
// that anchor bound to discover newly-qualifying results; Removed (if
// non-empty) is re-run to discover results that must now be retracted.
type Inverse struct {
	Type        string
	Role        string
	AnchorLabel string
	Added       spec.Specification
	Removed     spec.Specification
}

// HasAdded and HasRemoved report whether Added/Removed were actually
// populated, as opposed to holding the zero value (meaning "not
// applicable" for this inverse).
func (inv Inverse) HasAdded() bool {
	return len(inv.Added.Given) > 0 || len(inv.Added.Matches) > 0
}

func (inv Inverse) HasRemoved() bool {
	return len(inv.Removed.Given) > 0 || len(inv.Removed.Matches) > 0
}

// Derive walks s's matches and existential sub-blocks, producing one
// Inverse per traversal step that a newly saved fact could affect.
//
// A plain path match only ever adds results as the store grows (facts are
// never retracted), so it produces an Added-only inverse. An existential
// condition's monotonicity depends on its polarity: an `exists` condition
// can only flip false→true as new facts arrive, so it produces an
// Added-only inverse (re-running the outer specification); a `notExists`
// condition can only flip true→false, so it produces a Removed-only
// inverse (re-running the outer specification with that condition
// stripped, to discover exactly the tuple that no longer qualifies).
func Derive(s spec.Specification) []Inverse {
	var out []Inverse
	deriveMatches(s, s.Matches, nil, &out)
	return out
}

func deriveMatches(root spec.Specification, matches []spec.Match, path []int, out *[]Inverse) {
	for i, m := range matches {
		idxPath := append(append([]int(nil), path...), i)

		if role, anchor, ok := definingSide(m); ok {
			*out = append(*out, Inverse{
				Type:        m.UnknownType,
				Role:        role,
				AnchorLabel: anchor,
				Added:       root,
			})
		}

		for ci, cond := range m.Conditions {
			if cond.Kind != spec.ConditionExistential {
				continue
			}
			deriveExistential(root, idxPath, ci, *cond.Existential, out)
		}
	}
}

// deriveExistential derives inverses for one existential condition's inner
// matches, and recurses into any nested existentials within them.
func deriveExistential(root spec.Specification, matchPath []int, condIndex int, ec spec.ExistentialCondition, out *[]Inverse) {
	for _, inner := range ec.Matches {
		if role, anchor, ok := definingSide(inner); ok {
			inv := Inverse{Type: inner.UnknownType, Role: role, AnchorLabel: anchor}
			if ec.Exists {
				inv.Added = root
			} else {
				inv.Removed = stripExistential(root, matchPath, condIndex)
			}
			*out = append(*out, inv)
		}
		for ci, cond := range inner.Conditions {
			if cond.Kind != spec.ConditionExistential {
				continue
			}
			deriveExistential(root, matchPath, condIndex, *cond.Existential, out)
		}
	}
}

// definingSide mirrors the evaluator's single-defining-role rule: exactly
// one side of some path condition on m must be `m.UnknownLabel[role]`,
// identifying the role a new fact of m's type is anchored under and the
// label that anchor resolves to in the outer binding.
func definingSide(m spec.Match) (role, anchorLabel string, ok bool) {
	for _, cond := range m.Conditions {
		if cond.Kind != spec.ConditionPath {
			continue
		}
		pc := cond.Path
		if pc.Left.Label == m.UnknownLabel && len(pc.Left.Roles) == 1 && len(pc.Right.Roles) == 0 {
			return pc.Left.Roles[0], pc.Right.Label, true
		}
		if pc.Right.Label == m.UnknownLabel && len(pc.Right.Roles) == 1 && len(pc.Left.Roles) == 0 {
			return pc.Right.Roles[0], pc.Left.Label, true
		}
	}
	return "", "", false
}

// stripExistential returns a copy of root with the existential condition at
// condIndex removed from the top-level match named by matchPath[0]'s
// condition list, so re-running it surfaces the tuple that condition was
// excluding. matchPath always has exactly one element in this engine: it
// names the top-level match that carries the (possibly nested) existential
// being stripped, since a nested existential's own inner conditions are
// never independently re-runnable without their enclosing condition.
func stripExistential(root spec.Specification, matchPath []int, condIndex int) spec.Specification {
	out := root
	out.Matches = cloneMatches(root.Matches)
	idx := matchPath[0]
	m := out.Matches[idx]
	m.Conditions = append(append([]spec.Condition(nil), m.Conditions[:condIndex]...), m.Conditions[condIndex+1:]...)
	out.Matches[idx] = m
	return out
}

func cloneMatches(matches []spec.Match) []spec.Match {
	out := make([]spec.Match, len(matches))
	for i, m := range matches {
		out[i] = m
		out[i].Conditions = append([]spec.Condition(nil), m.Conditions...)
	}
	return out
}

// GraphReader is the subset of evaluator.GraphReader the inverse engine
// needs to resolve a newly saved fact back to its anchor reference.
type GraphReader interface {
	GetPredecessors(ctx context.Context, ref facts.Reference, role, typ string) ([]facts.Reference, error)
}

// AnchorsFor resolves the anchor reference(s) that a newly saved fact
// matching inv.Type is bound to, by reading its Role-predecessor.
func (inv Inverse) AnchorsFor(ctx context.Context, reader GraphReader, newFact facts.Reference) ([]facts.Reference, error) {
	return reader.GetPredecessors(ctx, newFact, inv.Role, "")
}
