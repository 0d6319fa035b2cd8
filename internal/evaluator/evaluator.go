// Package evaluator implements the Specification Evaluator (component C5):
// given-condition filtering, match expansion, existential pruning, and
// projection, run against a GraphReader.
package evaluator

import (
	"context"
	"errors"
	"fmt"

	"github.com/latticefact/runtime/internal/facts"
	"github.com/latticefact/runtime/internal/spec"
)

// Sentinel errors named after spec.md §4.5/§7.
var (
	ErrUndefinedLabel       = errors.New("evaluator: undefined label")
	ErrTypeMismatch         = errors.New("evaluator: type mismatch")
	ErrUnknownFact          = errors.New("evaluator: unknown fact")
	ErrInvalidSpecification = errors.New("evaluator: invalid specification")
)

// GraphReader is the store-backed interface the evaluator walks the fact
// graph through. Implementations must not depend on any particular
// multi-valued-role ordering other than stored insertion order.
type GraphReader interface {
	// GetPredecessors returns the references held by ref's named role,
	// restricted to the given type (empty type means "any"). The order
	// matches storage order for multi-valued roles.
	GetPredecessors(ctx context.Context, ref facts.Reference, role, typ string) ([]facts.Reference, error)
	// GetSuccessors returns the references of facts of the given type that
	// hold ref under the named predecessor role, in discovery order.
	GetSuccessors(ctx context.Context, ref facts.Reference, role, typ string) ([]facts.Reference, error)
}

// Binding maps specification labels to concrete fact references.
type Binding map[string]facts.Reference

// Result is a projected output: a single reference, an ordered tuple, a
// named composite, or an ordered collection, mirroring spec.ProjectionKind.
type Result struct {
	Kind      spec.ProjectionKind
	Reference facts.Reference
	Tuple     []Result
	Order     []string
	Composite map[string]Result
	Items     []Result
}

// Evaluator runs specifications against a GraphReader.
type Evaluator struct {
	reader GraphReader
}

// New creates an Evaluator backed by reader.
func New(reader GraphReader) *Evaluator {
	return &Evaluator{reader: reader}
}

// Read evaluates s with the given labels bound to start, and returns the
// deduplicated, ordered projection results.
func (e *Evaluator) Read(ctx context.Context, start Binding, s spec.Specification) ([]Result, error) {
	binding := make(Binding, len(start))
	for k, v := range start {
		binding[k] = v
	}

	for _, g := range s.Given {
		ref, ok := binding[g.Label]
		if !ok {
			return nil, fmt.Errorf("%w: given label %q not bound", ErrUndefinedLabel, g.Label)
		}
		if g.Type != "" && ref.Type != g.Type {
			return nil, fmt.Errorf("%w: given label %q expected type %q, got %q", ErrTypeMismatch, g.Label, g.Type, ref.Type)
		}
		for _, cond := range g.Conditions {
			ok, err := e.evalExistentialOnlyCondition(ctx, cond, binding)
			if err != nil {
				return nil, err
			}
			if !ok {
				// Early filtering: the entire evaluation yields the empty
				// result; matches/projection must not run.
				return nil, nil
			}
		}
	}

	bindings := []Binding{binding}
	var err error
	bindings, err = e.expandMatches(ctx, bindings, s.Matches)
	if err != nil {
		return nil, err
	}

	results := make([]Result, 0, len(bindings))
	seen := make(map[string]struct{}, len(bindings))
	for _, b := range bindings {
		r, err := e.project(ctx, b, s.Projection)
		if err != nil {
			return nil, err
		}
		key := resultKey(r)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		results = append(results, r)
	}
	return results, nil
}

// evalExistentialOnlyCondition evaluates a given-condition, which per
// spec.md §4.5(1) must be existential; any other kind is a specification
// error.
func (e *Evaluator) evalExistentialOnlyCondition(ctx context.Context, cond spec.Condition, binding Binding) (bool, error) {
	if cond.Kind != spec.ConditionExistential {
		return false, fmt.Errorf("%w: expected existential got %d", ErrInvalidSpecification, cond.Kind)
	}
	return e.evalExistential(ctx, *cond.Existential, binding)
}

func (e *Evaluator) evalExistential(ctx context.Context, ec spec.ExistentialCondition, binding Binding) (bool, error) {
	// An existential condition with no matches traverses nothing, so it
	// produces zero tuples by construction — unlike expandMatches's
	// top-level pass-through (used by Read for an empty specification),
	// where no matches means "project the given binding directly". Handle
	// that distinction here rather than delegating to expandMatches, whose
	// pass-through branch would otherwise make nonEmpty trivially true.
	if len(ec.Matches) == 0 {
		return !ec.Exists, nil
	}
	sub, err := e.expandMatches(ctx, []Binding{binding}, ec.Matches)
	if err != nil {
		return false, err
	}
	nonEmpty := len(sub) > 0
	if ec.Exists {
		return nonEmpty, nil
	}
	return !nonEmpty, nil
}

func (e *Evaluator) expandMatches(ctx context.Context, bindings []Binding, matches []spec.Match) ([]Binding, error) {
	current := bindings
	for _, m := range matches {
		var next []Binding
		for _, b := range current {
			candidates, err := e.candidatesFor(ctx, b, m)
			if err != nil {
				return nil, err
			}
			for _, cand := range candidates {
				extended := cloneBinding(b)
				extended[m.UnknownLabel] = cand

				ok, err := e.evalMatchConditions(ctx, m.Conditions, extended)
				if err != nil {
					return nil, err
				}
				if ok {
					next = append(next, extended)
				}
			}
		}
		current = next
	}
	return current, nil
}

// candidatesFor finds candidate references for a match's unknown label by
// locating a defining path condition of the form
// unknown[role] = other[roles...] (or the mirrored form), walking "other"'s
// predecessor chain, then asking the store for successors of the named
// type/role.
func (e *Evaluator) candidatesFor(ctx context.Context, binding Binding, m spec.Match) ([]facts.Reference, error) {
	for _, cond := range m.Conditions {
		if cond.Kind != spec.ConditionPath {
			continue
		}
		role, otherExpr, ok := definingSide(cond.Path, m.UnknownLabel)
		if !ok {
			continue
		}
		roots, err := e.walk(ctx, binding, otherExpr)
		if err != nil {
			return nil, err
		}
		seen := make(map[facts.Reference]struct{})
		var out []facts.Reference
		for _, root := range roots {
			succs, err := e.reader.GetSuccessors(ctx, root, role, m.UnknownType)
			if err != nil {
				return nil, err
			}
			for _, s := range succs {
				if _, dup := seen[s]; dup {
					continue
				}
				seen[s] = struct{}{}
				out = append(out, s)
			}
		}
		return out, nil
	}
	return nil, fmt.Errorf("%w: match %q has no defining path condition", ErrInvalidSpecification, m.UnknownLabel)
}

// definingSide looks for exactly one side of a path condition that is
// `unknownLabel[singleRole]`, returning that role and the other side's
// expression.
func definingSide(pc *spec.PathCondition, unknownLabel string) (role string, other spec.PathExpr, ok bool) {
	if pc.Left.Label == unknownLabel && len(pc.Left.Roles) == 1 {
		return pc.Left.Roles[0], pc.Right, true
	}
	if pc.Right.Label == unknownLabel && len(pc.Right.Roles) == 1 {
		return pc.Right.Roles[0], pc.Left, true
	}
	return "", spec.PathExpr{}, false
}

func (e *Evaluator) evalMatchConditions(ctx context.Context, conds []spec.Condition, binding Binding) (bool, error) {
	for _, cond := range conds {
		switch cond.Kind {
		case spec.ConditionPath:
			ok, err := e.evalPath(ctx, *cond.Path, binding)
			if err != nil {
				return false, err
			}
			if !ok {
				return false, nil
			}
		case spec.ConditionExistential:
			ok, err := e.evalExistential(ctx, *cond.Existential, binding)
			if err != nil {
				return false, err
			}
			if !ok {
				return false, nil
			}
		default:
			return false, fmt.Errorf("%w: unknown condition kind %d", ErrInvalidSpecification, cond.Kind)
		}
	}
	return true, nil
}

func (e *Evaluator) evalPath(ctx context.Context, pc spec.PathCondition, binding Binding) (bool, error) {
	left, err := e.walk(ctx, binding, pc.Left)
	if err != nil {
		return false, err
	}
	right, err := e.walk(ctx, binding, pc.Right)
	if err != nil {
		return false, err
	}
	for _, l := range left {
		for _, r := range right {
			if l == r {
				return true, nil
			}
		}
	}
	return false, nil
}

// walk resolves a PathExpr to the set of references reached by following
// its role chain from its bound label, branching across multi-valued roles.
func (e *Evaluator) walk(ctx context.Context, binding Binding, expr spec.PathExpr) ([]facts.Reference, error) {
	start, ok := binding[expr.Label]
	if !ok {
		return nil, fmt.Errorf("%w: label %q not bound", ErrUndefinedLabel, expr.Label)
	}
	current := []facts.Reference{start}
	for _, role := range expr.Roles {
		var next []facts.Reference
		for _, ref := range current {
			preds, err := e.reader.GetPredecessors(ctx, ref, role, "")
			if err != nil {
				return nil, err
			}
			next = append(next, preds...)
		}
		current = next
	}
	return current, nil
}

func cloneBinding(b Binding) Binding {
	out := make(Binding, len(b)+1)
	for k, v := range b {
		out[k] = v
	}
	return out
}

func (e *Evaluator) project(ctx context.Context, binding Binding, p spec.Projection) (Result, error) {
	switch p.Kind {
	case spec.ProjectionLabel:
		ref, ok := binding[p.Label]
		if !ok {
			return Result{}, fmt.Errorf("%w: projection label %q not bound", ErrUndefinedLabel, p.Label)
		}
		return Result{Kind: spec.ProjectionLabel, Reference: ref}, nil

	case spec.ProjectionTuple:
		tuple := make([]Result, 0, len(p.Tuple))
		for _, sub := range p.Tuple {
			r, err := e.project(ctx, binding, sub)
			if err != nil {
				return Result{}, err
			}
			tuple = append(tuple, r)
		}
		return Result{Kind: spec.ProjectionTuple, Tuple: tuple}, nil

	case spec.ProjectionComposite:
		out := make(map[string]Result, len(p.Composite))
		for _, name := range p.CompositeOrder {
			sub, ok := p.Composite[name]
			if !ok {
				continue
			}
			r, err := e.project(ctx, binding, sub)
			if err != nil {
				return Result{}, err
			}
			out[name] = r
		}
		return Result{Kind: spec.ProjectionComposite, Order: p.CompositeOrder, Composite: out}, nil

	case spec.ProjectionCollection:
		if p.Collection == nil || p.Of == nil {
			return Result{}, fmt.Errorf("%w: collection projection missing spec/of", ErrInvalidSpecification)
		}
		sub := New(e.reader)
		items, err := sub.Read(ctx, binding, *p.Collection)
		if err != nil {
			return Result{}, err
		}
		return Result{Kind: spec.ProjectionCollection, Items: items}, nil

	default:
		return Result{}, fmt.Errorf("%w: unknown projection kind %d", ErrInvalidSpecification, p.Kind)
	}
}

func resultKey(r Result) string {
	switch r.Kind {
	case spec.ProjectionLabel:
		return r.Reference.String()
	case spec.ProjectionTuple:
		key := "("
		for _, t := range r.Tuple {
			key += resultKey(t) + ","
		}
		return key + ")"
	case spec.ProjectionComposite:
		key := "{"
		for _, name := range r.Order {
			key += name + ":" + resultKey(r.Composite[name]) + ","
		}
		return key + "}"
	case spec.ProjectionCollection:
		key := "["
		for _, it := range r.Items {
			key += resultKey(it) + ","
		}
		return key + "]"
	default:
		return ""
	}
}
