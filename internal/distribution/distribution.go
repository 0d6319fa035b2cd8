// Package distribution implements the Distribution Engine (component C9):
// per-specification read authorization via share rules, decided by
// decomposing the requested specification into feeds (C6) and checking
// each feed against the registered rules.
package distribution

import (
	"context"
	"errors"
	"fmt"

	"github.com/latticefact/runtime/internal/facts"
	"github.com/latticefact/runtime/internal/feed"
	"github.com/latticefact/runtime/internal/spec"
)

// ErrDistributionDenied is wrapped into the error returned by DecideErr when
// at least one feed of the requested specification is not covered by any
// share rule granting the requesting user.
var ErrDistributionDenied = errors.New("distribution: denied")

// GraphReader is the predecessor-walk capability the engine needs to
// resolve a withSpec's role chain into User references.
type GraphReader interface {
	GetPredecessors(ctx context.Context, ref facts.Reference, role, typ string) ([]facts.Reference, error)
}

// WithSpec identifies the permitted User population for a share rule as a
// predecessor-role chain walked from a label already bound in the
// requested specification's starting binding — the same predecessor-only
// shape internal/authz uses for authorization selectors, since this
// runtime's match semantics only ever introduce labels via successor
// traversal (see DESIGN.md's Open Question entry for this package).
type WithSpec struct {
	RootLabel string
	Roles     []string
}

// shareRule is (shareSpec, withSpec) from spec.md §4.9, pre-decomposed into
// the feed descriptions it subsumes so matching a request's feed against it
// is a string comparison rather than a specification-equivalence check.
type shareRule struct {
	subsumedFeeds map[string]struct{}
	with          WithSpec
	withEveryone  bool
}

// Engine holds the registered share rules and the test-mode flag that
// controls how much detail a denial carries.
type Engine struct {
	rules    []shareRule
	testMode bool
}

// New creates an Engine. In testMode, denials include the expected
// principal set and presented user for debuggability; in production they
// carry only a generic reason.
func New(testMode bool) *Engine {
	return &Engine{testMode: testMode}
}

// RegisterShare adds a share rule: any feed of shareSpec becomes readable
// by whatever User facts with resolves to, walked from the requesting
// read's starting binding.
func (e *Engine) RegisterShare(shareSpec spec.Specification, with WithSpec) {
	e.rules = append(e.rules, shareRule{subsumedFeeds: feedSet(shareSpec), with: with})
}

// RegisterShareWithEveryone adds a share rule making any feed of shareSpec
// readable by every principal.
func (e *Engine) RegisterShareWithEveryone(shareSpec spec.Specification) {
	e.rules = append(e.rules, shareRule{subsumedFeeds: feedSet(shareSpec), withEveryone: true})
}

func feedSet(s spec.Specification) map[string]struct{} {
	out := make(map[string]struct{})
	for _, f := range feed.Build(s) {
		out[f.Describe()] = struct{}{}
	}
	return out
}

// Decision is the outcome of Decide: either Allowed, or not, in which case
// Reason explains why and (in test mode only) ExpectedPrincipals/
// PresentedUser carry debugging detail.
type Decision struct {
	Allowed            bool
	Reason             string
	ExpectedPrincipals []facts.Reference
	PresentedUser      facts.Reference
}

// Decide computes the distribution decision for requesting user against
// specification q, whose feeds are walked starting from the bindings in
// start.
//
// Per spec.md §4.9: q is decomposed into feeds; each feed must be subsumed
// by some registered rule, and that rule's population (withEveryone, or the
// role chain's resolved User references) must include user. If any feed has
// no matching rule, or no matching rule's population includes user, the
// decision is a denial.
func (e *Engine) Decide(ctx context.Context, reader GraphReader, q spec.Specification, start map[string]facts.Reference, user facts.Reference) (Decision, error) {
	for _, f := range feed.Build(q) {
		allowed, expected, err := e.evaluateFeed(ctx, reader, f, start, user)
		if err != nil {
			return Decision{}, err
		}
		if allowed {
			continue
		}
		d := Decision{Allowed: false, Reason: "no share rule grants this principal"}
		if e.testMode {
			d.ExpectedPrincipals = expected
			d.PresentedUser = user
		}
		return d, nil
	}
	return Decision{Allowed: true}, nil
}

// DecideErr is a convenience wrapper returning a wrapped ErrDistributionDenied
// instead of a Decision, for callers that prefer the error-handling idiom.
func (e *Engine) DecideErr(ctx context.Context, reader GraphReader, q spec.Specification, start map[string]facts.Reference, user facts.Reference) error {
	d, err := e.Decide(ctx, reader, q, start, user)
	if err != nil {
		return err
	}
	if d.Allowed {
		return nil
	}
	return fmt.Errorf("%w: %s", ErrDistributionDenied, d.Reason)
}

func (e *Engine) evaluateFeed(ctx context.Context, reader GraphReader, f feed.Feed, start map[string]facts.Reference, user facts.Reference) (bool, []facts.Reference, error) {
	description := f.Describe()
	var expected []facts.Reference

	for _, r := range e.rules {
		if _, subsumed := r.subsumedFeeds[description]; !subsumed {
			continue
		}
		if r.withEveryone {
			return true, nil, nil
		}
		root, ok := start[r.with.RootLabel]
		if !ok {
			continue
		}
		users, err := walkRoles(ctx, reader, root, r.with.Roles)
		if err != nil {
			return false, nil, err
		}
		expected = append(expected, users...)
		for _, u := range users {
			if u == user {
				return true, nil, nil
			}
		}
	}
	return false, expected, nil
}

// walkRoles follows roles from ref, branching across multi-valued roles at
// each step, and returns the references reached at the end of the chain.
func walkRoles(ctx context.Context, reader GraphReader, ref facts.Reference, roles []string) ([]facts.Reference, error) {
	current := []facts.Reference{ref}
	for _, role := range roles {
		var next []facts.Reference
		for _, r := range current {
			preds, err := reader.GetPredecessors(ctx, r, role, "")
			if err != nil {
				return nil, err
			}
			next = append(next, preds...)
		}
		current = next
	}
	return current, nil
}
