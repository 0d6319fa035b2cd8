// Package authz implements the Authorization Engine (component C8):
// per-fact-type write authorization rules and the authorized-population
// computation run against a candidate fact before it is accepted.
package authz

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/latticefact/runtime/internal/facts"
)

// ErrInvalidAuthorizationRule is returned by RegisterSelector when a
// selector does not begin with a predecessor step.
var ErrInvalidAuthorizationRule = errors.New("authz: invalid authorization rule")

// Selector names a predecessor-role chain walked from a candidate fact to
// reach the User facts permitted to author it. Selectors are, by
// construction, predecessor-only: spec.md §4.8 requires a selector to
// "begin with a predecessor step" and never expect successors, which this
// runtime represents directly as an ordered role chain rather than a full
// specification — see DESIGN.md's Open Question entry for this package.
type Selector struct {
	Roles []string
}

type rule struct {
	any      bool
	selector Selector
}

// Reader is the subset of a fact store the engine needs: role-chain
// traversal and full-envelope loading (to read a resolved User's public
// key field). internal/store.Store satisfies this directly.
type Reader interface {
	GetPredecessors(ctx context.Context, ref facts.Reference, role, typ string) ([]facts.Reference, error)
	Load(ctx context.Context, refs []facts.Reference) ([]facts.Envelope, error)
}

// Population is the result of evaluating every rule for a fact type: either
// everyone may author, a specific key set may, or nobody may (no rule
// applied).
type Population struct {
	Everyone bool
	Keys     map[string]struct{}
}

// Allows reports whether publicKey is permitted to author under this
// population.
func (p Population) Allows(publicKey string) bool {
	if p.Everyone {
		return true
	}
	_, ok := p.Keys[publicKey]
	return ok
}

// Engine holds the authorization rule set, keyed by fact type.
type Engine struct {
	mu    sync.RWMutex
	rules map[string][]rule
}

// New creates an empty Engine.
func New() *Engine {
	return &Engine{rules: make(map[string][]rule)}
}

// RegisterAny grants authorship of factType to any principal.
func (e *Engine) RegisterAny(factType string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.rules[factType] = append(e.rules[factType], rule{any: true})
}

// RegisterSelector grants authorship of factType to whatever User facts the
// selector resolves to from a candidate fact of that type. The selector
// must carry at least one predecessor role.
func (e *Engine) RegisterSelector(factType string, selector Selector) error {
	if len(selector.Roles) == 0 {
		return fmt.Errorf("%w: selector for %q has no predecessor roles", ErrInvalidAuthorizationRule, factType)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.rules[factType] = append(e.rules[factType], rule{selector: selector})
	return nil
}

// AuthorizedPopulation computes the authorized-population for a candidate
// fact per spec.md §4.8: everyone if any applicable rule is `any`,
// otherwise the union of every selector's resolved User public keys, or
// nobody if no rule applies.
func (e *Engine) AuthorizedPopulation(ctx context.Context, reader Reader, candidate facts.Fact) (Population, error) {
	e.mu.RLock()
	rules := append([]rule(nil), e.rules[candidate.Type]...)
	e.mu.RUnlock()

	if len(rules) == 0 {
		return Population{}, nil
	}

	for _, r := range rules {
		if r.any {
			return Population{Everyone: true}, nil
		}
	}

	keys := make(map[string]struct{})
	ref := candidate.Reference()
	for _, r := range rules {
		users, err := walkSelector(ctx, reader, ref, r.selector)
		if err != nil {
			return Population{}, err
		}
		envs, err := reader.Load(ctx, users)
		if err != nil {
			return Population{}, err
		}
		for _, env := range envs {
			pk, ok := env.Fact.Fields["publicKey"].(string)
			if !ok {
				continue
			}
			keys[pk] = struct{}{}
		}
	}
	return Population{Keys: keys}, nil
}

// Authorize reports whether signerPublicKey is permitted to author
// candidate.
func (e *Engine) Authorize(ctx context.Context, reader Reader, candidate facts.Fact, signerPublicKey string) (bool, error) {
	population, err := e.AuthorizedPopulation(ctx, reader, candidate)
	if err != nil {
		return false, err
	}
	return population.Allows(signerPublicKey), nil
}

// walkSelector follows selector.Roles from ref, branching across
// multi-valued roles at each step, and returns the references reached at
// the end of the chain.
func walkSelector(ctx context.Context, reader Reader, ref facts.Reference, selector Selector) ([]facts.Reference, error) {
	current := []facts.Reference{ref}
	for _, role := range selector.Roles {
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
