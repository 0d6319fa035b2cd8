package store

import (
	"context"
	"sync"
	"time"

	"github.com/latticefact/runtime/internal/facts"
)

// InMemoryStore is a Store backed by process memory, used for testing and as
// the decomposition target for higher-level components before a durable
// backend is wired in.
type InMemoryStore struct {
	mu sync.RWMutex

	envelopes map[facts.Reference]facts.Envelope
	// successors indexes, for each (predecessorRef, role), the set of facts
	// that hold predecessorRef under that role, in discovery order.
	successors map[successorKey][]facts.Reference

	bookmarks map[string]string
	mru       map[string]time.Time
}

type successorKey struct {
	pred facts.Reference
	role string
}

// NewInMemory creates an empty InMemoryStore.
func NewInMemory() *InMemoryStore {
	return &InMemoryStore{
		envelopes:  make(map[facts.Reference]facts.Envelope),
		successors: make(map[successorKey][]facts.Reference),
		bookmarks:  make(map[string]string),
		mru:        make(map[string]time.Time),
	}
}

func (s *InMemoryStore) Save(_ context.Context, envelopes []facts.Envelope) ([]facts.Envelope, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var added []facts.Envelope
	for _, env := range envelopes {
		ref := env.Fact.Reference()
		existing, ok := s.envelopes[ref]
		if !ok {
			s.envelopes[ref] = env
			added = append(added, env)
			for role, pred := range env.Fact.Predecessors {
				for _, p := range pred.Refs() {
					key := successorKey{pred: p, role: role}
					s.successors[key] = append(s.successors[key], ref)
				}
			}
			continue
		}
		existing.Signatures = existing.MergeSignatures(env.Signatures)
		s.envelopes[ref] = existing
	}
	return added, nil
}

func (s *InMemoryStore) WhichExist(_ context.Context, refs []facts.Reference) ([]facts.Reference, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []facts.Reference
	for _, r := range refs {
		if _, ok := s.envelopes[r]; ok {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *InMemoryStore) Load(_ context.Context, refs []facts.Reference) ([]facts.Envelope, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	seen := make(map[facts.Reference]struct{})
	var out []facts.Envelope
	queue := append([]facts.Reference(nil), refs...)
	for len(queue) > 0 {
		ref := queue[0]
		queue = queue[1:]
		if _, dup := seen[ref]; dup {
			continue
		}
		seen[ref] = struct{}{}

		env, ok := s.envelopes[ref]
		if !ok {
			continue
		}
		out = append(out, env)
		for _, pred := range env.Fact.Predecessors {
			queue = append(queue, pred.Refs()...)
		}
	}
	return out, nil
}

func (s *InMemoryStore) LoadBookmark(_ context.Context, feed string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	bookmark, ok := s.bookmarks[feed]
	if !ok {
		return "", ErrUnknownFeed
	}
	return bookmark, nil
}

func (s *InMemoryStore) SaveBookmark(_ context.Context, feed, bookmark string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bookmarks[feed] = bookmark
	return nil
}

func (s *InMemoryStore) GetMRUDate(_ context.Context, specHash string) (time.Time, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	when, ok := s.mru[specHash]
	if !ok {
		return time.Time{}, ErrNoMRU
	}
	return when, nil
}

func (s *InMemoryStore) SetMRUDate(_ context.Context, specHash string, when time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mru[specHash] = when
	return nil
}

func (s *InMemoryStore) Purge(_ context.Context, trigger facts.Reference) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doomed := make(map[facts.Reference]struct{})
	queue := s.allSuccessorsOf(trigger)
	for len(queue) > 0 {
		ref := queue[0]
		queue = queue[1:]
		if _, already := doomed[ref]; already {
			continue
		}
		doomed[ref] = struct{}{}
		queue = append(queue, s.allSuccessorsOf(ref)...)
	}

	for ref := range doomed {
		env, ok := s.envelopes[ref]
		if !ok {
			continue
		}
		delete(s.envelopes, ref)
		for role, pred := range env.Fact.Predecessors {
			for _, p := range pred.Refs() {
				key := successorKey{pred: p, role: role}
				s.successors[key] = removeRef(s.successors[key], ref)
			}
		}
	}
	return len(doomed), nil
}

// allSuccessorsOf returns every fact that holds ref as a predecessor under
// any role.
func (s *InMemoryStore) allSuccessorsOf(ref facts.Reference) []facts.Reference {
	var out []facts.Reference
	for key, succs := range s.successors {
		if key.pred == ref {
			out = append(out, succs...)
		}
	}
	return out
}

func removeRef(refs []facts.Reference, target facts.Reference) []facts.Reference {
	out := refs[:0]
	for _, r := range refs {
		if r != target {
			out = append(out, r)
		}
	}
	return out
}

func (s *InMemoryStore) GetPredecessors(_ context.Context, ref facts.Reference, role, typ string) ([]facts.Reference, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	env, ok := s.envelopes[ref]
	if !ok {
		return nil, nil
	}
	pred, ok := env.Fact.Predecessors[role]
	if !ok {
		return nil, nil
	}
	refs := pred.Refs()
	if typ == "" {
		return refs, nil
	}
	var out []facts.Reference
	for _, r := range refs {
		if r.Type == typ {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *InMemoryStore) GetSuccessors(_ context.Context, ref facts.Reference, role, typ string) ([]facts.Reference, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	succs := s.successors[successorKey{pred: ref, role: role}]
	if typ == "" {
		return append([]facts.Reference(nil), succs...), nil
	}
	var out []facts.Reference
	for _, r := range succs {
		if r.Type == typ {
			out = append(out, r)
		}
	}
	return out, nil
}
