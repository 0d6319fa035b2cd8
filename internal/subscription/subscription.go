// Package subscription implements the Subscription Manager (component C10):
// mapping a user's (start, specification) request to feed strings, keeping
// one reference-counted Subscriber per feed, batching load requests across
// concurrent fetches, and notifying observers of newly saved envelopes.
package subscription

import (
	"context"
	"fmt"
	"sync"

	"github.com/latticefact/runtime/internal/facts"
	"github.com/latticefact/runtime/internal/feed"
	"github.com/latticefact/runtime/internal/spec"
	"github.com/latticefact/runtime/internal/store"
)

// Network is the transport-level capability the manager needs: batched
// loading of fact envelopes, existence checks, and a streaming connection
// per feed. internal/httpfetch's Client and internal/netadapter's Adapter
// satisfy this; internal/transport's StreamSocket supplies only Stream.
type Network interface {
	WhichExist(ctx context.Context, refs []facts.Reference) ([]facts.Reference, error)
	Load(ctx context.Context, refs []facts.Reference) ([]facts.Envelope, error)
	Stream(ctx context.Context, feedStr, bookmark string) (<-chan StreamChunk, error)
}

// StreamChunk is one response unit from a feed's streaming connection: a
// batch of fact references to resolve and a bookmark to persist once they
// are saved and observers notified.
type StreamChunk struct {
	Refs     []facts.Reference
	Bookmark string
}

// Observer is notified with every envelope newly saved by the manager,
// whether resolved from a load batch or a stream chunk.
type Observer func(envelopes []facts.Envelope)

// Manager coordinates feed subscriptions for one user session: it resolves
// a (start, specification) pair into feed strings via internal/feed, keeps
// one Subscriber per feed alive for as long as something references it, and
// centralizes load batching (see loadbatch.go) and observer dispatch so
// concurrent fetches that join the same batch share one network fetch per
// fact.
type Manager struct {
	net   Network
	store store.Store

	mu          sync.Mutex
	subscribers map[string]*Subscriber // feed string -> subscriber

	batchMu sync.Mutex
	open    *loadBatch
	busy    bool
	waiting []*loadBatch

	obsMu     sync.Mutex
	observers map[int]Observer
	nextObsID int

	retry RetryPolicy
}

// NewManager creates a Manager backed by net for network access and s for
// persistence, using the default retry policy.
func NewManager(net Network, s store.Store) *Manager {
	return &Manager{
		net:         net,
		store:       s,
		subscribers: make(map[string]*Subscriber),
		observers:   make(map[int]Observer),
		retry:       DefaultRetryPolicy(),
	}
}

// AddObserver registers fn to be called with every envelope the manager
// saves. The returned function removes the registration.
func (m *Manager) AddObserver(fn Observer) func() {
	m.obsMu.Lock()
	id := m.nextObsID
	m.nextObsID++
	m.observers[id] = fn
	m.obsMu.Unlock()
	return func() {
		m.obsMu.Lock()
		delete(m.observers, id)
		m.obsMu.Unlock()
	}
}

// SaveDecoded persists envelopes already resolved in full — the WebSocket
// transport's graph lines arrive this way, decoded ahead of any bookmark
// advance, rather than as bare references to fetch — and notifies
// observers. Unlike Load, it never touches the network or the load-batch
// accumulator.
func (m *Manager) SaveDecoded(ctx context.Context, envelopes []facts.Envelope) error {
	saved, err := m.store.Save(ctx, envelopes)
	if err != nil {
		return err
	}
	m.notify(saved)
	return nil
}

func (m *Manager) notify(envelopes []facts.Envelope) {
	if len(envelopes) == 0 {
		return
	}
	m.obsMu.Lock()
	fns := make([]Observer, 0, len(m.observers))
	for _, fn := range m.observers {
		fns = append(fns, fn)
	}
	m.obsMu.Unlock()
	for _, fn := range fns {
		fn(envelopes)
	}
}

// Subscribe resolves sp into its constituent feeds (via internal/feed),
// starts or joins a Subscriber for each one, and returns a handle whose
// Close releases every feed reference it holds. start binds the
// specification's Given labels to concrete references.
func (m *Manager) Subscribe(ctx context.Context, start map[string]facts.Reference, sp spec.Specification) (*Subscription, error) {
	feeds := feed.Build(sp)
	held := make([]*Subscriber, 0, len(feeds))

	for _, f := range feeds {
		key := f.Describe()
		sub := m.acquire(key, f)
		if err := sub.ensureStarted(ctx, start); err != nil {
			for _, h := range held {
				m.release(h)
			}
			return nil, fmt.Errorf("subscription: starting feed %q: %w", key, err)
		}
		held = append(held, sub)
	}

	return &Subscription{manager: m, subs: held}, nil
}

func (m *Manager) acquire(key string, f feed.Feed) *Subscriber {
	m.mu.Lock()
	defer m.mu.Unlock()

	sub, ok := m.subscribers[key]
	if !ok {
		sub = newSubscriber(key, f, m)
		m.subscribers[key] = sub
	}
	sub.addRef()
	return sub
}

func (m *Manager) release(sub *Subscriber) {
	if !sub.release() {
		return
	}
	m.mu.Lock()
	delete(m.subscribers, sub.key)
	m.mu.Unlock()
	sub.stop()
}

// Subscription is the caller-facing handle returned by Subscribe: it holds
// one reference per constituent feed and releases them all on Close.
type Subscription struct {
	manager *Manager
	subs    []*Subscriber
	once    sync.Once
}

// Close releases this subscription's references to every feed it holds.
// Safe to call more than once.
func (s *Subscription) Close() {
	s.once.Do(func() {
		for _, sub := range s.subs {
			s.manager.release(sub)
		}
	})
}
