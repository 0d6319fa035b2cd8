package subscription

import (
	"context"
	"sync"
	"time"

	"github.com/latticefact/runtime/internal/facts"
)

// batchWindow is how long a LoadBatch waits after its first addition before
// triggering, per spec.md §4.10.
const batchWindow = 100 * time.Millisecond

// loadBatch accumulates unique fact references contributed by concurrent
// fetches. It fires once, 100ms after its first addition or on an explicit
// early trigger, calling Network.Load for every accumulated reference,
// saving the result, and notifying the manager's observers. Each caller's
// Add blocks until the batch it joined has resolved.
type loadBatch struct {
	mu      sync.Mutex
	refs    map[facts.Reference]struct{}
	waiters map[facts.Reference][]chan loadResult
	timer   *time.Timer
	fired   bool
}

type loadResult struct {
	env facts.Envelope
	err error
}

func newLoadBatch() *loadBatch {
	return &loadBatch{
		refs:    make(map[facts.Reference]struct{}),
		waiters: make(map[facts.Reference][]chan loadResult),
	}
}

// Load resolves refs through the manager's shared load-batching pipeline:
// refs already known to the store are fetched directly, and the rest are
// folded into the single in-flight (or next-to-run) batch before this call
// blocks for their resolution.
func (m *Manager) Load(ctx context.Context, refs []facts.Reference) ([]facts.Envelope, error) {
	if len(refs) == 0 {
		return nil, nil
	}

	existing, err := m.store.WhichExist(ctx, refs)
	if err != nil {
		return nil, err
	}
	known := make(map[facts.Reference]struct{}, len(existing))
	for _, r := range existing {
		known[r] = struct{}{}
	}

	var unknown []facts.Reference
	for _, r := range refs {
		if _, ok := known[r]; !ok {
			unknown = append(unknown, r)
		}
	}

	loaded, err := m.store.Load(ctx, existing)
	if err != nil {
		return nil, err
	}
	if len(unknown) == 0 {
		return loaded, nil
	}

	fetched, err := m.addToBatch(ctx, unknown)
	if err != nil {
		return nil, err
	}
	return append(loaded, fetched...), nil
}

// addToBatch joins refs into the currently-open batch (creating one if none
// is open) and blocks until that batch resolves.
func (m *Manager) addToBatch(ctx context.Context, refs []facts.Reference) ([]facts.Envelope, error) {
	m.batchMu.Lock()
	if m.open == nil {
		m.open = newLoadBatch()
		b := m.open
		b.timer = time.AfterFunc(batchWindow, func() { m.fire(b) })
	}
	batch := m.open

	chans := make([]chan loadResult, len(refs))
	for i, r := range refs {
		batch.refs[r] = struct{}{}
		ch := make(chan loadResult, 1)
		batch.waiters[r] = append(batch.waiters[r], ch)
		chans[i] = ch
	}
	m.batchMu.Unlock()

	envelopes := make([]facts.Envelope, 0, len(refs))
	for _, ch := range chans {
		select {
		case res := <-ch:
			if res.err != nil {
				return nil, res.err
			}
			envelopes = append(envelopes, res.env)
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return envelopes, nil
}

// fire transitions batch from open to executing, or queues it behind the
// currently-executing batch: only one batch is ever in flight per manager.
func (m *Manager) fire(batch *loadBatch) {
	m.batchMu.Lock()
	batch.mu.Lock()
	if batch.fired {
		batch.mu.Unlock()
		m.batchMu.Unlock()
		return
	}
	batch.fired = true
	batch.mu.Unlock()
	if batch.timer != nil {
		batch.timer.Stop()
	}
	if m.open == batch {
		m.open = nil
	}

	if m.busy {
		m.waiting = append(m.waiting, batch)
		m.batchMu.Unlock()
		return
	}
	m.busy = true
	m.batchMu.Unlock()

	// Run off the caller's goroutine: fire is invoked both from the batch
	// timer and from TriggerNow, and neither caller should block on a full
	// network round trip (or on whatever else is already queued).
	go m.execute(batch)
}

// execute runs one batch to completion and then drains the next queued
// batch, if any, keeping the single-in-flight invariant.
func (m *Manager) execute(batch *loadBatch) {
	m.runBatch(batch)

	m.batchMu.Lock()
	if len(m.waiting) == 0 {
		m.busy = false
		m.batchMu.Unlock()
		return
	}
	next := m.waiting[0]
	m.waiting = m.waiting[1:]
	m.batchMu.Unlock()

	m.execute(next)
}

func (m *Manager) runBatch(batch *loadBatch) {
	ctx := context.Background()

	refs := make([]facts.Reference, 0, len(batch.refs))
	for r := range batch.refs {
		refs = append(refs, r)
	}

	envelopes, err := m.net.Load(ctx, refs)
	if err != nil {
		batch.fail(err)
		return
	}

	saved, err := m.store.Save(ctx, envelopes)
	if err != nil {
		batch.fail(err)
		return
	}

	// Notify before waking the waiters, so observers see the facts before
	// any caller goes on to advance a bookmark that covers them.
	m.notify(saved)

	byRef := make(map[facts.Reference]facts.Envelope, len(envelopes))
	for _, env := range envelopes {
		byRef[env.Fact.Reference()] = env
	}
	for ref, waiters := range batch.waiters {
		env, ok := byRef[ref]
		for _, ch := range waiters {
			if !ok {
				ch <- loadResult{err: ErrRefNotReturned}
				continue
			}
			ch <- loadResult{env: env}
		}
	}
}

func (b *loadBatch) fail(err error) {
	for _, waiters := range b.waiters {
		for _, ch := range waiters {
			ch <- loadResult{err: err}
		}
	}
}

// TriggerNow forces the currently-open batch, if any, to fire immediately
// instead of waiting out its 100ms window. Used by callers that need a
// result sooner than the window allows.
func (m *Manager) TriggerNow() {
	m.batchMu.Lock()
	batch := m.open
	m.batchMu.Unlock()
	if batch != nil {
		m.fire(batch)
	}
}
