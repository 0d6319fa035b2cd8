package subscription

import (
	"context"
	"sync"
	"time"

	"github.com/latticefact/runtime/internal/facts"
	"github.com/latticefact/runtime/internal/feed"
)

// Subscriber keeps one feed's stream alive for as long as something holds a
// reference to it. Reference counting lets multiple Subscriptions built
// from overlapping specifications share a single underlying stream per
// feed, per spec.md §4.10.
type Subscriber struct {
	key string
	f   feed.Feed
	mgr *Manager

	mu          sync.Mutex
	refCount    int
	cancel      context.CancelFunc
	started     bool
	ready       chan struct{} // closed exactly once, when start resolves
	startResult error         // valid only after ready is closed
}

func newSubscriber(key string, f feed.Feed, mgr *Manager) *Subscriber {
	return &Subscriber{key: key, f: f, mgr: mgr}
}

// addRef increments the reference count, reporting whether this was the
// 0→1 transition.
func (s *Subscriber) addRef() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refCount++
	return s.refCount == 1
}

// release decrements the reference count, reporting whether this was the
// 1→0 transition.
func (s *Subscriber) release() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.refCount == 0 {
		return false
	}
	s.refCount--
	return s.refCount == 0
}

// ensureStarted starts the subscriber's stream on first use, or waits on the
// existing start if another caller already set one in motion: either way it
// blocks until that subscriber's first successful exchange (or permanent
// failure).
func (s *Subscriber) ensureStarted(ctx context.Context, start map[string]facts.Reference) error {
	s.mu.Lock()
	if s.started {
		ready := s.ready
		s.mu.Unlock()
		select {
		case <-ready:
			return s.result()
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	s.started = true
	s.ready = make(chan struct{})
	runCtx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.mu.Unlock()

	go s.run(runCtx, start)

	select {
	case <-s.ready:
		return s.result()
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Subscriber) result() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.startResult
}

func (s *Subscriber) stop() {
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	// If start had not yet resolved, cancelling ctx makes run's Stream/consume
	// calls return promptly; resolveStart(ErrStopped) covers the case where
	// run exits via ctx.Err() before ever reaching a resolve point itself.
	s.resolveStart(ErrStopped)
}

// run drives the feed's stream for its entire lifetime: loading the last
// bookmark, opening the network stream, processing chunks, and applying the
// retry policy across stream errors until the subscriber is stopped.
func (s *Subscriber) run(ctx context.Context, start map[string]facts.Reference) {
	bookmark, err := s.mgr.store.LoadBookmark(ctx, s.key)
	if err != nil {
		bookmark = ""
	}

	resolved := false
	attempt := 0

	for {
		if ctx.Err() != nil {
			return
		}

		chunks, err := s.mgr.net.Stream(ctx, s.key, bookmark)
		if err != nil {
			if !resolved {
				s.resolveStart(err)
				return
			}
			if !s.waitRetry(ctx, &attempt) {
				return
			}
			continue
		}

		streamErr := s.consume(ctx, chunks, &bookmark)
		if !resolved {
			resolved = true
			s.resolveStart(nil)
		}
		if streamErr == nil {
			return // channel closed cleanly, e.g. context cancellation
		}
		if !s.waitRetry(ctx, &attempt) {
			return
		}
	}
}

// resolveStart records the start outcome and wakes every ensureStarted
// caller waiting on s.ready. Only the first call takes effect; later calls
// (e.g. stop() racing run()'s own resolution) are no-ops.
func (s *Subscriber) resolveStart(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	select {
	case <-s.ready:
		return // already resolved
	default:
	}
	s.startResult = err
	close(s.ready)
}

func (s *Subscriber) waitRetry(ctx context.Context, attempt *int) bool {
	delay := s.mgr.retry.DelayForAttempt(*attempt)
	*attempt++
	t := time.NewTimer(delay)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}

// consume processes chunks from one streaming connection until it closes or
// the subscriber is cancelled, returning a non-nil error only when the
// stream ended abnormally and a retry should be attempted.
func (s *Subscriber) consume(ctx context.Context, chunks <-chan StreamChunk, bookmark *string) error {
	for {
		select {
		case chunk, ok := <-chunks:
			if !ok {
				return nil
			}
			if err := s.applyChunk(ctx, chunk, bookmark); err != nil {
				return err
			}
			// The first applied chunk is the first successful exchange.
			s.resolveStart(nil)
		case <-ctx.Done():
			return nil
		}
	}
}

// applyChunk implements the five steps of spec.md §4.10's per-chunk
// protocol: skip known refs, load the rest (batched through the manager),
// save, notify observers, and advance the bookmark — in that order, so
// observers always see facts before the bookmark that covers them advances.
// Manager.Load performs the whichExist/load/save/notify steps itself.
func (s *Subscriber) applyChunk(ctx context.Context, chunk StreamChunk, bookmark *string) error {
	if _, err := s.mgr.Load(ctx, chunk.Refs); err != nil {
		return err
	}
	if err := s.mgr.store.SaveBookmark(ctx, s.key, chunk.Bookmark); err != nil {
		return err
	}
	*bookmark = chunk.Bookmark
	return nil
}
