package transport

import (
	"context"
	"sync"

	"github.com/latticefact/runtime/internal/subscription"
)

// StreamSocket adapts one Socket into subscription.Network's Stream method,
// fanning BOOK/ERR control frames out to the right feed's channel. Decoded
// graph envelopes do not pass through these channels; the Router's
// saveAndNotify callback handles them. WhichExist and Load are HTTP concerns (C14); a
// client wiring both together into a full subscription.Network composes
// StreamSocket with an internal/httpfetch client rather than this type
// trying to do both.
type StreamSocket struct {
	socket *Socket

	mu      sync.Mutex
	streams map[string]chan subscription.StreamChunk
}

// NewStreamSocket wires router's BOOK/ERR handlers to dispatch into the
// per-feed channels Stream hands back, and returns the combined value.
// saveAndNotify is the same callback passed to NewRouter for graph lines;
// NewStreamSocket does not construct the Router itself since the caller
// needs the Router first to build the Socket.
func NewStreamSocket(socket *Socket, router *Router) *StreamSocket {
	ss := &StreamSocket{socket: socket, streams: make(map[string]chan subscription.StreamChunk)}

	router.OnBook = func(feedStr, bookmark string) {
		socket.AdvanceBookmark(feedStr, bookmark)
		ss.mu.Lock()
		ch, ok := ss.streams[feedStr]
		ss.mu.Unlock()
		if !ok {
			return
		}
		select {
		case ch <- subscription.StreamChunk{Bookmark: bookmark}:
		default:
			// Slow consumer: BOOK without a corresponding prior chunk carrying
			// refs only advances the bookmark, so dropping it under backlog
			// pressure is safe — the next BOOK will carry the same or a
			// later bookmark.
		}
	}
	router.OnErr = func(feedStr, message string) {
		// Server-reported feed errors are delivered by closing that feed's
		// channel, which subscriber.go's consume loop treats as a clean end
		// warranting a retry rather than a permanent failure.
		ss.mu.Lock()
		ch, ok := ss.streams[feedStr]
		delete(ss.streams, feedStr)
		ss.mu.Unlock()
		if ok {
			close(ch)
		}
		_ = message
	}

	return ss
}

// Stream opens (or joins) feedStr's logical stream at bookmark, sending a
// SUB frame and returning the channel BOOK frames are published to.
func (ss *StreamSocket) Stream(ctx context.Context, feedStr, bookmark string) (<-chan subscription.StreamChunk, error) {
	ss.mu.Lock()
	ch, ok := ss.streams[feedStr]
	if !ok {
		ch = make(chan subscription.StreamChunk, 16)
		ss.streams[feedStr] = ch
	}
	ss.mu.Unlock()

	if err := ss.socket.Subscribe(feedStr, bookmark); err != nil {
		return nil, err
	}
	return ch, nil
}

// Unsubscribe closes feedStr's channel and sends its UNSUB frame.
func (ss *StreamSocket) Unsubscribe(feedStr string) error {
	ss.mu.Lock()
	ch, ok := ss.streams[feedStr]
	delete(ss.streams, feedStr)
	ss.mu.Unlock()
	if ok {
		close(ch)
	}
	return ss.socket.Unsubscribe(feedStr)
}
