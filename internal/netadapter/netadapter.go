// Package netadapter composes the WebSocket transport (C11) and the HTTP
// fallback client (C14) into a single subscription.Network: WhichExist and
// Load always go over HTTP (there is no WS equivalent for either), while
// Stream prefers the standing WebSocket connection and falls back to the
// HTTP NDJSON stream when the socket is not connected.
package netadapter

import (
	"context"

	"github.com/latticefact/runtime/internal/facts"
	"github.com/latticefact/runtime/internal/httpfetch"
	"github.com/latticefact/runtime/internal/subscription"
	"github.com/latticefact/runtime/internal/transport"
)

// Adapter implements subscription.Network atop a WebSocket-first,
// HTTP-fallback pair of clients.
type Adapter struct {
	http *httpfetch.Client
	ws   *transport.StreamSocket
	sock *transport.Socket
}

// New builds an Adapter. ws and sock may be nil, in which case Stream
// always uses the HTTP fallback.
func New(httpClient *httpfetch.Client, ws *transport.StreamSocket, sock *transport.Socket) *Adapter {
	return &Adapter{http: httpClient, ws: ws, sock: sock}
}

// WhichExist delegates to the HTTP client.
func (a *Adapter) WhichExist(ctx context.Context, refs []facts.Reference) ([]facts.Reference, error) {
	return a.http.WhichExist(ctx, refs)
}

// Load delegates to the HTTP client.
func (a *Adapter) Load(ctx context.Context, refs []facts.Reference) ([]facts.Envelope, error) {
	return a.http.Load(ctx, refs)
}

// Stream opens a feed's streaming connection over the WebSocket transport
// when it is connected, falling back to the HTTP NDJSON stream otherwise.
func (a *Adapter) Stream(ctx context.Context, feedStr, bookmark string) (<-chan subscription.StreamChunk, error) {
	if a.ws != nil && a.sock != nil && a.sock.State() == transport.Connected {
		return a.ws.Stream(ctx, feedStr, bookmark)
	}
	return a.http.Stream(ctx, feedStr, bookmark)
}
