package transport

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/latticefact/runtime/internal/facts"
	"github.com/latticefact/runtime/internal/graphcodec"
)

// control keywords recognized on the leading line of a frame, per spec.md
// §4.11's framed protocol.
const (
	frameSub   = "SUB"
	frameUnsub = "UNSUB"
	frameBook  = "BOOK"
	frameErr   = "ERR"
)

// SaveAndNotify persists newly decoded envelopes and notifies observers. In
// production this is internal/subscription's Manager.Load (or a thinner
// Save+notify wrapper); tests can stub it directly.
type SaveAndNotify func(envelopes []facts.Envelope) error

// Router demultiplexes the framed protocol carried over one WebSocket
// connection: control frames (SUB/UNSUB/BOOK/ERR) are dispatched to their
// handlers, and graph lines are decoded by the shared graphcodec.Decoder for
// this connection's lifetime. Per spec.md §5's single-threaded cooperative
// model, HandleFrame is meant to be called from one goroutine at a time (the
// socket's read loop) — Router does not itself run lines from multiple
// connections concurrently.
type Router struct {
	OnSub   func(feedStr, bookmark string)
	OnUnsub func(feedStr string)
	OnBook  func(feedStr, bookmark string)
	OnErr   func(feedStr, message string)

	saveAndNotify SaveAndNotify

	pw      *io.PipeWriter
	pending sync.WaitGroup

	lines []string // buffered lines of the frame currently being assembled
}

// NewRouter creates a Router whose graph frames are saved via saveAndNotify.
// The returned Router owns a background goroutine decoding graph frames for
// as long as the router is in use; call Close when the connection ends.
func NewRouter(saveAndNotify SaveAndNotify) *Router {
	pr, pw := io.Pipe()
	r := &Router{saveAndNotify: saveAndNotify, pw: pw}

	dec := graphcodec.NewDecoder(pr, r.onGraphBatch, graphcodec.WithFlushThreshold(1))
	go func() {
		// Run exits when pr is closed (Close, or the connection's read loop
		// ending); the error is discovered, if needed, through onGraphBatch's
		// own error propagation rather than surfaced here, since a transport
		// read-loop has nowhere synchronous to report it once it has returned.
		_ = dec.Run()
	}()

	return r
}

func (r *Router) onGraphBatch(envs []facts.Envelope) error {
	defer r.pending.Done()
	if r.saveAndNotify == nil {
		return nil
	}
	return r.saveAndNotify(envs)
}

// Close ends this router's background decode goroutine. Any frame still
// being assembled is discarded.
func (r *Router) Close() error {
	return r.pw.Close()
}

// HandleLine feeds one line (already split on the socket's framing, CR
// tolerated) into the router. Lines accumulate until a blank line
// terminates the frame currently being assembled, at which point the frame
// is dispatched as either a control frame or a graph frame.
func (r *Router) HandleLine(line string) error {
	line = strings.TrimSuffix(line, "\r")
	if line == "" {
		return r.dispatchFrame()
	}
	r.lines = append(r.lines, line)
	return nil
}

func (r *Router) dispatchFrame() error {
	lines := r.lines
	r.lines = nil
	if len(lines) == 0 {
		return nil // stray blank line between frames
	}

	switch lines[0] {
	case frameSub:
		return r.dispatchSub(lines)
	case frameUnsub:
		return r.dispatchUnsub(lines)
	case frameBook:
		return r.dispatchBook(lines)
	case frameErr:
		return r.dispatchErr(lines)
	default:
		return r.dispatchGraph(lines)
	}
}

// dispatchSub, dispatchUnsub, dispatchBook, dispatchErr decode a control
// frame's payload lines. Per spec.md §4.11, "control-frame dispatch errors
// are swallowed (protocol continues)": a malformed payload is skipped
// silently, without calling the frame's handler and without returning an
// error, so one bad frame cannot wedge the connection.
func (r *Router) dispatchSub(lines []string) error {
	feedStr, bookmark, ok := decodeTwoStrings(lines)
	if ok && r.OnSub != nil {
		r.OnSub(feedStr, bookmark)
	}
	return nil
}

func (r *Router) dispatchUnsub(lines []string) error {
	feedStr, ok := decodeOneString(lines)
	if ok && r.OnUnsub != nil {
		r.OnUnsub(feedStr)
	}
	return nil
}

func (r *Router) dispatchBook(lines []string) error {
	feedStr, bookmark, ok := decodeTwoStrings(lines)
	if !ok {
		return nil
	}
	// Deferred until the most recent save completes, so observers see facts
	// before the bookmark that covers them advances.
	r.pending.Wait()
	if r.OnBook != nil {
		r.OnBook(feedStr, bookmark)
	}
	return nil
}

func (r *Router) dispatchErr(lines []string) error {
	feedStr, message, ok := decodeTwoStrings(lines)
	if ok && r.OnErr != nil {
		r.OnErr(feedStr, message)
	}
	return nil
}

func (r *Router) dispatchGraph(lines []string) error {
	r.pending.Add(1)
	var b strings.Builder
	for _, l := range lines {
		b.WriteString(l)
		b.WriteByte('\n')
	}
	b.WriteByte('\n') // blank terminator the decoder expects
	_, err := io.WriteString(r.pw, b.String())
	return err
}

func decodeOneString(lines []string) (string, bool) {
	if len(lines) < 2 {
		return "", false
	}
	var s string
	if err := json.Unmarshal([]byte(lines[1]), &s); err != nil {
		return "", false
	}
	return s, true
}

func decodeTwoStrings(lines []string) (string, string, bool) {
	if len(lines) < 3 {
		return "", "", false
	}
	var a, b string
	if err := json.Unmarshal([]byte(lines[1]), &a); err != nil {
		return "", "", false
	}
	if err := json.Unmarshal([]byte(lines[2]), &b); err != nil {
		return "", "", false
	}
	return a, b, true
}

// EncodeSub renders a SUB frame for feedStr resubmitted at bookmark.
func EncodeSub(feedStr, bookmark string) string { return encodeFrame(frameSub, feedStr, bookmark) }

// EncodeUnsub renders an UNSUB frame for feedStr.
func EncodeUnsub(feedStr string) string { return encodeFrame(frameUnsub, feedStr) }

// EncodeBook renders a BOOK frame.
func EncodeBook(feedStr, bookmark string) string { return encodeFrame(frameBook, feedStr, bookmark) }

// EncodeErr renders an ERR frame.
func EncodeErr(feedStr, message string) string { return encodeFrame(frameErr, feedStr, message) }

func encodeFrame(keyword string, values ...string) string {
	var b strings.Builder
	b.WriteString(keyword)
	b.WriteByte('\n')
	for _, v := range values {
		data, err := json.Marshal(v)
		if err != nil {
			// values are always plain strings; Marshal cannot fail here.
			panic(fmt.Sprintf("transport: marshal control frame value: %v", err))
		}
		b.Write(data)
		b.WriteByte('\n')
	}
	b.WriteByte('\n')
	return b.String()
}
