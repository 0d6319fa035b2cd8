// Package graphcodec implements the line-framed, reference-compressed graph
// stream format (component C3, spec §4.3/§6): the wire representation
// exchanged over HTTP `/save`/`/load` bodies and interleaved with control
// frames on the WebSocket transport (C11).
//
// Two kinds of top-level frames are written to the stream:
//
//   - a public-key introduction frame: "PK<i>" \n <JSON PEM string> \n ""
//   - a fact frame: <JSON type> \n <JSON predecessors-by-index> \n
//     <JSON fields> \n (<"PK<j>"> \n <JSON signature string>)* \n ""
//
// Predecessor and public-key indices are positional: they refer back into
// the running tables built up over the lifetime of one Encoder/Decoder pair,
// never across independent streams.
package graphcodec

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/latticefact/runtime/internal/facts"
)

// DefaultFlushThreshold is the number of decoded envelopes buffered before
// the decoder flushes a batch to its callback, absent an explicit override.
const DefaultFlushThreshold = 20

// ErrDecode is the sentinel wrapped by every decode-time protocol violation.
var ErrDecode = errors.New("graphcodec: decode error")

func decodeErrorf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrDecode, fmt.Sprintf(format, args...))
}

// Encoder writes envelopes to a graph stream, maintaining the public-key and
// fact-reference tables needed to back-reference later facts.
type Encoder struct {
	w io.Writer

	pkIndex map[string]int
	pkOrder []string

	factIndex map[facts.Reference]int
	refOrder  []facts.Reference
}

// NewEncoder creates an Encoder writing to w. Each Encoder owns its own
// public-key/fact tables; do not share one Encoder's output with another's
// tables.
func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{
		w:         w,
		pkIndex:   make(map[string]int),
		factIndex: make(map[facts.Reference]int),
	}
}

// Encode writes one envelope to the stream. If the envelope's fact has
// already been emitted on this stream (by reference), the fact body is
// suppressed entirely — the codec is idempotent on repeat emission, per
// spec §4.3.
func (e *Encoder) Encode(env facts.Envelope) error {
	ref := env.Fact.Reference()
	if _, already := e.factIndex[ref]; already {
		return nil
	}

	for _, sig := range env.Signatures {
		if err := e.ensurePublicKey(sig.PublicKey); err != nil {
			return err
		}
	}

	predsByIndex := make(map[string]any, len(env.Fact.Predecessors))
	for role, pred := range env.Fact.Predecessors {
		if pred.IsMany() {
			indices := make([]int, 0, len(pred.Many))
			for _, r := range pred.Many {
				idx, ok := e.factIndex[r]
				if !ok {
					return fmt.Errorf("graphcodec: predecessor %s not yet emitted on this stream", r)
				}
				indices = append(indices, idx)
			}
			predsByIndex[role] = indices
		} else {
			idx, ok := e.factIndex[*pred.Single]
			if !ok {
				return fmt.Errorf("graphcodec: predecessor %s not yet emitted on this stream", *pred.Single)
			}
			predsByIndex[role] = idx
		}
	}

	if err := e.writeJSONLine(env.Fact.Type); err != nil {
		return err
	}
	if err := e.writeJSONLine(predsByIndex); err != nil {
		return err
	}
	if err := e.writeJSONLine(env.Fact.Fields); err != nil {
		return err
	}
	for _, sig := range env.Signatures {
		if _, err := fmt.Fprintf(e.w, "PK%d\n", e.pkIndex[sig.PublicKey]); err != nil {
			return err
		}
		if err := e.writeJSONLine(sig.Signature); err != nil {
			return err
		}
	}
	if _, err := io.WriteString(e.w, "\n"); err != nil {
		return err
	}

	idx := len(e.refOrder)
	e.refOrder = append(e.refOrder, ref)
	e.factIndex[ref] = idx
	return nil
}

// EncodeAll encodes a topologically-ordered (predecessors-first) slice of
// envelopes.
func (e *Encoder) EncodeAll(envs []facts.Envelope) error {
	for _, env := range envs {
		if err := e.Encode(env); err != nil {
			return err
		}
	}
	return nil
}

func (e *Encoder) ensurePublicKey(pem string) error {
	if _, ok := e.pkIndex[pem]; ok {
		return nil
	}
	idx := len(e.pkOrder)
	if _, err := fmt.Fprintf(e.w, "PK%d\n", idx); err != nil {
		return err
	}
	if err := e.writeJSONLine(pem); err != nil {
		return err
	}
	if _, err := io.WriteString(e.w, "\n"); err != nil {
		return err
	}
	e.pkIndex[pem] = idx
	e.pkOrder = append(e.pkOrder, pem)
	return nil
}

func (e *Encoder) writeJSONLine(v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("graphcodec: marshal: %w", err)
	}
	if _, err := e.w.Write(b); err != nil {
		return err
	}
	_, err = io.WriteString(e.w, "\n")
	return err
}

// Decoder reads a graph stream, reconstructing envelopes and flushing them
// in batches to a callback.
type Decoder struct {
	scanner *bufio.Scanner

	pk   []string
	refs []facts.Reference

	threshold int
	onBatch   func([]facts.Envelope) error

	pending []facts.Envelope
}

// Option configures a Decoder.
type Option func(*Decoder)

// WithFlushThreshold overrides DefaultFlushThreshold.
func WithFlushThreshold(n int) Option {
	return func(d *Decoder) { d.threshold = n }
}

// NewDecoder creates a Decoder reading from r, invoking onBatch whenever the
// flush threshold is reached or the stream ends.
func NewDecoder(r io.Reader, onBatch func([]facts.Envelope) error, opts ...Option) *Decoder {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	d := &Decoder{
		scanner:   scanner,
		threshold: DefaultFlushThreshold,
		onBatch:   onBatch,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Run decodes the entire stream, flushing batches as it goes, and flushes
// any remainder at end-of-stream.
func (d *Decoder) Run() error {
	for d.scanner.Scan() {
		line := strings.TrimRight(d.scanner.Text(), "\r")
		if line == "" {
			continue // stray blank line between frames
		}

		if idx, ok, err := parsePKHeader(line); err != nil {
			return err
		} else if ok {
			if err := d.readKeyIntro(idx); err != nil {
				return err
			}
			continue
		}

		if err := d.readFact(line); err != nil {
			return err
		}
		if len(d.pending) >= d.threshold {
			if err := d.flush(); err != nil {
				return err
			}
		}
	}
	if err := d.scanner.Err(); err != nil {
		return err
	}
	return d.flush()
}

func (d *Decoder) flush() error {
	if len(d.pending) == 0 {
		return nil
	}
	batch := d.pending
	d.pending = nil
	if d.onBatch == nil {
		return nil
	}
	return d.onBatch(batch)
}

func parsePKHeader(line string) (index int, ok bool, err error) {
	if !strings.HasPrefix(line, "PK") {
		return 0, false, nil
	}
	rest := line[2:]
	if rest == "" {
		return 0, false, nil
	}
	for _, c := range rest {
		if c < '0' || c > '9' {
			return 0, false, nil
		}
	}
	var n int
	if _, err := fmt.Sscanf(rest, "%d", &n); err != nil {
		return 0, false, nil
	}
	return n, true, nil
}

func (d *Decoder) readKeyIntro(index int) error {
	if index != len(d.pk) {
		return decodeErrorf("out-of-order public-key index: got %d, expected %d", index, len(d.pk))
	}
	if !d.scanner.Scan() {
		return decodeErrorf("truncated stream: missing public key payload")
	}
	var pem string
	if err := json.Unmarshal(d.scanner.Bytes(), &pem); err != nil {
		return decodeErrorf("invalid public key JSON: %v", err)
	}
	if !d.scanner.Scan() || strings.TrimRight(d.scanner.Text(), "\r") != "" {
		return decodeErrorf("missing frame terminator after public key %d", index)
	}
	d.pk = append(d.pk, pem)
	return nil
}

func (d *Decoder) readFact(typeLine string) error {
	var factType string
	if err := json.Unmarshal([]byte(typeLine), &factType); err != nil {
		return decodeErrorf("invalid fact type JSON: %v", err)
	}

	if !d.scanner.Scan() {
		return decodeErrorf("truncated stream: missing predecessors line")
	}
	var rawPreds map[string]json.RawMessage
	if err := json.Unmarshal(d.scanner.Bytes(), &rawPreds); err != nil {
		return decodeErrorf("invalid predecessors JSON: %v", err)
	}

	if !d.scanner.Scan() {
		return decodeErrorf("truncated stream: missing fields line")
	}
	var fields map[string]facts.FieldValue
	if err := json.Unmarshal(d.scanner.Bytes(), &fields); err != nil {
		return decodeErrorf("invalid fields JSON: %v", err)
	}

	preds, err := d.resolvePredecessors(rawPreds)
	if err != nil {
		return err
	}

	var signatures []facts.Signature
	for {
		if !d.scanner.Scan() {
			return decodeErrorf("truncated stream: missing frame terminator")
		}
		line := strings.TrimRight(d.scanner.Text(), "\r")
		if line == "" {
			break
		}
		idx, ok, err := parsePKHeader(line)
		if err != nil {
			return err
		}
		if !ok {
			return decodeErrorf("expected PK<i> signature header, got %q", line)
		}
		if idx < 0 || idx >= len(d.pk) {
			return decodeErrorf("out-of-range public-key reference: %d", idx)
		}
		if !d.scanner.Scan() {
			return decodeErrorf("truncated stream: missing signature payload")
		}
		var sig string
		if err := json.Unmarshal(d.scanner.Bytes(), &sig); err != nil {
			return decodeErrorf("invalid signature JSON: %v", err)
		}
		signatures = append(signatures, facts.Signature{PublicKey: d.pk[idx], Signature: sig})
	}

	hash, err := hashOf(fields, preds)
	if err != nil {
		return fmt.Errorf("graphcodec: recompute hash: %w", err)
	}

	fact := facts.Fact{Type: factType, Hash: hash, Fields: fields, Predecessors: preds}
	ref := fact.Reference()
	if existingIdx, ok := d.indexOf(ref); ok {
		_ = existingIdx // idempotent repeat; table position is unchanged
	} else {
		d.refs = append(d.refs, ref)
	}

	d.pending = append(d.pending, facts.Envelope{Fact: fact, Signatures: signatures})
	return nil
}

func (d *Decoder) indexOf(ref facts.Reference) (int, bool) {
	for i, r := range d.refs {
		if r == ref {
			return i, true
		}
	}
	return 0, false
}

func (d *Decoder) resolvePredecessors(raw map[string]json.RawMessage) (map[string]facts.Predecessor, error) {
	preds := make(map[string]facts.Predecessor, len(raw))
	for role, msg := range raw {
		var asArray []int
		if err := json.Unmarshal(msg, &asArray); err == nil {
			refs := make([]facts.Reference, 0, len(asArray))
			for _, idx := range asArray {
				ref, err := d.refAt(idx)
				if err != nil {
					return nil, err
				}
				refs = append(refs, ref)
			}
			preds[role] = facts.ManyOf(refs...)
			continue
		}
		var asIndex int
		if err := json.Unmarshal(msg, &asIndex); err != nil {
			return nil, decodeErrorf("predecessor role %q is neither an index nor an index array", role)
		}
		ref, err := d.refAt(asIndex)
		if err != nil {
			return nil, err
		}
		preds[role] = facts.One(ref)
	}
	return preds, nil
}

func (d *Decoder) refAt(idx int) (facts.Reference, error) {
	if idx < 0 || idx >= len(d.refs) {
		return facts.Reference{}, decodeErrorf("out-of-range predecessor reference: %d", idx)
	}
	return d.refs[idx], nil
}
