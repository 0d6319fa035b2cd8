// Package facts defines the immutable, content-addressed records that make
// up the fact graph: Reference, Predecessor, Fact, Signature, and Envelope.
package facts

import (
	"encoding/json"
	"fmt"
)

// Reference identifies a fact by its type and content hash. Two references
// are equal iff both fields are structurally equal.
type Reference struct {
	Type string `json:"type"`
	Hash string `json:"hash"`
}

func (r Reference) String() string {
	return fmt.Sprintf("%s:%s", r.Type, r.Hash)
}

// FieldValue is any JSON-comparable primitive allowed in a fact's fields:
// string, float64/json.Number, bool, or nil. Nested objects and arrays are
// deliberately excluded — see spec Open Question (c).
type FieldValue = any

// Predecessor is the value bound to a single role: either exactly one
// reference, or an ordered sequence of references. This is the sum type
// named in the "Polymorphism" design note.
type Predecessor struct {
	Single *Reference
	Many   []Reference
}

// One constructs a single-valued predecessor.
func One(ref Reference) Predecessor {
	return Predecessor{Single: &ref}
}

// ManyOf constructs a multi-valued (ordered) predecessor.
func ManyOf(refs ...Reference) Predecessor {
	return Predecessor{Many: refs}
}

// IsMany reports whether this role holds an ordered sequence rather than a
// single reference.
func (p Predecessor) IsMany() bool {
	return p.Single == nil
}

// Refs returns the predecessor's references in stored order, regardless of
// arity.
func (p Predecessor) Refs() []Reference {
	if p.Single != nil {
		return []Reference{*p.Single}
	}
	return p.Many
}

// MarshalJSON renders a single-valued predecessor as a bare reference object
// and a multi-valued one as an array, so the wire shape matches its arity
// rather than always wrapping in an array.
func (p Predecessor) MarshalJSON() ([]byte, error) {
	if p.Single != nil {
		return json.Marshal(*p.Single)
	}
	if p.Many == nil {
		return json.Marshal([]Reference{})
	}
	return json.Marshal(p.Many)
}

// UnmarshalJSON accepts either a bare reference object (single-valued) or an
// array of references (multi-valued), the inverse of MarshalJSON.
func (p *Predecessor) UnmarshalJSON(data []byte) error {
	var many []Reference
	if err := json.Unmarshal(data, &many); err == nil {
		p.Single = nil
		p.Many = many
		return nil
	}
	var single Reference
	if err := json.Unmarshal(data, &single); err != nil {
		return err
	}
	p.Single = &single
	p.Many = nil
	return nil
}

// Fact is an immutable record: a type, a field map, a predecessor map keyed
// by role, and a hash that is a pure function of (fields, predecessors).
type Fact struct {
	Type         string                 `json:"type"`
	Hash         string                 `json:"hash"`
	Fields       map[string]FieldValue  `json:"fields"`
	Predecessors map[string]Predecessor `json:"predecessors"`
}

// Reference returns the (type, hash) identity pair for this fact.
func (f *Fact) Reference() Reference {
	return Reference{Type: f.Type, Hash: f.Hash}
}

// Signature pairs a PEM-encoded RSA public key with a base64 RSA-SHA512
// signature over the fact's canonical digest.
type Signature struct {
	PublicKey string `json:"publicKey"`
	Signature string `json:"signature"`
}

// Envelope is a fact plus the set of signatures attesting to it, deduplicated
// by public key.
type Envelope struct {
	Fact       Fact        `json:"fact"`
	Signatures []Signature `json:"signatures"`
}

// MergeSignatures returns a new signature set that is the union of the
// envelope's current signatures and the supplied ones, keyed by public key;
// existing signatures are never dropped.
func (e *Envelope) MergeSignatures(additional []Signature) []Signature {
	byKey := make(map[string]Signature, len(e.Signatures)+len(additional))
	order := make([]string, 0, len(e.Signatures)+len(additional))
	for _, s := range e.Signatures {
		if _, seen := byKey[s.PublicKey]; !seen {
			order = append(order, s.PublicKey)
		}
		byKey[s.PublicKey] = s
	}
	for _, s := range additional {
		if _, seen := byKey[s.PublicKey]; !seen {
			order = append(order, s.PublicKey)
		}
		byKey[s.PublicKey] = s
	}
	merged := make([]Signature, 0, len(order))
	for _, k := range order {
		merged = append(merged, byKey[k])
	}
	return merged
}
