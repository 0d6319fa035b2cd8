package facts

import (
	"errors"

	"github.com/latticefact/runtime/internal/canonical"
)

// ErrEmptyType is returned by New when the fact type string is empty.
var ErrEmptyType = errors.New("facts: type must be non-empty")

// New constructs a Fact with its hash computed from (fields, predecessors).
// This is the only supported way to produce a Fact outside of decoding one
// from the wire, keeping the hash-purity invariant structurally enforced.
func New(factType string, fields map[string]FieldValue, preds map[string]Predecessor) (*Fact, error) {
	if factType == "" {
		return nil, ErrEmptyType
	}
	if fields == nil {
		fields = map[string]FieldValue{}
	}
	if preds == nil {
		preds = map[string]Predecessor{}
	}
	hash, err := canonical.Hash(fields, preds)
	if err != nil {
		return nil, err
	}
	return &Fact{
		Type:         factType,
		Hash:         hash,
		Fields:       fields,
		Predecessors: preds,
	}, nil
}
