// Package canonical implements the deterministic serialization and hashing
// of a fact's (fields, predecessors) pair (component C1).
//
// Canonicalization itself is delegated to gowebpki/jcs, an RFC 8785 JSON
// Canonicalization Scheme implementation: each half of the pair is marshaled
// to JSON, passed through jcs.Transform to get byte-exact canonical form
// (sorted keys, no HTML escaping, canonical number formatting), then the two
// canonical blobs are concatenated with a fixed separator before hashing.
package canonical

import (
	"crypto/sha512"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/gowebpki/jcs"

	"github.com/latticefact/runtime/internal/facts"
)

// separator joins the canonical fields blob and the canonical predecessors
// blob. JCS leaves '|' inside JSON strings as it is, so a pipe can occur
// within either blob; the joined form is still unambiguous because the
// fields blob is one complete JSON object and ends at its own closing brace.
const separator = "|"

// predecessorRef is the canonical JSON shape of a single reference:
// {"hash":"...","type":"..."} with keys in lexicographic order. json.Marshal
// on a struct already emits fields in declaration order, so declaring Hash
// before Type gives us the required key order before JCS re-sorts it anyway.
type predecessorRef struct {
	Hash string `json:"hash"`
	Type string `json:"type"`
}

func toPredecessorRef(r facts.Reference) predecessorRef {
	return predecessorRef{Hash: r.Hash, Type: r.Type}
}

// CanonicalizeFields produces the canonical JSON encoding of a fact's field
// map: sorted keys, canonical number/string/bool/null formatting.
func CanonicalizeFields(fields map[string]facts.FieldValue) ([]byte, error) {
	if fields == nil {
		fields = map[string]facts.FieldValue{}
	}
	raw, err := json.Marshal(fields)
	if err != nil {
		return nil, fmt.Errorf("canonical: marshal fields: %w", err)
	}
	out, err := jcs.Transform(raw)
	if err != nil {
		return nil, fmt.Errorf("canonical: jcs transform fields: %w", err)
	}
	return out, nil
}

// CanonicalizePredecessors produces the canonical JSON encoding of a fact's
// predecessor map: roles sorted lexicographically, each role emitting either
// a single reference object or an array of reference objects in stored
// order.
func CanonicalizePredecessors(preds map[string]facts.Predecessor) ([]byte, error) {
	roles := make([]string, 0, len(preds))
	for role := range preds {
		roles = append(roles, role)
	}
	sort.Strings(roles)

	generic := make(map[string]any, len(roles))
	for _, role := range roles {
		p := preds[role]
		if p.IsMany() {
			refs := make([]predecessorRef, 0, len(p.Many))
			for _, r := range p.Many {
				refs = append(refs, toPredecessorRef(r))
			}
			generic[role] = refs
		} else {
			generic[role] = toPredecessorRef(*p.Single)
		}
	}

	raw, err := json.Marshal(generic)
	if err != nil {
		return nil, fmt.Errorf("canonical: marshal predecessors: %w", err)
	}
	out, err := jcs.Transform(raw)
	if err != nil {
		return nil, fmt.Errorf("canonical: jcs transform predecessors: %w", err)
	}
	return out, nil
}

// Canonicalize returns the full canonical byte string for a (fields,
// predecessors) pair, as defined in spec §6:
// canonical(fact) = canonical(fields) || "|" || canonical(predecessors).
func Canonicalize(fields map[string]facts.FieldValue, preds map[string]facts.Predecessor) ([]byte, error) {
	fieldBytes, err := CanonicalizeFields(fields)
	if err != nil {
		return nil, err
	}
	predBytes, err := CanonicalizePredecessors(preds)
	if err != nil {
		return nil, err
	}
	combined := make([]byte, 0, len(fieldBytes)+len(separator)+len(predBytes))
	combined = append(combined, fieldBytes...)
	combined = append(combined, separator...)
	combined = append(combined, predBytes...)
	return combined, nil
}

// Hash computes hash(fact) = base64(sha512(utf8(canonical(fact)))).
func Hash(fields map[string]facts.FieldValue, preds map[string]facts.Predecessor) (string, error) {
	canon, err := Canonicalize(fields, preds)
	if err != nil {
		return "", err
	}
	return HashBytes(canon), nil
}

// HashBytes hashes raw canonical bytes with SHA-512 and base64-encodes the
// digest. Exposed for codec and test use where the canonical bytes are
// already in hand.
func HashBytes(canon []byte) string {
	digest := sha512.Sum512(canon)
	return base64.StdEncoding.EncodeToString(digest[:])
}

// Verify recomputes hash(fields, predecessors) and compares it against want,
// returning false if they disagree. Callers translate this into
// HashMismatch/CorruptedFact per their context.
func Verify(fields map[string]facts.FieldValue, preds map[string]facts.Predecessor, want string) (bool, error) {
	got, err := Hash(fields, preds)
	if err != nil {
		return false, err
	}
	return got == want, nil
}
