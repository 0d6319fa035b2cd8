package canonical

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/require"

	"github.com/latticefact/runtime/internal/facts"
)

func TestCanonicalizeFields_SortsKeysAndDropsHTMLEscaping(t *testing.T) {
	fields := map[string]facts.FieldValue{
		"c": 3.0,
		"a": "<tag>",
		"b": true,
	}

	out, err := CanonicalizeFields(fields)
	require.NoError(t, err)
	require.Equal(t, `{"a":"<tag>","b":true,"c":3}`, string(out))
}

func TestCanonicalizePredecessors_SortsRolesAndPreservesSequenceOrder(t *testing.T) {
	preds := map[string]facts.Predecessor{
		"zebra": facts.One(facts.Reference{Type: "T", Hash: "h1"}),
		"apple": facts.ManyOf(
			facts.Reference{Type: "T", Hash: "h3"},
			facts.Reference{Type: "T", Hash: "h2"},
		),
	}

	out, err := CanonicalizePredecessors(preds)
	require.NoError(t, err)
	require.Equal(t,
		`{"apple":[{"hash":"h3","type":"T"},{"hash":"h2","type":"T"}],"zebra":{"hash":"h1","type":"T"}}`,
		string(out),
	)
}

func TestHash_PureFunctionOfFieldsAndPredecessors(t *testing.T) {
	fields := map[string]facts.FieldValue{"text": "hi"}
	preds := map[string]facts.Predecessor{}

	h1, err := Hash(fields, preds)
	require.NoError(t, err)
	h2, err := Hash(fields, preds)
	require.NoError(t, err)
	require.Equal(t, h1, h2)

	mutated := map[string]facts.FieldValue{"text": "hi!"}
	h3, err := Hash(mutated, preds)
	require.NoError(t, err)
	require.NotEqual(t, h1, h3)
}

func TestHash_OrderingWithinMultiValuedRoleChangesHash(t *testing.T) {
	a := map[string]facts.Predecessor{
		"items": facts.ManyOf(facts.Reference{Type: "T", Hash: "1"}, facts.Reference{Type: "T", Hash: "2"}),
	}
	b := map[string]facts.Predecessor{
		"items": facts.ManyOf(facts.Reference{Type: "T", Hash: "2"}, facts.Reference{Type: "T", Hash: "1"}),
	}
	fields := map[string]facts.FieldValue{}

	h1, err := Hash(fields, a)
	require.NoError(t, err)
	h2, err := Hash(fields, b)
	require.NoError(t, err)
	require.NotEqual(t, h1, h2)
}

// TestHashPurityProperty is the gopter-driven form of the §8 "Hash purity"
// universal invariant: hashing the same (fields, predecessors) pair twice,
// via arbitrarily generated field maps, always agrees with a direct
// recomputation from the canonical bytes.
func TestHashPurityProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	properties := gopter.NewProperties(parameters)

	properties.Property("hash(fields, preds) == HashBytes(canonical(fields, preds))", prop.ForAll(
		func(text string, n int64, flag bool) bool {
			fields := map[string]facts.FieldValue{
				"text": text,
				"n":    float64(n),
				"flag": flag,
			}
			preds := map[string]facts.Predecessor{}

			canon, err := Canonicalize(fields, preds)
			if err != nil {
				return false
			}
			want := HashBytes(canon)

			got, err := Hash(fields, preds)
			if err != nil {
				return false
			}
			return got == want
		},
		gen.AnyString(),
		gen.Int64Range(-1_000_000, 1_000_000),
		gen.Bool(),
	))

	properties.TestingRun(t)
}
