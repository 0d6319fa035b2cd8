package graphcodec

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/latticefact/runtime/internal/facts"
)

func mustFact(t *testing.T, typ string, fields map[string]facts.FieldValue, preds map[string]facts.Predecessor) facts.Fact {
	t.Helper()
	f, err := facts.New(typ, fields, preds)
	require.NoError(t, err)
	return *f
}

func TestRoundTrip_SingleFactNoSignatures(t *testing.T) {
	f := mustFact(t, "Msg", map[string]facts.FieldValue{"text": "hi"}, nil)
	env := facts.Envelope{Fact: f}

	var buf bytes.Buffer
	require.NoError(t, NewEncoder(&buf).Encode(env))

	var got []facts.Envelope
	dec := NewDecoder(&buf, func(batch []facts.Envelope) error {
		got = append(got, batch...)
		return nil
	})
	require.NoError(t, dec.Run())
	require.Len(t, got, 1)
	require.Equal(t, env.Fact.Hash, got[0].Fact.Hash)
	require.Equal(t, env.Fact.Type, got[0].Fact.Type)
}

func TestRoundTrip_DAGWithPredecessorsAndSignatures(t *testing.T) {
	root := mustFact(t, "Blog", map[string]facts.FieldValue{"name": "b"}, nil)
	rootEnv := facts.Envelope{
		Fact:       root,
		Signatures: []facts.Signature{{PublicKey: "pem-1", Signature: "sig-1"}},
	}

	post := mustFact(t, "Post", map[string]facts.FieldValue{"title": "hello"}, map[string]facts.Predecessor{
		"blog": facts.One(root.Reference()),
	})
	postEnv := facts.Envelope{
		Fact: post,
		Signatures: []facts.Signature{
			{PublicKey: "pem-1", Signature: "sig-2"},
			{PublicKey: "pem-2", Signature: "sig-3"},
		},
	}

	var buf bytes.Buffer
	enc := NewEncoder(&buf)
	require.NoError(t, enc.EncodeAll([]facts.Envelope{rootEnv, postEnv}))

	var got []facts.Envelope
	dec := NewDecoder(&buf, func(batch []facts.Envelope) error {
		got = append(got, batch...)
		return nil
	})
	require.NoError(t, dec.Run())

	require.Len(t, got, 2)
	require.Equal(t, root.Hash, got[0].Fact.Hash)
	require.Equal(t, post.Hash, got[1].Fact.Hash)
	require.Equal(t, root.Reference(), got[1].Fact.Predecessors["blog"].Refs()[0])
	require.Len(t, got[1].Signatures, 2)
}

func TestEncode_SuppressesRepeatFact(t *testing.T) {
	f := mustFact(t, "Msg", map[string]facts.FieldValue{"text": "hi"}, nil)
	env := facts.Envelope{Fact: f}

	var buf bytes.Buffer
	enc := NewEncoder(&buf)
	require.NoError(t, enc.Encode(env))
	before := buf.Len()
	require.NoError(t, enc.Encode(env))
	require.Equal(t, before, buf.Len(), "repeat emission must be a no-op")
}

func TestEncode_RejectsUnemittedPredecessor(t *testing.T) {
	orphanRef := facts.Reference{Type: "Blog", Hash: "not-emitted"}
	post := mustFact(t, "Post", nil, map[string]facts.Predecessor{"blog": facts.One(orphanRef)})

	var buf bytes.Buffer
	err := NewEncoder(&buf).Encode(facts.Envelope{Fact: post})
	require.Error(t, err)
}

func TestDecode_OutOfRangePredecessorIndexFails(t *testing.T) {
	stream := "\"Post\"\n{\"blog\":7}\n{}\n\n"
	dec := NewDecoder(strings.NewReader(stream), func([]facts.Envelope) error { return nil })
	err := dec.Run()
	require.ErrorIs(t, err, ErrDecode)
}

func TestDecode_OutOfOrderPublicKeyIndexFails(t *testing.T) {
	stream := "PK3\n\"pem\"\n\n"
	dec := NewDecoder(strings.NewReader(stream), func([]facts.Envelope) error { return nil })
	err := dec.Run()
	require.ErrorIs(t, err, ErrDecode)
}

func TestDecode_FlushesAtThresholdAndAtEndOfStream(t *testing.T) {
	var buf bytes.Buffer
	enc := NewEncoder(&buf)
	for i := 0; i < 5; i++ {
		f := mustFact(t, "Counter", map[string]facts.FieldValue{"n": float64(i)}, nil)
		require.NoError(t, enc.Encode(facts.Envelope{Fact: f}))
	}

	var batches [][]facts.Envelope
	dec := NewDecoder(&buf, func(batch []facts.Envelope) error {
		batches = append(batches, append([]facts.Envelope(nil), batch...))
		return nil
	}, WithFlushThreshold(2))
	require.NoError(t, dec.Run())

	require.Len(t, batches, 3) // 2, 2, 1
	require.Len(t, batches[0], 2)
	require.Len(t, batches[2], 1)
}
