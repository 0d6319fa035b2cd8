package signing

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/latticefact/runtime/internal/facts"
)

// TestAuthoringAndVerification implements spec.md §8 end-to-end scenario 1:
// two keys sign the same fact, the verifier accepts, then a single mutated
// signature byte causes the whole envelope to be rejected.
func TestAuthoringAndVerification(t *testing.T) {
	k1, err := GenerateKey()
	require.NoError(t, err)
	k2, err := GenerateKey()
	require.NoError(t, err)

	s1, err := NewSigner(k1)
	require.NoError(t, err)
	s2, err := NewSigner(k2)
	require.NoError(t, err)

	f, err := facts.New("Msg", map[string]facts.FieldValue{"text": "hi"}, nil)
	require.NoError(t, err)

	sig1, err := s1.Sign(f)
	require.NoError(t, err)
	sig2, err := s2.Sign(f)
	require.NoError(t, err)

	env := &facts.Envelope{Fact: *f, Signatures: []facts.Signature{sig1, sig2}}
	require.NoError(t, Verify(env))

	mutated := env.Signatures[0].Signature
	bad := []byte(mutated)
	bad[len(bad)/2] ^= 0xFF
	env.Signatures[0].Signature = string(bad)

	err = Verify(env)
	require.Error(t, err)
}

func TestSign_RejectsCorruptedFact(t *testing.T) {
	key, err := GenerateKey()
	require.NoError(t, err)
	signer, err := NewSigner(key)
	require.NoError(t, err)

	f, err := facts.New("Msg", map[string]facts.FieldValue{"text": "hi"}, nil)
	require.NoError(t, err)
	f.Hash = "tampered-hash"

	_, err = signer.Sign(f)
	require.ErrorIs(t, err, ErrCorruptedFact)
}

func TestVerify_RejectsHashMismatch(t *testing.T) {
	key, err := GenerateKey()
	require.NoError(t, err)
	signer, err := NewSigner(key)
	require.NoError(t, err)

	f, err := facts.New("Msg", map[string]facts.FieldValue{"text": "hi"}, nil)
	require.NoError(t, err)
	sig, err := signer.Sign(f)
	require.NoError(t, err)

	env := &facts.Envelope{Fact: *f, Signatures: []facts.Signature{sig}}
	env.Fact.Hash = "wrong"

	err = Verify(env)
	require.ErrorIs(t, err, ErrHashMismatch)
}

func TestVerify_EmptySignatureSetIsAccepted(t *testing.T) {
	f, err := facts.New("Msg", map[string]facts.FieldValue{"text": "hi"}, nil)
	require.NoError(t, err)
	env := &facts.Envelope{Fact: *f}
	require.NoError(t, Verify(env))
}
