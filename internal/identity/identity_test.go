package identity

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/latticefact/runtime/internal/facts"
)

func TestGeneratePrincipal_CanSignFacts(t *testing.T) {
	p, err := GeneratePrincipal()
	require.NoError(t, err)
	require.NotEmpty(t, p.PublicKeyPEM)

	signer, err := p.Signer()
	require.NoError(t, err)
	require.Equal(t, p.PublicKeyPEM, signer.PublicKey())

	f, err := facts.New("Msg", map[string]facts.FieldValue{"text": "hi"}, nil)
	require.NoError(t, err)
	sig, err := signer.Sign(f)
	require.NoError(t, err)
	require.Equal(t, p.PublicKeyPEM, sig.PublicKey)
}

func TestRemotePrincipal_HasNoSigner(t *testing.T) {
	p := RemotePrincipal("-----BEGIN PUBLIC KEY-----\nfake\n-----END PUBLIC KEY-----")
	_, err := p.Signer()
	require.Error(t, err)
}
