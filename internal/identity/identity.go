// Package identity implements the Identity component (C12): RSA keypair
// generation, a Principal type wrapping a signed fact's public key, and a
// TokenManager issuing and validating the bearer tokens internal/transport
// carries on /negotiate and as the socket URL's access_token parameter.
package identity

import (
	"crypto/rand"
	"crypto/rsa"
	"fmt"

	"github.com/latticefact/runtime/internal/signing"
)

// KeyBits is the RSA modulus size used for newly generated principals,
// matching internal/signing's RSA-SHA512 fact-signing keys.
const KeyBits = 2048

// Principal identifies one authenticated party by the same PEM-encoded
// public key that appears in a fact envelope's signatures: the runtime has
// no separate identity namespace from the fact graph's own signing keys.
type Principal struct {
	PublicKeyPEM string
	privateKey   *rsa.PrivateKey // nil for a Principal describing a remote party
}

// GeneratePrincipal creates a new RSA keypair and wraps it as a Principal
// able to sign facts (via Signer). Its key does not sign bearer tokens;
// TokenManager signs those with its KeySet.
func GeneratePrincipal() (*Principal, error) {
	key, err := rsa.GenerateKey(rand.Reader, KeyBits)
	if err != nil {
		return nil, fmt.Errorf("identity: generate key: %w", err)
	}
	pub, err := signing.PublicKeyPEM(&key.PublicKey)
	if err != nil {
		return nil, err
	}
	return &Principal{PublicKeyPEM: pub, privateKey: key}, nil
}

// PrincipalFromKey wraps an already-parsed RSA private key as a Principal.
func PrincipalFromKey(key *rsa.PrivateKey) (*Principal, error) {
	pub, err := signing.PublicKeyPEM(&key.PublicKey)
	if err != nil {
		return nil, err
	}
	return &Principal{PublicKeyPEM: pub, privateKey: key}, nil
}

// RemotePrincipal wraps a public key alone, for identifying the author of
// an already-received envelope without holding its private key.
func RemotePrincipal(publicKeyPEM string) *Principal {
	return &Principal{PublicKeyPEM: publicKeyPEM}
}

// Signer returns a fact Signer for this principal, or an error if this
// Principal was constructed from a public key alone.
func (p *Principal) Signer() (*signing.Signer, error) {
	if p.privateKey == nil {
		return nil, fmt.Errorf("identity: principal %s holds no private key", p.PublicKeyPEM)
	}
	return signing.NewSigner(p.privateKey)
}
