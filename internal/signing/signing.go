// Package signing implements the Signer/Verifier (component C2): RSA-SHA512
// signatures over a fact's canonical digest, and envelope verification.
package signing

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha512"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"fmt"

	"github.com/latticefact/runtime/internal/canonical"
	"github.com/latticefact/runtime/internal/facts"
)

// Sentinel errors named after the spec's error kinds (§7). Wrapped with
// %w as they propagate so callers can errors.Is against them.
var (
	// ErrCorruptedFact means a fact's declared hash does not match its
	// recomputed canonical hash at sign time.
	ErrCorruptedFact = errors.New("signing: corrupted fact")
	// ErrHashMismatch means an envelope's declared fact hash does not match
	// its recomputed canonical hash at verify time.
	ErrHashMismatch = errors.New("signing: hash mismatch")
	// ErrBadSignature means at least one signature in an envelope failed
	// RSA-SHA512 verification against its embedded public key.
	ErrBadSignature = errors.New("signing: bad signature")
)

// Signer holds an RSA key pair and signs facts on behalf of one principal.
type Signer struct {
	privateKey *rsa.PrivateKey
	publicPEM  string
}

// NewSigner wraps an already-parsed RSA private key.
func NewSigner(key *rsa.PrivateKey) (*Signer, error) {
	pub, err := PublicKeyPEM(&key.PublicKey)
	if err != nil {
		return nil, err
	}
	return &Signer{privateKey: key, publicPEM: pub}, nil
}

// PublicKeyPEM returns the PEM encoding of an RSA public key.
func PublicKeyPEM(pub *rsa.PublicKey) (string, error) {
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return "", fmt.Errorf("signing: marshal public key: %w", err)
	}
	block := &pem.Block{Type: "PUBLIC KEY", Bytes: der}
	return string(pem.EncodeToMemory(block)), nil
}

// PublicKey returns the signer's PEM-encoded public key.
func (s *Signer) PublicKey() string {
	return s.publicPEM
}

// Sign recomputes the canonical digest of the fact, asserts it matches the
// fact's declared hash (else ErrCorruptedFact), and returns a signature over
// that digest using RSA-SHA512.
func (s *Signer) Sign(f *facts.Fact) (facts.Signature, error) {
	digest, err := digestFor(f)
	if err != nil {
		return facts.Signature{}, err
	}

	sig, err := rsa.SignPKCS1v15(rand.Reader, s.privateKey, crypto.SHA512, digest)
	if err != nil {
		return facts.Signature{}, fmt.Errorf("signing: rsa sign: %w", err)
	}

	return facts.Signature{
		PublicKey: s.publicPEM,
		Signature: base64.StdEncoding.EncodeToString(sig),
	}, nil
}

// digestFor recomputes the canonical SHA-512 digest bytes (not the base64
// fact hash) and asserts the fact's declared hash matches.
func digestFor(f *facts.Fact) ([]byte, error) {
	canon, err := canonical.Canonicalize(f.Fields, f.Predecessors)
	if err != nil {
		return nil, fmt.Errorf("signing: canonicalize: %w", err)
	}
	declared := canonical.HashBytes(canon)
	if declared != f.Hash {
		return nil, fmt.Errorf("%w: declared %s, computed %s", ErrCorruptedFact, f.Hash, declared)
	}
	sum := sha512.Sum512(canon)
	return sum[:], nil
}

// Verify recomputes the canonical digest of an envelope's fact, rejects if
// the declared hash disagrees (ErrHashMismatch), then verifies every
// signature against its embedded public key; an envelope with any bad
// signature is rejected entirely (ErrBadSignature).
func Verify(env *facts.Envelope) error {
	canon, err := canonical.Canonicalize(env.Fact.Fields, env.Fact.Predecessors)
	if err != nil {
		return fmt.Errorf("signing: canonicalize: %w", err)
	}
	declared := canonical.HashBytes(canon)
	if declared != env.Fact.Hash {
		return fmt.Errorf("%w: declared %s, computed %s", ErrHashMismatch, env.Fact.Hash, declared)
	}
	digest := sha512.Sum512(canon)

	for _, sig := range env.Signatures {
		if err := verifyOne(digest[:], sig); err != nil {
			return fmt.Errorf("%w: key %s: %v", ErrBadSignature, sig.PublicKey, err)
		}
	}
	return nil
}

func verifyOne(digest []byte, sig facts.Signature) error {
	pub, err := ParsePublicKeyPEM(sig.PublicKey)
	if err != nil {
		return err
	}
	raw, err := base64.StdEncoding.DecodeString(sig.Signature)
	if err != nil {
		return fmt.Errorf("decode signature: %w", err)
	}
	if err := rsa.VerifyPKCS1v15(pub, crypto.SHA512, digest, raw); err != nil {
		return fmt.Errorf("rsa verify: %w", err)
	}
	return nil
}

// ParsePublicKeyPEM parses a PEM-encoded PKIX RSA public key.
func ParsePublicKeyPEM(pemStr string) (*rsa.PublicKey, error) {
	block, _ := pem.Decode([]byte(pemStr))
	if block == nil {
		return nil, errors.New("signing: invalid PEM block")
	}
	key, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("signing: parse public key: %w", err)
	}
	rsaKey, ok := key.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("signing: key is not RSA (%T)", key)
	}
	return rsaKey, nil
}

// GenerateKey is a test/bootstrap helper producing a fresh RSA-2048 key
// pair. Production key generation is an external collaborator per spec §1.
func GenerateKey() (*rsa.PrivateKey, error) {
	return rsa.GenerateKey(rand.Reader, 2048)
}
