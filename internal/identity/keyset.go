package identity

import (
	"crypto/rand"
	"crypto/rsa"
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// KeySet manages active token-signing keys and verification of past ones,
// supporting rotation without downtime for already-issued tokens.
type KeySet interface {
	Sign(claims jwt.Claims) (string, error)
	KeyFunc() jwt.Keyfunc
}

// maxRetainedKeys bounds how many rotated-out keys InMemoryKeySet still
// accepts for verification, per the teacher's own simple eviction rule.
const maxRetainedKeys = 10

// InMemoryKeySet holds RSA signing keys in memory, keyed by kid.
type InMemoryKeySet struct {
	mu         sync.RWMutex
	currentKID string
	keys       map[string]*rsa.PrivateKey
}

// NewInMemoryKeySet creates a key set with one freshly generated key active.
func NewInMemoryKeySet() (*InMemoryKeySet, error) {
	ks := &InMemoryKeySet{keys: make(map[string]*rsa.PrivateKey)}
	if err := ks.Rotate(); err != nil {
		return nil, err
	}
	return ks, nil
}

// Rotate generates a new active signing key, retaining prior keys (up to
// maxRetainedKeys) so tokens signed before rotation still verify.
func (ks *InMemoryKeySet) Rotate() error {
	key, err := rsa.GenerateKey(rand.Reader, KeyBits)
	if err != nil {
		return fmt.Errorf("identity: generate signing key: %w", err)
	}

	ks.mu.Lock()
	defer ks.mu.Unlock()

	kid := fmt.Sprintf("key-%d", time.Now().UnixNano())
	ks.keys[kid] = key
	ks.currentKID = kid

	if len(ks.keys) > maxRetainedKeys+1 {
		for k := range ks.keys {
			if k != kid {
				delete(ks.keys, k)
				break
			}
		}
	}
	return nil
}

// Sign signs claims with the currently active key, embedding its kid.
func (ks *InMemoryKeySet) Sign(claims jwt.Claims) (string, error) {
	ks.mu.RLock()
	key := ks.keys[ks.currentKID]
	kid := ks.currentKID
	ks.mu.RUnlock()

	if key == nil {
		return "", fmt.Errorf("identity: no active signing key")
	}

	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = kid
	return token.SignedString(key)
}

// KeyFunc returns the jwt.Keyfunc that resolves a token's kid header to the
// matching public key, rejecting any algorithm other than RS256.
func (ks *InMemoryKeySet) KeyFunc() jwt.Keyfunc {
	return func(token *jwt.Token) (interface{}, error) {
		if token.Method.Alg() != jwt.SigningMethodRS256.Alg() {
			return nil, fmt.Errorf("identity: unexpected signing method %v", token.Header["alg"])
		}
		kid, ok := token.Header["kid"].(string)
		if !ok {
			return nil, fmt.Errorf("identity: missing kid in token header")
		}

		ks.mu.RLock()
		defer ks.mu.RUnlock()
		key, ok := ks.keys[kid]
		if !ok {
			return nil, fmt.Errorf("identity: key %s not found", kid)
		}
		return &key.PublicKey, nil
	}
}
