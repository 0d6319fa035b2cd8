package identity

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

func TestTokenManager_IssueAndValidate(t *testing.T) {
	ks, err := NewInMemoryKeySet()
	require.NoError(t, err)
	tm := NewTokenManager(ks)

	p, err := GeneratePrincipal()
	require.NoError(t, err)

	tok, err := tm.IssueToken(p, time.Hour)
	require.NoError(t, err)
	require.NotEmpty(t, tok)

	claims, err := tm.ValidateToken(tok)
	require.NoError(t, err)
	require.Equal(t, p.PublicKeyPEM, claims.PublicKeyPEM)
	require.Equal(t, p.PublicKeyPEM, claims.Subject)
}

func TestTokenManager_ExpiredTokenRejected(t *testing.T) {
	ks, err := NewInMemoryKeySet()
	require.NoError(t, err)
	tm := NewTokenManager(ks)

	p, err := GeneratePrincipal()
	require.NoError(t, err)

	tok, err := tm.IssueToken(p, -time.Minute)
	require.NoError(t, err)

	_, err = tm.ValidateToken(tok)
	require.Error(t, err)
}

func TestKeySet_RotationRetainsOldKeyForVerification(t *testing.T) {
	ks, err := NewInMemoryKeySet()
	require.NoError(t, err)
	tm := NewTokenManager(ks)

	p, err := GeneratePrincipal()
	require.NoError(t, err)
	tok, err := tm.IssueToken(p, time.Hour)
	require.NoError(t, err)

	require.NoError(t, ks.Rotate())

	claims, err := tm.ValidateToken(tok)
	require.NoError(t, err)
	require.Equal(t, p.PublicKeyPEM, claims.PublicKeyPEM)
}

func TestKeySet_UnknownKidRejected(t *testing.T) {
	ks, err := NewInMemoryKeySet()
	require.NoError(t, err)
	keyFunc := ks.KeyFunc()

	tok := &jwt.Token{
		Method: jwt.SigningMethodRS256,
		Header: map[string]interface{}{"alg": "RS256", "kid": "does-not-exist"},
	}
	_, err = keyFunc(tok)
	require.Error(t, err)
}
