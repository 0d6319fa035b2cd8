package identity

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Claims extends the registered JWT claims with the principal's public key,
// so a verifier can recover which fact-signing identity a bearer token
// speaks for without a separate lookup.
type Claims struct {
	jwt.RegisteredClaims
	PublicKeyPEM string `json:"pub"`
}

// TokenManager issues and validates bearer tokens for internal/transport's
// negotiate step and access_token query parameter.
type TokenManager struct {
	keySet KeySet
}

// NewTokenManager creates a TokenManager backed by ks.
func NewTokenManager(ks KeySet) *TokenManager {
	return &TokenManager{keySet: ks}
}

// IssueToken creates a signed, time-bounded bearer token identifying p.
func (tm *TokenManager) IssueToken(p *Principal, duration time.Duration) (string, error) {
	now := time.Now().UTC()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   p.PublicKeyPEM,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(duration)),
			Issuer:    "latticefact",
		},
		PublicKeyPEM: p.PublicKeyPEM,
	}
	return tm.keySet.Sign(claims)
}

// ValidateToken parses and validates a bearer token, returning its claims,
// which carry the public key of the principal it was issued for.
func (tm *TokenManager) ValidateToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, tm.keySet.KeyFunc())
	if err != nil {
		return nil, err
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, jwt.ErrTokenSignatureInvalid
	}
	return claims, nil
}
