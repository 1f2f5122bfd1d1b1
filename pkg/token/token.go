// Package token mints and verifies the short-lived connect tokens that
// authorize a (host, device) pair through the relay.
package token

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TTL is how long a connect token stays valid after minting. Expiry is the
// only invalidation mechanism; there is no revocation list.
const TTL = 5 * time.Minute

const issuerName = "termrelay"

// Claims bind one host ID and one device key for the token's lifetime.
type Claims struct {
	HostID    string `json:"host_id"`
	DeviceKey string `json:"device_key"`
	jwt.RegisteredClaims
}

// Issuer signs and verifies connect tokens with a shared HMAC secret.
type Issuer struct {
	secret []byte
}

// NewIssuer returns an Issuer using the given signing secret.
func NewIssuer(secret string) *Issuer {
	return &Issuer{secret: []byte(secret)}
}

// Mint creates a signed connect token valid for TTL.
func (i *Issuer) Mint(hostID, deviceKey string) (string, error) {
	now := time.Now()
	claims := Claims{
		HostID:    hostID,
		DeviceKey: deviceKey,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(TTL)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    issuerName,
		},
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return tok.SignedString(i.secret)
}

// Verify checks the signature, signing method, and expiry of a connect
// token and returns its claims.
func (i *Issuer) Verify(tokenString string) (*Claims, error) {
	tok, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return i.secret, nil
	}, jwt.WithIssuer(issuerName))
	if err != nil {
		return nil, err
	}
	claims, ok := tok.Claims.(*Claims)
	if !ok || !tok.Valid {
		return nil, fmt.Errorf("invalid token")
	}
	return claims, nil
}

// RandomKey returns a fresh 32-byte device key as hex.
func RandomKey() string {
	b := make([]byte, 32)
	rand.Read(b)
	return hex.EncodeToString(b)
}
