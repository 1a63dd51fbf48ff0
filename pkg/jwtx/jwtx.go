// Package jwtx provides a minimal EdDSA signer/verifier pair for the
// short-lived session tokens handed out after a login or a one-time-token
// exchange. Keys are ephemeral: sessions do not outlive a service restart.
package jwtx

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// DefaultSessionTTL is the default lifetime for session tokens.
const DefaultSessionTTL = 15 * time.Minute

var (
	ErrExpired      = errors.New("jwtx: token expired")
	ErrIssuer       = errors.New("jwtx: unexpected issuer")
	ErrInvalidToken = errors.New("jwtx: invalid token")
)

// Claims are the session-token claims used across the service.
type Claims struct {
	jwt.RegisteredClaims

	// SID is the session identifier. For exchanged one-time tokens this is
	// derived deterministically from the token payload.
	SID string `json:"sid,omitempty"`

	// Username of the authenticated global identity.
	Username string `json:"username,omitempty"`

	// Scopes granted to the session, e.g. "steward:write".
	Scopes []string `json:"scopes,omitempty"`

	// Origin is the site id the session was established from.
	Origin string `json:"origin,omitempty"`
}

// NewSessionClaims builds minimally-correct claims.
func NewSessionClaims(
	username, sid, origin string,
	scopes []string,
	issuer string,
	ttl time.Duration,
	now time.Time,
) Claims {
	return Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   username,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			ID:        newJTI(),
		},
		SID:      sid,
		Username: username,
		Scopes:   scopes,
		Origin:   origin,
	}
}

// newJTI returns a URL-safe random identifier for the "jti" claim.
func newJTI() string {
	var b [20]byte
	_, _ = rand.Read(b[:])
	return base64.RawURLEncoding.EncodeToString(b[:])
}

// Signer signs session claims with an Ed25519 key.
type Signer struct {
	key ed25519.PrivateKey
	pub ed25519.PublicKey
}

// NewSigner generates a fresh Ed25519 keypair.
func NewSigner() (*Signer, error) {
	pub, key, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("jwtx: generate keypair: %w", err)
	}
	return &Signer{key: key, pub: pub}, nil
}

// Sign takes claims and turns them into a signed JWT string.
func (s *Signer) Sign(claims Claims) (string, error) {
	t := jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims)
	return t.SignedString(s.key)
}

// Verifier returns a verifier for tokens signed by this signer.
func (s *Signer) Verifier(issuer string) *Verifier {
	return &Verifier{pub: s.pub, issuer: issuer}
}

// Verifier verifies session tokens against the signer's public key.
type Verifier struct {
	pub    ed25519.PublicKey
	issuer string
}

// Verify parses and validates a raw token, returning its claims.
func (v *Verifier) Verify(raw string) (Claims, error) {
	var claims Claims
	_, err := jwt.ParseWithClaims(raw, &claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodEd25519); !ok {
			return nil, fmt.Errorf("jwtx: unexpected signing method %q", t.Method.Alg())
		}
		return v.pub, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Claims{}, ErrExpired
		}
		return Claims{}, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}

	if v.issuer != "" && claims.Issuer != v.issuer {
		return Claims{}, ErrIssuer
	}

	return claims, nil
}
