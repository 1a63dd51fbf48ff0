package jwtx_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openfederation/centralid/pkg/jwtx"
)

func TestSignAndVerify(t *testing.T) {
	signer, err := jwtx.NewSigner()
	require.NoError(t, err)

	claims := jwtx.NewSessionClaims(
		"alice", "sid-1", "site-a",
		[]string{"session:read"},
		"centralid", jwtx.DefaultSessionTTL, time.Now(),
	)

	raw, err := signer.Sign(claims)
	require.NoError(t, err)

	got, err := signer.Verifier("centralid").Verify(raw)
	require.NoError(t, err)

	assert.Equal(t, "alice", got.Username)
	assert.Equal(t, "sid-1", got.SID)
	assert.Equal(t, "site-a", got.Origin)
	assert.Equal(t, []string{"session:read"}, got.Scopes)
	assert.NotEmpty(t, got.ID, "jti should be populated")
}

func TestVerifyRejectsExpired(t *testing.T) {
	signer, err := jwtx.NewSigner()
	require.NoError(t, err)

	claims := jwtx.NewSessionClaims(
		"alice", "sid-1", "site-a", nil,
		"centralid", time.Minute, time.Now().Add(-time.Hour),
	)

	raw, err := signer.Sign(claims)
	require.NoError(t, err)

	_, err = signer.Verifier("centralid").Verify(raw)
	assert.ErrorIs(t, err, jwtx.ErrExpired)
}

func TestVerifyRejectsWrongIssuer(t *testing.T) {
	signer, err := jwtx.NewSigner()
	require.NoError(t, err)

	claims := jwtx.NewSessionClaims(
		"alice", "sid-1", "site-a", nil,
		"someone-else", jwtx.DefaultSessionTTL, time.Now(),
	)

	raw, err := signer.Sign(claims)
	require.NoError(t, err)

	_, err = signer.Verifier("centralid").Verify(raw)
	assert.ErrorIs(t, err, jwtx.ErrIssuer)
}

func TestVerifyRejectsForeignKey(t *testing.T) {
	signer, err := jwtx.NewSigner()
	require.NoError(t, err)
	other, err := jwtx.NewSigner()
	require.NoError(t, err)

	claims := jwtx.NewSessionClaims(
		"alice", "sid-1", "site-a", nil,
		"centralid", jwtx.DefaultSessionTTL, time.Now(),
	)

	raw, err := signer.Sign(claims)
	require.NoError(t, err)

	_, err = other.Verifier("centralid").Verify(raw)
	assert.ErrorIs(t, err, jwtx.ErrInvalidToken)
}
