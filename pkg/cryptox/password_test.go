package cryptox

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHashAndVerifyPassword(t *testing.T) {
	SetPepperPath(t.TempDir() + "/pepper")

	hash, err := HashPassword("correct horse battery staple")
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(hash, "$argon2id$v=19$"))

	t.Run("accepts the right password", func(t *testing.T) {
		require.NoError(t, VerifyPassword("correct horse battery staple", hash))
	})

	t.Run("rejects the wrong password", func(t *testing.T) {
		require.ErrorIs(t, VerifyPassword("wrong", hash), ErrMismatch)
	})

	t.Run("distinct hashes for the same password", func(t *testing.T) {
		other, err := HashPassword("correct horse battery staple")
		require.NoError(t, err)
		require.NotEqual(t, hash, other) // different salts
	})

	t.Run("rejects malformed hashes", func(t *testing.T) {
		require.Error(t, VerifyPassword("x", "not-a-phc-string"))
		require.Error(t, VerifyPassword("x", "$md5$abcdef"))
	})
}

func TestScheme(t *testing.T) {
	t.Parallel()

	require.Equal(t, "argon2id", Scheme("$argon2id$v=19$m=19456,t=2,p=1$c2FsdA$aGFzaA"))
	require.Equal(t, "md5", Scheme("$md5$d41d8cd98f00b204e9800998ecf8427e"))
	require.Equal(t, "", Scheme("plaintext"))
}

func TestTrustedScheme(t *testing.T) {
	t.Parallel()

	require.True(t, TrustedScheme("$argon2id$v=19$m=19456,t=2,p=1$c2FsdA$aGFzaA"))
	require.True(t, TrustedScheme("$bcrypt$2a$10$abcdefghijklmnopqrstuv"))
	require.False(t, TrustedScheme("$md5$d41d8cd98f00b204e9800998ecf8427e"))
	require.False(t, TrustedScheme(""))
}

func TestGenerateTokens(t *testing.T) {
	t.Parallel()

	tok, err := GenerateToken(TokenSize256)
	require.NoError(t, err)
	require.Len(t, tok, 43)

	hexTok, err := GenerateHex(16)
	require.NoError(t, err)
	require.Len(t, hexTok, 32)

	_, err = GenerateToken(0)
	require.Error(t, err)

	t.Run("fingerprint is deterministic", func(t *testing.T) {
		require.Equal(t, FingerprintToken("abc"), FingerprintToken("abc"))
		require.NotEqual(t, FingerprintToken("abc"), FingerprintToken("abd"))
	})
}
