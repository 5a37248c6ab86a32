package crypto

import (
	"crypto/sha256"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/hkdf"
)

func TestGenerateTokenIsUnique(t *testing.T) {
	seen := make(map[string]struct{})
	for i := 0; i < 1000; i++ {
		tok, err := GenerateToken()
		require.NoError(t, err)
		require.Len(t, tok, 43)
		_, dup := seen[tok]
		require.False(t, dup, "duplicate token %s", tok)
		seen[tok] = struct{}{}
	}
}

func TestSealerRoundTrip(t *testing.T) {
	s, err := NewSealer("server-key")
	require.NoError(t, err)

	sealed, err := s.Seal([]byte("cGF5bG9hZA=="), []byte("tok-1"))
	require.NoError(t, err)
	assert.NotContains(t, string(sealed), "cGF5bG9hZA==")

	plain, err := s.Open(sealed, []byte("tok-1"))
	require.NoError(t, err)
	assert.Equal(t, "cGF5bG9hZA==", string(plain))

	_, err = s.Open(sealed, []byte("tok-2"))
	assert.Error(t, err, "aad mismatch must fail")

	_, err = s.Open([]byte("short"), nil)
	assert.Error(t, err)
}

func TestNewSealerRejectsEmptyKey(t *testing.T) {
	_, err := NewSealer("")
	assert.Error(t, err)
}

func TestDeriveKeyUsesHKDF(t *testing.T) {
	key, err := deriveKey("server-key")
	require.NoError(t, err)
	require.Len(t, key, keyLength)

	want := make([]byte, keyLength)
	_, err = io.ReadFull(hkdf.New(sha256.New, []byte("server-key"), nil, []byte(sealInfo)), want)
	require.NoError(t, err)
	assert.Equal(t, want, key)

	plain := sha256.Sum256([]byte("server-key"))
	assert.NotEqual(t, plain[:], key)

	other, err := deriveKey("other-key")
	require.NoError(t, err)
	assert.NotEqual(t, key, other)
}

func TestSealerKeysAreNotInterchangeable(t *testing.T) {
	a, err := NewSealer("key-a")
	require.NoError(t, err)
	b, err := NewSealer("key-b")
	require.NoError(t, err)

	sealed, err := a.Seal([]byte("payload"), []byte("tok"))
	require.NoError(t, err)
	_, err = b.Open(sealed, []byte("tok"))
	assert.Error(t, err)
}
