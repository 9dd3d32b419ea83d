package tokenseal

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSealer_RoundTrip(t *testing.T) {
	key, err := GenerateKey()
	require.NoError(t, err)

	s, err := New(key)
	require.NoError(t, err)
	require.True(t, s.Enabled())

	sealed, err := s.Seal("tok-123")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(sealed, prefix))
	assert.NotContains(t, sealed, "tok-123")

	plain, err := s.Open(sealed)
	require.NoError(t, err)
	assert.Equal(t, "tok-123", plain)
}

func TestSealer_Disabled(t *testing.T) {
	s, err := New("")
	require.NoError(t, err)
	assert.False(t, s.Enabled())

	sealed, err := s.Seal("tok-123")
	require.NoError(t, err)
	assert.Equal(t, "tok-123", sealed)

	_, err = s.Open(prefix + "AAAA")
	assert.ErrorIs(t, err, ErrInvalidKey)
}

func TestSealer_ReadsLegacyPlaintext(t *testing.T) {
	key, _ := GenerateKey()
	s, err := New(key)
	require.NoError(t, err)

	plain, err := s.Open("legacy-token")
	require.NoError(t, err)
	assert.Equal(t, "legacy-token", plain)
}

func TestSealer_WrongKey(t *testing.T) {
	k1, _ := GenerateKey()
	k2, _ := GenerateKey()
	s1, _ := New(k1)
	s2, _ := New(k2)

	sealed, err := s1.Seal("tok-123")
	require.NoError(t, err)

	_, err = s2.Open(sealed)
	assert.ErrorIs(t, err, ErrCorrupted)
}

func TestNew_InvalidKey(t *testing.T) {
	_, err := New("not-base64!")
	assert.ErrorIs(t, err, ErrInvalidKey)

	_, err = New("c2hvcnQ=")
	assert.ErrorIs(t, err, ErrInvalidKey)
}
