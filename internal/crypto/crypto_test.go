package crypto

import (
	"encoding/base64"
	"errors"
	"testing"

	apperrors "github.com/inspire-id/idvault/internal/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCipher(t *testing.T) *Cipher {
	key, err := GenerateKey()
	require.NoError(t, err)
	c, err := NewCipher(key)
	require.NoError(t, err)
	return c
}

func TestHashForLookup(t *testing.T) {
	// sha256("abc123")
	const want = "6ca13d52ca70c883e0f0bb101e425a89e8624de51db2d2392593af6a84118090"

	assert.Equal(t, want, HashForLookup("abc123"))
	assert.Equal(t, HashForLookup("abc123"), HashForLookup("abc123"))
	assert.NotEqual(t, HashForLookup("abc123"), HashForLookup("xyz999"))
	assert.Len(t, HashForLookup(""), 64)
}

func TestNewCipher_InvalidKey(t *testing.T) {
	_, err := NewCipher("")
	assert.True(t, errors.Is(err, apperrors.ErrInvalidKey))

	_, err = NewCipher("not-a-fernet-key")
	assert.True(t, errors.Is(err, apperrors.ErrInvalidKey))
}

func TestEncryptDecrypt_RoundTrip(t *testing.T) {
	c := newTestCipher(t)

	for _, plain := range []string{"", "abc123", "DL 1234567", "ünïcödé ✓"} {
		tok, err := c.Encrypt(plain)
		require.NoError(t, err)
		assert.NotEqual(t, plain, tok)

		got, err := c.Decrypt(tok)
		require.NoError(t, err)
		assert.Equal(t, plain, got)
	}
}

func TestEncrypt_NonDeterministic(t *testing.T) {
	c := newTestCipher(t)

	a, err := c.Encrypt("same")
	require.NoError(t, err)
	b, err := c.Encrypt("same")
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestDecrypt_WrongKey(t *testing.T) {
	a := newTestCipher(t)
	b := newTestCipher(t)

	tok, err := a.Encrypt("secret")
	require.NoError(t, err)

	_, err = b.Decrypt(tok)
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrDecryption))
}

func TestDecrypt_TamperedToken(t *testing.T) {
	c := newTestCipher(t)

	tok, err := c.Encrypt("secret payload")
	require.NoError(t, err)

	raw, err := base64.URLEncoding.DecodeString(tok)
	require.NoError(t, err)

	for i := range raw {
		tampered := make([]byte, len(raw))
		copy(tampered, raw)
		tampered[i] ^= 0x01

		_, err := c.Decrypt(base64.URLEncoding.EncodeToString(tampered))
		require.Errorf(t, err, "byte %d flip was not detected", i)
		assert.True(t, errors.Is(err, apperrors.ErrDecryption))
	}
}

func TestDecrypt_Garbage(t *testing.T) {
	c := newTestCipher(t)

	_, err := c.Decrypt("definitely not a token")
	assert.True(t, errors.Is(err, apperrors.ErrDecryption))
}

func TestEncryptJSON_RoundTrip(t *testing.T) {
	c := newTestCipher(t)

	in := map[string]any{
		"first_name":   "Jane",
		"has_portrait": true,
		"nested":       map[string]any{"k": "v"},
	}
	tok, err := c.EncryptJSON(in)
	require.NoError(t, err)
	require.NotNil(t, tok)

	var out map[string]any
	ok, err := c.DecryptJSON(tok, &out)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "Jane", out["first_name"])
	assert.Equal(t, true, out["has_portrait"])
	assert.Equal(t, map[string]any{"k": "v"}, out["nested"])
}

func TestEncryptJSON_Nil(t *testing.T) {
	c := newTestCipher(t)

	tok, err := c.EncryptJSON(nil)
	require.NoError(t, err)
	assert.Nil(t, tok)

	var typedNil map[string]any
	tok, err = c.EncryptJSON(typedNil)
	require.NoError(t, err)
	assert.Nil(t, tok)

	out := map[string]any{"untouched": true}
	ok, err := c.DecryptJSON(nil, &out)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, map[string]any{"untouched": true}, out)
}

func TestEncryptJSON_EmptyMapIsNotNil(t *testing.T) {
	c := newTestCipher(t)

	tok, err := c.EncryptJSON(map[string]any{})
	require.NoError(t, err)
	require.NotNil(t, tok)

	var out map[string]any
	ok, err := c.DecryptJSON(tok, &out)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Empty(t, out)
}
