package wallet

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testKey = "0123456789abcdef0123456789abcdef" // 32 bytes

func TestEncryptDecryptRoundTrip(t *testing.T) {
	plaintext := "4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"

	encrypted, err := EncryptPrivateKey(plaintext, testKey)
	require.NoError(t, err)
	assert.NotEqual(t, plaintext, encrypted)

	decrypted, err := DecryptPrivateKey(encrypted, testKey)
	require.NoError(t, err)
	assert.Equal(t, plaintext, decrypted)
}

func TestEncryptProducesFreshNonce(t *testing.T) {
	a, err := EncryptPrivateKey("secret", testKey)
	require.NoError(t, err)
	b, err := EncryptPrivateKey("secret", testKey)
	require.NoError(t, err)
	assert.NotEqual(t, a, b, "same plaintext must never produce the same ciphertext")
}

func TestEncryptRejectsShortKey(t *testing.T) {
	_, err := EncryptPrivateKey("secret", "too-short")
	assert.Error(t, err)

	_, err = EncryptPrivateKey("", testKey)
	assert.Error(t, err)
}

func TestDecryptRejectsWrongKey(t *testing.T) {
	encrypted, err := EncryptPrivateKey("secret", testKey)
	require.NoError(t, err)

	otherKey := strings.Repeat("x", 32)
	_, err = DecryptPrivateKey(encrypted, otherKey)
	assert.Error(t, err, "GCM must reject a ciphertext under the wrong key")
}

func TestDecryptRejectsGarbage(t *testing.T) {
	_, err := DecryptPrivateKey("not-hex", testKey)
	assert.Error(t, err)

	_, err = DecryptPrivateKey("abcd", testKey)
	assert.Error(t, err, "ciphertext shorter than the nonce must be rejected")
}

func TestLongKeyTruncatedConsistently(t *testing.T) {
	longKey := testKey + "extra-bytes-beyond-32"
	encrypted, err := EncryptPrivateKey("secret", longKey)
	require.NoError(t, err)

	// Only the first 32 bytes participate, so the shorter spelling decrypts.
	decrypted, err := DecryptPrivateKey(encrypted, testKey+"different-tail")
	require.NoError(t, err)
	assert.Equal(t, "secret", decrypted)
}
