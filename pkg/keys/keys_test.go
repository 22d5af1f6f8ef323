package keys

import (
	"strings"
	"testing"

	btcecdsa "github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateKeyPair(t *testing.T) {
	kp, err := GenerateKeyPair()
	require.NoError(t, err)

	assert.Len(t, kp.PrivateKey, 64)
	assert.Len(t, kp.PublicKey, 130)
	assert.True(t, strings.HasPrefix(kp.PublicKey, "04"))
	assert.Len(t, kp.Address, 42)
	assert.True(t, strings.HasPrefix(kp.Address, "0x"))

	// Same private key must re-derive the same identity.
	priv, err := ParsePrivateKey(kp.PrivateKey)
	require.NoError(t, err)
	again, err := AddressFromPublicKey(priv.PubKey().SerializeUncompressed())
	require.NoError(t, err)
	assert.Equal(t, kp.Address, again)
}

func TestGenerateKeyPairUnique(t *testing.T) {
	a, err := GenerateKeyPair()
	require.NoError(t, err)
	b, err := GenerateKeyPair()
	require.NoError(t, err)

	assert.NotEqual(t, a.PrivateKey, b.PrivateKey)
	assert.NotEqual(t, a.Address, b.Address)
}

func TestToChecksumAddress(t *testing.T) {
	// Reference vectors from EIP-55.
	vectors := []string{
		"0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed",
		"0xfB6916095ca1df60bB79Ce92cE3Ea74c37c5d359",
		"0xdbF03B407c01E7cD3CBea99509d93f8DDDC8C6FB",
		"0xD1220A0cf47c7B9Be7A2E6BA89F429762e7b9aDb",
	}
	for _, want := range vectors {
		assert.Equal(t, want, ToChecksumAddress(strings.ToLower(want)))
	}
}

func TestChecksumRoundTrip(t *testing.T) {
	for i := 0; i < 16; i++ {
		kp, err := GenerateKeyPair()
		require.NoError(t, err)
		assert.Equal(t, kp.Address, ToChecksumAddress(strings.ToLower(kp.Address)))
	}
}

func TestVerifyPrivateKeyMatchesAddress(t *testing.T) {
	kp, err := GenerateKeyPair()
	require.NoError(t, err)

	ok, err := VerifyPrivateKeyMatchesAddress(kp.PrivateKey, kp.Address)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = VerifyPrivateKeyMatchesAddress(kp.PrivateKey, strings.ToLower(kp.Address))
	require.NoError(t, err)
	assert.True(t, ok, "comparison must be case-insensitive")

	other, err := GenerateKeyPair()
	require.NoError(t, err)
	ok, err = VerifyPrivateKeyMatchesAddress(kp.PrivateKey, other.Address)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSignMessage(t *testing.T) {
	kp, err := GenerateKeyPair()
	require.NoError(t, err)

	msg := []byte("transfer 1.5 to 0xabc")
	sig, err := SignMessage(msg, kp.PrivateKey)
	require.NoError(t, err)

	assert.Len(t, sig.R, 64)
	assert.Len(t, sig.S, 64)
	assert.Contains(t, []byte{27, 28}, sig.V)

	// Deterministic nonces: the same message yields the same signature.
	sig2, err := SignMessage(msg, kp.PrivateKey)
	require.NoError(t, err)
	assert.Equal(t, sig.Raw, sig2.Raw)

	// The public key must be recoverable from the compact signature.
	compact := make([]byte, 0, 65)
	compact = append(compact, sig.V)
	r, _ := hexDecode(t, sig.R)
	s, _ := hexDecode(t, sig.S)
	compact = append(compact, r...)
	compact = append(compact, s...)

	pub, wasCompressed, err := btcecdsa.RecoverCompact(compact, Keccak256(msg))
	require.NoError(t, err)
	assert.False(t, wasCompressed)

	recovered, err := AddressFromPublicKey(pub.SerializeUncompressed())
	require.NoError(t, err)
	assert.Equal(t, kp.Address, recovered)
}

func TestSignMessageRejectsBadKey(t *testing.T) {
	_, err := SignMessage([]byte("x"), "not-hex")
	var ce *CryptoError
	require.ErrorAs(t, err, &ce)

	_, err = SignMessage([]byte("x"), strings.Repeat("00", 32))
	require.ErrorAs(t, err, &ce, "zero scalar must be rejected")

	_, err = SignMessage([]byte("x"), strings.Repeat("ff", 32))
	require.ErrorAs(t, err, &ce, "scalar above group order must be rejected")
}

func hexDecode(t *testing.T, s string) ([]byte, error) {
	t.Helper()
	b := make([]byte, len(s)/2)
	for i := 0; i < len(b); i++ {
		hi := hexNibble(s[2*i])
		lo := hexNibble(s[2*i+1])
		b[i] = byte(hi<<4 | lo)
	}
	return b, nil
}
