package wallet

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zkwallet/zkwallet/pkg/keys"
)

// Validation in ImportWallet runs before any persistence, so these paths
// need no database behind the store.
func newValidationStore() *Store {
	return NewStore(nil, nil, testKey)
}

func TestImportWalletInvalidAddress(t *testing.T) {
	s := newValidationStore()
	kp, err := keys.GenerateKeyPair()
	require.NoError(t, err)

	for _, address := range []string{
		"",
		"not-an-address",
		"0x1234",
		strings.Repeat("g", 42),
	} {
		_, err := s.ImportWallet(context.Background(), 1, kp.PrivateKey, address)
		assert.ErrorIs(t, err, ErrInvalidAddress, address)
	}
}

func TestImportWalletBadPrivateKey(t *testing.T) {
	s := newValidationStore()
	kp, err := keys.GenerateKeyPair()
	require.NoError(t, err)

	for name, privateKey := range map[string]string{
		"not hex":         "zz" + strings.Repeat("00", 31),
		"too short":       "abcd",
		"zero scalar":     strings.Repeat("00", 32),
		"above the order": strings.Repeat("ff", 32),
	} {
		_, err := s.ImportWallet(context.Background(), 1, privateKey, kp.Address)
		require.Error(t, err, name)
		var cryptoErr *keys.CryptoError
		assert.ErrorAs(t, err, &cryptoErr, name)
	}
}

func TestImportWalletKeyMismatch(t *testing.T) {
	s := newValidationStore()
	first, err := keys.GenerateKeyPair()
	require.NoError(t, err)
	second, err := keys.GenerateKeyPair()
	require.NoError(t, err)

	_, err = s.ImportWallet(context.Background(), 1, first.PrivateKey, second.Address)
	assert.ErrorIs(t, err, ErrKeyMismatch)
}
