// pkg/polygon/tx.go
package polygon

import (
	"encoding/hex"
	"fmt"
	"math/big"
	"regexp"
	"strings"

	btcecdsa "github.com/btcsuite/btcd/btcec/v2/ecdsa"

	"github.com/zkwallet/zkwallet/pkg/keys"
)

var addressRx = regexp.MustCompile(`^0x[0-9a-fA-F]{40}$`)

// IsValidAddress reports whether s looks like a 0x-prefixed 20-byte address.
// Checksum casing is not enforced here; EIP-55 validation lives in pkg/keys.
func IsValidAddress(s string) bool {
	return addressRx.MatchString(s)
}

// LegacyTx is a pre-EIP-1559 transaction. Polygon PoS accepts these on both
// mainnet and Amoy, and they keep the signing path simple.
type LegacyTx struct {
	Nonce    uint64
	GasPrice *big.Int
	Gas      uint64
	To       string
	Value    *big.Int
	Data     []byte
	ChainID  *big.Int
}

// SignLegacyTx signs tx with the given private key using EIP-155 replay
// protection and returns the 0x-prefixed raw transaction hex ready for
// eth_sendRawTransaction.
func SignLegacyTx(tx *LegacyTx, privateKey string) (string, error) {
	if tx.ChainID == nil || tx.ChainID.Sign() <= 0 {
		return "", fmt.Errorf("sign tx: chain id is required")
	}
	if !IsValidAddress(tx.To) {
		return "", fmt.Errorf("sign tx: invalid recipient address %q", tx.To)
	}
	to, err := hex.DecodeString(strings.TrimPrefix(tx.To, "0x"))
	if err != nil {
		return "", fmt.Errorf("sign tx: decode recipient: %w", err)
	}

	priv, err := keys.ParsePrivateKey(privateKey)
	if err != nil {
		return "", fmt.Errorf("sign tx: %w", err)
	}

	// EIP-155 preimage: the chain id rides in the v slot with empty r/s.
	sighash := keys.Keccak256(rlpEncodeList(
		rlpEncodeUint(tx.Nonce),
		rlpEncodeBig(tx.GasPrice),
		rlpEncodeUint(tx.Gas),
		rlpEncodeBytes(to),
		rlpEncodeBig(tx.Value),
		rlpEncodeBytes(tx.Data),
		rlpEncodeBig(tx.ChainID),
		rlpEncodeBytes(nil),
		rlpEncodeBytes(nil),
	))

	compact := btcecdsa.SignCompact(priv, sighash, false)
	if len(compact) != 65 {
		return "", fmt.Errorf("sign tx: unexpected compact signature length %d", len(compact))
	}
	recID := int64(compact[0]) - 27
	r := new(big.Int).SetBytes(compact[1:33])
	s := new(big.Int).SetBytes(compact[33:65])

	// v = recovery id + chainID*2 + 35 per EIP-155.
	v := new(big.Int).Mul(tx.ChainID, big.NewInt(2))
	v.Add(v, big.NewInt(recID+35))

	raw := rlpEncodeList(
		rlpEncodeUint(tx.Nonce),
		rlpEncodeBig(tx.GasPrice),
		rlpEncodeUint(tx.Gas),
		rlpEncodeBytes(to),
		rlpEncodeBig(tx.Value),
		rlpEncodeBytes(tx.Data),
		rlpEncodeBig(v),
		rlpEncodeBig(r),
		rlpEncodeBig(s),
	)

	return "0x" + hex.EncodeToString(raw), nil
}
