// pkg/keys/keys.go
package keys

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"

	"github.com/btcsuite/btcd/btcec/v2"
	btcecdsa "github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"golang.org/x/crypto/sha3"
)

// KeyPair holds a freshly generated secp256k1 key with its derived
// Ethereum-style identity. PrivateKey is hot material: callers are expected
// to encrypt it before persisting anywhere.
type KeyPair struct {
	PrivateKey string // 64 hex chars, no 0x prefix
	PublicKey  string // uncompressed, 130 hex chars (04 || X || Y)
	Address    string // 0x-prefixed, EIP-55 checksummed
}

// Signature is an ECDSA signature over Keccak-256(message) in canonical
// (low-s) form. V is the recovery id + 27.
type Signature struct {
	R   string
	S   string
	V   byte
	Raw string // r || s || v, hex encoded
}

// CryptoError marks failures in key parsing or signing. Never swallowed:
// a bad private key must surface here, not as a zero signature.
type CryptoError struct {
	Op  string
	Err error
}

func (e *CryptoError) Error() string {
	return fmt.Sprintf("keys: %s: %v", e.Op, e.Err)
}

func (e *CryptoError) Unwrap() error {
	return e.Err
}

// GenerateKeyPair draws 32 cryptographically secure random bytes as a
// secp256k1 private key and derives the uncompressed public key and the
// EIP-55 checksummed address from it.
func GenerateKeyPair() (*KeyPair, error) {
	priv, err := btcec.NewPrivateKey()
	if err != nil {
		return nil, &CryptoError{Op: "generate private key", Err: err}
	}

	pub := priv.PubKey().SerializeUncompressed()
	address, err := AddressFromPublicKey(pub)
	if err != nil {
		return nil, err
	}

	return &KeyPair{
		PrivateKey: hex.EncodeToString(priv.Serialize()),
		PublicKey:  hex.EncodeToString(pub),
		Address:    address,
	}, nil
}

// AddressFromPublicKey derives the address as the low 20 bytes of
// Keccak-256 over the 64-byte X||Y point (the 04 prefix is stripped),
// checksummed per EIP-55.
func AddressFromPublicKey(uncompressed []byte) (string, error) {
	if len(uncompressed) != 65 || uncompressed[0] != 0x04 {
		return "", &CryptoError{Op: "derive address", Err: fmt.Errorf("public key must be 65 uncompressed bytes")}
	}
	digest := Keccak256(uncompressed[1:])
	return ToChecksumAddress(hex.EncodeToString(digest[12:])), nil
}

// ToChecksumAddress applies EIP-55 mixed-case encoding: hex digit i of the
// lowercase address is capitalized iff the matching nibble of
// Keccak-256(lowercase address) is >= 8.
func ToChecksumAddress(address string) string {
	addr := strings.ToLower(strings.TrimPrefix(address, "0x"))
	digest := Keccak256([]byte(addr))
	hashHex := hex.EncodeToString(digest)

	out := make([]byte, len(addr))
	for i := 0; i < len(addr); i++ {
		c := addr[i]
		if c >= 'a' && c <= 'f' && hexNibble(hashHex[i]) >= 8 {
			c = c - 'a' + 'A'
		}
		out[i] = c
	}
	return "0x" + string(out)
}

// VerifyPrivateKeyMatchesAddress re-derives the address from the key and
// compares case-insensitively, so both checksummed and lowercase inputs pass.
func VerifyPrivateKeyMatchesAddress(privateKey, address string) (bool, error) {
	priv, err := ParsePrivateKey(privateKey)
	if err != nil {
		return false, err
	}
	derived, err := AddressFromPublicKey(priv.PubKey().SerializeUncompressed())
	if err != nil {
		return false, err
	}
	return strings.EqualFold(derived, address), nil
}

// SignMessage signs Keccak-256(message) with the given private key. btcec
// produces RFC 6979 deterministic, low-s signatures, which keeps V stable
// for the same input.
func SignMessage(message []byte, privateKey string) (*Signature, error) {
	priv, err := ParsePrivateKey(privateKey)
	if err != nil {
		return nil, err
	}

	digest := Keccak256(message)
	// Compact layout is [v, r(32), s(32)] with v already offset by 27
	// for uncompressed keys.
	compact := btcecdsa.SignCompact(priv, digest, false)
	if len(compact) != 65 {
		return nil, &CryptoError{Op: "sign message", Err: fmt.Errorf("unexpected compact signature length %d", len(compact))}
	}

	r := compact[1:33]
	s := compact[33:65]
	v := compact[0]

	raw := make([]byte, 0, 65)
	raw = append(raw, r...)
	raw = append(raw, s...)
	raw = append(raw, v)

	return &Signature{
		R:   hex.EncodeToString(r),
		S:   hex.EncodeToString(s),
		V:   v,
		Raw: hex.EncodeToString(raw),
	}, nil
}

// ParsePrivateKey decodes a 32-byte hex private key (with or without 0x)
// and rejects values outside [1, N-1] of the secp256k1 group.
func ParsePrivateKey(privateKey string) (*btcec.PrivateKey, error) {
	trimmed := strings.TrimPrefix(strings.TrimSpace(privateKey), "0x")
	raw, err := hex.DecodeString(trimmed)
	if err != nil {
		return nil, &CryptoError{Op: "parse private key", Err: err}
	}
	if len(raw) != 32 {
		return nil, &CryptoError{Op: "parse private key", Err: fmt.Errorf("expected 32 bytes, got %d", len(raw))}
	}

	d := new(big.Int).SetBytes(raw)
	if d.Sign() == 0 || d.Cmp(btcec.S256().N) >= 0 {
		return nil, &CryptoError{Op: "parse private key", Err: fmt.Errorf("scalar out of range")}
	}

	priv, _ := btcec.PrivKeyFromBytes(raw)
	return priv, nil
}

// Keccak256 hashes the concatenation of the given byte slices with the
// legacy (pre-NIST) Keccak-256 used by Ethereum.
func Keccak256(data ...[]byte) []byte {
	h := sha3.NewLegacyKeccak256()
	for _, d := range data {
		h.Write(d)
	}
	return h.Sum(nil)
}

// RandomBytes returns n cryptographically secure random bytes.
func RandomBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return nil, &CryptoError{Op: "read randomness", Err: err}
	}
	return b, nil
}

func hexNibble(c byte) int {
	switch {
	case c >= '0' && c <= '9':
		return int(c - '0')
	case c >= 'a' && c <= 'f':
		return int(c-'a') + 10
	default:
		return 0
	}
}
