// internal/zkproof/commitment.go
package zkproof

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// Commit binds a value to a blinding factor: hex(SHA-256(value || randomness)).
// Deterministic, fixed 64-hex output, stand-in for a pedersen-style
// commitment in the real circuit.
func Commit(value, randomness string) string {
	sum := sha256.Sum256([]byte(value + randomness))
	return hex.EncodeToString(sum[:])
}

// DeriveLoginCommitment derives the commitment a zk-enabled user registers
// with. The chain is deterministic from credentials so the client and server
// independently arrive at the same value:
//
//	secret = H(lower(email) ":" password)
//	salt   = H("zk_salt_" lower(email))
//	commitment = H(secret "||" salt)
func DeriveLoginCommitment(email, password string) string {
	normalized := strings.ToLower(strings.TrimSpace(email))
	secret := hashHex(normalized + ":" + password)
	salt := hashHex("zk_salt_" + normalized)
	return hashHex(secret + "||" + salt)
}

// DeriveLoginPublicKey derives the deterministic "public key" pair published
// alongside the commitment. Not curve points, just domain-separated digests
// of the commitment.
func DeriveLoginPublicKey(commitment string) (x, y string) {
	return hashHex(commitment + "_x"), hashHex(commitment + "_y")
}

// MerkleRoot folds a list of 64-hex leaves into a single root, duplicating
// the last leaf on odd levels. An empty list hashes the empty string.
func MerkleRoot(leaves []string) string {
	if len(leaves) == 0 {
		return hashHex("")
	}
	level := append([]string(nil), leaves...)
	for len(level) > 1 {
		if len(level)%2 == 1 {
			level = append(level, level[len(level)-1])
		}
		next := make([]string, 0, len(level)/2)
		for i := 0; i < len(level); i += 2 {
			next = append(next, hashHex(level[i]+level[i+1]))
		}
		level = next
	}
	return level[0]
}

func hashHex(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}
