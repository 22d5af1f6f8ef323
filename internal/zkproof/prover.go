// internal/zkproof/prover.go
package zkproof

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
)

// Simulated proof construction. The points are deterministic digests of the
// public inputs, shaped like a groth16 proof so the envelope contract holds;
// a real prover would emit genuine curve points into the same structure.

func simulatedPoints(seed string) ProofPoints {
	return ProofPoints{
		PiA:      []string{hashHex(seed + "_a1"), hashHex(seed + "_a2")},
		PiB:      [][]string{{hashHex(seed + "_b11"), hashHex(seed + "_b12")}, {hashHex(seed + "_b21"), hashHex(seed + "_b22")}},
		PiC:      []string{hashHex(seed + "_c1"), hashHex(seed + "_c2")},
		Protocol: "groth16",
		Curve:    "bn128",
	}
}

func encodeEnvelope(env *Envelope) (string, error) {
	raw, err := json.Marshal(env)
	if err != nil {
		return "", fmt.Errorf("zkproof: encoding envelope: %w", err)
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}

// BuildLoginProof produces a simulated login proof carrying the given
// commitment as its public input.
func BuildLoginProof(commitment string) (string, error) {
	return encodeEnvelope(&Envelope{
		Proof: simulatedPoints("login_" + commitment),
		PublicInputs: map[string]any{
			"commitment": commitment,
		},
		ProofType: ProofTypeLogin,
	})
}

// BuildBalanceProof produces a simulated balance proof asserting the given
// amount, with the commitment bound via the salt.
func BuildBalanceProof(amount, salt string) (string, error) {
	commitment := Commit(amount, salt)
	return encodeEnvelope(&Envelope{
		Proof: simulatedPoints("balance_" + commitment),
		PublicInputs: map[string]any{
			"commitment": commitment,
			"amount":     amount,
			"salt":       salt,
		},
		ProofType: ProofTypeBalance,
	})
}

// BuildTransactionProof produces a simulated private-transaction proof. The
// nullifier derives from the spender secret and nonce, so replaying the same
// pair collides in the nullifier index.
func BuildTransactionProof(secret, nonce, merkleRoot string) (string, error) {
	nullifier := hashHex("nullifier_" + secret + "_" + nonce)
	commitment := Commit(secret, nonce)
	return encodeEnvelope(&Envelope{
		Proof: simulatedPoints("tx_" + nullifier),
		PublicInputs: map[string]any{
			"nullifier":  nullifier,
			"merkleRoot": merkleRoot,
			"commitment": commitment,
		},
		ProofType: ProofTypeTransaction,
	})
}
