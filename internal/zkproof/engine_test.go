package zkproof

import (
	"context"
	"encoding/base64"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memoryNullifiers struct {
	mu   sync.Mutex
	seen map[string]bool
}

func newMemoryNullifiers() *memoryNullifiers {
	return &memoryNullifiers{seen: make(map[string]bool)}
}

func (m *memoryNullifiers) Consume(_ context.Context, nullifier, _ string, _ *int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.seen[nullifier] {
		return false, nil
	}
	m.seen[nullifier] = true
	return true, nil
}

func newTestEngine() *Engine {
	return NewEngine(newMemoryNullifiers())
}

func TestCommitDeterminism(t *testing.T) {
	a := Commit("100.5", "r1")
	b := Commit("100.5", "r1")
	assert.Equal(t, a, b)
	assert.Len(t, a, 64)

	assert.NotEqual(t, a, Commit("100.6", "r1"))
	assert.NotEqual(t, a, Commit("100.5", "r2"))
}

func TestDeriveLoginCommitmentNormalizesEmail(t *testing.T) {
	a := DeriveLoginCommitment("Alice@Example.com", "hunter2")
	b := DeriveLoginCommitment(" alice@example.com ", "hunter2")
	assert.Equal(t, a, b)

	assert.NotEqual(t, a, DeriveLoginCommitment("alice@example.com", "other"))
}

func TestDecodeEnvelopeShapeValidation(t *testing.T) {
	valid, err := BuildLoginProof(Commit("v", "r"))
	require.NoError(t, err)
	_, err = DecodeEnvelope(valid)
	require.NoError(t, err)

	cases := map[string]string{
		"not base64":  "!!!",
		"not json":    base64.StdEncoding.EncodeToString([]byte("nope")),
		"empty":       base64.StdEncoding.EncodeToString([]byte("{}")),
		"pi_a short":  base64.StdEncoding.EncodeToString([]byte(`{"proof":{"pi_a":["aa"],"pi_b":[["aa","bb"],["cc","dd"]],"pi_c":["aa","bb"]},"publicInputs":{},"proofType":"login"}`)),
		"pi_b ragged": base64.StdEncoding.EncodeToString([]byte(`{"proof":{"pi_a":["aa","bb"],"pi_b":[["aa"],["cc","dd"]],"pi_c":["aa","bb"]},"publicInputs":{},"proofType":"login"}`)),
		"pi_c long":   base64.StdEncoding.EncodeToString([]byte(`{"proof":{"pi_a":["aa","bb"],"pi_b":[["aa","bb"],["cc","dd"]],"pi_c":["aa","bb","cc"]},"publicInputs":{},"proofType":"login"}`)),
		"non-hex":     base64.StdEncoding.EncodeToString([]byte(`{"proof":{"pi_a":["zz","bb"],"pi_b":[["aa","bb"],["cc","dd"]],"pi_c":["aa","bb"]},"publicInputs":{},"proofType":"login"}`)),
		"no type":     base64.StdEncoding.EncodeToString([]byte(`{"proof":{"pi_a":["aa","bb"],"pi_b":[["aa","bb"],["cc","dd"]],"pi_c":["aa","bb"]},"publicInputs":{}}`)),
	}
	for name, payload := range cases {
		_, err := DecodeEnvelope(payload)
		assert.ErrorIs(t, err, ErrMalformedProof, name)
	}
}

func TestVerifyLoginProofStandardLogin(t *testing.T) {
	// No proof supplied means a standard login; the engine passes it through.
	engine := newTestEngine()
	assert.True(t, engine.VerifyLoginProof("", "anything", "anything"))
}

func TestVerifyLoginProofMatchingCommitment(t *testing.T) {
	engine := newTestEngine()
	commitment := DeriveLoginCommitment("alice@example.com", "hunter2")

	proof, err := BuildLoginProof(commitment)
	require.NoError(t, err)

	assert.True(t, engine.VerifyLoginProof(proof, commitment, commitment))
}

func TestVerifyLoginProofCommitmentMismatch(t *testing.T) {
	engine := newTestEngine()
	stored := DeriveLoginCommitment("alice@example.com", "hunter2")

	// Proof embeds a commitment for different credentials.
	other := DeriveLoginCommitment("alice@example.com", "wrong-password")
	proof, err := BuildLoginProof(other)
	require.NoError(t, err)

	assert.False(t, engine.VerifyLoginProof(proof, stored, stored))

	// Matches what was recomputed but not what is stored: still rejected.
	assert.False(t, engine.VerifyLoginProof(proof, stored, other))
}

func TestVerifyLoginProofGarbage(t *testing.T) {
	engine := newTestEngine()
	assert.False(t, engine.VerifyLoginProof("garbage", "c", "c"))
}

func TestVerifyBalanceProof(t *testing.T) {
	engine := newTestEngine()

	proof, err := BuildBalanceProof("10.5", "salt-1")
	require.NoError(t, err)

	assert.True(t, engine.VerifyBalanceProof(proof, decimal.RequireFromString("10.5")))
	assert.True(t, engine.VerifyBalanceProof(proof, decimal.RequireFromString("4")))
	assert.False(t, engine.VerifyBalanceProof(proof, decimal.RequireFromString("10.6")),
		"asserted amount below the requirement must fail")
}

func TestVerifyBalanceProofSaltBindsAmount(t *testing.T) {
	engine := newTestEngine()

	// Tamper: commitment binds 10.5 but the inputs claim 999.
	commitment := Commit("10.5", "salt-1")
	proof, err := encodeEnvelope(&Envelope{
		Proof: simulatedPoints("balance_" + commitment),
		PublicInputs: map[string]any{
			"commitment": commitment,
			"amount":     "999",
			"salt":       "salt-1",
		},
		ProofType: ProofTypeBalance,
	})
	require.NoError(t, err)

	assert.False(t, engine.VerifyBalanceProof(proof, decimal.NewFromInt(1)))
}

func TestVerifyTransactionProof(t *testing.T) {
	engine := newTestEngine()
	ctx := context.Background()

	proof, err := BuildTransactionProof("secret", "nonce-1", MerkleRoot([]string{Commit("a", "b")}))
	require.NoError(t, err)

	ok, err := engine.VerifyTransactionProof(ctx, proof, nil)
	require.NoError(t, err)
	assert.True(t, ok)

	// Same proof again reuses the nullifier.
	ok, err = engine.VerifyTransactionProof(ctx, proof, nil)
	require.ErrorIs(t, err, ErrNullifierReused)
	assert.False(t, ok)
}

func TestVerifyTransactionProofWrongType(t *testing.T) {
	engine := newTestEngine()

	proof, err := BuildLoginProof(Commit("v", "r"))
	require.NoError(t, err)

	ok, err := engine.VerifyTransactionProof(context.Background(), proof, nil)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestNullifierConcurrency(t *testing.T) {
	engine := newTestEngine()
	proof, err := BuildTransactionProof("secret", "nonce-race", "root")
	require.NoError(t, err)

	const workers = 16
	results := make(chan bool, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, _ := engine.VerifyTransactionProof(context.Background(), proof, nil)
			results <- ok
		}()
	}
	wg.Wait()
	close(results)

	winners := 0
	for ok := range results {
		if ok {
			winners++
		}
	}
	assert.Equal(t, 1, winners, "exactly one concurrent submission may consume the nullifier")
}

func TestMerkleRoot(t *testing.T) {
	leaves := []string{Commit("a", "1"), Commit("b", "2"), Commit("c", "3")}
	root := MerkleRoot(leaves)
	assert.Len(t, root, 64)
	assert.Equal(t, root, MerkleRoot(leaves))
	assert.NotEqual(t, root, MerkleRoot(leaves[:2]))
	assert.Len(t, MerkleRoot(nil), 64)
}
