// internal/zkproof/envelope.go
package zkproof

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"

	"github.com/shopspring/decimal"
)

var ErrMalformedProof = errors.New("zkproof: malformed proof envelope")

const (
	ProofTypeLogin       = "login"
	ProofTypeBalance     = "balance"
	ProofTypeTransaction = "private_transaction"
)

// ProofPoints carries the groth16-shaped proof components. pi_a and pi_c are
// 2-element vectors, pi_b is a 2x2 matrix; anything else is rejected as
// malformed before any semantic check runs.
type ProofPoints struct {
	PiA      []string   `json:"pi_a"`
	PiB      [][]string `json:"pi_b"`
	PiC      []string   `json:"pi_c"`
	Protocol string     `json:"protocol"`
	Curve    string     `json:"curve"`
}

// Envelope is the opaque proof container exchanged with clients: base64 over
// JSON. Public inputs stay loosely typed here; each proof type extracts its
// own strict view.
type Envelope struct {
	Proof        ProofPoints    `json:"proof"`
	PublicInputs map[string]any `json:"publicInputs"`
	ProofType    string         `json:"proofType"`
}

var hexFieldRx = regexp.MustCompile(`^(0x)?[0-9a-fA-F]+$`)

// DecodeEnvelope parses and shape-checks a base64 proof envelope. Shape
// validation is mandatory and happens before anything semantic.
func DecodeEnvelope(proofB64 string) (*Envelope, error) {
	raw, err := base64.StdEncoding.DecodeString(proofB64)
	if err != nil {
		return nil, fmt.Errorf("%w: base64: %v", ErrMalformedProof, err)
	}

	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("%w: json: %v", ErrMalformedProof, err)
	}
	if err := env.validateShape(); err != nil {
		return nil, err
	}
	return &env, nil
}

func (e *Envelope) validateShape() error {
	if len(e.Proof.PiA) != 2 {
		return fmt.Errorf("%w: pi_a must have 2 elements, got %d", ErrMalformedProof, len(e.Proof.PiA))
	}
	if len(e.Proof.PiC) != 2 {
		return fmt.Errorf("%w: pi_c must have 2 elements, got %d", ErrMalformedProof, len(e.Proof.PiC))
	}
	if len(e.Proof.PiB) != 2 {
		return fmt.Errorf("%w: pi_b must have 2 rows, got %d", ErrMalformedProof, len(e.Proof.PiB))
	}
	for i, row := range e.Proof.PiB {
		if len(row) != 2 {
			return fmt.Errorf("%w: pi_b row %d must have 2 elements, got %d", ErrMalformedProof, i, len(row))
		}
	}

	for _, v := range e.Proof.PiA {
		if !hexFieldRx.MatchString(v) {
			return fmt.Errorf("%w: pi_a element is not hex", ErrMalformedProof)
		}
	}
	for _, row := range e.Proof.PiB {
		for _, v := range row {
			if !hexFieldRx.MatchString(v) {
				return fmt.Errorf("%w: pi_b element is not hex", ErrMalformedProof)
			}
		}
	}
	for _, v := range e.Proof.PiC {
		if !hexFieldRx.MatchString(v) {
			return fmt.Errorf("%w: pi_c element is not hex", ErrMalformedProof)
		}
	}

	if e.ProofType == "" {
		return fmt.Errorf("%w: missing proofType", ErrMalformedProof)
	}
	return nil
}

// stringInput reads a public input as a string regardless of whether the
// client serialized it as a JSON string or number.
func (e *Envelope) stringInput(key string) (string, bool) {
	v, ok := e.PublicInputs[key]
	if !ok {
		return "", false
	}
	switch t := v.(type) {
	case string:
		return t, t != ""
	case float64:
		return decimal.NewFromFloat(t).String(), true
	case json.Number:
		return t.String(), true
	default:
		return "", false
	}
}

var commitmentRx = regexp.MustCompile(`^[0-9a-f]{64}$`)

// LoginInputs is the strict public-input view of a login proof.
type LoginInputs struct {
	Commitment string
}

func (e *Envelope) LoginInputs() (*LoginInputs, error) {
	commitment, ok := e.stringInput("commitment")
	if !ok || !commitmentRx.MatchString(commitment) {
		return nil, fmt.Errorf("%w: login proof needs a 64-hex commitment", ErrMalformedProof)
	}
	return &LoginInputs{Commitment: commitment}, nil
}

// BalanceInputs is the strict public-input view of a balance proof. Salt is
// optional; when present the commitment can be recomputed from amount+salt.
type BalanceInputs struct {
	Commitment string
	Amount     decimal.Decimal
	AmountRaw  string
	Salt       string
}

func (e *Envelope) BalanceInputs() (*BalanceInputs, error) {
	commitment, ok := e.stringInput("commitment")
	if !ok || !commitmentRx.MatchString(commitment) {
		return nil, fmt.Errorf("%w: balance proof needs a 64-hex commitment", ErrMalformedProof)
	}
	amountRaw, ok := e.stringInput("amount")
	if !ok {
		return nil, fmt.Errorf("%w: balance proof needs an amount", ErrMalformedProof)
	}
	amount, err := decimal.NewFromString(amountRaw)
	if err != nil {
		return nil, fmt.Errorf("%w: balance proof amount is not numeric", ErrMalformedProof)
	}
	salt, _ := e.stringInput("salt")
	return &BalanceInputs{
		Commitment: commitment,
		Amount:     amount,
		AmountRaw:  amountRaw,
		Salt:       salt,
	}, nil
}

// TransactionInputs is the strict public-input view of a private-transaction
// proof.
type TransactionInputs struct {
	Nullifier  string
	MerkleRoot string
	Commitment string
}

func (e *Envelope) TransactionInputs() (*TransactionInputs, error) {
	nullifier, ok := e.stringInput("nullifier")
	if !ok {
		return nil, fmt.Errorf("%w: transaction proof needs a nullifier", ErrMalformedProof)
	}
	merkleRoot, ok := e.stringInput("merkleRoot")
	if !ok {
		return nil, fmt.Errorf("%w: transaction proof needs a merkleRoot", ErrMalformedProof)
	}
	commitment, ok := e.stringInput("commitment")
	if !ok {
		return nil, fmt.Errorf("%w: transaction proof needs a commitment", ErrMalformedProof)
	}
	return &TransactionInputs{
		Nullifier:  nullifier,
		MerkleRoot: merkleRoot,
		Commitment: commitment,
	}, nil
}
