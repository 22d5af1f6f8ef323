// internal/zkproof/groth16.go
package zkproof

import (
	"math/big"
	"strings"

	"github.com/consensys/gnark-crypto/ecc/bn254"
	"github.com/consensys/gnark-crypto/ecc/bn254/fp"
)

// CurveChecker is the attempted-cryptographic-verification step of the
// fallback chain. It checks that pi_a and pi_c decode to points on the bn254
// G1 curve (inside the prime-order subgroup) and that pi_b's coordinates are
// valid field elements. It is not a pairing check: a full verifier can
// replace this without touching the Engine contract.
//
// Check reports (ok, available): available=false means the proof material
// could not even be interpreted as curve data, which sends the Engine down
// the structural fallback path, the same way an unavailable snark verifier
// would.
type CurveChecker struct{}

func (CurveChecker) Check(p *ProofPoints) (ok, available bool) {
	a, avail := parseG1(p.PiA[0], p.PiA[1])
	if !avail {
		return false, false
	}
	c, avail := parseG1(p.PiC[0], p.PiC[1])
	if !avail {
		return false, false
	}
	for _, row := range p.PiB {
		for _, coord := range row {
			if _, fieldOK := parseFieldElement(coord); !fieldOK {
				return false, false
			}
		}
	}

	if !a.IsOnCurve() || !a.IsInSubGroup() {
		return false, true
	}
	if !c.IsOnCurve() || !c.IsInSubGroup() {
		return false, true
	}
	return true, true
}

func parseG1(xHex, yHex string) (*bn254.G1Affine, bool) {
	x, ok := parseFieldElement(xHex)
	if !ok {
		return nil, false
	}
	y, ok := parseFieldElement(yHex)
	if !ok {
		return nil, false
	}

	var p bn254.G1Affine
	p.X.SetBigInt(x)
	p.Y.SetBigInt(y)
	return &p, true
}

// parseFieldElement decodes a hex string and requires it to already be a
// canonical bn254 base-field element. Values at or above the modulus are not
// silently reduced.
func parseFieldElement(s string) (*big.Int, bool) {
	trimmed := strings.TrimPrefix(strings.TrimSpace(s), "0x")
	if trimmed == "" {
		return nil, false
	}
	v, ok := new(big.Int).SetString(trimmed, 16)
	if !ok {
		return nil, false
	}
	if v.Cmp(fp.Modulus()) >= 0 {
		return nil, false
	}
	return v, true
}
