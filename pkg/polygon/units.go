// pkg/polygon/units.go
package polygon

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/shopspring/decimal"
)

// Chain RPC traffic always carries amounts in wei (18 decimals). Conversion
// to and from the display decimal representation happens here and nowhere
// else in the codebase.

const weiDecimals = 18

// FromWei converts a wei amount to the display decimal representation.
func FromWei(wei *big.Int) decimal.Decimal {
	if wei == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(wei, -weiDecimals)
}

// ToWei converts a display amount to wei, truncating anything below 1 wei.
func ToWei(amount decimal.Decimal) *big.Int {
	return amount.Shift(weiDecimals).Truncate(0).BigInt()
}

// EncodeBig renders a big integer as the 0x-prefixed hex quantity the
// JSON-RPC interface expects.
func EncodeBig(v *big.Int) string {
	if v == nil || v.Sign() == 0 {
		return "0x0"
	}
	return "0x" + v.Text(16)
}

// EncodeUint64 renders an unsigned integer as a hex quantity.
func EncodeUint64(v uint64) string {
	return fmt.Sprintf("0x%x", v)
}

// DecodeBig parses a 0x-prefixed hex quantity.
func DecodeBig(s string) (*big.Int, error) {
	trimmed := strings.TrimPrefix(strings.TrimSpace(s), "0x")
	if trimmed == "" {
		return nil, fmt.Errorf("empty hex quantity")
	}
	v, ok := new(big.Int).SetString(trimmed, 16)
	if !ok {
		return nil, fmt.Errorf("invalid hex quantity %q", s)
	}
	return v, nil
}

// DecodeUint64 parses a 0x-prefixed hex quantity into a uint64.
func DecodeUint64(s string) (uint64, error) {
	v, err := DecodeBig(s)
	if err != nil {
		return 0, err
	}
	if !v.IsUint64() {
		return 0, fmt.Errorf("hex quantity %q overflows uint64", s)
	}
	return v.Uint64(), nil
}
