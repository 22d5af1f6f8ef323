// pkg/polygon/rlp.go
package polygon

import "math/big"

// Minimal RLP encoder, enough to serialize legacy transactions. Only the
// encoding direction is implemented; the node never sends us RLP back.

func rlpEncodeBytes(b []byte) []byte {
	if len(b) == 1 && b[0] < 0x80 {
		return []byte{b[0]}
	}
	if len(b) <= 55 {
		out := make([]byte, 0, 1+len(b))
		out = append(out, 0x80+byte(len(b)))
		return append(out, b...)
	}
	lenBytes := rlpPutint(uint64(len(b)))
	out := make([]byte, 0, 1+len(lenBytes)+len(b))
	out = append(out, 0xb7+byte(len(lenBytes)))
	out = append(out, lenBytes...)
	return append(out, b...)
}

func rlpEncodeList(items ...[]byte) []byte {
	var payload []byte
	for _, it := range items {
		payload = append(payload, it...)
	}
	if len(payload) <= 55 {
		out := make([]byte, 0, 1+len(payload))
		out = append(out, 0xc0+byte(len(payload)))
		return append(out, payload...)
	}
	lenBytes := rlpPutint(uint64(len(payload)))
	out := make([]byte, 0, 1+len(lenBytes)+len(payload))
	out = append(out, 0xf7+byte(len(lenBytes)))
	out = append(out, lenBytes...)
	return append(out, payload...)
}

// rlpEncodeBig encodes a non-negative integer as its minimal big-endian
// byte representation; zero encodes as the empty string.
func rlpEncodeBig(v *big.Int) []byte {
	if v == nil || v.Sign() == 0 {
		return rlpEncodeBytes(nil)
	}
	return rlpEncodeBytes(v.Bytes())
}

func rlpEncodeUint(v uint64) []byte {
	if v == 0 {
		return rlpEncodeBytes(nil)
	}
	return rlpEncodeBytes(rlpPutint(v))
}

func rlpPutint(v uint64) []byte {
	var tmp [8]byte
	n := 0
	for i := 7; i >= 0; i-- {
		tmp[7-i] = byte(v >> (8 * i))
	}
	for n < 8 && tmp[n] == 0 {
		n++
	}
	return tmp[n:]
}
