package codec

import (
	"encoding/binary"
	"math/big"
)

// Kind tags written before every value.
const (
	tagText      byte = 0x01
	tagNat       byte = 0x02
	tagBool      byte = 0x03
	tagPrincipal byte = 0x04
	tagRecord    byte = 0x05
	tagVec       byte = 0x06
	tagVariant   byte = 0x07
)

var sevenBits = big.NewInt(0x7f)

// appendNat writes n as unsigned LEB128.
func appendNat(buf []byte, n *big.Int) []byte {
	if n.IsUint64() {
		return binary.AppendUvarint(buf, n.Uint64())
	}
	x := new(big.Int).Set(n)
	group := new(big.Int)
	for {
		b := byte(group.And(x, sevenBits).Uint64())
		x.Rsh(x, 7)
		if x.Sign() == 0 {
			return append(buf, b)
		}
		buf = append(buf, b|0x80)
	}
}

// reader walks an encoded byte stream. Every read reports truncation as ok=false.
type reader struct {
	data []byte
	pos  int
}

func (r *reader) remaining() int {
	return len(r.data) - r.pos
}

func (r *reader) readByte() (byte, bool) {
	if r.pos >= len(r.data) {
		return 0, false
	}
	b := r.data[r.pos]
	r.pos++
	return b, true
}

func (r *reader) readBytes(n uint64) ([]byte, bool) {
	if n > uint64(r.remaining()) {
		return nil, false
	}
	out := r.data[r.pos : r.pos+int(n)]
	r.pos += int(n)
	return out, true
}

// uvarint reads a length or count. Values above 64 bits are rejected.
func (r *reader) uvarint() (uint64, bool) {
	v, n := binary.Uvarint(r.data[r.pos:])
	if n <= 0 {
		return 0, false
	}
	r.pos += n
	return v, true
}

// nat reads unsigned LEB128 of any length. Overlong encodings (a trailing zero group)
// are rejected so that every natural has exactly one encoding.
func (r *reader) nat() (*big.Int, bool, string) {
	start := r.pos
	for {
		b, ok := r.readByte()
		if !ok {
			return nil, false, "truncated natural"
		}
		if b&0x80 == 0 {
			if b == 0 && r.pos-start > 1 {
				return nil, false, "overlong natural"
			}
			break
		}
	}
	groups := r.data[start:r.pos]
	if len(groups) <= 9 {
		var v uint64
		for i, g := range groups {
			v |= uint64(g&0x7f) << (7 * uint(i))
		}
		return new(big.Int).SetUint64(v), true, ""
	}
	out := new(big.Int)
	part := new(big.Int)
	for i := len(groups) - 1; i >= 0; i-- {
		out.Lsh(out, 7)
		part.SetUint64(uint64(groups[i] & 0x7f))
		out.Or(out, part)
	}
	return out, true, ""
}
