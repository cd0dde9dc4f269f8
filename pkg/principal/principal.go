// Package principal provides the opaque caller identity used by the remote services.
package principal

import (
	"bytes"
	"encoding/base32"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"strings"
)

const logPrefix = "principal:principal"

// MaxLength is the largest raw principal accepted on the wire.
const MaxLength = 29

var encoding = base32.StdEncoding.WithPadding(base32.NoPadding)

// Principal is an opaque identity. The zero value is the management principal (empty bytes).
type Principal struct {
	raw []byte
}

// Anonymous is the identity of unauthenticated callers.
var Anonymous = Principal{raw: []byte{0x04}}

// FromBytes builds a Principal from raw bytes.
func FromBytes(b []byte) (Principal, error) {
	if len(b) > MaxLength {
		return Principal{}, fmt.Errorf("%s - principal too long: %d bytes (max %d)", logPrefix, len(b), MaxLength)
	}
	raw := make([]byte, len(b))
	copy(raw, b)
	return Principal{raw: raw}, nil
}

// Parse decodes the textual form, e.g. "2vxsx-fae".
func Parse(s string) (Principal, error) {
	compact := strings.ToUpper(strings.ReplaceAll(s, "-", ""))
	data, err := encoding.DecodeString(compact)
	if err != nil {
		return Principal{}, fmt.Errorf("%s - invalid principal %q: %w", logPrefix, s, err)
	}
	if len(data) < 4 {
		return Principal{}, fmt.Errorf("%s - invalid principal %q: too short", logPrefix, s)
	}
	p, err := FromBytes(data[4:])
	if err != nil {
		return Principal{}, err
	}
	if binary.BigEndian.Uint32(data[:4]) != crc32.ChecksumIEEE(p.raw) {
		return Principal{}, fmt.Errorf("%s - invalid principal %q: checksum mismatch", logPrefix, s)
	}
	// Reject non-canonical spellings (wrong grouping, upper case).
	if p.String() != s {
		return Principal{}, fmt.Errorf("%s - principal %q is not in canonical form", logPrefix, s)
	}
	return p, nil
}

// MustParse is like Parse but panics on error. Intended for constants and tests.
func MustParse(s string) Principal {
	p, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return p
}

// Bytes returns a copy of the raw identity.
func (p Principal) Bytes() []byte {
	out := make([]byte, len(p.raw))
	copy(out, p.raw)
	return out
}

// Equal reports whether two principals are the same identity.
func (p Principal) Equal(o Principal) bool {
	return bytes.Equal(p.raw, o.raw)
}

// IsAnonymous reports whether p is the anonymous principal.
func (p Principal) IsAnonymous() bool {
	return p.Equal(Anonymous)
}

// String renders the textual form: base32(crc32 || raw), lower case, grouped by five.
func (p Principal) String() string {
	buf := make([]byte, 4+len(p.raw))
	binary.BigEndian.PutUint32(buf, crc32.ChecksumIEEE(p.raw))
	copy(buf[4:], p.raw)
	enc := strings.ToLower(encoding.EncodeToString(buf))

	var sb strings.Builder
	for i := 0; i < len(enc); i += 5 {
		if i > 0 {
			sb.WriteByte('-')
		}
		end := i + 5
		if end > len(enc) {
			end = len(enc)
		}
		sb.WriteString(enc[i:end])
	}
	return sb.String()
}

// MarshalText implements encoding.TextMarshaler.
func (p Principal) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (p *Principal) UnmarshalText(text []byte) error {
	parsed, err := Parse(string(text))
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}
