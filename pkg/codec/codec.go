package codec

import (
	"encoding/binary"
	"fmt"
	"math/big"
	"reflect"
	"unicode/utf8"

	"github.com/morezero/contracts-gateway/pkg/principal"
	"github.com/morezero/contracts-gateway/pkg/rpcerr"
	"github.com/morezero/contracts-gateway/pkg/schema"
)

// Encode serialises v according to t. It fails with TYPE_MISMATCH when v does not
// conform to t; no partial output is returned.
func Encode(v any, t *schema.Type) ([]byte, error) {
	e := &encoder{}
	if err := e.value(v, t, "value"); err != nil {
		return nil, err
	}
	return e.buf, nil
}

// Conforms checks v against t without producing output.
func Conforms(v any, t *schema.Type) error {
	e := &encoder{dry: true}
	return e.value(v, t, "value")
}

// EncodeArgs serialises an argument tuple: a count followed by each value.
func EncodeArgs(vals []any, types []*schema.Type) ([]byte, error) {
	if len(vals) != len(types) {
		return nil, rpcerr.New(rpcerr.CodeTypeMismatch, "expected %d values, got %d", len(types), len(vals))
	}
	e := &encoder{}
	e.buf = binary.AppendUvarint(e.buf, uint64(len(vals)))
	for i, v := range vals {
		if err := e.value(v, types[i], fmt.Sprintf("[%d]", i)); err != nil {
			return nil, err
		}
	}
	return e.buf, nil
}

// ConformsArgs checks an argument tuple without producing output.
func ConformsArgs(vals []any, types []*schema.Type) error {
	if len(vals) != len(types) {
		return rpcerr.New(rpcerr.CodeTypeMismatch, "expected %d values, got %d", len(types), len(vals))
	}
	e := &encoder{dry: true}
	for i, v := range vals {
		if err := e.value(v, types[i], fmt.Sprintf("[%d]", i)); err != nil {
			return err
		}
	}
	return nil
}

// Decode parses data according to t. It fails with MALFORMED_WIRE when data is
// truncated, has trailing bytes, or disagrees with t.
func Decode(data []byte, t *schema.Type) (any, error) {
	d := &decoder{r: reader{data: data}}
	v, err := d.value(t, "value")
	if err != nil {
		return nil, err
	}
	if d.r.remaining() != 0 {
		return nil, malformed("value", "%d trailing bytes", d.r.remaining())
	}
	return v, nil
}

// DecodeResults parses a tuple written by EncodeArgs.
func DecodeResults(data []byte, types []*schema.Type) ([]any, error) {
	d := &decoder{r: reader{data: data}}
	n, ok := d.r.uvarint()
	if !ok {
		return nil, malformed("tuple", "truncated count")
	}
	if n != uint64(len(types)) {
		return nil, malformed("tuple", "expected %d values, got %d", len(types), n)
	}
	out := make([]any, len(types))
	for i, t := range types {
		v, err := d.value(t, fmt.Sprintf("[%d]", i))
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	if d.r.remaining() != 0 {
		return nil, malformed("tuple", "%d trailing bytes", d.r.remaining())
	}
	return out, nil
}

// --- encoding ---

type encoder struct {
	buf []byte
	dry bool
}

func (e *encoder) tag(b byte) {
	if !e.dry {
		e.buf = append(e.buf, b)
	}
}

func (e *encoder) uvarint(n uint64) {
	if !e.dry {
		e.buf = binary.AppendUvarint(e.buf, n)
	}
}

func (e *encoder) raw(b []byte) {
	if !e.dry {
		e.buf = append(e.buf, b...)
	}
}

func (e *encoder) value(v any, t *schema.Type, path string) error {
	if t == nil {
		return mismatch(path, "no type")
	}
	switch t.Kind {
	case schema.KindText:
		s, ok := v.(string)
		if !ok {
			return mismatch(path, "expected text, got %T", v)
		}
		if !utf8.ValidString(s) {
			return mismatch(path, "text is not valid UTF-8")
		}
		e.tag(tagText)
		e.uvarint(uint64(len(s)))
		e.raw([]byte(s))
		return nil

	case schema.KindNat:
		n, err := toNat(v)
		if err != nil {
			return mismatch(path, "%s", err.Error())
		}
		e.tag(tagNat)
		if !e.dry {
			e.buf = appendNat(e.buf, n)
		}
		return nil

	case schema.KindBool:
		b, ok := v.(bool)
		if !ok {
			return mismatch(path, "expected bool, got %T", v)
		}
		e.tag(tagBool)
		if b {
			e.tag(1)
		} else {
			e.tag(0)
		}
		return nil

	case schema.KindPrincipal:
		var p principal.Principal
		switch pv := v.(type) {
		case principal.Principal:
			p = pv
		case *principal.Principal:
			if pv == nil {
				return mismatch(path, "expected principal, got nil")
			}
			p = *pv
		default:
			return mismatch(path, "expected principal, got %T", v)
		}
		raw := p.Bytes()
		e.tag(tagPrincipal)
		e.uvarint(uint64(len(raw)))
		e.raw(raw)
		return nil

	case schema.KindRecord:
		rec, ok := v.(Record)
		if !ok {
			return mismatch(path, "expected record, got %T", v)
		}
		for name := range rec {
			if t.FieldIndex(name) < 0 {
				return mismatch(path, "unexpected field %s", name)
			}
		}
		e.tag(tagRecord)
		e.uvarint(uint64(len(t.Fields)))
		for _, f := range t.Fields {
			fv, present := rec[f.Name]
			if !present {
				return mismatch(path, "missing field %s", f.Name)
			}
			e.uvarint(uint64(len(f.Name)))
			e.raw([]byte(f.Name))
			if err := e.value(fv, f.Type, path+"."+f.Name); err != nil {
				return err
			}
		}
		return nil

	case schema.KindVec:
		if v == nil {
			return mismatch(path, "expected vec, got nil")
		}
		rv := reflect.ValueOf(v)
		if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
			return mismatch(path, "expected vec, got %T", v)
		}
		e.tag(tagVec)
		e.uvarint(uint64(rv.Len()))
		for i := 0; i < rv.Len(); i++ {
			if err := e.value(rv.Index(i).Interface(), t.Elem, fmt.Sprintf("%s[%d]", path, i)); err != nil {
				return err
			}
		}
		return nil

	case schema.KindVariant:
		var vv Variant
		switch x := v.(type) {
		case Variant:
			vv = x
		case *Variant:
			if x == nil {
				return mismatch(path, "expected variant, got nil")
			}
			vv = *x
		default:
			return mismatch(path, "expected variant, got %T", v)
		}
		idx := t.FieldIndex(vv.Case)
		if idx < 0 {
			return mismatch(path, "unknown variant case %q", vv.Case)
		}
		payload := vv.Value
		if t.Fields[idx].Type == nil && payload == nil {
			payload = Record{}
		}
		e.tag(tagVariant)
		e.uvarint(uint64(idx))
		return e.value(payload, t.CaseType(idx), path+"."+vv.Case)

	default:
		return mismatch(path, "unsupported type kind %q", t.Kind)
	}
}

func toNat(v any) (*big.Int, error) {
	switch n := v.(type) {
	case *big.Int:
		if n == nil {
			return nil, fmt.Errorf("expected nat, got nil")
		}
		if n.Sign() < 0 {
			return nil, fmt.Errorf("natural cannot be negative: %s", n.String())
		}
		return n, nil
	case big.Int:
		return toNat(&n)
	case uint:
		return new(big.Int).SetUint64(uint64(n)), nil
	case uint8:
		return new(big.Int).SetUint64(uint64(n)), nil
	case uint16:
		return new(big.Int).SetUint64(uint64(n)), nil
	case uint32:
		return new(big.Int).SetUint64(uint64(n)), nil
	case uint64:
		return new(big.Int).SetUint64(n), nil
	case int:
		return intNat(int64(n))
	case int8:
		return intNat(int64(n))
	case int16:
		return intNat(int64(n))
	case int32:
		return intNat(int64(n))
	case int64:
		return intNat(n)
	default:
		return nil, fmt.Errorf("expected nat, got %T", v)
	}
}

func intNat(n int64) (*big.Int, error) {
	if n < 0 {
		return nil, fmt.Errorf("natural cannot be negative: %d", n)
	}
	return big.NewInt(n), nil
}

// --- decoding ---

type decoder struct {
	r reader
}

func (d *decoder) value(t *schema.Type, path string) (any, error) {
	if t == nil {
		return nil, malformed(path, "no type")
	}
	tag, ok := d.r.readByte()
	if !ok {
		return nil, malformed(path, "truncated before %s", t.Kind)
	}
	if want := tagFor(t.Kind); tag != want {
		return nil, malformed(path, "expected %s (tag 0x%02x), found tag 0x%02x", t.Kind, want, tag)
	}

	switch t.Kind {
	case schema.KindText:
		s, err := d.lengthPrefixed(path, "text")
		if err != nil {
			return nil, err
		}
		if !utf8.Valid(s) {
			return nil, malformed(path, "text is not valid UTF-8")
		}
		return string(s), nil

	case schema.KindNat:
		n, ok, reason := d.r.nat()
		if !ok {
			return nil, malformed(path, "%s", reason)
		}
		return n, nil

	case schema.KindBool:
		b, ok := d.r.readByte()
		if !ok {
			return nil, malformed(path, "truncated bool")
		}
		switch b {
		case 0:
			return false, nil
		case 1:
			return true, nil
		}
		return nil, malformed(path, "invalid bool byte 0x%02x", b)

	case schema.KindPrincipal:
		raw, err := d.lengthPrefixed(path, "principal")
		if err != nil {
			return nil, err
		}
		if len(raw) > principal.MaxLength {
			return nil, malformed(path, "principal of %d bytes exceeds %d", len(raw), principal.MaxLength)
		}
		p, _ := principal.FromBytes(raw)
		return p, nil

	case schema.KindRecord:
		n, ok := d.r.uvarint()
		if !ok {
			return nil, malformed(path, "truncated field count")
		}
		if n > uint64(d.r.remaining()) {
			return nil, malformed(path, "field count %d exceeds remaining input", n)
		}
		rec := make(Record, len(t.Fields))
		prev := ""
		for i := uint64(0); i < n; i++ {
			nameBytes, err := d.lengthPrefixed(path, "field name")
			if err != nil {
				return nil, err
			}
			name := string(nameBytes)
			idx := t.FieldIndex(name)
			if idx < 0 {
				return nil, malformed(path, "field %q is not declared", name)
			}
			if i > 0 && name <= prev {
				return nil, malformed(path, "field %q out of order or repeated", name)
			}
			prev = name
			fv, err := d.value(t.Fields[idx].Type, path+"."+name)
			if err != nil {
				return nil, err
			}
			rec[name] = fv
		}
		if len(rec) != len(t.Fields) {
			for _, f := range t.Fields {
				if _, present := rec[f.Name]; !present {
					return nil, malformed(path, "missing field %s", f.Name)
				}
			}
		}
		return rec, nil

	case schema.KindVec:
		n, ok := d.r.uvarint()
		if !ok {
			return nil, malformed(path, "truncated element count")
		}
		// Every element carries at least its tag byte.
		if n > uint64(d.r.remaining()) {
			return nil, malformed(path, "element count %d exceeds remaining input", n)
		}
		out := make([]any, 0, n)
		for i := uint64(0); i < n; i++ {
			ev, err := d.value(t.Elem, fmt.Sprintf("%s[%d]", path, i))
			if err != nil {
				return nil, err
			}
			out = append(out, ev)
		}
		return out, nil

	case schema.KindVariant:
		idx, ok := d.r.uvarint()
		if !ok {
			return nil, malformed(path, "truncated variant discriminant")
		}
		if idx >= uint64(len(t.Fields)) {
			return nil, malformed(path, "variant discriminant %d has no matching case", idx)
		}
		c := t.Fields[idx]
		payload, err := d.value(t.CaseType(int(idx)), path+"."+c.Name)
		if err != nil {
			return nil, err
		}
		if c.Type == nil {
			payload = nil
		}
		return Variant{Case: c.Name, Value: payload}, nil

	default:
		return nil, malformed(path, "unsupported type kind %q", t.Kind)
	}
}

func (d *decoder) lengthPrefixed(path, what string) ([]byte, error) {
	n, ok := d.r.uvarint()
	if !ok {
		return nil, malformed(path, "truncated %s length", what)
	}
	b, ok := d.r.readBytes(n)
	if !ok {
		return nil, malformed(path, "truncated %s: need %d bytes, have %d", what, n, d.r.remaining())
	}
	return b, nil
}

func tagFor(k schema.Kind) byte {
	switch k {
	case schema.KindText:
		return tagText
	case schema.KindNat:
		return tagNat
	case schema.KindBool:
		return tagBool
	case schema.KindPrincipal:
		return tagPrincipal
	case schema.KindRecord:
		return tagRecord
	case schema.KindVec:
		return tagVec
	case schema.KindVariant:
		return tagVariant
	}
	return 0
}

func mismatch(path, format string, args ...any) error {
	return rpcerr.New(rpcerr.CodeTypeMismatch, "%s: %s", path, fmt.Sprintf(format, args...))
}

func malformed(path, format string, args ...any) error {
	return rpcerr.New(rpcerr.CodeMalformedWire, "%s: %s", path, fmt.Sprintf(format, args...))
}
