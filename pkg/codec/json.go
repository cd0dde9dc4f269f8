package codec

import (
	"bytes"
	"encoding/json"
	"math/big"
	"strings"
	"unicode/utf8"

	"github.com/morezero/contracts-gateway/pkg/principal"
	"github.com/morezero/contracts-gateway/pkg/schema"
)

// FromJSON converts a JSON document into the native value for t. Naturals accept JSON
// numbers or decimal strings; principals use their textual form; variants are
// single-key objects {"case": payload}.
func FromJSON(raw json.RawMessage, t *schema.Type) (any, error) {
	return fromJSON(raw, t, "value")
}

// ArgsFromJSON converts a JSON array into an argument tuple for types.
func ArgsFromJSON(raw json.RawMessage, types []*schema.Type) ([]any, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		trimmed = []byte("[]")
	}
	var items []json.RawMessage
	if err := json.Unmarshal(trimmed, &items); err != nil {
		return nil, mismatch("args", "expected a JSON array: %v", err)
	}
	if len(items) != len(types) {
		return nil, mismatch("args", "expected %d values, got %d", len(types), len(items))
	}
	out := make([]any, len(items))
	for i, item := range items {
		v, err := fromJSON(item, types[i], "args["+itoa(i)+"]")
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func fromJSON(raw json.RawMessage, t *schema.Type, path string) (any, error) {
	if t == nil {
		return nil, mismatch(path, "no type")
	}
	switch t.Kind {
	case schema.KindText:
		if !utf8.Valid(raw) {
			return nil, mismatch(path, "text is not valid UTF-8")
		}
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, mismatch(path, "expected JSON string")
		}
		return s, nil

	case schema.KindNat:
		text := strings.TrimSpace(string(raw))
		if strings.HasPrefix(text, `"`) {
			if err := json.Unmarshal(raw, &text); err != nil {
				return nil, mismatch(path, "expected natural")
			}
		}
		n, ok := new(big.Int).SetString(text, 10)
		if !ok {
			return nil, mismatch(path, "expected natural, got %s", string(raw))
		}
		if n.Sign() < 0 {
			return nil, mismatch(path, "natural cannot be negative: %s", n.String())
		}
		return n, nil

	case schema.KindBool:
		var b bool
		if err := json.Unmarshal(raw, &b); err != nil {
			return nil, mismatch(path, "expected JSON boolean")
		}
		return b, nil

	case schema.KindPrincipal:
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, mismatch(path, "expected principal text")
		}
		p, err := principal.Parse(s)
		if err != nil {
			return nil, mismatch(path, "%v", err)
		}
		return p, nil

	case schema.KindRecord:
		var obj map[string]json.RawMessage
		if err := json.Unmarshal(raw, &obj); err != nil || obj == nil {
			return nil, mismatch(path, "expected JSON object")
		}
		rec := make(Record, len(obj))
		for name, fraw := range obj {
			idx := t.FieldIndex(name)
			if idx < 0 {
				return nil, mismatch(path, "unexpected field %s", name)
			}
			v, err := fromJSON(fraw, t.Fields[idx].Type, path+"."+name)
			if err != nil {
				return nil, err
			}
			rec[name] = v
		}
		for _, f := range t.Fields {
			if _, ok := rec[f.Name]; !ok {
				return nil, mismatch(path, "missing field %s", f.Name)
			}
		}
		return rec, nil

	case schema.KindVec:
		var items []json.RawMessage
		if err := json.Unmarshal(raw, &items); err != nil || items == nil && string(bytes.TrimSpace(raw)) == "null" {
			return nil, mismatch(path, "expected JSON array")
		}
		out := make([]any, len(items))
		for i, item := range items {
			v, err := fromJSON(item, t.Elem, path+"["+itoa(i)+"]")
			if err != nil {
				return nil, err
			}
			out[i] = v
		}
		return out, nil

	case schema.KindVariant:
		var obj map[string]json.RawMessage
		if err := json.Unmarshal(raw, &obj); err != nil || len(obj) != 1 {
			return nil, mismatch(path, "expected single-key JSON object for variant")
		}
		for name, praw := range obj {
			idx := t.FieldIndex(name)
			if idx < 0 {
				return nil, mismatch(path, "unknown variant case %q", name)
			}
			if t.Fields[idx].Type == nil {
				if !emptyPayload(praw) {
					return nil, mismatch(path, "variant case %q carries no payload, got %s", name, string(praw))
				}
				return Variant{Case: name}, nil
			}
			v, err := fromJSON(praw, t.Fields[idx].Type, path+"."+name)
			if err != nil {
				return nil, err
			}
			return Variant{Case: name, Value: v}, nil
		}
	}
	return nil, mismatch(path, "unsupported type kind %q", t.Kind)
}

// emptyPayload reports whether raw is null or an empty JSON object.
func emptyPayload(raw json.RawMessage) bool {
	if string(bytes.TrimSpace(raw)) == "null" {
		return true
	}
	var obj map[string]json.RawMessage
	return json.Unmarshal(raw, &obj) == nil && obj != nil && len(obj) == 0
}

// ToJSON renders a native value as JSON. Naturals are emitted as JSON numbers of
// arbitrary length.
func ToJSON(v any, t *schema.Type) (json.RawMessage, error) {
	if err := Conforms(v, t); err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	writeJSON(&buf, v, t)
	return buf.Bytes(), nil
}

// ResultsToJSON renders a result tuple as a JSON array.
func ResultsToJSON(vals []any, types []*schema.Type) (json.RawMessage, error) {
	if err := ConformsArgs(vals, types); err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	buf.WriteByte('[')
	for i, v := range vals {
		if i > 0 {
			buf.WriteByte(',')
		}
		writeJSON(&buf, v, types[i])
	}
	buf.WriteByte(']')
	return buf.Bytes(), nil
}

// writeJSON assumes v conforms to t.
func writeJSON(buf *bytes.Buffer, v any, t *schema.Type) {
	switch t.Kind {
	case schema.KindText:
		data, _ := json.Marshal(v.(string))
		buf.Write(data)
	case schema.KindNat:
		n, _ := toNat(v)
		buf.WriteString(n.String())
	case schema.KindBool:
		if v.(bool) {
			buf.WriteString("true")
		} else {
			buf.WriteString("false")
		}
	case schema.KindPrincipal:
		var p principal.Principal
		if pp, ok := v.(*principal.Principal); ok {
			p = *pp
		} else {
			p = v.(principal.Principal)
		}
		data, _ := json.Marshal(p.String())
		buf.Write(data)
	case schema.KindRecord:
		rec := v.(Record)
		buf.WriteByte('{')
		for i, f := range t.Fields {
			if i > 0 {
				buf.WriteByte(',')
			}
			name, _ := json.Marshal(f.Name)
			buf.Write(name)
			buf.WriteByte(':')
			writeJSON(buf, rec[f.Name], f.Type)
		}
		buf.WriteByte('}')
	case schema.KindVec:
		items := toSlice(v)
		buf.WriteByte('[')
		for i, item := range items {
			if i > 0 {
				buf.WriteByte(',')
			}
			writeJSON(buf, item, t.Elem)
		}
		buf.WriteByte(']')
	case schema.KindVariant:
		var vv Variant
		if p, ok := v.(*Variant); ok {
			vv = *p
		} else {
			vv = v.(Variant)
		}
		idx := t.FieldIndex(vv.Case)
		name, _ := json.Marshal(vv.Case)
		buf.WriteByte('{')
		buf.Write(name)
		buf.WriteByte(':')
		if t.Fields[idx].Type == nil {
			buf.WriteString("null")
		} else {
			writeJSON(buf, vv.Value, t.Fields[idx].Type)
		}
		buf.WriteByte('}')
	}
}
