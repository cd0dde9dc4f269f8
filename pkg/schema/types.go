// Package schema holds the service contracts: type descriptors, method and
// service descriptors, and the registry they are validated into.
package schema

import (
	"sort"
	"strings"
)

// Kind tags a Type.
type Kind string

const (
	KindText      Kind = "text"
	KindNat       Kind = "nat"
	KindBool      Kind = "bool"
	KindPrincipal Kind = "principal"
	KindRecord    Kind = "record"
	KindVec       Kind = "vec"
	KindVariant   Kind = "variant"
)

// IsPrimitive reports whether k has no child types.
func (k Kind) IsPrimitive() bool {
	switch k {
	case KindText, KindNat, KindBool, KindPrincipal:
		return true
	}
	return false
}

// Field is a named member of a record or a case of a variant.
type Field struct {
	Name string
	Type *Type
}

// Type describes the shape of a value. Types are shared and must not be mutated
// once handed to a Registry.
type Type struct {
	Kind Kind
	// Fields holds record fields or variant cases, sorted by name.
	Fields []Field
	// Elem is the element type of a vec.
	Elem *Type
	// Name is set on types that were declared by name in a contracts file.
	Name string
}

// Primitive types.
var (
	Text      = &Type{Kind: KindText}
	Nat       = &Type{Kind: KindNat}
	Bool      = &Type{Kind: KindBool}
	Principal = &Type{Kind: KindPrincipal}
)

// Record builds a record type; fields are sorted by name.
func Record(fields ...Field) *Type {
	return &Type{Kind: KindRecord, Fields: sortedFields(fields)}
}

// Variant builds a variant type; cases are sorted by name. A nil case type means
// the case carries no payload and is encoded as an empty record.
func Variant(cases ...Field) *Type {
	return &Type{Kind: KindVariant, Fields: sortedFields(cases)}
}

// Vec builds a vector type.
func Vec(elem *Type) *Type {
	return &Type{Kind: KindVec, Elem: elem}
}

// F is shorthand for Field{name, t}.
func F(name string, t *Type) Field {
	return Field{Name: name, Type: t}
}

func sortedFields(fields []Field) []Field {
	out := make([]Field, len(fields))
	copy(out, fields)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// FieldIndex returns the position of a record field or variant case, or -1.
func (t *Type) FieldIndex(name string) int {
	i := sort.Search(len(t.Fields), func(i int) bool { return t.Fields[i].Name >= name })
	if i < len(t.Fields) && t.Fields[i].Name == name {
		return i
	}
	return -1
}

// CaseType returns the payload type of variant case i (an empty record when none was declared).
func (t *Type) CaseType(i int) *Type {
	if ct := t.Fields[i].Type; ct != nil {
		return ct
	}
	return emptyRecord
}

var emptyRecord = &Type{Kind: KindRecord}

// String renders the type in a compact declaration syntax. Named types render by name.
// A type that refers back to itself renders the repeated node as "...".
func (t *Type) String() string {
	return t.render(map[*Type]bool{}, false)
}

// Expand renders the full structure one level deep, even for named types.
func (t *Type) Expand() string {
	return t.render(map[*Type]bool{}, true)
}

func (t *Type) render(seen map[*Type]bool, expand bool) string {
	if t == nil {
		return "<nil>"
	}
	if t.Name != "" && !expand {
		return t.Name
	}
	if seen[t] {
		return "..."
	}
	seen[t] = true
	defer delete(seen, t)

	switch t.Kind {
	case KindRecord, KindVariant:
		var sb strings.Builder
		sb.WriteString(string(t.Kind))
		sb.WriteString(" {")
		for i, f := range t.Fields {
			if i > 0 {
				sb.WriteString(";")
			}
			sb.WriteString(" ")
			sb.WriteString(f.Name)
			if f.Type != nil {
				sb.WriteString(" : ")
				sb.WriteString(f.Type.render(seen, false))
			}
		}
		if len(t.Fields) > 0 {
			sb.WriteString(" ")
		}
		sb.WriteString("}")
		return sb.String()
	case KindVec:
		return "vec " + t.Elem.render(seen, false)
	default:
		return string(t.Kind)
	}
}

// Mode is the call mode of a method.
type Mode string

const (
	// ModeQuery calls are read-only and side-effect-free.
	ModeQuery Mode = "query"
	// ModeUpdate calls may mutate remote state and are not idempotent.
	ModeUpdate Mode = "update"
)

// MethodDescriptor declares one remote method.
type MethodDescriptor struct {
	Name        string
	Args        []*Type
	Results     []*Type
	Mode        Mode
	Description string
}

// IsQuery reports whether the method is declared side-effect-free.
func (m *MethodDescriptor) IsQuery() bool {
	return m.Mode == ModeQuery
}

// Signature renders "(text, nat) -> (text)" plus a trailing "query" for query methods.
func (m *MethodDescriptor) Signature() string {
	sig := "(" + joinTypes(m.Args) + ") -> (" + joinTypes(m.Results) + ")"
	if m.IsQuery() {
		sig += " query"
	}
	return sig
}

func joinTypes(ts []*Type) string {
	parts := make([]string, len(ts))
	for i, t := range ts {
		parts[i] = t.String()
	}
	return strings.Join(parts, ", ")
}

// ServiceDescriptor declares a remote service: an ordered list of methods.
type ServiceDescriptor struct {
	Name        string
	Version     string
	Description string
	Methods     []*MethodDescriptor
	// Types lists the named types the methods refer to, for documentation.
	Types []*Type

	index map[string]*MethodDescriptor
}

// Method returns the descriptor for name, or nil.
func (s *ServiceDescriptor) Method(name string) *MethodDescriptor {
	if s.index != nil {
		return s.index[name]
	}
	for _, m := range s.Methods {
		if m.Name == name {
			return m
		}
	}
	return nil
}
