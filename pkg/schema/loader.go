package schema

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sort"

	"github.com/morezero/contracts-gateway/pkg/rpcerr"
)

const loaderLogPrefix = "schema:loader"

// ContractsFile is the on-disk form of a set of service contracts.
type ContractsFile struct {
	Name     string                  `json:"name"`
	Version  string                  `json:"version"`
	Types    map[string]TypeSpec     `json:"types,omitempty"`
	Services map[string]*ServiceSpec `json:"services"`
}

// ServiceSpec is the serialisable form of a ServiceDescriptor. Types declared here
// (and in the enclosing file) may be referenced by name.
type ServiceSpec struct {
	Version     string              `json:"version,omitempty"`
	Description string              `json:"description,omitempty"`
	Types       map[string]TypeSpec `json:"types,omitempty"`
	Methods     []MethodSpec        `json:"methods"`
}

// MethodSpec is the serialisable form of a MethodDescriptor.
type MethodSpec struct {
	Name        string     `json:"name"`
	Description string     `json:"description,omitempty"`
	Args        []TypeSpec `json:"args"`
	Results     []TypeSpec `json:"results"`
	Mode        string     `json:"mode"`
}

// TypeSpec is a JSON type expression: a primitive kind or type name as a string, or a
// single-key object {"record": {...}}, {"variant": {...}} or {"vec": T}.
type TypeSpec = json.RawMessage

// LoadContractsFile loads contracts from the first readable path: explicit paths, then
// GATEWAY_CONTRACTS_FILE, then config/contracts.json and contracts.json. When none is
// readable the builtin contracts are returned.
func LoadContractsFile(paths ...string) (*ContractsFile, error) {
	all := make([]string, 0, len(paths)+3)
	for _, p := range paths {
		if p != "" {
			all = append(all, p)
		}
	}
	if envPath := os.Getenv("GATEWAY_CONTRACTS_FILE"); envPath != "" {
		all = append(all, envPath)
	}
	all = append(all, "config/contracts.json", "contracts.json")

	for _, p := range all {
		data, err := os.ReadFile(p)
		if err != nil {
			continue
		}
		var f ContractsFile
		if err := json.Unmarshal(data, &f); err != nil {
			return nil, rpcerr.Wrap(rpcerr.CodeMalformedSchema, err, "failed to parse contracts file %s: %v", p, err)
		}
		slog.Info(fmt.Sprintf("%s - Loaded contracts from %s (%d services)", loaderLogPrefix, p, len(f.Services)))
		return &f, nil
	}

	slog.Info(fmt.Sprintf("%s - Using builtin contracts", loaderLogPrefix))
	return DefaultContractsFile(), nil
}

// DefaultContractsFile renders the builtin contracts as a ContractsFile.
func DefaultContractsFile() *ContractsFile {
	f := &ContractsFile{
		Name:     "builtin-contracts",
		Version:  "1.0.0",
		Services: map[string]*ServiceSpec{},
	}
	for _, desc := range BuiltinServices() {
		f.Services[desc.Name] = SpecFromDescriptor(desc)
	}
	return f
}

// Descriptors builds every service in the file, sorted by name.
func (f *ContractsFile) Descriptors() ([]*ServiceDescriptor, error) {
	names := make([]string, 0, len(f.Services))
	for name := range f.Services {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]*ServiceDescriptor, 0, len(names))
	for _, name := range names {
		desc, err := BuildService(name, f.Services[name], f.Types)
		if err != nil {
			return nil, err
		}
		out = append(out, desc)
	}
	return out, nil
}

// RegisterAll builds and registers every service in the file.
func (f *ContractsFile) RegisterAll(reg *Registry) error {
	descs, err := f.Descriptors()
	if err != nil {
		return err
	}
	for _, desc := range descs {
		if err := reg.Register(desc.Name, desc); err != nil {
			return err
		}
	}
	return nil
}

// BuildService resolves a ServiceSpec into a descriptor. shared holds file-level types;
// service-level types shadow them.
func BuildService(name string, spec *ServiceSpec, shared map[string]TypeSpec) (*ServiceDescriptor, error) {
	if spec == nil {
		return nil, rpcerr.New(rpcerr.CodeMalformedSchema, "service %s has no definition", name)
	}
	decls := make(map[string]TypeSpec, len(shared)+len(spec.Types))
	for k, v := range shared {
		decls[k] = v
	}
	for k, v := range spec.Types {
		decls[k] = v
	}
	b := &typeBuilder{decls: decls, resolved: map[string]*Type{}, resolving: map[string]bool{}}

	desc := &ServiceDescriptor{
		Name:        name,
		Version:     spec.Version,
		Description: spec.Description,
		Methods:     make([]*MethodDescriptor, 0, len(spec.Methods)),
	}
	for _, ms := range spec.Methods {
		m := &MethodDescriptor{
			Name:        ms.Name,
			Description: ms.Description,
			Mode:        Mode(ms.Mode),
			Args:        make([]*Type, 0, len(ms.Args)),
			Results:     make([]*Type, 0, len(ms.Results)),
		}
		if m.Mode == "" {
			m.Mode = ModeUpdate
		}
		for i, raw := range ms.Args {
			t, err := b.build(raw)
			if err != nil {
				return nil, rpcerr.Wrap(rpcerr.CodeMalformedSchema, err, "service %s: method %s: arg %d: %s", name, ms.Name, i, messageOf(err))
			}
			m.Args = append(m.Args, t)
		}
		for i, raw := range ms.Results {
			t, err := b.build(raw)
			if err != nil {
				return nil, rpcerr.Wrap(rpcerr.CodeMalformedSchema, err, "service %s: method %s: result %d: %s", name, ms.Name, i, messageOf(err))
			}
			m.Results = append(m.Results, t)
		}
		desc.Methods = append(desc.Methods, m)
	}

	typeNames := make([]string, 0, len(b.resolved))
	for n := range b.resolved {
		typeNames = append(typeNames, n)
	}
	sort.Strings(typeNames)
	for _, n := range typeNames {
		desc.Types = append(desc.Types, b.resolved[n])
	}
	return desc, nil
}

type member struct {
	name string
	spec TypeSpec
}

// decodeMembers reads a JSON object keeping every key, including duplicates, so that
// duplicate field names surface as a validation error instead of being merged.
func decodeMembers(body []byte) ([]member, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return nil, fmt.Errorf("%s - expected object", loaderLogPrefix)
	}
	var out []member
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		name, ok := tok.(string)
		if !ok {
			return nil, fmt.Errorf("%s - expected field name", loaderLogPrefix)
		}
		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return nil, err
		}
		out = append(out, member{name: name, spec: TypeSpec(raw)})
	}
	if _, err := dec.Token(); err != nil {
		return nil, err
	}
	return out, nil
}

type typeBuilder struct {
	decls     map[string]TypeSpec
	resolved  map[string]*Type
	resolving map[string]bool
}

func (b *typeBuilder) build(raw TypeSpec) (*Type, error) {
	var name string
	if err := json.Unmarshal(raw, &name); err == nil {
		return b.named(name)
	}

	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil, rpcerr.New(rpcerr.CodeMalformedSchema, "invalid type expression %s", string(raw))
	}
	if len(obj) != 1 {
		return nil, rpcerr.New(rpcerr.CodeMalformedSchema, "type expression must have exactly one key: %s", string(raw))
	}

	for key, body := range obj {
		switch Kind(key) {
		case KindVec:
			elem, err := b.build(body)
			if err != nil {
				return nil, err
			}
			return Vec(elem), nil
		case KindRecord, KindVariant:
			members, err := decodeMembers(body)
			if err != nil {
				return nil, rpcerr.New(rpcerr.CodeMalformedSchema, "%s body must be an object: %s", key, string(body))
			}
			fields := make([]Field, 0, len(members))
			for _, member := range members {
				fname, fraw := member.name, member.spec
				if Kind(key) == KindVariant && string(fraw) == "null" {
					fields = append(fields, Field{Name: fname})
					continue
				}
				ft, err := b.build(fraw)
				if err != nil {
					return nil, err
				}
				fields = append(fields, Field{Name: fname, Type: ft})
			}
			if Kind(key) == KindRecord {
				return Record(fields...), nil
			}
			return Variant(fields...), nil
		default:
			return nil, rpcerr.New(rpcerr.CodeMalformedSchema, "unknown type constructor %q", key)
		}
	}
	return nil, rpcerr.New(rpcerr.CodeMalformedSchema, "empty type expression")
}

func (b *typeBuilder) named(name string) (*Type, error) {
	switch Kind(name) {
	case KindText:
		return Text, nil
	case KindNat:
		return Nat, nil
	case KindBool:
		return Bool, nil
	case KindPrincipal:
		return Principal, nil
	}

	if t, ok := b.resolved[name]; ok {
		return t, nil
	}
	raw, ok := b.decls[name]
	if !ok {
		return nil, rpcerr.New(rpcerr.CodeMalformedSchema, "undeclared type %s", name)
	}
	if b.resolving[name] {
		return nil, rpcerr.New(rpcerr.CodeMalformedSchema, "type %s is recursive", name)
	}
	b.resolving[name] = true
	defer delete(b.resolving, name)

	t, err := b.build(raw)
	if err != nil {
		return nil, err
	}
	if t.Kind.IsPrimitive() {
		// Aliases of primitives keep the shared primitive pointer.
		b.resolved[name] = t
		return t, nil
	}
	named := Named(name, t)
	b.resolved[name] = named
	return named, nil
}

// SpecFromDescriptor renders a descriptor back to its serialisable form. Named types
// are emitted once under Types and referenced by name.
func SpecFromDescriptor(desc *ServiceDescriptor) *ServiceSpec {
	named := map[string]TypeSpec{}
	spec := &ServiceSpec{
		Version:     desc.Version,
		Description: desc.Description,
		Methods:     make([]MethodSpec, 0, len(desc.Methods)),
	}
	for _, m := range desc.Methods {
		ms := MethodSpec{
			Name:        m.Name,
			Description: m.Description,
			Mode:        string(m.Mode),
			Args:        make([]TypeSpec, 0, len(m.Args)),
			Results:     make([]TypeSpec, 0, len(m.Results)),
		}
		for _, t := range m.Args {
			ms.Args = append(ms.Args, typeSpec(t, named))
		}
		for _, t := range m.Results {
			ms.Results = append(ms.Results, typeSpec(t, named))
		}
		spec.Methods = append(spec.Methods, ms)
	}
	if len(named) > 0 {
		spec.Types = named
	}
	return spec
}

func typeSpec(t *Type, named map[string]TypeSpec) TypeSpec {
	if t.Name != "" {
		if _, done := named[t.Name]; !done {
			named[t.Name] = TypeSpec("null") // placeholder guards against re-entry
			named[t.Name] = structSpec(t, named)
		}
		return quote(t.Name)
	}
	return structSpec(t, named)
}

func structSpec(t *Type, named map[string]TypeSpec) TypeSpec {
	switch t.Kind {
	case KindVec:
		return mustMarshal(map[string]TypeSpec{string(KindVec): typeSpec(t.Elem, named)})
	case KindRecord, KindVariant:
		members := make(map[string]TypeSpec, len(t.Fields))
		for _, f := range t.Fields {
			if f.Type == nil {
				members[f.Name] = TypeSpec("null")
				continue
			}
			members[f.Name] = typeSpec(f.Type, named)
		}
		return mustMarshal(map[string]map[string]TypeSpec{string(t.Kind): members})
	default:
		return quote(string(t.Kind))
	}
}

func quote(s string) TypeSpec {
	return mustMarshal(s)
}

func mustMarshal(v interface{}) TypeSpec {
	data, err := json.Marshal(v)
	if err != nil {
		// Only strings and maps of RawMessage reach here.
		panic(fmt.Sprintf("%s - marshal type spec: %v", loaderLogPrefix, err))
	}
	return data
}
