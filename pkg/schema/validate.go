package schema

import (
	"fmt"

	masterminds "github.com/Masterminds/semver/v3"

	"github.com/morezero/contracts-gateway/pkg/rpcerr"
)

// ValidateService checks a service descriptor: method names unique, modes known,
// version parseable, and every type graph acyclic with unique field names.
func ValidateService(desc *ServiceDescriptor) error {
	if desc == nil {
		return rpcerr.New(rpcerr.CodeMalformedSchema, "nil service descriptor")
	}
	if desc.Name == "" {
		return rpcerr.New(rpcerr.CodeMalformedSchema, "service name is empty")
	}
	if desc.Version != "" {
		if _, err := masterminds.NewVersion(desc.Version); err != nil {
			return rpcerr.Wrap(rpcerr.CodeMalformedSchema, err, "service %s: invalid version %q", desc.Name, desc.Version)
		}
	}

	seen := make(map[string]bool, len(desc.Methods))
	for i, m := range desc.Methods {
		if m == nil {
			return rpcerr.New(rpcerr.CodeMalformedSchema, "service %s: method #%d is nil", desc.Name, i)
		}
		if m.Name == "" {
			return rpcerr.New(rpcerr.CodeMalformedSchema, "service %s: method #%d has no name", desc.Name, i)
		}
		if seen[m.Name] {
			return rpcerr.New(rpcerr.CodeMalformedSchema, "service %s: duplicate method %s", desc.Name, m.Name)
		}
		seen[m.Name] = true

		if m.Mode != ModeQuery && m.Mode != ModeUpdate {
			return rpcerr.New(rpcerr.CodeMalformedSchema, "service %s: method %s has unknown mode %q", desc.Name, m.Name, m.Mode)
		}
		for j, t := range m.Args {
			if err := ValidateType(t); err != nil {
				return rpcerr.Wrap(rpcerr.CodeMalformedSchema, err, "service %s: method %s: arg %d: %s", desc.Name, m.Name, j, messageOf(err))
			}
		}
		for j, t := range m.Results {
			if err := ValidateType(t); err != nil {
				return rpcerr.Wrap(rpcerr.CodeMalformedSchema, err, "service %s: method %s: result %d: %s", desc.Name, m.Name, j, messageOf(err))
			}
		}
	}
	return nil
}

// ValidateType walks a type graph and rejects cycles, nil children, unknown kinds,
// duplicate or unordered field names, and empty variants.
func ValidateType(t *Type) error {
	return validateType(t, make(map[*Type]bool))
}

func validateType(t *Type, onPath map[*Type]bool) error {
	if t == nil {
		return rpcerr.New(rpcerr.CodeMalformedSchema, "nil type")
	}
	if onPath[t] {
		name := t.Name
		if name == "" {
			name = "anonymous"
		}
		return rpcerr.New(rpcerr.CodeMalformedSchema, "cyclic type: %s %s refers to itself", t.Kind, name)
	}
	if t.Kind.IsPrimitive() {
		return nil
	}

	onPath[t] = true
	defer delete(onPath, t)

	switch t.Kind {
	case KindVec:
		if t.Elem == nil {
			return rpcerr.New(rpcerr.CodeMalformedSchema, "vec without element type")
		}
		return validateType(t.Elem, onPath)

	case KindRecord, KindVariant:
		if t.Kind == KindVariant && len(t.Fields) == 0 {
			return rpcerr.New(rpcerr.CodeMalformedSchema, "variant has no cases")
		}
		for i, f := range t.Fields {
			if f.Name == "" {
				return rpcerr.New(rpcerr.CodeMalformedSchema, "%s field #%d has no name", t.Kind, i)
			}
			if i > 0 {
				prev := t.Fields[i-1].Name
				if prev == f.Name {
					return rpcerr.New(rpcerr.CodeMalformedSchema, "%s declares field %s twice", t.Kind, f.Name)
				}
				if prev > f.Name {
					return rpcerr.New(rpcerr.CodeMalformedSchema, "%s fields are not sorted (%s before %s)", t.Kind, prev, f.Name)
				}
			}
			if f.Type == nil {
				if t.Kind == KindRecord {
					return rpcerr.New(rpcerr.CodeMalformedSchema, "record field %s has no type", f.Name)
				}
				continue
			}
			if err := validateType(f.Type, onPath); err != nil {
				return err
			}
		}
		return nil

	default:
		return rpcerr.New(rpcerr.CodeMalformedSchema, "unknown type kind %q", t.Kind)
	}
}

func messageOf(err error) string {
	if e, ok := err.(*rpcerr.Error); ok {
		return e.Message
	}
	return fmt.Sprint(err)
}
