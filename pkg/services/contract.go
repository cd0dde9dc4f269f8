// Package services holds helpers shared by the typed service clients.
package services

import (
	"github.com/morezero/contracts-gateway/pkg/rpcerr"
	"github.com/morezero/contracts-gateway/pkg/schema"
)

// CheckContract verifies that every method in want is registered in got with the
// same mode and structurally identical argument and result types, so a typed
// client never calls a shape it was not built for. Type names are ignored.
func CheckContract(got, want *schema.ServiceDescriptor) error {
	for _, w := range want.Methods {
		g := got.Method(w.Name)
		if g == nil {
			return rpcerr.New(rpcerr.CodeUnknownMethod, "service %s has no method %s", got.Name, w.Name)
		}
		if g.Mode != w.Mode || !sameShapes(g.Args, w.Args) || !sameShapes(g.Results, w.Results) {
			return &rpcerr.Error{
				Code:    rpcerr.CodeMalformedSchema,
				Message: "method " + got.Name + "." + w.Name + " does not match the client contract",
				Details: map[string]string{"registered": g.Signature(), "expected": w.Signature()},
			}
		}
	}
	return nil
}

func sameShapes(a, b []*schema.Type) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !SameShape(a[i], b[i]) {
			return false
		}
	}
	return true
}

// SameShape reports whether two validated types describe the same structure.
func SameShape(a, b *schema.Type) bool {
	if a == nil || b == nil {
		return a == b
	}
	if a.Kind != b.Kind || len(a.Fields) != len(b.Fields) {
		return false
	}
	for i := range a.Fields {
		if a.Fields[i].Name != b.Fields[i].Name || !SameShape(a.Fields[i].Type, b.Fields[i].Type) {
			return false
		}
	}
	if a.Kind == schema.KindVec {
		return SameShape(a.Elem, b.Elem)
	}
	return true
}
