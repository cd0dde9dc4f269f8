package codec

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/morezero/contracts-gateway/pkg/principal"
	"github.com/morezero/contracts-gateway/pkg/rpcerr"
	"github.com/morezero/contracts-gateway/pkg/schema"
)

func TestArgsFromJSON(t *testing.T) {
	types := []*schema.Type{schema.Nat, schema.Text, schema.Nat}
	args, err := ArgsFromJSON(json.RawMessage(`[1, "widget", "340282366920938463463374607431768211457123456789"]`), types)
	if err != nil {
		t.Fatalf("codec:json_test - ArgsFromJSON failed: %v", err)
	}
	want := []any{NatFromUint64(1), "widget", hugeNat()}
	if !Equal(args, want) {
		t.Errorf("codec:json_test - got %#v, want %#v", args, want)
	}

	empty, err := ArgsFromJSON(nil, nil)
	if err != nil || len(empty) != 0 {
		t.Errorf("codec:json_test - empty args = %v, %v", empty, err)
	}
}

func TestFromJSON_Structured(t *testing.T) {
	raw := json.RawMessage(`{"id": 3, "name": "widget", "addedBy": "2vxsx-fae", "quantity": 10}`)
	v, err := FromJSON(raw, schema.ItemType())
	if err != nil {
		t.Fatalf("codec:json_test - FromJSON failed: %v", err)
	}
	want := Record{"id": NatFromUint64(3), "name": "widget", "addedBy": principal.Anonymous, "quantity": NatFromUint64(10)}
	if !Equal(v, want) {
		t.Errorf("codec:json_test - got %#v", v)
	}

	vr, err := FromJSON(json.RawMessage(`{"err": {"code": 7}}`), status)
	if err != nil {
		t.Fatalf("codec:json_test - variant FromJSON failed: %v", err)
	}
	if !Equal(vr, Variant{Case: "err", Value: Record{"code": NatFromUint64(7)}}) {
		t.Errorf("codec:json_test - variant got %#v", vr)
	}
	unit, err := FromJSON(json.RawMessage(`{"notFound": null}`), status)
	if err != nil || !Equal(unit, Variant{Case: "notFound"}) {
		t.Errorf("codec:json_test - unit variant got %#v, %v", unit, err)
	}
	unit, err = FromJSON(json.RawMessage(`{"notFound": {}}`), status)
	if err != nil || !Equal(unit, Variant{Case: "notFound"}) {
		t.Errorf("codec:json_test - unit variant with empty object got %#v, %v", unit, err)
	}
}

func TestFromJSON_Rejects(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		t    *schema.Type
	}{
		{"number for text", `5`, schema.Text},
		{"negative nat", `-3`, schema.Nat},
		{"fractional nat", `1.5`, schema.Nat},
		{"string bool", `"true"`, schema.Bool},
		{"bad principal", `"not-a-principal"`, schema.Principal},
		{"null record", `null`, schema.ItemType()},
		{"missing field", `{"id": 1, "name": "x", "addedBy": "2vxsx-fae"}`, schema.ItemType()},
		{"extra field", `{"id": 1, "name": "x", "addedBy": "2vxsx-fae", "quantity": 1, "color": "red"}`, schema.ItemType()},
		{"null vec", `null`, schema.Vec(schema.Text)},
		{"two cases", `{"ok": "a", "notFound": null}`, status},
		{"unknown case", `{"maybe": null}`, status},
		{"payload on unit case", `{"notFound": 5}`, status},
		{"record on unit case", `{"notFound": {"code": 1}}`, status},
		{"invalid utf-8 text", "\"caf\xe9\"", schema.Text},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := FromJSON(json.RawMessage(tt.raw), tt.t); !errors.Is(err, rpcerr.ErrTypeMismatch) {
				t.Errorf("codec:json_test - expected TYPE_MISMATCH, got %v", err)
			}
		})
	}
	if _, err := ArgsFromJSON(json.RawMessage(`[1]`), []*schema.Type{schema.Nat, schema.Text}); !errors.Is(err, rpcerr.ErrTypeMismatch) {
		t.Errorf("codec:json_test - arity: expected TYPE_MISMATCH, got %v", err)
	}
}

func TestResultsToJSON(t *testing.T) {
	items := []any{item(1, "widget", hugeNat())}
	out, err := ResultsToJSON([]any{items}, []*schema.Type{schema.Vec(schema.ItemType())})
	if err != nil {
		t.Fatalf("codec:json_test - ResultsToJSON failed: %v", err)
	}
	want := `[[{"addedBy":"` + alice.String() + `","id":1,"name":"widget","quantity":340282366920938463463374607431768211457123456789}]]`
	if string(out) != want {
		t.Errorf("codec:json_test - got %s, want %s", out, want)
	}

	v, err := ToJSON(Variant{Case: "notFound"}, status)
	if err != nil || string(v) != `{"notFound":null}` {
		t.Errorf("codec:json_test - unit variant = %s, %v", v, err)
	}
	if _, err := ToJSON(-1, schema.Nat); !errors.Is(err, rpcerr.ErrTypeMismatch) {
		t.Errorf("codec:json_test - expected TYPE_MISMATCH, got %v", err)
	}
}

func TestJSON_RoundTripThroughWire(t *testing.T) {
	raw := json.RawMessage(`[{"addedBy":"2vxsx-fae","id":2,"name":"gear","quantity":0}]`)
	typ := schema.Vec(schema.ItemType())
	v, err := FromJSON(raw, typ)
	if err != nil {
		t.Fatal(err)
	}
	data, err := Encode(v, typ)
	if err != nil {
		t.Fatal(err)
	}
	back, err := Decode(data, typ)
	if err != nil {
		t.Fatal(err)
	}
	out, err := ToJSON(back, typ)
	if err != nil {
		t.Fatal(err)
	}
	if string(out) != string(raw) {
		t.Errorf("codec:json_test - got %s, want %s", out, raw)
	}
}
