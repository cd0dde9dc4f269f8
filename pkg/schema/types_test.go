package schema

import "testing"

func TestRecord_SortsFields(t *testing.T) {
	r := Record(F("quantity", Nat), F("id", Nat), F("name", Text))
	want := []string{"id", "name", "quantity"}
	for i, f := range r.Fields {
		if f.Name != want[i] {
			t.Errorf("schema:types_test - field %d = %s, want %s", i, f.Name, want[i])
		}
	}
	if r.FieldIndex("name") != 1 {
		t.Errorf("schema:types_test - FieldIndex(name) = %d, want 1", r.FieldIndex("name"))
	}
	if r.FieldIndex("missing") != -1 {
		t.Error("schema:types_test - FieldIndex(missing) should be -1")
	}
}

func TestType_String(t *testing.T) {
	tests := []struct {
		typ  *Type
		want string
	}{
		{Text, "text"},
		{Vec(Nat), "vec nat"},
		{Record(), "record {}"},
		{Record(F("b", Bool), F("a", Text)), "record { a : text; b : bool }"},
		{Variant(F("ok", Text), F("none", nil)), "variant { none; ok : text }"},
		{Vec(ItemType()), "vec Item"},
	}
	for _, tt := range tests {
		if got := tt.typ.String(); got != tt.want {
			t.Errorf("schema:types_test - String() = %q, want %q", got, tt.want)
		}
	}
	if got := ItemType().Expand(); got != "record { addedBy : principal; id : nat; name : text; quantity : nat }" {
		t.Errorf("schema:types_test - Expand() = %q", got)
	}
}

func TestMethodDescriptor_Signature(t *testing.T) {
	inv := InventoryService()
	tests := map[string]string{
		"addItem":   "(text, nat) -> (text)",
		"editItem":  "(nat, text, nat) -> (text)",
		"listItems": "() -> (vec Item) query",
	}
	for name, want := range tests {
		if got := inv.Method(name).Signature(); got != want {
			t.Errorf("schema:types_test - %s signature = %q, want %q", name, got, want)
		}
	}
	if AccessService().Method("subscribeUser").Signature() != "(principal, vec text) -> ()" {
		t.Errorf("schema:types_test - subscribeUser signature = %q", AccessService().Method("subscribeUser").Signature())
	}
}

func TestServiceDescriptor_MethodWithoutIndex(t *testing.T) {
	desc := InventoryService()
	if desc.Method("addItem") == nil {
		t.Error("schema:types_test - Method should scan when unindexed")
	}
	if desc.Method("nope") != nil {
		t.Error("schema:types_test - Method(nope) should be nil")
	}
}

func TestType_StringCyclic(t *testing.T) {
	cyclic := &Type{Kind: KindVec}
	cyclic.Elem = cyclic
	if got := cyclic.String(); got != "vec ..." {
		t.Errorf("schema:types_test - String() = %q, want %q", got, "vec ...")
	}

	node := &Type{Kind: KindRecord, Name: "Node"}
	node.Fields = []Field{{Name: "next", Type: Vec(node)}}
	if got := node.Expand(); got != "record { next : vec Node }" {
		t.Errorf("schema:types_test - Expand() = %q", got)
	}
}
