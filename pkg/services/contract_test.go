package services

import (
	"errors"
	"testing"

	"github.com/morezero/contracts-gateway/pkg/rpcerr"
	"github.com/morezero/contracts-gateway/pkg/schema"
)

func TestCheckContract(t *testing.T) {
	if err := CheckContract(schema.InventoryService(), schema.InventoryService()); err != nil {
		t.Fatalf("services:contract_test - identical contracts rejected: %v", err)
	}

	drifted := schema.InventoryService()
	drifted.Methods[2].Results = []*schema.Type{schema.Vec(schema.Record(schema.F("id", schema.Nat)))}
	if err := CheckContract(drifted, schema.InventoryService()); !errors.Is(err, rpcerr.ErrMalformedSchema) {
		t.Errorf("services:contract_test - expected MALFORMED_SCHEMA for changed Item, got %v", err)
	}

	mode := schema.InventoryService()
	mode.Methods[0].Mode = schema.ModeQuery
	if err := CheckContract(mode, schema.InventoryService()); !errors.Is(err, rpcerr.ErrMalformedSchema) {
		t.Errorf("services:contract_test - expected MALFORMED_SCHEMA for changed mode, got %v", err)
	}

	missing := schema.InventoryService()
	missing.Methods = missing.Methods[:2]
	if err := CheckContract(missing, schema.InventoryService()); !errors.Is(err, rpcerr.ErrUnknownMethod) {
		t.Errorf("services:contract_test - expected UNKNOWN_METHOD, got %v", err)
	}
}

func TestSameShape_IgnoresNames(t *testing.T) {
	anon := schema.Record(schema.F("id", schema.Nat), schema.F("name", schema.Text), schema.F("addedBy", schema.Principal), schema.F("quantity", schema.Nat))
	if !SameShape(schema.ItemType(), anon) {
		t.Error("services:contract_test - named and anonymous Item should match")
	}
	if SameShape(schema.Vec(schema.Text), schema.Vec(schema.Nat)) {
		t.Error("services:contract_test - vec text and vec nat differ")
	}
}
