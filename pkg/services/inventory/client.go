// Package inventory is the typed client for the inventory service.
package inventory

import (
	"context"
	"fmt"
	"math/big"

	"github.com/morezero/contracts-gateway/pkg/codec"
	"github.com/morezero/contracts-gateway/pkg/principal"
	"github.com/morezero/contracts-gateway/pkg/rpcerr"
	"github.com/morezero/contracts-gateway/pkg/schema"
	"github.com/morezero/contracts-gateway/pkg/services"
	"github.com/morezero/contracts-gateway/pkg/stub"
)

// Method names.
const (
	MethodAddItem   = "addItem"
	MethodEditItem  = "editItem"
	MethodListItems = "listItems"
)

// Item is one inventory entry.
type Item struct {
	ID       *big.Int
	Name     string
	AddedBy  principal.Principal
	Quantity *big.Int
}

// Record converts the item to its codec form.
func (it Item) Record() codec.Record {
	return codec.Record{"id": it.ID, "name": it.Name, "addedBy": it.AddedBy, "quantity": it.Quantity}
}

// ItemFromRecord converts a decoded Item record.
func ItemFromRecord(v any) (Item, error) {
	rec, ok := v.(codec.Record)
	if !ok {
		return Item{}, rpcerr.New(rpcerr.CodeMalformedWire, "expected Item record, got %T", v)
	}
	id, ok1 := rec["id"].(*big.Int)
	name, ok2 := rec["name"].(string)
	addedBy, ok3 := rec["addedBy"].(principal.Principal)
	qty, ok4 := rec["quantity"].(*big.Int)
	if !ok1 || !ok2 || !ok3 || !ok4 {
		return Item{}, rpcerr.New(rpcerr.CodeMalformedWire, "Item record has unexpected field types")
	}
	return Item{ID: id, Name: name, AddedBy: addedBy, Quantity: qty}, nil
}

// Client calls the inventory service.
type Client struct {
	stub *stub.Stub
}

// New wraps a stub built for the inventory service. It fails with MALFORMED_SCHEMA
// when the registered contract differs from the one this client is written against.
func New(s *stub.Stub) (*Client, error) {
	if err := services.CheckContract(s.Service(), schema.InventoryService()); err != nil {
		return nil, err
	}
	return &Client{stub: s}, nil
}

// AddItem adds an item owned by the caller and returns its id as text.
// This is an update call: if ctx is cancelled after sending, the item may or may
// not have been added (TIMEOUT with Indeterminate set).
func (c *Client) AddItem(ctx context.Context, name string, quantity *big.Int) (string, error) {
	vals, err := c.stub.Call(ctx, MethodAddItem, name, quantity)
	if err != nil {
		return "", err
	}
	return vals[0].(string), nil
}

// EditItem renames item id and sets its quantity, returning a status text. The id
// and owner are unchanged. An unknown id fails with REMOTE_REJECTED (remote code
// NOT_FOUND). Abandoning the call leaves the edit indeterminate.
func (c *Client) EditItem(ctx context.Context, id *big.Int, name string, quantity *big.Int) (string, error) {
	vals, err := c.stub.Call(ctx, MethodEditItem, id, name, quantity)
	if err != nil {
		return "", err
	}
	return vals[0].(string), nil
}

// ListItems returns every item in insertion order.
func (c *Client) ListItems(ctx context.Context) ([]Item, error) {
	vals, err := c.stub.Call(ctx, MethodListItems)
	if err != nil {
		return nil, err
	}
	raw := vals[0].([]any)
	items := make([]Item, 0, len(raw))
	for i, v := range raw {
		it, err := ItemFromRecord(v)
		if err != nil {
			return nil, fmt.Errorf("item %d: %w", i, err)
		}
		items = append(items, it)
	}
	return items, nil
}
