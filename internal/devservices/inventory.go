package devservices

import (
	"context"
	"math/big"
	"sync"

	"github.com/morezero/contracts-gateway/pkg/codec"
	"github.com/morezero/contracts-gateway/pkg/host"
	"github.com/morezero/contracts-gateway/pkg/principal"
)

// CodeNotFound is the rejection code for edits of unknown items.
const CodeNotFound = "NOT_FOUND"

// StatusUpdated is the editItem result text.
const StatusUpdated = "updated"

type item struct {
	id       *big.Int
	name     string
	addedBy  principal.Principal
	quantity *big.Int
}

// Inventory is an in-memory inventory. Ids start at 1 and increase by one per
// addItem. Items are listed in insertion order.
type Inventory struct {
	mu     sync.Mutex
	nextID *big.Int
	items  []*item
	byID   map[string]*item
}

// NewInventory creates an empty Inventory.
func NewInventory() *Inventory {
	return &Inventory{nextID: big.NewInt(1), byID: make(map[string]*item)}
}

// Register installs the inventory handlers on h.
func (inv *Inventory) Register(h *host.Host) error {
	for method, fn := range map[string]host.Handler{
		"addItem":   inv.addItem,
		"editItem":  inv.editItem,
		"listItems": inv.listItems,
	} {
		if err := h.Handle(method, fn); err != nil {
			return err
		}
	}
	return nil
}

// Len returns the number of stored items.
func (inv *Inventory) Len() int {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	return len(inv.items)
}

func (inv *Inventory) addItem(_ context.Context, call *host.Call) ([]any, error) {
	name := call.Args[0].(string)
	qty := call.Args[1].(*big.Int)

	inv.mu.Lock()
	defer inv.mu.Unlock()
	it := &item{
		id:       new(big.Int).Set(inv.nextID),
		name:     name,
		addedBy:  call.Caller,
		quantity: new(big.Int).Set(qty),
	}
	inv.nextID.Add(inv.nextID, big.NewInt(1))
	inv.items = append(inv.items, it)
	inv.byID[it.id.String()] = it
	return []any{it.id.String()}, nil
}

func (inv *Inventory) editItem(_ context.Context, call *host.Call) ([]any, error) {
	id := call.Args[0].(*big.Int)
	name := call.Args[1].(string)
	qty := call.Args[2].(*big.Int)

	inv.mu.Lock()
	defer inv.mu.Unlock()
	it, ok := inv.byID[id.String()]
	if !ok {
		return nil, host.Reject(CodeNotFound, "item %s does not exist", id)
	}
	it.name = name
	it.quantity = new(big.Int).Set(qty)
	return []any{StatusUpdated}, nil
}

func (inv *Inventory) listItems(_ context.Context, _ *host.Call) ([]any, error) {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	out := make([]any, len(inv.items))
	for i, it := range inv.items {
		out[i] = codec.Record{
			"id":       new(big.Int).Set(it.id),
			"name":     it.name,
			"addedBy":  it.addedBy,
			"quantity": new(big.Int).Set(it.quantity),
		}
	}
	return []any{out}, nil
}
