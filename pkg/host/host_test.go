package host

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	commsserver "github.com/nats-io/nats-server/v2/server"
	comms "github.com/nats-io/nats.go"

	"github.com/morezero/contracts-gateway/pkg/codec"
	"github.com/morezero/contracts-gateway/pkg/commsutil"
	"github.com/morezero/contracts-gateway/pkg/principal"
	"github.com/morezero/contracts-gateway/pkg/rpcerr"
	"github.com/morezero/contracts-gateway/pkg/schema"
)

const testPrefix = "host:host_test"

var bob, _ = principal.FromBytes([]byte{0xb0, 0x0b})

// inventoryHost serves addItem with a fixed id and rejects every edit.
func inventoryHost(t *testing.T) *Host {
	t.Helper()
	h := New(schema.InventoryService(), Options{})
	must := func(err error) {
		if err != nil {
			t.Fatalf("%s - Handle failed: %v", testPrefix, err)
		}
	}
	must(h.Handle("addItem", func(_ context.Context, call *Call) ([]any, error) {
		if call.Args[0].(string) == "" {
			return nil, errors.New("boom")
		}
		return []any{"7"}, nil
	}))
	must(h.Handle("editItem", func(_ context.Context, call *Call) ([]any, error) {
		return nil, Reject("NOT_FOUND", "no item %s", call.Args[0].(*big.Int))
	}))
	must(h.Handle("listItems", func(_ context.Context, call *Call) ([]any, error) {
		return []any{[]any{codec.Record{
			"id":       big.NewInt(1),
			"name":     "apple",
			"addedBy":  call.Caller,
			"quantity": big.NewInt(3),
		}}}, nil
	}))
	return h
}

func request(t *testing.T, method string, mode schema.Mode, args []any, types []*schema.Type) *commsutil.Request {
	t.Helper()
	data, err := codec.EncodeArgs(args, types)
	if err != nil {
		t.Fatalf("%s - EncodeArgs failed: %v", testPrefix, err)
	}
	return &commsutil.Request{ID: "req-1", Service: "inventory", Method: method, Mode: string(mode), Args: data}
}

func TestHandle_UnknownMethod(t *testing.T) {
	h := New(schema.InventoryService(), Options{})
	err := h.Handle("deleteItem", func(context.Context, *Call) ([]any, error) { return nil, nil })
	if !errors.Is(err, rpcerr.ErrUnknownMethod) {
		t.Fatalf("%s - expected UNKNOWN_METHOD, got %v", testPrefix, err)
	}
}

func TestSubject(t *testing.T) {
	h := New(schema.InventoryService(), Options{SubjectPrefix: "test"})
	if got := h.Subject(); got != "test.inventory.v1" {
		t.Errorf("%s - Subject() = %q", testPrefix, got)
	}
}

func TestDispatch_Ok(t *testing.T) {
	h := inventoryHost(t)
	resp := h.Dispatch(context.Background(), request(t, "addItem", schema.ModeUpdate, []any{"apple", big.NewInt(3)}, []*schema.Type{schema.Text, schema.Nat}))
	if !resp.Ok || resp.ID != "req-1" {
		t.Fatalf("%s - expected ok response, got %+v", testPrefix, resp.Error)
	}
	vals, err := codec.DecodeResults(resp.Result, []*schema.Type{schema.Text})
	if err != nil || vals[0] != "7" {
		t.Errorf("%s - unexpected result %v (%v)", testPrefix, vals, err)
	}
}

func TestDispatch_CallerDefaultsToAnonymous(t *testing.T) {
	h := inventoryHost(t)
	resp := h.Dispatch(context.Background(), request(t, "listItems", schema.ModeQuery, []any{}, []*schema.Type{}))
	if !resp.Ok {
		t.Fatalf("%s - expected ok response, got %+v", testPrefix, resp.Error)
	}
	vals, err := codec.DecodeResults(resp.Result, []*schema.Type{schema.Vec(schema.ItemType())})
	if err != nil {
		t.Fatalf("%s - DecodeResults failed: %v", testPrefix, err)
	}
	item := vals[0].([]any)[0].(codec.Record)
	if !item["addedBy"].(principal.Principal).IsAnonymous() {
		t.Errorf("%s - expected anonymous owner, got %v", testPrefix, item["addedBy"])
	}
}

func TestDispatch_Failures(t *testing.T) {
	h := inventoryHost(t)
	addTypes := []*schema.Type{schema.Text, schema.Nat}

	badCaller := request(t, "addItem", schema.ModeUpdate, []any{"apple", big.NewInt(1)}, addTypes)
	badCaller.Caller = "not-a-principal"

	tests := []struct {
		name string
		req  *commsutil.Request
		code string
	}{
		{"unknown method", request(t, "deleteItem", schema.ModeUpdate, []any{}, nil), rpcerr.CodeUnknownMethod},
		{"wrong service", &commsutil.Request{ID: "x", Service: "access", Method: "addItem"}, rpcerr.CodeUnknownService},
		{"mode mismatch", request(t, "listItems", schema.ModeUpdate, []any{}, nil), CodeModeMismatch},
		{"malformed args", &commsutil.Request{ID: "x", Method: "addItem", Args: []byte{0x09}}, rpcerr.CodeMalformedWire},
		{"wrong arity", request(t, "addItem", schema.ModeUpdate, []any{"apple"}, []*schema.Type{schema.Text}), rpcerr.CodeMalformedWire},
		{"bad caller", badCaller, CodeInvalidRequest},
		{"handler error", request(t, "addItem", schema.ModeUpdate, []any{"", big.NewInt(1)}, addTypes), CodeInternal},
		{"rejection", request(t, "editItem", schema.ModeUpdate, []any{big.NewInt(9), "pear", big.NewInt(1)}, []*schema.Type{schema.Nat, schema.Text, schema.Nat}), "NOT_FOUND"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := h.Dispatch(context.Background(), tt.req)
			if resp.Ok {
				t.Fatalf("%s - expected failure", testPrefix)
			}
			if resp.Error.Code != tt.code {
				t.Errorf("%s - code = %s, want %s (%s)", testPrefix, resp.Error.Code, tt.code, resp.Error.Message)
			}
		})
	}
}

func TestDispatch_NonconformingResult(t *testing.T) {
	h := New(schema.InventoryService(), Options{})
	_ = h.Handle("addItem", func(context.Context, *Call) ([]any, error) {
		return []any{big.NewInt(7)}, nil
	})
	resp := h.Dispatch(context.Background(), request(t, "addItem", schema.ModeUpdate, []any{"a", big.NewInt(1)}, []*schema.Type{schema.Text, schema.Nat}))
	if resp.Ok || resp.Error.Code != CodeInternal {
		t.Fatalf("%s - expected INTERNAL_ERROR, got %+v", testPrefix, resp)
	}
}

func TestDispatch_HandlerPanic(t *testing.T) {
	h := New(schema.InventoryService(), Options{})
	_ = h.Handle("addItem", func(_ context.Context, call *Call) ([]any, error) {
		if call.Args[0].(string) == "" {
			panic("empty item name")
		}
		return []any{"7"}, nil
	})
	types := []*schema.Type{schema.Text, schema.Nat}

	resp := h.Dispatch(context.Background(), request(t, "addItem", schema.ModeUpdate, []any{"", big.NewInt(1)}, types))
	if resp == nil || resp.Ok || resp.Error.Code != CodeInternal {
		t.Fatalf("%s - expected INTERNAL_ERROR, got %+v", testPrefix, resp)
	}
	if resp.ID != "req-1" {
		t.Errorf("%s - response id = %q, want req-1", testPrefix, resp.ID)
	}

	// The host keeps serving after a panic.
	if resp := h.Dispatch(context.Background(), request(t, "addItem", schema.ModeUpdate, []any{"a", big.NewInt(1)}, types)); !resp.Ok {
		t.Errorf("%s - dispatch after panic = %+v", testPrefix, resp)
	}
}

func TestServe_RequiresEveryHandler(t *testing.T) {
	h := New(schema.InventoryService(), Options{})
	_ = h.Handle("addItem", func(context.Context, *Call) ([]any, error) { return []any{"1"}, nil })
	err := h.Serve(context.Background(), nil)
	if !errors.Is(err, rpcerr.ErrMalformedSchema) {
		t.Fatalf("%s - expected MALFORMED_SCHEMA, got %v", testPrefix, err)
	}
}

func TestServe_RoundTrip(t *testing.T) {
	ns, err := commsserver.NewServer(&commsserver.Options{Host: "127.0.0.1", Port: -1, NoLog: true, NoSigs: true})
	if err != nil {
		t.Fatalf("%s - failed to create server: %v", testPrefix, err)
	}
	go ns.Start()
	defer ns.Shutdown()
	if !ns.ReadyForConnections(10 * time.Second) {
		t.Fatalf("%s - server failed to start", testPrefix)
	}
	nc, err := comms.Connect(ns.ClientURL())
	if err != nil {
		t.Fatalf("%s - failed to connect: %v", testPrefix, err)
	}
	defer nc.Close()

	h := inventoryHost(t)
	if err := h.Serve(context.Background(), nc); err != nil {
		t.Fatalf("%s - Serve failed: %v", testPrefix, err)
	}
	defer h.Close()

	transport := commsutil.NewNATSTransport(nc, commsutil.TransportOptions{})
	req := request(t, "editItem", schema.ModeUpdate, []any{big.NewInt(2), "pear", big.NewInt(1)}, []*schema.Type{schema.Nat, schema.Text, schema.Nat})
	req.Caller = bob.String()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	resp, err := transport.RoundTrip(ctx, req)
	if err != nil {
		t.Fatalf("%s - RoundTrip failed: %v", testPrefix, err)
	}
	if resp.Ok || resp.Error.Code != "NOT_FOUND" || resp.ID != req.ID {
		t.Errorf("%s - expected NOT_FOUND for %s, got %+v", testPrefix, req.ID, resp)
	}
}
