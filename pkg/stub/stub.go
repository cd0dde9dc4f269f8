// Package stub builds a callable surface for one registered service. The call
// table is resolved from the registry once, when the stub is created.
package stub

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"golang.org/x/sync/singleflight"

	"github.com/morezero/contracts-gateway/pkg/codec"
	"github.com/morezero/contracts-gateway/pkg/dispatcher"
	"github.com/morezero/contracts-gateway/pkg/principal"
	"github.com/morezero/contracts-gateway/pkg/rpcerr"
	"github.com/morezero/contracts-gateway/pkg/schema"
)

const logPrefix = "stub:stub"

// Invoker sends one envelope. *dispatcher.Dispatcher implements it.
type Invoker interface {
	Invoke(ctx context.Context, env *dispatcher.CallEnvelope) ([]byte, error)
}

// Option configures a Stub.
type Option func(*Stub)

// WithCaller sets the default caller principal. Without it calls are made as the
// anonymous principal unless the context carries one (see ContextWithCaller).
func WithCaller(p principal.Principal) Option {
	return func(s *Stub) { s.caller = p }
}

// WithQueryCoalescing shares one in-flight request among concurrent query calls
// with the same caller, method and encoded arguments. The shared request is not
// cancelled by any one caller; each caller stops waiting when its own context is
// done. Update calls are never coalesced.
func WithQueryCoalescing() Option {
	return func(s *Stub) { s.coalesce = true }
}

// Stub is the call surface for one service. It is safe for concurrent use.
type Stub struct {
	service  *schema.ServiceDescriptor
	calls    map[string]*schema.MethodDescriptor
	invoker  Invoker
	caller   principal.Principal
	coalesce bool
	group    singleflight.Group
}

// New resolves serviceRef ("inventory" or "inventory@^1") in reg and builds the
// call table for every declared method.
func New(reg *schema.Registry, serviceRef string, invoker Invoker, opts ...Option) (*Stub, error) {
	desc, err := reg.Service(serviceRef)
	if err != nil {
		return nil, err
	}
	s := &Stub{
		service: desc,
		calls:   make(map[string]*schema.MethodDescriptor, len(desc.Methods)),
		invoker: invoker,
		caller:  principal.Anonymous,
	}
	for _, m := range desc.Methods {
		s.calls[m.Name] = m
	}
	for _, opt := range opts {
		opt(s)
	}
	slog.Debug(fmt.Sprintf("%s - stub for %s@%s with %d methods (coalescing=%v)", logPrefix, desc.Name, desc.Version, len(s.calls), s.coalesce))
	return s, nil
}

// Service returns the descriptor the stub was built from.
func (s *Stub) Service() *schema.ServiceDescriptor {
	return s.service
}

// Method returns the call shape for name.
func (s *Stub) Method(name string) (*schema.MethodDescriptor, error) {
	m, ok := s.calls[name]
	if !ok {
		return nil, rpcerr.New(rpcerr.CodeUnknownMethod, "service %s has no method %s", s.service.Name, name)
	}
	return m, nil
}

// Call checks args against the method's declared argument types, encodes them,
// dispatches the call and decodes the result tuple. On failure no result values
// are returned.
func (s *Stub) Call(ctx context.Context, method string, args ...any) ([]any, error) {
	m, err := s.Method(method)
	if err != nil {
		return nil, err
	}
	if err := codec.ConformsArgs(args, m.Args); err != nil {
		return nil, err
	}
	payload, err := codec.EncodeArgs(args, m.Args)
	if err != nil {
		return nil, err
	}

	caller := s.callerFor(ctx)
	raw, err := s.send(ctx, m, payload, caller)
	if err != nil {
		return nil, err
	}

	results, err := codec.DecodeResults(raw, m.Results)
	if err != nil {
		slog.Warn(fmt.Sprintf("%s - undecodable result from %s.%s: %v", logPrefix, s.service.Name, m.Name, err))
		return nil, err
	}
	return results, nil
}

// CallJSON is Call with JSON arguments and a JSON result array.
func (s *Stub) CallJSON(ctx context.Context, method string, args json.RawMessage) (json.RawMessage, error) {
	m, err := s.Method(method)
	if err != nil {
		return nil, err
	}
	vals, err := codec.ArgsFromJSON(args, m.Args)
	if err != nil {
		return nil, err
	}
	results, err := s.Call(ctx, method, vals...)
	if err != nil {
		return nil, err
	}
	return codec.ResultsToJSON(results, m.Results)
}

func (s *Stub) send(ctx context.Context, m *schema.MethodDescriptor, payload []byte, caller principal.Principal) ([]byte, error) {
	if !m.IsQuery() || !s.coalesce {
		return s.invoke(ctx, m, payload, caller)
	}
	key := caller.String() + "\x00" + m.Name + "\x00" + string(payload)
	// The shared request outlives any single waiter; the dispatcher's call
	// timeout bounds it.
	shared := context.WithoutCancel(ctx)
	ch := s.group.DoChan(key, func() (interface{}, error) {
		return s.invoke(shared, m, payload, caller)
	})
	select {
	case <-ctx.Done():
		return nil, rpcerr.Wrap(rpcerr.CodeTimeout, ctx.Err(), "%s.%s: caller gave up waiting", s.service.Name, m.Name)
	case res := <-ch:
		if res.Shared {
			slog.Debug(fmt.Sprintf("%s - coalesced %s.%s", logPrefix, s.service.Name, m.Name))
		}
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.([]byte), nil
	}
}

func (s *Stub) invoke(ctx context.Context, m *schema.MethodDescriptor, payload []byte, caller principal.Principal) ([]byte, error) {
	env := dispatcher.NewEnvelope(s.service.Name, m.Name, m.Mode, payload, caller)
	return s.invoker.Invoke(ctx, env)
}

func (s *Stub) callerFor(ctx context.Context) principal.Principal {
	if p, ok := CallerFromContext(ctx); ok {
		return p
	}
	return s.caller
}

type callerKey struct{}

// ContextWithCaller returns a context whose calls are made as p.
func ContextWithCaller(ctx context.Context, p principal.Principal) context.Context {
	return context.WithValue(ctx, callerKey{}, p)
}

// CallerFromContext returns the caller set by ContextWithCaller.
func CallerFromContext(ctx context.Context) (principal.Principal, bool) {
	p, ok := ctx.Value(callerKey{}).(principal.Principal)
	return p, ok
}
