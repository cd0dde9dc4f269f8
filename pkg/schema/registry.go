package schema

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/morezero/contracts-gateway/pkg/rpcerr"
)

const logPrefix = "schema:registry"

// Registry maps service names to validated descriptors. Registration happens during
// startup; lookups are lock-free and safe for concurrent use at any time.
type Registry struct {
	mu       sync.Mutex // serialises writers
	services atomic.Pointer[map[string]*ServiceDescriptor]
	frozen   atomic.Bool
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	r := &Registry{}
	empty := map[string]*ServiceDescriptor{}
	r.services.Store(&empty)
	return r
}

// Register validates desc and adds a copy of it under name. The caller's descriptor
// is left untouched and may be registered elsewhere.
func (r *Registry) Register(name string, desc *ServiceDescriptor) error {
	if r.frozen.Load() {
		return rpcerr.New(rpcerr.CodeMalformedSchema, "registry is frozen; cannot register %s", name)
	}
	own := desc.clone()
	if own != nil && own.Name == "" {
		own.Name = name
	}
	if err := ValidateService(own); err != nil {
		return err
	}
	if own.Name != name {
		return rpcerr.New(rpcerr.CodeMalformedSchema, "descriptor name %q does not match registration name %q", own.Name, name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	current := *r.services.Load()
	if _, exists := current[name]; exists {
		return rpcerr.New(rpcerr.CodeDuplicateService, "service %s already registered", name)
	}

	own.index = make(map[string]*MethodDescriptor, len(own.Methods))
	for _, m := range own.Methods {
		own.index[m.Name] = m
	}

	next := make(map[string]*ServiceDescriptor, len(current)+1)
	for k, v := range current {
		next[k] = v
	}
	next[name] = own
	r.services.Store(&next)

	slog.Info(fmt.Sprintf("%s - Registered service %s version=%s methods=%d", logPrefix, name, orDefault(own.Version, "unversioned"), len(own.Methods)))
	return nil
}

// clone copies the descriptor and its method list. Types are shared; they are
// never written after construction.
func (s *ServiceDescriptor) clone() *ServiceDescriptor {
	if s == nil {
		return nil
	}
	own := *s
	own.index = nil
	own.Methods = make([]*MethodDescriptor, len(s.Methods))
	for i, m := range s.Methods {
		if m != nil {
			mc := *m
			m = &mc
		}
		own.Methods[i] = m
	}
	own.Types = append([]*Type(nil), s.Types...)
	return &own
}

// Freeze rejects further registrations.
func (r *Registry) Freeze() {
	r.frozen.Store(true)
}

// Frozen reports whether Freeze has been called.
func (r *Registry) Frozen() bool {
	return r.frozen.Load()
}

// Service returns the descriptor for a reference ("inventory" or "inventory@^1").
func (r *Registry) Service(ref string) (*ServiceDescriptor, error) {
	parsed := ParseServiceRef(ref)
	desc, ok := (*r.services.Load())[parsed.Name]
	if !ok {
		return nil, rpcerr.New(rpcerr.CodeUnknownService, "unknown service %s", parsed.Name)
	}
	if !SatisfiesRange(desc.Version, parsed.Range) {
		return nil, &rpcerr.Error{
			Code:    rpcerr.CodeUnknownService,
			Message: fmt.Sprintf("service %s version %s does not satisfy %s", parsed.Name, orDefault(desc.Version, "0.0.0"), parsed.Range),
			Details: map[string]string{"registered": desc.Version, "requested": parsed.Range},
		}
	}
	return desc, nil
}

// Lookup returns the method descriptor for service.method.
func (r *Registry) Lookup(service, method string) (*MethodDescriptor, error) {
	desc, err := r.Service(service)
	if err != nil {
		return nil, err
	}
	m := desc.Method(method)
	if m == nil {
		return nil, rpcerr.New(rpcerr.CodeUnknownMethod, "service %s has no method %s", desc.Name, method)
	}
	return m, nil
}

// Services returns the registered service names, sorted.
func (r *Registry) Services() []string {
	current := *r.services.Load()
	names := make([]string, 0, len(current))
	for name := range current {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
