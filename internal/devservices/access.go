package devservices

import (
	"context"
	"sync"

	"github.com/morezero/contracts-gateway/pkg/host"
	"github.com/morezero/contracts-gateway/pkg/principal"
)

// Access is an in-memory access list: principal -> subscribed resource keys.
type Access struct {
	mu   sync.RWMutex
	subs map[string]map[string]struct{}
}

// NewAccess creates an empty Access.
func NewAccess() *Access {
	return &Access{subs: make(map[string]map[string]struct{})}
}

// Register installs the access handlers on h.
func (a *Access) Register(h *host.Host) error {
	if err := h.Handle("hasAccess", a.hasAccess); err != nil {
		return err
	}
	return h.Handle("subscribeUser", a.subscribeUser)
}

// Subscribed reports whether user holds resource.
func (a *Access) Subscribed(user principal.Principal, resource string) bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	_, ok := a.subs[user.String()][resource]
	return ok
}

func (a *Access) hasAccess(_ context.Context, call *host.Call) ([]any, error) {
	user := call.Args[0].(principal.Principal)
	return []any{a.Subscribed(user, call.Args[1].(string))}, nil
}

func (a *Access) subscribeUser(_ context.Context, call *host.Call) ([]any, error) {
	user := call.Args[0].(principal.Principal)
	resources := call.Args[1].([]any)

	a.mu.Lock()
	defer a.mu.Unlock()
	set, ok := a.subs[user.String()]
	if !ok {
		set = make(map[string]struct{}, len(resources))
		a.subs[user.String()] = set
	}
	for _, r := range resources {
		set[r.(string)] = struct{}{}
	}
	return []any{}, nil
}
