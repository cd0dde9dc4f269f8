// Package devservices hosts in-memory doubles of the access and inventory
// services over COMMS. They back the dev command and the end-to-end tests.
package devservices

import (
	"context"
	"fmt"
	"log/slog"

	comms "github.com/nats-io/nats.go"

	"github.com/morezero/contracts-gateway/pkg/host"
	"github.com/morezero/contracts-gateway/pkg/schema"
)

const logPrefix = "devservices:devservices"

// Services is a running pair of doubles.
type Services struct {
	Inventory *Inventory
	Access    *Access
	hosts     []*host.Host
}

// Start serves both doubles on nc using the contracts registered in reg.
func Start(ctx context.Context, nc *comms.Conn, reg *schema.Registry, opts host.Options) (*Services, error) {
	s := &Services{Inventory: NewInventory(), Access: NewAccess()}

	for _, entry := range []struct {
		name     string
		register func(*host.Host) error
	}{
		{schema.ServiceInventory, s.Inventory.Register},
		{schema.ServiceAccess, s.Access.Register},
	} {
		desc, err := reg.Service(entry.name)
		if err != nil {
			s.Close()
			return nil, err
		}
		h := host.New(desc, opts)
		if err := entry.register(h); err != nil {
			s.Close()
			return nil, err
		}
		if err := h.Serve(ctx, nc); err != nil {
			s.Close()
			return nil, err
		}
		s.hosts = append(s.hosts, h)
	}

	slog.Info(fmt.Sprintf("%s - Development services started (%d hosts)", logPrefix, len(s.hosts)))
	return s, nil
}

// Close stops every host.
func (s *Services) Close() {
	for _, h := range s.hosts {
		if err := h.Close(); err != nil {
			slog.Warn(fmt.Sprintf("%s - failed to stop %s: %v", logPrefix, h.Subject(), err))
		}
	}
	s.hosts = nil
}
