package server

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	comms "github.com/nats-io/nats.go"

	"github.com/morezero/contracts-gateway/internal/config"
	"github.com/morezero/contracts-gateway/pkg/commsutil"
	"github.com/morezero/contracts-gateway/pkg/db"
	"github.com/morezero/contracts-gateway/pkg/dispatcher"
	"github.com/morezero/contracts-gateway/pkg/events"
	"github.com/morezero/contracts-gateway/pkg/rpcerr"
	"github.com/morezero/contracts-gateway/pkg/schema"
	"github.com/morezero/contracts-gateway/pkg/services/access"
	"github.com/morezero/contracts-gateway/pkg/services/inventory"
	"github.com/morezero/contracts-gateway/pkg/stub"
	"github.com/morezero/contracts-gateway/pkg/telemetry"
)

const gatewayLogPrefix = "server:gateway"

// Gateway is the client stack: one stub per registered service plus the typed
// clients for the services this module knows.
type Gateway struct {
	Registry  *schema.Registry
	Inventory *inventory.Client
	Access    *access.Client
	stubs     map[string]*stub.Stub
}

// NewGateway builds a stub for every service in reg. Typed clients are created for
// the inventory and access services when they are registered.
func NewGateway(reg *schema.Registry, invoker stub.Invoker, opts ...stub.Option) (*Gateway, error) {
	g := &Gateway{Registry: reg, stubs: make(map[string]*stub.Stub)}
	for _, name := range reg.Services() {
		s, err := stub.New(reg, name, invoker, opts...)
		if err != nil {
			return nil, err
		}
		g.stubs[name] = s
	}

	var err error
	if s, ok := g.stubs[schema.ServiceInventory]; ok {
		if g.Inventory, err = inventory.New(s); err != nil {
			return nil, err
		}
	}
	if s, ok := g.stubs[schema.ServiceAccess]; ok {
		if g.Access, err = access.New(s); err != nil {
			return nil, err
		}
	}
	return g, nil
}

// Stub returns the stub for a registered service.
func (g *Gateway) Stub(service string) (*stub.Stub, error) {
	s, ok := g.stubs[service]
	if !ok {
		return nil, rpcerr.New(rpcerr.CodeUnknownService, "unknown service %s", service)
	}
	return s, nil
}

// StubOptions returns the stub options selected by cfg.
func StubOptions(cfg *config.Config) ([]stub.Option, error) {
	caller, err := cfg.Caller()
	if err != nil {
		return nil, err
	}
	opts := []stub.Option{stub.WithCaller(caller)}
	if cfg.QueryCoalescing {
		opts = append(opts, stub.WithQueryCoalescing())
	}
	return opts, nil
}

// NewInstrumentation returns OpenTelemetry instrumentation against the global
// providers, or nil when both tracing and metrics are off.
func NewInstrumentation(cfg *config.Config) *telemetry.Instrumentation {
	if !cfg.TracingEnabled && !cfg.MetricsEnabled {
		return nil
	}
	tc := telemetry.DefaultConfig()
	tc.EnableTracing = cfg.TracingEnabled
	tc.EnableMetrics = cfg.MetricsEnabled
	return telemetry.New(tc)
}

// NewDispatcher wires the COMMS transport, retry policy, call timeout, audit
// publisher and telemetry hook selected by cfg.
func NewDispatcher(cfg *config.Config, nc *comms.Conn, reg *schema.Registry, inst *telemetry.Instrumentation) *dispatcher.Dispatcher {
	transport := commsutil.NewNATSTransport(nc, commsutil.TransportOptions{
		SubjectPrefix:        cfg.SubjectPrefix,
		Majors:               reg.Majors(),
		CompressionThreshold: cfg.CompressionThreshold,
	})
	opts := []dispatcher.Option{
		dispatcher.WithRetryPolicy(cfg.RetryPolicy()),
		dispatcher.WithCallTimeout(cfg.CallTimeout),
	}
	if cfg.AuditCalls {
		opts = append(opts, dispatcher.WithPublisher(events.NewCommsPublisher(nc, nil)))
	}
	if inst != nil {
		opts = append(opts, dispatcher.WithHook(inst.DispatchHook()))
	}
	return dispatcher.NewDispatcher(transport, opts...)
}

// LoadRegistry builds and freezes the contract registry, from the database when
// CONTRACTS_FROM_DB is set and from the contracts file otherwise. The returned pool
// is nil unless the database was used; the caller closes it.
func LoadRegistry(ctx context.Context, cfg *config.Config) (*schema.Registry, *pgxpool.Pool, error) {
	reg := schema.NewRegistry()

	if !cfg.ContractsFromDB {
		f, err := schema.LoadContractsFile(cfg.ContractsFile)
		if err != nil {
			return nil, nil, err
		}
		if err := f.RegisterAll(reg); err != nil {
			return nil, nil, err
		}
		reg.Freeze()
		return reg, nil, nil
	}

	pool, err := db.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, err
	}
	if cfg.RunMigrations {
		migrations, err := db.LoadMigrationFiles(cfg.MigrationPath)
		if err == nil {
			err = db.RunMigrations(ctx, pool, migrations)
		}
		if err == nil {
			err = seedIfEmpty(ctx, pool, cfg.ContractsFile)
		}
		if err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("%s - failed to prepare database: %w", gatewayLogPrefix, err)
		}
	}
	if err := db.NewRepository(pool).LoadRegistry(ctx, reg); err != nil {
		pool.Close()
		return nil, nil, err
	}
	reg.Freeze()
	return reg, pool, nil
}

func seedIfEmpty(ctx context.Context, pool *pgxpool.Pool, contractsFile string) error {
	existing, err := db.NewRepository(pool).ListContracts(ctx)
	if err != nil || len(existing) > 0 {
		return err
	}
	slog.Info(fmt.Sprintf("%s - No stored contracts, seeding", gatewayLogPrefix))
	return db.SeedContracts(ctx, pool, contractsFile)
}
