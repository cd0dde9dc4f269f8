// Package main is the entrypoint for the contracts gateway (binary name "gateway").
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/url"
	"os"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/morezero/contracts-gateway/internal/config"
	"github.com/morezero/contracts-gateway/internal/server"
	"github.com/morezero/contracts-gateway/pkg/commsutil"
	"github.com/morezero/contracts-gateway/pkg/db"
	"github.com/morezero/contracts-gateway/pkg/schema"
)

const usage = `Usage: gateway [command]
       gateway serve                          Start the gateway (COMMS client, HTTP contract browser).
       gateway dev [--embedded] [--port N]    Start the gateway with in-memory access and inventory services.
       gateway call <service> <method> [json] Call a method with a JSON argument array and print the JSON results.
       gateway contracts                      Print the loaded service contracts.
       gateway migrate up                     Run database migrations.
       gateway migrate down                   Roll back one migration (not supported; prints a notice).
       gateway migrate status                 Show migration status.
       gateway ensure-db [name]               Create database if missing (default name: contracts_test). Uses DATABASE_URL host/user.
       gateway clear                          Delete all stored contracts; schema is preserved.
       gateway seed [file]                    Store the contracts of a contracts file in the database.

Commands:
  serve           (default) Start the contracts gateway.
  dev             Host the access and inventory doubles on COMMS and serve the gateway against them.
  call            One-shot call through the typed stub, e.g. gateway call inventory addItem '["widget", 10]'.
  contracts       Print every registered service with its method signatures.
  migrate up      Run database migrations only.
  migrate down    Roll back last migration (optional).
  migrate status  Show current migration status.
  ensure-db       Create a database on the same host as DATABASE_URL.
  clear           Delete stored contracts; schema preserved.
  seed [file]     Seed contracts (default: GATEWAY_CONTRACTS_FILE, config/contracts.json, builtin).

Environment: COMMS_URL, DATABASE_URL, CONTRACTS_FROM_DB, GATEWAY_CONTRACTS_FILE, GATEWAY_CALLER_PRINCIPAL,
GATEWAY_CALL_TIMEOUT, GATEWAY_HTTP_ADDR (default :8080), MIGRATION_PATH. See README.
`

func main() {
	args := os.Args[1:]
	cmd := ""
	if len(args) > 0 && args[0] != "" {
		cmd = args[0]
	}

	switch cmd {
	case "migrate":
		if len(args) < 2 {
			log.Fatalf("gateway migrate: require subcommand (up, down, status)")
		}
		sub := args[1]
		var err error
		switch sub {
		case "up":
			err = runMigrateUp()
		case "status":
			err = runMigrateStatus()
		case "down":
			err = runMigrateDown()
		default:
			log.Fatalf("gateway migrate: unknown subcommand %q (use up, down, status)", sub)
		}
		if err != nil {
			log.Fatalf("gateway migrate %s: %v", sub, err)
		}
		return
	case "clear":
		if err := runClear(); err != nil {
			log.Fatalf("gateway clear: %v", err)
		}
		return
	case "seed":
		file := ""
		if len(args) > 1 {
			file = args[1]
		}
		if err := runSeed(file); err != nil {
			log.Fatalf("gateway seed: %v", err)
		}
		return
	case "ensure-db":
		dbName := "contracts_test"
		if len(args) > 1 && args[1] != "" {
			dbName = args[1]
		}
		if err := runEnsureDB(dbName); err != nil {
			log.Fatalf("gateway ensure-db: %v", err)
		}
		return
	case "call":
		if len(args) < 3 {
			log.Fatalf("gateway call: require <service> <method> [json]")
		}
		argsJSON := "[]"
		if len(args) > 3 {
			argsJSON = args[3]
		}
		if err := runCall(args[1], args[2], argsJSON); err != nil {
			log.Fatalf("gateway call: %v", err)
		}
		return
	case "contracts":
		if err := runContracts(); err != nil {
			log.Fatalf("gateway contracts: %v", err)
		}
		return
	case "dev":
		opts, err := parseDevArgs(args[1:])
		if err != nil {
			log.Fatalf("gateway dev: %v", err)
		}
		if err := server.RunDev(opts); err != nil {
			log.Fatalf("gateway dev: %v", err)
		}
		return
	case "help", "-h", "--help":
		fmt.Print(usage)
		return
	case "serve", "":
		// serve (explicit or default)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command %q.\n%s", cmd, usage)
		os.Exit(1)
	}

	if err := server.Run(); err != nil {
		log.Fatalf("gateway: %v", err)
	}
}

func parseDevArgs(args []string) (server.DevOptions, error) {
	fs := flag.NewFlagSet("dev", flag.ContinueOnError)
	embedded := fs.Bool("embedded", false, "start an in-process COMMS server")
	host := fs.String("host", "127.0.0.1", "embedded COMMS listen host")
	port := fs.Int("port", 4222, "embedded COMMS listen port (-1 picks a free port)")
	if err := fs.Parse(args); err != nil {
		return server.DevOptions{}, err
	}
	return server.DevOptions{Embedded: *embedded, EmbeddedHost: *host, EmbeddedPort: *port}, nil
}

// openPool loads config, validates the database settings and connects.
func openPool(ctx context.Context) (*config.Config, *pgxpool.Pool, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	if err := cfg.ValidateForDB(); err != nil {
		return nil, nil, err
	}
	pool, err := db.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, fmt.Errorf("connect database: %w", err)
	}
	return cfg, pool, nil
}

func runMigrateUp() error {
	ctx := context.Background()
	cfg, pool, err := openPool(ctx)
	if err != nil {
		return err
	}
	defer pool.Close()

	migrations, err := db.LoadMigrationFiles(cfg.MigrationPath)
	if err != nil {
		return fmt.Errorf("load migrations: %w", err)
	}
	if err := db.RunMigrations(ctx, pool, migrations); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	return nil
}

func runMigrateStatus() error {
	ctx := context.Background()
	cfg, pool, err := openPool(ctx)
	if err != nil {
		return err
	}
	defer pool.Close()

	return db.MigrationStatus(ctx, pool, cfg.MigrationPath)
}

func runMigrateDown() error {
	ctx := context.Background()
	cfg, pool, err := openPool(ctx)
	if err != nil {
		return err
	}
	defer pool.Close()

	return db.MigrationDown(ctx, pool, cfg.MigrationPath)
}

func runClear() error {
	ctx := context.Background()
	_, pool, err := openPool(ctx)
	if err != nil {
		return err
	}
	defer pool.Close()

	if err := db.ClearContracts(ctx, pool); err != nil {
		return fmt.Errorf("clear contracts: %w", err)
	}
	return nil
}

func runSeed(fileOverride string) error {
	ctx := context.Background()
	cfg, pool, err := openPool(ctx)
	if err != nil {
		return err
	}
	defer pool.Close()

	path := fileOverride
	if path == "" {
		path = cfg.ContractsFile
	}
	if err := db.SeedContracts(ctx, pool, path); err != nil {
		return fmt.Errorf("seed contracts: %w", err)
	}
	return nil
}

func runEnsureDB(dbName string) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.ValidateForDB(); err != nil {
		return err
	}
	u, err := url.Parse(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("parse DATABASE_URL: %w", err)
	}
	// Replace path with target database name; query (e.g. sslmode) is kept on u.RawQuery.
	u.Path = "/" + dbName
	if err := db.EnsureDatabase(context.Background(), u.String()); err != nil {
		return err
	}
	fmt.Printf("Database %q is ready.\n", dbName)
	return nil
}

func runCall(service, method, argsJSON string) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.ValidateForCall(); err != nil {
		return err
	}
	server.SetupLogging(cfg.LogLevel)
	ctx := context.Background()

	reg, pool, err := server.LoadRegistry(ctx, cfg)
	if err != nil {
		return err
	}
	if pool != nil {
		defer pool.Close()
	}
	nc, err := commsutil.Connect(cfg.COMMSURL, cfg.COMMSName+"-cli")
	if err != nil {
		return fmt.Errorf("connect COMMS: %w", err)
	}
	defer nc.Drain()

	opts, err := server.StubOptions(cfg)
	if err != nil {
		return err
	}
	gw, err := server.NewGateway(reg, server.NewDispatcher(cfg, nc, reg, nil), opts...)
	if err != nil {
		return err
	}
	st, err := gw.Stub(service)
	if err != nil {
		return err
	}
	result, err := st.CallJSON(ctx, method, json.RawMessage(argsJSON))
	if err != nil {
		return err
	}
	fmt.Println(string(result))
	return nil
}

func runContracts() error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	reg, pool, err := server.LoadRegistry(context.Background(), cfg)
	if err != nil {
		return err
	}
	if pool != nil {
		defer pool.Close()
	}
	fmt.Print(describeContracts(reg))
	return nil
}

// describeContracts renders every service as "service@version" followed by one
// "  method : signature" line per method.
func describeContracts(reg *schema.Registry) string {
	var sb strings.Builder
	for _, name := range reg.Services() {
		desc, err := reg.Service(name)
		if err != nil {
			continue
		}
		version := desc.Version
		if version == "" {
			version = "unversioned"
		}
		fmt.Fprintf(&sb, "%s@%s\n", desc.Name, version)
		for _, m := range desc.Methods {
			fmt.Fprintf(&sb, "  %s : %s\n", m.Name, m.Signature())
		}
	}
	return sb.String()
}
