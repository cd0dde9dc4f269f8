package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/morezero/contracts-gateway/pkg/schema"
)

const repoLogPrefix = "db:repository"

// Repository provides database access for stored service contracts.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a new Repository with the given connection pool.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// UpsertContract validates spec and stores it under name, replacing any previous
// method list. The revision increases on every update.
func (r *Repository) UpsertContract(ctx context.Context, name string, spec *schema.ServiceSpec) (*ServiceContract, error) {
	slog.Info(fmt.Sprintf("%s - UpsertContract name=%s version=%s", repoLogPrefix, name, spec.Version))

	if _, err := schema.BuildService(name, spec, nil); err != nil {
		return nil, err
	}
	types := spec.Types
	if types == nil {
		types = map[string]schema.TypeSpec{}
	}
	typesJSON, err := json.Marshal(types)
	if err != nil {
		return nil, fmt.Errorf("%s - marshal types: %w", repoLogPrefix, err)
	}
	var description *string
	if spec.Description != "" {
		description = &spec.Description
	}

	var c *ServiceContract
	err = pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		now := time.Now().UTC()
		row := tx.QueryRow(ctx,
			`INSERT INTO service_contracts (name, version, description, types, created, modified)
			 VALUES ($1, $2, $3, $4, $5, $5)
			 ON CONFLICT (name) DO UPDATE SET
			   version = EXCLUDED.version,
			   description = EXCLUDED.description,
			   types = EXCLUDED.types,
			   revision = service_contracts.revision + 1,
			   modified = $5
			 RETURNING id, name, version, description, types, revision, created, modified`,
			name, spec.Version, description, typesJSON, now)
		var err error
		if c, err = scanContract(row); err != nil {
			return err
		}

		if _, err := tx.Exec(ctx, `DELETE FROM contract_methods WHERE contract_id = $1`, c.ID); err != nil {
			return fmt.Errorf("%s - delete methods: %w", repoLogPrefix, err)
		}

		batch := &pgx.Batch{}
		for i, m := range spec.Methods {
			argsJSON, err := marshalTypeList(m.Args)
			if err != nil {
				return err
			}
			resultsJSON, err := marshalTypeList(m.Results)
			if err != nil {
				return err
			}
			var mdesc *string
			if m.Description != "" {
				d := m.Description
				mdesc = &d
			}
			mode := m.Mode
			if mode == "" {
				mode = string(schema.ModeUpdate)
			}
			batch.Queue(
				`INSERT INTO contract_methods (contract_id, position, name, mode, args, results, description)
				 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
				c.ID, i, m.Name, mode, argsJSON, resultsJSON, mdesc)
		}
		return tx.SendBatch(ctx, batch).Close()
	})
	if err != nil {
		return nil, fmt.Errorf("%s - UpsertContract %s failed: %w", repoLogPrefix, name, err)
	}
	return c, nil
}

// GetContract finds a contract by service name. It returns nil, nil when absent.
func (r *Repository) GetContract(ctx context.Context, name string) (*ServiceContract, error) {
	slog.Debug(fmt.Sprintf("%s - GetContract name=%s", repoLogPrefix, name))

	row := r.pool.QueryRow(ctx,
		`SELECT id, name, version, description, types, revision, created, modified
		 FROM service_contracts
		 WHERE name = $1`, name)
	c, err := scanContract(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return c, err
}

// ListContracts returns every stored contract ordered by name.
func (r *Repository) ListContracts(ctx context.Context) ([]ServiceContract, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, name, version, description, types, revision, created, modified
		 FROM service_contracts
		 ORDER BY name ASC`)
	if err != nil {
		return nil, fmt.Errorf("%s - ListContracts failed: %w", repoLogPrefix, err)
	}
	defer rows.Close()

	var out []ServiceContract
	for rows.Next() {
		c, err := scanContract(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

// GetMethods returns a contract's methods in declaration order.
func (r *Repository) GetMethods(ctx context.Context, contractID string) ([]ContractMethod, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, contract_id, position, name, mode, args, results, description
		 FROM contract_methods
		 WHERE contract_id = $1
		 ORDER BY position ASC`, contractID)
	if err != nil {
		return nil, fmt.Errorf("%s - GetMethods failed: %w", repoLogPrefix, err)
	}
	methods, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (ContractMethod, error) {
		var m ContractMethod
		err := row.Scan(&m.ID, &m.ContractID, &m.Position, &m.Name, &m.Mode, &m.Args, &m.Results, &m.Description)
		return m, err
	})
	if err != nil {
		return nil, fmt.Errorf("%s - GetMethods scan failed: %w", repoLogPrefix, err)
	}
	return methods, nil
}

// DeleteContract removes a contract and its methods. It reports whether a row existed.
func (r *Repository) DeleteContract(ctx context.Context, name string) (bool, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM service_contracts WHERE name = $1`, name)
	if err != nil {
		return false, fmt.Errorf("%s - DeleteContract failed: %w", repoLogPrefix, err)
	}
	return tag.RowsAffected() > 0, nil
}

// ContractsFile assembles every stored contract into a ContractsFile.
func (r *Repository) ContractsFile(ctx context.Context) (*schema.ContractsFile, error) {
	contracts, err := r.ListContracts(ctx)
	if err != nil {
		return nil, err
	}
	f := &schema.ContractsFile{Name: "database", Services: make(map[string]*schema.ServiceSpec, len(contracts))}
	for _, c := range contracts {
		methods, err := r.GetMethods(ctx, c.ID)
		if err != nil {
			return nil, err
		}
		spec, err := specFromRows(c, methods)
		if err != nil {
			return nil, err
		}
		f.Services[c.Name] = spec
	}
	return f, nil
}

// LoadRegistry registers every stored contract in reg.
func (r *Repository) LoadRegistry(ctx context.Context, reg *schema.Registry) error {
	f, err := r.ContractsFile(ctx)
	if err != nil {
		return err
	}
	if len(f.Services) == 0 {
		return fmt.Errorf("%s - no contracts stored (run 'gateway seed')", repoLogPrefix)
	}
	slog.Info(fmt.Sprintf("%s - Loading %d contracts from database", repoLogPrefix, len(f.Services)))
	return f.RegisterAll(reg)
}

func specFromRows(c ServiceContract, methods []ContractMethod) (*schema.ServiceSpec, error) {
	spec := &schema.ServiceSpec{Version: c.Version, Methods: make([]schema.MethodSpec, 0, len(methods))}
	if c.Description != nil {
		spec.Description = *c.Description
	}
	if len(c.Types) > 0 {
		if err := json.Unmarshal(c.Types, &spec.Types); err != nil {
			return nil, fmt.Errorf("%s - contract %s: bad types: %w", repoLogPrefix, c.Name, err)
		}
	}
	for _, m := range methods {
		ms := schema.MethodSpec{Name: m.Name, Mode: m.Mode}
		if m.Description != nil {
			ms.Description = *m.Description
		}
		if err := json.Unmarshal(m.Args, &ms.Args); err != nil {
			return nil, fmt.Errorf("%s - %s.%s: bad args: %w", repoLogPrefix, c.Name, m.Name, err)
		}
		if err := json.Unmarshal(m.Results, &ms.Results); err != nil {
			return nil, fmt.Errorf("%s - %s.%s: bad results: %w", repoLogPrefix, c.Name, m.Name, err)
		}
		spec.Methods = append(spec.Methods, ms)
	}
	return spec, nil
}

func marshalTypeList(ts []schema.TypeSpec) ([]byte, error) {
	if ts == nil {
		ts = []schema.TypeSpec{}
	}
	data, err := json.Marshal(ts)
	if err != nil {
		return nil, fmt.Errorf("%s - marshal types: %w", repoLogPrefix, err)
	}
	return data, nil
}

func scanContract(row pgx.Row) (*ServiceContract, error) {
	var c ServiceContract
	err := row.Scan(&c.ID, &c.Name, &c.Version, &c.Description, &c.Types, &c.Revision, &c.Created, &c.Modified)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("%s - scan contract failed: %w", repoLogPrefix, err)
	}
	return &c, nil
}
