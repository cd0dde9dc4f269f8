package db

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/morezero/contracts-gateway/pkg/schema"
)

const seedLogPrefix = "db:seed"

// SeedContracts loads a contracts file and upserts every service it declares.
// File-level types are copied into each service so stored contracts are
// self-contained. An empty path uses the contracts file search order of
// schema.LoadContractsFile.
func SeedContracts(ctx context.Context, pool *pgxpool.Pool, path string) error {
	f, err := loadSeedFile(path)
	if err != nil {
		return err
	}
	// Validate the whole file before writing anything.
	if _, err := f.Descriptors(); err != nil {
		return fmt.Errorf("%s - invalid contracts file: %w", seedLogPrefix, err)
	}

	repo := NewRepository(pool)
	for name, spec := range f.Services {
		if _, err := repo.UpsertContract(ctx, name, selfContained(spec, f.Types)); err != nil {
			return err
		}
	}
	slog.Info(fmt.Sprintf("%s - Seeded %d contracts from %s", seedLogPrefix, len(f.Services), f.Name))
	return nil
}

func loadSeedFile(path string) (*schema.ContractsFile, error) {
	if path == "" {
		return schema.LoadContractsFile()
	}
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("%s - contracts file: %w", seedLogPrefix, err)
	}
	return schema.LoadContractsFile(path)
}

// selfContained returns a copy of spec whose Types include shared declarations it
// does not shadow.
func selfContained(spec *schema.ServiceSpec, shared map[string]schema.TypeSpec) *schema.ServiceSpec {
	if len(shared) == 0 {
		return spec
	}
	out := *spec
	out.Types = make(map[string]schema.TypeSpec, len(shared)+len(spec.Types))
	for k, v := range shared {
		out.Types[k] = v
	}
	for k, v := range spec.Types {
		out.Types[k] = v
	}
	return &out
}
