package db

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
)

const clearLogPrefix = "db:clear"

// ClearContracts removes every stored contract. Schema and migration history are kept.
func ClearContracts(ctx context.Context, pool *pgxpool.Pool) error {
	slog.Info(fmt.Sprintf("%s - Clearing contract tables", clearLogPrefix))

	_, err := pool.Exec(ctx, `TRUNCATE TABLE contract_methods, service_contracts RESTART IDENTITY CASCADE`)
	if err != nil {
		return fmt.Errorf("%s - truncate failed: %w", clearLogPrefix, err)
	}

	slog.Info(fmt.Sprintf("%s - Contracts cleared", clearLogPrefix))
	return nil
}
