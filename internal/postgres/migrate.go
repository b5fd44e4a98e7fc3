package postgres

import (
	"context"
	_ "embed"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed schema.sql
var schema string

// Migrate creates the tables when they are missing. Safe to run on every start.
func Migrate(ctx context.Context, db *pgxpool.Pool) error {
	// No arguments, so pgx sends it over the simple protocol and the
	// multi-statement script runs as one batch.
	if _, err := db.Exec(ctx, schema); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}
