// Package migrate applies the embedded SQL migrations with goose.
// Every service runs Run at startup; an advisory lock serializes the
// replicas so concurrent DDL never races, and goose's version table
// makes the call idempotent.
//
// Migrations run on their own plain database/sql connection, never on
// the service pool: the pool registers pgvector types on connect,
// which fails until the vector extension migration has been applied.
package migrate

import (
	"context"
	"database/sql"
	"embed"
	"fmt"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
)

//go:embed migrations
var migrationsFS embed.FS

// migrationLockID keys the Postgres advisory lock all services take
// before migrating. Arbitrary but must be identical everywhere.
const migrationLockID = 4195_2024

// Run brings the schema to the latest version.
func Run(ctx context.Context, databaseURL string) error {
	pool, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return fmt.Errorf("open database for migrations: %w", err)
	}
	defer pool.Close()

	// The advisory lock is session-scoped, so it must live on one
	// pinned connection for the whole run.
	lockConn, err := pool.Conn(ctx)
	if err != nil {
		return fmt.Errorf("acquire migration connection: %w", err)
	}
	defer lockConn.Close()

	if _, err := lockConn.ExecContext(ctx, "SELECT pg_advisory_lock($1)", migrationLockID); err != nil {
		return fmt.Errorf("acquire migration lock: %w", err)
	}
	defer lockConn.ExecContext(context.WithoutCancel(ctx), "SELECT pg_advisory_unlock($1)", migrationLockID)

	goose.SetBaseFS(migrationsFS)
	if err := goose.SetDialect("postgres"); err != nil {
		return err
	}
	if err := goose.UpContext(ctx, pool, "migrations"); err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}
