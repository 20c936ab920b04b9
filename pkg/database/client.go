// Package database provides the PostgreSQL client, embedded migrations, and
// the durable store implementations behind the command plane's in-memory
// twins.
package database

import (
	"context"
	stdsql "database/sql"
	"embed"
	"errors"
	"fmt"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib" // pgx driver for database/sql, migrations only
)

//go:embed migrations
var migrationsFS embed.FS

// Client owns the connection pool. Stores share the pool; migrations run
// once at startup over a short-lived database/sql handle.
type Client struct {
	pool *pgxpool.Pool
}

// Pool exposes the underlying pool for health checks.
func (c *Client) Pool() *pgxpool.Pool { return c.pool }

// Close drains the pool.
func (c *Client) Close() { c.pool.Close() }

// Ping verifies connectivity; used by the health endpoint.
func (c *Client) Ping(ctx context.Context) error { return c.pool.Ping(ctx) }

// NewClient connects, applies pending migrations, and returns the client.
// databaseURL is a postgres:// DSN.
func NewClient(ctx context.Context, databaseURL string) (*Client, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := runMigrations(databaseURL); err != nil {
		pool.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &Client{pool: pool}, nil
}

// runMigrations applies all pending embedded migrations. The migration files
// are compiled into the binary, so deployments never depend on external SQL
// files.
func runMigrations(databaseURL string) error {
	db, err := stdsql.Open("pgx", databaseURL)
	if err != nil {
		return fmt.Errorf("open migration connection: %w", err)
	}
	defer db.Close()

	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("create postgres driver: %w", err)
	}
	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("create migration source: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, databaseName(databaseURL), driver)
	if err != nil {
		return fmt.Errorf("create migrate instance: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return sourceDriver.Close()
}

// databaseName extracts the database name from a postgres:// DSN for
// migrate's instance label. Best-effort; the label is informational.
func databaseName(databaseURL string) string {
	trimmed := databaseURL
	if i := strings.Index(trimmed, "?"); i >= 0 {
		trimmed = trimmed[:i]
	}
	if i := strings.LastIndex(trimmed, "/"); i >= 0 {
		return trimmed[i+1:]
	}
	return "postgres"
}
