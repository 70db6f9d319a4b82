// Package relational implements the relational storage driver (C7):
// gorm-backed Postgres (production) / SQLite (dev, tests) persistence for
// tenant/KB/document/chunk/hierarchy rows, migrated with
// golang-migrate/migrate/v4 (SPEC_FULL.md §3, §6). Grounded on the
// teacher's `internal/container` initDatabase (gorm.Open dialector
// selection, golang-migrate DSN construction) — that function's body
// lives only in the teacher's container.go (rewired here into
// internal/container), this package rebuilds the `internal/database`
// import it referenced, which was not present in the retrieved slice.
package relational

import (
	"database/sql"
	"embed"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/mattn/go-sqlite3"
	gormpostgres "gorm.io/driver/postgres"
	gormsqlite "gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/kbretrieval/core/internal/types"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Config selects and connects to the relational backend
// (SPEC_FULL.md §3: "Postgres in production ... SQLite in tests/dev").
type Config struct {
	Driver string // "postgres" | "sqlite"
	DSN    string
}

// Open connects to the configured backend and returns a ready *gorm.DB.
// Callers should follow Open with Migrate (or AutoMigrate in tests) before
// using the handle.
func Open(cfg Config) (*gorm.DB, error) {
	switch cfg.Driver {
	case "postgres":
		return gorm.Open(gormpostgres.Open(cfg.DSN), &gorm.Config{})
	case "sqlite", "":
		return gorm.Open(gormsqlite.Open(cfg.DSN), &gorm.Config{})
	default:
		return nil, fmt.Errorf("unsupported relational driver: %q", cfg.Driver)
	}
}

// Migrate applies the embedded golang-migrate migrations. Production
// (Postgres) deployments should always call this; AutoMigrateForTests is a
// lighter-weight path for SQLite-backed unit/integration tests.
func Migrate(cfg Config) error {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("loading embedded migrations: %w", err)
	}
	var m *migrate.Migrate
	switch cfg.Driver {
	case "postgres":
		db, err := sql.Open("pgx", cfg.DSN)
		if err != nil {
			return fmt.Errorf("opening postgres for migration: %w", err)
		}
		defer db.Close()
		driver, err := postgres.WithInstance(db, &postgres.Config{})
		if err != nil {
			return fmt.Errorf("building postgres migrate driver: %w", err)
		}
		m, err = migrate.NewWithInstance("iofs", src, "postgres", driver)
		if err != nil {
			return fmt.Errorf("building migrator: %w", err)
		}
	case "sqlite", "":
		db, err := sql.Open("sqlite3", cfg.DSN)
		if err != nil {
			return fmt.Errorf("opening sqlite for migration: %w", err)
		}
		defer db.Close()
		driver, err := sqlite3.WithInstance(db, &sqlite3.Config{})
		if err != nil {
			return fmt.Errorf("building sqlite migrate driver: %w", err)
		}
		m, err = migrate.NewWithInstance("iofs", src, "sqlite3", driver)
		if err != nil {
			return fmt.Errorf("building migrator: %w", err)
		}
	default:
		return fmt.Errorf("unsupported relational driver: %q", cfg.Driver)
	}
	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("running migrations: %w", err)
	}
	return nil
}

// AutoMigrateForTests uses gorm's reflection-based schema sync instead of
// the versioned migration files — acceptable only for the in-memory/SQLite
// fixtures unit and integration tests spin up, never for production
// (SPEC_FULL.md §6 calls the versioned migrations the real deployment
// path).
func AutoMigrateForTests(db *gorm.DB) error {
	return db.AutoMigrate(
		&types.Tenant{},
		&types.KnowledgeBase{},
		&types.Document{},
		&types.Chunk{},
		&types.HierarchyNode{},
		&APIKeyRow{},
	)
}
