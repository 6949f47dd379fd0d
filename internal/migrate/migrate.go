// Package migrate applies embedded SQL migrations on startup.
package migrate

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/and161185/petmem/migrations"
)

// Backend selects the migration set and goose dialect.
type Backend string

const (
	SQLite   Backend = "sqlite"
	Postgres Backend = "postgres"
)

func (b Backend) dialect() (goose.Dialect, error) {
	switch b {
	case SQLite:
		return goose.DialectSQLite3, nil
	case Postgres:
		return goose.DialectPostgres, nil
	}
	return "", fmt.Errorf("migrate: unknown backend %q", b)
}

// Up runs all pending migrations of backend against db.
func Up(ctx context.Context, db *sql.DB, backend Backend) error {
	dialect, err := backend.dialect()
	if err != nil {
		return err
	}
	sub, err := fs.Sub(migrations.FS, string(backend))
	if err != nil {
		return err
	}
	p, err := goose.NewProvider(dialect, db, sub)
	if err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	if _, err := p.Up(ctx); err != nil {
		return fmt.Errorf("migrate %s: %w", backend, err)
	}
	return nil
}

// UpDSN opens dsn through the pgx stdlib driver and migrates the postgres schema.
func UpDSN(ctx context.Context, dsn string) error {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return err
	}
	defer db.Close()
	return Up(ctx, db, Postgres)
}
