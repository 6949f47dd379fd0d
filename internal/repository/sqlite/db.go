// Package sqlite is the default local store backed by a single SQLite file.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/mattn/go-sqlite3"

	"github.com/and161185/petmem/internal/migrate"
	"github.com/and161185/petmem/internal/model"
	"github.com/and161185/petmem/internal/repository"
)

// DB implements repository.Store.
type DB struct {
	db      *sql.DB
	pets    *entityRepo[model.Pet]
	videos  *entityRepo[model.MemorialVideo]
	letters *entityRepo[model.Letter]
}

var _ repository.Store = (*DB)(nil)

// Open opens (or creates) the database at path and applies migrations.
func Open(ctx context.Context, path string) (*DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// one writer; the owner loop serialises mutations anyway
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("connect sqlite: %w", err)
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}
	if err := migrate.Up(ctx, db, migrate.SQLite); err != nil {
		db.Close()
		return nil, err
	}

	return &DB{
		db:      db,
		pets:    &entityRepo[model.Pet]{db: db, t: repository.PetTable},
		videos:  &entityRepo[model.MemorialVideo]{db: db, t: repository.VideoTable},
		letters: &entityRepo[model.Letter]{db: db, t: repository.LetterTable},
	}, nil
}

// Close closes the database.
func (d *DB) Close() error { return d.db.Close() }

func (d *DB) Pets() repository.EntityRepository[model.Pet]              { return d.pets }
func (d *DB) Videos() repository.EntityRepository[model.MemorialVideo] { return d.videos }
func (d *DB) Letters() repository.EntityRepository[model.Letter]       { return d.letters }

// WipeForLogin clears synced entities and the cart of every user.
func (d *DB) WipeForLogin(ctx context.Context) error {
	tables := append(append([]string(nil), repository.SyncedTables...), "cart_items")
	return d.wipe(ctx, tables)
}

// WipeEverything also clears orders.
func (d *DB) WipeEverything(ctx context.Context) error {
	tables := append(append([]string(nil), repository.SyncedTables...), "cart_items", "order_items", "orders")
	return d.wipe(ctx, tables)
}

func (d *DB) wipe(ctx context.Context, tables []string) (err error) {
	return withTx(ctx, d.db, func(tx *sql.Tx) error {
		for _, t := range tables {
			if _, err := tx.ExecContext(ctx, "DELETE FROM "+t); err != nil {
				return fmt.Errorf("wipe %s: %w", t, err)
			}
		}
		return nil
	})
}

func withTx(ctx context.Context, db *sql.DB, fn func(*sql.Tx) error) (err error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
			return
		}
		if e := tx.Commit(); e != nil {
			err = e
		}
	}()
	return fn(tx)
}

func isUniqueViolation(err error) bool {
	var se sqlite3.Error
	return errors.As(err, &se) &&
		(se.ExtendedCode == sqlite3.ErrConstraintUnique || se.ExtendedCode == sqlite3.ErrConstraintPrimaryKey)
}
