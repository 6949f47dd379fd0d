package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/and161185/petmem/internal/model"
	"github.com/and161185/petmem/internal/repository"
)

// Store implements repository.Store on PostgreSQL.
type Store struct {
	db      *DB
	pets    *EntityRepo[model.Pet]
	videos  *EntityRepo[model.MemorialVideo]
	letters *EntityRepo[model.Letter]
	*CartRepo
	*OrderRepo
}

var _ repository.Store = (*Store)(nil)

// NewStore builds every repository on db.
func NewStore(db *DB) *Store {
	return &Store{
		db:        db,
		pets:      NewEntityRepo(db, repository.PetTable),
		videos:    NewEntityRepo(db, repository.VideoTable),
		letters:   NewEntityRepo(db, repository.LetterTable),
		CartRepo:  NewCartRepo(db),
		OrderRepo: NewOrderRepo(db),
	}
}

func (s *Store) Pets() repository.EntityRepository[model.Pet]              { return s.pets }
func (s *Store) Videos() repository.EntityRepository[model.MemorialVideo] { return s.videos }
func (s *Store) Letters() repository.EntityRepository[model.Letter]       { return s.letters }

// Close closes the pool.
func (s *Store) Close() error {
	s.db.Close()
	return nil
}

// WipeForLogin clears synced entities and the cart of every user.
func (s *Store) WipeForLogin(ctx context.Context) error {
	return s.truncate(ctx, append(append([]string(nil), repository.SyncedTables...), "cart_items"))
}

// WipeEverything also clears orders.
func (s *Store) WipeEverything(ctx context.Context) error {
	return s.truncate(ctx, append(append([]string(nil), repository.SyncedTables...), "cart_items", "order_items", "orders"))
}

func (s *Store) truncate(ctx context.Context, tables []string) error {
	return s.db.inTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, "TRUNCATE "+strings.Join(tables, ", ")); err != nil {
			return fmt.Errorf("wipe: %w", err)
		}
		return nil
	})
}
