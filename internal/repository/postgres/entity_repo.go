package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5"

	"github.com/and161185/petmem/internal/repository"
)

// EntityRepo implements repository.EntityRepository for one synced table.
type EntityRepo[T any] struct {
	db  *DB
	t   repository.Table[T]
	sel string
	ins string
	upd string
	del string
}

// NewEntityRepo prepares the statements of table t.
func NewEntityRepo[T any](db *DB, t repository.Table[T]) *EntityRepo[T] {
	cols := strings.Join(t.Columns, ", ")
	ph := make([]string, len(t.Columns))
	for i := range ph {
		ph[i] = fmt.Sprintf("$%d", i+1)
	}
	sets := make([]string, 0, len(t.Columns)-1)
	for i, c := range t.Columns[1:] {
		sets = append(sets, fmt.Sprintf("%s=$%d", c, i+1))
	}
	n := len(t.Columns)
	return &EntityRepo[T]{
		db:  db,
		t:   t,
		sel: fmt.Sprintf("SELECT %s FROM %s WHERE user_id=$1 ORDER BY created_at, id", cols, t.Name),
		ins: fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", t.Name, cols, strings.Join(ph, ", ")),
		upd: fmt.Sprintf("UPDATE %s SET %s WHERE id=$%d AND user_id=$%d", t.Name, strings.Join(sets, ", "), n, n+1),
		del: fmt.Sprintf("DELETE FROM %s WHERE id=$1 AND user_id=$2", t.Name),
	}
}

// ListByUser returns rows owned by userID.
func (r *EntityRepo[T]) ListByUser(ctx context.Context, userID uuid.UUID) ([]T, error) {
	rows, err := r.db.Pool.Query(ctx, r.sel, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []T
	for rows.Next() {
		v, err := r.t.Scan(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// ApplyChanges writes deletes, updates and inserts in one transaction.
func (r *EntityRepo[T]) ApplyChanges(ctx context.Context, userID uuid.UUID, cs repository.ChangeSet[T]) error {
	if cs.Empty() {
		return nil
	}
	return r.db.inTx(ctx, func(tx pgx.Tx) error {
		for _, id := range cs.Deletes {
			if _, err := tx.Exec(ctx, r.del, id, userID); err != nil {
				return fmt.Errorf("delete %s %s: %w", r.t.Name, id, err)
			}
		}
		for _, v := range cs.Updates {
			vals := r.t.Values(v)
			args := make([]any, 0, len(vals)+1)
			args = append(args, vals[1:]...)
			args = append(args, vals[0], userID)
			if _, err := tx.Exec(ctx, r.upd, args...); err != nil {
				return fmt.Errorf("update %s %v: %w", r.t.Name, vals[0], err)
			}
		}
		for _, v := range cs.Inserts {
			vals := r.t.Values(v)
			if _, err := tx.Exec(ctx, r.ins, vals...); err != nil {
				return fmt.Errorf("insert %s %v: %w", r.t.Name, vals[0], err)
			}
		}
		return nil
	})
}
