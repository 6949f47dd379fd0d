package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/gofrs/uuid/v5"

	"github.com/and161185/petmem/internal/repository"
)

type entityRepo[T any] struct {
	db *sql.DB
	t  repository.Table[T]
}

func (r *entityRepo[T]) ListByUser(ctx context.Context, userID uuid.UUID) ([]T, error) {
	q := fmt.Sprintf("SELECT %s FROM %s WHERE user_id=? ORDER BY created_at, id",
		strings.Join(r.t.Columns, ", "), r.t.Name)
	rows, err := r.db.QueryContext(ctx, q, userID)
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

func (r *entityRepo[T]) ApplyChanges(ctx context.Context, userID uuid.UUID, cs repository.ChangeSet[T]) error {
	if cs.Empty() {
		return nil
	}
	del := fmt.Sprintf("DELETE FROM %s WHERE id=? AND user_id=?", r.t.Name)
	ins := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		r.t.Name, strings.Join(r.t.Columns, ", "), placeholders(len(r.t.Columns)))
	sets := make([]string, 0, len(r.t.Columns)-1)
	for _, c := range r.t.Columns[1:] {
		sets = append(sets, c+"=?")
	}
	upd := fmt.Sprintf("UPDATE %s SET %s WHERE id=? AND user_id=?", r.t.Name, strings.Join(sets, ", "))

	return withTx(ctx, r.db, func(tx *sql.Tx) error {
		for _, id := range cs.Deletes {
			if _, err := tx.ExecContext(ctx, del, id, userID); err != nil {
				return fmt.Errorf("delete %s %s: %w", r.t.Name, id, err)
			}
		}
		for _, v := range cs.Updates {
			vals := r.t.Values(v)
			args := make([]any, 0, len(vals)+1)
			args = append(args, vals[1:]...)
			args = append(args, vals[0], userID)
			if _, err := tx.ExecContext(ctx, upd, args...); err != nil {
				return fmt.Errorf("update %s %v: %w", r.t.Name, vals[0], err)
			}
		}
		for _, v := range cs.Inserts {
			vals := r.t.Values(v)
			if _, err := tx.ExecContext(ctx, ins, vals...); err != nil {
				return fmt.Errorf("insert %s %v: %w", r.t.Name, vals[0], err)
			}
		}
		return nil
	})
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}
