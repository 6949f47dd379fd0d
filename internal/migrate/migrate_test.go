package migrate

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUp_SQLiteIsIdempotent(t *testing.T) {
	db, err := sql.Open("sqlite3", filepath.Join(t.TempDir(), "m.db"))
	require.NoError(t, err)
	defer db.Close()

	ctx := context.Background()
	require.NoError(t, Up(ctx, db, SQLite))
	require.NoError(t, Up(ctx, db, SQLite), "second run has nothing pending")

	for _, table := range []string{"pets", "memorial_videos", "letters", "cart_items", "orders"} {
		var n int
		err := db.QueryRowContext(ctx,
			`SELECT count(*) FROM sqlite_master WHERE type = 'table' AND name = ?`, table).Scan(&n)
		require.NoError(t, err)
		assert.Equal(t, 1, n, table)
	}
}

func TestUp_UnknownBackend(t *testing.T) {
	err := Up(context.Background(), nil, Backend("mysql"))
	assert.ErrorContains(t, err, "unknown backend")
}
