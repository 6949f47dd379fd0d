package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	pgxmock "github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/require"

	"github.com/and161185/petmem/internal/errs"
	"github.com/and161185/petmem/internal/model"
	"github.com/and161185/petmem/internal/repository"
)

func newDB(t *testing.T) (*DB, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	return &DB{Pool: mock}, mock
}

func TestEntityRepo_ApplyChanges_OK(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewEntityRepo(db, repository.LetterTable)

	ctx := context.Background()
	userID := uuid.Must(uuid.NewV4())
	gone := uuid.Must(uuid.NewV4())
	now := time.Now().UTC()
	upd := model.Letter{ID: uuid.Must(uuid.NewV4()), UserID: userID, Title: "t", Content: "c", CreatedAt: now, UpdatedAt: now, LocalRev: 2}
	ins := model.Letter{ID: uuid.Must(uuid.NewV4()), UserID: userID, Title: "n", CreatedAt: now, UpdatedAt: now}

	mock.ExpectBegin()
	mock.ExpectExec(`DELETE FROM letters WHERE id=\$1 AND user_id=\$2`).
		WithArgs(gone, userID).
		WillReturnResult(pgxmock.NewResult("DELETE", 1))
	mock.ExpectExec(`UPDATE letters SET user_id=\$1, pet_id=\$2, title=\$3, content=\$4, created_at=\$5, updated_at=\$6, local_rev=\$7 WHERE id=\$8 AND user_id=\$9`).
		WithArgs(userID, uuid.Nil, "t", "c", now, now, int64(2), upd.ID, userID).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec(`INSERT INTO letters \(id, user_id, pet_id, title, content, created_at, updated_at, local_rev\) VALUES \(\$1, \$2, \$3, \$4, \$5, \$6, \$7, \$8\)`).
		WithArgs(ins.ID, userID, uuid.Nil, "n", "", now, now, int64(0)).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	err := r.ApplyChanges(ctx, userID, repository.ChangeSet[model.Letter]{
		Inserts: []model.Letter{ins},
		Updates: []model.Letter{upd},
		Deletes: []uuid.UUID{gone},
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEntityRepo_ApplyChanges_RollbackOnError(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewEntityRepo(db, repository.PetTable)

	userID := uuid.Must(uuid.NewV4())
	gone := uuid.Must(uuid.NewV4())

	mock.ExpectBegin()
	mock.ExpectExec(`DELETE FROM pets WHERE id=\$1 AND user_id=\$2`).
		WithArgs(gone, userID).
		WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	err := r.ApplyChanges(context.Background(), userID, repository.ChangeSet[model.Pet]{Deletes: []uuid.UUID{gone}})
	require.Error(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEntityRepo_ApplyChanges_EmptyIsNoop(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewEntityRepo(db, repository.VideoTable)

	require.NoError(t, r.ApplyChanges(context.Background(), uuid.Must(uuid.NewV4()), repository.ChangeSet[model.MemorialVideo]{}))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEntityRepo_ListByUser(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewEntityRepo(db, repository.VideoTable)

	userID := uuid.Must(uuid.NewV4())
	id := uuid.Must(uuid.NewV4())
	now := time.Now().UTC()

	mock.ExpectQuery(`SELECT id, user_id, pet_id, title, status, video_url, thumbnail_url, created_at, updated_at, local_rev FROM memorial_videos WHERE user_id=\$1`).
		WithArgs(userID).
		WillReturnRows(pgxmock.NewRows(repository.VideoTable.Columns).
			AddRow(id, userID, uuid.Nil, "Goodbye", "completed", "https://v", "https://t", now, now, int64(3)))

	got, err := r.ListByUser(context.Background(), userID)
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, "Goodbye", got[0].Title)
	require.Equal(t, int64(3), got[0].LocalRev)
}

func TestCartRepo(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewCartRepo(db)
	ctx := context.Background()

	c := model.CartItem{ID: uuid.Must(uuid.NewV4()), UserID: uuid.Must(uuid.NewV4()), ProductRef: "urn", UnitPrice: 100, Quantity: 1, AddedAt: time.Now().UTC()}

	mock.ExpectExec(`INSERT INTO cart_items`).
		WithArgs(c.ID, c.UserID, "urn", "", int64(100), 1, "", c.AddedAt).
		WillReturnError(&pgconn.PgError{Code: "23505"})
	require.ErrorIs(t, r.InsertCartItem(ctx, c), errs.ErrAlreadyExists)

	mock.ExpectExec(`UPDATE cart_items SET quantity=\$1 WHERE id=\$2 AND user_id=\$3`).
		WithArgs(4, c.ID, c.UserID).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	require.ErrorIs(t, r.UpdateCartQuantity(ctx, c.UserID, c.ID, 4), errs.ErrNotFound)

	mock.ExpectExec(`DELETE FROM cart_items WHERE id=\$1 AND user_id=\$2`).
		WithArgs(c.ID, c.UserID).
		WillReturnResult(pgxmock.NewResult("DELETE", 1))
	require.NoError(t, r.RemoveCartItem(ctx, c.UserID, c.ID))

	mock.ExpectQuery(`SELECT id, user_id, product_ref, product_name, unit_price, quantity, customization, added_at FROM cart_items WHERE user_id=\$1`).
		WithArgs(c.UserID).
		WillReturnRows(pgxmock.NewRows([]string{"id", "user_id", "product_ref", "product_name", "unit_price", "quantity", "customization", "added_at"}).
			AddRow(c.ID, c.UserID, "urn", "Oak urn", int64(100), 2, "engraved", c.AddedAt))
	items, err := r.ListCart(ctx, c.UserID)
	require.NoError(t, err)
	require.Len(t, items, 1)
	require.Equal(t, 2, items[0].Quantity)
	require.Equal(t, int64(200), items[0].Subtotal())

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestOrderRepo_CreateOrderFromCart(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewOrderRepo(db)

	now := time.Now().UTC()
	o := &model.Order{
		ID:            uuid.Must(uuid.NewV4()),
		UserID:        uuid.Must(uuid.NewV4()),
		Items:         []model.OrderItem{{ProductRef: "a", UnitPrice: 100, Quantity: 1}, {ProductRef: "b", UnitPrice: 50, Quantity: 2}},
		TotalAmount:   200,
		Status:        model.OrderPending,
		PaymentStatus: model.PaymentPending,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO orders`).
		WithArgs(o.ID, o.UserID, int64(200), "pending", "pending", "", "", "", "", "", now, now).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec(`INSERT INTO order_items`).
		WithArgs(o.ID, 0, "a", "", int64(100), 1, "").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec(`INSERT INTO order_items`).
		WithArgs(o.ID, 1, "b", "", int64(50), 2, "").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec(`DELETE FROM cart_items WHERE user_id=\$1`).
		WithArgs(o.UserID).
		WillReturnResult(pgxmock.NewResult("DELETE", 2))
	mock.ExpectCommit()

	require.NoError(t, r.CreateOrderFromCart(context.Background(), o))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestOrderRepo_CreateOrderFromCart_ItemFailureRollsBack(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewOrderRepo(db)

	o := &model.Order{ID: uuid.Must(uuid.NewV4()), UserID: uuid.Must(uuid.NewV4()), Items: []model.OrderItem{{ProductRef: "a", Quantity: 1}}}

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO orders`).
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec(`INSERT INTO order_items`).
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnError(errors.New("constraint"))
	mock.ExpectRollback()

	require.Error(t, r.CreateOrderFromCart(context.Background(), o))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestOrderRepo_GetOrderNotFound(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewOrderRepo(db)

	userID, orderID := uuid.Must(uuid.NewV4()), uuid.Must(uuid.NewV4())
	mock.ExpectQuery(`FROM orders WHERE id=\$1 AND user_id=\$2`).
		WithArgs(orderID, userID).
		WillReturnError(pgx.ErrNoRows)

	_, err := r.GetOrder(context.Background(), userID, orderID)
	require.ErrorIs(t, err, errs.ErrNotFound)
}

func TestStore_Wipe(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	s := NewStore(db)

	mock.ExpectBegin()
	mock.ExpectExec(`TRUNCATE pets, memorial_videos, letters, cart_items$`).
		WillReturnResult(pgxmock.NewResult("TRUNCATE", 0))
	mock.ExpectCommit()
	require.NoError(t, s.WipeForLogin(context.Background()))

	mock.ExpectBegin()
	mock.ExpectExec(`TRUNCATE pets, memorial_videos, letters, cart_items, order_items, orders`).
		WillReturnResult(pgxmock.NewResult("TRUNCATE", 0))
	mock.ExpectCommit()
	require.NoError(t, s.WipeEverything(context.Background()))

	require.NoError(t, mock.ExpectationsWereMet())
}
