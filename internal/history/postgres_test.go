package history

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testUserID = "6f1c2b8e-4a4d-4c55-9d8e-0f6a3b2c1d00"

func newMockStore(t *testing.T) (*PostgresStore, sqlmock.Sqlmock) {
	t.Helper()
	mockDB, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	require.NoError(t, err)
	db := sqlx.NewDb(mockDB, "postgres")
	t.Cleanup(func() { _ = db.Close() })

	store, err := NewPostgresStore(db)
	require.NoError(t, err)
	return store, mock
}

var rowColumns = []string{"session_id", "user_id", "type", "content", "timestamp"}

func TestPostgresStore_EnsureSchema(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectExec(pgSchema).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(pgSessionIndex).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(pgUserIndex).WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, store.EnsureSchema(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Add(t *testing.T) {
	ctx := context.Background()

	t.Run("should insert a guest message with null user", func(t *testing.T) {
		store, mock := newMockStore(t)
		mock.ExpectExec(pgInsertQuery).
			WithArgs("s1", TypeHuman, "What is EBITDA?", nil).
			WillReturnResult(sqlmock.NewResult(1, 1))

		err := store.Add(ctx, Message{SessionID: "s1", Type: TypeHuman, Content: "What is EBITDA?"})
		require.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("should insert a user message", func(t *testing.T) {
		store, mock := newMockStore(t)
		mock.ExpectExec(pgInsertQuery).
			WithArgs("s1", TypeAI, "An earnings measure.", testUserID).
			WillReturnResult(sqlmock.NewResult(2, 1))

		err := store.Add(ctx, Message{SessionID: "s1", UserID: testUserID, Type: TypeAI, Content: "An earnings measure."})
		require.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("should validate before writing", func(t *testing.T) {
		store, mock := newMockStore(t)
		assert.ErrorIs(t, store.Add(ctx, Message{Type: TypeHuman, Content: "x"}), ErrInvalidMessage)
		assert.ErrorIs(t, store.Add(ctx, Message{SessionID: "s", Type: "system", Content: "x"}), ErrInvalidMessage)
		assert.ErrorIs(t, store.Add(ctx, Message{SessionID: "s", Type: TypeHuman}), ErrInvalidMessage)
		assert.ErrorIs(t, store.Add(ctx, Message{SessionID: "s", UserID: "bob", Type: TypeHuman, Content: "x"}), ErrInvalidUserID)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("should wrap driver errors", func(t *testing.T) {
		store, mock := newMockStore(t)
		mock.ExpectExec(pgInsertQuery).WillReturnError(errors.New("connection reset"))

		err := store.Add(ctx, Message{SessionID: "s1", Type: TypeHuman, Content: "q"})
		assert.ErrorContains(t, err, "insert chat message")
	})
}

func TestPostgresStore_Recent(t *testing.T) {
	ctx := context.Background()
	ts := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)

	t.Run("should query guest session window", func(t *testing.T) {
		store, mock := newMockStore(t)
		mock.ExpectQuery(pgRecentBySessionQuery).
			WithArgs("s1", DefaultWindow).
			WillReturnRows(sqlmock.NewRows(rowColumns).
				AddRow("s1", nil, TypeHuman, "q", ts).
				AddRow("s1", nil, TypeAI, "a", ts.Add(time.Second)))

		msgs, err := store.Recent(ctx, "s1", "", 0)
		require.NoError(t, err)
		require.Len(t, msgs, 2)
		assert.Equal(t, Message{SessionID: "s1", Type: TypeHuman, Content: "q", Timestamp: ts}, msgs[0])
		assert.Equal(t, TypeAI, msgs[1].Type)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("should query by user across sessions", func(t *testing.T) {
		store, mock := newMockStore(t)
		mock.ExpectQuery(pgRecentByUserQuery).
			WithArgs(testUserID, 3).
			WillReturnRows(sqlmock.NewRows(rowColumns).
				AddRow("s0", testUserID, TypeHuman, "old", ts))

		msgs, err := store.Recent(ctx, "s1", testUserID, 3)
		require.NoError(t, err)
		require.Len(t, msgs, 1)
		assert.Equal(t, "s0", msgs[0].SessionID)
		assert.Equal(t, testUserID, msgs[0].UserID)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("should reject malformed user ids", func(t *testing.T) {
		store, _ := newMockStore(t)
		_, err := store.Recent(ctx, "s1", "not-a-uuid", 15)
		assert.ErrorIs(t, err, ErrInvalidUserID)
	})
}

func TestPostgresStore_CountGuestMessages(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectQuery(pgGuestCountQuery).
		WithArgs("s1").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(int64(4)))

	n, err := store.CountGuestMessages(context.Background(), "s1")
	require.NoError(t, err)
	assert.Equal(t, int64(4), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Link(t *testing.T) {
	ctx := context.Background()

	t.Run("should assign the user to guest rows", func(t *testing.T) {
		store, mock := newMockStore(t)
		mock.ExpectExec(pgLinkQuery).
			WithArgs("s1", testUserID).
			WillReturnResult(sqlmock.NewResult(0, 6))

		n, err := store.Link(ctx, "s1", testUserID)
		require.NoError(t, err)
		assert.Equal(t, int64(6), n)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("should require both ids", func(t *testing.T) {
		store, _ := newMockStore(t)
		_, err := store.Link(ctx, "", testUserID)
		assert.ErrorIs(t, err, ErrInvalidMessage)
		_, err = store.Link(ctx, "s1", "")
		assert.ErrorIs(t, err, ErrInvalidMessage)
	})
}

func TestNewPostgresStore(t *testing.T) {
	_, err := NewPostgresStore(nil)
	assert.Error(t, err)
}
