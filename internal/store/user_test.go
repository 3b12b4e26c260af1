package store

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/todoauth/apiserver/types"
)

func newUserRepoWithMock(t *testing.T) (*UserRepository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewUserRepository(db), mock
}

var userColumns = []string{"id", "email", "role", "password_hash", "created_at", "updated_at"}

func TestUserCreate_Success(t *testing.T) {
	repo, mock := newUserRepoWithMock(t)

	q := `(?s)^\s*INSERT\s+INTO\s+users\s*\(email,\s*role,\s*password_hash,\s*created_at,\s*updated_at\)\s*VALUES\s*\(\$1,\s*\$2,\s*\$3,\s*\$4,\s*\$5\)\s*RETURNING\s+id\s*$`
	mock.ExpectQuery(q).
		WithArgs("a@x.com", "user", "hash", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(5))

	got, err := repo.Create(context.Background(), types.User{Email: "a@x.com", Role: "user", PasswordHash: "hash"})
	require.NoError(t, err)
	assert.Equal(t, 5, got.ID)
	assert.Equal(t, "a@x.com", got.Email)
	assert.False(t, got.CreatedAt.IsZero())
	assert.Equal(t, got.CreatedAt, got.UpdatedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUserCreate_DuplicateEmail(t *testing.T) {
	repo, mock := newUserRepoWithMock(t)

	mock.ExpectQuery(`INSERT\s+INTO\s+users`).
		WillReturnError(&pq.Error{Code: "23505", Message: "duplicate key value violates unique constraint"})

	_, err := repo.Create(context.Background(), types.User{Email: "a@x.com", Role: "user", PasswordHash: "hash"})
	assert.ErrorIs(t, err, ErrDuplicate)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUserCreate_DBErrorIsWrapped(t *testing.T) {
	repo, mock := newUserRepoWithMock(t)

	mock.ExpectQuery(`INSERT\s+INTO\s+users`).WillReturnError(errors.New("db down"))

	_, err := repo.Create(context.Background(), types.User{Email: "a@x.com"})
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrDuplicate)
	assert.Contains(t, err.Error(), "insert user")
	assert.Contains(t, err.Error(), "db down")
}

func TestUserGetByEmail_Found(t *testing.T) {
	repo, mock := newUserRepoWithMock(t)
	now := time.Now().UTC()

	q := `(?s)^\s*SELECT\s+id,\s*email,\s*role,\s*password_hash,\s*created_at,\s*updated_at\s+FROM\s+users\s+WHERE\s+email\s*=\s*\$1\s*$`
	mock.ExpectQuery(q).
		WithArgs("a@x.com").
		WillReturnRows(sqlmock.NewRows(userColumns).AddRow(3, "a@x.com", "admin", "hash", now, now))

	got, err := repo.GetByEmail(context.Background(), "a@x.com")
	require.NoError(t, err)
	assert.Equal(t, 3, got.ID)
	assert.Equal(t, "admin", got.Role)
	assert.Equal(t, "hash", got.PasswordHash)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUserGetByEmail_NotFound(t *testing.T) {
	repo, mock := newUserRepoWithMock(t)

	mock.ExpectQuery(`FROM\s+users\s+WHERE\s+email`).
		WithArgs("missing@x.com").
		WillReturnError(sql.ErrNoRows)

	_, err := repo.GetByEmail(context.Background(), "missing@x.com")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestUserGetByID_Found(t *testing.T) {
	repo, mock := newUserRepoWithMock(t)
	now := time.Now().UTC()

	mock.ExpectQuery(`FROM\s+users\s+WHERE\s+id\s*=\s*\$1`).
		WithArgs(9).
		WillReturnRows(sqlmock.NewRows(userColumns).AddRow(9, "b@x.com", "user", "hash", now, now))

	got, err := repo.GetByID(context.Background(), 9)
	require.NoError(t, err)
	assert.Equal(t, "b@x.com", got.Email)
}

func TestUserGetByID_DBError(t *testing.T) {
	repo, mock := newUserRepoWithMock(t)

	mock.ExpectQuery(`FROM\s+users\s+WHERE\s+id`).WillReturnError(errors.New("conn reset"))

	_, err := repo.GetByID(context.Background(), 9)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNotFound)
	assert.Contains(t, err.Error(), "select user")
}
