package adapter

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hur-delivery/otpauth/internal/domain"
	"github.com/hur-delivery/otpauth/internal/otpauth/app"
)

type stubProfilesDB struct {
	queryRowFn func(ctx context.Context, sql string, args ...any) pgx.Row
	execFn     func(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

func (s *stubProfilesDB) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	return s.queryRowFn(ctx, sql, args...)
}

func (s *stubProfilesDB) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	return s.execFn(ctx, sql, args...)
}

var _ profilesDB = (*stubProfilesDB)(nil)

// stubRow implements pgx.Row.
type stubRow struct {
	scanFn func(dest ...any) error
}

func (r stubRow) Scan(dest ...any) error { return r.scanFn(dest...) }

var profileTime = time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)

func profileRow(id, phone string, idNumber *string, attrs string) stubRow {
	return stubRow{scanFn: func(dest ...any) error {
		*dest[0].(*string) = id
		*dest[1].(*string) = phone
		*dest[2].(*string) = "Ali"
		*dest[3].(*string) = "driver"
		*dest[4].(**string) = idNumber
		*dest[5].(*[]byte) = []byte(attrs)
		*dest[6].(*time.Time) = profileTime
		*dest[7].(*time.Time) = profileTime
		return nil
	}}
}

func TestProfileStore_FindByPhone(t *testing.T) {
	t.Run("matches any of the forms", func(t *testing.T) {
		idNumber := "A1"
		db := &stubProfilesDB{
			queryRowFn: func(_ context.Context, sql string, args ...any) pgx.Row {
				assert.Contains(t, sql, "phone = ANY($1)")
				assert.Equal(t, []string{"9647701234567", "+9647701234567"}, args[0])
				return profileRow("u-1", "+9647701234567", &idNumber, `{"city":"Baghdad"}`)
			},
		}

		p, err := NewProfileStore(db).FindByPhone(context.Background(), "9647701234567", "+9647701234567")
		require.NoError(t, err)
		assert.Equal(t, "u-1", p.ID)
		assert.Equal(t, "A1", p.IDNumber)
		assert.Equal(t, map[string]any{"city": "Baghdad"}, p.Attributes)
		assert.Equal(t, profileTime, p.CreatedAt)
	})

	t.Run("null id number stays empty", func(t *testing.T) {
		db := &stubProfilesDB{
			queryRowFn: func(context.Context, string, ...any) pgx.Row {
				return profileRow("u-1", "9647701234567", nil, `{}`)
			},
		}

		p, err := NewProfileStore(db).FindByPhone(context.Background(), "9647701234567")
		require.NoError(t, err)
		assert.Empty(t, p.IDNumber)
	})

	t.Run("no rows: ErrNotFound", func(t *testing.T) {
		db := &stubProfilesDB{
			queryRowFn: func(context.Context, string, ...any) pgx.Row {
				return stubRow{scanFn: func(...any) error { return pgx.ErrNoRows }}
			},
		}

		_, err := NewProfileStore(db).FindByPhone(context.Background(), "9647701234567")
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})
}

func TestProfileStore_GetByID(t *testing.T) {
	db := &stubProfilesDB{
		queryRowFn: func(_ context.Context, sql string, args ...any) pgx.Row {
			assert.Contains(t, sql, "WHERE id = $1")
			assert.Equal(t, "u-9", args[0])
			return stubRow{scanFn: func(...any) error { return pgx.ErrNoRows }}
		},
	}

	_, err := NewProfileStore(db).GetByID(context.Background(), "u-9")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestProfileStore_Insert(t *testing.T) {
	p := app.Profile{ID: "new", Phone: "9647701234567", Name: "Ali", CreatedAt: profileTime, UpdatedAt: profileTime}

	t.Run("inserts with conflict guard", func(t *testing.T) {
		db := &stubProfilesDB{
			execFn: func(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
				assert.Contains(t, sql, "ON CONFLICT (id) DO NOTHING")
				assert.Equal(t, "new", args[0])
				assert.Nil(t, args[4], "empty id number is stored as NULL")
				assert.JSONEq(t, `{}`, string(args[5].([]byte)))
				return pgconn.NewCommandTag("INSERT 0 1"), nil
			},
		}

		require.NoError(t, NewProfileStore(db).Insert(context.Background(), p))
	})

	t.Run("conflict: ErrAlreadyExists", func(t *testing.T) {
		db := &stubProfilesDB{
			execFn: func(context.Context, string, ...any) (pgconn.CommandTag, error) {
				return pgconn.NewCommandTag("INSERT 0 0"), nil
			},
		}

		err := NewProfileStore(db).Insert(context.Background(), p)
		assert.ErrorIs(t, err, domain.ErrAlreadyExists)
	})

	t.Run("exec error is wrapped", func(t *testing.T) {
		db := &stubProfilesDB{
			execFn: func(context.Context, string, ...any) (pgconn.CommandTag, error) {
				return pgconn.CommandTag{}, errors.New("connection reset")
			},
		}

		err := NewProfileStore(db).Insert(context.Background(), p)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "connection reset")
	})
}

func TestProfileStore_Delete(t *testing.T) {
	db := &stubProfilesDB{
		execFn: func(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
			assert.Contains(t, sql, "DELETE FROM profiles")
			assert.Equal(t, "old", args[0])
			return pgconn.NewCommandTag("DELETE 1"), nil
		},
	}

	require.NoError(t, NewProfileStore(db).Delete(context.Background(), "old"))
}
