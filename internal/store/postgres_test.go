package store

import (
	"context"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newMockPostgresStore creates a PostgresStore backed by pgxmock for unit testing.
func newMockPostgresStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { mock.Close() })

	return NewPostgres(mock, "", nil, nil), mock
}

func TestPostgresStore_Scan(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT id, data FROM "companydb"."companies" WHERE id > \$1 ORDER BY id COLLATE "C" LIMIT \$2`).
		WithArgs("a", 2).
		WillReturnRows(pgxmock.NewRows([]string{"id", "data"}).
			AddRow("b", []byte(`{"name":"Beta","capital":100}`)).
			AddRow("c", []byte(`{"name":"Gamma","unknown_key":"x"}`)))

	recs, err := s.Scan(context.Background(), "a", 2)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "b", recs[0].ID)
	assert.Equal(t, int64(100), recs[0].Fields["capital"])
	assert.Equal(t, map[string]any{"name": "Gamma"}, recs[1].Fields)
	assert.Empty(t, recs[0].Dropped)
	assert.Equal(t, []string{"unknown_key"}, recs[1].Dropped)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Get_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT data FROM "companydb"."companies" WHERE id = \$1`).
		WithArgs("missing").
		WillReturnError(pgx.ErrNoRows)

	_, err := s.Get(context.Background(), "missing")
	require.Error(t, err)
	assert.True(t, eris.Is(err, ErrNotFound))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_FindByField(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`WHERE data->>\$1 = \$2`).
		WithArgs("employee_count", "12").
		WillReturnRows(pgxmock.NewRows([]string{"id", "data"}).
			AddRow("x", []byte(`{"employee_count":12}`)))

	recs, err := s.FindByField(context.Background(), "employee_count", int64(12))
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "x", recs[0].ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Commit_MixedOps(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`CREATE TEMP TABLE IF NOT EXISTS`).WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"_tmp_upsert_companydb_companies"}, []string{"id", "data", "updated_at"}).
		WillReturnResult(2)
	mock.ExpectExec(`INSERT INTO "companydb"."companies"`).WillReturnResult(pgxmock.NewResult("INSERT", 2))
	mock.ExpectExec(`TRUNCATE`).WillReturnResult(pgxmock.NewResult("TRUNCATE", 0))
	mock.ExpectExec(`UPDATE "companydb"."companies" SET data = jsonb_strip_nulls\(data \|\| \$2::jsonb\)`).
		WithArgs("p", []byte(`{"address":"東京都","fax":null}`)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec(`DELETE FROM "companydb"."companies" WHERE id = \$1`).
		WithArgs("s").
		WillReturnResult(pgxmock.NewResult("DELETE", 0))
	mock.ExpectCommit()

	err := s.Commit(context.Background(), []Op{
		Set("n1", map[string]any{"name": "A"}),
		Set("n2", map[string]any{"name": "B"}),
		Update("p", map[string]any{"address": "東京都", "fax": nil}),
		Delete("s"),
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Commit_UpdateMissing(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE`).
		WithArgs("gone", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectRollback()

	err := s.Commit(context.Background(), []Op{Update("gone", map[string]any{"name": "A"})})
	require.Error(t, err)
	assert.True(t, eris.Is(err, ErrNotFound))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Commit_UpdateCarriesLookupKeys(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE`).
		WithArgs("p", []byte(`{"corporate_number":null,"corporate_number_key":null,"name":"テスト株式会社","name_key":"テスト"}`)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectCommit()

	err := s.Commit(context.Background(), []Op{
		Update("p", map[string]any{"name": "テスト株式会社", "corporate_number": nil}),
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Commit_BeginError(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectBegin().WillReturnError(fmt.Errorf("connection refused"))

	err := s.Commit(context.Background(), []Op{Delete("a")})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "begin tx")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Commit_Empty(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	require.NoError(t, s.Commit(context.Background(), nil))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_CustomTable(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	closed := false
	s := NewPostgres(mock, "public.firms", nil, func() { closed = true })
	mock.ExpectQuery(`SELECT data FROM "public"."firms"`).
		WithArgs("a").
		WillReturnRows(pgxmock.NewRows([]string{"data"}).AddRow([]byte(`{"name":"A"}`)))

	r, err := s.Get(context.Background(), "a")
	require.NoError(t, err)
	assert.Equal(t, "A", r.Fields["name"])
	require.NoError(t, s.Close())
	assert.True(t, closed)
	assert.Equal(t, 1000, s.MaxBatchOps())
	assert.NotNil(t, s.Pool())
}
