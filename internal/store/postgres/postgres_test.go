package postgres

import (
	"context"
	"errors"
	"io"
	"net"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/efebarandurmaz/vectordb/internal/retry"
	"github.com/efebarandurmaz/vectordb/internal/store"
)

var _ store.MetadataStore = (*Store)(nil)

func newMock(t *testing.T, attempts int) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	r := retry.New(storeName, retry.Policy{MaxAttempts: attempts, Delay: time.Millisecond}, IsTransient, nil)
	return New(db, r, nil), mock
}

func q(s string) string { return regexp.QuoteMeta(s) }

func connReset() error {
	return &net.OpError{Op: "read", Net: "tcp", Err: errors.New("connection reset by peer")}
}

func TestTableExists(t *testing.T) {
	s, mock := newMock(t, 1)
	mock.ExpectQuery(q(`FROM pg_tables WHERE schemaname = current_schema() AND tablename = $1`)).
		WithArgs("faces").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

	ok, err := s.TableExists(context.Background(), "faces")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetTable(t *testing.T) {
	s, mock := newMock(t, 1)
	mock.ExpectQuery(q(`SELECT dims, index_type FROM vectordb_meta WHERE name = $1`)).
		WithArgs("faces").
		WillReturnRows(sqlmock.NewRows([]string{"dims", "index_type"}).AddRow(128, "hnsw"))
	mock.ExpectQuery(q(`SELECT dims, index_type FROM vectordb_meta WHERE name = $1`)).
		WithArgs("ghost").
		WillReturnRows(sqlmock.NewRows([]string{"dims", "index_type"}))

	tbl, err := s.GetTable(context.Background(), "faces")
	require.NoError(t, err)
	assert.Equal(t, store.Table{Name: "faces", Dims: 128, IndexKind: store.IndexHNSW}, tbl)

	_, err = s.GetDimensions(context.Background(), "ghost")
	assert.ErrorIs(t, err, store.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetExistingTables_RetriesTransient(t *testing.T) {
	s, mock := newMock(t, 3)
	mock.ExpectQuery(q(`SELECT name FROM vectordb_meta ORDER BY name`)).WillReturnError(connReset())
	mock.ExpectQuery(q(`SELECT name FROM vectordb_meta ORDER BY name`)).
		WillReturnRows(sqlmock.NewRows([]string{"name"}).AddRow("cars").AddRow("faces"))

	names, err := s.GetExistingTables(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"cars", "faces"}, names)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetExistingTables_Unavailable(t *testing.T) {
	s, mock := newMock(t, 2)
	for range 2 {
		mock.ExpectQuery(q(`SELECT name FROM vectordb_meta`)).WillReturnError(connReset())
	}

	_, err := s.GetExistingTables(context.Background())
	assert.ErrorIs(t, err, store.ErrUnavailable)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetExistingTables_SyntaxErrorIsNotRetried(t *testing.T) {
	s, mock := newMock(t, 5)
	mock.ExpectQuery(q(`SELECT name FROM vectordb_meta`)).
		WillReturnError(&pq.Error{Code: "42601", Message: "syntax error"})

	_, err := s.GetExistingTables(context.Background())
	require.Error(t, err)
	assert.NotErrorIs(t, err, store.ErrUnavailable)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetNumberOfAssets(t *testing.T) {
	s, mock := newMock(t, 1)
	mock.ExpectQuery(q(`SELECT COUNT(*) FROM "faces"`)).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(7))
	mock.ExpectQuery(q(`SELECT COUNT(*) FROM "ghost"`)).
		WillReturnError(&pq.Error{Code: "42P01"})

	counts, err := s.GetNumberOfAssets(context.Background(), "faces")
	require.NoError(t, err)
	assert.Equal(t, []int64{7}, counts)

	_, err = s.GetNumberOfAssets(context.Background(), "ghost")
	assert.ErrorIs(t, err, store.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetAssets(t *testing.T) {
	s, mock := newMock(t, 1)
	mock.ExpectQuery(q(`SELECT asset_id FROM "faces" WHERE vector_hash = $1 ORDER BY asset_id`)).
		WithArgs(int64(42)).
		WillReturnRows(sqlmock.NewRows([]string{"asset_id"}).AddRow("a").AddRow("b"))

	assets, err := s.GetAssets(context.Background(), "faces", 42)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, assets)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInvalidNameNeverReachesSQL(t *testing.T) {
	s, mock := newMock(t, 1)
	_, err := s.GetAssets(context.Background(), `faces"; DROP TABLE x; --`, 1)
	assert.ErrorIs(t, err, store.ErrArgument)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetSample(t *testing.T) {
	s, mock := newMock(t, 1)
	mock.ExpectQuery(q(`GROUP BY vector_hash ORDER BY vector_hash LIMIT $1 OFFSET $2`)).
		WithArgs(2, 0).
		WillReturnRows(sqlmock.NewRows([]string{"vector_hash", "array_agg"}).
			AddRow(int64(10), []byte("{a,x}")).
			AddRow(int64(30), []byte("{x}")))

	sample, err := s.GetSample(context.Background(), "faces", 2, 0)
	require.NoError(t, err)
	assert.Equal(t, []store.Sample{
		{Fingerprint: 10, Assets: []string{"a", "x"}},
		{Fingerprint: 30, Assets: []string{"x"}},
	}, sample)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetPointsWithAsset(t *testing.T) {
	s, mock := newMock(t, 1)
	mock.ExpectQuery(q(`WHERE vector_hash IN (SELECT vector_hash FROM "faces" WHERE asset_id = $1)`)).
		WithArgs("x").
		WillReturnRows(sqlmock.NewRows([]string{"vector_hash", "array_agg"}).
			AddRow(int64(10), []byte("{a,x}")))

	points, err := s.GetPointsWithAsset(context.Background(), "faces", "x")
	require.NoError(t, err)
	assert.Equal(t, []store.Sample{{Fingerprint: 10, Assets: []string{"a", "x"}}}, points)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteVectorTable(t *testing.T) {
	s, mock := newMock(t, 1)
	mock.ExpectBegin()
	mock.ExpectExec(q(`DROP TABLE IF EXISTS "faces"`)).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(q(`DELETE FROM vectordb_meta WHERE name = $1`)).
		WithArgs("faces").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, s.DeleteVectorTable(context.Background(), "faces"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateVectorTable(t *testing.T) {
	s, mock := newMock(t, 1)
	mock.ExpectBegin()
	mock.ExpectExec(q(`INSERT INTO vectordb_meta (name, dims, index_type) VALUES ($1, $2, $3)`)).
		WithArgs("faces", 4, "flat").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(q(`CREATE TABLE "faces"`)).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	ctx := context.Background()
	tx, err := s.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.CreateVectorTable(ctx, "faces", 4, store.IndexFlat))
	require.NoError(t, tx.Commit())
	require.NoError(t, tx.Rollback(), "rollback after commit is a no-op")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBegin_TransactionOutlivesAttemptTimeout(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	policy := retry.Policy{MaxAttempts: 1, Delay: time.Millisecond, AttemptTimeout: 5 * time.Millisecond}
	s := New(db, retry.New(storeName, policy, IsTransient, nil), nil)

	mock.ExpectBegin()
	mock.ExpectCommit()

	tx, err := s.Begin(context.Background())
	require.NoError(t, err)
	time.Sleep(4 * policy.AttemptTimeout)
	require.NoError(t, tx.Commit(), "the transaction must not be bound to the begin attempt")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateVectorTable_Conflict(t *testing.T) {
	s, mock := newMock(t, 1)
	mock.ExpectBegin()
	mock.ExpectExec(q(`INSERT INTO vectordb_meta`)).
		WillReturnError(&pq.Error{Code: "23505", Message: "duplicate key value"})
	mock.ExpectRollback()

	ctx := context.Background()
	tx, err := s.Begin(ctx)
	require.NoError(t, err)
	err = tx.CreateVectorTable(ctx, "faces", 4, store.IndexFlat)
	assert.ErrorIs(t, err, store.ErrAlreadyExists)
	require.NoError(t, tx.Rollback())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertFingerprintPairs(t *testing.T) {
	s, mock := newMock(t, 1)
	mock.ExpectBegin()
	mock.ExpectQuery(q(`SELECT vector_hash, asset_id FROM "faces" WHERE vector_hash = ANY($1)`)).
		WithArgs(sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"vector_hash", "asset_id"}).AddRow(int64(1), "a"))
	mock.ExpectExec(q(`INSERT INTO "faces" (vector_hash, asset_id) SELECT * FROM unnest($1::bigint[], $2::text[]) ON CONFLICT DO NOTHING`)).
		WithArgs(sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectCommit()

	ctx := context.Background()
	tx, err := s.Begin(ctx)
	require.NoError(t, err)
	out, err := tx.InsertFingerprintPairs(ctx, "faces", []uint64{1, 1, 2}, []string{"a", "b", "c"})
	require.NoError(t, err)
	assert.Equal(t, []store.PairOutcome{store.PairExists, store.FingerprintExists, store.FingerprintNew}, out)
	require.NoError(t, tx.Commit())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertFingerprintPairs_AllKnownSkipsInsert(t *testing.T) {
	s, mock := newMock(t, 1)
	mock.ExpectBegin()
	mock.ExpectQuery(q(`WHERE vector_hash = ANY($1)`)).
		WithArgs(sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"vector_hash", "asset_id"}).AddRow(int64(5), "a"))
	mock.ExpectCommit()

	ctx := context.Background()
	tx, err := s.Begin(ctx)
	require.NoError(t, err)
	out, err := tx.InsertFingerprintPairs(ctx, "faces", []uint64{5}, []string{"a"})
	require.NoError(t, err)
	assert.Equal(t, []store.PairOutcome{store.PairExists}, out)
	require.NoError(t, tx.Commit())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestIsTransient(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"net error", connReset(), true},
		{"unexpected eof", io.ErrUnexpectedEOF, true},
		{"connection failure class", &pq.Error{Code: "08006"}, true},
		{"too many connections", &pq.Error{Code: "53300"}, true},
		{"admin shutdown", &pq.Error{Code: "57P01"}, true},
		{"serialization failure", &pq.Error{Code: "40001"}, true},
		{"unique violation", &pq.Error{Code: "23505"}, false},
		{"undefined table", &pq.Error{Code: "42P01"}, false},
		{"plain error", errors.New("boom"), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, IsTransient(tc.err))
		})
	}
}
