// Package postgres implements the metadata store on PostgreSQL.
//
// Every collection is a table of (vector_hash, asset_id) pairs keyed on both
// columns. The registry table vectordb_meta records the dimensionality and
// index kind of each collection.
package postgres

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strings"

	"github.com/lib/pq"

	"github.com/efebarandurmaz/vectordb/internal/retry"
	"github.com/efebarandurmaz/vectordb/internal/store"
)

const storeName = "postgres"

// Config holds connection settings.
type Config struct {
	DSN          string
	MaxOpenConns int
	Retry        retry.Policy
	ConnectRetry retry.Policy
}

// Store is a MetadataStore backed by a pooled *sql.DB. Each transaction pins
// one pooled connection; broken connections are replaced by the pool.
type Store struct {
	db      *sql.DB
	retrier *retry.Retrier
	logger  *slog.Logger
}

// Open connects, verifies connectivity under the connect retry budget and
// bootstraps the registry table.
func Open(ctx context.Context, cfg Config, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	db, err := sql.Open("postgres", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
		db.SetMaxIdleConns(cfg.MaxOpenConns)
	}

	connect := retry.New(storeName, cfg.ConnectRetry, IsTransient, logger)
	if err := connect.Exec(ctx, "connect", db.PingContext); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	s := New(db, retry.New(storeName, cfg.Retry, IsTransient, logger), logger)
	if err := s.Bootstrap(ctx); err != nil {
		db.Close()
		return nil, err
	}
	logger.Info("connected to metadata store", "backend", storeName)
	return s, nil
}

// New wraps an existing pool.
func New(db *sql.DB, retrier *retry.Retrier, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	if retrier == nil {
		retrier = retry.New(storeName, retry.DefaultPolicy(), IsTransient, logger)
	}
	return &Store{db: db, retrier: retrier, logger: logger}
}

// Bootstrap creates the registry table if it does not exist yet.
func (s *Store) Bootstrap(ctx context.Context) error {
	q := `CREATE TABLE IF NOT EXISTS ` + store.MetaTableName + ` (
		name VARCHAR(63) PRIMARY KEY,
		dims INTEGER NOT NULL,
		index_type VARCHAR(30) NOT NULL
	)`
	return s.retrier.Exec(ctx, "bootstrap", func(ctx context.Context) error {
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("create %s: %w", store.MetaTableName, err)
		}
		return nil
	})
}

// quoteIdentifier wraps a SQL identifier in double quotes and escapes any
// embedded double quotes.
func quoteIdentifier(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func table(name string) (string, error) {
	if err := store.ValidateName(name); err != nil {
		return "", err
	}
	return quoteIdentifier(name), nil
}

func (s *Store) TableExists(ctx context.Context, name string) (bool, error) {
	return retry.Do(ctx, s.retrier, "table_exists", func(ctx context.Context) (bool, error) {
		var ok bool
		err := s.db.QueryRowContext(ctx,
			`SELECT EXISTS (SELECT 1 FROM pg_tables WHERE schemaname = current_schema() AND tablename = $1)`,
			name).Scan(&ok)
		return ok, err
	})
}

func (s *Store) Begin(ctx context.Context) (store.MetadataTx, error) {
	tx, err := retry.Begin(ctx, s.retrier, "begin", func(ctx context.Context) (*sql.Tx, error) {
		return s.db.BeginTx(ctx, nil)
	})
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	return &Tx{tx: tx}, nil
}

func (s *Store) DeleteVectorTable(ctx context.Context, name string) error {
	tbl, err := table(name)
	if err != nil {
		return err
	}
	return s.retrier.Exec(ctx, "delete_table", func(ctx context.Context) error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer tx.Rollback()
		if _, err := tx.ExecContext(ctx, `DROP TABLE IF EXISTS `+tbl); err != nil {
			return fmt.Errorf("drop %s: %w", name, err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM `+store.MetaTableName+` WHERE name = $1`, name); err != nil {
			return fmt.Errorf("unregister %s: %w", name, err)
		}
		return tx.Commit()
	})
}

func (s *Store) GetTable(ctx context.Context, name string) (store.Table, error) {
	return retry.Do(ctx, s.retrier, "get_table", func(ctx context.Context) (store.Table, error) {
		t := store.Table{Name: name}
		var kind string
		err := s.db.QueryRowContext(ctx,
			`SELECT dims, index_type FROM `+store.MetaTableName+` WHERE name = $1`, name).
			Scan(&t.Dims, &kind)
		if errors.Is(err, sql.ErrNoRows) {
			return t, store.NotFound(name)
		}
		t.IndexKind = store.IndexKind(kind)
		return t, err
	})
}

func (s *Store) GetDimensions(ctx context.Context, name string) (int, error) {
	t, err := s.GetTable(ctx, name)
	if err != nil {
		return 0, err
	}
	return t.Dims, nil
}

func (s *Store) GetExistingTables(ctx context.Context) ([]string, error) {
	return retry.Do(ctx, s.retrier, "list_tables", func(ctx context.Context) ([]string, error) {
		rows, err := s.db.QueryContext(ctx, `SELECT name FROM `+store.MetaTableName+` ORDER BY name`)
		if err != nil {
			return nil, err
		}
		defer rows.Close()
		names := []string{}
		for rows.Next() {
			var name string
			if err := rows.Scan(&name); err != nil {
				return nil, err
			}
			names = append(names, name)
		}
		return names, rows.Err()
	})
}

func (s *Store) GetNumberOfAssets(ctx context.Context, names ...string) ([]int64, error) {
	counts := make([]int64, len(names))
	for i, name := range names {
		tbl, err := table(name)
		if err != nil {
			return nil, err
		}
		n, err := retry.Do(ctx, s.retrier, "count_assets", func(ctx context.Context) (int64, error) {
			var n int64
			err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM `+tbl).Scan(&n)
			return n, missingTable(name, err)
		})
		if err != nil {
			return nil, err
		}
		counts[i] = n
	}
	return counts, nil
}

func (s *Store) GetAssets(ctx context.Context, name string, fp uint64) ([]string, error) {
	tbl, err := table(name)
	if err != nil {
		return nil, err
	}
	return retry.Do(ctx, s.retrier, "get_assets", func(ctx context.Context) ([]string, error) {
		rows, err := s.db.QueryContext(ctx,
			`SELECT asset_id FROM `+tbl+` WHERE vector_hash = $1 ORDER BY asset_id`, int64(fp))
		if err != nil {
			return nil, missingTable(name, err)
		}
		defer rows.Close()
		assets := []string{}
		for rows.Next() {
			var a string
			if err := rows.Scan(&a); err != nil {
				return nil, err
			}
			assets = append(assets, a)
		}
		return assets, rows.Err()
	})
}

func (s *Store) GetPointsWithAsset(ctx context.Context, name, assetID string) ([]store.Sample, error) {
	tbl, err := table(name)
	if err != nil {
		return nil, err
	}
	q := `SELECT vector_hash, array_agg(asset_id ORDER BY asset_id) FROM ` + tbl +
		` WHERE vector_hash IN (SELECT vector_hash FROM ` + tbl + ` WHERE asset_id = $1)` +
		` GROUP BY vector_hash ORDER BY vector_hash`
	return retry.Do(ctx, s.retrier, "points_with_asset", func(ctx context.Context) ([]store.Sample, error) {
		return s.querySamples(ctx, name, q, assetID)
	})
}

func (s *Store) GetSample(ctx context.Context, name string, count, offset int) ([]store.Sample, error) {
	if count < 0 || offset < 0 {
		return nil, fmt.Errorf("%w: count and offset must not be negative", store.ErrArgument)
	}
	tbl, err := table(name)
	if err != nil {
		return nil, err
	}
	q := `SELECT vector_hash, array_agg(asset_id ORDER BY asset_id) FROM ` + tbl +
		` GROUP BY vector_hash ORDER BY vector_hash LIMIT $1 OFFSET $2`
	return retry.Do(ctx, s.retrier, "sample", func(ctx context.Context) ([]store.Sample, error) {
		return s.querySamples(ctx, name, q, count, offset)
	})
}

func (s *Store) querySamples(ctx context.Context, name, q string, args ...any) ([]store.Sample, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, missingTable(name, err)
	}
	defer rows.Close()
	out := []store.Sample{}
	for rows.Next() {
		var (
			fp     int64
			assets []string
		)
		if err := rows.Scan(&fp, pq.Array(&assets)); err != nil {
			return nil, err
		}
		out = append(out, store.Sample{Fingerprint: uint64(fp), Assets: assets})
	}
	return out, rows.Err()
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Tx is one metadata transaction pinned to a pooled connection.
type Tx struct {
	tx *sql.Tx
}

func (t *Tx) CreateVectorTable(ctx context.Context, name string, dims int, kind store.IndexKind) error {
	tbl, err := table(name)
	if err != nil {
		return err
	}
	_, err = t.tx.ExecContext(ctx,
		`INSERT INTO `+store.MetaTableName+` (name, dims, index_type) VALUES ($1, $2, $3)`,
		name, dims, string(kind))
	if err != nil {
		return fmt.Errorf("register %s: %w", name, conflict(name, err))
	}
	_, err = t.tx.ExecContext(ctx, `CREATE TABLE `+tbl+` (
		vector_hash BIGINT NOT NULL,
		asset_id TEXT NOT NULL,
		PRIMARY KEY (vector_hash, asset_id)
	)`)
	if err != nil {
		return fmt.Errorf("create table %s: %w", name, conflict(name, err))
	}
	return nil
}

func (t *Tx) InsertFingerprintPairs(ctx context.Context, name string, fps []uint64, assetIDs []string) ([]store.PairOutcome, error) {
	if len(fps) != len(assetIDs) {
		return nil, fmt.Errorf("%w: %d fingerprints, %d asset ids", store.ErrArgument, len(fps), len(assetIDs))
	}
	tbl, err := table(name)
	if err != nil {
		return nil, err
	}

	hashes := make([]int64, len(fps))
	for i, fp := range fps {
		hashes[i] = int64(fp)
	}

	rows, err := t.tx.QueryContext(ctx,
		`SELECT vector_hash, asset_id FROM `+tbl+` WHERE vector_hash = ANY($1)`, pq.Array(hashes))
	if err != nil {
		return nil, missingTable(name, err)
	}
	known := map[uint64]map[string]struct{}{}
	for rows.Next() {
		var (
			h int64
			a string
		)
		if err := rows.Scan(&h, &a); err != nil {
			rows.Close()
			return nil, err
		}
		set, ok := known[uint64(h)]
		if !ok {
			set = map[string]struct{}{}
			known[uint64(h)] = set
		}
		set[a] = struct{}{}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	outcomes := store.ClassifyPairs(fps, assetIDs, known)
	var newHashes []int64
	var newAssets []string
	for i, o := range outcomes {
		if o != store.PairExists {
			newHashes = append(newHashes, hashes[i])
			newAssets = append(newAssets, assetIDs[i])
		}
	}
	if len(newHashes) == 0 {
		return outcomes, nil
	}

	_, err = t.tx.ExecContext(ctx,
		`INSERT INTO `+tbl+` (vector_hash, asset_id) SELECT * FROM unnest($1::bigint[], $2::text[]) ON CONFLICT DO NOTHING`,
		pq.Array(newHashes), pq.Array(newAssets))
	if err != nil {
		return nil, fmt.Errorf("insert pairs into %s: %w", name, missingTable(name, err))
	}
	return outcomes, nil
}

func (t *Tx) Commit() error {
	return t.tx.Commit()
}

// Rollback is a no-op once the transaction has finished.
func (t *Tx) Rollback() error {
	if err := t.tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		return err
	}
	return nil
}

const (
	codeUniqueViolation = pq.ErrorCode("23505")
	codeDuplicateTable  = pq.ErrorCode("42P07")
	codeUndefinedTable  = pq.ErrorCode("42P01")
)

func conflict(name string, err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && (pqErr.Code == codeUniqueViolation || pqErr.Code == codeDuplicateTable) {
		return fmt.Errorf("collection %q: %w", name, store.ErrAlreadyExists)
	}
	return err
}

func missingTable(name string, err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == codeUndefinedTable {
		return store.NotFound(name)
	}
	return err
}

// IsTransient reports whether err is a connection or resource failure that a
// retry on a fresh pooled connection may cure.
func IsTransient(err error) bool {
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code.Class() {
		case "08", "53":
			return true
		}
		switch pqErr.Code {
		case "40001", "40P01", "57P01", "57P02", "57P03":
			return true
		}
	}
	return false
}
