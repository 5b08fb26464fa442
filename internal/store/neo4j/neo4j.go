// Package neo4j implements the metadata store on Neo4j.
//
// A collection is a (:VectorCollection {name, dims, index_type}) node and
// every recorded pair is a (:FingerprintEntry {collection, hash, asset_id})
// node. Uniqueness of both is enforced by constraints created on connect.
package neo4j

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/efebarandurmaz/vectordb/internal/retry"
	"github.com/efebarandurmaz/vectordb/internal/store"
)

const storeName = "neo4j"

// Config holds connection settings.
type Config struct {
	URI          string
	Username     string
	Password     string
	Database     string
	Retry        retry.Policy
	ConnectRetry retry.Policy
}

// Store is a MetadataStore backed by Neo4j.
type Store struct {
	driver   neo4j.DriverWithContext
	database string
	retrier  *retry.Retrier
	logger   *slog.Logger
}

var constraints = []string{
	"CREATE CONSTRAINT vector_collection_name IF NOT EXISTS FOR (c:VectorCollection) REQUIRE c.name IS UNIQUE",
	"CREATE CONSTRAINT fingerprint_entry_pair IF NOT EXISTS FOR (e:FingerprintEntry) REQUIRE (e.collection, e.hash, e.asset_id) IS UNIQUE",
}

// Open creates the driver, verifies connectivity and creates the uniqueness
// constraints.
func Open(ctx context.Context, cfg Config, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	driver, err := neo4j.NewDriverWithContext(cfg.URI, neo4j.BasicAuth(cfg.Username, cfg.Password, ""))
	if err != nil {
		return nil, fmt.Errorf("neo4j driver: %w", err)
	}
	connect := retry.New(storeName, cfg.ConnectRetry, IsTransient, logger)
	if err := connect.Exec(ctx, "connect", driver.VerifyConnectivity); err != nil {
		driver.Close(ctx)
		return nil, fmt.Errorf("neo4j connectivity: %w", err)
	}

	s := &Store{
		driver:   driver,
		database: cfg.Database,
		retrier:  retry.New(storeName, cfg.Retry, IsTransient, logger),
		logger:   logger,
	}
	for _, c := range constraints {
		if _, err := s.run(ctx, "bootstrap", neo4j.AccessModeWrite, c, nil); err != nil {
			driver.Close(ctx)
			return nil, fmt.Errorf("neo4j bootstrap: %w", err)
		}
	}
	logger.Info("connected to metadata store", "backend", storeName, "uri", cfg.URI)
	return s, nil
}

func (s *Store) session(ctx context.Context, mode neo4j.AccessMode) neo4j.SessionWithContext {
	return s.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: mode, DatabaseName: s.database})
}

// run executes one auto-commit query under the retry budget.
func (s *Store) run(ctx context.Context, op string, mode neo4j.AccessMode, cypher string, params map[string]any) ([]*neo4j.Record, error) {
	return retry.Do(ctx, s.retrier, op, func(ctx context.Context) ([]*neo4j.Record, error) {
		session := s.session(ctx, mode)
		defer session.Close(ctx)
		result, err := session.Run(ctx, cypher, params)
		if err != nil {
			return nil, err
		}
		return result.Collect(ctx)
	})
}

func (s *Store) TableExists(ctx context.Context, name string) (bool, error) {
	records, err := s.run(ctx, "table_exists", neo4j.AccessModeRead,
		"MATCH (c:VectorCollection {name: $name}) RETURN c.name AS name",
		map[string]any{"name": name})
	if err != nil {
		return false, err
	}
	return len(records) > 0, nil
}

func (s *Store) Begin(ctx context.Context) (store.MetadataTx, error) {
	return retry.Begin(ctx, s.retrier, "begin", func(ctx context.Context) (store.MetadataTx, error) {
		session := s.session(ctx, neo4j.AccessModeWrite)
		tx, err := session.BeginTransaction(ctx)
		if err != nil {
			session.Close(ctx)
			return nil, err
		}
		return &Tx{ctx: ctx, session: session, tx: tx}, nil
	})
}

func (s *Store) DeleteVectorTable(ctx context.Context, name string) error {
	return s.retrier.Exec(ctx, "delete_table", func(ctx context.Context) error {
		session := s.session(ctx, neo4j.AccessModeWrite)
		defer session.Close(ctx)
		_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
			params := map[string]any{"name": name}
			if _, err := tx.Run(ctx, "MATCH (e:FingerprintEntry {collection: $name}) DETACH DELETE e", params); err != nil {
				return nil, err
			}
			_, err := tx.Run(ctx, "MATCH (c:VectorCollection {name: $name}) DETACH DELETE c", params)
			return nil, err
		})
		return err
	})
}

func (s *Store) GetTable(ctx context.Context, name string) (store.Table, error) {
	records, err := s.run(ctx, "get_table", neo4j.AccessModeRead,
		"MATCH (c:VectorCollection {name: $name}) RETURN c.dims AS dims, c.index_type AS kind",
		map[string]any{"name": name})
	if err != nil {
		return store.Table{}, err
	}
	if len(records) == 0 {
		return store.Table{}, store.NotFound(name)
	}
	dims, _ := records[0].Get("dims")
	kind, _ := records[0].Get("kind")
	t := store.Table{Name: name, Dims: int(asInt64(dims))}
	if k, ok := kind.(string); ok {
		t.IndexKind = store.IndexKind(k)
	}
	return t, nil
}

func (s *Store) GetDimensions(ctx context.Context, name string) (int, error) {
	t, err := s.GetTable(ctx, name)
	if err != nil {
		return 0, err
	}
	return t.Dims, nil
}

func (s *Store) GetExistingTables(ctx context.Context) ([]string, error) {
	records, err := s.run(ctx, "list_tables", neo4j.AccessModeRead,
		"MATCH (c:VectorCollection) RETURN c.name AS name ORDER BY name", nil)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(records))
	for _, rec := range records {
		name, _ := rec.Get("name")
		names = append(names, name.(string))
	}
	return names, nil
}

func (s *Store) GetNumberOfAssets(ctx context.Context, names ...string) ([]int64, error) {
	counts := make([]int64, len(names))
	for i, name := range names {
		records, err := s.run(ctx, "count_assets", neo4j.AccessModeRead,
			"MATCH (c:VectorCollection {name: $name}) "+
				"OPTIONAL MATCH (e:FingerprintEntry {collection: $name}) RETURN count(e) AS n",
			map[string]any{"name": name})
		if err != nil {
			return nil, err
		}
		if len(records) == 0 {
			return nil, store.NotFound(name)
		}
		n, _ := records[0].Get("n")
		counts[i] = asInt64(n)
	}
	return counts, nil
}

func (s *Store) GetAssets(ctx context.Context, name string, fp uint64) ([]string, error) {
	records, err := s.run(ctx, "get_assets", neo4j.AccessModeRead,
		"MATCH (e:FingerprintEntry {collection: $name, hash: $hash}) RETURN e.asset_id AS asset ORDER BY asset",
		map[string]any{"name": name, "hash": int64(fp)})
	if err != nil {
		return nil, err
	}
	assets := make([]string, 0, len(records))
	for _, rec := range records {
		a, _ := rec.Get("asset")
		assets = append(assets, a.(string))
	}
	return assets, nil
}

func (s *Store) GetPointsWithAsset(ctx context.Context, name, assetID string) ([]store.Sample, error) {
	records, err := s.run(ctx, "points_with_asset", neo4j.AccessModeRead,
		"MATCH (a:FingerprintEntry {collection: $name, asset_id: $asset}) "+
			"MATCH (e:FingerprintEntry {collection: $name, hash: a.hash}) "+
			"WITH e.hash AS hash, e.asset_id AS asset ORDER BY hash, asset "+
			"RETURN hash, collect(asset) AS assets ORDER BY hash",
		map[string]any{"name": name, "asset": assetID})
	if err != nil {
		return nil, err
	}
	return samples(records), nil
}

func (s *Store) GetSample(ctx context.Context, name string, count, offset int) ([]store.Sample, error) {
	if count < 0 || offset < 0 {
		return nil, fmt.Errorf("%w: count and offset must not be negative", store.ErrArgument)
	}
	records, err := s.run(ctx, "sample", neo4j.AccessModeRead,
		"MATCH (e:FingerprintEntry {collection: $name}) "+
			"WITH e.hash AS hash, e.asset_id AS asset ORDER BY hash, asset "+
			"WITH hash, collect(asset) AS assets "+
			"RETURN hash, assets ORDER BY hash SKIP $offset LIMIT $count",
		map[string]any{"name": name, "count": int64(count), "offset": int64(offset)})
	if err != nil {
		return nil, err
	}
	return samples(records), nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.driver.VerifyConnectivity(ctx)
}

func (s *Store) Close() error {
	return s.driver.Close(context.Background())
}

// Tx is one explicit Neo4j transaction with its owning session.
type Tx struct {
	ctx     context.Context
	session neo4j.SessionWithContext
	tx      neo4j.ExplicitTransaction
	done    bool
}

func (t *Tx) collect(ctx context.Context, cypher string, params map[string]any) ([]*neo4j.Record, error) {
	result, err := t.tx.Run(ctx, cypher, params)
	if err != nil {
		return nil, err
	}
	return result.Collect(ctx)
}

func (t *Tx) CreateVectorTable(ctx context.Context, name string, dims int, kind store.IndexKind) error {
	_, err := t.collect(ctx,
		"CREATE (c:VectorCollection {name: $name, dims: $dims, index_type: $kind})",
		map[string]any{"name": name, "dims": int64(dims), "kind": string(kind)})
	if isConstraintViolation(err) {
		return fmt.Errorf("collection %q: %w", name, store.ErrAlreadyExists)
	}
	return err
}

func (t *Tx) InsertFingerprintPairs(ctx context.Context, name string, fps []uint64, assetIDs []string) ([]store.PairOutcome, error) {
	if len(fps) != len(assetIDs) {
		return nil, fmt.Errorf("%w: %d fingerprints, %d asset ids", store.ErrArgument, len(fps), len(assetIDs))
	}
	exists, err := t.collect(ctx, "MATCH (c:VectorCollection {name: $name}) RETURN c.name AS name",
		map[string]any{"name": name})
	if err != nil {
		return nil, err
	}
	if len(exists) == 0 {
		return nil, store.NotFound(name)
	}

	hashes := make([]any, len(fps))
	for i, fp := range fps {
		hashes[i] = int64(fp)
	}
	records, err := t.collect(ctx,
		"MATCH (e:FingerprintEntry {collection: $name}) WHERE e.hash IN $hashes "+
			"RETURN e.hash AS hash, e.asset_id AS asset",
		map[string]any{"name": name, "hashes": hashes})
	if err != nil {
		return nil, err
	}
	known := map[uint64]map[string]struct{}{}
	for _, rec := range records {
		h, _ := rec.Get("hash")
		a, _ := rec.Get("asset")
		fp := uint64(asInt64(h))
		if known[fp] == nil {
			known[fp] = map[string]struct{}{}
		}
		known[fp][a.(string)] = struct{}{}
	}

	outcomes := store.ClassifyPairs(fps, assetIDs, known)
	var rows []any
	for i, o := range outcomes {
		if o != store.PairExists {
			rows = append(rows, map[string]any{"hash": int64(fps[i]), "asset": assetIDs[i]})
		}
	}
	if len(rows) == 0 {
		return outcomes, nil
	}
	_, err = t.collect(ctx,
		"UNWIND $rows AS row MERGE (:FingerprintEntry {collection: $name, hash: row.hash, asset_id: row.asset})",
		map[string]any{"name": name, "rows": rows})
	if err != nil {
		return nil, fmt.Errorf("insert pairs into %s: %w", name, err)
	}
	return outcomes, nil
}

func (t *Tx) Commit() error {
	if t.done {
		return errors.New("transaction already finished")
	}
	t.done = true
	defer t.session.Close(t.ctx)
	return t.tx.Commit(t.ctx)
}

// Rollback is a no-op once the transaction has finished.
func (t *Tx) Rollback() error {
	if t.done {
		return nil
	}
	t.done = true
	defer t.session.Close(t.ctx)
	return t.tx.Rollback(t.ctx)
}

func samples(records []*neo4j.Record) []store.Sample {
	out := make([]store.Sample, 0, len(records))
	for _, rec := range records {
		h, _ := rec.Get("hash")
		raw, _ := rec.Get("assets")
		var assets []string
		if list, ok := raw.([]any); ok {
			for _, a := range list {
				if s, ok := a.(string); ok {
					assets = append(assets, s)
				}
			}
		}
		out = append(out, store.Sample{Fingerprint: uint64(asInt64(h)), Assets: assets})
	}
	return out
}

func asInt64(v any) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case int:
		return int64(n)
	case float64:
		return int64(n)
	}
	return 0
}

func isConstraintViolation(err error) bool {
	var ne *neo4j.Neo4jError
	return errors.As(err, &ne) && ne.Code == "Neo.ClientError.Schema.ConstraintValidationFailed"
}

// IsTransient defers to the driver's own retryability classification.
func IsTransient(err error) bool {
	return neo4j.IsRetryable(err)
}

var _ store.MetadataStore = (*Store)(nil)
