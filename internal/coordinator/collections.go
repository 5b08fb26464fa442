package coordinator

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/efebarandurmaz/vectordb/internal/observability"
	"github.com/efebarandurmaz/vectordb/internal/store"
)

// CreateCollection registers name in the metadata store and creates its
// index table. Either both stores hold the collection afterwards or neither
// does, except when the final metadata commit fails and the compensating
// index drop fails too; that case is logged as an integrity violation.
func (c *Coordinator) CreateCollection(ctx context.Context, name string, dims int, kind store.IndexKind) (*Collection, error) {
	ctx, span := observability.StartCollectionSpan(ctx, "create", name)
	defer span.End()

	col, err := c.createCollection(ctx, name, dims, kind)
	observability.RecordError(span, err)
	c.audit.LogCollectionCreate(name, dims, string(kind), err)
	if err == nil {
		c.metrics.CollectionsCreatedTotal.Inc()
	}
	return col, err
}

func (c *Coordinator) createCollection(ctx context.Context, name string, dims int, kind store.IndexKind) (*Collection, error) {
	if err := store.ValidateName(name); err != nil {
		return nil, err
	}
	if dims <= 0 {
		return nil, fmt.Errorf("%w: dimensions must be positive, got %d", store.ErrArgument, dims)
	}
	if kind == "" {
		kind = store.DefaultIndexKind
	}
	if !kind.Valid() {
		return nil, fmt.Errorf("%w: unknown index kind %q", store.ErrArgument, kind)
	}

	_, err := c.meta.GetTable(ctx, name)
	switch {
	case err == nil:
		return nil, fmt.Errorf("collection %q: %w", name, store.ErrAlreadyExists)
	case !errors.Is(err, store.ErrNotFound):
		return nil, err
	}
	// A leftover index table is not ours to drop on rollback.
	stale, err := c.index.TableExists(ctx, name)
	if err != nil {
		return nil, err
	}
	if stale {
		c.logger.WarnContext(ctx, "index table exists without metadata registration",
			"collection", name, "error", store.ErrIntegrityViolation)
		return nil, fmt.Errorf("collection %q: index table: %w", name, store.ErrAlreadyExists)
	}

	err = c.withTx(ctx, func(tx store.MetadataTx) error {
		if err := tx.CreateVectorTable(ctx, name, dims, kind); err != nil {
			return err
		}
		if err := c.index.CreateTable(ctx, name, dims, kind); err != nil {
			return fmt.Errorf("create index table %q: %w", name, err)
		}
		return nil
	})
	if isCommitError(err) {
		if dropErr := c.index.DeleteTable(ctx, name); dropErr != nil {
			c.logger.ErrorContext(ctx, "index table left behind after failed metadata commit",
				"collection", name, "error", dropErr, "violation", store.ErrIntegrityViolation)
		}
	}
	if err != nil {
		return nil, err
	}

	c.cacheDimensions(name, dims)
	c.logger.InfoContext(ctx, "collection created", "collection", name, "dimensions", dims, "index_kind", kind)
	return &Collection{Name: name, Dimensions: dims, IndexKind: kind, InIndex: true}, nil
}

// DeleteCollection removes name from both stores. Both deletions are
// attempted even if the first fails; a failure on either side yields a
// *store.PartialDeleteError alongside the result.
func (c *Coordinator) DeleteCollection(ctx context.Context, name string) (*DeleteResult, error) {
	ctx, span := observability.StartCollectionSpan(ctx, "delete", name)
	defer span.End()

	res, err := c.deleteCollection(ctx, name)
	observability.RecordError(span, err)
	if res != nil {
		c.audit.LogCollectionDelete(name, res.MetadataDeleted, res.IndexDeleted, err)
	}
	switch {
	case err == nil:
		c.metrics.CollectionsDeletedTotal.Inc()
	case res != nil:
		c.metrics.PartialDeletesTotal.Inc()
	}
	return res, err
}

func (c *Coordinator) deleteCollection(ctx context.Context, name string) (*DeleteResult, error) {
	if err := store.ValidateName(name); err != nil {
		return nil, err
	}

	// An existence check that fails counts as present so the delete is
	// still attempted.
	inMeta, metaCheckErr := c.meta.TableExists(ctx, name)
	if metaCheckErr == nil && !inMeta {
		_, err := c.meta.GetTable(ctx, name)
		inMeta = err == nil
	}
	inIndex, indexCheckErr := c.index.TableExists(ctx, name)
	if metaCheckErr == nil && indexCheckErr == nil && !inMeta && !inIndex {
		return nil, store.NotFound(name)
	}

	c.evictDimensions(name)

	metaErr := c.meta.DeleteVectorTable(ctx, name)
	indexErr := c.index.DeleteTable(ctx, name)

	res := &DeleteResult{Name: name, MetadataDeleted: metaErr == nil, IndexDeleted: indexErr == nil}
	if metaErr != nil || indexErr != nil {
		c.logger.ErrorContext(ctx, "collection partially deleted",
			"collection", name,
			"metadata_deleted", res.MetadataDeleted,
			"index_deleted", res.IndexDeleted,
			"metadata_error", metaErr,
			"index_error", indexErr)
		return res, &store.PartialDeleteError{
			Collection:      name,
			MetadataDeleted: res.MetadataDeleted,
			IndexDeleted:    res.IndexDeleted,
			MetadataErr:     metaErr,
			IndexErr:        indexErr,
		}
	}
	c.logger.InfoContext(ctx, "collection deleted", "collection", name)
	return res, nil
}

// DescribeCollection merges the metadata registration, the asset count and
// the index description of name. A registered collection whose index table
// is missing is returned with InIndex false.
func (c *Coordinator) DescribeCollection(ctx context.Context, name string) (*Collection, error) {
	if err := store.ValidateName(name); err != nil {
		return nil, err
	}
	t, err := c.meta.GetTable(ctx, name)
	if err != nil {
		return nil, err
	}
	counts, err := c.meta.GetNumberOfAssets(ctx, name)
	if err != nil {
		return nil, err
	}
	col := &Collection{Name: t.Name, Dimensions: t.Dims, IndexKind: t.IndexKind, AssetCount: counts[0]}
	if err := c.describeIndex(ctx, col); err != nil {
		return nil, err
	}
	c.cacheDimensions(name, t.Dims)
	return col, nil
}

// ListCollections describes every registered collection, ordered by name.
func (c *Coordinator) ListCollections(ctx context.Context) ([]Collection, error) {
	names, err := c.meta.GetExistingTables(ctx)
	if err != nil {
		return nil, err
	}
	if len(names) == 0 {
		return []Collection{}, nil
	}
	counts, err := c.meta.GetNumberOfAssets(ctx, names...)
	if err != nil {
		return nil, err
	}

	cols := make([]Collection, len(names))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.resolveConcurrency)
	for i, name := range names {
		g.Go(func() error {
			t, err := c.meta.GetTable(gctx, name)
			if err != nil {
				return err
			}
			cols[i] = Collection{Name: name, Dimensions: t.Dims, IndexKind: t.IndexKind, AssetCount: counts[i]}
			return c.describeIndex(gctx, &cols[i])
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return cols, nil
}

func (c *Coordinator) describeIndex(ctx context.Context, col *Collection) error {
	info, err := c.index.DescribeTable(ctx, col.Name)
	switch {
	case err == nil:
		col.InIndex = true
		col.Index = &info
		return nil
	case errors.Is(err, store.ErrNotFound):
		c.logger.WarnContext(ctx, "collection registered without index table",
			"collection", col.Name, "violation", store.ErrIntegrityViolation)
		return nil
	default:
		return err
	}
}
