package coordinator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/efebarandurmaz/vectordb/internal/fingerprint"
	"github.com/efebarandurmaz/vectordb/internal/observability"
	"github.com/efebarandurmaz/vectordb/internal/store"
)

// Insert records vectors[i] as owned by assetIDs[i] and returns the
// fingerprint of every vector in input order.
//
// The batch is atomic. Pairs are staged in one metadata transaction, vectors
// with a fingerprint new to the collection are written to the index in one
// call, and the transaction commits only after that call succeeds. An index
// failure rolls the whole batch back and returns *store.InsertionFailedError.
func (c *Coordinator) Insert(ctx context.Context, name string, vectors [][]float32, assetIDs []string) ([]uint64, error) {
	ctx, span := observability.StartInsertSpan(ctx, name, len(vectors))
	defer span.End()

	start := time.Now()
	fps, stats, err := c.insert(ctx, name, vectors, assetIDs)
	c.metrics.RecordInsert(time.Since(start), stats.recorded, stats.duplicates, stats.indexed, err)
	observability.RecordInsertResult(span, stats.recorded, stats.duplicates, stats.indexed)
	observability.RecordError(span, err)
	return fps, err
}

type insertStats struct {
	recorded   int
	duplicates int
	indexed    int
}

type pairKey struct {
	fp    uint64
	asset string
}

func (c *Coordinator) insert(ctx context.Context, name string, vectors [][]float32, assetIDs []string) ([]uint64, insertStats, error) {
	var stats insertStats
	if len(vectors) == 0 {
		return nil, stats, fmt.Errorf("%w: empty batch", store.ErrArgument)
	}
	if len(vectors) != len(assetIDs) {
		return nil, stats, fmt.Errorf("%w: %d vectors but %d asset ids", store.ErrArgument, len(vectors), len(assetIDs))
	}
	for i, id := range assetIDs {
		if id == "" {
			return nil, stats, fmt.Errorf("%w: empty asset id at position %d", store.ErrArgument, i)
		}
	}

	dims, err := c.dimensions(ctx, name)
	if err != nil {
		return nil, stats, err
	}
	if err := checkDimensions(name, dims, vectors); err != nil {
		return nil, stats, err
	}
	fps, err := fingerprint.All(vectors)
	if err != nil {
		return nil, stats, err
	}

	err = c.withTx(ctx, func(tx store.MetadataTx) error {
		outcomes, err := tx.InsertFingerprintPairs(ctx, name, fps, assetIDs)
		if err != nil {
			return err
		}

		// First occurrence wins when a fingerprint repeats within the batch.
		// A pair repeated within the batch is stored once, so later copies
		// count as duplicates.
		var newVectors [][]float32
		var newIDs []uint64
		seen := make(map[uint64]struct{})
		pairs := make(map[pairKey]struct{}, len(outcomes))
		for i, o := range outcomes {
			key := pairKey{fp: fps[i], asset: assetIDs[i]}
			if _, repeated := pairs[key]; repeated || o == store.PairExists {
				stats.duplicates++
				continue
			}
			pairs[key] = struct{}{}
			stats.recorded++
			if !o.NeedsIndex() {
				continue
			}
			if _, dup := seen[fps[i]]; dup {
				continue
			}
			seen[fps[i]] = struct{}{}
			newVectors = append(newVectors, vectors[i])
			newIDs = append(newIDs, fps[i])
		}
		if len(newIDs) == 0 {
			return nil
		}
		if _, err := c.index.Insert(ctx, name, newVectors, newIDs); err != nil {
			return &store.InsertionFailedError{Collection: name, Err: err}
		}
		stats.indexed = len(newIDs)
		return nil
	})
	if err != nil {
		if isCommitError(err) {
			if stats.indexed > 0 {
				c.logger.ErrorContext(ctx, "vectors indexed but metadata commit failed",
					"collection", name, "indexed", stats.indexed, "error", err,
					"violation", store.ErrIntegrityViolation)
			}
			err = &store.InsertionFailedError{Collection: name, Err: err}
		}
		if errors.Is(err, store.ErrNotFound) {
			c.evictDimensions(name)
		}
		return nil, insertStats{}, err
	}

	if c.flushAfterInsert && stats.indexed > 0 {
		if err := c.index.Flush(ctx, name); err != nil {
			c.logger.WarnContext(ctx, "index flush failed", "collection", name, "error", err)
		}
	}

	c.logger.DebugContext(ctx, "batch inserted",
		"collection", name,
		"vectors", len(vectors),
		"recorded", stats.recorded,
		"duplicates", stats.duplicates,
		"indexed", stats.indexed)
	return fps, stats, nil
}

// checkDimensions rejects the first vector whose length is not dims.
func checkDimensions(name string, dims int, vectors [][]float32) error {
	for i, v := range vectors {
		if len(v) != dims {
			return &store.DimensionMismatchError{Collection: name, Expected: dims, Actual: len(v), Position: i}
		}
	}
	return nil
}
