package coordinator

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/efebarandurmaz/vectordb/internal/fingerprint"
	"github.com/efebarandurmaz/vectordb/internal/observability"
	"github.com/efebarandurmaz/vectordb/internal/store"
)

// Lookup answers one result per query vector, in input order.
//
// In exact mode the query's own fingerprint is looked up in the metadata
// store; a known vector yields a single neighbor at distance 0 and k is
// ignored. Otherwise the index is searched for the k nearest vectors and each
// hit is resolved to its assets. A hit without assets is kept with an empty
// asset list and counted as orphaned.
func (c *Coordinator) Lookup(ctx context.Context, name string, queries [][]float32, k int, exact bool) ([]QueryResult, error) {
	ctx, span := observability.StartLookupSpan(ctx, name, len(queries), k, exact)
	defer span.End()

	start := time.Now()
	results, orphans, err := c.lookup(ctx, name, queries, k, exact)
	c.metrics.RecordLookup(time.Since(start), len(queries), orphans, err)

	neighbors := 0
	for _, r := range results {
		neighbors += len(r.Neighbors)
	}
	observability.RecordLookupResult(span, neighbors, orphans)
	observability.RecordError(span, err)
	return results, err
}

func (c *Coordinator) lookup(ctx context.Context, name string, queries [][]float32, k int, exact bool) ([]QueryResult, int, error) {
	if len(queries) == 0 {
		return nil, 0, fmt.Errorf("%w: no query vectors", store.ErrArgument)
	}
	if !exact {
		if k <= 0 {
			return nil, 0, fmt.Errorf("%w: k must be positive, got %d", store.ErrArgument, k)
		}
		if k > c.maxK {
			return nil, 0, fmt.Errorf("%w: k must not exceed %d, got %d", store.ErrArgument, c.maxK, k)
		}
	}

	dims, err := c.dimensions(ctx, name)
	if err != nil {
		return nil, 0, err
	}
	if err := checkDimensions(name, dims, queries); err != nil {
		return nil, 0, err
	}
	fps, err := fingerprint.All(queries)
	if err != nil {
		return nil, 0, err
	}

	if exact {
		results, err := c.lookupExact(ctx, name, fps)
		return results, 0, err
	}
	return c.lookupNearest(ctx, name, queries, fps, k)
}

func (c *Coordinator) lookupExact(ctx context.Context, name string, fps []uint64) ([]QueryResult, error) {
	assets, err := c.resolveAssets(ctx, name, fps)
	if err != nil {
		return nil, err
	}
	results := make([]QueryResult, len(fps))
	for i, fp := range fps {
		results[i] = QueryResult{Fingerprint: fp, Neighbors: []Neighbor{}}
		if a := assets[fp]; len(a) > 0 {
			results[i].Neighbors = append(results[i].Neighbors, Neighbor{ID: fp, Distance: 0, Assets: a})
		}
	}
	return results, nil
}

func (c *Coordinator) lookupNearest(ctx context.Context, name string, queries [][]float32, fps []uint64, k int) ([]QueryResult, int, error) {
	hits, err := c.index.Search(ctx, name, queries, k)
	if err != nil {
		return nil, 0, err
	}
	if len(hits) != len(queries) {
		return nil, 0, fmt.Errorf("index search on %s returned %d result sets for %d queries", name, len(hits), len(queries))
	}

	var ids []uint64
	for _, hs := range hits {
		for _, h := range hs {
			ids = append(ids, h.ID)
		}
	}
	assets, err := c.resolveAssets(ctx, name, ids)
	if err != nil {
		return nil, 0, err
	}

	orphans := 0
	results := make([]QueryResult, len(queries))
	for i, hs := range hits {
		neighbors := make([]Neighbor, 0, len(hs))
		for _, h := range hs {
			a := assets[h.ID]
			if len(a) == 0 {
				orphans++
				c.logger.WarnContext(ctx, "index hit has no assets",
					"collection", name, "id", h.ID, "violation", store.ErrIntegrityViolation)
				a = []string{}
			}
			neighbors = append(neighbors, Neighbor{ID: h.ID, Distance: h.Distance, Assets: a})
		}
		slices.SortStableFunc(neighbors, func(a, b Neighbor) int {
			switch {
			case a.Distance < b.Distance:
				return -1
			case a.Distance > b.Distance:
				return 1
			}
			return 0
		})
		results[i] = QueryResult{Fingerprint: fps[i], Neighbors: neighbors}
	}
	return results, orphans, nil
}

// resolveAssets fetches the assets of every distinct id with bounded
// concurrency.
func (c *Coordinator) resolveAssets(ctx context.Context, name string, ids []uint64) (map[uint64][]string, error) {
	out := make(map[uint64][]string, len(ids))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.resolveConcurrency)
	seen := make(map[uint64]struct{}, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		g.Go(func() error {
			assets, err := c.meta.GetAssets(gctx, name, id)
			if err != nil {
				return err
			}
			mu.Lock()
			out[id] = assets
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// GetPoint returns the stored vector of id and its assets.
func (c *Coordinator) GetPoint(ctx context.Context, name string, id uint64) (*Point, error) {
	if _, err := c.dimensions(ctx, name); err != nil {
		return nil, err
	}
	vec, err := c.index.GetVectorByID(ctx, name, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("point %d in %s: %w", id, name, store.ErrNotFound)
		}
		return nil, err
	}
	assets, err := c.meta.GetAssets(ctx, name, id)
	if err != nil {
		return nil, err
	}
	if assets == nil {
		assets = []string{}
	}
	return &Point{ID: id, Vector: vec, Assets: assets}, nil
}

// PointsWithAsset lists every fingerprint recorded for assetID together with
// all assets sharing it.
func (c *Coordinator) PointsWithAsset(ctx context.Context, name, assetID string) ([]store.Sample, error) {
	if assetID == "" {
		return nil, fmt.Errorf("%w: empty asset id", store.ErrArgument)
	}
	if _, err := c.dimensions(ctx, name); err != nil {
		return nil, err
	}
	return c.meta.GetPointsWithAsset(ctx, name, assetID)
}

// Sample pages through the fingerprints of name in ascending order.
func (c *Coordinator) Sample(ctx context.Context, name string, count, offset int) ([]store.Sample, error) {
	if count <= 0 || count > MaxSample {
		return nil, fmt.Errorf("%w: count must be in [1, %d], got %d", store.ErrArgument, MaxSample, count)
	}
	if offset < 0 {
		return nil, fmt.Errorf("%w: negative offset %d", store.ErrArgument, offset)
	}
	if _, err := c.dimensions(ctx, name); err != nil {
		return nil, err
	}
	return c.meta.GetSample(ctx, name, count, offset)
}
