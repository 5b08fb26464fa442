package memory

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/efebarandurmaz/vectordb/internal/store"
)

// Index is an in-process IndexStore using brute-force Euclidean distance.
//
// Inserted vectors are buffered and only become searchable after Flush, or
// after the next tick when an auto-flush interval is configured. It is safe
// for concurrent use.
type Index struct {
	mu     sync.RWMutex
	tables map[string]*indexTable

	stop chan struct{}
	done chan struct{}
}

type indexTable struct {
	dims    int
	kind    store.IndexKind
	points  map[uint64][]float32
	pending map[uint64][]float32
}

// IndexOption configures an Index.
type IndexOption func(*Index)

// WithAutoFlush flushes every table each interval.
func WithAutoFlush(interval time.Duration) IndexOption {
	return func(ix *Index) {
		if interval <= 0 {
			return
		}
		ix.stop = make(chan struct{})
		ix.done = make(chan struct{})
		go ix.flushLoop(interval)
	}
}

// NewIndex creates an empty index.
func NewIndex(opts ...IndexOption) *Index {
	ix := &Index{tables: make(map[string]*indexTable)}
	for _, opt := range opts {
		opt(ix)
	}
	return ix
}

func (ix *Index) flushLoop(interval time.Duration) {
	defer close(ix.done)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ix.stop:
			return
		case <-ticker.C:
			ix.mu.Lock()
			for _, t := range ix.tables {
				t.flush()
			}
			ix.mu.Unlock()
		}
	}
}

func (t *indexTable) flush() {
	for id, v := range t.pending {
		t.points[id] = v
	}
	clear(t.pending)
}

func (ix *Index) TableExists(_ context.Context, name string) (bool, error) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	_, ok := ix.tables[name]
	return ok, nil
}

func (ix *Index) CreateTable(_ context.Context, name string, dims int, kind store.IndexKind) error {
	if dims <= 0 {
		return fmt.Errorf("%w: dimensions must be positive, got %d", store.ErrArgument, dims)
	}
	if !kind.Valid() {
		return fmt.Errorf("%w: unknown index kind %q", store.ErrArgument, kind)
	}
	ix.mu.Lock()
	defer ix.mu.Unlock()
	if _, ok := ix.tables[name]; ok {
		return fmt.Errorf("index table %q: %w", name, store.ErrAlreadyExists)
	}
	ix.tables[name] = &indexTable{
		dims:    dims,
		kind:    kind,
		points:  make(map[uint64][]float32),
		pending: make(map[uint64][]float32),
	}
	return nil
}

func (ix *Index) DeleteTable(_ context.Context, name string) error {
	ix.mu.Lock()
	delete(ix.tables, name)
	ix.mu.Unlock()
	return nil
}

func (ix *Index) Insert(_ context.Context, name string, vectors [][]float32, ids []uint64) ([]uint64, error) {
	if len(vectors) != len(ids) {
		return nil, fmt.Errorf("%w: %d vectors, %d ids", store.ErrArgument, len(vectors), len(ids))
	}
	ix.mu.Lock()
	defer ix.mu.Unlock()
	t, ok := ix.tables[name]
	if !ok {
		return nil, store.NotFound(name)
	}
	for i, v := range vectors {
		if len(v) != t.dims {
			return nil, &store.DimensionMismatchError{Collection: name, Expected: t.dims, Actual: len(v), Position: i}
		}
	}
	for i, v := range vectors {
		cp := make([]float32, len(v))
		copy(cp, v)
		t.pending[ids[i]] = cp
	}
	return append([]uint64(nil), ids...), nil
}

func (ix *Index) Flush(_ context.Context, name string) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	t, ok := ix.tables[name]
	if !ok {
		return store.NotFound(name)
	}
	t.flush()
	return nil
}

func (ix *Index) Search(_ context.Context, name string, queries [][]float32, k int) ([][]store.Hit, error) {
	if k <= 0 {
		return nil, fmt.Errorf("%w: k must be positive, got %d", store.ErrArgument, k)
	}
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	t, ok := ix.tables[name]
	if !ok {
		return nil, store.NotFound(name)
	}

	out := make([][]store.Hit, len(queries))
	for qi, q := range queries {
		if len(q) != t.dims {
			return nil, &store.DimensionMismatchError{Collection: name, Expected: t.dims, Actual: len(q), Position: qi}
		}
		hits := make([]store.Hit, 0, len(t.points))
		for id, v := range t.points {
			hits = append(hits, store.Hit{ID: id, Distance: Euclidean(q, v)})
		}
		sort.Slice(hits, func(i, j int) bool {
			if hits[i].Distance != hits[j].Distance {
				return hits[i].Distance < hits[j].Distance
			}
			return hits[i].ID < hits[j].ID
		})
		if len(hits) > k {
			hits = hits[:k]
		}
		out[qi] = hits
	}
	return out, nil
}

func (ix *Index) DescribeTable(_ context.Context, name string) (store.IndexInfo, error) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	t, ok := ix.tables[name]
	if !ok {
		return store.IndexInfo{}, store.NotFound(name)
	}
	return store.IndexInfo{
		Dims:     t.dims,
		Metric:   "L2",
		RowCount: int64(len(t.points)),
		Kind:     t.kind,
	}, nil
}

func (ix *Index) GetVectorByID(_ context.Context, name string, id uint64) ([]float32, error) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	t, ok := ix.tables[name]
	if !ok {
		return nil, store.NotFound(name)
	}
	v, ok := t.points[id]
	if !ok {
		v, ok = t.pending[id]
	}
	if !ok {
		return nil, fmt.Errorf("point %d in %q: %w", id, name, store.ErrNotFound)
	}
	return append([]float32(nil), v...), nil
}

func (ix *Index) Ping(context.Context) error { return nil }

// Close stops the auto-flush loop, if any.
func (ix *Index) Close() error {
	if ix.stop != nil {
		close(ix.stop)
		<-ix.done
		ix.stop = nil
	}
	return nil
}

// Euclidean returns the L2 distance between a and b.
func Euclidean(a, b []float32) float32 {
	var sum float64
	for i := range a {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}
	return float32(math.Sqrt(sum))
}
