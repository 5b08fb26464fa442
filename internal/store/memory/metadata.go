// Package memory provides in-process implementations of the metadata and
// index stores. They back the single-node development mode and the tests.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/efebarandurmaz/vectordb/internal/store"
)

// Metadata is an in-process MetadataStore. Transactions stage their writes
// and apply them atomically on Commit.
type Metadata struct {
	mu     sync.RWMutex
	tables map[string]*metaTable
}

type metaTable struct {
	dims  int
	kind  store.IndexKind
	pairs map[uint64]map[string]struct{}
	count int64
}

// NewMetadata creates an empty store.
func NewMetadata() *Metadata {
	return &Metadata{tables: make(map[string]*metaTable)}
}

func (m *Metadata) TableExists(_ context.Context, name string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.tables[name]
	return ok, nil
}

func (m *Metadata) Begin(context.Context) (store.MetadataTx, error) {
	return &metaTx{m: m, created: map[string]store.Table{}}, nil
}

func (m *Metadata) DeleteVectorTable(_ context.Context, name string) error {
	m.mu.Lock()
	delete(m.tables, name)
	m.mu.Unlock()
	return nil
}

func (m *Metadata) GetTable(_ context.Context, name string) (store.Table, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.tables[name]
	if !ok {
		return store.Table{}, store.NotFound(name)
	}
	return store.Table{Name: name, Dims: t.dims, IndexKind: t.kind}, nil
}

func (m *Metadata) GetDimensions(ctx context.Context, name string) (int, error) {
	t, err := m.GetTable(ctx, name)
	if err != nil {
		return 0, err
	}
	return t.Dims, nil
}

func (m *Metadata) GetExistingTables(context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.tables))
	for name := range m.tables {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func (m *Metadata) GetNumberOfAssets(_ context.Context, names ...string) ([]int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	counts := make([]int64, len(names))
	for i, name := range names {
		t, ok := m.tables[name]
		if !ok {
			return nil, store.NotFound(name)
		}
		counts[i] = t.count
	}
	return counts, nil
}

func (m *Metadata) GetAssets(_ context.Context, name string, fp uint64) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.tables[name]
	if !ok {
		return nil, store.NotFound(name)
	}
	return sortedAssets(t.pairs[fp]), nil
}

func (m *Metadata) GetPointsWithAsset(_ context.Context, name, assetID string) ([]store.Sample, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.tables[name]
	if !ok {
		return nil, store.NotFound(name)
	}
	var out []store.Sample
	for fp, assets := range t.pairs {
		if _, ok := assets[assetID]; ok {
			out = append(out, store.Sample{Fingerprint: fp, Assets: sortedAssets(assets)})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Fingerprint < out[j].Fingerprint })
	return out, nil
}

func (m *Metadata) GetSample(_ context.Context, name string, count, offset int) ([]store.Sample, error) {
	if count < 0 || offset < 0 {
		return nil, fmt.Errorf("%w: count and offset must not be negative", store.ErrArgument)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.tables[name]
	if !ok {
		return nil, store.NotFound(name)
	}
	fps := make([]uint64, 0, len(t.pairs))
	for fp := range t.pairs {
		fps = append(fps, fp)
	}
	sort.Slice(fps, func(i, j int) bool { return fps[i] < fps[j] })
	if offset >= len(fps) {
		return []store.Sample{}, nil
	}
	fps = fps[offset:]
	if count < len(fps) {
		fps = fps[:count]
	}
	out := make([]store.Sample, len(fps))
	for i, fp := range fps {
		out[i] = store.Sample{Fingerprint: fp, Assets: sortedAssets(t.pairs[fp])}
	}
	return out, nil
}

func (m *Metadata) Ping(context.Context) error { return nil }
func (m *Metadata) Close() error               { return nil }

func sortedAssets(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for a := range set {
		out = append(out, a)
	}
	sort.Strings(out)
	return out
}

var errTxDone = errors.New("transaction already finished")

type pair struct {
	fp    uint64
	asset string
}

type metaTx struct {
	m       *Metadata
	done    bool
	created map[string]store.Table
	order   []string
	pairs   map[string][]pair
}

func (tx *metaTx) CreateVectorTable(_ context.Context, name string, dims int, kind store.IndexKind) error {
	if tx.done {
		return errTxDone
	}
	tx.m.mu.RLock()
	_, exists := tx.m.tables[name]
	tx.m.mu.RUnlock()
	if _, staged := tx.created[name]; exists || staged {
		return fmt.Errorf("collection %q: %w", name, store.ErrAlreadyExists)
	}
	tx.created[name] = store.Table{Name: name, Dims: dims, IndexKind: kind}
	tx.order = append(tx.order, name)
	return nil
}

func (tx *metaTx) InsertFingerprintPairs(_ context.Context, name string, fps []uint64, assetIDs []string) ([]store.PairOutcome, error) {
	if tx.done {
		return nil, errTxDone
	}
	if len(fps) != len(assetIDs) {
		return nil, fmt.Errorf("%w: %d fingerprints, %d asset ids", store.ErrArgument, len(fps), len(assetIDs))
	}

	tx.m.mu.RLock()
	defer tx.m.mu.RUnlock()
	t, exists := tx.m.tables[name]
	if _, staged := tx.created[name]; !exists && !staged {
		return nil, store.NotFound(name)
	}

	// Existence is judged on committed rows plus rows staged earlier in this
	// transaction, never on rows of the current batch.
	known := map[uint64]map[string]struct{}{}
	for _, fp := range fps {
		if _, seen := known[fp]; seen {
			continue
		}
		set := map[string]struct{}{}
		if t != nil {
			for a := range t.pairs[fp] {
				set[a] = struct{}{}
			}
		}
		for _, p := range tx.pairs[name] {
			if p.fp == fp {
				set[p.asset] = struct{}{}
			}
		}
		known[fp] = set
	}

	outcomes := store.ClassifyPairs(fps, assetIDs, known)
	if tx.pairs == nil {
		tx.pairs = map[string][]pair{}
	}
	for i, fp := range fps {
		if outcomes[i] != store.PairExists {
			tx.pairs[name] = append(tx.pairs[name], pair{fp: fp, asset: assetIDs[i]})
		}
	}
	return outcomes, nil
}

func (tx *metaTx) Commit() error {
	if tx.done {
		return errTxDone
	}
	tx.done = true

	m := tx.m
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, name := range tx.order {
		if _, ok := m.tables[name]; ok {
			return fmt.Errorf("collection %q: %w", name, store.ErrAlreadyExists)
		}
	}
	for name := range tx.pairs {
		_, exists := m.tables[name]
		if _, staged := tx.created[name]; !exists && !staged {
			return store.NotFound(name)
		}
	}
	for _, name := range tx.order {
		c := tx.created[name]
		m.tables[name] = &metaTable{dims: c.Dims, kind: c.IndexKind, pairs: map[uint64]map[string]struct{}{}}
	}
	for name, pairs := range tx.pairs {
		t := m.tables[name]
		for _, p := range pairs {
			set, ok := t.pairs[p.fp]
			if !ok {
				set = map[string]struct{}{}
				t.pairs[p.fp] = set
			}
			if _, dup := set[p.asset]; !dup {
				set[p.asset] = struct{}{}
				t.count++
			}
		}
	}
	return nil
}

func (tx *metaTx) Rollback() error {
	if tx.done {
		return nil
	}
	tx.done = true
	tx.created = nil
	tx.pairs = nil
	return nil
}
