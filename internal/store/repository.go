// Package store defines the contracts of the two collaborators the
// coordinator keeps in agreement: the relational metadata store that maps
// fingerprints to asset identifiers, and the ANN index that holds the
// vectors themselves. Implementations live in subpackages.
package store

import (
	"context"
	"fmt"
	"regexp"
)

// IndexKind is the opaque index type passed through to the index store.
type IndexKind string

const (
	IndexFlat    IndexKind = "flat"
	IndexIVFFlat IndexKind = "ivf_flat"
	IndexIVFSQ8  IndexKind = "ivf_sq8"
	IndexIVFPQ   IndexKind = "ivf_pq"
	IndexHNSW    IndexKind = "hnsw"
)

// DefaultIndexKind is used when a caller does not name one.
const DefaultIndexKind = IndexFlat

// Valid reports whether k is a known index kind.
func (k IndexKind) Valid() bool {
	switch k {
	case IndexFlat, IndexIVFFlat, IndexIVFSQ8, IndexIVFPQ, IndexHNSW:
		return true
	}
	return false
}

// MetaTableName is the registry table of the relational backend. It can not
// be used as a collection name.
const MetaTableName = "vectordb_meta"

var nameRegex = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]{0,62}$`)

// ValidateName checks that name is usable as a namespace key in both stores.
func ValidateName(name string) error {
	if !nameRegex.MatchString(name) {
		return fmt.Errorf("%w: collection name %q must match %s", ErrArgument, name, nameRegex)
	}
	if name == MetaTableName {
		return fmt.Errorf("%w: collection name %q is reserved", ErrArgument, name)
	}
	return nil
}

// Table is the metadata registration of a collection.
type Table struct {
	Name      string    `json:"name"`
	Dims      int       `json:"dimensions"`
	IndexKind IndexKind `json:"index_kind"`
}

// PairOutcome classifies one (fingerprint, asset) pair of an insert batch.
type PairOutcome int

const (
	// FingerprintNew: the fingerprint was unknown to the collection; the
	// pair is recorded and the vector must be indexed.
	FingerprintNew PairOutcome = iota
	// FingerprintExists: the fingerprint is known under other assets; the
	// pair is recorded but the vector is already indexed.
	FingerprintExists
	// PairExists: the exact pair is already recorded; nothing changes.
	PairExists
)

func (o PairOutcome) String() string {
	switch o {
	case FingerprintNew:
		return "new"
	case FingerprintExists:
		return "fingerprint_exists"
	case PairExists:
		return "pair_exists"
	}
	return fmt.Sprintf("PairOutcome(%d)", int(o))
}

// NeedsIndex reports whether the vector behind the pair must be sent to the
// index store.
func (o PairOutcome) NeedsIndex() bool { return o == FingerprintNew }

// ClassifyPairs judges each (fps[i], assetIDs[i]) pair against known, the
// assets already recorded per fingerprint. Pairs of the same batch do not see
// each other.
func ClassifyPairs(fps []uint64, assetIDs []string, known map[uint64]map[string]struct{}) []PairOutcome {
	out := make([]PairOutcome, len(fps))
	for i, fp := range fps {
		assets := known[fp]
		if _, ok := assets[assetIDs[i]]; ok {
			out[i] = PairExists
		} else if len(assets) > 0 {
			out[i] = FingerprintExists
		} else {
			out[i] = FingerprintNew
		}
	}
	return out
}

// Sample is one fingerprint with every asset recorded under it.
type Sample struct {
	Fingerprint uint64   `json:"id,string"`
	Assets      []string `json:"assets"`
}

// MetadataStore is the relational collaborator.
//
// Reads and DeleteVectorTable commit on their own. Writes that must be
// sequenced with the index store go through a MetadataTx.
type MetadataStore interface {
	// TableExists reports whether the collection's fingerprint table exists.
	TableExists(ctx context.Context, name string) (bool, error)
	// Begin opens a transaction.
	Begin(ctx context.Context) (MetadataTx, error)
	// DeleteVectorTable drops the fingerprint table and its registration.
	// Deleting an absent collection is not an error.
	DeleteVectorTable(ctx context.Context, name string) error
	// GetTable returns the registration of name, or ErrNotFound.
	GetTable(ctx context.Context, name string) (Table, error)
	// GetDimensions returns the registered dimensionality of name.
	GetDimensions(ctx context.Context, name string) (int, error)
	// GetExistingTables lists every registered collection.
	GetExistingTables(ctx context.Context) ([]string, error)
	// GetNumberOfAssets counts the recorded pairs of each named collection.
	GetNumberOfAssets(ctx context.Context, names ...string) ([]int64, error)
	// GetAssets lists the assets recorded under fp.
	GetAssets(ctx context.Context, name string, fp uint64) ([]string, error)
	// GetPointsWithAsset lists every fingerprint recorded for assetID,
	// together with all assets of those fingerprints.
	GetPointsWithAsset(ctx context.Context, name, assetID string) ([]Sample, error)
	// GetSample pages through fingerprints in ascending order.
	GetSample(ctx context.Context, name string, count, offset int) ([]Sample, error)
	// Ping verifies connectivity.
	Ping(ctx context.Context) error
	// Close releases resources.
	Close() error
}

// MetadataTx is one metadata transaction. Exactly one of Commit or Rollback
// ends it; Rollback after Commit is a no-op.
type MetadataTx interface {
	// CreateVectorTable registers name and creates its fingerprint table.
	CreateVectorTable(ctx context.Context, name string, dims int, kind IndexKind) error
	// InsertFingerprintPairs records every (fps[i], assetIDs[i]) pair that
	// is not yet present. Outcomes are in input order and are evaluated
	// against the state before any pair of the batch was written.
	InsertFingerprintPairs(ctx context.Context, name string, fps []uint64, assetIDs []string) ([]PairOutcome, error)
	Commit() error
	Rollback() error
}

// Hit is one neighbor returned by the index.
type Hit struct {
	ID       uint64
	Distance float32
}

// IndexInfo describes a physical index table.
type IndexInfo struct {
	Dims     int               `json:"dimensions"`
	Metric   string            `json:"metric_type"`
	RowCount int64             `json:"no_vectors"`
	Kind     IndexKind         `json:"index_type"`
	Params   map[string]string `json:"index_params,omitempty"`
}

// IndexStore is the ANN collaborator. Implementations must be safe for
// concurrent use; Insert is idempotent by id.
type IndexStore interface {
	TableExists(ctx context.Context, name string) (bool, error)
	CreateTable(ctx context.Context, name string, dims int, kind IndexKind) error
	// DeleteTable drops name. Deleting an absent table is not an error.
	DeleteTable(ctx context.Context, name string) error
	// Insert stores vectors[i] under ids[i] and returns the ids assigned.
	Insert(ctx context.Context, name string, vectors [][]float32, ids []uint64) ([]uint64, error)
	// Search returns, per query, up to k hits ordered closest first.
	Search(ctx context.Context, name string, queries [][]float32, k int) ([][]Hit, error)
	DescribeTable(ctx context.Context, name string) (IndexInfo, error)
	// Flush makes previously inserted vectors visible to Search.
	Flush(ctx context.Context, name string) error
	// GetVectorByID returns the stored vector, or ErrNotFound.
	GetVectorByID(ctx context.Context, name string, id uint64) ([]float32, error)
	Ping(ctx context.Context) error
	Close() error
}
