package coordinator

import "github.com/efebarandurmaz/vectordb/internal/store"

// Collection describes a collection as seen by both stores.
type Collection struct {
	Name       string          `json:"name"`
	Dimensions int             `json:"dimensions"`
	IndexKind  store.IndexKind `json:"index_kind"`
	AssetCount int64           `json:"no_assets"`
	// InIndex is false when the index store has no table for a registered
	// collection.
	InIndex bool             `json:"in_index"`
	Index   *store.IndexInfo `json:"index,omitempty"`
}

// DeleteResult reports which stores no longer hold a collection.
type DeleteResult struct {
	Name            string `json:"name"`
	MetadataDeleted bool   `json:"metadata_deleted"`
	IndexDeleted    bool   `json:"index_deleted"`
}

// Neighbor is one lookup hit. Assets is empty for an orphaned index entry.
type Neighbor struct {
	ID       uint64   `json:"id,string"`
	Distance float32  `json:"distance"`
	Assets   []string `json:"assets"`
}

// QueryResult groups the neighbors of one query vector, closest first.
type QueryResult struct {
	Fingerprint uint64     `json:"id,string"`
	Neighbors   []Neighbor `json:"neighbors"`
}

// Point is a stored vector with the assets recorded under it.
type Point struct {
	ID     uint64    `json:"id,string"`
	Vector []float32 `json:"vector"`
	Assets []string  `json:"assets"`
}
