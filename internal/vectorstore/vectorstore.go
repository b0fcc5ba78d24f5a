// Package vectorstore is an in-memory, named-vector point store built
// around the query surface the hybrid index needs: per-collection dense
// ANN search, per-collection sparse dot-product search, and deletes by
// point id. The dense half is served by internal/hnsw.
package vectorstore

import (
	"errors"

	"github.com/Arlen1017012857/code-index/internal/embedding"
)

// Named vector names, matching the two channels the hybrid index searches.
const (
	VectorDense  = "text-dense"
	VectorSparse = "text-sparse"
)

// ErrCollectionNotFound is returned by any operation against an
// unregistered collection name.
var ErrCollectionNotFound = errors.New("vectorstore: collection not found")

// Point is a single upserted record: a stable ID, its dense and sparse
// vectors, and an opaque payload the caller gets back on search.
type Point struct {
	ID      string
	Dense   []float32
	Sparse  embedding.SparseVector
	Payload map[string]any
}

// Query is a single named-vector search request.
type Query struct {
	Vector string // VectorDense or VectorSparse
	Dense  []float32
	Sparse embedding.SparseVector
	Limit  int
}

// ScoredPoint is a single search hit.
type ScoredPoint struct {
	ID      string
	Score   float32
	Payload map[string]any
}

// Store is the interface the hybrid index depends on. Memory is the only
// implementation; the interface exists so HybridIndex can be tested
// against a fake store independent of HNSW/inverted-index internals.
type Store interface {
	// CreateCollection registers a named collection with the given dense
	// vector width. Idempotent: re-creating an existing collection is a
	// no-op that leaves its points intact.
	CreateCollection(name string, denseDim int) error

	// Upsert inserts or replaces points by ID. Replacing a point tombstones
	// its previous vectors before indexing the new ones.
	Upsert(collection string, points []Point) error

	// Delete removes points by ID. Deleting an ID that is not present is a
	// no-op for that ID.
	Delete(collection string, ids []string) error

	// SearchBatch runs each query against collection and returns one
	// ranked result slice per query, in order.
	SearchBatch(collection string, queries []Query) ([][]ScoredPoint, error)
}
