package vectorstore

import (
	"testing"

	"github.com/Arlen1017012857/code-index/internal/embedding"
)

func unitVec(dim, hot int) []float32 {
	v := make([]float32, dim)
	v[hot] = 1
	return v
}

func TestMemory_CreateCollection_Idempotent(t *testing.T) {
	m := NewMemory()
	if err := m.CreateCollection("code", 4); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := m.Upsert("code", []Point{{ID: "a", Dense: unitVec(4, 0)}}); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	// Re-creating an existing collection is a no-op and must not drop its
	// points.
	if err := m.CreateCollection("code", 4); err != nil {
		t.Fatalf("re-create: %v", err)
	}
	results, err := m.SearchBatch("code", []Query{{Vector: VectorDense, Dense: unitVec(4, 0), Limit: 1}})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(results[0]) != 1 || results[0][0].ID != "a" {
		t.Fatalf("expected point a to survive re-creation, got %v", results[0])
	}
}

func TestMemory_UnknownCollectionErrors(t *testing.T) {
	m := NewMemory()
	if _, err := m.SearchBatch("missing", nil); err == nil {
		t.Fatal("expected ErrCollectionNotFound")
	}
}

func TestMemory_DenseUpsertAndSearch(t *testing.T) {
	m := NewMemory()
	if err := m.CreateCollection("code", 4); err != nil {
		t.Fatalf("create: %v", err)
	}

	points := []Point{
		{ID: "a", Dense: unitVec(4, 0), Payload: map[string]any{"path": "a.py"}},
		{ID: "b", Dense: unitVec(4, 1), Payload: map[string]any{"path": "b.py"}},
	}
	if err := m.Upsert("code", points); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	results, err := m.SearchBatch("code", []Query{{Vector: VectorDense, Dense: unitVec(4, 0), Limit: 2}})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(results[0]) == 0 || results[0][0].ID != "a" {
		t.Fatalf("expected point a to rank first, got %v", results[0])
	}
}

func TestMemory_SparseUpsertAndSearch(t *testing.T) {
	m := NewMemory()
	if err := m.CreateCollection("code", 0); err != nil {
		t.Fatalf("create: %v", err)
	}

	points := []Point{
		{ID: "a", Sparse: embedding.SparseVector{Indices: []uint32{1, 2}, Values: []float32{1, 1}}},
		{ID: "b", Sparse: embedding.SparseVector{Indices: []uint32{2, 3}, Values: []float32{1, 1}}},
	}
	if err := m.Upsert("code", points); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	q := Query{Vector: VectorSparse, Sparse: embedding.SparseVector{Indices: []uint32{1}, Values: []float32{1}}, Limit: 5}
	results, err := m.SearchBatch("code", []Query{q})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(results[0]) != 1 || results[0][0].ID != "a" {
		t.Fatalf("expected only point a to match bucket 1, got %v", results[0])
	}
}

func TestMemory_DeleteRemovesFromBothChannels(t *testing.T) {
	m := NewMemory()
	if err := m.CreateCollection("code", 4); err != nil {
		t.Fatalf("create: %v", err)
	}

	point := Point{
		ID:     "a",
		Dense:  unitVec(4, 0),
		Sparse: embedding.SparseVector{Indices: []uint32{1}, Values: []float32{1}},
	}
	if err := m.Upsert("code", []Point{point}); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if err := m.Delete("code", []string{"a"}); err != nil {
		t.Fatalf("delete: %v", err)
	}

	denseResults, err := m.SearchBatch("code", []Query{{Vector: VectorDense, Dense: unitVec(4, 0), Limit: 5}})
	if err != nil {
		t.Fatalf("search dense: %v", err)
	}
	if len(denseResults[0]) != 0 {
		t.Errorf("expected no dense results after delete, got %v", denseResults[0])
	}

	sparseResults, err := m.SearchBatch("code", []Query{{Vector: VectorSparse, Sparse: embedding.SparseVector{Indices: []uint32{1}, Values: []float32{1}}, Limit: 5}})
	if err != nil {
		t.Fatalf("search sparse: %v", err)
	}
	if len(sparseResults[0]) != 0 {
		t.Errorf("expected no sparse results after delete, got %v", sparseResults[0])
	}
}

func TestMemory_UpsertReplacesExistingPoint(t *testing.T) {
	m := NewMemory()
	if err := m.CreateCollection("code", 4); err != nil {
		t.Fatalf("create: %v", err)
	}

	if err := m.Upsert("code", []Point{{ID: "a", Dense: unitVec(4, 0)}}); err != nil {
		t.Fatalf("upsert 1: %v", err)
	}
	if err := m.Upsert("code", []Point{{ID: "a", Dense: unitVec(4, 3)}}); err != nil {
		t.Fatalf("upsert 2: %v", err)
	}

	results, err := m.SearchBatch("code", []Query{{Vector: VectorDense, Dense: unitVec(4, 0), Limit: 5}})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	for _, r := range results[0] {
		if r.ID == "a" && r.Score > 0.5 {
			t.Errorf("expected point a's old vector to no longer match, got score %v", r.Score)
		}
	}
}

func TestMemory_UpsertReplacesStaleSparsePostings(t *testing.T) {
	m := NewMemory()
	if err := m.CreateCollection("code", 0); err != nil {
		t.Fatalf("create: %v", err)
	}

	// Re-upsert under the same id, the way HybridIndex.UpdateFile does:
	// a chunk's sparse vector moves from buckets {1,2} to buckets {3,4}.
	if err := m.Upsert("code", []Point{
		{ID: "a", Sparse: embedding.SparseVector{Indices: []uint32{1, 2}, Values: []float32{1, 1}}},
	}); err != nil {
		t.Fatalf("upsert 1: %v", err)
	}
	if err := m.Upsert("code", []Point{
		{ID: "a", Sparse: embedding.SparseVector{Indices: []uint32{3, 4}, Values: []float32{1, 1}}},
	}); err != nil {
		t.Fatalf("upsert 2: %v", err)
	}

	oldBucket, err := m.SearchBatch("code", []Query{
		{Vector: VectorSparse, Sparse: embedding.SparseVector{Indices: []uint32{1}, Values: []float32{1}}, Limit: 5},
	})
	if err != nil {
		t.Fatalf("search old bucket: %v", err)
	}
	if len(oldBucket[0]) != 0 {
		t.Errorf("expected point a's old postings to be pruned, got %v", oldBucket[0])
	}

	newBucket, err := m.SearchBatch("code", []Query{
		{Vector: VectorSparse, Sparse: embedding.SparseVector{Indices: []uint32{3}, Values: []float32{1}}, Limit: 5},
	})
	if err != nil {
		t.Fatalf("search new bucket: %v", err)
	}
	if len(newBucket[0]) != 1 || newBucket[0][0].ID != "a" {
		t.Fatalf("expected point a to match its new bucket, got %v", newBucket[0])
	}
}
