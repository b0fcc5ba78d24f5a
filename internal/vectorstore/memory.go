package vectorstore

import (
	"fmt"
	"sort"
	"sync"

	"github.com/Arlen1017012857/code-index/internal/embedding"
	"github.com/Arlen1017012857/code-index/internal/hnsw"
)

// posting is one entry in a sparse inverted index: which point holds a
// non-zero weight at a bucket, and what that weight is.
type posting struct {
	pointID string
	value   float32
}

// collection is one named vector space: a dense HNSW graph plus a sparse
// inverted index, both addressed by the same point IDs.
type collection struct {
	mu sync.RWMutex

	denseDim int
	graph    *hnsw.Graph

	pointToHNSW map[string]uint32
	hnswToPoint map[uint32]string

	sparseIndex map[uint32][]posting
	sparseVecs  map[string]embedding.SparseVector

	payloads map[string]map[string]any
	deleted  map[string]bool
}

func newCollection(denseDim int) *collection {
	return &collection{
		denseDim:    denseDim,
		graph:       hnsw.New(hnsw.DefaultM, hnsw.DefaultEfConstruction, hnsw.DefaultEfSearch),
		pointToHNSW: make(map[string]uint32),
		hnswToPoint: make(map[uint32]string),
		sparseIndex: make(map[uint32][]posting),
		sparseVecs:  make(map[string]embedding.SparseVector),
		payloads:    make(map[string]map[string]any),
		deleted:     make(map[string]bool),
	}
}

// Memory is an in-process Store. Safe for concurrent use.
type Memory struct {
	mu          sync.RWMutex
	collections map[string]*collection
}

// NewMemory returns an empty Memory store.
func NewMemory() *Memory {
	return &Memory{collections: make(map[string]*collection)}
}

func (m *Memory) CreateCollection(name string, denseDim int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.collections[name]; ok {
		return nil
	}
	m.collections[name] = newCollection(denseDim)
	return nil
}

func (m *Memory) get(name string) (*collection, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.collections[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrCollectionNotFound, name)
	}
	return c, nil
}

func (m *Memory) Upsert(name string, points []Point) error {
	c, err := m.get(name)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	for _, p := range points {
		c.removeLocked(p.ID)

		if len(p.Dense) > 0 {
			hnswID := uint32(c.graph.Len())
			c.graph.Insert(p.Dense)
			c.pointToHNSW[p.ID] = hnswID
			c.hnswToPoint[hnswID] = p.ID
		}

		if len(p.Sparse.Indices) > 0 {
			c.sparseVecs[p.ID] = p.Sparse
			for i, idx := range p.Sparse.Indices {
				c.sparseIndex[idx] = append(c.sparseIndex[idx], posting{pointID: p.ID, value: p.Sparse.Values[i]})
			}
		}

		c.payloads[p.ID] = p.Payload
		delete(c.deleted, p.ID)
	}
	return nil
}

// removeLocked tombstones any existing vectors for id, and prunes id's
// postings out of every sparse bucket it appears in — sparseIndex is
// otherwise append-only, so a re-upsert under the same id (the watcher's
// delete-then-insert update path) would leave stale postings from the
// previous version live and unfiltered once id is cleared from deleted
// again. Callers must hold c.mu.
func (c *collection) removeLocked(id string) {
	if hnswID, ok := c.pointToHNSW[id]; ok {
		c.graph.Delete(hnswID)
	}
	if old, ok := c.sparseVecs[id]; ok {
		for _, idx := range old.Indices {
			postings := c.sparseIndex[idx]
			for i, p := range postings {
				if p.pointID == id {
					postings = append(postings[:i], postings[i+1:]...)
					break
				}
			}
			if len(postings) == 0 {
				delete(c.sparseIndex, idx)
			} else {
				c.sparseIndex[idx] = postings
			}
		}
	}
	delete(c.sparseVecs, id)
	delete(c.payloads, id)
	c.deleted[id] = true
}

func (m *Memory) Delete(name string, ids []string) error {
	c, err := m.get(name)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, id := range ids {
		c.removeLocked(id)
	}
	return nil
}

func (m *Memory) SearchBatch(name string, queries []Query) ([][]ScoredPoint, error) {
	c, err := m.get(name)
	if err != nil {
		return nil, err
	}
	c.mu.RLock()
	defer c.mu.RUnlock()

	results := make([][]ScoredPoint, len(queries))
	for i, q := range queries {
		switch q.Vector {
		case VectorDense:
			results[i] = c.searchDenseLocked(q)
		case VectorSparse:
			results[i] = c.searchSparseLocked(q)
		default:
			return nil, fmt.Errorf("vectorstore: unknown vector name %q", q.Vector)
		}
	}
	return results, nil
}

func (c *collection) searchDenseLocked(q Query) []ScoredPoint {
	hits := c.graph.Search(q.Dense, q.Limit)
	out := make([]ScoredPoint, 0, len(hits))
	for _, h := range hits {
		id, ok := c.hnswToPoint[h.ID]
		if !ok || c.deleted[id] {
			continue
		}
		out = append(out, ScoredPoint{ID: id, Score: h.Score, Payload: c.payloads[id]})
	}
	return out
}

// searchSparseLocked scores every point with at least one overlapping
// bucket with q.Sparse using a term-at-a-time accumulator, then returns
// the top Limit by dot-product score. This mirrors how an inverted-index
// sparse retriever (e.g. BM25/SPLADE postings lists) avoids scanning the
// full collection.
func (c *collection) searchSparseLocked(q Query) []ScoredPoint {
	scores := make(map[string]float32)
	for i, idx := range q.Sparse.Indices {
		qVal := q.Sparse.Values[i]
		for _, p := range c.sparseIndex[idx] {
			if c.deleted[p.pointID] {
				continue
			}
			scores[p.pointID] += qVal * p.value
		}
	}

	out := make([]ScoredPoint, 0, len(scores))
	for id, score := range scores {
		out = append(out, ScoredPoint{ID: id, Score: score, Payload: c.payloads[id]})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out
}
