// Package index owns the hybrid (dense + sparse) search pipeline over a
// directory tree: splitting files into chunks, embedding them, keeping a
// vector store and a Merkle tree in sync, and fusing dense/sparse search
// results with Reciprocal Rank Fusion.
package index

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/Arlen1017012857/code-index/internal/chunker"
	"github.com/Arlen1017012857/code-index/internal/embedding"
	"github.com/Arlen1017012857/code-index/internal/language"
	"github.com/Arlen1017012857/code-index/internal/merkle"
	"github.com/Arlen1017012857/code-index/internal/vectorstore"
)

// collectionName is the single vectorstore collection this index uses.
const collectionName = "code-index"

// rrfAlpha is the RRF rank-damping constant (k=60, the usual choice).
const rrfAlpha = 60

// Hit is a single ranked search result.
type Hit struct {
	Path     string
	Score    float32
	FileHash string
	Text     string
	Metadata chunker.Metadata
}

// Stats summarizes the current index state.
type Stats struct {
	Files  int
	Chunks int
}

// HybridIndex owns the chunker/embedder/vectorstore/Merkle pipeline for one
// root directory.
type HybridIndex struct {
	mu sync.Mutex

	rootPath string
	tree     *merkle.Tree

	dense  embedding.Dense
	sparse embedding.Sparse
	store  vectorstore.Store

	counter   chunker.Counter
	chunkers  map[string]*chunker.Chunker
	chunkOpts chunker.Options

	// maxFileBytes skips indexing files larger than this. Zero means no
	// limit.
	maxFileBytes int64

	// chunksPerFile tracks how many chunks the last index of each relative
	// path produced, so Stats can report a running chunk count without a
	// full vectorstore scan.
	chunksPerFile map[string]int
}

// Config bundles the collaborators HybridIndex needs. Dense/Sparse/Store
// are interfaces so tests can supply fakes.
type Config struct {
	RootPath  string
	Dense     embedding.Dense
	Sparse    embedding.Sparse
	Store     vectorstore.Store
	Counter   chunker.Counter
	ChunkOpts chunker.Options

	// MaxFileKB skips indexing files larger than this many KB. Zero means
	// no limit.
	MaxFileKB int
}

// Open builds a fresh Merkle tree over RootPath, creates the vectorstore
// collection, and returns a ready-to-use HybridIndex. It does not index any
// files; call IndexFiles for that.
func Open(cfg Config) (*HybridIndex, error) {
	tree, err := merkle.Build(cfg.RootPath)
	if err != nil {
		return nil, fmt.Errorf("build merkle tree: %w", err)
	}

	if err := cfg.Store.CreateCollection(collectionName, cfg.Dense.Dim()); err != nil {
		return nil, fmt.Errorf("create collection: %w", err)
	}

	return &HybridIndex{
		rootPath:      cfg.RootPath,
		tree:          tree,
		dense:         cfg.Dense,
		sparse:        cfg.Sparse,
		store:         cfg.Store,
		counter:       cfg.Counter,
		chunkers:      make(map[string]*chunker.Chunker),
		chunkOpts:     cfg.ChunkOpts,
		maxFileBytes:  int64(cfg.MaxFileKB) * 1024,
		chunksPerFile: make(map[string]int),
	}, nil
}

// Close releases the dense embedder and token counter, if they own native
// resources.
func (idx *HybridIndex) Close() {
	if closer, ok := idx.dense.(interface{ Close() }); ok {
		closer.Close()
	}
	if closer, ok := idx.counter.(interface{ Close() }); ok {
		closer.Close()
	}
}

func (idx *HybridIndex) chunkerFor(lang string) (*chunker.Chunker, error) {
	if c, ok := idx.chunkers[lang]; ok {
		return c, nil
	}
	desc, err := language.DescriptorFor(lang)
	if err != nil {
		return nil, err
	}
	grammar, err := language.LoadGrammar(lang)
	if err != nil {
		return nil, err
	}
	c := chunker.New(desc, grammar, idx.counter, idx.chunkOpts)
	idx.chunkers[lang] = c
	return c, nil
}

// IndexFiles indexes every file the Merkle tree currently knows about, in
// one pass. Files whose extension has no registered language are skipped.
// A file that fails to index is logged to stderr and skipped; only a
// cancelled ctx stops the pass early, returning ctx's error.
func (idx *HybridIndex) IndexFiles(ctx context.Context) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	for _, path := range idx.tree.GetAllFiles() {
		if err := idx.indexOneLocked(ctx, path); err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			fmt.Fprintf(os.Stderr, "skip %s: %v\n", path, err)
		}
	}
	return nil
}

// UpdateFile re-chunks and re-embeds path, replacing any previously indexed
// chunks for it, and keeps the Merkle tree in sync. Call it after a file is
// created or modified.
func (idx *HybridIndex) UpdateFile(ctx context.Context, path string) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	if err := idx.tree.UpdateFile(path); err != nil {
		return fmt.Errorf("update merkle tree: %w", err)
	}
	return idx.indexOneLocked(ctx, path)
}

// RemoveFile deletes path's chunks from the vector store and removes its
// leaf from the Merkle tree. Call it after a file is deleted.
func (idx *HybridIndex) RemoveFile(path string) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	rel, err := filepath.Rel(idx.rootPath, path)
	if err != nil {
		return fmt.Errorf("relpath %s: %w", path, err)
	}

	if err := idx.tree.RemoveFile(path); err != nil {
		return fmt.Errorf("remove from merkle tree: %w", err)
	}

	n := idx.chunksPerFile[rel]
	ids := make([]string, n)
	for i := 0; i < n; i++ {
		ids[i] = chunkID(rel, i)
	}
	delete(idx.chunksPerFile, rel)
	if len(ids) == 0 {
		return nil
	}
	return idx.store.Delete(collectionName, ids)
}

func chunkID(relPath string, ordinal int) string {
	return fmt.Sprintf("%s_%d", relPath, ordinal)
}

// indexOneLocked chunks, embeds, and upserts a single file. Callers must
// hold idx.mu. Unsupported extensions are silently skipped.
func (idx *HybridIndex) indexOneLocked(ctx context.Context, path string) error {
	lang, ok := language.ExtensionToLanguage[filepath.Ext(path)]
	if !ok {
		return nil
	}

	rel, err := filepath.Rel(idx.rootPath, path)
	if err != nil {
		return fmt.Errorf("relpath %s: %w", path, err)
	}

	// Delete this file's previously indexed chunks before doing anything
	// else, so a shrinking chunk count, a deletion, or the file growing
	// past maxFileBytes on update never leaves stale trailing points.
	if n := idx.chunksPerFile[rel]; n > 0 {
		ids := make([]string, n)
		for i := 0; i < n; i++ {
			ids[i] = chunkID(rel, i)
		}
		if err := idx.store.Delete(collectionName, ids); err != nil {
			return fmt.Errorf("delete stale chunks for %s: %w", rel, err)
		}
	}
	delete(idx.chunksPerFile, rel)

	if idx.maxFileBytes > 0 {
		info, err := os.Stat(path)
		if err != nil {
			return fmt.Errorf("stat %s: %w", path, err)
		}
		if info.Size() > idx.maxFileBytes {
			fmt.Fprintf(os.Stderr, "skip %s: file too large (%d KB > %d KB limit)\n",
				path, info.Size()/1024, idx.maxFileBytes/1024)
			return nil
		}
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}

	c, err := idx.chunkerFor(lang)
	if err != nil {
		return err
	}

	chunks, err := c.Split(ctx, content)
	if err != nil {
		return fmt.Errorf("chunk %s: %w", path, err)
	}

	if len(chunks) == 0 {
		idx.chunksPerFile[rel] = 0
		return nil
	}

	texts := make([]string, len(chunks))
	for i, ch := range chunks {
		texts[i] = string(ch.Span.Extract(content))
	}

	denseVecs, err := idx.dense.EmbedBatch(ctx, texts)
	if err != nil {
		return fmt.Errorf("dense embed %s: %w", path, err)
	}
	sparseVecs, err := idx.sparse.EmbedBatch(ctx, texts)
	if err != nil {
		return fmt.Errorf("sparse embed %s: %w", path, err)
	}

	fileHash, _ := idx.tree.GetNodeHash(path)

	points := make([]vectorstore.Point, len(chunks))
	for i := range chunks {
		points[i] = vectorstore.Point{
			ID:     chunkID(rel, i),
			Dense:  denseVecs[i],
			Sparse: sparseVecs[i],
			Payload: map[string]any{
				"path":     rel,
				"hash":     fileHash,
				"text":     texts[i],
				"metadata": chunks[i].Metadata,
			},
		}
	}

	if err := idx.store.Upsert(collectionName, points); err != nil {
		return fmt.Errorf("upsert %s: %w", path, err)
	}
	idx.chunksPerFile[rel] = len(chunks)
	return nil
}

// Search embeds query with both models and fuses the dense and sparse
// rankings with Reciprocal Rank Fusion (alpha=60): for each point,
// score = 1/(alpha+denseRank) + 1/(alpha+sparseRank), treating an absent
// rank in either channel as +Inf (zero contribution).
func (idx *HybridIndex) Search(ctx context.Context, query string, limit int) ([]Hit, error) {
	denseVecs, err := idx.dense.EmbedBatch(ctx, []string{embedding.DenseQueryPrefix + query})
	if err != nil {
		return nil, fmt.Errorf("embed query (dense): %w", err)
	}
	sparseVecs, err := idx.sparse.EmbedBatch(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("embed query (sparse): %w", err)
	}

	fetchLimit := limit * 5
	if fetchLimit < limit {
		fetchLimit = limit
	}

	results, err := idx.store.SearchBatch(collectionName, []vectorstore.Query{
		{Vector: vectorstore.VectorDense, Dense: denseVecs[0], Limit: fetchLimit},
		{Vector: vectorstore.VectorSparse, Sparse: sparseVecs[0], Limit: fetchLimit},
	})
	if err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}

	return fuseRRF(results[0], results[1], limit), nil
}

type fusedEntry struct {
	point      vectorstore.ScoredPoint
	denseRank  int // 1-indexed; 0 means "not present"
	sparseRank int
}

func fuseRRF(dense, sparse []vectorstore.ScoredPoint, limit int) []Hit {
	entries := make(map[string]*fusedEntry)

	for rank, p := range dense {
		e, ok := entries[p.ID]
		if !ok {
			e = &fusedEntry{point: p}
			entries[p.ID] = e
		}
		e.denseRank = rank + 1
	}
	for rank, p := range sparse {
		e, ok := entries[p.ID]
		if !ok {
			e = &fusedEntry{point: p}
			entries[p.ID] = e
		}
		e.sparseRank = rank + 1
	}

	type scored struct {
		entry *fusedEntry
		score float32
	}
	all := make([]scored, 0, len(entries))
	for _, e := range entries {
		all = append(all, scored{entry: e, score: rrfScore(e.denseRank) + rrfScore(e.sparseRank)})
	}
	sort.Slice(all, func(i, j int) bool { return all[i].score > all[j].score })

	if limit > 0 && len(all) > limit {
		all = all[:limit]
	}

	hits := make([]Hit, len(all))
	for i, s := range all {
		payload := s.entry.point.Payload
		hit := Hit{Score: s.score}
		if p, ok := payload["path"].(string); ok {
			hit.Path = p
		}
		if h, ok := payload["hash"].(string); ok {
			hit.FileHash = h
		}
		if t, ok := payload["text"].(string); ok {
			hit.Text = t
		}
		if m, ok := payload["metadata"].(chunker.Metadata); ok {
			hit.Metadata = m
		}
		hits[i] = hit
	}
	return hits
}

// rrfScore returns this channel's RRF contribution for a 1-indexed rank, or
// 0 if the point did not appear in this channel at all (rank 0).
func rrfScore(rank int) float32 {
	if rank == 0 {
		return 0
	}
	return 1.0 / float32(rrfAlpha+rank)
}

// Stats reports the current file and chunk counts known to this index.
func (idx *HybridIndex) Stats() Stats {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	stats := Stats{Files: len(idx.chunksPerFile)}
	for _, n := range idx.chunksPerFile {
		stats.Chunks += n
	}
	return stats
}

// RootPath returns the directory this index was opened over.
func (idx *HybridIndex) RootPath() string { return idx.rootPath }
