package watcher

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Arlen1017012857/code-index/internal/chunker"
	"github.com/Arlen1017012857/code-index/internal/embedding"
	"github.com/Arlen1017012857/code-index/internal/index"
	"github.com/Arlen1017012857/code-index/internal/vectorstore"
)

// fakeDense counts EmbedBatch calls so tests can assert how many times a
// file was actually re-indexed: UpdateFile makes exactly one dense
// EmbedBatch call per file with chunks.
type fakeDense struct{ calls *atomic.Int32 }

func (fakeDense) Dim() int { return 2 }

func (f fakeDense) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	if f.calls != nil {
		f.calls.Add(1)
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{1, 0}
	}
	return out, nil
}

type fakeCounter struct{}

func (fakeCounter) Count(text, _ string) (int, error) {
	return len(text) / 4, nil
}

func (c fakeCounter) CountSpan(span chunker.Span, buffer []byte, model string) (int, error) {
	return c.Count(string(span.Extract(buffer)), model)
}

func newTestIndex(t *testing.T, root string, calls *atomic.Int32) *index.HybridIndex {
	t.Helper()
	idx, err := index.Open(index.Config{
		RootPath:  root,
		Dense:     fakeDense{calls: calls},
		Sparse:    embedding.NewSparseHashed(),
		Store:     vectorstore.NewMemory(),
		Counter:   fakeCounter{},
		ChunkOpts: chunker.DefaultOptions(),
	})
	if err != nil {
		t.Fatalf("open index: %v", err)
	}
	return idx
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

func TestWatch_DebouncesRapidWritesToTrailingEdge(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.py")
	if err := os.WriteFile(path, []byte("def a():\n    return 1\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	var calls atomic.Int32
	idx := newTestIndex(t, dir, &calls)
	w, err := New(idx)
	if err != nil {
		t.Fatalf("new watcher: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Watch(ctx, dir)

	// Touch the file a few times in a burst; the debounce timer should only
	// fire once, after the last write, not on every individual event.
	for i := 0; i < 3; i++ {
		if err := os.WriteFile(path, []byte("def a():\n    return 1\n"), 0o644); err != nil {
			t.Fatalf("rewrite: %v", err)
		}
		time.Sleep(20 * time.Millisecond)
	}

	waitFor(t, 3*time.Second, func() bool {
		return idx.Stats().Files == 1
	})

	// Give any (incorrect) second timer a full debounce window to fire, then
	// confirm the burst collapsed into a single re-index.
	time.Sleep(DebounceDelay + 500*time.Millisecond)
	if got := calls.Load(); got != 1 {
		t.Fatalf("expected exactly 1 re-index for the burst, got %d", got)
	}
}

func TestWatch_RemoveEventDropsFileFromIndex(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.py")
	if err := os.WriteFile(path, []byte("def a():\n    return 1\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	idx := newTestIndex(t, dir, nil)
	if err := idx.IndexFiles(context.Background()); err != nil {
		t.Fatalf("index files: %v", err)
	}

	w, err := New(idx)
	if err != nil {
		t.Fatalf("new watcher: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Watch(ctx, dir)

	if err := os.Remove(path); err != nil {
		t.Fatalf("remove: %v", err)
	}

	waitFor(t, 3*time.Second, func() bool {
		return idx.Stats().Files == 0
	})
}
