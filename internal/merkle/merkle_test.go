package merkle

import (
	"os"
	"path/filepath"
	"testing"
)

func writeTree(t *testing.T, root string, files map[string]string) {
	t.Helper()
	for rel, contents := range files {
		path := filepath.Join(root, rel)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatalf("mkdir: %v", err)
		}
		if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
			t.Fatalf("write %s: %v", rel, err)
		}
	}
}

func TestBuild_Deterministic(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{
		"a/x": "hello",
		"a/y": "world",
		"b/z": "!",
	})

	t1, err := Build(root)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	t2, err := Build(root)
	if err != nil {
		t.Fatalf("build: %v", err)
	}

	if t1.Root.Hash != t2.Root.Hash {
		t.Fatalf("root hash not deterministic: %s != %s", t1.Root.Hash, t2.Root.Hash)
	}
	if t1.Root.Hash == "" {
		t.Fatal("root hash empty")
	}
}

func TestUpdateFile_OnlyAffectedAncestorsChange(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{
		"a/x": "hello",
		"a/y": "world",
		"b/z": "!",
	})

	tree, err := Build(root)
	if err != nil {
		t.Fatalf("build: %v", err)
	}

	rootHashBefore := tree.Root.Hash
	aHashBefore, _ := tree.GetNodeHash(filepath.Join(root, "a"))
	bHashBefore, _ := tree.GetNodeHash(filepath.Join(root, "b"))

	xPath := filepath.Join(root, "a", "x")
	if err := os.WriteFile(xPath, []byte("goodbye"), 0o644); err != nil {
		t.Fatalf("rewrite x: %v", err)
	}
	if err := tree.UpdateFile(xPath); err != nil {
		t.Fatalf("update: %v", err)
	}

	if tree.Root.Hash == rootHashBefore {
		t.Error("root hash unchanged after mutating a/x")
	}
	aHashAfter, _ := tree.GetNodeHash(filepath.Join(root, "a"))
	if aHashAfter == aHashBefore {
		t.Error("a's hash unchanged after mutating a/x")
	}
	bHashAfter, _ := tree.GetNodeHash(filepath.Join(root, "b"))
	if bHashAfter != bHashBefore {
		t.Error("b's hash changed despite no mutation under b")
	}
}

func TestGetChanges_DetectsModifiedFile(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{
		"a/x": "hello",
		"a/y": "world",
	})
	before, err := Build(root)
	if err != nil {
		t.Fatalf("build: %v", err)
	}

	if err := os.WriteFile(filepath.Join(root, "a", "x"), []byte("changed"), 0o644); err != nil {
		t.Fatalf("rewrite: %v", err)
	}
	after, err := Build(root)
	if err != nil {
		t.Fatalf("build: %v", err)
	}

	changes := before.GetChanges(after)
	if len(changes) != 1 || changes[0] != filepath.Join(root, "a", "x") {
		t.Fatalf("changes = %v, want [%s]", changes, filepath.Join(root, "a", "x"))
	}
}

func TestGetChanges_DetectsAddedAndRemovedFiles(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{
		"a/x": "hello",
	})
	before, err := Build(root)
	if err != nil {
		t.Fatalf("build: %v", err)
	}

	if err := os.Remove(filepath.Join(root, "a", "x")); err != nil {
		t.Fatalf("remove: %v", err)
	}
	writeTree(t, root, map[string]string{
		"a/z": "new",
	})
	after, err := Build(root)
	if err != nil {
		t.Fatalf("build: %v", err)
	}

	changes := before.GetChanges(after)
	if len(changes) != 2 {
		t.Fatalf("expected 2 changes (removed x, added z), got %v", changes)
	}
}

func TestRemoveFile_UpdatesAncestorsAndDropsLeaf(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{
		"a/x": "hello",
		"a/y": "world",
	})
	tree, err := Build(root)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	rootHashBefore := tree.Root.Hash

	xPath := filepath.Join(root, "a", "x")
	if err := tree.RemoveFile(xPath); err != nil {
		t.Fatalf("remove: %v", err)
	}

	if tree.Root.Hash == rootHashBefore {
		t.Error("root hash unchanged after removing a/x")
	}
	if _, ok := tree.GetNodeHash(xPath); ok {
		t.Error("a/x still present after RemoveFile")
	}

	files := tree.GetAllFiles()
	for _, f := range files {
		if f == xPath {
			t.Error("a/x appears in GetAllFiles after removal")
		}
	}
}

func TestUpdateFile_IncrementalMatchesFullRebuild(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{
		"a/x": "hello",
		"a/y": "world",
		"b/z": "!",
	})
	incremental, err := Build(root)
	if err != nil {
		t.Fatalf("build: %v", err)
	}

	xPath := filepath.Join(root, "a", "x")
	if err := os.WriteFile(xPath, []byte("mutated"), 0o644); err != nil {
		t.Fatalf("rewrite: %v", err)
	}
	if err := incremental.UpdateFile(xPath); err != nil {
		t.Fatalf("update: %v", err)
	}

	fullRebuild, err := Build(root)
	if err != nil {
		t.Fatalf("build: %v", err)
	}

	if incremental.Root.Hash != fullRebuild.Root.Hash {
		t.Fatalf("incremental root hash %s != full rebuild root hash %s", incremental.Root.Hash, fullRebuild.Root.Hash)
	}
}

func TestGetAllFiles_ReturnsEveryLeaf(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{
		"a/x": "hello",
		"a/y": "world",
		"b/z": "!",
	})
	tree, err := Build(root)
	if err != nil {
		t.Fatalf("build: %v", err)
	}

	files := tree.GetAllFiles()
	if len(files) != 3 {
		t.Fatalf("expected 3 files, got %d: %v", len(files), files)
	}
}
