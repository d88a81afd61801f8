package fs

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"slices"
	"testing"

	"shx-go/internal/model"
	"shx-go/internal/shx"
)

// writeTree creates files (and their parent directories) under root.
func writeTree(t *testing.T, root string, files map[string]string) {
	t.Helper()
	for rel, content := range files {
		p := filepath.Join(root, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
			t.Fatalf("mkdir: %v", err)
		}
		if err := os.WriteFile(p, []byte(content), 0644); err != nil {
			t.Fatalf("write %s: %v", rel, err)
		}
	}
}

func collect(t *testing.T, m *OSFilesystemManager, ctx context.Context, start string, opts shx.EnumerateOptions) ([]string, []error) {
	t.Helper()
	var paths []string
	var errs []error
	for id, err := range m.Enumerate(ctx, start, opts) {
		if err != nil {
			errs = append(errs, err)
			continue
		}
		paths = append(paths, id.RelPath)
	}
	return paths, errs
}

func TestOSFilesystemManager_Enumerate(t *testing.T) {
	tree := map[string]string{
		"a.txt":       "a",
		"z.txt":       "z",
		"b/c.txt":     "c",
		"b/d/e.txt":   "e",
		"b/d/f/g.txt": "g",
	}

	t.Run("breadth first in name order", func(t *testing.T) {
		t.Parallel()
		root := t.TempDir()
		writeTree(t, root, tree)

		got, errs := collect(t, NewOSFilesystemManager(nil), context.Background(), root, shx.EnumerateOptions{})
		if len(errs) != 0 {
			t.Fatalf("unexpected errors: %v", errs)
		}
		want := []string{"a.txt", "z.txt", "b/c.txt", "b/d/e.txt", "b/d/f/g.txt"}
		if !slices.Equal(got, want) {
			t.Errorf("got %v, want %v", got, want)
		}
	})

	t.Run("max depth limits descent", func(t *testing.T) {
		t.Parallel()
		root := t.TempDir()
		writeTree(t, root, tree)
		m := NewOSFilesystemManager(nil)

		got, _ := collect(t, m, context.Background(), root, shx.EnumerateOptions{MaxDepth: 1})
		if want := []string{"a.txt", "z.txt"}; !slices.Equal(got, want) {
			t.Errorf("depth 1: got %v, want %v", got, want)
		}

		got, _ = collect(t, m, context.Background(), root, shx.EnumerateOptions{MaxDepth: 2})
		if want := []string{"a.txt", "z.txt", "b/c.txt"}; !slices.Equal(got, want) {
			t.Errorf("depth 2: got %v, want %v", got, want)
		}
	})

	t.Run("include dirs yields start and subdirectories", func(t *testing.T) {
		t.Parallel()
		root := t.TempDir()
		writeTree(t, root, map[string]string{"x/y/file.txt": "1"})

		got, _ := collect(t, NewOSFilesystemManager(nil), context.Background(), root, shx.EnumerateOptions{IncludeDirs: true})
		want := []string{".", "x", "x/y", "x/y/file.txt"}
		if !slices.Equal(got, want) {
			t.Errorf("got %v, want %v", got, want)
		}
	})

	t.Run("relative paths follow base", func(t *testing.T) {
		t.Parallel()
		root := t.TempDir()
		writeTree(t, root, tree)

		got, _ := collect(t, NewOSFilesystemManager(nil), context.Background(), filepath.Join(root, "b"), shx.EnumerateOptions{Base: root, MaxDepth: 1})
		if want := []string{"b/c.txt"}; !slices.Equal(got, want) {
			t.Errorf("got %v, want %v", got, want)
		}
	})

	t.Run("file start yields only that file", func(t *testing.T) {
		t.Parallel()
		root := t.TempDir()
		writeTree(t, root, tree)

		got, _ := collect(t, NewOSFilesystemManager(nil), context.Background(), filepath.Join(root, "a.txt"), shx.EnumerateOptions{Base: root})
		if want := []string{"a.txt"}; !slices.Equal(got, want) {
			t.Errorf("got %v, want %v", got, want)
		}
	})

	t.Run("symlinks are not followed", func(t *testing.T) {
		if runtime.GOOS == "windows" {
			t.Skip("symlinks need privileges on windows")
		}
		t.Parallel()
		root := t.TempDir()
		writeTree(t, root, map[string]string{"real/file.txt": "1"})
		if err := os.Symlink(root, filepath.Join(root, "real", "loop")); err != nil {
			t.Fatal(err)
		}
		if err := os.Symlink(filepath.Join(root, "real", "file.txt"), filepath.Join(root, "link.txt")); err != nil {
			t.Fatal(err)
		}

		got, errs := collect(t, NewOSFilesystemManager(nil), context.Background(), root, shx.EnumerateOptions{})
		if len(errs) != 0 {
			t.Fatalf("unexpected errors: %v", errs)
		}
		if want := []string{"real/file.txt"}; !slices.Equal(got, want) {
			t.Errorf("got %v, want %v", got, want)
		}
	})

	t.Run("ignore file config and store are skipped", func(t *testing.T) {
		t.Parallel()
		root := t.TempDir()
		writeTree(t, root, map[string]string{
			".shxignore":         "*.log\nbuild/*\n",
			".shx-metadata.json": "{}",
			"keep.txt":           "1",
			"debug.log":          "2",
			"build/out.o":        "3",
			"cache/blob.bin":     "4",
		})

		got, _ := collect(t, NewOSFilesystemManager([]string{"cache"}), context.Background(), root, shx.EnumerateOptions{})
		if want := []string{"keep.txt"}; !slices.Equal(got, want) {
			t.Errorf("got %v, want %v", got, want)
		}
	})

	t.Run("ignore rules are read from the base, not the start", func(t *testing.T) {
		t.Parallel()
		root := t.TempDir()
		writeTree(t, root, map[string]string{
			".shxignore": "*.keep\n",
			"sub/a.keep": "1",
			"sub/b.txt":  "2",
		})

		got, _ := collect(t, NewOSFilesystemManager(nil), context.Background(), filepath.Join(root, "sub"), shx.EnumerateOptions{Base: root})
		if want := []string{"sub/b.txt"}; !slices.Equal(got, want) {
			t.Errorf("got %v, want %v", got, want)
		}
	})

	t.Run("nested managed roots are skipped on request", func(t *testing.T) {
		t.Parallel()
		root := t.TempDir()
		writeTree(t, root, map[string]string{
			"top.txt":                  "1",
			"inner/.shx-metadata.json": "{}",
			"inner/hidden.txt":         "2",
			"plain/visible.txt":        "3",
		})
		m := NewOSFilesystemManager(nil)

		got, _ := collect(t, m, context.Background(), root, shx.EnumerateOptions{StopAtNestedRoots: true})
		if want := []string{"top.txt", "plain/visible.txt"}; !slices.Equal(got, want) {
			t.Errorf("got %v, want %v", got, want)
		}

		got, _ = collect(t, m, context.Background(), root, shx.EnumerateOptions{})
		if want := []string{"top.txt", "inner/hidden.txt", "plain/visible.txt"}; !slices.Equal(got, want) {
			t.Errorf("without flag got %v, want %v", got, want)
		}
	})

	t.Run("missing start reports access error", func(t *testing.T) {
		t.Parallel()
		_, errs := collect(t, NewOSFilesystemManager(nil), context.Background(), filepath.Join(t.TempDir(), "nope"), shx.EnumerateOptions{})
		if len(errs) != 1 {
			t.Fatalf("expected 1 error, got %v", errs)
		}
		var accessErr *model.AccessError
		if !errors.As(errs[0], &accessErr) {
			t.Errorf("expected AccessError, got %T", errs[0])
		}
	})

	t.Run("cancelled context stops the walk", func(t *testing.T) {
		t.Parallel()
		root := t.TempDir()
		writeTree(t, root, tree)
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		got, errs := collect(t, NewOSFilesystemManager(nil), ctx, root, shx.EnumerateOptions{})
		if len(got) != 0 {
			t.Errorf("expected no entries, got %v", got)
		}
		if len(errs) != 1 || !errors.Is(errs[0], context.Canceled) {
			t.Errorf("expected context.Canceled, got %v", errs)
		}
	})

	t.Run("early break stops iteration", func(t *testing.T) {
		t.Parallel()
		root := t.TempDir()
		writeTree(t, root, tree)
		count := 0
		for range NewOSFilesystemManager(nil).Enumerate(context.Background(), root, shx.EnumerateOptions{}) {
			count++
			if count == 2 {
				break
			}
		}
		if count != 2 {
			t.Errorf("count = %d, want 2", count)
		}
	})
}

func TestOSFilesystemManager_Identity(t *testing.T) {
	t.Run("hard links share a stable id", func(t *testing.T) {
		if runtime.GOOS == "windows" {
			t.Skip("stable ids are path based on windows")
		}
		t.Parallel()
		root := t.TempDir()
		writeTree(t, root, map[string]string{"a.txt": "same"})
		if err := os.Link(filepath.Join(root, "a.txt"), filepath.Join(root, "b.txt")); err != nil {
			t.Fatal(err)
		}
		m := NewOSFilesystemManager(nil)

		a, err := m.Identify(filepath.Join(root, "a.txt"))
		if err != nil {
			t.Fatal(err)
		}
		b, err := m.Identify(filepath.Join(root, "b.txt"))
		if err != nil {
			t.Fatal(err)
		}
		if a.StableID == "" || a.StableID != b.StableID {
			t.Errorf("stable ids = %q, %q; want equal and non-empty", a.StableID, b.StableID)
		}
	})

	t.Run("rename keeps stable id", func(t *testing.T) {
		if runtime.GOOS == "windows" {
			t.Skip("stable ids are path based on windows")
		}
		t.Parallel()
		root := t.TempDir()
		writeTree(t, root, map[string]string{"old.txt": "x"})
		m := NewOSFilesystemManager(nil)

		before, _ := m.Identify(filepath.Join(root, "old.txt"))
		if err := os.Rename(filepath.Join(root, "old.txt"), filepath.Join(root, "new.txt")); err != nil {
			t.Fatal(err)
		}
		after, err := m.Identify(filepath.Join(root, "new.txt"))
		if err != nil {
			t.Fatal(err)
		}
		if before.StableID != after.StableID {
			t.Errorf("stable id changed across rename: %q -> %q", before.StableID, after.StableID)
		}
	})

	t.Run("created falls back to mtime", func(t *testing.T) {
		t.Parallel()
		root := t.TempDir()
		writeTree(t, root, map[string]string{"f.txt": "x"})
		id, err := NewOSFilesystemManager(nil).Identify(filepath.Join(root, "f.txt"))
		if err != nil {
			t.Fatal(err)
		}
		if id.Created().IsZero() {
			t.Error("Created() should never be zero for an existing file")
		}
		if id.Size != 1 {
			t.Errorf("Size = %d, want 1", id.Size)
		}
	})
}

func TestOSFilesystemManager_Remove(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	writeTree(t, root, map[string]string{"dir/f.txt": "x"})
	m := NewOSFilesystemManager(nil)

	if err := m.Remove(filepath.Join(root, "dir")); err == nil {
		t.Error("Remove() on a directory should fail")
	}
	if err := m.Remove(filepath.Join(root, "dir", "f.txt")); err != nil {
		t.Fatalf("Remove() error = %v", err)
	}
	if m.Exists(filepath.Join(root, "dir", "f.txt")) {
		t.Error("file still exists after Remove()")
	}
}

func TestOSFilesystemManager_Resolve(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	writeTree(t, root, map[string]string{"f.txt": "hello"})
	m := NewOSFilesystemManager(nil)

	id, err := m.Resolve(filepath.Join(root, "f.txt"))
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if id.IsDir || id.Size != 5 || id.Ext() != "txt" {
		t.Errorf("unexpected identity %+v", id)
	}

	if _, err := m.Resolve(filepath.Join(root, "missing")); err == nil {
		t.Error("Resolve() of a missing path should fail")
	}
}
