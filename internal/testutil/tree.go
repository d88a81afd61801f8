package testutil

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"
	"time"
)

// WriteTree creates files under root from a map of slash-separated relative
// paths to contents. A path ending in "/" creates an empty directory. Files
// get modification times one minute apart in sorted path order, starting at
// 2024-01-15 10:00 UTC.
func WriteTree(t *testing.T, root string, files map[string]string) {
	t.Helper()

	paths := make([]string, 0, len(files))
	for p := range files {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	mod := time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)
	for _, p := range paths {
		full := filepath.Join(root, filepath.FromSlash(p))
		if strings.HasSuffix(p, "/") {
			if err := os.MkdirAll(full, 0755); err != nil {
				t.Fatalf("mkdir %s: %v", full, err)
			}
			continue
		}
		if err := os.MkdirAll(filepath.Dir(full), 0755); err != nil {
			t.Fatalf("mkdir %s: %v", filepath.Dir(full), err)
		}
		if err := os.WriteFile(full, []byte(files[p]), 0644); err != nil {
			t.Fatalf("write %s: %v", full, err)
		}
		if err := os.Chtimes(full, mod, mod); err != nil {
			t.Fatalf("chtimes %s: %v", full, err)
		}
		mod = mod.Add(time.Minute)
	}
}
