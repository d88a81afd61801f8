package metastore

import (
	"fmt"
	"path/filepath"
	"strings"

	"shx-go/internal/model"
)

// Existence is satisfied by anything that can tell whether a path exists.
type Existence interface {
	Exists(absPath string) bool
}

// LocateOptions adjusts root selection.
type LocateOptions struct {
	// Override is an explicit root (--root). It must contain the target.
	Override string
	// WorkDir is used as the root when no store exists above the target and
	// the target lies inside it.
	WorkDir string
}

// Locate chooses the managed root for target: the override if given, else the
// nearest enclosing folder that already holds a store, else the working
// directory when it contains the target, else the target's own folder.
func Locate(fsys Existence, target model.FileIdentity, opts LocateOptions) (string, error) {
	dir := target.AbsPath
	if !target.IsDir {
		dir = filepath.Dir(dir)
	}

	if opts.Override != "" {
		root, err := filepath.Abs(opts.Override)
		if err != nil {
			return "", err
		}
		if !Within(root, target.AbsPath) {
			return "", fmt.Errorf("%s is not inside root %s", target.AbsPath, root)
		}
		return root, nil
	}

	if root, ok := Find(fsys, dir); ok {
		return root, nil
	}
	if opts.WorkDir != "" && Within(opts.WorkDir, dir) {
		return opts.WorkDir, nil
	}
	return dir, nil
}

// Find walks up from dir to the nearest folder holding a store.
func Find(fsys Existence, dir string) (string, bool) {
	for d := filepath.Clean(dir); ; {
		if fsys.Exists(FilePath(d)) {
			return d, true
		}
		parent := filepath.Dir(d)
		if parent == d {
			return "", false
		}
		d = parent
	}
}

// Within reports whether p is root or lies below it.
func Within(root, p string) bool {
	rel, err := filepath.Rel(root, p)
	if err != nil {
		return false
	}
	rel = filepath.ToSlash(rel)
	return rel != ".." && !strings.HasPrefix(rel, "../")
}
