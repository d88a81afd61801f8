package fs

import (
	"errors"
	"fmt"
	"os"
	"path"
	"strings"

	"shx-go/internal/atomicfile"
	"shx-go/internal/model"
)

// defaultIgnorePatterns are applied on top of config and .shxignore. The store,
// its in-flight temp files and the ignore file itself are never enumerated.
var defaultIgnorePatterns = []string{
	model.IgnoreFileName,
	model.StoreFileName,
	atomicfile.TempPattern(model.StoreFileName),
}

// ignoreRule is one compiled line of an ignore list.
//
//	*.iso       basename glob, any depth
//	/cache      anchored at the managed root
//	raw/*.cr2   contains a slash, so also anchored
//	build/      trailing slash: directories only
type ignoreRule struct {
	glob     string
	anchored bool
	dirOnly  bool
}

func (r ignoreRule) matches(rel string, isDir bool) bool {
	if r.dirOnly && !isDir {
		return false
	}
	subject := path.Base(rel)
	if r.anchored {
		subject = rel
	}
	ok, err := path.Match(r.glob, subject)
	return err == nil && ok
}

// IgnoreMatcher decides which entries of a managed root are skipped.
type IgnoreMatcher struct {
	rules []ignoreRule
}

// NewIgnoreMatcher compiles raw lines. Blank lines and '#' comments are
// dropped, as are lines whose glob is malformed.
func NewIgnoreMatcher(lines []string) *IgnoreMatcher {
	m := &IgnoreMatcher{}
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		var r ignoreRule
		if strings.HasSuffix(line, "/") {
			r.dirOnly = true
			line = strings.TrimRight(line, "/")
		}
		if strings.HasPrefix(line, "/") {
			r.anchored = true
			line = strings.TrimLeft(line, "/")
		}
		if strings.Contains(line, "/") {
			r.anchored = true
		}
		if line == "" {
			continue
		}
		if _, err := path.Match(line, ""); err != nil {
			continue
		}
		r.glob = line
		m.rules = append(m.rules, r)
	}
	return m
}

// Match reports whether rel, a slash-separated path relative to the managed
// root, is ignored. Ignoring a directory prunes its whole subtree.
func (m *IgnoreMatcher) Match(rel string, isDir bool) bool {
	if rel == "" || rel == "." {
		return false
	}
	for _, r := range m.rules {
		if r.matches(rel, isDir) {
			return true
		}
	}
	return false
}

// ParseIgnoreFile returns the lines of an ignore file. A missing file is an
// empty list.
func ParseIgnoreFile(file string) ([]string, error) {
	data, err := os.ReadFile(file)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading ignore file: %w", err)
	}
	return strings.Split(strings.ReplaceAll(string(data), "\r\n", "\n"), "\n"), nil
}
