package fs

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"iter"
	"os"
	"path/filepath"
	"strings"

	"shx-go/internal/atomicfile"
	"shx-go/internal/model"
	"shx-go/internal/shx"
)

// OSFilesystemManager is the real filesystem implementation of FilesystemManager.
type OSFilesystemManager struct {
	ignore []string // extra ignore patterns from config
}

// NewOSFilesystemManager creates a new filesystem manager that operates on the real filesystem.
// ignorePatterns are applied in addition to the defaults and any .shxignore file.
func NewOSFilesystemManager(ignorePatterns []string) *OSFilesystemManager {
	return &OSFilesystemManager{ignore: ignorePatterns}
}

// Resolve validates a raw path and returns its identity.
func (m *OSFilesystemManager) Resolve(rawPath string) (model.FileIdentity, error) {
	absPath, err := filepath.Abs(rawPath)
	if err != nil {
		return model.FileIdentity{}, fmt.Errorf("resolving absolute path: %w", err)
	}

	info, err := os.Lstat(absPath)
	if err != nil {
		return model.FileIdentity{}, fmt.Errorf("stat path: %w", err)
	}

	// Check for special file types we don't support
	mode := info.Mode()
	if mode&os.ModeSymlink != 0 {
		return model.FileIdentity{}, fmt.Errorf("symlinks not supported: %s", absPath)
	}
	if mode&os.ModeDevice != 0 {
		return model.FileIdentity{}, fmt.Errorf("device files not supported: %s", absPath)
	}
	if mode&os.ModeNamedPipe != 0 {
		return model.FileIdentity{}, fmt.Errorf("named pipes not supported: %s", absPath)
	}
	if mode&os.ModeSocket != 0 {
		return model.FileIdentity{}, fmt.Errorf("sockets not supported: %s", absPath)
	}

	return identify(absPath, info), nil
}

// Identify returns a fresh identity for absPath without following symlinks.
func (m *OSFilesystemManager) Identify(absPath string) (model.FileIdentity, error) {
	info, err := os.Lstat(absPath)
	if err != nil {
		return model.FileIdentity{}, err
	}
	return identify(absPath, info), nil
}

// Exists reports whether anything is present at absPath.
func (m *OSFilesystemManager) Exists(absPath string) bool {
	_, err := os.Lstat(absPath)
	return err == nil
}

// Open opens a file for reading.
func (m *OSFilesystemManager) Open(absPath string) (io.ReadCloser, error) {
	info, err := os.Lstat(absPath)
	if err != nil {
		return nil, err
	}
	if !info.Mode().IsRegular() {
		return nil, fmt.Errorf("not a regular file: %s", absPath)
	}
	return os.Open(absPath)
}

// Remove deletes a regular file.
func (m *OSFilesystemManager) Remove(absPath string) error {
	info, err := os.Lstat(absPath)
	if err != nil {
		return err
	}
	if !info.Mode().IsRegular() {
		return fmt.Errorf("refusing to remove non-regular file: %s", absPath)
	}
	return os.Remove(absPath)
}

// ReadFile reads a whole file.
func (m *OSFilesystemManager) ReadFile(absPath string) ([]byte, error) {
	return os.ReadFile(absPath)
}

// WriteFile atomically replaces absPath with data.
func (m *OSFilesystemManager) WriteFile(absPath string, data []byte) error {
	return atomicfile.WriteBytes(absPath, data, 0644)
}

// Enumerate walks start breadth-first. Entries of each directory are visited
// in name order, symlinks are never followed and ignored paths are skipped
// together with their subtrees.
func (m *OSFilesystemManager) Enumerate(ctx context.Context, start string, opts shx.EnumerateOptions) iter.Seq2[model.FileIdentity, error] {
	return func(yield func(model.FileIdentity, error) bool) {
		base := opts.Base
		if base == "" {
			base = start
		}

		matcher, err := m.matcherFor(base)
		if err != nil {
			if !yield(model.FileIdentity{}, &model.AccessError{Path: filepath.Join(base, model.IgnoreFileName), Err: err}) {
				return
			}
			matcher = NewIgnoreMatcher(append(append([]string{}, defaultIgnorePatterns...), m.ignore...))
		}

		root, err := m.Identify(start)
		if err != nil {
			yield(model.FileIdentity{}, &model.AccessError{Path: start, Err: err})
			return
		}
		root.RelPath = relativeTo(base, start)
		if !root.IsDir {
			if root.Mode.IsRegular() {
				yield(root, nil)
			}
			return
		}
		if opts.IncludeDirs && !yield(root, nil) {
			return
		}

		type pending struct {
			abs   string
			depth int
		}
		queue := []pending{{abs: start}}

		for len(queue) > 0 {
			if err := ctx.Err(); err != nil {
				yield(model.FileIdentity{}, err)
				return
			}

			dir := queue[0]
			queue = queue[1:]

			entries, err := os.ReadDir(dir.abs)
			if err != nil {
				if !yield(model.FileIdentity{}, &model.AccessError{Path: dir.abs, Err: err}) {
					return
				}
				continue
			}

			for _, entry := range entries {
				abs := filepath.Join(dir.abs, entry.Name())
				rel := relativeTo(base, abs)
				if matcher.Match(rel, entry.IsDir()) {
					continue
				}

				typ := entry.Type()
				if typ&fs.ModeSymlink != 0 {
					continue
				}
				if !entry.IsDir() && !typ.IsRegular() {
					continue
				}

				info, err := entry.Info()
				if err != nil {
					if !yield(model.FileIdentity{}, &model.AccessError{Path: abs, Err: err}) {
						return
					}
					continue
				}

				id := identify(abs, info)
				id.RelPath = rel

				if entry.IsDir() {
					if opts.StopAtNestedRoots && m.Exists(filepath.Join(abs, model.StoreFileName)) {
						continue
					}
					if opts.IncludeDirs && !yield(id, nil) {
						return
					}
					if opts.MaxDepth == 0 || dir.depth+1 < opts.MaxDepth {
						queue = append(queue, pending{abs: abs, depth: dir.depth + 1})
					}
					continue
				}

				if !yield(id, nil) {
					return
				}
			}
		}
	}
}

// matcherFor builds the ignore matcher for an enumeration rooted at base.
func (m *OSFilesystemManager) matcherFor(base string) (*IgnoreMatcher, error) {
	patterns := append(append([]string{}, defaultIgnorePatterns...), m.ignore...)
	fromFile, err := ParseIgnoreFile(filepath.Join(base, model.IgnoreFileName))
	if err != nil {
		return nil, err
	}
	return NewIgnoreMatcher(append(patterns, fromFile...)), nil
}

// relativeTo returns p relative to base in slash form, "." for base itself.
func relativeTo(base, p string) string {
	rel, err := filepath.Rel(base, p)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return filepath.ToSlash(p)
	}
	return filepath.ToSlash(rel)
}

// identify builds a FileIdentity from lstat data.
func identify(absPath string, info fs.FileInfo) model.FileIdentity {
	id := model.FileIdentity{
		AbsPath:   absPath,
		StableID:  stableID(info),
		ModTime:   info.ModTime(),
		BirthTime: birthTime(absPath, info),
		Mode:      info.Mode(),
		IsDir:     info.IsDir(),
	}
	if !id.IsDir {
		id.Size = info.Size()
	}
	return id
}

// Compile-time check that OSFilesystemManager implements shx.FilesystemManager interface
var _ shx.FilesystemManager = (*OSFilesystemManager)(nil)
