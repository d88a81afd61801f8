package testutil

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"io/fs"
	"iter"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"shx-go/internal/model"
	"shx-go/internal/shx"
)

// MockFile represents a file or directory in the mock filesystem.
type MockFile struct {
	Content     []byte
	ModTime     time.Time
	BirthTime   time.Time
	StableID    string
	IsDirectory bool
}

// MockFilesystemManager is an in-memory filesystem for testing. Every file gets
// a distinct stable id and a birth time one second after the previous file, so
// creation order is deterministic. Safe for concurrent use.
type MockFilesystemManager struct {
	mu        sync.Mutex
	files     map[string]*MockFile
	nextID    int
	clock     time.Time
	openErrs  map[string]error
	writeErrs map[string]error
	bytesRead map[string]int64
	opens     map[string]int
	removed   []string
}

// NewMockFilesystemManager creates a new mock filesystem containing only "/".
func NewMockFilesystemManager() *MockFilesystemManager {
	m := &MockFilesystemManager{
		files:     make(map[string]*MockFile),
		clock:     time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC),
		openErrs:  make(map[string]error),
		writeErrs: make(map[string]error),
		bytesRead: make(map[string]int64),
		opens:     make(map[string]int),
	}
	m.files[string(filepath.Separator)] = &MockFile{IsDirectory: true, StableID: m.newID(), ModTime: m.clock, BirthTime: m.clock}
	return m
}

func (m *MockFilesystemManager) newID() string {
	m.nextID++
	return fmt.Sprintf("mock:%d", m.nextID)
}

func (m *MockFilesystemManager) tick() time.Time {
	m.clock = m.clock.Add(time.Second)
	return m.clock
}

// ensureParents creates missing ancestors of p. Caller holds mu.
func (m *MockFilesystemManager) ensureParents(p string) {
	dir := filepath.Dir(p)
	if _, ok := m.files[dir]; ok || dir == p {
		return
	}
	m.ensureParents(dir)
	now := m.tick()
	m.files[dir] = &MockFile{IsDirectory: true, StableID: m.newID(), ModTime: now, BirthTime: now}
}

// AddFile adds a file, creating parent directories as needed.
func (m *MockFilesystemManager) AddFile(path string, content []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ensureParents(path)
	now := m.tick()
	m.files[path] = &MockFile{
		Content:   append([]byte(nil), content...),
		ModTime:   now,
		BirthTime: now,
		StableID:  m.newID(),
	}
}

// AddFileWithTimes adds a file with explicit birth and modification times.
// A zero birth time simulates a platform that does not report one.
func (m *MockFilesystemManager) AddFileWithTimes(path string, content []byte, birth, modTime time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ensureParents(path)
	m.files[path] = &MockFile{
		Content:   append([]byte(nil), content...),
		ModTime:   modTime,
		BirthTime: birth,
		StableID:  m.newID(),
	}
}

// AddDirectory adds a directory, creating parents as needed.
func (m *MockFilesystemManager) AddDirectory(path string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.files[path]; ok {
		return
	}
	m.ensureParents(path)
	now := m.tick()
	m.files[path] = &MockFile{IsDirectory: true, StableID: m.newID(), ModTime: now, BirthTime: now}
}

// UpdateFile replaces a file's content and modification time in place.
func (m *MockFilesystemManager) UpdateFile(path string, content []byte, modTime time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.files[path]
	if !ok {
		panic("UpdateFile: no such file " + path)
	}
	f.Content = append([]byte(nil), content...)
	f.ModTime = modTime
}

// Rename moves a file or directory subtree, keeping stable ids.
func (m *MockFilesystemManager) Rename(oldPath, newPath string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ensureParents(newPath)
	prefix := oldPath + string(filepath.Separator)
	for p, f := range m.files {
		switch {
		case p == oldPath:
			delete(m.files, p)
			m.files[newPath] = f
		case strings.HasPrefix(p, prefix):
			delete(m.files, p)
			m.files[newPath+string(filepath.Separator)+strings.TrimPrefix(p, prefix)] = f
		}
	}
}

// Link adds a hard link: a second path sharing content and stable id.
func (m *MockFilesystemManager) Link(existing, newPath string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.files[existing]
	if !ok {
		panic("Link: no such file " + existing)
	}
	m.ensureParents(newPath)
	m.files[newPath] = f
}

// Delete removes a path, and any subtree below it, behind the service's back.
func (m *MockFilesystemManager) Delete(path string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	prefix := path + string(filepath.Separator)
	for p := range m.files {
		if p == path || strings.HasPrefix(p, prefix) {
			delete(m.files, p)
		}
	}
}

// FailOpen makes Open(path) return err.
func (m *MockFilesystemManager) FailOpen(path string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.openErrs[path] = err
}

// FailWrite makes WriteFile(path) return err.
func (m *MockFilesystemManager) FailWrite(path string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.writeErrs[path] = err
}

// BytesRead returns how many content bytes were read from path.
func (m *MockFilesystemManager) BytesRead(path string) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.bytesRead[path]
}

// OpenCount returns how many times path was opened.
func (m *MockFilesystemManager) OpenCount(path string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.opens[path]
}

// Removed returns the paths deleted through Remove, in order.
func (m *MockFilesystemManager) Removed() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.removed...)
}

// Content returns a copy of a file's content.
func (m *MockFilesystemManager) Content(path string) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.files[path]
	if !ok || f.IsDirectory {
		return nil, false
	}
	return append([]byte(nil), f.Content...), true
}

func (m *MockFilesystemManager) Resolve(rawPath string) (model.FileIdentity, error) {
	absPath, err := filepath.Abs(rawPath)
	if err != nil {
		return model.FileIdentity{}, err
	}
	return m.Identify(absPath)
}

func (m *MockFilesystemManager) Identify(absPath string) (model.FileIdentity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.files[absPath]
	if !ok {
		return model.FileIdentity{}, fmt.Errorf("stat %s: %w", absPath, fs.ErrNotExist)
	}
	return identity(absPath, f), nil
}

func (m *MockFilesystemManager) Exists(absPath string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.files[absPath]
	return ok
}

func (m *MockFilesystemManager) Open(absPath string) (io.ReadCloser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.openErrs[absPath]; err != nil {
		return nil, err
	}
	f, ok := m.files[absPath]
	if !ok {
		return nil, fmt.Errorf("open %s: %w", absPath, fs.ErrNotExist)
	}
	if f.IsDirectory {
		return nil, fmt.Errorf("cannot open directory: %s", absPath)
	}
	m.opens[absPath]++
	return &countingReader{m: m, path: absPath, r: bytes.NewReader(append([]byte(nil), f.Content...))}, nil
}

func (m *MockFilesystemManager) Remove(absPath string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.files[absPath]
	if !ok {
		return fmt.Errorf("remove %s: %w", absPath, fs.ErrNotExist)
	}
	if f.IsDirectory {
		return fmt.Errorf("refusing to remove non-regular file: %s", absPath)
	}
	delete(m.files, absPath)
	m.removed = append(m.removed, absPath)
	return nil
}

func (m *MockFilesystemManager) ReadFile(absPath string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.files[absPath]
	if !ok {
		return nil, fmt.Errorf("read %s: %w", absPath, fs.ErrNotExist)
	}
	if f.IsDirectory {
		return nil, fmt.Errorf("is a directory: %s", absPath)
	}
	return append([]byte(nil), f.Content...), nil
}

func (m *MockFilesystemManager) WriteFile(absPath string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.writeErrs[absPath]; err != nil {
		return err
	}
	parent, ok := m.files[filepath.Dir(absPath)]
	if !ok || !parent.IsDirectory {
		return fmt.Errorf("write %s: %w", absPath, fs.ErrNotExist)
	}
	now := m.tick()
	m.files[absPath] = &MockFile{
		Content:   append([]byte(nil), data...),
		ModTime:   now,
		BirthTime: now,
		StableID:  m.newID(),
	}
	return nil
}

// Enumerate mirrors the real enumerator: breadth-first, name order, store and
// ignore files hidden.
func (m *MockFilesystemManager) Enumerate(ctx context.Context, start string, opts shx.EnumerateOptions) iter.Seq2[model.FileIdentity, error] {
	return func(yield func(model.FileIdentity, error) bool) {
		base := opts.Base
		if base == "" {
			base = start
		}
		root, err := m.Identify(start)
		if err != nil {
			yield(model.FileIdentity{}, &model.AccessError{Path: start, Err: err})
			return
		}
		root.RelPath = relativeTo(base, start)
		if !root.IsDir {
			yield(root, nil)
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

			for _, child := range m.children(dir.abs) {
				name := filepath.Base(child.AbsPath)
				if name == model.StoreFileName || name == model.IgnoreFileName || strings.HasPrefix(name, model.StoreFileName+".tmp-") {
					continue
				}
				child.RelPath = relativeTo(base, child.AbsPath)
				if child.IsDir {
					if opts.StopAtNestedRoots && m.Exists(filepath.Join(child.AbsPath, model.StoreFileName)) {
						continue
					}
					if opts.IncludeDirs && !yield(child, nil) {
						return
					}
					if opts.MaxDepth == 0 || dir.depth+1 < opts.MaxDepth {
						queue = append(queue, pending{abs: child.AbsPath, depth: dir.depth + 1})
					}
					continue
				}
				if !yield(child, nil) {
					return
				}
			}
		}
	}
}

// children lists the direct children of dir sorted by name.
func (m *MockFilesystemManager) children(dir string) []model.FileIdentity {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.FileIdentity
	for p, f := range m.files {
		if p != dir && filepath.Dir(p) == dir {
			out = append(out, identity(p, f))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AbsPath < out[j].AbsPath })
	return out
}

func identity(absPath string, f *MockFile) model.FileIdentity {
	id := model.FileIdentity{
		AbsPath:   absPath,
		StableID:  f.StableID,
		ModTime:   f.ModTime,
		BirthTime: f.BirthTime,
		IsDir:     f.IsDirectory,
		Mode:      0644,
	}
	if f.IsDirectory {
		id.Mode = fs.ModeDir | 0755
	} else {
		id.Size = int64(len(f.Content))
	}
	return id
}

func relativeTo(base, p string) string {
	rel, err := filepath.Rel(base, p)
	if err != nil {
		return filepath.ToSlash(p)
	}
	return filepath.ToSlash(rel)
}

type countingReader struct {
	m    *MockFilesystemManager
	path string
	r    io.Reader
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.m.mu.Lock()
	c.m.bytesRead[c.path] += int64(n)
	c.m.mu.Unlock()
	return n, err
}

func (c *countingReader) Close() error { return nil }

// Compile-time check
var _ shx.FilesystemManager = (*MockFilesystemManager)(nil)
