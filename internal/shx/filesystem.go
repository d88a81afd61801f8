package shx

import (
	"context"
	"io"
	"iter"

	"shx-go/internal/model"
)

// EnumerateOptions controls a single enumeration.
type EnumerateOptions struct {
	// Base is the directory RelPath is computed against. Defaults to the start path.
	Base string
	// MaxDepth limits descent below the start directory; 0 means unbounded.
	// Children of the start directory are at depth 1.
	MaxDepth int
	// IncludeDirs yields directories (including the start directory) as well as files.
	IncludeDirs bool
	// StopAtNestedRoots skips subdirectories that carry their own metadata store.
	StopAtNestedRoots bool
}

// FilesystemManager abstracts the filesystem so the service is testable with
// an in-memory implementation.
type FilesystemManager interface {
	// Resolve makes rawPath absolute and identifies it. Symlinks and special
	// files are rejected.
	Resolve(rawPath string) (model.FileIdentity, error)

	// Identify returns a fresh identity for an absolute path without following
	// symlinks. RelPath is left empty.
	Identify(absPath string) (model.FileIdentity, error)

	// Exists reports whether anything is present at absPath.
	Exists(absPath string) bool

	// Open opens a regular file for reading.
	Open(absPath string) (io.ReadCloser, error)

	// Remove deletes a regular file.
	Remove(absPath string) error

	// ReadFile returns the whole content of a small file such as the metadata
	// document. A missing file yields an error matching fs.ErrNotExist.
	ReadFile(absPath string) ([]byte, error)

	// WriteFile atomically replaces absPath with data.
	WriteFile(absPath string, data []byte) error

	// Enumerate walks start breadth-first in name order and yields entries
	// lazily. Per-entry failures are yielded as *model.AccessError and the walk
	// continues. A cancelled ctx ends the walk with ctx.Err().
	Enumerate(ctx context.Context, start string, opts EnumerateOptions) iter.Seq2[model.FileIdentity, error]
}
