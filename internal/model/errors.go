package model

import (
	"errors"
	"fmt"
)

// ErrNothingProcessed is returned when a command hit only per-file errors.
var ErrNothingProcessed = errors.New("no file could be processed")

// ErrChangedDuringRead marks a file whose size or mtime moved while it was hashed.
var ErrChangedDuringRead = errors.New("file changed while being read")

// AccessError is a per-entry enumeration failure. Traversal continues past it.
type AccessError struct {
	Path string
	Err  error
}

func (e *AccessError) Error() string {
	return fmt.Sprintf("cannot access %s: %v", e.Path, e.Err)
}

func (e *AccessError) Unwrap() error { return e.Err }

// UnreadableFileError means a file's content could not be fingerprinted. The file
// is excluded from duplicate detection.
type UnreadableFileError struct {
	Path string
	Err  error
}

func (e *UnreadableFileError) Error() string {
	return fmt.Sprintf("cannot read %s: %v", e.Path, e.Err)
}

func (e *UnreadableFileError) Unwrap() error { return e.Err }

// CorruptStoreError is fatal: the metadata document cannot be trusted and
// nothing is mutated.
type CorruptStoreError struct {
	Path   string
	Reason string
	Err    error
}

func (e *CorruptStoreError) Error() string {
	msg := fmt.Sprintf("corrupt metadata store %s: %s", e.Path, e.Reason)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *CorruptStoreError) Unwrap() error { return e.Err }

// PersistenceError is fatal: writing the metadata document failed and the
// previous document is left in place.
type PersistenceError struct {
	Path string
	Op   string
	Err  error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persisting metadata store %s (%s): %v", e.Path, e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// QueryParseError rejects a predicate before any file is scanned.
// Path is the location inside the query document, e.g. "size.gt".
type QueryParseError struct {
	Path string
	Msg  string
}

func (e *QueryParseError) Error() string {
	if e.Path == "" {
		return "invalid query: " + e.Msg
	}
	return fmt.Sprintf("invalid query at %s: %s", e.Path, e.Msg)
}
