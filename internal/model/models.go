package model

import (
	"io/fs"
	"path"
	"path/filepath"
	"strings"
	"time"
)

// StoreFileName is the name of the metadata document kept at every managed root.
const StoreFileName = ".shx-metadata.json"

// IgnoreFileName holds per-root ignore patterns.
const IgnoreFileName = ".shxignore"

// FileIdentity is a stable reference to a file or folder found under a base directory.
// StableID is "dev:inode" where the platform exposes it and empty otherwise, in which
// case the path is the only key and renames made outside shx orphan metadata.
type FileIdentity struct {
	RelPath   string // slash-separated, relative to the enumeration base
	AbsPath   string
	StableID  string
	Size      int64
	ModTime   time.Time
	BirthTime time.Time // zero when the platform does not report it
	Mode      fs.FileMode
	IsDir     bool
}

// Created returns the birth time when known and the modification time otherwise.
func (f FileIdentity) Created() time.Time {
	if !f.BirthTime.IsZero() {
		return f.BirthTime
	}
	return f.ModTime
}

// Name returns the last path element.
func (f FileIdentity) Name() string {
	if f.AbsPath != "" {
		return filepath.Base(f.AbsPath)
	}
	return path.Base(f.RelPath)
}

// Ext returns the lower-cased extension without its leading dot.
func (f FileIdentity) Ext() string {
	ext := path.Ext(f.Name())
	return strings.ToLower(strings.TrimPrefix(ext, "."))
}

// SameContentState reports whether other looks like the same unmodified file.
func (f FileIdentity) SameContentState(other FileIdentity) bool {
	if f.Size != other.Size || !f.ModTime.Equal(other.ModTime) {
		return false
	}
	if f.StableID != "" && other.StableID != "" && f.StableID != other.StableID {
		return false
	}
	return true
}

// Fingerprint is the content identity of a file. Partial is an xxhash64 of the first
// bytes and Full the hex SHA-256 of the entire content; either may be unset while
// the grouper is still narrowing candidates.
type Fingerprint struct {
	Size    int64
	Partial uint64
	Full    string
}

// HasFull reports whether the full digest was computed.
func (f Fingerprint) HasFull() bool { return f.Full != "" }

// DuplicateGroup is a set of byte-identical files. Members are ordered by
// (creation time, path) so Members[0] is the survivor.
type DuplicateGroup struct {
	Fingerprint Fingerprint
	Members     []FileIdentity
}

// Survivor returns the member that is kept when the group is applied.
func (g DuplicateGroup) Survivor() FileIdentity {
	return g.Members[0]
}

// Redundant returns the members that would be deleted.
func (g DuplicateGroup) Redundant() []FileIdentity {
	return g.Members[1:]
}

// ReclaimableBytes is the space freed by deleting every redundant member.
func (g DuplicateGroup) ReclaimableBytes() int64 {
	return g.Fingerprint.Size * int64(len(g.Members)-1)
}

// Mood is a folder label. Name is optional; an empty Name means absent.
type Mood struct {
	Value string `json:"value"`
	Name  string `json:"name,omitempty"`
}

// TagRecord pairs a tracked file with its normalized, sorted tag set.
type TagRecord struct {
	Identity FileIdentity
	Tags     []string
}

// MoodRecord pairs a folder with its mood.
type MoodRecord struct {
	Identity FileIdentity
	Mood     Mood
}

// DigestRecord is a cached fingerprint keyed by file identity and validated
// against size and modification time before reuse.
type DigestRecord struct {
	Key       string    `json:"key"`
	Size      int64     `json:"size"`
	ModTimeNS int64     `json:"mtime_ns"`
	Partial   uint64    `json:"partial"`
	Full      string    `json:"full,omitempty"`
	HashedAt  time.Time `json:"hashed_at"`
}

// Matches reports whether the record still describes id.
func (r DigestRecord) Matches(id FileIdentity) bool {
	return r.Size == id.Size && r.ModTimeNS == id.ModTime.UnixNano()
}

// DigestKey returns the cache key for a file: its stable id when available,
// otherwise its absolute path.
func DigestKey(id FileIdentity) string {
	if id.StableID != "" {
		return "id:" + id.StableID
	}
	return "path:" + id.AbsPath
}
