// Package metastore keeps tags and folder moods for one managed root in a
// single JSON document, loaded whole and replaced atomically on flush.
//
// Records are keyed by root-relative path. When a path is not found, a record
// whose file has disappeared but whose stable id and size match is rebound to
// the new path, which is how renames made outside shx are followed. Without
// stable ids only the path key exists and such renames orphan their records.
//
// A Store is owned by a single goroutine. Concurrent processes flushing the
// same root race and the last flush wins.
package metastore

import (
	"errors"
	"fmt"
	"io/fs"
	"path"
	"path/filepath"
	"slices"
	"strings"

	"shx-go/internal/model"
)

// Filesystem is the part of the filesystem the store touches.
type Filesystem interface {
	Exists(absPath string) bool
	ReadFile(absPath string) ([]byte, error)
	WriteFile(absPath string, data []byte) error
}

// IDGenerator assigns the store id on first flush.
type IDGenerator interface {
	New() string
}

// Store is the in-memory view of a metadata document.
type Store struct {
	root       string
	file       string
	fsys       Filesystem
	idgen      IDGenerator
	storeID    string
	generation int64
	entries    map[string]*entry
	byStable   map[string][]*entry
	dirty      bool
}

// FilePath returns the location of the document for root.
func FilePath(root string) string {
	return filepath.Join(root, model.StoreFileName)
}

// Load reads the document at root. A missing document yields an empty store;
// a malformed one fails with *model.CorruptStoreError.
func Load(root string, fsys Filesystem, idgen IDGenerator) (*Store, error) {
	s := &Store{
		root:     root,
		file:     FilePath(root),
		fsys:     fsys,
		idgen:    idgen,
		entries:  make(map[string]*entry),
		byStable: make(map[string][]*entry),
	}

	data, err := fsys.ReadFile(s.file)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return s, nil
		}
		return nil, fmt.Errorf("reading metadata store: %w", err)
	}

	doc, err := parse(data, s.file)
	if err != nil {
		return nil, err
	}
	s.storeID = doc.StoreID
	s.generation = doc.Generation
	for i := range doc.Entries {
		e := doc.Entries[i]
		s.insert(&e)
	}
	return s, nil
}

// Root returns the managed root directory.
func (s *Store) Root() string { return s.root }

// File returns the document path.
func (s *Store) File() string { return s.file }

// StoreID returns the id assigned at first flush, or "" before that.
func (s *Store) StoreID() string { return s.storeID }

// Generation counts successful flushes.
func (s *Store) Generation() int64 { return s.generation }

// Dirty reports whether there are unflushed changes.
func (s *Store) Dirty() bool { return s.dirty }

// Len returns the number of records.
func (s *Store) Len() int { return len(s.entries) }

// Contains reports whether absPath lies inside the managed root.
func (s *Store) Contains(absPath string) bool {
	_, err := s.rel(absPath)
	return err == nil
}

// GetTags returns the tag set of id, empty when untracked.
func (s *Store) GetTags(id model.FileIdentity) []string {
	e, _ := s.find(id)
	if e == nil {
		return nil
	}
	return slices.Clone(e.Tags)
}

// SetTags applies add then remove; a tag in both ends up removed. The
// resulting tag set is returned. A record left with no tags and no mood is
// deleted.
func (s *Store) SetTags(id model.FileIdentity, add, remove []string) ([]string, error) {
	rel, err := s.rel(id.AbsPath)
	if err != nil {
		return nil, err
	}
	e, _ := s.find(id)

	var current []string
	if e != nil {
		current = e.Tags
	}
	removeSet := NormalizeTags(remove)
	var next []string
	for _, t := range NormalizeTags(append(slices.Clone(current), add...)) {
		if !slices.Contains(removeSet, t) {
			next = append(next, t)
		}
	}

	if e == nil {
		if len(next) == 0 {
			return nil, nil
		}
		e = &entry{Path: rel}
		s.refresh(e, id)
		s.insert(e)
		s.dirty = true
	}
	if !slices.Equal(e.Tags, next) {
		e.Tags = next
		s.refresh(e, id)
		s.dirty = true
	}
	if e.empty() {
		s.remove(e)
	}
	return slices.Clone(next), nil
}

// GetMood returns the mood recorded for a folder.
func (s *Store) GetMood(id model.FileIdentity) (model.Mood, bool) {
	e, _ := s.find(id)
	if e == nil || e.Mood == nil {
		return model.Mood{}, false
	}
	return *e.Mood, true
}

// SetMood replaces a folder's mood entirely: an empty name clears any
// previous name.
func (s *Store) SetMood(id model.FileIdentity, value, name string) (model.Mood, error) {
	if !id.IsDir {
		return model.Mood{}, fmt.Errorf("moods apply to folders: %s is a file", id.AbsPath)
	}
	mood := model.Mood{Value: strings.TrimSpace(value), Name: strings.TrimSpace(name)}
	if mood.Value == "" {
		return model.Mood{}, errors.New("mood value must not be empty")
	}
	rel, err := s.rel(id.AbsPath)
	if err != nil {
		return model.Mood{}, err
	}

	e, _ := s.find(id)
	if e == nil {
		e = &entry{Path: rel}
		s.refresh(e, id)
		s.insert(e)
		s.dirty = true
	}
	if e.Mood == nil || *e.Mood != mood {
		e.Mood = &mood
		s.refresh(e, id)
		s.dirty = true
	}
	return mood, nil
}

// MoodFor returns the mood of id itself when it is a folder with a mood, else
// of its nearest enclosing folder that has one.
func (s *Store) MoodFor(id model.FileIdentity) (model.MoodRecord, bool) {
	if id.IsDir {
		if e, _ := s.find(id); e != nil && e.Mood != nil {
			return s.moodRecord(e), true
		}
	}
	rel, err := s.rel(id.AbsPath)
	if err != nil {
		return model.MoodRecord{}, false
	}
	for p := rel; p != "."; {
		p = path.Dir(p)
		if e := s.entries[p]; e != nil && e.Mood != nil {
			return s.moodRecord(e), true
		}
	}
	return model.MoodRecord{}, false
}

// FindByTag scans every record for a normalized tag, in path order.
func (s *Store) FindByTag(tag string) []model.TagRecord {
	tag = NormalizeTag(tag)
	var out []model.TagRecord
	for _, e := range s.sorted() {
		if slices.Contains(e.Tags, tag) {
			out = append(out, model.TagRecord{Identity: s.identity(e), Tags: slices.Clone(e.Tags)})
		}
	}
	return out
}

// Reconcile looks id up, rebinding a renamed record to id's path. It reports
// whether a rebind happened.
func (s *Store) Reconcile(id model.FileIdentity) bool {
	_, rebound := s.find(id)
	return rebound
}

// Forget drops the record of id. It reports whether one existed.
func (s *Store) Forget(id model.FileIdentity) bool {
	e, _ := s.find(id)
	if e == nil {
		return false
	}
	s.remove(e)
	s.dirty = true
	return true
}

// Sweep drops records whose path no longer exists and returns their paths.
// Callers reconcile renames first.
func (s *Store) Sweep() []string {
	var dropped []string
	for _, e := range s.sorted() {
		if e.Path == "." {
			continue
		}
		if !s.fsys.Exists(s.abs(e.Path)) {
			s.remove(e)
			dropped = append(dropped, e.Path)
		}
	}
	if len(dropped) > 0 {
		s.dirty = true
	}
	return dropped
}

// Encode renders the current state as it would be flushed.
func (s *Store) Encode() ([]byte, error) {
	return encode(s.document(s.generation))
}

// Flush atomically writes pending changes. It is a no-op when nothing
// changed. On failure the previous document is untouched and the error is a
// *model.PersistenceError.
func (s *Store) Flush() error {
	if !s.dirty {
		return nil
	}
	if s.storeID == "" && s.idgen != nil {
		s.storeID = s.idgen.New()
	}

	data, err := encode(s.document(s.generation + 1))
	if err != nil {
		return &model.PersistenceError{Path: s.file, Op: "encode", Err: err}
	}
	if err := s.fsys.WriteFile(s.file, data); err != nil {
		return &model.PersistenceError{Path: s.file, Op: "write", Err: err}
	}

	s.generation++
	s.dirty = false
	return nil
}

func (s *Store) document(generation int64) *document {
	doc := &document{
		Format:     documentFormat,
		Version:    documentVersion,
		StoreID:    s.storeID,
		Generation: generation,
		Entries:    make([]entry, 0, len(s.entries)),
	}
	for _, e := range s.entries {
		c := *e
		c.Tags = slices.Clone(e.Tags)
		doc.Entries = append(doc.Entries, c)
	}
	return doc
}

// find resolves id to its record, following renames by stable id. A record is
// only rebound when its recorded path is gone, so hard links keep their own
// records.
func (s *Store) find(id model.FileIdentity) (*entry, bool) {
	rel, err := s.rel(id.AbsPath)
	if err != nil {
		return nil, false
	}
	if e := s.entries[rel]; e != nil {
		return e, false
	}
	if id.StableID == "" {
		return nil, false
	}
	for _, e := range s.byStable[id.StableID] {
		if e.Dir != id.IsDir || (!e.Dir && e.Size != id.Size) {
			continue
		}
		if s.fsys.Exists(s.abs(e.Path)) {
			continue
		}
		delete(s.entries, e.Path)
		e.Path = rel
		s.entries[rel] = e
		s.dirty = true
		return e, true
	}
	return nil, false
}

// refresh copies identity fields from id into e, keeping the index current.
func (s *Store) refresh(e *entry, id model.FileIdentity) {
	if e.StableID != id.StableID {
		s.unindex(e)
		e.StableID = id.StableID
		s.index(e)
	}
	e.Dir = id.IsDir
	e.Size = 0
	if !id.IsDir {
		e.Size = id.Size
	}
}

func (s *Store) insert(e *entry) {
	s.entries[e.Path] = e
	s.index(e)
}

func (s *Store) remove(e *entry) {
	delete(s.entries, e.Path)
	s.unindex(e)
}

func (s *Store) index(e *entry) {
	if e.StableID != "" {
		s.byStable[e.StableID] = append(s.byStable[e.StableID], e)
	}
}

func (s *Store) unindex(e *entry) {
	if e.StableID == "" {
		return
	}
	list := slices.DeleteFunc(s.byStable[e.StableID], func(x *entry) bool { return x == e })
	if len(list) == 0 {
		delete(s.byStable, e.StableID)
		return
	}
	s.byStable[e.StableID] = list
}

func (s *Store) sorted() []*entry {
	out := make([]*entry, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, e)
	}
	slices.SortFunc(out, func(a, b *entry) int { return strings.Compare(a.Path, b.Path) })
	return out
}

func (s *Store) identity(e *entry) model.FileIdentity {
	return model.FileIdentity{
		RelPath:  e.Path,
		AbsPath:  s.abs(e.Path),
		StableID: e.StableID,
		Size:     e.Size,
		IsDir:    e.Dir,
	}
}

func (s *Store) moodRecord(e *entry) model.MoodRecord {
	return model.MoodRecord{Identity: s.identity(e), Mood: *e.Mood}
}

func (s *Store) abs(rel string) string {
	if rel == "." {
		return s.root
	}
	return filepath.Join(s.root, filepath.FromSlash(rel))
}

// rel converts an absolute path to the root-relative key.
func (s *Store) rel(absPath string) (string, error) {
	rel, err := filepath.Rel(s.root, absPath)
	if err != nil {
		return "", fmt.Errorf("%s is outside managed root %s: %w", absPath, s.root, err)
	}
	rel = filepath.ToSlash(rel)
	if rel == ".." || strings.HasPrefix(rel, "../") {
		return "", fmt.Errorf("%s is outside managed root %s", absPath, s.root)
	}
	return rel, nil
}
