package metastore

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path"
	"slices"
	"strings"

	"shx-go/internal/model"
)

const (
	documentFormat  = "shx-metadata"
	documentVersion = 1
)

// document is the on-disk layout of a store.
type document struct {
	Format     string  `json:"format"`
	Version    int     `json:"version"`
	StoreID    string  `json:"store_id,omitempty"`
	Generation int64   `json:"generation"`
	Entries    []entry `json:"entries"`
}

// entry holds the metadata of one file or folder, keyed by its root-relative path.
type entry struct {
	Path     string      `json:"path"`
	Dir      bool        `json:"dir,omitempty"`
	StableID string      `json:"stable_id,omitempty"`
	Size     int64       `json:"size,omitempty"`
	Tags     []string    `json:"tags,omitempty"`
	Mood     *model.Mood `json:"mood,omitempty"`
}

func (e *entry) empty() bool {
	return len(e.Tags) == 0 && e.Mood == nil
}

// parse strictly decodes a store document. Anything unexpected is a
// *model.CorruptStoreError naming location.
func parse(data []byte, location string) (*document, error) {
	corrupt := func(reason string, err error) error {
		return &model.CorruptStoreError{Path: location, Reason: reason, Err: err}
	}

	if len(bytes.TrimSpace(data)) == 0 {
		return nil, corrupt("empty document", nil)
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	var doc document
	if err := dec.Decode(&doc); err != nil {
		return nil, corrupt("malformed JSON", err)
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, corrupt("trailing data after document", nil)
	}

	if doc.Format != documentFormat {
		return nil, corrupt(fmt.Sprintf("unexpected format %q", doc.Format), nil)
	}
	if doc.Version != documentVersion {
		return nil, corrupt(fmt.Sprintf("unsupported version %d", doc.Version), nil)
	}
	if doc.Generation < 0 {
		return nil, corrupt("negative generation", nil)
	}

	seen := make(map[string]bool, len(doc.Entries))
	for i := range doc.Entries {
		e := &doc.Entries[i]
		if err := validPath(e.Path); err != nil {
			return nil, corrupt(fmt.Sprintf("entries[%d]", i), err)
		}
		if seen[e.Path] {
			return nil, corrupt(fmt.Sprintf("entries[%d]: duplicate path %q", i, e.Path), nil)
		}
		seen[e.Path] = true
		if e.Size < 0 {
			return nil, corrupt(fmt.Sprintf("entries[%d]: negative size", i), nil)
		}
		if e.Mood != nil && strings.TrimSpace(e.Mood.Value) == "" {
			return nil, corrupt(fmt.Sprintf("entries[%d]: mood without value", i), nil)
		}
		if e.Mood != nil && !e.Dir {
			return nil, corrupt(fmt.Sprintf("entries[%d]: mood on a file", i), nil)
		}
		e.Tags = NormalizeTags(e.Tags)
	}

	return &doc, nil
}

// Summary describes a validated store document.
type Summary struct {
	StoreID    string
	Generation int64
	Entries    int
}

// Inspect validates a store document without loading it.
func Inspect(data []byte, location string) (Summary, error) {
	doc, err := parse(data, location)
	if err != nil {
		return Summary{}, err
	}
	return Summary{StoreID: doc.StoreID, Generation: doc.Generation, Entries: len(doc.Entries)}, nil
}

// encode renders doc with entries in path order so unchanged stores
// re-encode byte for byte.
func encode(doc *document) ([]byte, error) {
	slices.SortFunc(doc.Entries, func(a, b entry) int { return strings.Compare(a.Path, b.Path) })
	if doc.Entries == nil {
		doc.Entries = []entry{}
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}

// validPath accepts clean, relative, slash-separated paths inside the root.
func validPath(p string) error {
	switch {
	case p == "":
		return errors.New("empty path")
	case p == ".":
		return nil
	case strings.HasPrefix(p, "/") || strings.Contains(p, "\\"):
		return fmt.Errorf("path %q is not root-relative", p)
	case path.Clean(p) != p:
		return fmt.Errorf("path %q is not clean", p)
	case p == ".." || strings.HasPrefix(p, "../"):
		return fmt.Errorf("path %q escapes the root", p)
	}
	return nil
}

// NormalizeTags trims, lower-cases, de-duplicates and sorts tags, dropping blanks.
func NormalizeTags(tags []string) []string {
	var out []string
	for _, t := range tags {
		t = NormalizeTag(t)
		if t != "" && !slices.Contains(out, t) {
			out = append(out, t)
		}
	}
	slices.Sort(out)
	return out
}

// NormalizeTag is the case normalization applied to every tag.
func NormalizeTag(tag string) string {
	return strings.ToLower(strings.TrimSpace(tag))
}

// ParseTagList splits a comma-separated list. An empty string is an empty list.
func ParseTagList(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	return NormalizeTags(strings.Split(raw, ","))
}
