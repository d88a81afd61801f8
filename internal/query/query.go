// Package query parses search-meta predicates into a typed tree and
// evaluates them against files and their metadata.
//
// A query is a JSON object. Each key is a field or a combinator and all keys
// must hold (implicit and). Fields take either a scalar, meaning the field's
// default operator, or an object of operators:
//
//	{"type": "image", "size": {"gt": "5MB"}}
//	{"or": [{"tag": "urgent"}, {"not": {"date": {"lt": "30d"}}}]}
//
// Parsing is strict: unknown fields, unknown operators and values of the
// wrong type are rejected with *model.QueryParseError before anything is
// evaluated.
package query

import (
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"shx-go/internal/model"
)

// Metadata is the read-only view of the metadata store a query needs.
type Metadata interface {
	Tags(id model.FileIdentity) []string
	Mood(id model.FileIdentity) (model.Mood, bool)
}

// Query is a validated predicate.
type Query struct {
	root Node
	now  time.Time
}

// Parse validates raw and builds the predicate tree. Relative dates and ages
// are resolved against now.
func Parse(raw string, now time.Time) (*Query, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, &model.QueryParseError{Msg: "empty query"}
	}
	if !gjson.Valid(raw) {
		return nil, &model.QueryParseError{Msg: "not valid JSON"}
	}
	doc := gjson.Parse(raw)
	if !doc.IsObject() {
		return nil, &model.QueryParseError{Msg: "query must be a JSON object"}
	}

	p := &parser{now: now}
	root, err := p.object(doc, "")
	if err != nil {
		return nil, err
	}
	return &Query{root: root, now: now}, nil
}

// Match evaluates the query for one file. Metadata is only consulted when a
// tag or mood leaf is reached.
func (q *Query) Match(id model.FileIdentity, md Metadata) bool {
	return q.root.eval(&subject{id: id, md: md, now: q.now})
}

// String renders the normalized predicate.
func (q *Query) String() string {
	return q.root.String()
}

// NeedsMetadata reports whether evaluation may touch the metadata store.
func (q *Query) NeedsMetadata() bool {
	return needsMetadata(q.root)
}

// subject caches metadata lookups for a single evaluation.
type subject struct {
	id  model.FileIdentity
	md  Metadata
	now time.Time

	tags       []string
	tagsLoaded bool
	mood       model.Mood
	hasMood    bool
	moodLoaded bool
}

func (s *subject) getTags() []string {
	if !s.tagsLoaded {
		if s.md != nil {
			s.tags = s.md.Tags(s.id)
		}
		s.tagsLoaded = true
	}
	return s.tags
}

func (s *subject) getMood() (model.Mood, bool) {
	if !s.moodLoaded {
		if s.md != nil {
			s.mood, s.hasMood = s.md.Mood(s.id)
		}
		s.moodLoaded = true
	}
	return s.mood, s.hasMood
}
