package shx

import (
	"context"
	"errors"

	"shx-go/internal/metastore"
	"shx-go/internal/model"
	"shx-go/internal/query"
)

// SearchMatch is one file returned by a search, with its current tags.
type SearchMatch struct {
	Identity model.FileIdentity
	Tags     []string
}

// SearchReport lists matches in enumeration order.
type SearchReport struct {
	Root     string
	Query    string
	Matches  []SearchMatch
	Scanned  int
	Problems []error
}

// SearchTag lists the files under path carrying tag. Only files that still
// exist are reported; records of renamed files are rebound on the way.
func (s *Service) SearchTag(ctx context.Context, path, tag string) (*SearchReport, error) {
	normalized := metastore.NormalizeTag(tag)
	if normalized == "" {
		return nil, errors.New("tag must not be empty")
	}
	target, err := s.resolveDir(path)
	if err != nil {
		return nil, err
	}
	store, err := s.openStore(ctx, target)
	if err != nil {
		return nil, err
	}

	// Built on first use, after scan has rebound renamed records.
	var tagged map[string]bool
	report := &SearchReport{Root: store.Root(), Query: normalized}
	err = s.scan(ctx, store, target, report, func(id model.FileIdentity) bool {
		if tagged == nil {
			tagged = make(map[string]bool)
			for _, rec := range store.FindByTag(normalized) {
				tagged[rec.Identity.AbsPath] = true
			}
		}
		return tagged[id.AbsPath]
	})
	if err != nil {
		return report, err
	}
	return report, nil
}

// SearchMeta evaluates a JSON predicate against every file under path. The
// query is parsed before anything is scanned, so a malformed one fails with
// *model.QueryParseError and no side effects.
func (s *Service) SearchMeta(ctx context.Context, path, rawQuery string) (*SearchReport, error) {
	q, err := query.Parse(rawQuery, s.clock.Now())
	if err != nil {
		return nil, err
	}
	target, err := s.resolveDir(path)
	if err != nil {
		return nil, err
	}

	report := &SearchReport{Root: target.AbsPath, Query: q.String()}
	var md query.Metadata = noMetadata{}
	var store *metastore.Store
	if q.NeedsMetadata() {
		store, err = s.openStore(ctx, target)
		if err != nil {
			return nil, err
		}
		report.Root = store.Root()
		md = storeMetadata{store: store}
	}
	s.logger.Debug("query parsed", "query", q.String())

	err = s.scan(ctx, store, target, report, func(id model.FileIdentity) bool {
		return q.Match(id, md)
	})
	if err != nil {
		return report, err
	}
	return report, nil
}

// scan enumerates the files under target, rebinding renamed records, and
// keeps those for which match holds. Rebinds are flushed, but a failure to
// do so only warns since the search itself succeeded.
func (s *Service) scan(ctx context.Context, store *metastore.Store, target model.FileIdentity, report *SearchReport, match func(model.FileIdentity) bool) error {
	opts := EnumerateOptions{StopAtNestedRoots: true}
	if store != nil {
		opts.Base = store.Root()
	}
	files, err := s.collect(ctx, target.AbsPath, opts, &report.Problems)
	if err != nil {
		return err
	}

	if store != nil {
		for _, id := range files {
			if store.Reconcile(id) {
				s.logger.Info("record followed rename", "path", id.AbsPath)
			}
		}
	}

	for _, id := range files {
		if err := ctx.Err(); err != nil {
			return err
		}
		report.Scanned++
		if !match(id) {
			continue
		}
		m := SearchMatch{Identity: id}
		if store != nil {
			m.Tags = store.GetTags(id)
		}
		report.Matches = append(report.Matches, m)
	}

	if store != nil {
		if err := s.commit(ctx, store); err != nil {
			s.logger.Warn("could not persist rebound records", "root", store.Root(), "error", err)
		}
	}

	if len(report.Problems) > 0 && report.Scanned == 0 {
		return model.ErrNothingProcessed
	}
	return nil
}

type storeMetadata struct {
	store *metastore.Store
}

func (m storeMetadata) Tags(id model.FileIdentity) []string {
	return m.store.GetTags(id)
}

func (m storeMetadata) Mood(id model.FileIdentity) (model.Mood, bool) {
	rec, ok := m.store.MoodFor(id)
	return rec.Mood, ok
}

// noMetadata serves queries that only look at filesystem attributes.
type noMetadata struct{}

func (noMetadata) Tags(model.FileIdentity) []string           { return nil }
func (noMetadata) Mood(model.FileIdentity) (model.Mood, bool) { return model.Mood{}, false }
