package shx

import (
	"context"

	"shx-go/internal/metastore"
	"shx-go/internal/model"
)

// TagRequest adds and removes tags on a file, or on the files of a folder.
type TagRequest struct {
	Path      string
	Add       []string
	Remove    []string
	Recursive bool
}

// TagReport lists the resulting tag set of every file touched.
type TagReport struct {
	Root     string
	Files    []model.TagRecord
	Problems []error
}

// Tag applies add then remove to the target. A folder target covers its
// regular files, one level deep unless Recursive is set. All changes are
// flushed together; a cancelled run flushes nothing.
func (s *Service) Tag(ctx context.Context, req TagRequest) (*TagReport, error) {
	target, err := s.fsmgr.Resolve(req.Path)
	if err != nil {
		return nil, err
	}
	store, err := s.openStore(ctx, target)
	if err != nil {
		return nil, err
	}

	add := metastore.NormalizeTags(req.Add)
	remove := metastore.NormalizeTags(req.Remove)
	report := &TagReport{Root: store.Root()}

	targets := []model.FileIdentity{target}
	if target.IsDir {
		depth := 1
		if req.Recursive {
			depth = 0
		}
		targets, err = s.collect(ctx, target.AbsPath, EnumerateOptions{
			Base:              store.Root(),
			MaxDepth:          depth,
			StopAtNestedRoots: true,
		}, &report.Problems)
		if err != nil {
			return nil, err
		}
	}

	for _, id := range targets {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		tags, err := store.SetTags(id, add, remove)
		if err != nil {
			s.logger.Warn("could not tag file", "path", id.AbsPath, "error", err)
			report.Problems = append(report.Problems, err)
			continue
		}
		s.logger.Debug("tags updated", "path", id.AbsPath, "tags", tags)
		report.Files = append(report.Files, model.TagRecord{Identity: id, Tags: tags})
	}

	if len(report.Problems) > 0 && len(report.Files) == 0 {
		return report, model.ErrNothingProcessed
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := s.commit(ctx, store); err != nil {
		return report, err
	}
	return report, nil
}
