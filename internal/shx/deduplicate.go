package shx

import (
	"context"
	"fmt"

	"shx-go/internal/dedup"
	"shx-go/internal/fingerprint"
	"shx-go/internal/metastore"
	"shx-go/internal/model"
)

// DedupRequest describes one deduplicate invocation.
type DedupRequest struct {
	Path     string
	DryRun   bool
	MaxDepth int
}

// SkippedGroup is a group left alone because its survivor changed or vanished
// after it was fingerprinted.
type SkippedGroup struct {
	Group  model.DuplicateGroup
	Reason string
}

// DedupReport is the outcome of Deduplicate.
type DedupReport struct {
	Root   string
	DryRun bool
	Groups []model.DuplicateGroup
	// Deleted lists removed files in group order. Empty in dry-run.
	Deleted []model.FileIdentity
	Skipped []SkippedGroup
	// Reclaimable is the space a full apply would free.
	Reclaimable int64
	// Reclaimed is the space actually freed.
	Reclaimed  int64
	Considered int
	HardLinks  int
	// TagsCarried counts deleted files whose tags moved to their survivor.
	TagsCarried int
	Problems    []error
}

// Deduplicate finds byte-identical files under the requested folder. In
// dry-run nothing is touched. Otherwise every non-survivor is deleted once the
// survivor has been re-checked, tags of deleted files move to the survivor,
// and the store is flushed once.
func (s *Service) Deduplicate(ctx context.Context, req DedupRequest) (*DedupReport, error) {
	target, err := s.resolveDir(req.Path)
	if err != nil {
		return nil, err
	}

	// Ignore rules come from the managed root even when a subfolder is
	// deduplicated.
	root, err := s.locateRoot(target)
	if err != nil {
		return nil, err
	}

	// The store is loaded before anything is deleted so a corrupt store
	// aborts the run untouched.
	var store *metastore.Store
	if !req.DryRun {
		store, err = s.loadStore(ctx, root)
		if err != nil {
			return nil, err
		}
	}

	report := &DedupReport{Root: target.AbsPath, DryRun: req.DryRun}
	files, err := s.collect(ctx, target.AbsPath, EnumerateOptions{
		Base:              root,
		MaxDepth:          req.MaxDepth,
		StopAtNestedRoots: true,
	}, &report.Problems)
	if err != nil {
		return nil, err
	}
	s.logger.Debug("files enumerated", "root", target.AbsPath, "count", len(files))

	hasher := fingerprint.NewHasher(s.fsmgr, fingerprint.Options{
		PartialSize: s.opts.PartialSize,
		Cache:       s.cache,
		TrustCache:  req.DryRun,
		Logger:      s.logger,
		Now:         s.clock.Now,
	})
	grouper := dedup.NewGrouper(hasher, dedup.Options{
		Workers: s.opts.Workers,
		MinSize: s.opts.MinSize,
	})

	res, err := grouper.Group(ctx, files)
	if err != nil {
		return nil, fmt.Errorf("grouping duplicates: %w", err)
	}
	report.Groups = res.Groups
	report.Considered = res.Considered
	report.HardLinks = res.HardLinks
	report.Problems = append(report.Problems, res.Unreadable...)
	for _, g := range res.Groups {
		report.Reclaimable += g.ReclaimableBytes()
	}
	for _, u := range res.Unreadable {
		s.logger.Warn("file excluded from deduplication", "error", u)
	}

	if !req.DryRun {
		for _, g := range res.Groups {
			// A group once started is finished; cancellation is honored between groups.
			if ctx.Err() != nil {
				break
			}
			s.applyGroup(store, g, report)
		}

		// Deleted files are gone whether or not the run was interrupted, so
		// their records are flushed either way.
		if err := s.commit(context.WithoutCancel(ctx), store); err != nil {
			return report, err
		}
		s.logger.Info("deduplication applied", "root", target.AbsPath,
			"deleted", len(report.Deleted), "reclaimed", report.Reclaimed, "skipped", len(report.Skipped))
		if err := ctx.Err(); err != nil {
			return report, err
		}
	}

	if len(report.Problems) > 0 && len(files)-len(res.Unreadable) <= 0 {
		return report, model.ErrNothingProcessed
	}
	return report, nil
}

// applyGroup deletes the redundant members of g after confirming the survivor
// is still the file that was fingerprinted.
func (s *Service) applyGroup(store *metastore.Store, g model.DuplicateGroup, report *DedupReport) {
	survivor := g.Survivor()
	current, err := s.fsmgr.Identify(survivor.AbsPath)
	if err != nil {
		s.skip(report, g, fmt.Sprintf("survivor is gone: %v", err))
		return
	}
	if !current.SameContentState(survivor) {
		s.skip(report, g, "survivor changed since it was fingerprinted")
		return
	}

	for _, member := range g.Redundant() {
		latest, err := s.fsmgr.Identify(member.AbsPath)
		if err != nil || !latest.SameContentState(member) {
			s.logger.Warn("duplicate changed, keeping it", "path", member.AbsPath)
			report.Problems = append(report.Problems, fmt.Errorf("%s changed since it was fingerprinted: %w", member.AbsPath, model.ErrChangedDuringRead))
			continue
		}

		tags := store.GetTags(member)
		if err := s.fsmgr.Remove(member.AbsPath); err != nil {
			s.logger.Warn("could not delete duplicate", "path", member.AbsPath, "error", err)
			report.Problems = append(report.Problems, fmt.Errorf("deleting %s: %w", member.AbsPath, err))
			continue
		}
		s.logger.Info("duplicate deleted", "path", member.AbsPath, "survivor", survivor.AbsPath)
		report.Deleted = append(report.Deleted, member)
		report.Reclaimed += member.Size

		if len(tags) > 0 && store.Contains(survivor.AbsPath) {
			if _, err := store.SetTags(survivor, tags, nil); err == nil {
				report.TagsCarried++
			}
		}
		store.Forget(member)
	}
}

func (s *Service) skip(report *DedupReport, g model.DuplicateGroup, reason string) {
	s.logger.Warn("skipping duplicate group", "survivor", g.Survivor().AbsPath, "reason", reason)
	report.Skipped = append(report.Skipped, SkippedGroup{Group: g, Reason: reason})
}
