// Package dedup groups byte-identical files. Candidates are narrowed by size,
// then by partial digest, and only the survivors of both are fully hashed.
package dedup

import (
	"cmp"
	"context"
	"errors"
	"runtime"
	"slices"
	"sync"

	"golang.org/x/sync/errgroup"

	"shx-go/internal/model"
)

// Hasher computes fingerprints in two stages.
type Hasher interface {
	Partial(ctx context.Context, id model.FileIdentity) (model.Fingerprint, error)
	Full(ctx context.Context, id model.FileIdentity, fp model.Fingerprint) (model.Fingerprint, error)
}

// Options configures a Grouper.
type Options struct {
	// Workers bounds concurrent file reads across all buckets. Defaults to GOMAXPROCS.
	Workers int
	// MinSize excludes smaller files. Zero keeps empty files, which are all
	// duplicates of one another.
	MinSize int64
}

// Result is the outcome of a grouping pass.
type Result struct {
	Groups []model.DuplicateGroup
	// Unreadable holds one *model.UnreadableFileError per excluded file.
	Unreadable []error
	// Considered counts regular files at or above MinSize after hard links were collapsed.
	Considered int
	// HardLinks counts paths dropped because they share a stable id with an earlier path.
	HardLinks int
}

// Grouper finds duplicate groups among enumerated files.
type Grouper struct {
	hasher  Hasher
	workers int
	minSize int64
}

// NewGrouper creates a Grouper.
func NewGrouper(hasher Hasher, opts Options) *Grouper {
	workers := opts.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	return &Grouper{hasher: hasher, workers: workers, minSize: opts.MinSize}
}

// candidate is a file moving through the pipeline.
type candidate struct {
	id model.FileIdentity
	fp model.Fingerprint
}

// Group fingerprints files and returns groups of two or more identical files.
// Each size bucket is processed independently: all of its partial digests are
// collected before it is split, and all full digests of a split before groups
// are formed. Only the worker semaphore is shared between buckets.
func (g *Grouper) Group(ctx context.Context, files []model.FileIdentity) (*Result, error) {
	res := &Result{}

	seen := make(map[string]bool)
	bySize := make(map[int64][]model.FileIdentity)
	for _, f := range files {
		if f.IsDir || f.Size < g.minSize {
			continue
		}
		if f.StableID != "" {
			if seen[f.StableID] {
				res.HardLinks++
				continue
			}
			seen[f.StableID] = true
		}
		res.Considered++
		bySize[f.Size] = append(bySize[f.Size], f)
	}

	sizes := make([]int64, 0, len(bySize))
	for size, bucket := range bySize {
		if len(bucket) > 1 {
			sizes = append(sizes, size)
		}
	}
	slices.Sort(sizes)

	var mu sync.Mutex
	sem := make(chan struct{}, g.workers)
	eg, egCtx := errgroup.WithContext(ctx)

	for _, size := range sizes {
		bucket := bySize[size]
		eg.Go(func() error {
			groups, unreadable, err := g.processBucket(egCtx, sem, bucket)
			mu.Lock()
			res.Groups = append(res.Groups, groups...)
			res.Unreadable = append(res.Unreadable, unreadable...)
			mu.Unlock()
			return err
		})
	}

	if err := eg.Wait(); err != nil {
		return nil, err
	}

	slices.SortFunc(res.Groups, func(a, b model.DuplicateGroup) int {
		return cmp.Compare(a.Members[0].AbsPath, b.Members[0].AbsPath)
	})
	slices.SortFunc(res.Unreadable, func(a, b error) int {
		return cmp.Compare(a.Error(), b.Error())
	})
	return res, nil
}

// processBucket narrows one size bucket down to duplicate groups.
func (g *Grouper) processBucket(ctx context.Context, sem chan struct{}, bucket []model.FileIdentity) ([]model.DuplicateGroup, []error, error) {
	cands := make([]candidate, len(bucket))
	for i, id := range bucket {
		cands[i] = candidate{id: id}
	}

	partial, unreadable, err := g.hashAll(ctx, sem, cands, func(ctx context.Context, c candidate) (model.Fingerprint, error) {
		return g.hasher.Partial(ctx, c.id)
	})
	if err != nil {
		return nil, unreadable, err
	}

	var groups []model.DuplicateGroup
	for _, sub := range split(partial, func(c candidate) uint64 { return c.fp.Partial }) {
		full, bad, err := g.hashAll(ctx, sem, sub, func(ctx context.Context, c candidate) (model.Fingerprint, error) {
			return g.hasher.Full(ctx, c.id, c.fp)
		})
		unreadable = append(unreadable, bad...)
		if err != nil {
			return nil, unreadable, err
		}
		for _, same := range split(full, func(c candidate) string { return c.fp.Full }) {
			groups = append(groups, newGroup(same))
		}
	}
	return groups, unreadable, nil
}

// hashAll runs fn over cands under the shared semaphore and waits for all of
// them. Unreadable files are dropped from the output and reported separately;
// any other error aborts.
func (g *Grouper) hashAll(ctx context.Context, sem chan struct{}, cands []candidate, fn func(context.Context, candidate) (model.Fingerprint, error)) ([]candidate, []error, error) {
	out := make([]candidate, len(cands))
	errs := make([]error, len(cands))

	eg, egCtx := errgroup.WithContext(ctx)
	for i, c := range cands {
		eg.Go(func() error {
			select {
			case sem <- struct{}{}:
			case <-egCtx.Done():
				return egCtx.Err()
			}
			defer func() { <-sem }()

			fp, err := fn(egCtx, c)
			if err != nil {
				var unreadable *model.UnreadableFileError
				if errors.As(err, &unreadable) {
					errs[i] = err
					return nil
				}
				return err
			}
			out[i] = candidate{id: c.id, fp: fp}
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, nil, err
	}

	var kept []candidate
	var unreadable []error
	for i := range cands {
		if errs[i] != nil {
			unreadable = append(unreadable, errs[i])
			continue
		}
		kept = append(kept, out[i])
	}
	return kept, unreadable, nil
}

// split partitions cands by key, keeping only partitions with two or more
// members, in order of first appearance.
func split[K comparable](cands []candidate, key func(candidate) K) [][]candidate {
	index := make(map[K]int)
	var parts [][]candidate
	for _, c := range cands {
		k := key(c)
		i, ok := index[k]
		if !ok {
			i = len(parts)
			index[k] = i
			parts = append(parts, nil)
		}
		parts[i] = append(parts[i], c)
	}
	var out [][]candidate
	for _, p := range parts {
		if len(p) > 1 {
			out = append(out, p)
		}
	}
	return out
}

func newGroup(cands []candidate) model.DuplicateGroup {
	members := make([]model.FileIdentity, len(cands))
	for i, c := range cands {
		members[i] = c.id
	}
	SortBySurvivorPolicy(members)
	return model.DuplicateGroup{Fingerprint: cands[0].fp, Members: members}
}

// SortBySurvivorPolicy orders files by creation time, then path, so the first
// element is the one to keep.
func SortBySurvivorPolicy(files []model.FileIdentity) {
	slices.SortStableFunc(files, func(a, b model.FileIdentity) int {
		if c := a.Created().Compare(b.Created()); c != 0 {
			return c
		}
		return cmp.Compare(a.AbsPath, b.AbsPath)
	})
}
