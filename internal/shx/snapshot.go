package shx

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"shx-go/internal/metastore"
	"shx-go/internal/model"
)

// ErrLocalNewer is returned by PullStore when the local store has seen more
// flushes than the vault snapshot.
var ErrLocalNewer = errors.New("local store is newer than the vault snapshot")

// SnapshotReport describes a push or pull.
type SnapshotReport struct {
	Root            string
	StoreID         string
	LocalGeneration int64
	// RemoteGeneration is the generation in the vault after the operation.
	RemoteGeneration int64
	Entries          int
}

// PullRequest asks for the vault snapshot of the store managing Path.
type PullRequest struct {
	Path string
	// StoreID selects the snapshot when the local document cannot name it,
	// e.g. because it is missing or corrupt.
	StoreID string
	Force   bool
}

// PruneReport describes an explicit orphan sweep.
type PruneReport struct {
	Root       string
	Reconciled int
	Dropped    []string
	// CachePruned counts digests dropped from the cache for being older
	// than CacheRetention.
	CachePruned int64
	Problems    []error
}

// PushStore uploads the current store document for path regardless of the
// backup setting.
func (s *Service) PushStore(ctx context.Context, path string) (*SnapshotReport, error) {
	if s.vault == nil {
		return nil, ErrNoVault
	}
	target, err := s.resolveDir(path)
	if err != nil {
		return nil, err
	}
	store, err := s.openStore(ctx, target)
	if err != nil {
		return nil, err
	}
	if store.StoreID() == "" {
		return nil, fmt.Errorf("no metadata store has been written at %s", store.Root())
	}

	if err := s.push(ctx, store); err != nil {
		return nil, err
	}
	return &SnapshotReport{
		Root:             store.Root(),
		StoreID:          store.StoreID(),
		LocalGeneration:  store.Generation(),
		RemoteGeneration: store.Generation(),
		Entries:          store.Len(),
	}, nil
}

// PullStore replaces the local store document with the vault snapshot. The
// snapshot is decrypted with dec and must parse as a store document for the
// same store id. A local store that is newer than the snapshot is kept
// unless Force is set.
func (s *Service) PullStore(ctx context.Context, req PullRequest, dec DecryptionContext) (*SnapshotReport, error) {
	if s.vault == nil {
		return nil, ErrNoVault
	}
	target, err := s.resolveDir(req.Path)
	if err != nil {
		return nil, err
	}
	root, err := metastore.Locate(s.fsmgr, target, metastore.LocateOptions{Override: s.opts.Root, WorkDir: s.opts.WorkDir})
	if err != nil {
		return nil, fmt.Errorf("locating managed root: %w", err)
	}

	report := &SnapshotReport{Root: root, StoreID: req.StoreID}
	local, err := metastore.Load(root, s.fsmgr, s.idgen)
	switch {
	case err == nil:
		report.LocalGeneration = local.Generation()
		if report.StoreID == "" {
			report.StoreID = local.StoreID()
		}
	case req.StoreID != "" && req.Force:
		s.logger.Warn("replacing unreadable local store", "root", root, "error", err)
	default:
		return nil, err
	}
	if report.StoreID == "" {
		return nil, fmt.Errorf("no store id known for %s", root)
	}

	remote, err := s.vault.GetSnapshotGeneration(ctx, report.StoreID)
	if err != nil {
		return nil, fmt.Errorf("checking vault snapshot: %w", err)
	}
	if remote == 0 {
		return nil, fmt.Errorf("store %s: %w", report.StoreID, ErrSnapshotNotFound)
	}
	if report.LocalGeneration > remote && !req.Force {
		return nil, fmt.Errorf("%w (local %d, vault %d); use --force to replace it", ErrLocalNewer, report.LocalGeneration, remote)
	}

	var sealed bytes.Buffer
	if err := s.vault.GetSnapshot(ctx, report.StoreID, &sealed); err != nil {
		return nil, fmt.Errorf("downloading snapshot: %w", err)
	}
	var plain bytes.Buffer
	if err := dec.Decrypt(&sealed, &plain); err != nil {
		return nil, fmt.Errorf("decrypting snapshot: %w", err)
	}

	location := fmt.Sprintf("%s:%s", s.vault.Name(), report.StoreID)
	summary, err := metastore.Inspect(plain.Bytes(), location)
	if err != nil {
		return nil, err
	}
	if summary.StoreID != report.StoreID {
		return nil, &model.CorruptStoreError{
			Path:   location,
			Reason: fmt.Sprintf("snapshot belongs to store %q", summary.StoreID),
		}
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	file := metastore.FilePath(root)
	if err := s.fsmgr.WriteFile(file, plain.Bytes()); err != nil {
		return nil, &model.PersistenceError{Path: file, Op: "write", Err: err}
	}

	report.RemoteGeneration = summary.Generation
	report.Entries = summary.Entries
	s.logger.Info("snapshot restored", "root", root, "store", report.StoreID, "generation", summary.Generation)
	return report, nil
}

// PruneStore drops records whose files are gone. Renamed files are rebound
// first, so only records with no file left anywhere under the root go.
func (s *Service) PruneStore(ctx context.Context, path string) (*PruneReport, error) {
	target, err := s.resolveDir(path)
	if err != nil {
		return nil, err
	}
	store, err := s.openStore(ctx, target)
	if err != nil {
		return nil, err
	}
	report := &PruneReport{Root: store.Root()}

	entries, err := s.collect(ctx, store.Root(), EnumerateOptions{
		IncludeDirs:       true,
		StopAtNestedRoots: true,
	}, &report.Problems)
	if err != nil {
		return nil, err
	}
	for _, id := range entries {
		if store.Reconcile(id) {
			report.Reconciled++
		}
	}

	report.Dropped = store.Sweep()
	for _, p := range report.Dropped {
		s.logger.Info("orphaned record dropped", "root", store.Root(), "path", p)
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := s.commit(ctx, store); err != nil {
		return report, err
	}

	if pc, ok := s.cache.(PrunableCache); ok {
		n, err := pc.Prune(s.clock.Now().Add(-CacheRetention))
		if err != nil {
			s.logger.Warn("digest cache prune failed", "error", err)
		} else {
			report.CachePruned = n
		}
	}
	return report, nil
}
