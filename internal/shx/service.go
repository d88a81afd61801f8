package shx

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"shx-go/internal/metastore"
	"shx-go/internal/model"
)

// ErrNoVault is returned by snapshot commands when no vault is configured.
var ErrNoVault = errors.New("no vault configured")

// Options carries the per-invocation settings taken from config and flags.
type Options struct {
	// Workers bounds concurrent hashing. Zero means GOMAXPROCS.
	Workers int
	// PartialSize is the number of leading bytes covered by the partial digest.
	PartialSize int64
	// MinSize excludes smaller files from deduplication.
	MinSize int64
	// BackupEnabled uploads a snapshot after every successful flush.
	BackupEnabled bool
	// Root overrides managed root discovery (--root).
	Root string
	// WorkDir is the directory the command was started from.
	WorkDir string
}

// Service is the orchestration layer behind the CLI. Every command loads the
// metadata store it needs, works on it, and flushes it at most once.
type Service struct {
	fsmgr     FilesystemManager
	cache     DigestCache
	vault     Vault
	encryptor Encryptor
	logger    Logger
	clock     Clock
	idgen     IDGenerator
	opts      Options
}

// NewService creates a Service. cache and vault may be nil.
func NewService(fsmgr FilesystemManager, cache DigestCache, vault Vault, encryptor Encryptor, logger Logger, clock Clock, idgen IDGenerator, opts Options) *Service {
	if logger == nil {
		logger = NewNopLogger()
	}
	if clock == nil {
		clock = RealClock{}
	}
	if idgen == nil {
		idgen = UUIDGenerator{}
	}
	return &Service{
		fsmgr:     fsmgr,
		cache:     cache,
		vault:     vault,
		encryptor: encryptor,
		logger:    logger,
		clock:     clock,
		idgen:     idgen,
		opts:      opts,
	}
}

// resolveDir resolves rawPath and requires a directory.
func (s *Service) resolveDir(rawPath string) (model.FileIdentity, error) {
	target, err := s.fsmgr.Resolve(rawPath)
	if err != nil {
		return model.FileIdentity{}, err
	}
	if !target.IsDir {
		return model.FileIdentity{}, fmt.Errorf("not a directory: %s", target.AbsPath)
	}
	return target, nil
}

// openStore locates and loads the store managing target.
func (s *Service) openStore(ctx context.Context, target model.FileIdentity) (*metastore.Store, error) {
	root, err := s.locateRoot(target)
	if err != nil {
		return nil, err
	}
	return s.loadStore(ctx, root)
}

// locateRoot returns the managed root for target without touching its store.
func (s *Service) locateRoot(target model.FileIdentity) (string, error) {
	root, err := metastore.Locate(s.fsmgr, target, metastore.LocateOptions{
		Override: s.opts.Root,
		WorkDir:  s.opts.WorkDir,
	})
	if err != nil {
		return "", fmt.Errorf("locating managed root: %w", err)
	}
	return root, nil
}

func (s *Service) loadStore(ctx context.Context, root string) (*metastore.Store, error) {
	store, err := metastore.Load(root, s.fsmgr, s.idgen)
	if err != nil {
		return nil, err
	}
	s.logger.Debug("metadata store loaded", "root", root, "records", store.Len(), "generation", store.Generation())

	s.checkRemote(ctx, store)
	return store, nil
}

// checkRemote warns when the vault holds a newer snapshot than the local store.
func (s *Service) checkRemote(ctx context.Context, store *metastore.Store) {
	if !s.opts.BackupEnabled || s.vault == nil || store.StoreID() == "" {
		return
	}
	remote, err := s.vault.GetSnapshotGeneration(ctx, store.StoreID())
	if err != nil {
		s.logger.Warn("could not check vault snapshot", "vault", s.vault.Name(), "error", err)
		return
	}
	if remote > store.Generation() {
		s.logger.Warn("vault holds a newer snapshot; consider `shx store pull`",
			"root", store.Root(), "local", store.Generation(), "remote", remote)
	}
}

// commit flushes store if it changed and uploads a snapshot when backups are
// enabled. A failed upload is logged; the local flush is what counts.
func (s *Service) commit(ctx context.Context, store *metastore.Store) error {
	if !store.Dirty() {
		return nil
	}
	if err := store.Flush(); err != nil {
		return err
	}
	s.logger.Info("metadata store flushed", "root", store.Root(), "generation", store.Generation(), "records", store.Len())

	if s.opts.BackupEnabled && s.vault != nil {
		if err := s.push(ctx, store); err != nil {
			s.logger.Warn("snapshot upload failed", "root", store.Root(), "vault", s.vault.Name(), "error", err)
		}
	}
	return nil
}

// push encrypts the store document and uploads it under the store id.
func (s *Service) push(ctx context.Context, store *metastore.Store) error {
	data, err := store.Encode()
	if err != nil {
		return fmt.Errorf("encoding snapshot: %w", err)
	}

	var sealed bytes.Buffer
	if err := s.encryptor.Encrypt(bytes.NewReader(data), &sealed); err != nil {
		return fmt.Errorf("encrypting snapshot: %w", err)
	}

	size := int64(sealed.Len())
	if err := s.vault.PutSnapshot(ctx, store.StoreID(), &sealed, size, store.Generation()); err != nil {
		return fmt.Errorf("uploading snapshot: %w", err)
	}
	s.logger.Info("snapshot uploaded", "store", store.StoreID(), "generation", store.Generation(), "vault", s.vault.Name())
	return nil
}

// collect gathers enumerated entries, splitting per-entry access errors from
// fatal ones.
func (s *Service) collect(ctx context.Context, start string, opts EnumerateOptions, problems *[]error) ([]model.FileIdentity, error) {
	var out []model.FileIdentity
	for id, err := range s.fsmgr.Enumerate(ctx, start, opts) {
		if err != nil {
			var accessErr *model.AccessError
			if errors.As(err, &accessErr) {
				s.logger.Warn("skipping entry", "path", accessErr.Path, "error", accessErr.Err)
				*problems = append(*problems, err)
				continue
			}
			return nil, err
		}
		out = append(out, id)
	}
	return out, nil
}
