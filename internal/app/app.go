package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"shx-go/internal/config"
	"shx-go/internal/database"
	"shx-go/internal/encryption"
	"shx-go/internal/fs"
	"shx-go/internal/shx"
	"shx-go/internal/vault"
)

// Overrides are per-invocation settings taken from global CLI flags.
type Overrides struct {
	Root    string
	WorkDir string
	// Workers replaces the configured worker count when positive.
	Workers int
}

// ShxApp is the application layer between the CLI and shx.Service.
// It constructs all dependencies from config and releases them on Close.
type ShxApp struct {
	cfg       *config.Config
	cache     shx.DigestCache
	vault     shx.Vault
	fsmgr     shx.FilesystemManager
	encryptor shx.Encryptor
	service   *shx.Service
	op        *Operation
	logger    *slog.Logger
	logFile   io.Closer
}

// NewShxApp creates a fully wired ShxApp from the given config.
// operation names the CLI command being run (e.g. "deduplicate", "tag").
// The caller must call Close when done.
func NewShxApp(ctx context.Context, cfg *config.Config, operation string, ov Overrides) (*ShxApp, error) {
	op := NewOperation(operation, shx.UUIDGenerator{}, shx.RealClock{})
	logger, logFile, err := newLogger(cfg.LogDir, cfg.LogLevel, op.ID)
	if err != nil {
		return nil, fmt.Errorf("creating logger: %w", err)
	}
	log := &slogAdapter{l: logger}

	fsmgr := fs.NewOSFilesystemManager(cfg.Filesystem.Ignore)

	// A broken cache only costs speed.
	var cache shx.DigestCache
	if c, err := database.NewCacheFromConfig(cfg.Cache); err != nil {
		log.Warn("digest cache unavailable, hashing everything", "type", cfg.Cache.Type, "error", err)
	} else {
		cache = c
	}

	var v shx.Vault
	if cfg.Backup.Vault.Type != "" {
		v, err = vault.NewVaultFromConfig(ctx, cfg.Backup.Vault)
		if err != nil {
			closeAll(cache, logFile)
			return nil, fmt.Errorf("creating vault: %w", err)
		}
	}

	enc, err := encryption.NewEncryptorFromConfig(cfg.Encryption)
	if err != nil {
		closeAll(cache, logFile)
		return nil, fmt.Errorf("creating encryptor: %w", err)
	}

	workers := cfg.Dedup.Workers
	if ov.Workers > 0 {
		workers = ov.Workers
	}
	svc := shx.NewService(fsmgr, cache, v, enc, log, shx.RealClock{}, shx.UUIDGenerator{}, shx.Options{
		Workers:       workers,
		PartialSize:   cfg.Dedup.PartialSize,
		MinSize:       cfg.Dedup.MinSize,
		BackupEnabled: cfg.Backup.Enabled,
		Root:          ov.Root,
		WorkDir:       ov.WorkDir,
	})

	logger.Debug("operation started", "command", operation)
	return &ShxApp{
		cfg:       cfg,
		cache:     cache,
		vault:     v,
		fsmgr:     fsmgr,
		encryptor: enc,
		service:   svc,
		op:        op,
		logger:    logger,
		logFile:   logFile,
	}, nil
}

// Operation returns the record of the running command.
func (a *ShxApp) Operation() *Operation { return a.op }

// NeedsPassphrase reports whether pulling a snapshot requires a passphrase.
func (a *ShxApp) NeedsPassphrase() bool { return a.encryptor.NeedsPassphrase() }

// Deduplicate finds, and unless dry-run removes, duplicate files.
func (a *ShxApp) Deduplicate(ctx context.Context, req shx.DedupRequest) (*shx.DedupReport, error) {
	return a.service.Deduplicate(ctx, req)
}

// Tag adds and removes tags.
func (a *ShxApp) Tag(ctx context.Context, req shx.TagRequest) (*shx.TagReport, error) {
	return a.service.Tag(ctx, req)
}

// SearchTag lists files carrying a tag.
func (a *ShxApp) SearchTag(ctx context.Context, path, tag string) (*shx.SearchReport, error) {
	return a.service.SearchTag(ctx, path, tag)
}

// SearchMeta lists files matching a JSON predicate.
func (a *ShxApp) SearchMeta(ctx context.Context, path, query string) (*shx.SearchReport, error) {
	return a.service.SearchMeta(ctx, path, query)
}

// SetMood replaces a folder mood.
func (a *ShxApp) SetMood(ctx context.Context, path, value, name string) error {
	_, err := a.service.SetMood(ctx, path, value, name)
	return err
}

// GetMoods reports folder moods.
func (a *ShxApp) GetMoods(ctx context.Context, q shx.MoodQuery) (*shx.MoodReport, error) {
	return a.service.GetMoods(ctx, q)
}

// PushStore uploads a store snapshot.
func (a *ShxApp) PushStore(ctx context.Context, path string) (*shx.SnapshotReport, error) {
	return a.service.PushStore(ctx, path)
}

// PullStore unlocks the private key with passphrase and restores a store
// snapshot. The key is held in memory only for this call.
func (a *ShxApp) PullStore(ctx context.Context, req shx.PullRequest, passphrase string) (*shx.SnapshotReport, error) {
	if !a.encryptor.IsConfigured() {
		return nil, fmt.Errorf("encryption keys are missing; run `shx config init`")
	}
	dec, err := a.encryptor.Unlock(passphrase)
	if err != nil {
		return nil, fmt.Errorf("unlocking private key: %w", err)
	}
	return a.service.PullStore(ctx, req, dec)
}

// PruneStore drops records of files that are gone.
func (a *ShxApp) PruneStore(ctx context.Context, path string) (*shx.PruneReport, error) {
	return a.service.PruneStore(ctx, path)
}

// ValidateVault checks that the configured vault is reachable.
func (a *ShxApp) ValidateVault(ctx context.Context) error {
	if a.vault == nil {
		return shx.ErrNoVault
	}
	return a.vault.ValidateSetup(ctx)
}

// Close records the outcome of the command and releases resources.
func (a *ShxApp) Close(cmdErr error) error {
	a.op.Finish(cmdErr, shx.RealClock{})
	if cmdErr != nil {
		a.logger.Error("operation failed", "command", a.op.Command, "duration", a.op.Duration(), "error", cmdErr)
	} else {
		a.logger.Info("operation finished", "command", a.op.Command, "duration", a.op.Duration())
	}

	var firstErr error
	if a.cache != nil {
		if err := a.cache.Close(); err != nil {
			firstErr = fmt.Errorf("closing digest cache: %w", err)
		}
	}
	if a.logFile != nil {
		if err := a.logFile.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("closing log file: %w", err)
		}
	}
	return firstErr
}

func closeAll(closers ...io.Closer) {
	for _, c := range closers {
		if c != nil {
			c.Close()
		}
	}
}
